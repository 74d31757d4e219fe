package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/serenorg/pgreplicator/internal/orchestrator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check connectivity, privileges, and compatibility without copying anything",
	Long: `Validate opens both endpoints, confirms they are distinct, checks the
required tools are on PATH, enumerates the databases the filter selects, and
verifies source/target privileges, server-version compatibility, and
extension availability. No side effects on either endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEndpoints(); err != nil {
			return err
		}
		f, err := buildFilter("")
		if err != nil {
			return err
		}

		orch := orchestrator.New(orchestrator.Options{
			Source:      source,
			Target:      target,
			Filter:      f,
			Interactive: !noInteractive,
			Logger:      logger,
		})

		result, err := orch.Validate(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("OK: %d database(s) selected for replication\n", len(result.Databases))
		for _, db := range result.Databases {
			fmt.Printf("  - %s\n", db)
		}
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return nil
	},
}
