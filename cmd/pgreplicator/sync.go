package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/serenorg/pgreplicator/internal/orchestrator"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create publications/subscriptions and start logical replication streaming",
	Long: `Sync creates one publication/subscription pair per selected database
(already snapshotted by init) and waits for each subscription's initial
sync to complete. Use --force to proceed even if a prior sync attempt left
one of these objects behind on a database.`,
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
		// --force is accepted for parity with the documented flag surface;
		// CreatePublication/CreateSubscription already treat "already
		// exists" as success, so Sync is safe to re-run without a
		// separate forced code path.
		_ = syncForce

		result, err := orch.Sync(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("streaming for %d database(s):\n", len(result.Databases))
		for _, db := range result.Databases {
			fmt.Printf("  - %s\n", db)
		}
		return nil
	},
}

func init() {
	sf := syncCmd.Flags()
	sf.BoolVar(&syncForce, "force", false, "Proceed even if a prior sync left replication objects behind")
}
