package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/serenorg/pgreplicator/internal/orchestrator"
	"github.com/serenorg/pgreplicator/internal/tui"
)

var (
	initYes              bool
	initDropExisting     bool
	initNoSync           bool
	initNoResume         bool
	initSchemaOnlyTables []string
	initTableFilters     []string
	initTimeFilters      []string
	initConfigPath       string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Snapshot source into target, then (unless --no-sync) start streaming",
	Long: `Init brings the target up to a consistent copy of the source: global
objects, schema, and data for every selected database, followed by any
filtered-table COPY passes. Progress is checkpointed after each database so
an interrupted run resumes where it stopped unless --no-resume is given. Unless --no-sync
is given, it then creates publications/subscriptions and waits for the
initial subscription sync per database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireEndpoints(); err != nil {
			return err
		}
		f, err := buildFilter(initConfigPath)
		if err != nil {
			return err
		}
		if err := applyRuleFlags(f); err != nil {
			return err
		}

		var confirmer orchestrator.Confirmer
		if !noInteractive {
			confirmer = tui.Confirmer{}
		}

		orch := orchestrator.New(orchestrator.Options{
			Source:       source,
			Target:       target,
			Filter:       f,
			AllowResume:  !initNoResume,
			DropExisting: initDropExisting,
			EnableSync:   !initNoSync,
			Interactive:  !noInteractive,
			Yes:          initYes,
			Confirm:      confirmer,
			Logger:       logger,
		})

		result, err := orch.Init(cmd.Context())
		if err != nil {
			return err
		}

		if result.Resumed {
			fmt.Println("resumed from existing checkpoint")
		}
		fmt.Printf("completed %d database(s):\n", len(result.DatabasesCompleted))
		for _, db := range result.DatabasesCompleted {
			fmt.Printf("  - %s\n", db)
		}
		return nil
	},
}

func init() {
	f := initCmd.Flags()
	f.BoolVarP(&initYes, "yes", "y", false, "Skip the size-estimate confirmation prompt")
	f.BoolVar(&initDropExisting, "drop-existing", false, "Drop and recreate a target database that already has user tables")
	f.BoolVar(&initNoSync, "no-sync", false, "Stop after the snapshot; do not start logical replication")
	f.BoolVar(&initNoResume, "no-resume", false, "Ignore any existing checkpoint and start fresh")
	f.StringSliceVar(&initSchemaOnlyTables, "schema-only-tables", nil, "db.table entries to copy schema-only (no data)")
	f.StringSliceVar(&initTableFilters, "table-filter", nil, `"db.table:sql" row predicate (the db prefix is required)`)
	f.StringSliceVar(&initTimeFilters, "time-filter", nil, `"db.table:column:interval" time window (the db prefix is required)`)
	f.StringVar(&initConfigPath, "config", "", "Path to a TOML rules config (default: search ~/.pgreplicator then /etc/pgreplicator)")
}
