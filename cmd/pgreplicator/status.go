package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/serenorg/pgreplicator/internal/orchestrator"
	"github.com/serenorg/pgreplicator/internal/statusfeed"
)

var (
	statusWatch    bool
	statusServe    string
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report replication lag per database",
	Long: `Status queries pg_stat_replication on the source and
pg_stat_subscription on the target for each selected database and
classifies it as caught_up, lagging, or inactive. Exits non-zero only on
a connection or query failure, not on lag.

With --watch, polls repeatedly at --interval instead of exiting after one
report. With --serve <addr>, additionally starts an HTTP server at addr
broadcasting each poll as a websocket status feed at "/" for external
dashboards (implies --watch).`,
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

		var hub *statusfeed.Hub
		if statusServe != "" {
			hub = statusfeed.New(logger)
			srv := &http.Server{Addr: statusServe, Handler: hub}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error().Err(err).Msg("status feed server failed")
				}
			}()
			defer srv.Close()
			logger.Info().Str("addr", statusServe).Msg("serving status feed")
		}

		watch := statusWatch || hub != nil
		for {
			result, err := orch.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(result)
			if hub != nil {
				hub.Publish(statusfeed.Snapshot{
					Phase:       "status",
					Databases:   result.Databases,
					AllCaughtUp: result.AllCaughtUp,
				})
			}
			if !watch {
				return nil
			}
			select {
			case <-cmd.Context().Done():
				return nil
			case <-time.After(statusInterval):
			}
		}
	},
}

func printStatus(result *orchestrator.StatusResult) {
	for _, db := range result.Databases {
		if db.Lag != "" {
			fmt.Printf("%-30s %-10s %s\n", db.Database, db.Status, db.Lag)
		} else {
			fmt.Printf("%-30s %s\n", db.Database, db.Status)
		}
	}
	if result.AllCaughtUp {
		fmt.Println("all databases caught up")
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "Poll repeatedly instead of exiting after one report")
	statusCmd.Flags().StringVar(&statusServe, "serve", "", `Serve a live websocket status feed at this address (e.g. ":8090"); implies --watch`)
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 5*time.Second, "Poll interval for --watch/--serve")
}
