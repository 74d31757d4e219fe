// Package pubsub implements the publication/subscription driver (spec
// §4.H), grounded in original_source/src/replication/publication.rs and
// subscription.rs: SQL shapes, "already exists" tolerance, and
// error-string classification into remediation text.
package pubsub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/serenorg/pgreplicator/internal/filter"
	"github.com/serenorg/pgreplicator/internal/guard"
	"github.com/serenorg/pgreplicator/internal/introspect"
	"github.com/serenorg/pgreplicator/internal/migerr"
	"github.com/serenorg/pgreplicator/internal/pgiface"
)

// PollInterval is the fixed wait-for-sync poll cadence (§4.H,
// original_source/src/replication/subscription.rs).
const PollInterval = 2 * time.Second

// Name returns the name of a publication/subscription for a
// migration covering the given databases. Per §4.H and the Open Question
// decision in DESIGN.md, when exactly one database is covered the template
// name is used unsuffixed; otherwise it is suffixed with the database name.
func Name(template, db string, totalDatabases int) string {
	if totalDatabases == 1 {
		return template
	}
	return template + "_" + db
}

// CreatePublication issues CREATE PUBLICATION on the source connection for
// db. If f has no table-level scoping, it publishes FOR ALL TABLES;
// otherwise it enumerates and filters tables, refusing an empty result.
func CreatePublication(ctx context.Context, src pgiface.Pool, db, name string, f *filter.Filter) error {
	if err := guard.Identifier(name); err != nil {
		return err
	}
	quotedName, err := guard.QuoteIdentifier(name)
	if err != nil {
		return err
	}

	hasTableScope := len(f.IncludeTables) > 0 || len(f.ExcludeTables) > 0
	var query string
	if !hasTableScope {
		query = fmt.Sprintf("CREATE PUBLICATION %s FOR ALL TABLES", quotedName)
	} else {
		tables, err := introspect.ListTables(ctx, src)
		if err != nil {
			return err
		}
		var qualified []string
		for _, t := range tables {
			if !f.ShouldReplicateTable(db, t.Schema, t.Name, false) {
				continue
			}
			qn, err := guard.QuoteQualified(t.Schema, t.Name)
			if err != nil {
				return err
			}
			qualified = append(qualified, qn)
		}
		if len(qualified) == 0 {
			return migerr.Newf(migerr.FilterMismatch,
				"no tables match the filter for database %q; cannot create publication %q with an empty table list", db, name)
		}
		query = fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s", quotedName, strings.Join(qualified, ", "))
	}

	_, err = src.Exec(ctx, query)
	return classifyPublicationErr(err, name)
}

func classifyPublicationErr(err error, name string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"):
		return nil
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "must be owner"):
		return migerr.Wrapf(migerr.InsufficientPriv, err,
			"cannot create publication %q; grant with: GRANT CREATE ON DATABASE <dbname> TO <user>", name)
	case strings.Contains(msg, "wal_level"):
		return migerr.Wrapf(migerr.ExtensionIncompat, err,
			"cannot create publication %q; wal_level must be set to 'logical' in postgresql.conf", name)
	default:
		return migerr.Wrapf(migerr.ExternalToolFailed, err, "create publication %q", name)
	}
}

// DropPublication issues DROP PUBLICATION IF EXISTS.
func DropPublication(ctx context.Context, src pgiface.Pool, name string) error {
	quotedName, err := guard.QuoteIdentifier(name)
	if err != nil {
		return err
	}
	_, err = src.Exec(ctx, fmt.Sprintf("DROP PUBLICATION IF EXISTS %s", quotedName))
	if err != nil {
		return migerr.Wrapf(migerr.ExternalToolFailed, err, "drop publication %q", name)
	}
	return nil
}

// CreateSubscription issues CREATE SUBSCRIPTION on the target connection,
// connecting back to sourceURL (with credentials — never logged).
func CreateSubscription(ctx context.Context, dst pgiface.Pool, name, sourceURL, publicationName string) error {
	quotedName, err := guard.QuoteIdentifier(name)
	if err != nil {
		return err
	}
	quotedPub, err := guard.QuoteIdentifier(publicationName)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("CREATE SUBSCRIPTION %s CONNECTION '%s' PUBLICATION %s",
		quotedName, strings.ReplaceAll(sourceURL, "'", "''"), quotedPub)

	_, err = dst.Exec(ctx, query)
	return classifySubscriptionErr(err, name, publicationName)
}

func classifySubscriptionErr(err error, name, publicationName string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"):
		return nil
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "must be superuser"):
		return migerr.Wrapf(migerr.InsufficientPriv, err,
			"cannot create subscription %q; only superusers can create subscriptions", name)
	case strings.Contains(msg, "publication") && strings.Contains(msg, "does not exist"):
		return migerr.Wrapf(migerr.Misconfiguration, err,
			"publication %q not found on source for subscription %q", publicationName, name)
	case strings.Contains(msg, "could not connect"), strings.Contains(msg, "connection"):
		return migerr.Wrapf(migerr.Transient, err, "cannot connect to source for subscription %q", name)
	case strings.Contains(msg, "replication slot"):
		return migerr.Wrapf(migerr.ExternalToolFailed, err,
			"replication slot limit reached creating subscription %q", name)
	default:
		return migerr.Wrapf(migerr.ExternalToolFailed, err, "create subscription %q", name)
	}
}

// DropSubscription issues DROP SUBSCRIPTION IF EXISTS.
func DropSubscription(ctx context.Context, dst pgiface.Pool, name string) error {
	quotedName, err := guard.QuoteIdentifier(name)
	if err != nil {
		return err
	}
	_, err = dst.Exec(ctx, fmt.Sprintf("DROP SUBSCRIPTION IF EXISTS %s", quotedName))
	if err != nil {
		return migerr.Wrapf(migerr.ExternalToolFailed, err, "drop subscription %q", name)
	}
	return nil
}

// srsubstate values from pg_stat_subscription (§4.H).
const (
	stateInitializing = "i"
	stateCopying      = "d"
	stateSyncing      = "s"
	stateReady        = "r"
)

// WaitForSync polls pg_stat_subscription every PollInterval until name
// reaches state 'r' (ready/streaming) or timeout elapses.
func WaitForSync(ctx context.Context, dst pgiface.Pool, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastState string

	for {
		var state string
		err := dst.QueryRow(ctx, "SELECT srsubstate FROM pg_stat_subscription WHERE subname = $1", name).Scan(&state)
		if err == nil {
			lastState = state
			if state == stateReady {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return migerr.Newf(migerr.ReplicationTimeout,
				"timed out after %s waiting for subscription %q to reach streaming state; last observed state %q",
				timeout, name, lastState).WithPhase("wait_for_sync")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}
