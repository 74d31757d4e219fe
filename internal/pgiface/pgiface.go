// Package pgiface defines the narrow query interface shared by
// introspect, pubsub, and repmon, so their unit tests can substitute
// pgxmock's pool for *pgxpool.Pool without any adapter code.
package pgiface

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is satisfied by *pgxpool.Pool and by pgxmock.PgxPoolIface.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}
