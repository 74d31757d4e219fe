// Package introspect implements schema introspection and the deterministic
// content checksum (spec §4.G): database/table listing and the
// compute_table_checksum/compare_tables algorithm from
// original_source/src/migration/checksum.rs.
package introspect

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/serenorg/pgreplicator/internal/guard"
	"github.com/serenorg/pgreplicator/internal/migerr"
	"github.com/serenorg/pgreplicator/internal/pgiface"
)

// excludedDatabases are never returned by ListDatabases (§4.G, §9 "a
// deliberate policy — preserve it").
var excludedDatabases = map[string]struct{}{
	"postgres":  {},
	"template0": {},
	"template1": {},
}

// DatabaseInfo is §3's DatabaseInfo.
type DatabaseInfo struct {
	Name  string
	Owner string
}

// ListDatabases returns non-template, non-builtin databases ordered by
// name.
func ListDatabases(ctx context.Context, conn *pgx.Conn) ([]DatabaseInfo, error) {
	rows, err := conn.Query(ctx, `
		SELECT d.datname, pg_catalog.pg_get_userbyid(d.datdba)
		FROM pg_database d
		WHERE d.datistemplate = false
		ORDER BY d.datname`)
	if err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "list databases")
	}
	defer rows.Close()

	var out []DatabaseInfo
	for rows.Next() {
		var d DatabaseInfo
		if err := rows.Scan(&d.Name, &d.Owner); err != nil {
			return nil, migerr.Wrap(migerr.Transient, err, "scan database row")
		}
		if _, excluded := excludedDatabases[d.Name]; excluded {
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TableInfo is §3's TableInfo.
type TableInfo struct {
	Schema        string
	Name          string
	EstimatedRows int64
}

// ListTables returns all user tables outside pg_catalog/information_schema,
// with estimated row counts from server statistics.
func ListTables(ctx context.Context, pool pgiface.Pool) ([]TableInfo, error) {
	rows, err := pool.Query(ctx, `
		SELECT schemaname, relname, COALESCE(n_live_tup, 0)
		FROM pg_stat_user_tables
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
		ORDER BY schemaname, relname`)
	if err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "list tables")
	}
	defer rows.Close()

	var out []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Schema, &t.Name, &t.EstimatedRows); err != nil {
			return nil, migerr.Wrap(migerr.Transient, err, "scan table row")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DatabaseSizeEstimate is the per-database sizing in §4.G
// estimate_database_sizes.
type DatabaseSizeEstimate struct {
	Name              string
	Bytes             int64
	Human             string
	EstimatedDuration string
}

// bytesPerHour is the linear throughput estimator: 20 GiB/hour (§4.G,
// original_source/src/migration/estimation.rs).
const bytesPerHour = 20 * 1024 * 1024 * 1024

// EstimateDatabaseSizes returns per-database size and advisory duration
// estimates for the given database names.
func EstimateDatabaseSizes(ctx context.Context, pool pgiface.Pool, dbNames []string) ([]DatabaseSizeEstimate, error) {
	out := make([]DatabaseSizeEstimate, 0, len(dbNames))
	for _, name := range dbNames {
		var bytes int64
		err := pool.QueryRow(ctx, "SELECT pg_database_size($1)", name).Scan(&bytes)
		if err != nil {
			return nil, migerr.Wrapf(migerr.Transient, err, "estimate size of database %q", name)
		}
		hours := float64(bytes) / float64(bytesPerHour)
		out = append(out, DatabaseSizeEstimate{
			Name:              name,
			Bytes:             bytes,
			Human:             humanBytes(bytes),
			EstimatedDuration: humanDuration(hours),
		})
	}
	return out, nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func humanDuration(hours float64) string {
	if hours < 1.0/60 {
		return "< 1 minute"
	}
	if hours < 1 {
		return fmt.Sprintf("%d minutes", int(hours*60))
	}
	return fmt.Sprintf("%.1f hours", hours)
}

// columnNames enumerates a table's columns in ordinal order.
func columnNames(ctx context.Context, pool pgiface.Pool, schema, table string) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, migerr.Wrapf(migerr.Transient, err, "list columns for %s.%s", schema, table)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, migerr.Wrap(migerr.Transient, err, "scan column name")
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "iterate columns")
	}
	if len(cols) == 0 {
		return nil, migerr.Newf(migerr.Misconfiguration, "table %s.%s has no columns", schema, table)
	}
	return cols, nil
}

// ComputeTableChecksum implements the exact algorithm from
// original_source/src/migration/checksum.rs: concatenate
// COALESCE(col::text,'') with '|', order rows deterministically by all
// columns, md5 the string_agg. Empty tables yield "empty" and row count 0.
func ComputeTableChecksum(ctx context.Context, pool pgiface.Pool, schema, table string) (hash string, rowCount int64, err error) {
	cols, err := columnNames(ctx, pool, schema, table)
	if err != nil {
		return "", 0, err
	}

	qn, err := guard.QuoteQualified(schema, table)
	if err != nil {
		return "", 0, err
	}

	concatParts := make([]string, len(cols))
	orderParts := make([]string, len(cols))
	for i, c := range cols {
		qc, err := guard.QuoteIdentifier(c)
		if err != nil {
			return "", 0, err
		}
		concatParts[i] = fmt.Sprintf("COALESCE(%s::text, '')", qc)
		orderParts[i] = qc
	}

	concatExpr := joinWith(concatParts, " || '|' || ")
	orderByClause := joinWith(orderParts, ", ")

	query := fmt.Sprintf(`
		SELECT md5(string_agg(row_data, '' ORDER BY row_num)), COUNT(*)
		FROM (
			SELECT %s AS row_data, ROW_NUMBER() OVER (ORDER BY %s) AS row_num
			FROM %s
		) t`, concatExpr, orderByClause, qn)

	var checksum *string
	if err := pool.QueryRow(ctx, query).Scan(&checksum, &rowCount); err != nil {
		return "", 0, migerr.Wrapf(migerr.Transient, err, "compute checksum for %s.%s", schema, table)
	}
	if checksum == nil {
		return "empty", 0, nil
	}
	return *checksum, rowCount, nil
}

func joinWith(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// ChecksumResult is §3's ChecksumResult.
type ChecksumResult struct {
	Schema     string
	Table      string
	SourceHash string
	TargetHash string
	SourceRows int64
	TargetRows int64
	Matches    bool
}

// Valid reports whether hashes and row counts both agree (§3).
func (r ChecksumResult) Valid() bool {
	return r.Matches && r.SourceRows == r.TargetRows
}

// CompareTables computes both checksums concurrently and returns a
// ChecksumResult.
func CompareTables(ctx context.Context, src, dst pgiface.Pool, schema, table string) (ChecksumResult, error) {
	type result struct {
		hash string
		rows int64
		err  error
	}
	srcCh := make(chan result, 1)
	dstCh := make(chan result, 1)

	go func() {
		h, r, err := ComputeTableChecksum(ctx, src, schema, table)
		srcCh <- result{h, r, err}
	}()
	go func() {
		h, r, err := ComputeTableChecksum(ctx, dst, schema, table)
		dstCh <- result{h, r, err}
	}()

	srcRes := <-srcCh
	dstRes := <-dstCh
	if srcRes.err != nil {
		return ChecksumResult{}, srcRes.err
	}
	if dstRes.err != nil {
		return ChecksumResult{}, dstRes.err
	}

	return ChecksumResult{
		Schema:     schema,
		Table:      table,
		SourceHash: srcRes.hash,
		TargetHash: dstRes.hash,
		SourceRows: srcRes.rows,
		TargetRows: dstRes.rows,
		Matches:    srcRes.hash == dstRes.hash,
	}, nil
}
