// Package dumprestore implements the dump/restore driver (spec §4.F):
// precisely-configured invocations of the canonical Postgres client tools,
// plus the filtered-table COPY side channel.
package dumprestore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/serenorg/pgreplicator/internal/filter"
	"github.com/serenorg/pgreplicator/internal/guard"
	"github.com/serenorg/pgreplicator/internal/migerr"
	"github.com/serenorg/pgreplicator/internal/pgurl"
)

// parallelJobs caps parallel dump/restore jobs at min(NumCPU, 8) (§4.F).
func parallelJobs() int {
	n := runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

// Driver shells out to pg_dump/pg_dumpall/pg_restore/psql with credentials
// carried via a PGPASSFILE, never on argv.
type Driver struct {
	logger zerolog.Logger
}

// New creates a Driver.
func New(logger zerolog.Logger) *Driver {
	return &Driver{logger: logger.With().Str("component", "dumprestore").Logger()}
}

// passfile creates a 0600 pgpass file for e and returns its path plus a
// cleanup func that MUST be called on every exit path (§4.A "Credential
// file", §9 "Credential safety").
func passfile(e pgurl.Endpoint) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "pgpass-*")
	if err != nil {
		return "", func() {}, migerr.Wrap(migerr.Misconfiguration, err, "create credential file")
	}
	path = f.Name()
	cleanup = func() { os.Remove(path) }

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, migerr.Wrap(migerr.Misconfiguration, err, "chmod credential file")
	}
	if _, err := f.WriteString(e.PassfileLine() + "\n"); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, migerr.Wrap(migerr.Misconfiguration, err, "write credential file")
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, migerr.Wrap(migerr.Misconfiguration, err, "close credential file")
	}
	return path, cleanup, nil
}

// baseEnv builds the child process environment: inherited os.Environ()
// plus PGPASSFILE and the endpoint's query-parameter-derived PG* vars.
func baseEnv(e pgurl.Endpoint, passfilePath string) []string {
	env := os.Environ()
	env = append(env, "PGPASSFILE="+passfilePath)
	for k, v := range e.EnvVars() {
		env = append(env, k+"="+v)
	}
	return env
}

func (d *Driver) run(ctx context.Context, phase string, name string, args []string, env []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	d.logger.Info().Str("tool", name).Strs("args", redactArgs(args)).Msg("invoking external tool")
	if err := cmd.Run(); err != nil {
		return migerr.Wrapf(migerr.ExternalToolFailed, err,
			"%s failed (check: database existence, permissions, wal_level, disk space, existing output path)", name).WithPhase(phase)
	}
	return nil
}

// redactArgs is defensive: none of the constructed args should ever carry a
// password, but any stray URL-shaped argument gets its password stripped
// before it reaches a log line.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.Contains(a, "://") && strings.Contains(a, "@") {
			if e, err := pgurl.Parse(a); err == nil {
				out[i] = e.Redact()
				continue
			}
		}
		out[i] = a
	}
	return out
}

// DumpGlobals invokes pg_dumpall --globals-only against src, writing SQL
// text to file.
func (d *Driver) DumpGlobals(ctx context.Context, src pgurl.Endpoint, file string) error {
	pf, cleanup, err := passfile(src)
	if err != nil {
		return err
	}
	defer cleanup()

	args := []string{
		"--globals-only",
		"--no-role-passwords",
		"--host", src.Host,
		"--port", fmt.Sprint(src.Port),
		"--username", src.User,
		"--file", file,
	}
	return d.run(ctx, "dump_globals", "pg_dumpall", args, baseEnv(src, pf))
}

// excludeTableDataFlags builds --exclude-table-data flags from a filter for
// a single database.
func excludeTableDataFlags(f *filter.Filter, db string) []string {
	var flags []string
	for _, qn := range f.ExcludeTableDataList(db) {
		flags = append(flags, "--exclude-table-data", qn)
	}
	return flags
}

// DumpSchema invokes pg_dump --schema-only against db on src, writing SQL
// text to file.
func (d *Driver) DumpSchema(ctx context.Context, src pgurl.Endpoint, db string, file string, f *filter.Filter) error {
	ep := src.WithDatabase(db)
	pf, cleanup, err := passfile(ep)
	if err != nil {
		return err
	}
	defer cleanup()

	args := []string{
		"--schema-only",
		"--no-owner",
		"--no-privileges",
		"--host", ep.Host,
		"--port", fmt.Sprint(ep.Port),
		"--username", ep.User,
		"--dbname", ep.Database,
		"--file", file,
	}
	args = append(args, excludeTableDataFlags(f, db)...)
	return d.run(ctx, "dump_schema", "pg_dump", args, baseEnv(ep, pf))
}

// DumpData invokes pg_dump --data-only --format=directory against db on
// src, writing into dir.
func (d *Driver) DumpData(ctx context.Context, src pgurl.Endpoint, db string, dir string, f *filter.Filter) error {
	ep := src.WithDatabase(db)
	pf, cleanup, err := passfile(ep)
	if err != nil {
		return err
	}
	defer cleanup()

	args := []string{
		"--data-only",
		"--no-owner",
		"--format=directory",
		"--blobs",
		"--compress=9",
		fmt.Sprintf("--jobs=%d", parallelJobs()),
		"--host", ep.Host,
		"--port", fmt.Sprint(ep.Port),
		"--username", ep.User,
		"--dbname", ep.Database,
		"--file", dir,
	}
	args = append(args, excludeTableDataFlags(f, db)...)
	return d.run(ctx, "dump_data", "pg_dump", args, baseEnv(ep, pf))
}

// RestoreGlobals/RestoreSchema execute a SQL file against dst via psql.
// Globals warnings are tolerated; schema errors are fatal per §4.F.
func (d *Driver) RestoreGlobals(ctx context.Context, dst pgurl.Endpoint, file string) error {
	return d.psqlFile(ctx, "restore_globals", dst, file, true)
}

func (d *Driver) RestoreSchema(ctx context.Context, dst pgurl.Endpoint, file string) error {
	return d.psqlFile(ctx, "restore_schema", dst, file, false)
}

func (d *Driver) psqlFile(ctx context.Context, phase string, dst pgurl.Endpoint, file string, tolerateErrors bool) error {
	pf, cleanup, err := passfile(dst)
	if err != nil {
		return err
	}
	defer cleanup()

	args := []string{
		"--host", dst.Host,
		"--port", fmt.Sprint(dst.Port),
		"--username", dst.User,
		"--dbname", dst.Database,
		"--file", file,
	}
	if !tolerateErrors {
		args = append([]string{"--set", "ON_ERROR_STOP=1"}, args...)
	}
	// Without ON_ERROR_STOP, psql exits zero on statement errors, so the
	// globals restore tolerates benign warnings (e.g. role already exists);
	// a non-zero exit is a hard failure (connection, missing file) and is
	// surfaced in both modes.
	return d.run(ctx, phase, "psql", args, baseEnv(dst, pf))
}

// RestoreData invokes pg_restore --data-only --format=directory against
// dst, reading from dir.
func (d *Driver) RestoreData(ctx context.Context, dst pgurl.Endpoint, dir string) error {
	pf, cleanup, err := passfile(dst)
	if err != nil {
		return err
	}
	defer cleanup()

	args := []string{
		"--data-only",
		"--no-owner",
		"--format=directory",
		fmt.Sprintf("--jobs=%d", parallelJobs()),
		"--host", dst.Host,
		"--port", fmt.Sprint(dst.Port),
		"--username", dst.User,
		"--dbname", dst.Database,
		dir,
	}
	return d.run(ctx, "restore_data", "pg_restore", args, baseEnv(dst, pf))
}

// CopyFilteredTable runs "SELECT * FROM t WHERE predicate" on src and
// writes the rows into t on dst with the COPY FROM protocol, in batches of
// up to 50000 rows, using live pgx connections rather than external tools
// (§4.F "Filtered-copy side channel"). The source side is a plain query,
// not a COPY ... TO STDOUT.
func (d *Driver) CopyFilteredTable(ctx context.Context, src, dst *pgxpool.Pool, table filter.FilteredTable) (int64, error) {
	qn, err := guard.QuoteQualified(table.Schema, table.Table)
	if err != nil {
		return 0, err
	}

	srcConn, err := src.Acquire(ctx)
	if err != nil {
		return 0, migerr.Wrap(migerr.Transient, err, "acquire source connection for filtered copy")
	}
	defer srcConn.Release()

	rows, err := srcConn.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s", qn, table.PredicateSQL))
	if err != nil {
		return 0, migerr.Wrapf(migerr.ExternalToolFailed, err, "select from %s", qn)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	colNames := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		colNames[i] = fd.Name
	}

	var batch [][]any
	var total int64
	const batchSize = 50000
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := dst.CopyFrom(ctx, pgx.Identifier{table.Schema, table.Table}, colNames, pgx.CopyFromRows(batch))
		if err != nil {
			return migerr.Wrapf(migerr.ExternalToolFailed, err, "copy into %s", qn)
		}
		total += n
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return total, migerr.Wrap(migerr.ExternalToolFailed, err, "read filtered row")
		}
		batch = append(batch, vals)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return total, migerr.Wrap(migerr.ExternalToolFailed, err, "iterate filtered rows")
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
