// Package orchestrator implements the phase orchestrator (spec §4.J):
// Validate, Init, Sync, Status, Verify, gluing the connection, filter,
// checkpoint, temp storage, dump/restore, introspection, publication, and
// replication-monitor components together. Grounded in the structure of
// teacher internal/pipeline/pipeline.go (connect/phase/progress idiom),
// generalized from a single clone-and-follow pipeline into five
// independently invocable phases.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/serenorg/pgreplicator/internal/checkpoint"
	"github.com/serenorg/pgreplicator/internal/dumprestore"
	"github.com/serenorg/pgreplicator/internal/filter"
	"github.com/serenorg/pgreplicator/internal/guard"
	"github.com/serenorg/pgreplicator/internal/introspect"
	"github.com/serenorg/pgreplicator/internal/migerr"
	"github.com/serenorg/pgreplicator/internal/pgiface"
	"github.com/serenorg/pgreplicator/internal/pgurl"
	"github.com/serenorg/pgreplicator/internal/pubsub"
	"github.com/serenorg/pgreplicator/internal/repmon"
	"github.com/serenorg/pgreplicator/internal/tempstore"
)

// knownPreloadExtensions require shared_preload_libraries entries (§4.J).
var knownPreloadExtensions = map[string]struct{}{
	"timescaledb":        {},
	"citus":              {},
	"pg_stat_statements": {},
	"pg_cron":            {},
	"auto_explain":       {},
	"pg_partman_bgw":     {},
}

// Confirmer asks the operator a yes/no question; the interactive selector
// collaborator satisfies this (§6 "Interfaces consumed from collaborators").
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// autoDecline is used when running with --no-interactive: every
// confirmation is declined, matching "automated mode → fatal abort" (§4.J).
type autoDecline struct{}

func (autoDecline) Confirm(ctx context.Context, prompt string) (bool, error) { return false, nil }

// Options configures a migration run (§4.J preconditions, §6 CLI surface).
type Options struct {
	Source            pgurl.Endpoint
	Target            pgurl.Endpoint
	Filter            *filter.Filter
	AllowResume       bool
	DropExisting      bool
	EnableSync        bool
	Interactive       bool
	Yes               bool
	SyncTimeout       time.Duration // wait_for_sync deadline, default 300s
	VerifyConcurrency int           // default 4

	PublicationTemplate  string
	SubscriptionTemplate string

	Confirm Confirmer
	Logger  zerolog.Logger
}

// withDefaults fills zero-valued fields with §4.J's documented defaults.
func (o Options) withDefaults() Options {
	if o.SyncTimeout == 0 {
		o.SyncTimeout = 300 * time.Second
	}
	if o.VerifyConcurrency == 0 {
		o.VerifyConcurrency = 4
	}
	if o.PublicationTemplate == "" {
		o.PublicationTemplate = "pgreplicator_pub"
	}
	if o.SubscriptionTemplate == "" {
		o.SubscriptionTemplate = "pgreplicator_sub"
	}
	if o.Confirm == nil {
		o.Confirm = autoDecline{}
	}
	return o
}

// Orchestrator runs the five phases against a fixed (source, target, filter)
// triple.
type Orchestrator struct {
	opts   Options
	logger zerolog.Logger
	driver *dumprestore.Driver
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	opts = opts.withDefaults()
	logger := opts.Logger.With().Str("component", "orchestrator").Logger()
	return &Orchestrator{
		opts:   opts,
		logger: logger,
		driver: dumprestore.New(logger),
	}
}

// connectPool opens an admin pool against ep and pings it.
func connectPool(ctx context.Context, ep pgurl.Endpoint) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, ep.String())
	if err != nil {
		return nil, migerr.Wrapf(migerr.Transient, err, "open pool for %s", ep.Redact())
	}
	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, migerr.Wrapf(migerr.Classify(err), err, "ping %s", ep.Redact())
	}
	return pool, nil
}

// preconditions checks the phase preconditions (§4.J): endpoints parseable
// (true by construction — Options.Source/Target are already Endpoint
// values), source != target, required tools present. Validate, Init and
// Sync run it first; Status and Verify do not run it.
func (orch *Orchestrator) preconditions() error {
	if err := pgurl.Different(orch.opts.Source, orch.opts.Target); err != nil {
		return err
	}
	return guard.CheckRequiredTools()
}

// ValidateResult is Phase 1's outcome.
type ValidateResult struct {
	Databases []string
	Warnings  []string
}

// Validate is Phase 1: connectivity, privileges, version parity, extension
// compatibility.
func (orch *Orchestrator) Validate(ctx context.Context) (*ValidateResult, error) {
	if err := orch.preconditions(); err != nil {
		return nil, err
	}

	srcPool, err := connectPool(ctx, orch.opts.Source)
	if err != nil {
		return nil, err
	}
	defer srcPool.Close()
	dstPool, err := connectPool(ctx, orch.opts.Target)
	if err != nil {
		return nil, err
	}
	defer dstPool.Close()

	conn, err := pgx.Connect(ctx, orch.opts.Source.String())
	if err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "connect to source for database enumeration")
	}
	defer conn.Close(ctx)

	dbs, err := introspect.ListDatabases(ctx, conn)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, d := range dbs {
		if orch.opts.Filter.ShouldReplicateDatabase(d.Name) {
			names = append(names, d.Name)
		}
	}
	if len(names) == 0 {
		return nil, migerr.New(migerr.Misconfiguration, "no databases matched the filter")
	}

	result := &ValidateResult{Databases: names}

	if err := checkSourcePrivileges(ctx, srcPool); err != nil {
		return nil, err
	}
	warn, err := checkTargetPrivileges(ctx, dstPool)
	if err != nil {
		return nil, err
	}
	result.Warnings = append(result.Warnings, warn...)

	srcVer, err := serverMajorVersion(ctx, srcPool)
	if err != nil {
		return nil, err
	}
	dstVer, err := serverMajorVersion(ctx, dstPool)
	if err != nil {
		return nil, err
	}
	if srcVer != dstVer {
		return nil, migerr.Newf(migerr.VersionIncompatible,
			"source major version %d does not match target major version %d", srcVer, dstVer)
	}

	extWarn, err := checkExtensionCompatibility(ctx, srcPool, dstPool)
	if err != nil {
		return nil, err
	}
	result.Warnings = append(result.Warnings, extWarn...)

	orch.logger.Info().Strs("databases", names).Int("warnings", len(result.Warnings)).Msg("validation passed")
	return result, nil
}

func checkSourcePrivileges(ctx context.Context, pool pgiface.Pool) error {
	var super, replication bool
	err := pool.QueryRow(ctx, "SELECT rolsuper, rolreplication FROM pg_roles WHERE rolname = current_user").
		Scan(&super, &replication)
	if err != nil {
		return migerr.Wrap(migerr.Transient, err, "check source role privileges")
	}
	if !super && !replication {
		return migerr.New(migerr.InsufficientPriv, "source role needs REPLICATION or superuser")
	}
	return nil
}

func checkTargetPrivileges(ctx context.Context, pool pgiface.Pool) ([]string, error) {
	var super, createdb, createrole bool
	err := pool.QueryRow(ctx, "SELECT rolsuper, rolcreatedb, rolcreaterole FROM pg_roles WHERE rolname = current_user").
		Scan(&super, &createdb, &createrole)
	if err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "check target role privileges")
	}
	if !super && !createdb {
		return nil, migerr.New(migerr.InsufficientPriv, "target role needs CREATEDB or superuser")
	}
	if !super && !createrole {
		return []string{"target role lacks CREATEROLE; global role restore may be incomplete"}, nil
	}
	return nil, nil
}

func serverMajorVersion(ctx context.Context, pool pgiface.Pool) (int, error) {
	var versionNum int
	if err := pool.QueryRow(ctx, "SHOW server_version_num").Scan(&versionNum); err != nil {
		return 0, migerr.Wrap(migerr.Transient, err, "read server_version_num")
	}
	return versionNum / 10000, nil
}

type extensionRow struct {
	Name           string
	Version        string
	DefaultVersion string
}

func checkExtensionCompatibility(ctx context.Context, src, dst pgiface.Pool) ([]string, error) {
	rows, err := src.Query(ctx, `
		SELECT e.extname, e.extversion,
			COALESCE((SELECT default_version FROM pg_available_extensions WHERE name = e.extname), '')
		FROM pg_extension e
		WHERE e.extname != 'plpgsql'`)
	if err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "list source extensions")
	}
	var installed []extensionRow
	for rows.Next() {
		var r extensionRow
		if err := rows.Scan(&r.Name, &r.Version, &r.DefaultVersion); err != nil {
			rows.Close()
			return nil, migerr.Wrap(migerr.Transient, err, "scan source extension row")
		}
		installed = append(installed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "iterate source extensions")
	}
	if len(installed) == 0 {
		return nil, nil
	}

	available := map[string]string{}
	aRows, err := dst.Query(ctx, "SELECT name, default_version FROM pg_available_extensions")
	if err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "list target available extensions")
	}
	for aRows.Next() {
		var name, version string
		if err := aRows.Scan(&name, &version); err != nil {
			aRows.Close()
			return nil, migerr.Wrap(migerr.Transient, err, "scan target extension row")
		}
		available[name] = version
	}
	aRows.Close()
	if err := aRows.Err(); err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "iterate target available extensions")
	}

	var preloadList string
	if err := dst.QueryRow(ctx, "SHOW shared_preload_libraries").Scan(&preloadList); err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "read target shared_preload_libraries")
	}
	preloaded := map[string]struct{}{}
	for _, lib := range strings.Split(preloadList, ",") {
		preloaded[strings.TrimSpace(lib)] = struct{}{}
	}

	var warnings []string
	for _, ext := range installed {
		defaultVersion, ok := available[ext.Name]
		if !ok {
			return nil, migerr.Newf(migerr.ExtensionIncompat, "extension %q is not available on target", ext.Name)
		}
		if _, needsPreload := knownPreloadExtensions[ext.Name]; needsPreload {
			if _, isPreloaded := preloaded[ext.Name]; !isPreloaded {
				return nil, migerr.Newf(migerr.ExtensionIncompat,
					"extension %q requires shared_preload_libraries on target", ext.Name)
			}
		}
		if defaultVersion != "" && defaultVersion != ext.Version {
			warnings = append(warnings, fmt.Sprintf(
				"extension %q default version on target (%s) differs from source installed version (%s)",
				ext.Name, defaultVersion, ext.Version))
		}
	}
	return warnings, nil
}

// InitResult is Phase 2's outcome.
type InitResult struct {
	DatabasesCompleted []string
	Resumed            bool
}

// Init is Phase 2: snapshot migration with checkpointed resume.
func (orch *Orchestrator) Init(ctx context.Context) (*InitResult, error) {
	if err := orch.preconditions(); err != nil {
		return nil, err
	}

	tempDir, err := tempstore.Create()
	if err != nil {
		return nil, err
	}

	sourceHash := checkpoint.IdentityHash(orch.opts.Source.Redact())
	targetHash := checkpoint.IdentityHash(orch.opts.Target.Redact())
	cpPath, err := checkpoint.Path(sourceHash, targetHash)
	if err != nil {
		return nil, err
	}

	expectedMeta := checkpoint.Metadata{
		SourceHash:        sourceHash,
		TargetHash:        targetHash,
		FilterFingerprint: orch.opts.Filter.FingerprintHex(),
		DropExisting:      orch.opts.DropExisting,
		EnableSync:        orch.opts.EnableSync,
	}

	dbs, err := orch.listFilteredDatabases(ctx)
	if err != nil {
		return nil, err
	}
	if len(dbs) == 0 {
		orch.logger.Warn().Msg("no databases matched the filter; nothing to do")
		return &InitResult{}, nil
	}

	var cp *checkpoint.Checkpoint
	resumed := false
	if orch.opts.AllowResume {
		existing, err := checkpoint.Load(cpPath)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if verr := checkpoint.Validate(existing, expectedMeta, dbs); verr == nil {
				cp = existing
				resumed = true
			} else {
				orch.logger.Warn().Err(verr).Msg("discarding incompatible checkpoint")
			}
		}
	}
	if cp == nil {
		cp = checkpoint.New(expectedMeta, dbs)
	}
	if err := checkpoint.Save(cpPath, cp); err != nil {
		return nil, err
	}

	globalsFile := tempDir.Path + "/globals.sql"
	if err := orch.driver.DumpGlobals(ctx, orch.opts.Source, globalsFile); err != nil {
		return nil, err
	}
	if err := orch.driver.RestoreGlobals(ctx, orch.opts.Target, globalsFile); err != nil {
		return nil, err
	}

	if err := orch.confirmSizeEstimates(ctx, dbs); err != nil {
		return nil, err
	}

	for _, db := range dbs {
		if cp.IsCompleted(db) {
			continue
		}
		if err := orch.initOneDatabase(ctx, tempDir.Path, db); err != nil {
			return nil, err
		}
		cp.MarkCompleted(db)
		if err := checkpoint.Save(cpPath, cp); err != nil {
			return nil, err
		}
	}

	if err := tempstore.Remove(tempDir.Path); err != nil {
		orch.logger.Warn().Err(err).Msg("failed to remove managed temp dir")
	}
	if err := checkpoint.Remove(cpPath); err != nil {
		orch.logger.Warn().Err(err).Msg("failed to remove checkpoint")
	}

	result := &InitResult{DatabasesCompleted: dbs, Resumed: resumed}
	if orch.opts.EnableSync {
		if _, err := orch.Sync(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (orch *Orchestrator) listFilteredDatabases(ctx context.Context) ([]string, error) {
	conn, err := pgx.Connect(ctx, orch.opts.Source.String())
	if err != nil {
		return nil, migerr.Wrap(migerr.Transient, err, "connect to source for database enumeration")
	}
	defer conn.Close(ctx)

	all, err := introspect.ListDatabases(ctx, conn)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range all {
		if orch.opts.Filter.ShouldReplicateDatabase(d.Name) {
			out = append(out, d.Name)
		}
	}
	return out, nil
}

// confirmSizeEstimates implements §4.J's "optionally estimate sizes and
// require interactive confirmation" step. Skipped entirely in
// non-interactive mode or when --yes was passed; estimation failures are
// logged and swallowed since sizing is advisory, not a precondition.
func (orch *Orchestrator) confirmSizeEstimates(ctx context.Context, dbs []string) error {
	if !orch.opts.Interactive || orch.opts.Yes {
		return nil
	}

	adminPool, err := connectPool(ctx, orch.opts.Source)
	if err != nil {
		return err
	}
	defer adminPool.Close()

	estimates, err := introspect.EstimateDatabaseSizes(ctx, adminPool, dbs)
	if err != nil {
		orch.logger.Warn().Err(err).Msg("failed to estimate database sizes; skipping confirmation")
		return nil
	}

	lines := make([]string, 0, len(estimates))
	for _, e := range estimates {
		lines = append(lines, fmt.Sprintf("%s: %s (est. %s)", e.Name, e.Human, e.EstimatedDuration))
	}
	prompt := fmt.Sprintf("about to copy %d database(s):\n%s\nproceed?",
		len(estimates), strings.Join(lines, "\n"))

	ok, err := orch.opts.Confirm.Confirm(ctx, prompt)
	if err != nil {
		return err
	}
	if !ok {
		return migerr.New(migerr.UserCancelled, "migration cancelled at size confirmation")
	}
	return nil
}

// initOneDatabase runs the per-database state machine: Creating →
// SchemaDumping → SchemaRestoring → DataDumping → DataRestoring →
// FilteredCopying (§4.J state machine).
func (orch *Orchestrator) initOneDatabase(ctx context.Context, tempDir, db string) error {
	logger := orch.logger.With().Str("database", db).Logger()

	if err := orch.createTargetDatabase(ctx, db); err != nil {
		return err
	}

	srcEp := orch.opts.Source.WithDatabase(db)
	dstEp := orch.opts.Target.WithDatabase(db)

	schemaFile := fmt.Sprintf("%s/%s_schema.sql", tempDir, db)
	logger.Info().Msg("dumping schema")
	if err := orch.driver.DumpSchema(ctx, srcEp, db, schemaFile, orch.opts.Filter); err != nil {
		return err
	}
	logger.Info().Msg("restoring schema")
	if err := orch.driver.RestoreSchema(ctx, dstEp, schemaFile); err != nil {
		return err
	}

	dataDir := fmt.Sprintf("%s/%s_data.dump", tempDir, db)
	logger.Info().Msg("dumping data")
	if err := orch.driver.DumpData(ctx, srcEp, db, dataDir, orch.opts.Filter); err != nil {
		return err
	}
	logger.Info().Msg("restoring data")
	if err := orch.driver.RestoreData(ctx, dstEp, dataDir); err != nil {
		return err
	}

	filteredTables := orch.opts.Filter.FilteredTables(db)
	if len(filteredTables) > 0 {
		srcPool, err := connectPool(ctx, srcEp)
		if err != nil {
			return err
		}
		defer srcPool.Close()
		dstPool, err := connectPool(ctx, dstEp)
		if err != nil {
			return err
		}
		defer dstPool.Close()

		for _, t := range filteredTables {
			logger.Info().Str("table", t.QualifiedName()).Msg("copying filtered table")
			if _, err := orch.driver.CopyFilteredTable(ctx, srcPool, dstPool, t); err != nil {
				return err
			}
		}
	}

	logger.Info().Msg("database completed")
	return nil
}

// createTargetDatabase implements the TOCTOU-safe create/detect/drop
// sequence (§4.J step 2): CREATE is the probe, never a prior existence
// check.
func (orch *Orchestrator) createTargetDatabase(ctx context.Context, db string) error {
	quoted, err := guard.QuoteIdentifier(db)
	if err != nil {
		return err
	}

	adminPool, err := connectPool(ctx, orch.opts.Target)
	if err != nil {
		return err
	}
	defer adminPool.Close()

	_, err = adminPool.Exec(ctx, "CREATE DATABASE "+quoted)
	if err == nil {
		return nil
	}

	if !isDuplicateDatabase(err) {
		return migerr.Wrapf(migerr.ExternalToolFailed, err, "create database %q", db)
	}

	hasData, err := targetDatabaseHasUserTables(ctx, orch.opts.Target.WithDatabase(db))
	if err != nil {
		return err
	}
	if hasData {
		allow := orch.opts.DropExisting
		if !allow && orch.opts.Interactive {
			allow, err = orch.opts.Confirm.Confirm(ctx,
				fmt.Sprintf("database %q already exists on target and has data; drop and recreate?", db))
			if err != nil {
				return err
			}
		}
		if !allow {
			return migerr.Newf(migerr.DuplicateDatabase,
				"database %q already exists on target; pass --drop-existing or confirm interactively", db)
		}
		if err := dropTargetDatabase(ctx, adminPool, db, quoted); err != nil {
			return err
		}
		if _, err := adminPool.Exec(ctx, "CREATE DATABASE "+quoted); err != nil {
			return migerr.Wrapf(migerr.ExternalToolFailed, err, "recreate database %q", db)
		}
		return nil
	}

	// Empty existing database: proceed without recreating it (§4.J step 2).
	return nil
}

func isDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P04"
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func targetDatabaseHasUserTables(ctx context.Context, ep pgurl.Endpoint) (bool, error) {
	pool, err := connectPool(ctx, ep)
	if err != nil {
		return false, err
	}
	defer pool.Close()

	tables, err := introspect.ListTables(ctx, pool)
	if err != nil {
		return false, err
	}
	return len(tables) > 0, nil
}

func dropTargetDatabase(ctx context.Context, adminPool pgiface.Pool, db, quoted string) error {
	_, err := adminPool.Exec(ctx, `
		SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE datname = $1 AND pid != pg_backend_pid()`, db)
	if err != nil {
		return migerr.Wrapf(migerr.ExternalToolFailed, err, "terminate sessions on database %q", db)
	}
	if _, err := adminPool.Exec(ctx, "DROP DATABASE IF EXISTS "+quoted); err != nil {
		return migerr.Wrapf(migerr.ExternalToolFailed, err, "drop database %q", db)
	}
	return nil
}

// SyncResult is Phase 3's outcome.
type SyncResult struct {
	Databases []string
}

// Sync is Phase 3: create publication + subscription per database and wait
// for initial sync.
func (orch *Orchestrator) Sync(ctx context.Context) (*SyncResult, error) {
	if err := orch.preconditions(); err != nil {
		return nil, err
	}
	dbs, err := orch.listFilteredDatabases(ctx)
	if err != nil {
		return nil, err
	}
	if len(dbs) == 0 {
		orch.logger.Warn().Msg("no databases matched the filter; nothing to sync")
		return &SyncResult{}, nil
	}

	for _, db := range dbs {
		srcPool, err := connectPool(ctx, orch.opts.Source.WithDatabase(db))
		if err != nil {
			return nil, err
		}
		dstPool, err := connectPool(ctx, orch.opts.Target.WithDatabase(db))
		if err != nil {
			srcPool.Close()
			return nil, err
		}

		pubName := pubsub.Name(orch.opts.PublicationTemplate, db, len(dbs))
		subName := pubsub.Name(orch.opts.SubscriptionTemplate, db, len(dbs))

		err = pubsub.CreatePublication(ctx, srcPool, db, pubName, orch.opts.Filter)
		if err == nil {
			sourceURL := orch.opts.Source.WithDatabase(db).String()
			err = pubsub.CreateSubscription(ctx, dstPool, subName, sourceURL, pubName)
		}
		if err == nil {
			err = pubsub.WaitForSync(ctx, dstPool, subName, orch.opts.SyncTimeout)
		}
		srcPool.Close()
		dstPool.Close()
		if err != nil {
			return nil, err
		}
		orch.logger.Info().Str("database", db).Msg("replication streaming")
	}
	return &SyncResult{Databases: dbs}, nil
}

// DatabaseStatus is one database's entry in a StatusResult.
type DatabaseStatus struct {
	Database string
	Status   repmon.Status
	Lag      string // human-friendly worst-slot lag, empty when the source reports no slot stats
}

// StatusResult is Phase 4's outcome.
type StatusResult struct {
	Databases   []DatabaseStatus
	AllCaughtUp bool
}

// Status is Phase 4: query replication lag per database and aggregate.
func (orch *Orchestrator) Status(ctx context.Context) (*StatusResult, error) {
	dbs, err := orch.listFilteredDatabases(ctx)
	if err != nil {
		return nil, err
	}
	if len(dbs) == 0 {
		orch.logger.Warn().Msg("no databases matched the filter")
		return &StatusResult{}, nil
	}

	result := &StatusResult{}
	anyActive := false
	allCaughtUp := true
	for _, db := range dbs {
		subName := pubsub.Name(orch.opts.SubscriptionTemplate, db, len(dbs))

		srcPool, err := connectPool(ctx, orch.opts.Source.WithDatabase(db))
		if err != nil {
			return nil, err
		}
		srcStats, err := repmon.SourceStats(ctx, srcPool, subName)
		srcPool.Close()
		if err != nil {
			return nil, err
		}

		dstPool, err := connectPool(ctx, orch.opts.Target.WithDatabase(db))
		if err != nil {
			return nil, err
		}
		subStats, err := repmon.SubscriptionStatsFor(ctx, dstPool, subName)
		dstPool.Close()
		if err != nil {
			return nil, err
		}

		status := repmon.Classify(srcStats)
		if len(subStats) == 0 || subStats[0].WorkerPID == nil {
			status = repmon.StatusInactive
		}
		if status != repmon.StatusInactive {
			anyActive = true
		}
		if status != repmon.StatusCaughtUp {
			allCaughtUp = false
		}
		result.Databases = append(result.Databases, DatabaseStatus{
			Database: db,
			Status:   status,
			Lag:      repmon.WorstLagDisplay(srcStats),
		})
	}
	result.AllCaughtUp = allCaughtUp && anyActive
	return result, nil
}

// TableVerification is one table's comparison outcome.
type TableVerification struct {
	Database string
	introspect.ChecksumResult
}

// VerifyResult is Phase 5's outcome.
type VerifyResult struct {
	Tables     []TableVerification
	Matches    int
	Mismatches int
}

// Verify is Phase 5: checksum every replicated table with bounded
// concurrency.
func (orch *Orchestrator) Verify(ctx context.Context) (*VerifyResult, error) {
	dbs, err := orch.listFilteredDatabases(ctx)
	if err != nil {
		return nil, err
	}
	if len(dbs) == 0 {
		orch.logger.Warn().Msg("no databases matched the filter")
		return &VerifyResult{}, nil
	}

	result := &VerifyResult{}
	for _, db := range dbs {
		srcPool, err := connectPool(ctx, orch.opts.Source.WithDatabase(db))
		if err != nil {
			return nil, err
		}
		dstPool, err := connectPool(ctx, orch.opts.Target.WithDatabase(db))
		if err != nil {
			srcPool.Close()
			return nil, err
		}

		tables, err := introspect.ListTables(ctx, srcPool)
		if err != nil {
			srcPool.Close()
			dstPool.Close()
			return nil, err
		}

		var toCheck []introspect.TableInfo
		for _, t := range tables {
			if orch.opts.Filter.ShouldReplicateTable(db, t.Schema, t.Name, true) {
				toCheck = append(toCheck, t)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(orch.opts.VerifyConcurrency)
		results := make([]introspect.ChecksumResult, len(toCheck))
		for i, t := range toCheck {
			i, t := i, t
			g.Go(func() error {
				cmp, err := introspect.CompareTables(gctx, srcPool, dstPool, t.Schema, t.Name)
				if err != nil {
					return err
				}
				results[i] = cmp
				return nil
			})
		}
		err = g.Wait()
		srcPool.Close()
		dstPool.Close()
		if err != nil {
			return nil, err
		}

		for _, cmp := range results {
			result.Tables = append(result.Tables, TableVerification{Database: db, ChecksumResult: cmp})
			if cmp.Valid() {
				result.Matches++
			} else {
				result.Mismatches++
			}
		}
	}

	if result.Mismatches > 0 {
		return result, migerr.Newf(migerr.IntegrityMismatch,
			"%d of %d tables failed checksum verification", result.Mismatches, result.Matches+result.Mismatches)
	}
	return result, nil
}
