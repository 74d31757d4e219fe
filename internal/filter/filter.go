// Package filter implements the filter algebra (spec §4.C): database/table
// inclusion, per-table rules, and a stable fingerprint used for checkpoint
// validation.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/serenorg/pgreplicator/internal/guard"
	"github.com/serenorg/pgreplicator/internal/migerr"
)

// RuleKind distinguishes the three per-table rule variants (§3 TableRules).
type RuleKind int

const (
	SchemaOnly RuleKind = iota
	Predicate
	TimeWindow
)

// TableRule is one entry of the TableRules map, keyed by (database, schema,
// table) in Filter.Rules.
type TableRule struct {
	Kind         RuleKind
	SQL          string // Predicate: the raw boolean expression. TimeWindow: unused, see Column/Interval.
	Column       string // TimeWindow only.
	IntervalText string // TimeWindow only.
}

// tableKey identifies a table by (database, schema, table).
type tableKey struct {
	Database string
	Schema   string
	Table    string
}

// Filter is the four-set-plus-rules structure from §3.
type Filter struct {
	IncludeDatabases map[string]struct{}
	ExcludeDatabases map[string]struct{}
	IncludeTables    map[string]struct{} // "db.schema.table"
	ExcludeTables    map[string]struct{} // "db.schema.table"
	Rules            map[tableKey]TableRule
}

// New returns an empty Filter ready for population.
func New() *Filter {
	return &Filter{
		IncludeDatabases: map[string]struct{}{},
		ExcludeDatabases: map[string]struct{}{},
		IncludeTables:    map[string]struct{}{},
		ExcludeTables:    map[string]struct{}{},
		Rules:            map[tableKey]TableRule{},
	}
}

// IsEmpty reports whether the filter has no constraints at all.
func (f *Filter) IsEmpty() bool {
	return len(f.IncludeDatabases) == 0 && len(f.ExcludeDatabases) == 0 &&
		len(f.IncludeTables) == 0 && len(f.ExcludeTables) == 0 && len(f.Rules) == 0
}

// AddIncludeDatabase adds a database to the include set.
func (f *Filter) AddIncludeDatabase(name string) { f.IncludeDatabases[name] = struct{}{} }

// AddExcludeDatabase adds a database to the exclude set.
func (f *Filter) AddExcludeDatabase(name string) { f.ExcludeDatabases[name] = struct{}{} }

// parseQualified splits the table part (without the database) as
// "schema.table" with exactly one '.', or treats a bare name as schema
// "public" (§4.C construction rules).
func parseQualified(db, raw string) (schema, table string, err error) {
	parts := strings.Split(raw, ".")
	switch len(parts) {
	case 1:
		schema, table = "public", parts[0]
	case 2:
		schema, table = parts[0], parts[1]
	default:
		return "", "", migerr.Newf(migerr.Misconfiguration, "table name %q must have at most one '.'", raw)
	}
	if err := guard.Identifier(schema); err != nil {
		return "", "", err
	}
	if err := guard.Identifier(table); err != nil {
		return "", "", err
	}
	_ = db
	return schema, table, nil
}

// AddIncludeTable registers db.table (or bare table defaulting to schema
// public) in the include-tables set.
func (f *Filter) AddIncludeTable(db, qualified string) error {
	schema, table, err := parseQualified(db, qualified)
	if err != nil {
		return err
	}
	f.IncludeTables[db+"."+schema+"."+table] = struct{}{}
	return nil
}

// AddExcludeTable registers db.table in the exclude-tables set.
func (f *Filter) AddExcludeTable(db, qualified string) error {
	schema, table, err := parseQualified(db, qualified)
	if err != nil {
		return err
	}
	f.ExcludeTables[db+"."+schema+"."+table] = struct{}{}
	return nil
}

// AddSchemaOnly marks db.table as schema-only: data is not dumped, no
// row-level predicate applies.
func (f *Filter) AddSchemaOnly(db, qualified string) error {
	schema, table, err := parseQualified(db, qualified)
	if err != nil {
		return err
	}
	f.Rules[tableKey{db, schema, table}] = TableRule{Kind: SchemaOnly}
	return nil
}

// AddPredicate marks db.table with an arbitrary boolean SQL predicate
// evaluated server-side.
func (f *Filter) AddPredicate(db, qualified, sql string) error {
	schema, table, err := parseQualified(db, qualified)
	if err != nil {
		return err
	}
	if strings.TrimSpace(sql) == "" {
		return migerr.New(migerr.Misconfiguration, "predicate SQL must not be empty")
	}
	f.Rules[tableKey{db, schema, table}] = TableRule{Kind: Predicate, SQL: sql}
	return nil
}

// AddTimeWindow marks db.table as a TimeWindow rule: sugar for
// Predicate("{column} >= NOW() - INTERVAL '{interval}'").
func (f *Filter) AddTimeWindow(db, qualified, column, interval string) error {
	schema, table, err := parseQualified(db, qualified)
	if err != nil {
		return err
	}
	if err := guard.Identifier(column); err != nil {
		return err
	}
	if strings.ContainsAny(interval, "';\\") {
		return migerr.Newf(migerr.Misconfiguration, "invalid interval text %q", interval)
	}
	f.Rules[tableKey{db, schema, table}] = TableRule{
		Kind:         TimeWindow,
		Column:       column,
		IntervalText: interval,
	}
	return nil
}

// resolvedSQL returns the effective predicate SQL for a rule, expanding
// TimeWindow sugar.
func (r TableRule) resolvedSQL() string {
	switch r.Kind {
	case TimeWindow:
		return fmt.Sprintf("%s >= NOW() - INTERVAL '%s'", r.Column, r.IntervalText)
	default:
		return r.SQL
	}
}

// ShouldReplicateDatabase implements §3's should_replicate_database: pure
// set membership, independent of table fields.
func (f *Filter) ShouldReplicateDatabase(name string) bool {
	if len(f.IncludeDatabases) > 0 {
		if _, ok := f.IncludeDatabases[name]; !ok {
			return false
		}
	}
	_, excluded := f.ExcludeDatabases[name]
	return !excluded
}

// ShouldReplicateTable implements §3's should_replicate_table. forData, when
// true, additionally excludes tables marked SchemaOnly (used for data-phase
// decisions); schema-phase callers pass forData=false.
func (f *Filter) ShouldReplicateTable(db, schema, table string, forData bool) bool {
	if !f.ShouldReplicateDatabase(db) {
		return false
	}
	qn := db + "." + schema + "." + table
	shortQN := db + "." + table
	if len(f.IncludeTables) > 0 {
		_, inLong := f.IncludeTables[qn]
		_, inShort := f.IncludeTables[shortQN]
		if !inLong && !inShort {
			return false
		}
	}
	if _, ok := f.ExcludeTables[qn]; ok {
		return false
	}
	if _, ok := f.ExcludeTables[shortQN]; ok {
		return false
	}
	if forData {
		if rule, ok := f.Rules[tableKey{db, schema, table}]; ok && rule.Kind == SchemaOnly {
			return false
		}
	}
	return true
}

// FilteredTable is a table that gets its data loaded via the predicate-copy
// side channel rather than the bulk data dump (§3, §4.F).
type FilteredTable struct {
	Schema       string
	Table        string
	PredicateSQL string
}

// QualifiedName returns "schema"."table" quoted for SQL (unvalidated
// inputs are rejected by guard at rule-construction time already).
func (t FilteredTable) QualifiedName() string {
	return fmt.Sprintf("%q.%q", t.Schema, t.Table)
}

// ExcludeTableDataList returns the tables that must be passed to the
// dump driver's --exclude-table-data flag for db: every table marked
// SchemaOnly or Predicate/TimeWindow (§4.C "always contribute to the
// exclude-table-data list").
func (f *Filter) ExcludeTableDataList(db string) []string {
	var out []string
	for key := range f.Rules {
		if key.Database == db {
			out = append(out, fmt.Sprintf("%s.%s", key.Schema, key.Table))
		}
	}
	sort.Strings(out)
	return out
}

// FilteredTables returns the Predicate/TimeWindow tables for db as the
// FilteredTable list consumed by the post-restore copy pass (§4.F).
// SchemaOnly tables are not included since they carry no predicate copy.
func (f *Filter) FilteredTables(db string) []FilteredTable {
	var out []FilteredTable
	for key, rule := range f.Rules {
		if key.Database != db || rule.Kind == SchemaOnly {
			continue
		}
		out = append(out, FilteredTable{
			Schema:       key.Schema,
			Table:        key.Table,
			PredicateSQL: rule.resolvedSQL(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Schema != out[j].Schema {
			return out[i].Schema < out[j].Schema
		}
		return out[i].Table < out[j].Table
	})
	return out
}

// Fingerprint computes a stable, collision-resistant hash of the
// normalized filter contents: sorted sets, sorted rule keys (§4.C).
func (f *Filter) Fingerprint() uint64 {
	var b strings.Builder

	writeSorted := func(label string, set map[string]struct{}) {
		items := make([]string, 0, len(set))
		for k := range set {
			items = append(items, k)
		}
		sort.Strings(items)
		b.WriteString(label)
		b.WriteByte(':')
		b.WriteString(strings.Join(items, ","))
		b.WriteByte(';')
	}

	writeSorted("include_db", f.IncludeDatabases)
	writeSorted("exclude_db", f.ExcludeDatabases)
	writeSorted("include_tbl", f.IncludeTables)
	writeSorted("exclude_tbl", f.ExcludeTables)

	keys := make([]tableKey, 0, len(f.Rules))
	for k := range f.Rules {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Database != keys[j].Database {
			return keys[i].Database < keys[j].Database
		}
		if keys[i].Schema != keys[j].Schema {
			return keys[i].Schema < keys[j].Schema
		}
		return keys[i].Table < keys[j].Table
	})
	b.WriteString("rules:")
	for _, k := range keys {
		rule := f.Rules[k]
		fmt.Fprintf(&b, "%s.%s.%s=%d:%s;", k.Database, k.Schema, k.Table, rule.Kind, rule.resolvedSQL())
	}

	return xxhash.Sum64String(b.String())
}

// FingerprintHex returns Fingerprint() as a hex string for storage.
func (f *Filter) FingerprintHex() string {
	return fmt.Sprintf("%016x", f.Fingerprint())
}
