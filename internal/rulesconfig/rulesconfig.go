// Package rulesconfig implements the TOML config file loader collaborator
// (spec §6 "Config file loader"): given a path, returns TableRules merged
// under CLI-provided rules, with CLI winning on conflict. Grounded in
// teacher internal/appconfig/config.go's findConfigFile/env-var/TOML-decode
// idiom, retargeted at this domain's TableRules shape instead of a server
// config.
package rulesconfig

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/serenorg/pgreplicator/internal/filter"
	"github.com/serenorg/pgreplicator/internal/migerr"
)

// ruleFile is the on-disk TOML shape: one [[rule]] table per qualified
// table, with exactly one of schema_only/predicate/(column+interval) set.
type ruleFile struct {
	Rule []ruleEntry `toml:"rule"`
}

type ruleEntry struct {
	Database   string `toml:"database"`
	Table      string `toml:"table"` // "schema.table" or bare table
	SchemaOnly bool   `toml:"schema_only"`
	Predicate  string `toml:"predicate"`
	Column     string `toml:"column"`
	Interval   string `toml:"interval"`
}

// Load reads a TOML rules file at path and applies its entries to f. Used
// to seed a Filter from --config before CLI --table-filter/--time-filter/
// --schema-only-tables flags are applied on top (CLI wins on conflict since
// AddPredicate/AddSchemaOnly/AddTimeWindow simply overwrite the prior rule
// for that table key).
func Load(path string, f *filter.Filter) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	var rf ruleFile
	if _, err := toml.DecodeFile(path, &rf); err != nil {
		return migerr.Wrapf(migerr.Misconfiguration, err, "parse rules config %s", path)
	}

	for _, r := range rf.Rule {
		if r.Database == "" || r.Table == "" {
			return migerr.Newf(migerr.Misconfiguration, "rules config %s: rule missing database/table", path)
		}
		switch {
		case r.SchemaOnly:
			if err := f.AddSchemaOnly(r.Database, r.Table); err != nil {
				return err
			}
		case r.Predicate != "":
			if err := f.AddPredicate(r.Database, r.Table, r.Predicate); err != nil {
				return err
			}
		case r.Column != "" && r.Interval != "":
			if err := f.AddTimeWindow(r.Database, r.Table, r.Column, r.Interval); err != nil {
				return err
			}
		default:
			return migerr.Newf(migerr.Misconfiguration,
				"rules config %s: rule for %s.%s has no schema_only/predicate/column+interval", path, r.Database, r.Table)
		}
	}
	return nil
}

// findConfigFile checks the documented search path when --config is not
// given: PGREPLICATOR_CONFIG if set, then the user state directory, then
// /etc. Grounded in teacher appconfig's env-var fallback, retargeted from
// per-field overrides to a single path lookup since this domain's config
// is a rules file, not a server config struct.
func findConfigFile() string {
	if v := os.Getenv("PGREPLICATOR_CONFIG"); v != "" {
		return v
	}

	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pgreplicator", "rules.toml"))
	}
	candidates = append(candidates, "/etc/pgreplicator/rules.toml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Write serializes rules to a TOML file at path in the format Load reads.
func Write(path string, rules []Rule) error {
	rf := ruleFile{}
	for _, r := range rules {
		rf.Rule = append(rf.Rule, ruleEntry{
			Database:   r.Database,
			Table:      r.Table,
			SchemaOnly: r.SchemaOnly,
			Predicate:  r.Predicate,
			Column:     r.Column,
			Interval:   r.Interval,
		})
	}
	f, err := os.Create(path)
	if err != nil {
		return migerr.Wrapf(migerr.Misconfiguration, err, "create rules config %s", path)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(rf); err != nil {
		return migerr.Wrapf(migerr.Misconfiguration, err, "encode rules config %s", path)
	}
	return nil
}

// Rule is the plain-data form of one rule entry, used by Write and by
// callers building a rules file programmatically.
type Rule struct {
	Database   string
	Table      string
	SchemaOnly bool
	Predicate  string
	Column     string
	Interval   string
}
