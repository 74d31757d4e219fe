// Package guard implements identifier and input guards (spec §4.B): the
// last line of defense before a name is interpolated into SQL or an
// external-tool invocation is attempted.
package guard

import (
	"os/exec"
	"strings"

	"github.com/serenorg/pgreplicator/internal/migerr"
)

const maxIdentifierLen = 63

// Identifier validates a Postgres identifier: 1..=63 ASCII characters,
// first char [A-Za-z_], remainder [A-Za-z0-9_].
func Identifier(name string) error {
	if len(name) == 0 || len(name) > maxIdentifierLen {
		return migerr.Newf(migerr.Misconfiguration, "identifier %q must be 1..%d characters", name, maxIdentifierLen)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return migerr.Newf(migerr.Misconfiguration, "identifier %q cannot start with a digit", name)
			}
		default:
			return migerr.Newf(migerr.Misconfiguration, "identifier %q contains an invalid character %q", name, string(c))
		}
	}
	return nil
}

// QuoteIdentifier validates name then wraps it in double quotes, doubling
// any embedded quote. Every name that crosses a SQL boundary MUST go
// through this function (§9 "Identifier safety").
func QuoteIdentifier(name string) (string, error) {
	if err := Identifier(name); err != nil {
		return "", err
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`, nil
}

// QuoteQualified validates and quotes a schema-qualified identifier as
// "schema"."table".
func QuoteQualified(schema, table string) (string, error) {
	qs, err := QuoteIdentifier(schema)
	if err != nil {
		return "", err
	}
	qt, err := QuoteIdentifier(table)
	if err != nil {
		return "", err
	}
	return qs + "." + qt, nil
}

const maxDisplayLen = 100

// Display sanitizes an arbitrary string for inclusion in error/log
// messages only: strips control characters and truncates to 100 chars. It
// MUST NOT be used for anything that reaches SQL.
func Display(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		if n >= maxDisplayLen {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// ConnectionStringShape performs the cheap shape check from §4.B: scheme,
// presence of '@', and at least three '/'. It does not attempt a full
// parse; use pgurl.Parse for that.
func ConnectionStringShape(s string) error {
	if s == "" {
		return migerr.New(migerr.Misconfiguration, "connection string is empty")
	}
	if !strings.HasPrefix(s, "postgres://") && !strings.HasPrefix(s, "postgresql://") {
		return migerr.New(migerr.Misconfiguration, "connection string must start with postgres:// or postgresql://")
	}
	if !strings.Contains(s, "@") {
		return migerr.New(migerr.Misconfiguration, "connection string is missing credentials")
	}
	if strings.Count(s, "/") < 3 {
		return migerr.New(migerr.Misconfiguration, "connection string is missing a database path")
	}
	return nil
}

// RequiredTools is the set of external tools a snapshot phase shells out
// to; absence of any of them is fatal before any side effect occurs.
var RequiredTools = []string{"pg_dump", "pg_dumpall", "psql", "pg_restore"}

// CheckRequiredTools confirms every tool in RequiredTools is present on
// PATH, returning a Misconfiguration error naming the first missing tool.
func CheckRequiredTools() error {
	for _, tool := range RequiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			return migerr.Newf(migerr.Misconfiguration,
				"required external tool %q not found on PATH; install the PostgreSQL client tools", tool)
		}
	}
	return nil
}
