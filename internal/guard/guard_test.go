package guard

import (
	"strings"
	"testing"

	"github.com/serenorg/pgreplicator/internal/migerr"
)

func TestIdentifierValid(t *testing.T) {
	valid := []string{"a", "_foo", "Table_1", strings.Repeat("a", 63)}
	for _, name := range valid {
		if err := Identifier(name); err != nil {
			t.Errorf("Identifier(%q) unexpected error: %v", name, err)
		}
	}
}

func TestIdentifierInvalid(t *testing.T) {
	invalid := []string{"", "1abc", "has space", "has-dash", strings.Repeat("a", 64), "emb\"ed"}
	for _, name := range invalid {
		if err := Identifier(name); migerr.KindOf(err) != migerr.Misconfiguration {
			t.Errorf("Identifier(%q) = %v, want Misconfiguration", name, err)
		}
	}
}

func TestQuoteIdentifierRejectsQuoteAndWrapsValidName(t *testing.T) {
	if _, err := QuoteIdentifier(`bad"name`); err == nil {
		t.Fatalf("expected error for identifier with embedded quote (invalid char)")
	}
	q, err := QuoteIdentifier("users")
	if err != nil {
		t.Fatalf("QuoteIdentifier: %v", err)
	}
	if q != `"users"` {
		t.Fatalf("QuoteIdentifier = %q, want %q", q, `"users"`)
	}
}

func TestQuoteQualified(t *testing.T) {
	q, err := QuoteQualified("public", "orders")
	if err != nil {
		t.Fatalf("QuoteQualified: %v", err)
	}
	if q != `"public"."orders"` {
		t.Fatalf("QuoteQualified = %q", q)
	}
}

func TestDisplayStripsControlAndTruncates(t *testing.T) {
	in := "hello\x00world" + strings.Repeat("x", 200)
	out := Display(in)
	if strings.ContainsRune(out, 0) {
		t.Fatalf("Display() kept a control character")
	}
	if len(out) > 100 {
		t.Fatalf("Display() len = %d, want <= 100", len(out))
	}
}

func TestConnectionStringShape(t *testing.T) {
	if err := ConnectionStringShape("postgres://u:p@host:5432/db"); err != nil {
		t.Fatalf("valid shape rejected: %v", err)
	}
	invalid := []string{"", "ftp://x", "postgres://noatsign/db", "postgres://u@host"}
	for _, s := range invalid {
		if err := ConnectionStringShape(s); err == nil {
			t.Errorf("ConnectionStringShape(%q) should have failed", s)
		}
	}
}
