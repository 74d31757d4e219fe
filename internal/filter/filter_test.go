package filter

import "testing"

func TestIsEmpty(t *testing.T) {
	f := New()
	if !f.IsEmpty() {
		t.Fatalf("fresh filter should be empty")
	}
	f.AddIncludeDatabase("app")
	if f.IsEmpty() {
		t.Fatalf("filter with an include database should not be empty")
	}
}

func TestShouldReplicateDatabase(t *testing.T) {
	f := New()
	if !f.ShouldReplicateDatabase("anything") {
		t.Fatalf("empty filter should replicate any database")
	}

	f.AddIncludeDatabase("app")
	if f.ShouldReplicateDatabase("other") {
		t.Fatalf("non-included database should be rejected once include set is non-empty")
	}
	if !f.ShouldReplicateDatabase("app") {
		t.Fatalf("included database should be accepted")
	}

	f.AddExcludeDatabase("app")
	if f.ShouldReplicateDatabase("app") {
		t.Fatalf("exclude should win over include")
	}
}

func TestShouldReplicateDatabaseIndependentOfTableFields(t *testing.T) {
	// Invariant 3: should_replicate_database is independent of table fields.
	f := New()
	if err := f.AddIncludeTable("app", "public.users"); err != nil {
		t.Fatalf("AddIncludeTable: %v", err)
	}
	if !f.ShouldReplicateDatabase("app") {
		t.Fatalf("table-level filters must not affect should_replicate_database")
	}
}

func TestShouldReplicateTableSchemaOnlyDataPhase(t *testing.T) {
	f := New()
	if err := f.AddSchemaOnly("app", "public.audit"); err != nil {
		t.Fatalf("AddSchemaOnly: %v", err)
	}
	if !f.ShouldReplicateTable("app", "public", "audit", false) {
		t.Fatalf("schema-only table should replicate for schema phase")
	}
	if f.ShouldReplicateTable("app", "public", "audit", true) {
		t.Fatalf("schema-only table should not replicate for data phase")
	}
}

func TestAddIncludeTableRejectsMultipleDots(t *testing.T) {
	f := New()
	if err := f.AddIncludeTable("app", "a.b.c"); err == nil {
		t.Fatalf("expected error for table name with more than one dot")
	}
}

func TestAddIncludeTableDefaultsToPublicSchema(t *testing.T) {
	f := New()
	if err := f.AddIncludeTable("app", "users"); err != nil {
		t.Fatalf("AddIncludeTable: %v", err)
	}
	if !f.ShouldReplicateTable("app", "public", "users", false) {
		t.Fatalf("bare table name should default to schema public")
	}
}

func TestTimeWindowExpandsToPredicate(t *testing.T) {
	f := New()
	if err := f.AddTimeWindow("app", "public.events", "created_at", "7 days"); err != nil {
		t.Fatalf("AddTimeWindow: %v", err)
	}
	tables := f.FilteredTables("app")
	if len(tables) != 1 {
		t.Fatalf("expected 1 filtered table, got %d", len(tables))
	}
	want := "created_at >= NOW() - INTERVAL '7 days'"
	if tables[0].PredicateSQL != want {
		t.Fatalf("PredicateSQL = %q, want %q", tables[0].PredicateSQL, want)
	}
}

func TestExcludeTableDataListIncludesAllRuleKinds(t *testing.T) {
	f := New()
	_ = f.AddSchemaOnly("app", "public.audit")
	_ = f.AddPredicate("app", "public.orders", "status = 'active'")
	list := f.ExcludeTableDataList("app")
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %v", list)
	}
}

func TestFingerprintStableAndSensitive(t *testing.T) {
	a := New()
	a.AddIncludeDatabase("app")
	_ = a.AddPredicate("app", "public.orders", "status = 'active'")

	b := New()
	b.AddIncludeDatabase("app")
	_ = b.AddPredicate("app", "public.orders", "status = 'active'")

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("identical filters should fingerprint identically")
	}

	c := New()
	c.AddIncludeDatabase("app2")
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("different filters should fingerprint differently")
	}
}

func TestFingerprintOrderIndependent(t *testing.T) {
	a := New()
	a.AddIncludeDatabase("x")
	a.AddIncludeDatabase("y")

	b := New()
	b.AddIncludeDatabase("y")
	b.AddIncludeDatabase("x")

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprint must not depend on insertion order")
	}
}
