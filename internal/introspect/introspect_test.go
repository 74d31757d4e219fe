package introspect

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
)

func TestListTablesExcludesSystemSchemas(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"schemaname", "relname", "n_live_tup"}).
		AddRow("public", "orders", int64(42)).
		AddRow("public", "users", int64(7))
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_stat_user_tables")).WillReturnRows(rows)

	tables, err := ListTables(context.Background(), mock)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(tables))
	}
	if tables[0].Name != "orders" || tables[0].EstimatedRows != 42 {
		t.Fatalf("unexpected first table: %+v", tables[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestComputeTableChecksumEmptyTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	colRows := pgxmock.NewRows([]string{"column_name"}).AddRow("id").AddRow("name")
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).WillReturnRows(colRows)

	checksumRows := pgxmock.NewRows([]string{"md5", "count"}).AddRow(nil, int64(0))
	mock.ExpectQuery("SELECT md5").WillReturnRows(checksumRows)

	hash, rows, err := ComputeTableChecksum(context.Background(), mock, "public", "empty_table")
	if err != nil {
		t.Fatalf("ComputeTableChecksum: %v", err)
	}
	if hash != "empty" || rows != 0 {
		t.Fatalf("got (%q, %d), want (\"empty\", 0)", hash, rows)
	}
}

func TestComputeTableChecksumNonEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	colRows := pgxmock.NewRows([]string{"column_name"}).AddRow("id")
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).WillReturnRows(colRows)

	checksumRows := pgxmock.NewRows([]string{"md5", "count"}).AddRow("abc123", int64(3))
	mock.ExpectQuery("SELECT md5").WillReturnRows(checksumRows)

	hash, rows, err := ComputeTableChecksum(context.Background(), mock, "public", "t")
	if err != nil {
		t.Fatalf("ComputeTableChecksum: %v", err)
	}
	if hash != "abc123" || rows != 3 {
		t.Fatalf("got (%q, %d), want (\"abc123\", 3)", hash, rows)
	}
}

func TestChecksumResultValid(t *testing.T) {
	r := ChecksumResult{Matches: true, SourceRows: 5, TargetRows: 5}
	if !r.Valid() {
		t.Fatalf("expected valid result")
	}
	r.TargetRows = 6
	if r.Valid() {
		t.Fatalf("row count mismatch should make result invalid even if hashes matched")
	}
}
