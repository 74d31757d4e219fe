package orchestrator

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/serenorg/pgreplicator/internal/migerr"
)

func TestCheckSourcePrivilegesAcceptsReplicationRole(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"rolsuper", "rolreplication"}).AddRow(false, true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_roles")).WillReturnRows(rows)

	if err := checkSourcePrivileges(context.Background(), mock); err != nil {
		t.Fatalf("checkSourcePrivileges: %v", err)
	}
}

func TestCheckSourcePrivilegesRejectsOrdinaryRole(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"rolsuper", "rolreplication"}).AddRow(false, false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_roles")).WillReturnRows(rows)

	err = checkSourcePrivileges(context.Background(), mock)
	if migerr.KindOf(err) != migerr.InsufficientPriv {
		t.Fatalf("expected InsufficientPriv, got %v", err)
	}
}

func TestCheckTargetPrivilegesWarnsOnMissingCreateRole(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"rolsuper", "rolcreatedb", "rolcreaterole"}).AddRow(false, true, false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_roles")).WillReturnRows(rows)

	warnings, err := checkTargetPrivileges(context.Background(), mock)
	if err != nil {
		t.Fatalf("checkTargetPrivileges: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
}

func TestCheckTargetPrivilegesRejectsMissingCreateDB(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"rolsuper", "rolcreatedb", "rolcreaterole"}).AddRow(false, false, false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_roles")).WillReturnRows(rows)

	_, err = checkTargetPrivileges(context.Background(), mock)
	if migerr.KindOf(err) != migerr.InsufficientPriv {
		t.Fatalf("expected InsufficientPriv, got %v", err)
	}
}

func TestServerMajorVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"server_version_num"}).AddRow(160003)
	mock.ExpectQuery(regexp.QuoteMeta("SHOW server_version_num")).WillReturnRows(rows)

	major, err := serverMajorVersion(context.Background(), mock)
	if err != nil {
		t.Fatalf("serverMajorVersion: %v", err)
	}
	if major != 16 {
		t.Fatalf("expected major version 16, got %d", major)
	}
}

func TestIsDuplicateDatabaseMatchesErrorString(t *testing.T) {
	err := migerr.New(migerr.ExternalToolFailed, `database "app" already exists`)
	if !isDuplicateDatabase(err) {
		t.Fatalf("expected already-exists string to be detected")
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.SyncTimeout.Seconds() != 300 {
		t.Fatalf("expected default sync timeout of 300s, got %v", opts.SyncTimeout)
	}
	if opts.VerifyConcurrency != 4 {
		t.Fatalf("expected default verify concurrency of 4, got %d", opts.VerifyConcurrency)
	}
	if opts.Confirm == nil {
		t.Fatalf("expected a default Confirmer")
	}
	ok, err := opts.Confirm.Confirm(context.Background(), "drop?")
	if err != nil || ok {
		t.Fatalf("default Confirmer should decline without error, got (%v, %v)", ok, err)
	}
}
