package tempstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateUsesDocumentedPrefix(t *testing.T) {
	dir, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer os.RemoveAll(dir.Path)

	base := filepath.Base(dir.Path)
	if !strings.HasPrefix(base, Prefix) {
		t.Fatalf("dir name %q does not have prefix %q", base, Prefix)
	}
	info, err := os.Stat(dir.Path)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected a directory at %q", dir.Path)
	}
}

func TestRemoveRefusesUnrelatedPath(t *testing.T) {
	other := t.TempDir()
	if err := Remove(other); err == nil {
		t.Fatalf("Remove should refuse a path without the managed prefix")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("path should be untouched: %v", err)
	}
}

func TestRemoveDeletesManagedDir(t *testing.T) {
	dir, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := Remove(dir.Path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(dir.Path); !os.IsNotExist(err) {
		t.Fatalf("expected directory to be gone")
	}
}

func TestSweepRemovesOnlyStaleManagedDirs(t *testing.T) {
	fresh, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer os.RemoveAll(fresh.Path)

	stale, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale.Path, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	errs := Sweep(24 * time.Hour)
	for _, e := range errs {
		t.Logf("sweep error (non-fatal): %v", e)
	}

	if _, err := os.Stat(stale.Path); !os.IsNotExist(err) {
		t.Fatalf("expected stale managed dir to be swept")
	}
	if _, err := os.Stat(fresh.Path); err != nil {
		t.Fatalf("fresh managed dir should survive sweep: %v", err)
	}
}
