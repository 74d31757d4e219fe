package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/serenorg/pgreplicator/internal/migerr"
)

func testMeta() Metadata {
	return Metadata{
		SourceHash:        IdentityHash("postgres://a@src:5432/db"),
		TargetHash:        IdentityHash("postgres://a@dst:5432/db"),
		FilterFingerprint: "abc123",
	}
}

func TestLoadMissingFileReturnsNil(t *testing.T) {
	cp, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp != nil {
		t.Fatalf("expected nil checkpoint for missing file")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.toml")
	meta := testMeta()
	cp := New(meta, []string{"a", "b", "c"})
	cp.MarkCompleted("a")

	if err := Save(path, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatalf("expected a checkpoint to load")
	}
	if !loaded.IsCompleted("a") {
		t.Fatalf("expected 'a' to be completed after round trip")
	}
	if loaded.IsCompleted("b") {
		t.Fatalf("'b' should not be completed")
	}
	if err := Validate(loaded, meta, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestMarkCompletedIdempotent(t *testing.T) {
	cp := New(testMeta(), []string{"a"})
	cp.MarkCompleted("a")
	cp.MarkCompleted("a")
	if len(cp.Completed) != 1 {
		t.Fatalf("MarkCompleted should be a no-op when already present, got %v", cp.Completed)
	}
}

func TestValidateDetectsMismatch(t *testing.T) {
	meta := testMeta()
	cp := New(meta, []string{"a", "b"})

	other := meta
	other.FilterFingerprint = "different"
	if err := Validate(cp, other, []string{"a", "b"}); migerr.KindOf(err) != migerr.FilterMismatch {
		t.Fatalf("expected FilterMismatch for fingerprint drift, got %v", err)
	}

	if err := Validate(cp, meta, []string{"a", "b", "c"}); migerr.KindOf(err) != migerr.FilterMismatch {
		t.Fatalf("expected FilterMismatch for database set drift, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.toml")
	if err := Remove(path); err != nil {
		t.Fatalf("Remove on missing file should succeed, got %v", err)
	}
	cp := New(testMeta(), nil)
	if err := Save(path, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected checkpoint file to be gone")
	}
}

func TestSaveIsAtomicNoTempFileLeftBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.toml")
	cp := New(testMeta(), []string{"a"})
	if err := Save(path, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should not remain after a successful save")
	}
}
