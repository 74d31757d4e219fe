// Package checkpoint implements the crash-safe checkpoint store (spec
// §4.D): durable per-run state on local disk, keyed by the (source,
// target) pair, written atomically.
package checkpoint

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/cespare/xxhash/v2"
	"github.com/serenorg/pgreplicator/internal/migerr"
)

const stateDirName = ".pgreplicator"
const formatVersion = 1

// Metadata is the configuration fingerprint a checkpoint is validated
// against. drop_existing/enable_sync live here rather than in the filter
// fingerprint proper (§9 "Checkpoint fingerprint scope").
type Metadata struct {
	Version           int    `toml:"version"`
	SourceHash        string `toml:"source_hash"`
	TargetHash        string `toml:"target_hash"`
	FilterFingerprint string `toml:"filter_fingerprint"`
	DropExisting      bool   `toml:"drop_existing"`
	EnableSync        bool   `toml:"enable_sync"`
}

// Checkpoint is the persisted per-run record (§3 InitCheckpoint).
type Checkpoint struct {
	Metadata      Metadata `toml:"metadata"`
	DatabaseOrder []string `toml:"database_order"`
	Completed     []string `toml:"completed"`

	completedSet map[string]struct{}
}

// New builds a fresh checkpoint with an empty completed set.
func New(meta Metadata, dbOrder []string) *Checkpoint {
	meta.Version = formatVersion
	order := append([]string(nil), dbOrder...)
	return &Checkpoint{
		Metadata:      meta,
		DatabaseOrder: order,
		completedSet:  map[string]struct{}{},
	}
}

// IdentityHash hashes an arbitrary identity string (an endpoint's Redact()
// output, typically) into the compact form used in Metadata.
func IdentityHash(identity string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(identity))
}

// Path returns the checkpoint file path for the (sourceHash, targetHash)
// pair under the user state directory.
func Path(sourceHash, targetHash string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", migerr.Wrap(migerr.Misconfiguration, err, "resolve user home directory")
	}
	dir := filepath.Join(home, stateDirName, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", migerr.Wrap(migerr.Misconfiguration, err, "create checkpoint directory")
	}
	name := fmt.Sprintf("%s_%s.toml", sourceHash, targetHash)
	return filepath.Join(dir, name), nil
}

// Load reads and parses a checkpoint file. A missing file returns
// (nil, nil); a parse error is returned so the caller may choose to
// discard it.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, migerr.Wrap(migerr.Misconfiguration, err, "read checkpoint file")
	}
	var cp Checkpoint
	if _, err := toml.Decode(string(data), &cp); err != nil {
		return nil, migerr.Wrap(migerr.FilterMismatch, err, "parse checkpoint file")
	}
	cp.completedSet = make(map[string]struct{}, len(cp.Completed))
	for _, db := range cp.Completed {
		cp.completedSet[db] = struct{}{}
	}
	return &cp, nil
}

// Validate reports whether cp's metadata and database name set match the
// expected values; on mismatch it returns a FilterMismatch error naming the
// differing field (§4.D "validate").
func Validate(cp *Checkpoint, expected Metadata, expectedOrder []string) error {
	if cp.Metadata.SourceHash != expected.SourceHash {
		return migerr.New(migerr.FilterMismatch, "checkpoint source endpoint does not match")
	}
	if cp.Metadata.TargetHash != expected.TargetHash {
		return migerr.New(migerr.FilterMismatch, "checkpoint target endpoint does not match")
	}
	if cp.Metadata.FilterFingerprint != expected.FilterFingerprint {
		return migerr.New(migerr.FilterMismatch, "checkpoint filter fingerprint does not match")
	}
	if cp.Metadata.DropExisting != expected.DropExisting {
		return migerr.New(migerr.FilterMismatch, "checkpoint drop_existing flag does not match")
	}
	if cp.Metadata.EnableSync != expected.EnableSync {
		return migerr.New(migerr.FilterMismatch, "checkpoint enable_sync flag does not match")
	}
	existing := make(map[string]struct{}, len(cp.DatabaseOrder))
	for _, db := range cp.DatabaseOrder {
		existing[db] = struct{}{}
	}
	wanted := make(map[string]struct{}, len(expectedOrder))
	for _, db := range expectedOrder {
		wanted[db] = struct{}{}
	}
	if len(existing) != len(wanted) {
		return migerr.New(migerr.FilterMismatch, "checkpoint database set does not match")
	}
	for db := range wanted {
		if _, ok := existing[db]; !ok {
			return migerr.Newf(migerr.FilterMismatch, "checkpoint database set does not match: missing %q", db)
		}
	}
	return nil
}

// IsCompleted reports whether db is in the completed set.
func (cp *Checkpoint) IsCompleted(db string) bool {
	if cp.completedSet == nil {
		return false
	}
	_, ok := cp.completedSet[db]
	return ok
}

// MarkCompleted adds db to the completed set; a no-op if already present.
func (cp *Checkpoint) MarkCompleted(db string) {
	if cp.completedSet == nil {
		cp.completedSet = map[string]struct{}{}
	}
	if _, ok := cp.completedSet[db]; ok {
		return
	}
	cp.completedSet[db] = struct{}{}
	cp.Completed = append(cp.Completed, db)
}

// Save writes cp atomically: encode to a sibling temp file, fsync, rename
// over path (§4.D "save").
func Save(path string, cp *Checkpoint) error {
	var w bytes.Buffer
	if err := toml.NewEncoder(&w).Encode(cp); err != nil {
		return migerr.Wrap(migerr.Misconfiguration, err, "encode checkpoint")
	}
	buf := w.Bytes()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return migerr.Wrap(migerr.Misconfiguration, err, "create temp checkpoint file")
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return migerr.Wrap(migerr.Misconfiguration, err, "write temp checkpoint file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return migerr.Wrap(migerr.Misconfiguration, err, "fsync temp checkpoint file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return migerr.Wrap(migerr.Misconfiguration, err, "close temp checkpoint file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return migerr.Wrap(migerr.Misconfiguration, err, "rename checkpoint file into place")
	}
	return nil
}

// Remove deletes the checkpoint file at path; idempotent.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return migerr.Wrap(migerr.Misconfiguration, err, "remove checkpoint file")
	}
	return nil
}
