// Package tempstore implements managed temp storage (spec §4.E):
// timestamped work directories that survive a SIGKILL, with explicit and
// startup-sweep cleanup.
package tempstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/serenorg/pgreplicator/internal/migerr"
)

// Prefix is the documented managed-temp-dir name prefix (§3 ManagedTempDir,
// §8 invariant 9).
const Prefix = "postgres-seren-replicator-"

// Dir is a created managed temp directory.
type Dir struct {
	Path string
}

// Create returns a new timestamped directory under the system temp root,
// named "postgres-seren-replicator-{unix_ts}-{rand32hex}".
func Create() (*Dir, error) {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	name := fmt.Sprintf("%s%d-%s", Prefix, time.Now().Unix(), suffix)
	path := filepath.Join(os.TempDir(), name)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, migerr.Wrap(migerr.Misconfiguration, err, "create managed temp directory")
	}
	return &Dir{Path: path}, nil
}

// Remove deletes the directory, refusing to touch anything whose base name
// does not match Prefix (§4.E safety net).
func Remove(path string) error {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, Prefix) {
		return migerr.Newf(migerr.Misconfiguration, "refusing to remove %q: does not match managed temp dir prefix", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return migerr.Wrap(migerr.Misconfiguration, err, "remove managed temp directory")
	}
	return nil
}

// Sweep removes managed temp directories under the system temp root whose
// modification time is older than maxAge. Every error is logged by the
// caller via the returned slice, never raised — temp cleanup must not
// prevent the process from starting.
func Sweep(maxAge time.Duration) []error {
	root := os.TempDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return []error{migerr.Wrap(migerr.Misconfiguration, err, "read system temp root")}
	}

	var errs []error
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), Prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = append(errs, migerr.Wrapf(migerr.Misconfiguration, err, "stat %q during sweep", entry.Name()))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := Remove(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
