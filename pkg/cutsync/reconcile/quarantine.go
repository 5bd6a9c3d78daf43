package reconcile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
)

// quarantine moves path into dir under a name derived from id, creating
// dir as needed, and returns the destination path. The bytes are kept for
// inspection rather than deleted.
func quarantine(path, dir string, id identity.Identity) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create quarantine directory: %w", err)
	}

	dest := filepath.Join(dir, fmt.Sprintf("%s-%d.pdf", id.Key(), time.Now().Unix()))
	if err := moveFile(path, dest); err != nil {
		return "", fmt.Errorf("failed to quarantine %s: %w", path, err)
	}
	return dest, nil
}

// moveFile renames src to dest, falling back to copy+remove when the two
// paths are on different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return os.Remove(src)
}
