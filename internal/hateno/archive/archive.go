// Package archive compresses and extracts the .tar.bz2 archives the
// Manager's catalog stores one per simulation. The standard library's
// compress/bzip2 is read-only, so this shells out to the system tar
// binary, following the teacher's own fork/exec wrapper idiom used
// throughout its internal/*/exec packages.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// DefaultTimeout bounds how long a single tar invocation may run.
const DefaultTimeout = 5 * time.Minute

// Compress creates a .tar.bz2 archive at archivePath containing the
// contents of srcDir (srcDir itself is not included as a path prefix;
// its children are archived at the top level, matching Python's
// tarfile.add(dir, arcname='.') convention).
func Compress(ctx context.Context, archivePath, srcDir string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tar", "-cjf", archivePath, "-C", srcDir, ".")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("archive: compressing %q: %w: %s", archivePath, err, stderr.String())
	}
	return nil
}

// Extract unpacks the .tar.bz2 archive at archivePath into destDir,
// which must already exist.
func Extract(ctx context.Context, archivePath, destDir string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tar", "-xjf", archivePath, "-C", destDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("archive: extracting %q: %w: %s", archivePath, err, stderr.String())
	}
	return nil
}
