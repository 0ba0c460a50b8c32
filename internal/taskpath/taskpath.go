// Package taskpath validates the local file paths an UploadTask is
// handed, before any encoding work begins — adapted from
// internal/filenameauth's role of gatekeeping untrusted path input,
// regrounded on upload_manager/mod.rs's upload() checks (does the path
// exist, is it absolute, is it a regular file, does it carry a file
// name) rather than filename-MAC authentication, which has no
// counterpart in this domain.
package taskpath

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
)

// Validate checks that path is usable as an UploadTask's source file:
// absolute, present, a regular file, and named (not "/" or "."). It
// returns the file's size on success, sparing the caller a second
// stat.
func Validate(path string) (size uint64, err error) {
	if !filepath.IsAbs(path) {
		return 0, fmt.Errorf("taskpath: %q is not an absolute path: %w", path, dhterr.ErrInvalid)
	}
	if filepath.Base(path) == "." || filepath.Base(path) == string(filepath.Separator) {
		return 0, fmt.Errorf("taskpath: %q has no file name: %w", path, dhterr.ErrInvalid)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("taskpath: stat %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("taskpath: %q is not a regular file: %w", path, dhterr.ErrInvalid)
	}
	return uint64(info.Size()), nil
}

// ValidateWorkingDir checks that dir exists and is a directory — the
// destination an UploadTask's block-files or a DownloadTask's
// reconstituted output is written under.
func ValidateWorkingDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("taskpath: stat working directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("taskpath: %q is not a directory: %w", dir, dhterr.ErrInvalid)
	}
	return nil
}
