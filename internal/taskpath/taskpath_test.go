package taskpath

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateRejectsRelativePath(t *testing.T) {
	if _, err := Validate("relative/path.bin"); err == nil {
		t.Error("expected an error for a relative path")
	}
}

func TestValidateRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := Validate(dir); err == nil {
		t.Error("expected an error for a directory")
	}
}

func TestValidateRejectsMissingFile(t *testing.T) {
	if _, err := Validate(filepath.Join(t.TempDir(), "does-not-exist.bin")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestValidateAcceptsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	size, err := Validate(path)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if size != 5 {
		t.Errorf("size = %d, want 5", size)
	}
}

func TestValidateWorkingDir(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateWorkingDir(dir); err != nil {
		t.Fatalf("ValidateWorkingDir: %v", err)
	}

	file := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := ValidateWorkingDir(file); err == nil {
		t.Error("expected an error when the path is a regular file, not a directory")
	}
}
