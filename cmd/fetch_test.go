package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenExtractorDestStripsLeadingDirs(t *testing.T) {
	dir := t.TempDir()

	handle, dest, err := openExtractorDest(dir, filepath.Join("toolchain", "bin", "cc"), 1)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if handle == nil {
		t.Fatal("expected a file handle")
	}
	handle.Close()

	want := filepath.Join(dir, "bin", "cc")
	if dest != want {
		t.Errorf("expected %s, got %s", want, dest)
	}

	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected the destination file to exist: %v", err)
	}
}

func TestOpenExtractorDestSkipsRootEntry(t *testing.T) {
	dir := t.TempDir()

	handle, _, err := openExtractorDest(dir, "toolchain", 1)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if handle != nil {
		handle.Close()
		t.Fatal("expected the root entry to be skipped")
	}
}

func TestOpenExtractorDestRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()

	for _, item := range []string{"../evil", filepath.Join("toolchain", "..", "..", "evil")} {
		handle, _, err := openExtractorDest(dir, item, 0)
		if handle != nil {
			handle.Close()
		}
		if err == nil {
			t.Errorf("expected an error for entry %s", item)
		}
	}
}
