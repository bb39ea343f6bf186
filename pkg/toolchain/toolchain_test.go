package toolchain

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), DefaultFile)
	err := os.WriteFile(path, []byte(content), 0660)
	if err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
cc: /opt/cross/bin/i686-elf-gcc
ar: /opt/cross/bin/i686-elf-ar
triple: i686-elf
include: libc/include
cflags:
  - -m32
  - -ffreestanding
text_base: 0x1000
archive:
  url: https://example.org/toolchain.tar.xz
  sha256: abc123
  dest: .toolchain
  strip: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if cfg.CC != "/opt/cross/bin/i686-elf-gcc" {
		t.Errorf("unexpected cc: %s", cfg.CC)
	}

	if cfg.TextBase != 0x1000 {
		t.Errorf("unexpected text base: %#x", cfg.TextBase)
	}

	if len(cfg.CFlags) != 2 {
		t.Errorf("unexpected cflags: %v", cfg.CFlags)
	}

	if cfg.Archive == nil || cfg.Archive.Strip != 1 {
		t.Errorf("unexpected archive section: %+v", cfg.Archive)
	}
}

func TestLoadAppliesDefaultCFlags(t *testing.T) {
	path := writeConfig(t, `
cc: /usr/bin/cc
ar: /usr/bin/ar
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if len(cfg.CFlags) != len(DefaultCFlags) {
		t.Fatalf("expected the default cflags, got %v", cfg.CFlags)
	}

	if cfg.TextBase != 0 {
		t.Errorf("text base should default to zero, got %#x", cfg.TextBase)
	}
}

func TestLoadRejectsRelativePaths(t *testing.T) {
	path := writeConfig(t, `
cc: bin/cc
ar: /usr/bin/ar
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected an error for the relative cc path")
	}
}

func TestLoadRejectsMissingTools(t *testing.T) {
	path := writeConfig(t, `cc: /usr/bin/cc`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected an error for the missing ar entry")
	}
}

func TestCheckTools(t *testing.T) {
	dir := t.TempDir()
	cc := filepath.Join(dir, "cc")
	ar := filepath.Join(dir, "ar")

	cfg := &Config{CC: cc, AR: ar}
	if err := cfg.CheckTools(); err == nil {
		t.Fatal("expected an error while the binaries are missing")
	}

	for _, tool := range []string{cc, ar} {
		err := os.WriteFile(tool, []byte("#!/bin/sh\n"), 0770)
		if err != nil {
			t.Fatalf("failed to create %s: %v", tool, err)
		}
	}

	if err := cfg.CheckTools(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
