package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

func TestCacheRoundtrip(t *testing.T) {
	dir, script := writeScript(t, sampleScript)

	targets, _, err := RunScript(context.Background(), script, dir, map[string]string{}, true)
	if err != nil {
		t.Fatalf("failed to parse script: %v", err)
	}

	cachePath := filepath.Join(dir, ".cache")
	options := map[string]string{"cc": "/usr/bin/cc"}

	err = WriteCache(cachePath, script, options, targets)
	if err != nil {
		t.Fatalf("failed to write cache: %v", err)
	}

	cachedOptions, cachedTargets, err := ReadCache(cachePath, script)
	if err != nil {
		t.Fatalf("failed to read cache: %v", err)
	}

	if cachedOptions["cc"] != "/usr/bin/cc" {
		t.Errorf("unexpected options: %v", cachedOptions)
	}

	if len(cachedTargets) != len(targets) {
		t.Fatalf("expected %d targets, got %d", len(targets), len(cachedTargets))
	}

	for name := range targets {
		if _, ok := cachedTargets[name]; !ok {
			t.Errorf("target %s missing from cache", name)
		}
	}
}

func TestCacheStaleAfterScriptChange(t *testing.T) {
	dir, script := writeScript(t, sampleScript)

	targets, _, err := RunScript(context.Background(), script, dir, map[string]string{}, true)
	if err != nil {
		t.Fatalf("failed to parse script: %v", err)
	}

	cachePath := filepath.Join(dir, ".cache")
	err = WriteCache(cachePath, script, map[string]string{}, targets)
	if err != nil {
		t.Fatalf("failed to write cache: %v", err)
	}

	future := time.Now().Add(time.Hour)
	err = os.Chtimes(script, future, future)
	if err != nil {
		t.Fatalf("failed to bump the script mtime: %v", err)
	}

	_, _, err = ReadCache(cachePath, script)
	if !eris.Is(err, ErrCacheStale) {
		t.Fatalf("expected ErrCacheStale, got %v", err)
	}
}
