package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWatcher_SignalsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "web.cue")
	require.NoError(t, os.WriteFile(path, []byte("subsystem: web: {}\n"), 0o644))

	w, err := NewWatcher(path, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	changes, err := w.Start()
	require.NoError(t, err)

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.cue"), []byte("x: 1\n"), 0o644))
	select {
	case <-changes:
		t.Fatal("Expected no signal for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("subsystem: web: native: false\n"), 0o644))
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a change signal")
	}
}
