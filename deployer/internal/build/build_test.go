package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSkipsEmptyCommand(t *testing.T) {
	r := NewRunner(Config{})
	out := r.Run(context.Background(), "  ", t.TempDir())
	assert.Equal(t, Skipped, out.Status)
	assert.NoError(t, out.Err)
}

func TestRunSucceedsWhenOutputExists(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(Config{Env: map[string]string{"BUILD_MARKER": "x"}})
	out := r.Run(context.Background(), "mkdir -p .open-next/assets && echo $BUILD_MARKER", dir)
	require.Equal(t, Succeeded, out.Status, out.Reason())
	assert.Equal(t, filepath.Join(dir, ".open-next"), out.OutputDir)
	assert.Contains(t, out.Output, "x")
}

func TestRunNonZeroExitIsNonFatal(t *testing.T) {
	r := NewRunner(Config{})
	out := r.Run(context.Background(), "echo nope >&2; exit 3", t.TempDir())
	assert.Equal(t, FailedNonFatal, out.Status)
	require.Error(t, out.Err)
	assert.Contains(t, out.Reason(), "code 3")
	assert.Contains(t, out.Output, "nope")
}

func TestRunMissingOutputIsNonFatal(t *testing.T) {
	r := NewRunner(Config{})
	out := r.Run(context.Background(), "true", t.TempDir())
	assert.Equal(t, FailedNonFatal, out.Status)
	assert.ErrorIs(t, out.Err, ErrMissingOutput)
}

func TestOutputPathHonoursAbsoluteDir(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(abs, 0o755))
	r := NewRunner(Config{OutputDir: abs})
	assert.Equal(t, abs, r.OutputPath("/somewhere"))
	out := r.Run(context.Background(), "true", t.TempDir())
	assert.Equal(t, Succeeded, out.Status)
}
