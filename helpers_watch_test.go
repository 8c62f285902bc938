// dcdcomplete/helpers_watch_test.go
package dcdcomplete

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchConfigFile(t *testing.T) {
	c := newTestCompleter(t, &fakeRunner{}, nil)
	path := filepath.Join(t.TempDir(), "config.toml")

	var (
		mu      sync.Mutex
		applied []Config
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.WatchConfigFile(ctx, path, func(cfg Config) {
		mu.Lock()
		applied = append(applied, cfg)
		mu.Unlock()
	}))

	t.Run("Second watcher is rejected", func(t *testing.T) {
		assert.Error(t, c.WatchConfigFile(ctx, path, nil))
	})

	t.Run("Valid change is applied", func(t *testing.T) {
		content := fmt.Sprintf("binary_path = %q\nextra_args = [\"--port\", \"9167\"]\nfetch_docs = true\n", c.Binary())
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		require.Eventually(t, func() bool {
			return c.GetCurrentConfig().FetchDocs
		}, 5*time.Second, 20*time.Millisecond)
		assert.Equal(t, []string{"--port", "9167"}, c.GetCurrentConfig().ExtraArgs)

		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, applied)
		assert.True(t, applied[len(applied)-1].FetchDocs)
	})

	t.Run("Invalid change is ignored", func(t *testing.T) {
		before := c.GetCurrentConfig()
		content := fmt.Sprintf("binary_path = %q\ntool_timeout_seconds = 500\n", c.Binary())
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		assert.Never(t, func() bool {
			return c.GetCurrentConfig().ToolTimeoutSeconds != before.ToolTimeoutSeconds
		}, 300*time.Millisecond, 20*time.Millisecond)
		assert.Equal(t, before, c.GetCurrentConfig())
	})

	t.Run("Other files in the directory are ignored", func(t *testing.T) {
		before := c.GetCurrentConfig()
		require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.toml"), []byte("fetch_docs = false\n"), 0o644))
		assert.Never(t, func() bool {
			return !c.GetCurrentConfig().FetchDocs
		}, 300*time.Millisecond, 20*time.Millisecond)
		assert.Equal(t, before, c.GetCurrentConfig())
	})

	require.NoError(t, c.Close())
	require.NoError(t, c.WatchConfigFile(ctx, path, nil), "a new watcher may start after Close")
}

func TestWatchConfigFile_MissingDirectory(t *testing.T) {
	c := newTestCompleter(t, &fakeRunner{}, nil)
	err := c.WatchConfigFile(context.Background(), filepath.Join(t.TempDir(), "absent", "config.toml"), nil)
	assert.ErrorIs(t, err, ErrConfig)
}
