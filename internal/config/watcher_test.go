package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func limitConfig(limit int64) string {
	return fmt.Sprintf("store:\n  backend: memory\nrate_limit:\n  limit: %d\n  window: \"60s\"\n", limit)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Start(ctx) }()
	time.Sleep(150 * time.Millisecond)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, limitConfig(5))

	var mu sync.Mutex
	var last *Config
	w := NewWatcher(path, func(c *Config) {
		mu.Lock()
		last = c
		mu.Unlock()
	}, discardLogger())
	w.debounce = 50 * time.Millisecond
	startWatcher(t, w)

	writeFile(t, path, limitConfig(7))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil && last.RateLimit.Limit == 7
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWatcher_InvalidConfigIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, limitConfig(5))

	var calls atomic.Int64
	w := NewWatcher(path, func(*Config) { calls.Add(1) }, discardLogger())
	w.debounce = 50 * time.Millisecond
	startWatcher(t, w)

	writeFile(t, path, "rate_limit:\n  limit: -3\n")
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int64(0), calls.Load())

	writeFile(t, path, limitConfig(9))
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 25*time.Millisecond)
}

func TestWatcher_PollingDetectsSymlinkSwap(t *testing.T) {
	dir := t.TempDir()
	v1 := filepath.Join(dir, "v1")
	v2 := filepath.Join(dir, "v2")
	require.NoError(t, os.Mkdir(v1, 0o755))
	require.NoError(t, os.Mkdir(v2, 0o755))
	writeFile(t, filepath.Join(v1, "config.yaml"), limitConfig(1))
	writeFile(t, filepath.Join(v2, "config.yaml"), limitConfig(2))

	data := filepath.Join(dir, "..data")
	require.NoError(t, os.Symlink("v1", data))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.Symlink(filepath.Join("..data", "config.yaml"), path))

	var got atomic.Int64
	w := NewWatcher(path, func(c *Config) { got.Store(c.RateLimit.Limit) }, discardLogger())
	w.pollInterval = 50 * time.Millisecond
	startWatcher(t, w)

	tmp := filepath.Join(dir, "..data_tmp")
	require.NoError(t, os.Symlink("v2", tmp))
	require.NoError(t, os.Rename(tmp, data))

	assert.Eventually(t, func() bool { return got.Load() == 2 }, 3*time.Second, 25*time.Millisecond)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "c.yaml"), func(*Config) {}, discardLogger())
	w.Stop()
	w.Stop()
}

func TestCertWatcher_DetectsChange(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "tls.crt")
	key := filepath.Join(dir, "tls.key")
	writeFile(t, cert, "cert-1")
	writeFile(t, key, "key-1")

	var calls atomic.Int64
	cw := NewCertWatcher(cert, key, func(string, string) { calls.Add(1) }, discardLogger())
	cw.pollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = cw.Start(ctx) }()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(0), calls.Load(), "no change, no callback")

	writeFile(t, key, "key-2")
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 25*time.Millisecond)

	cw.Stop()
	cw.Stop()
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	writeFile(t, path, "a")
	h1 := hashFile(path)
	assert.NotEmpty(t, h1)

	writeFile(t, path, "b")
	assert.NotEqual(t, h1, hashFile(path))

	assert.Empty(t, hashFile(filepath.Join(t.TempDir(), "missing")))
}
