package config

import (
	"context"
	"crypto/sha256"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives every config that loads and validates after a change
// on disk. It runs on the watcher goroutine.
type ReloadFunc func(newCfg *Config)

// Watcher reloads the config file when it changes. fsnotify events give fast
// reaction for editors and atomic renames; a periodic content-hash check
// catches mounted volumes that swap a "..data" symlink without emitting
// inotify events.
type Watcher struct {
	path         string
	dir          string
	onReload     ReloadFunc
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

// NewWatcher returns a watcher for path. Nothing happens until Start.
func NewWatcher(path string, onReload ReloadFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:         path,
		dir:          filepath.Dir(path),
		onReload:     onReload,
		logger:       logger,
		debounce:     300 * time.Millisecond,
		pollInterval: 2 * time.Second,
	}
}

// fileState is the last observed fingerprint of a watched file.
type fileState struct {
	dataLink string
	hash     string
	target   string
}

func (fs *fileState) changed(path string) bool {
	if t := readlink(fs.dataLink); t != "" && t != fs.target {
		return true
	}
	return hashFile(path) != fs.hash
}

func (fs *fileState) capture(path string) {
	fs.hash = hashFile(path)
	fs.target = readlink(fs.dataLink)
}

// Start watches until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	_ = fw.Add(w.path)

	w.logger.Info("config watcher started", "path", w.path)

	state := &fileState{dataLink: filepath.Join(w.dir, "..data")}
	state.capture(w.path)

	var timer *time.Timer
	var fire <-chan time.Time

	poll := time.NewTicker(w.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
			// Atomic save-and-rename drops the old inode from the watch list.
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				_ = fw.Add(w.path)
			}

		case <-fire:
			fire = nil
			w.reload()
			state.capture(w.path)

		case <-poll.C:
			if state.changed(w.path) {
				state.capture(w.path)
				w.logger.Debug("config change detected by polling", "path", w.path)
				w.reload()
			}

		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", "error", werr)
		}
	}
}

// reload keeps the running config when the new file fails to load.
func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	w.onReload(cfg)
}

// Stop ends a running Start. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
}

// CertReloadFunc receives the certificate and key paths after either changed.
type CertReloadFunc func(certFile, keyFile string)

// CertWatcher polls a TLS certificate/key pair and reports changes.
type CertWatcher struct {
	certFile     string
	keyFile      string
	onChange     CertReloadFunc
	logger       *slog.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

// NewCertWatcher returns a watcher for the given pair. Nothing happens until Start.
func NewCertWatcher(certFile, keyFile string, onChange CertReloadFunc, logger *slog.Logger) *CertWatcher {
	return &CertWatcher{
		certFile:     certFile,
		keyFile:      keyFile,
		onChange:     onChange,
		logger:       logger,
		pollInterval: 2 * time.Second,
	}
}

// Start polls until ctx is canceled or Stop is called.
func (cw *CertWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	ctx, cw.cancel = context.WithCancel(ctx)
	cw.mu.Unlock()

	link := filepath.Join(filepath.Dir(cw.certFile), "..data")
	cert := &fileState{dataLink: link}
	key := &fileState{}
	cert.capture(cw.certFile)
	key.capture(cw.keyFile)

	ticker := time.NewTicker(cw.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !cert.changed(cw.certFile) && !key.changed(cw.keyFile) {
				continue
			}
			cert.capture(cw.certFile)
			key.capture(cw.keyFile)
			cw.logger.Info("TLS certificate change detected", "cert", cw.certFile)
			cw.onChange(cw.certFile, cw.keyFile)
		}
	}
}

// Stop ends a running Start. Safe to call more than once.
func (cw *CertWatcher) Stop() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.stopped {
		return
	}
	cw.stopped = true
	if cw.cancel != nil {
		cw.cancel()
	}
}

// hashFile returns the SHA-256 of the file contents following symlinks, or
// "" when the file cannot be read.
func hashFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return string(h.Sum(nil))
}

func readlink(path string) string {
	target, err := os.Readlink(path)
	if err != nil {
		return ""
	}
	return target
}
