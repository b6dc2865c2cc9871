package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileHash returns the hex SHA-256 of the file at path.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TamperFunc is called when the watched file no longer matches its baseline.
// got is empty when the file is missing.
type TamperFunc func(path, want, got string)

// TamperWatcher alerts when a file changes after start. The baseline hash
// is taken once; every later mismatch is reported, including a change
// back and forth.
type TamperWatcher struct {
	path     string
	baseline string
	watcher  *fsnotify.Watcher
	onTamper TamperFunc
	logger   *slog.Logger
}

// NewTamperWatcher records the current hash of path and starts watching its
// directory. Editors often replace files by rename, so the directory is
// watched rather than the file itself.
func NewTamperWatcher(path string, onTamper TamperFunc, logger *slog.Logger) (*TamperWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	baseline, err := FileHash(abs)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &TamperWatcher{
		path:     abs,
		baseline: baseline,
		watcher:  w,
		onTamper: onTamper,
		logger:   logger,
	}, nil
}

// Baseline returns the hash recorded at start.
func (t *TamperWatcher) Baseline() string {
	return t.baseline
}

// Run processes file events until ctx is done, then releases the watcher.
func (t *TamperWatcher) Run(ctx context.Context) {
	defer t.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			t.check()
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Error("config watcher error", "error", err)
		}
	}
}

func (t *TamperWatcher) check() {
	got, err := FileHash(t.path)
	if err != nil {
		got = ""
	}
	if got == t.baseline {
		return
	}
	t.logger.Warn("config file modified after start",
		"path", t.path,
		"want_sha256", t.baseline,
		"got_sha256", got,
	)
	if t.onTamper != nil {
		t.onTamper(t.path, t.baseline, got)
	}
}
