// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package intake watches the input directory so the API can list the
// media files available for batch job creation without rescanning on
// every request.
package intake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/platform/fs"
)

// allowedExtensions is the media allowlist shared by upload and batch
// intake. Anything else is rejected before a job is created.
var allowedExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".avi": true,
	".webm": true, ".flv": true, ".ts": true, ".m4v": true,
	".mp3": true, ".wav": true, ".m4a": true, ".aac": true,
	".flac": true, ".ogg": true, ".opus": true,
}

// AllowedExt reports whether the file name carries a supported media
// extension.
func AllowedExt(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// File is one intake directory entry.
type File struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Watcher maintains a live view of the input directory.
type Watcher struct {
	dir string
	fsw *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]File
}

// NewWatcher scans dir (creating it if needed) and starts watching it.
// Run must be called to keep the view fresh.
func NewWatcher(dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("intake: create input dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("intake: start watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("intake: watch %s: %w", dir, err)
	}

	w := &Watcher{dir: dir, fsw: fsw, files: make(map[string]File)}
	if err := w.rescan(); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run consumes filesystem events until the context ends.
func (w *Watcher) Run(ctx context.Context) error {
	logger := log.WithComponent("intake")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			switch {
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Rename):
				w.refresh(ev.Name)
			case ev.Op.Has(fsnotify.Remove):
				w.forget(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watch error, rescanning")
			if err := w.rescan(); err != nil {
				logger.Warn().Err(err).Msg("rescan failed")
			}
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Files returns the current view, sorted by name.
func (w *Watcher) Files() []File {
	w.mu.Lock()
	out := make([]File, 0, len(w.files))
	for _, f := range w.files {
		out = append(out, f)
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve maps a bare file name onto its confined absolute path,
// verifying the file exists and is an allowed media type.
func (w *Watcher) Resolve(name string) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("intake: %q is not a bare file name", name)
	}
	if !AllowedExt(name) {
		return "", fmt.Errorf("intake: unsupported file type %q", filepath.Ext(name))
	}
	path, err := fs.ConfineRelPath(w.dir, name)
	if err != nil {
		return "", fmt.Errorf("intake: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("intake: %s: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("intake: %s is a directory", name)
	}
	return path, nil
}

func (w *Watcher) rescan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("intake: scan input dir: %w", err)
	}
	fresh := make(map[string]File)
	for _, entry := range entries {
		if entry.IsDir() || !AllowedExt(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		fresh[entry.Name()] = File{
			Name:       entry.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		}
	}
	w.mu.Lock()
	w.files = fresh
	w.mu.Unlock()
	return nil
}

func (w *Watcher) refresh(path string) {
	name := filepath.Base(path)
	if !AllowedExt(name) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		w.forget(path)
		return
	}
	w.mu.Lock()
	w.files[name] = File{Name: name, SizeBytes: info.Size(), ModifiedAt: info.ModTime().UTC()}
	w.mu.Unlock()
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.files, filepath.Base(path))
	w.mu.Unlock()
}
