// Package watcher observes the configured case directory and registers new
// case subdirectories with the State Store (spec §4.2).
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/radonc/mqsupervisor/internal/store"
)

// Registrar is the subset of internal/store.Store the watcher needs.
type Registrar interface {
	GetCaseByPath(path string) (store.Case, error)
	AddCase(path string, priority int) (int64, error)
}

// Watcher observes WatchDir for new case subdirectories, waits out a
// quiescence period per arrival, then registers each with the store.
type Watcher struct {
	WatchDir           string
	Store              Registrar
	QuiescencePeriod   time.Duration
	DefaultPriority    int
	Log                *zap.Logger
}

// New constructs a Watcher.
func New(watchDir string, st Registrar, quiescence time.Duration, defaultPriority int, log *zap.Logger) *Watcher {
	return &Watcher{
		WatchDir:         watchDir,
		Store:            st,
		QuiescencePeriod: quiescence,
		DefaultPriority:  defaultPriority,
		Log:              log,
	}
}

// InitialScan walks WatchDir once and registers every pre-existing
// subdirectory not already recorded (spec §4.2). Per-entry registration
// failures are logged and skipped, never fatal.
func (w *Watcher) InitialScan() error {
	entries, err := os.ReadDir(w.WatchDir)
	if err != nil {
		return fmt.Errorf("watcher: initial scan: read dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		w.registerIfNew(filepath.Join(w.WatchDir, entry.Name()))
	}
	return nil
}

// Run watches WatchDir for new subdirectories until ctx is canceled. Each
// creation event is debounced by QuiescencePeriod before registration, run
// in its own goroutine so a slow quiescence wait on one case never delays
// observing the next.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: new fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.WatchDir); err != nil {
		return fmt.Errorf("watcher: add watch dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || !info.IsDir() {
				continue
			}
			go w.awaitQuiescenceAndRegister(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if w.Log != nil {
				w.Log.Warn("watcher fsnotify error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) awaitQuiescenceAndRegister(ctx context.Context, path string) {
	select {
	case <-time.After(w.QuiescencePeriod):
	case <-ctx.Done():
		return
	}
	w.registerIfNew(path)
}

// registerIfNew adds path as a case unless it is already recorded. Errors
// are logged, never propagated (spec §4.2: "never fatal").
func (w *Watcher) registerIfNew(path string) {
	_, err := w.Store.GetCaseByPath(path)
	if err == nil {
		return // duplicate, silently ignored
	}
	if !errors.Is(err, store.ErrNotFound) {
		if w.Log != nil {
			w.Log.Error("watcher: lookup case by path failed", zap.String("path", path), zap.Error(err))
		}
		return
	}

	id, err := w.Store.AddCase(path, w.DefaultPriority)
	if err != nil {
		if errors.Is(err, store.ErrDuplicatePath) {
			return
		}
		if w.Log != nil {
			w.Log.Error("watcher: register case failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if w.Log != nil {
		w.Log.Info("case registered", zap.Int64("case_id", id), zap.String("path", path))
	}
}
