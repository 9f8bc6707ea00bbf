package cli

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Start runs every long-lived component to completion: the case watcher,
// the status API's HTTP listener, and the Supervisor Loop. It blocks until
// ctx is cancelled, then drains each component in turn.
func (s *Supervisor) Start(ctx context.Context) error {
	// 1. Register any cases already sitting in the watch directory before
	// the fsnotify watch begins (spec §4.2's "initial scan").
	if err := s.Watcher.InitialScan(); err != nil {
		return err
	}

	var wg sync.WaitGroup

	// 2. Case watcher.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Watcher.Run(ctx); err != nil {
			s.Log.Warn("case watcher stopped", zap.Error(err))
		}
	}()

	// 3. Status API HTTP server.
	httpServer := &http.Server{Addr: s.Cfg.StatusAPIAddr, Handler: s.StatusAPI.Handler()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Log.Warn("status API server stopped", zap.Error(err))
		}
	}()

	// 4. Supervisor Loop — blocks until ctx is cancelled.
	loopErr := s.Loop.Run(ctx)

	// 5. Drain the HTTP server and watcher now that the loop has returned
	// control (the loop's own shutdown() already drained the worker pool).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.Log.Warn("status API server shutdown error", zap.Error(err))
	}

	wg.Wait()
	return loopErr
}
