package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// SignalHandler cancels a context and runs shutdown callbacks on the first
// SIGINT/SIGTERM, so the supervisor's tick loop and status server get one
// chance to drain before the process exits.
type SignalHandler struct {
	signals  chan os.Signal
	shutdown chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	log      *zap.Logger

	mu         sync.Mutex
	onShutdown []func()
}

// NewSignalHandler creates a handler that cancels ctx on the first caught
// signal.
func NewSignalHandler(cancel context.CancelFunc, log *zap.Logger) *SignalHandler {
	return &SignalHandler{
		signals:  make(chan os.Signal, 1),
		shutdown: make(chan struct{}),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
		log:      log,
	}
}

// Start begins listening for SIGINT/SIGTERM.
func (h *SignalHandler) Start() {
	signal.Notify(h.signals, syscall.SIGINT, syscall.SIGTERM)

	started := make(chan struct{})
	go func() {
		defer close(h.done)
		close(started)

		select {
		case sig := <-h.signals:
			if h.log != nil {
				h.log.Info("received shutdown signal", zap.String("signal", sig.String()))
			}
			if h.cancel != nil {
				h.cancel()
			}

			h.mu.Lock()
			callbacks := make([]func(), len(h.onShutdown))
			copy(callbacks, h.onShutdown)
			h.mu.Unlock()

			for _, fn := range callbacks {
				fn()
			}
			close(h.shutdown)
		case <-h.stopCh:
			return
		}
	}()
	<-started
}

// OnShutdown registers a callback run (in registration order) once a signal
// is caught.
func (h *SignalHandler) OnShutdown(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onShutdown = append(h.onShutdown, fn)
}

// Wait blocks until a signal has been caught and every shutdown callback has
// run.
func (h *SignalHandler) Wait() {
	<-h.shutdown
}

// Stop releases the signal handler without waiting for a signal (tests, or
// an orderly exit that wasn't signal-triggered).
func (h *SignalHandler) Stop() {
	signal.Stop(h.signals)
	h.stopOnce.Do(func() { close(h.stopCh) })
	select {
	case <-h.done:
	case <-time.After(100 * time.Millisecond):
	}
}
