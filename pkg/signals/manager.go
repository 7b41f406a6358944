// Package signals installs SIGINT/SIGTERM/SIGUSR1 handling and ignores
// SIGPIPE, grounded on original_source/src/app/signal_manager.{h,cpp}:
// the original's async-signal-safe sig_atomic_t flags become atomic.Bool
// fields polled by the caller, and its "no other module may read raw OS
// state" rule (spec §9) is kept by routing every signal through this one
// package. The RAII register/restore shape maps to Manager/Stop, using
// cuemby-warren/cmd/warren/main.go's signal.Notify(sigCh, ...) pattern
// for the underlying os/signal plumbing.
package signals

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/libraz/mygram-db/pkg/log"
)

// Manager owns the process's signal handling. Only one should exist per
// process; a second Manager's Start would double-register the same
// os/signal channel.
type Manager struct {
	ch              chan os.Signal
	done            chan struct{}
	shutdownRequested atomic.Bool
	logReopenRequested atomic.Bool
}

// New allocates a Manager without installing any handlers; call Start to
// begin handling.
func New() *Manager {
	return &Manager{
		ch:   make(chan os.Signal, 1),
		done: make(chan struct{}),
	}
}

// Start registers SIGINT, SIGTERM, and SIGUSR1 handlers and ignores
// SIGPIPE (a broken client connection must not kill the whole process).
// It returns immediately; signals are handled on a background goroutine
// until Stop is called.
func (m *Manager) Start() {
	signal.Ignore(syscall.SIGPIPE)
	signal.Notify(m.ch, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)

	go func() {
		l := log.WithComponent("signals")
		for {
			select {
			case sig := <-m.ch:
				switch sig {
				case os.Interrupt, syscall.SIGTERM:
					l.Info().Str("signal", sig.String()).Msg("shutdown requested")
					m.shutdownRequested.Store(true)
				case syscall.SIGUSR1:
					l.Info().Msg("log reopen requested")
					m.logReopenRequested.Store(true)
				}
			case <-m.done:
				return
			}
		}
	}()
}

// Stop restores the default signal disposition and stops the handling
// goroutine.
func (m *Manager) Stop() {
	signal.Stop(m.ch)
	signal.Reset(syscall.SIGPIPE)
	close(m.done)
}

// ShutdownRequested reports whether SIGINT or SIGTERM has been received.
// It does not clear the flag: once shutdown is requested it stays
// requested for the rest of the process's life.
func (m *Manager) ShutdownRequested() bool {
	return m.shutdownRequested.Load()
}

// ConsumeLogReopenRequest reports whether SIGUSR1 has been received
// since the last call, clearing the flag so a caller polling in a loop
// (spec §6 "mv log log.1 && kill -USR1 pid") only reopens once per
// signal.
func (m *Manager) ConsumeLogReopenRequest() bool {
	return m.logReopenRequested.Swap(false)
}
