package daemon

import (
	"context"
	"time"

	"github.com/harun/vprtutor/internal/observability"
)

const eventLoopInterval = 30 * time.Second

// EventLoop handles periodic maintenance while the daemon runs
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: eventLoopInterval,
	}
}

// Run runs the event loop until ctx is done
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks publishes the session gauge and logs queue stats
func (e *EventLoop) processTasks() {
	sessions := e.daemon.store.Count()
	observability.SetActiveSessions(sessions)

	stats := e.daemon.queue.Stats()
	event := e.daemon.logger.Debug().Int("sessions", sessions)
	if stats.Queued > 0 || stats.Running > 0 {
		event = event.
			Int("lanes", stats.Lanes).
			Int("queued", stats.Queued).
			Int("running", stats.Running)
	}
	event.Msg("Maintenance tick")
}

// HandleShutdown waits for queued and running events to finish
func (e *EventLoop) HandleShutdown(timeout time.Duration) {
	e.daemon.logger.Info().Msg("Handling graceful shutdown")

	if e.daemon.queue.WaitForActive(timeout) {
		e.daemon.logger.Info().Msg("All active tasks completed")
		return
	}
	e.daemon.logger.Warn().Dur("timeout", timeout).Msg("Shutting down with tasks still pending")
}
