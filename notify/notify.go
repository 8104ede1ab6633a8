// Package notify provides liveness.FailureHandler implementations the
// host process composes to act on detected failures.
package notify

import (
	"context"
	"sync"
	"time"

	"tigon-control-plane/heartbeat"
	"tigon-control-plane/liveness"

	"github.com/rs/zerolog/log"
)

// Log writes every report at error level.
type Log struct{}

func (Log) NotifyFailure(r liveness.Report) {
	ev := log.Error().Str("kind", r.Kind.String()).Time("detectedAt", r.DetectedAt)
	if r.Kind == liveness.Missing {
		ids := make([]string, len(r.Missing))
		for i, id := range r.Missing {
			ids[i] = string(id)
		}
		ev = ev.Strs("missing", ids)
	}
	ev.Msg("liveness failure detected")
}

// Multi fans a report out to every handler in order.
type Multi []liveness.FailureHandler

func (m Multi) NotifyFailure(r liveness.Report) {
	for _, h := range m {
		h.NotifyFailure(r)
	}
}

// Publish sends reports through a heartbeat.Publisher. It blocks until the
// publish completes, so wrap it in Async when used from the monitor.
type Publish struct {
	Publisher heartbeat.Publisher
	Timeout   time.Duration
}

func (p Publish) NotifyFailure(r liveness.Report) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Publisher.PublishFailure(ctx, heartbeat.NewFailureEnvelope(r)); err != nil {
		log.Error().Err(err).Str("kind", r.Kind.String()).Msg("notify: failed to publish failure report")
	}
}

// Async hands reports to next on a background goroutine so the caller
// returns immediately. Reports are dropped when the buffer is full.
type Async struct {
	next    liveness.FailureHandler
	reports chan liveness.Report
	done    chan struct{}

	// mu guards closed and the send on reports against Close.
	mu     sync.Mutex
	closed bool
}

func NewAsync(next liveness.FailureHandler, buffer int) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	a := &Async{
		next:    next,
		reports: make(chan liveness.Report, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for r := range a.reports {
		a.next.NotifyFailure(r)
	}
}

// NotifyFailure enqueues r. Reports arriving after Close are dropped.
func (a *Async) NotifyFailure(r liveness.Report) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		log.Warn().Str("kind", r.Kind.String()).Msg("notify: report after close; dropping report")
		return
	}
	select {
	case a.reports <- r:
	default:
		log.Warn().Str("kind", r.Kind.String()).Msg("notify: report buffer full; dropping report")
	}
}

// Close drains buffered reports and stops the worker.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.reports)
	}
	a.mu.Unlock()
	<-a.done
}
