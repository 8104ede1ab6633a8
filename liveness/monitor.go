// Package liveness detects processes that stop sending heartbeats.
//
// A Monitor tracks two sets: the processes registered for monitoring and
// the processes that pinged since the last successful check. It never
// remediates; every failure is handed to a FailureHandler.
package liveness

import (
	"sort"
	"sync"
	"time"

	"tigon-control-plane/clock"
	"tigon-control-plane/metrics"
	"tigon-control-plane/service"

	"github.com/rs/zerolog/log"
)

const (
	DefaultInitializationTimeout = 20 * time.Second
	DefaultHeartbeatFrequency    = 2 * time.Second
)

type Option func(*Monitor)

// WithInitializationTimeout sets the grace period after Start during which
// at least one process must register.
func WithInitializationTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.initTimeout = d }
}

// WithHeartbeatFrequency sets the interval between periodic checks.
func WithHeartbeatFrequency(d time.Duration) Option {
	return func(m *Monitor) { m.heartbeat = d }
}

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

type Monitor struct {
	handler     FailureHandler
	initTimeout time.Duration
	heartbeat   time.Duration
	clock       clock.Clock

	model *idSet
	pings *idSet

	lifecycle *service.Lifecycle

	// timeline serializes the grace and periodic checks.
	timeline sync.Mutex

	mu       sync.Mutex
	grace    clock.Timer
	periodic clock.Timer
	stopped  bool
}

func NewMonitor(handler FailureHandler, opts ...Option) *Monitor {
	m := &Monitor{
		handler:     handler,
		initTimeout: DefaultInitializationTimeout,
		heartbeat:   DefaultHeartbeatFrequency,
		clock:       clock.Real(),
		model:       newIDSet(),
		pings:       newIDSet(),
		lifecycle:   service.NewLifecycle("liveness-monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds id to the set of monitored processes. It may be called
// at any time, including before Start.
func (m *Monitor) Register(id ProcessID) {
	m.model.add(id)
	metrics.HeartbeatsTotal.WithLabelValues("register").Inc()
}

// Ping records a heartbeat from id. The id does not need to be registered.
func (m *Monitor) Ping(id ProcessID) {
	m.pings.add(id)
	metrics.HeartbeatsTotal.WithLabelValues("ping").Inc()
}

func (m *Monitor) State() service.State { return m.lifecycle.State() }

func (m *Monitor) Lifecycle() *service.Lifecycle { return m.lifecycle }

// Registered returns the monitored processes, sorted.
func (m *Monitor) Registered() []ProcessID { return sorted(m.model.list()) }

// Pending returns the processes that pinged since the last successful check, sorted.
func (m *Monitor) Pending() []ProcessID { return sorted(m.pings.list()) }

// Snapshot is the diagnostic view served on /debug/liveness.
type Snapshot struct {
	State      string      `json:"state"`
	Registered []ProcessID `json:"registered"`
	Pending    []ProcessID `json:"pending"`
}

func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{
		State:      m.State().String(),
		Registered: m.Registered(),
		Pending:    m.Pending(),
	}
}

// Start schedules the grace check at InitializationTimeout and the periodic
// check at InitializationTimeout+HeartbeatFrequency, repeating every
// HeartbeatFrequency afterwards.
func (m *Monitor) Start() error {
	if err := m.lifecycle.Transition(service.StateStarting); err != nil {
		return err
	}

	m.mu.Lock()
	m.grace = m.clock.AfterFunc(m.initTimeout, m.graceCheck)
	m.periodic = m.clock.AfterFunc(m.initTimeout+m.heartbeat, m.periodicCheck)
	m.mu.Unlock()

	log.Info().
		Dur("initializationTimeout", m.initTimeout).
		Dur("heartbeatFrequency", m.heartbeat).
		Msg("monitor: started")
	return m.lifecycle.Transition(service.StateRunning)
}

// Stop cancels every outstanding check, including a pending grace check,
// and clears the collected pings. Stopping a monitor that was never started
// is a no-op.
func (m *Monitor) Stop() error {
	if m.lifecycle.State() == service.StateStopped {
		return nil
	}
	if err := m.lifecycle.Transition(service.StateStopping); err != nil {
		return err
	}

	m.mu.Lock()
	m.stopped = true
	if m.grace != nil {
		m.grace.Stop()
	}
	if m.periodic != nil {
		m.periodic.Stop()
	}
	m.mu.Unlock()

	m.pings.clear()
	log.Info().Msg("monitor: stopped")
	return m.lifecycle.Transition(service.StateTerminated)
}

func (m *Monitor) graceCheck() {
	m.timeline.Lock()
	defer m.timeline.Unlock()
	if m.isStopped() {
		return
	}

	if m.model.size() == 0 {
		log.Info().Dur("initializationTimeout", m.initTimeout).Msg("monitor: heartbeat detection failed; no process registered")
		m.notify(newNoRegistrations(m.clock.Now()))
	}
}

func (m *Monitor) periodicCheck() {
	m.timeline.Lock()
	defer m.timeline.Unlock()
	if m.isStopped() {
		return
	}

	if missing := m.checkState(); len(missing) > 0 {
		m.notify(newMissing(missing, m.clock.Now()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.periodic = m.clock.AfterFunc(m.heartbeat, m.periodicCheck)
	}
}

// checkState returns the registered processes that did not ping since the
// last successful check. Pings are cleared only on success so they keep
// counting toward the next check after a failure.
func (m *Monitor) checkState() []ProcessID {
	missing := m.model.minus(m.pings)
	if len(missing) > 0 {
		log.Info().Int("missing", len(missing)).Msg("monitor: heartbeat detection failed")
		return missing
	}
	m.pings.clear()
	return nil
}

func (m *Monitor) notify(r Report) {
	metrics.LivenessReportsTotal.WithLabelValues(r.Kind.String()).Inc()
	m.handler.NotifyFailure(r)
}

func (m *Monitor) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func sorted(ids []ProcessID) []ProcessID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
