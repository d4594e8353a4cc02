// Package connmgr implements the Connection Manager: the status
// machine, timers, and transport session lifecycle described in
// SPEC_FULL.md §4.5. It owns the Queue and the status field; it never
// parses wire bytes itself.
package connmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/nmeshed/nmeshed-go/internal/queue"
	"github.com/nmeshed/nmeshed-go/internal/transport"
	"github.com/nmeshed/nmeshed-go/pkg/log"
)

// FrameResult tells the Manager what kind of message a frame handler
// just applied, so it can drive status transitions (only FrameInit
// matters to the state machine) without parsing bytes itself.
type FrameResult int

const (
	FrameIgnored FrameResult = iota
	FrameOp
	FrameInit
	FrameSignal
)

// FrameHandler is supplied by the facade; it wraps the engine's
// MergeRemote and reports back what happened.
type FrameHandler func(frame []byte) FrameResult

// TransportFactory builds a fresh Transporter for one connect attempt;
// a new instance is required per attempt per the cleanup invariant.
type TransportFactory func() transport.Transporter

// Config mirrors the options in SPEC_FULL.md §6 relevant to this
// subsystem; internal/config is responsible for defaulting and
// validating these before constructing a Manager.
type Config struct {
	ServerURL            string
	WorkspaceID          string
	Token                string
	UserID               string
	SyncMode             string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	MaxReconnectDelay    time.Duration
	ConnectionTimeout    time.Duration // 0 disables
	HeartbeatInterval    time.Duration // 0 disables
	Debug                bool
}

// Manager owns one transport session at a time, the Queue, and the
// status field, matching spec §5's "three shared mutable resources"
// division of responsibility.
type Manager struct {
	cfg          Config
	newTransport TransportFactory
	onFrame      FrameHandler
	q            *queue.Queue
	scheduler    gocron.Scheduler

	mu           sync.Mutex
	status       Status
	statusSubs   []StatusListener
	tr           transport.Transporter
	attempt      int
	destroyed    bool
	heartbeatJob gocron.Job
	reconnectJob gocron.Job
}

// New constructs a Manager in StatusIdle and starts its background
// scheduler (heartbeat and reconnect jobs are registered against it
// lazily, following internal/taskManager's gocron idiom of one
// scheduler per owning component).
func New(cfg Config, newTransport TransportFactory, onFrame FrameHandler, q *queue.Queue) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("connmgr: could not create scheduler: %w", err)
	}
	m := &Manager{
		cfg:          cfg,
		newTransport: newTransport,
		onFrame:      onFrame,
		q:            q,
		scheduler:    s,
		status:       StatusIdle,
	}
	s.Start()
	return m, nil
}

// SetToken replaces the token used for the next dial attempt, for
// callers resolving a fresh credential from an auth provider before
// each Connect.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	m.cfg.Token = token
	m.mu.Unlock()
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnStatus registers a listener, invoking it immediately with the
// current status per spec §4.6.
func (m *Manager) OnStatus(l StatusListener) func() {
	m.mu.Lock()
	m.statusSubs = append(m.statusSubs, l)
	idx := len(m.statusSubs) - 1
	current := m.status
	m.mu.Unlock()

	dispatchStatus(l, current)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.statusSubs) {
			m.statusSubs[idx] = nil
		}
	}
}

// Connect is idempotent while a session is already in flight or
// established; it blocks until the transport opens or fails.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return &ConnectionError{Retryable: false, Reason: "destroyed"}
	}
	switch m.status {
	case StatusConnecting, StatusConnected, StatusSyncing, StatusReady:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) error {
	m.setStatus(StatusConnecting)

	tr := m.newTransport()

	dialCtx := ctx
	var cancel context.CancelFunc
	if m.cfg.ConnectionTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.ConnectionTimeout)
		defer cancel()
	}

	connectURL := buildURL(m.cfg.ServerURL, m.cfg.WorkspaceID, m.cfg.Token, m.cfg.UserID, m.cfg.SyncMode)
	if m.cfg.Debug {
		log.Debugf("connmgr: dialing %s", redactedURL(connectURL))
	}

	if err := tr.Open(dialCtx, connectURL, m.handleFrame, m.handleClose); err != nil {
		m.setStatus(StatusError)
		return &ConnectionError{Retryable: true, Reason: err.Error()}
	}

	m.mu.Lock()
	m.tr = tr
	m.attempt = 0
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	// Every successful session passes through Syncing on the way to
	// Ready (spec §8: "Connecting, Connected, Syncing, Ready" is a
	// fixed prefix) — a peer that never sends Init leaves the client
	// parked here indefinitely (scenario 3).
	m.setStatus(StatusSyncing)
	m.startHeartbeat()
	m.flushQueue()
	return nil
}

// handleFrame is the transport's onMessage callback. It never parses
// bytes itself; it hands off to the injected FrameHandler and reacts
// only to the one outcome the state machine cares about.
func (m *Manager) handleFrame(frame []byte) {
	m.mu.Lock()
	destroyed := m.destroyed
	m.mu.Unlock()
	if destroyed {
		return
	}

	result := m.onFrame(frame)
	if result == FrameInit {
		// load_snapshot/emitInit/emitReady already ran synchronously
		// inside onFrame before this returns.
		m.setStatus(StatusReady)
	}
}

// handleClose is the transport's onClose callback.
func (m *Manager) handleClose(info transport.CloseInfo) {
	m.mu.Lock()
	destroyed := m.destroyed
	m.stopHeartbeatLocked()
	m.tr = nil
	m.mu.Unlock()

	if destroyed {
		return
	}

	if IsAuthCloseCode(info.Code) {
		log.Warnf("connmgr: %s", (&AuthenticationError{Code: info.Code}).Error())
		m.setStatus(StatusError)
		return
	}

	m.setStatus(StatusDisconnected)

	if !m.cfg.AutoReconnect {
		return
	}

	m.mu.Lock()
	attempt := m.attempt
	m.mu.Unlock()
	if attempt >= m.cfg.MaxReconnectAttempts {
		m.setStatus(StatusError)
		return
	}

	m.setStatus(StatusReconnecting)
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	attempt := m.attempt
	m.attempt++
	m.mu.Unlock()

	delay := reconnectDelay(m.cfg.ReconnectBaseDelay, m.cfg.MaxReconnectDelay, attempt)
	log.Debugf("connmgr: reconnecting in %s (attempt %d)", delay, attempt)

	job, err := m.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(delay))),
		gocron.NewTask(func() {
			m.mu.Lock()
			destroyed := m.destroyed
			m.mu.Unlock()
			if destroyed {
				return
			}
			if err := m.dial(context.Background()); err != nil {
				log.Warnf("connmgr: reconnect attempt failed: %s", err)
			}
		}),
	)
	if err != nil {
		log.Errorf("connmgr: could not schedule reconnect: %s", err)
		return
	}

	m.mu.Lock()
	m.reconnectJob = job
	m.mu.Unlock()
}

func (m *Manager) startHeartbeat() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	job, err := m.scheduler.NewJob(
		gocron.DurationJob(m.cfg.HeartbeatInterval),
		gocron.NewTask(func() {
			m.mu.Lock()
			ready := m.status == StatusReady
			tr := m.tr
			m.mu.Unlock()
			if !ready || tr == nil {
				return
			}
			if err := tr.Send([]byte{0x00}); err != nil {
				log.Warnf("connmgr: heartbeat send failed: %s", err)
			}
		}),
	)
	if err != nil {
		log.Errorf("connmgr: could not schedule heartbeat: %s", err)
		return
	}
	m.mu.Lock()
	m.heartbeatJob = job
	m.mu.Unlock()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatJob != nil {
		_ = m.scheduler.RemoveJob(m.heartbeatJob.ID())
		m.heartbeatJob = nil
	}
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectJob != nil {
		_ = m.scheduler.RemoveJob(m.reconnectJob.ID())
		m.reconnectJob = nil
	}
}

// flushQueue implements spec §4.4's flush discipline: drain the
// queue and feed entries to the transport in order; a send failure
// returns the failing entry (and everything after it) to the head.
func (m *Manager) flushQueue() {
	entries := m.q.Drain()
	for i, e := range entries {
		if err := m.sendDirect(e.Packet); err != nil {
			m.q.Requeue(entries[i:])
			return
		}
	}
}

func (m *Manager) sendDirect(frame []byte) error {
	m.mu.Lock()
	tr := m.tr
	m.mu.Unlock()
	if tr == nil {
		return fmt.Errorf("connmgr: not connected")
	}
	return tr.Send(frame)
}

// SendOp sends an already-framed Op packet if Ready, otherwise
// enqueues it for later delivery. key/timestamp are threaded through
// only so an enqueued entry can later be reported to on_queue
// consumers by key.
func (m *Manager) SendOp(key string, packet []byte, timestamp int64) {
	m.mu.Lock()
	ready := m.status == StatusReady
	m.mu.Unlock()

	if ready {
		if err := m.sendDirect(packet); err == nil {
			return
		}
	}
	m.q.Enqueue(key, packet, timestamp)
}

// Broadcast sends a Signal frame directly; it never queues, matching
// spec §4.6 ("drops with a warning if not Ready").
func (m *Manager) Broadcast(frame []byte) error {
	m.mu.Lock()
	ready := m.status == StatusReady
	m.mu.Unlock()
	if !ready {
		return fmt.Errorf("connmgr: cannot broadcast, not ready")
	}
	return m.sendDirect(frame)
}

// Disconnect cancels all timers, detaches and closes the transport,
// and transitions to Disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	tr := m.tr
	m.tr = nil
	m.stopHeartbeatLocked()
	m.stopReconnectLocked()
	m.mu.Unlock()

	if tr != nil {
		if err := tr.Close(1000, "client disconnect"); err != nil {
			log.Warnf("connmgr: close failed: %s", err)
		}
	}
	m.setStatus(StatusDisconnected)
}

// Destroy is Disconnect plus a permanent terminal flag; subsequent
// Connect calls fail immediately.
func (m *Manager) Destroy() {
	m.mu.Lock()
	m.destroyed = true
	m.mu.Unlock()

	m.Disconnect()
	if err := m.scheduler.Shutdown(); err != nil {
		log.Warnf("connmgr: scheduler shutdown failed: %s", err)
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	snapshot := append([]StatusListener(nil), m.statusSubs...)
	m.mu.Unlock()

	for _, l := range snapshot {
		if l != nil {
			dispatchStatus(l, s)
		}
	}
}

func dispatchStatus(l StatusListener, s Status) {
	defer recoverSubscriber("status")
	l(s)
}

func recoverSubscriber(event string) {
	if r := recover(); r != nil {
		log.Errorf("connmgr: %s subscriber panicked: %v", event, r)
	}
}
