// Package manager implements the SessionManager: the library-level
// surface create/list/get/delete/start/pause/resume/stop/set_speed/
// jump_to/fast_forward a session, submit/cancel/list/get its orders,
// read its account state and positions, apply corporate actions, and
// run the shared feeder across every currently running session. One
// Manager is built per process; it owns the one fanout.Registry every
// session publishes through.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rishav/marketsim/internal/config"
	"github.com/rishav/marketsim/internal/datasource"
	"github.com/rishav/marketsim/internal/fanout"
	"github.com/rishav/marketsim/internal/feed"
	"github.com/rishav/marketsim/internal/model"
	"github.com/rishav/marketsim/internal/session"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CreateParams are the caller-supplied arguments to create a session.
type CreateParams struct {
	SessionID      string
	Symbols        []string
	Start          int64
	End            int64
	InitialCapital decimal.Decimal
	SpeedFactor    float64
	Seed           int64
}

// Manager owns every session in the process, the shared event-callback
// registry they all publish through, and the shared feeder's lifecycle.
type Manager struct {
	cfg    config.Config
	ds     datasource.DataSource
	fan    *fanout.Registry
	logDir string
	log    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session

	sharedMu     sync.Mutex
	sharedCancel context.CancelFunc
	sharedDone   chan struct{}
}

// New builds a manager with no sessions. ds feeds every session created
// through it; fan is shared by every session for event callback fan-out.
func New(cfg config.Config, ds datasource.DataSource, logDir string, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		ds:       ds,
		fan:      fanout.New(),
		logDir:   logDir,
		log:      log.With().Str("component", "manager").Logger(),
		sessions: make(map[string]*session.Session),
	}
}

// AddEventCallback registers a global event subscriber, delivered
// (session_id, Event) for every market event, fill, order lifecycle
// transition, halt/resume, and corporate action across every session.
func (m *Manager) AddEventCallback(cb fanout.Callback) {
	m.fan.Subscribe(cb)
}

// CreateSession builds a new session under the manager's shared data
// source, config, and callback registry, and registers it by ID.
func (m *Manager) CreateSession(p CreateParams) (*session.Session, error) {
	id := p.SessionID
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("manager: session %q already exists", id)
	}
	m.mu.Unlock()

	s, err := session.New(m.cfg, session.Params{
		SessionID:      id,
		Symbols:        p.Symbols,
		Start:          p.Start,
		End:            p.End,
		InitialCapital: p.InitialCapital,
		SpeedFactor:    p.SpeedFactor,
		Seed:           p.Seed,
	}, m.ds, m.fan, m.logDir, m.log)
	if err != nil {
		return nil, fmt.Errorf("manager: create session %q: %w", id, err)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the session registered under id, if any.
func (m *Manager) Get(id string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns every session currently registered, in no particular
// order.
func (m *Manager) List() []*session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Delete stops (if running) and unregisters id. A missing id is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Stop()
	m.maybeStopSharedFeeder()
}

// Start transitions id to RUNNING. If the manager's execution config
// enables the shared feeder, this also ensures a shared feeder goroutine
// is running across every currently RUNNING session.
func (m *Manager) Start(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown session %q", id)
	}
	s.Start()
	if m.cfg.Execution.EnableSharedFeed {
		m.ensureSharedFeeder()
	}
	return nil
}

// Pause suspends id's clock.
func (m *Manager) Pause(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown session %q", id)
	}
	s.Pause()
	return nil
}

// Resume wakes id's clock.
func (m *Manager) Resume(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown session %q", id)
	}
	s.Resume()
	return nil
}

// Stop halts id's worker and feeder, saving a final checkpoint. If this
// was the last RUNNING session and a shared feeder is active, the
// shared feeder is also torn down.
func (m *Manager) Stop(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown session %q", id)
	}
	s.Stop()
	m.maybeStopSharedFeeder()
	return nil
}

// SetSpeed updates id's clock pacing factor.
func (m *Manager) SetSpeed(id string, factor float64) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown session %q", id)
	}
	s.SetSpeed(factor)
	return nil
}

// JumpTo hard-resets id to tsNs.
func (m *Manager) JumpTo(id string, tsNs int64) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown session %q", id)
	}
	s.JumpTo(tsNs)
	return nil
}

// FastForward drains id's queue up to tsNs without notifying subscribers.
func (m *Manager) FastForward(id string, tsNs int64) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown session %q", id)
	}
	return s.FastForward(tsNs)
}

// Watermark returns id's last_event_ns.
func (m *Manager) Watermark(id string) (int64, error) {
	s, ok := m.Get(id)
	if !ok {
		return 0, fmt.Errorf("manager: unknown session %q", id)
	}
	return s.Watermark(), nil
}

// SubmitOrder runs id's order submission pipeline.
func (m *Manager) SubmitOrder(id string, order *model.Order) (uint64, string, error) {
	s, ok := m.Get(id)
	if !ok {
		return 0, "", fmt.Errorf("manager: unknown session %q", id)
	}
	orderID, reason := s.SubmitOrder(order)
	return orderID, reason, nil
}

// CancelOrder cancels orderID on id.
func (m *Manager) CancelOrder(id string, orderID uint64) (bool, error) {
	s, ok := m.Get(id)
	if !ok {
		return false, fmt.Errorf("manager: unknown session %q", id)
	}
	return s.CancelOrder(orderID), nil
}

// Orders returns id's full order history.
func (m *Manager) Orders(id string) ([]model.Order, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("manager: unknown session %q", id)
	}
	return s.Orders(), nil
}

// GetOrder returns one order by id from session id.
func (m *Manager) GetOrder(id string, orderID uint64) (model.Order, bool, error) {
	s, ok := m.Get(id)
	if !ok {
		return model.Order{}, false, fmt.Errorf("manager: unknown session %q", id)
	}
	o, found := s.GetOrder(orderID)
	return o, found, nil
}

// AccountState returns id's account snapshot.
func (m *Manager) AccountState(id string) (model.AccountState, error) {
	s, ok := m.Get(id)
	if !ok {
		return model.AccountState{}, fmt.Errorf("manager: unknown session %q", id)
	}
	return s.State(), nil
}

// Positions returns id's open positions.
func (m *Manager) Positions(id string) ([]model.Position, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("manager: unknown session %q", id)
	}
	return s.Positions(), nil
}

// ApplyDividend credits id's cash for every long position in symbol.
func (m *Manager) ApplyDividend(id, symbol string, amountPerShare decimal.Decimal) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown session %q", id)
	}
	s.ApplyDividend(symbol, amountPerShare)
	return nil
}

// ApplySplit rescales id's position in symbol by ratio.
func (m *Manager) ApplySplit(id, symbol string, ratio decimal.Decimal) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: unknown session %q", id)
	}
	s.ApplySplit(symbol, ratio)
	return nil
}

// runningSessions returns every session currently RUNNING.
func (m *Manager) runningSessions() []*session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Status() == session.Running {
			out = append(out, s)
		}
	}
	return out
}

// ensureSharedFeeder starts the shared feeder goroutine if one is not
// already running, snapshotting the currently RUNNING sessions as its
// target set. Start calls it on every session-start transition, but while
// a shared feeder is already running the call returns without change, so
// sessions started after the feeder launched are not fed by it.
func (m *Manager) ensureSharedFeeder() {
	m.sharedMu.Lock()
	defer m.sharedMu.Unlock()
	if m.sharedCancel != nil {
		return
	}

	running := m.runningSessions()
	if len(running) == 0 {
		return
	}

	targets := make([]feed.Target, len(running))
	for i, s := range running {
		targets[i] = s.FeedTarget()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.sharedCancel = cancel
	m.sharedDone = make(chan struct{})

	go func() {
		defer close(m.sharedDone)
		if err := feed.RunShared(ctx, m.ds, targets); err != nil {
			m.log.Warn().Err(err).Msg("shared feeder exited with error")
		}
	}()
}

// maybeStopSharedFeeder tears down the shared feeder once no session is
// RUNNING anymore.
func (m *Manager) maybeStopSharedFeeder() {
	if len(m.runningSessions()) > 0 {
		return
	}

	m.sharedMu.Lock()
	cancel := m.sharedCancel
	done := m.sharedDone
	m.sharedCancel = nil
	m.sharedDone = nil
	m.sharedMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
