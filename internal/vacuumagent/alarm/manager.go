// Package alarm keeps the station's alarm state: active conditions keyed by
// code, a persisted history, acknowledgement bookkeeping, and the escalation
// handshake that lets the poller fault the sequencer without lock inversion.
package alarm

import (
	"context"
	"sync"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/metrics"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
)

// historyCap bounds the persisted history; the oldest entries roll off.
const historyCap = 500

// Alarm is one raised condition. A code can appear many times in the history
// but at most once in the active set.
type Alarm struct {
	ID           int        `json:"id"`
	Code         int        `json:"code"`
	Type         string     `json:"type"`
	Message      string     `json:"message"`
	Device       string     `json:"device"`
	RaisedAt     time.Time  `json:"raisedAt"`
	ClearedAt    *time.Time `json:"clearedAt,omitempty"`
	Acknowledged bool       `json:"acknowledged"`
}

// Active reports whether the alarm has not been cleared yet.
func (a Alarm) Active() bool { return a.ClearedAt == nil }

// Manager owns the alarm table. Raise deduplicates by code: a condition that
// is already active is not raised again, so a misbehaving input cannot flood
// the history.
type Manager struct {
	mu       sync.Mutex
	active   map[int]*Alarm
	history  []*Alarm
	nextID   int
	escalate bool

	station  string
	store    *Store
	archiver Archiver
	notify   func(Alarm)
	now      func() time.Time
	logger   log.Logger
}

// NewManager loads the persisted history and rebuilds the active set from it.
func NewManager(station string, store *Store, archiver Archiver) *Manager {
	m := &Manager{
		active:   map[int]*Alarm{},
		station:  station,
		store:    store,
		archiver: archiver,
		now:      time.Now,
		logger:   log.WithName("alarm"),
	}
	for _, a := range store.Load() {
		cp := a
		m.history = append(m.history, &cp)
		if cp.ID >= m.nextID {
			m.nextID = cp.ID + 1
		}
		if cp.Active() {
			m.active[cp.Code] = &cp
		}
	}
	return m
}

// SetClock replaces the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetNotify installs a callback invoked (outside the lock) for every newly
// raised or cleared alarm. Used by the agent to publish alarm events.
func (m *Manager) SetNotify(fn func(Alarm)) { m.notify = fn }

// Raise records a new alarm unless the code is already active. device names
// the plant equipment the condition was observed on. Returns true when a new
// alarm was created.
func (m *Manager) Raise(code int, typ, msg, device string) bool {
	m.mu.Lock()
	if _, dup := m.active[code]; dup {
		m.mu.Unlock()
		return false
	}
	a := &Alarm{
		ID:       m.nextID,
		Code:     code,
		Type:     typ,
		Message:  msg,
		Device:   device,
		RaisedAt: m.now(),
	}
	m.nextID++
	m.active[code] = a
	m.history = append(m.history, a)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
	m.escalate = true
	m.persistLocked()
	notify := m.notify
	snapshot := *a
	m.mu.Unlock()

	metrics.AlarmsRaisedTotal.WithLabelValues(typ).Inc()
	m.logger.Warn("alarm raised", "code", code, "type", typ, "device", device, "msg", msg)
	if notify != nil {
		notify(snapshot)
	}
	return true
}

// Clear retires an active alarm. Used by self-clearing interlock conditions
// (phase sequence, air pressure) when the input returns to normal.
func (m *Manager) Clear(code int) bool {
	m.mu.Lock()
	a, ok := m.active[code]
	if !ok {
		m.mu.Unlock()
		return false
	}
	t := m.now()
	a.ClearedAt = &t
	delete(m.active, code)
	m.persistLocked()
	notify := m.notify
	snapshot := *a
	m.mu.Unlock()

	m.logger.Info("alarm cleared", "code", code)
	if notify != nil {
		notify(snapshot)
	}
	return true
}

// IsActive reports whether the code is currently active.
func (m *Manager) IsActive(code int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[code]
	return ok
}

// HasActive reports whether any alarm is active.
func (m *Manager) HasActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) > 0
}

// Acknowledge marks one active alarm as seen. Returns false for unknown codes.
func (m *Manager) Acknowledge(code int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[code]
	if !ok {
		return false
	}
	a.Acknowledged = true
	m.persistLocked()
	return true
}

// AcknowledgeAll marks every active alarm as seen.
func (m *Manager) AcknowledgeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.active {
		a.Acknowledged = true
	}
	m.persistLocked()
}

// ClearActive retires every active alarm. Called by FaultReset once the
// operator has dealt with the cause.
func (m *Manager) ClearActive() {
	m.mu.Lock()
	t := m.now()
	for code, a := range m.active {
		a.ClearedAt = &t
		delete(m.active, code)
	}
	m.persistLocked()
	m.mu.Unlock()
	m.logger.Info("active alarms cleared")
}

// ClearHistory archives the full history (when an archiver is configured) and
// then truncates it down to the still-active entries. A failed archive leaves
// the history untouched.
func (m *Manager) ClearHistory(ctx context.Context) error {
	m.mu.Lock()
	full := make([]Alarm, len(m.history))
	for i, a := range m.history {
		full[i] = *a
	}
	m.mu.Unlock()

	if m.archiver != nil && len(full) > 0 {
		if err := m.archiver.Archive(ctx, m.station, full); err != nil {
			return err
		}
	}

	m.mu.Lock()
	kept := m.history[:0]
	for _, a := range m.history {
		if a.Active() {
			kept = append(kept, a)
		}
	}
	m.history = kept
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Info("alarm history cleared", "archived", len(full))
	return nil
}

// TakeEscalation returns true exactly once after one or more alarms were
// raised. The poller uses it to fault the sequencer without the alarm lock
// held during sequencer calls.
func (m *Manager) TakeEscalation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.escalate
	m.escalate = false
	return e
}

// ActiveAlarms returns the active set ordered by raise time.
func (m *Manager) ActiveAlarms() []Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alarm, 0, len(m.active))
	for _, a := range m.history {
		if a.Active() {
			out = append(out, *a)
		}
	}
	return out
}

// History returns a copy of the full history, oldest first.
func (m *Manager) History() []Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alarm, len(m.history))
	for i, a := range m.history {
		out[i] = *a
	}
	return out
}

// Summary builds the digest carried in status snapshots.
func (m *Manager) Summary() core.AlarmSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := core.AlarmSummary{
		Active:      len(m.active),
		HistorySize: len(m.history),
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].Active() {
			s.Latest = m.history[i].Message
			s.LatestCode = m.history[i].Code
			break
		}
	}
	return s
}

func (m *Manager) persistLocked() {
	out := make([]Alarm, len(m.history))
	for i, a := range m.history {
		out[i] = *a
	}
	m.store.Save(out)
}
