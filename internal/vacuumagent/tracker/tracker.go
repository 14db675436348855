// Package tracker supervises in-flight valve motions. Every tracked open or
// close command gets a deadline; feedback arriving in time settles the
// action, and overruns latch a timeout state until the valve is commanded
// again or explicitly reset.
package tracker

import (
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
)

// ActionState is the supervision state of one valve.
type ActionState string

const (
	// ActionIdle: no motion pending, last command (if any) completed.
	ActionIdle ActionState = "Idle"
	// ActionOpening / ActionClosing: command issued, waiting for feedback.
	ActionOpening ActionState = "Opening"
	ActionClosing ActionState = "Closing"
	// Timeout states latch once the deadline passes without feedback. They
	// stay latched so operators see which valve misbehaved; a new command or
	// Reset clears them.
	ActionOpenTimeout  ActionState = "OpenTimeout"
	ActionCloseTimeout ActionState = "CloseTimeout"
)

// Timeout reports whether the state is one of the latched timeout states.
func (s ActionState) Timeout() bool {
	return s == ActionOpenTimeout || s == ActionCloseTimeout
}

type action struct {
	state    ActionState
	name     string
	deadline time.Time
	alarmed  bool
}

// RaiseFunc is called at most once per timed-out action with the plant valve
// index, the alarm code, the valve name and a human-readable message.
type RaiseFunc func(valveIdx int, code int, device, msg string)

// Tracker holds the per-valve supervision table. All methods are safe for
// concurrent use; the poller drives Update and TimeoutCheck while command
// handlers call StartAction from other goroutines.
type Tracker struct {
	actions *xsync.MapOf[int, *action]
	timeout time.Duration
	raise   RaiseFunc
	now     func() time.Time
	logger  log.Logger
}

// New builds a tracker with the given feedback timeout. raise may be nil.
func New(timeout time.Duration, raise RaiseFunc) *Tracker {
	return &Tracker{
		actions: xsync.NewMapOf[int, *action](),
		timeout: timeout,
		raise:   raise,
		now:     time.Now,
		logger:  log.WithName("tracker"),
	}
}

// SetClock replaces the time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// StartAction records a commanded motion and arms its deadline. A new command
// on a valve supersedes whatever the tracker held for it, including a latched
// timeout.
func (t *Tracker) StartAction(valveIdx int, name string, opening bool) {
	st := ActionClosing
	if opening {
		st = ActionOpening
	}
	t.actions.Store(valveIdx, &action{
		state:    st,
		name:     name,
		deadline: t.now().Add(t.timeout),
	})
}

// Update settles pending actions against the latest feedback. Feedback is
// only consulted while a motion is pending; latched timeouts are not cleared
// by position bits alone.
func (t *Tracker) Update(valveIdx int, fb core.ValveFeedback) {
	a, ok := t.actions.Load(valveIdx)
	if !ok {
		return
	}
	switch a.state {
	case ActionOpening:
		if fb.Open {
			t.actions.Store(valveIdx, &action{state: ActionIdle, name: a.name})
		}
	case ActionClosing:
		if fb.Close {
			t.actions.Store(valveIdx, &action{state: ActionIdle, name: a.name})
		}
	}
}

// TimeoutCheck latches overrun actions and raises their alarm exactly once.
func (t *Tracker) TimeoutCheck() {
	now := t.now()
	t.actions.Range(func(idx int, a *action) bool {
		if a.state != ActionOpening && a.state != ActionClosing {
			return true
		}
		if now.Before(a.deadline) {
			return true
		}

		verb := "close"
		st := ActionCloseTimeout
		if a.state == ActionOpening {
			verb = "open"
			st = ActionOpenTimeout
		}
		latched := &action{state: st, name: a.name, deadline: a.deadline, alarmed: true}
		t.actions.Store(idx, latched)

		if !a.alarmed && t.raise != nil {
			msg := fmt.Sprintf("valve %s (index %d) failed to %s within %s", a.name, idx, verb, t.timeout)
			t.logger.Warn("valve action timed out", "valve", a.name, "index", idx, "action", verb)
			t.raise(idx, core.AlarmCodeValveTimeoutBase+idx, a.name, msg)
		}
		return true
	})
}

// State returns the supervision state of a valve. Untracked valves are Idle.
func (t *Tracker) State(valveIdx int) ActionState {
	if a, ok := t.actions.Load(valveIdx); ok {
		return a.state
	}
	return ActionIdle
}

// Busy reports whether a motion is currently pending on the valve.
func (t *Tracker) Busy(valveIdx int) bool {
	st := t.State(valveIdx)
	return st == ActionOpening || st == ActionClosing
}

// Reset clears the tracked state of one valve.
func (t *Tracker) Reset(valveIdx int) {
	t.actions.Delete(valveIdx)
}

// ResetAll drops every tracked action. Used on sequencer resynchronization
// after a PLC reconnect, when pending deadlines no longer mean anything.
func (t *Tracker) ResetAll() {
	t.actions.Clear()
}
