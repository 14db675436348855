package alarm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alarms.json")
	m := NewManager("sub000", NewStore(path), nil)
	m.SetClock(func() time.Time { return time.Unix(5000, 0) })
	return m
}

func TestRaiseDeduplicatesByCode(t *testing.T) {
	m := newTestManager(t)

	if !m.Raise(core.AlarmCodePhaseSequence, core.AlarmTypeInterlock, "phase sequence wrong", "phase-monitor") {
		t.Fatal("first raise should create an alarm")
	}
	if m.Raise(core.AlarmCodePhaseSequence, core.AlarmTypeInterlock, "phase sequence wrong", "phase-monitor") {
		t.Fatal("duplicate raise of an active code should be suppressed")
	}

	if got := len(m.ActiveAlarms()); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}
	if got := len(m.History()); got != 1 {
		t.Fatalf("history = %d, want 1", got)
	}

	// Once cleared the code may be raised again as a new history entry.
	if !m.Clear(core.AlarmCodePhaseSequence) {
		t.Fatal("clear should retire the active alarm")
	}
	if !m.Raise(core.AlarmCodePhaseSequence, core.AlarmTypeInterlock, "phase sequence wrong", "phase-monitor") {
		t.Fatal("raise after clear should create a new alarm")
	}
	if got := len(m.History()); got != 2 {
		t.Fatalf("history = %d, want 2", got)
	}
}

func TestEscalationHandshake(t *testing.T) {
	m := newTestManager(t)

	if m.TakeEscalation() {
		t.Fatal("no escalation expected before any raise")
	}
	m.Raise(2003, core.AlarmTypeValve, "gate-bypass failed to close", "gate-bypass")
	m.Raise(2004, core.AlarmTypeValve, "gate-aux-0 failed to close", "gate-aux-0")
	if !m.TakeEscalation() {
		t.Fatal("escalation expected after raises")
	}
	if m.TakeEscalation() {
		t.Fatal("escalation must be handed over exactly once")
	}
}

func TestAcknowledge(t *testing.T) {
	m := newTestManager(t)
	m.Raise(1003, core.AlarmTypeSequence, "step 3 overran", "open primary gate valves")
	m.Raise(2001, core.AlarmTypeValve, "gate-main-1 stuck", "gate-main-1")

	if m.Acknowledge(9999) {
		t.Fatal("acknowledging an unknown code should fail")
	}
	if !m.Acknowledge(1003) {
		t.Fatal("acknowledge failed")
	}
	m.AcknowledgeAll()
	for _, a := range m.ActiveAlarms() {
		if !a.Acknowledged {
			t.Fatalf("alarm %d not acknowledged", a.Code)
		}
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarms.json")

	m := NewManager("sub000", NewStore(path), nil)
	m.Raise(2002, core.AlarmTypeValve, "gate-main-2 stuck open", "gate-main-2")
	m.Raise(3002, core.AlarmTypeInterlock, "air pressure low", "air-supply")
	m.Clear(3002)

	re := NewManager("sub000", NewStore(path), nil)
	if got := len(re.History()); got != 2 {
		t.Fatalf("reloaded history = %d, want 2", got)
	}
	if got := len(re.ActiveAlarms()); got != 1 {
		t.Fatalf("reloaded active = %d, want 1", got)
	}
	if !re.IsActive(2002) {
		t.Fatal("valve alarm should survive reload as active")
	}
	if re.IsActive(3002) {
		t.Fatal("cleared alarm must not be active after reload")
	}
	for _, a := range re.History() {
		if a.Code == 2002 && a.Device != "gate-main-2" {
			t.Fatalf("device = %q after reload, want gate-main-2", a.Device)
		}
	}
}

func TestCorruptHistoryStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarms.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager("sub000", NewStore(path), nil)
	if got := len(m.History()); got != 0 {
		t.Fatalf("corrupt file should yield empty history, got %d", got)
	}
}

func TestSaveFailureKeepsRunning(t *testing.T) {
	// Write failure (missing parent directory) is logged, not fatal.
	s := NewStore(filepath.Join(t.TempDir(), "missing", "alarms.json"))
	s.Save([]Alarm{{ID: 1, Code: 2000, Type: core.AlarmTypeValve, Message: "gate-main-0 stuck", Device: "gate-main-0"}})
	if got := s.Load(); len(got) != 0 {
		t.Fatalf("load after failed save = %d entries, want 0", len(got))
	}
}

type fakeArchiver struct {
	err   error
	calls int
	got   []Alarm
}

func (f *fakeArchiver) Archive(_ context.Context, _ string, alarms []Alarm) error {
	f.calls++
	f.got = alarms
	return f.err
}

func TestClearHistoryArchivesFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarms.json")
	arch := &fakeArchiver{}
	m := NewManager("sub000", NewStore(path), arch)

	m.Raise(1001, core.AlarmTypeSequence, "step 1 overran", "open isolation solenoid")
	m.Clear(1001)
	m.Raise(2000, core.AlarmTypeValve, "gate-main-0 stuck", "gate-main-0")

	if err := m.ClearHistory(context.Background()); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if arch.calls != 1 || len(arch.got) != 2 {
		t.Fatalf("archive calls=%d entries=%d, want 1/2", arch.calls, len(arch.got))
	}
	// Active alarms survive the clear.
	if got := len(m.History()); got != 1 {
		t.Fatalf("history after clear = %d, want 1 (active survivor)", got)
	}
	if !m.IsActive(2000) {
		t.Fatal("active alarm lost by ClearHistory")
	}
}

func TestClearHistoryKeepsDataOnArchiveFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarms.json")
	arch := &fakeArchiver{err: errors.New("bucket unreachable")}
	m := NewManager("sub000", NewStore(path), arch)

	m.Raise(1002, core.AlarmTypeSequence, "step 2 overran", "open upstream solenoids")
	m.Clear(1002)

	if err := m.ClearHistory(context.Background()); err == nil {
		t.Fatal("ClearHistory should propagate archive failure")
	}
	if got := len(m.History()); got != 1 {
		t.Fatalf("history must be untouched on archive failure, got %d", got)
	}
}
