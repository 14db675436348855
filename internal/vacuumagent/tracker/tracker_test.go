package tracker

import (
	"testing"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type raiseRec struct {
	calls   []int
	devices []string
}

func (r *raiseRec) raise(idx, code int, device, msg string) {
	r.calls = append(r.calls, code)
	r.devices = append(r.devices, device)
}

func newTestTracker(timeout time.Duration) (*Tracker, *fakeClock, *raiseRec) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	rec := &raiseRec{}
	tr := New(timeout, rec.raise)
	tr.SetClock(clk.now)
	return tr, clk, rec
}

func TestActionSettlesOnFeedback(t *testing.T) {
	tr, clk, rec := newTestTracker(10 * time.Second)

	tr.StartAction(2, "gate-main-2", true)
	if got := tr.State(2); got != ActionOpening {
		t.Fatalf("state = %v, want Opening", got)
	}
	if !tr.Busy(2) {
		t.Fatal("valve should be busy while opening")
	}

	// Wrong feedback does not settle the action.
	tr.Update(2, core.ValveFeedback{Close: true})
	if got := tr.State(2); got != ActionOpening {
		t.Fatalf("state = %v after close feedback, want Opening", got)
	}

	clk.advance(3 * time.Second)
	tr.Update(2, core.ValveFeedback{Open: true})
	if got := tr.State(2); got != ActionIdle {
		t.Fatalf("state = %v after open feedback, want Idle", got)
	}

	tr.TimeoutCheck()
	if len(rec.calls) != 0 {
		t.Fatalf("no alarm expected, got %v", rec.calls)
	}
}

func TestTimeoutLatchesAndRaisesOnce(t *testing.T) {
	tr, clk, rec := newTestTracker(10 * time.Second)

	tr.StartAction(3, "gate-bypass", false)
	clk.advance(11 * time.Second)

	tr.TimeoutCheck()
	tr.TimeoutCheck() // idempotent
	clk.advance(time.Minute)
	tr.TimeoutCheck()

	if got := tr.State(3); got != ActionCloseTimeout {
		t.Fatalf("state = %v, want CloseTimeout", got)
	}
	if !tr.State(3).Timeout() {
		t.Fatal("Timeout() should report latched state")
	}
	if len(rec.calls) != 1 {
		t.Fatalf("alarm raised %d times, want 1", len(rec.calls))
	}
	if want := core.AlarmCodeValveTimeoutBase + 3; rec.calls[0] != want {
		t.Fatalf("alarm code = %d, want %d", rec.calls[0], want)
	}
	if got := rec.devices[0]; got != "gate-bypass" {
		t.Fatalf("alarm device = %q, want the valve name", got)
	}

	// Feedback arriving after the latch does not clear it.
	tr.Update(3, core.ValveFeedback{Close: true})
	if got := tr.State(3); got != ActionCloseTimeout {
		t.Fatalf("latched state cleared by late feedback: %v", got)
	}
}

func TestNewCommandSupersedesTimeout(t *testing.T) {
	tr, clk, rec := newTestTracker(10 * time.Second)

	tr.StartAction(10, "solenoid-isolation", true)
	clk.advance(11 * time.Second)
	tr.TimeoutCheck()
	if got := tr.State(10); got != ActionOpenTimeout {
		t.Fatalf("state = %v, want OpenTimeout", got)
	}

	tr.StartAction(10, "solenoid-isolation", true)
	if got := tr.State(10); got != ActionOpening {
		t.Fatalf("state = %v after re-command, want Opening", got)
	}

	tr.Update(10, core.ValveFeedback{Open: true})
	clk.advance(time.Minute)
	tr.TimeoutCheck()
	if got := tr.State(10); got != ActionIdle {
		t.Fatalf("state = %v, want Idle", got)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected only the first timeout alarm, got %d", len(rec.calls))
	}
}

func TestResetClearsState(t *testing.T) {
	tr, clk, _ := newTestTracker(10 * time.Second)

	tr.StartAction(20, "vent-0", true)
	tr.StartAction(21, "vent-1", true)
	tr.Reset(20)
	if got := tr.State(20); got != ActionIdle {
		t.Fatalf("state after Reset = %v, want Idle", got)
	}

	tr.ResetAll()
	if got := tr.State(21); got != ActionIdle {
		t.Fatalf("state after ResetAll = %v, want Idle", got)
	}

	clk.advance(time.Hour)
	tr.TimeoutCheck()
	if tr.Busy(20) || tr.Busy(21) {
		t.Fatal("no pending actions expected after reset")
	}
}
