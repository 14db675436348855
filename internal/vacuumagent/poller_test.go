package vacuumagent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/alarm"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plant"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plc"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/seq"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/sim"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/tracker"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/options"
)

type pollRig struct {
	eng *sim.Engine
	gw  *plc.Gateway
	alm *alarm.Manager
	seq *seq.Sequencer
	p   *Poller

	now time.Time
}

func newPollRig(t *testing.T) *pollRig {
	t.Helper()
	opts := options.NewPlantOptions()
	pm := plc.DefaultPointMap()
	eng := sim.NewEngine(pm, opts.SimValveSettle)
	gw := plc.NewGateway(eng, "sim", 0, time.Second)
	if !gw.Connect(context.Background()) {
		t.Fatal("simulator connect failed")
	}

	mir := plant.NewMirror(pm)
	alm := alarm.NewManager("sub000", alarm.NewStore(filepath.Join(t.TempDir(), "alarms.json")), nil)
	trk := tracker.New(opts.ValveTimeout, func(idx, code int, device, msg string) {
		alm.Raise(code, core.AlarmTypeValve, msg, device)
	})
	act := plant.NewActuator(gw, pm, mir, trk)
	s := seq.New(act, trk, alm, opts)

	r := &pollRig{
		eng: eng,
		gw:  gw,
		alm: alm,
		seq: s,
		p:   NewPoller(gw, mir, trk, alm, s, opts.PollPeriod),
		now: time.Unix(20000, 0),
	}
	clock := func() time.Time { return r.now }
	alm.SetClock(clock)
	trk.SetClock(clock)
	s.SetClock(clock)
	r.p.SetClock(clock)

	r.tick()
	return r
}

// tick advances simulated time by one poll period and runs one poll cycle.
func (r *pollRig) tick() {
	r.now = r.now.Add(100 * time.Millisecond)
	r.eng.Step(0.1)
	r.p.TickOnce()
}

func (r *pollRig) run(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += 100 * time.Millisecond {
		r.tick()
	}
}

func TestInterlockAlarmsSelfClear(t *testing.T) {
	r := newPollRig(t)

	r.eng.SetAirPressure(0.2)
	r.tick()
	if !r.alm.IsActive(core.AlarmCodeAirPressureLow) {
		t.Fatal("air pressure alarm not raised")
	}

	r.eng.SetAirPressure(0.6)
	r.tick()
	if r.alm.IsActive(core.AlarmCodeAirPressureLow) {
		t.Fatal("air pressure alarm did not clear on recovery")
	}

	r.eng.SetPhaseOK(false)
	r.tick()
	if !r.alm.IsActive(core.AlarmCodePhaseSequence) {
		t.Fatal("phase sequence alarm not raised")
	}
	r.eng.SetPhaseOK(true)
	r.tick()
	if r.alm.IsActive(core.AlarmCodePhaseSequence) {
		t.Fatal("phase sequence alarm did not clear")
	}
}

func TestInterlockEscalationFaultsRun(t *testing.T) {
	r := newPollRig(t)

	if err := r.seq.OneKeyVacuumStart(); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.run(5 * time.Second)
	if r.seq.State() != core.StatePumping {
		t.Fatalf("state = %s, want Pumping", r.seq.State())
	}

	r.eng.SetPhaseOK(false)
	r.tick()
	r.tick()
	if r.seq.State() != core.StateFault {
		t.Fatalf("state = %s, want Fault after interlock escalation", r.seq.State())
	}
}

func TestLinkDropKeepsLastSnapshot(t *testing.T) {
	r := newPollRig(t)

	if err := r.eng.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	// First read failure marks the gateway down.
	r.tick()
	r.tick()
	if r.gw.IsConnected() {
		t.Fatal("gateway still connected after transport drop")
	}
	// The sequencer stays put while the link is down.
	if r.seq.State() != core.StateIdle {
		t.Fatalf("state = %s, want Idle", r.seq.State())
	}
}

func TestReconnectResynchronizes(t *testing.T) {
	r := newPollRig(t)

	if err := r.seq.OneKeyVacuumStart(); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.run(3 * time.Second)
	if r.seq.State() != core.StatePumping {
		t.Fatalf("state = %s, want Pumping", r.seq.State())
	}

	_ = r.eng.Disconnect()
	r.tick()
	if r.gw.IsConnected() {
		t.Fatal("gateway should be down")
	}

	// Advance past the reconnect interval; the background attempt hits a
	// live transport again. Real time must pass for the connect goroutine.
	for i := 0; i < 500 && !r.gw.IsConnected(); i++ {
		r.now = r.now.Add(100 * time.Millisecond)
		r.p.TickOnce()
		time.Sleep(2 * time.Millisecond)
	}
	if !r.gw.IsConnected() {
		t.Fatal("gateway never reconnected")
	}

	// The tick after reconnection resynchronizes: the interrupted run is
	// abandoned and the sequencer returns to Idle.
	r.tick()
	if r.seq.State() != core.StateIdle {
		t.Fatalf("state = %s, want Idle after resynchronization", r.seq.State())
	}
	if r.seq.Step() != 0 {
		t.Fatalf("step = %d, want 0", r.seq.Step())
	}
}
