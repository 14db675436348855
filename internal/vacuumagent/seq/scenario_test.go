package seq

import (
	"testing"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/tracker"
)

// Full-procedure runs against the simulated plant.

func TestNonVacuumRunToCompletion(t *testing.T) {
	r := newRig(t)
	r.eng.SetChamberPressure(0, 50000)
	r.eng.SetChamberPressure(1, 50000)
	r.tick()

	if err := r.seq.OneKeyVacuumStart(); err != nil {
		t.Fatal(err)
	}
	if got := r.seq.Step(); got != nonVacFirstStep {
		t.Fatalf("first step = %d, want %d (non-vacuum branch)", got, nonVacFirstStep)
	}

	if !r.runUntil(30*time.Minute, func() bool { return r.seq.State() == core.StateIdle }) {
		t.Fatalf("run did not complete: state=%v step=%d", r.seq.State(), r.seq.Step())
	}

	if got := r.seq.Step(); got != 0 {
		t.Fatalf("step = %d after completion, want 0", got)
	}
	snap := r.mir.Snapshot()
	if snap.RootsPumpOn {
		t.Fatal("booster pump must be off after completion")
	}
	for i := 0; i < core.TurboPumpCount; i++ {
		if !snap.TurboOn[i] {
			t.Fatalf("turbo %d should be on", i)
		}
		if snap.TurboSpeedRPM[i] < turboAtSpeedRPM {
			t.Fatalf("turbo %d at %d rpm, want >= %d", i, snap.TurboSpeedRPM[i], turboAtSpeedRPM)
		}
	}
	if snap.PrimaryAPa > 1 || snap.PrimaryBPa > 1 {
		t.Fatalf("chambers at %.3f/%.3f Pa, want high vacuum", snap.PrimaryAPa, snap.PrimaryBPa)
	}
	if r.alm.HasActive() {
		t.Fatalf("no alarms expected, got %+v", r.alm.ActiveAlarms())
	}
}

func TestLowVacuumRunToCompletion(t *testing.T) {
	r := newRig(t)
	r.eng.SetChamberPressure(0, 2000)
	r.eng.SetChamberPressure(1, 2000)
	r.tick()

	if err := r.seq.OneKeyVacuumStart(); err != nil {
		t.Fatal(err)
	}
	if got := r.seq.Step(); got != lowVacFirstStep {
		t.Fatalf("first step = %d, want %d (low-vacuum branch)", got, lowVacFirstStep)
	}

	if !r.runUntil(30*time.Minute, func() bool { return r.seq.State() == core.StateIdle }) {
		t.Fatalf("run did not complete: state=%v step=%d", r.seq.State(), r.seq.Step())
	}

	snap := r.mir.Snapshot()
	for i := 0; i < core.TurboPumpCount; i++ {
		if snap.TurboSpeedRPM[i] < turboAtSpeedRPM {
			t.Fatalf("turbo %d at %d rpm, want >= %d", i, snap.TurboSpeedRPM[i], turboAtSpeedRPM)
		}
	}
	// The bypass must be closed again once the primary gates carry the flow.
	if !snap.Valve(bypassGate).Close {
		t.Fatal("bypass gate should be closed at completion")
	}
}

func TestDisabledTurboIsSkipped(t *testing.T) {
	r := newRig(t)
	if err := r.seq.SetTurboEnabled(1, false); err != nil {
		t.Fatal(err)
	}
	r.eng.SetChamberPressure(0, 50000)
	r.eng.SetChamberPressure(1, 50000)
	r.tick()

	if err := r.seq.OneKeyVacuumStart(); err != nil {
		t.Fatal(err)
	}
	if !r.runUntil(30*time.Minute, func() bool { return r.seq.State() == core.StateIdle }) {
		t.Fatalf("run did not complete: state=%v step=%d", r.seq.State(), r.seq.Step())
	}

	snap := r.mir.Snapshot()
	if !snap.TurboOn[0] {
		t.Fatal("enabled turbo 0 should be on")
	}
	if snap.TurboOn[1] {
		t.Fatal("disabled turbo 1 must stay off")
	}
}

func TestTurboMaskFrozenAtRunStart(t *testing.T) {
	r := newRig(t)
	r.eng.SetChamberPressure(0, 50000)
	r.eng.SetChamberPressure(1, 50000)
	r.tick()

	if err := r.seq.OneKeyVacuumStart(); err != nil {
		t.Fatal(err)
	}
	r.run(5 * time.Second)

	// Disabling a pump mid-run must not change the run in progress.
	if err := r.seq.SetTurboEnabled(1, false); err != nil {
		t.Fatal(err)
	}
	if !r.runUntil(30*time.Minute, func() bool { return r.seq.State() == core.StateIdle }) {
		t.Fatalf("run did not complete: state=%v step=%d", r.seq.State(), r.seq.Step())
	}

	snap := r.mir.Snapshot()
	if !snap.TurboOn[0] || !snap.TurboOn[1] {
		t.Fatal("both turbos were enabled at run start and must come up")
	}
	// The reconfiguration holds for the next run.
	if en := r.seq.TurboEnabled(); en[1] {
		t.Fatal("turbo 1 should be disabled for subsequent runs")
	}
}

func TestStuckValveFaultsRun(t *testing.T) {
	r := newRig(t)
	stuck := core.GateValveIndex(1)
	r.eng.SetValveStuck(stuck, true)
	r.eng.SetChamberPressure(0, 50000)
	r.eng.SetChamberPressure(1, 50000)
	r.tick()

	if err := r.seq.OneKeyVacuumStart(); err != nil {
		t.Fatal(err)
	}
	if !r.runUntil(2*time.Minute, func() bool { return r.seq.State() == core.StateFault }) {
		t.Fatalf("stuck valve did not fault the run: state=%v", r.seq.State())
	}

	if got := r.trk.State(stuck); got != tracker.ActionOpenTimeout {
		t.Fatalf("tracker state = %v, want OpenTimeout", got)
	}

	wantCode := core.AlarmCodeValveTimeoutBase + stuck
	count := 0
	for _, a := range r.alm.History() {
		if a.Code == wantCode {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("alarm code %d raised %d times, want exactly 1", wantCode, count)
	}

	// Fault is terminal: further ticks change nothing.
	r.run(30 * time.Second)
	if got := r.seq.State(); got != core.StateFault {
		t.Fatalf("state = %v, want Fault to latch", got)
	}
}

func TestShutdownAfterRun(t *testing.T) {
	r := newRig(t)
	r.eng.SetChamberPressure(0, 50000)
	r.eng.SetChamberPressure(1, 50000)
	r.tick()
	if err := r.seq.OneKeyVacuumStart(); err != nil {
		t.Fatal(err)
	}
	if !r.runUntil(30*time.Minute, func() bool { return r.seq.State() == core.StateIdle }) {
		t.Fatal("startup did not complete")
	}

	if err := r.seq.OneKeyVacuumStop(); err != nil {
		t.Fatal(err)
	}
	if !r.runUntil(30*time.Minute, func() bool { return r.seq.State() == core.StateIdle }) {
		t.Fatalf("shutdown did not complete: state=%v step=%d", r.seq.State(), r.seq.Step())
	}

	snap := r.mir.Snapshot()
	if snap.ScrewPumpOn || snap.RootsPumpOn || snap.TurboOn[0] || snap.TurboOn[1] {
		t.Fatal("all pumps must be off after shutdown")
	}
	for _, idx := range []int{0, 1, 2, isolationSolenoid} {
		if !snap.Valve(idx).Close {
			t.Fatalf("valve %d should be closed after shutdown", idx)
		}
	}
}

func TestCloseSweepSkipsGateWithoutPermitBit(t *testing.T) {
	r := newRig(t)
	aux := core.GateValveIndex(5) // no permit bit wired for this valve

	if err := r.seq.SwitchToManual(); err != nil {
		t.Fatal(err)
	}
	if err := r.seq.SetGateValve(5, true); err != nil {
		t.Fatal(err)
	}
	r.run(5 * time.Second)
	if !r.mir.Snapshot().Valve(aux).Open {
		t.Fatal("gate should be open before venting")
	}

	// The venting close sweep must leave the unpermitted gate alone and the
	// done check must not wait on it.
	if err := r.seq.ChamberVent(); err != nil {
		t.Fatal(err)
	}
	if !r.runUntil(10*time.Minute, func() bool { return r.seq.State() == core.StateIdle }) {
		t.Fatalf("venting did not complete: state=%v step=%d", r.seq.State(), r.seq.Step())
	}

	if !r.mir.Snapshot().Valve(aux).Open {
		t.Fatal("gate without a permit bit must not be force-closed")
	}
	if got := r.trk.State(aux); got != tracker.ActionIdle {
		t.Fatalf("tracker state = %v, want Idle (valve never commanded)", got)
	}
	if r.alm.HasActive() {
		t.Fatalf("skip must never raise alarms, got %+v", r.alm.ActiveAlarms())
	}
}

func TestChamberVentProcedure(t *testing.T) {
	r := newRig(t)
	r.eng.SetChamberPressure(0, 10)
	r.eng.SetChamberPressure(1, 10)
	r.tick()

	if err := r.seq.ChamberVent(); err != nil {
		t.Fatal(err)
	}
	if !r.runUntil(10*time.Minute, func() bool { return r.seq.State() == core.StateIdle }) {
		t.Fatalf("venting did not complete: state=%v step=%d", r.seq.State(), r.seq.Step())
	}

	snap := r.mir.Snapshot()
	if snap.PrimaryAPa < ventDonePa || snap.PrimaryBPa < ventDonePa {
		t.Fatalf("chambers at %.0f/%.0f Pa, want >= %.0f", snap.PrimaryAPa, snap.PrimaryBPa, ventDonePa)
	}
	if !snap.Valve(core.VentValveIndex(0)).Close || !snap.Valve(core.VentValveIndex(1)).Close {
		t.Fatal("vent valves must be closed at completion")
	}
}
