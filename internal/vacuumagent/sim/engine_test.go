package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plc"
)

func newTestEngine(t *testing.T) (*Engine, *plc.PointMap) {
	t.Helper()
	pm := plc.DefaultPointMap()
	e := NewEngine(pm, 2*time.Second)
	if err := e.Connect(context.Background(), "sim", 0); err != nil {
		t.Fatal(err)
	}
	return e, pm
}

// run advances the model in poller-sized steps.
func run(e *Engine, seconds float64) {
	const dt = 0.1
	for t := 0.0; t < seconds; t += dt {
		e.Step(dt)
	}
}

func mustWrite(t *testing.T, e *Engine, addr plc.Address, v bool) {
	t.Helper()
	if err := e.WriteBool(addr, v); err != nil {
		t.Fatalf("WriteBool(%v): %v", addr, err)
	}
}

func readBool(t *testing.T, e *Engine, addr plc.Address) bool {
	t.Helper()
	v, err := e.ReadBool(addr)
	if err != nil {
		t.Fatalf("ReadBool(%v): %v", addr, err)
	}
	return v
}

func readFloat(t *testing.T, e *Engine, addr plc.Address) float64 {
	t.Helper()
	hi, lo := addr.FloatWords()
	h, err := e.ReadWord(hi)
	if err != nil {
		t.Fatal(err)
	}
	l, err := e.ReadWord(lo)
	if err != nil {
		t.Fatal(err)
	}
	return float64(math.Float32frombits(uint32(h)<<16 | uint32(l)))
}

func TestValveSettleAndFeedback(t *testing.T) {
	e, pm := newTestEngine(t)
	gate := &pm.GateValves[0]

	mustWrite(t, e, gate.OpenCmd, true)

	// In transit: neither feedback bit.
	run(e, 1.0)
	if readBool(t, e, gate.OpenFB) || readBool(t, e, gate.CloseFB) {
		t.Fatal("feedback bits must be off while the valve is in transit")
	}

	run(e, 1.5)
	if !readBool(t, e, gate.OpenFB) {
		t.Fatal("open feedback expected after settle time")
	}

	mustWrite(t, e, gate.CloseCmd, true)
	run(e, 2.5)
	if !readBool(t, e, gate.CloseFB) {
		t.Fatal("close feedback expected after closing")
	}
}

func TestStuckValveNeverSettles(t *testing.T) {
	e, pm := newTestEngine(t)
	e.SetValveStuck(core.GateBypass, true)
	bypass := &pm.GateValves[core.GateBypass]

	mustWrite(t, e, bypass.OpenCmd, true)
	run(e, 30)
	if readBool(t, e, bypass.OpenFB) {
		t.Fatal("stuck valve must not reach position")
	}
}

func TestPumpDownRoughing(t *testing.T) {
	e, pm := newTestEngine(t)

	// Screw pump on, isolation solenoid open, bypass gate open.
	mustWrite(t, e, pm.ScrewPumpPower, true)
	mustWrite(t, e, pm.ScrewPumpStart, true)
	mustWrite(t, e, pm.Solenoids[0].OpenCmd, true)
	mustWrite(t, e, pm.GateValves[core.GateBypass].OpenCmd, true)
	mustWrite(t, e, pm.RootsPumpPower, true)

	run(e, 120)

	fore := readFloat(t, e, pm.Foreline)
	if fore > 100 {
		t.Fatalf("foreline = %.1f Pa after roughing, want < 100", fore)
	}
	chamberA := readFloat(t, e, pm.PrimaryA)
	if chamberA > 500 {
		t.Fatalf("chamber A = %.1f Pa after roughing, want < 500", chamberA)
	}
}

func TestHighVacuumPath(t *testing.T) {
	e, pm := newTestEngine(t)

	mustWrite(t, e, pm.ScrewPumpPower, true)
	mustWrite(t, e, pm.ScrewPumpStart, true)
	mustWrite(t, e, pm.Solenoids[0].OpenCmd, true)
	mustWrite(t, e, pm.RootsPumpPower, true)
	mustWrite(t, e, pm.GateValves[core.GateBypass].OpenCmd, true)
	run(e, 120)

	// Close the bypass, spin up turbo 0 and open its gate.
	mustWrite(t, e, pm.GateValves[core.GateBypass].CloseCmd, true)
	mustWrite(t, e, pm.TurboPower[0], true)
	mustWrite(t, e, pm.TurboStart[0], true)
	run(e, 60) // spin-up: 600 rpm/s to 33000
	if v, _ := e.ReadWord(pm.TurboSpeed[0]); v < 30000 {
		t.Fatalf("turbo speed = %d rpm, want >= 30000", v)
	}
	mustWrite(t, e, pm.GateValves[0].OpenCmd, true)
	run(e, 120)

	chamberA := readFloat(t, e, pm.PrimaryA)
	if chamberA > 1 {
		t.Fatalf("chamber A = %.3f Pa on the turbo path, want < 1", chamberA)
	}
}

func TestVentRaisesChamberFast(t *testing.T) {
	e, pm := newTestEngine(t)
	e.SetChamberPressure(0, 10)

	mustWrite(t, e, pm.VentValves[0].OpenCmd, true)
	run(e, 30)

	chamberA := readFloat(t, e, pm.PrimaryA)
	if chamberA < 90000 {
		t.Fatalf("chamber A = %.0f Pa after venting, want near atmosphere", chamberA)
	}
}

func TestInterlockHooks(t *testing.T) {
	e, pm := newTestEngine(t)

	if !readBool(t, e, pm.PhaseOK) {
		t.Fatal("phase sequence defaults to OK")
	}
	e.SetPhaseOK(false)
	if readBool(t, e, pm.PhaseOK) {
		t.Fatal("phase bit should follow the hook")
	}

	e.SetAirPressure(0.2)
	if got := readFloat(t, e, pm.AirPressure); got > 0.25 || got < 0.15 {
		t.Fatalf("air pressure = %.2f MPa, want 0.2", got)
	}

	e.SetValvePermit(1, false)
	if readBool(t, e, *pm.GateValves[1].Permit) {
		t.Fatal("permit bit should follow the hook")
	}
}
