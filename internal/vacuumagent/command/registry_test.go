package command

import (
	"context"
	"encoding/json"
	"errors"
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

func newTestRegistry(t *testing.T) (*Registry, *seq.Sequencer) {
	t.Helper()
	opts := options.NewPlantOptions()
	pm := plc.DefaultPointMap()
	eng := sim.NewEngine(pm, opts.SimValveSettle)
	gw := plc.NewGateway(eng, "sim", 0, 10*time.Second)
	if !gw.Connect(context.Background()) {
		t.Fatal("simulator connect failed")
	}
	mir := plant.NewMirror(pm)
	alm := alarm.NewManager("sub000", alarm.NewStore(filepath.Join(t.TempDir(), "alarms.json")), nil)
	trk := tracker.New(opts.ValveTimeout, nil)
	act := plant.NewActuator(gw, pm, mir, trk)
	s := seq.New(act, trk, alm, opts)

	eng.Step(0.1)
	mir.Refresh(gw)
	s.Tick(mir.Snapshot())

	return NewRegistry(s, alm), s
}

func TestDispatchUnknownCommand(t *testing.T) {
	r, _ := newTestRegistry(t)
	err := r.Dispatch(context.Background(), "SelfDestruct", nil)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
}

func TestDispatchModeAndValve(t *testing.T) {
	r, s := newTestRegistry(t)

	if err := r.Dispatch(context.Background(), "SwitchToManual", nil); err != nil {
		t.Fatal(err)
	}
	if got := s.Mode(); got != core.ModeManual {
		t.Fatalf("mode = %v, want Manual", got)
	}

	args := json.RawMessage(`{"index": 0, "open": true}`)
	if err := r.Dispatch(context.Background(), "SetGateValve", args); err != nil {
		t.Fatal(err)
	}

	bad := json.RawMessage(`{"index": 99, "open": true}`)
	if err := r.Dispatch(context.Background(), "SetGateValve", bad); !errors.Is(err, core.ErrBadIndex) {
		t.Fatalf("err = %v, want ErrBadIndex", err)
	}
}

func TestDispatchMalformedArguments(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Dispatch(context.Background(), "SwitchToManual", nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Dispatch(context.Background(), "SetGateValve", json.RawMessage(`{"index": "zero"}`)); err == nil {
		t.Fatal("malformed arguments should be rejected")
	}
}

func TestNamesAreComplete(t *testing.T) {
	r, _ := newTestRegistry(t)
	names := map[string]bool{}
	for _, n := range r.Names() {
		names[n] = true
	}
	for _, want := range []string{
		"OneKeyVacuumStart", "OneKeyVacuumStop", "ChamberVent",
		"FaultReset", "EmergencyStop", "SetGateValve",
		"AcknowledgeAlarm", "ClearAlarmHistory",
	} {
		if !names[want] {
			t.Errorf("command %q missing from registry", want)
		}
	}
}
