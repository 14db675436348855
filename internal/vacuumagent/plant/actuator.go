package plant

import (
	"fmt"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plc"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/tracker"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
)

// Actuator issues device commands through the gateway. Tracked valve motions
// register with the tracker so their feedback is supervised; Force writes
// bypass supervision and are reserved for emergency shutdown and best-effort
// sweeps where a stuck valve must not abort the procedure.
type Actuator struct {
	gw      *plc.Gateway
	points  *plc.PointMap
	mirror  *Mirror
	tracker *tracker.Tracker
	logger  log.Logger
}

// NewActuator wires the actuation layer.
func NewActuator(gw *plc.Gateway, points *plc.PointMap, mirror *Mirror, trk *tracker.Tracker) *Actuator {
	return &Actuator{
		gw:      gw,
		points:  points,
		mirror:  mirror,
		tracker: trk,
		logger:  log.WithName("actuator"),
	}
}

// OpenValve commands a tracked open on the valve with the given plant index.
func (a *Actuator) OpenValve(idx int) error {
	return a.move(idx, true)
}

// CloseValve commands a tracked close.
func (a *Actuator) CloseValve(idx int) error {
	return a.move(idx, false)
}

func (a *Actuator) move(idx int, open bool) error {
	v := a.points.ValveByIndex(idx)
	if v == nil {
		return fmt.Errorf("valve %d: %w", idx, core.ErrBadIndex)
	}
	if a.tracker.Busy(idx) {
		return fmt.Errorf("valve %s: %w", v.Name, core.ErrBusy)
	}
	if v.Permit != nil {
		fb := a.mirror.Snapshot().Valve(idx)
		if fb.HasPermit && !fb.Permit {
			return fmt.Errorf("valve %s: %w", v.Name, core.ErrNoPermit)
		}
	}
	if !a.writeValve(v, open) {
		return fmt.Errorf("valve %s: %w", v.Name, core.ErrNotConnected)
	}
	a.tracker.StartAction(idx, v.Name, open)
	a.logger.Info("valve commanded", "valve", v.Name, "index", idx, "open", open)
	return nil
}

// ForceValve writes the command bits without supervision or permit checks.
func (a *Actuator) ForceValve(idx int, open bool) error {
	v := a.points.ValveByIndex(idx)
	if v == nil {
		return fmt.Errorf("valve %d: %w", idx, core.ErrBadIndex)
	}
	if !a.writeValve(v, open) {
		return fmt.Errorf("valve %s: %w", v.Name, core.ErrNotConnected)
	}
	return nil
}

// writeValve performs the raw command writes. Latched valves hold a single
// level bit; motorized valves take complementary open/close command bits.
func (a *Actuator) writeValve(v *plc.ValvePoints, open bool) bool {
	if v.Latched {
		return a.gw.WriteBool(v.OpenCmd, open)
	}
	if open {
		return a.gw.WriteBool(v.CloseCmd, false) && a.gw.WriteBool(v.OpenCmd, true)
	}
	return a.gw.WriteBool(v.OpenCmd, false) && a.gw.WriteBool(v.CloseCmd, true)
}

// SetScrewPumpPower switches the screw pump contactor.
func (a *Actuator) SetScrewPumpPower(on bool) error {
	return a.writeBit("screw pump power", a.points.ScrewPumpPower, on)
}

// SetScrewPumpStart raises or drops the screw pump start command.
func (a *Actuator) SetScrewPumpStart(on bool) error {
	return a.writeBit("screw pump start", a.points.ScrewPumpStart, on)
}

// SetRootsPumpPower switches the roots pump.
func (a *Actuator) SetRootsPumpPower(on bool) error {
	return a.writeBit("roots pump power", a.points.RootsPumpPower, on)
}

// SetTurboPower switches one turbo pump's power contactor.
func (a *Actuator) SetTurboPower(i int, on bool) error {
	if i < 0 || i >= core.TurboPumpCount {
		return fmt.Errorf("turbo pump %d: %w", i, core.ErrBadIndex)
	}
	return a.writeBit(fmt.Sprintf("turbo %d power", i), a.points.TurboPower[i], on)
}

// SetTurboStart raises or drops one turbo pump's start command.
func (a *Actuator) SetTurboStart(i int, on bool) error {
	if i < 0 || i >= core.TurboPumpCount {
		return fmt.Errorf("turbo pump %d: %w", i, core.ErrBadIndex)
	}
	return a.writeBit(fmt.Sprintf("turbo %d start", i), a.points.TurboStart[i], on)
}

// StopAllPumps drops every pump command bit. Best effort: write failures are
// logged and the remaining bits are still attempted, since this path runs
// during emergency shutdown.
func (a *Actuator) StopAllPumps() {
	type bit struct {
		name string
		addr plc.Address
	}
	bits := []bit{
		{"screw pump start", a.points.ScrewPumpStart},
		{"screw pump power", a.points.ScrewPumpPower},
		{"roots pump power", a.points.RootsPumpPower},
	}
	for i := 0; i < core.TurboPumpCount; i++ {
		bits = append(bits,
			bit{fmt.Sprintf("turbo %d start", i), a.points.TurboStart[i]},
			bit{fmt.Sprintf("turbo %d power", i), a.points.TurboPower[i]},
		)
	}
	for _, b := range bits {
		if !a.gw.WriteBool(b.addr, false) {
			a.logger.Warn("pump stop write failed", "point", b.name)
		}
	}
}

func (a *Actuator) writeBit(name string, addr plc.Address, v bool) error {
	if !a.gw.WriteBool(addr, v) {
		return fmt.Errorf("%s: %w", name, core.ErrNotConnected)
	}
	a.logger.Debug("bit written", "point", name, "value", v)
	return nil
}
