package seq

import (
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
)

// Valve groups in plant-index terms.
var (
	primaryGates      = []int{core.GateValveIndex(0), core.GateValveIndex(1), core.GateValveIndex(2)}
	otherGates        = []int{core.GateValveIndex(core.GateBypass), core.GateValveIndex(4), core.GateValveIndex(5)}
	upstreamSolenoids = []int{core.SolenoidValveIndex(1), core.SolenoidValveIndex(2), core.SolenoidValveIndex(3)}
	ventValves        = []int{core.VentValveIndex(0), core.VentValveIndex(1)}
)

var isolationSolenoid = core.SolenoidValveIndex(0)
var bypassGate = core.GateValveIndex(core.GateBypass)

func (s *Sequencer) openGroup(idxs ...int) error {
	var firstErr error
	for _, idx := range idxs {
		if err := s.act.OpenValve(idx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Sequencer) closeGroup(idxs ...int) error {
	var firstErr error
	for _, idx := range idxs {
		if err := s.act.CloseValve(idx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// forceCloseSkipUnpermitted is the best-effort sweep used by shutdown,
// venting and rollback paths. A gate valve without a close permit, because
// the bit reads false or is not wired at all, is skipped with a log entry,
// never treated as fatal. Latched valves carry no permit and always close.
// Nothing is registered with the tracker.
func (s *Sequencer) forceCloseSkipUnpermitted(idxs ...int) {
	for _, idx := range idxs {
		if core.IsGateValveIndex(idx) {
			fb := s.lastSnap.Valve(idx)
			if !fb.HasPermit || !fb.Permit {
				s.logger.Warn("valve permit missing, skipping close", "index", idx)
				continue
			}
		}
		if err := s.act.ForceValve(idx, false); err != nil {
			s.logger.Warn("best-effort close failed", "index", idx, "err", err.Error())
		}
	}
}

func allOpen(snap core.PlantSnapshot, idxs ...int) bool {
	for _, idx := range idxs {
		if !snap.Valve(idx).Open {
			return false
		}
	}
	return true
}

func allClosed(snap core.PlantSnapshot, idxs ...int) bool {
	for _, idx := range idxs {
		if !snap.Valve(idx).Close {
			return false
		}
	}
	return true
}

// The turbo helpers consult the run mask frozen at PUMPING entry, not the
// live configuration.
func (s *Sequencer) startEnabledTurbos() error {
	var firstErr error
	for i := 0; i < core.TurboPumpCount; i++ {
		if !s.runTurbo[i] {
			continue
		}
		if err := s.act.SetTurboPower(i, true); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.act.SetTurboStart(i, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Sequencer) enabledTurbosOn(snap core.PlantSnapshot) bool {
	for i := 0; i < core.TurboPumpCount; i++ {
		if s.runTurbo[i] && !snap.TurboOn[i] {
			return false
		}
	}
	return true
}

func (s *Sequencer) enabledTurbosAtSpeed(snap core.PlantSnapshot) bool {
	for i := 0; i < core.TurboPumpCount; i++ {
		if s.runTurbo[i] && snap.TurboSpeedRPM[i] < turboAtSpeedRPM {
			return false
		}
	}
	return true
}

func stopAllTurbos(s *Sequencer) error {
	var firstErr error
	for i := 0; i < core.TurboPumpCount; i++ {
		if err := s.act.SetTurboStart(i, false); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.act.SetTurboPower(i, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func turbosStopped(snap core.PlantSnapshot) bool {
	for i := 0; i < core.TurboPumpCount; i++ {
		if snap.TurboSpeedRPM[i] != 0 {
			return false
		}
	}
	return true
}

// nonVacSteps is the startup branch taken when the chamber is at or above
// the low-vacuum threshold: everything is roughed together through the
// primary gates.
func (s *Sequencer) nonVacSteps() []procStep {
	o := s.opts
	return []procStep{
		{
			num: 1, name: "open isolation solenoid", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.openGroup(isolationSolenoid) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.Valve(isolationSolenoid).Open },
			rollback: func(s *Sequencer) {
				s.forceCloseSkipUnpermitted(isolationSolenoid)
			},
		},
		{
			num: 2, name: "open upstream solenoids", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.openGroup(upstreamSolenoids...) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return allOpen(snap, upstreamSolenoids...) },
			rollback: func(s *Sequencer) {
				s.forceCloseSkipUnpermitted(append(upstreamSolenoids, isolationSolenoid)...)
			},
		},
		{
			num: 3, name: "open primary gate valves", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.openGroup(primaryGates...) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return allOpen(snap, primaryGates...) },
			rollback: func(s *Sequencer) {
				s.forceCloseSkipUnpermitted(primaryGates...)
			},
		},
		{
			num: 4, name: "start roughing pump", timeout: o.PumpRampTimeout,
			enter: func(s *Sequencer) error {
				if err := s.act.SetScrewPumpPower(true); err != nil {
					return err
				}
				return s.act.SetScrewPumpStart(true)
			},
			done: func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.ScrewPumpRunning },
		},
		{
			num: 5, name: "wait roughing pump at speed", timeout: o.PumpRampTimeout,
			done: func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.ScrewFrequencyHz >= screwReadyHz },
		},
		{
			num: 6, name: "wait foreline rough", timeout: o.ForelineTimeout,
			done: func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.ForelinePa < forelineRoughPa },
		},
		{
			num: 7, name: "start booster pump", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.act.SetRootsPumpPower(true) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.RootsPumpOn },
		},
		{
			num: 8, name: "wait chambers rough", timeout: o.HighVacTimeout,
			done: func(s *Sequencer, snap core.PlantSnapshot) bool {
				return snap.PrimaryAPa <= chamberReadyPa && snap.PrimaryBPa <= chamberReadyPa
			},
		},
		{
			num: 9, name: "start turbo pumps", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.startEnabledTurbos() },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return s.enabledTurbosOn(snap) },
		},
		{
			num: 10, name: "wait turbo pumps at speed", timeout: o.TurboSpinTimeout,
			done: func(s *Sequencer, snap core.PlantSnapshot) bool { return s.enabledTurbosAtSpeed(snap) },
		},
		{
			num: 11, name: "hold at full speed",
			done: func(s *Sequencer, snap core.PlantSnapshot) bool {
				return s.now().Sub(s.stepStart) >= s.opts.FullSpeedHold
			},
		},
		{
			num: 12, name: "stop booster pump", timeout: o.ValveTimeout, last: true,
			enter: func(s *Sequencer) error { return s.act.SetRootsPumpPower(false) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return !snap.RootsPumpOn },
		},
	}
}

// lowVacSteps is the startup branch taken when the chamber already holds a
// rough vacuum. The chamber is vented up near atmosphere first so no valve
// opens across a large differential, then roughed back down through the
// bypass before the primary gates open.
func (s *Sequencer) lowVacSteps() []procStep {
	o := s.opts
	return []procStep{
		{
			num: 100, name: "open isolation solenoid", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.openGroup(isolationSolenoid) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.Valve(isolationSolenoid).Open },
			rollback: func(s *Sequencer) {
				s.forceCloseSkipUnpermitted(isolationSolenoid)
			},
		},
		{
			num: 101, name: "vent chambers", timeout: o.VentTimeout,
			enter: func(s *Sequencer) error { return s.openGroup(ventValves...) },
			done: func(s *Sequencer, snap core.PlantSnapshot) bool {
				return snap.PrimaryAPa >= ventDonePa && snap.PrimaryBPa >= ventDonePa
			},
			rollback: func(s *Sequencer) {
				s.forceCloseSkipUnpermitted(ventValves...)
			},
		},
		{
			num: 102, name: "close vent valves", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.closeGroup(ventValves...) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return allClosed(snap, ventValves...) },
		},
		{
			num: 103, name: "start roughing pump", timeout: o.PumpRampTimeout,
			enter: func(s *Sequencer) error {
				if err := s.act.SetScrewPumpPower(true); err != nil {
					return err
				}
				return s.act.SetScrewPumpStart(true)
			},
			done: func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.ScrewPumpRunning },
		},
		{
			num: 104, name: "wait roughing pump at speed", timeout: o.PumpRampTimeout,
			done: func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.ScrewFrequencyHz >= screwReadyHz },
		},
		{
			num: 105, name: "wait foreline rough", timeout: o.ForelineTimeout,
			done: func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.ForelinePa < forelineRoughPa },
		},
		{
			num: 106, name: "start booster pump", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.act.SetRootsPumpPower(true) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.RootsPumpOn },
		},
		{
			num: 107, name: "rough chambers through bypass", timeout: o.ForelineTimeout,
			enter: func(s *Sequencer) error { return s.openGroup(bypassGate) },
			done: func(s *Sequencer, snap core.PlantSnapshot) bool {
				return snap.Valve(bypassGate).Open && snap.PrimaryAPa < lowVacuumThresholdPa
			},
			rollback: func(s *Sequencer) {
				s.forceCloseSkipUnpermitted(bypassGate)
			},
		},
		{
			num: 108, name: "open upstream solenoids and primary gates", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error {
				return s.openGroup(append(append([]int{}, upstreamSolenoids...), primaryGates...)...)
			},
			done: func(s *Sequencer, snap core.PlantSnapshot) bool {
				return allOpen(snap, upstreamSolenoids...) && allOpen(snap, primaryGates...)
			},
			rollback: func(s *Sequencer) {
				s.forceCloseSkipUnpermitted(append(append([]int{}, upstreamSolenoids...), primaryGates...)...)
			},
		},
		{
			num: 109, name: "close bypass gate", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.closeGroup(bypassGate) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.Valve(bypassGate).Close },
		},
		{
			num: 110, name: "wait chambers rough", timeout: o.HighVacTimeout,
			done: func(s *Sequencer, snap core.PlantSnapshot) bool {
				return snap.PrimaryAPa <= chamberReadyPa && snap.PrimaryBPa <= chamberReadyPa
			},
		},
		{
			num: 111, name: "start turbo pumps", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.startEnabledTurbos() },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return s.enabledTurbosOn(snap) },
		},
		{
			num: 112, name: "wait turbo pumps at speed", timeout: o.TurboSpinTimeout,
			done: func(s *Sequencer, snap core.PlantSnapshot) bool { return s.enabledTurbosAtSpeed(snap) },
		},
		{
			num: 113, name: "hold at full speed",
			done: func(s *Sequencer, snap core.PlantSnapshot) bool {
				return s.now().Sub(s.stepStart) >= s.opts.FullSpeedHold
			},
		},
		{
			num: 114, name: "stop booster pump", timeout: o.ValveTimeout, last: true,
			enter: func(s *Sequencer) error { return s.act.SetRootsPumpPower(false) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return !snap.RootsPumpOn },
		},
	}
}

// stoppingSteps shuts the plant down in either mode.
func (s *Sequencer) stoppingSteps() []procStep {
	o := s.opts
	return []procStep{
		{
			num: 1, name: "stop turbo pumps", timeout: o.ValveTimeout,
			enter: stopAllTurbos,
			done: func(s *Sequencer, snap core.PlantSnapshot) bool {
				for i := 0; i < core.TurboPumpCount; i++ {
					if snap.TurboOn[i] {
						return false
					}
				}
				return true
			},
		},
		{
			num: 2, name: "wait turbo pumps stopped", timeout: o.TurboSpinTimeout,
			done: func(s *Sequencer, snap core.PlantSnapshot) bool { return turbosStopped(snap) },
		},
		{
			num: 3, name: "close primary gate valves", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.closeGroup(primaryGates...) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return allClosed(snap, primaryGates...) },
		},
		{
			num: 4, name: "close upstream solenoids", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.closeGroup(upstreamSolenoids...) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return allClosed(snap, upstreamSolenoids...) },
		},
		{
			num: 5, name: "stop booster pump", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.act.SetRootsPumpPower(false) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return !snap.RootsPumpOn },
		},
		{
			num: 6, name: "stop roughing pump", timeout: o.PumpRampTimeout,
			enter: func(s *Sequencer) error {
				if err := s.act.SetScrewPumpStart(false); err != nil {
					return err
				}
				return s.act.SetScrewPumpPower(false)
			},
			done: func(s *Sequencer, snap core.PlantSnapshot) bool { return !snap.ScrewPumpRunning },
		},
		{
			num: 7, name: "close isolation solenoid", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error { return s.closeGroup(isolationSolenoid) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return snap.Valve(isolationSolenoid).Close },
		},
		{
			num: 8, name: "close remaining gate valves",
			enter: func(s *Sequencer) error {
				s.forceCloseSkipUnpermitted(otherGates...)
				return nil
			},
		},
		{
			num: 9, name: "close vent valves", timeout: o.ValveTimeout, last: true,
			enter: func(s *Sequencer) error { return s.closeGroup(ventValves...) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return allClosed(snap, ventValves...) },
		},
	}
}

// ventingSteps brings the chambers back to atmosphere.
func (s *Sequencer) ventingSteps() []procStep {
	o := s.opts
	allGates := append(append([]int{}, primaryGates...), otherGates...)
	return []procStep{
		{
			num: 1, name: "close gate valves", timeout: o.ValveTimeout,
			enter: func(s *Sequencer) error {
				s.forceCloseSkipUnpermitted(allGates...)
				return nil
			},
			done: func(s *Sequencer, snap core.PlantSnapshot) bool {
				for _, idx := range allGates {
					fb := snap.Valve(idx)
					if !fb.HasPermit || !fb.Permit {
						continue
					}
					if !fb.Close {
						return false
					}
				}
				return true
			},
		},
		{
			num: 2, name: "vent chambers", timeout: o.VentTimeout,
			enter: func(s *Sequencer) error { return s.openGroup(ventValves...) },
			done: func(s *Sequencer, snap core.PlantSnapshot) bool {
				return snap.PrimaryAPa >= ventDonePa && snap.PrimaryBPa >= ventDonePa
			},
		},
		{
			num: 3, name: "close vent valves", timeout: o.ValveTimeout, last: true,
			enter: func(s *Sequencer) error { return s.closeGroup(ventValves...) },
			done:  func(s *Sequencer, snap core.PlantSnapshot) bool { return allClosed(snap, ventValves...) },
		},
	}
}
