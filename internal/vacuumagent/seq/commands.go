package seq

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
)

// Control-plane entry points. Each returns a typed failure (core.Err*) that
// the transports map to response codes; state is never left half-changed on
// rejection.

// SwitchToAuto selects automatic sequencing.
func (s *Sequencer) SwitchToAuto() error {
	return s.switchMode(core.ModeAuto)
}

// SwitchToManual selects manual actuation.
func (s *Sequencer) SwitchToManual() error {
	return s.switchMode(core.ModeManual)
}

func (s *Sequencer) switchMode(m core.OperationMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.stateLocked(); st == core.StatePumping || st == core.StateStopping || st == core.StateVenting {
		return fmt.Errorf("mode change during %s: %w", st, core.ErrBusy)
	}
	if s.mode != m {
		s.logger.Info("operation mode changed", "mode", m)
	}
	s.mode = m
	return nil
}

// OneKeyVacuumStart begins a pumping run. Requires Auto mode, Idle state, no
// active alarms, phase sequence OK and sufficient air pressure; the branch is
// selected from the chamber gauge exactly once.
func (s *Sequencer) OneKeyVacuumStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.stateLocked(); st != core.StateIdle {
		return fmt.Errorf("start from %s: %w", st, core.ErrBusy)
	}
	if err := s.fsm.Event(context.Background(), EventStart); err != nil {
		return unwrapFSMError(err)
	}
	return nil
}

// OneKeyVacuumStop begins the shutdown procedure. Invoking it while the
// plant is already stopping is a silent no-op.
func (s *Sequencer) OneKeyVacuumStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateLocked() == core.StateStopping {
		return nil
	}
	if st := s.stateLocked(); st.Terminal() {
		return fmt.Errorf("stop from %s: %w", st, core.ErrBusy)
	}
	if err := s.fsm.Event(context.Background(), EventStop); err != nil {
		return unwrapFSMError(err)
	}
	return nil
}

// ChamberVent begins the venting procedure. Only allowed from Idle with the
// turbo pumps at rest.
func (s *Sequencer) ChamberVent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.stateLocked(); st != core.StateIdle {
		return fmt.Errorf("vent from %s: %w", st, core.ErrBusy)
	}
	if !turbosStopped(s.lastSnap) {
		return fmt.Errorf("turbo pumps still spinning: %w", core.ErrBusy)
	}
	if err := s.fsm.Event(context.Background(), EventVent); err != nil {
		return unwrapFSMError(err)
	}
	return nil
}

// EmergencyStop is unconditional from any state: all pumps off, every
// permitted valve force-closed, pending valve deadlines dropped, mode forced
// to Manual. The resulting state is terminal until FaultReset.
func (s *Sequencer) EmergencyStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Warn("EMERGENCY STOP")

	s.act.StopAllPumps()
	all := make([]int, 0, 16)
	all = append(all, primaryGates...)
	all = append(all, otherGates...)
	all = append(all, isolationSolenoid)
	all = append(all, upstreamSolenoids...)
	all = append(all, ventValves...)
	all = append(all, core.WaterValveIndex(0), core.WaterValveIndex(1), core.AirMainValveIndex)
	s.forceCloseSkipUnpermitted(all...)

	s.trk.ResetAll()
	s.mode = core.ModeManual
	s.fsm.SetState(string(core.StateEmergencyStop))
	s.step = 0
	s.stepEntered = false
	s.branchLow = false
}

// FaultReset leaves Fault or EmergencyStop after operator intervention:
// active alarms and acknowledgement bookkeeping are cleared and the plant
// returns to Idle, step 0. Conditions that still hold re-raise on the next
// poll cycle.
func (s *Sequencer) FaultReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.stateLocked(); !st.Terminal() {
		return fmt.Errorf("reset from %s: %w", st, core.ErrBusy)
	}
	s.alarms.ClearActive()
	s.trk.ResetAll()
	if err := s.fsm.Event(context.Background(), EventReset); err != nil {
		return unwrapFSMError(err)
	}
	s.logger.Info("fault reset, plant idle")
	return nil
}

// SetTurboEnabled configures whether a turbo pump takes part in runs. A run
// already in progress keeps the mask it entered PUMPING with; the change
// applies from the next run.
func (s *Sequencer) SetTurboEnabled(i int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= core.TurboPumpCount {
		return fmt.Errorf("turbo pump %d: %w", i, core.ErrBadIndex)
	}
	s.turboEnabled[i] = enabled
	return nil
}

// manualGate rejects manual actuation while in Auto mode or while a
// procedure is running. Terminal states allow manual actuation so an
// operator can recover the plant by hand.
func (s *Sequencer) manualGate() error {
	if s.mode != core.ModeManual {
		return fmt.Errorf("manual actuation in %s mode: %w", s.mode, core.ErrWrongMode)
	}
	if st := s.stateLocked(); st == core.StatePumping || st == core.StateStopping || st == core.StateVenting {
		return fmt.Errorf("procedure running (%s): %w", st, core.ErrBusy)
	}
	return nil
}

// SetScrewPumpPower switches the roughing pump contactor (manual mode).
func (s *Sequencer) SetScrewPumpPower(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.manualGate(); err != nil {
		return err
	}
	return s.act.SetScrewPumpPower(on)
}

// SetScrewPumpStart raises or drops the roughing pump start command.
func (s *Sequencer) SetScrewPumpStart(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.manualGate(); err != nil {
		return err
	}
	return s.act.SetScrewPumpStart(on)
}

// SetRootsPumpPower switches the booster pump (manual mode).
func (s *Sequencer) SetRootsPumpPower(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.manualGate(); err != nil {
		return err
	}
	return s.act.SetRootsPumpPower(on)
}

// SetTurboPumpPower switches one turbo pump (manual mode).
func (s *Sequencer) SetTurboPumpPower(i int, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.manualGate(); err != nil {
		return err
	}
	return s.act.SetTurboPower(i, on)
}

// SetTurboPumpStart raises or drops one turbo pump's start command.
func (s *Sequencer) SetTurboPumpStart(i int, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.manualGate(); err != nil {
		return err
	}
	return s.act.SetTurboStart(i, on)
}

// SetGateValve actuates one gate valve (manual mode, tracked, permit
// checked).
func (s *Sequencer) SetGateValve(i int, open bool) error {
	if i < 0 || i >= core.GateValveCount {
		return fmt.Errorf("gate valve %d: %w", i, core.ErrBadIndex)
	}
	return s.manualValve(core.GateValveIndex(i), open)
}

// SetSolenoidValve actuates one solenoid valve (manual mode).
func (s *Sequencer) SetSolenoidValve(i int, open bool) error {
	if i < 0 || i >= core.SolenoidValveCount {
		return fmt.Errorf("solenoid valve %d: %w", i, core.ErrBadIndex)
	}
	return s.manualValve(core.SolenoidValveIndex(i), open)
}

// SetVentValve actuates one vent valve (manual mode).
func (s *Sequencer) SetVentValve(i int, open bool) error {
	if i < 0 || i >= core.VentValveCount {
		return fmt.Errorf("vent valve %d: %w", i, core.ErrBadIndex)
	}
	return s.manualValve(core.VentValveIndex(i), open)
}

// SetWaterValve actuates one cooling-water valve (manual mode).
func (s *Sequencer) SetWaterValve(i int, open bool) error {
	if i < 0 || i >= core.WaterValveCount {
		return fmt.Errorf("water valve %d: %w", i, core.ErrBadIndex)
	}
	return s.manualValve(core.WaterValveIndex(i), open)
}

// SetAirMainValve actuates the compressed-air main valve (manual mode).
func (s *Sequencer) SetAirMainValve(open bool) error {
	return s.manualValve(core.AirMainValveIndex, open)
}

func (s *Sequencer) manualValve(idx int, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.manualGate(); err != nil {
		return err
	}
	if open {
		return s.act.OpenValve(idx)
	}
	return s.act.CloseValve(idx)
}

// unwrapFSMError strips looplab's wrappers so callers see the typed guard
// error; an invalid-transition rejection maps to ErrBusy.
func unwrapFSMError(err error) error {
	var canceled fsm.CanceledError
	if errors.As(err, &canceled) && canceled.Err != nil {
		return canceled.Err
	}
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return fmt.Errorf("no transition %s from %s: %w", invalid.Event, invalid.State, core.ErrBusy)
	}
	return err
}
