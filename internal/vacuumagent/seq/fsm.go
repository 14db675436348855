package seq

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	fsmutil "github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/util/fsm"
)

const (
	// EventStart begins a pumping run (guarded).
	EventStart = "event_start"
	// EventStop begins the shutdown procedure.
	EventStop = "event_stop"
	// EventVent begins the venting procedure.
	EventVent = "event_vent"
	// EventFinish returns a completed procedure to Idle.
	EventFinish = "event_finish"
	// EventFault latches a failed run.
	EventFault = "event_fault"
	// EventReset leaves a terminal state after operator intervention.
	EventReset = "event_reset"
)

// newStateMachine wires the system-state transitions. Guards and entry
// actions reach back into the sequencer; they run with the sequencer's lock
// already held by the calling command or tick.
func newStateMachine(s *Sequencer) *fsm.FSM {
	events := fsm.Events{
		{Name: EventStart, Src: []string{string(core.StateIdle)}, Dst: string(core.StatePumping)},
		{Name: EventStop, Src: []string{string(core.StateIdle), string(core.StatePumping), string(core.StateVenting)}, Dst: string(core.StateStopping)},
		{Name: EventVent, Src: []string{string(core.StateIdle)}, Dst: string(core.StateVenting)},
		{Name: EventFinish, Src: []string{string(core.StatePumping), string(core.StateStopping), string(core.StateVenting)}, Dst: string(core.StateIdle)},
		{Name: EventFault, Src: []string{
			string(core.StateIdle), string(core.StatePumping),
			string(core.StateStopping), string(core.StateVenting),
		}, Dst: string(core.StateFault)},
		{Name: EventReset, Src: []string{string(core.StateFault), string(core.StateEmergencyStop)}, Dst: string(core.StateIdle)},
	}

	callbacks := fsm.Callbacks{
		"before_" + EventStart: fsmutil.WrapEvent(s.guardStart),

		"enter_" + string(core.StatePumping):  fsmutil.WrapEvent(s.enterPumping),
		"enter_" + string(core.StateStopping): fsmutil.WrapEvent(s.enterStopping),
		"enter_" + string(core.StateVenting):  fsmutil.WrapEvent(s.enterVenting),
		"enter_" + string(core.StateIdle):     fsmutil.WrapEvent(s.enterIdle),
		"enter_" + string(core.StateFault):    fsmutil.WrapEvent(s.enterFault),
	}

	return fsm.NewFSM(string(core.StateIdle), events, callbacks)
}

// guardStart enforces the one-key start interlocks: Auto mode, no active
// alarms, phase sequence present, compressed air available. A failed check
// cancels the transition so the state is left untouched.
func (s *Sequencer) guardStart(_ context.Context, e *fsm.Event) error {
	switch {
	case s.mode != core.ModeAuto:
		e.Cancel(fmt.Errorf("start requires Auto mode: %w", core.ErrWrongMode))
	case s.alarms.HasActive():
		e.Cancel(fmt.Errorf("active alarms present: %w", core.ErrNoPermit))
	case !s.lastSnap.PhaseSequenceOK:
		e.Cancel(fmt.Errorf("phase sequence not OK: %w", core.ErrNoPermit))
	case s.lastSnap.AirPressureMPa < minAirPressureMPa:
		e.Cancel(fmt.Errorf("air pressure %.2f MPa below %.2f: %w",
			s.lastSnap.AirPressureMPa, minAirPressureMPa, core.ErrNoPermit))
	}
	return nil
}

// enterPumping freezes the branch from the chamber gauge and the turbo
// participation mask, then arms the first step. Both hold for the whole run
// regardless of later gauge movement or reconfiguration.
func (s *Sequencer) enterPumping(_ context.Context, _ *fsm.Event) error {
	s.runTurbo = s.turboEnabled
	if s.lastSnap.PrimaryAPa < lowVacuumThresholdPa {
		s.branchLow = true
		s.armStep(lowVacFirstStep)
	} else {
		s.branchLow = false
		s.armStep(nonVacFirstStep)
	}
	s.logger.Info("pumping started", "lowVacuumBranch", s.branchLow, "chamberPa", s.lastSnap.PrimaryAPa)
	return nil
}

func (s *Sequencer) enterStopping(_ context.Context, _ *fsm.Event) error {
	s.armStep(1)
	s.logger.Info("shutdown started")
	return nil
}

func (s *Sequencer) enterVenting(_ context.Context, _ *fsm.Event) error {
	s.armStep(1)
	s.logger.Info("venting started")
	return nil
}

func (s *Sequencer) enterIdle(_ context.Context, _ *fsm.Event) error {
	s.step = 0
	s.stepEntered = false
	s.branchLow = false
	return nil
}

func (s *Sequencer) enterFault(_ context.Context, _ *fsm.Event) error {
	s.logger.Warn("sequence faulted", "step", s.step)
	return nil
}
