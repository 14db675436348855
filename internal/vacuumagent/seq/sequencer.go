// Package seq is the operating-mode / system-state / step engine of the
// vacuum plant. Procedures are ordered step tables; every wait is a
// non-blocking check evaluated once per poll tick against the step clock, so
// the sequencer never blocks the poller.
package seq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/alarm"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plant"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/tracker"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/options"
)

// Process thresholds. Pressures in Pa unless noted.
const (
	minAirPressureMPa    = 0.4
	lowVacuumThresholdPa = 3000.0
	screwReadyHz         = 110.0
	forelineRoughPa      = 7000.0
	chamberReadyPa       = 45.0
	turboAtSpeedRPM      = 30000
	ventDonePa           = 80000.0

	nonVacFirstStep = 1
	lowVacFirstStep = 100
)

// Sequencer drives the plant procedures. All entry points take the single
// sequencer lock; lock-held sections never perform blocking I/O (actuation
// goes through the fail-fast gateway).
type Sequencer struct {
	mu  sync.Mutex
	fsm *fsm.FSM

	mode        core.OperationMode
	step        int
	stepEntered bool
	stepStart   time.Time
	branchLow   bool

	// turboEnabled is the configured participation mask; runTurbo is the
	// copy frozen at PUMPING entry, so a reconfiguration mid-run only takes
	// effect on the next run.
	turboEnabled [core.TurboPumpCount]bool
	runTurbo     [core.TurboPumpCount]bool

	lastSnap core.PlantSnapshot

	act    *plant.Actuator
	trk    *tracker.Tracker
	alarms *alarm.Manager
	opts   *options.PlantOptions

	nonVac   []procStep
	lowVac   []procStep
	stopping []procStep
	venting  []procStep

	now    func() time.Time
	logger log.Logger
}

// New builds the sequencer in Idle, Auto mode.
func New(act *plant.Actuator, trk *tracker.Tracker, alarms *alarm.Manager, opts *options.PlantOptions) *Sequencer {
	s := &Sequencer{
		mode:   core.ModeAuto,
		act:    act,
		trk:    trk,
		alarms: alarms,
		opts:   opts,
		now:    time.Now,
		logger: log.WithName("seq"),
	}
	for i := 0; i < core.TurboPumpCount; i++ {
		if i < len(opts.TurboEnabled) {
			s.turboEnabled[i] = opts.TurboEnabled[i]
		}
	}
	s.fsm = newStateMachine(s)
	s.nonVac = s.nonVacSteps()
	s.lowVac = s.lowVacSteps()
	s.stopping = s.stoppingSteps()
	s.venting = s.ventingSteps()
	return s
}

// SetClock replaces the time source. Test hook.
func (s *Sequencer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// procStep is one entry of a procedure table. enter runs once when the step
// is armed; done is re-evaluated every tick; rollback runs best-effort when
// the step overruns its window.
type procStep struct {
	num      int
	name     string
	timeout  time.Duration // 0 disables the overrun check
	enter    func(s *Sequencer) error
	done     func(s *Sequencer, snap core.PlantSnapshot) bool
	rollback func(s *Sequencer)
	last     bool
}

func findStep(proc []procStep, num int) (*procStep, int) {
	for i := range proc {
		if proc[i].num == num {
			return &proc[i], i
		}
	}
	return nil, -1
}

// Tick runs exactly one evaluation of the current step. Called once per poll
// cycle with the freshly refreshed snapshot.
func (s *Sequencer) Tick(snap core.PlantSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSnap = snap

	// A dead link is "pending", never a sequence failure; the reconnect
	// resynchronize pass decides what happens to a run that spanned it.
	if !snap.Connected {
		return
	}

	switch s.stateLocked() {
	case core.StatePumping:
		if s.branchLow {
			s.runStep(s.lowVac)
		} else {
			s.runStep(s.nonVac)
		}
	case core.StateStopping:
		s.runStep(s.stopping)
	case core.StateVenting:
		s.runStep(s.venting)
	}
}

func (s *Sequencer) runStep(proc []procStep) {
	st, i := findStep(proc, s.step)
	if st == nil {
		s.logger.Warn("step not in procedure table, aborting run", "step", s.step)
		s.finishLocked()
		return
	}

	if !s.stepEntered {
		if st.enter != nil {
			if err := st.enter(s); err != nil {
				s.logger.Warn("step actuation incomplete", "step", st.num, "name", st.name, "err", err.Error())
			}
		}
		s.stepEntered = true
		s.stepStart = s.now()
		s.logger.Info("step entered", "step", st.num, "name", st.name)
	}

	if st.done == nil || st.done(s, s.lastSnap) {
		if st.last {
			s.logger.Info("procedure complete", "state", s.stateLocked())
			s.finishLocked()
			return
		}
		s.armStep(proc[i+1].num)
		return
	}

	if st.timeout > 0 && s.now().Sub(s.stepStart) > st.timeout {
		s.failStepLocked(st)
	}
}

// armStep points the engine at a step; its enter action runs on the next
// evaluation.
func (s *Sequencer) armStep(num int) {
	s.step = num
	s.stepEntered = false
}

func (s *Sequencer) finishLocked() {
	if err := s.fsm.Event(context.Background(), EventFinish); err != nil {
		s.logger.Error(err, "finish transition failed")
	}
}

// failStepLocked latches the run into Fault: exactly one step alarm, then a
// best-effort rollback of whatever the step had partially actuated.
func (s *Sequencer) failStepLocked(st *procStep) {
	msg := fmt.Sprintf("step %d (%s) exceeded %s", st.num, st.name, st.timeout)
	s.alarms.Raise(core.AlarmCodeStepTimeoutBase+st.num, core.AlarmTypeSequence, msg, st.name)
	if st.rollback != nil {
		st.rollback(s)
	}
	if err := s.fsm.Event(context.Background(), EventFault); err != nil {
		s.logger.Error(err, "fault transition failed")
	}
}

// EscalateFault latches Fault in response to raised alarms. A worse terminal
// state is never downgraded.
func (s *Sequencer) EscalateFault() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateLocked().Terminal() {
		return
	}
	if err := s.fsm.Event(context.Background(), EventFault); err != nil {
		s.logger.Error(err, "fault transition failed")
	}
}

// Resynchronize runs once after a PLC reconnect. Terminal states are kept;
// a run interrupted by the link loss cannot be trusted mid-step, so any
// non-terminal state re-derives to Idle and pending valve deadlines are
// dropped.
func (s *Sequencer) Resynchronize(snap core.PlantSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSnap = snap
	s.trk.ResetAll()
	if s.stateLocked().Terminal() {
		return
	}
	prev := s.stateLocked()
	s.fsm.SetState(string(core.StateIdle))
	s.step = 0
	s.stepEntered = false
	s.branchLow = false
	s.logger.Info("resynchronized after reconnect", "previousState", prev)
}

func (s *Sequencer) stateLocked() core.SystemState {
	return core.SystemState(s.fsm.Current())
}

// State returns the current system state.
func (s *Sequencer) State() core.SystemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Mode returns the operation mode.
func (s *Sequencer) Mode() core.OperationMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Step returns the current step number (0 outside a procedure).
func (s *Sequencer) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// TurboEnabled returns the per-pump enable configuration.
func (s *Sequencer) TurboEnabled() [core.TurboPumpCount]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turboEnabled
}
