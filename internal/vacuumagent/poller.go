package vacuumagent

import (
	"context"
	"fmt"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/alarm"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/metrics"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plant"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plc"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/seq"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/tracker"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
)

// Interlock thresholds evaluated on every poll tick.
const minAirPressureMPa = 0.4

var sequencerStates = []core.SystemState{
	core.StateIdle, core.StatePumping, core.StateStopping,
	core.StateVenting, core.StateFault, core.StateEmergencyStop,
}

// Poller drives the whole control loop: one goroutine, one fixed period, one
// pass over reconnect, mirror, valve tracking, interlocks and the sequencer.
// Nothing else in the agent reads the PLC.
type Poller struct {
	gw      *plc.Gateway
	mirror  *plant.Mirror
	tracker *tracker.Tracker
	alarms  *alarm.Manager
	seq     *seq.Sequencer
	period  time.Duration
	now     func() time.Time
	logger  log.Logger
}

// NewPoller wires the poll cycle over an already-constructed stack.
func NewPoller(gw *plc.Gateway, mirror *plant.Mirror, trk *tracker.Tracker, alarms *alarm.Manager, s *seq.Sequencer, period time.Duration) *Poller {
	return &Poller{
		gw:      gw,
		mirror:  mirror,
		tracker: trk,
		alarms:  alarms,
		seq:     s,
		period:  period,
		now:     time.Now,
		logger:  log.WithName("poller"),
	}
}

// SetClock injects a fake clock for tests.
func (p *Poller) SetClock(now func() time.Time) { p.now = now }

// Run ticks until the context ends.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "period", p.period.String())
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.TickOnce()
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		}
	}
}

// TickOnce runs a single poll cycle in the fixed order: reconnect check,
// mirror refresh, valve action tracking, interlock evaluation, escalation
// handoff, one sequencer tick, metrics.
func (p *Poller) TickOnce() {
	start := p.now()

	if p.gw.MaybeReconnect(start) {
		metrics.PLCReconnectAttemptsTotal.Inc()
	}
	if p.gw.TakeResync() {
		p.mirror.Refresh(p.gw)
		p.seq.Resynchronize(p.mirror.Snapshot())
	}

	p.mirror.Refresh(p.gw)
	snap := p.mirror.Snapshot()

	if snap.Connected {
		for idx, fb := range snap.Valves {
			p.tracker.Update(idx, fb)
		}
		p.tracker.TimeoutCheck()
		p.evaluateInterlocks(snap)
	}

	if p.alarms.TakeEscalation() {
		p.seq.EscalateFault()
	}

	p.seq.Tick(snap)
	p.observe(snap, time.Since(start))
}

// evaluateInterlocks raises and clears the self-monitoring alarms. Both are
// level conditions: the alarm stays active while the condition holds and
// clears itself when it recovers.
func (p *Poller) evaluateInterlocks(snap core.PlantSnapshot) {
	if !snap.PhaseSequenceOK {
		p.alarms.Raise(core.AlarmCodePhaseSequence, core.AlarmTypeInterlock, "mains phase sequence wrong", "phase-monitor")
	} else {
		p.alarms.Clear(core.AlarmCodePhaseSequence)
	}

	if snap.AirPressureMPa < minAirPressureMPa {
		p.alarms.Raise(core.AlarmCodeAirPressureLow, core.AlarmTypeInterlock,
			fmt.Sprintf("compressed air pressure low: %.2f MPa", snap.AirPressureMPa), "air-supply")
	} else {
		p.alarms.Clear(core.AlarmCodeAirPressureLow)
	}
}

func (p *Poller) observe(snap core.PlantSnapshot, elapsed time.Duration) {
	if snap.Connected {
		metrics.PLCConnected.Set(1)
	} else {
		metrics.PLCConnected.Set(0)
	}

	state := p.seq.State()
	for _, s := range sequencerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		metrics.SystemState.WithLabelValues(string(s)).Set(v)
	}
	metrics.SequenceStep.Set(float64(p.seq.Step()))

	metrics.ChamberPressurePa.WithLabelValues("primaryA").Set(snap.PrimaryAPa)
	metrics.ChamberPressurePa.WithLabelValues("primaryB").Set(snap.PrimaryBPa)
	metrics.ChamberPressurePa.WithLabelValues("foreline").Set(snap.ForelinePa)

	for i := 0; i < core.TurboPumpCount; i++ {
		metrics.TurboSpeedRPM.WithLabelValues(fmt.Sprintf("turbo%d", i)).Set(float64(snap.TurboSpeedRPM[i]))
	}

	metrics.ActiveAlarms.Set(float64(len(p.alarms.ActiveAlarms())))
	metrics.PollCycleSeconds.Observe(elapsed.Seconds())
}
