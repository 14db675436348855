// Package sim is the in-process plant model. It implements the raw PLC
// transport, so the whole agent runs unmodified against it: the gateway
// connects to it like to a real PLC, command bits actuate modelled devices,
// and the modelled gauges respond with plausible dynamics.
package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plc"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
)

const (
	atmospherePa = 101325.0

	screwNominalHz   = 120.0
	screwRampHzPerS  = 6.0
	screwDecayHzPerS = 12.0

	turboNominalRPM  = 33000.0
	turboRampRPMPerS = 600.0
	turboAtSpeedRPM  = 30000.0

	// Ultimate pressures of the pumping stack.
	screwUltimatePa = 1000.0
	rootsUltimatePa = 40.0
	turboUltimatePa = 0.001

	// Exponential pull-down rate constant; venting moves much faster.
	pumpRateK = 0.5
	ventRateK = 2.0

	// Isolated chambers creep up toward atmosphere.
	leakPaPerS = 1.0
)

var errNotConnected = errors.New("simulator not connected")

type simValve struct {
	p         *plc.ValvePoints
	isOpen    bool
	target    bool
	moving    bool
	remaining float64 // seconds until the motion settles
	stuck     bool
	permit    bool
}

// Engine models the sub000 vacuum plant. All exported methods are safe for
// concurrent use; Step advances the model by dt and is driven by Run or, in
// tests, called directly.
type Engine struct {
	mu sync.Mutex

	points    *plc.PointMap
	settleSec float64
	connected bool

	screwPower bool
	screwStart bool
	screwFreq  float64
	rootsPower bool

	turboPower [core.TurboPumpCount]bool
	turboStart [core.TurboPumpCount]bool
	turboSpeed [core.TurboPumpCount]float64

	valves map[int]*simValve

	forelinePa float64
	chamberPa  [2]float64 // primary A, primary B
	airMPa     float64
	phaseOK    bool

	boolReads  map[plc.Address]func() bool
	boolWrites map[plc.Address]func(bool)
	wordReads  map[plc.Address]func() uint16
	floatLatch map[plc.Address]uint16 // lo halves latched on hi-word read

	logger log.Logger
}

// NewEngine builds a plant model over the given point map. valveSettle is how
// long a commanded valve takes to reach position.
func NewEngine(points *plc.PointMap, valveSettle time.Duration) *Engine {
	e := &Engine{
		points:     points,
		settleSec:  valveSettle.Seconds(),
		valves:     map[int]*simValve{},
		forelinePa: atmospherePa,
		chamberPa:  [2]float64{atmospherePa, atmospherePa},
		airMPa:     0.55,
		phaseOK:    true,
		boolReads:  map[plc.Address]func() bool{},
		boolWrites: map[plc.Address]func(bool){},
		wordReads:  map[plc.Address]func() uint16{},
		floatLatch: map[plc.Address]uint16{},
		logger:     log.WithName("sim"),
	}

	for _, vp := range points.Valves() {
		v := &simValve{p: vp, permit: true}
		e.valves[vp.Index] = v
		e.wireValve(v)
	}
	e.wirePumps()
	e.wireAnalog()

	return e
}

func (e *Engine) wireValve(v *simValve) {
	if v.p.Latched {
		e.boolWrites[v.p.OpenCmd] = func(b bool) { e.command(v, b) }
		e.boolReads[v.p.OpenCmd] = func() bool { return v.target }
		e.boolReads[v.p.OpenFB] = func() bool { return v.isOpen && !v.moving }
	} else {
		e.boolWrites[v.p.OpenCmd] = func(b bool) {
			if b {
				e.command(v, true)
			}
		}
		e.boolWrites[v.p.CloseCmd] = func(b bool) {
			if b {
				e.command(v, false)
			}
		}
		e.boolReads[v.p.OpenCmd] = func() bool { return false }
		e.boolReads[v.p.CloseCmd] = func() bool { return false }
		e.boolReads[v.p.OpenFB] = func() bool { return v.isOpen && !v.moving }
		e.boolReads[v.p.CloseFB] = func() bool { return !v.isOpen && !v.moving }
	}
	if v.p.Permit != nil {
		e.boolReads[*v.p.Permit] = func() bool { return v.permit }
	}
}

// command registers a motion request; stuck valves accept the command but
// never move.
func (e *Engine) command(v *simValve, open bool) {
	if v.target == open && !v.moving {
		return
	}
	v.target = open
	v.moving = true
	v.remaining = e.settleSec
}

func (e *Engine) wirePumps() {
	p := e.points
	e.boolWrites[p.ScrewPumpPower] = func(b bool) { e.screwPower = b }
	e.boolWrites[p.ScrewPumpStart] = func(b bool) { e.screwStart = b }
	e.boolWrites[p.RootsPumpPower] = func(b bool) { e.rootsPower = b }
	e.boolReads[p.ScrewPumpPower] = func() bool { return e.screwPower }
	e.boolReads[p.ScrewPumpStart] = func() bool { return e.screwStart }
	e.boolReads[p.RootsPumpPower] = func() bool { return e.rootsPower }
	e.boolReads[p.ScrewPumpRun] = func() bool { return e.screwPower && e.screwStart }

	for i := 0; i < core.TurboPumpCount; i++ {
		i := i
		e.boolWrites[p.TurboPower[i]] = func(b bool) { e.turboPower[i] = b }
		e.boolWrites[p.TurboStart[i]] = func(b bool) { e.turboStart[i] = b }
		e.boolReads[p.TurboPower[i]] = func() bool { return e.turboPower[i] }
		e.boolReads[p.TurboStart[i]] = func() bool { return e.turboStart[i] }
		e.wordReads[p.TurboSpeed[i]] = func() uint16 { return uint16(e.turboSpeed[i]) }
	}

	e.boolReads[p.PhaseOK] = func() bool { return e.phaseOK }
}

func (e *Engine) wireAnalog() {
	p := e.points
	e.wireFloat(p.ScrewFrequency, func() float64 { return e.screwFreq })
	e.wireFloat(p.Foreline, func() float64 { return e.forelinePa })
	e.wireFloat(p.PrimaryA, func() float64 { return e.chamberPa[0] })
	e.wireFloat(p.PrimaryB, func() float64 { return e.chamberPa[1] })
	e.wireFloat(p.AirPressure, func() float64 { return e.airMPa })
}

// wireFloat registers both word halves of a float point. Reading the hi word
// latches the matching lo word so the two halves always come from the same
// value even though the gateway reads them in two calls.
func (e *Engine) wireFloat(addr plc.Address, get func() float64) {
	hi, lo := addr.FloatWords()
	e.wordReads[hi] = func() uint16 {
		h, l := plc.FloatToWords(get())
		e.floatLatch[lo] = l
		return h
	}
	e.wordReads[lo] = func() uint16 { return e.floatLatch[lo] }
}

// Connect implements plc.Transport.
func (e *Engine) Connect(_ context.Context, _ string, _ int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = true
	e.logger.Info("simulator link up")
	return nil
}

// Disconnect implements plc.Transport.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	return nil
}

// ReadBool implements plc.Transport.
func (e *Engine) ReadBool(addr plc.Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return false, errNotConnected
	}
	if fn, ok := e.boolReads[addr]; ok {
		return fn(), nil
	}
	return false, nil
}

// WriteBool implements plc.Transport.
func (e *Engine) WriteBool(addr plc.Address, v bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return errNotConnected
	}
	if fn, ok := e.boolWrites[addr]; ok {
		fn(v)
	}
	return nil
}

// ReadWord implements plc.Transport.
func (e *Engine) ReadWord(addr plc.Address) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return 0, errNotConnected
	}
	if fn, ok := e.wordReads[addr]; ok {
		return fn(), nil
	}
	return 0, nil
}

// WriteWord implements plc.Transport. No mapped point is word-writable.
func (e *Engine) WriteWord(_ plc.Address, _ uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return errNotConnected
	}
	return nil
}

// Run drives the model until the context ends.
func (e *Engine) Run(ctx context.Context) error {
	const tick = 50 * time.Millisecond
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			e.Step(tick.Seconds())
		}
	}
}

// Step advances the model by dt seconds.
func (e *Engine) Step(dt float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Pump dynamics.
	if e.screwPower && e.screwStart {
		e.screwFreq = math.Min(screwNominalHz, e.screwFreq+screwRampHzPerS*dt)
	} else {
		e.screwFreq = math.Max(0, e.screwFreq-screwDecayHzPerS*dt)
	}
	for i := 0; i < core.TurboPumpCount; i++ {
		if e.turboPower[i] && e.turboStart[i] {
			e.turboSpeed[i] = math.Min(turboNominalRPM, e.turboSpeed[i]+turboRampRPMPerS*dt)
		} else {
			e.turboSpeed[i] = math.Max(0, e.turboSpeed[i]-turboRampRPMPerS*dt)
		}
	}

	// Valve motion.
	for _, v := range e.valves {
		if !v.moving || v.stuck {
			continue
		}
		v.remaining -= dt
		if v.remaining <= 0 {
			v.isOpen = v.target
			v.moving = false
		}
	}

	// Foreline: the screw pump pulls through the isolation solenoid, the
	// roots pump deepens the ultimate pressure.
	foreTarget := e.forelinePa
	if e.valveOpen(core.SolenoidValveIndex(0)) && e.screwRunning() {
		foreTarget = screwUltimatePa
		if e.rootsPower {
			foreTarget = rootsUltimatePa
		}
	}
	e.forelinePa = approach(e.forelinePa, foreTarget, pumpRateK, dt)

	// Chambers: vent wins; an open turbo gate couples the chamber to the
	// foreline (or to the turbo ultimate once the turbo is at speed); the
	// bypass gate gives the roughing path. Isolated chambers leak up slowly.
	for c := 0; c < 2; c++ {
		switch {
		case e.valveOpen(core.VentValveIndex(c)):
			e.chamberPa[c] = approach(e.chamberPa[c], atmospherePa, ventRateK, dt)
		case e.valveOpen(core.GateValveIndex(c)):
			target := e.forelinePa
			if e.turboSpeed[c] >= turboAtSpeedRPM && e.forelinePa <= screwUltimatePa {
				target = turboUltimatePa
			}
			e.chamberPa[c] = approach(e.chamberPa[c], target, pumpRateK, dt)
		case e.valveOpen(core.GateValveIndex(core.GateBypass)):
			e.chamberPa[c] = approach(e.chamberPa[c], e.forelinePa, pumpRateK, dt)
		default:
			e.chamberPa[c] = math.Min(atmospherePa, e.chamberPa[c]+leakPaPerS*dt)
		}
	}
}

func (e *Engine) screwRunning() bool {
	return e.screwPower && e.screwStart && e.screwFreq >= screwNominalHz*0.8
}

func (e *Engine) valveOpen(idx int) bool {
	v := e.valves[idx]
	return v != nil && v.isOpen && !v.moving
}

// approach moves cur toward target with an exponential rate constant k.
func approach(cur, target, k, dt float64) float64 {
	return cur + (target-cur)*(1-math.Exp(-k*dt))
}

// SetValveStuck makes a valve ignore motion, for timeout testing.
func (e *Engine) SetValveStuck(idx int, stuck bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.valves[idx]; ok {
		v.stuck = stuck
	}
}

// SetValvePermit drives a valve's interlock permit bit.
func (e *Engine) SetValvePermit(idx int, permit bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.valves[idx]; ok {
		v.permit = permit
	}
}

// SetChamberPressure forces a chamber gauge (0 = primary A, 1 = primary B).
func (e *Engine) SetChamberPressure(chamber int, pa float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if chamber >= 0 && chamber < 2 {
		e.chamberPa[chamber] = pa
	}
}

// SetForelinePressure forces the foreline gauge.
func (e *Engine) SetForelinePressure(pa float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forelinePa = pa
}

// SetAirPressure forces the compressed-air gauge.
func (e *Engine) SetAirPressure(mpa float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.airMPa = mpa
}

// SetPhaseOK drives the incomer phase-sequence relay bit.
func (e *Engine) SetPhaseOK(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phaseOK = ok
}
