// Package plant holds the hardware mirror and the actuation layer that sit
// between the PLC gateway and the rest of the agent.
package plant

import (
	"sync"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plc"
)

// Mirror is the in-memory copy of every mapped PLC point. The poller refreshes
// it once per tick; everything else reads consistent snapshots and never
// touches the gateway directly.
type Mirror struct {
	mu     sync.RWMutex
	points *plc.PointMap
	snap   core.PlantSnapshot
}

// NewMirror builds an empty mirror over the given point map.
func NewMirror(points *plc.PointMap) *Mirror {
	return &Mirror{
		points: points,
		snap:   core.PlantSnapshot{Valves: map[int]core.ValveFeedback{}},
	}
}

// Refresh reads every feedback and analog point through the gateway and swaps
// in the new snapshot. While the link is down the previous values are kept and
// only Connected flips to false, so the UI keeps showing the last known plant
// state instead of zeroes.
func (m *Mirror) Refresh(gw *plc.Gateway) {
	if !gw.IsConnected() {
		m.mu.Lock()
		m.snap.Connected = false
		m.mu.Unlock()
		return
	}

	next := core.PlantSnapshot{
		Connected: true,
		Valves:    make(map[int]core.ValveFeedback, len(m.points.Valves())),
	}

	next.ScrewPumpRunning, _ = gw.ReadBool(m.points.ScrewPumpRun)
	next.ScrewPumpOn, _ = gw.ReadBool(m.points.ScrewPumpPower)
	next.ScrewFrequencyHz, _ = gw.ReadFloat(m.points.ScrewFrequency)
	next.RootsPumpOn, _ = gw.ReadBool(m.points.RootsPumpPower)

	for i := 0; i < core.TurboPumpCount; i++ {
		next.TurboOn[i], _ = gw.ReadBool(m.points.TurboPower[i])
		next.TurboSpeedRPM[i], _ = gw.ReadWord(m.points.TurboSpeed[i])
	}

	for _, v := range m.points.Valves() {
		fb := core.ValveFeedback{}
		fb.Open, _ = gw.ReadBool(v.OpenFB)
		if v.Latched {
			fb.Close = !fb.Open
		} else {
			fb.Close, _ = gw.ReadBool(v.CloseFB)
		}
		if v.Permit != nil {
			fb.HasPermit = true
			fb.Permit, _ = gw.ReadBool(*v.Permit)
		}
		next.Valves[v.Index] = fb
	}

	next.ForelinePa, _ = gw.ReadFloat(m.points.Foreline)
	next.PrimaryAPa, _ = gw.ReadFloat(m.points.PrimaryA)
	next.PrimaryBPa, _ = gw.ReadFloat(m.points.PrimaryB)
	next.AirPressureMPa, _ = gw.ReadFloat(m.points.AirPressure)
	next.PhaseSequenceOK, _ = gw.ReadBool(m.points.PhaseOK)

	// If the link dropped mid-refresh the partial reads are garbage; keep
	// the previous snapshot instead.
	if !gw.IsConnected() {
		m.mu.Lock()
		m.snap.Connected = false
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.snap = next
	m.mu.Unlock()
}

// Snapshot returns a copy of the current plant state. The valve map is cloned
// so callers can hold it across ticks.
func (m *Mirror) Snapshot() core.PlantSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.snap
	out.Valves = make(map[int]core.ValveFeedback, len(m.snap.Valves))
	for k, v := range m.snap.Valves {
		out.Valves[k] = v
	}
	return out
}
