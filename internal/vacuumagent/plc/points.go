package plc

import (
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
)

// ValvePoints maps one actuated valve. Latched valves hold a single command
// bit and a single position feedback bit; motorized gate valves have pulse
// open/close commands, both feedback bits, and usually an interlock permit.
type ValvePoints struct {
	Index int // plant valve index, see core
	Name  string

	Latched bool

	OpenCmd  Address
	CloseCmd Address // unused when Latched
	OpenFB   Address
	CloseFB  Address // unused when Latched

	// Permit is nil when no interlock bit is wired for this valve.
	Permit *Address
}

// PointMap is the full static register map of the station. It is built once
// at startup; both the real gateway and the simulator consume the same map.
type PointMap struct {
	ScrewPumpPower Address
	ScrewPumpStart Address
	ScrewPumpRun   Address // feedback
	ScrewFrequency Address // Hz, float

	RootsPumpPower Address

	TurboPower [core.TurboPumpCount]Address
	TurboStart [core.TurboPumpCount]Address
	TurboSpeed [core.TurboPumpCount]Address // rpm, word

	GateValves  [core.GateValveCount]ValvePoints
	Solenoids   [core.SolenoidValveCount]ValvePoints
	VentValves  [core.VentValveCount]ValvePoints
	WaterValves [core.WaterValveCount]ValvePoints
	AirMain     ValvePoints

	Foreline    Address // Pa, float
	PrimaryA    Address // Pa, float; branch selection reads this gauge
	PrimaryB    Address // Pa, float
	AirPressure Address // MPa, float

	PhaseOK Address
}

// DefaultPointMap returns the register layout of the sub000 station.
//
// DB1 carries commands, DB2 feedback bits, DB3 analog values. Gate valve 5
// has no permit bit wired; everything else follows the cabinet drawings.
func DefaultPointMap() *PointMap {
	m := &PointMap{
		ScrewPumpPower: Bit(1, 0, 0),
		ScrewPumpStart: Bit(1, 0, 1),
		ScrewPumpRun:   Bit(2, 0, 0),
		ScrewFrequency: Float(3, 0),

		RootsPumpPower: Bit(1, 0, 2),

		Foreline:    Float(3, 8),
		PrimaryA:    Float(3, 12),
		PrimaryB:    Float(3, 16),
		AirPressure: Float(3, 20),

		PhaseOK: Bit(2, 0, 1),
	}

	for i := 0; i < core.TurboPumpCount; i++ {
		m.TurboPower[i] = Bit(1, 0, 3+2*i)
		m.TurboStart[i] = Bit(1, 0, 4+2*i)
		m.TurboSpeed[i] = Word(3, 4+2*i)
	}

	gateNames := [core.GateValveCount]string{
		"gate-main-0", "gate-main-1", "gate-main-2",
		"gate-bypass", "gate-aux-0", "gate-aux-1",
	}
	for i := range m.GateValves {
		v := ValvePoints{
			Index:    core.GateValveIndex(i),
			Name:     gateNames[i],
			OpenCmd:  Bit(1, 2, i),
			CloseCmd: Bit(1, 3, i),
			OpenFB:   Bit(2, 1, i),
			CloseFB:  Bit(2, 2, i),
		}
		if i < core.GateValveCount-1 {
			p := Bit(2, 3, i)
			v.Permit = &p
		}
		m.GateValves[i] = v
	}

	solNames := [core.SolenoidValveCount]string{
		"solenoid-isolation", "solenoid-up-0", "solenoid-up-1", "solenoid-up-2",
	}
	for i := range m.Solenoids {
		m.Solenoids[i] = ValvePoints{
			Index:   core.SolenoidValveIndex(i),
			Name:    solNames[i],
			Latched: true,
			OpenCmd: Bit(1, 4, i),
			OpenFB:  Bit(2, 4, i),
		}
	}

	for i := range m.VentValves {
		m.VentValves[i] = ValvePoints{
			Index:   core.VentValveIndex(i),
			Name:    "vent-" + string(rune('0'+i)),
			Latched: true,
			OpenCmd: Bit(1, 5, i),
			OpenFB:  Bit(2, 5, i),
		}
	}
	for i := range m.WaterValves {
		m.WaterValves[i] = ValvePoints{
			Index:   core.WaterValveIndex(i),
			Name:    "water-" + string(rune('0'+i)),
			Latched: true,
			OpenCmd: Bit(1, 5, 2+i),
			OpenFB:  Bit(2, 5, 2+i),
		}
	}
	m.AirMain = ValvePoints{
		Index:   core.AirMainValveIndex,
		Name:    "air-main",
		Latched: true,
		OpenCmd: Bit(1, 5, 4),
		OpenFB:  Bit(2, 5, 4),
	}

	return m
}

// Valves returns every actuated valve in plant-index order.
func (m *PointMap) Valves() []*ValvePoints {
	out := make([]*ValvePoints, 0, core.GateValveCount+core.SolenoidValveCount+core.VentValveCount+core.WaterValveCount+1)
	for i := range m.GateValves {
		out = append(out, &m.GateValves[i])
	}
	for i := range m.Solenoids {
		out = append(out, &m.Solenoids[i])
	}
	for i := range m.VentValves {
		out = append(out, &m.VentValves[i])
	}
	for i := range m.WaterValves {
		out = append(out, &m.WaterValves[i])
	}
	out = append(out, &m.AirMain)
	return out
}

// ValveByIndex resolves a plant valve index. Returns nil for unknown indexes.
func (m *PointMap) ValveByIndex(idx int) *ValvePoints {
	for _, v := range m.Valves() {
		if v.Index == idx {
			return v
		}
	}
	return nil
}
