package core

// ValveFeedback is the last-known position of one valve. For latched valves
// (solenoid, vent, water, air main) Close is derived as the negation of the
// single feedback bit.
type ValveFeedback struct {
	Open      bool `json:"open"`
	Close     bool `json:"close"`
	Permit    bool `json:"permit"`
	HasPermit bool `json:"hasPermit"`
}

// PlantSnapshot is one consistent copy of the hardware mirror. It is rebuilt
// on every poll tick and handed to the tracker, the alarm evaluation and the
// sequencer; readers never block the refresh.
type PlantSnapshot struct {
	Connected bool `json:"connected"`

	ScrewPumpOn      bool    `json:"screwPumpOn"`
	ScrewPumpRunning bool    `json:"screwPumpRunning"`
	ScrewFrequencyHz float64 `json:"screwFrequencyHz"`

	RootsPumpOn bool `json:"rootsPumpOn"`

	TurboOn       [TurboPumpCount]bool   `json:"turboOn"`
	TurboSpeedRPM [TurboPumpCount]uint16 `json:"turboSpeedRpm"`

	// Valves is keyed by plant valve index.
	Valves map[int]ValveFeedback `json:"valves"`

	ForelinePa     float64 `json:"forelinePa"`
	PrimaryAPa     float64 `json:"primaryAPa"`
	PrimaryBPa     float64 `json:"primaryBPa"`
	AirPressureMPa float64 `json:"airPressureMPa"`

	PhaseSequenceOK bool `json:"phaseSequenceOk"`
}

// Valve returns the feedback entry for a plant valve index.
func (s PlantSnapshot) Valve(idx int) ValveFeedback {
	return s.Valves[idx]
}

// AlarmSummary is the alarm manager digest carried in the status snapshot.
type AlarmSummary struct {
	Active      int    `json:"active"`
	Latest      string `json:"latest,omitempty"`
	LatestCode  int    `json:"latestCode,omitempty"`
	HistorySize int    `json:"historySize"`
}

// Status is the full northbound snapshot: everything the control plane may
// read, published as telemetry and served by the HTTP API.
type Status struct {
	Station string        `json:"station"`
	Mode    OperationMode `json:"mode"`
	State   SystemState   `json:"state"`
	Step    int           `json:"step"`

	TurboEnabled [TurboPumpCount]bool `json:"turboEnabled"`

	Plant  PlantSnapshot `json:"plant"`
	Alarms AlarmSummary  `json:"alarms"`
}
