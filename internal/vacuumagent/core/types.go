package core

// OperationMode selects between automatic sequencing and manual actuation.
// Only PUMPING entry is gated on the mode; shutdown and venting run in either.
type OperationMode string

const (
	ModeAuto   OperationMode = "Auto"
	ModeManual OperationMode = "Manual"
)

// SystemState is the top-level state of the vacuum plant sequencer.
type SystemState string

const (
	StateIdle          SystemState = "Idle"
	StatePumping       SystemState = "Pumping"
	StateStopping      SystemState = "Stopping"
	StateVenting       SystemState = "Venting"
	StateFault         SystemState = "Fault"
	StateEmergencyStop SystemState = "EmergencyStop"
)

// Terminal reports whether the state can only be left through FaultReset.
func (s SystemState) Terminal() bool {
	return s == StateFault || s == StateEmergencyStop
}

// Plant inventory. The sizes are fixed by the station wiring, not by
// configuration: changing them requires a new PLC point map anyway.
const (
	GateValveCount     = 6 // 0..2 primary, 3 bypass, 4..5 auxiliary
	SolenoidValveCount = 4 // 0 isolation, 1..3 upstream
	VentValveCount     = 2
	WaterValveCount    = 2
	TurboPumpCount     = 2
)

// Well-known gate valve slots.
const (
	GateBypass = 3
)

// Plant-wide valve indexes. Every actuated valve gets a unique index so the
// action tracker and the timeout alarm codes can address them uniformly.
func GateValveIndex(i int) int     { return i }
func SolenoidValveIndex(i int) int { return 10 + i }
func VentValveIndex(i int) int     { return 20 + i }
func WaterValveIndex(i int) int    { return 24 + i }

// IsGateValveIndex reports whether a plant index addresses one of the
// motorized gate valves, the only valves riding the interlock permit chain.
func IsGateValveIndex(idx int) bool { return idx >= 0 && idx < GateValveCount }

const AirMainValveIndex = 28

// Alarm code layout. Codes are the de-duplication key of the alarm manager,
// so each distinct fault condition needs a stable number.
const (
	// AlarmCodeStepTimeoutBase + step number: a sequence step overran its
	// window and the run was faulted.
	AlarmCodeStepTimeoutBase = 1000

	// AlarmCodeValveTimeoutBase + plant valve index: a commanded valve never
	// reported the requested position.
	AlarmCodeValveTimeoutBase = 2000

	AlarmCodePhaseSequence  = 3001
	AlarmCodeAirPressureLow = 3002
)

// Alarm type tags as persisted and published.
const (
	AlarmTypeSequence  = "SequenceTimeout"
	AlarmTypeValve     = "ValveTimeout"
	AlarmTypeInterlock = "Interlock"
)

// Hub event identifiers, mapped to MQTT topic segments by the hub's static
// registration table.
type EventType string

const (
	EventTelemetry  EventType = "plant.telemetry"
	EventAlarm      EventType = "plant.alarm"
	EventOnline     EventType = "agent.online"
	EventCommand    EventType = "plant.command"
	EventCommandAck EventType = "plant.command.ack"
)
