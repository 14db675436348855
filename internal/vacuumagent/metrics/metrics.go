// Package metrics defines the agent's Prometheus instruments, registered on
// the default registry and served from the HTTP /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PLCConnected reports the PLC link state (1=connected, 0=down).
	PLCConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vacuum_plc_connected",
			Help: "Whether the PLC link is up (1=connected, 0=down).",
		},
	)

	// SystemState reports the sequencer state, one-hot per state label.
	SystemState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vacuum_system_state",
			Help: "Current sequencer state (1 for the active state, 0 otherwise).",
		},
		[]string{"state"},
	)

	// SequenceStep reports the current procedure step number.
	SequenceStep = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vacuum_sequence_step",
			Help: "Current procedure step number (0 outside a procedure).",
		},
	)

	// ChamberPressurePa exports the chamber gauges.
	ChamberPressurePa = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vacuum_chamber_pressure_pascal",
			Help: "Chamber pressure by gauge.",
		},
		[]string{"gauge"},
	)

	// TurboSpeedRPM exports the molecular pump speeds.
	TurboSpeedRPM = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vacuum_turbo_speed_rpm",
			Help: "Molecular pump rotor speed.",
		},
		[]string{"pump"},
	)

	// ActiveAlarms reports the size of the active alarm set.
	ActiveAlarms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vacuum_active_alarms",
			Help: "Number of active (uncleared) alarms.",
		},
	)

	// PLCReconnectAttemptsTotal counts scheduled PLC reconnect attempts.
	PLCReconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vacuum_plc_reconnect_attempts_total",
			Help: "Total PLC reconnect attempts scheduled while the link was down.",
		},
	)

	// AlarmsRaisedTotal counts raised alarms by type.
	AlarmsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacuum_alarms_raised_total",
			Help: "Total alarms raised since start.",
		},
		[]string{"type"},
	)

	// CommandsTotal counts dispatched control-plane commands.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vacuum_commands_total",
			Help: "Total control-plane commands dispatched.",
		},
		[]string{"command", "status"},
	)

	// PollCycleSeconds observes the duration of one poll cycle.
	PollCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vacuum_poll_cycle_seconds",
			Help:    "Duration of one background poll cycle.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		PLCConnected,
		SystemState,
		SequenceStep,
		ChamberPressurePa,
		TurboSpeedRPM,
		ActiveAlarms,
		PLCReconnectAttemptsTotal,
		AlarmsRaisedTotal,
		CommandsTotal,
		PollCycleSeconds,
	)
}
