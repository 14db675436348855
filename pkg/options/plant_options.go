package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PlantOptions)(nil)

// PlantOptions carries the plant timing constants and per-station settings.
// Every timeout that used to be a literal in the operating procedure lives
// here so commissioning can tune it without a rebuild.
type PlantOptions struct {
	// StationID identifies this station in topics and archives.
	StationID string `json:"station-id" mapstructure:"station-id"`

	// PollPeriod is the background poller tick.
	PollPeriod time.Duration `json:"poll-period" mapstructure:"poll-period"`

	// ValveTimeout bounds every tracked valve open/close action.
	ValveTimeout time.Duration `json:"valve-timeout" mapstructure:"valve-timeout"`

	// PumpRampTimeout bounds the screw pump frequency ramp.
	PumpRampTimeout time.Duration `json:"pump-ramp-timeout" mapstructure:"pump-ramp-timeout"`

	// ForelineTimeout bounds the initial foreline pumpdown.
	ForelineTimeout time.Duration `json:"foreline-timeout" mapstructure:"foreline-timeout"`

	// HighVacTimeout bounds the booster/turbo pressure stages.
	HighVacTimeout time.Duration `json:"highvac-timeout" mapstructure:"highvac-timeout"`

	// TurboSpinTimeout bounds molecular pump spin-up and spin-down.
	TurboSpinTimeout time.Duration `json:"turbo-spin-timeout" mapstructure:"turbo-spin-timeout"`

	// FullSpeedHold is the stabilization hold after all turbos reach speed.
	FullSpeedHold time.Duration `json:"full-speed-hold" mapstructure:"full-speed-hold"`

	// VentTimeout bounds chamber venting to atmosphere.
	VentTimeout time.Duration `json:"vent-timeout" mapstructure:"vent-timeout"`

	// SimValveSettle is the simulated valve travel time.
	SimValveSettle time.Duration `json:"sim-valve-settle" mapstructure:"sim-valve-settle"`

	// TurboEnabled flags which molecular pumps take part in the automatic
	// sequence. Reloadable at runtime through the config file watch.
	TurboEnabled []bool `json:"turbo-enabled" mapstructure:"turbo-enabled"`

	// AlarmFile is the JSON alarm history file.
	AlarmFile string `json:"alarm-file" mapstructure:"alarm-file"`

	// TelemetryPeriod is the northbound snapshot publish interval.
	TelemetryPeriod time.Duration `json:"telemetry-period" mapstructure:"telemetry-period"`
}

// NewPlantOptions creates a PlantOptions object with the operating-procedure
// defaults.
func NewPlantOptions() *PlantOptions {
	return &PlantOptions{
		StationID:        "sub000",
		PollPeriod:       100 * time.Millisecond,
		ValveTimeout:     10 * time.Second,
		PumpRampTimeout:  60 * time.Second,
		ForelineTimeout:  300 * time.Second,
		HighVacTimeout:   600 * time.Second,
		TurboSpinTimeout: 600 * time.Second,
		FullSpeedHold:    60 * time.Second,
		VentTimeout:      600 * time.Second,
		SimValveSettle:   2 * time.Second,
		TurboEnabled:     []bool{true, true},
		AlarmFile:        "alarms.json",
		TelemetryPeriod:  time.Second,
	}
}

func (o *PlantOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.StationID == "" {
		errors = append(errors, fmt.Errorf("station-id must not be empty"))
	}
	if o.PollPeriod <= 0 {
		errors = append(errors, fmt.Errorf("poll-period must be positive"))
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"valve-timeout", o.ValveTimeout},
		{"pump-ramp-timeout", o.PumpRampTimeout},
		{"foreline-timeout", o.ForelineTimeout},
		{"highvac-timeout", o.HighVacTimeout},
		{"turbo-spin-timeout", o.TurboSpinTimeout},
		{"vent-timeout", o.VentTimeout},
	} {
		if d.val <= 0 {
			errors = append(errors, fmt.Errorf("%s must be positive", d.name))
		}
	}

	return errors
}

func (o *PlantOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.StationID, "plant.station-id", o.StationID, "Station identifier used in topics and archives.")
	fs.DurationVar(&o.PollPeriod, "plant.poll-period", o.PollPeriod, "Background poller tick period.")
	fs.DurationVar(&o.ValveTimeout, "plant.valve-timeout", o.ValveTimeout, "Timeout for a valve open/close action.")
	fs.DurationVar(&o.PumpRampTimeout, "plant.pump-ramp-timeout", o.PumpRampTimeout, "Timeout for the screw pump frequency ramp.")
	fs.DurationVar(&o.ForelineTimeout, "plant.foreline-timeout", o.ForelineTimeout, "Timeout for the foreline pumpdown stage.")
	fs.DurationVar(&o.HighVacTimeout, "plant.highvac-timeout", o.HighVacTimeout, "Timeout for the booster/turbo pressure stages.")
	fs.DurationVar(&o.TurboSpinTimeout, "plant.turbo-spin-timeout", o.TurboSpinTimeout, "Timeout for molecular pump spin-up/down.")
	fs.DurationVar(&o.FullSpeedHold, "plant.full-speed-hold", o.FullSpeedHold, "Hold time after all molecular pumps reach full speed.")
	fs.DurationVar(&o.VentTimeout, "plant.vent-timeout", o.VentTimeout, "Timeout for chamber venting.")
	fs.DurationVar(&o.SimValveSettle, "plant.sim-valve-settle", o.SimValveSettle, "Simulated valve travel time (sim driver only).")
	fs.BoolSliceVar(&o.TurboEnabled, "plant.turbo-enabled", o.TurboEnabled, "Which molecular pumps participate in automatic sequencing.")
	fs.StringVar(&o.AlarmFile, "plant.alarm-file", o.AlarmFile, "Path of the persisted alarm history JSON file.")
	fs.DurationVar(&o.TelemetryPeriod, "plant.telemetry-period", o.TelemetryPeriod, "Northbound telemetry publish interval.")
}
