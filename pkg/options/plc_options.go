package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PLCOptions)(nil)

// PLCDriverSim is the built-in simulated PLC transport. Real transports are
// external drivers registered by the binary that links them in.
const PLCDriverSim = "sim"

// PLCOptions configures the PLC link and its reconnect policy.
type PLCOptions struct {
	// Driver selects the transport implementation ("sim" is built in).
	Driver string `json:"driver" mapstructure:"driver"`

	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`

	// ReconnectInterval is how often the background poller schedules a
	// reconnect attempt while the link is down. Attempts themselves run
	// detached and never stall the poll cycle.
	ReconnectInterval time.Duration `json:"reconnect-interval" mapstructure:"reconnect-interval"`
}

// NewPLCOptions creates a PLCOptions object with default parameters.
func NewPLCOptions() *PLCOptions {
	return &PLCOptions{
		Driver:            PLCDriverSim,
		Host:              "192.168.0.10",
		Port:              102,
		ReconnectInterval: 10 * time.Second,
	}
}

func (o *PLCOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Driver == "" {
		errors = append(errors, fmt.Errorf("plc driver must not be empty"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errors = append(errors, fmt.Errorf("invalid plc port %d", o.Port))
	}
	if o.ReconnectInterval <= 0 {
		errors = append(errors, fmt.Errorf("plc reconnect interval must be positive"))
	}

	return errors
}

func (o *PLCOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Driver, "plc.driver", o.Driver, "PLC transport driver ('sim' for the built-in simulator).")
	fs.StringVar(&o.Host, "plc.host", o.Host, "PLC host address.")
	fs.IntVar(&o.Port, "plc.port", o.Port, "PLC port.")
	fs.DurationVar(&o.ReconnectInterval, "plc.reconnect-interval", o.ReconnectInterval, "Interval between reconnect attempts while the link is down.")
}
