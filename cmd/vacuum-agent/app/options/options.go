package options

import (
	"errors"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/app"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/options"
)

// AgentOptions aggregates every option group of the vacuum agent.
type AgentOptions struct {
	PLCOptions   *options.PLCOptions   `json:"plc" mapstructure:"plc"`
	PlantOptions *options.PlantOptions `json:"plant" mapstructure:"plant"`
	HttpOptions  *options.HttpOptions  `json:"http" mapstructure:"http"`
	MqttOptions  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	S3Options    *options.S3Options    `json:"s3" mapstructure:"s3"`
	Log          *log.Options          `json:"log" mapstructure:"log"`
}

var _ app.Options = (*AgentOptions)(nil)

// NewAgentOptions creates an AgentOptions with defaults.
func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		PLCOptions:   options.NewPLCOptions(),
		PlantOptions: options.NewPlantOptions(),
		HttpOptions:  options.NewHttpOptions(),
		MqttOptions:  options.NewMqttOptions(),
		S3Options:    options.NewS3Options(),
		Log:          log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() app.NamedFlagSets {
	fss := app.NamedFlagSets{}
	o.PLCOptions.AddFlags(fss.FlagSet("plc"))
	o.PlantOptions.AddFlags(fss.FlagSet("plant"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.PLCOptions.Validate()...)
	errs = append(errs, o.PlantOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errors.Join(errs...)
}

// Config assembles the agent configuration from the validated options.
func (o *AgentOptions) Config() (*vacuumagent.Config, error) {
	return &vacuumagent.Config{
		PLC:   o.PLCOptions,
		Plant: o.PlantOptions,
		Http:  o.HttpOptions,
		Mqtt:  o.MqttOptions,
		S3:    o.S3Options,
	}, nil
}
