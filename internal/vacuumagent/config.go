// Package vacuumagent assembles the station control agent: the PLC link, the
// hardware mirror, the action tracker, the alarm manager, the sequencer and
// the northbound faces (HTTP, MQTT), all driven by one background poller.
package vacuumagent

import (
	"fmt"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/alarm"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/command"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/hub"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plant"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/plc"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/seq"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/server"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/sim"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/tracker"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/mqtt"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/mqtt/topic"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/options"
)

// Config carries the validated option groups of the agent.
type Config struct {
	PLC   *options.PLCOptions
	Plant *options.PlantOptions
	Http  *options.HttpOptions
	Mqtt  *options.MqttOptions
	S3    *options.S3Options
}

// NewAgent builds the full agent stack from the configuration. Nothing is
// started here; Run brings the pieces up.
func (cfg *Config) NewAgent() (*Agent, error) {
	points := plc.DefaultPointMap()

	var (
		transport plc.Transport
		engine    *sim.Engine
	)
	switch cfg.PLC.Driver {
	case options.PLCDriverSim:
		engine = sim.NewEngine(points, cfg.Plant.SimValveSettle)
		transport = engine
	default:
		return nil, fmt.Errorf("unknown plc driver %q", cfg.PLC.Driver)
	}

	gw := plc.NewGateway(transport, cfg.PLC.Host, cfg.PLC.Port, cfg.PLC.ReconnectInterval)
	mirror := plant.NewMirror(points)

	var archiver *alarm.S3Archiver
	if cfg.S3.Endpoint != "" {
		a, err := alarm.NewS3Archiver(cfg.S3)
		if err != nil {
			return nil, err
		}
		archiver = a
	}

	station := cfg.Plant.StationID
	var alarms *alarm.Manager
	if archiver != nil {
		alarms = alarm.NewManager(station, alarm.NewStore(cfg.Plant.AlarmFile), archiver)
	} else {
		alarms = alarm.NewManager(station, alarm.NewStore(cfg.Plant.AlarmFile), nil)
	}

	trk := tracker.New(cfg.Plant.ValveTimeout, func(idx, code int, device, msg string) {
		alarms.Raise(code, core.AlarmTypeValve, msg, device)
	})
	act := plant.NewActuator(gw, points, mirror, trk)
	sequencer := seq.New(act, trk, alarms, cfg.Plant)
	registry := command.NewRegistry(sequencer, alarms)

	a := &Agent{
		cfg:      cfg,
		engine:   engine,
		gw:       gw,
		mirror:   mirror,
		tracker:  trk,
		alarms:   alarms,
		archiver: archiver,
		seq:      sequencer,
		registry: registry,
		poller:   NewPoller(gw, mirror, trk, alarms, sequencer, cfg.Plant.PollPeriod),
		logger:   log.WithName("agent"),
	}

	a.server = server.New(cfg.Http, a.Status, alarms, registry, gw.IsConnected)

	if cfg.Mqtt.Broker != "" {
		topics := topic.NewBuilder(cfg.Mqtt.TopicRoot)
		clientCfg := cfg.Mqtt.ToClientConfig()
		clientCfg.WillTopic = hub.WillTopic(topics, station)
		clientCfg.WillPayload = hub.WillPayload(station)
		clientCfg.WillQoS = 1
		clientCfg.WillRetain = true

		client, err := mqtt.NewClient(clientCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create mqtt client: %w", err)
		}
		a.hub = hub.New(client, topics, station, registry)
	}

	return a, nil
}
