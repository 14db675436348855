package vacuumagent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

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
)

// Agent owns every long-lived component of the station controller.
type Agent struct {
	cfg *Config

	engine   *sim.Engine // nil unless the sim driver is selected
	gw       *plc.Gateway
	mirror   *plant.Mirror
	tracker  *tracker.Tracker
	alarms   *alarm.Manager
	archiver *alarm.S3Archiver // nil when archiving is disabled
	seq      *seq.Sequencer
	registry *command.Registry
	poller   *Poller
	server   *server.Server
	hub      *hub.Hub // nil when no broker is configured

	logger log.Logger
}

// Status assembles the full northbound snapshot.
func (a *Agent) Status() core.Status {
	return core.Status{
		Station:      a.cfg.Plant.StationID,
		Mode:         a.seq.Mode(),
		State:        a.seq.State(),
		Step:         a.seq.Step(),
		TurboEnabled: a.seq.TurboEnabled(),
		Plant:        a.mirror.Snapshot(),
		Alarms:       a.alarms.Summary(),
	}
}

// Run brings the agent up and blocks until the context ends or a component
// fails.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting vacuum agent",
		"station", a.cfg.Plant.StationID,
		"driver", a.cfg.PLC.Driver,
		"pollPeriod", a.cfg.Plant.PollPeriod.String())

	if a.archiver != nil {
		if err := a.archiver.EnsureBucket(ctx); err != nil {
			return err
		}
	}

	// First connection attempt. Failure is not fatal: the poller keeps
	// retrying in the background and the agent serves its API meanwhile.
	if !a.gw.Connect(ctx) {
		a.logger.Warn("initial PLC connection failed, poller will retry")
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.engine != nil {
		g.Go(func() error { return a.engine.Run(ctx) })
	}
	g.Go(func() error { return a.poller.Run(ctx) })
	g.Go(func() error { return a.server.Run(ctx) })

	if a.hub != nil {
		g.Go(func() error { return a.runHub(ctx) })
	}

	return g.Wait()
}

// runHub starts the MQTT face and drives the telemetry publish loop.
func (a *Agent) runHub(ctx context.Context) error {
	if err := a.hub.Start(ctx); err != nil {
		return err
	}
	a.alarms.SetNotify(func(al alarm.Alarm) {
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.hub.PublishAlarm(pubCtx, al); err != nil {
			a.logger.Warn("alarm publish failed", "code", al.Code, "err", err.Error())
		}
	})

	ticker := time.NewTicker(a.cfg.Plant.TelemetryPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := a.hub.PublishTelemetry(pubCtx, a.Status())
			cancel()
			if err != nil {
				a.logger.Debug("telemetry publish failed", "err", err.Error())
			}
		case <-ctx.Done():
			a.alarms.SetNotify(nil)
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.hub.Stop(stopCtx)
			cancel()
			return nil
		}
	}
}

// ApplyTurboEnabled pushes a reloaded turbo-enable mask into the sequencer.
// A run already in progress keeps the mask it started with.
func (a *Agent) ApplyTurboEnabled() {
	for i := 0; i < core.TurboPumpCount && i < len(a.cfg.Plant.TurboEnabled); i++ {
		if err := a.seq.SetTurboEnabled(i, a.cfg.Plant.TurboEnabled[i]); err != nil {
			a.logger.Warn("turbo enable change rejected", "pump", i, "err", err.Error())
		}
	}
}
