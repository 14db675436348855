package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/cmd/vacuum-agent/app/options"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/app"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
)

const (
	commandName = "vacuum-agent"
	commandDesc = `The vacuum agent controls one pumping and venting station: it polls the
station PLC, runs the automatic vacuum sequences, tracks valve actions,
manages alarms, and exposes the plant over HTTP and optionally MQTT.

With --plc.driver=sim the agent runs against the built-in plant simulator
and needs no hardware.`
)

// NewApp builds the vacuum-agent application.
func NewApp() *app.App {
	opts := options.NewAgentOptions()

	var agent *vacuumagent.Agent

	application := app.NewApp(
		commandName,
		"Launch the vacuum plant control agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts, &agent)),
		app.WithConfigReload(func(e fsnotify.Event) {
			log.Info("configuration reloaded", "file", e.Name)
			if agent != nil {
				agent.ApplyTurboEnabled()
			}
		}),
	)
	return application
}

func run(opts *options.AgentOptions, agent **vacuumagent.Agent) app.RunFunc {
	return func() error {
		log.Init(opts.Log)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		a, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}
		*agent = a

		return a.Run(ctx)
	}
}
