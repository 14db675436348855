// Package command is the typed control-plane dispatch table. Every external
// command, whatever transport it arrives on (MQTT, HTTP), resolves through
// the same static registration list built once at startup.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/alarm"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/metrics"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/seq"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
)

// ErrUnknownCommand rejects a name absent from the registration list.
var ErrUnknownCommand = errors.New("unknown command")

// Handler executes one command. args is the raw JSON argument object, which
// may be empty for argument-less commands.
type Handler func(ctx context.Context, args json.RawMessage) error

// Registry maps command names to handlers.
type Registry struct {
	handlers map[string]Handler
	logger   log.Logger
}

// Argument shapes shared by the handlers.
type (
	onArgs struct {
		On bool `json:"on"`
	}
	openArgs struct {
		Open bool `json:"open"`
	}
	indexOnArgs struct {
		Index int  `json:"index"`
		On    bool `json:"on"`
	}
	indexOpenArgs struct {
		Index int  `json:"index"`
		Open  bool `json:"open"`
	}
	enableArgs struct {
		Index   int  `json:"index"`
		Enabled bool `json:"enabled"`
	}
	codeArgs struct {
		Code int `json:"code"`
	}
)

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("bad command arguments: %w", err)
	}
	return v, nil
}

// NewRegistry builds the full command table over the sequencer and the alarm
// manager.
func NewRegistry(s *seq.Sequencer, alarms *alarm.Manager) *Registry {
	r := &Registry{
		handlers: map[string]Handler{},
		logger:   log.WithName("command"),
	}

	r.register("SwitchToAuto", func(_ context.Context, _ json.RawMessage) error {
		return s.SwitchToAuto()
	})
	r.register("SwitchToManual", func(_ context.Context, _ json.RawMessage) error {
		return s.SwitchToManual()
	})
	r.register("OneKeyVacuumStart", func(_ context.Context, _ json.RawMessage) error {
		return s.OneKeyVacuumStart()
	})
	r.register("OneKeyVacuumStop", func(_ context.Context, _ json.RawMessage) error {
		return s.OneKeyVacuumStop()
	})
	r.register("ChamberVent", func(_ context.Context, _ json.RawMessage) error {
		return s.ChamberVent()
	})
	r.register("FaultReset", func(_ context.Context, _ json.RawMessage) error {
		return s.FaultReset()
	})
	r.register("EmergencyStop", func(_ context.Context, _ json.RawMessage) error {
		s.EmergencyStop()
		return nil
	})

	r.register("SetScrewPumpPower", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[onArgs](raw)
		if err != nil {
			return err
		}
		return s.SetScrewPumpPower(a.On)
	})
	r.register("SetScrewPumpStart", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[onArgs](raw)
		if err != nil {
			return err
		}
		return s.SetScrewPumpStart(a.On)
	})
	r.register("SetRootsPumpPower", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[onArgs](raw)
		if err != nil {
			return err
		}
		return s.SetRootsPumpPower(a.On)
	})
	r.register("SetMolecularPumpPower", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[indexOnArgs](raw)
		if err != nil {
			return err
		}
		return s.SetTurboPumpPower(a.Index, a.On)
	})
	r.register("SetMolecularPumpStart", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[indexOnArgs](raw)
		if err != nil {
			return err
		}
		return s.SetTurboPumpStart(a.Index, a.On)
	})

	r.register("SetGateValve", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[indexOpenArgs](raw)
		if err != nil {
			return err
		}
		return s.SetGateValve(a.Index, a.Open)
	})
	r.register("SetElectromagneticValve", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[indexOpenArgs](raw)
		if err != nil {
			return err
		}
		return s.SetSolenoidValve(a.Index, a.Open)
	})
	r.register("SetVentValve", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[indexOpenArgs](raw)
		if err != nil {
			return err
		}
		return s.SetVentValve(a.Index, a.Open)
	})
	r.register("SetWaterValve", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[indexOpenArgs](raw)
		if err != nil {
			return err
		}
		return s.SetWaterValve(a.Index, a.Open)
	})
	r.register("SetAirMainValve", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[openArgs](raw)
		if err != nil {
			return err
		}
		return s.SetAirMainValve(a.Open)
	})
	r.register("SetMolecularPumpEnabled", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[enableArgs](raw)
		if err != nil {
			return err
		}
		return s.SetTurboEnabled(a.Index, a.Enabled)
	})

	r.register("AcknowledgeAlarm", func(_ context.Context, raw json.RawMessage) error {
		a, err := decode[codeArgs](raw)
		if err != nil {
			return err
		}
		if !alarms.Acknowledge(a.Code) {
			return fmt.Errorf("alarm code %d not active", a.Code)
		}
		return nil
	})
	r.register("AcknowledgeAllAlarms", func(_ context.Context, _ json.RawMessage) error {
		alarms.AcknowledgeAll()
		return nil
	})
	r.register("ClearAlarmHistory", func(ctx context.Context, _ json.RawMessage) error {
		return alarms.ClearHistory(ctx)
	})

	return r
}

func (r *Registry) register(name string, h Handler) {
	if _, dup := r.handlers[name]; dup {
		panic("duplicate command registration: " + name)
	}
	r.handlers[name] = h
}

// Dispatch resolves and runs a command.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) error {
	h, ok := r.handlers[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownCommand)
	}
	r.logger.Debug("dispatching command", "command", name)
	err := h(ctx, args)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(name, "error").Inc()
		r.logger.Warn("command failed", "command", name, "err", err.Error())
		return err
	}
	metrics.CommandsTotal.WithLabelValues(name, "ok").Inc()
	return nil
}

// Names lists every registered command, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
