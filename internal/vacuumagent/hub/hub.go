// Package hub is the northbound MQTT face of the agent: telemetry and alarm
// publications, the online/last-will presence contract, and the inbound
// command channel with per-command acknowledgements.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/command"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/mqtt"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/mqtt/topic"
)

// Command is the inbound command envelope.
type Command struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// CommandAck reports the outcome of one dispatched command.
type CommandAck struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Presence is the retained online/offline message; the broker publishes the
// offline variant as the last will when the agent dies unannounced.
type Presence struct {
	Station string `json:"station"`
	Online  bool   `json:"online"`
	Time    string `json:"time"`
}

// Hub ties the MQTT client, the topic namespace and the command registry
// together.
type Hub struct {
	client   mqtt.Client
	topics   *topic.Builder
	station  string
	registry *command.Registry
	logger   log.Logger
}

// New builds the hub. The client is not started here.
func New(client mqtt.Client, topics *topic.Builder, station string, registry *command.Registry) *Hub {
	return &Hub{
		client:   client,
		topics:   topics,
		station:  station,
		registry: registry,
		logger:   log.WithName("hub"),
	}
}

// WillTopic returns the presence topic for last-will registration.
func WillTopic(topics *topic.Builder, station string) string {
	return topics.Build(segOnline, station)
}

// WillPayload returns the retained offline presence message.
func WillPayload(station string) []byte {
	data, _ := json.Marshal(Presence{Station: station, Online: false, Time: time.Now().UTC().Format(time.RFC3339)})
	return data
}

// Start connects, announces presence and subscribes the command channel.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.client.Start(ctx); err != nil {
		return err
	}
	if err := h.client.AwaitConnection(ctx); err != nil {
		return err
	}
	if err := h.announceOnline(ctx); err != nil {
		return err
	}

	cmdTopic, err := h.topicFor(core.EventCommand)
	if err != nil {
		return err
	}
	if err := h.client.Subscribe(ctx, cmdTopic, 1, h.handleCommand); err != nil {
		return err
	}
	h.logger.Info("hub started", "station", h.station, "commandTopic", cmdTopic)
	return nil
}

// Stop announces offline presence and disconnects.
func (h *Hub) Stop(ctx context.Context) {
	t, err := h.topicFor(core.EventOnline)
	if err == nil {
		data, _ := json.Marshal(Presence{Station: h.station, Online: false, Time: time.Now().UTC().Format(time.RFC3339)})
		_ = h.client.Publish(ctx, t, 1, true, data)
	}
	h.client.Disconnect(ctx)
}

func (h *Hub) announceOnline(ctx context.Context) error {
	t, err := h.topicFor(core.EventOnline)
	if err != nil {
		return err
	}
	data, _ := json.Marshal(Presence{Station: h.station, Online: true, Time: time.Now().UTC().Format(time.RFC3339)})
	return h.client.Publish(ctx, t, 1, true, data)
}

// PublishTelemetry sends a status snapshot.
func (h *Hub) PublishTelemetry(ctx context.Context, status core.Status) error {
	return h.publishJSON(ctx, core.EventTelemetry, status, false)
}

// PublishAlarm sends one alarm event (raise or clear).
func (h *Hub) PublishAlarm(ctx context.Context, alarm any) error {
	return h.publishJSON(ctx, core.EventAlarm, alarm, false)
}

func (h *Hub) publishJSON(ctx context.Context, event core.EventType, v any, retain bool) error {
	t, err := h.topicFor(event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.client.Publish(ctx, t, 1, retain, data)
}

// handleCommand decodes, dispatches and acknowledges one inbound command.
func (h *Hub) handleCommand(ctx context.Context, _ string, payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.logger.Warn("dropping malformed command payload", "err", err.Error())
		return
	}

	ack := CommandAck{ID: cmd.ID, Name: cmd.Name, OK: true}
	if err := h.registry.Dispatch(ctx, cmd.Name, cmd.Args); err != nil {
		ack.OK = false
		ack.Error = err.Error()
	}

	if err := h.publishJSON(ctx, core.EventCommandAck, ack, false); err != nil {
		h.logger.Warn("command ack publish failed", "command", cmd.Name, "err", err.Error())
	}
}
