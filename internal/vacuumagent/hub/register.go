package hub

import (
	"fmt"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
)

// Topic segments under the root namespace. Full topics take the shape
// {root}/{segment}/{stationID}.
const (
	segTelemetry  = "telemetry"
	segAlarm      = "alarm"
	segOnline     = "online"
	segCommand    = "cmd"
	segCommandAck = "cmdack"
)

// events is the static event-to-segment registration table, fixed at init.
var events = make(map[core.EventType]string)

func init() {
	events[core.EventTelemetry] = segTelemetry
	events[core.EventAlarm] = segAlarm
	events[core.EventOnline] = segOnline
	events[core.EventCommand] = segCommand
	events[core.EventCommandAck] = segCommandAck
}

func (h *Hub) topicFor(event core.EventType) (string, error) {
	segment, ok := events[event]
	if !ok {
		return "", fmt.Errorf("unmapped event: %s", event)
	}
	return h.topics.Build(segment, h.station), nil
}
