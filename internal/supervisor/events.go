package supervisor

import (
	"time"

	"github.com/TilBlechschmidt/launch/internal/runtime"
)

// EventType captures high level lifecycle notifications emitted by the
// supervisor.
type EventType string

const (
	EventTypeStarting EventType = "starting"
	EventTypeStarted  EventType = "started"
	EventTypeReady    EventType = "ready"
	EventTypeStopping EventType = "stopping"
	EventTypeStopped  EventType = "stopped"
	EventTypeCrashed  EventType = "crashed"
	EventTypeFailed   EventType = "failed"
	EventTypeLog      EventType = "log"
)

// Process names used in events and metrics.
const (
	ProcessServer = "server"
	ProcessProxy  = "proxy"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	Process   string
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
	Reason    string
}

const (
	ReasonInitialStart = "initial_start"
	ReasonStartFailure = "start_failure"
	ReasonProbeReady   = "probe_ready"
	ReasonProbeFailed  = "probe_failed"
	ReasonProxyExit    = "proxy_exit"
	ReasonSignal       = "signal"
	ReasonShutdown     = "shutdown"
)

func sendEvent(events chan<- Event, process string, t EventType, message string, reason string, err error) {
	if events == nil {
		return
	}
	events <- Event{
		Timestamp: time.Now(),
		Process:   process,
		Type:      t,
		Message:   message,
		Level:     "info",
		Source:    runtime.LogSourceSystem,
		Err:       err,
		Reason:    reason,
	}
}
