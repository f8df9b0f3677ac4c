package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Known event sources. Sensors registered at compile time emit one of these;
// events arriving over the wire may carry new sources and are passed through.
const (
	SourceFileIntegrity  = "file_integrity"
	SourceProcessMonitor = "process_monitor"
	SourceNetworkSniffer = "network_sniffer"
	SourceScanEngine     = "scan_engine"
)

// Event is a single immutable sensor observation. The queue owns it until
// dequeue; after that the orchestrator owns it for the rest of the pipeline.
// Unknown payload keys are carried through unscored.
type Event struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// NewEvent mints an event with a fresh ID and UTC timestamp.
func NewEvent(source, eventType string, payload map[string]string) Event {
	return Event{
		ID:        uuid.NewString(),
		Source:    source,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Validate checks the required fields. A failing event is a sensor error:
// dropped at the boundary with an audit line, never forwarded downstream.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Source == "" {
		return fmt.Errorf("event source is required")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is required")
	}
	return nil
}

// Target returns the resource identity the event refers to. The orchestrator
// keys its in-flight funnel on this so that two pipeline executions never
// race on the same PID, path, or connection.
func (e Event) Target() string {
	for _, key := range []string{"pid", "path", "remote_address"} {
		if v := e.Payload[key]; v != "" {
			return key + ":" + v
		}
	}
	return "source:" + e.Source
}
