// Package ingest accepts events from remote sensors over NATS. Remote
// agents publish JSON events on guardian.events.<source>; the subscriber
// validates and feeds them into the same queue the local widgets use.
package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/archiegate/guardian/internal/model"
	"github.com/archiegate/guardian/internal/queue"
)

// Connect dials the NATS server with reconnect enabled.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("guardian"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("ingest: connect to %s: %w", url, err)
	}
	return nc, nil
}

// Subscriber pushes remote events into the queue.
type Subscriber struct {
	conn    *nats.Conn
	subject string
	queue   *queue.Queue
	logger  *slog.Logger
	sub     *nats.Subscription
}

// NewSubscriber creates a subscriber on subject (typically
// "guardian.events.>").
func NewSubscriber(nc *nats.Conn, subject string, q *queue.Queue, logger *slog.Logger) *Subscriber {
	return &Subscriber{conn: nc, subject: subject, queue: q, logger: logger}
}

// Start begins consuming. Malformed messages are logged and dropped; they
// never reach the pipeline.
func (s *Subscriber) Start() error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		ev, err := decodeEvent(msg.Data)
		if err != nil {
			s.logger.Warn("dropping malformed event",
				"subject", msg.Subject,
				"error", err)
			return
		}
		if err := s.queue.Enqueue(ev); err != nil {
			s.logger.Warn("enqueue failed", "event_id", ev.ID, "error", err)
			return
		}
		s.logger.Debug("event ingested",
			"event_id", ev.ID,
			"source", ev.Source,
			"type", ev.Type)
	})
	if err != nil {
		return fmt.Errorf("ingest: subscribe %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("subscribed", "subject", s.subject)
	return nil
}

// Close unsubscribes and drains the connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.conn != nil {
		_ = s.conn.Drain()
	}
}

// decodeEvent parses a wire event. Events may arrive without an ID or
// timestamp; those are minted here so the rest of the pipeline can rely on
// them. Source and type must come from the sensor.
func decodeEvent(data []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.ID == "" {
		minted := model.NewEvent(ev.Source, ev.Type, ev.Payload)
		minted.Timestamp = ev.Timestamp
		ev = minted
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}
