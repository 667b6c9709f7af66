package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix prefixes every published subject: "stagetasks.task.added".
const SubjectPrefix = "stagetasks."

// SubjectFor returns the NATS subject for an event type.
func SubjectFor(t Type) string {
	return SubjectPrefix + string(t)
}

// NATSPublisher publishes events as JSON on core NATS subjects. Events it
// publishes carry its source id so its own subscription can skip them.
type NATSPublisher struct {
	nc     *nats.Conn
	source string
}

// NewNATSPublisher connects to url and keeps reconnecting in the background.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("stagetasks"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewNATSPublisherConn(nc), nil
}

// NewNATSPublisherConn wraps an existing connection; Close will close it.
func NewNATSPublisherConn(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc, source: uuid.NewString()}
}

// Source is the id stamped on published events.
func (p *NATSPublisher) Source() string {
	return p.source
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	if e.Source == "" {
		e.Source = p.source
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(SubjectFor(e.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Subscribe calls fn for every event published by other processes. The
// returned function unsubscribes.
func (p *NATSPublisher) Subscribe(fn func(Event)) (func() error, error) {
	sub, err := p.nc.Subscribe(SubjectPrefix+">", func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return
		}
		if e.Source == p.source {
			return
		}
		fn(e)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to events: %w", err)
	}
	if err := p.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe to events: %w", err)
	}
	return sub.Unsubscribe, nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}
