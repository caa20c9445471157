package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "courier.msg."

// NATSPublisher publishes terminal-state events on courier.msg.<state>.
type NATSPublisher struct {
	publish func(subject string, data []byte) error
}

var _ Publisher = (*NATSPublisher)(nil)

func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{publish: nc.Publish}
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.publish(subjectPrefix+ev.State, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subjectPrefix+ev.State, err)
	}
	return nil
}
