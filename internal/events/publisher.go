// Package events publishes lifecycle notifications (machine registrations,
// command scheduling and completion) to NATS for external consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects for lifecycle events.
const (
	SubjectMachineRegistered = "machines.registered"
	SubjectCommandScheduled  = "commands.scheduled"
	SubjectCommandCompleted  = "commands.completed"
)

type Publisher struct {
	nc  *nats.Conn
	log *zap.SugaredLogger
}

func NewPublisher(url string, log *zap.SugaredLogger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("shebang-remote-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warnw("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, log: log}, nil
}

// Publish marshals the event payload and publishes it on the subject.
func (p *Publisher) Publish(ctx context.Context, subject string, event any) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.nc.Publish(subject, payload)
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}
