package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Envelope is the JSON document published to NATS for every event.
type Envelope struct {
	Event   Event        `json:"event"`
	Title   string       `json:"title"`
	Message string       `json:"message"`
	Tick    *TickSummary `json:"tick,omitempty"`
	Error   string       `json:"error,omitempty"`
	SentAt  time.Time    `json:"sent_at"`
}

// Publisher publishes notification envelopes to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// ConnectNATS dials the server at url. Reconnects are unlimited so a restart
// of the NATS server does not require restarting photoner.
func ConnectNATS(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("photoner"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

// Subject returns the subject envelopes are published on.
func (p *Publisher) Subject() string { return p.subject }

// PublishJSON marshals v and publishes it on the configured subject.
func (p *Publisher) PublishJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal nats payload: %w", err)
	}
	return p.nc.Publish(p.subject, b)
}

func (p *Publisher) deliver(ctx context.Context, msg message) error {
	env := Envelope{
		Event:   msg.event,
		Title:   msg.title,
		Message: msg.body,
		Tick:    msg.summary,
		Error:   msg.errText,
		SentAt:  time.Now().UTC(),
	}
	if err := p.PublishJSON(env); err != nil {
		return fmt.Errorf("publish %s: %w", msg.event, err)
	}
	// Ticks are short-lived processes; flush so the message is not lost on exit.
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

func (p *Publisher) close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

// Close drains and closes the connection.
func (p *Publisher) Close() error { return p.close() }
