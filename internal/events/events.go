// Package events publishes run lifecycle events.
//
// Each state transition of a run is published as JSON on
//
//	{subject}.{run_id}.{state}
//
// for example fuzagent.runs.<run_id>.awaiting_ci.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
)

// Event is one run state transition.
type Event struct {
	RunID     string    `json:"run_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Trigger   string    `json:"trigger"`
	Iteration int       `json:"iteration"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// Publisher sinks events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// NATSPublisher publishes events to NATS core subjects.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	owned   bool
	logger  *logging.Logger
}

// Connect dials url and returns a publisher that closes the connection on
// Close.
func Connect(url, subject string, logger *logging.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("fuzagent"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, subject, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisher publishes on an existing connection.
func NewNATSPublisher(nc *nats.Conn, subject string, logger *logging.Logger) *NATSPublisher {
	if subject == "" {
		subject = "fuzagent.runs"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger.Named("events")}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(e Event) string {
	return fmt.Sprintf("%s.%s.%s", p.subject, token(e.RunID), token(e.To))
}

// token makes s safe as a single subject token.
func token(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(e)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Trace(ctx, "published event", zap.String("subject", subject))
	return nil
}

// Close flushes pending events and closes an owned connection.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return p.nc.Flush()
	}
	return p.nc.Drain()
}
