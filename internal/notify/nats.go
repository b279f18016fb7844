// Package notify publishes finished compile cycles to NATS.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/events"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

const publishTimeout = 5 * time.Second

// Message is the JSON payload published per cycle.
type Message struct {
	ID         string             `json:"id"`
	Project    string             `json:"project"`
	Revision   string             `json:"revision,omitempty"`
	Mode       string             `json:"mode"`
	Outcome    string             `json:"outcome"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	DurationMS float64            `json:"duration_ms"`
	PhasesMS   map[string]float64 `json:"phases_ms,omitempty"`
}

// NewMessage builds the payload for e.
func NewMessage(e events.CycleFinished, project, revision string) Message {
	m := Message{
		ID:         e.ID,
		Project:    project,
		Revision:   revision,
		Mode:       e.Mode,
		Outcome:    e.Outcome(),
		StartedAt:  e.StartedAt,
		DurationMS: millis(e.Duration),
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	if len(e.Phases) > 0 {
		m.PhasesMS = make(map[string]float64, len(e.Phases))
		for k, v := range e.Phases {
			m.PhasesMS[k] = millis(v)
		}
	}
	return m
}

func millis(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// Publisher sends an encoded message to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// NATSClient publishes through JetStream when a stream is configured and
// through core NATS otherwise.
type NATSClient struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream string
}

// NewNATSClient connects to cfg.URL. When cfg.Stream is set the stream is
// created or updated to cover cfg.Subject.
func NewNATSClient(ctx context.Context, cfg config.NotifyConfig) (*NATSClient, error) {
	if cfg.URL == "" {
		return nil, ferrors.ConfigError("notify url is required").Build()
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("tsbuild"))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "connect to NATS").
			WithContext("url", cfg.URL).
			Build()
	}
	client := &NATSClient{conn: conn, stream: cfg.Stream}
	if cfg.Stream == "" {
		return client, nil
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "create JetStream context").Build()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "tsbuild compile cycles",
		Subjects:    []string{cfg.Subject},
		MaxMsgs:     10000,
	}); err != nil {
		conn.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "create JetStream stream").
			WithContext("stream", cfg.Stream).
			Build()
	}
	client.js = js
	slog.Debug("NATS stream ready", slog.String("stream", cfg.Stream), slog.String("subject", cfg.Subject))
	return client, nil
}

func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if c.js == nil {
		if err := c.conn.Publish(subject, data); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryNetwork, "publish to NATS").
				WithContext("subject", subject).
				Build()
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "publish to JetStream").
			WithContext("subject", subject).
			WithContext("stream", c.stream).
			Build()
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (c *NATSClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Drain()
	c.conn = nil
	return err
}

// Encode marshals a message.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "encode notification").Build()
	}
	return data, nil
}
