package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

// ReportsStream captures every report-inserted event. NewPublisher replaces
// Subjects with the wildcard covering its configured subject.
var ReportsStream = nats.StreamConfig{
	Name:       "REPORTS",
	Subjects:   []string{"reports.>"},
	Retention:  nats.LimitsPolicy,
	MaxAge:     24 * time.Hour,
	Storage:    nats.FileStorage,
	Duplicates: 2 * time.Minute,
}

// Publisher implements ports.ReportPublisher using NATS JetStream.
type Publisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewPublisher connects to NATS, enables JetStream and ensures the
// REPORTS stream exists.
func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := Connect(url)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := streamConfig(subject)
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update.
		if _, err := js.UpdateStream(&cfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js, subject: subject}, nil
}

// streamConfig returns ReportsStream bound to the first token of subject,
// so "reports.inserted" is captured by "reports.>".
func streamConfig(subject string) nats.StreamConfig {
	cfg := ReportsStream
	if i := strings.IndexByte(subject, '.'); i > 0 {
		cfg.Subjects = []string{subject[:i] + ".>"}
	} else if subject != "" {
		cfg.Subjects = []string{subject}
	}
	return cfg
}

// PublishReportInserted publishes ev. The report id doubles as the
// JetStream message id so relays replaying a notification do not duplicate it.
func (p *Publisher) PublishReportInserted(ctx context.Context, ev domain.ReportInserted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if ev.ReportID != "" {
		opts = append(opts, nats.MsgId(ev.ReportID))
	}
	_, err = p.js.Publish(p.subject, data, opts...)
	return err
}

// Ping reports whether the connection is up.
func (p *Publisher) Ping(ctx context.Context) error {
	return ping(ctx, p.conn)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// Connect opens a NATS connection that keeps reconnecting.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

func ping(ctx context.Context, conn *nats.Conn) error {
	if !conn.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return conn.FlushWithContext(ctx)
}
