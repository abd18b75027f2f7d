package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/pkg/fanout"
	"github.com/samirrijal/roadreport/internal/pkg/metrics"
)

const resubscribeWait = 2 * time.Second

// Notifier carries report-inserted signals over Valkey pub/sub. A single
// upstream subscription feeds every in-process subscriber.
type Notifier struct {
	client  valkey.Client
	channel string
	hub     *fanout.Hub
	logger  *slog.Logger
}

// New creates a Valkey client for channel.
func New(addr, channel string) (*Notifier, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &Notifier{
		client:  client,
		channel: channel,
		hub:     fanout.NewHub(),
		logger:  slog.Default().With("component", "valkey_notifier", "channel", channel),
	}, nil
}

// Run holds the upstream subscription until ctx is done, resubscribing
// after errors.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		err := n.client.Receive(ctx, n.client.B().Subscribe().Channel(n.channel).Build(),
			func(valkey.PubSubMessage) {
				metrics.NotificationsReceived.WithLabelValues("valkey").Inc()
				n.hub.Broadcast()
			})
		if ctx.Err() != nil {
			return nil
		}
		n.logger.Warn("subscription lost, retrying", "error", err, "wait", resubscribeWait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeWait):
		}
	}
}

// SubscribeReportInserted registers handler for insert signals.
func (n *Notifier) SubscribeReportInserted(ctx context.Context, handler func()) (func() error, error) {
	remove := n.hub.Add(handler)
	return func() error {
		remove()
		return nil
	}, nil
}

// PublishReportInserted implements ports.ReportPublisher.
func (n *Notifier) PublishReportInserted(ctx context.Context, ev domain.ReportInserted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.client.Do(ctx, n.client.B().Publish().Channel(n.channel).Message(string(data)).Build()).Error()
}

// Ping checks the server round trip.
func (n *Notifier) Ping(ctx context.Context) error {
	return n.client.Do(ctx, n.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (n *Notifier) Close() {
	n.client.Close()
}
