package natsadapter

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/roadreport/internal/pkg/metrics"
)

// Notifier implements ports.ReportNotifier with plain NATS subscriptions.
// Messages published through JetStream on the subject reach it as well.
type Notifier struct {
	conn    *nats.Conn
	subject string
}

// NewNotifier shares conn; it does not own it.
func NewNotifier(conn *nats.Conn, subject string) *Notifier {
	return &Notifier{conn: conn, subject: subject}
}

// SubscribeReportInserted subscribes handler to the insert subject. The
// message body is ignored.
func (n *Notifier) SubscribeReportInserted(ctx context.Context, handler func()) (func() error, error) {
	sub, err := n.conn.Subscribe(n.subject, func(*nats.Msg) {
		metrics.NotificationsReceived.WithLabelValues("nats").Inc()
		handler()
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// Ping reports whether the connection is up.
func (n *Notifier) Ping(ctx context.Context) error {
	return ping(ctx, n.conn)
}
