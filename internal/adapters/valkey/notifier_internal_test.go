package valkey

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/roadreport/internal/pkg/fanout"
)

func TestNotifier_SubscribeFansOut(t *testing.T) {
	n := &Notifier{channel: "reports.inserted", hub: fanout.NewHub()}

	var a, b int
	unsubA, err := n.SubscribeReportInserted(context.Background(), func() { a++ })
	require.NoError(t, err)
	unsubB, err := n.SubscribeReportInserted(context.Background(), func() { b++ })
	require.NoError(t, err)

	n.hub.Broadcast()
	require.NoError(t, unsubA())
	n.hub.Broadcast()

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)

	require.NoError(t, unsubB())
	assert.Equal(t, 0, n.hub.Len())
}

func TestNew_RejectsEmptyAddress(t *testing.T) {
	_, err := New("", "reports.inserted")
	assert.ErrorContains(t, err, "valkey connect")
}
