package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"loadwarden/pkg/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	subject string
	data    []byte
}

type recordingPublisher struct {
	msgs []message
	err  error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, message{subject: subject, data: data})
	return nil
}

func TestNATSNotifier_PublishesPerTypeSubject(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNATSNotifier(pub, "")

	alert := monitor.Alert{
		Type:      "memory",
		Message:   "memory usage 91.0% exceeds limit 85.0%",
		Value:     91,
		Limit:     85,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	n.Hook()(context.Background(), alert)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "loadwarden.alerts.memory", pub.msgs[0].subject)

	var got monitor.Alert
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	assert.Equal(t, alert, got)
}

func TestNATSNotifier_CustomPrefix(t *testing.T) {
	n := NewNATSNotifier(&recordingPublisher{}, "ops.host1")
	assert.Equal(t, "ops.host1.cpu", n.Subject("cpu"))
}

func TestNATSNotifier_PublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats: connection closed")}
	n := NewNATSNotifier(pub, "")

	err := n.Publish(monitor.Alert{Type: "disk"})
	assert.ErrorContains(t, err, "connection closed")

	// The hook only logs.
	assert.NotPanics(t, func() { n.Hook()(context.Background(), monitor.Alert{Type: "disk"}) })
}
