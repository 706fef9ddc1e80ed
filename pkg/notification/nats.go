package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loadwarden/pkg/logger"
	"loadwarden/pkg/monitor"

	"github.com/nats-io/nats.go"
)

// DefaultAlertSubject is the subject prefix alerts are published under. The
// alert type is appended, e.g. loadwarden.alerts.memory.
const DefaultAlertSubject = "loadwarden.alerts"

// Publisher is the subset of *nats.Conn used for alerts
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes monitor alerts as JSON messages
type NATSNotifier struct {
	pub    Publisher
	prefix string
}

// ConnectNATS dials the server with reconnects enabled
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("loadwarden"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS connection lost: " + err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected to " + c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSNotifier creates a notifier publishing under prefix. An empty prefix
// uses DefaultAlertSubject.
func NewNATSNotifier(pub Publisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultAlertSubject
	}
	return &NATSNotifier{pub: pub, prefix: prefix}
}

// Subject returns the subject an alert of alertType is published on
func (n *NATSNotifier) Subject(alertType string) string {
	return n.prefix + "." + alertType
}

// Publish sends one alert. nats buffers the write, so this does not wait on
// the network.
func (n *NATSNotifier) Publish(alert monitor.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := n.pub.Publish(n.Subject(alert.Type), data); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Hook returns a monitor alert hook
func (n *NATSNotifier) Hook() monitor.AlertHook {
	return func(ctx context.Context, alert monitor.Alert) {
		if err := n.Publish(alert); err != nil {
			logger.WarnCtx(ctx, "%v", err)
		}
	}
}
