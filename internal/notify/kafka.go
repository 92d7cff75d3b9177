package notify

import (
	"context"
	"time"

	"github.com/mineproxy/gmp/internal/messaging"
	"github.com/mineproxy/gmp/pkg/log"
)

// KafkaNotifier publishes admin events to the alerts topic. The configured
// admin list rides along in the payload; index 0 is the sender identity.
type KafkaNotifier struct {
	client *messaging.KafkaClient
	admins []string
	logger *log.Logger
}

// NewKafkaNotifier creates a Kafka-backed notifier. The admin list must be
// non-empty; it is validated at config load.
func NewKafkaNotifier(client *messaging.KafkaClient, admins []string, logger *log.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		client: client,
		admins: admins,
		logger: logger.WithComponent("notify-kafka"),
	}
}

// Notify publishes the event, swallowing any delivery failure.
func (n *KafkaNotifier) Notify(ctx context.Context, ev *Event) {
	alert := &messaging.AlertEvent{
		Type:       ev.Type,
		Severity:   ev.Severity,
		Message:    ev.Message,
		Sender:     n.admins[0],
		Recipients: n.admins,
		Fields:     ev.Fields,
		At:         ev.At,
	}

	// Bounded delivery attempt, detached from the request context so a
	// cancelled request does not lose the alert.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := n.client.PublishJSON(pubCtx, messaging.TopicAlerts, ev.Type, alert); err != nil {
		n.logger.WithError(err).Warn("failed to publish admin alert", "type", ev.Type)
	}
}
