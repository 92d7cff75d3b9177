package generator

import (
	"context"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/mineproxy/gmp/pkg/log"
)

// Subscriber receives upstream work announcements over a ZMQ SUB socket.
type Subscriber struct {
	socket   *zmq.Socket
	endpoint string
	topic    string
	logger   *log.Logger
}

// NewSubscriber creates a SUB socket bound to the announcement topic.
func NewSubscriber(endpoint, topic string, logger *log.Logger) (*Subscriber, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &Subscriber{
		socket:   socket,
		endpoint: endpoint,
		topic:    topic,
		logger:   logger.WithComponent("zmq-subscriber"),
	}, nil
}

// Connect connects the socket and subscribes to the announcement topic.
func (s *Subscriber) Connect() error {
	if err := s.socket.Connect(s.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", s.endpoint, err)
	}
	if err := s.socket.SetSubscribe(s.topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.topic, err)
	}
	s.logger.Info("subscribed to upstream announcements",
		"endpoint", s.endpoint, "topic", s.topic)
	return nil
}

// Listen receives announcement frames until the context is cancelled.
// Handler failures are logged and do not stop the loop.
func (s *Subscriber) Listen(ctx context.Context, handler func(data []byte) error) error {
	s.logger.Info("starting announcement listener")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("announcement listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := s.socket.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			if err.Error() == "resource temporarily unavailable" {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			s.logger.WithError(err).Error("failed to receive ZMQ message")
			continue
		}

		if len(msg) < 2 {
			s.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		// frame 0 is the topic, frame 1 the announcement payload
		if err := handler(msg[1]); err != nil {
			s.logger.WithError(err).Error("failed to handle announcement")
		}
	}
}

// Close closes the socket.
func (s *Subscriber) Close() error {
	if s.socket != nil {
		return s.socket.Close()
	}
	return nil
}
