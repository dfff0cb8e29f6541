package mq

import (
	"context"
	"fmt"

	"github.com/bizzylink/apiserver/config"
)

// Message is a payload delivered by either broker.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes one message. A non-nil error nacks it for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by the RabbitMQ and Pub/Sub clients.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// NewBackend builds the broker selected by cfg.Backend. It returns a nil
// backend and no error when no broker is configured.
func NewBackend(ctx context.Context, cfg config.MQConfig) (Backend, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "pubsub":
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}
