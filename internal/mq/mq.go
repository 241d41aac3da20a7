// Package mq carries verification notices between the API server and the
// mailer worker over RabbitMQ or Google Cloud Pub/Sub.
package mq

import (
	"context"
	"errors"
	"fmt"

	"github.com/rtchat/authserver/config"
	"github.com/rtchat/authserver/internal/logging"
)

const (
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. A plain error requeues the message; an error
// wrapped with Permanent drops it.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker operations used by the notifier and the mailer.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, e.g. an undecodable payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Open connects to the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.MQConfig, log logging.Logger) (Backend, error) {
	if log == nil {
		log = logging.Discard()
	}
	switch cfg.Backend {
	case BackendRabbitMQ, "":
		return NewRabbitMQClient(cfg.RabbitMQ, log)
	case BackendPubSub:
		return NewPubSubClient(ctx, cfg.PubSub, log)
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}
