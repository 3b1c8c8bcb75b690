// Package broker opens the transport matching a broker url.
package broker

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/oagudo/outboxsync/transport"
	"github.com/oagudo/outboxsync/transport/kafka"
	"github.com/oagudo/outboxsync/transport/memory"
	"github.com/oagudo/outboxsync/transport/nats"
	"github.com/oagudo/outboxsync/transport/rabbitmq"
)

// Options apply to every transport.
type Options struct {
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Open returns an unconnected transport for rawURL. The scheme selects the
// broker:
//
//	amqp://, amqps://  RabbitMQ
//	kafka://           Kafka
//	nats://, tls://    NATS JetStream
//	memory://          in-process broker
func Open(rawURL string, opts Options) (transport.Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("broker", u.Scheme)

	switch u.Scheme {
	case "amqp", "amqps":
		tr, err := rabbitmq.New(rawURL,
			rabbitmq.WithConnectTimeout(opts.ConnectTimeout),
			rabbitmq.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return tr, nil

	case "kafka":
		cfg, err := kafka.ParseURL(rawURL)
		if err != nil {
			return nil, err
		}
		return kafka.New(cfg,
			kafka.WithConnectTimeout(opts.ConnectTimeout),
			kafka.WithLogger(logger)), nil

	case "nats", "tls":
		tr, err := nats.New(rawURL,
			nats.WithConnectTimeout(opts.ConnectTimeout),
			nats.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return tr, nil

	case "memory":
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}
