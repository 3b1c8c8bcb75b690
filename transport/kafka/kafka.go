// Package kafka implements transport.Transport on Kafka.
//
// Addresses map to topics. Messages are keyed by their message id and carry
// the id and the subject as headers. Receiving uses a consumer group; Accept
// commits the offset and Reject hands the same message back on the next
// Receive, since Kafka has no per-message negative acknowledgement.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/oagudo/outboxsync/transport"
)

const (
	headerMessageID = "message-id"
	headerSubject   = "subject"
)

// Config describes how to reach the Kafka cluster.
type Config struct {
	Brokers  []string
	GroupID  string
	Username string
	Password string
}

// ParseURL reads a Config from kafka://[user:password@]host:port[,host:port]/?group=name.
// When no group is given, receivers use "<address>-projection".
func ParseURL(rawURL string) (Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Config{}, fmt.Errorf("parsing kafka url: %w", err)
	}
	if u.Scheme != "kafka" {
		return Config{}, fmt.Errorf("parsing kafka url: unsupported scheme %q", u.Scheme)
	}

	var cfg Config
	for _, broker := range strings.Split(u.Host, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.Brokers = append(cfg.Brokers, broker)
		}
	}
	if len(cfg.Brokers) == 0 {
		return Config{}, errors.New("parsing kafka url: no brokers")
	}

	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	cfg.GroupID = u.Query().Get("group")

	return cfg, nil
}

// Transport is a Kafka transport.
type Transport struct {
	cfg            Config
	connectTimeout time.Duration
	logger         *slog.Logger
	mechanism      sasl.Mechanism

	mu        sync.Mutex
	connected bool
	closed    bool
	writer    *kafka.Writer
	readers   map[string]*topicReader
}

var _ transport.Transport = (*Transport)(nil)

// Option is a function that configures a Transport instance.
type Option func(*Transport)

// WithConnectTimeout bounds the initial broker dial. Default is 5 seconds.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		if timeout > 0 {
			t.connectTimeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New returns a transport for cfg. No connection is made until the first
// call that needs one.
func New(cfg Config, opts ...Option) *Transport {
	t := &Transport{
		cfg:            cfg,
		connectTimeout: 5 * time.Second,
		logger:         slog.New(slog.DiscardHandler),
		readers:        make(map[string]*topicReader),
	}

	if cfg.Username != "" {
		t.mechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Connect implements transport.Transport. It checks that a broker answers
// metadata requests within the connect timeout.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connectLocked(ctx)
}

func (t *Transport) connectLocked(ctx context.Context) error {
	if t.closed {
		return transport.ErrClosed
	}
	if t.connected {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	var lastErr error
	for _, broker := range t.cfg.Brokers {
		lastErr = t.ping(ctx, broker)
		if lastErr == nil {
			t.connected = true
			t.logger.Info("connected to kafka", "brokers", t.cfg.Brokers)
			return nil
		}
	}

	return fmt.Errorf("%w: %v", transport.ErrUnavailable, lastErr)
}

func (t *Transport) ping(ctx context.Context, broker string) error {
	conn, err := t.dialer().DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", broker, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("reading brokers from %s: %w", broker, err)
	}

	return nil
}

func (t *Transport) dialer() *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:       t.connectTimeout,
		DualStack:     true,
		SASLMechanism: t.mechanism,
	}
}

// Publish implements transport.Sender. It returns once all in-sync replicas
// have the message.
func (t *Transport) Publish(ctx context.Context, address string, msg transport.Envelope) error {
	writer, err := t.getWriter(ctx)
	if err != nil {
		return err
	}

	err = writer.WriteMessages(ctx, kafka.Message{
		Topic: address,
		Key:   []byte(msg.Key),
		Value: msg.Body,
		Headers: []kafka.Header{
			{Key: headerMessageID, Value: []byte(msg.Key)},
			{Key: headerSubject, Value: []byte(msg.Subject)},
		},
	})
	if err != nil {
		t.markDisconnected()
		return fmt.Errorf("%w: writing to %s: %v", transport.ErrPublish, address, err)
	}

	return nil
}

func (t *Transport) getWriter(ctx context.Context) (*kafka.Writer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.connectLocked(ctx); err != nil {
		return nil, err
	}

	if t.writer == nil {
		t.writer = &kafka.Writer{
			Addr:                   kafka.TCP(t.cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			Transport: &kafka.Transport{
				DialTimeout: t.connectTimeout,
				SASL:        t.mechanism,
			},
		}
	}

	return t.writer, nil
}

// markDisconnected forces the next call to check the brokers again.
func (t *Transport) markDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
}

// Receive implements transport.Receiver.
func (t *Transport) Receive(ctx context.Context, address string) (transport.Delivery, error) {
	reader, err := t.getReader(ctx, address)
	if err != nil {
		return nil, err
	}

	msg, err := reader.next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.markDisconnected()
		return nil, fmt.Errorf("%w: fetching from %s: %v", transport.ErrUnavailable, address, err)
	}

	return &delivery{reader: reader, msg: msg}, nil
}

func (t *Transport) getReader(ctx context.Context, address string) (*topicReader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.connectLocked(ctx); err != nil {
		return nil, err
	}

	if r, ok := t.readers[address]; ok {
		return r, nil
	}

	groupID := t.cfg.GroupID
	if groupID == "" {
		groupID = address + "-projection"
	}

	r := &topicReader{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  t.cfg.Brokers,
			GroupID:  groupID,
			Topic:    address,
			Dialer:   t.dialer(),
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
	}
	t.readers[address] = r

	return r, nil
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if t.writer != nil {
		errs = append(errs, t.writer.Close())
	}
	for _, r := range t.readers {
		errs = append(errs, r.reader.Close())
	}

	return errors.Join(errs...)
}

// topicReader wraps a group reader with a one-message redelivery slot.
type topicReader struct {
	reader *kafka.Reader

	mu       sync.Mutex
	rejected *kafka.Message
}

func (r *topicReader) next(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.rejected != nil {
		msg := *r.rejected
		r.rejected = nil
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	return r.reader.FetchMessage(ctx)
}

func (r *topicReader) redeliver(msg kafka.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = &msg
}

type delivery struct {
	reader *topicReader
	msg    kafka.Message

	mu      sync.Mutex
	settled bool
}

func (d *delivery) MessageID() string {
	if id := header(d.msg, headerMessageID); id != "" {
		return id
	}
	return string(d.msg.Key)
}

func (d *delivery) Subject() string { return header(d.msg, headerSubject) }

func (d *delivery) Body() []byte { return d.msg.Value }

func (d *delivery) Accept(ctx context.Context) error {
	if err := d.settle(); err != nil {
		return err
	}
	if err := d.reader.reader.CommitMessages(ctx, d.msg); err != nil {
		return fmt.Errorf("committing offset %d of %s: %w", d.msg.Offset, d.msg.Topic, err)
	}
	return nil
}

func (d *delivery) Reject(_ context.Context) error {
	if err := d.settle(); err != nil {
		return err
	}
	d.reader.redeliver(d.msg)
	return nil
}

func (d *delivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return transport.ErrSettled
	}
	d.settled = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
