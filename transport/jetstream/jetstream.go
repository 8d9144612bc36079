// Package jetstream binds apibridge topics to a NATS JetStream stream. Unlike
// the core nats binding, requests survive a restart of the responding
// service: every service reads its queue through a durable pull consumer.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/apibridge/transport"
)

const TransportName = "nats-jetstream"

const (
	DefaultStreamName = "APIBRIDGE"
	DefaultMaxDeliver = 5
	DefaultAckWait    = 30 * time.Second
	DefaultMaxAge     = 24 * time.Hour

	// HeaderMessageUUID carries the Watermill message UUID across the broker.
	HeaderMessageUUID = "apibridge_uuid"

	fetchBatch = 10
)

var (
	errURLRequired = errors.New("nats-jetstream: url is required")
	errClosed      = errors.New("nats-jetstream: transport is closed")
)

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds the stream and consumer settings.
type Config struct {
	URL string

	// ServiceName prefixes durable consumer names so that every instance
	// of one service shares a consumer.
	ServiceName string

	StreamName string
	MaxDeliver int
	AckWait    time.Duration
	MaxAge     time.Duration
	Replicas   int

	// RetentionPolicy is "limits" (default), "interest" or "workqueue".
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

func (c Config) retention() nats.RetentionPolicy {
	switch c.RetentionPolicy {
	case "interest":
		return nats.InterestPolicy
	case "workqueue":
		return nats.WorkQueuePolicy
	default:
		return nats.LimitsPolicy
	}
}

// Subject maps an "exchange/queue" topic into the stream's subject space.
func (c Config) Subject(topic string) string {
	exchange, queue := transport.SplitTopic(topic)
	if exchange == "" {
		return c.StreamName + "." + queue
	}
	return c.StreamName + "." + exchange + "." + queue
}

// Durable names the pull consumer for topic. JetStream forbids dots,
// wildcards and separators in durable names.
func (c Config) Durable(topic string) string {
	name := topic
	if c.ServiceName != "" {
		name = c.ServiceName + "_" + topic
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', '/', '\\', ' ', '\t':
			return '_'
		}
		return r
	}, name)
}

// Build connects using the gateway configuration.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if cfg.GetNATSURL() == "" {
		return transport.Transport{}, errURLRequired
	}
	t, err := New(Config{URL: cfg.GetNATSURL(), ServiceName: cfg.GetServiceName()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: t, Subscriber: t}, nil
}

// Transport implements message.Publisher and message.Subscriber.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errURLRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	cfg = cfg.withDefaults()

	nc, err := nats.Connect(cfg.URL, nats.Name("apibridge-"+cfg.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("nats-jetstream: connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats-jetstream: context: %w", err)
	}

	t := &Transport{nc: nc, js: js, config: cfg, logger: logger, done: make(chan struct{})}
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		MaxAge:    t.config.MaxAge,
		Replicas:  t.config.Replicas,
		Retention: t.config.retention(),
	}
	if _, err := t.js.AddStream(streamCfg); err == nil {
		return nil
	}
	if _, err := t.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("nats-jetstream: ensure stream %s: %w", t.config.StreamName, err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errClosed
	}
	subject := t.config.Subject(topic)
	for _, msg := range messages {
		header := nats.Header{}
		for k, v := range msg.Metadata {
			header.Set(k, v)
		}
		header.Set(HeaderMessageUUID, msg.UUID)
		if _, err := t.js.PublishMsg(&nats.Msg{Subject: subject, Data: msg.Payload, Header: header}); err != nil {
			return fmt.Errorf("nats-jetstream: publish %s: %w", subject, err)
		}
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, errClosed
	}
	subject := t.config.Subject(topic)
	durable := t.config.Durable(topic)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       t.config.AckWait,
		MaxDeliver:    t.config.MaxDeliver,
		DeliverPolicy: nats.DeliverAllPolicy,
	}
	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("nats-jetstream: consumer %s: %w", durable, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable, nats.Bind(t.config.StreamName, durable))
	if err != nil {
		return nil, fmt.Errorf("nats-jetstream: subscribe %s: %w", subject, err)
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	out := make(chan *message.Message)
	t.wg.Add(1)
	go t.consume(ctx, sub, out, topic)
	return out, nil
}

func (t *Transport) consume(ctx context.Context, sub *nats.Subscription, out chan<- *message.Message, topic string) {
	defer t.wg.Done()
	defer close(out)
	fields := watermill.LogFields{"topic": topic}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		batch, err := sub.Fetch(fetchBatch, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if t.isClosed() {
				return
			}
			t.logger.Error("JetStream fetch failed", err, fields)
			continue
		}

		for _, raw := range batch {
			msg := toWatermill(raw)
			msg.SetContext(ctx)
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			case <-t.done:
				return
			}
			select {
			case <-msg.Acked():
				if err := raw.Ack(); err != nil {
					t.logger.Error("JetStream ack failed", err, fields)
				}
			case <-msg.Nacked():
				if err := raw.Nak(); err != nil {
					t.logger.Error("JetStream nak failed", err, fields)
				}
			case <-ctx.Done():
				return
			case <-t.done:
				return
			}
		}
	}
}

func toWatermill(raw *nats.Msg) *message.Message {
	uuid := raw.Header.Get(HeaderMessageUUID)
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	msg := message.NewMessage(uuid, raw.Data)
	for k, v := range raw.Header {
		if k == HeaderMessageUUID || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	t.wg.Wait()
	t.nc.Close()
	return errors.Join(errs...)
}
