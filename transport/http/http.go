// Package http is the gateway's HTTP ingress: envelopes POSTed to
// /<service> enter the Watermill router as messages, to be validated and
// forwarded onto the broker. Ack answers 200, Nack answers 500.
package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi"

	"github.com/drblury/apibridge/internal/runtime/ids"
	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
	"github.com/drblury/apibridge/internal/runtime/metadata"
	"github.com/drblury/apibridge/transport"
)

const TransportName = "http"

// Request headers read by the ingress.
const (
	HeaderMessageID     = http.HeaderUUID
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderFromService   = "X-Apibridge-From"
)

var errNotObject = errors.New("body is not a json object")

// MaxBodySize bounds a single ingress envelope.
const MaxBodySize = 4 << 20

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, cfg http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, cfg, logger)
}

// Ingress owns the HTTP subscriber and its router.
type Ingress struct {
	Subscriber message.Subscriber
	router     chi.Router
	logger     watermill.LoggerAdapter
}

// NewIngress listens on addr once Start is called.
func NewIngress(addr string, logger watermill.LoggerAdapter) (*Ingress, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	router := chi.NewRouter()
	sub, err := SubscriberFactory(addr, http.SubscriberConfig{
		Router:               router,
		UnmarshalMessageFunc: UnmarshalEnvelope,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("http ingress: %w", err)
	}
	return &Ingress{Subscriber: sub, router: router, logger: logger}, nil
}

// Path is the ingress route for envelopes addressed to service.
func Path(service string) string {
	return "/" + strings.Trim(service, "/")
}

// ServiceFromPath is the inverse of Path.
func ServiceFromPath(path string) string {
	return strings.Trim(path, "/")
}

// Handler exposes the router so the ingress can be mounted or tested
// without a listener.
func (i *Ingress) Handler() nethttp.Handler {
	return i.router
}

// Start serves until the subscriber is closed. Routes must be subscribed
// before Start.
func (i *Ingress) Start() error {
	s, ok := i.Subscriber.(*http.Subscriber)
	if !ok {
		return nil
	}
	if err := s.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
		i.logger.Error("HTTP ingress server stopped", err, nil)
		return err
	}
	return nil
}

func (i *Ingress) Close() error {
	return i.Subscriber.Close()
}

// UnmarshalEnvelope turns an ingress request into a message. The body must be
// a JSON object; the message id comes from the Message-Uuid header or is
// generated.
func UnmarshalEnvelope(topic string, req *nethttp.Request) (*message.Message, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("body exceeds %d bytes", MaxBodySize)
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	if _, err := jsoncodec.DecodeObject(body); err != nil {
		return nil, fmt.Errorf("%w: %w", errNotObject, err)
	}

	id := req.Header.Get(HeaderMessageID)
	if id == "" {
		id = ids.CreateULID()
	}
	msg := message.NewMessage(id, body)
	metadata.Apply(msg, metadata.New(
		metadata.KeyCorrelationID, req.Header.Get(HeaderCorrelationID),
		metadata.KeyFromService, req.Header.Get(HeaderFromService),
		metadata.KeyToService, ServiceFromPath(topic),
	))
	return msg, nil
}

func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
