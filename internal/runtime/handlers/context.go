package handlers

import (
	"context"
	"errors"

	"github.com/drblury/apibridge/internal/runtime/envelope"
	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/apibridge/internal/runtime/metadata"
)

// MessageContextBase holds the broker headers and logger shared by requests
// and callbacks.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata returns a copy of the headers.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a header value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the id carried in the headers, if any.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata[metadatapkg.KeyCorrelationID]
}

// Request is an inbound method call addressed to this service.
type Request struct {
	MessageContextBase

	ID     string
	From   string
	Method string
	// CallbackMethod names the caller's callback handler, empty when none.
	CallbackMethod string
	Params         map[string]any
	AdditionalData map[string]any
	// RecheckDate is set when the request was requeued by Recheck.
	RecheckDate string

	Envelope envelope.Envelope
}

// NewRequest exposes a decoded envelope to a method handler.
func NewRequest(env envelope.Envelope, md metadatapkg.Metadata, logger loggingpkg.ServiceLogger) *Request {
	params := env.Params
	if params == nil {
		params = map[string]any{}
	}
	return &Request{
		MessageContextBase: MessageContextBase{Metadata: md, Logger: logger},
		ID:                 env.ID,
		From:               env.ServiceCallback,
		Method:             env.Method,
		CallbackMethod:     env.MethodCallback,
		Params:             params,
		AdditionalData:     env.AdditionalData,
		RecheckDate:        env.RecheckDate,
		Envelope:           env,
	}
}

// Param returns a param value and whether it was sent.
func (r *Request) Param(name string) (any, bool) {
	v, ok := r.Params[name]
	return v, ok
}

// IsRecheck reports whether the request was requeued by this service.
func (r *Request) IsRecheck() bool {
	return r.RecheckDate != ""
}

// Callback is the answer to a request this service sent earlier.
type Callback struct {
	MessageContextBase

	ID         string
	ResponseID string
	// From is the responding service.
	From     string
	Method   string
	Result   bool
	Response any
	// Request is the original request when it was recorded at send time.
	Request *envelope.Envelope
}

// NewCallback exposes a decoded callback envelope to a callback handler.
func NewCallback(cb envelope.CallbackEnvelope, original *envelope.Envelope, md metadatapkg.Metadata, logger loggingpkg.ServiceLogger) *Callback {
	return &Callback{
		MessageContextBase: MessageContextBase{Metadata: md, Logger: logger},
		ID:                 cb.ID,
		ResponseID:         cb.ResponseID,
		From:               cb.ServiceCallback,
		Method:             cb.Method,
		Result:             cb.Message.Result,
		Response:           cb.Message.Response,
		Request:            original,
	}
}

// Err returns the remote failure carried by an error callback.
func (c *Callback) Err() error {
	if c.Result {
		return nil
	}
	text := envelope.CallbackEnvelope{Message: envelope.Message{Result: false, Response: c.Response}}.ErrorText()
	return errors.New(text)
}

// AdditionalData returns the additional data sent with the original request.
func (c *Callback) AdditionalData() map[string]any {
	if c.Request == nil {
		return nil
	}
	return c.Request.AdditionalData
}

// MethodHandler serves one method of this service. A nil result sends no callback.
type MethodHandler interface {
	HandleMethod(ctx context.Context, req *Request) (any, error)
}

// MethodHandlerFunc adapts a function to MethodHandler.
type MethodHandlerFunc func(ctx context.Context, req *Request) (any, error)

func (f MethodHandlerFunc) HandleMethod(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// CallbackHandler consumes callbacks routed by method name.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb *Callback) error
}

// CallbackHandlerFunc adapts a function to CallbackHandler.
type CallbackHandlerFunc func(ctx context.Context, cb *Callback) error

func (f CallbackHandlerFunc) HandleCallback(ctx context.Context, cb *Callback) error {
	return f(ctx, cb)
}
