package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/apibridge/internal/runtime/metadata"
)

// JobContext describes one handler invocation to hooks.
type JobContext struct {
	// HandlerName is the method or callback name, or the ingress handler name.
	HandlerName string
	// Kind is HandlerKindMethod, HandlerKindCallback or "ingress".
	Kind string
	// Caller is the service that sent the request or the callback.
	Caller string
	// Topic is the topic the message was received from.
	Topic         string
	MessageUUID   string
	CorrelationID string
	Metadata      metadatapkg.Metadata
	Context       context.Context
	StartedAt     time.Time
	// Duration is only set in OnJobDone and OnJobError.
	Duration time.Duration
}

// JobHooks defines callbacks for handler lifecycle events. Nil hooks are skipped.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	OnJobDone  func(ctx JobContext)
	// OnJobError receives the handler error, panics included.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks. The hooks from other run after the hooks from h.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainJobHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainJobHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainJobHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// run invokes fn between OnJobStart and OnJobDone/OnJobError.
func (h JobHooks) run(job JobContext, fn func() error) error {
	job.StartedAt = time.Now()
	if h.OnJobStart != nil {
		h.OnJobStart(job)
	}
	err := fn()
	job.Duration = time.Since(job.StartedAt)
	if err != nil {
		if h.OnJobError != nil {
			h.OnJobError(job, err)
		}
		return err
	}
	if h.OnJobDone != nil {
		h.OnJobDone(job)
	}
	return nil
}

// JobHooksMiddleware invokes hooks around every ingress message.
func JobHooksMiddleware(hooks JobHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "job_hooks",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return jobHooksMiddleware(hooks), nil
		},
	}
}

func jobHooksMiddleware(hooks JobHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			job := JobContext{
				HandlerName:   message.HandlerNameFromCtx(msg.Context()),
				Kind:          "ingress",
				Topic:         message.SubscribeTopicFromCtx(msg.Context()),
				MessageUUID:   msg.UUID,
				CorrelationID: msg.Metadata.Get(metadatapkg.KeyCorrelationID),
				Metadata:      metadatapkg.FromWatermill(msg.Metadata),
				Context:       msg.Context(),
			}
			var out []*message.Message
			err := hooks.run(job, func() error {
				var err error
				out, err = h(msg)
				return err
			})
			return out, err
		}
	}
}

// LoggingHooks returns hooks that log handler lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	fields := func(ctx JobContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"handler":        ctx.HandlerName,
			"kind":           ctx.Kind,
			"caller":         ctx.Caller,
			"correlation_id": ctx.CorrelationID,
		}
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", fields(ctx))
		},
		OnJobDone: func(ctx JobContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Info("Job completed", f)
		},
		OnJobError: func(ctx JobContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Job failed", err, f)
		},
	}
}

// MetricsHooks returns hooks that forward handler name and kind to counters.
func MetricsHooks(onStart, onDone, onError func(handlerName, kind string)) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			if onStart != nil {
				onStart(ctx.HandlerName, ctx.Kind)
			}
		},
		OnJobDone: func(ctx JobContext) {
			if onDone != nil {
				onDone(ctx.HandlerName, ctx.Kind)
			}
		},
		OnJobError: func(ctx JobContext, err error) {
			if onError != nil {
				onError(ctx.HandlerName, ctx.Kind)
			}
		},
	}
}

// AlertingHooks returns hooks that call alertFunc on handler errors.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}
