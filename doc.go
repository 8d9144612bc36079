// Package apibridge is an inter-service API gateway built on Watermill.
//
// Every participating process is a Service named in a shared API schema. The
// schema lists, per service, the protocols it is reachable over (HTTP or the
// AMQP broker), the read and write methods of each protocol with their typed
// parameters, and the RLS rules that say which methods a service may call on
// which other service. A Service resolves a target method in that schema,
// validates the parameters, checks RLS and dispatches the request:
//
//   - HTTP methods are called synchronously and the decoded body is the reply.
//   - AMQP methods are published as a JSON envelope to the target's queue.
//     The envelope id is a content hash, so identical concurrent requests
//     collapse into one publish. The target answers with a callback envelope
//     on the caller's queue, which is routed to a registered callback handler
//     or completes a blocking Call.
//
// A minimal setup fills Config, creates a Service, registers method handlers
// and calls Start:
//
//	svc := apibridge.NewService(&apibridge.Config{
//		ServiceName: "Fines",
//		SchemaURL:   "https://schema.internal/api",
//	}, apibridge.NewSlogServiceLogger(slog.Default()), ctx, apibridge.ServiceDependencies{})
//
//	_ = apibridge.RegisterJSONMethod(svc, "registerFine", func(ctx context.Context, req *apibridge.Request, in *Fine) (*Receipt, error) {
//		return store.Register(ctx, in)
//	})
//	_ = svc.Start(ctx)
//
// # Brokers
//
// PubSubSystem selects the broker binding: "rabbitmq" (the default, with the
// URL derived from the service's own AMQP schema section), "nats",
// "nats-jetstream" or "channel" for in-process tests. Bindings live under
// transport/ and register themselves by name.
//
// # Correlation
//
// Replies and the markers of in-flight requests are kept in a correlation
// store: in memory by default, or Redis when Config.RedisURL is set so that
// several instances of one service share the state.
//
// # Ingress
//
// With HTTPIngressAddress set, the service also accepts envelopes POSTed to
// /<service>. They are validated against the schema and forwarded onto the
// broker through a Watermill router carrying correlation ids, logging,
// tracing, metrics, retries and poison queue forwarding. JobHooks observe
// every handler invocation.
package apibridge
