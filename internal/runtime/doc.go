/*
Package runtime is the message exchange engine of apibridge.

A Service is one named participant of a shared API schema. It resolves
methods of other services in that schema, validates parameters, enforces
the RLS rules and dispatches the call over HTTP or the broker. Inbound
requests on its own queue are routed to registered method handlers and
answered with callbacks.

# Files

  - service.go: construction, Listen, Start, Close
  - dispatch.go: Send, Call and CallBatch
  - rpc.go: the reply listener and the wait on the correlation store
  - inbound.go: the consumer loop for requests and callbacks
  - recheck.go: requeueing a request to the own queue
  - ingress.go: the HTTP ingress that forwards envelopes onto the broker
  - registration*.go: method and callback handler registries
  - middleware.go, hooks.go: the ingress router chain and handler hooks
  - dispatch_metrics.go, models.go, resources.go, webui.go: observability

# Calls

Send publishes AMQP requests and returns. HTTP methods are always called
synchronously:

	reply, err := svc.Send(ctx, "Fines", "registerFine", params, runtime.SendOptions{
		CallbackMethod: "fineRegistered",
	})

Call waits for the callback of an AMQP request:

	reply, err := svc.Call(ctx, "API", "getApiStruct", nil, runtime.SendOptions{})
	if errors.Is(err, apierrors.ErrTimeout) {
		// no callback within the timeout
	}

Identical concurrent calls share one request id. Only the first publishes;
every caller receives the same callback.

# Handlers

	svc.RegisterMethod("getApiStruct", handlers.MethodHandlerFunc(
		func(ctx context.Context, req *handlers.Request) (any, error) {
			return schemaDocument, nil
		}))

A nil result sends no callback. Errors and panics are answered with an
error callback carrying {"error": text}.
*/
package runtime
