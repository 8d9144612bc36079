// Package transports imports every built-in broker binding so that each one
// registers itself with the default registry.
package transports

import (
	_ "github.com/drblury/apibridge/transport/channel"
	_ "github.com/drblury/apibridge/transport/http"
	_ "github.com/drblury/apibridge/transport/jetstream"
	_ "github.com/drblury/apibridge/transport/nats"
	_ "github.com/drblury/apibridge/transport/rabbitmq"
)
