// Package transports imports all built-in transports for auto-registration.
// Import this package to have every transport registered with the default
// registry.
package transports

import (
	_ "github.com/drblury/mediator/transport/channel"
	_ "github.com/drblury/mediator/transport/http"
	_ "github.com/drblury/mediator/transport/kafka"
	_ "github.com/drblury/mediator/transport/nats"
	_ "github.com/drblury/mediator/transport/rabbitmq"
)
