// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	_ "github.com/drblury/asyncflow/transport/aws"
	_ "github.com/drblury/asyncflow/transport/channel"
	_ "github.com/drblury/asyncflow/transport/http"
	_ "github.com/drblury/asyncflow/transport/kafka"
	_ "github.com/drblury/asyncflow/transport/nats"
	_ "github.com/drblury/asyncflow/transport/rabbitmq"
)
