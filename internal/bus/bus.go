// Package bus provides the event bus implementations that carry checkpoint
// and alert events through the scoring pipeline.
package bus

import (
	"fmt"

	"github.com/agritrace/kestrel/internal/domain"
)

// New creates an event bus based on configuration: Go channels for
// single-node deployments, NATS for distributed ones.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
