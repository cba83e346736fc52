// Package live fans stored production program snapshots out to subscribers
// watching a range of dates.
package live

import (
	"context"

	"fournil/backend/internal/domain"
)

// Broker is both ends of the live subscription. Subscribe delivers snapshots
// whose date falls in [from, to] until ctx ends, then closes the channel.
type Broker interface {
	Publish(ctx context.Context, program domain.ProductionProgram) error
	Subscribe(ctx context.Context, from string, to string) (<-chan domain.ProductionProgram, error)
}

const subscriberBuffer = 32

func inRange(date string, from string, to string) bool {
	return date >= from && date <= to
}
