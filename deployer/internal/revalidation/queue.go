package revalidation

import (
	"context"
	"time"
)

// Queue is the transport between producers of regeneration requests and the
// Consumer. Deliveries within one grouping key arrive in send order.
type Queue interface {
	Send(ctx context.Context, msg Message) error
	// Receive returns up to max deliveries, waiting at most wait for the first.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)
	// Delete acknowledges a delivery so it is never delivered again.
	Delete(ctx context.Context, receipt string) error
	// ExtendVisibility keeps an in-flight delivery hidden for d from now.
	ExtendVisibility(ctx context.Context, receipt string, d time.Duration) error
	Close() error
}
