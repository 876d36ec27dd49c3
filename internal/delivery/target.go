// Package delivery defines the interface shared by the delivery targets.
package delivery

import (
	"context"

	"fleet-log-router/internal/routing/domain"
)

// Target delivers emissions to one destination. Exactly one Target is active per router.
type Target interface {
	// Kind reports which delivery variant this is.
	Kind() domain.TargetKind
	// Deliver sends every entry of es in order. It blocks until all are handed off or one fails;
	// on failure, batches handed off before the failing one stay delivered.
	Deliver(ctx context.Context, es domain.Emission) error
	// Close releases resources (e.g. connections). Safe to call more than once.
	Close() error
}
