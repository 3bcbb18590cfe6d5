package location

import "context"

// Provider interface defines the methods for location providers
type Provider interface {
	// GetLocation returns the current fix, or ErrNoFix when none is available.
	GetLocation(ctx context.Context) (Fix, error)
	Close() error
}
