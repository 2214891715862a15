// Package cache memoizes computed availability. The cache is a derived
// accelerator over the repositories, never an authority: reservations always
// re-validate against persisted state.
//
// Invalidation is epoch-based. Every entry is written under the provider and
// date epochs observed when its computation began; a bump of either epoch
// makes the entry unreachable, so a reader sees a value that was fresh when
// cached or a miss, never a torn or stale-after-invalidation entry.
package cache

import (
	"context"
	"fmt"
	"time"

	"trimly/internal/domain"
)

// Key identifies one memoized slot computation.
type Key struct {
	ProviderID         string
	Date               time.Time
	DurationMinutes    int
	GranularityMinutes int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d:%d", k.ProviderID, k.Date.Format(domain.DateLayout), k.DurationMinutes, k.GranularityMinutes)
}

// Token captures the epochs observed at miss time. Set stores under the
// token's epochs, so a computation that raced an invalidation lands in a
// generation nobody reads anymore.
type Token struct {
	providerEpoch uint64
	dateEpoch     uint64
}

// String renders the observed epochs for embedding in derived keys, so a
// key built from a token changes whenever either epoch is bumped.
func (t Token) String() string {
	return fmt.Sprintf("%d.%d", t.providerEpoch, t.dateEpoch)
}

type AvailabilityCache interface {
	// Get returns the cached slots for key when fresh. On a miss it returns
	// the token the caller must hand back to Set.
	Get(ctx context.Context, key Key) ([]domain.Slot, Token, bool, error)

	// Set stores slots computed for key under the epochs captured in token.
	Set(ctx context.Context, key Key, token Token, slots []domain.Slot) error

	// InvalidateDate evicts every entry for (providerID, date).
	InvalidateDate(ctx context.Context, providerID string, date time.Time) error

	// InvalidateProvider evicts every entry for the provider, all dates.
	InvalidateProvider(ctx context.Context, providerID string) error
}

func dateKey(providerID string, date time.Time) string {
	return providerID + ":" + date.Format(domain.DateLayout)
}
