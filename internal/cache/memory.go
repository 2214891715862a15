package cache

import (
	"context"
	"sync"
	"time"

	"trimly/internal/domain"
)

// Memory is the in-process AvailabilityCache. Lookups run concurrently
// under a read lock; invalidation bumps the relevant epoch and prunes dead
// entries so the map stays bounded by the live key set.
type Memory struct {
	mu             sync.RWMutex
	entries        map[Key]memoryEntry
	providerEpochs map[string]uint64
	dateEpochs     map[string]uint64
}

type memoryEntry struct {
	token Token
	slots []domain.Slot
}

func NewMemory() *Memory {
	return &Memory{
		entries:        make(map[Key]memoryEntry),
		providerEpochs: make(map[string]uint64),
		dateEpochs:     make(map[string]uint64),
	}
}

func (m *Memory) Get(ctx context.Context, key Key) ([]domain.Slot, Token, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur := Token{
		providerEpoch: m.providerEpochs[key.ProviderID],
		dateEpoch:     m.dateEpochs[dateKey(key.ProviderID, key.Date)],
	}

	e, ok := m.entries[key]
	if !ok || e.token != cur {
		return nil, cur, false, nil
	}
	// Entries are shared across readers; hand each caller its own copy so a
	// mutation of the returned slice cannot corrupt the cached value.
	out := make([]domain.Slot, len(e.slots))
	copy(out, e.slots)
	return out, cur, true, nil
}

func (m *Memory) Set(ctx context.Context, key Key, token Token, slots []domain.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := Token{
		providerEpoch: m.providerEpochs[key.ProviderID],
		dateEpoch:     m.dateEpochs[dateKey(key.ProviderID, key.Date)],
	}
	if token != cur {
		// An invalidation ran while this value was being computed; the
		// value may predate it, so it is dropped rather than stored.
		return nil
	}

	m.entries[key] = memoryEntry{token: token, slots: slots}
	return nil
}

func (m *Memory) InvalidateDate(ctx context.Context, providerID string, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dateEpochs[dateKey(providerID, date)]++
	for k := range m.entries {
		if k.ProviderID == providerID && k.Date.Equal(date) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *Memory) InvalidateProvider(ctx context.Context, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providerEpochs[providerID]++
	for k := range m.entries {
		if k.ProviderID == providerID {
			delete(m.entries, k)
		}
	}
	return nil
}
