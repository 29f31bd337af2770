package handlestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

// MemoryStore keeps entries in process memory. It does not survive a
// restart and backs memory:// DSNs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[ticket.Destination]map[int64]ticket.TrackedEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[ticket.Destination]map[int64]ticket.TrackedEntry)}
}

func (m *MemoryStore) Put(_ context.Context, dest ticket.Destination, entry ticket.TrackedEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.entries[dest]
	if !ok {
		byID = make(map[int64]ticket.TrackedEntry)
		m.entries[dest] = byID
	}
	byID[entry.ItemID] = entry
	return nil
}

func (m *MemoryStore) GetAll(_ context.Context, dest ticket.Destination) ([]ticket.TrackedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []ticket.TrackedEntry
	for _, e := range m.entries[dest] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ItemID < entries[j].ItemID })
	return entries, nil
}

func (m *MemoryStore) Remove(_ context.Context, dest ticket.Destination, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byID, ok := m.entries[dest]; ok {
		delete(byID, itemID)
		if len(byID) == 0 {
			delete(m.entries, dest)
		}
	}
	return nil
}

func (m *MemoryStore) Destinations(_ context.Context) ([]ticket.Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dests := make([]ticket.Destination, 0, len(m.entries))
	for d := range m.entries {
		dests = append(dests, d)
	}
	sort.Slice(dests, func(i, j int) bool {
		if dests[i].ChatID != dests[j].ChatID {
			return dests[i].ChatID < dests[j].ChatID
		}
		return dests[i].TopicID < dests[j].TopicID
	})
	return dests, nil
}

func (m *MemoryStore) Close() error { return nil }
