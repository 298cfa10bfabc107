package service

import (
	"context"
	"sync"
	"time"

	"pairwatch/internal/storage"
)

// memStore is an in-memory stand-in for the Postgres store, good enough
// to exercise the loop bodies without a database.
type memStore struct {
	mu           sync.Mutex
	observations map[string]storage.Observation
	alerts       []storage.AlertRecord
	upsertErr    error
}

func newMemStore() *memStore {
	return &memStore{observations: make(map[string]storage.Observation)}
}

func obsKey(exchange, symbol string, observedAt time.Time) string {
	return exchange + "|" + symbol + "|" + observedAt.UTC().Format(time.RFC3339Nano)
}

func (m *memStore) UpsertObservations(_ context.Context, observations []storage.Observation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}

	var written int64
	for _, obs := range observations {
		key := obsKey(obs.Exchange, obs.Symbol, obs.ObservedAt)
		if _, exists := m.observations[key]; exists {
			continue
		}
		m.observations[key] = obs
		written++
	}
	return written, nil
}

func (m *memStore) LatestObservation(_ context.Context, exchange, symbol string) (*storage.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *storage.Observation
	for _, obs := range m.observations {
		obs := obs
		if obs.Exchange != exchange || obs.Symbol != symbol {
			continue
		}
		if latest == nil || obs.ObservedAt.After(latest.ObservedAt) {
			latest = &obs
		}
	}
	return latest, nil
}

func (m *memStore) BaselineObservation(_ context.Context, exchange, symbol string, asOf time.Time, minAge time.Duration) (*storage.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := asOf.Add(-minAge)
	var baseline *storage.Observation
	for _, obs := range m.observations {
		obs := obs
		if obs.Exchange != exchange || obs.Symbol != symbol {
			continue
		}
		if obs.ObservedAt.After(cutoff) {
			continue
		}
		if baseline == nil || obs.ObservedAt.After(baseline.ObservedAt) {
			baseline = &obs
		}
	}
	return baseline, nil
}

func (m *memStore) ListActivePairs(_ context.Context, since time.Time) ([]storage.PairKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[storage.PairKey]bool)
	pairs := make([]storage.PairKey, 0)
	for _, obs := range m.observations {
		if obs.ObservedAt.Before(since) {
			continue
		}
		key := storage.PairKey{Exchange: obs.Exchange, Symbol: obs.Symbol}
		if !seen[key] {
			seen[key] = true
			pairs = append(pairs, key)
		}
	}
	return pairs, nil
}

func (m *memStore) ListObservationsBetween(_ context.Context, exchange, symbol string, from, to time.Time) ([]storage.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]storage.Observation, 0)
	for _, obs := range m.observations {
		if obs.Exchange != exchange || obs.Symbol != symbol {
			continue
		}
		if obs.ObservedAt.Before(from) || !obs.ObservedAt.Before(to) {
			continue
		}
		result = append(result, obs)
	}
	return result, nil
}

func (m *memStore) ListRecentObservations(_ context.Context, limit int) ([]storage.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]storage.Observation, 0, len(m.observations))
	for _, obs := range m.observations {
		result = append(result, obs)
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *memStore) CountObservations(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.observations)), nil
}

func (m *memStore) DeleteObservationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key, obs := range m.observations {
		if obs.ObservedAt.Before(cutoff) {
			delete(m.observations, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert.ID = int64(len(m.alerts) + 1)
	alert.CreatedAt = time.Now().UTC()
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *memStore) ListRecentAlerts(_ context.Context, limit int) ([]storage.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]storage.AlertRecord, len(m.alerts))
	copy(result, m.alerts)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *memStore) DeleteAlertsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.alerts[:0]
	var deleted int64
	for _, alert := range m.alerts {
		if alert.CreatedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, alert)
	}
	m.alerts = kept
	return deleted, nil
}

var _ storage.ObservationStore = (*memStore)(nil)
var _ storage.AlertStore = (*memStore)(nil)
