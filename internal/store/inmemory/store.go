// Package inmemory provides map-backed implementations of the store interfaces.
// Data is lost on restart; it backs tests, the CLI's dry runs and single-instance deployments.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/period-counters/internal/domain"
	"github.com/dvloznov/period-counters/internal/store"
)

// maxUpdateAttempts bounds optimistic retries in UpdateBucket.
const maxUpdateAttempts = 10

type bucketRecord struct {
	bucket  *domain.Bucket
	version int64
}

// Store is safe for concurrent use.
type Store struct {
	keyLocks sync.Map // bucket id -> *sync.Mutex

	mu       sync.RWMutex
	buckets  map[string]*bucketRecord
	txs      map[domain.TxType]map[string]*domain.RawTransaction
	items    map[string]*domain.LineItem
	triggers map[domain.TriggerName]*domain.Trigger
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		buckets: make(map[string]*bucketRecord),
		txs: map[domain.TxType]map[string]*domain.RawTransaction{
			domain.TxTypeIncome:  {},
			domain.TxTypeExpense: {},
		},
		items:    make(map[string]*domain.LineItem),
		triggers: make(map[domain.TriggerName]*domain.Trigger),
	}
}

// GetBucket implements store.BucketStore.
func (s *Store) GetBucket(ctx context.Context, id string) (*domain.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.buckets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.bucket.Clone(), nil
}

// UpdateBucket implements store.BucketStore. Writers to the same id are serialized
// by a per-key lock; fn runs on a snapshot and the result is committed only if the
// stored version is still the one fn saw.
func (s *Store) UpdateBucket(ctx context.Context, id string, fn store.UpdateFunc) (*domain.Bucket, error) {
	unlock := s.lockKey(id)
	defer unlock()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.RLock()
		var current *domain.Bucket
		var version int64
		if rec, ok := s.buckets[id]; ok {
			current = rec.bucket.Clone()
			version = rec.version
		}
		s.mu.RUnlock()

		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return current, nil
		}

		s.mu.Lock()
		rec, ok := s.buckets[id]
		var stored int64
		if ok {
			stored = rec.version
		}
		if stored != version {
			s.mu.Unlock()
			continue
		}

		saved := next.Clone()
		saved.ID = id
		if ok {
			saved.Insights = rec.bucket.Insights.Clone()
			saved.InsightsLastUpdated = rec.bucket.InsightsLastUpdated
		} else {
			saved.Insights = nil
			saved.InsightsLastUpdated = nil
		}
		s.buckets[id] = &bucketRecord{bucket: saved, version: version + 1}
		s.mu.Unlock()

		return saved.Clone(), nil
	}
	return nil, fmt.Errorf("UpdateBucket: %s: too much contention after %d attempts", id, maxUpdateAttempts)
}

// ReplaceBucket implements store.BucketStore.
func (s *Store) ReplaceBucket(ctx context.Context, b *domain.Bucket) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("ReplaceBucket: bucket ID is required")
	}
	unlock := s.lockKey(b.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	if rec, ok := s.buckets[b.ID]; ok {
		version = rec.version
	}
	s.buckets[b.ID] = &bucketRecord{bucket: b.Clone(), version: version + 1}
	return nil
}

// SaveInsights implements store.BucketStore. It does not bump the aggregate version.
func (s *Store) SaveInsights(ctx context.Context, id string, payload *domain.InsightPayload, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.buckets[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.bucket.Insights = payload.Clone()
	ts := at
	rec.bucket.InsightsLastUpdated = &ts
	return nil
}

// ListBuckets implements store.BucketStore. Results are ordered by id.
func (s *Store) ListBuckets(ctx context.Context, filter store.BucketFilter) ([]*domain.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Bucket
	for _, rec := range s.buckets {
		b := rec.bucket
		if filter.UserID != "" && b.UserID != filter.UserID {
			continue
		}
		if filter.Granularity != "" && b.Granularity != filter.Granularity {
			continue
		}
		result = append(result, b.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// PutTransaction stores a copy of tx in the store for its type.
func (s *Store) PutTransaction(ctx context.Context, tx *domain.RawTransaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("PutTransaction: transaction ID is required")
	}
	if !tx.Type.Valid() {
		return fmt.Errorf("PutTransaction: unknown transaction type %q", tx.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.Type][tx.ID] = copyTx(tx)
	return nil
}

// DeleteTransaction removes a transaction. Deleting a missing id is not an error.
func (s *Store) DeleteTransaction(ctx context.Context, txType domain.TxType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.txs[txType]; ok {
		delete(m, id)
	}
	return nil
}

// GetTransaction implements store.TransactionStore.
func (s *Store) GetTransaction(ctx context.Context, txType domain.TxType, id string) (*domain.RawTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[txType][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyTx(tx), nil
}

// ListTransactions implements store.TransactionStore.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]*domain.RawTransaction, error) {
	return s.list(userID, func(*domain.RawTransaction) bool { return true }), nil
}

// ListTransactionsInRange implements store.TransactionStore.
func (s *Store) ListTransactionsInRange(ctx context.Context, userID string, start, end time.Time) ([]*domain.RawTransaction, error) {
	return s.list(userID, func(tx *domain.RawTransaction) bool {
		return !tx.Timestamp.Before(start) && tx.Timestamp.Before(end)
	}), nil
}

func (s *Store) list(userID string, keep func(*domain.RawTransaction) bool) []*domain.RawTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RawTransaction
	for _, txType := range []domain.TxType{domain.TxTypeIncome, domain.TxTypeExpense} {
		for _, tx := range s.txs[txType] {
			if tx.Owner() != userID || !keep(tx) {
				continue
			}
			result = append(result, copyTx(tx))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// PutItem stores a line item.
func (s *Store) PutItem(ctx context.Context, item *domain.LineItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("PutItem: item ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *item
	s.items[item.ID] = &c
	return nil
}

// GetItem implements store.ItemStore.
func (s *Store) GetItem(ctx context.Context, id string) (*domain.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *item
	return &c, nil
}

// GetTrigger implements store.TriggerStore. A missing flag reads as not set.
func (s *Store) GetTrigger(ctx context.Context, name domain.TriggerName) (*domain.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.triggers[name]
	if !ok {
		return &domain.Trigger{Name: name}, nil
	}
	c := *t
	return &c, nil
}

// SetTrigger implements store.TriggerStore.
func (s *Store) SetTrigger(ctx context.Context, t *domain.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	s.triggers[t.Name] = &c
	return nil
}

// CompleteTrigger implements store.TriggerStore.
func (s *Store) CompleteTrigger(ctx context.Context, name domain.TriggerName, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[name]
	if !ok {
		t = &domain.Trigger{Name: name}
		s.triggers[name] = t
	}
	t.ShouldGenerate = false
	t.PeriodCounterID = ""
	ts := at
	t.LastCompleted = &ts
	return nil
}

func (s *Store) lockKey(id string) func() {
	m, _ := s.keyLocks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func copyTx(tx *domain.RawTransaction) *domain.RawTransaction {
	c := *tx
	c.ItemIDs = append([]string(nil), tx.ItemIDs...)
	return &c
}

// Ensure Store implements the store interfaces.
var (
	_ store.BucketStore      = (*Store)(nil)
	_ store.TransactionStore = (*Store)(nil)
	_ store.ItemStore        = (*Store)(nil)
	_ store.TriggerStore     = (*Store)(nil)
)
