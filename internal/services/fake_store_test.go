package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/store"
)

// fakeStore is an in-memory stand-in for store.Store, the "test-mode
// override replaces it wholesale" seam §5's design notes call for. It
// keeps the same semantics as internal/store/postgres.go (predicate
// guards, unique-index collisions) without a real database.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*ledger.Account
	journals map[string]*ledger.Journal // keyed by journalId
	byIdemp  map[string]string          // idempotencyKey -> journalId
	entries  []ledger.LedgerEntry
	outbox   map[string]*ledger.OutboxItem
	acks     map[string]ledger.Ack
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[string]*ledger.Account{},
		journals: map[string]*ledger.Journal{},
		byIdemp:  map[string]string{},
		outbox:   map[string]*ledger.OutboxItem{},
		acks:     map[string]ledger.Ack{},
	}
}

func (f *fakeStore) Close() error { return nil }
func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := f.snapshot()
	tx := &fakeTx{store: f}
	if err := fn(ctx, tx); err != nil {
		f.restore(snapshot)
		return err
	}
	return nil
}

type fakeSnapshot struct {
	accounts map[string]ledger.Account
	journals map[string]ledger.Journal
	byIdemp  map[string]string
	entries  []ledger.LedgerEntry
	outbox   map[string]ledger.OutboxItem
}

func (f *fakeStore) snapshot() fakeSnapshot {
	s := fakeSnapshot{
		accounts: map[string]ledger.Account{},
		journals: map[string]ledger.Journal{},
		byIdemp:  map[string]string{},
		outbox:   map[string]ledger.OutboxItem{},
	}
	for k, v := range f.accounts {
		acc := *v
		acc.Buckets = make(map[ledger.Bucket]int64, len(v.Buckets))
		for b, bal := range v.Buckets {
			acc.Buckets[b] = bal
		}
		s.accounts[k] = acc
	}
	for k, v := range f.journals {
		s.journals[k] = *v
	}
	for k, v := range f.byIdemp {
		s.byIdemp[k] = v
	}
	s.entries = append([]ledger.LedgerEntry{}, f.entries...)
	for k, v := range f.outbox {
		s.outbox[k] = *v
	}
	return s
}

func (f *fakeStore) restore(s fakeSnapshot) {
	f.accounts = map[string]*ledger.Account{}
	for k, v := range s.accounts {
		cp := v
		f.accounts[k] = &cp
	}
	f.journals = map[string]*ledger.Journal{}
	for k, v := range s.journals {
		cp := v
		f.journals[k] = &cp
	}
	f.byIdemp = s.byIdemp
	f.entries = s.entries
	f.outbox = map[string]*ledger.OutboxItem{}
	for k, v := range s.outbox {
		cp := v
		f.outbox[k] = &cp
	}
}

func (f *fakeStore) ClaimNextOutboxItem(ctx context.Context, now time.Time) (*ledger.OutboxItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var candidates []*ledger.OutboxItem
	for _, item := range f.outbox {
		if item.Status == ledger.OutboxPending && !item.NextAttemptAt.After(now) {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].NextAttemptAt.Equal(candidates[j].NextAttemptAt) {
			return candidates[i].NextAttemptAt.Before(candidates[j].NextAttemptAt)
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	claimed := candidates[0]
	claimed.Status = ledger.OutboxProcessing
	cp := *claimed
	return &cp, nil
}

func (f *fakeStore) MarkOutboxSent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.outbox[id]
	if !ok || item.Status != ledger.OutboxProcessing {
		return fmt.Errorf("%w: outbox item %q was not in processing", ledger.ErrInternal, id)
	}
	item.Status = ledger.OutboxSent
	item.Attempts++
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) RescheduleOutboxItem(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.outbox[id]
	if !ok || item.Status != ledger.OutboxProcessing {
		return fmt.Errorf("%w: outbox item %q was not in processing", ledger.ErrInternal, id)
	}
	item.Status = ledger.OutboxPending
	item.Attempts = attempts
	item.NextAttemptAt = nextAttemptAt
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) AccountHistory(ctx context.Context, accountID, currency string) ([]ledger.HistoryEntry, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []ledger.HistoryEntry
	resolved := currency
	for _, e := range f.entries {
		if e.AccountID != accountID {
			continue
		}
		if currency != "" && e.Currency != currency {
			continue
		}
		if resolved == "" {
			resolved = e.Currency
		}
		out = append(out, ledger.HistoryEntry{Transition: e.Transition, Amount: e.Amount, Timestamp: e.CreatedAt})
	}
	if resolved == "" {
		resolved = "USD"
	}
	return out, resolved, nil
}

func (f *fakeStore) InsertAck(ctx context.Context, ack ledger.Ack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.acks[ack.JournalID]; exists {
		return nil
	}
	f.acks[ack.JournalID] = ack
	return nil
}

func (f *fakeStore) OutboxQueueDepth(ctx context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending, pendingRetries int
	for _, item := range f.outbox {
		if item.Status == ledger.OutboxPending {
			pending++
			if item.Attempts > 0 {
				pendingRetries++
			}
		}
	}
	return pending, pendingRetries, nil
}

// fakeTx implements store.Tx directly against the fakeStore's maps; it
// relies on WithTx holding f.mu for its whole call and restoring a
// snapshot on error, so it needs no transaction state of its own.
type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) FindJournal(ctx context.Context, idempotencyKey, journalID string) (string, bool, error) {
	f := t.store
	if id, ok := f.byIdemp[idempotencyKey]; ok {
		return id, true, nil
	}
	if _, ok := f.journals[journalID]; ok {
		return journalID, true, nil
	}
	return "", false, nil
}

func (t *fakeTx) InsertJournalHeader(ctx context.Context, j ledger.Journal) error {
	f := t.store
	if _, exists := f.journals[j.JournalID]; exists {
		return fmt.Errorf("%w: journal %q", ledger.ErrDuplicateKey, j.JournalID)
	}
	if _, exists := f.byIdemp[j.IdempotencyKey]; exists {
		return fmt.Errorf("%w: idempotency key %q", ledger.ErrDuplicateKey, j.IdempotencyKey)
	}
	cp := j
	f.journals[j.JournalID] = &cp
	f.byIdemp[j.IdempotencyKey] = j.JournalID
	return nil
}

func (t *fakeTx) UpsertAccount(ctx context.Context, accountID, currency string) error {
	f := t.store
	if _, exists := f.accounts[accountID]; exists {
		return nil
	}
	now := time.Now().UTC()
	f.accounts[accountID] = &ledger.Account{
		ID:        accountID,
		Currency:  currency,
		Buckets:   map[ledger.Bucket]int64{ledger.BucketAvailable: 0, ledger.BucketPending: 0, ledger.BucketEscrow: 0, ledger.BucketOutflow: 0},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (t *fakeTx) TouchAccount(ctx context.Context, accountID string) error {
	f := t.store
	acc, ok := f.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: account %q", ledger.ErrNotFound, accountID)
	}
	acc.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *fakeTx) ApplyBucketDeltas(ctx context.Context, accountID, currency string, deltas []ledger.BucketDelta, overdraftExempt bool) error {
	f := t.store
	acc, ok := f.accounts[accountID]
	if !ok || acc.Currency != currency {
		return fmt.Errorf("%w: account %q", ledger.ErrInsufficientFunds, accountID)
	}
	if !overdraftExempt {
		for _, d := range deltas {
			if d.Delta < 0 && acc.Buckets[d.Bucket]+d.Delta < 0 {
				return fmt.Errorf("%w: account %q", ledger.ErrInsufficientFunds, accountID)
			}
		}
	}
	for _, d := range deltas {
		acc.Buckets[d.Bucket] += d.Delta
	}
	acc.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *fakeTx) AppendLedgerEntry(ctx context.Context, e ledger.LedgerEntry) error {
	t.store.entries = append(t.store.entries, e)
	return nil
}

func (t *fakeTx) LoadAccountBuckets(ctx context.Context, accountID string) (map[ledger.Bucket]int64, error) {
	acc, ok := t.store.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: account %q", ledger.ErrNotFound, accountID)
	}
	out := make(map[ledger.Bucket]int64, len(acc.Buckets))
	for k, v := range acc.Buckets {
		out[k] = v
	}
	return out, nil
}

func (t *fakeTx) EnqueueOutboxItem(ctx context.Context, item ledger.OutboxItem) error {
	f := t.store
	for _, existing := range f.outbox {
		if existing.JournalID == item.JournalID {
			return fmt.Errorf("%w: outbox item for journal %q", ledger.ErrDuplicateKey, item.JournalID)
		}
	}
	cp := item
	f.outbox[item.ID] = &cp
	return nil
}

func (t *fakeTx) MarkJournalPosted(ctx context.Context, journalID string) error {
	f := t.store
	j, ok := f.journals[journalID]
	if !ok {
		return fmt.Errorf("%w: journal %q", ledger.ErrNotFound, journalID)
	}
	j.Status = ledger.JournalPosted
	return nil
}
