package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/store"
)

// fakeStore is a minimal store.Store used only to drive the HTTP adapter
// end to end; internal/services has its own richer fake for exercising
// posting semantics directly.
type fakeStore struct {
	accounts    map[string]*ledger.Account
	journals    map[string]*ledger.Journal
	byIdemp     map[string]string
	entries     []ledger.LedgerEntry
	outbox      map[string]*ledger.OutboxItem
	acks        map[string]ledger.Ack
	pingErr     error
	queueDepth  int
	queueRetry  int
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

func (f *fakeStore) Close() error                              { return nil }
func (f *fakeStore) Ping(ctx context.Context) error             { return f.pingErr }
func (f *fakeStore) EnsureSchema(ctx context.Context) error     { return nil }
func (f *fakeStore) OutboxQueueDepth(ctx context.Context) (int, int, error) {
	return f.queueDepth, f.queueRetry, nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return fn(ctx, &fakeTx{store: f})
}

func (f *fakeStore) ClaimNextOutboxItem(ctx context.Context, now time.Time) (*ledger.OutboxItem, error) {
	for _, item := range f.outbox {
		if item.Status == ledger.OutboxPending && !item.NextAttemptAt.After(now) {
			cp := *item
			item.Status = ledger.OutboxProcessing
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MarkOutboxSent(ctx context.Context, id string) error {
	if item, ok := f.outbox[id]; ok {
		item.Status = ledger.OutboxSent
	}
	return nil
}

func (f *fakeStore) RescheduleOutboxItem(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	if item, ok := f.outbox[id]; ok {
		item.Status = ledger.OutboxPending
		item.Attempts = attempts
		item.NextAttemptAt = nextAttemptAt
	}
	return nil
}

func (f *fakeStore) AccountHistory(ctx context.Context, accountID, currency string) ([]ledger.HistoryEntry, string, error) {
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
	return out, resolved, nil
}

func (f *fakeStore) InsertAck(ctx context.Context, ack ledger.Ack) error {
	f.acks[ack.JournalID] = ack
	return nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) FindJournal(ctx context.Context, idempotencyKey, journalID string) (string, bool, error) {
	if id, ok := t.store.byIdemp[idempotencyKey]; ok {
		return id, true, nil
	}
	return "", false, nil
}

func (t *fakeTx) InsertJournalHeader(ctx context.Context, j ledger.Journal) error {
	if _, exists := t.store.journals[j.JournalID]; exists {
		return fmt.Errorf("%w: journal %q", ledger.ErrDuplicateKey, j.JournalID)
	}
	cp := j
	t.store.journals[j.JournalID] = &cp
	t.store.byIdemp[j.IdempotencyKey] = j.JournalID
	return nil
}

func (t *fakeTx) UpsertAccount(ctx context.Context, accountID, currency string) error {
	if _, exists := t.store.accounts[accountID]; exists {
		return nil
	}
	t.store.accounts[accountID] = &ledger.Account{
		ID:       accountID,
		Currency: currency,
		Buckets:  map[ledger.Bucket]int64{ledger.BucketAvailable: 0, ledger.BucketPending: 0, ledger.BucketEscrow: 0, ledger.BucketOutflow: 0},
	}
	return nil
}

func (t *fakeTx) TouchAccount(ctx context.Context, accountID string) error { return nil }

func (t *fakeTx) ApplyBucketDeltas(ctx context.Context, accountID, currency string, deltas []ledger.BucketDelta, overdraftExempt bool) error {
	acc, ok := t.store.accounts[accountID]
	if !ok {
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
	cp := item
	t.store.outbox[item.ID] = &cp
	return nil
}

func (t *fakeTx) MarkJournalPosted(ctx context.Context, journalID string) error {
	if j, ok := t.store.journals[journalID]; ok {
		j.Status = ledger.JournalPosted
	}
	return nil
}
