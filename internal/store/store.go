// Package store defines the abstract storage contract the ledger core
// requires (§4.8/C8): multi-object ACID transactions, predicate-guarded
// updates, unique-index conflict detection, atomic claim-one, and
// ordered scans. internal/store/postgres.go is the one concrete backend
// this repository ships, built on database/sql + lib/pq; any engine
// providing the same primitives could implement Store instead.
package store

import (
	"context"
	"time"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
)

// Tx is the set of operations the journal poster (C4) needs from inside
// one posting transaction. Every method must see writes made earlier in
// the same Tx and must not be visible to any other caller until the
// enclosing transaction commits (§5 ordering guarantees).
type Tx interface {
	// FindJournal looks up an existing journal by idempotency key OR
	// journal id (§4.4 step 1). found=false means neither matched.
	FindJournal(ctx context.Context, idempotencyKey, journalID string) (journalID2 string, found bool, err error)

	// InsertJournalHeader inserts a Journal with status=pending. A
	// unique-index collision must be returned wrapped in
	// ledger.ErrDuplicateKey so the caller can re-interpret it as an
	// idempotent hit (§4.4 step 2).
	InsertJournalHeader(ctx context.Context, j ledger.Journal) error

	// UpsertAccount creates the account row on first reference, setting
	// currency and all-zero buckets; a pre-existing account is returned
	// unchanged (§4.4 step 3a).
	UpsertAccount(ctx context.Context, accountID, currency string) error

	// TouchAccount updates only updatedAt, for no-op balance lines
	// (§4.4 step 3b).
	TouchAccount(ctx context.Context, accountID string) error

	// ApplyBucketDeltas applies all of a line's deltas as one
	// predicate-guarded update: the predicate requires the account id and
	// currency to match, and — unless overdraftExempt is true — that the
	// pre-delta balance of every decremented bucket is >= the amount
	// removed. Zero rows matched must return ledger.ErrInsufficientFunds
	// (§4.4 step 3d).
	ApplyBucketDeltas(ctx context.Context, accountID, currency string, deltas []ledger.BucketDelta, overdraftExempt bool) error

	// AppendLedgerEntry appends one append-only audit row (§4.4 step 3e).
	AppendLedgerEntry(ctx context.Context, e ledger.LedgerEntry) error

	// LoadAccountBuckets returns the current buckets of one account, for
	// the post-apply invariant sweep (§4.4 step 4).
	LoadAccountBuckets(ctx context.Context, accountID string) (map[ledger.Bucket]int64, error)

	// EnqueueOutboxItem inserts exactly one pending outbox item for the
	// journal (§4.4 step 5).
	EnqueueOutboxItem(ctx context.Context, item ledger.OutboxItem) error

	// MarkJournalPosted flips the journal's status to posted (§4.4 step 6).
	MarkJournalPosted(ctx context.Context, journalID string) error
}

// Store is the process-wide handle the rest of the core depends on.
type Store interface {
	// WithTx runs fn inside one serializable transaction; any error
	// returned by fn rolls the transaction back and propagates
	// unchanged (§4.4, §5).
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ClaimNextOutboxItem atomically finds the earliest-due pending item
	// and transitions it to processing in the same step, returning nil
	// if none is due (§4.5 step 1).
	ClaimNextOutboxItem(ctx context.Context, now time.Time) (*ledger.OutboxItem, error)

	// MarkOutboxSent transitions an item from processing to sent. An
	// item not found in processing is a caller bug, not a retry
	// condition (§4.5 step 3).
	MarkOutboxSent(ctx context.Context, id string) error

	// RescheduleOutboxItem transitions an item from processing back to
	// pending with the given attempts/nextAttemptAt (§4.5 step 4).
	RescheduleOutboxItem(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error

	// AccountHistory returns the ascending-by-createdAt audit projection
	// for one account, optionally filtered by currency, plus the
	// resolved currency to report (§4.6).
	AccountHistory(ctx context.Context, accountID, currency string) (entries []ledger.HistoryEntry, resolvedCurrency string, err error)

	// InsertAck inserts one ack row; a unique collision on journalId is
	// the idempotent path and must be swallowed, not propagated (§4.7).
	InsertAck(ctx context.Context, ack ledger.Ack) error

	// OutboxQueueDepth reports counts for the health endpoint (§6).
	OutboxQueueDepth(ctx context.Context) (pending int, pendingRetries int, err error)

	// Ping verifies the store connection is reachable (§6 /health).
	Ping(ctx context.Context) error

	// EnsureSchema idempotently creates tables and the §4.8 indexes.
	EnsureSchema(ctx context.Context) error

	Close() error
}
