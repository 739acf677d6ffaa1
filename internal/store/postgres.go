package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
)

// Postgres is the one concrete Store this repository ships, grounded on
// internal/services/ledger_service.go's sql.Tx-based TransferTx: accounts
// are locked in the same statement they are updated in, via a
// predicate-guarded UPDATE rather than an explicit lock held across calls.
type Postgres struct {
	db *sql.DB
}

// PoolConfig tunes the *sql.DB connection pool, adapted from the
// teacher's internal/database/postgres.go's GetConfig/InitDB pair into a
// parameter of NewPostgres instead of a package-level global.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgres opens a connection pool against dsn and verifies it is
// reachable. It does not create the schema; call EnsureSchema for that.
func NewPostgres(ctx context.Context, dsn string, pool PoolConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// EnsureSchema creates the §4.8 tables and indexes idempotently, the way
// the teacher's database/postgres.go runs its startup migration.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			currency TEXT NOT NULL,
			available BIGINT NOT NULL DEFAULT 0,
			pending BIGINT NOT NULL DEFAULT 0,
			escrow BIGINT NOT NULL DEFAULT 0,
			outflow BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS journals (
			journal_id TEXT PRIMARY KEY,
			idempotency_key TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS journals_idempotency_key_idx ON journals (idempotency_key)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGSERIAL PRIMARY KEY,
			journal_id TEXT NOT NULL,
			line_no INT NOT NULL,
			account_id TEXT NOT NULL,
			from_bucket TEXT NOT NULL DEFAULT '',
			to_bucket TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL,
			transition TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_account_created_idx ON ledger_entries (account_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id TEXT PRIMARY KEY,
			journal_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			payload BYTEA NOT NULL,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS outbox_journal_id_idx ON outbox (journal_id)`,
		`CREATE INDEX IF NOT EXISTS outbox_status_next_attempt_idx ON outbox (status, next_attempt_at)`,
		`CREATE TABLE IF NOT EXISTS events_acks (
			journal_id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			payload BYTEA NOT NULL,
			acked_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// WithTx opens one serializable transaction, runs fn, and commits iff fn
// returns nil. Any fn error rolls the transaction back and propagates
// unchanged, mirroring TransferTx's single defer tx.Rollback() guard.
func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ledger.ErrInternal, err)
	}

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ledger.ErrInternal, err)
	}
	return nil
}

func (p *Postgres) ClaimNextOutboxItem(ctx context.Context, now time.Time) (*ledger.OutboxItem, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE outbox SET status = 'processing', updated_at = $1
		WHERE id = (
			SELECT id FROM outbox
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at, created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, journal_id, topic, payload, status, attempts, next_attempt_at, created_at, updated_at`,
		now)

	var item ledger.OutboxItem
	err := row.Scan(&item.ID, &item.JournalID, &item.Topic, &item.Payload, &item.Status,
		&item.Attempts, &item.NextAttemptAt, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: claim outbox item: %v", ledger.ErrInternal, err)
	}
	return &item, nil
}

func (p *Postgres) MarkOutboxSent(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE outbox SET status = 'sent', attempts = attempts + 1, updated_at = $1
		WHERE id = $2 AND status = 'processing'`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: mark outbox sent: %v", ledger.ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInternal, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: outbox item %q was not in processing", ledger.ErrInternal, id)
	}
	return nil
}

func (p *Postgres) RescheduleOutboxItem(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE outbox SET status = 'pending', attempts = $1, next_attempt_at = $2, updated_at = $3
		WHERE id = $4 AND status = 'processing'`, attempts, nextAttemptAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: reschedule outbox item: %v", ledger.ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInternal, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: outbox item %q was not in processing", ledger.ErrInternal, id)
	}
	return nil
}

func (p *Postgres) AccountHistory(ctx context.Context, accountID, currency string) ([]ledger.HistoryEntry, string, error) {
	query := `SELECT transition, amount, currency, created_at FROM ledger_entries WHERE account_id = $1`
	args := []interface{}{accountID}
	if currency != "" {
		query += ` AND currency = $2`
		args = append(args, currency)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("%w: account history: %v", ledger.ErrInternal, err)
	}
	defer rows.Close()

	var entries []ledger.HistoryEntry
	resolved := currency
	for rows.Next() {
		var e ledger.HistoryEntry
		var rowCurrency string
		if err := rows.Scan(&e.Transition, &e.Amount, &rowCurrency, &e.Timestamp); err != nil {
			return nil, "", fmt.Errorf("%w: scan history row: %v", ledger.ErrInternal, err)
		}
		if resolved == "" {
			resolved = rowCurrency
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ledger.ErrInternal, err)
	}
	if resolved == "" {
		resolved = "USD"
	}
	return entries, resolved, nil
}

// InsertAck is the idempotent sink of C7: a duplicate journalId is the
// expected replay path, so it is absorbed at the SQL level via ON
// CONFLICT rather than surfaced as a unique-violation error (§4.7).
func (p *Postgres) InsertAck(ctx context.Context, ack ledger.Ack) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO events_acks (journal_id, topic, payload, acked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (journal_id) DO NOTHING`,
		ack.JournalID, ack.Topic, ack.Payload, ack.AckedAt)
	if err != nil {
		return fmt.Errorf("%w: insert ack: %v", ledger.ErrInternal, err)
	}
	return nil
}

func (p *Postgres) OutboxQueueDepth(ctx context.Context) (int, int, error) {
	var pending, pendingRetries int
	err := p.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'pending' AND attempts > 0)
		FROM outbox`).Scan(&pending, &pendingRetries)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: outbox queue depth: %v", ledger.ErrInternal, err)
	}
	return pending, pendingRetries, nil
}

// pgTx implements Tx over one *sql.Tx for the duration of a WithTx call.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) FindJournal(ctx context.Context, idempotencyKey, journalID string) (string, bool, error) {
	var found string
	err := t.tx.QueryRowContext(ctx, `
		SELECT journal_id FROM journals WHERE idempotency_key = $1 OR journal_id = $2 LIMIT 1`,
		idempotencyKey, journalID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: find journal: %v", ledger.ErrInternal, err)
	}
	return found, true, nil
}

func (t *pgTx) InsertJournalHeader(ctx context.Context, j ledger.Journal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO journals (journal_id, idempotency_key, status, created_at)
		VALUES ($1, $2, $3, $4)`,
		j.JournalID, j.IdempotencyKey, j.Status, j.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: journal %q", ledger.ErrDuplicateKey, j.JournalID)
	}
	if err != nil {
		return fmt.Errorf("%w: insert journal header: %v", ledger.ErrInternal, err)
	}
	return nil
}

func (t *pgTx) UpsertAccount(ctx context.Context, accountID, currency string) error {
	now := time.Now().UTC()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (id, currency, available, pending, escrow, outflow, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 0, 0, $3, $3)
		ON CONFLICT (id) DO NOTHING`,
		accountID, currency, now)
	if err != nil {
		return fmt.Errorf("%w: upsert account: %v", ledger.ErrInternal, err)
	}
	return nil
}

func (t *pgTx) TouchAccount(ctx context.Context, accountID string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE accounts SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("%w: touch account: %v", ledger.ErrInternal, err)
	}
	return nil
}

func bucketColumn(b ledger.Bucket) (string, error) {
	switch b {
	case ledger.BucketAvailable:
		return "available", nil
	case ledger.BucketPending:
		return "pending", nil
	case ledger.BucketEscrow:
		return "escrow", nil
	case ledger.BucketOutflow:
		return "outflow", nil
	default:
		return "", fmt.Errorf("%w: unknown bucket %q", ledger.ErrInternal, b)
	}
}

// ApplyBucketDeltas generalizes updateAccountBalance's single-column
// optimistic guard into a multi-column predicate update: every
// decremented bucket must still be non-negative after the delta, unless
// overdraftExempt (the account is in configured SYSTEM_OVERDRAFT). Zero
// rows matched means either the currency didn't match or a guard failed,
// both reported as InsufficientFunds per the §4.4 step 3d rule that
// bundles them.
func (t *pgTx) ApplyBucketDeltas(ctx context.Context, accountID, currency string, deltas []ledger.BucketDelta, overdraftExempt bool) error {
	if len(deltas) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(deltas))
	guardClauses := make([]string, 0, len(deltas))
	args := make([]interface{}, 0, len(deltas)+3)
	argIdx := 1

	for _, d := range deltas {
		col, err := bucketColumn(d.Bucket)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s + $%d", col, col, argIdx))
		args = append(args, d.Delta)
		if d.Delta < 0 && !overdraftExempt {
			guardClauses = append(guardClauses, fmt.Sprintf("%s + $%d >= 0", col, argIdx))
		}
		argIdx++
	}

	args = append(args, time.Now().UTC())
	updatedAtIdx := argIdx
	argIdx++
	args = append(args, accountID)
	accountIDIdx := argIdx
	argIdx++
	args = append(args, currency)
	currencyIdx := argIdx

	query := fmt.Sprintf(`UPDATE accounts SET %s, updated_at = $%d WHERE id = $%d AND currency = $%d`,
		strings.Join(setClauses, ", "), updatedAtIdx, accountIDIdx, currencyIdx)
	if len(guardClauses) > 0 {
		query += " AND " + strings.Join(guardClauses, " AND ")
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: apply bucket deltas: %v", ledger.ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInternal, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: account %q", ledger.ErrInsufficientFunds, accountID)
	}
	return nil
}

func (t *pgTx) AppendLedgerEntry(ctx context.Context, e ledger.LedgerEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (journal_id, line_no, account_id, from_bucket, to_bucket, side, transition, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.JournalID, e.LineNo, e.AccountID, string(e.FromBucket), string(e.ToBucket), e.Side, e.Transition, e.Amount, e.Currency, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: append ledger entry: %v", ledger.ErrInternal, err)
	}
	return nil
}

func (t *pgTx) LoadAccountBuckets(ctx context.Context, accountID string) (map[ledger.Bucket]int64, error) {
	var available, pending, escrow, outflow int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT available, pending, escrow, outflow FROM accounts WHERE id = $1`, accountID).
		Scan(&available, &pending, &escrow, &outflow)
	if err != nil {
		return nil, fmt.Errorf("%w: load account buckets: %v", ledger.ErrInternal, err)
	}
	return map[ledger.Bucket]int64{
		ledger.BucketAvailable: available,
		ledger.BucketPending:   pending,
		ledger.BucketEscrow:    escrow,
		ledger.BucketOutflow:   outflow,
	}, nil
}

func (t *pgTx) EnqueueOutboxItem(ctx context.Context, item ledger.OutboxItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox (id, journal_id, topic, payload, status, attempts, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		item.ID, item.JournalID, item.Topic, item.Payload, item.Status, item.Attempts, item.NextAttemptAt, item.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: outbox item for journal %q", ledger.ErrDuplicateKey, item.JournalID)
	}
	if err != nil {
		return fmt.Errorf("%w: enqueue outbox item: %v", ledger.ErrInternal, err)
	}
	return nil
}

func (t *pgTx) MarkJournalPosted(ctx context.Context, journalID string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE journals SET status = 'posted' WHERE journal_id = $1`, journalID)
	if err != nil {
		return fmt.Errorf("%w: mark journal posted: %v", ledger.ErrInternal, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, the tagged-error-variant discrimination §9 requires instead
// of string-matching the driver error text.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}
