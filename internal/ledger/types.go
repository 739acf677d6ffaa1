package ledger

import "time"

// Bucket names a sub-balance on an account (§3, GLOSSARY).
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketPending   Bucket = "pending"
	BucketEscrow    Bucket = "escrow"
	BucketOutflow   Bucket = "outflow"
)

// Transition names an allowed movement of funds between two buckets on
// one account (§4.2).
type Transition string

const (
	TransitionReserve  Transition = "reserve"
	TransitionLock     Transition = "lock"
	TransitionFinalize Transition = "finalize"
	TransitionRelease  Transition = "release"
	TransitionRevert   Transition = "revert"
)

// Side distinguishes debit from credit; used only for the balance proof.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// JournalStatus is the two-state lifecycle of a Journal (§3).
type JournalStatus string

const (
	JournalPending JournalStatus = "pending"
	JournalPosted  JournalStatus = "posted"
)

// OutboxStatus is the three-state lifecycle of an OutboxItem (§4.5).
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxSent       OutboxStatus = "sent"
)

// LedgerEventPostedTopic is the single logical outbox topic this core
// emits (§3, §6). The spec has no fan-out to multiple topics.
const LedgerEventPostedTopic = "LedgerEvent.Posted"

// Amount is the wire shape of a money value on a Line: a currency code
// and a decimal-string amount, validated by C1/C3 before it reaches C4.
type Amount struct {
	Currency string `json:"currency" validate:"required,len=3,alpha,uppercase"`
	Amount   string `json:"amount" validate:"required,amountshape"`
}

// Line is one entry in a journal request: one account, one transition,
// one amount, one side (GLOSSARY).
type Line struct {
	AccountID  string     `json:"accountId" validate:"required"`
	Side       Side       `json:"side" validate:"required,oneof=debit credit"`
	Transition Transition `json:"transition" validate:"required,oneof=reserve lock finalize release revert"`
	FromBucket Bucket     `json:"fromBucket,omitempty"`
	ToBucket   Bucket     `json:"toBucket,omitempty"`
	Amount     Amount     `json:"amount" validate:"required"`
}

// JournalRequest is the validated, typed shape of a POST /journal body
// (§4.3, §6).
type JournalRequest struct {
	JournalID      string `json:"journalId" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required"`
	Lines          []Line `json:"lines" validate:"required,min=2,dive"`
}

// Account is a named holder of money, partitioned into four buckets in
// one currency (§3).
type Account struct {
	ID        string
	Currency  string
	Buckets   map[Bucket]int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Journal is a set of >= 2 lines posted atomically (§3).
type Journal struct {
	JournalID      string
	IdempotencyKey string
	Status         JournalStatus
	CreatedAt      time.Time
}

// LedgerEntry is one append-only audit record per committed line (§3).
type LedgerEntry struct {
	JournalID  string
	LineNo     int
	AccountID  string
	FromBucket Bucket
	ToBucket   Bucket
	Side       Side
	Transition Transition
	Amount     string
	Currency   string
	CreatedAt  time.Time
}

// OutboxItem is a durable, at-most-one-per-journal record of a
// post-commit event awaiting delivery (§3).
type OutboxItem struct {
	ID            string
	JournalID     string
	Topic         string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Ack is a consumer-side durable record that an event was processed,
// keyed by JournalID (§3).
type Ack struct {
	JournalID string
	Topic     string
	Payload   []byte
	AckedAt   time.Time
}

// HistoryEntry is one line of the account-history projection (§4.6).
type HistoryEntry struct {
	Transition Transition `json:"transition"`
	Amount     string     `json:"amount"`
	Timestamp  time.Time  `json:"timestamp"`
}
