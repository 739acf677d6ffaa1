package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/config"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/store"
)

// JournalService is C4, the journal poster. It plays the role
// internal/services/ledger_service.go's DoubleLedgerService plays for a
// two-account transfer, generalized to N lines across the four-bucket
// state machine (§4.4).
type JournalService struct {
	store     store.Store
	validator *ledger.Validator
	cfg       *config.Config
	redis     *redis.Client
	sf        singleflight.Group
	chaosRoll func() float64
}

// PostResult is the success shape of a post() call (§4.4).
type PostResult struct {
	JournalID string
}

func NewJournalService(st store.Store, validator *ledger.Validator, cfg *config.Config, rdb *redis.Client) *JournalService {
	return &JournalService{
		store:     st,
		validator: validator,
		cfg:       cfg,
		redis:     rdb,
		chaosRoll: rand.Float64,
	}
}

type eventPayload struct {
	JournalID string `json:"journalId"`
}

func idempotencyCacheKey(key string) string {
	return "ledger:idempotency:" + key
}

// Post validates, then posts, req as one all-or-nothing serializable
// transaction (§4.4). Concurrent callers sharing the same idempotencyKey
// are coalesced by singleflight before any of them reach the store,
// cutting duplicate-insert races down to the ones genuinely racing across
// processes (§11).
func (s *JournalService) Post(ctx context.Context, req *ledger.JournalRequest) (PostResult, error) {
	start := time.Now()

	if err := s.validator.ValidateShape(req); err != nil {
		return PostResult{}, err
	}
	if err := s.validator.Preflight(req); err != nil {
		return PostResult{}, err
	}

	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, idempotencyCacheKey(req.IdempotencyKey)).Result(); err == nil && cached != "" {
			return PostResult{JournalID: cached}, nil
		}
	}

	v, err, _ := s.sf.Do(req.IdempotencyKey, func() (interface{}, error) {
		return s.postLocked(ctx, req)
	})
	elapsed := time.Since(start)

	if err != nil {
		log.Printf("[JOURNAL] journalId=%s idempotencyKey=%s elapsed=%s error=%v", req.JournalID, req.IdempotencyKey, elapsed, errorClass(err))
		return PostResult{}, err
	}

	result := v.(PostResult)
	log.Printf("[JOURNAL] journalId=%s idempotencyKey=%s elapsed=%s status=posted", result.JournalID, req.IdempotencyKey, elapsed)

	if s.redis != nil {
		s.redis.Set(ctx, idempotencyCacheKey(req.IdempotencyKey), result.JournalID, 24*time.Hour)
	}
	return result, nil
}

func (s *JournalService) postLocked(ctx context.Context, req *ledger.JournalRequest) (PostResult, error) {
	var result PostResult

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existingID, found, err := tx.FindJournal(ctx, req.IdempotencyKey, req.JournalID)
		if err != nil {
			return err
		}
		if found {
			result = PostResult{JournalID: existingID}
			return nil
		}

		now := time.Now().UTC()
		if err := tx.InsertJournalHeader(ctx, ledger.Journal{
			JournalID:      req.JournalID,
			IdempotencyKey: req.IdempotencyKey,
			Status:         ledger.JournalPending,
			CreatedAt:      now,
		}); err != nil {
			if errors.Is(err, ledger.ErrDuplicateKey) {
				raceID, raceFound, ferr := tx.FindJournal(ctx, req.IdempotencyKey, req.JournalID)
				if ferr != nil {
					return ferr
				}
				if raceFound {
					result = PostResult{JournalID: raceID}
					return nil
				}
			}
			return err
		}

		touched := make(map[string]bool, len(req.Lines))
		for i, line := range req.Lines {
			lineNo := i + 1

			minor, err := ledger.ToMinor(line.Amount.Amount)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}

			if err := tx.UpsertAccount(ctx, line.AccountID, line.Amount.Currency); err != nil {
				return err
			}
			touched[line.AccountID] = true

			deltas := ledger.LineDeltas(line, minor)
			if len(deltas) == 0 {
				if err := tx.TouchAccount(ctx, line.AccountID); err != nil {
					return err
				}
			} else {
				overdraftExempt := s.cfg.IsSystemOverdraft(line.AccountID)
				if err := tx.ApplyBucketDeltas(ctx, line.AccountID, line.Amount.Currency, deltas, overdraftExempt); err != nil {
					return fmt.Errorf("line %d: %w", lineNo, err)
				}
			}

			if err := tx.AppendLedgerEntry(ctx, ledger.LedgerEntry{
				JournalID:  req.JournalID,
				LineNo:     lineNo,
				AccountID:  line.AccountID,
				FromBucket: line.FromBucket,
				ToBucket:   line.ToBucket,
				Side:       line.Side,
				Transition: line.Transition,
				Amount:     ledger.Canonicalize(line.Amount.Amount),
				Currency:   line.Amount.Currency,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}

		for accountID := range touched {
			if s.cfg.IsSystemOverdraft(accountID) {
				continue
			}
			buckets, err := tx.LoadAccountBuckets(ctx, accountID)
			if err != nil {
				return err
			}
			for _, balance := range buckets {
				if balance < 0 {
					return fmt.Errorf("%w: account %q", ledger.ErrNegativeBalance, accountID)
				}
			}
		}

		payload, err := json.Marshal(eventPayload{JournalID: req.JournalID})
		if err != nil {
			return fmt.Errorf("%w: marshal event payload: %v", ledger.ErrInternal, err)
		}
		if err := tx.EnqueueOutboxItem(ctx, ledger.OutboxItem{
			ID:            uuid.NewString(),
			JournalID:     req.JournalID,
			Topic:         ledger.LedgerEventPostedTopic,
			Payload:       payload,
			Status:        ledger.OutboxPending,
			Attempts:      0,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}

		if err := tx.MarkJournalPosted(ctx, req.JournalID); err != nil {
			return err
		}

		result = PostResult{JournalID: req.JournalID}

		if s.cfg.ChaosProbability > 0 && s.chaosRoll() < s.cfg.ChaosProbability {
			return ledger.ErrChaosFailure
		}
		return nil
	})

	if err != nil {
		return PostResult{}, err
	}
	return result, nil
}

// errorClass reduces err to its outermost sentinel for logging, the way
// the teacher tags log lines with a short reason rather than the full
// wrapped chain.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return "ValidationError"
	case errors.Is(err, ledger.ErrUnbalanced):
		return "Unbalanced"
	case errors.Is(err, ledger.ErrCurrencyMismatch):
		return "CurrencyMismatch"
	case errors.Is(err, ledger.ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ledger.ErrMissingBucket):
		return "MissingBucket"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ledger.ErrNegativeBalance):
		return "NegativeBalance"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ledger.ErrDuplicateKey):
		return "DuplicateKey"
	case errors.Is(err, ledger.ErrChaosFailure):
		return "ChaosFailure"
	default:
		return "InternalError"
	}
}
