package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/config"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/store"
)

// OutboxService is C5, the outbox dispatcher. It plays the role
// queueForSettlement's Redis push plays in transaction_service.go, but
// generalized into a durable claim/dispatch/retry loop instead of a
// fire-and-forget queue push.
type OutboxService struct {
	store      store.Store
	cfg        *config.Config
	redis      *redis.Client
	httpClient *http.Client
}

func NewOutboxService(st store.Store, cfg *config.Config, rdb *redis.Client) *OutboxService {
	return &OutboxService{
		store:      st,
		cfg:        cfg,
		redis:      rdb,
		httpClient: &http.Client{},
	}
}

// ProcessOptions overrides the per-run behavior of ProcessOnce; a zero
// value means "use the configured default" (§4.5, §6's
// /outbox/process query parameters).
type ProcessOptions struct {
	MaxBatch     int
	MaxBackoffMs int
	TimeoutMs    int
	Target       string
}

// ProcessResult is the run summary returned to /outbox/process (§6).
type ProcessResult struct {
	Attempted      int `json:"attempted"`
	Sent           int `json:"sent"`
	Retried        int `json:"retried"`
	Pending        int `json:"pending"`
	PendingRetries int `json:"pendingRetries"`
}

const (
	defaultMaxBatch     = 50
	defaultMaxBackoffMs = 60000
	defaultTimeoutMs    = 5000
	baseBackoffMs       = 500
)

// ProcessOnce claims up to maxBatch pending items one at a time and
// dispatches each, never letting one worker hold more than one item in
// processing at once (§4.5).
func (s *OutboxService) ProcessOnce(ctx context.Context, opts ProcessOptions) (ProcessResult, error) {
	maxBatch := opts.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	maxBackoffMs := opts.MaxBackoffMs
	if maxBackoffMs <= 0 {
		maxBackoffMs = defaultMaxBackoffMs
	}
	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	if opts.TimeoutMs <= 0 {
		timeout = s.cfg.OutboxTimeout
		if timeout <= 0 {
			timeout = defaultTimeoutMs * time.Millisecond
		}
	}
	target := s.resolveTarget(opts.Target)

	var result ProcessResult
	for i := 0; i < maxBatch; i++ {
		item, err := s.store.ClaimNextOutboxItem(ctx, time.Now().UTC())
		if err != nil {
			return result, err
		}
		if item == nil {
			break
		}
		result.Attempted++

		if s.dispatch(ctx, target, timeout, item) {
			if err := s.store.MarkOutboxSent(ctx, item.ID); err != nil {
				return result, err
			}
			result.Sent++
			continue
		}

		attempts := item.Attempts + 1
		nextAttemptAt := time.Now().UTC().Add(backoffDelay(attempts, maxBackoffMs))
		if err := s.store.RescheduleOutboxItem(ctx, item.ID, attempts, nextAttemptAt); err != nil {
			return result, err
		}
		result.Retried++
	}

	pending, pendingRetries, err := s.store.OutboxQueueDepth(ctx)
	if err != nil {
		return result, err
	}
	result.Pending = pending
	result.PendingRetries = pendingRetries
	return result, nil
}

// resolveTarget applies the §4.5 precedence: explicit argument →
// configured absolute URL → configured path + host → dev default.
func (s *OutboxService) resolveTarget(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if s.cfg.OutboxTargetURL != "" {
		return s.cfg.OutboxTargetURL
	}
	if s.cfg.OutboxTargetHost != "" {
		return strings.TrimRight(s.cfg.OutboxTargetHost, "/") + s.cfg.OutboxTargetPath
	}
	return "http://localhost:4000/webhooks/ledger-events"
}

// dispatch sends one outbox item and reports success. Non-2xx, transport
// errors, and timeouts are all treated as failure; the response body is
// read as text for error logging on a best-effort basis (§9).
func (s *OutboxService) dispatch(ctx context.Context, target string, timeout time.Duration, item *ledger.OutboxItem) bool {
	body, err := json.Marshal(map[string]interface{}{
		"journalId": item.JournalID,
		"topic":     item.Topic,
		"payload":   json.RawMessage(item.Payload),
	})
	if err != nil {
		log.Printf("[OUTBOX] id=%s journalId=%s marshal error=%v", item.ID, item.JournalID, err)
		return false
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(dctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		log.Printf("[OUTBOX] id=%s journalId=%s request build error=%v", item.ID, item.JournalID, err)
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("[OUTBOX] id=%s journalId=%s dispatch error=%v", item.ID, item.JournalID, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("[OUTBOX] id=%s journalId=%s status=%d body=%s", item.ID, item.JournalID, resp.StatusCode, string(text))
		return false
	}
	return true
}

// backoffDelay implements §4.5's schedule exactly:
// min(base·2^min(attempts,10), maxBackoffMs) plus up to 20% additive
// jitter, with the sum clipped to maxBackoffMs, so nextAttemptAt never
// exceeds now+maxBackoffMs (well inside invariant 6's bound).
func backoffDelay(attempts, maxBackoffMs int) time.Duration {
	capped := attempts
	if capped > 10 {
		capped = 10
	}
	delayMs := float64(baseBackoffMs) * math.Pow(2, float64(capped))
	if delayMs > float64(maxBackoffMs) {
		delayMs = float64(maxBackoffMs)
	}
	jitterMs := delayMs * 0.2 * rand.Float64()
	totalMs := delayMs + jitterMs
	if totalMs > float64(maxBackoffMs) {
		totalMs = float64(maxBackoffMs)
	}
	return time.Duration(totalMs) * time.Millisecond
}

// cronLockKey is the Redis key one process must SETNX to win the right
// to run this tick's periodic dispatch, so a horizontally-scaled
// deployment runs processOnce once per interval, not once per replica.
const cronLockKey = "ledger:outbox:cron-lock"

// RunCronLoop starts the optional in-process periodic trigger (§6's
// cron enable/interval row) and blocks until ctx is cancelled. It is a
// no-op if cron is disabled in configuration.
func (s *OutboxService) RunCronLoop(ctx context.Context) {
	if !s.cfg.CronEnabled {
		return
	}
	ticker := time.NewTicker(s.cfg.CronInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.acquireCronLock(ctx) {
				continue
			}
			if _, err := s.ProcessOnce(ctx, ProcessOptions{}); err != nil {
				log.Printf("[OUTBOX] cron tick error=%v", err)
			}
		}
	}
}

func (s *OutboxService) acquireCronLock(ctx context.Context) bool {
	if s.redis == nil {
		return true
	}
	ok, err := s.redis.SetNX(ctx, cronLockKey, "1", s.cfg.CronInterval/2).Result()
	if err != nil {
		log.Printf("[OUTBOX] cron lock error=%v", err)
		return false
	}
	return ok
}
