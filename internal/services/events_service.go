package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/store"
)

// EventsService is C7, the event ingress / ack sink the outbox
// dispatcher's consumer calls back into once it has processed a
// LedgerEvent.Posted delivery (§4.7).
type EventsService struct {
	store store.Store
}

func NewEventsService(st store.Store) *EventsService {
	return &EventsService{store: st}
}

// AckRequest is the body of POST /events (§6). Payload is the raw
// event-payload object as dispatched (§6 "Event payload wire format"),
// kept unparsed rather than re-decoded into a Go shape the ack path has
// no use for.
type AckRequest struct {
	JournalID string          `json:"journalId"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
}

// Ack records that req's journal was processed by the consumer. A
// duplicate journalId is the idempotency path and must succeed, not
// propagate an error (§4.7).
func (s *EventsService) Ack(ctx context.Context, req AckRequest) error {
	if req.JournalID == "" {
		return fmt.Errorf("%w: journalId is required", ledger.ErrValidation)
	}
	return s.store.InsertAck(ctx, ledger.Ack{
		JournalID: req.JournalID,
		Topic:     req.Topic,
		Payload:   []byte(req.Payload),
		AckedAt:   time.Now().UTC(),
	})
}
