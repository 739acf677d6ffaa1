package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/services"
)

// handlePostJournal is POST /journal (§6).
func (s *Server) handlePostJournal(w http.ResponseWriter, r *http.Request) {
	var req ledger.JournalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}

	result, err := s.journal.Post(r.Context(), &req)
	if err != nil {
		status, msg, details := mapError(err)
		writeError(w, status, msg, details)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "journalId": result.JournalID})
}

// handleHistory is GET /accounts/:id/history?currency=CCY (§6).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account id is required", nil)
		return
	}

	currency := r.URL.Query().Get("currency")
	result, err := s.history.History(r.Context(), accountID, currency)
	if err != nil {
		status, msg, details := mapError(err)
		writeError(w, status, msg, details)
		return
	}

	if len(result.History) == 0 {
		writeError(w, http.StatusNotFound, "no history for account", nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleOutboxProcess is POST /outbox/process (§6).
func (s *Server) handleOutboxProcess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := services.ProcessOptions{
		MaxBatch:     atoiOrDefault(q.Get("maxBatch"), 0),
		MaxBackoffMs: atoiOrDefault(q.Get("maxBackoffMs"), 0),
		TimeoutMs:    atoiOrDefault(q.Get("timeoutMs"), 0),
		Target:       q.Get("target"),
	}

	result, err := s.outbox.ProcessOnce(r.Context(), opts)
	if err != nil {
		status, msg, details := mapError(err)
		writeError(w, status, msg, details)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleEvents is POST /events (§6).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req services.AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}
	if req.JournalID == "" {
		writeError(w, http.StatusBadRequest, "journalId is required", nil)
		return
	}

	if err := s.events.Ack(r.Context(), req); err != nil {
		status, msg, details := mapError(err)
		writeError(w, status, msg, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleHealth is GET /health (§6).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbConnected := s.store.Ping(ctx) == nil
	pending, pendingRetries, err := s.store.OutboxQueueDepth(ctx)
	status := http.StatusOK
	if !dbConnected || err != nil {
		status = http.StatusInternalServerError
		pending, pendingRetries = 0, 0
	}

	writeJSON(w, status, map[string]interface{}{
		"dbConnected":    dbConnected,
		"outboxQueue":    pending,
		"pendingRetries": pendingRetries,
		"metrics":        map[string]interface{}{},
		"timestamp":      time.Now().UTC(),
	})
}

func atoiOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
