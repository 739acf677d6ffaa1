package services

import (
	"context"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/store"
)

// HistoryService is C6, the account-history query — a read-only
// projection over the audit log the way transaction_service.go's
// ListTransactions/GetRecentTransactions read over the transactions
// table, generalized to filter by account and optional currency.
type HistoryService struct {
	store store.Store
}

func NewHistoryService(st store.Store) *HistoryService {
	return &HistoryService{store: st}
}

// HistoryResult is the body of GET /accounts/:id/history (§4.6, §6).
type HistoryResult struct {
	AccountID string                 `json:"accountId"`
	Currency  string                 `json:"currency"`
	History   []ledger.HistoryEntry  `json:"history"`
}

// History returns the ascending-by-createdAt history for accountID,
// optionally filtered to one currency. An empty result is not an error
// here; the HTTP adapter decides whether to surface it as 404 (§4.6).
func (s *HistoryService) History(ctx context.Context, accountID, currency string) (HistoryResult, error) {
	entries, resolvedCurrency, err := s.store.AccountHistory(ctx, accountID, currency)
	if err != nil {
		return HistoryResult{}, err
	}
	if entries == nil {
		entries = []ledger.HistoryEntry{}
	}
	return HistoryResult{
		AccountID: accountID,
		Currency:  resolvedCurrency,
		History:   entries,
	}, nil
}
