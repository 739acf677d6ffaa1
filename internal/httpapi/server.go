// Package httpapi is the chi-based adapter exposing the five wire
// endpoints of §6 over the core services. It plays the role
// cmd/server/main.go's route table plays in the teacher, kept as a thin
// package of its own so cmd/server/main.go only wires dependencies.
package httpapi

import (
	"github.com/lpinkhard/advanced-ledger-challenge/internal/config"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/services"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/store"
)

// Server holds the dependencies every handler needs.
type Server struct {
	cfg     *config.Config
	store   store.Store
	journal *services.JournalService
	outbox  *services.OutboxService
	history *services.HistoryService
	events  *services.EventsService
}

func NewServer(cfg *config.Config, st store.Store, journal *services.JournalService, outbox *services.OutboxService, history *services.HistoryService, events *services.EventsService) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		journal: journal,
		outbox:  outbox,
		history: history,
		events:  events,
	}
}
