package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// AuditReader lists recorded engine events. *postgres.AuditStore
// satisfies it.
type AuditReader interface {
	Recent(ctx context.Context, event string, limit int) ([]domain.AuditEntry, error)
}

// JournalHandler serves the trade journal and the audit log.
type JournalHandler struct {
	trades domain.TradeJournal
	audit  AuditReader
	logger *slog.Logger
}

// NewJournalHandler creates a JournalHandler. Either source may be nil, in
// which case its endpoint answers 404.
func NewJournalHandler(trades domain.TradeJournal, audit AuditReader, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{trades: trades, audit: audit, logger: logger}
}

// ListTrades serves GET /api/trades?limit=N, newest first.
func (h *JournalHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusNotFound, "trade journal disabled")
		return
	}
	trades, err := h.trades.RecentTrades(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ListAudit serves GET /api/audit?event=E&limit=N, newest first.
func (h *JournalHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	entries, err := h.audit.Recent(r.Context(), r.URL.Query().Get("event"), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
