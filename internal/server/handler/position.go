package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// PositionBook is the ledger surface the position endpoints need.
type PositionBook interface {
	Positions(status domain.PositionStatus) []domain.Position
	Close(ctx context.Context, id string, price decimal.Decimal, reason domain.CloseReason) (domain.ClosedPosition, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	ledger PositionBook
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(ledger PositionBook, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{ledger: ledger, logger: logger}
}

// ListPositions returns positions filtered by ?status=OPEN|CLOSED. No
// filter returns all of them.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := domain.PositionStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "", domain.PositionStatusOpen, domain.PositionStatusClosed:
	default:
		writeError(w, http.StatusBadRequest, "status must be OPEN or CLOSED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": h.ledger.Positions(status)})
}

type closeRequest struct {
	Price  decimal.Decimal    `json:"price"`
	Reason domain.CloseReason `json:"reason,omitempty"`
}

// ClosePosition closes an open position at the given price.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req closeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Reason {
	case "", domain.CloseManual, domain.CloseCancelled:
	default:
		writeError(w, http.StatusBadRequest, "reason must be MANUAL or CANCELLED")
		return
	}

	closed, err := h.ledger.Close(r.Context(), id, req.Price, req.Reason)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: close position failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()))
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, closed)
}
