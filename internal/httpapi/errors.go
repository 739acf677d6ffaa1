package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
)

// errorResponse is the JSON shape every failure response uses (§7),
// generalized from internal/services/validation.go's ErrorResponse.
type errorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, details interface{}) {
	writeJSON(w, status, errorResponse{Error: message, Details: details})
}

// mapError implements §7's error-class-to-status-code table.
func mapError(err error) (int, string, interface{}) {
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity, "validation failed", verr.Issues
	}

	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusUnprocessableEntity, err.Error(), nil
	case errors.Is(err, ledger.ErrDuplicateKey):
		return http.StatusConflict, err.Error(), nil
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusUnauthorized, err.Error(), nil
	case errors.Is(err, ledger.ErrMisconfigured):
		return http.StatusInternalServerError, err.Error(), nil
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, err.Error(), nil
	case errors.Is(err, ledger.ErrUnbalanced),
		errors.Is(err, ledger.ErrCurrencyMismatch),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrMissingBucket),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrNegativeBalance),
		errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, err.Error(), nil
	case errors.Is(err, ledger.ErrChaosFailure):
		return http.StatusInternalServerError, err.Error(), nil
	default:
		return http.StatusInternalServerError, "internal error", nil
	}
}
