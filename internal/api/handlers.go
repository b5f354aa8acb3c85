/**
 * @description
 * This file contains the shared plumbing for the escrow-service's HTTP handlers:
 * the handler struct, JSON response helpers, URL/query parsing helpers, and the
 * mapping from service errors to HTTP status codes. Handlers act as the bridge
 * between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, errors, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For route parameters.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/custodia/escrow-service/internal/app"
	"github.com/custodia/escrow-service/internal/domain"
	"github.com/custodia/escrow-service/internal/store"
)

// EscrowHandlers holds the application service that handlers will use.
type EscrowHandlers struct {
	service *app.Service
}

// NewEscrowHandlers creates a new instance of EscrowHandlers.
func NewEscrowHandlers(service *app.Service) *EscrowHandlers {
	return &EscrowHandlers{service: service}
}

// writeJSON is a helper for writing JSON responses.
func (h *EscrowHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *EscrowHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a service-layer error onto an HTTP status so callers
// can branch on cause. Unknown errors become a 500 without leaking detail.
func (h *EscrowHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrZeroAddress),
		errors.Is(err, app.ErrZeroAmount),
		errors.Is(err, app.ErrEmptyQuery),
		errors.Is(err, app.ErrQueryTooLong),
		errors.Is(err, app.ErrEmptyTitle),
		errors.Is(err, app.ErrTitleTooLong),
		errors.Is(err, app.ErrEmptyDocumentRef),
		errors.Is(err, app.ErrDescriptionTooLong),
		errors.Is(err, app.ErrNegativeReward),
		errors.Is(err, app.ErrQuorumNotPositive),
		errors.Is(err, app.ErrReviewPeriodInvalid):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotAdministrator),
		errors.Is(err, app.ErrNotRequester),
		errors.Is(err, app.ErrNotContributor),
		errors.Is(err, app.ErrNotAssignedValidator),
		errors.Is(err, app.ErrNotPoolWithdrawer):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrRequestNotFound),
		errors.Is(err, store.ErrContributionNotFound),
		errors.Is(err, store.ErrValidatorNotFound),
		errors.Is(err, store.ErrContributorNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrAlreadyFulfilled),
		errors.Is(err, app.ErrCompletionPending),
		errors.Is(err, app.ErrNoCompletionPending),
		errors.Is(err, app.ErrNotUnderReview),
		errors.Is(err, app.ErrReviewNotExpired),
		errors.Is(err, store.ErrAlreadyVoted),
		errors.Is(err, store.ErrValidatorExists),
		errors.Is(err, app.ErrQuorumExceedsPanel),
		errors.Is(err, app.ErrPanelBelowQuorum),
		errors.Is(err, app.ErrRewardAlreadySettled),
		errors.Is(err, app.ErrRewardNotClaimable),
		errors.Is(err, app.ErrPoolNotConfigured),
		errors.Is(err, app.ErrSettlementInProgress):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrRequestCostNotSet),
		errors.Is(err, app.ErrReservationExceeded),
		errors.Is(err, app.ErrPoolUnderfunded),
		errors.Is(err, app.ErrPoolInsufficient):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// callerAddress extracts the authenticated address or writes a 401.
func (h *EscrowHandlers) callerAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, ok := GetCallerAddress(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get caller address from context")
		return "", false
	}
	return caller, true
}

// entityID parses the {id} route parameter as a non-negative integer.
func (h *EscrowHandlers) entityID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id < 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid id format")
		return 0, false
	}
	return id, true
}

// listOptions parses limit/offset query parameters. Malformed values fall
// back to defaults rather than failing the request.
func listOptions(r *http.Request) domain.ListOptions {
	var opts domain.ListOptions
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			opts.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			opts.Offset = offset
		}
	}
	return opts
}
