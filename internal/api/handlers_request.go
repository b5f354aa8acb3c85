/**
 * @description
 * This file contains HTTP handlers for the request/fulfillment desk endpoints:
 * paid request submission, the two-party completion settlement flow, the
 * administrator shortcut, and the reservation-bounded desk withdrawal.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/domain: For request/response models.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/custodia/escrow-service/internal/domain"
)

// SubmitRequestHandler handles requests to open a new paid request.
func (h *EscrowHandlers) SubmitRequestHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.SubmitRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.service.SubmitRequest(r.Context(), caller, payload)
	if err != nil {
		log.Printf("level=warn component=api endpoint=submit_request outcome=failed caller=%s err=%v", caller, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, request)
}

// GetRequestHandler returns a single request by id.
func (h *EscrowHandlers) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	request, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// ListRequestsHandler returns a paginated request listing.
func (h *EscrowHandlers) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.ListRequests(r.Context(), listOptions(r))
	if err != nil {
		log.Printf("level=error component=api endpoint=list_requests outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, requests)
}

// ListOpenRequestsHandler returns all non-fulfilled requests.
func (h *EscrowHandlers) ListOpenRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.ListOpenRequests(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=list_open_requests outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, requests)
}

// ListMyOpenRequestsHandler returns the caller's non-fulfilled requests.
func (h *EscrowHandlers) ListMyOpenRequestsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	requests, err := h.service.ListOpenRequestsByRequester(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, requests)
}

// AdminCompleteRequestHandler handles the administrator settlement shortcut.
func (h *EscrowHandlers) AdminCompleteRequestHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	var payload domain.AdminCompletePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.service.CompleteAsAdministrator(r.Context(), caller, id, payload.Response)
	if err != nil {
		log.Printf("level=warn component=api endpoint=admin_complete_request outcome=failed caller=%s request_id=%d err=%v", caller, id, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// SubmitCompletionHandler handles a resolver's proposed fulfillment.
func (h *EscrowHandlers) SubmitCompletionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	var payload domain.SubmitCompletionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SubmitCompletion(r.Context(), caller, id, payload); err != nil {
		log.Printf("level=warn component=api endpoint=submit_completion outcome=failed caller=%s request_id=%d err=%v", caller, id, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "completion_submitted"})
}

// ApproveCompletionHandler settles a pending completion and pays the resolver.
func (h *EscrowHandlers) ApproveCompletionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	request, err := h.service.ApproveCompletion(r.Context(), caller, id)
	if err != nil {
		log.Printf("level=warn component=api endpoint=approve_completion outcome=failed caller=%s request_id=%d err=%v", caller, id, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// RejectCompletionHandler clears a pending completion, reopening the request.
func (h *EscrowHandlers) RejectCompletionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	if err := h.service.RejectCompletion(r.Context(), caller, id); err != nil {
		log.Printf("level=warn component=api endpoint=reject_completion outcome=failed caller=%s request_id=%d err=%v", caller, id, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "completion_rejected"})
}

// DeskWithdrawHandler handles the administrator's reservation-bounded withdrawal.
func (h *EscrowHandlers) DeskWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.WithdrawPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.WithdrawFromDesk(r.Context(), caller, payload.To, payload.Amount); err != nil {
		log.Printf("level=warn component=api endpoint=desk_withdraw outcome=failed caller=%s amount=%d err=%v", caller, payload.Amount, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// ReservedTotalHandler returns the reservation total over open requests.
func (h *EscrowHandlers) ReservedTotalHandler(w http.ResponseWriter, r *http.Request) {
	reserved, err := h.service.ReservedTotal(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=reserved_total outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"reserved": reserved})
}
