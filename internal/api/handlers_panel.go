/**
 * @description
 * This file contains HTTP handlers for validator panel administration:
 * membership changes, quorum and review-period tuning, and panel listing.
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

// AddValidatorHandler registers a new panel validator.
func (h *EscrowHandlers) AddValidatorHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.ValidatorPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.AddValidator(r.Context(), caller, payload.Address); err != nil {
		log.Printf("level=warn component=api endpoint=add_validator outcome=failed caller=%s validator=%s err=%v", caller, payload.Address, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "validator_added"})
}

// RemoveValidatorHandler removes a panel validator.
func (h *EscrowHandlers) RemoveValidatorHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.ValidatorPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.RemoveValidator(r.Context(), caller, payload.Address); err != nil {
		log.Printf("level=warn component=api endpoint=remove_validator outcome=failed caller=%s validator=%s err=%v", caller, payload.Address, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "validator_removed"})
}

// ListValidatorsHandler returns the ordered validator panel.
func (h *EscrowHandlers) ListValidatorsHandler(w http.ResponseWriter, r *http.Request) {
	validators, err := h.service.ListValidators(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=list_validators outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, validators)
}

// SetQuorumHandler updates the minimum approval quorum.
func (h *EscrowHandlers) SetQuorumHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.QuorumPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetMinimumQuorum(r.Context(), caller, payload.Quorum); err != nil {
		log.Printf("level=warn component=api endpoint=set_quorum outcome=failed caller=%s quorum=%d err=%v", caller, payload.Quorum, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "quorum_updated"})
}

// SetReviewPeriodHandler updates the contribution review period.
func (h *EscrowHandlers) SetReviewPeriodHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.ReviewPeriodPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetReviewPeriod(r.Context(), caller, payload.Seconds); err != nil {
		log.Printf("level=warn component=api endpoint=set_review_period outcome=failed caller=%s seconds=%d err=%v", caller, payload.Seconds, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "review_period_updated"})
}

// DeskSettingsHandler returns the current desk settings.
func (h *EscrowHandlers) DeskSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.DeskSettings(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=desk_settings outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, settings)
}
