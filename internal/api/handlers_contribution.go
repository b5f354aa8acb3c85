/**
 * @description
 * This file contains HTTP handlers for the contribution/validation desk
 * endpoints: contribution submission, validator voting, finalization, the
 * deferred reward claim, and contributor statistics.
 *
 * @dependencies
 * - encoding/json, log, net/http, strconv: Standard Go libraries.
 * - internal/domain: For request/response models.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/custodia/escrow-service/internal/domain"
)

// SubmitContributionHandler handles requests to submit a new contribution.
func (h *EscrowHandlers) SubmitContributionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.SubmitContributionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	contribution, err := h.service.SubmitContribution(r.Context(), caller, payload)
	if err != nil {
		log.Printf("level=warn component=api endpoint=submit_contribution outcome=failed caller=%s err=%v", caller, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, contribution)
}

// GetContributionHandler returns a single contribution by id.
func (h *EscrowHandlers) GetContributionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	contribution, err := h.service.GetContribution(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, contribution)
}

// ListContributionsHandler returns a paginated contribution listing.
func (h *EscrowHandlers) ListContributionsHandler(w http.ResponseWriter, r *http.Request) {
	contributions, err := h.service.ListContributions(r.Context(), listOptions(r))
	if err != nil {
		log.Printf("level=error component=api endpoint=list_contributions outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, contributions)
}

// GetVotesHandler returns one entry per assigned validator, including those
// that have not voted.
func (h *EscrowHandlers) GetVotesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	votes, err := h.service.GetVotes(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, votes)
}

// CastVoteHandler records a validator's decision. A vote past the review
// deadline settles the contribution in the same call.
func (h *EscrowHandlers) CastVoteHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	var payload domain.CastVotePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.CastVote(r.Context(), caller, id, payload.Approve)
	if err != nil {
		log.Printf("level=warn component=api endpoint=cast_vote outcome=failed caller=%s contribution_id=%d err=%v", caller, id, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// FinalizeContributionHandler settles a contribution past its review deadline.
func (h *EscrowHandlers) FinalizeContributionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Finalize(r.Context(), caller, id)
	if err != nil {
		log.Printf("level=warn component=api endpoint=finalize_contribution outcome=failed caller=%s contribution_id=%d err=%v", caller, id, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ClaimRewardHandler pays out a deferred reward to the contributor.
func (h *EscrowHandlers) ClaimRewardHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	if err := h.service.ClaimReward(r.Context(), caller, id); err != nil {
		log.Printf("level=warn component=api endpoint=claim_reward outcome=failed caller=%s contribution_id=%d err=%v", caller, id, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reward_claimed"})
}

// ContributorStatsHandler returns cumulative statistics for one contributor.
func (h *EscrowHandlers) ContributorStatsHandler(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	stats, err := h.service.GetContributorStats(r.Context(), address)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// TopContributorsHandler returns the contributor ranking by cumulative value.
func (h *EscrowHandlers) TopContributorsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	ranking, err := h.service.TopContributors(r.Context(), limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=top_contributors outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ranking)
}
