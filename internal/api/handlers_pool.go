/**
 * @description
 * This file contains HTTP handlers for the community pool endpoints: deposits,
 * dual-authority withdrawals, the administrator emergency drain, and the pool
 * balance read.
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

// PoolDepositHandler pulls funds from the caller into the community pool.
func (h *EscrowHandlers) PoolDepositHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.DepositPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.PoolDeposit(r.Context(), caller, payload.Amount); err != nil {
		log.Printf("level=warn component=api endpoint=pool_deposit outcome=failed caller=%s amount=%d err=%v", caller, payload.Amount, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

// PoolWithdrawHandler handles a desk-or-administrator pool withdrawal.
func (h *EscrowHandlers) PoolWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.WithdrawPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.PoolWithdraw(r.Context(), caller, payload.To, payload.Amount); err != nil {
		log.Printf("level=warn component=api endpoint=pool_withdraw outcome=failed caller=%s amount=%d err=%v", caller, payload.Amount, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// PoolEmergencyWithdrawHandler handles the administrator break-glass drain.
func (h *EscrowHandlers) PoolEmergencyWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.WithdrawPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.PoolEmergencyWithdraw(r.Context(), caller, payload.To, payload.Amount); err != nil {
		log.Printf("level=warn component=api endpoint=pool_emergency_withdraw outcome=failed caller=%s amount=%d err=%v", caller, payload.Amount, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// PoolBalanceHandler returns the pool's custodial balance.
func (h *EscrowHandlers) PoolBalanceHandler(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.PoolBalance(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=pool_balance outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

// SetPoolAddressHandler configures the pool's custodial address.
func (h *EscrowHandlers) SetPoolAddressHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.PoolAddressPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetPoolAddress(r.Context(), caller, payload.Address); err != nil {
		log.Printf("level=warn component=api endpoint=set_pool_address outcome=failed caller=%s err=%v", caller, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "pool_address_set"})
}

// DepositToPoolHandler is the desk-side pass-through to the pool deposit.
func (h *EscrowHandlers) DepositToPoolHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	var payload domain.DepositPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.DepositToPool(r.Context(), caller, payload.Amount); err != nil {
		log.Printf("level=warn component=api endpoint=deposit_to_pool outcome=failed caller=%s amount=%d err=%v", caller, payload.Amount, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}
