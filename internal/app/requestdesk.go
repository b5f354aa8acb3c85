/**
 * @description
 * This file contains the request/fulfillment desk logic: the pay-up-front
 * request queue, the two-party completion settlement protocol (resolver
 * submits, requester approves or rejects), the administrator settlement
 * shortcut, and the reservation-bounded administrator withdrawal.
 *
 * Value-custody discipline: every mutation that marks value as spoken for is
 * committed before the external ledger call, and a failed ledger call
 * unwinds every prior mutation within the same operation, so a request can
 * never be paid out twice and a failed call leaves no partial state.
 *
 * @dependencies
 * - context, errors, fmt, strings, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/custodia/escrow-service/internal/domain"
	"github.com/custodia/escrow-service/internal/store"
)

// SubmitRequest validates and records a new paid request, then captures the
// payment from the requester's standing allowance (payer -> desk).
//
// The request row is committed before the pull, and the new request's
// settlement lock is held across the capture: a transfer-from call that
// reenters any settlement path for this request fails on the guard, not on
// half-written state. A failed pull deletes the row so the submission has no
// effect.
func (s *Service) SubmitRequest(ctx context.Context, caller string, payload domain.SubmitRequestPayload) (*domain.Request, error) {
	caller = normalizeAddress(caller)
	if caller == "" {
		return nil, ErrZeroAddress
	}
	query := strings.TrimSpace(payload.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if s.maxQueryLen > 0 && len(query) > s.maxQueryLen {
		return nil, ErrQueryTooLong
	}
	if s.requestCost <= 0 {
		return nil, ErrRequestCostNotSet
	}

	created, err := s.repo.CreateRequest(ctx, &domain.Request{
		Requester: caller,
		Query:     query,
		Payment:   s.requestCost,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record request: %w", err)
	}

	if err := s.beginSettlement(ctx, scopeRequestSettle, created.ID); err != nil {
		if delErr := s.repo.DeleteRequest(ctx, created.ID); delErr != nil {
			log.Printf("level=error component=app msg=\"CRITICAL: failed to unwind request after lock failure\" request_id=%d err=%v", created.ID, delErr)
		}
		return nil, err
	}
	defer s.endSettlement(ctx, scopeRequestSettle, created.ID)

	if _, err := s.ledger.TransferFrom(ctx, caller, s.deskAddress, s.requestCost, fmt.Sprintf("request %d payment", created.ID)); err != nil {
		if delErr := s.repo.DeleteRequest(ctx, created.ID); delErr != nil {
			log.Printf("level=error component=app msg=\"CRITICAL: failed to unwind request after payment capture failure\" request_id=%d err=%v", created.ID, delErr)
		}
		return nil, fmt.Errorf("payment capture failed: %w", err)
	}

	s.publishEvent(ctx, domain.EventRequestSubmitted, created.ID, caller, "", created.Payment, "")
	return created, nil
}

// CompleteAsAdministrator settles a request directly. No resolver is paid;
// the captured payment stays at the desk, reachable later only through the
// reservation-bounded withdrawal.
func (s *Service) CompleteAsAdministrator(ctx context.Context, caller string, requestID int64, response string) (*domain.Request, error) {
	if !s.IsAdministrator(caller) {
		return nil, ErrNotAdministrator
	}

	req, err := s.repo.CompleteRequestByAdmin(ctx, requestID, response)
	if err != nil {
		if errors.Is(err, store.ErrStaleSettlementState) {
			return nil, ErrAlreadyFulfilled
		}
		return nil, err
	}

	s.publishEvent(ctx, domain.EventRequestAdminCompleted, requestID, caller, "", req.Payment, "")
	return req, nil
}

// SubmitCompletion records a proposed fulfillment by any caller. At most one
// completion may be outstanding per request; a pending one must be rejected
// before a new submission is accepted.
func (s *Service) SubmitCompletion(ctx context.Context, caller string, requestID int64, payload domain.SubmitCompletionPayload) error {
	caller = normalizeAddress(caller)
	if caller == "" {
		return ErrZeroAddress
	}
	documentRef := strings.TrimSpace(payload.DocumentRef)
	if documentRef == "" {
		return ErrEmptyDocumentRef
	}

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Fulfilled {
		return ErrAlreadyFulfilled
	}
	if req.PendingApproval {
		return ErrCompletionPending
	}

	if err := s.repo.AttachCompletion(ctx, requestID, caller, documentRef, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrStaleSettlementState) {
			// Lost a race with another submission or a settlement.
			return ErrCompletionPending
		}
		return err
	}

	s.publishEvent(ctx, domain.EventCompletionSubmitted, requestID, caller, documentRef, 0, "")
	return nil
}

// ApproveCompletion settles a pending completion: only the original requester
// may approve, and the recorded resolver is paid the request's payment amount
// (desk -> resolver).
//
// The request is flipped to fulfilled before the transfer so a reentrant
// approval from a malicious resolver fails fast; a failed transfer reopens
// the pending completion, unwinding the whole call.
func (s *Service) ApproveCompletion(ctx context.Context, caller string, requestID int64) (*domain.Request, error) {
	caller = normalizeAddress(caller)
	if caller == "" {
		return nil, ErrZeroAddress
	}

	if err := s.beginSettlement(ctx, scopeRequestSettle, requestID); err != nil {
		return nil, err
	}
	defer s.endSettlement(ctx, scopeRequestSettle, requestID)

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Requester != caller {
		return nil, ErrNotRequester
	}
	if req.Fulfilled {
		return nil, ErrAlreadyFulfilled
	}
	if !req.PendingApproval {
		return nil, ErrNoCompletionPending
	}

	settled, err := s.repo.SettleRequestPayout(ctx, requestID, caller)
	if err != nil {
		if errors.Is(err, store.ErrStaleSettlementState) {
			return nil, ErrAlreadyFulfilled
		}
		return nil, err
	}

	if _, err := s.ledger.Transfer(ctx, s.deskAddress, settled.Resolver, settled.Payment, fmt.Sprintf("request %d resolver payout", requestID)); err != nil {
		submittedAt := time.Time{}
		if req.CompletionSubmittedAt != nil {
			submittedAt = *req.CompletionSubmittedAt
		}
		if reopenErr := s.repo.ReopenRequestPayout(ctx, requestID, req.Resolver, req.DocumentRef, submittedAt); reopenErr != nil {
			log.Printf("level=error component=app msg=\"CRITICAL: failed to reopen request after payout failure\" request_id=%d err=%v", requestID, reopenErr)
		}
		return nil, fmt.Errorf("resolver payout failed: %w", err)
	}

	s.publishEvent(ctx, domain.EventCompletionApproved, requestID, caller, settled.Resolver, settled.Payment, "paid")
	return settled, nil
}

// RejectCompletion clears a pending completion, reopening the request for new
// submissions. Only the original requester may reject; the prior resolver
// retains no residual payout claim.
func (s *Service) RejectCompletion(ctx context.Context, caller string, requestID int64) error {
	caller = normalizeAddress(caller)
	if caller == "" {
		return ErrZeroAddress
	}

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Requester != caller {
		return ErrNotRequester
	}
	if req.Fulfilled {
		return ErrAlreadyFulfilled
	}
	if !req.PendingApproval {
		return ErrNoCompletionPending
	}

	rejected := req.Resolver
	if err := s.repo.ClearCompletion(ctx, requestID); err != nil {
		if errors.Is(err, store.ErrStaleSettlementState) {
			return ErrNoCompletionPending
		}
		return err
	}

	s.publishEvent(ctx, domain.EventCompletionRejected, requestID, caller, rejected, 0, "")
	return nil
}

// WithdrawFromDesk moves surplus desk funds to a recipient. Only the
// administrator may withdraw, and never below the reservation total: the sum
// of payments on open requests stays untouchable so a later approval can
// always pay its resolver.
func (s *Service) WithdrawFromDesk(ctx context.Context, caller, to string, amount int64) error {
	if !s.IsAdministrator(caller) {
		return ErrNotAdministrator
	}
	to = normalizeAddress(to)
	if to == "" {
		return ErrZeroAddress
	}
	if amount <= 0 {
		return ErrZeroAmount
	}

	if err := s.beginSettlement(ctx, scopeDeskWithdraw, 0); err != nil {
		return err
	}
	defer s.endSettlement(ctx, scopeDeskWithdraw, 0)

	reserved, err := s.repo.ReservedTotal(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute reservation total: %w", err)
	}
	balance, err := s.ledger.BalanceOf(ctx, s.deskAddress)
	if err != nil {
		return fmt.Errorf("failed to query desk balance: %w", err)
	}
	if amount > balance-reserved {
		return ErrReservationExceeded
	}

	if _, err := s.ledger.Transfer(ctx, s.deskAddress, to, amount, "desk withdrawal"); err != nil {
		return fmt.Errorf("desk withdrawal transfer failed: %w", err)
	}

	s.publishEvent(ctx, domain.EventDeskWithdrawal, 0, caller, to, amount, "")
	return nil
}

// ReservedTotal exposes the current reservation total (sum of payments on
// open requests).
func (s *Service) ReservedTotal(ctx context.Context) (int64, error) {
	return s.repo.ReservedTotal(ctx)
}

// GetRequest fetches a single request by id.
func (s *Service) GetRequest(ctx context.Context, requestID int64) (*domain.Request, error) {
	return s.repo.GetRequestByID(ctx, requestID)
}

// ListRequests returns a page of requests. Out-of-range offsets return an
// empty list, never an error.
func (s *Service) ListRequests(ctx context.Context, opts domain.ListOptions) ([]domain.Request, error) {
	total, err := s.repo.CountRequests(ctx)
	if err != nil {
		return nil, err
	}
	clamped, ok := clampPage(total, opts)
	if !ok {
		return []domain.Request{}, nil
	}
	return s.repo.ListRequests(ctx, clamped)
}

// ListOpenRequests returns all non-fulfilled requests.
func (s *Service) ListOpenRequests(ctx context.Context) ([]domain.Request, error) {
	return s.repo.ListOpenRequests(ctx)
}

// ListOpenRequestsByRequester returns a requester's non-fulfilled requests.
func (s *Service) ListOpenRequestsByRequester(ctx context.Context, requester string) ([]domain.Request, error) {
	requester = normalizeAddress(requester)
	if requester == "" {
		return nil, ErrZeroAddress
	}
	return s.repo.ListOpenRequestsByRequester(ctx, requester)
}
