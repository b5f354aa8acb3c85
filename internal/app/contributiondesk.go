/**
 * @description
 * This file contains the contribution/validation desk logic: free-to-submit
 * contributions reviewed by a rotating validator window, vote tallying, the
 * time-boxed finalization state machine, and the deferred-claim payout path
 * used when the community pool is underfunded at finalization time.
 *
 * Finalization is a tri-state settlement, not a boolean: a payout attempt
 * ends paid, approved-unpaid-claimable, or rejected-no-payment. An
 * underfunded pool at finalization is a normal outcome with a recovery path
 * (ClaimReward), never an error.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
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

// SubmitContribution records a new contribution and freezes its validator
// window. No payment is captured; the reward, if any, is paid from the
// community pool at finalization or claim time.
//
// The assigned window is a snapshot of the panel at submission time, so later
// panel changes cannot alter who may vote on an in-flight review.
func (s *Service) SubmitContribution(ctx context.Context, caller string, payload domain.SubmitContributionPayload) (*domain.Contribution, error) {
	caller = normalizeAddress(caller)
	if caller == "" {
		return nil, ErrZeroAddress
	}
	title := strings.TrimSpace(payload.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if s.maxTitleLen > 0 && len(title) > s.maxTitleLen {
		return nil, ErrTitleTooLong
	}
	documentRef := strings.TrimSpace(payload.DocumentRef)
	if documentRef == "" {
		return nil, ErrEmptyDocumentRef
	}
	if s.maxDescLen > 0 && len(payload.Description) > s.maxDescLen {
		return nil, ErrDescriptionTooLong
	}
	if payload.Reward < 0 {
		return nil, ErrNegativeReward
	}

	settings, err := s.repo.GetDeskSettings(ctx)
	if err != nil {
		return nil, err
	}
	validators, err := s.repo.ListValidators(ctx)
	if err != nil {
		return nil, err
	}
	if len(validators) < settings.MinQuorum {
		return nil, ErrPanelBelowQuorum
	}

	panel := make([]string, len(validators))
	for i, v := range validators {
		panel[i] = v.Address
	}
	assigned := assignWindow(panel, settings.RotationCursor, settings.MaxAssigned)

	now := time.Now().UTC()
	created, err := s.repo.CreateContribution(ctx, &domain.Contribution{
		Contributor:    caller,
		Title:          title,
		DocumentRef:    documentRef,
		Description:    payload.Description,
		Reward:         payload.Reward,
		Status:         domain.ContributionUnderReview,
		ReviewDeadline: now.Add(time.Duration(settings.ReviewPeriodSeconds) * time.Second),
	}, assigned)
	if err != nil {
		return nil, fmt.Errorf("failed to record contribution: %w", err)
	}

	if err := s.repo.AdvanceRotationCursor(ctx, len(assigned), len(panel)); err != nil {
		log.Printf("level=error component=app msg=\"failed to advance rotation cursor\" contribution_id=%d err=%v", created.ID, err)
	}

	s.publishEvent(ctx, domain.EventContributionSubmitted, created.ID, caller, documentRef, created.Reward, "")
	return created, nil
}

// CastVote records an assigned validator's decision on an under-review
// contribution. One vote per validator per contribution, settable only once.
//
// A vote cast at or past the review deadline triggers finalization as a side
// effect of the same call, so a late vote that crosses the deadline settles
// the contribution without a separate Finalize call. If that settlement's
// payout fails, the vote is unwound too, leaving the call with no effect.
func (s *Service) CastVote(ctx context.Context, caller string, contributionID int64, approve bool) (*domain.FinalizeResult, error) {
	caller = normalizeAddress(caller)
	if caller == "" {
		return nil, ErrZeroAddress
	}
	if err := s.consumeRateLimit(ctx, "vote", caller, s.voteRateLimitPerMin); err != nil {
		return nil, err
	}

	contribution, err := s.repo.GetContributionByID(ctx, contributionID)
	if err != nil {
		return nil, err
	}
	if contribution.Status != domain.ContributionUnderReview {
		return nil, ErrNotUnderReview
	}
	assigned := false
	for _, v := range contribution.Validators {
		if v == caller {
			assigned = true
			break
		}
	}
	if !assigned {
		return nil, ErrNotAssignedValidator
	}

	choice := domain.VoteReject
	if approve {
		choice = domain.VoteApprove
	}

	now := time.Now().UTC()
	updated, err := s.repo.RecordVote(ctx, contributionID, caller, choice, now)
	if err != nil {
		if errors.Is(err, store.ErrStaleSettlementState) {
			return nil, ErrNotUnderReview
		}
		return nil, err
	}
	s.publishEvent(ctx, domain.EventVoteCast, contributionID, caller, "", 0, string(choice))

	if now.Before(updated.ReviewDeadline) {
		return &domain.FinalizeResult{Contribution: updated}, nil
	}

	result, err := s.finalizeContribution(ctx, updated, caller)
	if err != nil {
		if rmErr := s.repo.RemoveVote(ctx, contributionID, caller, choice); rmErr != nil {
			log.Printf("level=error component=app msg=\"CRITICAL: failed to unwind vote after finalization failure\" contribution_id=%d validator=%s err=%v", contributionID, caller, rmErr)
		}
		return nil, err
	}
	return result, nil
}

// Finalize settles an under-review contribution once its review deadline has
// passed. Anyone may call it; the decision rule is approvals >= quorum at the
// time finalization executes. A zero-vote contribution past its deadline
// finalizes to rejected.
func (s *Service) Finalize(ctx context.Context, caller string, contributionID int64) (*domain.FinalizeResult, error) {
	caller = normalizeAddress(caller)
	if caller == "" {
		return nil, ErrZeroAddress
	}

	contribution, err := s.repo.GetContributionByID(ctx, contributionID)
	if err != nil {
		return nil, err
	}
	if contribution.Status != domain.ContributionUnderReview {
		return nil, ErrNotUnderReview
	}
	if time.Now().UTC().Before(contribution.ReviewDeadline) {
		return nil, ErrReviewNotExpired
	}

	return s.finalizeContribution(ctx, contribution, caller)
}

// finalizeContribution applies the quorum decision and attempts the payout.
//
// The decision itself is folded into a single conditional UPDATE so the vote
// tally is read at transition time: a vote that commits after the caller's
// snapshot still counts, and a row holding quorum can never settle rejected.
// The status flip and the reward-paid flag are committed before the pool
// transfer so a reentrant call from the payout recipient observes the
// settlement already in place and fails fast. A failed transfer unwinds both
// writes, returning the contribution to under-review.
func (s *Service) finalizeContribution(ctx context.Context, contribution *domain.Contribution, actor string) (*domain.FinalizeResult, error) {
	if err := s.beginSettlement(ctx, scopeContributionSettle, contribution.ID); err != nil {
		return nil, err
	}
	defer s.endSettlement(ctx, scopeContributionSettle, contribution.ID)

	settings, err := s.repo.GetDeskSettings(ctx)
	if err != nil {
		return nil, err
	}

	decided, err := s.repo.ApplyFinalizationDecision(ctx, contribution.ID, settings.MinQuorum)
	if err != nil {
		if errors.Is(err, store.ErrStaleSettlementState) {
			return nil, ErrNotUnderReview
		}
		return nil, err
	}

	if decided.Status == domain.ContributionRejected {
		s.publishEvent(ctx, domain.EventContributionFinalized, decided.ID, actor, decided.Contributor, 0, string(domain.PayoutNone))
		final, err := s.repo.GetContributionByID(ctx, decided.ID)
		if err != nil {
			return nil, err
		}
		return &domain.FinalizeResult{Contribution: final, Outcome: domain.PayoutNone}, nil
	}

	outcome := domain.PayoutDeferredClaimable
	if decided.Reward == 0 {
		// Nothing to pay; close the claim path so the approval is terminal.
		if err := s.repo.MarkRewardPaid(ctx, decided.ID); err != nil {
			return nil, err
		}
		if err := s.repo.AddContributorReward(ctx, decided.Contributor, 0, time.Now().UTC()); err != nil {
			return nil, err
		}
		outcome = domain.PayoutPaid
	} else if settings.PoolAddress != "" {
		balance, err := s.ledger.BalanceOf(ctx, settings.PoolAddress)
		if err != nil {
			s.unwindApproval(ctx, decided.ID, false)
			return nil, fmt.Errorf("failed to query pool balance: %w", err)
		}
		if balance >= decided.Reward {
			if err := s.repo.MarkRewardPaid(ctx, decided.ID); err != nil {
				s.unwindApproval(ctx, decided.ID, false)
				return nil, err
			}
			if _, err := s.ledger.Transfer(ctx, settings.PoolAddress, decided.Contributor, decided.Reward, fmt.Sprintf("contribution %d reward", decided.ID)); err != nil {
				s.unwindApproval(ctx, decided.ID, true)
				return nil, fmt.Errorf("reward payout failed: %w", err)
			}
			if err := s.repo.AddContributorReward(ctx, decided.Contributor, decided.Reward, time.Now().UTC()); err != nil {
				log.Printf("level=error component=app msg=\"CRITICAL: reward paid but contributor stats update failed\" contribution_id=%d err=%v", decided.ID, err)
			}
			outcome = domain.PayoutPaid
		}
	}

	s.publishEvent(ctx, domain.EventContributionFinalized, decided.ID, actor, decided.Contributor, decided.Reward, string(outcome))
	final, err := s.repo.GetContributionByID(ctx, decided.ID)
	if err != nil {
		return nil, err
	}
	return &domain.FinalizeResult{Contribution: final, Outcome: outcome}, nil
}

// unwindApproval reverts a half-applied approval after a payout failure.
func (s *Service) unwindApproval(ctx context.Context, contributionID int64, rewardMarked bool) {
	if rewardMarked {
		if err := s.repo.ClearRewardPaid(ctx, contributionID); err != nil {
			log.Printf("level=error component=app msg=\"CRITICAL: failed to clear reward-paid flag during unwind\" contribution_id=%d err=%v", contributionID, err)
		}
	}
	if _, err := s.repo.TransitionContributionStatus(ctx, contributionID, domain.ContributionApproved, domain.ContributionUnderReview); err != nil {
		log.Printf("level=error component=app msg=\"CRITICAL: failed to reopen contribution during unwind\" contribution_id=%d err=%v", contributionID, err)
	}
}

// ClaimReward pays out an approved contribution whose reward could not be
// paid at finalization time. Only the original contributor may claim, exactly
// once; while the pool stays underfunded the claim simply fails and can be
// retried. Competing claims for a just-replenished pool are resolved purely
// by call order.
func (s *Service) ClaimReward(ctx context.Context, caller string, contributionID int64) error {
	caller = normalizeAddress(caller)
	if caller == "" {
		return ErrZeroAddress
	}
	if err := s.consumeRateLimit(ctx, "claim", caller, s.claimRateLimitPerMin); err != nil {
		return err
	}

	if err := s.beginSettlement(ctx, scopeRewardClaim, contributionID); err != nil {
		return err
	}
	defer s.endSettlement(ctx, scopeRewardClaim, contributionID)

	contribution, err := s.repo.GetContributionByID(ctx, contributionID)
	if err != nil {
		return err
	}
	if contribution.Contributor != caller {
		return ErrNotContributor
	}
	if contribution.Status != domain.ContributionApproved {
		return ErrRewardNotClaimable
	}
	if contribution.RewardPaid || contribution.RewardClaimed {
		return ErrRewardAlreadySettled
	}

	settings, err := s.repo.GetDeskSettings(ctx)
	if err != nil {
		return err
	}
	if settings.PoolAddress == "" {
		return ErrPoolNotConfigured
	}
	balance, err := s.ledger.BalanceOf(ctx, settings.PoolAddress)
	if err != nil {
		return fmt.Errorf("failed to query pool balance: %w", err)
	}
	if balance < contribution.Reward {
		return ErrPoolUnderfunded
	}

	claimed, err := s.repo.MarkRewardClaimed(ctx, contributionID)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrRewardAlreadySettled
	}

	if _, err := s.ledger.Transfer(ctx, settings.PoolAddress, caller, contribution.Reward, fmt.Sprintf("contribution %d deferred reward", contributionID)); err != nil {
		if clearErr := s.repo.ClearRewardClaimed(ctx, contributionID); clearErr != nil {
			log.Printf("level=error component=app msg=\"CRITICAL: failed to clear claim flag after payout failure\" contribution_id=%d err=%v", contributionID, clearErr)
		}
		return fmt.Errorf("deferred reward payout failed: %w", err)
	}

	if err := s.repo.AddContributorReward(ctx, caller, contribution.Reward, time.Now().UTC()); err != nil {
		log.Printf("level=error component=app msg=\"CRITICAL: reward claimed but contributor stats update failed\" contribution_id=%d err=%v", contributionID, err)
	}

	s.publishEvent(ctx, domain.EventRewardClaimed, contributionID, caller, "", contribution.Reward, string(domain.PayoutPaid))
	return nil
}

// SetPoolAddress points the desk at the community pool's custodial address.
func (s *Service) SetPoolAddress(ctx context.Context, caller, address string) error {
	if !s.IsAdministrator(caller) {
		return ErrNotAdministrator
	}
	address = normalizeAddress(address)
	if address == "" {
		return ErrZeroAddress
	}
	if err := s.repo.SetPoolAddress(ctx, address); err != nil {
		return err
	}
	s.publishEvent(ctx, domain.EventPoolAddressConfigured, 0, caller, address, 0, "")
	return nil
}

// DepositToPool is a pass-through to the community pool deposit.
func (s *Service) DepositToPool(ctx context.Context, caller string, amount int64) error {
	return s.PoolDeposit(ctx, caller, amount)
}

// GetContribution fetches a single contribution by id, including its frozen
// validator window.
func (s *Service) GetContribution(ctx context.Context, contributionID int64) (*domain.Contribution, error) {
	return s.repo.GetContributionByID(ctx, contributionID)
}

// GetVotes returns one entry per assigned validator, in assignment order,
// with a choice of "none" for validators that have not voted.
func (s *Service) GetVotes(ctx context.Context, contributionID int64) ([]domain.Vote, error) {
	contribution, err := s.repo.GetContributionByID(ctx, contributionID)
	if err != nil {
		return nil, err
	}
	votes, err := s.repo.ListVotes(ctx, contributionID)
	if err != nil {
		return nil, err
	}

	byValidator := make(map[string]domain.Vote, len(votes))
	for _, v := range votes {
		byValidator[v.Validator] = v
	}

	merged := make([]domain.Vote, 0, len(contribution.Validators))
	for _, validator := range contribution.Validators {
		if vote, ok := byValidator[validator]; ok {
			merged = append(merged, vote)
			continue
		}
		merged = append(merged, domain.Vote{
			ContributionID: contributionID,
			Validator:      validator,
			Choice:         domain.VoteNone,
		})
	}
	return merged, nil
}

// ListContributions returns a page of contributions. Out-of-range offsets
// return an empty list, never an error.
func (s *Service) ListContributions(ctx context.Context, opts domain.ListOptions) ([]domain.Contribution, error) {
	total, err := s.repo.CountContributions(ctx)
	if err != nil {
		return nil, err
	}
	clamped, ok := clampPage(total, opts)
	if !ok {
		return []domain.Contribution{}, nil
	}
	return s.repo.ListContributions(ctx, clamped)
}

// GetContributorStats returns a contributor's cumulative approved-reward
// total and approved-contribution count.
func (s *Service) GetContributorStats(ctx context.Context, contributor string) (*domain.ContributorStats, error) {
	contributor = normalizeAddress(contributor)
	if contributor == "" {
		return nil, ErrZeroAddress
	}
	return s.repo.GetContributorStats(ctx, contributor)
}

// TopContributors ranks contributors by cumulative reward value, ties broken
// by first-approval order.
func (s *Service) TopContributors(ctx context.Context, limit int) ([]domain.ContributorStats, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.repo.TopContributors(ctx, limit)
}
