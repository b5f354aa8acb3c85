/**
 * @description
 * This file contains the core wiring for the escrow-service business logic.
 * The `Service` struct orchestrates the request/fulfillment desk, the
 * contribution/validation desk, the validator panel, and the community pool,
 * coordinating between the database repository, the external credit-ledger
 * client, and the message broker.
 *
 * Key features:
 * - Holds the custodial account addresses (desk, pool authority) and the
 *   administrator identity used for role checks.
 * - Provides the in-process single-flight settlement guard that, together
 *   with the store's settlement-lock rows and state-before-transfer
 *   ordering, closes the reentrancy window around external value transfers.
 * - Publishes one audit event per state-mutating operation.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For audit event ids.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/ledgerclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia/escrow-service/internal/domain"
	"github.com/custodia/escrow-service/internal/store"
	"github.com/custodia/escrow-service/pkg/ledgerclient"
	"github.com/custodia/escrow-service/pkg/rabbitmq"
)

var (
	// Authorization failures.
	ErrNotAdministrator     = errors.New("caller is not the administrator")
	ErrNotRequester         = errors.New("caller is not the requester of this request")
	ErrNotContributor       = errors.New("caller is not the contributor of this contribution")
	ErrNotAssignedValidator = errors.New("caller is not an assigned validator for this contribution")
	ErrNotPoolWithdrawer    = errors.New("caller is neither the desk nor the administrator")

	// Input validation failures.
	ErrZeroAddress        = errors.New("address must not be empty")
	ErrZeroAmount         = errors.New("amount must be greater than zero")
	ErrEmptyQuery         = errors.New("query must not be empty")
	ErrQueryTooLong       = errors.New("query exceeds maximum length")
	ErrEmptyTitle         = errors.New("title must not be empty")
	ErrTitleTooLong       = errors.New("title exceeds maximum length")
	ErrEmptyDocumentRef   = errors.New("document reference must not be empty")
	ErrDescriptionTooLong = errors.New("description exceeds maximum length")
	ErrNegativeReward     = errors.New("reward must not be negative")

	// State-conflict failures.
	ErrRequestCostNotSet    = errors.New("request cost is not configured")
	ErrAlreadyFulfilled     = errors.New("request is already fulfilled")
	ErrCompletionPending    = errors.New("a completion is already pending for this request")
	ErrNoCompletionPending  = errors.New("no completion is pending for this request")
	ErrNotUnderReview       = errors.New("contribution is not under review")
	ErrReviewNotExpired     = errors.New("review period has not expired")
	ErrQuorumNotPositive    = errors.New("minimum quorum must be greater than zero")
	ErrQuorumExceedsPanel   = errors.New("minimum quorum exceeds panel size")
	ErrReviewPeriodInvalid  = errors.New("review period must be greater than zero")
	ErrPanelBelowQuorum     = errors.New("validator panel is smaller than the minimum quorum")
	ErrSettlementInProgress = errors.New("a settlement for this entity is already in progress")
	ErrRewardAlreadySettled = errors.New("reward was already paid or claimed")
	ErrRewardNotClaimable   = errors.New("contribution reward is not claimable")
	ErrPoolNotConfigured    = errors.New("community pool address is not configured")
	ErrRateLimited          = errors.New("rate limit exceeded")

	// Resource-insufficiency failures.
	ErrReservationExceeded = errors.New("withdrawal exceeds unreserved desk balance")
	ErrPoolUnderfunded     = errors.New("community pool balance is insufficient; retry after it is replenished")
	ErrPoolInsufficient    = errors.New("withdrawal exceeds pool balance")
)

// Settlement guard scopes. Each (scope, entity id) pair admits one in-flight
// settlement at a time, across both the in-process guard and the store lock.
const (
	scopeRequestSettle      = "request_settle"
	scopeDeskWithdraw       = "desk_withdraw"
	scopeContributionSettle = "contribution_settle"
	scopeRewardClaim        = "reward_claim"
	scopePoolWithdraw       = "pool_withdraw"
	scopePoolDeposit        = "pool_deposit"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service provides the core business logic for the escrow desks.
type Service struct {
	repo          store.Repository
	ledger        *ledgerclient.Client
	eventProducer rabbitmq.Publisher

	adminAddress string
	deskAddress  string

	requestCost int64
	maxQueryLen int
	maxTitleLen int
	maxDescLen  int

	rateLimiter          *RedisClaimRateLimiter
	claimRateLimitPerMin int
	voteRateLimitPerMin  int

	inflight sync.Map
}

// NewService creates a new escrow service instance.
func NewService(
	repo store.Repository,
	ledger *ledgerclient.Client,
	producer rabbitmq.Publisher,
	adminAddress string,
	deskAddress string,
	requestCost int64,
	maxQueryLen int,
	maxTitleLen int,
	maxDescLen int,
) *Service {
	return &Service{
		repo:          repo,
		ledger:        ledger,
		eventProducer: producer,
		adminAddress:  adminAddress,
		deskAddress:   deskAddress,
		requestCost:   requestCost,
		maxQueryLen:   maxQueryLen,
		maxTitleLen:   maxTitleLen,
		maxDescLen:    maxDescLen,
	}
}

// SetClaimRateLimiter installs the distributed limiter applied to vote and
// reward-claim operations.
func (s *Service) SetClaimRateLimiter(limiter *RedisClaimRateLimiter, claimPerMinute, votePerMinute int) {
	s.rateLimiter = limiter
	s.claimRateLimitPerMin = claimPerMinute
	s.voteRateLimitPerMin = votePerMinute
}

// IsAdministrator reports whether the caller is the configured administrator.
func (s *Service) IsAdministrator(caller string) bool {
	return caller != "" && caller == s.adminAddress
}

// beginSettlement acquires both reentrancy layers for a settlement-sensitive
// operation: the in-process single-flight guard first, then the store-backed
// lock row. A reentrant call from a malicious transfer recipient fails here
// before it can observe any half-settled state.
func (s *Service) beginSettlement(ctx context.Context, scope string, entityID int64) error {
	key := scope + ":" + strconv.FormatInt(entityID, 10)
	if _, loaded := s.inflight.LoadOrStore(key, struct{}{}); loaded {
		return ErrSettlementInProgress
	}
	acquired, err := s.repo.AcquireSettlementLock(ctx, scope, entityID)
	if err != nil {
		s.inflight.Delete(key)
		return fmt.Errorf("failed to acquire settlement lock: %w", err)
	}
	if !acquired {
		s.inflight.Delete(key)
		return ErrSettlementInProgress
	}
	return nil
}

// endSettlement releases both reentrancy layers.
func (s *Service) endSettlement(ctx context.Context, scope string, entityID int64) {
	if err := s.repo.ReleaseSettlementLock(ctx, scope, entityID); err != nil {
		log.Printf("level=error component=app msg=\"settlement lock release failed\" scope=%s entity_id=%d err=%v", scope, entityID, err)
	}
	s.inflight.Delete(scope + ":" + strconv.FormatInt(entityID, 10))
}

// publishEvent emits a structured audit record for a state-mutating operation.
// Event loss is tolerated; settlement correctness never depends on the broker.
func (s *Service) publishEvent(ctx context.Context, kind string, entityID int64, actor, subject string, amount int64, outcome string) {
	if s.eventProducer == nil {
		return
	}
	event := domain.EscrowEvent{
		EventID:    uuid.New().String(),
		Kind:       kind,
		EntityID:   entityID,
		Actor:      actor,
		Subject:    subject,
		Amount:     amount,
		Outcome:    outcome,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.EscrowEventsExchange, kind, event); err != nil {
		log.Printf("level=warn component=app msg=\"audit event publish failed\" kind=%s entity_id=%d err=%v", kind, entityID, err)
	}
}

// consumeRateLimit applies the fixed-window limiter when one is installed.
func (s *Service) consumeRateLimit(ctx context.Context, scope, subject string, limit int) error {
	if s.rateLimiter == nil || limit <= 0 {
		return nil
	}
	count, _, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, subject, limit, time.Minute)
	if err != nil {
		// Limiter outages must not block settlement.
		log.Printf("level=warn component=app msg=\"rate limiter unavailable\" scope=%s err=%v", scope, err)
		return nil
	}
	if count > limit {
		return ErrRateLimited
	}
	return nil
}

// clampPage normalizes pagination against the collection size. Out-of-range
// offsets yield an empty page; offset+limit past the end yields the tail.
func clampPage(total int64, opts domain.ListOptions) (domain.ListOptions, bool) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if int64(offset) >= total {
		return domain.ListOptions{}, false
	}
	if int64(offset)+int64(limit) > total {
		limit = int(total - int64(offset))
	}
	return domain.ListOptions{Limit: limit, Offset: offset}, true
}

func normalizeAddress(address string) string {
	return strings.TrimSpace(address)
}
