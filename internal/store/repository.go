/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the escrow-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/custodia/escrow-service/internal/domain"
)

var (
	ErrRequestNotFound       = errors.New("request not found")
	ErrContributionNotFound  = errors.New("contribution not found")
	ErrValidatorNotFound     = errors.New("validator not found")
	ErrValidatorExists       = errors.New("validator already registered")
	ErrAlreadyVoted          = errors.New("validator already voted on this contribution")
	ErrContributorNotFound   = errors.New("contributor has no approved contributions")
	ErrSettlementLockHeld    = errors.New("settlement already in progress")
	ErrStaleSettlementState  = errors.New("settlement state changed concurrently")
	ErrDeskSettingsNotLoaded = errors.New("desk settings row missing")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Request desk methods. Ids are monotonic and zero-based, allocated at
	// insertion. Settlement transitions use conditional updates so that a
	// request can be paid out at most once regardless of call interleaving.
	CreateRequest(ctx context.Context, req *domain.Request) (*domain.Request, error)
	DeleteRequest(ctx context.Context, requestID int64) error
	GetRequestByID(ctx context.Context, requestID int64) (*domain.Request, error)
	CountRequests(ctx context.Context) (int64, error)
	ListRequests(ctx context.Context, opts domain.ListOptions) ([]domain.Request, error)
	ListOpenRequests(ctx context.Context) ([]domain.Request, error)
	ListOpenRequestsByRequester(ctx context.Context, requester string) ([]domain.Request, error)
	CompleteRequestByAdmin(ctx context.Context, requestID int64, response string) (*domain.Request, error)
	AttachCompletion(ctx context.Context, requestID int64, resolver, documentRef string, submittedAt time.Time) error
	ClearCompletion(ctx context.Context, requestID int64) error
	SettleRequestPayout(ctx context.Context, requestID int64, requester string) (*domain.Request, error)
	ReopenRequestPayout(ctx context.Context, requestID int64, resolver, documentRef string, submittedAt time.Time) error
	ReservedTotal(ctx context.Context) (int64, error)

	// Contribution desk methods. The assigned validator window is persisted
	// atomically with the contribution row and never changes afterwards.
	CreateContribution(ctx context.Context, c *domain.Contribution, validators []string) (*domain.Contribution, error)
	GetContributionByID(ctx context.Context, contributionID int64) (*domain.Contribution, error)
	CountContributions(ctx context.Context) (int64, error)
	ListContributions(ctx context.Context, opts domain.ListOptions) ([]domain.Contribution, error)
	ListVotes(ctx context.Context, contributionID int64) ([]domain.Vote, error)
	RecordVote(ctx context.Context, contributionID int64, validator string, choice domain.VoteChoice, votedAt time.Time) (*domain.Contribution, error)
	RemoveVote(ctx context.Context, contributionID int64, validator string, choice domain.VoteChoice) error
	ApplyFinalizationDecision(ctx context.Context, contributionID int64, quorum int) (*domain.Contribution, error)
	TransitionContributionStatus(ctx context.Context, contributionID int64, from, to domain.ContributionStatus) (bool, error)
	MarkRewardPaid(ctx context.Context, contributionID int64) error
	ClearRewardPaid(ctx context.Context, contributionID int64) error
	MarkRewardClaimed(ctx context.Context, contributionID int64) (bool, error)
	ClearRewardClaimed(ctx context.Context, contributionID int64) error

	// Contributor statistics; monotonically non-decreasing, mutated only on
	// payout (immediate or deferred claim).
	AddContributorReward(ctx context.Context, contributor string, amount int64, approvedAt time.Time) error
	GetContributorStats(ctx context.Context, contributor string) (*domain.ContributorStats, error)
	TopContributors(ctx context.Context, limit int) ([]domain.ContributorStats, error)

	// Validator panel methods. Removal swap-moves the last validator into the
	// vacated position and clamps the rotation cursor to the new panel size.
	AddValidator(ctx context.Context, address string) error
	RemoveValidator(ctx context.Context, address string) error
	ListValidators(ctx context.Context) ([]domain.Validator, error)
	GetDeskSettings(ctx context.Context) (*domain.DeskSettings, error)
	EnsureDeskSettings(ctx context.Context, defaults domain.DeskSettings) error
	SetMinQuorum(ctx context.Context, quorum int) error
	SetReviewPeriod(ctx context.Context, seconds int64) error
	SetPoolAddress(ctx context.Context, address string) error
	AdvanceRotationCursor(ctx context.Context, by int, panelSize int) error

	// Settlement locks: database-backed single-flight markers, the second
	// reentrancy layer behind the in-process guard.
	AcquireSettlementLock(ctx context.Context, scope string, entityID int64) (bool, error)
	ReleaseSettlementLock(ctx context.Context, scope string, entityID int64) error
}
