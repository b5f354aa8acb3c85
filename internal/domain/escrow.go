/**
 * @description
 * This file defines the core domain models for the escrow-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest credit unit, which avoids
 *   floating-point inaccuracies with value movement.
 * - Request and contribution ids are monotonic and zero-based; they are
 *   allocated by the store at insertion time.
 * - Participant identities are ledger addresses (opaque strings). An empty
 *   string is the zero address and is rejected wherever an address is required.
 */

package domain

import "time"

// ContributionStatus is the review state of a contribution. Transitions are
// UnderReview -> Approved or UnderReview -> Rejected, both terminal.
type ContributionStatus string

const (
	ContributionUnderReview ContributionStatus = "under_review"
	ContributionApproved    ContributionStatus = "approved"
	ContributionRejected    ContributionStatus = "rejected"
)

// VoteChoice is a validator's recorded decision on an assigned contribution.
type VoteChoice string

const (
	VoteNone    VoteChoice = "none"
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
)

// PayoutOutcome is the tri-state result of a finalization payout attempt.
// Underfunded-at-finalization is a valid outcome, not a failure: the reward
// stays collectible through the deferred claim path.
type PayoutOutcome string

const (
	PayoutPaid              PayoutOutcome = "paid"
	PayoutDeferredClaimable PayoutOutcome = "approved_unpaid_claimable"
	PayoutNone              PayoutOutcome = "rejected_no_payment"
)

// Request is a paid query on the request/fulfillment desk. Payment is
// captured from the requester at submission and held at the desk until a
// completion is approved (resolver paid) or the administrator settles it
// directly (funds stay at the desk, reachable only via bounded withdrawal).
type Request struct {
	ID                    int64      `json:"id" db:"id"`
	Requester             string     `json:"requester" db:"requester"`
	Query                 string     `json:"query" db:"query"`
	Response              string     `json:"response,omitempty" db:"response"`
	Payment               int64      `json:"payment" db:"payment"`
	Fulfilled             bool       `json:"fulfilled" db:"fulfilled"`
	Resolver              string     `json:"resolver,omitempty" db:"resolver"`
	DocumentRef           string     `json:"document_ref,omitempty" db:"document_ref"`
	PendingApproval       bool       `json:"pending_approval" db:"pending_approval"`
	CompletionSubmittedAt *time.Time `json:"completion_submitted_at,omitempty" db:"completion_submitted_at"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// Contribution is a free-to-submit work item arbitrated by the validator
// panel. The assigned validator window is frozen at submission time so later
// panel changes cannot alter who may vote on it.
type Contribution struct {
	ID             int64              `json:"id" db:"id"`
	Contributor    string             `json:"contributor" db:"contributor"`
	Title          string             `json:"title" db:"title"`
	DocumentRef    string             `json:"document_ref" db:"document_ref"`
	Description    string             `json:"description,omitempty" db:"description"`
	Reward         int64              `json:"reward" db:"reward"`
	Status         ContributionStatus `json:"status" db:"status"`
	ReviewDeadline time.Time          `json:"review_deadline" db:"review_deadline"`
	RewardPaid     bool               `json:"reward_paid" db:"reward_paid"`
	RewardClaimed  bool               `json:"reward_claimed" db:"reward_claimed"`
	ApprovalCount  int                `json:"approval_count" db:"approval_count"`
	RejectionCount int                `json:"rejection_count" db:"rejection_count"`
	Validators     []string           `json:"validators,omitempty"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}

// Vote is one validator's decision on one contribution. Validators that have
// not voted yet are reported with choice "none" and a zero timestamp.
type Vote struct {
	ContributionID int64      `json:"contribution_id" db:"contribution_id"`
	Validator      string     `json:"validator" db:"validator"`
	Choice         VoteChoice `json:"choice" db:"choice"`
	VotedAt        *time.Time `json:"voted_at,omitempty" db:"voted_at"`
}

// Validator is a panel member. Position is its slot in the round-robin
// ordering; removal swap-moves the last member into the vacated slot.
type Validator struct {
	Address  string    `json:"address" db:"address"`
	Position int       `json:"position" db:"position"`
	AddedAt  time.Time `json:"added_at" db:"added_at"`
}

// DeskSettings is the administrator-mutable runtime configuration shared by
// the contribution desk and the validator panel, including the rotation
// cursor that round-robin assignment advances.
type DeskSettings struct {
	ReviewPeriodSeconds int64  `json:"review_period_seconds" db:"review_period_seconds"`
	MinQuorum           int    `json:"min_quorum" db:"min_quorum"`
	MaxAssigned         int    `json:"max_assigned" db:"max_assigned"`
	RotationCursor      int    `json:"rotation_cursor" db:"rotation_cursor"`
	PoolAddress         string `json:"pool_address,omitempty" db:"pool_address"`
}

// ContributorStats is the cumulative approved-reward record for one
// contributor. Both fields are monotonically non-decreasing and mutate only
// at finalization-with-payout or at a successful deferred claim.
type ContributorStats struct {
	Address         string     `json:"address" db:"address"`
	TotalRewards    int64      `json:"total_rewards" db:"total_rewards"`
	ApprovedCount   int        `json:"approved_count" db:"approved_count"`
	FirstApprovedAt *time.Time `json:"first_approved_at,omitempty" db:"first_approved_at"`
}

// FinalizeResult reports what a finalization did: the terminal status it
// reached and the payout outcome of the attempt.
type FinalizeResult struct {
	Contribution *Contribution `json:"contribution"`
	Outcome      PayoutOutcome `json:"outcome"`
}

// SubmitRequestPayload is the DTO for submitting a new paid request.
type SubmitRequestPayload struct {
	Query string `json:"query"`
}

// SubmitCompletionPayload is the DTO for proposing a fulfillment.
type SubmitCompletionPayload struct {
	DocumentRef string `json:"document_ref"`
}

// AdminCompletePayload is the DTO for the administrator settlement shortcut.
type AdminCompletePayload struct {
	Response string `json:"response"`
}

// SubmitContributionPayload is the DTO for submitting a contribution.
type SubmitContributionPayload struct {
	Title       string `json:"title"`
	DocumentRef string `json:"document_ref"`
	Description string `json:"description,omitempty"`
	Reward      int64  `json:"reward"`
}

// CastVotePayload is the DTO for a validator vote.
type CastVotePayload struct {
	Approve bool `json:"approve"`
}

// WithdrawPayload is the DTO for desk and pool withdrawals.
type WithdrawPayload struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// DepositPayload is the DTO for pool deposits.
type DepositPayload struct {
	Amount int64 `json:"amount"`
}

// ValidatorPayload is the DTO for panel membership changes.
type ValidatorPayload struct {
	Address string `json:"address"`
}

// QuorumPayload is the DTO for setting the minimum approval quorum.
type QuorumPayload struct {
	Quorum int `json:"quorum"`
}

// ReviewPeriodPayload is the DTO for setting the review period.
type ReviewPeriodPayload struct {
	Seconds int64 `json:"seconds"`
}

// PoolAddressPayload is the DTO for configuring the pool address.
type PoolAddressPayload struct {
	Address string `json:"address"`
}

// ListOptions controls pagination for request and contribution listings.
// Out-of-range offsets yield an empty page, never an error.
type ListOptions struct {
	Limit  int
	Offset int
}
