package domain

import "time"

// Audit event kinds published for every state-mutating desk operation.
const (
	EventRequestSubmitted      = "request.submitted"
	EventRequestAdminCompleted = "request.admin_completed"
	EventCompletionSubmitted   = "request.completion_submitted"
	EventCompletionApproved    = "request.completion_approved"
	EventCompletionRejected    = "request.completion_rejected"
	EventDeskWithdrawal        = "desk.withdrawal"

	EventContributionSubmitted = "contribution.submitted"
	EventVoteCast              = "contribution.vote_cast"
	EventContributionFinalized = "contribution.finalized"
	EventRewardClaimed         = "contribution.reward_claimed"

	EventValidatorAdded   = "panel.validator_added"
	EventValidatorRemoved = "panel.validator_removed"
	EventQuorumChanged    = "panel.quorum_changed"
	EventReviewPeriodSet  = "panel.review_period_changed"

	EventPoolDeposit           = "pool.deposit"
	EventPoolWithdrawal        = "pool.withdrawal"
	EventPoolEmergencyDrain    = "pool.emergency_withdrawal"
	EventPoolAddressConfigured = "pool.address_configured"
)

// EscrowEvent is the audit record emitted for every state-mutating operation.
// It carries the operation kind, the primary entity id, the acting address,
// and any amount/outcome fields. Off-chain observers consume these; they are
// not required for correctness.
type EscrowEvent struct {
	EventID    string    `json:"event_id"`
	Kind       string    `json:"kind"`
	EntityID   int64     `json:"entity_id"`
	Actor      string    `json:"actor"`
	Subject    string    `json:"subject,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
