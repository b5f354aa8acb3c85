/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to requests, contributions, votes, validators, and contributor stats.
 *
 * Settlement-sensitive transitions (request payout, contribution status flips,
 * reward claim flags) are expressed as conditional UPDATEs so a row can cross a
 * terminal boundary exactly once even under concurrent or reentrant callers.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia/escrow-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const requestColumns = `id, requester, query, response, payment, fulfilled, resolver, document_ref, pending_approval, completion_submitted_at, created_at, updated_at`

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var req domain.Request
	err := row.Scan(
		&req.ID,
		&req.Requester,
		&req.Query,
		&req.Response,
		&req.Payment,
		&req.Fulfilled,
		&req.Resolver,
		&req.DocumentRef,
		&req.PendingApproval,
		&req.CompletionSubmittedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// CreateRequest inserts a new request with the next zero-based id. The id is
// allocated inside the insert so concurrent submissions never collide.
func (r *PostgresRepository) CreateRequest(ctx context.Context, req *domain.Request) (*domain.Request, error) {
	query := `
		INSERT INTO requests (id, requester, query, response, payment, fulfilled, resolver, document_ref, pending_approval, created_at, updated_at)
		SELECT COALESCE(MAX(id) + 1, 0), $1, $2, '', $3, FALSE, '', '', FALSE, NOW(), NOW()
		FROM requests
		RETURNING ` + requestColumns
	created, err := scanRequest(r.db.QueryRow(ctx, query, req.Requester, req.Query, req.Payment))
	if err != nil {
		return nil, fmt.Errorf("failed to insert request: %w", err)
	}
	return created, nil
}

// DeleteRequest removes a request row. Only used to unwind a submission whose
// payment capture failed, so the failed call leaves no partial state behind.
func (r *PostgresRepository) DeleteRequest(ctx context.Context, requestID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM requests WHERE id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// GetRequestByID retrieves a single request.
func (r *PostgresRepository) GetRequestByID(ctx context.Context, requestID int64) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	return scanRequest(r.db.QueryRow(ctx, query, requestID))
}

// CountRequests returns the total number of requests ever submitted.
func (r *PostgresRepository) CountRequests(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM requests`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresRepository) queryRequests(ctx context.Context, query string, args ...interface{}) ([]domain.Request, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []domain.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// ListRequests returns a page of requests in id order.
func (r *PostgresRepository) ListRequests(ctx context.Context, opts domain.ListOptions) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests ORDER BY id LIMIT $1 OFFSET $2`
	return r.queryRequests(ctx, query, opts.Limit, opts.Offset)
}

// ListOpenRequests returns all non-fulfilled requests in id order.
func (r *PostgresRepository) ListOpenRequests(ctx context.Context) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE fulfilled = FALSE ORDER BY id`
	return r.queryRequests(ctx, query)
}

// ListOpenRequestsByRequester returns a requester's non-fulfilled requests in id order.
func (r *PostgresRepository) ListOpenRequestsByRequester(ctx context.Context, requester string) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE fulfilled = FALSE AND requester = $1 ORDER BY id`
	return r.queryRequests(ctx, query, requester)
}

// CompleteRequestByAdmin marks a request fulfilled through the administrator
// shortcut. The conditional update guarantees a request settles at most once;
// an already-fulfilled request surfaces as ErrStaleSettlementState.
func (r *PostgresRepository) CompleteRequestByAdmin(ctx context.Context, requestID int64, response string) (*domain.Request, error) {
	query := `
		UPDATE requests
		SET fulfilled = TRUE, response = $2, pending_approval = FALSE, updated_at = NOW()
		WHERE id = $1 AND fulfilled = FALSE
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID, response))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			// Distinguish "no such request" from "already fulfilled".
			if _, getErr := r.GetRequestByID(ctx, requestID); getErr == nil {
				return nil, ErrStaleSettlementState
			}
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// AttachCompletion records a proposed fulfillment. Fails if the request is
// already fulfilled or another completion is pending.
func (r *PostgresRepository) AttachCompletion(ctx context.Context, requestID int64, resolver, documentRef string, submittedAt time.Time) error {
	query := `
		UPDATE requests
		SET resolver = $2, document_ref = $3, pending_approval = TRUE, completion_submitted_at = $4, updated_at = NOW()
		WHERE id = $1 AND fulfilled = FALSE AND pending_approval = FALSE
	`
	tag, err := r.db.Exec(ctx, query, requestID, resolver, documentRef, submittedAt)
	if err != nil {
		return fmt.Errorf("failed to attach completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetRequestByID(ctx, requestID); getErr != nil {
			return getErr
		}
		return ErrStaleSettlementState
	}
	return nil
}

// ClearCompletion removes a pending completion, reopening the request for new
// submissions. Resolver, document reference, and submission time are all reset.
func (r *PostgresRepository) ClearCompletion(ctx context.Context, requestID int64) error {
	query := `
		UPDATE requests
		SET resolver = '', document_ref = '', pending_approval = FALSE, completion_submitted_at = NULL, updated_at = NOW()
		WHERE id = $1 AND fulfilled = FALSE AND pending_approval = TRUE
	`
	tag, err := r.db.Exec(ctx, query, requestID)
	if err != nil {
		return fmt.Errorf("failed to clear completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetRequestByID(ctx, requestID); getErr != nil {
			return getErr
		}
		return ErrStaleSettlementState
	}
	return nil
}

// SettleRequestPayout flips a pending request to fulfilled ahead of the
// resolver payout. State is committed before the external transfer so a
// reentrant approval observes fulfilled=TRUE and fails fast.
func (r *PostgresRepository) SettleRequestPayout(ctx context.Context, requestID int64, requester string) (*domain.Request, error) {
	query := `
		UPDATE requests
		SET fulfilled = TRUE, pending_approval = FALSE, updated_at = NOW()
		WHERE id = $1 AND requester = $2 AND fulfilled = FALSE AND pending_approval = TRUE
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID, requester))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			if _, getErr := r.GetRequestByID(ctx, requestID); getErr == nil {
				return nil, ErrStaleSettlementState
			}
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// ReopenRequestPayout reverses SettleRequestPayout after a failed transfer so
// the whole approval unwinds with no partial effect.
func (r *PostgresRepository) ReopenRequestPayout(ctx context.Context, requestID int64, resolver, documentRef string, submittedAt time.Time) error {
	query := `
		UPDATE requests
		SET fulfilled = FALSE, pending_approval = TRUE, resolver = $2, document_ref = $3, completion_submitted_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, requestID, resolver, documentRef, submittedAt)
	if err != nil {
		return fmt.Errorf("failed to reopen request payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// ReservedTotal returns the sum of payments earmarked against open requests.
// Administrator withdrawals must never dip into this amount.
func (r *PostgresRepository) ReservedTotal(ctx context.Context) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(payment), 0) FROM requests WHERE fulfilled = FALSE`
	if err := r.db.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

const contributionColumns = `id, contributor, title, document_ref, description, reward, status, review_deadline, reward_paid, reward_claimed, approval_count, rejection_count, created_at, updated_at`

func scanContribution(row pgx.Row) (*domain.Contribution, error) {
	var c domain.Contribution
	err := row.Scan(
		&c.ID,
		&c.Contributor,
		&c.Title,
		&c.DocumentRef,
		&c.Description,
		&c.Reward,
		&c.Status,
		&c.ReviewDeadline,
		&c.RewardPaid,
		&c.RewardClaimed,
		&c.ApprovalCount,
		&c.RejectionCount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContributionNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CreateContribution inserts a new contribution and freezes its assigned
// validator window in the same transaction. Later panel changes cannot alter
// who may vote on it.
func (r *PostgresRepository) CreateContribution(ctx context.Context, c *domain.Contribution, validators []string) (*domain.Contribution, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO contributions (id, contributor, title, document_ref, description, reward, status, review_deadline, reward_paid, reward_claimed, approval_count, rejection_count, created_at, updated_at)
		SELECT COALESCE(MAX(id) + 1, 0), $1, $2, $3, $4, $5, $6, $7, FALSE, FALSE, 0, 0, NOW(), NOW()
		FROM contributions
		RETURNING ` + contributionColumns
	created, err := scanContribution(tx.QueryRow(ctx, insertQuery,
		c.Contributor, c.Title, c.DocumentRef, c.Description, c.Reward, c.Status, c.ReviewDeadline))
	if err != nil {
		return nil, fmt.Errorf("failed to insert contribution: %w", err)
	}

	for i, validator := range validators {
		_, err = tx.Exec(ctx,
			`INSERT INTO contribution_validators (contribution_id, validator, position) VALUES ($1, $2, $3)`,
			created.ID, validator, i)
		if err != nil {
			return nil, fmt.Errorf("failed to freeze assigned validator: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit contribution: %w", err)
	}

	created.Validators = validators
	return created, nil
}

// GetContributionByID retrieves a contribution with its frozen validator window.
func (r *PostgresRepository) GetContributionByID(ctx context.Context, contributionID int64) (*domain.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM contributions WHERE id = $1`
	c, err := scanContribution(r.db.QueryRow(ctx, query, contributionID))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT validator FROM contribution_validators WHERE contribution_id = $1 ORDER BY position`,
		contributionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var validator string
		if err := rows.Scan(&validator); err != nil {
			return nil, err
		}
		c.Validators = append(c.Validators, validator)
	}
	return c, rows.Err()
}

// CountContributions returns the total number of contributions ever submitted.
func (r *PostgresRepository) CountContributions(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM contributions`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListContributions returns a page of contributions in id order. The assigned
// validator windows are not hydrated for list views.
func (r *PostgresRepository) ListContributions(ctx context.Context, opts domain.ListOptions) ([]domain.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM contributions ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contributions := []domain.Contribution{}
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		contributions = append(contributions, *c)
	}
	return contributions, rows.Err()
}

// ListVotes returns recorded votes for a contribution in assignment order.
// Assigned validators that have not voted are absent; the app layer merges
// them back in with a "none" placeholder.
func (r *PostgresRepository) ListVotes(ctx context.Context, contributionID int64) ([]domain.Vote, error) {
	query := `
		SELECT v.contribution_id, v.validator, v.choice, v.voted_at
		FROM contribution_votes v
		JOIN contribution_validators a
		  ON a.contribution_id = v.contribution_id AND a.validator = v.validator
		WHERE v.contribution_id = $1
		ORDER BY a.position
	`
	rows, err := r.db.Query(ctx, query, contributionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	votes := []domain.Vote{}
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(&v.ContributionID, &v.Validator, &v.Choice, &v.VotedAt); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// RecordVote atomically records a validator's vote and bumps the matching
// tally, returning the updated contribution. The primary key on
// (contribution_id, validator) makes a second vote from the same validator
// fail the insert, which surfaces as ErrAlreadyVoted.
func (r *PostgresRepository) RecordVote(ctx context.Context, contributionID int64, validator string, choice domain.VoteChoice, votedAt time.Time) (*domain.Contribution, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM contribution_votes WHERE contribution_id = $1 AND validator = $2`,
		contributionID, validator).Scan(&existing)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing vote: %w", err)
	}
	if existing > 0 {
		return nil, ErrAlreadyVoted
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO contribution_votes (contribution_id, validator, choice, voted_at) VALUES ($1, $2, $3, $4)`,
		contributionID, validator, choice, votedAt)
	if err != nil {
		// A concurrent vote from the same validator can slip past the
		// pre-check; the primary key catches it here.
		if isUniqueViolation(err) {
			return nil, ErrAlreadyVoted
		}
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}

	tallyColumn := "approval_count"
	if choice == domain.VoteReject {
		tallyColumn = "rejection_count"
	}
	updateQuery := `
		UPDATE contributions
		SET ` + tallyColumn + ` = ` + tallyColumn + ` + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + contributionColumns
	updated, err := scanContribution(tx.QueryRow(ctx, updateQuery, contributionID, domain.ContributionUnderReview))
	if err != nil {
		if errors.Is(err, ErrContributionNotFound) {
			return nil, ErrStaleSettlementState
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit vote: %w", err)
	}
	return updated, nil
}

// RemoveVote deletes a recorded vote and decrements the matching tally. Only
// used to unwind a deadline-crossing vote whose payout transfer failed, so the
// whole vote call leaves no partial state behind.
func (r *PostgresRepository) RemoveVote(ctx context.Context, contributionID int64, validator string, choice domain.VoteChoice) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM contribution_votes WHERE contribution_id = $1 AND validator = $2`,
		contributionID, validator)
	if err != nil {
		return fmt.Errorf("failed to remove vote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	tallyColumn := "approval_count"
	if choice == domain.VoteReject {
		tallyColumn = "rejection_count"
	}
	_, err = tx.Exec(ctx,
		`UPDATE contributions SET `+tallyColumn+` = `+tallyColumn+` - 1, updated_at = NOW() WHERE id = $1`,
		contributionID)
	if err != nil {
		return fmt.Errorf("failed to decrement vote tally: %w", err)
	}
	return tx.Commit(ctx)
}

// ApplyFinalizationDecision settles an under-review contribution using the
// vote tally as it stands at transition time: approved when approvals have
// reached the quorum, rejected otherwise. Folding the decision into the
// conditional UPDATE means a vote that commits after the caller's snapshot
// still counts; a stale snapshot can never reject a row that holds quorum.
func (r *PostgresRepository) ApplyFinalizationDecision(ctx context.Context, contributionID int64, quorum int) (*domain.Contribution, error) {
	query := `
		UPDATE contributions
		SET status = CASE WHEN approval_count >= $2 THEN $3::text ELSE $4::text END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING ` + contributionColumns
	decided, err := scanContribution(r.db.QueryRow(ctx, query,
		contributionID, quorum, domain.ContributionApproved, domain.ContributionRejected, domain.ContributionUnderReview))
	if err != nil {
		if errors.Is(err, ErrContributionNotFound) {
			return nil, ErrStaleSettlementState
		}
		return nil, err
	}
	return decided, nil
}

// TransitionContributionStatus performs a compare-and-set on the contribution
// status. It reports false when the row was not in the expected state, which
// is how concurrent finalizers lose the race without double-settling.
func (r *PostgresRepository) TransitionContributionStatus(ctx context.Context, contributionID int64, from, to domain.ContributionStatus) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE contributions SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		contributionID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition contribution status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRewardPaid flags a contribution's reward as paid at finalization time.
func (r *PostgresRepository) MarkRewardPaid(ctx context.Context, contributionID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE contributions SET reward_paid = TRUE, updated_at = NOW() WHERE id = $1`,
		contributionID)
	if err != nil {
		return fmt.Errorf("failed to mark reward paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContributionNotFound
	}
	return nil
}

// MarkRewardClaimed flips the deferred-claim flag exactly once. A false
// return means the reward was already paid or claimed.
func (r *PostgresRepository) ClearRewardPaid(ctx context.Context, contributionID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE contributions SET reward_paid = FALSE, updated_at = NOW() WHERE id = $1`,
		contributionID)
	if err != nil {
		return fmt.Errorf("failed to clear reward paid flag: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkRewardClaimed(ctx context.Context, contributionID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE contributions
		SET reward_claimed = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND reward_paid = FALSE AND reward_claimed = FALSE
	`, contributionID, domain.ContributionApproved)
	if err != nil {
		return false, fmt.Errorf("failed to mark reward claimed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearRewardClaimed reverses MarkRewardClaimed after a failed or underfunded
// payout so the contributor can retry the claim later.
func (r *PostgresRepository) ClearRewardClaimed(ctx context.Context, contributionID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE contributions SET reward_claimed = FALSE, updated_at = NOW() WHERE id = $1`,
		contributionID)
	if err != nil {
		return fmt.Errorf("failed to clear reward claimed flag: %w", err)
	}
	return nil
}

// AddContributorReward upserts cumulative contributor statistics. Totals only
// ever grow; first_approved_at keeps discovery order for ranking tie-breaks.
func (r *PostgresRepository) AddContributorReward(ctx context.Context, contributor string, amount int64, approvedAt time.Time) error {
	query := `
		INSERT INTO contributor_stats (address, total_rewards, approved_count, first_approved_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (address) DO UPDATE
		SET total_rewards = contributor_stats.total_rewards + EXCLUDED.total_rewards,
		    approved_count = contributor_stats.approved_count + 1
	`
	if _, err := r.db.Exec(ctx, query, contributor, amount, approvedAt); err != nil {
		return fmt.Errorf("failed to add contributor reward: %w", err)
	}
	return nil
}

// GetContributorStats returns cumulative stats for one contributor.
func (r *PostgresRepository) GetContributorStats(ctx context.Context, contributor string) (*domain.ContributorStats, error) {
	var stats domain.ContributorStats
	query := `SELECT address, total_rewards, approved_count, first_approved_at FROM contributor_stats WHERE address = $1`
	err := r.db.QueryRow(ctx, query, contributor).Scan(&stats.Address, &stats.TotalRewards, &stats.ApprovedCount, &stats.FirstApprovedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContributorNotFound
		}
		return nil, err
	}
	return &stats, nil
}

// TopContributors ranks contributors by cumulative paid value, ties broken by
// first-approval order. Full scan plus sort; fine at the expected scale.
func (r *PostgresRepository) TopContributors(ctx context.Context, limit int) ([]domain.ContributorStats, error) {
	query := `
		SELECT address, total_rewards, approved_count, first_approved_at
		FROM contributor_stats
		ORDER BY total_rewards DESC, first_approved_at ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ranking := []domain.ContributorStats{}
	for rows.Next() {
		var stats domain.ContributorStats
		if err := rows.Scan(&stats.Address, &stats.TotalRewards, &stats.ApprovedCount, &stats.FirstApprovedAt); err != nil {
			return nil, err
		}
		ranking = append(ranking, stats)
	}
	return ranking, rows.Err()
}

// AddValidator appends a validator at the end of the round-robin ordering.
func (r *PostgresRepository) AddValidator(ctx context.Context, address string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM validators WHERE address = $1`, address).Scan(&existing); err != nil {
		return fmt.Errorf("failed to check validator membership: %w", err)
	}
	if existing > 0 {
		return ErrValidatorExists
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO validators (address, position, added_at)
		SELECT $1, COALESCE(MAX(position) + 1, 0), NOW() FROM validators
	`, address)
	if err != nil {
		return fmt.Errorf("failed to insert validator: %w", err)
	}
	return tx.Commit(ctx)
}

// RemoveValidator swap-removes a validator: the last member in the ordering
// takes the vacated position, and the rotation cursor is clamped to the new
// panel size so assignment stays in bounds.
func (r *PostgresRepository) RemoveValidator(ctx context.Context, address string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var position int
	err = tx.QueryRow(ctx, `SELECT position FROM validators WHERE address = $1 FOR UPDATE`, address).Scan(&position)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrValidatorNotFound
		}
		return fmt.Errorf("failed to look up validator: %w", err)
	}

	var lastAddress string
	var lastPosition int
	err = tx.QueryRow(ctx, `SELECT address, position FROM validators ORDER BY position DESC LIMIT 1 FOR UPDATE`).Scan(&lastAddress, &lastPosition)
	if err != nil {
		return fmt.Errorf("failed to look up last validator: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM validators WHERE address = $1`, address); err != nil {
		return fmt.Errorf("failed to delete validator: %w", err)
	}
	if lastAddress != address {
		if _, err := tx.Exec(ctx, `UPDATE validators SET position = $2 WHERE address = $1`, lastAddress, position); err != nil {
			return fmt.Errorf("failed to swap-move last validator: %w", err)
		}
	}

	// Clamp the cursor on every removal so it stays within the shrunk panel.
	_, err = tx.Exec(ctx, `
		UPDATE desk_settings
		SET rotation_cursor = CASE
			WHEN (SELECT COUNT(*) FROM validators) = 0 THEN 0
			ELSE rotation_cursor % (SELECT COUNT(*) FROM validators)
		END
	`)
	if err != nil {
		return fmt.Errorf("failed to clamp rotation cursor: %w", err)
	}
	return tx.Commit(ctx)
}

// ListValidators returns the panel in round-robin order.
func (r *PostgresRepository) ListValidators(ctx context.Context) ([]domain.Validator, error) {
	rows, err := r.db.Query(ctx, `SELECT address, position, added_at FROM validators ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	validators := []domain.Validator{}
	for rows.Next() {
		var v domain.Validator
		if err := rows.Scan(&v.Address, &v.Position, &v.AddedAt); err != nil {
			return nil, err
		}
		validators = append(validators, v)
	}
	return validators, rows.Err()
}

// GetDeskSettings returns the singleton settings row.
func (r *PostgresRepository) GetDeskSettings(ctx context.Context) (*domain.DeskSettings, error) {
	var s domain.DeskSettings
	query := `SELECT review_period_seconds, min_quorum, max_assigned, rotation_cursor, pool_address FROM desk_settings LIMIT 1`
	err := r.db.QueryRow(ctx, query).Scan(&s.ReviewPeriodSeconds, &s.MinQuorum, &s.MaxAssigned, &s.RotationCursor, &s.PoolAddress)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDeskSettingsNotLoaded
		}
		return nil, err
	}
	return &s, nil
}

// EnsureDeskSettings seeds the singleton settings row on first boot. An
// existing row is left untouched so administrator changes survive restarts.
func (r *PostgresRepository) EnsureDeskSettings(ctx context.Context, defaults domain.DeskSettings) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO desk_settings (id, review_period_seconds, min_quorum, max_assigned, rotation_cursor, pool_address)
		VALUES (1, $1, $2, $3, 0, $4)
		ON CONFLICT (id) DO NOTHING
	`, defaults.ReviewPeriodSeconds, defaults.MinQuorum, defaults.MaxAssigned, defaults.PoolAddress)
	if err != nil {
		return fmt.Errorf("failed to seed desk settings: %w", err)
	}
	return nil
}

// SetMinQuorum persists a new minimum approval quorum.
func (r *PostgresRepository) SetMinQuorum(ctx context.Context, quorum int) error {
	_, err := r.db.Exec(ctx, `UPDATE desk_settings SET min_quorum = $1`, quorum)
	return err
}

// SetReviewPeriod persists a new review period in seconds.
func (r *PostgresRepository) SetReviewPeriod(ctx context.Context, seconds int64) error {
	_, err := r.db.Exec(ctx, `UPDATE desk_settings SET review_period_seconds = $1`, seconds)
	return err
}

// SetPoolAddress persists the community pool's custodial address.
func (r *PostgresRepository) SetPoolAddress(ctx context.Context, address string) error {
	_, err := r.db.Exec(ctx, `UPDATE desk_settings SET pool_address = $1`, address)
	return err
}

// AdvanceRotationCursor moves the cursor by the assigned count, modulo the
// panel size captured by the caller at assignment time.
func (r *PostgresRepository) AdvanceRotationCursor(ctx context.Context, by int, panelSize int) error {
	if panelSize <= 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE desk_settings SET rotation_cursor = (rotation_cursor + $1) % $2`,
		by, panelSize)
	return err
}

// AcquireSettlementLock inserts a single-flight marker for a settlement
// scope. A conflicting insert means another call holds the lock.
func (r *PostgresRepository) AcquireSettlementLock(ctx context.Context, scope string, entityID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO settlement_locks (scope, entity_id, acquired_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (scope, entity_id) DO NOTHING
	`, scope, entityID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire settlement lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSettlementLock removes a single-flight marker.
func (r *PostgresRepository) ReleaseSettlementLock(ctx context.Context, scope string, entityID int64) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM settlement_locks WHERE scope = $1 AND entity_id = $2`,
		scope, entityID)
	if err != nil {
		return fmt.Errorf("failed to release settlement lock: %w", err)
	}
	return nil
}
