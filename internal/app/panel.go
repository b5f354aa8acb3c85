/**
 * @description
 * This file contains the validator panel logic: administrator-gated
 * membership management, review settings, and the round-robin assignment
 * window used by the contribution desk.
 *
 * Rotation spreads review load evenly and deterministically. A contribution's
 * assigned window is frozen at submission time, so later panel changes cannot
 * retroactively alter who may vote on an in-flight review.
 */

package app

import (
	"context"
	"fmt"

	"github.com/custodia/escrow-service/internal/domain"
	"github.com/custodia/escrow-service/internal/store"
)

// assignWindow selects up to max distinct validators from the panel ordering,
// starting at the rotation cursor and wrapping around. The caller advances
// the cursor by the number actually assigned.
func assignWindow(panel []string, cursor, max int) []string {
	if len(panel) == 0 || max <= 0 {
		return nil
	}
	n := max
	if n > len(panel) {
		n = len(panel)
	}
	if cursor < 0 {
		cursor = 0
	}
	window := make([]string, 0, n)
	for i := 0; i < n; i++ {
		window = append(window, panel[(cursor+i)%len(panel)])
	}
	return window
}

// AddValidator registers a new panel member at the end of the rotation order.
func (s *Service) AddValidator(ctx context.Context, caller, address string) error {
	if !s.IsAdministrator(caller) {
		return ErrNotAdministrator
	}
	address = normalizeAddress(address)
	if address == "" {
		return ErrZeroAddress
	}

	if err := s.repo.AddValidator(ctx, address); err != nil {
		return err
	}

	s.publishEvent(ctx, domain.EventValidatorAdded, 0, caller, address, 0, "")
	return nil
}

// RemoveValidator removes a panel member. The removal is rejected when it
// would leave the panel smaller than the configured quorum, since open
// reviews could then never be approved; quorum must be lowered first.
func (s *Service) RemoveValidator(ctx context.Context, caller, address string) error {
	if !s.IsAdministrator(caller) {
		return ErrNotAdministrator
	}
	address = normalizeAddress(address)
	if address == "" {
		return ErrZeroAddress
	}

	settings, err := s.repo.GetDeskSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load desk settings: %w", err)
	}
	validators, err := s.repo.ListValidators(ctx)
	if err != nil {
		return fmt.Errorf("failed to list validators: %w", err)
	}
	member := false
	for _, v := range validators {
		if v.Address == address {
			member = true
			break
		}
	}
	if !member {
		return store.ErrValidatorNotFound
	}
	if len(validators)-1 < settings.MinQuorum {
		return ErrQuorumExceedsPanel
	}

	if err := s.repo.RemoveValidator(ctx, address); err != nil {
		return err
	}

	s.publishEvent(ctx, domain.EventValidatorRemoved, 0, caller, address, 0, "")
	return nil
}

// ListValidators returns the panel in rotation order.
func (s *Service) ListValidators(ctx context.Context) ([]domain.Validator, error) {
	return s.repo.ListValidators(ctx)
}

// SetMinimumQuorum updates the approval quorum. It must be positive and must
// not exceed the current panel size.
func (s *Service) SetMinimumQuorum(ctx context.Context, caller string, quorum int) error {
	if !s.IsAdministrator(caller) {
		return ErrNotAdministrator
	}
	if quorum <= 0 {
		return ErrQuorumNotPositive
	}
	validators, err := s.repo.ListValidators(ctx)
	if err != nil {
		return fmt.Errorf("failed to list validators: %w", err)
	}
	if quorum > len(validators) {
		return ErrQuorumExceedsPanel
	}

	if err := s.repo.SetMinQuorum(ctx, quorum); err != nil {
		return fmt.Errorf("failed to persist quorum: %w", err)
	}

	s.publishEvent(ctx, domain.EventQuorumChanged, 0, caller, "", int64(quorum), "")
	return nil
}

// SetReviewPeriod updates the duration before a contribution becomes
// finalize-eligible. Applies to contributions submitted afterwards.
func (s *Service) SetReviewPeriod(ctx context.Context, caller string, seconds int64) error {
	if !s.IsAdministrator(caller) {
		return ErrNotAdministrator
	}
	if seconds <= 0 {
		return ErrReviewPeriodInvalid
	}

	if err := s.repo.SetReviewPeriod(ctx, seconds); err != nil {
		return fmt.Errorf("failed to persist review period: %w", err)
	}

	s.publishEvent(ctx, domain.EventReviewPeriodSet, 0, caller, "", seconds, "")
	return nil
}

// DeskSettings returns the current administrator-mutable settings.
func (s *Service) DeskSettings(ctx context.Context) (*domain.DeskSettings, error) {
	return s.repo.GetDeskSettings(ctx)
}
