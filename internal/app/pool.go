/**
 * @description
 * This file contains the community pool operations. The pool is a single
 * shared custodial balance on the external ledger with no internal ownership
 * attribution; correctness of who-gets-what lives in the desk's claim
 * bookkeeping, not here. Withdrawal is dual-authority (desk account or
 * administrator) with an administrator-only emergency drain.
 *
 * @dependencies
 * - context, fmt: Standard Go libraries.
 * - internal/domain: For audit event kinds.
 */

package app

import (
	"context"
	"fmt"

	"github.com/custodia/escrow-service/internal/domain"
)

// poolAddress resolves the configured pool address or fails.
func (s *Service) poolAddress(ctx context.Context) (string, error) {
	settings, err := s.repo.GetDeskSettings(ctx)
	if err != nil {
		return "", err
	}
	if settings.PoolAddress == "" {
		return "", ErrPoolNotConfigured
	}
	return settings.PoolAddress, nil
}

// PoolDeposit pulls funds from the caller's standing allowance into the pool.
// Anyone may deposit.
func (s *Service) PoolDeposit(ctx context.Context, caller string, amount int64) error {
	caller = normalizeAddress(caller)
	if caller == "" {
		return ErrZeroAddress
	}
	if amount <= 0 {
		return ErrZeroAmount
	}
	pool, err := s.poolAddress(ctx)
	if err != nil {
		return err
	}

	if err := s.beginSettlement(ctx, scopePoolDeposit, 0); err != nil {
		return err
	}
	defer s.endSettlement(ctx, scopePoolDeposit, 0)

	if _, err := s.ledger.TransferFrom(ctx, caller, pool, amount, "pool deposit"); err != nil {
		return fmt.Errorf("pool deposit failed: %w", err)
	}

	s.publishEvent(ctx, domain.EventPoolDeposit, 0, caller, pool, amount, "")
	return nil
}

// PoolWithdraw moves pool funds to a recipient. Only the desk account or the
// administrator may withdraw, and never more than the pool balance.
func (s *Service) PoolWithdraw(ctx context.Context, caller, to string, amount int64) error {
	caller = normalizeAddress(caller)
	if caller != s.deskAddress && !s.IsAdministrator(caller) {
		return ErrNotPoolWithdrawer
	}
	to = normalizeAddress(to)
	if to == "" {
		return ErrZeroAddress
	}
	if amount <= 0 {
		return ErrZeroAmount
	}
	pool, err := s.poolAddress(ctx)
	if err != nil {
		return err
	}

	if err := s.beginSettlement(ctx, scopePoolWithdraw, 0); err != nil {
		return err
	}
	defer s.endSettlement(ctx, scopePoolWithdraw, 0)

	balance, err := s.ledger.BalanceOf(ctx, pool)
	if err != nil {
		return fmt.Errorf("failed to query pool balance: %w", err)
	}
	if amount > balance {
		return ErrPoolInsufficient
	}

	if _, err := s.ledger.Transfer(ctx, pool, to, amount, "pool withdrawal"); err != nil {
		return fmt.Errorf("pool withdrawal transfer failed: %w", err)
	}

	s.publishEvent(ctx, domain.EventPoolWithdrawal, 0, caller, to, amount, "")
	return nil
}

// PoolEmergencyWithdraw is the administrator-only break-glass recovery path.
// Same balance and zero checks as PoolWithdraw, no desk gating.
func (s *Service) PoolEmergencyWithdraw(ctx context.Context, caller, to string, amount int64) error {
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
	pool, err := s.poolAddress(ctx)
	if err != nil {
		return err
	}

	if err := s.beginSettlement(ctx, scopePoolWithdraw, 0); err != nil {
		return err
	}
	defer s.endSettlement(ctx, scopePoolWithdraw, 0)

	balance, err := s.ledger.BalanceOf(ctx, pool)
	if err != nil {
		return fmt.Errorf("failed to query pool balance: %w", err)
	}
	if amount > balance {
		return ErrPoolInsufficient
	}

	if _, err := s.ledger.Transfer(ctx, pool, to, amount, "pool emergency withdrawal"); err != nil {
		return fmt.Errorf("pool emergency withdrawal transfer failed: %w", err)
	}

	s.publishEvent(ctx, domain.EventPoolEmergencyDrain, 0, caller, to, amount, "")
	return nil
}

// PoolBalance is a pure read of the pool's custodial balance.
func (s *Service) PoolBalance(ctx context.Context) (int64, error) {
	pool, err := s.poolAddress(ctx)
	if err != nil {
		return 0, err
	}
	return s.ledger.BalanceOf(ctx, pool)
}
