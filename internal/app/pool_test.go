package app

import (
	"context"
	"errors"
	"testing"

	"github.com/custodia/escrow-service/internal/domain"
)

func TestPoolDeposit_AnyoneMayFund(t *testing.T) {
	repo := newMemRepo(defaultTestSettings())
	ledger := newFakeLedger()
	defer ledger.Close()
	svc := newTestService(repo, ledger.server.URL)
	ctx := context.Background()

	if err := svc.PoolDeposit(ctx, "addr_alice", 0); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if err := svc.PoolDeposit(ctx, "addr_alice", 100); err != nil {
		t.Fatalf("PoolDeposit failed: %v", err)
	}

	calls := ledger.transferCalls()
	if len(calls) != 1 || calls[0].Path != "/api/v1/transfers/allowance" {
		t.Fatalf("expected a single allowance pull, got %+v", calls)
	}
	if calls[0].From != "addr_alice" || calls[0].To != testPool || calls[0].Amount != 100 {
		t.Fatalf("unexpected deposit: %+v", calls[0])
	}
}

func TestPoolDeposit_ReentrantDepositBlocked(t *testing.T) {
	repo := newMemRepo(defaultTestSettings())
	ledger := newFakeLedger()
	defer ledger.Close()
	svc := newTestService(repo, ledger.server.URL)
	ctx := context.Background()

	var reentrantErr error
	ledger.OnTransfer = func() {
		ledger.OnTransfer = nil
		reentrantErr = svc.PoolDeposit(ctx, "addr_mallory", 5)
	}
	if err := svc.PoolDeposit(ctx, "addr_alice", 100); err != nil {
		t.Fatalf("outer deposit failed: %v", err)
	}
	if !errors.Is(reentrantErr, ErrSettlementInProgress) {
		t.Fatalf("expected reentrant deposit to hit the settlement guard, got %v", reentrantErr)
	}
	if calls := ledger.transferCalls(); len(calls) != 1 {
		t.Fatalf("expected exactly one deposit pull, got %d", len(calls))
	}
}

func TestPoolDeposit_RequiresConfiguredPool(t *testing.T) {
	settings := defaultTestSettings()
	settings.PoolAddress = ""
	repo := newMemRepo(settings)
	ledger := newFakeLedger()
	defer ledger.Close()
	svc := newTestService(repo, ledger.server.URL)

	if err := svc.PoolDeposit(context.Background(), "addr_alice", 100); !errors.Is(err, ErrPoolNotConfigured) {
		t.Fatalf("expected ErrPoolNotConfigured, got %v", err)
	}
}

func TestPoolWithdraw_DualAuthority(t *testing.T) {
	repo := newMemRepo(defaultTestSettings())
	ledger := newFakeLedger()
	defer ledger.Close()
	ledger.setBalance(testPool, 200)
	svc := newTestService(repo, ledger.server.URL)
	ctx := context.Background()

	if err := svc.PoolWithdraw(ctx, "addr_alice", "addr_ops", 50); !errors.Is(err, ErrNotPoolWithdrawer) {
		t.Fatalf("expected ErrNotPoolWithdrawer, got %v", err)
	}
	if err := svc.PoolWithdraw(ctx, testDesk, "addr_ops", 50); err != nil {
		t.Fatalf("desk withdrawal failed: %v", err)
	}
	if err := svc.PoolWithdraw(ctx, testAdmin, "addr_ops", 50); err != nil {
		t.Fatalf("admin withdrawal failed: %v", err)
	}
	if err := svc.PoolWithdraw(ctx, testAdmin, "addr_ops", 500); !errors.Is(err, ErrPoolInsufficient) {
		t.Fatalf("expected ErrPoolInsufficient, got %v", err)
	}

	payouts := 0
	for _, c := range ledger.transferCalls() {
		if c.Path == "/api/v1/transfers" {
			payouts++
			if c.From != testPool || c.To != "addr_ops" || c.Amount != 50 {
				t.Fatalf("unexpected withdrawal: %+v", c)
			}
		}
	}
	if payouts != 2 {
		t.Fatalf("expected two withdrawals, got %d", payouts)
	}
}

func TestPoolEmergencyWithdraw_AdminOnly(t *testing.T) {
	repo := newMemRepo(defaultTestSettings())
	ledger := newFakeLedger()
	defer ledger.Close()
	ledger.setBalance(testPool, 200)
	svc := newTestService(repo, ledger.server.URL)
	ctx := context.Background()

	// The desk account can use the regular path but not the break-glass one.
	if err := svc.PoolEmergencyWithdraw(ctx, testDesk, "addr_recovery", 200); !errors.Is(err, ErrNotAdministrator) {
		t.Fatalf("expected ErrNotAdministrator, got %v", err)
	}
	if err := svc.PoolEmergencyWithdraw(ctx, testAdmin, "addr_recovery", 200); err != nil {
		t.Fatalf("emergency withdrawal failed: %v", err)
	}

	calls := ledger.transferCalls()
	if len(calls) != 1 || calls[0].To != "addr_recovery" || calls[0].Amount != 200 {
		t.Fatalf("unexpected drain: %+v", calls)
	}
}

func TestPoolBalance_ReadsLedger(t *testing.T) {
	repo := newMemRepo(defaultTestSettings())
	ledger := newFakeLedger()
	defer ledger.Close()
	ledger.setBalance(testPool, 321)
	svc := newTestService(repo, ledger.server.URL)

	balance, err := svc.PoolBalance(context.Background())
	if err != nil {
		t.Fatalf("PoolBalance failed: %v", err)
	}
	if balance != 321 {
		t.Fatalf("expected 321, got %d", balance)
	}

	settings := defaultTestSettings()
	settings.PoolAddress = ""
	unconfigured := newTestService(newMemRepo(settings), ledger.server.URL)
	if _, err := unconfigured.PoolBalance(context.Background()); !errors.Is(err, ErrPoolNotConfigured) {
		t.Fatalf("expected ErrPoolNotConfigured, got %v", err)
	}
}

func TestDepositToPool_DelegatesToPoolDeposit(t *testing.T) {
	repo := newMemRepo(defaultTestSettings())
	ledger := newFakeLedger()
	defer ledger.Close()
	svc := newTestService(repo, ledger.server.URL)

	if err := svc.DepositToPool(context.Background(), "addr_bob", 10); err != nil {
		t.Fatalf("DepositToPool failed: %v", err)
	}
	calls := ledger.transferCalls()
	if len(calls) != 1 || calls[0].To != testPool || calls[0].Amount != 10 {
		t.Fatalf("unexpected deposit: %+v", calls)
	}
}

func TestReservedTotal_TracksOpenRequests(t *testing.T) {
	repo := newMemRepo(defaultTestSettings())
	ledger := newFakeLedger()
	defer ledger.Close()
	svc := newTestService(repo, ledger.server.URL)
	ctx := context.Background()

	first, err := svc.SubmitRequest(ctx, "addr_alice", domain.SubmitRequestPayload{Query: "q1"})
	if err != nil {
		t.Fatalf("SubmitRequest failed: %v", err)
	}
	if _, err := svc.SubmitRequest(ctx, "addr_bob", domain.SubmitRequestPayload{Query: "q2"}); err != nil {
		t.Fatalf("SubmitRequest failed: %v", err)
	}

	reserved, err := svc.ReservedTotal(ctx)
	if err != nil {
		t.Fatalf("ReservedTotal failed: %v", err)
	}
	if reserved != 50 {
		t.Fatalf("expected 50 reserved for two open requests, got %d", reserved)
	}

	// Settling a request releases its reservation.
	if _, err := svc.CompleteAsAdministrator(ctx, testAdmin, first.ID, "done"); err != nil {
		t.Fatalf("CompleteAsAdministrator failed: %v", err)
	}
	reserved, err = svc.ReservedTotal(ctx)
	if err != nil {
		t.Fatalf("ReservedTotal failed: %v", err)
	}
	if reserved != 25 {
		t.Fatalf("expected 25 reserved after settlement, got %d", reserved)
	}
}
