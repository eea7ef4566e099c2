package payment

import (
	"testing"
	"time"

	"github.com/fl2m/platform/internal/app/domain/contract"
)

func TestSplit(t *testing.T) {
	plan := contract.Plan{Code: "pro", CommissionBPS: 800, MinCommission: 200, MaxCommission: 1500}
	commission, share := Split(6000, plan)
	if commission != 480 || share != 5520 {
		t.Fatalf("split = %d/%d, want 480/5520", commission, share)
	}
	if commission+share != 6000 {
		t.Fatalf("split must preserve the amount")
	}
}

func TestDue(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if !(Transaction{TransferStatus: TransferEligible, EligibleForTransferAt: &past}).Due(now) {
		t.Fatalf("eligible row past its hold should be due")
	}
	if !(Transaction{TransferStatus: TransferEligible, EligibleForTransferAt: &now}).Due(now) {
		t.Fatalf("row eligible exactly now should be due")
	}
	if (Transaction{TransferStatus: TransferEligible, EligibleForTransferAt: &future}).Due(now) {
		t.Fatalf("row still on hold should not be due")
	}
	if (Transaction{TransferStatus: TransferCompleted, EligibleForTransferAt: &past}).Due(now) {
		t.Fatalf("completed row should not be due")
	}
	if (Transaction{TransferStatus: TransferEligible}).Due(now) {
		t.Fatalf("row without eligibility timestamp should not be due")
	}
}

func TestIdempotencyKeyStable(t *testing.T) {
	tx := Transaction{ID: "tx-1"}
	if tx.IdempotencyKey() != "payout-tx-1" {
		t.Fatalf("unexpected key %s", tx.IdempotencyKey())
	}
}
