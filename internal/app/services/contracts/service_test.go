package contracts

import (
	"context"
	"testing"
	"time"

	"github.com/fl2m/platform/internal/app/domain/contract"
	"github.com/fl2m/platform/internal/app/storage/memory"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/pkg/logger"
)

var testCatalog = contract.Catalog{
	Default: "decouverte",
	Plans: []contract.Plan{
		{Code: "decouverte", CommissionBPS: 2000},
		{Code: "pro", MonthlyFee: 2900, CommissionBPS: 1000, MinCommission: 200},
	},
}

func newService(now time.Time) (*Service, *memory.Store) {
	store := memory.New()
	svc := New(store, testCatalog, time.UTC, logger.NewNop())
	svc.SetClock(func() time.Time { return now })
	return svc, store
}

func TestCreateStartingTodayActivates(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newService(now)

	c, err := svc.Create(context.Background(), "pr-1", "", time.Time{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != contract.StatusActive || c.PlanCode != "decouverte" {
		t.Fatalf("unexpected contract: %+v", c)
	}

	plan, err := svc.ActivePlan(context.Background(), "pr-1")
	if err != nil || plan.Code != "decouverte" {
		t.Fatalf("active plan = %+v, %v", plan, err)
	}
}

func TestCreateRejectsPastStartAndUnknownPlan(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newService(now)

	if _, err := svc.Create(context.Background(), "pr-1", "pro", now.AddDate(0, 0, -1)); !svcerrors.IsCode(err, svcerrors.CodeValidation) {
		t.Fatalf("expected validation error for past start, got %v", err)
	}
	if _, err := svc.Create(context.Background(), "pr-1", "gold", now); !svcerrors.IsCode(err, svcerrors.CodeValidation) {
		t.Fatalf("expected validation error for unknown plan, got %v", err)
	}
}

func TestCreateSupersedesPending(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newService(now)
	ctx := context.Background()

	first, err := svc.Create(ctx, "pr-1", "pro", now.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := svc.Create(ctx, "pr-1", "decouverte", now.AddDate(0, 2, 0)); err != nil {
		t.Fatalf("create second: %v", err)
	}

	got, err := svc.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != contract.StatusCancelled {
		t.Fatalf("first pending contract should be cancelled, got %s", got.Status)
	}
}

func TestActivateDueEndsPreviousContract(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newService(now)
	ctx := context.Background()

	current, err := svc.Create(ctx, "pr-1", "decouverte", now)
	if err != nil {
		t.Fatalf("create current: %v", err)
	}
	next, err := svc.Create(ctx, "pr-1", "pro", now.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("create next: %v", err)
	}

	if n, err := svc.ActivateDue(ctx, now.AddDate(0, 0, 4)); err != nil || n != 0 {
		t.Fatalf("early sweep activated %d (%v)", n, err)
	}
	n, err := svc.ActivateDue(ctx, now.AddDate(0, 0, 5))
	if err != nil || n != 1 {
		t.Fatalf("sweep activated %d (%v)", n, err)
	}

	old, _ := svc.Get(ctx, current.ID)
	if old.Status != contract.StatusEnded || old.EndDate == nil {
		t.Fatalf("previous contract not ended: %+v", old)
	}
	active, err := svc.Active(ctx, "pr-1")
	if err != nil || active.ID != next.ID {
		t.Fatalf("active contract = %+v, %v", active, err)
	}
}

func TestCancel(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newService(now)
	ctx := context.Background()

	active, _ := svc.Create(ctx, "pr-1", "decouverte", now)
	pending, _ := svc.Create(ctx, "pr-1", "pro", now.AddDate(0, 1, 0))

	if _, err := svc.Cancel(ctx, "pr-2", pending.ID); !svcerrors.IsCode(err, svcerrors.CodeNotFound) {
		t.Fatalf("foreign cancel should be not found, got %v", err)
	}
	if _, err := svc.Cancel(ctx, "pr-1", active.ID); !svcerrors.IsCode(err, svcerrors.CodeConflict) {
		t.Fatalf("active cancel should conflict, got %v", err)
	}
	cancelled, err := svc.Cancel(ctx, "pr-1", pending.ID)
	if err != nil || cancelled.Status != contract.StatusCancelled {
		t.Fatalf("cancel = %+v, %v", cancelled, err)
	}
}
