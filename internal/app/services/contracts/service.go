// Package contracts manages practitioner plan subscriptions and their
// scheduled activation.
package contracts

import (
	"context"
	"errors"
	"time"

	"github.com/fl2m/platform/internal/app/domain/contract"
	"github.com/fl2m/platform/internal/app/storage"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/pkg/logger"
)

// Service manages practitioner contracts.
type Service struct {
	store   storage.ContractStore
	catalog contract.Catalog
	loc     *time.Location
	now     func() time.Time
	log     *logger.Logger
}

// New constructs a contract service. Dates are evaluated in loc.
func New(store storage.ContractStore, catalog contract.Catalog, loc *time.Location, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("contracts")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, catalog: catalog, loc: loc, now: time.Now, log: log}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Catalog returns the plan catalog.
func (s *Service) Catalog() contract.Catalog {
	return s.catalog
}

// Plan returns the plan with the given code.
func (s *Service) Plan(code string) (contract.Plan, error) {
	plan, ok := s.catalog.Lookup(code)
	if !ok {
		return contract.Plan{}, svcerrors.Validation("plan", "unknown plan "+code)
	}
	return plan, nil
}

// Create opens a pending contract starting at startDate. Any other pending
// contract of the practitioner is cancelled so a single change is queued.
func (s *Service) Create(ctx context.Context, practitionerID, planCode string, startDate time.Time) (contract.Contract, error) {
	if practitionerID == "" {
		return contract.Contract{}, svcerrors.Validation("practitioner_id", "practitioner_id is required")
	}
	if planCode == "" {
		planCode = s.catalog.Default
	}
	if _, err := s.Plan(planCode); err != nil {
		return contract.Contract{}, err
	}

	today := contract.DateOf(s.now().In(s.loc))
	if startDate.IsZero() {
		startDate = today
	}
	startDate = contract.DateOf(startDate.In(s.loc))
	if startDate.Before(today) {
		return contract.Contract{}, svcerrors.Validation("start_date", "start date must be today or later")
	}

	existing, err := s.store.ListContracts(ctx, practitionerID)
	if err != nil {
		return contract.Contract{}, svcerrors.Internal("list contracts", err)
	}
	for _, c := range existing {
		if c.Status != contract.StatusPending {
			continue
		}
		c.Status = contract.StatusCancelled
		if _, err := s.store.UpdateContract(ctx, c); err != nil {
			return contract.Contract{}, svcerrors.Internal("cancel superseded contract", err)
		}
		s.log.WithField("contract_id", c.ID).Info("pending contract superseded")
	}

	created, err := s.store.CreateContract(ctx, contract.Contract{
		PractitionerID: practitionerID,
		PlanCode:       planCode,
		Status:         contract.StatusPending,
		StartDate:      startDate,
	})
	if err != nil {
		return contract.Contract{}, svcerrors.Internal("create contract", err)
	}
	s.log.WithField("contract_id", created.ID).
		WithField("practitioner_id", practitionerID).
		WithField("plan", planCode).
		Info("contract created")

	if created.Due(s.now().In(s.loc)) {
		if _, err := s.activate(ctx, created); err != nil {
			return contract.Contract{}, err
		}
		return s.Get(ctx, created.ID)
	}
	return created, nil
}

// Get returns a contract by id.
func (s *Service) Get(ctx context.Context, id string) (contract.Contract, error) {
	c, err := s.store.GetContract(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return contract.Contract{}, svcerrors.NotFound("contract", id)
	}
	if err != nil {
		return contract.Contract{}, svcerrors.Internal("get contract", err)
	}
	return c, nil
}

// Active returns the practitioner's active contract.
func (s *Service) Active(ctx context.Context, practitionerID string) (contract.Contract, error) {
	c, err := s.store.GetActiveContract(ctx, practitionerID)
	if errors.Is(err, storage.ErrNotFound) {
		return contract.Contract{}, svcerrors.NotFound("active contract", practitionerID)
	}
	if err != nil {
		return contract.Contract{}, svcerrors.Internal("get active contract", err)
	}
	return c, nil
}

// ActivePlan resolves the plan of the practitioner's active contract.
func (s *Service) ActivePlan(ctx context.Context, practitionerID string) (contract.Plan, error) {
	c, err := s.Active(ctx, practitionerID)
	if err != nil {
		return contract.Plan{}, err
	}
	plan, ok := s.catalog.Lookup(c.PlanCode)
	if !ok {
		return contract.Plan{}, svcerrors.Internal("contract references unknown plan "+c.PlanCode, nil)
	}
	return plan, nil
}

// List returns every contract of a practitioner, newest start first.
func (s *Service) List(ctx context.Context, practitionerID string) ([]contract.Contract, error) {
	list, err := s.store.ListContracts(ctx, practitionerID)
	if err != nil {
		return nil, svcerrors.Internal("list contracts", err)
	}
	return list, nil
}

// Cancel cancels a pending contract owned by the practitioner.
func (s *Service) Cancel(ctx context.Context, practitionerID, id string) (contract.Contract, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return contract.Contract{}, err
	}
	if c.PractitionerID != practitionerID {
		return contract.Contract{}, svcerrors.NotFound("contract", id)
	}
	if c.Status != contract.StatusPending {
		return contract.Contract{}, svcerrors.Conflict("only pending contracts can be cancelled")
	}
	c.Status = contract.StatusCancelled
	updated, err := s.store.UpdateContract(ctx, c)
	if err != nil {
		return contract.Contract{}, svcerrors.Internal("cancel contract", err)
	}
	s.log.WithField("contract_id", id).Info("contract cancelled")
	return updated, nil
}

// ActivateDue activates every pending contract whose start date is today or
// earlier and returns how many were activated.
func (s *Service) ActivateDue(ctx context.Context, now time.Time) (int, error) {
	now = now.In(s.loc)
	due, err := s.store.ListDueContracts(ctx, now)
	if err != nil {
		return 0, svcerrors.Internal("list due contracts", err)
	}

	activated := 0
	var errs []error
	for _, c := range due {
		if _, err := s.activateAt(ctx, c, now); err != nil {
			errs = append(errs, err)
			continue
		}
		activated++
	}
	if len(due) > 0 {
		s.log.WithField("due", len(due)).WithField("activated", activated).Info("contract activation sweep finished")
	}
	return activated, errors.Join(errs...)
}

func (s *Service) activate(ctx context.Context, c contract.Contract) (contract.Contract, error) {
	return s.activateAt(ctx, c, s.now().In(s.loc))
}

func (s *Service) activateAt(ctx context.Context, c contract.Contract, now time.Time) (contract.Contract, error) {
	activated, err := s.store.ActivateContract(ctx, c.ID, now)
	if errors.Is(err, storage.ErrConflict) {
		// Raced with another sweep.
		return s.Get(ctx, c.ID)
	}
	if err != nil {
		s.log.WithError(err).WithField("contract_id", c.ID).Error("contract activation failed")
		return contract.Contract{}, svcerrors.Internal("activate contract", err)
	}
	s.log.WithField("contract_id", c.ID).
		WithField("practitioner_id", c.PractitionerID).
		WithField("plan", c.PlanCode).
		Info("contract activated")
	return activated, nil
}
