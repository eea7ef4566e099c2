package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fl2m/platform/internal/app/domain/contract"
	"github.com/fl2m/platform/internal/app/storage"
)

const contractColumns = `id, practitioner_id, plan_code, status, start_date, end_date, created_at, updated_at`

func (s *Store) CreateContract(ctx context.Context, c contract.Contract) (contract.Contract, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES (:id, :practitioner_id, :plan_code, :status, :start_date, :end_date, :created_at, :updated_at)
	`, c)
	if err != nil {
		return contract.Contract{}, mapErr("contract", c.ID, err)
	}
	return c, nil
}

func (s *Store) UpdateContract(ctx context.Context, c contract.Contract) (contract.Contract, error) {
	existing, err := s.GetContract(ctx, c.ID)
	if err != nil {
		return contract.Contract{}, err
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE contracts
		SET plan_code = :plan_code, status = :status, start_date = :start_date,
		    end_date = :end_date, updated_at = :updated_at
		WHERE id = :id
	`, c)
	if err != nil {
		return contract.Contract{}, mapErr("contract", c.ID, err)
	}
	if err := expectRow("contract", c.ID, result); err != nil {
		return contract.Contract{}, err
	}
	return c, nil
}

func (s *Store) GetContract(ctx context.Context, id string) (contract.Contract, error) {
	var c contract.Contract
	if err := s.db.GetContext(ctx, &c, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id); err != nil {
		return contract.Contract{}, mapErr("contract", id, err)
	}
	return c, nil
}

func (s *Store) ListContracts(ctx context.Context, practitionerID string) ([]contract.Contract, error) {
	var out []contract.Contract
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+contractColumns+`
		FROM contracts
		WHERE practitioner_id = $1
		ORDER BY start_date DESC
	`, practitionerID)
	return out, err
}

func (s *Store) GetActiveContract(ctx context.Context, practitionerID string) (contract.Contract, error) {
	var c contract.Contract
	err := s.db.GetContext(ctx, &c, `
		SELECT `+contractColumns+`
		FROM contracts
		WHERE practitioner_id = $1 AND status = 'active'
	`, practitionerID)
	if err != nil {
		return contract.Contract{}, mapErr("active contract for practitioner", practitionerID, err)
	}
	return c, nil
}

func (s *Store) ListDueContracts(ctx context.Context, asOf time.Time) ([]contract.Contract, error) {
	var out []contract.Contract
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+contractColumns+`
		FROM contracts
		WHERE status = 'pending' AND start_date <= $1
		ORDER BY start_date
	`, contract.DateOf(asOf))
	return out, err
}

func (s *Store) ActivateContract(ctx context.Context, id string, asOf time.Time) (contract.Contract, error) {
	var activated contract.Contract
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var c contract.Contract
		if err := tx.GetContext(ctx, &c, `SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id); err != nil {
			return mapErr("contract", id, err)
		}
		if c.Status != contract.StatusPending {
			return fmt.Errorf("contract %s is %s: %w", id, c.Status, storage.ErrConflict)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE contracts
			SET status = 'ended', end_date = $2, updated_at = $3
			WHERE practitioner_id = $1 AND status = 'active'
		`, c.PractitionerID, contract.DateOf(asOf), now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE contracts SET status = 'active', updated_at = $2 WHERE id = $1
		`, id, now); err != nil {
			return mapErr("contract", id, err)
		}
		c.Status = contract.StatusActive
		c.UpdatedAt = now
		activated = c
		return nil
	})
	if err != nil {
		return contract.Contract{}, err
	}
	return activated, nil
}
