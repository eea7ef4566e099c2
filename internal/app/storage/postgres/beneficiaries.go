package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fl2m/platform/internal/app/domain/beneficiary"
)

const beneficiaryColumns = `id, owner_id, first_name, last_name, birth_date, email, linked_profile_id, created_at, updated_at`

const grantColumns = `beneficiary_id, profile_id, role, granted_by, created_at`

const invitationColumns = `id, beneficiary_id, email, role, token_hash, status, invited_by, expires_at,
	accepted_at, accepted_by, created_at`

const documentColumns = `id, beneficiary_id, name, content_type, size_bytes, storage_path, uploaded_by, created_at`

func (s *Store) CreateBeneficiary(ctx context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO beneficiaries (`+beneficiaryColumns+`)
			VALUES (:id, :owner_id, :first_name, :last_name, :birth_date, :email, :linked_profile_id, :created_at, :updated_at)
		`, b); err != nil {
			return mapErr("beneficiary", b.ID, err)
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO beneficiary_access (`+grantColumns+`)
			VALUES (:beneficiary_id, :profile_id, :role, :granted_by, :created_at)
		`, beneficiary.AccessGrant{
			BeneficiaryID: b.ID,
			ProfileID:     b.OwnerID,
			Role:          beneficiary.RoleOwner,
			GrantedBy:     b.OwnerID,
			CreatedAt:     now,
		})
		return mapErr("owner grant", b.ID, err)
	})
	if err != nil {
		return beneficiary.Beneficiary{}, err
	}
	return b, nil
}

func (s *Store) UpdateBeneficiary(ctx context.Context, b beneficiary.Beneficiary) (beneficiary.Beneficiary, error) {
	existing, err := s.GetBeneficiary(ctx, b.ID)
	if err != nil {
		return beneficiary.Beneficiary{}, err
	}
	b.OwnerID = existing.OwnerID
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE beneficiaries
		SET first_name = :first_name, last_name = :last_name, birth_date = :birth_date,
		    email = :email, linked_profile_id = :linked_profile_id, updated_at = :updated_at
		WHERE id = :id
	`, b)
	if err != nil {
		return beneficiary.Beneficiary{}, mapErr("beneficiary", b.ID, err)
	}
	if err := expectRow("beneficiary", b.ID, result); err != nil {
		return beneficiary.Beneficiary{}, err
	}
	return b, nil
}

func (s *Store) GetBeneficiary(ctx context.Context, id string) (beneficiary.Beneficiary, error) {
	var b beneficiary.Beneficiary
	if err := s.db.GetContext(ctx, &b, `SELECT `+beneficiaryColumns+` FROM beneficiaries WHERE id = $1`, id); err != nil {
		return beneficiary.Beneficiary{}, mapErr("beneficiary", id, err)
	}
	return b, nil
}

func (s *Store) DeleteBeneficiary(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM beneficiaries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow("beneficiary", id, result)
}

func (s *Store) ListBeneficiariesForProfile(ctx context.Context, profileID string) ([]beneficiary.Beneficiary, error) {
	var out []beneficiary.Beneficiary
	err := s.db.SelectContext(ctx, &out, `
		SELECT b.id, b.owner_id, b.first_name, b.last_name, b.birth_date, b.email,
		       b.linked_profile_id, b.created_at, b.updated_at
		FROM beneficiaries b
		JOIN beneficiary_access a ON a.beneficiary_id = b.id
		WHERE a.profile_id = $1
		ORDER BY b.created_at
	`, profileID)
	return out, err
}

func (s *Store) GetGrant(ctx context.Context, beneficiaryID, profileID string) (beneficiary.AccessGrant, error) {
	var g beneficiary.AccessGrant
	err := s.db.GetContext(ctx, &g, `
		SELECT `+grantColumns+`
		FROM beneficiary_access
		WHERE beneficiary_id = $1 AND profile_id = $2
	`, beneficiaryID, profileID)
	if err != nil {
		return beneficiary.AccessGrant{}, mapErr("grant", beneficiaryID+"/"+profileID, err)
	}
	return g, nil
}

func (s *Store) UpsertGrant(ctx context.Context, g beneficiary.AccessGrant) (beneficiary.AccessGrant, error) {
	g.CreatedAt = time.Now().UTC()
	rows, err := s.db.NamedQueryContext(ctx, `
		INSERT INTO beneficiary_access (`+grantColumns+`)
		VALUES (:beneficiary_id, :profile_id, :role, :granted_by, :created_at)
		ON CONFLICT (beneficiary_id, profile_id)
		DO UPDATE SET role = EXCLUDED.role, granted_by = EXCLUDED.granted_by
		RETURNING created_at
	`, g)
	if err != nil {
		return beneficiary.AccessGrant{}, mapErr("grant", g.BeneficiaryID+"/"+g.ProfileID, err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&g.CreatedAt); err != nil {
			return beneficiary.AccessGrant{}, err
		}
	}
	return g, rows.Err()
}

func (s *Store) DeleteGrant(ctx context.Context, beneficiaryID, profileID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM beneficiary_access WHERE beneficiary_id = $1 AND profile_id = $2
	`, beneficiaryID, profileID)
	if err != nil {
		return err
	}
	return expectRow("grant", beneficiaryID+"/"+profileID, result)
}

func (s *Store) ListGrants(ctx context.Context, beneficiaryID string) ([]beneficiary.AccessGrant, error) {
	var out []beneficiary.AccessGrant
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+grantColumns+` FROM beneficiary_access WHERE beneficiary_id = $1 ORDER BY created_at
	`, beneficiaryID)
	return out, err
}

func (s *Store) CreateInvitation(ctx context.Context, inv beneficiary.Invitation) (beneficiary.Invitation, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = time.Now().UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO beneficiary_invitations (`+invitationColumns+`)
		VALUES (:id, :beneficiary_id, :email, :role, :token_hash, :status, :invited_by, :expires_at,
		        :accepted_at, :accepted_by, :created_at)
	`, inv)
	if err != nil {
		return beneficiary.Invitation{}, mapErr("invitation", inv.ID, err)
	}
	return inv, nil
}

func (s *Store) UpdateInvitation(ctx context.Context, inv beneficiary.Invitation) (beneficiary.Invitation, error) {
	result, err := s.db.NamedExecContext(ctx, `
		UPDATE beneficiary_invitations
		SET status = :status, accepted_at = :accepted_at, accepted_by = :accepted_by
		WHERE id = :id
	`, inv)
	if err != nil {
		return beneficiary.Invitation{}, mapErr("invitation", inv.ID, err)
	}
	if err := expectRow("invitation", inv.ID, result); err != nil {
		return beneficiary.Invitation{}, err
	}
	return s.GetInvitation(ctx, inv.ID)
}

func (s *Store) GetInvitation(ctx context.Context, id string) (beneficiary.Invitation, error) {
	var inv beneficiary.Invitation
	if err := s.db.GetContext(ctx, &inv, `SELECT `+invitationColumns+` FROM beneficiary_invitations WHERE id = $1`, id); err != nil {
		return beneficiary.Invitation{}, mapErr("invitation", id, err)
	}
	return inv, nil
}

func (s *Store) ListInvitations(ctx context.Context, beneficiaryID string) ([]beneficiary.Invitation, error) {
	var out []beneficiary.Invitation
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+invitationColumns+` FROM beneficiary_invitations WHERE beneficiary_id = $1 ORDER BY created_at
	`, beneficiaryID)
	return out, err
}

func (s *Store) ExpireInvitations(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE beneficiary_invitations SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *Store) CreateDocument(ctx context.Context, d beneficiary.Document) (beneficiary.Document, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO beneficiary_documents (`+documentColumns+`)
		VALUES (:id, :beneficiary_id, :name, :content_type, :size_bytes, :storage_path, :uploaded_by, :created_at)
	`, d)
	if err != nil {
		return beneficiary.Document{}, mapErr("document", d.ID, err)
	}
	return d, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (beneficiary.Document, error) {
	var d beneficiary.Document
	if err := s.db.GetContext(ctx, &d, `SELECT `+documentColumns+` FROM beneficiary_documents WHERE id = $1`, id); err != nil {
		return beneficiary.Document{}, mapErr("document", id, err)
	}
	return d, nil
}

func (s *Store) ListDocuments(ctx context.Context, beneficiaryID string) ([]beneficiary.Document, error) {
	var out []beneficiary.Document
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+documentColumns+` FROM beneficiary_documents WHERE beneficiary_id = $1 ORDER BY created_at DESC
	`, beneficiaryID)
	return out, err
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM beneficiary_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow("document", id, result)
}
