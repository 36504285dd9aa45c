package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/familyportal/devicelink/internal/database"
	"github.com/familyportal/devicelink/internal/model"
	"github.com/familyportal/devicelink/internal/util"
)

type pairingRow struct {
	ID             string         `db:"id"`
	Code           string         `db:"code"`
	Status         string         `db:"status"`
	Token          sql.NullString `db:"token"`
	TokenExpiresAt sql.NullTime   `db:"token_expires_at"`
	Subject        sql.NullString `db:"subject"`
	Email          sql.NullString `db:"email"`
	Name           sql.NullString `db:"name"`
	Picture        sql.NullString `db:"picture"`
	CreatedAt      time.Time      `db:"created_at"`
	LinkedAt       sql.NullTime   `db:"linked_at"`
}

type postgresPairingRepo struct {
	db        *database.DB
	sealer    *util.Sealer
	lifetimes Lifetimes
}

func NewPostgresPairingCodeRepository(db *database.DB, sealer *util.Sealer, lifetimes Lifetimes) PairingCodeRepository {
	return &postgresPairingRepo{
		db:        db,
		sealer:    sealer,
		lifetimes: lifetimes,
	}
}

func (r *postgresPairingRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	var row pairingRow
	err := r.db.GetContext(ctx, &row, `
		INSERT INTO pairing_codes (id, code, status, created_at)
		VALUES ($1, $2, 'pending', $3)
		ON CONFLICT (code) DO NOTHING
		RETURNING *
	`, params.ID, params.Code, params.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert pairing code: %w", err)
	}
	return r.toModel(row)
}

func (r *postgresPairingRepo) FindByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	var row pairingRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM pairing_codes WHERE code = $1
	`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find pairing code: %w", err)
	}
	return r.toModel(row)
}

// MarkLinked relies on the status guard in the UPDATE for atomicity. When no
// row matches, a lookup inside the same transaction tells a missing or stale
// code apart from one that was linked first.
func (r *postgresPairingRepo) MarkLinked(ctx context.Context, params model.MarkLinkedParams) (*model.PairingCode, error) {
	sealed, err := r.sealer.Seal(params.Credential.Token)
	if err != nil {
		return nil, fmt.Errorf("seal credential: %w", err)
	}

	var row pairingRow
	err = r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &row, `
			UPDATE pairing_codes SET
				status = 'linked',
				token = $2,
				token_expires_at = $3,
				subject = $4,
				email = $5,
				name = $6,
				picture = $7,
				linked_at = $8
			WHERE code = $1 AND status = 'pending' AND created_at >= $9
			RETURNING *
		`, params.Code, sealed, params.Credential.ExpiresAt,
			params.Identity.Subject, params.Identity.Email, params.Identity.Name, params.Identity.Picture,
			params.LinkedAt, params.LinkedAt.Add(-r.lifetimes.PendingTTL))
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update pairing code: %w", err)
		}

		var status string
		err = tx.GetContext(ctx, &status, `SELECT status FROM pairing_codes WHERE code = $1`, params.Code)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check pairing code: %w", err)
		}
		if status == string(model.PairingStatusLinked) {
			return ErrAlreadyLinked
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return r.toModel(row)
}

func (r *postgresPairingRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_codes
		WHERE (status = 'pending' AND created_at < $1)
		   OR (status = 'linked' AND linked_at < $2)
	`, now.Add(-r.lifetimes.PendingTTL), now.Add(-r.lifetimes.LinkedGrace))
	if err != nil {
		return 0, fmt.Errorf("delete expired pairing codes: %w", err)
	}
	return result.RowsAffected()
}

func (r *postgresPairingRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *postgresPairingRepo) toModel(row pairingRow) (*model.PairingCode, error) {
	pc := &model.PairingCode{
		ID:        row.ID,
		Code:      row.Code,
		Status:    model.PairingStatus(row.Status),
		CreatedAt: row.CreatedAt,
	}
	if !pc.IsLinked() {
		return pc, nil
	}

	token, err := r.sealer.Open(row.Token.String)
	if err != nil {
		return nil, fmt.Errorf("open credential: %w", err)
	}

	linkedAt := row.LinkedAt.Time
	pc.LinkedAt = &linkedAt
	pc.Credential = &model.Credential{
		Token:     token,
		ExpiresAt: row.TokenExpiresAt.Time,
	}
	pc.Identity = &model.Identity{
		Subject: row.Subject.String,
		Email:   row.Email.String,
		Name:    row.Name.String,
		Picture: row.Picture.String,
	}
	return pc, nil
}
