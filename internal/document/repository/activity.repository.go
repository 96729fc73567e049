package repository

import (
	"context"
	"database/sql"
	"strings"

	"medshare/internal/document/model"
	"medshare/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS activity (
	id          UUID PRIMARY KEY,
	action      TEXT NOT NULL,
	account     TEXT NOT NULL,
	fingerprint TEXT NOT NULL DEFAULT '',
	doctor      TEXT NOT NULL DEFAULT '',
	tx_hash     TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS activity_account_idx ON activity (account, created_at DESC);
CREATE INDEX IF NOT EXISTS activity_doctor_idx ON activity (doctor, created_at DESC);`

// ActivityRepository is the Postgres-backed activity journal.
type ActivityRepository struct {
	DB *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{DB: db}
}

func (r *ActivityRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	if err != nil {
		logger.Sugar.Errorf("Failed to create activity schema: %v", err)
	}
	return err
}

func (r *ActivityRepository) Record(ctx context.Context, a model.Activity) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO activity (id, action, account, fingerprint, doctor, tx_hash, outcome, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Action, strings.ToLower(a.Account), a.Fingerprint, strings.ToLower(a.Doctor), a.TxHash, a.Outcome, a.Reason, a.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to record %s activity for %s: %v", a.Action, a.Account, err)
	}
	return err
}

// Recent returns the newest entries where account acted or was the doctor
// of a share, newest first.
func (r *ActivityRepository) Recent(ctx context.Context, account string, limit int) ([]model.Activity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, action, account, fingerprint, doctor, tx_hash, outcome, reason, created_at
		FROM activity WHERE account = $1 OR doctor = $1
		ORDER BY created_at DESC LIMIT $2`, strings.ToLower(account), limit)
	if err != nil {
		logger.Sugar.Errorf("Failed to get activity for %s: %v", account, err)
		return nil, err
	}
	defer rows.Close()

	entries := []model.Activity{}
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.ID, &a.Action, &a.Account, &a.Fingerprint, &a.Doctor, &a.TxHash, &a.Outcome, &a.Reason, &a.CreatedAt); err != nil {
			logger.Sugar.Errorf("Failed to scan activity row: %v", err)
			continue
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
