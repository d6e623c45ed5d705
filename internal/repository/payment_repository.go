package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGArtBot/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, req *models.PaymentRequest) error {
	const query = `
INSERT INTO payment_requests (user_id, amount, evidence_ref, status)
VALUES (?, ?, NULLIF(?, ''), ?)`
	res, err := r.db.ExecContext(ctx, query, req.UserID, req.Amount, req.EvidenceRef, req.Status)
	if err != nil {
		return fmt.Errorf("insert payment request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	req.ID = id
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id int64) (*models.PaymentRequest, error) {
	const query = `
SELECT id, user_id, amount, COALESCE(evidence_ref, ''), status, resolved_by, created_at, resolved_at
FROM payment_requests WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	return scanPaymentRequest(row.Scan)
}

// Resolve flips a pending request to its final status. Only the first
// resolution takes effect; a request already resolved leaves the row
// untouched and Resolve reports false.
func (r *PaymentRepository) Resolve(ctx context.Context, id int64, status models.PaymentStatus, operatorID int64) (bool, error) {
	const query = `
UPDATE payment_requests SET status = ?, resolved_by = ?, resolved_at = NOW()
WHERE id = ? AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, status, operatorID, id)
	if err != nil {
		return false, fmt.Errorf("resolve payment request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *PaymentRepository) ListPending(ctx context.Context) ([]*models.PaymentRequest, error) {
	const query = `
SELECT id, user_id, amount, COALESCE(evidence_ref, ''), status, resolved_by, created_at, resolved_at
FROM payment_requests WHERE status = 'pending' ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending payment requests: %w", err)
	}
	defer rows.Close()

	var out []*models.PaymentRequest
	for rows.Next() {
		req, err := scanPaymentRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanPaymentRequest(scan func(...any) error) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	var resolvedBy sql.NullInt64
	var resolvedAt sql.NullTime
	if err := scan(&p.ID, &p.UserID, &p.Amount, &p.EvidenceRef, &p.Status, &resolvedBy, &p.CreatedAt, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment request: %w", err)
	}
	if resolvedBy.Valid {
		p.ResolvedBy = &resolvedBy.Int64
	}
	if resolvedAt.Valid {
		p.ResolvedAt = &resolvedAt.Time
	}
	return &p, nil
}
