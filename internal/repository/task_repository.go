package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/models"
)

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	paramsJSON, err := json.Marshal(task.Params)
	if err != nil {
		return fmt.Errorf("marshal task params: %w", err)
	}
	const query = `
INSERT INTO tasks (id, user_id, model_id, params_json, price, status)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, task.ID, task.UserID, task.ModelID, string(paramsJSON), task.Price, task.Status); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	const query = `
SELECT id, user_id, model_id, params_json, price, status, price_deducted, needs_review,
       COALESCE(fail_code, ''), COALESCE(fail_msg, ''), created_at, completed_at
FROM tasks WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var t models.Task
	var paramsJSON string
	var deducted, needsReview int
	var completedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.UserID, &t.ModelID, &paramsJSON, &t.Price, &t.Status, &deducted, &needsReview, &t.FailCode, &t.FailMsg, &t.CreatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &t.Params); err != nil {
		return nil, fmt.Errorf("parse task params: %w", err)
	}
	t.PriceDeducted = deducted != 0
	t.NeedsReview = needsReview != 0
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// MarkDeducted records the deduction together with the terminal status
// in a single conditional update. It succeeds at most once per task: the
// WHERE clause refuses rows whose flag is already set or that already
// reached a terminal status.
func (r *TaskRepository) MarkDeducted(ctx context.Context, id string, status models.TaskStatus) (bool, error) {
	const query = `
UPDATE tasks SET price_deducted = 1, status = ?, completed_at = NOW()
WHERE id = ? AND price_deducted = 0 AND status = 'created'`
	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return false, fmt.Errorf("mark deducted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark deducted rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkTerminal moves a task out of created without touching the
// deduction flag. Used for failed and completed_no_payment outcomes.
func (r *TaskRepository) MarkTerminal(ctx context.Context, id string, status models.TaskStatus, failCode, failMsg string) (bool, error) {
	const query = `
UPDATE tasks SET status = ?, fail_code = NULLIF(?, ''), fail_msg = NULLIF(?, ''), completed_at = NOW()
WHERE id = ? AND status = 'created'`
	res, err := r.db.ExecContext(ctx, query, status, failCode, failMsg, id)
	if err != nil {
		return false, fmt.Errorf("mark terminal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark terminal rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *TaskRepository) SetNeedsReview(ctx context.Context, id string) error {
	const query = `UPDATE tasks SET needs_review = 1 WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("set needs review: %w", err)
	}
	return nil
}

func (r *TaskRepository) CountsByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	const query = `SELECT status, COUNT(*) FROM tasks GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status models.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Revenue sums prices actually deducted from user balances.
func (r *TaskRepository) Revenue(ctx context.Context) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(price), 0) FROM tasks WHERE price_deducted = 1`
	var total decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum revenue: %w", err)
	}
	return total, nil
}
