package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, telegram_id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), balance, privileged, banned, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var privileged, banned int
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.Balance, &privileged, &banned, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Privileged = privileged != 0
	u.Banned = banned != 0
	return &u, nil
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, telegramID))
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (telegram_id, username, first_name, last_name, balance, privileged)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?)`
	privileged := 0
	if user.Privileged {
		privileged = 1
	}
	res, err := r.db.ExecContext(ctx, query, user.TelegramID, user.Username, user.FirstName, user.LastName, user.Balance, privileged)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	user.ID = id
	return user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID int64, username, firstName, lastName string) error {
	const query = `
UPDATE users SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), last_name = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, firstName, lastName, userID); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (r *UserRepository) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, bool, error) {
	user, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		go func() {
			_ = r.UpdateProfile(context.Background(), user.ID, username, firstName, lastName)
		}()
		return user, false, nil
	}
	newUser := &models.User{
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
		Balance:    decimal.Zero,
	}
	created, err := r.Create(ctx, newUser)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// DeductBalance subtracts amount only when the stored balance still
// covers it. The conditional WHERE plus RowsAffected is what keeps the
// balance from ever going negative under concurrent callbacks.
func (r *UserRepository) DeductBalance(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	const query = `
UPDATE users SET balance = balance - ?, updated_at = NOW()
WHERE id = ? AND balance >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, userID, amount)
	if err != nil {
		return false, fmt.Errorf("deduct balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deduct rows affected: %w", err)
	}
	return affected > 0, nil
}

// CreditBalance adds amount with no floor check.
func (r *UserRepository) CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	const query = `UPDATE users SET balance = balance + ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, amount, userID); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

// DebitBalance subtracts amount for administrative adjustments, clamping
// at zero instead of failing.
func (r *UserRepository) DebitBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	const query = `UPDATE users SET balance = GREATEST(balance - ?, 0), updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, amount, userID); err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	return nil
}

func (r *UserRepository) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	const query = `SELECT balance FROM users WHERE id = ?`
	var balance decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&balance); err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func (r *UserRepository) SetBanned(ctx context.Context, userID int64, banned bool) error {
	value := 0
	if banned {
		value = 1
	}
	const query = `UPDATE users SET banned = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, value, userID); err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	return nil
}

func (r *UserRepository) SetPrivileged(ctx context.Context, userID int64, privileged bool) error {
	value := 0
	if privileged {
		value = 1
	}
	const query = `UPDATE users SET privileged = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, value, userID); err != nil {
		return fmt.Errorf("set privileged: %w", err)
	}
	return nil
}

func (r *UserRepository) CountActive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM users WHERE banned = 0`
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return count, nil
}

func (r *UserRepository) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT telegram_id FROM users WHERE banned = 0`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
