package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/models"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// LedgerUserStore is the slice of the user repository the ledger needs.
type LedgerUserStore interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	DeductBalance(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error)
	CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) error
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// LedgerTaskStore is the slice of the task repository the ledger needs.
type LedgerTaskStore interface {
	Get(ctx context.Context, id string) (*models.Task, error)
	MarkDeducted(ctx context.Context, id string, status models.TaskStatus) (bool, error)
	MarkTerminal(ctx context.Context, id string, status models.TaskStatus, failCode, failMsg string) (bool, error)
}

// LedgerService owns every balance mutation. Deduct is safe to call
// multiple times for the same task: the storage layer has no
// transactions, so the at-most-once guarantee rests on the per-user lock
// around the read-check-mutate sequence plus conditional updates.
type LedgerService struct {
	log   *slog.Logger
	users LedgerUserStore
	tasks LedgerTaskStore

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewLedgerService(log *slog.Logger, users LedgerUserStore, tasks LedgerTaskStore) *LedgerService {
	return &LedgerService{
		log:   log,
		users: users,
		tasks: tasks,
		locks: make(map[int64]*sync.Mutex),
	}
}

func (s *LedgerService) userLock(userID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// DeductResult reports the outcome of a Deduct call. Deducted says the
// task is settled; Applied says this call is the one that settled it.
// A repeated call for an already-charged task returns Deducted=true,
// Applied=false so the caller can skip delivery it has already done.
type DeductResult struct {
	Deducted   bool
	Applied    bool
	NewBalance decimal.Decimal
}

// Deduct charges a completed task to its owner exactly once.
//
// It re-reads the task's flag and the balance under the user lock right
// before mutating: a second invocation (completion callback racing a
// manual refresh) sees the flag already set and becomes a no-op. An
// insufficient balance moves the task to completed_no_payment and
// returns Deducted=false without touching the balance.
func (s *LedgerService) Deduct(ctx context.Context, userID int64, taskID string) (DeductResult, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return DeductResult{}, fmt.Errorf("reload task: %w", err)
	}
	if task == nil {
		return DeductResult{}, fmt.Errorf("task %s not found", taskID)
	}

	balance, err := s.users.Balance(ctx, userID)
	if err != nil {
		return DeductResult{}, err
	}

	if task.PriceDeducted {
		return DeductResult{Deducted: true, NewBalance: balance}, nil
	}

	// Privileged users are priced at zero; nothing to subtract, only the
	// flag and terminal status to record.
	if task.Price.IsZero() {
		claimed, err := s.tasks.MarkDeducted(ctx, taskID, models.TaskCompleted)
		if err != nil {
			return DeductResult{}, err
		}
		return DeductResult{Deducted: true, Applied: claimed, NewBalance: balance}, nil
	}

	ok, err := s.users.DeductBalance(ctx, userID, task.Price)
	if err != nil {
		return DeductResult{}, err
	}
	if !ok {
		if _, err := s.tasks.MarkTerminal(ctx, taskID, models.TaskCompletedNoPayment, "", ""); err != nil {
			return DeductResult{}, err
		}
		s.log.Error("deduction failed: insufficient balance at completion time",
			"task_id", taskID, "user_id", userID,
			"price", task.Price.StringFixed(2), "balance", balance.StringFixed(2))
		return DeductResult{Deducted: false, NewBalance: balance}, ErrInsufficientFunds
	}

	claimed, err := s.tasks.MarkDeducted(ctx, taskID, models.TaskCompleted)
	if err != nil {
		return DeductResult{}, err
	}
	if !claimed {
		// Another writer resolved the task between our flag read and the
		// balance update; give the money back rather than keep a charge
		// no task record carries.
		if err := s.users.CreditBalance(ctx, userID, task.Price); err != nil {
			return DeductResult{}, fmt.Errorf("refund lost deduction race: %w", err)
		}
		balance, err := s.users.Balance(ctx, userID)
		if err != nil {
			return DeductResult{}, err
		}
		return DeductResult{Deducted: false, NewBalance: balance}, nil
	}

	newBalance, err := s.users.Balance(ctx, userID)
	if err != nil {
		return DeductResult{}, err
	}
	return DeductResult{Deducted: true, Applied: true, NewBalance: newBalance}, nil
}

// Credit adds funds with no floor check. Used by payment approval and
// administrative adjustments; never tied to a task.
func (s *LedgerService) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.users.CreditBalance(ctx, userID, amount); err != nil {
		return decimal.Zero, err
	}
	return s.users.Balance(ctx, userID)
}

// HasFunds pre-checks sufficiency without deducting.
func (s *LedgerService) HasFunds(ctx context.Context, user *models.User, amount decimal.Decimal) (bool, decimal.Decimal, error) {
	if user.Privileged || amount.IsZero() {
		return true, user.Balance, nil
	}
	balance, err := s.users.Balance(ctx, user.ID)
	if err != nil {
		return false, decimal.Zero, err
	}
	return balance.GreaterThanOrEqual(amount), balance, nil
}
