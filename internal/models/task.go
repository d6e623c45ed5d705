package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TaskStatus string

const (
	// TaskCreated means the job was accepted by the provider and is
	// being polled. There is no separate "processing" row state; the
	// stored status only ever reflects what the provider last reported.
	TaskCreated TaskStatus = "created"
	// TaskCompleted means the provider reported success and the price
	// was deducted.
	TaskCompleted TaskStatus = "completed"
	// TaskCompletedNoPayment means the provider reported success but the
	// deduction could not be applied. Requires manual reconciliation.
	TaskCompletedNoPayment TaskStatus = "completed_no_payment"
	// TaskFailed means the provider reported an explicit failure. The
	// price is never deducted for a failed task.
	TaskFailed TaskStatus = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCompletedNoPayment || s == TaskFailed
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskCreated: {TaskCompleted, TaskCompletedNoPayment, TaskFailed},
}

// Transition validates a status change. Polling give-up ("timeout") is
// not a transition: the task keeps its last provider-reported status so
// a later manual refresh can still resolve it.
func Transition(from, to TaskStatus) error {
	for _, allowed := range taskTransitions[from] {
		if to == allowed {
			return nil
		}
	}
	return fmt.Errorf("illegal task transition %s -> %s", from, to)
}

// Task is one remote generation job and its locally tracked lifecycle
// record. Tasks are never deleted; they are the audit trail behind the
// at-most-once deduction guarantee.
type Task struct {
	ID            string // assigned by the provider
	UserID        int64
	ModelID       string
	Params        map[string]any
	Price         decimal.Decimal
	Status        TaskStatus
	PriceDeducted bool
	NeedsReview   bool // success with a malformed or missing result payload
	FailCode      string
	FailMsg       string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}
