package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/models"
)

var (
	ErrRequestNotFound = errors.New("payment request not found")
	ErrAlreadyResolved = errors.New("payment request already resolved")
	ErrInvalidAmount   = errors.New("invalid recharge amount")
)

// PaymentStore is the slice of the payment repository the workflow needs.
type PaymentStore interface {
	Create(ctx context.Context, req *models.PaymentRequest) error
	Get(ctx context.Context, id int64) (*models.PaymentRequest, error)
	Resolve(ctx context.Context, id int64, status models.PaymentStatus, operatorID int64) (bool, error)
	ListPending(ctx context.Context) ([]*models.PaymentRequest, error)
}

// PaymentUserStore resolves request owners for notifications.
type PaymentUserStore interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

// PaymentService tracks manually submitted recharge claims and lets a
// privileged operator credit or reject them. Resolution is idempotent:
// only the first approve or reject takes effect.
type PaymentService struct {
	log      *slog.Logger
	payments PaymentStore
	users    PaymentUserStore
	ledger   *LedgerService
	notifier Notifier
}

func NewPaymentService(log *slog.Logger, payments PaymentStore, users PaymentUserStore, ledger *LedgerService, notifier Notifier) *PaymentService {
	return &PaymentService{
		log:      log,
		payments: payments,
		users:    users,
		ledger:   ledger,
		notifier: notifier,
	}
}

// Submit records a pending recharge claim and alerts every operator.
func (s *PaymentService) Submit(ctx context.Context, user *models.User, amount decimal.Decimal, evidenceRef string) (*models.PaymentRequest, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	req := &models.PaymentRequest{
		UserID:      user.ID,
		Amount:      amount,
		EvidenceRef: evidenceRef,
		Status:      models.PaymentPending,
	}
	if err := s.payments.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create payment request: %w", err)
	}

	s.log.Info("payment request submitted", "request_id", req.ID, "user_id", user.ID, "amount", amount.StringFixed(2))

	text := fmt.Sprintf("💸 Заявка на пополнение #%d\nПользователь: %s (id %d)\nСумма: %s ₽",
		req.ID, displayName(user), user.TelegramID, amount.StringFixed(2))
	if evidenceRef != "" {
		text += "\nПодтверждение: " + evidenceRef
	}
	s.notifier.NotifyOperators(text, req.ID)
	return req, nil
}

// Approve credits the claimed amount exactly once and notifies the
// submitting user with the new balance.
func (s *PaymentService) Approve(ctx context.Context, requestID, operatorID int64) error {
	req, err := s.payments.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrRequestNotFound
	}

	resolved, err := s.payments.Resolve(ctx, requestID, models.PaymentApproved, operatorID)
	if err != nil {
		return err
	}
	if !resolved {
		return ErrAlreadyResolved
	}

	newBalance, err := s.ledger.Credit(ctx, req.UserID, req.Amount)
	if err != nil {
		// The request is marked approved but the credit failed; this is
		// exactly the case operators must reconcile by hand.
		s.log.Error("credit after approval failed", "request_id", requestID, "user_id", req.UserID, "err", err)
		s.notifier.NotifyOperators(fmt.Sprintf("⚠️ Заявка #%d одобрена, но зачисление не прошло: %v", requestID, err), 0)
		return err
	}

	s.log.Info("payment request approved", "request_id", requestID, "operator_id", operatorID, "amount", req.Amount.StringFixed(2))
	s.notifyOwner(ctx, req.UserID, fmt.Sprintf("✅ Пополнение на %s ₽ подтверждено. Баланс: %s ₽.",
		req.Amount.StringFixed(2), newBalance.StringFixed(2)))
	return nil
}

// Reject marks the claim rejected without touching the balance.
func (s *PaymentService) Reject(ctx context.Context, requestID, operatorID int64) error {
	req, err := s.payments.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrRequestNotFound
	}

	resolved, err := s.payments.Resolve(ctx, requestID, models.PaymentRejected, operatorID)
	if err != nil {
		return err
	}
	if !resolved {
		return ErrAlreadyResolved
	}

	s.log.Info("payment request rejected", "request_id", requestID, "operator_id", operatorID)
	s.notifyOwner(ctx, req.UserID, fmt.Sprintf("❌ Заявка на пополнение на %s ₽ отклонена. Свяжитесь с поддержкой, если это ошибка.",
		req.Amount.StringFixed(2)))
	return nil
}

func (s *PaymentService) ListPending(ctx context.Context) ([]*models.PaymentRequest, error) {
	return s.payments.ListPending(ctx)
}

func (s *PaymentService) notifyOwner(ctx context.Context, userID int64, text string) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil || user == nil {
		s.log.Error("resolve request owner for notification", "user_id", userID, "err", err)
		return
	}
	s.notifier.SendText(user.TelegramID, text)
}

func displayName(u *models.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		return "без имени"
	}
	return name
}
