package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGArtBot/internal/config"
	"github.com/digkill/TGArtBot/internal/kie"
	"github.com/digkill/TGArtBot/internal/modelparams"
	"github.com/digkill/TGArtBot/internal/models"
	"github.com/digkill/TGArtBot/internal/pricing"
)

// Provider is the remote generation API consumed by the lifecycle
// manager.
type Provider interface {
	CreateTask(ctx context.Context, modelType string, input map[string]any) (string, error)
	GetTaskInfo(ctx context.Context, taskID string) (*kie.TaskInfo, error)
}

// TaskStore extends the ledger's view of tasks with creation and review
// flagging.
type TaskStore interface {
	LedgerTaskStore
	Create(ctx context.Context, task *models.Task) error
	SetNeedsReview(ctx context.Context, id string) error
}

// TaskService drives a generation job from submission to a terminal
// outcome: it creates the remote job, persists the local record, polls
// on a bounded budget and applies the ledger and notification side
// effects of the result.
type TaskService struct {
	log      *slog.Logger
	provider Provider
	tasks    TaskStore
	ledger   *LedgerService
	notifier Notifier

	initialDelay time.Duration
	pollInterval time.Duration
	maxAttempts  int
}

func NewTaskService(cfg config.Config, log *slog.Logger, provider Provider, tasks TaskStore, ledger *LedgerService, notifier Notifier) *TaskService {
	return &TaskService{
		log:          log,
		provider:     provider,
		tasks:        tasks,
		ledger:       ledger,
		notifier:     notifier,
		initialDelay: cfg.PollInitialDelay,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.PollMaxAttempts,
	}
}

// Submit creates the remote job, persists the task in created status and
// schedules completion polling. The price has already been quoted and
// the balance pre-checked by the caller; nothing is deducted here.
func (s *TaskService) Submit(ctx context.Context, chatID int64, user *models.User, model *models.Model, params map[string]any, quote pricing.Quote) (*models.Task, error) {
	adapter := modelparams.For(model.ID)
	input := adapter.ShapeInput(params)

	taskID, err := s.provider.CreateTask(ctx, model.ProviderType, input)
	if err != nil {
		return nil, fmt.Errorf("create remote task: %w", err)
	}

	task := &models.Task{
		ID:      taskID,
		UserID:  user.ID,
		ModelID: model.ID,
		Params:  params,
		Price:   quote.Price,
		Status:  models.TaskCreated,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		// The remote job exists but we lost the local record; surface the
		// ID so support can reconcile manually.
		return nil, fmt.Errorf("persist task %s: %w", taskID, err)
	}

	s.log.Info("task submitted", "task_id", taskID, "user_id", user.ID, "model", model.ID, "price", quote.Price.StringFixed(2))

	go s.pollUntilDone(ctx, chatID, task)
	return task, nil
}

// pollUntilDone asks the provider for status after an initial delay and
// then on a fixed interval, up to the attempt budget. Transport errors
// consume the same budget as inconclusive polls. Exhausting the budget
// is a client-side give-up: the user is told, but the stored status is
// left as the provider last reported it so a manual refresh can still
// resolve the job.
func (s *TaskService) pollUntilDone(ctx context.Context, chatID int64, task *models.Task) {
	delay := s.initialDelay
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = s.pollInterval

		info, err := s.provider.GetTaskInfo(ctx, task.ID)
		if err != nil {
			s.log.Warn("poll failed", "task_id", task.ID, "attempt", attempt, "err", err)
			continue
		}
		if !info.Terminal() {
			if attempt%10 == 0 {
				s.log.Info("task still running", "task_id", task.ID, "state", info.State, "attempt", attempt)
			}
			continue
		}

		s.finish(ctx, chatID, task, info)
		return
	}

	s.log.Warn("poll budget exhausted", "task_id", task.ID, "attempts", s.maxAttempts)
	s.notifier.SendText(chatID, fmt.Sprintf(
		"⏳ Генерация ещё не завершилась. Проверьте позже командой /task %s — если задача выполнится, результат придёт после проверки.", task.ID))
}

// Refresh re-polls a task once on user demand. It drives the same
// terminal handling as the background poller; the ledger keeps the
// deduction at-most-once if both race.
func (s *TaskService) Refresh(ctx context.Context, chatID int64, taskID string, requesterUserID int64) error {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil || task.UserID != requesterUserID {
		s.notifier.SendText(chatID, "Задача не найдена.")
		return nil
	}

	if task.Status.Terminal() {
		s.reportTerminal(chatID, task)
		return nil
	}

	info, err := s.provider.GetTaskInfo(ctx, taskID)
	if err != nil {
		var apiErr *kie.APIError
		if errors.As(err, &apiErr) {
			s.notifier.SendText(chatID, "❌ Не удалось проверить статус: "+apiErr.UserMessage())
		} else {
			s.notifier.SendText(chatID, "❌ Не удалось проверить статус, попробуйте позже.")
		}
		return err
	}
	if !info.Terminal() {
		s.notifier.SendText(chatID, "⏳ Задача ещё выполняется.")
		return nil
	}

	s.finish(ctx, chatID, task, info)
	return nil
}

// finish applies the side effects of a terminal provider status. It is
// idempotent: the conditional status updates and the ledger flag make a
// second invocation for the same task a no-op.
func (s *TaskService) finish(ctx context.Context, chatID int64, task *models.Task, info *kie.TaskInfo) {
	switch info.State {
	case kie.StateFail:
		moved, err := s.tasks.MarkTerminal(ctx, task.ID, models.TaskFailed, info.FailCode, info.FailMsg)
		if err != nil {
			s.log.Error("mark task failed", "task_id", task.ID, "err", err)
			return
		}
		if !moved {
			return // already resolved by a racing path
		}
		// A failed task is guaranteed never deducted; nothing to assert
		// beyond not having called the ledger.
		msg := info.FailMsg
		if msg == "" {
			msg = "провайдер не сообщил причину"
		}
		s.notifier.SendText(chatID, fmt.Sprintf("❌ Генерация не удалась: %s. Средства не списаны.", msg))

	case kie.StateSuccess:
		result, err := s.ledger.Deduct(ctx, task.UserID, task.ID)
		if err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				s.notifier.SendText(chatID,
					"⚠️ Генерация завершилась, но на балансе не хватило средств для списания. Обратитесь в поддержку.")
				s.notifier.NotifyOperators(fmt.Sprintf(
					"⚠️ Задача %s завершена без оплаты (completed_no_payment): у пользователя %d не хватило средств на %s.",
					task.ID, task.UserID, task.Price.StringFixed(2)), 0)
			} else {
				s.log.Error("deduct on completion", "task_id", task.ID, "err", err)
				s.notifier.SendText(chatID, "⚠️ Генерация завершилась, но при списании произошла ошибка. Обратитесь в поддержку.")
			}
			return
		}

		if !result.Applied {
			return // already settled and delivered by a racing path
		}

		s.deliverResults(ctx, chatID, task, info)
		if !task.Price.IsZero() {
			s.notifier.SendText(chatID, fmt.Sprintf("💳 Списано %s ₽. Баланс: %s ₽.",
				task.Price.StringFixed(2), result.NewBalance.StringFixed(2)))
		}
	}
}

// deliverResults sends each artifact individually; a failed send is
// retried once as a document before the per-item failure is reported.
// Delivery problems degrade the message, never the task status.
func (s *TaskService) deliverResults(ctx context.Context, chatID int64, task *models.Task, info *kie.TaskInfo) {
	adapter := modelparams.For(task.ModelID)
	urls := adapter.PickResults(task.Params, info.ResultURLs, info.WatermarkURLs)
	if len(urls) == 0 {
		s.log.Error("success without usable result payload", "task_id", task.ID)
		if err := s.tasks.SetNeedsReview(ctx, task.ID); err != nil {
			s.log.Error("flag task for review", "task_id", task.ID, "err", err)
		}
		s.notifier.SendText(chatID, "⚠️ Генерация завершилась, но результат не удалось обработать. Мы уже разбираемся.")
		return
	}

	delivered := 0
	for i, url := range urls {
		caption := ""
		if i == 0 {
			caption = "✅ Генерация завершена!"
		}
		if err := s.notifier.SendMedia(ctx, chatID, url, adapter.Video, caption); err != nil {
			s.log.Warn("primary delivery failed, retrying as document", "task_id", task.ID, "url", url, "err", err)
			if err := s.notifier.SendDocument(ctx, chatID, url); err != nil {
				s.log.Error("delivery failed", "task_id", task.ID, "url", url, "err", err)
				s.notifier.SendText(chatID, fmt.Sprintf("⚠️ Не удалось доставить результат %d из %d: %s", i+1, len(urls), url))
				continue
			}
		}
		delivered++
	}
	s.log.Info("results delivered", "task_id", task.ID, "delivered", delivered, "total", len(urls))
}

func (s *TaskService) reportTerminal(chatID int64, task *models.Task) {
	switch task.Status {
	case models.TaskCompleted:
		s.notifier.SendText(chatID, "✅ Задача уже завершена, результат был отправлен ранее.")
	case models.TaskCompletedNoPayment:
		s.notifier.SendText(chatID, "⚠️ Задача завершена, но оплата не прошла. Обратитесь в поддержку.")
	case models.TaskFailed:
		msg := task.FailMsg
		if msg == "" {
			msg = "без уточнения причины"
		}
		s.notifier.SendText(chatID, "❌ Задача завершилась с ошибкой: "+msg)
	}
}
