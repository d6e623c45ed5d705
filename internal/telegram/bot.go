package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGArtBot/internal/config"
	"github.com/digkill/TGArtBot/internal/models"
	"github.com/digkill/TGArtBot/internal/ratelimit"
	"github.com/digkill/TGArtBot/internal/repository"
	"github.com/digkill/TGArtBot/internal/service"
	"github.com/digkill/TGArtBot/internal/session"
)

const maxReferenceImages = 8

var errUploadNotImage = errors.New("upload not image")

type ImageStorage interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	users      *service.UserService
	catalog    *repository.ModelRepository
	settings   *repository.SettingsRepository
	tasks      *service.TaskService
	ledger     *service.LedgerService
	payments   *service.PaymentService
	sessions   *session.Store
	limiter    *ratelimit.Limiter
	storage    ImageStorage
	httpClient *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, users *service.UserService, catalog *repository.ModelRepository, settings *repository.SettingsRepository, tasks *service.TaskService, ledger *service.LedgerService, payments *service.PaymentService, sessions *session.Store, limiter *ratelimit.Limiter, storage ImageStorage) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		users:      users,
		catalog:    catalog,
		settings:   settings,
		tasks:      tasks,
		ledger:     ledger,
		payments:   payments,
		sessions:   sessions,
		limiter:    limiter,
		storage:    storage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	sweep := time.NewTicker(b.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-sweep.C:
			b.limiter.Sweep()
			b.sessions.Sweep()
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	user, created, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user", "err", err)
		b.sendText(msg.Chat.ID, "Не получилось обработать сообщение, попробуйте ещё раз.")
		return
	}
	if user.Banned {
		b.sendText(msg.Chat.ID, "Доступ к боту ограничен. Обратитесь к оператору.")
		return
	}
	if !b.limiter.Allow(user.TelegramID, user.Privileged) {
		b.sendText(msg.Chat.ID, "Слишком много запросов. Подождите минуту и попробуйте снова.")
		return
	}
	if created {
		b.sendText(msg.Chat.ID, welcomeText)
	}

	if len(msg.Photo) > 0 || msg.Document != nil {
		b.handleIncomingFile(ctx, msg, user)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, user)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	sess := b.sessions.Get(msg.Chat.ID)
	if sess == nil {
		b.sendText(msg.Chat.ID, "Выберите модель командой /models или /generate.")
		return
	}

	switch sess.Mode {
	case session.ModeCollecting:
		b.handleCollectText(ctx, msg.Chat.ID, user, sess, text)
	case session.ModeAwaitingRechargeAmount:
		b.handleRechargeAmount(msg.Chat.ID, sess, text)
	case session.ModeAwaitingRechargeProof:
		b.sendText(msg.Chat.ID, "Пришлите скриншот перевода (фото или документ) либо /cancel.")
	default:
		b.sendText(msg.Chat.ID, "Выберите модель командой /models или /generate.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *models.User) {
	switch msg.Command() {
	case "start", "help":
		b.sendText(msg.Chat.ID, welcomeText)
	case "models":
		b.promptModelSelection(ctx, msg.Chat.ID)
	case "generate":
		arg := strings.TrimSpace(msg.CommandArguments())
		if arg == "" {
			b.promptModelSelection(ctx, msg.Chat.ID)
			return
		}
		b.startCollecting(ctx, msg.Chat.ID, user, arg)
	case "task":
		taskID := strings.TrimSpace(msg.CommandArguments())
		if taskID == "" {
			b.sendText(msg.Chat.ID, "Укажите номер задачи: /task <id>")
			return
		}
		if err := b.tasks.Refresh(ctx, msg.Chat.ID, taskID, user.ID); err != nil {
			b.log.Error("task refresh", "task_id", taskID, "err", err)
			b.sendText(msg.Chat.ID, "Задача не найдена или недоступна.")
		}
	case "balance":
		b.sendText(msg.Chat.ID, fmt.Sprintf("Ваш баланс: %s ₽", user.Balance.StringFixed(2)))
	case "topup":
		b.sessions.Set(msg.Chat.ID, &session.Session{Mode: session.ModeAwaitingRechargeAmount, Params: map[string]any{}})
		b.sendText(msg.Chat.ID, "Введите сумму пополнения в рублях, например 500.")
	case "cancel":
		b.sessions.Clear(msg.Chat.ID)
		b.sendText(msg.Chat.ID, "Текущий диалог сброшен.")
	case "pending":
		if !b.isOperator(user.TelegramID) {
			b.sendText(msg.Chat.ID, "Команда доступна только операторам.")
			return
		}
		b.listPendingRequests(ctx, msg.Chat.ID)
	default:
		b.sendText(msg.Chat.ID, "Неизвестная команда. Список команд: /help")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	user, _, err := b.ensureUser(ctx, cb.From, chatID)
	if err != nil {
		b.log.Error("ensure user", "err", err)
		return
	}

	answer := func(text string) {
		callback := tgbotapi.NewCallback(cb.ID, text)
		if _, err := b.api.Request(callback); err != nil {
			b.log.Error("answer callback", "err", err)
		}
	}

	data := cb.Data
	switch {
	case strings.HasPrefix(data, "model:"):
		answer("")
		b.startCollecting(ctx, chatID, user, strings.TrimPrefix(data, "model:"))
	case strings.HasPrefix(data, "opt:"):
		answer("")
		if sess := b.sessions.Get(chatID); sess != nil && sess.Mode == session.ModeCollecting {
			b.handleCollectText(ctx, chatID, user, sess, strings.TrimPrefix(data, "opt:"))
		}
	case data == "skip":
		answer("")
		b.handleSkip(ctx, chatID, user)
	case data == "confirm":
		b.handleConfirm(ctx, chatID, user, answer)
	case data == "cancel":
		answer("")
		b.sessions.Clear(chatID)
		b.sendText(chatID, "Генерация отменена.")
	case strings.HasPrefix(data, "approve:"), strings.HasPrefix(data, "reject:"):
		b.handleResolution(ctx, cb, user, answer)
	default:
		answer("")
	}
}

func (b *Bot) handleResolution(ctx context.Context, cb *tgbotapi.CallbackQuery, operator *models.User, answer func(string)) {
	if !b.isOperator(operator.TelegramID) {
		answer("Недостаточно прав")
		return
	}
	data := cb.Data
	approve := strings.HasPrefix(data, "approve:")
	idStr := strings.TrimPrefix(strings.TrimPrefix(data, "approve:"), "reject:")
	requestID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		answer("Некорректная заявка")
		return
	}

	if approve {
		err = b.payments.Approve(ctx, requestID, operator.ID)
	} else {
		err = b.payments.Reject(ctx, requestID, operator.ID)
	}
	switch {
	case err == nil:
		if approve {
			answer("Заявка подтверждена")
		} else {
			answer("Заявка отклонена")
		}
		// Drop the buttons so a second operator sees the request is taken.
		edit := tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
		if _, err := b.api.Request(edit); err != nil {
			b.log.Error("clear markup", "err", err)
		}
	case errors.Is(err, service.ErrAlreadyResolved):
		answer("Заявка уже обработана")
	case errors.Is(err, service.ErrRequestNotFound):
		answer("Заявка не найдена")
	default:
		b.log.Error("resolve payment request", "request_id", requestID, "err", err)
		answer("Ошибка, попробуйте ещё раз")
	}
}

func (b *Bot) listPendingRequests(ctx context.Context, chatID int64) {
	requests, err := b.payments.ListPending(ctx)
	if err != nil {
		b.log.Error("list pending requests", "err", err)
		b.sendText(chatID, "Не получилось загрузить заявки.")
		return
	}
	if len(requests) == 0 {
		b.sendText(chatID, "Заявок на пополнение нет.")
		return
	}
	for _, req := range requests {
		text := fmt.Sprintf("Заявка №%d\nПользователь: %d\nСумма: %s ₽", req.ID, req.UserID, req.Amount.StringFixed(2))
		if req.EvidenceRef != "" {
			text += "\nЧек: " + req.EvidenceRef
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", fmt.Sprintf("approve:%d", req.ID)),
				tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", fmt.Sprintf("reject:%d", req.ID)),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send pending request", "err", err)
		}
	}
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User, chatID int64) (*models.User, bool, error) {
	username := ""
	firstName := ""
	lastName := ""
	telegramID := chatID
	if from != nil {
		username = from.UserName
		firstName = from.FirstName
		lastName = from.LastName
		telegramID = from.ID
	}
	return b.users.Ensure(ctx, telegramID, username, firstName, lastName)
}

func (b *Bot) isOperator(telegramID int64) bool {
	for _, id := range b.cfg.OperatorIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errUploadNotImage
	}
}

const welcomeText = `Привет! Я бот для генерации картинок и видео нейросетями.

Команды:
/models — список доступных моделей
/generate <model> — начать генерацию
/task <id> — проверить статус задачи
/balance — баланс
/topup — пополнить баланс
/cancel — сбросить текущий диалог`
