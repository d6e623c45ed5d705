package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/kie"
	"github.com/digkill/TGArtBot/internal/models"
	"github.com/digkill/TGArtBot/internal/pricing"
	"github.com/digkill/TGArtBot/internal/session"
)

func (b *Bot) promptModelSelection(ctx context.Context, chatID int64) {
	catalog, err := b.catalog.List(ctx)
	if err != nil {
		b.log.Error("list models", "err", err)
		b.sendText(chatID, "Не получилось загрузить список моделей.")
		return
	}
	if len(catalog) == 0 {
		b.sendText(chatID, "Каталог моделей пуст.")
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(catalog))
	for _, m := range catalog {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(m.Name, "model:"+m.ID),
		))
	}
	msg := tgbotapi.NewMessage(chatID, "Выберите модель:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send model selection", "err", err)
	}
}

// loadModel resolves a catalog model, telling the user when it does not
// exist or cannot be read. Returns nil when the caller must stop.
func (b *Bot) loadModel(ctx context.Context, chatID int64, modelID string) *models.Model {
	model, err := b.catalog.Get(ctx, modelID)
	if err != nil {
		b.log.Error("load model", "model_id", modelID, "err", err)
		b.sendText(chatID, "Модель сейчас недоступна, попробуйте позже.")
		return nil
	}
	if model == nil {
		b.sendText(chatID, "Модель не найдена. Список: /models")
		return nil
	}
	return model
}

func (b *Bot) startCollecting(ctx context.Context, chatID int64, user *models.User, modelID string) {
	model := b.loadModel(ctx, chatID, modelID)
	if model == nil {
		return
	}

	sess := &session.Session{Mode: session.ModeCollecting, ModelID: model.ID, Params: map[string]any{}}
	b.sessions.Set(chatID, sess)
	b.sendText(chatID, fmt.Sprintf("Модель: %s\nОтвечайте на вопросы по одному, или пришлите все параметры одним JSON-сообщением. Отмена — /cancel.", model.Name))
	b.askNext(ctx, chatID, user, sess, model)
}

// askNext asks for the first parameter the session has no value for, or
// moves to the confirmation step when the set is complete.
func (b *Bot) askNext(ctx context.Context, chatID int64, user *models.User, sess *session.Session, model *models.Model) {
	spec := session.NextParam(model, sess.Params)
	if spec == nil {
		b.showConfirmation(ctx, chatID, user, sess, model)
		return
	}
	sess.Step++
	b.sessions.Touch(chatID)

	prompt := spec.Prompt
	if prompt == "" {
		prompt = "Введите значение параметра «" + spec.Name + "»."
	}

	switch {
	case len(spec.Enum) > 0:
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(spec.Enum))
		for _, option := range spec.Enum {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(option, "opt:"+option),
			))
		}
		if !spec.Required {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Пропустить", "skip"),
			))
		}
		msg := tgbotapi.NewMessage(chatID, prompt)
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send enum prompt", "err", err)
		}
	case spec.Type == "array":
		text := prompt + "\nОтправьте одно или несколько изображений, затем напишите «готово»."
		msg := tgbotapi.NewMessage(chatID, text)
		if !spec.Required {
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Пропустить", "skip")),
			)
		}
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send array prompt", "err", err)
		}
	default:
		if !spec.Required {
			msg := tgbotapi.NewMessage(chatID, prompt)
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Пропустить", "skip")),
			)
			if _, err := b.api.Send(msg); err != nil {
				b.log.Error("send prompt", "err", err)
			}
			return
		}
		b.sendText(chatID, prompt)
	}
}

func (b *Bot) handleCollectText(ctx context.Context, chatID int64, user *models.User, sess *session.Session, text string) {
	model := b.loadModel(ctx, chatID, sess.ModelID)
	if model == nil {
		b.sessions.Clear(chatID)
		return
	}

	// One-message path: a JSON object covering the whole parameter set.
	if strings.HasPrefix(text, "{") && len(sess.Params) == 0 {
		params, err := session.ParseSingleShot(model, text)
		if err != nil {
			b.sendValidationError(chatID, err)
			return
		}
		sess.Params = params
		b.sessions.Touch(chatID)
		b.showConfirmation(ctx, chatID, user, sess, model)
		return
	}

	lower := strings.ToLower(text)
	if lower == "готово" || lower == "далее" {
		b.askNext(ctx, chatID, user, sess, model)
		return
	}
	if lower == "пропустить" {
		b.handleSkip(ctx, chatID, user)
		return
	}

	spec := session.NextParam(model, sess.Params)
	if spec == nil {
		b.showConfirmation(ctx, chatID, user, sess, model)
		return
	}

	value, err := session.Validate(spec, text)
	if err != nil {
		b.sendValidationError(chatID, err)
		return
	}
	sess.Params[spec.Name] = value
	b.sessions.Touch(chatID)
	b.askNext(ctx, chatID, user, sess, model)
}

func (b *Bot) handleSkip(ctx context.Context, chatID int64, user *models.User) {
	sess := b.sessions.Get(chatID)
	if sess == nil || sess.Mode != session.ModeCollecting {
		return
	}
	model := b.loadModel(ctx, chatID, sess.ModelID)
	if model == nil {
		b.sessions.Clear(chatID)
		return
	}
	spec := session.NextParam(model, sess.Params)
	if spec == nil {
		b.showConfirmation(ctx, chatID, user, sess, model)
		return
	}
	if spec.Required {
		b.sendText(chatID, "Этот параметр обязательный, его нельзя пропустить.")
		return
	}
	if spec.Default != "" {
		if value, err := session.Validate(spec, spec.Default); err == nil {
			sess.Params[spec.Name] = value
		}
	} else if spec.Type == "array" {
		sess.Params[spec.Name] = []string{}
	} else {
		sess.Params[spec.Name] = nil
	}
	b.sessions.Touch(chatID)
	b.askNext(ctx, chatID, user, sess, model)
}

func (b *Bot) handleIncomingFile(ctx context.Context, msg *tgbotapi.Message, user *models.User) {
	chatID := msg.Chat.ID
	sess := b.sessions.Get(chatID)
	if sess == nil {
		b.sendText(chatID, "Сейчас изображение не требуется. Начните с /models или /topup.")
		return
	}

	fileID := ""
	if len(msg.Photo) > 0 {
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	} else if msg.Document != nil {
		fileID = msg.Document.FileID
	}
	if fileID == "" {
		return
	}

	switch sess.Mode {
	case session.ModeAwaitingRechargeProof:
		b.handleRechargeProof(ctx, chatID, user, sess, fileID)
	case session.ModeCollecting:
		b.handleReferenceImage(ctx, chatID, user, sess, fileID)
	default:
		b.sendText(chatID, "Сейчас изображение не требуется.")
	}
}

func (b *Bot) handleReferenceImage(ctx context.Context, chatID int64, user *models.User, sess *session.Session, fileID string) {
	model := b.loadModel(ctx, chatID, sess.ModelID)
	if model == nil {
		b.sessions.Clear(chatID)
		return
	}
	spec := session.NextParam(model, sess.Params)
	if spec == nil || spec.Type != "array" {
		// An array already collected keeps accepting uploads until the
		// user moves on with «готово».
		spec = lastArrayParam(model, sess.Params)
	}
	if spec == nil {
		b.sendText(chatID, "Эта модель не принимает изображения на этом шаге.")
		return
	}

	urls, _ := sess.Params[spec.Name].([]string)
	if len(urls) >= maxReferenceImages {
		b.sendText(chatID, fmt.Sprintf("Достигнут лимит %d изображений. Напишите «готово».", maxReferenceImages))
		return
	}

	data, contentType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, errUploadNotImage) {
			b.sendText(chatID, "Поддерживаются только изображения JPEG, PNG или WebP.")
			return
		}
		b.log.Error("download reference", "err", err)
		b.sendText(chatID, "Не получилось скачать файл, попробуйте ещё раз.")
		return
	}
	url, err := b.storage.Upload(ctx, data, contentType)
	if err != nil {
		b.log.Error("upload reference", "err", err)
		b.sendText(chatID, "Не получилось сохранить изображение, попробуйте ещё раз.")
		return
	}

	urls = append(urls, url)
	sess.Params[spec.Name] = urls
	b.sessions.Touch(chatID)
	b.sendText(chatID, fmt.Sprintf("Изображение сохранено (%d/%d). Отправьте ещё или напишите «готово».", len(urls), maxReferenceImages))
}

// lastArrayParam returns the array parameter that already holds values,
// so extra uploads after the first keep landing in the same slot.
func lastArrayParam(model *models.Model, params map[string]any) *models.ParamSpec {
	for i := range model.Params {
		spec := &model.Params[i]
		if spec.Type != "array" {
			continue
		}
		if _, ok := params[spec.Name].([]string); ok {
			return spec
		}
	}
	return nil
}

func (b *Bot) showConfirmation(ctx context.Context, chatID int64, user *models.User, sess *session.Session, model *models.Model) {
	session.ApplyDefaults(model, sess.Params)
	if missing := session.MissingRequired(model, sess.Params); len(missing) > 0 {
		b.askNext(ctx, chatID, user, sess, model)
		return
	}

	settings, err := b.settings.Get(ctx)
	if err != nil {
		b.log.Error("load settings", "err", err)
		b.sendText(chatID, "Не получилось рассчитать цену, попробуйте позже.")
		return
	}
	quote, err := pricing.Price(model, sess.Params, *settings, user.Privileged)
	if err != nil {
		if errors.Is(err, pricing.ErrPriceUndetermined) {
			b.sessions.Clear(chatID)
			b.sendText(chatID, "Цена этой модели не определена, генерация недоступна. Напишите оператору: "+b.cfg.SupportContact)
			return
		}
		b.log.Error("price quote", "model_id", model.ID, "err", err)
		b.sendText(chatID, "Не получилось рассчитать цену, попробуйте позже.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Модель: %s\n", model.Name)
	for _, line := range formatParams(sess.Params) {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "\nСтоимость: %s ₽\nВаш баланс: %s ₽", quote.Price.StringFixed(2), user.Balance.StringFixed(2))

	msg := tgbotapi.NewMessage(chatID, sb.String())
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🚀 Запустить", "confirm"),
			tgbotapi.NewInlineKeyboardButtonData("Отмена", "cancel"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send confirmation", "err", err)
	}
}

func (b *Bot) handleConfirm(ctx context.Context, chatID int64, user *models.User, answer func(string)) {
	sess := b.sessions.Get(chatID)
	if sess == nil || sess.Mode != session.ModeCollecting {
		answer("Сессия истекла, начните заново")
		return
	}
	if !b.sessions.AllowSubmit(chatID) {
		answer("")
		return
	}

	model := b.loadModel(ctx, chatID, sess.ModelID)
	if model == nil {
		answer("")
		b.sessions.Clear(chatID)
		return
	}
	settings, err := b.settings.Get(ctx)
	if err != nil {
		answer("")
		b.log.Error("load settings", "err", err)
		return
	}
	quote, err := pricing.Price(model, sess.Params, *settings, user.Privileged)
	if err != nil {
		answer("")
		b.sessions.Clear(chatID)
		b.sendText(chatID, "Цена этой модели не определена, генерация недоступна.")
		return
	}

	ok, balance, err := b.ledger.HasFunds(ctx, user, quote.Price)
	if err != nil {
		answer("")
		b.log.Error("check funds", "user_id", user.ID, "err", err)
		b.sendText(chatID, "Не получилось проверить баланс, попробуйте позже.")
		return
	}
	if !ok {
		answer("")
		b.sendText(chatID, fmt.Sprintf("Недостаточно средств: нужно %s ₽, на балансе %s ₽. Пополните баланс: /topup", quote.Price.StringFixed(2), balance.StringFixed(2)))
		return
	}

	params := cleanParams(sess.Params)
	task, err := b.tasks.Submit(ctx, chatID, user, model, params, quote)
	if err != nil {
		answer("")
		var apiErr *kie.APIError
		if errors.As(err, &apiErr) {
			b.sendText(chatID, apiErr.UserMessage())
		} else {
			b.log.Error("submit task", "model_id", model.ID, "err", err)
			b.sendText(chatID, "Не получилось создать задачу, попробуйте позже.")
		}
		return
	}

	b.sessions.Clear(chatID)
	answer("Задача создана")
	b.sendText(chatID, fmt.Sprintf("Задача %s принята. Результат придёт сюда, статус: /task %s", task.ID, task.ID))
}

func (b *Bot) handleRechargeAmount(chatID int64, sess *session.Session, text string) {
	amount, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(text), ",", "."))
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		b.sendText(chatID, "Введите сумму числом, например 500.")
		return
	}
	sess.Params["amount"] = amount
	sess.Mode = session.ModeAwaitingRechargeProof
	b.sessions.Touch(chatID)

	text = fmt.Sprintf("Переведите %s ₽ по реквизитам:\n%s\n\nЗатем пришлите сюда скриншот чека.", amount.StringFixed(2), b.cfg.PaymentDetails)
	b.sendText(chatID, text)
}

func (b *Bot) handleRechargeProof(ctx context.Context, chatID int64, user *models.User, sess *session.Session, fileID string) {
	amount, ok := sess.Params["amount"].(decimal.Decimal)
	if !ok {
		b.sessions.Clear(chatID)
		b.sendText(chatID, "Сессия пополнения сброшена, начните заново: /topup")
		return
	}

	data, contentType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, errUploadNotImage) {
			b.sendText(chatID, "Пришлите скриншот в формате JPEG, PNG или WebP.")
			return
		}
		b.log.Error("download evidence", "err", err)
		b.sendText(chatID, "Не получилось скачать файл, попробуйте ещё раз.")
		return
	}
	evidenceURL, err := b.storage.Upload(ctx, data, contentType)
	if err != nil {
		b.log.Error("upload evidence", "err", err)
		b.sendText(chatID, "Не получилось сохранить скриншот, попробуйте ещё раз.")
		return
	}

	req, err := b.payments.Submit(ctx, user, amount, evidenceURL)
	if err != nil {
		b.log.Error("submit payment request", "user_id", user.ID, "err", err)
		b.sendText(chatID, "Не получилось создать заявку, попробуйте позже.")
		return
	}

	b.sessions.Clear(chatID)
	b.sendText(chatID, fmt.Sprintf("Заявка №%d на %s ₽ отправлена оператору. Баланс пополнится после проверки.", req.ID, amount.StringFixed(2)))
}

func (b *Bot) sendValidationError(chatID int64, err error) {
	var vErr *session.ValidationError
	if errors.As(err, &vErr) {
		b.sendText(chatID, fmt.Sprintf("Параметр «%s»: %s", vErr.Param, vErr.Reason))
		return
	}
	b.sendText(chatID, "Не получилось разобрать ответ, попробуйте ещё раз.")
}

// cleanParams drops skipped values so the provider payload carries only
// what the user actually supplied.
func cleanParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for name, value := range params {
		if value == nil {
			continue
		}
		if urls, ok := value.([]string); ok && len(urls) == 0 {
			continue
		}
		out[name] = value
	}
	return out
}

func formatParams(params map[string]any) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		value := params[name]
		if value == nil {
			continue
		}
		text := fmt.Sprintf("%v", value)
		if len(text) > 120 {
			text = text[:120] + "…"
		}
		lines = append(lines, fmt.Sprintf("• %s: %s", name, text))
	}
	return lines
}
