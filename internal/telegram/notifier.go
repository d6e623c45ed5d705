package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier implements service.Notifier on top of the bot API. Task and
// payment services push outcomes through it instead of holding the API.
type Notifier struct {
	api         *tgbotapi.BotAPI
	log         *slog.Logger
	operatorIDs []int64
}

func NewNotifier(api *tgbotapi.BotAPI, log *slog.Logger, operatorIDs []int64) *Notifier {
	return &Notifier{api: api, log: log, operatorIDs: operatorIDs}
}

func (n *Notifier) SendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		n.log.Error("send text", "chat_id", chatID, "err", err)
	}
}

func (n *Notifier) SendMedia(ctx context.Context, chatID int64, url string, video bool, caption string) error {
	var cfg tgbotapi.Chattable
	if video {
		v := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(url))
		v.Caption = caption
		cfg = v
	} else {
		p := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
		p.Caption = caption
		cfg = p
	}
	if _, err := n.api.Send(cfg); err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	return nil
}

func (n *Notifier) SendDocument(ctx context.Context, chatID int64, url string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileURL(url))
	if _, err := n.api.Send(doc); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

// NotifyOperators fans the alert out to every configured operator chat.
// A non-zero requestID attaches resolution buttons for that payment
// request.
func (n *Notifier) NotifyOperators(text string, requestID int64) {
	var markup *tgbotapi.InlineKeyboardMarkup
	if requestID != 0 {
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", fmt.Sprintf("approve:%d", requestID)),
				tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", fmt.Sprintf("reject:%d", requestID)),
			),
		)
		markup = &kb
	}
	for _, operatorID := range n.operatorIDs {
		msg := tgbotapi.NewMessage(operatorID, text)
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		if _, err := n.api.Send(msg); err != nil {
			n.log.Error("notify operator", "operator_id", operatorID, "err", err)
		}
	}
}
