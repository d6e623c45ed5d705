package service

import "context"

// Notifier delivers outcomes back through the chat platform. Implemented
// by the telegram bot; services never talk to the bot API directly.
type Notifier interface {
	// SendText posts a plain status message; failures are logged by the
	// implementation, not surfaced.
	SendText(chatID int64, text string)
	// SendMedia delivers one result artifact in its primary form (photo
	// or video by URL).
	SendMedia(ctx context.Context, chatID int64, url string, video bool, caption string) error
	// SendDocument is the alternate delivery form used when SendMedia
	// fails: the raw file as a document.
	SendDocument(ctx context.Context, chatID int64, url string) error
	// NotifyOperators alerts every privileged operator. A non-zero
	// requestID attaches approve/reject actions for that payment request.
	NotifyOperators(text string, requestID int64)
}
