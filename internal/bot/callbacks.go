package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdGroups = "groups"
	cmdInfo   = "info"

	actionInfo          = "info"
	actionRemoveConfirm = "remove_confirm"
	actionRemove        = "remove"
	actionNoop          = "noop"
)

func callbackData(action, id string) string {
	return action + ":" + id
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, id, ok := ParseCallback(cb.Data)
	if !ok {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case actionInfo:
		b.handleInfo(ctx, chatID, id)
	case actionRemoveConfirm:
		b.handleRemoveConfirm(ctx, chatID, id)
	case actionRemove:
		b.handleRemove(ctx, chatID, id)
	}
}
