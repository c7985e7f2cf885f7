package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feed_relay/internal/registry"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Feed Relay!

This bot administers the relay that forwards feed entries to Discord webhooks.

Quick start:
1. /groups — list delivery groups
2. /feeds — show polled feeds and their errors
3. /run — run the pipeline now

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Groups:
/groups — list groups
/info <name|uuid> — group details
/remove <name|uuid> — delete a group (asks for confirmation)

Feeds:
/feeds — show polled feeds

Settings:
/settings — show settings
/set <name> <value> — change a setting
/reload — reload settings from the database

Pipeline:
/run — fetch and deliver now

Groups are created with relayctl.`)
}

func (b *Bot) handleGroups(ctx context.Context, chatID int64) {
	groups, err := b.groups.ListGroups(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatGroupList(groups))
	msg.DisableWebPagePreview = true
	if kb, ok := groupKeyboard(groups); ok {
		msg.ReplyMarkup = kb
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send group list", "error", err)
	}
}

func (b *Bot) handleInfo(ctx context.Context, chatID int64, args string) {
	ref, err := ParseRefArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /info <name|uuid>")
		return
	}

	g, err := b.groups.Find(ctx, ref)
	if err != nil {
		b.reply(chatID, lookupError(ref, err))
		return
	}
	b.reply(chatID, FormatGroupInfo(g))
}

func (b *Bot) handleRemoveConfirm(ctx context.Context, chatID int64, args string) {
	ref, err := ParseRefArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /remove <name|uuid>")
		return
	}

	g, err := b.groups.Find(ctx, ref)
	if err != nil {
		b.reply(chatID, lookupError(ref, err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete group %q with %d feed(s)? This cannot be undone.", g.Name, len(g.Feeds)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, delete", callbackData(actionRemove, g.UUID)),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", callbackData(actionNoop, "")),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send delete confirmation", "error", err)
	}
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, id string) {
	g, err := b.groups.Find(ctx, id)
	if err != nil {
		b.reply(chatID, lookupError(id, err))
		return
	}
	if err := b.groups.RemoveGroup(ctx, g.UUID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting group: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Group %q deleted.", g.Name))
}

func (b *Bot) handleFeeds(ctx context.Context, chatID int64) {
	feeds, err := b.feeds.ListFeeds(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatFeedList(feeds))
}

func (b *Bot) handleSettings(chatID int64) {
	b.reply(chatID, FormatSettings(b.settings.Settings()))
}

func (b *Bot) handleSet(ctx context.Context, chatID int64, args string) {
	name, value, err := ParseSetArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if err := b.settings.Set(ctx, name, value); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Setting %s updated.", name))
}

func (b *Bot) handleRun(chatID int64) {
	b.trigger()
	b.reply(chatID, "Pipeline run requested.")
}

func (b *Bot) handleReload(ctx context.Context, chatID int64) {
	if err := b.settings.Reload(ctx); err != nil {
		b.reply(chatID, fmt.Sprintf("Error reloading settings: %v", err))
		return
	}
	b.reply(chatID, "Settings reloaded.")
}

func lookupError(ref string, err error) string {
	switch {
	case errors.Is(err, registry.ErrGroupNotFound):
		return fmt.Sprintf("Group %q not found.", ref)
	case errors.Is(err, registry.ErrAmbiguousRef):
		return fmt.Sprintf("%q matches more than one group, use the full uuid.", ref)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
