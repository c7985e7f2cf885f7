// Package bot implements the Telegram admin bot.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feed_relay/internal/config"
	"feed_relay/internal/model"
)

// maxMessageRunes is the Telegram message size limit.
const maxMessageRunes = 4096

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Groups is the part of the group registry the bot uses.
type Groups interface {
	ListGroups(ctx context.Context) ([]model.Group, error)
	Find(ctx context.Context, ref string) (*model.Group, error)
	RemoveGroup(ctx context.Context, id string) error
}

// Feeds lists the stored feeds.
type Feeds interface {
	ListFeeds(ctx context.Context) ([]model.Feed, error)
}

// Settings gives access to the settings in effect.
type Settings interface {
	Settings() model.AppSettings
	Reload(ctx context.Context) error
	Set(ctx context.Context, name, value string) error
}

// Bot answers admin commands and forwards error reports to admins.
type Bot struct {
	api      telegramAPI
	groups   Groups
	feeds    Feeds
	settings Settings
	trigger  func()
	cfg      *config.Config
	log      *slog.Logger
}

// New creates a Bot with the given Telegram token. trigger requests an
// immediate pipeline run.
func New(token string, groups Groups, feeds Feeds, settings Settings, trigger func(), cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:      api,
		groups:   groups,
		feeds:    feeds,
		settings: settings,
		trigger:  trigger,
		cfg:      cfg,
		log:      log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		if update.CallbackQuery.From == nil || !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
			return
		}
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
		b.reply(update.Message.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, update.Message)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, truncate(text, maxMessageRunes))
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// Report sends an error summary to every allowed user. Without an allow
// list there is nobody to report to.
func (b *Bot) Report(_ context.Context, text string) error {
	for _, id := range b.cfg.AllowedUsers {
		b.SendMessage(id, "⚠️ "+text)
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case cmdGroups:
		b.handleGroups(ctx, chatID)
	case cmdInfo:
		b.handleInfo(ctx, chatID, args)
	case "remove":
		b.handleRemoveConfirm(ctx, chatID, args)
	case "feeds":
		b.handleFeeds(ctx, chatID)
	case "settings":
		b.handleSettings(chatID)
	case "set":
		b.handleSet(ctx, chatID, args)
	case "run":
		b.handleRun(chatID)
	case "reload":
		b.handleReload(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
