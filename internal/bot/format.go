package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feed_relay/internal/model"
	"feed_relay/internal/registry"
)

const (
	statusOK    = "ok"
	statusError = "error"
	statusNew   = "not fetched yet"
)

// FormatGroupList formats all groups for display.
func FormatGroupList(groups []model.Group) string {
	if len(groups) == 0 {
		return "There are no groups yet. Create one with relayctl group add."
	}
	var b strings.Builder
	b.WriteString("Groups:\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "\n%s (%s)\n", g.Name, shortID(g.UUID))
		fmt.Fprintf(&b, "   %d account(s), %d webhook(s), modes: %s\n", len(g.Usernames), len(g.Webhooks), modeList(&g))
	}
	return b.String()
}

// FormatGroupInfo formats detailed information about a single group.
// Webhook URLs carry secrets and are never shown.
func FormatGroupInfo(g *model.Group) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", g.Name)
	fmt.Fprintf(&b, "UUID: %s\n", g.UUID)
	fmt.Fprintf(&b, "Created: %s\n", g.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Accounts: %s\n", listOrNone(g.Usernames))
	fmt.Fprintf(&b, "Webhooks: %d\n", len(g.Webhooks))
	fmt.Fprintf(&b, "Modes: %s\n", modeList(g))
	fmt.Fprintf(&b, "Links to: %s\n", g.LinkDestination)
	fmt.Fprintf(&b, "Retweets: %s, replies: %s, media only: %s\n", onOff(g.SendRetweets), onOff(g.SendReplies), onOff(g.OnlySendIfMedia))
	if g.Translate {
		fmt.Fprintf(&b, "Translate: %s → %s\n", g.TranslateFrom, g.TranslateTo)
	}
	if g.WhitelistEnabled {
		fmt.Fprintf(&b, "Whitelist: %s\n", listOrNone(append(append([]string(nil), g.Whitelist...), g.WhitelistRegex...)))
	}
	if g.BlacklistEnabled {
		fmt.Fprintf(&b, "Blacklist: %s\n", listOrNone(append(append([]string(nil), g.Blacklist...), g.BlacklistRegex...)))
	}
	if len(g.Feeds) > 0 {
		b.WriteString("\nFeeds:\n")
		for _, f := range g.Feeds {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}
	return b.String()
}

// FormatFeedList formats the polled feeds with their last fetch state.
func FormatFeedList(feeds []model.Feed) string {
	if len(feeds) == 0 {
		return "No feeds are polled. Feeds are created together with groups."
	}
	var b strings.Builder
	b.WriteString("Feeds:\n")
	for _, f := range feeds {
		status := statusOK
		switch {
		case f.LastError != "":
			status = statusError
		case f.LastUpdatedAt == nil:
			status = statusNew
		}
		title := f.Title
		if title == "" {
			title = f.URL
		}
		fmt.Fprintf(&b, "\n%s [%s]\n   %s\n", title, status, f.URL)
		if f.LastUpdatedAt != nil {
			fmt.Fprintf(&b, "   updated %s\n", f.LastUpdatedAt.UTC().Format("2006-01-02 15:04 UTC"))
		}
		if f.LastError != "" {
			fmt.Fprintf(&b, "   last error: %s\n", f.LastError)
		}
	}
	return b.String()
}

// FormatSettings formats the settings in effect. The DeepL key is masked.
func FormatSettings(s model.AppSettings) string {
	key := "not set"
	if s.DeepLAuthKey != "" {
		key = "set"
	}
	hook := "not set"
	if s.ErrorWebhookURL != "" {
		hook = "set"
	}

	var b strings.Builder
	b.WriteString("Settings:\n")
	for _, name := range registry.SettingNames() {
		var v string
		switch name {
		case registry.SettingNitter:
			v = s.NitterInstance
		case registry.SettingDeepLKey:
			v = key
		case registry.SettingPiped:
			v = s.PipedInstance
		case registry.SettingTeddit:
			v = s.TedditInstance
		case registry.SettingDelay:
			v = strconv.Itoa(s.DelayMinutes)
		case registry.SettingMaxAge:
			v = strconv.Itoa(s.MaxAgeHours)
		case registry.SettingSendErrors:
			v = onOff(s.SendErrors)
		case registry.SettingErrorHookURL:
			v = hook
		}
		fmt.Fprintf(&b, "%s: %s\n", name, v)
	}
	return b.String()
}

func groupKeyboard(groups []model.Group) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(groups) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, g := range groups {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ "+g.Name, callbackData(actionInfo, g.UUID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑", callbackData(actionRemoveConfirm, g.UUID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

func modeList(g *model.Group) string {
	var modes []string
	for _, m := range g.Modes() {
		modes = append(modes, string(m))
	}
	return listOrNone(modes)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
