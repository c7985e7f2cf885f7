package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feed_relay/internal/model"
)

func TestParseRefArg(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    string
		wantErr bool
	}{
		{name: "uuid", args: "7f1c2d3e", want: "7f1c2d3e"},
		{name: "name with spaces", args: "  game news  ", want: "game news"},
		{name: "empty", args: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRefArg(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ref mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSetArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantName  string
		wantValue string
		wantErr   bool
	}{
		{name: "name and value", args: "delay_minutes 5", wantName: "delay_minutes", wantValue: "5"},
		{name: "value with spaces", args: "error_webhook_url  https://x.example/a ", wantName: "error_webhook_url", wantValue: "https://x.example/a"},
		{name: "clear value", args: "deepl_auth_key", wantName: "deepl_auth_key"},
		{name: "empty", args: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, value, err := ParseSetArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff([2]string{tt.wantName, tt.wantValue}, [2]string{name, value}); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data       string
		wantAction string
		wantID     string
		wantOK     bool
	}{
		{data: "remove:abc-123", wantAction: "remove", wantID: "abc-123", wantOK: true},
		{data: "noop:", wantAction: "noop", wantOK: true},
		{data: "garbage"},
		{data: ":id"},
	}
	for _, tt := range tests {
		action, id, ok := ParseCallback(tt.data)
		if action != tt.wantAction || id != tt.wantID || ok != tt.wantOK {
			t.Errorf("ParseCallback(%q) = %q, %q, %v", tt.data, action, id, ok)
		}
	}
}

func TestFormatGroupList(t *testing.T) {
	if got := FormatGroupList(nil); !strings.Contains(got, "no groups yet") {
		t.Errorf("unexpected empty list text %q", got)
	}

	g := model.NewGroup("news")
	g.UUID = "0123456789abcdef"
	g.Usernames = []string{"jane", "bob"}
	g.Webhooks = []string{"https://hooks.example/1"}
	g.SendAsLink = true

	got := FormatGroupList([]model.Group{g})
	for _, want := range []string{"news (01234567)", "2 account(s), 1 webhook(s)", "modes: link, embed"} {
		if !strings.Contains(got, want) {
			t.Errorf("group list missing %q, got:\n%s", want, got)
		}
	}
}

func TestFormatGroupInfo(t *testing.T) {
	g := model.NewGroup("news")
	g.UUID = "0123456789abcdef"
	g.CreatedAt = time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	g.Usernames = []string{"jane"}
	g.Webhooks = []string{"https://discord.com/api/webhooks/1/secret"}
	g.Feeds = []string{"https://nitter.example/jane/with_replies/rss"}
	g.BlacklistEnabled = true
	g.Blacklist = []string{"spam"}
	g.BlacklistRegex = []string{"^ad:"}

	got := FormatGroupInfo(&g)
	for _, want := range []string{
		"UUID: 0123456789abcdef",
		"Created: 2024-06-01 12:30 UTC",
		"Accounts: jane",
		"Webhooks: 1",
		"Blacklist: spam, ^ad:",
		"https://nitter.example/jane/with_replies/rss",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("group info missing %q, got:\n%s", want, got)
		}
	}
	if strings.Contains(got, "secret") {
		t.Errorf("group info must not reveal webhook URLs:\n%s", got)
	}
	if strings.Contains(got, "Whitelist") {
		t.Errorf("disabled whitelist should be hidden:\n%s", got)
	}
}

func TestFormatFeedList(t *testing.T) {
	if got := FormatFeedList(nil); !strings.Contains(got, "No feeds") {
		t.Errorf("unexpected empty list text %q", got)
	}

	updated := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	got := FormatFeedList([]model.Feed{
		{URL: "https://nitter.example/jane/with_replies/rss", Title: "Jane Doe / @jane", LastUpdatedAt: &updated},
		{URL: "https://nitter.example/bob/with_replies/rss", LastError: "unexpected status 503"},
		{URL: "https://nitter.example/new/with_replies/rss"},
	})
	for _, want := range []string{
		"Jane Doe / @jane [ok]",
		"updated 2024-06-01 12:00 UTC",
		"https://nitter.example/bob/with_replies/rss [error]",
		"last error: unexpected status 503",
		"[not fetched yet]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("feed list missing %q, got:\n%s", want, got)
		}
	}
}

func TestFormatSettings(t *testing.T) {
	s := model.DefaultSettings()
	s.DeepLAuthKey = "super-secret:fx"
	s.SendErrors = true

	got := FormatSettings(s)
	for _, want := range []string{
		"nitter_instance: https://nitter.lovinator.space",
		"deepl_auth_key: set",
		"delay_minutes: 10",
		"send_errors: on",
		"error_webhook_url: not set",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("settings missing %q, got:\n%s", want, got)
		}
	}
	if strings.Contains(got, "super-secret") {
		t.Errorf("settings must mask the DeepL key:\n%s", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("hello world", 6); got != "hello…" {
		t.Errorf("truncate() = %q", got)
	}
}
