package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feed_relay/internal/model"
	"feed_relay/internal/storage"
)

const nitter = "https://nitter.example"

func newTestRegistry(t *testing.T) (*Registry, *storage.SQLite) {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	r := New(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("0000000%d-aaaa-bbbb-cccc-dddddddddddd", n)
	}
	r.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r, s
}

func testSettings() model.AppSettings {
	s := model.DefaultSettings()
	s.NitterInstance = nitter
	return s
}

func newGroup(name string, usernames ...string) model.Group {
	g := model.NewGroup(name)
	g.Usernames = usernames
	g.Webhooks = []string{"https://hooks.example/" + name}
	return g
}

func feedURLsIn(t *testing.T, s storage.Storage) []string {
	t.Helper()
	feeds, err := s.ListFeeds(context.Background())
	if err != nil {
		t.Fatalf("list feeds: %v", err)
	}
	var urls []string
	for _, f := range feeds {
		urls = append(urls, f.URL)
	}
	return urls
}

func TestFeedURL(t *testing.T) {
	tests := []struct {
		username string
		want     string
	}{
		{username: "jane", want: "https://nitter.example/jane/with_replies/rss"},
		{username: " @jane ", want: "https://nitter.example/jane/with_replies/rss"},
		{username: "https://example.com/feed.xml", want: "https://example.com/feed.xml"},
	}
	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			if got := FeedURL(nitter+"/", tt.username); got != tt.want {
				t.Errorf("FeedURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddGroup(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t)

	id, err := r.AddGroup(ctx, newGroup("news", "jane", "bob", "jane"), testSettings())
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	g, err := r.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wantFeeds := []string{
		"https://nitter.example/jane/with_replies/rss",
		"https://nitter.example/bob/with_replies/rss",
	}
	if diff := cmp.Diff(wantFeeds, g.Feeds); diff != "" {
		t.Errorf("group feeds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"jane", "bob"}, g.Usernames); diff != "" {
		t.Errorf("usernames mismatch (-want +got):\n%s", diff)
	}
	if !g.CreatedAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", g.CreatedAt)
	}

	for _, u := range wantFeeds {
		ids, err := r.GroupsForFeed(ctx, u)
		if err != nil {
			t.Fatalf("groups for feed: %v", err)
		}
		if diff := cmp.Diff([]string{id}, ids); diff != "" {
			t.Errorf("membership of %s mismatch (-want +got):\n%s", u, diff)
		}
	}

	feeds, err := r.FeedsForGroup(ctx, id)
	if err != nil {
		t.Fatalf("feeds for group: %v", err)
	}
	if diff := cmp.Diff(wantFeeds, feeds); diff != "" {
		t.Errorf("FeedsForGroup mismatch (-want +got):\n%s", diff)
	}
	if len(feedURLsIn(t, s)) != 2 {
		t.Errorf("expected 2 stored feeds")
	}
}

func TestAddGroupDuplicateName(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t)

	if _, err := r.AddGroup(ctx, newGroup("news", "jane"), testSettings()); err != nil {
		t.Fatalf("first add: %v", err)
	}
	_, err := r.AddGroup(ctx, newGroup("news", "bob"), testSettings())
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}

	if diff := cmp.Diff([]string{"https://nitter.example/jane/with_replies/rss"}, feedURLsIn(t, s)); diff != "" {
		t.Errorf("second add must not create feeds (-want +got):\n%s", diff)
	}
	groups, err := r.ListGroups(ctx)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != 1 {
		t.Errorf("expected 1 group, got %d", len(groups))
	}
}

func TestAddGroupValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(g *model.Group)
		wantErr error
	}{
		{name: "empty name", modify: func(g *model.Group) { g.Name = "  " }, wantErr: ErrInvalidName},
		{name: "separator in name", modify: func(g *model.Group) { g.Name = "a;b" }, wantErr: ErrInvalidName},
		{name: "no webhooks", modify: func(g *model.Group) { g.Webhooks = []string{" "} }, wantErr: ErrNoWebhooks},
		{name: "bad whitelist regex", modify: func(g *model.Group) { g.WhitelistRegex = []string{"(x"} }, wantErr: ErrInvalidPattern},
		{name: "bad blacklist regex", modify: func(g *model.Group) { g.BlacklistRegex = []string{"[x"} }, wantErr: ErrInvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, s := newTestRegistry(t)
			g := newGroup("news", "jane")
			tt.modify(&g)

			_, err := r.AddGroup(context.Background(), g, testSettings())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if urls := feedURLsIn(t, s); len(urls) != 0 {
				t.Errorf("expected no feeds written, got %v", urls)
			}
		})
	}
}

func TestRemoveGroup(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t)

	solo, err := r.AddGroup(ctx, newGroup("solo", "jane", "shared"), testSettings())
	if err != nil {
		t.Fatalf("add solo: %v", err)
	}
	other, err := r.AddGroup(ctx, newGroup("other", "shared"), testSettings())
	if err != nil {
		t.Fatalf("add other: %v", err)
	}

	if err := r.RemoveGroup(ctx, solo); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if diff := cmp.Diff([]string{"https://nitter.example/shared/with_replies/rss"}, feedURLsIn(t, s)); diff != "" {
		t.Errorf("feeds after remove mismatch (-want +got):\n%s", diff)
	}
	ids, err := r.GroupsForFeed(ctx, "https://nitter.example/shared/with_replies/rss")
	if err != nil {
		t.Fatalf("groups for feed: %v", err)
	}
	if diff := cmp.Diff([]string{other}, ids); diff != "" {
		t.Errorf("shared feed membership mismatch (-want +got):\n%s", diff)
	}
	if _, err := r.Resolve(ctx, solo); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected removed group to be gone, got %v", err)
	}

	if err := r.RemoveGroup(ctx, solo); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("remove twice: expected ErrGroupNotFound, got %v", err)
	}
}

func TestModifyGroup(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t)

	id, err := r.AddGroup(ctx, newGroup("news", "jane", "bob"), testSettings())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := r.AddGroup(ctx, newGroup("taken", "carl"), testSettings()); err != nil {
		t.Fatalf("add taken: %v", err)
	}

	g, err := r.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	g.Usernames = []string{"jane", "dave"}
	g.SendAsText = true
	if err := r.ModifyGroup(ctx, *g, testSettings()); err != nil {
		t.Fatalf("modify: %v", err)
	}

	got, err := r.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !got.SendAsText || !got.CreatedAt.Equal(g.CreatedAt) {
		t.Errorf("unexpected modified group: %+v", got)
	}
	wantFeeds := []string{
		"https://nitter.example/carl/with_replies/rss",
		"https://nitter.example/dave/with_replies/rss",
		"https://nitter.example/jane/with_replies/rss",
	}
	if diff := cmp.Diff(wantFeeds, feedURLsIn(t, s)); diff != "" {
		t.Errorf("feeds after modify mismatch (-want +got):\n%s", diff)
	}

	got.Name = "taken"
	if err := r.ModifyGroup(ctx, *got, testSettings()); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("rename onto existing name: expected ErrDuplicateName, got %v", err)
	}

	missing := newGroup("ghost", "x")
	missing.UUID = "nope"
	if err := r.ModifyGroup(ctx, missing, testSettings()); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("modify unknown: expected ErrGroupNotFound, got %v", err)
	}
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	first, err := r.AddGroup(ctx, newGroup("news", "jane"), testSettings())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := r.AddGroup(ctx, newGroup("memes", "bob"), testSettings()); err != nil {
		t.Fatalf("add: %v", err)
	}

	tests := []struct {
		ref     string
		want    string
		wantErr error
	}{
		{ref: first, want: "news"},
		{ref: "memes", want: "memes"},
		{ref: "00000001", want: "news"},
		{ref: "0000000", wantErr: ErrAmbiguousRef},
		{ref: "unknown", wantErr: ErrGroupNotFound},
		{ref: "", wantErr: ErrGroupNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			g, err := r.Find(ctx, tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if g.Name != tt.want {
				t.Errorf("Find(%q) = %q, want %q", tt.ref, g.Name, tt.want)
			}
		})
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t)

	got, err := r.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(model.DefaultSettings(), got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if v, err := s.GetSetting(ctx, "max_age_hours"); err != nil || v != "24" {
		t.Errorf("expected default written lazily, got %q, %v", v, err)
	}

	want := got
	want.MaxAgeHours = 48
	want.SendErrors = true
	want.ErrorWebhookURL = "https://hooks.example/errors"
	want.PipedInstance = "https://piped.example/"
	if err := r.SaveSettings(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = r.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	want.PipedInstance = "https://piped.example"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("saved settings mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveSettingsMovesNitterFeeds(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t)

	if err := r.SaveSettings(ctx, testSettings()); err != nil {
		t.Fatalf("save: %v", err)
	}
	g := newGroup("news", "jane", "https://example.com/feed.xml")
	id, err := r.AddGroup(ctx, g, testSettings())
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	moved := testSettings()
	moved.NitterInstance = "https://nitter.other"
	if err := r.SaveSettings(ctx, moved); err != nil {
		t.Fatalf("save moved: %v", err)
	}

	wantFeeds := []string{
		"https://example.com/feed.xml",
		"https://nitter.other/jane/with_replies/rss",
	}
	if diff := cmp.Diff(wantFeeds, feedURLsIn(t, s)); diff != "" {
		t.Errorf("stored feeds mismatch (-want +got):\n%s", diff)
	}
	got, err := r.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if diff := cmp.Diff([]string{"https://nitter.other/jane/with_replies/rss", "https://example.com/feed.xml"}, got.Feeds); diff != "" {
		t.Errorf("group feeds mismatch (-want +got):\n%s", diff)
	}
	ids, err := r.GroupsForFeed(ctx, "https://nitter.other/jane/with_replies/rss")
	if err != nil {
		t.Fatalf("groups for feed: %v", err)
	}
	if diff := cmp.Diff([]string{id}, ids); diff != "" {
		t.Errorf("membership mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSetting(t *testing.T) {
	tests := []struct {
		name, value string
		wantErr     bool
	}{
		{name: "max_age_hours", value: "12"},
		{name: "max_age_hours", value: "-1", wantErr: true},
		{name: "send_errors", value: "true"},
		{name: "send_errors", value: "sure", wantErr: true},
		{name: "nitter_instance", value: "https://n.example"},
		{name: "bogus", value: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name+"="+tt.value, func(t *testing.T) {
			s := model.DefaultSettings()
			err := ParseSetting(&s, tt.name, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSetting() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingValue(t *testing.T) {
	s := model.DefaultSettings()
	s.SendErrors = true
	s.MaxAgeHours = 6
	got := map[string]string{}
	for _, name := range SettingNames() {
		got[name] = SettingValue(s, name)
	}
	if got[SettingSendErrors] != "true" || got[SettingMaxAge] != "6" || got[SettingNitter] != s.NitterInstance {
		t.Errorf("unexpected setting values: %v", got)
	}
	if v := SettingValue(s, "bogus"); v != "" {
		t.Errorf("unknown setting value = %q, want empty", v)
	}
}

func TestLive(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t)

	live, err := r.Live(ctx)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if got := live.Settings().DelayMinutes; got != 10 {
		t.Errorf("DelayMinutes = %d, want 10", got)
	}

	if err := live.Set(ctx, "delay_minutes", "5"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := live.Settings().DelayMinutes; got != 5 {
		t.Errorf("DelayMinutes after set = %d, want 5", got)
	}
	if err := live.Set(ctx, "delay_minutes", "soon"); err == nil {
		t.Error("expected error for invalid value")
	}
	if got := live.Settings().DelayMinutes; got != 5 {
		t.Errorf("invalid set must not change settings, got %d", got)
	}

	if err := s.SetSetting(ctx, "max_age_hours", "99"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	if got := live.Settings().MaxAgeHours; got != 24 {
		t.Errorf("settings must not change before reload, got %d", got)
	}
	if err := live.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := live.Settings().MaxAgeHours; got != 99 {
		t.Errorf("MaxAgeHours after reload = %d, want 99", got)
	}
}
