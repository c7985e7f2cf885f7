package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"feed_relay/internal/model"
	"feed_relay/internal/registry"
	"feed_relay/internal/storage"
	"feed_relay/internal/transform"
	"feed_relay/internal/webhook"
)

const (
	nitter  = "https://nitter.example"
	janeURL = "https://nitter.example/jane/with_replies/rss"
)

var testNow = time.Date(2024, 6, 11, 12, 0, 0, 0, time.UTC)

type delivery struct {
	URL string
	Msg webhook.Message
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []delivery
	fails map[string]int
}

func (f *fakeSender) Send(_ context.Context, url string, msg webhook.Message) webhook.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{URL: url, Msg: msg})
	if code, ok := f.fails[url]; ok {
		return webhook.Result{URL: url, StatusCode: code, Body: `{"message": "boom"}`}
	}
	return webhook.Result{URL: url, StatusCode: 204}
}

func (f *fakeSender) SendAll(ctx context.Context, urls []string, msg webhook.Message) []webhook.Result {
	var out []webhook.Result
	for _, u := range urls {
		out = append(out, f.Send(ctx, u, msg))
	}
	return out
}

func (f *fakeSender) urls() []string {
	var out []string
	for _, d := range f.sent {
		out = append(out, d.URL)
	}
	return out
}

type noopUpdater struct{ err error }

func (u noopUpdater) UpdateFeeds(context.Context, int) error { return u.err }

// countingStore counts MarkEntryRead calls per entry.
type countingStore struct {
	storage.Storage
	marks map[string]int
}

func (c *countingStore) MarkEntryRead(ctx context.Context, feedURL, id string) error {
	c.marks[id]++
	return c.Storage.MarkEntryRead(ctx, feedURL, id)
}

type fakeReporter struct{ reports []string }

func (r *fakeReporter) Report(_ context.Context, text string) error {
	r.reports = append(r.reports, text)
	return nil
}

type env struct {
	store    *countingStore
	registry *registry.Registry
	sender   *fakeSender
	metrics  *Metrics
	reporter *fakeReporter
	settings model.AppSettings
	d        *Dispatcher
}

func newEnv(t *testing.T, updater FeedUpdater) *env {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &env{
		store:    &countingStore{Storage: s, marks: map[string]int{}},
		registry: registry.New(s, logger),
		sender:   &fakeSender{fails: map[string]int{}},
		metrics:  NewMetrics(prometheus.NewRegistry()),
		reporter: &fakeReporter{},
		settings: model.DefaultSettings(),
	}
	e.settings.NitterInstance = nitter
	e.settings.MaxAgeHours = 48

	e.d = New(e.store, updater, e.registry, transform.NewEngine(nil, logger), e.sender, logger,
		WithMetrics(e.metrics), WithReporter(e.reporter), WithWorkers(2))
	e.d.now = func() time.Time { return testNow }
	return e
}

func (e *env) addGroup(t *testing.T, g model.Group) string {
	t.Helper()
	id, err := e.registry.AddGroup(context.Background(), g, e.settings)
	if err != nil {
		t.Fatalf("add group: %v", err)
	}
	return id
}

func (e *env) saveEntries(t *testing.T, entries ...model.Entry) {
	t.Helper()
	if _, err := e.store.SaveEntries(context.Background(), entries); err != nil {
		t.Fatalf("save entries: %v", err)
	}
}

func (e *env) unreadIDs(t *testing.T) []string {
	t.Helper()
	entries, err := e.store.ListEntries(context.Background(), false)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	var ids []string
	for _, en := range entries {
		ids = append(ids, en.ID)
	}
	return ids
}

func textGroup(name string) model.Group {
	g := model.NewGroup(name)
	g.Usernames = []string{"jane"}
	g.Webhooks = []string{"https://hooks.example/" + name}
	g.SendAsEmbed = false
	g.SendAsText = true
	return g
}

func entry(id, title string, age time.Duration) model.Entry {
	published := testNow.Add(-age)
	return model.Entry{
		FeedURL:   janeURL,
		ID:        id,
		Title:     title,
		Summary:   "<p>" + title + "</p>",
		Link:      "https://nitter.example/jane/status/" + id + "#m",
		Author:    "@jane",
		Published: &published,
		FetchedAt: testNow,
	}
}

func TestSharedFeedAdmitAndReject(t *testing.T) {
	e := newEnv(t, noopUpdater{})
	e.addGroup(t, textGroup("admits"))
	rejecting := textGroup("rejects")
	rejecting.BlacklistEnabled = true
	rejecting.Blacklist = []string{"plans"}
	e.addGroup(t, rejecting)

	e.saveEntries(t, entry("1", "Secret plans", time.Hour))

	if err := e.d.Run(context.Background(), e.settings); err != nil {
		t.Fatalf("run: %v", err)
	}

	if diff := cmp.Diff([]string{"https://hooks.example/admits"}, e.sender.urls()); diff != "" {
		t.Errorf("delivered webhooks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"1": 1}, e.store.marks); diff != "" {
		t.Errorf("mark read calls mismatch (-want +got):\n%s", diff)
	}
	if ids := e.unreadIDs(t); len(ids) != 0 {
		t.Errorf("expected no unread entries, got %v", ids)
	}
	if got := testutil.ToFloat64(e.metrics.Entries.WithLabelValues(outcomeDelivered)); got != 1 {
		t.Errorf("delivered entries = %v, want 1", got)
	}
}

func TestOldRetweetDelivered(t *testing.T) {
	e := newEnv(t, noopUpdater{})
	e.addGroup(t, textGroup("news"))

	rt := entry("999", "RT by @jane: Big news from the team", 10*24*time.Hour)
	rt.Summary = "<p>Big news from the team</p>"
	rt.Author = "@team"
	rt.Link = "https://nitter.example/team/status/999#m"
	e.saveEntries(t, rt)

	if err := e.d.Run(context.Background(), e.settings); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []delivery{{
		URL: "https://hooks.example/news",
		Msg: webhook.Message{Content: "[@team](<https://twitter.com/team/status/999>) retweeted:\nBig news from the team"},
	}}
	if diff := cmp.Diff(want, e.sender.sent); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
	if ids := e.unreadIDs(t); len(ids) != 0 {
		t.Errorf("expected entry marked read, got unread %v", ids)
	}
}

func TestMalformedAndTooOld(t *testing.T) {
	e := newEnv(t, noopUpdater{})
	e.addGroup(t, textGroup("news"))

	old := entry("old", "Ancient post", 72*time.Hour)
	untitled := entry("untitled", "", time.Hour)
	undated := entry("undated", "No date", 0)
	undated.Published = nil
	e.saveEntries(t, old, untitled, undated)

	if err := e.d.Run(context.Background(), e.settings); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(e.sender.sent) != 0 {
		t.Errorf("expected no deliveries, got %d", len(e.sender.sent))
	}
	if diff := cmp.Diff([]string{"undated", "untitled"}, sortedIDs(e.unreadIDs(t))); diff != "" {
		t.Errorf("unread entries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"old": 1}, e.store.marks); diff != "" {
		t.Errorf("mark read calls mismatch (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(e.metrics.Entries.WithLabelValues(outcomeMalformed)); got != 2 {
		t.Errorf("malformed entries = %v, want 2", got)
	}
}

func sortedIDs(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

type staleGroups struct {
	*registry.Registry
	extra string
}

func (s staleGroups) GroupsForFeed(ctx context.Context, feedURL string) ([]string, error) {
	ids, err := s.Registry.GroupsForFeed(ctx, feedURL)
	return append([]string{s.extra}, ids...), err
}

func TestUnknownGroupSkipped(t *testing.T) {
	e := newEnv(t, noopUpdater{})
	e.addGroup(t, textGroup("news"))
	e.d.groups = staleGroups{Registry: e.registry, extra: "deleted-group"}

	e.saveEntries(t, entry("1", "Hello", time.Hour))
	if err := e.d.Run(context.Background(), e.settings); err != nil {
		t.Fatalf("run: %v", err)
	}

	if diff := cmp.Diff([]string{"https://hooks.example/news"}, e.sender.urls()); diff != "" {
		t.Errorf("delivered webhooks mismatch (-want +got):\n%s", diff)
	}
	if e.store.marks["1"] != 1 {
		t.Errorf("expected entry marked read once, got %d", e.store.marks["1"])
	}
}

func TestDeliveryFailureStillMarksRead(t *testing.T) {
	e := newEnv(t, noopUpdater{err: errors.New("network down")})
	g := textGroup("news")
	g.Webhooks = []string{"https://hooks.example/broken", "https://hooks.example/ok"}
	e.addGroup(t, g)
	e.sender.fails["https://hooks.example/broken"] = 404

	e.settings.SendErrors = true
	e.settings.ErrorWebhookURL = "https://hooks.example/errors"
	e.saveEntries(t, entry("1", "Hello", time.Hour))

	if err := e.d.Run(context.Background(), e.settings); err != nil {
		t.Fatalf("run: %v", err)
	}

	wantURLs := []string{"https://hooks.example/broken", "https://hooks.example/ok", "https://hooks.example/errors"}
	if diff := cmp.Diff(wantURLs, e.sender.urls()); diff != "" {
		t.Errorf("posted webhooks mismatch (-want +got):\n%s", diff)
	}
	if ids := e.unreadIDs(t); len(ids) != 0 {
		t.Errorf("expected entry marked read despite failure, got %v", ids)
	}
	if len(e.reporter.reports) != 1 || !strings.Contains(e.reporter.reports[0], "status 404") {
		t.Errorf("unexpected reports %q", e.reporter.reports)
	}
	if got := testutil.ToFloat64(e.metrics.Deliveries.WithLabelValues("text", "error")); got != 1 {
		t.Errorf("failed deliveries = %v, want 1", got)
	}
}

func TestAllModes(t *testing.T) {
	e := newEnv(t, noopUpdater{})
	g := textGroup("news")
	g.SendAsLink = true
	g.SendAsEmbed = true
	e.addGroup(t, g)

	en := entry("1001", "Shipping", time.Hour)
	en.Summary = `<p>Shipping <b>v1.2</b></p><img src="https://nitter.example/pic/a.jpg">`
	e.saveEntries(t, en)

	if err := e.d.Run(context.Background(), e.settings); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(e.sender.sent) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(e.sender.sent))
	}

	link := "https://twitter.com/jane/status/1001"
	if got := e.sender.sent[0].Msg.Content; got != link {
		t.Errorf("link message = %q, want %q", got, link)
	}
	if got := e.sender.sent[1].Msg.Content; got != "[@jane](<"+link+">) tweeted:\nShipping **v1.2**" {
		t.Errorf("text message = %q", got)
	}
	embeds := e.sender.sent[2].Msg.Embeds
	if len(embeds) != 1 || embeds[0].Image == nil || embeds[0].Image.URL != "https://nitter.example/pic/a.jpg" {
		t.Errorf("unexpected embeds %+v", embeds)
	}
}

func TestNoUnreadEntries(t *testing.T) {
	e := newEnv(t, noopUpdater{})
	if err := e.d.Run(context.Background(), e.settings); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(e.sender.sent) != 0 {
		t.Errorf("expected no deliveries")
	}
}
