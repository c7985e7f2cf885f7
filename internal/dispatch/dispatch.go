// Package dispatch routes unread feed entries to the groups consuming them
// and delivers the transformed text to each group's webhooks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"feed_relay/internal/filter"
	"feed_relay/internal/model"
	"feed_relay/internal/registry"
	"feed_relay/internal/storage"
	"feed_relay/internal/transform"
	"feed_relay/internal/webhook"
)

// FeedUpdater refreshes the stored feeds.
type FeedUpdater interface {
	UpdateFeeds(ctx context.Context, workers int) error
}

// Groups maps feeds to groups.
type Groups interface {
	GroupsForFeed(ctx context.Context, feedURL string) ([]string, error)
	Resolve(ctx context.Context, id string) (*model.Group, error)
}

// Transformer produces the outbound text of an entry for a group.
type Transformer interface {
	Text(ctx context.Context, entry *model.Entry, g *model.Group, s model.AppSettings) string
}

// Deliverer posts messages to webhooks.
type Deliverer interface {
	webhook.Poster
	SendAll(ctx context.Context, urls []string, msg webhook.Message) []webhook.Result
}

// ErrorReporter receives delivery failure summaries when error reporting is
// enabled.
type ErrorReporter interface {
	Report(ctx context.Context, text string) error
}

// Dispatcher runs the fetch, filter, transform and deliver pipeline.
type Dispatcher struct {
	store     storage.Storage
	updater   FeedUpdater
	groups    Groups
	text      Transformer
	sender    Deliverer
	logger    *slog.Logger
	metrics   *Metrics
	reporters []ErrorReporter
	workers   int
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of concurrent feed refreshes.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithReporter adds an error reporter used besides the error webhook.
func WithReporter(r ErrorReporter) Option {
	return func(d *Dispatcher) { d.reporters = append(d.reporters, r) }
}

// New creates a Dispatcher.
func New(store storage.Storage, updater FeedUpdater, groups Groups, text Transformer, sender Deliverer, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		updater: updater,
		groups:  groups,
		text:    text,
		sender:  sender,
		logger:  logger,
		workers: 4,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes one pipeline pass with the given settings. Only failing to
// list unread entries is returned as an error; every other failure is
// logged and the pass continues.
func (d *Dispatcher) Run(ctx context.Context, settings model.AppSettings) error {
	start := d.now()
	defer func() {
		if d.metrics != nil {
			d.metrics.RunDuration.Observe(d.now().Sub(start).Seconds())
		}
	}()

	if err := d.updater.UpdateFeeds(ctx, d.workers); err != nil {
		d.logger.Error("update feeds", "error", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	entries, err := d.store.ListEntries(ctx, false)
	if err != nil {
		return fmt.Errorf("list unread entries: %w", err)
	}
	if len(entries) == 0 {
		d.logger.Debug("no unread entries")
		return nil
	}

	feeds := make(map[string]*model.Feed)
	for i := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.processEntry(ctx, &entries[i], settings, feeds)
	}
	return nil
}

func (d *Dispatcher) processEntry(ctx context.Context, e *model.Entry, s model.AppSettings, feeds map[string]*model.Feed) {
	log := d.logger.With("feed_url", e.FeedURL, "entry_id", e.ID)

	if e.Malformed() {
		log.Warn("skipping malformed entry", "title", e.Title, "published", e.Published)
		d.countEntry(outcomeMalformed)
		return
	}

	if filter.IsTooOld(e, s.MaxAgeHours, d.now()) {
		log.Info("entry too old", "published", e.Published, "max_age_hours", s.MaxAgeHours)
		d.markRead(ctx, log, e)
		d.countEntry(outcomeTooOld)
		return
	}

	ids, err := d.groups.GroupsForFeed(ctx, e.FeedURL)
	if err != nil {
		log.Error("look up groups", "error", err)
		d.countEntry(outcomeFailed)
		return
	}
	if len(ids) == 0 {
		log.Warn("feed has no groups")
	}

	feed := d.feed(ctx, e.FeedURL, feeds)
	delivered := false
	for _, id := range ids {
		g, err := d.groups.Resolve(ctx, id)
		if err != nil {
			if errors.Is(err, registry.ErrGroupNotFound) {
				log.Error("group not found", "group_uuid", id)
			} else {
				log.Error("resolve group", "group_uuid", id, "error", err)
			}
			continue
		}

		if v := filter.Evaluate(g, e, s.MaxAgeHours, d.now()); v != filter.Admitted {
			log.Info("entry rejected", "group", g.Name, "reason", string(v))
			continue
		}

		d.deliver(ctx, log, e, g, feed, s)
		delivered = true
	}

	d.markRead(ctx, log, e)
	switch {
	case delivered:
		d.countEntry(outcomeDelivered)
	case len(ids) == 0:
		d.countEntry(outcomeNoGroups)
	default:
		d.countEntry(outcomeRejected)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, log *slog.Logger, e *model.Entry, g *model.Group, feed *model.Feed, s model.AppSettings) {
	modes := g.Modes()
	if len(modes) == 0 {
		log.Warn("group has no delivery mode enabled", "group", g.Name)
		return
	}

	link := transform.RewriteEntryLink(e.Link, g, s)
	var text string
	for _, mode := range modes {
		var msg webhook.Message
		switch mode {
		case model.ModeLink:
			msg = LinkMessage(link)
		case model.ModeText, model.ModeEmbed:
			if text == "" {
				text = d.text.Text(ctx, e, g, s)
			}
			if mode == model.ModeText {
				msg = TextMessage(e, g, link, text)
			} else {
				msg = EmbedMessage(e, g, feed, link, text)
			}
		}

		var failures []string
		for _, res := range d.sender.SendAll(ctx, g.Webhooks, msg) {
			if res.OK() {
				log.Info("webhook posted", "group", g.Name, "mode", string(mode), "link", link)
				d.countDelivery(mode, "ok")
				continue
			}
			log.Error("webhook failed", "group", g.Name, "mode", string(mode), "status", res.StatusCode, "body", res.Body, "error", res.Err)
			d.countDelivery(mode, "error")
			failures = append(failures, res.String())
		}
		if len(failures) > 0 && s.SendErrors {
			d.report(ctx, log, s, fmt.Sprintf("Failed to send %s for group %s (%s):\n%s", mode, g.Name, link, strings.Join(failures, "\n")))
		}
	}
}

func (d *Dispatcher) report(ctx context.Context, log *slog.Logger, s model.AppSettings, text string) {
	reporters := d.reporters
	if s.ErrorWebhookURL != "" {
		reporters = append([]ErrorReporter{webhook.NewReporter(d.sender, s.ErrorWebhookURL)}, reporters...)
	}
	for _, r := range reporters {
		if err := r.Report(ctx, text); err != nil {
			log.Error("report delivery failure", "error", err)
		}
	}
}

// feed loads feed metadata once per run for embed authors.
func (d *Dispatcher) feed(ctx context.Context, url string, cache map[string]*model.Feed) *model.Feed {
	if f, ok := cache[url]; ok {
		return f
	}
	f, err := d.store.GetFeed(ctx, url)
	if err != nil {
		d.logger.Warn("load feed metadata", "feed_url", url, "error", err)
		f = nil
	}
	cache[url] = f
	return f
}

func (d *Dispatcher) markRead(ctx context.Context, log *slog.Logger, e *model.Entry) {
	if err := d.store.MarkEntryRead(ctx, e.FeedURL, e.ID); err != nil {
		log.Error("mark entry read", "error", err)
	}
}

func (d *Dispatcher) countEntry(outcome string) {
	if d.metrics != nil {
		d.metrics.Entries.WithLabelValues(outcome).Inc()
	}
}

func (d *Dispatcher) countDelivery(mode model.Mode, result string) {
	if d.metrics != nil {
		d.metrics.Deliveries.WithLabelValues(string(mode), result).Inc()
	}
}
