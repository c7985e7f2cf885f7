package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"feed_relay/internal/model"
	"feed_relay/internal/storage"
)

// FeedFetcher downloads and parses one feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// Updater refreshes every stored feed and stores new entries.
type Updater struct {
	store   storage.Storage
	fetcher FeedFetcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewUpdater creates an Updater.
func NewUpdater(store storage.Storage, fetcher FeedFetcher, logger *slog.Logger) *Updater {
	return &Updater{
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// UpdateFeeds refreshes all feeds with at most workers concurrent fetches.
// A failing feed records its error and does not stop the others.
func (u *Updater) UpdateFeeds(ctx context.Context, workers int) error {
	feeds, err := u.store.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, feed := range feeds {
		g.Go(func() error {
			u.updateFeed(ctx, feed)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (u *Updater) updateFeed(ctx context.Context, feed model.Feed) {
	parsed, err := u.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		u.logger.Warn("failed to fetch feed", "feed_url", feed.URL, "error", err)
		feed.LastError = err.Error()
		if err := u.store.UpdateFeed(ctx, &feed); err != nil && !errors.Is(err, storage.ErrNotFound) {
			u.logger.Error("failed to record feed error", "feed_url", feed.URL, "error", err)
		}
		return
	}

	now := u.now().UTC()
	entries := Normalize(feed.URL, parsed, now)
	// The first fetch of a feed is its backlog; store it as already read.
	backlog := feed.LastUpdatedAt == nil
	if backlog {
		for i := range entries {
			entries[i].Read = true
		}
	}

	added, err := u.store.SaveEntries(ctx, entries)
	if err != nil {
		u.logger.Error("failed to save entries", "feed_url", feed.URL, "error", err)
		return
	}

	feed.Title = parsed.Title
	feed.Link = parsed.Link
	if parsed.Image != nil {
		feed.ImageURL = parsed.Image.URL
	}
	feed.LastUpdatedAt = &now
	feed.LastError = ""
	if err := u.store.UpdateFeed(ctx, &feed); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		u.logger.Error("failed to update feed", "feed_url", feed.URL, "error", err)
		return
	}

	u.logger.Debug("feed updated", "feed_url", feed.URL, "new_entries", added, "backlog", backlog)
}
