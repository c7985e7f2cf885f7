// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"feed_relay/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// Storage is the interface for all persistence operations. It plays the
// role of the feed store: feeds and their entries, group records, the
// feed-to-group membership set and the global settings.
type Storage interface {
	// AddFeed creates the feed if it does not exist yet and reports whether
	// it was created.
	AddFeed(ctx context.Context, url string) (bool, error)
	GetFeed(ctx context.Context, url string) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	UpdateFeed(ctx context.Context, feed *model.Feed) error
	RenameFeed(ctx context.Context, oldURL, newURL string) error
	// DeleteFeed removes a feed together with its entries and memberships.
	DeleteFeed(ctx context.Context, url string) error

	// SaveEntries inserts entries that are not stored yet and returns how
	// many were new. Existing entries keep their read state.
	SaveEntries(ctx context.Context, entries []model.Entry) (int, error)
	ListEntries(ctx context.Context, read bool) ([]model.Entry, error)
	MarkEntryRead(ctx context.Context, feedURL, id string) error

	AddFeedGroup(ctx context.Context, feedURL, groupID string) error
	RemoveFeedGroup(ctx context.Context, feedURL, groupID string) error
	FeedGroups(ctx context.Context, feedURL string) ([]string, error)

	SaveGroup(ctx context.Context, g *model.Group) error
	GetGroup(ctx context.Context, id string) (*model.Group, error)
	GroupByName(ctx context.Context, name string) (*model.Group, error)
	ListGroups(ctx context.Context) ([]model.Group, error)
	DeleteGroup(ctx context.Context, id string) error

	GetSetting(ctx context.Context, name string) (string, error)
	SetSetting(ctx context.Context, name, value string) error

	// RunInTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil.
	RunInTx(ctx context.Context, fn func(tx Storage) error) error

	Close() error
}
