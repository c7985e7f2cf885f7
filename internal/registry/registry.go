// Package registry maps feeds to the groups that consume them and manages
// group records and the process-wide settings.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"feed_relay/internal/filter"
	"feed_relay/internal/model"
	"feed_relay/internal/storage"
)

// Errors returned by registry operations.
var (
	ErrGroupNotFound  = errors.New("group not found")
	ErrAmbiguousRef   = errors.New("group reference is ambiguous")
	ErrInvalidName    = errors.New("invalid group name")
	ErrDuplicateName  = errors.New("group name already exists")
	ErrNoWebhooks     = errors.New("group has no webhooks")
	ErrInvalidPattern = errors.New("invalid regex pattern")
)

// Registry resolves groups and keeps feed memberships in sync with them.
type Registry struct {
	store  storage.Storage
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// New creates a Registry backed by store.
func New(store storage.Storage, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// FeedURL returns the feed polled for a source account. Values that already
// are http(s) URLs are used as they are.
func FeedURL(nitterInstance, username string) string {
	username = strings.TrimSpace(username)
	if strings.HasPrefix(username, "http://") || strings.HasPrefix(username, "https://") {
		return username
	}
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(nitterInstance, "/") + "/" + username + "/with_replies/rss"
}

// GroupsForFeed returns the ids of the groups consuming feedURL.
func (r *Registry) GroupsForFeed(ctx context.Context, feedURL string) ([]string, error) {
	ids, err := r.store.FeedGroups(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("groups for feed %s: %w", feedURL, err)
	}
	return ids, nil
}

// FeedsForGroup returns the feeds the group consumes.
func (r *Registry) FeedsForGroup(ctx context.Context, id string) ([]string, error) {
	g, err := r.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.Feeds, nil
}

// Resolve loads one group. Unknown ids return ErrGroupNotFound.
func (r *Registry) Resolve(ctx context.Context, id string) (*model.Group, error) {
	return resolve(ctx, r.store, id)
}

func resolve(ctx context.Context, s storage.Storage, id string) (*model.Group, error) {
	g, err := s.GetGroup(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve group %s: %w", id, err)
	}
	return g, nil
}

// ListGroups returns every group ordered by name.
func (r *Registry) ListGroups(ctx context.Context) ([]model.Group, error) {
	groups, err := r.store.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// Find resolves a reference typed by an operator: an exact uuid, an exact
// name, or a unique uuid prefix.
func (r *Registry) Find(ctx context.Context, ref string) (*model.Group, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrGroupNotFound
	}
	if g, err := r.store.GetGroup(ctx, ref); err == nil {
		return g, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("find group: %w", err)
	}
	if g, err := r.store.GroupByName(ctx, ref); err == nil {
		return g, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("find group: %w", err)
	}

	groups, err := r.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	var match *model.Group
	for i := range groups {
		if !strings.HasPrefix(groups[i].UUID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousRef, ref)
		}
		match = &groups[i]
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, ref)
	}
	return match, nil
}

// AddGroup validates and stores a new group, creating or linking one feed
// per source account. Nothing is written when validation fails.
func (r *Registry) AddGroup(ctx context.Context, g model.Group, settings model.AppSettings) (string, error) {
	clean(&g)
	if err := validate(&g); err != nil {
		return "", err
	}
	g.UUID = r.newID()
	g.CreatedAt = r.now().UTC().Truncate(time.Second)
	g.Feeds = feedURLs(settings.NitterInstance, g.Usernames)

	err := r.store.RunInTx(ctx, func(tx storage.Storage) error {
		if err := ensureNameFree(ctx, tx, g.Name, ""); err != nil {
			return err
		}
		if err := saveGroup(ctx, tx, &g); err != nil {
			return err
		}
		for _, u := range g.Feeds {
			if err := link(ctx, tx, u, g.UUID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("group added", "group", g.Name, "uuid", g.UUID, "feeds", len(g.Feeds))
	return g.UUID, nil
}

// ModifyGroup replaces every attribute of an existing group except its uuid
// and creation time. Feeds the group no longer uses are detached and
// deleted once no group references them.
func (r *Registry) ModifyGroup(ctx context.Context, g model.Group, settings model.AppSettings) error {
	clean(&g)
	if err := validate(&g); err != nil {
		return err
	}
	g.Feeds = feedURLs(settings.NitterInstance, g.Usernames)

	err := r.store.RunInTx(ctx, func(tx storage.Storage) error {
		existing, err := resolve(ctx, tx, g.UUID)
		if err != nil {
			return err
		}
		if err := ensureNameFree(ctx, tx, g.Name, g.UUID); err != nil {
			return err
		}
		g.CreatedAt = existing.CreatedAt
		if err := saveGroup(ctx, tx, &g); err != nil {
			return err
		}
		for _, u := range g.Feeds {
			if err := link(ctx, tx, u, g.UUID); err != nil {
				return err
			}
		}
		for _, u := range existing.Feeds {
			if slices.Contains(g.Feeds, u) {
				continue
			}
			if err := detach(ctx, tx, u, g.UUID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("group modified", "group", g.Name, "uuid", g.UUID, "feeds", len(g.Feeds))
	return nil
}

// RemoveGroup detaches the group from every feed that references it,
// deletes feeds left without a group and deletes the group record.
func (r *Registry) RemoveGroup(ctx context.Context, id string) error {
	var name string
	err := r.store.RunInTx(ctx, func(tx storage.Storage) error {
		g, err := resolve(ctx, tx, id)
		if err != nil {
			return err
		}
		name = g.Name

		urls, err := referencingFeeds(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, u := range g.Feeds {
			if !slices.Contains(urls, u) {
				urls = append(urls, u)
			}
		}
		for _, u := range urls {
			if err := detach(ctx, tx, u, id); err != nil {
				return err
			}
		}
		if err := tx.DeleteGroup(ctx, id); err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("group removed", "group", name, "uuid", id)
	return nil
}

func clean(g *model.Group) {
	g.Name = strings.TrimSpace(g.Name)
	g.Usernames = cleanList(g.Usernames)
	g.Webhooks = cleanList(g.Webhooks)
	g.Whitelist = cleanList(g.Whitelist)
	g.Blacklist = cleanList(g.Blacklist)
	g.WhitelistRegex = cleanList(g.WhitelistRegex)
	g.BlacklistRegex = cleanList(g.BlacklistRegex)
	if g.LinkDestination == "" {
		g.LinkDestination = model.DestinationTwitter
	}
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func validate(g *model.Group) error {
	if g.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.Contains(g.Name, model.GroupNameSeparator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidName, g.Name, model.GroupNameSeparator)
	}
	if len(g.Webhooks) == 0 {
		return ErrNoWebhooks
	}
	switch g.LinkDestination {
	case model.DestinationTwitter, model.DestinationNitter:
	default:
		return fmt.Errorf("unknown link destination %q", g.LinkDestination)
	}
	for _, p := range append(slices.Clone(g.WhitelistRegex), g.BlacklistRegex...) {
		if err := filter.ValidateRegex(p); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err)
		}
	}
	return nil
}

func feedURLs(nitterInstance string, usernames []string) []string {
	var urls []string
	for _, u := range usernames {
		feed := FeedURL(nitterInstance, u)
		if !slices.Contains(urls, feed) {
			urls = append(urls, feed)
		}
	}
	return urls
}

func ensureNameFree(ctx context.Context, s storage.Storage, name, selfID string) error {
	other, err := s.GroupByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check group name: %w", err)
	}
	if other.UUID == selfID {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrDuplicateName, name)
}

func saveGroup(ctx context.Context, s storage.Storage, g *model.Group) error {
	if err := s.SaveGroup(ctx, g); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("%w: %q", ErrDuplicateName, g.Name)
		}
		return fmt.Errorf("save group: %w", err)
	}
	return nil
}

func link(ctx context.Context, s storage.Storage, feedURL, groupID string) error {
	if _, err := s.AddFeed(ctx, feedURL); err != nil {
		return fmt.Errorf("add feed %s: %w", feedURL, err)
	}
	if err := s.AddFeedGroup(ctx, feedURL, groupID); err != nil {
		return fmt.Errorf("link feed %s: %w", feedURL, err)
	}
	return nil
}

// detach removes the group from the feed and deletes the feed when no
// group references it anymore.
func detach(ctx context.Context, s storage.Storage, feedURL, groupID string) error {
	if err := s.RemoveFeedGroup(ctx, feedURL, groupID); err != nil {
		return fmt.Errorf("detach feed %s: %w", feedURL, err)
	}
	remaining, err := s.FeedGroups(ctx, feedURL)
	if err != nil {
		return fmt.Errorf("detach feed %s: %w", feedURL, err)
	}
	if len(remaining) > 0 {
		return nil
	}
	if err := s.DeleteFeed(ctx, feedURL); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete feed %s: %w", feedURL, err)
	}
	return nil
}

// referencingFeeds scans the membership of every feed for groupID.
func referencingFeeds(ctx context.Context, s storage.Storage, groupID string) ([]string, error) {
	feeds, err := s.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	var urls []string
	for _, f := range feeds {
		ids, err := s.FeedGroups(ctx, f.URL)
		if err != nil {
			return nil, fmt.Errorf("feed groups %s: %w", f.URL, err)
		}
		if slices.Contains(ids, groupID) {
			urls = append(urls, f.URL)
		}
	}
	return urls, nil
}
