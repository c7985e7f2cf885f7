package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"feed_relay/internal/model"
	"feed_relay/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
	q  querier
	tx bool
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, q: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s.tx {
		return nil
	}
	return s.db.Close()
}

// RunInTx runs fn inside a transaction. Nested calls reuse the outer one.
func (s *SQLite) RunInTx(ctx context.Context, fn func(tx Storage) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&SQLite{db: s.db, q: tx, tx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// AddFeed inserts a feed row unless one with the same URL exists.
func (s *SQLite) AddFeed(ctx context.Context, url string) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO feeds (url, created_at) VALUES (?, ?)`, url, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert feed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// GetFeed returns a single feed by its URL.
func (s *SQLite) GetFeed(ctx context.Context, url string) (*model.Feed, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT url, title, link, image_url, last_updated_at, last_error, created_at
		 FROM feeds WHERE url = ?`, url,
	)
	return scanFeed(row)
}

// ListFeeds returns every stored feed ordered by URL.
func (s *SQLite) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT url, title, link, image_url, last_updated_at, last_error, created_at
		 FROM feeds ORDER BY url`,
	)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// UpdateFeed persists the metadata of an existing feed.
func (s *SQLite) UpdateFeed(ctx context.Context, feed *model.Feed) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE feeds SET title = ?, link = ?, image_url = ?, last_updated_at = ?, last_error = ?
		 WHERE url = ?`,
		feed.Title, feed.Link, feed.ImageURL, formatTime(feed.LastUpdatedAt), feed.LastError, feed.URL,
	)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	return requireAffected(res)
}

// RenameFeed moves a feed, its entries and its memberships to a new URL.
func (s *SQLite) RenameFeed(ctx context.Context, oldURL, newURL string) error {
	if oldURL == newURL {
		return nil
	}
	return s.RunInTx(ctx, func(tx Storage) error {
		q := tx.(*SQLite).q
		res, err := q.ExecContext(ctx, `UPDATE feeds SET url = ? WHERE url = ?`, newURL, oldURL)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("rename feed %s: %w", oldURL, ErrConflict)
			}
			return fmt.Errorf("rename feed: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `UPDATE entries SET feed_url = ? WHERE feed_url = ?`, newURL, oldURL); err != nil {
			return fmt.Errorf("rename entries: %w", err)
		}
		if _, err := q.ExecContext(ctx, `UPDATE feed_groups SET feed_url = ? WHERE feed_url = ?`, newURL, oldURL); err != nil {
			return fmt.Errorf("rename memberships: %w", err)
		}
		return nil
	})
}

// DeleteFeed removes a feed and its associated entries and memberships.
func (s *SQLite) DeleteFeed(ctx context.Context, url string) error {
	return s.RunInTx(ctx, func(tx Storage) error {
		q := tx.(*SQLite).q
		if _, err := q.ExecContext(ctx, `DELETE FROM entries WHERE feed_url = ?`, url); err != nil {
			return fmt.Errorf("delete entries: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM feed_groups WHERE feed_url = ?`, url); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		res, err := q.ExecContext(ctx, `DELETE FROM feeds WHERE url = ?`, url)
		if err != nil {
			return fmt.Errorf("delete feed: %w", err)
		}
		return requireAffected(res)
	})
}

// SaveEntries inserts the given entries, ignoring ones already stored.
func (s *SQLite) SaveEntries(ctx context.Context, entries []model.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.RunInTx(ctx, func(tx Storage) error {
		q := tx.(*SQLite).q
		for _, e := range entries {
			fetched := e.FetchedAt
			if fetched.IsZero() {
				fetched = time.Now()
			}
			res, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO entries
				 (feed_url, id, title, summary, link, author, published_at, image_urls, read, fetched_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.FeedURL, e.ID, e.Title, e.Summary, e.Link, e.Author,
				formatTime(e.Published), strings.Join(e.ImageURLs, "\n"), boolToInt(e.Read),
				fetched.UTC().Format(timeLayout),
			)
			if err != nil {
				return fmt.Errorf("insert entry %s: %w", e.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListEntries returns entries with the given read state, oldest first.
func (s *SQLite) ListEntries(ctx context.Context, read bool) ([]model.Entry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT feed_url, id, title, summary, link, author, published_at, image_urls, read, fetched_at
		 FROM entries WHERE read = ?
		 ORDER BY COALESCE(published_at, fetched_at), feed_url, id`, boolToInt(read),
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkEntryRead flags one entry as processed.
func (s *SQLite) MarkEntryRead(ctx context.Context, feedURL, id string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE entries SET read = 1 WHERE feed_url = ? AND id = ?`, feedURL, id,
	)
	if err != nil {
		return fmt.Errorf("mark entry read: %w", err)
	}
	return requireAffected(res)
}

// AddFeedGroup records that a group consumes the feed.
func (s *SQLite) AddFeedGroup(ctx context.Context, feedURL, groupID string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO feed_groups (feed_url, group_uuid) VALUES (?, ?)`, feedURL, groupID,
	)
	if err != nil {
		return fmt.Errorf("add feed group: %w", err)
	}
	return nil
}

// RemoveFeedGroup detaches a group from the feed.
func (s *SQLite) RemoveFeedGroup(ctx context.Context, feedURL, groupID string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM feed_groups WHERE feed_url = ? AND group_uuid = ?`, feedURL, groupID,
	)
	if err != nil {
		return fmt.Errorf("remove feed group: %w", err)
	}
	return nil
}

// FeedGroups returns the ids of the groups consuming the feed.
func (s *SQLite) FeedGroups(ctx context.Context, feedURL string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT group_uuid FROM feed_groups WHERE feed_url = ? ORDER BY group_uuid`, feedURL,
	)
	if err != nil {
		return nil, fmt.Errorf("query feed groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan feed group: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveGroup inserts or replaces a group record keyed by its UUID.
func (s *SQLite) SaveGroup(ctx context.Context, g *model.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode group: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO delivery_groups (uuid, name, config, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET name = excluded.name, config = excluded.config`,
		g.UUID, g.Name, string(data), g.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save group %q: %w", g.Name, ErrConflict)
		}
		return fmt.Errorf("save group: %w", err)
	}
	return nil
}

// GetGroup returns a group by UUID.
func (s *SQLite) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	row := s.q.QueryRowContext(ctx, `SELECT config FROM delivery_groups WHERE uuid = ?`, id)
	return scanGroup(row)
}

// GroupByName returns a group by its exact name.
func (s *SQLite) GroupByName(ctx context.Context, name string) (*model.Group, error) {
	row := s.q.QueryRowContext(ctx, `SELECT config FROM delivery_groups WHERE name = ?`, name)
	return scanGroup(row)
}

// ListGroups returns every group ordered by name.
func (s *SQLite) ListGroups(ctx context.Context) ([]model.Group, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT config FROM delivery_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// DeleteGroup removes a group record. Memberships are left to the caller.
func (s *SQLite) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM delivery_groups WHERE uuid = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return requireAffected(res)
}

// GetSetting returns a stored setting value.
func (s *SQLite) GetSetting(ctx context.Context, name string) (string, error) {
	var value string
	err := s.q.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", name, err)
	}
	return value, nil
}

// SetSetting stores a setting value, replacing any previous one.
func (s *SQLite) SetSetting(ctx context.Context, name, value string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", name, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var lastUpdated sql.NullString
	var created string
	err := row.Scan(&f.URL, &f.Title, &f.Link, &f.ImageURL, &lastUpdated, &f.LastError, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.LastUpdatedAt = parseTime(lastUpdated)
	f.CreatedAt, _ = time.Parse(timeLayout, created)
	return &f, nil
}

func scanEntry(row scannable) (model.Entry, error) {
	var e model.Entry
	var published sql.NullString
	var images, fetched string
	var read int
	err := row.Scan(&e.FeedURL, &e.ID, &e.Title, &e.Summary, &e.Link, &e.Author,
		&published, &images, &read, &fetched)
	if err != nil {
		return e, fmt.Errorf("scan entry: %w", err)
	}
	e.Published = parseTime(published)
	if images != "" {
		e.ImageURLs = strings.Split(images, "\n")
	}
	e.Read = read == 1
	e.FetchedAt, _ = time.Parse(timeLayout, fetched)
	return e, nil
}

func scanGroup(row scannable) (*model.Group, error) {
	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	var g model.Group
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("decode group: %w", err)
	}
	return &g, nil
}
