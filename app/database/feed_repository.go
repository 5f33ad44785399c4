package database

import (
	"database/sql"
	"fmt"
	"time"
)

const feedColumns = `id, url, type, COALESCE(slug, ''), title, description, link, language, author,
	       image_url, image_title, rights, generator, etag, last_modified, ttl_minutes,
	       last_fetched_at, last_success_at, error_count, error_message, is_active,
	       created_at, updated_at`

// feedRepository handles database operations for feeds
type feedRepository struct {
	db *DB
}

// NewFeedRepository creates a new feed repository
func NewFeedRepository(db *DB) FeedRepository {
	return &feedRepository{db: db}
}

func (r *feedRepository) scanFeed(row *sql.Row) (*Feed, error) {
	var feed Feed
	var ttl sql.NullInt64
	err := row.Scan(
		&feed.ID, &feed.URL, &feed.Type, &feed.Slug, &feed.Title, &feed.Description,
		&feed.Link, &feed.Language, &feed.Author, &feed.ImageURL, &feed.ImageTitle,
		&feed.Rights, &feed.Generator, &feed.ETag, &feed.LastModified, &ttl,
		&feed.LastFetchedAt, &feed.LastSuccessAt, &feed.ErrorCount, &feed.ErrorMessage,
		&feed.IsActive, &feed.CreatedAt, &feed.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ttl.Valid {
		minutes := int(ttl.Int64)
		feed.TTLMinutes = &minutes
	}
	return &feed, nil
}

// GetFeed retrieves a feed by its numeric id
func (r *feedRepository) GetFeed(id int64) (*Feed, error) {
	feed, err := r.scanFeed(r.db.QueryRow(`
		SELECT `+feedColumns+`
		FROM feeds
		WHERE id = ?
	`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return feed, nil
}

// GetFeedByURL retrieves a feed by its source URL
func (r *feedRepository) GetFeedByURL(url string) (*Feed, error) {
	feed, err := r.scanFeed(r.db.QueryRow(`
		SELECT `+feedColumns+`
		FROM feeds
		WHERE url = ?
	`, url))
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by URL: %w", err)
	}
	return feed, nil
}

// GetFeedBySlug retrieves a feed by its slug
func (r *feedRepository) GetFeedBySlug(slug string) (*Feed, error) {
	feed, err := r.scanFeed(r.db.QueryRow(`
		SELECT `+feedColumns+`
		FROM feeds
		WHERE slug = ?
	`, slug))
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by slug: %w", err)
	}
	return feed, nil
}

// CreateFeed inserts a new feed row and returns its id. URL uniqueness is
// enforced by the schema; callers check GetFeedByURL first.
func (r *feedRepository) CreateFeed(url, slug, title, feedType string) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		INSERT INTO feeds (url, slug, title, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, url, slug, title, feedType, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create feed: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get created feed id: %w", err)
	}
	return id, nil
}

// UpdateFeedMetadata updates descriptive fields, cache validators and the
// success timestamp after a parse, and resets the error counter.
func (r *feedRepository) UpdateFeedMetadata(id int64, meta FeedMetadata) error {
	now := time.Now().UTC()
	var ttl interface{}
	if meta.TTLMinutes != nil {
		ttl = *meta.TTLMinutes
	}

	_, err := r.db.Exec(`
		UPDATE feeds
		SET type = ?, slug = ?, title = ?, description = ?, link = ?, language = ?,
		    author = ?, image_url = ?, image_title = ?, rights = ?, generator = ?,
		    etag = ?, last_modified = ?, ttl_minutes = ?,
		    last_fetched_at = ?, last_success_at = ?,
		    error_count = 0, error_message = '', updated_at = ?
		WHERE id = ?
	`, meta.Type, meta.Slug, meta.Title, meta.Description, meta.Link, meta.Language,
		meta.Author, meta.ImageURL, meta.ImageTitle, meta.Rights, meta.Generator,
		meta.ETag, meta.LastModified, ttl, now, now, now, id)

	if err != nil {
		return fmt.Errorf("failed to update feed metadata: %w", err)
	}
	return nil
}

// RecordFetchError increments the error counter and stores the message
func (r *feedRepository) RecordFetchError(id int64, message string) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		UPDATE feeds
		SET error_count = error_count + 1, error_message = ?,
		    last_fetched_at = ?, updated_at = ?
		WHERE id = ?
	`, message, now, now, id)

	if err != nil {
		return fmt.Errorf("failed to record fetch error: %w", err)
	}
	return nil
}

// TouchFetched marks a fetch that returned 304 Not Modified as successful
func (r *feedRepository) TouchFetched(id int64) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		UPDATE feeds
		SET last_fetched_at = ?, last_success_at = ?,
		    error_count = 0, error_message = '', updated_at = ?
		WHERE id = ?
	`, now, now, now, id)

	if err != nil {
		return fmt.Errorf("failed to touch feed fetch time: %w", err)
	}
	return nil
}

// SetFeedActive flips the active flag; the pipeline never hard-deletes feeds
func (r *feedRepository) SetFeedActive(id int64, active bool) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET is_active = ?, updated_at = ?
		WHERE id = ?
	`, active, time.Now().UTC(), id)

	if err != nil {
		return fmt.Errorf("failed to set feed active status: %w", err)
	}
	return nil
}

// GetFeedsDue returns active feeds whose TTL has elapsed since their last
// fetch (60 minutes when the feed declares none), or which were never fetched.
func (r *feedRepository) GetFeedsDue(now time.Time) ([]Feed, error) {
	rows, err := r.db.Query(`
		SELECT `+feedColumns+`
		FROM feeds
		WHERE is_active = 1
		  AND (last_fetched_at IS NULL
		       OR datetime(last_fetched_at, '+' || COALESCE(ttl_minutes, 60) || ' minutes') <= datetime(?))
		ORDER BY last_fetched_at
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get feeds due for refresh: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var feed Feed
		var ttl sql.NullInt64
		err := rows.Scan(
			&feed.ID, &feed.URL, &feed.Type, &feed.Slug, &feed.Title, &feed.Description,
			&feed.Link, &feed.Language, &feed.Author, &feed.ImageURL, &feed.ImageTitle,
			&feed.Rights, &feed.Generator, &feed.ETag, &feed.LastModified, &ttl,
			&feed.LastFetchedAt, &feed.LastSuccessAt, &feed.ErrorCount, &feed.ErrorMessage,
			&feed.IsActive, &feed.CreatedAt, &feed.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed row: %w", err)
		}
		if ttl.Valid {
			minutes := int(ttl.Int64)
			feed.TTLMinutes = &minutes
		}
		feeds = append(feeds, feed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}

	return feeds, nil
}

// SlugTaken reports whether a slug is occupied by a feed other than excludeID
func (r *feedRepository) SlugTaken(slug string, excludeID int64) (bool, error) {
	var one int
	err := r.db.QueryRow(`
		SELECT 1 FROM feeds WHERE slug = ? AND id != ? LIMIT 1
	`, slug, excludeID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check feed slug: %w", err)
	}
	return true, nil
}

// GetFeedCount returns the total number of feeds
func (r *feedRepository) GetFeedCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM feeds").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

// GetActiveFeedCount returns the count of active feeds
func (r *feedRepository) GetActiveFeedCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM feeds WHERE is_active = 1").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get active feed count: %w", err)
	}
	return count, nil
}
