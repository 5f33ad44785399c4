package database

import (
	"database/sql"
	"fmt"
	"time"
)

// subscriptionRepository handles the user-to-feed edges
type subscriptionRepository struct {
	db *DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Subscribe attaches a user to a feed; re-subscribing updates the category
func (r *subscriptionRepository) Subscribe(userID string, feedID int64, category string) error {
	_, err := r.db.Exec(`
		INSERT INTO subscriptions (user_id, feed_id, category, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, feed_id) DO UPDATE SET category = excluded.category
	`, userID, feedID, category, time.Now().UTC())

	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes the edge; the feed row itself is untouched
func (r *subscriptionRepository) Unsubscribe(userID string, feedID int64) error {
	_, err := r.db.Exec(`
		DELETE FROM subscriptions WHERE user_id = ? AND feed_id = ?
	`, userID, feedID)

	if err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// IsSubscribed reports whether the user is subscribed to the feed
func (r *subscriptionRepository) IsSubscribed(userID string, feedID int64) (bool, error) {
	var one int
	err := r.db.QueryRow(`
		SELECT 1 FROM subscriptions WHERE user_id = ? AND feed_id = ? LIMIT 1
	`, userID, feedID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}
	return true, nil
}

// GetSubscribers returns the ids of every user subscribed to a feed
func (r *subscriptionRepository) GetSubscribers(feedID int64) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT user_id FROM subscriptions WHERE feed_id = ?
	`, feedID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscribers: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber row: %w", err)
		}
		users = append(users, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriber rows: %w", err)
	}

	return users, nil
}

// GetSubscribedFeeds returns the user's subscriptions joined with feed info
func (r *subscriptionRepository) GetSubscribedFeeds(userID string) ([]SubscribedFeed, error) {
	rows, err := r.db.Query(`
		SELECT f.id, f.url, f.type, COALESCE(f.slug, ''), f.title, f.description, f.link,
		       f.language, f.author, f.image_url, f.image_title, f.rights, f.generator,
		       f.etag, f.last_modified, f.ttl_minutes, f.last_fetched_at, f.last_success_at,
		       f.error_count, f.error_message, f.is_active, f.created_at, f.updated_at,
		       s.category, s.created_at
		FROM subscriptions s
		JOIN feeds f ON f.id = s.feed_id
		WHERE s.user_id = ?
		ORDER BY s.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscribed feeds: %w", err)
	}
	defer rows.Close()

	var feeds []SubscribedFeed
	for rows.Next() {
		var sf SubscribedFeed
		var ttl sql.NullInt64
		err := rows.Scan(
			&sf.ID, &sf.URL, &sf.Type, &sf.Slug, &sf.Title, &sf.Description, &sf.Link,
			&sf.Language, &sf.Author, &sf.ImageURL, &sf.ImageTitle, &sf.Rights, &sf.Generator,
			&sf.ETag, &sf.LastModified, &ttl, &sf.LastFetchedAt, &sf.LastSuccessAt,
			&sf.ErrorCount, &sf.ErrorMessage, &sf.IsActive, &sf.CreatedAt, &sf.UpdatedAt,
			&sf.Category, &sf.SubscribedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscribed feed row: %w", err)
		}
		if ttl.Valid {
			minutes := int(ttl.Int64)
			sf.TTLMinutes = &minutes
		}
		feeds = append(feeds, sf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscribed feed rows: %w", err)
	}

	return feeds, nil
}
