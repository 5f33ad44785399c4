package database

import (
	"database/sql"
	"fmt"
	"time"
)

// userArticleStateRepository handles per-user article flags
type userArticleStateRepository struct {
	db *DB
}

// NewUserArticleStateRepository creates a new user article state repository
func NewUserArticleStateRepository(db *DB) UserArticleStateRepository {
	return &userArticleStateRepository{db: db}
}

// GetState retrieves the user's flags for an article, nil when none exist yet
func (r *userArticleStateRepository) GetState(userID string, articleID int64) (*UserArticleState, error) {
	var state UserArticleState
	err := r.db.QueryRow(`
		SELECT user_id, article_id, is_read, is_bookmarked, is_favorite, read_at, updated_at
		FROM user_article_states
		WHERE user_id = ? AND article_id = ?
	`, userID, articleID).Scan(
		&state.UserID, &state.ArticleID, &state.IsRead, &state.IsBookmarked,
		&state.IsFavorite, &state.ReadAt, &state.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article state: %w", err)
	}

	return &state, nil
}

// UpsertState lazily creates the state row on first interaction and applies
// only the flags the caller provided. The read timestamp is set when the
// read flag first flips to true.
func (r *userArticleStateRepository) UpsertState(userID string, articleID int64, read, bookmarked, favorite *bool) (*UserArticleState, error) {
	current, err := r.GetState(userID, articleID)
	if err != nil {
		return nil, err
	}

	state := UserArticleState{UserID: userID, ArticleID: articleID}
	if current != nil {
		state = *current
	}

	if read != nil {
		if *read && !state.IsRead {
			now := time.Now().UTC()
			state.ReadAt = &now
		}
		state.IsRead = *read
	}
	if bookmarked != nil {
		state.IsBookmarked = *bookmarked
	}
	if favorite != nil {
		state.IsFavorite = *favorite
	}
	state.UpdatedAt = time.Now().UTC()

	_, err = r.db.Exec(`
		INSERT INTO user_article_states (user_id, article_id, is_read, is_bookmarked, is_favorite, read_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, article_id) DO UPDATE SET
			is_read = excluded.is_read,
			is_bookmarked = excluded.is_bookmarked,
			is_favorite = excluded.is_favorite,
			read_at = excluded.read_at,
			updated_at = excluded.updated_at
	`, state.UserID, state.ArticleID, state.IsRead, state.IsBookmarked,
		state.IsFavorite, state.ReadAt, state.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to upsert article state: %w", err)
	}

	return &state, nil
}
