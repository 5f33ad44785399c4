package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const articleColumns = `id, feed_id, guid, slug, title, link, COALESCE(summary, ''), COALESCE(content, ''),
	       COALESCE(author, ''), COALESCE(source_name, ''), published_at, fetch_status,
	       created_at, updated_at`

// articleRepository handles database operations for articles
type articleRepository struct {
	db *DB
}

// NewArticleRepository creates a new article repository
func NewArticleRepository(db *DB) ArticleRepository {
	return &articleRepository{db: db}
}

func scanArticle(row *sql.Row) (*Article, error) {
	var article Article
	err := row.Scan(
		&article.ID, &article.FeedID, &article.GUID, &article.Slug, &article.Title,
		&article.Link, &article.Summary, &article.Content, &article.Author,
		&article.SourceName, &article.PublishedAt, &article.FetchStatus,
		&article.CreatedAt, &article.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// GetArticle retrieves an article by its id
func (r *articleRepository) GetArticle(id int64) (*Article, error) {
	article, err := scanArticle(r.db.QueryRow(`
		SELECT `+articleColumns+`
		FROM articles
		WHERE id = ?
	`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return article, nil
}

// GetArticlesByFeed returns the most recent articles of a feed
func (r *articleRepository) GetArticlesByFeed(feedID int64, limit int) ([]Article, error) {
	rows, err := r.db.Query(`
		SELECT `+articleColumns+`
		FROM articles
		WHERE feed_id = ?
		ORDER BY COALESCE(published_at, created_at) DESC
		LIMIT ?
	`, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var article Article
		err := rows.Scan(
			&article.ID, &article.FeedID, &article.GUID, &article.Slug, &article.Title,
			&article.Link, &article.Summary, &article.Content, &article.Author,
			&article.SourceName, &article.PublishedAt, &article.FetchStatus,
			&article.CreatedAt, &article.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article row: %w", err)
		}
		articles = append(articles, article)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article rows: %w", err)
	}

	return articles, nil
}

// InsertArticle stores a parsed entry if its (feed_id, guid) identity is not
// already known. Returns the article id and whether a new row was created;
// a dedup conflict is "already known", not an error.
func (r *articleRepository) InsertArticle(feedID int64, article NewArticle) (int64, bool, error) {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		INSERT INTO articles (feed_id, guid, slug, title, link, summary, content,
		                      author, source_name, published_at, fetch_status,
		                      created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id, guid) DO NOTHING
	`, feedID, article.GUID, article.Slug, article.Title, article.Link,
		nullString(article.Summary), nullString(article.Content),
		nullString(article.Author), nullString(article.SourceName),
		article.PublishedAt, FetchStatusNone, now, now)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert article: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to check insert result: %w", err)
	}

	if affected > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("failed to get created article id: %w", err)
		}
		return id, true, nil
	}

	var id int64
	err = r.db.QueryRow(`
		SELECT id FROM articles WHERE feed_id = ? AND guid = ?
	`, feedID, article.GUID).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve existing article: %w", err)
	}
	return id, false, nil
}

// UpdateExtractedContent persists full-text extraction results. Content is
// overwritten unconditionally; summary, author, source and publish time keep
// their previous value when the extractor produced none.
func (r *articleRepository) UpdateExtractedContent(id int64, extracted ExtractedContent) error {
	_, err := r.db.Exec(`
		UPDATE articles
		SET content = ?,
		    summary = COALESCE(?, summary),
		    author = COALESCE(?, author),
		    source_name = COALESCE(?, source_name),
		    published_at = COALESCE(?, published_at),
		    updated_at = ?
		WHERE id = ?
	`, extracted.Content, nullString(extracted.Summary), nullString(extracted.Author),
		nullString(extracted.SourceName), extracted.PublishedAt, time.Now().UTC(), id)

	if err != nil {
		return fmt.Errorf("failed to update extracted content: %w", err)
	}
	return nil
}

// UpdateFetchStatus moves an article through its extraction state machine,
// rejecting transitions outside the legal set.
func (r *articleRepository) UpdateFetchStatus(id int64, status FetchStatus) error {
	var current FetchStatus
	err := r.db.QueryRow(`SELECT fetch_status FROM articles WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("article %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get article status: %w", err)
	}

	if !current.CanTransition(status) {
		slog.Warn("Rejected illegal fetch status transition", "article_id", id, "from", string(current), "to", string(status))
		return &ErrIllegalTransition{Entity: "article", From: string(current), To: string(status)}
	}

	_, err = r.db.Exec(`
		UPDATE articles
		SET fetch_status = ?, updated_at = ?
		WHERE id = ?
	`, status, time.Now().UTC(), id)

	if err != nil {
		return fmt.Errorf("failed to update fetch status: %w", err)
	}
	return nil
}

// SlugTaken reports whether a slug is already used within a feed
func (r *articleRepository) SlugTaken(feedID int64, slug string) (bool, error) {
	var one int
	err := r.db.QueryRow(`
		SELECT 1 FROM articles WHERE feed_id = ? AND slug = ? LIMIT 1
	`, feedID, slug).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check article slug: %w", err)
	}
	return true, nil
}

// GetArticleCount returns the total number of articles
func (r *articleRepository) GetArticleCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM articles").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get article count: %w", err)
	}
	return count, nil
}

// nullString maps empty strings to NULL so COALESCE semantics apply
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
