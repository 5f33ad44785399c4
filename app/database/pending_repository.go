package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// pendingFeedRepository tracks in-flight add-feed requests
type pendingFeedRepository struct {
	db *DB
}

// NewPendingFeedRepository creates a new pending feed request repository
func NewPendingFeedRepository(db *DB) PendingFeedRepository {
	return &pendingFeedRepository{db: db}
}

// CreateRequest records a new add-feed request in the pending state
func (r *pendingFeedRepository) CreateRequest(id, url, requestedBy string) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO pending_feed_requests (id, url, requested_by, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, url, requestedBy, PendingStatusPending, now, now)

	if err != nil {
		return fmt.Errorf("failed to create pending request: %w", err)
	}
	return nil
}

// GetRequest retrieves a pending request by id
func (r *pendingFeedRepository) GetRequest(id string) (*PendingFeedRequest, error) {
	var req PendingFeedRequest
	var candidates sql.NullString
	var feedID sql.NullInt64
	err := r.db.QueryRow(`
		SELECT id, url, requested_by, status, candidates, error, feed_id, created_at, updated_at
		FROM pending_feed_requests
		WHERE id = ?
	`, id).Scan(
		&req.ID, &req.URL, &req.RequestedBy, &req.Status, &candidates,
		&req.Error, &feedID, &req.CreatedAt, &req.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending request: %w", err)
	}

	if candidates.Valid && candidates.String != "" {
		if err := json.Unmarshal([]byte(candidates.String), &req.Candidates); err != nil {
			return nil, fmt.Errorf("failed to decode candidate list: %w", err)
		}
	}
	if feedID.Valid {
		req.FeedID = &feedID.Int64
	}

	return &req, nil
}

// checkTransition validates a status change against the legal set
func (r *pendingFeedRepository) checkTransition(id string, to PendingStatus) error {
	var current PendingStatus
	err := r.db.QueryRow(`SELECT status FROM pending_feed_requests WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("pending request %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get pending request status: %w", err)
	}

	if !current.CanTransition(to) {
		slog.Warn("Rejected illegal pending status transition", "pending_id", id, "from", string(current), "to", string(to))
		return &ErrIllegalTransition{Entity: "pending request", From: string(current), To: string(to)}
	}
	return nil
}

// ResolveCompleted finishes a request successfully. A completed request has
// done its job and is deleted rather than retained.
func (r *pendingFeedRepository) ResolveCompleted(id string, feedID int64) error {
	if err := r.checkTransition(id, PendingStatusCompleted); err != nil {
		return err
	}

	_, err := r.db.Exec(`DELETE FROM pending_feed_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve pending request: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure with a human-readable message
func (r *pendingFeedRepository) MarkFailed(id string, message string) error {
	if err := r.checkTransition(id, PendingStatusFailed); err != nil {
		return err
	}

	_, err := r.db.Exec(`
		UPDATE pending_feed_requests
		SET status = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, PendingStatusFailed, message, time.Now().UTC(), id)

	if err != nil {
		return fmt.Errorf("failed to mark pending request failed: %w", err)
	}
	return nil
}

// MarkAmbiguous stores the discovered candidate URLs for a later user choice
func (r *pendingFeedRepository) MarkAmbiguous(id string, candidates []string) error {
	if err := r.checkTransition(id, PendingStatusAmbiguous); err != nil {
		return err
	}

	encoded, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("failed to encode candidate list: %w", err)
	}

	_, err = r.db.Exec(`
		UPDATE pending_feed_requests
		SET status = ?, candidates = ?, updated_at = ?
		WHERE id = ?
	`, PendingStatusAmbiguous, string(encoded), time.Now().UTC(), id)

	if err != nil {
		return fmt.Errorf("failed to mark pending request ambiguous: %w", err)
	}
	return nil
}
