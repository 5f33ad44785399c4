package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// jobRepository persists job instances and their step-result ledger
type jobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) JobRepository {
	return &jobRepository{db: db}
}

// CreateInstance persists a freshly enqueued job instance
func (r *jobRepository) CreateInstance(instance *JobInstance) error {
	now := time.Now().UTC()
	input := instance.Input
	if input == nil {
		input = []byte("{}")
	}

	_, err := r.db.Exec(`
		INSERT INTO job_instances (id, job_name, input, status, retry_count, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, instance.ID, instance.JobName, string(input), JobStatusQueued,
		instance.RetryCount, instance.MaxRetries, now, now)

	if err != nil {
		return fmt.Errorf("failed to create job instance: %w", err)
	}
	return nil
}

// GetInstance retrieves a job instance by id
func (r *jobRepository) GetInstance(id string) (*JobInstance, error) {
	var instance JobInstance
	var input string
	var result sql.NullString
	err := r.db.QueryRow(`
		SELECT id, job_name, input, status, retry_count, max_retries, error, result, created_at, updated_at
		FROM job_instances
		WHERE id = ?
	`, id).Scan(
		&instance.ID, &instance.JobName, &input, &instance.Status,
		&instance.RetryCount, &instance.MaxRetries, &instance.Error, &result,
		&instance.CreatedAt, &instance.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job instance: %w", err)
	}

	instance.Input = []byte(input)
	if result.Valid {
		instance.Result = []byte(result.String)
	}

	return &instance, nil
}

// GetIncompleteInstances returns every queued or running instance, oldest
// first. Used on startup to resume work interrupted by a restart.
func (r *jobRepository) GetIncompleteInstances() ([]JobInstance, error) {
	rows, err := r.db.Query(`
		SELECT id, job_name, input, status, retry_count, max_retries, error, result, created_at, updated_at
		FROM job_instances
		WHERE status IN (?, ?)
		ORDER BY created_at
	`, JobStatusQueued, JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to get incomplete instances: %w", err)
	}
	defer rows.Close()

	var instances []JobInstance
	for rows.Next() {
		var instance JobInstance
		var input string
		var result sql.NullString
		err := rows.Scan(
			&instance.ID, &instance.JobName, &input, &instance.Status,
			&instance.RetryCount, &instance.MaxRetries, &instance.Error, &result,
			&instance.CreatedAt, &instance.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job instance row: %w", err)
		}
		instance.Input = []byte(input)
		if result.Valid {
			instance.Result = []byte(result.String)
		}
		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job instance rows: %w", err)
	}

	return instances, nil
}

// setStatus validates and applies a status transition
func (r *jobRepository) setStatus(id string, to JobStatus, set string, args ...interface{}) error {
	var current JobStatus
	err := r.db.QueryRow(`SELECT status FROM job_instances WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("job instance %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get job instance status: %w", err)
	}

	if !current.CanTransition(to) {
		slog.Warn("Rejected illegal job status transition", "instance_id", id, "from", string(current), "to", string(to))
		return &ErrIllegalTransition{Entity: "job instance", From: string(current), To: string(to)}
	}

	args = append(args, id)
	_, err = r.db.Exec(`UPDATE job_instances SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update job instance: %w", err)
	}
	return nil
}

// MarkQueued resets an interrupted instance for re-execution without
// counting a retry. Completed steps replay from the ledger.
func (r *jobRepository) MarkQueued(id string) error {
	return r.setStatus(id, JobStatusQueued,
		`status = ?, updated_at = ?`, JobStatusQueued, time.Now().UTC())
}

// MarkRunning records that a worker picked the instance up
func (r *jobRepository) MarkRunning(id string) error {
	return r.setStatus(id, JobStatusRunning,
		`status = ?, updated_at = ?`, JobStatusRunning, time.Now().UTC())
}

// MarkCompleted stores the job result and finishes the instance
func (r *jobRepository) MarkCompleted(id string, result []byte) error {
	return r.setStatus(id, JobStatusCompleted,
		`status = ?, result = ?, error = '', updated_at = ?`,
		JobStatusCompleted, string(result), time.Now().UTC())
}

// MarkFailed finishes the instance with a terminal error
func (r *jobRepository) MarkFailed(id string, message string) error {
	return r.setStatus(id, JobStatusFailed,
		`status = ?, error = ?, updated_at = ?`,
		JobStatusFailed, message, time.Now().UTC())
}

// ScheduleRetry re-queues the instance after a retriable failure
func (r *jobRepository) ScheduleRetry(id string, message string) error {
	return r.setStatus(id, JobStatusQueued,
		`status = ?, retry_count = retry_count + 1, error = ?, updated_at = ?`,
		JobStatusQueued, message, time.Now().UTC())
}

// GetStepResult looks up the ledger entry for (instance, step)
func (r *jobRepository) GetStepResult(instanceID, stepName string) ([]byte, bool, error) {
	var result sql.NullString
	err := r.db.QueryRow(`
		SELECT result FROM job_steps WHERE instance_id = ? AND step_name = ?
	`, instanceID, stepName).Scan(&result)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get step result: %w", err)
	}

	if !result.Valid {
		return nil, true, nil
	}
	return []byte(result.String), true, nil
}

// SaveStepResult records a completed step in the ledger. The entry is what
// makes re-invocation replay instead of re-execute.
func (r *jobRepository) SaveStepResult(instanceID, stepName string, result []byte) error {
	_, err := r.db.Exec(`
		INSERT INTO job_steps (instance_id, step_name, result, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (instance_id, step_name) DO NOTHING
	`, instanceID, stepName, string(result), time.Now().UTC())

	if err != nil {
		return fmt.Errorf("failed to save step result: %w", err)
	}
	return nil
}

// CountByStatus returns instance counts per status for the stats endpoint
func (r *jobRepository) CountByStatus() (map[JobStatus]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM job_instances GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count job instances: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count row: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job count rows: %w", err)
	}

	return counts, nil
}
