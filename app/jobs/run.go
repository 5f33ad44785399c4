package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Run is a single execution attempt of a job instance. Handlers receive it
// to gate side effects behind the persisted step ledger and to fan out
// follow-on jobs.
type Run struct {
	ID     string
	Input  json.RawMessage
	engine *Engine
}

// Step executes fn at most once per job instance. A completed step's
// recorded result is replayed on retry instead of re-executing the side
// effect, so handlers stay safe to re-run from the top.
func Step[T any](ctx context.Context, run *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	recorded, found, err := run.engine.jobRepo.GetStepResult(run.ID, name)
	if err != nil {
		return zero, fmt.Errorf("error reading step '%s': %w", name, err)
	}

	if found {
		slog.Debug("Replaying recorded step result", "id", run.ID, "step", name)

		var result T
		if len(recorded) > 0 {
			if err := json.Unmarshal(recorded, &result); err != nil {
				return zero, fmt.Errorf("error replaying step '%s': %w", name, err)
			}
		}
		return result, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return zero, fmt.Errorf("step '%s': %w", name, err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("error encoding step '%s' result: %w", name, err)
	}

	if err := run.engine.jobRepo.SaveStepResult(run.ID, name, data); err != nil {
		return zero, fmt.Errorf("error recording step '%s' result: %w", name, err)
	}

	return result, nil
}

// Trigger enqueues a follow-on job without awaiting its completion
func (r *Run) Trigger(jobName string, input interface{}) (string, error) {
	return r.engine.Enqueue(jobName, input)
}
