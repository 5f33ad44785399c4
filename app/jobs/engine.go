package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feedhive/feedhive/app/database"
)

const (
	queueSize          = 300
	DefaultWorkerCount = 5
	DefaultMaxRetries  = 3

	jobTimeout    = 5 * time.Minute
	maxRetryDelay = 30 * time.Second
)

// ConcurrencyPolicy bounds how many instances of a job may run at once.
// Key partitions the limit by a value derived from the job input; a nil
// Key applies one shared limit to the whole job type.
type ConcurrencyPolicy struct {
	Limit int
	Key   func(input json.RawMessage) string
}

// Definition describes a registered job type
type Definition struct {
	Name        string
	MaxRetries  int
	Concurrency *ConcurrencyPolicy
	Handler     func(ctx context.Context, run *Run) (interface{}, error)
}

// gate tracks in-flight instances for one concurrency key. Instances over
// the limit park in waiting and are promoted when a slot frees up.
type gate struct {
	limit   int
	active  int
	waiting []string
}

type Engine struct {
	jobRepo     database.JobRepository
	definitions map[string]*Definition
	workerCount int
	queue       chan string
	gates       map[string]*gate
	gatesMu     sync.Mutex
	ctx         context.Context
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
}

var _ EngineInterface = (*Engine)(nil)

func NewEngine(jobRepo database.JobRepository, workerCount int) *Engine {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	return &Engine{
		jobRepo:     jobRepo,
		definitions: make(map[string]*Definition),
		workerCount: workerCount,
		queue:       make(chan string, queueSize),
		gates:       make(map[string]*gate),
		ctx:         ctx,
		cancelFunc:  cancelFunc,
	}
}

// Register adds a job definition. Call before Start; registration is not
// safe concurrently with running workers.
func (e *Engine) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("job definition requires a name")
	}

	if def.Handler == nil {
		return fmt.Errorf("job '%s' requires a handler", def.Name)
	}

	if _, exists := e.definitions[def.Name]; exists {
		return fmt.Errorf("job '%s' is already registered", def.Name)
	}

	if def.MaxRetries <= 0 {
		def.MaxRetries = DefaultMaxRetries
	}

	e.definitions[def.Name] = def

	return nil
}

// Enqueue persists a new instance of the named job and hands it to the
// workers. The instance survives restarts: if the in-memory queue is full
// the persisted row is picked up by the next recovery pass.
func (e *Engine) Enqueue(jobName string, input interface{}) (string, error) {
	def, ok := e.definitions[jobName]
	if !ok {
		return "", fmt.Errorf("unknown job '%s'", jobName)
	}

	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("error encoding job input: %w", err)
	}

	instance := &database.JobInstance{
		ID:         uuid.NewString(),
		JobName:    jobName,
		Input:      data,
		MaxRetries: def.MaxRetries,
	}

	if err := e.jobRepo.CreateInstance(instance); err != nil {
		return "", fmt.Errorf("error persisting job instance: %w", err)
	}

	if err := e.push(instance.ID); err != nil {
		return "", fmt.Errorf("error enqueueing job '%s': %w", jobName, err)
	}

	slog.Debug("Job enqueued", "type", jobName, "id", instance.ID)

	return instance.ID, nil
}

func (e *Engine) push(instanceID string) error {
	select {
	case e.queue <- instanceID:
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// Start recovers incomplete instances from the store and launches the
// worker pool
func (e *Engine) Start() error {
	instances, err := e.jobRepo.GetIncompleteInstances()
	if err != nil {
		return fmt.Errorf("error loading incomplete job instances: %w", err)
	}

	for i := range instances {
		instance := &instances[i]

		if instance.Status == database.JobStatusRunning {
			if err := e.jobRepo.MarkQueued(instance.ID); err != nil {
				slog.Warn("Failed to requeue interrupted job instance", "id", instance.ID, "error", err)
				continue
			}
		}

		if err := e.push(instance.ID); err != nil {
			slog.Warn("Failed to enqueue recovered job instance", "id", instance.ID, "error", err)
		}
	}

	if len(instances) > 0 {
		slog.Info("Recovered incomplete job instances", "count", len(instances))
	}

	for i := 0; i < e.workerCount; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}

	slog.Debug("Job engine started", "worker_count", e.workerCount)

	return nil
}

func (e *Engine) Stop() {
	e.cancelFunc()
	e.wg.Wait()

	slog.Debug("Job engine stopped")
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()

	for {
		select {
		case instanceID := <-e.queue:
			e.processInstance(id, instanceID)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) processInstance(workerID int, instanceID string) {
	instance, err := e.jobRepo.GetInstance(instanceID)
	if err != nil {
		slog.Error("Failed to load job instance", "worker_id", workerID, "id", instanceID, "error", err)
		return
	}

	if instance == nil {
		slog.Warn("Job instance vanished before execution", "worker_id", workerID, "id", instanceID)
		return
	}

	def, ok := e.definitions[instance.JobName]
	if !ok {
		slog.Error("No definition registered for job", "type", instance.JobName, "id", instanceID)

		if err := e.jobRepo.MarkFailed(instanceID, fmt.Sprintf("no definition registered for job '%s'", instance.JobName)); err != nil {
			slog.Error("Failed to mark job instance failed", "id", instanceID, "error", err)
		}
		return
	}

	key := gateKey(def, instance.Input)

	if !e.acquire(def, key, instanceID) {
		return
	}
	defer e.release(def, key)

	e.executeInstance(workerID, def, instance)
}

func gateKey(def *Definition, input json.RawMessage) string {
	if def.Concurrency == nil {
		return ""
	}

	key := def.Name
	if def.Concurrency.Key != nil {
		key += ":" + def.Concurrency.Key(input)
	}

	return key
}

// acquire claims a concurrency slot for the instance. When the gate is
// saturated the instance parks in the waiting list and acquire returns
// false; release promotes it back onto the queue later.
func (e *Engine) acquire(def *Definition, key, instanceID string) bool {
	if def.Concurrency == nil {
		return true
	}

	e.gatesMu.Lock()
	defer e.gatesMu.Unlock()

	g, ok := e.gates[key]
	if !ok {
		g = &gate{limit: def.Concurrency.Limit}
		e.gates[key] = g
	}

	if g.active >= g.limit {
		g.waiting = append(g.waiting, instanceID)
		slog.Debug("Concurrency limit reached, parking job instance", "key", key, "id", instanceID, "waiting", len(g.waiting))
		return false
	}

	g.active++

	return true
}

func (e *Engine) release(def *Definition, key string) {
	if def.Concurrency == nil {
		return
	}

	e.gatesMu.Lock()

	g := e.gates[key]
	if g == nil {
		e.gatesMu.Unlock()
		return
	}

	g.active--

	var next string
	if len(g.waiting) > 0 {
		next = g.waiting[0]
		g.waiting = g.waiting[1:]
	}

	if g.active <= 0 && len(g.waiting) == 0 {
		delete(e.gates, key)
	}

	e.gatesMu.Unlock()

	if next != "" {
		if err := e.push(next); err != nil {
			slog.Warn("Failed to requeue parked job instance", "id", next, "error", err)
		}
	}
}

func (e *Engine) executeInstance(workerID int, def *Definition, instance *database.JobInstance) {
	if err := e.jobRepo.MarkRunning(instance.ID); err != nil {
		slog.Error("Failed to mark job instance running", "id", instance.ID, "error", err)
		return
	}

	startTime := time.Now()

	ctx, cancel := context.WithTimeout(e.ctx, jobTimeout)
	defer cancel()

	run := &Run{
		ID:     instance.ID,
		Input:  instance.Input,
		engine: e,
	}

	result, err := def.Handler(ctx, run)
	if err != nil {
		slog.Error("Worker job execution failed", "worker_id", workerID, "type", def.Name, "id", instance.ID, "retry_count", instance.RetryCount, "error", err)
		e.handleFailure(def, instance, err)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		slog.Error("Failed to encode job result", "type", def.Name, "id", instance.ID, "error", err)
		e.markFailed(instance.ID, err)
		return
	}

	if err := e.jobRepo.MarkCompleted(instance.ID, data); err != nil {
		slog.Error("Failed to mark job instance completed", "id", instance.ID, "error", err)
		return
	}

	slog.Debug("Job instance completed", "type", def.Name, "id", instance.ID, "duration", time.Since(startTime))
}

func (e *Engine) handleFailure(def *Definition, instance *database.JobInstance, err error) {
	if IsFatal(err) {
		e.markFailed(instance.ID, err)
		return
	}

	if instance.RetryCount >= instance.MaxRetries {
		slog.Error("Job failed after maximum retries", "type", def.Name, "id", instance.ID, "retry_count", instance.RetryCount, "max_retries", instance.MaxRetries)
		e.markFailed(instance.ID, err)
		return
	}

	if scheduleErr := e.jobRepo.ScheduleRetry(instance.ID, err.Error()); scheduleErr != nil {
		slog.Error("Failed to schedule job retry", "id", instance.ID, "error", scheduleErr)
		return
	}

	retryCount := instance.RetryCount + 1
	retryDelay := e.retryDelay(retryCount, err)

	slog.Warn("Job retry scheduled", "type", def.Name, "id", instance.ID, "retry_count", retryCount, "max_retries", instance.MaxRetries, "delay", retryDelay.String())

	go func() {
		time.Sleep(retryDelay)

		select {
		case <-e.ctx.Done():
			slog.Debug("Engine stopped, skipping job retry", "type", def.Name, "id", instance.ID)
		default:
			if err := e.push(instance.ID); err != nil {
				slog.Error("Failed to re-enqueue job for retry", "type", def.Name, "id", instance.ID, "error", err)
			}
		}
	}()
}

// retryDelay honors an explicit Retry-After hint when the failure carried
// one, otherwise backs off exponentially from 1s up to maxRetryDelay
func (e *Engine) retryDelay(retryCount int, err error) time.Duration {
	if delay, ok := retryAfterDelay(err); ok && delay > 0 {
		return delay
	}

	delay := time.Duration(1<<uint(retryCount-1)) * time.Second
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	return delay
}

func (e *Engine) markFailed(instanceID string, err error) {
	if markErr := e.jobRepo.MarkFailed(instanceID, err.Error()); markErr != nil {
		slog.Error("Failed to mark job instance failed", "id", instanceID, "error", markErr)
	}
}
