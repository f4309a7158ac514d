package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobRetryKey      = "job_retry"
	JobStatsKey      = "job_stats"
	DeadLetterKey    = "mail:deadletter"

	// Job settings
	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour // Jobs expire after 24 hours
	jobTimeout        = 30 * time.Second
)

// Handler runs one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

// Queue manages background jobs using Redis
type Queue struct {
	client     *redis.Client
	workers    int
	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	handlers     map[JobType]Handler
	backoff      func(retry int) time.Duration
	pollInterval time.Duration
	maxRetries   int
}

// Option tunes a Queue.
type Option func(*Queue)

// WithBackoff replaces the delay before each retry.
func WithBackoff(f func(retry int) time.Duration) Option {
	return func(q *Queue) { q.backoff = f }
}

// WithPollInterval sets how often due retries are promoted.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.pollInterval = d }
}

func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// NewQueue creates a new job queue
func NewQueue(client *redis.Client, workers int, opts ...Option) *Queue {
	if workers <= 0 {
		workers = 3 // Default number of workers
	}

	q := &Queue{
		client:       client,
		workers:      workers,
		workerPool:   make(chan struct{}, workers),
		stopCh:       make(chan struct{}),
		handlers:     map[JobType]Handler{},
		backoff:      ExponentialBackoff,
		pollInterval: time.Second,
		maxRetries:   DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register installs the handler for a job type. Register before Start.
func (q *Queue) Register(jobType JobType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

func (q *Queue) handler(jobType JobType) (Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	// Initialize worker pool
	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(2)
	go q.retryPromoter()
	// Recovers jobs stuck in processing after a crash
	go q.stuckSweeper(10*time.Minute, time.Minute)
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	// Drain the slots so a later Start begins from an empty pool.
	for len(q.workerPool) > 0 {
		<-q.workerPool
	}
	log.Info("[JobQueue] All workers stopped")
}

// IsRunning returns whether workers are active
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// retryPromoter moves retries whose delay has elapsed back to the queue.
func (q *Queue) retryPromoter() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if _, err := q.promoteDue(ctx, time.Now()); err != nil {
				log.Errorf("[JobQueue] Retry promotion error: %v", err)
			}
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, JobRetryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		// ZRem decides which instance promotes a job when several race.
		removed, err := q.client.ZRem(ctx, JobRetryKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, JobQueueKey, id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// stuckSweeper periodically scans the processing list and requeues jobs stuck for longer than maxAge
func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sweepStuck(ctx, time.Now(), maxAge)
		}
	}
}

func (q *Queue) sweepStuck(ctx context.Context, now time.Time, maxAge time.Duration) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Sweeper LRange error: %v", err)
		return
	}
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Sweeper read error for %s: %v", id, err)
			}
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil && !job.ProcessedAt.IsZero() {
			started = *job.ProcessedAt
		}
		if now.Sub(started) > maxAge {
			log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, now.Sub(started))
			job.Status = JobStatusPending
			job.ErrorMsg = "recovered by sweeper"
			job.UpdatedAt = now
			q.updateJob(ctx, job)
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			_ = q.client.RPush(ctx, JobQueueKey, id).Err()
		}
	}
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Debugf("[JobQueue] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Debugf("[JobQueue] Worker %d stopping", id)
			return
		default:
			<-q.workerPool

			job, err := q.dequeueJob(ctx)
			if err != nil && !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
				q.workerPool <- struct{}{}
				time.Sleep(time.Second)
				continue
			}

			if job != nil {
				q.processJob(ctx, job)
			}

			q.workerPool <- struct{}{}
		}
	}
}

// Enqueue stores a new job and pushes it onto the queue
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload any) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", jobType, err)
	}

	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    raw,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: q.maxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Debugf("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

// dequeueJob gets the next job from the queue
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	// Move job from pending queue to processing queue atomically
	jobID, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		q.removeFromProcessing(ctx, jobID)
		return nil, fmt.Errorf("job data not found for ID %s: %w", jobID, err)
	}
	return job, nil
}

// processJob processes a single job
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	var err error
	if h, ok := q.handler(job.Type); ok {
		jctx, cancel := context.WithTimeout(ctx, jobTimeout)
		err = h(jctx, job)
		cancel()
	} else {
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	defer q.removeFromProcessing(ctx, job.ID)

	if err == nil {
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeCompletedJob(ctx, job.ID)
		return
	}

	log.Warnf("[JobQueue] Job %s (Type: %s) failed: %v", job.ID, job.Type, err)
	job.MarkAsFailed(err.Error())

	if job.IsRetryable() {
		delay := q.backoff(job.RetryCount)
		log.Infof("[JobQueue] Retrying job %s in %s (Attempt %d/%d)", job.ID, delay, job.RetryCount, job.MaxRetries)
		job.MarkAsRetrying()
		q.updateJob(ctx, job)
		due := time.Now().Add(delay).UnixMilli()
		if err := q.client.ZAdd(ctx, JobRetryKey, redis.Z{Score: float64(due), Member: job.ID}).Err(); err != nil {
			log.Errorf("[JobQueue] Failed to schedule retry for %s: %v", job.ID, err)
		}
		q.updateJobStats(ctx, JobStatusRetrying, 1)
		return
	}

	log.Errorf("[JobQueue] Job %s moved to dead letters after %d attempts", job.ID, job.RetryCount)
	q.deadLetter(ctx, job)
}

func (q *Queue) deadLetter(ctx context.Context, job *Job) {
	job.MarkAsDead()
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal dead job %s: %v", job.ID, err)
		return
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, DeadLetterKey, data)
	pipe.Del(ctx, JobKeyPrefix+job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusDead), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to park dead job %s: %v", job.ID, err)
	}
}

// DeadLetters lists parked jobs, newest first. A limit <= 0 lists all.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	entries, err := q.client.LRange(ctx, DeadLetterKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		var job Job
		if err := json.Unmarshal([]byte(e), &job); err != nil {
			log.Warnf("[JobQueue] Skipping unreadable dead letter: %v", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// DeadLetterCount returns the number of parked jobs
func (q *Queue) DeadLetterCount(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, DeadLetterKey).Result()
}

// ReplayDeadLetters moves every parked job back onto the queue with a fresh
// set of attempts, oldest first.
func (q *Queue) ReplayDeadLetters(ctx context.Context) (int, error) {
	replayed := 0
	for {
		data, err := q.client.RPop(ctx, DeadLetterKey).Result()
		if errors.Is(err, redis.Nil) {
			return replayed, nil
		}
		if err != nil {
			return replayed, fmt.Errorf("failed to pop dead letter: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			log.Errorf("[JobQueue] Dropping unreadable dead letter: %v", err)
			continue
		}
		job.ResetForReplay()
		jobData, err := json.Marshal(&job)
		if err != nil {
			return replayed, fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}

		pipe := q.client.TxPipeline()
		pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
		pipe.LPush(ctx, JobQueueKey, job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			// Put it back so nothing is lost.
			_ = q.client.RPush(ctx, DeadLetterKey, data).Err()
			return replayed, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
		replayed++
	}
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}

	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

// removeFromProcessing removes a job from the processing queue
func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

// removeCompletedJob completely removes a completed job from Redis
func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	if err := q.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove completed job %s from Redis: %v", jobID, err)
	}
}

// updateJobStats updates job statistics
func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			result[JobStatus(status)] = n
		}
	}
	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}
