package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeOrderConfirmation JobType = "order_confirmation"
	JobTypePaymentReconcile  JobType = "payment_reconcile"
	JobTypeLowStockAlert     JobType = "low_stock_alert"
)

const MaxRetries = 5

type Job struct {
	ID         string                 `json:"id"`
	Type       JobType                `json:"type"`
	Data       map[string]interface{} `json:"data"`
	CreatedAt  time.Time              `json:"created_at"`
	RetryCount int                    `json:"retry_count"`

	// raw is the payload as it was read, used to find the job in the processing list.
	raw string
}

// String returns a string field from the job data.
func (j *Job) String(key string) string {
	v, _ := j.Data[key].(string)
	return v
}

type Queue struct {
	client     *redis.Client
	queueName  string
	processing string
	failed     string
	delayed    string
}

func NewQueue(redisURL, queueName string) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewQueueFromClient(client, queueName), nil
}

func NewQueueFromClient(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:     client,
		queueName:  queueName,
		processing: queueName + ":processing",
		failed:     queueName + ":failed",
		delayed:    queueName + ":delayed",
	}
}

func newJob(jobType JobType, data map[string]interface{}) Job {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

func (q *Queue) Enqueue(ctx context.Context, jobType JobType, data map[string]interface{}) error {
	job := newJob(jobType, data)

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.RPush(ctx, q.queueName, jobJSON).Err(); err != nil {
		return fmt.Errorf("failed to push job to queue: %w", err)
	}

	log.Printf("Enqueued job %s of type %s", job.ID, job.Type)
	return nil
}

// EnqueueDelayed schedules a job to become available after delay.
func (q *Queue) EnqueueDelayed(ctx context.Context, jobType JobType, data map[string]interface{}, delay time.Duration) error {
	job := newJob(jobType, data)

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	executeAt := time.Now().Add(delay)
	if err := q.client.ZAdd(ctx, q.delayed, &redis.Z{
		Score:  float64(executeAt.Unix()),
		Member: jobJSON,
	}).Err(); err != nil {
		return fmt.Errorf("failed to push delayed job to queue: %w", err)
	}

	log.Printf("Enqueued delayed job %s of type %s to execute at %s",
		job.ID, job.Type, executeAt.Format("2006-01-02 15:04:05"))
	return nil
}

// Dequeue blocks for up to timeout and returns nil when no job arrived.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected BLPOP result format")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Data == nil {
		job.Data = map[string]interface{}{}
	}
	job.raw = result[1]

	if err := q.client.RPush(ctx, q.processing, result[1]).Err(); err != nil {
		log.Printf("Warning: Failed to move job %s to processing queue: %v", job.ID, err)
	}

	return &job, nil
}

func (q *Queue) removeProcessing(ctx context.Context, job *Job) error {
	raw := job.raw
	if raw == "" {
		b, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		raw = string(b)
	}
	return q.client.LRem(ctx, q.processing, 1, raw).Err()
}

func (q *Queue) CompleteJob(ctx context.Context, job *Job) error {
	if err := q.removeProcessing(ctx, job); err != nil {
		return fmt.Errorf("failed to remove job from processing queue: %w", err)
	}

	log.Printf("Completed job %s of type %s", job.ID, job.Type)
	return nil
}

// RetryDelay is the backoff before the given attempt: 15s, 30s, 60s and so on.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return time.Duration(15*(1<<(retryCount-1))) * time.Second
}

// FailJob schedules a retry with exponential backoff, or parks the job in the failed
// list once MaxRetries is exhausted.
func (q *Queue) FailJob(ctx context.Context, job *Job, err error) error {
	if rmErr := q.removeProcessing(ctx, job); rmErr != nil {
		log.Printf("Warning: Failed to remove job %s from processing queue: %v", job.ID, rmErr)
	}

	job.RetryCount++
	job.Data["last_error"] = err.Error()
	job.Data["failed_at"] = time.Now().UTC()

	if job.RetryCount <= MaxRetries {
		delay := RetryDelay(job.RetryCount)
		retryTime := time.Now().Add(delay)

		job.Data["next_retry_at"] = retryTime.UTC()
		job.Data["is_last_attempt"] = job.RetryCount == MaxRetries

		updatedJobJSON, marshalErr := json.Marshal(job)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal job: %w", marshalErr)
		}

		if err := q.client.ZAdd(ctx, q.delayed, &redis.Z{
			Score:  float64(retryTime.Unix()),
			Member: updatedJobJSON,
		}).Err(); err != nil {
			log.Printf("Warning: Failed to add job to delayed queue, adding to failed queue: %v", err)
			if err := q.client.RPush(ctx, q.failed, updatedJobJSON).Err(); err != nil {
				return fmt.Errorf("failed to push job to failed queue: %w", err)
			}
		}

		log.Printf("Job %s of type %s scheduled for retry %d/%d in %v",
			job.ID, job.Type, job.RetryCount, MaxRetries, delay)
		return nil
	}

	job.Data["all_retries_exhausted"] = true
	job.Data["final_failure_at"] = time.Now().UTC()
	finalJobJSON, marshalErr := json.Marshal(job)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal job: %w", marshalErr)
	}

	if err := q.client.RPush(ctx, q.failed, finalJobJSON).Err(); err != nil {
		return fmt.Errorf("failed to push job to failed queue: %w", err)
	}

	log.Printf("Job %s of type %s moved to failed queue after %d retries", job.ID, job.Type, job.RetryCount)
	return nil
}

// ProcessDelayedJobs moves every delayed job whose time has come onto the main queue.
func (q *Queue) ProcessDelayedJobs(ctx context.Context) (int, error) {
	now := float64(time.Now().Unix())

	jobs, err := q.client.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get delayed jobs: %w", err)
	}

	moved := 0
	for _, jobJSON := range jobs {
		// Only the caller that removes the member gets to requeue it.
		removed, err := q.client.ZRem(ctx, q.delayed, jobJSON).Result()
		if err != nil {
			log.Printf("Warning: Failed to remove job from delayed queue: %v", err)
			continue
		}
		if removed == 0 {
			continue
		}

		if err := q.client.RPush(ctx, q.queueName, jobJSON).Err(); err != nil {
			log.Printf("Warning: Failed to move delayed job to main queue: %v", err)
			continue
		}
		moved++
	}

	if moved > 0 {
		log.Printf("Moved %d delayed jobs to main queue", moved)
	}
	return moved, nil
}

// RetryJob requeues a job from the failed list with its retry count reset.
func (q *Queue) RetryJob(ctx context.Context, jobID string) error {
	jobs, err := q.client.LRange(ctx, q.failed, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list failed jobs: %w", err)
	}

	for _, jobJSON := range jobs {
		var job Job
		if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
			log.Printf("Warning: Failed to unmarshal job: %v", err)
			continue
		}
		if job.ID != jobID {
			continue
		}

		if err := q.client.LRem(ctx, q.failed, 1, jobJSON).Err(); err != nil {
			return fmt.Errorf("failed to remove job from failed queue: %w", err)
		}

		job.RetryCount = 0
		job.Data["manual_retry"] = true
		job.Data["manual_retry_at"] = time.Now().UTC()
		delete(job.Data, "all_retries_exhausted")
		delete(job.Data, "final_failure_at")
		delete(job.Data, "is_last_attempt")

		updatedJobJSON, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := q.client.RPush(ctx, q.queueName, updatedJobJSON).Err(); err != nil {
			return fmt.Errorf("failed to push job to main queue: %w", err)
		}

		log.Printf("Manually requeued job %s of type %s (retry count reset)", job.ID, job.Type)
		return nil
	}

	return fmt.Errorf("job %s not found in failed queue", jobID)
}

// FailedJobs lists the parked jobs, oldest first.
func (q *Queue) FailedJobs(ctx context.Context) ([]Job, error) {
	raw, err := q.client.LRange(ctx, q.failed, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	jobs := make([]Job, 0, len(raw))
	for _, jobJSON := range raw {
		var job Job
		if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Failed     int64 `json:"failed"`
}

func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.queueName)
	processing := pipe.LLen(ctx, q.processing)
	delayed := pipe.ZCard(ctx, q.delayed)
	failed := pipe.LLen(ctx, q.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return &Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Failed:     failed.Val(),
	}, nil
}

func (q *Queue) IsLastAttempt(job *Job) bool {
	if isLast, ok := job.Data["is_last_attempt"].(bool); ok {
		return isLast
	}
	return job.RetryCount >= MaxRetries
}

func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) Close() error {
	return q.client.Close()
}
