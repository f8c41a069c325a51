package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"plantcare/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// JobStatus is the persisted state of one job. Path names the record the
// job is about.
type JobStatus struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RedisJobQueue is a job queue on a Redis stream with a consumer group.
// Job status lives in a hash per job that expires after JobTTL.
type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

// RedisQueueConfig configures a RedisJobQueue. Zero values take defaults;
// MaxRetries is the total number of attempts per job.
type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

// NewRedisJobQueue validates cfg and builds the queue without connecting.
func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisJobQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       jobTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue records a queued job for path and appends it to the stream.
func (q *RedisJobQueue) Enqueue(ctx context.Context, path string) (JobStatus, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return JobStatus{}, errors.New("job path required")
	}
	now := time.Now().UTC()
	job := JobStatus{ID: util.NewID(), Path: path, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}
	if err := q.writeStatus(ctx, job); err != nil {
		return JobStatus{}, err
	}
	if err := q.client.XAdd(ctx, q.entry(job.ID, job.Path)).Err(); err != nil {
		return JobStatus{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// GetJob returns the status of a job, if it has not expired.
func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (JobStatus, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobStatus{}, false, nil
	}
	res := q.client.HGetAll(ctx, q.jobKey(jobID))
	data, err := res.Result()
	if err != nil {
		return JobStatus{}, false, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(data) == 0 {
		return JobStatus{}, false, nil
	}
	var rec jobRecord
	if err := res.Scan(&rec); err != nil {
		return JobStatus{}, false, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return rec.status(jobID), true, nil
}

// Handler processes one job. A returned error marks the attempt failed.
type Handler func(context.Context, JobStatus) error

// Start runs concurrency consumers until ctx is done. Messages left pending
// by a crashed consumer are reclaimed after ClaimIdle.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		go q.consume(ctx, fmt.Sprintf("%s-%d", q.consumerBase, i), handler)
	}
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		// "0" so jobs enqueued before the first consumer came up are delivered.
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("create consumer group failed", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *RedisJobQueue) consume(ctx context.Context, consumer string, handler Handler) {
	for ctx.Err() == nil {
		stale, err := q.claimStale(ctx, consumer)
		if err != nil && ctx.Err() == nil {
			slog.Warn("claim stale jobs failed", "stream", q.stream, "consumer", consumer, "err", err)
		}
		for _, msg := range stale {
			q.process(ctx, consumer, msg, handler)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil) || ctx.Err() != nil:
			continue
		case err != nil:
			slog.Warn("read job stream failed", "stream", q.stream, "consumer", consumer, "err", err)
			q.sleep(ctx)
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.process(ctx, consumer, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimStale(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return msgs, err
}

// process runs one delivery. The stream entry is settled on success, on the
// final failed attempt, and when it cannot be decoded; otherwise it is
// re-appended for another attempt after RetryDelay.
func (q *RedisJobQueue) process(ctx context.Context, consumer string, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	path, _ := msg.Values["path"].(string)
	if jobID == "" || path == "" {
		slog.Warn("drop malformed job message", "stream", q.stream, "msg_id", msg.ID)
		q.settle(ctx, msg.ID)
		return
	}
	job, err := q.begin(ctx, jobID, path)
	if err != nil {
		slog.Warn("record job start failed", "job_id", jobID, "err", err)
		q.settle(ctx, msg.ID)
		return
	}

	runErr := handler(ctx, job)
	switch {
	case runErr == nil:
		q.transition(ctx, jobID, StatusDone, "")
		q.settle(ctx, msg.ID)
	case job.Attempts >= q.maxRetries:
		slog.Warn("job failed", "job_id", jobID, "path", path, "consumer", consumer, "attempts", job.Attempts, "err", runErr)
		q.transition(ctx, jobID, StatusFailed, runErr.Error())
		q.settle(ctx, msg.ID)
	default:
		q.transition(ctx, jobID, StatusQueued, runErr.Error())
		q.sleep(ctx)
		if ctx.Err() != nil {
			return
		}
		if err := q.requeueAndAck(ctx, msg.ID, jobID, path); err != nil {
			slog.Warn("requeue job failed", "job_id", jobID, "err", err)
		}
	}
}

func (q *RedisJobQueue) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(q.retryDelay):
	}
}

// settle acknowledges and removes a stream entry.
func (q *RedisJobQueue) settle(ctx context.Context, msgID string) {
	pipe := q.client.Pipeline()
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, _ = pipe.Exec(ctx)
}

// requeueAndAck appends a fresh entry for the job and settles the old one in
// a single transaction, so a failure leaves the original pending.
func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID, jobID, path string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.entry(jobID, path))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) entry(jobID, path string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": jobID, "path": path},
	}
}

// begin records the start of an attempt and returns the updated status.
func (q *RedisJobQueue) begin(ctx context.Context, jobID, path string) (JobStatus, error) {
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}
	now := time.Now().UTC()
	if !ok {
		// Status expired or was never written; rebuild it from the message.
		job = JobStatus{ID: jobID, CreatedAt: now}
	}
	job.Path = path
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = now
	if err := q.writeStatus(ctx, job); err != nil {
		return JobStatus{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) transition(ctx context.Context, jobID, status, errMsg string) {
	job, _, err := q.GetJob(ctx, jobID)
	if err == nil {
		job.ID = jobID
		job.Status = status
		job.ErrorMessage = errMsg
		job.UpdatedAt = time.Now().UTC()
		err = q.writeStatus(ctx, job)
	}
	if err != nil {
		slog.Warn("record job status failed", "job_id", jobID, "status", status, "err", err)
	}
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job JobStatus) error {
	key := q.jobKey(job.ID)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, newJobRecord(job))
	pipe.Expire(ctx, key, q.jobTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return "job:" + q.stream + ":" + jobID
}

// jobRecord is the hash layout of a job status.
type jobRecord struct {
	Path      string `redis:"path"`
	Status    string `redis:"status"`
	Error     string `redis:"error"`
	Attempts  int    `redis:"attempts"`
	CreatedAt string `redis:"createdAt"`
	UpdatedAt string `redis:"updatedAt"`
}

func newJobRecord(job JobStatus) jobRecord {
	return jobRecord{
		Path:      job.Path,
		Status:    job.Status,
		Error:     job.ErrorMessage,
		Attempts:  job.Attempts,
		CreatedAt: job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (r jobRecord) status(jobID string) JobStatus {
	job := JobStatus{
		ID:           jobID,
		Path:         r.Path,
		Status:       r.Status,
		ErrorMessage: r.Error,
		Attempts:     r.Attempts,
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return job
}
