package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"plantcare/internal/util"
	"plantcare/pkg/cascade"
	"plantcare/pkg/domain"
	"plantcare/pkg/queue"
	"plantcare/pkg/storage"
	"plantcare/pkg/store"
)

const (
	defaultQueueName  = "plantcare:cascade"
	defaultQueueGroup = "plantcare-cascade"
	// A deletion cascade is attempted once; failures are left for replay.
	cascadeAttempts = 1
)

// ErrInvalidPath is returned when a replay names something other than a plant.
var ErrInvalidPath = errors.New("path must name a plant (users/{uid}/plants/{pid})")

// Config holds runtime configuration.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	QueueName              string
	QueueGroup             string
	QueueConcurrency       int
	QueueMaxRetries        int
	QueueRetryDelaySeconds int
	QueueBlock             time.Duration

	// Optional collaborators; built from the settings above when nil.
	Store   cascade.SubtreeStore
	Objects cascade.BlobDeleter
}

// App consumes plant deletions and removes what hangs below them.
type App struct {
	queue       *queue.RedisJobQueue
	worker      *cascade.Worker
	concurrency int
}

// New constructs the cascade service.
func New(cfg Config) (*App, error) {
	if cfg.QueueMaxRetries > cascadeAttempts {
		return nil, fmt.Errorf("queue max retries %d: cascades are attempted at most %d time", cfg.QueueMaxRetries, cascadeAttempts)
	}
	subtrees := cfg.Store
	if subtrees == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		subtrees = gormStore
	}
	objects := cfg.Objects
	if objects == nil {
		minioStore, err := storage.NewMinioStore(context.Background(), storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
		objects = minioStore
	}
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     orDefault(cfg.QueueName, defaultQueueName),
		Group:      orDefault(cfg.QueueGroup, defaultQueueGroup),
		Consumer:   util.NewID(),
		MaxRetries: cascadeAttempts,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		Block:      cfg.QueueBlock,
	})
	if err != nil {
		return nil, fmt.Errorf("init cascade queue: %w", err)
	}
	return &App{
		queue:       q,
		worker:      cascade.NewWorker(q, cascade.NewPolicy(subtrees, objects)),
		concurrency: cfg.QueueConcurrency,
	}, nil
}

// Start runs the cascade workers until ctx is done.
func (a *App) Start(ctx context.Context) {
	a.worker.Start(ctx, a.concurrency)
}

// Enqueue schedules a cascade by hand, e.g. to replay one that failed.
func (a *App) Enqueue(ctx context.Context, path string) (queue.JobStatus, error) {
	if _, err := domain.ParsePlantPath(path); err != nil {
		return queue.JobStatus{}, ErrInvalidPath
	}
	return a.queue.Enqueue(ctx, path)
}

// GetJob returns the status of a cascade job.
func (a *App) GetJob(ctx context.Context, id string) (queue.JobStatus, bool, error) {
	return a.queue.GetJob(ctx, id)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
