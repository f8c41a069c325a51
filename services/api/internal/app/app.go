package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"plantcare/internal/util"
	"plantcare/pkg/cascade"
	"plantcare/pkg/domain"
	"plantcare/pkg/events"
	"plantcare/pkg/imaging"
	"plantcare/pkg/queue"
	"plantcare/pkg/schedule"
	"plantcare/pkg/storage"
	"plantcare/pkg/store"
)

const (
	defaultCascadeStream = "plantcare:cascade"
	defaultCascadeGroup  = "plantcare-cascade"
	defaultImageURLTTL   = 15 * time.Minute
)

// Feed is a change feed clients can both publish to and subscribe on.
type Feed interface {
	events.Publisher
	events.Subscriber
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	Timezone      string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	ImageSize      int
	ImageQuality   int
	ImageMaxPixels int
	ImageURLTTL    time.Duration

	SessionTTL          time.Duration
	JWTPrivateKeyPath   string
	JWTPublicKeyPath    string
	JWTKeyID            string
	JWTVerifyPublicKeys map[string]string
	JWTIssuer           string
	JWTAudience         string
	JWTLeeway           time.Duration

	CascadeStream string
	// ChangeFeed selects the feed transport: "redis" (default) or "memory"
	// for a single api instance.
	ChangeFeed       string
	ChangeFeedPrefix string

	// Optional collaborators; built from the settings above when nil.
	Store    store.Store
	Sessions store.SessionStore
	Objects  storage.ObjectStore
	Feed     Feed
	Cascade  cascade.Enqueuer
	Clock    func() time.Time
}

// App is the core application service wiring together storage, sessions and
// the watering schedule.
type App struct {
	store       store.Store
	sessions    store.SessionStore
	objects     storage.ObjectStore
	feed        Feed
	publisher   events.Publisher
	schedule    *schedule.Calculator
	image       imaging.Options
	imageURLTTL time.Duration
	now         func() time.Time
}

// New constructs the application. Every plant write is published to the
// change feed and to the cascade trigger.
func New(cfg Config) (*App, error) {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	loc, err := schedule.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	feed := cfg.Feed
	if feed == nil && strings.EqualFold(strings.TrimSpace(cfg.ChangeFeed), "memory") {
		feed = events.NewHub()
	}
	if feed == nil {
		redisFeed, err := events.NewRedisFeed(events.RedisFeedConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   cfg.ChangeFeedPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init change feed: %w", err)
		}
		feed = redisFeed
	}

	cascadeQueue := cfg.Cascade
	if cascadeQueue == nil {
		stream := strings.TrimSpace(cfg.CascadeStream)
		if stream == "" {
			stream = defaultCascadeStream
		}
		q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   stream,
			Group:    defaultCascadeGroup,
			Consumer: util.NewID(),
		})
		if err != nil {
			return nil, fmt.Errorf("init cascade queue: %w", err)
		}
		cascadeQueue = q
	}
	publisher := events.Multi{feed, cascade.NewTrigger(cascadeQueue)}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		dataStore, err = store.NewGormStore(cfg.DatabaseURL, store.WithPublisher(publisher))
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		if strings.TrimSpace(cfg.JWTPrivateKeyPath) == "" {
			return nil, fmt.Errorf("jwtPrivateKeyPath is required")
		}
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("redisAddr is required for session revocation")
		}
		sessionStore, err = store.NewJWTSessionStore(store.JWTConfig{
			PrivateKeyPath: cfg.JWTPrivateKeyPath,
			PublicKeyPath:  cfg.JWTPublicKeyPath,
			KeyID:          cfg.JWTKeyID,
			VerifyKeyFiles: cfg.JWTVerifyPublicKeys,
			TTL:            cfg.SessionTTL,
			Issuer:         cfg.JWTIssuer,
			Audience:       cfg.JWTAudience,
			Leeway:         cfg.JWTLeeway,
			Revoker:        store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword),
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
	}

	objects := cfg.Objects
	if objects == nil {
		objects, err = storage.NewMinioStore(context.Background(), storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
	}

	urlTTL := cfg.ImageURLTTL
	if urlTTL <= 0 {
		urlTTL = defaultImageURLTTL
	}
	return &App{
		store:       dataStore,
		sessions:    sessionStore,
		objects:     objects,
		feed:        feed,
		publisher:   publisher,
		schedule:    schedule.New(schedule.WithClock(now), schedule.WithLocation(loc)),
		image:       imaging.Options{Size: cfg.ImageSize, Quality: cfg.ImageQuality, MaxPixels: cfg.ImageMaxPixels},
		imageURLTTL: urlTTL,
		now:         now,
	}, nil
}

// JWKS returns the public signing keys when the session store publishes them.
func (a *App) JWKS() []store.JWK {
	if provider, ok := a.sessions.(store.JWKSProvider); ok {
		return provider.JWKS()
	}
	return nil
}

// Subscribe streams every change to the user's records and sessions.
func (a *App) Subscribe(ctx context.Context, user domain.User) (events.Subscription, error) {
	sub, err := a.feed.Subscribe(ctx, domain.UserPath(user.ID))
	if err != nil {
		return nil, fmt.Errorf("subscribe changes: %w", err)
	}
	return sub, nil
}

// publish sends an application level event. Like store writes, the action
// already happened, so failures are only logged.
func (a *App) publish(ctx context.Context, kind events.Kind, path string) {
	if err := a.publisher.Publish(ctx, events.NewChange(kind, path)); err != nil {
		util.LoggerFromContext(ctx).Warn("publish change failed", "kind", kind, "path", path, "err", err)
	}
}

func (a *App) plantRef(user domain.User, plantID string) (domain.PlantRef, error) {
	plantID = strings.TrimSpace(plantID)
	if plantID == "" || strings.Contains(plantID, "/") {
		return domain.PlantRef{}, ErrPlantNotFound
	}
	return domain.PlantRef{UserID: user.ID, PlantID: plantID}, nil
}

func (a *App) loadPlant(ctx context.Context, ref domain.PlantRef) (domain.Plant, error) {
	plant, ok, err := a.store.GetPlant(ctx, ref)
	if err != nil {
		return domain.Plant{}, fmt.Errorf("get plant: %w", err)
	}
	if !ok {
		return domain.Plant{}, ErrPlantNotFound
	}
	return plant, nil
}
