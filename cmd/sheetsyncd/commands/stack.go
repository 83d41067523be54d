package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/fincontrol/sheetsync/internal/cache"
	cachememory "github.com/fincontrol/sheetsync/internal/cache/memory"
	cacheredis "github.com/fincontrol/sheetsync/internal/cache/redis"
	"github.com/fincontrol/sheetsync/internal/config"
	"github.com/fincontrol/sheetsync/internal/engine"
	"github.com/fincontrol/sheetsync/internal/lock"
	queuesqlite "github.com/fincontrol/sheetsync/internal/queue/sqlite"
	"github.com/fincontrol/sheetsync/internal/reconcile"
	"github.com/fincontrol/sheetsync/internal/sheet"
	"github.com/fincontrol/sheetsync/internal/sheet/fake"
	"github.com/fincontrol/sheetsync/internal/sheet/googlesheets"
	storagesqlite "github.com/fincontrol/sheetsync/internal/storage/sqlite"
)

// stack holds the fully wired synchronization components.
type stack struct {
	Settings  *config.Settings
	Engine    *engine.Engine
	Scheduler *reconcile.Scheduler

	db          *sql.DB
	redisClient *goredis.Client
}

// newStack wires the storage, queue, cache and sheet gateway into an engine
// and a reconciliation scheduler. Callers must Close it when done.
func newStack(ctx context.Context, rootCmd *RootCommand) (*stack, error) {
	logger := rootCmd.Logger

	settings, err := rootCmd.LoadSettings()
	if err != nil {
		return nil, err
	}

	db, err := storagesqlite.Open(ctx, settings.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	repo, err := storagesqlite.NewRepository(storagesqlite.RepositoryConfig{DB: db, Logger: logger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	pending, err := queuesqlite.NewQueue(queuesqlite.QueueConfig{DB: db, Logger: logger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create pending write queue: %w", err)
	}

	var taskCache cache.Cache
	var redisClient *goredis.Client
	if settings.RedisAddr != "" {
		redisClient = goredis.NewClient(&goredis.Options{Addr: settings.RedisAddr})
		taskCache, err = cacheredis.NewCache(cacheredis.CacheConfig{
			Client: redisClient,
			TTL:    settings.CacheTTL,
			Logger: logger,
		})
	} else {
		taskCache, err = cachememory.NewCache(cachememory.CacheConfig{
			TTL:    settings.CacheTTL,
			Logger: logger,
		})
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create cache: %w", err)
	}

	gateway, err := newGateway(ctx, rootCmd, settings)
	if err != nil {
		db.Close()
		return nil, err
	}

	locks := lock.NewKeyedMutex()

	eng, err := engine.New(engine.Config{
		Gateway:  gateway,
		Cache:    taskCache,
		Repo:     repo,
		Queue:    pending,
		Settings: settings,
		Locks:    locks,
		Logger:   logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create engine: %w", err)
	}

	scheduler, err := reconcile.New(reconcile.Config{
		Gateway:  gateway,
		Cache:    taskCache,
		Repo:     repo,
		Settings: settings,
		Locks:    locks,
		Logger:   logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create reconciler: %w", err)
	}

	return &stack{
		Settings:    settings,
		Engine:      eng,
		Scheduler:   scheduler,
		db:          db,
		redisClient: redisClient,
	}, nil
}

func newGateway(ctx context.Context, rootCmd *RootCommand, settings *config.Settings) (sheet.Gateway, error) {
	if rootCmd.FakeSheet {
		return fake.NewGateway(fake.GatewayConfig{
			MaxRows: settings.MaxRows,
			Logger:  rootCmd.Logger,
		})
	}

	if rootCmd.CredentialsFile == "" {
		return nil, fmt.Errorf("credentials file is required (or use --fake-sheet)")
	}
	creds, err := os.ReadFile(rootCmd.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("could not read credentials file: %w", err)
	}

	// A single limiter instance so flush retries and reconciliation sweeps
	// draw from the same API budget.
	limiter := rate.NewLimiter(rate.Limit(settings.FlushRatePerSec), 1)

	return googlesheets.NewGateway(ctx, googlesheets.GatewayConfig{
		CredentialsJSON: creds,
		SpreadsheetID:   settings.SpreadsheetID,
		WorksheetName:   settings.WorksheetName,
		MaxRows:         settings.MaxRows,
		Limiter:         limiter,
		Logger:          rootCmd.Logger,
	})
}

// Close releases the stack resources.
func (s *stack) Close() error {
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	return s.db.Close()
}
