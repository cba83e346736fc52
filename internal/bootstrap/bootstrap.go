package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"fournil/backend/internal/cache"
	"fournil/backend/internal/catalog"
	"fournil/backend/internal/config"
	"fournil/backend/internal/live"
	"fournil/backend/internal/production"
	"fournil/backend/internal/service"
	"fournil/backend/internal/store"
	"fournil/backend/internal/store/memory"
	pgstore "fournil/backend/internal/store/postgres"
)

// App is the wired backend shared by the HTTP server and the ops CLI.
type App struct {
	Repo     store.Repository
	Broker   live.Broker
	Catalog  *catalog.Source
	Programs *production.Manager
	Service  *service.Service

	closers []func() error
}

// Open selects the repository and the Redis-backed cache and broker. A set
// DATABASE_URL that cannot be reached is fatal; an unreachable Redis falls
// back to the in-process implementations.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{}

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		app.Repo = pg
		app.closers = append(app.closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		app.Repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	var catalogCache cache.CatalogCache = cache.NoopCatalogCache{}
	var broker live.Broker = live.NewMemoryBroker()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("redis unavailable (%v), using noop cache and in-process live updates", err)
			_ = client.Close()
		} else {
			catalogCache = cache.NewRedisCatalogCache(client)
			broker = live.NewRedisBroker(client)
			app.closers = append(app.closers, client.Close)
			log.Println("cache: redis, live: redis pub/sub")
		}
	} else {
		log.Println("cache: noop, live: in-process")
	}

	app.Broker = broker
	app.Catalog = catalog.NewSource(app.Repo, catalogCache, cfg.CatalogCacheTTL())
	app.Programs = production.NewManager(app.Repo, app.Catalog, app.Repo, broker)
	app.Service = service.New(app.Repo, app.Catalog, app.Programs, service.BillingDefaults{
		TaxRate:         cfg.DefaultTaxRate,
		NumberPrefix:    cfg.InvoicePrefix,
		PaymentTerms:    cfg.PaymentTerms,
		PaymentTermDays: cfg.PaymentTermDays,
		LegalMentions:   cfg.LegalMentions,
	})

	if _, err := app.Service.LoadBillingConfig(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("load billing configuration: %w", err)
	}
	return app, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("close error: %v", err)
		}
	}
	a.closers = nil
}
