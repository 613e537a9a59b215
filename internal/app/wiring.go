package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"poolwatch/internal/alert"
	apihttp "poolwatch/internal/api/http"
	"poolwatch/internal/api/http/handlers"
	"poolwatch/internal/api/http/mw"
	"poolwatch/internal/config"
	"poolwatch/internal/dedupe"
	dredis "poolwatch/internal/dedupe/redis"
	"poolwatch/internal/delivery"
	"poolwatch/internal/domain"
	"poolwatch/internal/ingest"
	"poolwatch/internal/metrics"
	"poolwatch/internal/pubsub"
	"poolwatch/internal/pubsub/nats"
	"poolwatch/internal/scheduler"
	"poolwatch/internal/security"
	"poolwatch/internal/service"
	"poolwatch/internal/stores/clickhouse"
	"poolwatch/internal/stores/redis"
	"poolwatch/internal/stores/sqldb"
	"poolwatch/internal/window"

	"github.com/grafana/pyroscope-go"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

type Container struct {
	app *App
	log logger.Logger

	// infra
	db       *sqldb.DB
	redis    *redis.Client
	ch       *clickhouse.Conn
	chWriter *clickhouse.Writer
	nc       *nats.Client
	memCache *dedupe.MemoryDedupe

	// services
	gateway   *ingest.Gateway
	scheduler *scheduler.Scheduler
	queue     *delivery.Queue

	// servers
	httpSrv *apihttp.Server

	// metrics
	profiler *pyroscope.Profiler
}

func (c *Container) Start(ctx context.Context) error {
	return c.app.Start(ctx)
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown is failed, error=%w", err)
	}
	return nil
}

// Build constructs every component. The returned cleanup closes infra in reverse dependency order
// and is safe to call on a partially built container.
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Infof("Successfully initialize logger")

	c := &Container{log: lg}
	cleanup := c.cleanup

	fail := func(format string, args ...any) (*Container, func(), error) {
		cleanup()
		return nil, func() {}, fmt.Errorf(format, args...)
	}

	profiler, err := metrics.InitPProf(&cfg.Metrics.Pyroscope, cfg.App.InstanceID)
	if err != nil {
		return fail("pyroscope initialize failed, error=%w", err)
	}
	if profiler != nil {
		c.profiler = profiler
		lg.Infof("Successfully initialize Pyroscope to %s", cfg.Metrics.Pyroscope.ServerAddr)
	}

	// Event store + dedup registry table
	if c.db, err = sqldb.Open(ctx, lg, &cfg.Stores.Database); err != nil {
		return fail("failed to initialize database, error=%w", err)
	}
	events, err := sqldb.NewEventStore(lg, c.db, cfg.Ingest.InsertBatchSize)
	if err != nil {
		return fail("failed to initialize event store, error=%w", err)
	}
	alerts, err := sqldb.NewAlertStore(c.db)
	if err != nil {
		return fail("failed to initialize alert store, error=%w", err)
	}
	lg.Infof("Successfully initialize %s event store", c.db.Dialect)

	// Redis client, optional
	if cfg.Stores.Redis.Addr != "" {
		if c.redis, err = redis.New(ctx, &cfg.Stores.Redis); err != nil {
			return fail("failed to initialize redis client, error=%w", err)
		}
		lg.Infof("Successfully initialize redis client, addr=%s", cfg.Stores.Redis.Addr)
	}

	// Dedupe cache in front of the registry table
	var cache dedupe.Cache
	switch strings.ToLower(cfg.Dedupe.Cache) {
	case "redis":
		if c.redis == nil {
			return fail("dedupe.cache=redis requires stores.redis.addr")
		}
		rc, err := dredis.NewRedisDeduper(lg, &cfg.Dedupe, c.redis)
		if err != nil {
			return fail("failed to initialize redis dedupe cache, error=%w", err)
		}
		cache = rc
	case "memory", "":
		c.memCache = dedupe.NewInMemoryDedupe(lg, cfg.Dedupe.TTL, time.Minute)
		cache = c.memCache
	case "none":
	default:
		return fail("unknown dedupe.cache %q", cfg.Dedupe.Cache)
	}
	registry, err := dedupe.NewAlertRegistry(lg, alerts, cache)
	if err != nil {
		return fail("failed to initialize alert registry, error=%w", err)
	}
	lg.Infof("Successfully initialize Dedup Registry, cache=%s", cfg.Dedupe.Cache)

	// ClickHouse analytics sink, optional
	var sink ingest.SwapSink
	if cfg.Stores.ClickHouse.Enabled {
		if c.ch, err = clickhouse.New(ctx, &cfg.Stores.ClickHouse); err != nil {
			return fail("failed to initialize clickhouse client, error=%w", err)
		}
		c.chWriter = clickhouse.NewWriter(lg, c.ch.Native, cfg.Stores.ClickHouse)
		sink = c.chWriter
		lg.Infof("Successfully initialize clickhouse writer, url=%s", strings.Split(cfg.Stores.ClickHouse.DSN, "?")[0])
	}

	// Ingestion gateway
	if c.gateway, err = ingest.NewGateway(lg, &cfg.Ingest, cfg.Chains, events, sink); err != nil {
		return fail("failed to initialize ingestion gateway, error=%w", err)
	}
	if err = c.gateway.WarmUp(ctx); err != nil {
		return fail("failed to warm up pool cache, error=%w", err)
	}

	// Activity aggregator
	engine, err := window.NewWindowEngine(lg, &cfg.Window, events)
	if err != nil {
		return fail("failed to initialize window engine, error=%w", err)
	}

	// Composer
	gen, err := alert.NewGenerator(&cfg.Composer)
	if err != nil {
		return fail("failed to initialize alert generator, error=%w", err)
	}
	composer, err := alert.NewComposer(lg, &cfg.Composer, gen)
	if err != nil {
		return fail("failed to initialize composer, error=%w", err)
	}

	// NATS, required only by the nats delivery channel
	var (
		broadcaster pubsub.Broadcaster
		subject     func(domain.Chain) string
	)
	if strings.EqualFold(cfg.Delivery.Channel, "nats") || cfg.PubSub.NATS.URL != "" {
		if c.nc, err = nats.New(lg, &cfg.PubSub.NATS); err != nil {
			return fail("failed to initialize nats client, error=%w", err)
		}
		broadcaster = c.nc
		nc := c.nc
		subject = func(chain domain.Chain) string { return nc.Subject(string(chain)) }
	}

	// Delivery queue
	poster, err := delivery.NewPoster(lg, &cfg.Delivery, broadcaster, subject)
	if err != nil {
		return fail("failed to initialize %s poster, error=%w", cfg.Delivery.Channel, err)
	}
	if c.queue, err = delivery.NewQueue(lg, &cfg.Delivery, poster); err != nil {
		return fail("failed to initialize delivery queue, error=%w", err)
	}
	lg.Infof("Successfully initialize delivery queue, channel=%s", poster.Name())

	// Scheduler
	if c.scheduler, err = scheduler.New(lg, &cfg.Scheduler, cfg.Chains, engine, registry, composer, c.queue); err != nil {
		return fail("failed to initialize scheduler, error=%w", err)
	}

	// HTTP
	var mws apihttp.Middlewares
	mws.Logging = mw.NewLogging(lg)

	if cfg.Security.JWT.Enabled {
		verifier, err := security.NewRS256Verifier(&cfg.Security.JWT)
		if err != nil {
			return fail("failed to initialize JWT verifier, error=%w", err)
		}
		if mws.JWT, err = mw.NewJWTMiddleware(verifier); err != nil {
			return fail("failed to initialize JWT middleware, error=%w", err)
		}
		lg.Infof("Successfully initialize JWT-Verifier")
	}

	if cfg.RateLimit.Enabled {
		if c.redis == nil {
			lg.Warnf("rate_limit.enabled without stores.redis.addr, rate limiting is off")
		} else if mws.RateLimit, err = mw.NewRateLimit(lg, &cfg.RateLimit, c.redis); err != nil {
			return fail("failed to initialize rate limiter, error=%w", err)
		}
	}

	if cfg.API.HTTP.CORS.Enabled {
		if mws.CORS, err = mw.NewCORS(&cfg.API.HTTP.CORS); err != nil {
			return fail("failed to initialize CORS, error=%w", err)
		}
	}

	svc, err := service.NewPoolwatchService(lg, c.gateway, events, engine, alerts, c.queue, c.dependencies(events)...)
	if err != nil {
		return fail("failed to initialize service, error=%w", err)
	}
	h, err := handlers.NewHandler(lg, svc, cfg.Ingest.MaxBodyBytes)
	if err != nil {
		return fail("failed to initialize handlers, error=%w", err)
	}
	if c.httpSrv, err = apihttp.NewServer(lg, &cfg.API.HTTP, apihttp.BuildRouter(h, mws)); err != nil {
		return fail("failed to initialize HTTP server, error=%w", err)
	}
	lg.Infof("Successfully initialize HTTP server")

	c.app = NewApp(lg, c.httpSrv, c.queue, c.scheduler)

	lg.Infof("Successfully initialize Wiring")
	return c, cleanup, nil
}

func (c *Container) dependencies(events *sqldb.EventStore) []service.Dependency {
	deps := []service.Dependency{{Name: "database", Check: events.Health}}
	if c.redis != nil {
		deps = append(deps, service.Dependency{Name: "redis", Check: c.redis.Health})
	}
	if c.ch != nil {
		deps = append(deps, service.Dependency{Name: "clickhouse", Check: c.ch.Health})
	}
	if c.nc != nil {
		deps = append(deps, service.Dependency{Name: "nats", Check: c.nc.Health})
	}
	return deps
}

func (c *Container) cleanup() {
	ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.chWriter != nil {
		if err := c.chWriter.Close(ctxClean); err != nil {
			c.log.Errorf("Failed to close by cleanup clickhouse writer: %v", err)
		}
	}
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.log.Errorf("Failed to close by cleanup clickhouse client: %v", err)
		}
	}
	if c.nc != nil {
		if err := c.nc.Close(); err != nil {
			c.log.Errorf("Failed to close by cleanup nats client: %v", err)
		}
	}
	if c.memCache != nil {
		c.memCache.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.log.Errorf("Failed to close by cleanup redis client: %v", err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.log.Errorf("Failed to close by cleanup database: %v", err)
		}
	}
	if c.profiler != nil {
		if err := c.profiler.Stop(); err != nil {
			c.log.Errorf("Failed to stop profiler: %v", err)
		}
	}

	c.log.Infof("Successfully cleaned up dependency")
}
