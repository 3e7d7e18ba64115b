package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/raffle-reservation/internal/config"
	"github.com/iliyamo/raffle-reservation/internal/database"
	"github.com/iliyamo/raffle-reservation/internal/events"
	"github.com/iliyamo/raffle-reservation/internal/handler"
	"github.com/iliyamo/raffle-reservation/internal/lock"
	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/middleware"
	"github.com/iliyamo/raffle-reservation/internal/queue"
	"github.com/iliyamo/raffle-reservation/internal/realtime"
	"github.com/iliyamo/raffle-reservation/internal/repository"
	"github.com/iliyamo/raffle-reservation/internal/router"
	"github.com/iliyamo/raffle-reservation/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	boot := logging.New("boot", os.Getenv("APP_ENV"))
	cfg, err := config.Load()
	if err != nil {
		boot.Fatalf("config: %v", err)
	}
	log := logging.New("raffle", cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Store ----
	var store repository.Store
	var db *sql.DB
	switch cfg.Store.Driver {
	case "memory":
		log.Warnf("store: using in-memory store; state is lost on restart and not shared between instances")
		store = repository.NewMemoryStore()
	default:
		db, err = database.Open(cfg.DB)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer db.Close()
		if cfg.Store.Migrate {
			if err := database.Migrate(ctx, db); err != nil {
				log.Fatalf("db: migrate: %v", err)
			}
		}
		store = repository.NewMySQLStore(db)
	}
	breaker := service.NewBreakerStore(store, cfg.Breaker, log)

	// ---- Redis ----
	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Warnf("redis: unavailable; rate limiting, caching, cross-instance fan-out and sweeper election are off")
	} else {
		defer rdb.Close()
	}

	// ---- Events and realtime ----
	hub := realtime.NewHub(cfg.WS.SendBuffer, log)
	defer hub.Close()

	var sinks []events.Sink
	if rdb != nil {
		// Every instance, this one included, receives events through the
		// relay, so the local hub gets no direct sink.
		sinks = append(sinks, events.NewRedisSink(rdb, cfg.Events.Channel))
		relay := events.NewRedisRelay(rdb, cfg.Events.Channel, hub, log)
		go relay.Run(ctx)
	} else {
		sinks = append(sinks, events.LocalSink{Target: hub})
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer ks.Close()
		sinks = append(sinks, ks)
	}
	bus := events.NewBus(cfg.Events.QueueSize, log, sinks...)
	go bus.Run(ctx)

	// ---- Service ----
	svc := service.NewReservationService(breaker, bus, service.Options{
		HoldDuration: cfg.Hold.Duration,
		RefreshOnAdd: cfg.Hold.RefreshOnAdd,
		MaxNumbers:   cfg.Hold.MaxNumbers,
	}, log)

	sweepOpts := service.SweeperOptions{
		Interval: cfg.Sweep.Interval,
		Batch:    cfg.Sweep.Batch,
		LockTTL:  cfg.Sweep.LockTTL,
	}
	if rdb != nil {
		sweepOpts.Locker = service.RedisLeaser{L: lock.NewRedisLocker(rdb)}
	}
	go service.NewSweeper(svc, sweepOpts, log).Run(ctx)

	if cfg.RabbitMQ.Enabled {
		pub := queue.NewPublisher(cfg.RabbitMQ, log)
		defer pub.Close()
		svc.SetNotifier(pub)
		go queue.NewPaymentConsumer(cfg.RabbitMQ, svc, pub, log).Run(ctx)
	}

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.Logger = log
	e.Use(echomw.Recover())

	router.RegisterRoutes(e, router.Deps{
		JWTSecret:    cfg.JWT.Secret,
		MetricsPath:  cfg.App.MetricsPath,
		Reservations: handler.NewReservationHandler(svc),
		Raffles:      handler.NewRaffleHandler(svc),
		Gateway:      realtime.NewGateway(hub, cfg.WS),
		Health:       handler.Health(breaker),
		RateLimit:    rateLimit(cfg, rdb),
		Cache:        cache(cfg, rdb),
	})

	addr := ":" + cfg.App.Port
	go func() {
		log.Infof("listening on %s (env=%s, store=%s)", addr, cfg.App.Env, cfg.Store.Driver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http: shutdown: %v", err)
	}
}

func rateLimit(cfg config.Config, rdb *redis.Client) echo.MiddlewareFunc {
	if rdb == nil {
		return nil
	}
	return middleware.NewTokenBucket(cfg.RateLimit, rdb)
}

func cache(cfg config.Config, rdb *redis.Client) echo.MiddlewareFunc {
	if rdb == nil {
		return nil
	}
	return middleware.NewRedisCache(cfg.Cache, rdb)
}
