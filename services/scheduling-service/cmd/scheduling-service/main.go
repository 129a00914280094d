package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/slotwise/slotwise/libs/config"
	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/libs/httpx"
	"github.com/slotwise/slotwise/libs/kafkax"
	otelx "github.com/slotwise/slotwise/libs/otel"
	"github.com/slotwise/slotwise/libs/runtime"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/audit"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/handlers"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/jobs"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/notify"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/offers"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/optimizer"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/outbox"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/policy"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/scheduler"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/slots"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/storage"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/waitlist"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: config.String("REDIS_ADDR", "localhost:6379")})
	defer rdb.Close()

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	auditor := audit.NewRecorder(pool, outboxRepo)
	emitter := notify.NewEmitter(outboxRepo)
	offerStore := offers.NewRedisStore(rdb, config.Minutes("OFFER_TTL_MINUTES", 10))
	jobsRepo := jobs.NewRepository(pool)

	enforcer := policy.NewEnforcer(repo)
	finder := slots.NewFinder(repo, enforcer)
	wl := waitlist.NewManager(repo)

	// The optimizer books through the scheduler and the scheduler dispatches
	// gaps to the optimizer, so the dispatcher is bound after both exist.
	sched := scheduler.New(repo, enforcer, emitter, auditor, logger)
	engine := optimizer.NewEngine(repo, sched, offerStore, emitter, jobsRepo, auditor, logger)
	sched.WithGapFiller(optimizer.NewDispatcher(engine, logger))

	worker := jobs.NewWorker(pool, jobsRepo, engine, logger, jobs.WorkerConfig{
		Interval:  config.Minutes("GAP_JOB_POLL_MINUTES", 1),
		BatchSize: config.Int("GAP_JOB_BATCH_SIZE", 20),
		Backoff:   config.Minutes("GAP_JOB_RETRY_MINUTES", 5),
	})
	go worker.Run(ctx)

	schedulingHandler := handlers.NewSchedulingHandler(repo, finder, sched, wl, engine, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
		runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)
	mux.HandleFunc("/api/v1/slots", schedulingHandler.Slots)
	mux.HandleFunc("/api/v1/appointments", schedulingHandler.Book)
	mux.HandleFunc("/api/v1/appointments/reschedule", schedulingHandler.Reschedule)
	mux.HandleFunc("/api/v1/appointments/cancel", schedulingHandler.Cancel)
	mux.HandleFunc("/api/v1/schedule", schedulingHandler.Schedule)
	mux.HandleFunc("/api/v1/waitlist", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			schedulingHandler.WaitlistEntries(w, r)
			return
		}
		schedulingHandler.WaitlistJoin(w, r)
	})
	mux.HandleFunc("/api/v1/waitlist/leave", schedulingHandler.WaitlistLeave)
	mux.HandleFunc("/api/v1/waitlist/offers/accept", schedulingHandler.WaitlistAccept)
	mux.HandleFunc("/api/v1/waitlist/offers/decline", schedulingHandler.WaitlistDecline)
	mux.HandleFunc("/api/v1/moves/offers/accept", schedulingHandler.MoveAccept)
	mux.HandleFunc("/api/v1/moves/offers/decline", schedulingHandler.MoveDecline)

	// The redis limiter fails open when redis is unreachable; the in-process
	// limiter still bounds a single instance in that case.
	limiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, service)
	localLimiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_INSTANCE", 600), time.Minute)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		limiter.Middleware(logger, true),
		localLimiter.Middleware(),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
