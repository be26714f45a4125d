package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/back-your-boy-backend/internal/cache"
	"github.com/DoyleJ11/back-your-boy-backend/internal/config"
	"github.com/DoyleJ11/back-your-boy-backend/internal/history"
	"github.com/DoyleJ11/back-your-boy-backend/internal/httpapi"
	"github.com/DoyleJ11/back-your-boy-backend/internal/logging"
	"github.com/DoyleJ11/back-your-boy-backend/internal/registry"
	"github.com/DoyleJ11/back-your-boy-backend/internal/room"
	"github.com/DoyleJ11/back-your-boy-backend/internal/ws"
)

var version = "0.1.0"

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.NewCommand(version, run).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	log, err := logging.New(cfg.Verbose, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := openHistory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s history: %w", cfg.HistoryBackend, err)
	}
	var recorder *history.Recorder
	var roomRecorder room.Recorder
	if store != nil {
		recorder = history.NewRecorder(store, log, 0)
		roomRecorder = recorder
	}

	var ledger registry.Ledger
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return multierr.Combine(fmt.Errorf("connect redis: %w", err), rdb.Close(), closeStore(store))
		}
		ledger = cache.NewCodeLedger(rdb, uuid.NewString())
	}

	// Rooms outlive the signal context so shutdown can close them in order.
	reg := registry.New(context.WithoutCancel(ctx), registry.Options{
		Settings:   cfg.Settings(),
		Logger:     log,
		Recorder:   roomRecorder,
		EmptyGrace: cfg.EmptyGrace,
		RoomInbox:  cfg.RoomInbox,
		Ledger:     ledger,
	})

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Registry: reg,
			History:  store,
			Logger:   log,
			WS: ws.Options{
				Logger:         log,
				OriginPatterns: cfg.AllowedOrigins,
				Buffer:         cfg.ClientBuffer,
				Limit:          rate.Limit(cfg.RateLimit),
				Burst:          cfg.RateBurst,
			},
			Prefix:         cfg.Prefix,
			JoinURL:        cfg.JoinURL,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	recCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRecorder()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("history", cfg.HistoryBackend),
			zap.Bool("shared_codes", ledger != nil),
			zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if recorder != nil {
		g.Go(func() error { return recorder.Run(recCtx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		// Rooms first so every client sees the CLOSED snapshot.
		err := multierr.Combine(reg.Shutdown(shutdownCtx), srv.Shutdown(shutdownCtx))
		stopRecorder()
		return err
	})
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	var closeErr error
	if recorder != nil {
		closeErr = multierr.Append(closeErr, recorder.Close(closeCtx))
	}
	if rdb != nil {
		closeErr = multierr.Append(closeErr, rdb.Close())
	}
	if closeErr != nil {
		log.Error("closing resources", zap.Error(closeErr))
	}
	return multierr.Combine(runErr, closeErr)
}

func openHistory(ctx context.Context, cfg *config.Config) (history.Store, error) {
	switch cfg.HistoryBackend {
	case config.HistoryPostgres:
		return history.OpenPostgres(cfg.PostgresDSN)
	case config.HistoryMongo:
		return history.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.HistoryNone:
		return nil, nil
	default:
		return history.NewMemoryStore(), nil
	}
}

func closeStore(store history.Store) error {
	if store == nil {
		return nil
	}
	return store.Close(context.Background())
}
