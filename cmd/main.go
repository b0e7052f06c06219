package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/circulation/internal/config"
	httpapi "github.com/tinoosan/circulation/internal/httpapi/v1"
	"github.com/tinoosan/circulation/internal/library"
	"github.com/tinoosan/circulation/internal/storage"
	"github.com/tinoosan/circulation/internal/storage/memory"
	pgstore "github.com/tinoosan/circulation/internal/storage/postgres"
	idemredis "github.com/tinoosan/circulation/internal/storage/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("circulation service stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	var (
		store   httpapi.Store
		idem    storage.IdempotencyStore
		closers []func()
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	if cfg.DatabaseURL != "" {
		// Use Postgres store when DATABASE_URL is provided
		var opts []pgstore.Option
		if cfg.DBLockTimeout > 0 {
			opts = append(opts, pgstore.WithLockTimeout(cfg.DBLockTimeout))
		}
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL, opts...)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		// Optional dev seed for compose/local
		if cfg.DevSeed {
			users, books, err := pg.SeedDev(ctx)
			if err != nil {
				logger.Error("dev seed failed", "err", err)
			} else {
				logDevSeed(logger, "postgres", users, books)
				printDevSeedBanner(users, books)
			}
		}
		store = pg
		logger.Info("storage backend: postgres")
	} else {
		// Default to in-memory store with a small dev seed
		var opts []memory.Option
		if cfg.DBLockTimeout > 0 {
			opts = append(opts, memory.WithLockWait(cfg.DBLockTimeout))
		}
		mem := memory.New(opts...)
		users, books := pgstore.DevFixtures()
		for _, u := range users {
			mem.SeedUser(u)
		}
		for _, b := range books {
			mem.SeedBook(b)
		}
		logDevSeed(logger, "memory", users, books)
		printDevSeedBanner(users, books)
		store, idem = mem, mem
		logger.Info("storage backend: memory")
	}

	if cfg.RedisURL != "" {
		rs, err := idemredis.Open(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() { _ = rs.Close() })
		idem = rs
		logger.Info("idempotency backend: redis")
	} else if idem == nil {
		// postgres without redis still deduplicates within this process
		idem = memory.New()
		logger.Warn("idempotency backend: memory (REDIS_URL not set)")
	}

	if cfg.JWT.Secret == "" {
		logger.Warn("JWT_HS256_SECRET not set; trusting X-User-ID and X-User-Role headers")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.New(store, idem, cfg.JWT, logger).Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("circulation service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error("server shutdown error", "err", err)
			return err
		}
		logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}

// logDevSeed emits structured logs with useful IDs
func logDevSeed(l *slog.Logger, backend string, users []library.User, books []library.Book) {
	ids := map[string]string{}
	for _, u := range users {
		ids[string(u.Role)+"_user_id"] = u.ID.String()
	}
	for _, b := range books {
		ids[b.Title] = b.ID.String()
	}
	l.Info("DEV seed ("+backend+")", "ids", ids)
}

// printDevSeedBanner prints a simple banner to stdout for easy copy/paste of IDs
func printDevSeedBanner(users []library.User, books []library.Book) {
	fmt.Println("==================== DEV SEED ====================")
	for _, u := range users {
		fmt.Printf("%s_user_id: %s\n", u.Role, u.ID)
	}
	for _, b := range books {
		fmt.Printf("book_id: %s  (%s, %d copies)\n", b.ID, b.Title, b.TotalCopies)
	}
	fmt.Println("==================================================")
}

// parseLogLevel maps env values to slog.Leveler
func parseLogLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	// default to JSON
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
