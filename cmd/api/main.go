package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/notely/notely-go/internal/config"
	"github.com/notely/notely-go/internal/crypto"
	"github.com/notely/notely-go/internal/handler"
	"github.com/notely/notely-go/internal/ledger"
	"github.com/notely/notely-go/internal/mailer"
	"github.com/notely/notely-go/internal/repository"
	"github.com/notely/notely-go/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg := config.Load()
	slog.SetDefault(newLogger(cfg))

	// Cancelled on shutdown to stop janitors and the rate limiter cleanup.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repository.NewDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	otps, pending, err := newLedgers(ctx, cfg)
	if err != nil {
		slog.Error("ledger setup failed", "backend", cfg.LedgerBackend, "error", err)
		os.Exit(1)
	}

	mail, err := mailer.New(cfg, slog.Default())
	if err != nil {
		slog.Error("mailer setup failed", "error", err)
		os.Exit(1)
	}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	noteRepo := repository.NewNoteRepository(db)

	go ledger.RunJanitor(ctx, "sessions", cfg.SweepInterval, func(ctx context.Context) (int, error) {
		n, err := sessionRepo.DeleteExpired(ctx, time.Now())
		return int(n), err
	})

	hasher := crypto.NewArgon2Hasher(crypto.DefaultHashParams())
	tokens := crypto.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)

	registrationService := service.NewRegistrationService(userRepo, otps, pending, mail, hasher, cfg.OTPTTL)
	authService := service.NewAuthService(userRepo, sessionRepo, hasher, tokens, cfg.SessionTTL)
	noteService := service.NewNoteService(noteRepo)

	router := handler.NewRouter(ctx, handler.Deps{
		Auth:     handler.NewAuthHandler(registrationService, authService, cfg.CookieSecure),
		Notes:    handler.NewNoteHandler(noteService),
		Tokens:   tokens,
		Sessions: sessionRepo,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Env, "ledger", cfg.LedgerBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// newLedgers builds the OTP and pending-registration ledgers for the
// configured backend. Memory ledgers get a janitor; Redis expires keys itself.
func newLedgers(ctx context.Context, cfg config.Config) (ledger.OTPLedger, ledger.PendingLedger, error) {
	switch cfg.LedgerBackend {
	case "memory":
		otps := ledger.NewMemoryOTP(cfg.OTPTTL)
		pending := ledger.NewMemoryPending(cfg.PendingTTL)
		go ledger.RunJanitor(ctx, "otp", cfg.SweepInterval, otps.Sweep)
		go ledger.RunJanitor(ctx, "pending", cfg.SweepInterval, pending.Sweep)
		return otps, pending, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("pinging redis: %w", err)
		}
		return ledger.NewRedisOTP(client, cfg.OTPTTL), ledger.NewRedisPending(client, cfg.PendingTTL), nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}
