// Package main запускает HTTP-сервер сервиса treeledger.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/treeledger/internal/auth"
	"github.com/mmeshcher/treeledger/internal/config"
	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/handler"
	"github.com/mmeshcher/treeledger/internal/metrics"
	"github.com/mmeshcher/treeledger/internal/middleware"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/payment"
	"github.com/mmeshcher/treeledger/internal/repository"
	"github.com/mmeshcher/treeledger/internal/service"
)

// store описывает хранилище реестра с начальной инициализацией протокола.
type store interface {
	service.Repository
	EnsureProtocol(ctx context.Context, state model.ProtocolState) error
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	protocol, err := config.LoadProtocol(cfg.ProtocolFile)
	if err != nil {
		sugar.Fatalw("protocol file error", "error", err.Error(), "path", cfg.ProtocolFile)
	}

	var repo store
	if cfg.DatabaseURI != "" {
		repo, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	if err := repo.EnsureProtocol(context.Background(), model.ProtocolState{Config: protocol}); err != nil {
		sugar.Fatalw("protocol initialization error", "error", err.Error())
	}

	var rail payment.Rail
	if cfg.PaymentRailAddress != "" {
		rail = payment.NewClient(cfg.PaymentRailAddress, cfg.TreasuryAccount)
	} else {
		sugar.Warn("PAYMENT_RAIL_ADDRESS is empty, using in-memory payment rail")
		rail = payment.NewMemoryRail(cfg.TreasuryAccount)
	}

	m := metrics.New()

	emitter := events.NewEmitter(logger)
	emitter.SubscribeAll(events.LogHandler(logger))
	emitter.SubscribeAll(m.EventHandler())

	handlerOpts := []handler.Option{
		handler.WithOperatorAuth(middleware.NewOperatorAuth(cfg.AuthSecret, logger)),
		handler.WithMetrics(m),
		handler.WithRateLimiter(middleware.NewRateLimiter(cfg.RateLimitRPM)),
	}

	if cfg.JournalPath != "" {
		journal, err := events.OpenJournal(cfg.JournalPath)
		if err != nil {
			sugar.Fatalw("event journal error", "error", err.Error(), "path", cfg.JournalPath)
		}
		defer journal.Close()

		emitter.SubscribeAll(journal.Handler(logger))
		handlerOpts = append(handlerOpts, handler.WithJournal(journal))
	}

	svc := service.NewService(repo, rail, auth.NewRoleAuthorizer(cfg.OperatorList()...),
		service.WithEmitter(emitter),
		service.WithLogger(logger),
	)
	defer svc.Close()

	if state, err := svc.Config(context.Background()); err == nil {
		m.SetPaused(state.Paused)
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, handlerOpts...)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting treeledger server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
