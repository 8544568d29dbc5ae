package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pelusa-v/lostfound-chat/internal/chat"
	"github.com/pelusa-v/lostfound-chat/internal/config"
	"github.com/pelusa-v/lostfound-chat/internal/handlers"
	"github.com/pelusa-v/lostfound-chat/internal/logger"
	"github.com/pelusa-v/lostfound-chat/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Printf("lostfound-chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = zlog.Sync() }()

	st, err := openStore(cfg, zlog)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			zlog.Error("closing store", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager := chat.NewChatManager(st, chat.NewRegistry(), cfg.SendBufferSize, zlog)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(logger.RequestLogger(zlog))
	handlers.Register(app,
		handlers.NewHandlers(ctx, manager, zlog),
		handlers.NewJWTVerifier([]byte(cfg.JWTSecret)))

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Addr(), err)
	}

	errChan := make(chan error, 1)
	go func() {
		zlog.Info("chat server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("store", cfg.StoreDriver))
		errChan <- app.Listener(ln)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zlog.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errChan; err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func openStore(cfg *config.Config, zlog *zap.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return store.NewMemoryStore(zlog), nil
	default:
		st, err := store.NewSQLiteStore(cfg.SQLitePath, zlog)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return st, nil
	}
}
