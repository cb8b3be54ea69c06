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

	_ "github.com/lib/pq"
	"github.com/npezzotti/go-teamchat/internal/api"
	"github.com/npezzotti/go-teamchat/internal/auth"
	"github.com/npezzotti/go-teamchat/internal/config"
	"github.com/npezzotti/go-teamchat/internal/database"
	"github.com/npezzotti/go-teamchat/internal/logger"
	"github.com/npezzotti/go-teamchat/internal/server"
	"github.com/npezzotti/go-teamchat/internal/stats"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("server exited", "error", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	dbConn, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			log.Errorw("db close", "error", err)
		}
	}()

	// presence stays in memory when no redis address is configured
	var presenceDb database.PresenceStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		store := database.NewRedisPresenceStore(client, 0)
		defer store.Close()
		presenceDb = store
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(
		log,
		dbConn,
		presenceDb,
		auth.NewJWTIssuer(cfg.SigningKey),
		statsUpdater,
		server.Options{
			AuthTimeout: cfg.AuthTimeout,
			RateLimit:   cfg.RateLimit,
			RateBurst:   cfg.RateBurst,
		},
	)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	srv := api.NewGoChatApp(mux, log, chatServer, dbConn, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chatServer.Run()
		return nil
	})
	g.Go(func() error {
		if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := shutdown(shutdownCtx, srv, chatServer); err != nil {
			return err
		}

		log.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops the http server and then the chat server. The chat server
// is stopped even when the http server fails to, otherwise Run never returns.
func shutdown(ctx context.Context, httpSrv, chatSrv shutdowner) error {
	var errs []error
	if err := httpSrv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := chatSrv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("chat server shutdown: %w", err))
	}
	return errors.Join(errs...)
}
