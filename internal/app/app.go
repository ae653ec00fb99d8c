package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/watchroom/client/internal/dirserver"
	dirredis "github.com/watchroom/client/internal/dirserver/redis"
	"github.com/watchroom/client/pkg/ctxlogger"
	"github.com/watchroom/client/pkg/redisclient"
)

type AppConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	LogLevel      string        `json:"log_level"`
	RoomTTL       time.Duration `json:"room_ttl"`
	RedisHost     string        `json:"redis_host"`
	RedisPort     int           `json:"redis_port"`
	RedisPassword string        `json:"-"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port %d is out of range", cfg.Port)
	}
	if cfg.RoomTTL <= 0 {
		return fmt.Errorf("room ttl must be positive")
	}
	return nil
}

// Run starts the directory service and blocks until the context is
// cancelled or a termination signal arrives.
func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}
	logger := slog.New(&h)

	rc, err := redisclient.NewRedisClient(&redisclient.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	repo := dirredis.NewRepo(rc, cfg.RoomTTL)
	controller := dirserver.NewController(repo, logger)
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: controller.Mux()}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, c := context.WithTimeout(serverCtx, 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting directory service", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
