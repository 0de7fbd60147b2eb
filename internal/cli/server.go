package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"offline-quiz-store/internal/app"
	"offline-quiz-store/internal/config"
	"offline-quiz-store/internal/kv"
	kvmemory "offline-quiz-store/internal/kv/memory"
	kvpostgres "offline-quiz-store/internal/kv/postgres"
	kvredis "offline-quiz-store/internal/kv/redis"
	"offline-quiz-store/internal/quizapi"
	"offline-quiz-store/internal/store"
	transport "offline-quiz-store/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the sync server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the offline session sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Storage.Backend == "postgres" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	st, closeBackend, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	manager := buildManager(st, cfg)
	handler := transport.NewWSHandler(manager)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", handler.ServeStats)
	mux.HandleFunc("/ws", handler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	runCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	go manager.Run(runCtx)

	go func() {
		log.Printf("starting offline session sync server on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildStore wires the configured backend into a session store. The
// returned func releases backend resources.
func buildStore(ctx context.Context, cfg config.Config) (*store.Store, func(), error) {
	var backend kv.Backend
	closeBackend := func() {}

	switch cfg.Storage.Backend {
	case "", "memory":
		backend = kvmemory.NewBoundedBackend(cfg.Storage.MaxSizeBytes)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		backend = kvredis.NewBackend(client)
		closeBackend = func() { _ = client.Close() }
	case "postgres":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		backend = kvpostgres.NewBackend(pool)
		closeBackend = func() { pool.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	st := store.New(backend, store.Options{
		Prefix:          cfg.Storage.Prefix,
		MetadataKey:     cfg.Storage.MetadataKey,
		SessionTTL:      config.Duration(cfg.Storage.SessionTTL, store.DefaultSessionTTL),
		CleanupInterval: config.Duration(cfg.Storage.CleanupInterval, store.DefaultCleanupInterval),
		MaxSize:         cfg.Storage.MaxSizeBytes,
	})
	return st, closeBackend, nil
}

func buildManager(st *store.Store, cfg config.Config) *app.Manager {
	client := quizapi.NewClient(cfg.Sync.APIBaseURL, config.Duration(cfg.Sync.RequestTimeout, quizapi.DefaultTimeout))
	return app.NewManager(st, client, app.Options{
		RefreshInterval: config.Duration(cfg.Sync.RefreshInterval, app.DefaultRefreshInterval),
	})
}
