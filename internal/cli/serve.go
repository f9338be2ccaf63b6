package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/taskdeck/taskgraph/internal/config"
	"github.com/taskdeck/taskgraph/internal/server"
	"github.com/taskdeck/taskgraph/pkg/store"
	mongostore "github.com/taskdeck/taskgraph/pkg/store/mongo"
)

// newServeCmd creates the serve command: HTTP API over MongoDB, with
// change notifications published to Redis when an address is configured.
func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dependency graph API server",
		Long: `Run the HTTP API for dependency edges and task positions.

Edges are validated server-side (self-dependencies, duplicates, and cycles
are rejected) and stored in MongoDB. When a Redis address is configured,
every mutation is published to per-scope channels so connected clients can
merge changes without polling.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// Flags override file values.
			if listen != "" {
				cfg.Server.Listen = listen
			}
			return serve(c.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := loggerFromContext(ctx)

	backend, disconnect, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	defer func() {
		if err := disconnect(context.Background()); err != nil {
			logger.Warnf("mongo disconnect: %v", err)
		}
	}()
	if err := backend.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}
	logger.Infof("Connected to MongoDB at %s (database %s)", cfg.Mongo.URI, cfg.Mongo.Database)

	var st store.Store = backend
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()
		st = store.WithNotifier(backend, store.NewRedisNotifier(client), "server")
		logger.Infof("Publishing change notifications to Redis at %s", cfg.Redis.Addr)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: server.New(st, cfg.LayoutConfig(), logger).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ctx.Err()
}
