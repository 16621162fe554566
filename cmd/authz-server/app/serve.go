package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openmedgrid/authz-server/internal/api"
	v1 "github.com/openmedgrid/authz-server/internal/api/v1"
	"github.com/openmedgrid/authz-server/internal/authz"
	"github.com/openmedgrid/authz-server/internal/cache"
	"github.com/openmedgrid/authz-server/internal/config"
	"github.com/openmedgrid/authz-server/internal/db"
	"github.com/openmedgrid/authz-server/internal/introspect"
	"github.com/openmedgrid/authz-server/internal/service"
	dbstore "github.com/openmedgrid/authz-server/internal/service/db"
	"github.com/openmedgrid/authz-server/internal/service/inmemory"
	"github.com/openmedgrid/authz-server/internal/token"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	Long: `Start the authorization server.

The server requires a configuration file (--config) that specifies:
- Token signing secret and lifetimes
- Database connection (omit to run on the in-memory store)
- Identity-provider connections and cache bounds`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		logger.Fatalf("Failed to bind address flag: %v", err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		logger.Fatalf("Failed to bind config flag: %v", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		logger.Fatalf("Failed to mark config flag as required: %v", err)
	}
}

// buildRepositories selects the backing store from configuration. A nil
// database section means the in-memory store; that path is for development
// only.
func buildRepositories(ctx context.Context, cfg *config.Config) (service.Repositories, func(context.Context) error, func(), error) {
	if cfg.Database == nil {
		logger.Warn("No database configured, running on the in-memory store")
		return inmemory.NewStore(), nil, func() {}, nil
	}

	conn, err := db.NewConnection(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := dbstore.NewStore(conn.DB)
	if err := store.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, nil, nil, err
	}

	ready := func(ctx context.Context) error { return conn.DB.PingContext(ctx) }
	closer := func() {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close database connection: %v", err)
		}
	}
	return store, ready, closer, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.NewConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	address := viper.GetString("address")
	if address == "" {
		address = cfg.Address()
	}
	logger.Infof("Starting authorization server on %s", address)

	tokens, err := token.New(cfg.Token.ClientSecret, cfg.Token.ClientSecretIsBase64)
	if err != nil {
		return fmt.Errorf("failed to initialize token signing: %w", err)
	}

	repos, ready, closeStore, err := buildRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ruleCacheSize := cfg.Cache.RuleCacheSize
	if ruleCacheSize <= 0 {
		ruleCacheSize = cache.DefaultRuleCacheSize
	}
	ruleCache := cache.NewRuleCache(ruleCacheSize)
	sessions := cache.NewSessionTracker(cfg.MaxSessionLength())
	eviction := cache.NewEvictionCoordinator(sessions, ruleCache)

	authorizer := authz.NewAuthorizer(ruleCache)
	introspection := introspect.NewService(tokens, repos, authorizer, sessions, cfg.TokenExpiration())

	deps := v1.Dependencies{
		Repos:         repos,
		Introspection: introspection,
		Tokens:        tokens,
		Eviction:      eviction,
		Sessions:      sessions,
		Ready:         ready,
	}

	router := api.NewServer(deps,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("Server listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}
