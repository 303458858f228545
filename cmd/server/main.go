package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"possale/backend/internal/cache"
	"possale/backend/internal/config"
	"possale/backend/internal/domain"
	"possale/backend/internal/httpapi"
	"possale/backend/internal/logger"
	"possale/backend/internal/service"
	"possale/backend/internal/store"
	"possale/backend/internal/store/memory"
	pgstore "possale/backend/internal/store/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "possale: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "possale",
		Short:         "Point-of-sale backend: sales, stock and payments over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var adminUsername, adminPassword string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema and optionally create the first admin",
		Example: `  possale migrate
  possale migrate --admin-username owner --admin-password 's3cret-passphrase'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), adminUsername, adminPassword)
		},
	}
	cmd.Flags().StringVar(&adminUsername, "admin-username", "", "username of the admin account to create")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "password of the admin account to create")
	return cmd
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	taxRate, _ := cfg.ParsedTaxRate()

	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(log)
		log.Info("repository: in-memory")
	}

	opts := service.Options{
		TaxRate:       taxRate,
		InvoicePrefix: cfg.InvoicePrefix,
		CacheTTL:      time.Duration(cfg.SaleCacheTTLSeconds) * time.Second,
		Logger:        log,
	}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, using noop sale cache", zap.Error(err))
			_ = client.Close()
		} else {
			opts.Cache = cache.NewRedisSaleCache(client)
			opts.Locker = cache.NewRedisSaleLocker(client, time.Duration(cfg.SaleLockTTLSeconds)*time.Second)
			closers = append(closers, client.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: noop")
	}

	svc := service.New(repo, opts)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("POS backend listening", zap.String("addr", cfg.Address()), zap.String("tax_rate", taxRate.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
	return nil
}

func runMigrate(parent context.Context, adminUsername, adminPassword string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set to migrate")
	}
	adminUsername = strings.TrimSpace(adminUsername)
	if (adminUsername == "") != (adminPassword == "") {
		return errors.New("--admin-username and --admin-password must be given together")
	}
	if adminPassword != "" && len(adminPassword) < 8 {
		return errors.New("--admin-password must be at least 8 characters")
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("schema applied")

	if adminUsername == "" {
		return nil
	}
	hash, err := httpapi.HashPassword(adminPassword)
	if err != nil {
		return err
	}
	_, err = pg.CreateUser(ctx, domain.UserAccount{
		Username:     adminUsername,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Active:       true,
	})
	switch {
	case errors.Is(err, store.ErrConflict):
		log.Info("admin already exists", zap.String("username", adminUsername))
	case err != nil:
		return fmt.Errorf("create admin: %w", err)
	default:
		log.Info("admin created", zap.String("username", adminUsername))
	}
	return nil
}

func validateConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if _, err := cfg.ParsedTaxRate(); err != nil {
		return err
	}
	if cfg.InvoicePrefix == "" || strings.ContainsAny(cfg.InvoicePrefix, " -") {
		return errors.New("INVOICE_PREFIX must be non-empty and contain no spaces or dashes")
	}
	return nil
}
