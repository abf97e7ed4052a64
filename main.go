package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	_ "github.com/ppcxy/cyfm-engine/pkg/adapters/datasource/mssql"
	_ "github.com/ppcxy/cyfm-engine/pkg/adapters/datasource/mysql"
	_ "github.com/ppcxy/cyfm-engine/pkg/adapters/datasource/postgres"
	"github.com/ppcxy/cyfm-engine/pkg/audit"
	"github.com/ppcxy/cyfm-engine/pkg/cache"
	"github.com/ppcxy/cyfm-engine/pkg/config"
	"github.com/ppcxy/cyfm-engine/pkg/crypto"
	"github.com/ppcxy/cyfm-engine/pkg/database"
	"github.com/ppcxy/cyfm-engine/pkg/handlers"
	"github.com/ppcxy/cyfm-engine/pkg/logging"
	"github.com/ppcxy/cyfm-engine/pkg/metrics"
	"github.com/ppcxy/cyfm-engine/pkg/middleware"
	"github.com/ppcxy/cyfm-engine/pkg/repositories"
	"github.com/ppcxy/cyfm-engine/pkg/retry"
	"github.com/ppcxy/cyfm-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "cyfm-engine",
	Short: "Switchable-datasource data service",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateAll bool

var migrateCmd = &cobra.Command{
	Use:   "migrate [datasource...]",
	Short: "Apply pending migrations to catalog datasources",
	Long: "Apply pending migrations to the named catalog datasources. With no " +
		"names the initial datasource is migrated; --all migrates every entry.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return migrateDatasources(cmd.Context(), args)
	},
}

var dialectCmd = &cobra.Command{
	Use:   "dialect <url>",
	Short: "Print the dialect a datasource URL resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := datasource.DialectFor(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t(builder: %s, driver compiled in: %t)\n",
			d, d.GoquDialect(), datasource.IsRegistered(d))
		return nil
	},
}

var encryptPasswordCmd = &cobra.Command{
	Use:   "encrypt-password <password>",
	Short: "Encrypt a password for the datasource catalog",
	Long:  "Encrypt a password with DATASOURCE_CREDENTIALS_KEY and print the enc: value to paste into the catalog.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enc, err := crypto.NewCredentialEncryptor(os.Getenv("DATASOURCE_CREDENTIALS_KEY"))
		if err != nil {
			return err
		}
		sealed, err := enc.Seal(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file")
	migrateCmd.Flags().BoolVar(&migrateAll, "all", false, "migrate every datasource in the catalog")
	rootCmd.AddCommand(serveCmd, migrateCmd, dialectCmd, encryptPasswordCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the config, the logger and the datasource catalog shared by
// every command.
func setup() (*config.Config, *zap.Logger, *config.Catalog, error) {
	cfg, err := config.LoadFrom(cfgPath, Version)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	catalog, err := config.LoadCatalog(cfg.Datasource.CatalogPath)
	if err != nil {
		return nil, nil, nil, err
	}

	if key := cfg.Datasource.CredentialsKey; key != "" {
		enc, err := crypto.NewCredentialEncryptor(key)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := catalog.DecryptPasswords(enc); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to decrypt catalog passwords: %w", err)
		}
	}

	return cfg, logger, catalog, nil
}

func managerConfig(ds config.DatasourceConfig) datasource.ManagerConfig {
	mc := datasource.DefaultManagerConfig()
	mc.RetirementPolicy = datasource.RetirementPolicy(ds.RetirementPolicy)
	mc.RetireGrace = ds.RetireGrace()
	mc.ValidateOnSwitch = ds.ValidateOnSwitch
	mc.SwitchTimeout = ds.SwitchTimeout()
	mc.LazyInit = ds.LazyInit
	return mc
}

func serve(ctx context.Context) error {
	cfg, logger, catalog, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("catalog", cfg.Datasource.CatalogPath),
		zap.Strings("datasources", catalog.Names()),
		zap.String("retirement_policy", cfg.Datasource.RetirementPolicy),
		zap.String("cache_backend", cfg.Cache.Backend))

	m := metrics.New(prometheus.DefaultRegisterer)

	manager := datasource.NewManager(managerConfig(cfg.Datasource), logger, m)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("Failed to close datasource pools", zap.String("error", logging.SanitizeError(err)))
		}
	}()
	manager.EnsureInitialized()

	executor := datasource.NewExecutor(manager, logger, m)
	opener := datasource.NewPoolOpener(datasource.PoolDefaults{
		MaxConns:        cfg.Datasource.PoolMaxConns,
		MinConns:        cfg.Datasource.PoolMinConns,
		MaxConnIdleTime: cfg.Datasource.ConnectionTTL(),
	}, retry.DefaultConfig(), logger)

	redisClient, err := database.NewRedisClient(ctx, &cfg.Cache)
	if err != nil {
		return err
	}
	var l2 cache.SecondLevel
	if redisClient != nil {
		defer redisClient.Close()
		l2, err = cache.New(cfg.Cache, redisClient)
	} else {
		l2, err = cache.New(cfg.Cache, nil)
	}
	if err != nil {
		return err
	}
	invalidator := cache.NewInvalidator(l2, logger, m)
	auditor := audit.NewSecurityAuditor(logger)

	userRepo := repositories.NewUserRepository(executor,
		repositories.WithCache(l2),
		repositories.WithLogger(logger),
		repositories.WithMetrics(m),
		repositories.WithAuditor(auditor))

	datasourceService := services.NewDatasourceService(catalog, opener, manager, invalidator, cfg.Datasource.SwitchTimeout(), logger)
	userService := services.NewUserService(userRepo, logger)

	if err := datasourceService.Start(ctx, cfg.Datasource.Initial); err != nil {
		// Starting unbound is recoverable through the switch API.
		logger.Error("Failed to bind initial datasource; starting unbound",
			zap.String("datasource", cfg.Datasource.Initial),
			zap.String("error", logging.SanitizeError(err)))
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, manager, logger).RegisterRoutes(mux)
	handlers.NewDatasourcesHandler(datasourceService, auditor, logger).RegisterRoutes(mux)
	handlers.NewUsersHandler(userService, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = middleware.EntitySession()(handler)
	handler = middleware.SkinCookie(cfg.Skin, cfg.BaseURL)(handler)
	handler = middleware.ClientIP()(handler)
	handler = middleware.RequestLogger(logger)(handler)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting cyfm-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func migrateDatasources(ctx context.Context, names []string) error {
	cfg, logger, catalog, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	switch {
	case migrateAll:
		names = catalog.Names()
	case len(names) == 0 && cfg.Datasource.Initial != "":
		names = []string{cfg.Datasource.Initial}
	case len(names) == 0:
		return errors.New("no datasource named and no initial datasource configured")
	}

	var errs []error
	for _, name := range names {
		if err := migrateOne(ctx, catalog, name, cfg.Datasource.MigrationsPath, logger); err != nil {
			logger.Error("Migration failed",
				zap.String("datasource", name),
				zap.String("error", logging.SanitizeError(err)))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func migrateOne(ctx context.Context, catalog *config.Catalog, name, path string, logger *zap.Logger) error {
	def, ok := catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("datasource %q is not in the catalog", name)
	}

	spec, err := services.SpecFromDefinition(def).Resolve()
	if err != nil {
		return err
	}

	db, err := database.OpenMigrationDB(ctx, spec)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("Migrating datasource", zap.String("datasource", name), zap.String("target", spec.Summary()))
	return database.RunMigrations(db, spec.Dialect, path, logger.With(zap.String("datasource", name)))
}
