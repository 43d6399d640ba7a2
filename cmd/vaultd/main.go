package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/playforge/vault/internal/httpapi"
	"github.com/playforge/vault/internal/store/gormstore"
	"github.com/playforge/vault/pkg/vault"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL        = "database-url"
	flagListenAddr         = "listen-addr"
	flagAdminToken         = "admin-token"
	flagAllowedOrigins     = "allowed-origins"
	flagMinWithdrawal      = "min-withdrawal"
	flagGoldenHourOverride = "golden-hour-override"
	flagSweepLimit         = "sweep-limit"

	configKeyDatabaseURL        = "database_url"
	configKeyListenAddr         = "listen_addr"
	configKeyAdminToken         = "admin_token"
	configKeyAllowedOrigins     = "allowed_origins"
	configKeyMinWithdrawal      = "min_withdrawal"
	configKeyGoldenHourOverride = "golden_hour_override"

	defaultDatabaseURL = "sqlite:///tmp/vault.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL        string
	ListenAddr         string
	AdminToken         string
	AllowedOrigins     []string
	MinWithdrawal      int64
	GoldenHourOverride string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "vaultd",
		Short:         "Vault balance ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.PersistentFlags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.PersistentFlags().String(flagAdminToken, "", "Bearer token for admin endpoints")
	cmd.PersistentFlags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")
	cmd.PersistentFlags().Int64(flagMinWithdrawal, 0, "Minimum withdrawal amount, 0 keeps the default")
	cmd.PersistentFlags().String(flagGoldenHourOverride, "", "Golden hour override: AUTO, FORCE_ON or FORCE_OFF")

	cmd.AddCommand(newSweepCommand(cfg))

	return cmd
}

// newSweepCommand runs a single expiry sweep and exits, for cron setups that
// do not keep the daemon running.
func newSweepCommand(cfg *runtimeConfig) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSweep(ctx, cfg, limit)
		},
	}
	cmd.Flags().IntVar(&limit, flagSweepLimit, 0, "Maximum status rows per sweep, 0 keeps the default")
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:        "DATABASE_URL",
		configKeyListenAddr:         "LISTEN_ADDR",
		configKeyAdminToken:         "ADMIN_TOKEN",
		configKeyAllowedOrigins:     "ALLOWED_ORIGINS",
		configKeyMinWithdrawal:      "MIN_WITHDRAWAL",
		configKeyGoldenHourOverride: "GOLDEN_HOUR_OVERRIDE",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyDatabaseURL:        flagDatabaseURL,
		configKeyListenAddr:         flagListenAddr,
		configKeyAdminToken:         flagAdminToken,
		configKeyAllowedOrigins:     flagAllowedOrigins,
		configKeyMinWithdrawal:      flagMinWithdrawal,
		configKeyGoldenHourOverride: flagGoldenHourOverride,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AdminToken = viper.GetString(configKeyAdminToken)
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)
	cfg.MinWithdrawal = viper.GetInt64(configKeyMinWithdrawal)
	cfg.GoldenHourOverride = viper.GetString(configKeyGoldenHourOverride)
	return nil
}

func ledgerConfig(cfg *runtimeConfig) vault.LedgerConfig {
	ledgerCfg := vault.LedgerConfig{
		MinWithdrawalAmount: cfg.MinWithdrawal,
	}
	if cfg.GoldenHourOverride != "" {
		ledgerCfg.Multiplier.GoldenHourOverride = vault.GoldenHourOverride(strings.ToUpper(cfg.GoldenHourOverride))
	}
	return ledgerCfg
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	service, cleanup, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return httpapi.Run(ctx, httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		AdminToken:     cfg.AdminToken,
	}, service, logger)
}

func runSweep(ctx context.Context, cfg *runtimeConfig, limit int) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	service, cleanup, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	updated, err := service.Tick(ctx, limit)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	logger.Info("sweep finished", zap.Int("updated", updated))
	return nil
}

func buildService(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (*vault.Service, func() error, error) {
	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}

	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		return nil, nil, err
	}

	store := gormstore.New(gormDB)
	service, err := vault.NewService(store, ledgerConfig(cfg), func() time.Time { return time.Now().UTC() },
		vault.WithOperationLogger(httpapi.NewOperationRecorder(logger)))
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("vault service init: %w", err)
	}
	return service, cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormCfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "vault.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
