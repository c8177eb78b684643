package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/squadflow/config"
	"github.com/BaSui01/squadflow/conversation"
	"github.com/BaSui01/squadflow/escalation"
	"github.com/BaSui01/squadflow/internal/metrics"
	"github.com/BaSui01/squadflow/internal/telemetry"
	"github.com/BaSui01/squadflow/messaging"
	"github.com/BaSui01/squadflow/persistence"
	"github.com/BaSui01/squadflow/routing"
	"github.com/BaSui01/squadflow/sweeper"
)

// Build-time injected version info.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "sweep":
		runSweepOnce(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting SquadFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}

	store := persistence.NewStore(db, logger)
	if err := store.AutoMigrate(); err != nil {
		logger.Fatal("Database auto-migrate failed", zap.Error(err))
	}

	messenger, closeMessenger, err := buildMessenger(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create messenger", zap.Error(err))
	}
	defer closeMessenger()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector("squadflow", logger)
	}

	resolver := routing.NewResolver(store, logger)
	convEngine := conversation.NewEngine(store, resolver, messenger, conversation.Config{
		InitialTimeout:  cfg.Engine.InitialTimeout,
		FollowUpTimeout: cfg.Engine.FollowUpTimeout,
	}, logger)
	escEngine := escalation.NewEngine(store, resolver, messenger, escalation.Config{
		ResponseTimeout: cfg.Engine.EscalationTimeout,
		MaxLevels:       cfg.Engine.MaxEscalationLevels,
	}, logger)

	sw := sweeper.New(store, convEngine, escEngine, sweeper.Config{
		MaxRetries:  cfg.Engine.MaxRetries,
		Concurrency: cfg.Sweeper.Concurrency,
		BatchLimit:  cfg.Sweeper.BatchLimit,
	}, collector, logger)
	scheduler := sweeper.NewScheduler(sw, sweeper.SchedulerConfig{
		Interval:   cfg.Sweeper.Interval,
		RunOnStart: true,
		Retention:  cfg.Sweeper.Retention,
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintln(w, "OK")
		})
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("metrics server listening", zap.Int("port", cfg.Metrics.Port))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	scheduler.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}

	logger.Info("SquadFlow stopped")
}

func runSweepOnce(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}

	store := persistence.NewStore(db, logger)
	messenger, closeMessenger, err := buildMessenger(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create messenger", zap.Error(err))
	}
	defer closeMessenger()

	resolver := routing.NewResolver(store, logger)
	convEngine := conversation.NewEngine(store, resolver, messenger, conversation.Config{
		InitialTimeout:  cfg.Engine.InitialTimeout,
		FollowUpTimeout: cfg.Engine.FollowUpTimeout,
	}, logger)
	escEngine := escalation.NewEngine(store, resolver, messenger, escalation.Config{
		ResponseTimeout: cfg.Engine.EscalationTimeout,
		MaxLevels:       cfg.Engine.MaxEscalationLevels,
	}, logger)
	sw := sweeper.New(store, convEngine, escEngine, sweeper.Config{
		MaxRetries:  cfg.Engine.MaxRetries,
		Concurrency: cfg.Sweeper.Concurrency,
		BatchLimit:  cfg.Sweeper.BatchLimit,
	}, nil, logger)

	stats, err := sw.Sweep(context.Background())
	if err != nil {
		logger.Fatal("Sweep failed", zap.Error(err))
	}
	fmt.Printf("scanned=%d follow_ups=%d escalations=%d unresolvable=%d errors=%d\n",
		stats.Scanned, stats.FollowUps, stats.Escalations, stats.Unresolvable, len(stats.Errors))
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	squadID := fs.String("squad", "", "Squad ID to validate")
	orgID := fs.String("org", "", "Organization ID to validate")
	fs.Parse(args)

	if *squadID == "" && *orgID == "" {
		fmt.Fprintln(os.Stderr, "validate requires --squad or --org")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}

	store := persistence.NewStore(db, logger)
	warnings, err := routing.Validate(context.Background(), store,
		persistence.Scope{SquadID: *squadID, OrgID: *orgID})
	if err != nil {
		logger.Fatal("Validation failed", zap.Error(err))
	}

	if len(warnings) == 0 {
		fmt.Println("routing configuration OK")
		return
	}
	for _, w := range warnings {
		fmt.Printf("%s asker=%s category=%s: %s\n", w.Kind, w.AskerRole, w.QuestionCategory, w.Detail)
	}
	os.Exit(1)
}

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func buildMessenger(cfg *config.Config, logger *zap.Logger) (messaging.Messenger, func(), error) {
	switch cfg.Messenger {
	case "memory":
		m := messaging.NewMemoryMessenger(messaging.MemoryMessengerOptions{Logger: logger})
		return m, func() { m.Close() }, nil
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m, err := messaging.NewRedisMessenger(ctx, messaging.RedisMessengerConfig{
			Addr:              cfg.Redis.Addr,
			Password:          cfg.Redis.Password,
			DB:                cfg.Redis.DB,
			KeyPrefix:         cfg.Redis.KeyPrefix,
			StreamMaxLen:      cfg.Redis.StreamMaxLen,
			SendRatePerSecond: cfg.Redis.SendRate,
			SendBurst:         cfg.Redis.SendBurst,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return m, func() { m.Close() }, nil
	}
}

func printVersion() {
	fmt.Printf("SquadFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`SquadFlow - conversation routing and escalation engine

Usage:
  squadflowd <command> [options]

Commands:
  serve     Run the sweeper daemon and metrics server
  sweep     Run one deadline sweep and exit
  validate  Check routing configuration for a scope
  version   Show version information
  help      Show this help message

Options:
  --config <path>   Path to configuration file (YAML)

Examples:
  squadflowd serve
  squadflowd serve --config /etc/squadflow/config.yaml
  squadflowd sweep --config config.yaml
  squadflowd validate --squad squad_123
  squadflowd version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN())
	case "mysql":
		dialector = mysql.Open(dbCfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(dbCfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(dbCfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)

	logger.Info("Database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
