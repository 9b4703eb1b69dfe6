package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codefactory/orchestrator/pkg/conflict"
	"github.com/codefactory/orchestrator/pkg/config"
	"github.com/codefactory/orchestrator/pkg/events"
	"github.com/codefactory/orchestrator/pkg/fastore"
	"github.com/codefactory/orchestrator/pkg/gateway"
	"github.com/codefactory/orchestrator/pkg/httpapi"
	"github.com/codefactory/orchestrator/pkg/log"
	"github.com/codefactory/orchestrator/pkg/metrics"
	"github.com/codefactory/orchestrator/pkg/metricsagg"
	"github.com/codefactory/orchestrator/pkg/queue"
	"github.com/codefactory/orchestrator/pkg/ratelimit"
	"github.com/codefactory/orchestrator/pkg/runtime"
	"github.com/codefactory/orchestrator/pkg/scheduler"
	"github.com/codefactory/orchestrator/pkg/supervisor"
	"github.com/codefactory/orchestrator/pkg/workerauth"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "factoryd",
	Short:   "factoryd runs the autonomous code-factory orchestration kernel",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"factoryd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Force JSON log output")

	cobra.OnInitialize(initLogging)
}

var cliLogLevel string
var cliLogJSON bool

func initLogging() {
	cliLogLevel, _ = rootCmd.PersistentFlags().GetString("log-level")
	cliLogJSON, _ = rootCmd.PersistentFlags().GetBool("log-json")
}

// runServe wires the full composition root: config, persistence, the
// durable store, the fast store, the container runtime, the domain
// packages, and the two HTTP listeners (api, metrics), then blocks until
// SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if cliLogLevel != "" {
		cfg.LogLevel = cliLogLevel
	}
	if cliLogJSON {
		cfg.LogJSON = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("factoryd: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("factoryd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.Open(ctx, gateway.Config{
		DSN:             cfg.DatabaseDSN,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}, logger)
	if err != nil {
		return fmt.Errorf("factoryd: open gateway: %w", err)
	}
	defer gw.Close()

	store, err := fastore.New(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("factoryd: open fast store: %w", err)
	}
	defer store.Close()

	cr, err := runtime.NewContainerdRuntime(cfg.ContainerdSocket)
	if err != nil {
		return fmt.Errorf("factoryd: open containerd runtime: %w", err)
	}
	defer cr.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	arbiter := conflict.New(gw)
	limiter := ratelimit.New(store, ratelimit.Config{
		MaxWorkers:      cfg.MaxWorkers,
		DailyBudget:     cfg.DailyBudget,
		CooldownSeconds: cfg.CooldownSeconds,
	}, nil)
	queueMgr := queue.New(gw, nil)

	sup := supervisor.New(gw, arbiter, limiter, cr, broker, supervisor.Config{
		WorkerImage:            cfg.WorkerImage,
		OrchestratorURL:        cfg.OrchestratorURL,
		WorkerMemoryBytes:      cfg.WorkerResources.MemoryBytes,
		WorkerCPUCores:         cfg.WorkerResources.CPUCores,
		WorkerPIDLimit:         cfg.WorkerResources.PIDLimit,
		VerificationMaxRetries: cfg.VerificationMaxRetries,
		ExecutionMaxRetries:    cfg.ExecutionMaxRetries,
		Backoff:                cfg.Backoff,
		StaleThresholdSeconds:  cfg.StaleThresholdSeconds,
		StuckTimeoutSeconds:    cfg.StuckTimeoutSeconds,
		WorkspaceRoot:          cfg.WorkspaceRoot,
		LivenessProbeCommand:   cfg.LivenessProbeCommand,
	}, nil, logger)
	sup.SetVerificationChainer(queueMgr)

	issuer := workerauth.NewIssuer(time.Duration(cfg.StaleThresholdSeconds)*time.Second, nil)
	sup.SetTokenIssuer(issuer)

	aggregator := metricsagg.New(gw, nil)
	collector := metrics.NewCollector(gw, limiter, 15*time.Second)
	go collector.Run(ctx)
	defer collector.Stop()

	sched := scheduler.New(limiter, queueMgr, sup, time.Duration(cfg.SchedulerTickSeconds)*time.Second)
	sched.Start(ctx)
	defer sched.Stop()

	router := httpapi.NewRouter(httpapi.Dependencies{
		Queue:     queueMgr,
		Worker:    sup,
		Locks:     arbiter,
		Metrics:   aggregator,
		Learnings: gw,
		Tokens:    issuer,
		Logger:    logger,
	})

	apiServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsListenAddr,
		Handler: metricsMux(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/readyz", metrics.ReadyHandler())
	mux.Handle("/livez", metrics.LivenessHandler())
	return mux
}
