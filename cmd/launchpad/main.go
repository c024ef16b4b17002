// Launchpad is the generation orchestration daemon.
//
// It runs founder interviews through blueprint generation, founder
// approval and MVP assembly, and serves the HTTP API and approval links.
//
// Configuration is read from ~/.config/launchpad/config.yaml (or --config)
// and overridden by environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with in-memory storage
//	APPROVAL_SIGNING_KEY=$(openssl rand -hex 32) launchpad
//
//	# Persist to sqlite and publish notifications over NATS
//	STORAGE_DRIVER=sqlite STORAGE_PATH=/var/lib/launchpad/lp.db NATS_ENABLED=true launchpad
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/launchpad/internal/assembly"
	"github.com/fyrsmithlabs/launchpad/internal/blueprint"
	"github.com/fyrsmithlabs/launchpad/internal/config"
	lphttp "github.com/fyrsmithlabs/launchpad/internal/http"
	"github.com/fyrsmithlabs/launchpad/internal/humangate"
	"github.com/fyrsmithlabs/launchpad/internal/logging"
	"github.com/fyrsmithlabs/launchpad/internal/notify"
	"github.com/fyrsmithlabs/launchpad/internal/pipeline"
	"github.com/fyrsmithlabs/launchpad/internal/project"
	"github.com/fyrsmithlabs/launchpad/internal/store"
	"github.com/fyrsmithlabs/launchpad/internal/telemetry"
	"github.com/fyrsmithlabs/launchpad/internal/token"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// minAgentConfidence is the lowest agent confidence the assembly line accepts.
const minAgentConfidence = 0.65

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  launchpad [--config path]   Start the launchpad daemon\n")
			fmt.Fprintf(os.Stderr, "  launchpad version           Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("launchpad by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and serves until ctx is cancelled:
//  1. Logger and telemetry
//  2. Stores (memory or sqlite) and notification senders
//  3. Approval, blueprint, assembly and pipeline services
//  4. Expiry sweeper and recovery of interrupted executions
//  5. HTTP server, then graceful shutdown in reverse order
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), nil)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	lg, err := initLogger(cfg, tel)
	if err != nil {
		_ = tel.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = lg.Sync()
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			lg.Warn(sctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()
	// Services call zap directly, so undo the wrapper's caller skip.
	logger := lg.Underlying().WithOptions(zap.AddCallerSkip(-1))

	lg.Info(ctx, "starting launchpad",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("otel_logs", tel.LoggerProvider() != nil),
		logging.Secret("approval_key", cfg.Approval.SigningKey),
	)
	if tel.Degraded() {
		lg.Warn(ctx, "telemetry degraded, some signals are not exported")
	}

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	svcs, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	svcs.sweeper.Start()
	if n, err := svcs.pipelines.Recover(ctx); err != nil {
		lg.Warn(ctx, "failed to recover executions", zap.Error(err))
	} else if n > 0 {
		lg.Info(ctx, "recovered interrupted executions", zap.Int("count", n))
	}

	srv, err := lphttp.NewServer(svcs.pipelines, svcs.gate, logger, &lphttp.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		TokenRPS:   cfg.RateLimit.TokenRPS,
		TokenBurst: cfg.RateLimit.TokenBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	svcs.sweeper.Stop(shutdownCtx)
	if err := svcs.pipelines.Shutdown(shutdownCtx); err != nil {
		lg.Warn(shutdownCtx, "pipeline shutdown incomplete", zap.Error(err))
	}
	return serveErr
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig(cfg.Observability.ServiceName)
	level, err := logging.LevelFromString(cfg.Observability.LogLevel)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	if cfg.Observability.LogFormat != "" {
		lc.Format = cfg.Observability.LogFormat
	}
	provider := tel.LoggerProvider()
	lc.Output.OTEL = provider != nil
	return logging.NewLogger(lc, provider)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	db         *store.DB
	natsConn   *nats.Conn
	executions pipeline.Store
	workflows  humangate.Store
	projects   project.Store
	notifier   notify.Sender
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		_ = d.natsConn.Drain()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	d := &dependencies{}
	if err := d.initStores(cfg.Storage); err != nil {
		d.Close()
		return nil, err
	}

	senders := notify.Multi{notify.NewLogSender(logger)}
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("launchpad"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		d.natsConn = nc
		senders = append(senders, notify.NewNATSSender(nc, cfg.NATS.SubjectPrefix))
		logger.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	}
	d.notifier = senders
	return d, nil
}

func (d *dependencies) initStores(cfg config.StorageConfig) error {
	if cfg.Driver != config.StorageSQLite {
		d.executions = pipeline.NewMemoryStore()
		d.workflows = humangate.NewMemoryStore()
		d.projects = project.NewMemoryStore()
		return nil
	}

	db, err := store.OpenSQLite(cfg.Path)
	if err != nil {
		return err
	}
	d.db = db

	executions, err := store.NewSQLite[pipeline.Execution](db, "execution", pipeline.Indexes()...)
	if err != nil {
		return err
	}
	workflows, err := store.NewSQLite[humangate.Workflow](db, "workflow", humangate.Indexes()...)
	if err != nil {
		return err
	}
	projects, err := store.NewSQLite[project.Project](db, "project", project.Indexes()...)
	if err != nil {
		return err
	}
	d.executions = pipeline.NewStore(executions)
	d.workflows = humangate.NewStore(workflows)
	d.projects = project.NewStore(projects)
	return nil
}

// services holds all business services.
type services struct {
	gate      humangate.Service
	sweeper   *humangate.Sweeper
	pipelines pipeline.Service
}

func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	tokens, err := token.NewService([]byte(cfg.Approval.SigningKey.Value()), cfg.Approval.Issuer)
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}

	gate, err := humangate.NewService(&humangate.Config{BaseURL: cfg.Approval.BaseURL},
		tokens, deps.workflows, deps.notifier, logger.Named("humangate"))
	if err != nil {
		return nil, fmt.Errorf("approval service: %w", err)
	}

	orch, err := assembly.NewOrchestrator(assembly.Config{
		MaxAttempts: cfg.Pipeline.StageMaxAttempts,
		BackoffBase: cfg.Pipeline.BackoffBase,
	}, assembly.TemplateAgents(), logger.Named("assembly"))
	if err != nil {
		return nil, fmt.Errorf("assembly line: %w", err)
	}
	orch.RegisterGateAll(assembly.NewArtifactGate(1))
	orch.RegisterGateAll(assembly.NewConfidenceGate(minAgentConfidence))
	orch.RegisterGate(assembly.KindBackend, assembly.NewOutputKeysGate("api_base_url"))

	pipelines, err := pipeline.NewService(pipeline.Config{
		MaxRevisionCycles: cfg.Pipeline.MaxRevisionCycles,
	}, pipeline.Deps{
		Executions: deps.executions,
		Projects:   deps.projects,
		Gate:       gate,
		Blueprints: blueprint.NewHeuristicArchitect(logger.Named("architect")),
		Assembly:   orch,
		Notifier:   deps.notifier,
	}, logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("pipeline service: %w", err)
	}
	sweeper, err := humangate.NewSweeper(gate, cfg.Approval.SweepSchedule, logger.Named("sweeper"),
		pipelines.ExpireStaleApprovals)
	if err != nil {
		return nil, fmt.Errorf("expiry sweeper: %w", err)
	}

	return &services{gate: gate, sweeper: sweeper, pipelines: pipelines}, nil
}
