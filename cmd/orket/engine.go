package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orket/orket/pkg/agent"
	"github.com/orket/orket/pkg/clock"
	"github.com/orket/orket/pkg/config"
	"github.com/orket/orket/pkg/gate"
	"github.com/orket/orket/pkg/models"
	"github.com/orket/orket/pkg/orchestrator"
	"github.com/orket/orket/pkg/prompt"
	"github.com/orket/orket/pkg/provider"
	"github.com/orket/orket/pkg/scheduler"
	"github.com/orket/orket/pkg/store"
	"github.com/orket/orket/pkg/verifier"
	"github.com/orket/orket/pkg/workspace"
)

// options carry CLI overrides applied on top of workspace configuration.
type options struct {
	turnTimeout time.Duration
	maxTurns    int
	dryRun      bool
}

// engine is the fully wired process: workspace, stores, and loop. One
// engine per process; Close tears everything down in reverse order.
type engine struct {
	ws       *workspace.Workspace
	cfg      *config.Config
	logger   *slog.Logger
	cards    *store.CardStore
	ledger   *store.LedgerStore
	orch     *orchestrator.Orchestrator
	registry *orchestrator.Registry

	logFile *os.File
}

// buildEngine is the composition root. Everything is constructed here and
// injected; no package reaches for globals.
func buildEngine(ctx context.Context, workspaceDir string, opts options) (*engine, error) {
	ws, err := workspace.Open(workspaceDir)
	if err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(filepath.Join(ws.Logs(), "orket.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stderr, logFile), nil))
	slog.SetDefault(logger)

	cfg, err := config.Initialize(ws.Root)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}
	if opts.turnTimeout > 0 {
		cfg.Loop.TurnTimeout = opts.turnTimeout
	}
	if opts.maxTurns > 0 {
		cfg.Loop.MaxTurns = opts.maxTurns
	}

	clk := clock.Real{}
	cards, err := store.OpenCards(ctx, ws.CardsDB(), clk)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}
	ledger, err := store.OpenLedger(ctx, ws.LedgerDB(), clk)
	if err != nil {
		_ = cards.Close()
		_ = logFile.Close()
		return nil, err
	}

	// Sessions orphaned by an unclean shutdown are interrupted before any
	// new work starts.
	interval := cfg.Loop.HeartbeatInterval
	if recovered, err := ledger.RecoverOrphans(ctx, 3*interval); err != nil {
		logger.Error("Orphan recovery failed", slog.String("error", err.Error()))
	} else if recovered > 0 {
		logger.Warn("Recovered orphaned sessions", slog.Int("count", recovered))
	}

	toolGate := gate.New(ws.AgentOut(), cfg.Gate, cfg.ComplexityGateThreshold, cards)
	builder := prompt.NewBuilder(loadEthos(ws), 0)

	var backend provider.Provider
	switch cfg.Provider.Kind {
	case "stub":
		backend = provider.NewStub()
	default:
		backend = provider.NewLocal(cfg.Provider)
	}
	retrying := provider.NewRetrying(backend, cfg.Retry, logger,
		func(attempt int, wait time.Duration, err error) {
			_ = cards.AppendAudit(ctx, models.AuditEvent{
				Type:   models.EventProviderRetry,
				Detail: fmt.Sprintf("attempt %d, next in %s: %v", attempt, wait, err),
			})
		})

	executor := agent.NewExecutor(agent.ExecutorDeps{
		Cards:     cards,
		Ledger:    ledger,
		Gate:      toolGate,
		Builder:   builder,
		Provider:  retrying,
		Roles:     cfg.Roles,
		Dialects:  cfg.Dialects,
		Clock:     clk,
		Logger:    logger,
		DialectID: cfg.Provider.Dialect,
		DryRun:    opts.dryRun,
	})

	orch := orchestrator.New(orchestrator.Deps{
		Cards:     cards,
		Ledger:    ledger,
		Selector:  scheduler.NewSelector(cards, cfg.Gate.FanoutFactor),
		Diag:      scheduler.NewDiagnostician(cfg.Bottleneck),
		Executor:  executor,
		Verifier:  verifier.NewRunner(ws.Verifier(), cfg.Loop.TurnTimeout, logger),
		Profiles:  loadProfiles(ws, logger),
		Clock:     clk,
		Logger:    logger,
		LoopCfg:   cfg.Loop,
		RetryBase: cfg.Retry.Base(),
	})

	return &engine{
		ws:       ws,
		cfg:      cfg,
		logger:   logger,
		cards:    cards,
		ledger:   ledger,
		orch:     orch,
		registry: orchestrator.NewRegistry(orch, logger),
		logFile:  logFile,
	}, nil
}

// Close releases the engine's resources.
func (e *engine) Close() {
	if err := e.ledger.Close(); err != nil {
		e.logger.Error("Closing ledger", slog.String("error", err.Error()))
	}
	if err := e.cards.Close(); err != nil {
		e.logger.Error("Closing card store", slog.String("error", err.Error()))
	}
	_ = e.logFile.Close()
}

// loadEthos reads the optional workspace ethos asset.
func loadEthos(ws *workspace.Workspace) string {
	data, err := os.ReadFile(filepath.Join(ws.Assets(), "ethos.md"))
	if err != nil {
		return ""
	}
	return string(data)
}

// loadProfiles reads verification profiles from assets/profiles.yaml.
func loadProfiles(ws *workspace.Workspace, logger *slog.Logger) map[string]verifier.Profile {
	profiles := map[string]verifier.Profile{}
	data, err := os.ReadFile(filepath.Join(ws.Assets(), "profiles.yaml"))
	if err != nil {
		return profiles
	}
	var parsed []verifier.Profile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		logger.Warn("Could not parse verification profiles", slog.String("error", err.Error()))
		return profiles
	}
	for _, p := range parsed {
		profiles[p.Name] = p
	}
	return profiles
}
