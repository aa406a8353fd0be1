// Command orket runs the orchestration engine over a workspace: one-shot
// sessions from the command line, or the long-running HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orket/orket/pkg/api"
	"github.com/orket/orket/pkg/config"
	"github.com/orket/orket/pkg/models"
	"github.com/orket/orket/pkg/webhook"
	"github.com/orket/orket/pkg/workspace"
)

// Exit codes: 0 success, 1 runtime or session failure, 2 usage/config.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var errSessionFailed = errors.New("session failed")

func main() {
	var (
		workspaceDir string
		turnTimeout  time.Duration
		maxTurns     int
		dryRun       bool
	)

	root := &cobra.Command{
		Use:           "orket",
		Short:         "Deterministic card orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&workspaceDir, "workspace", ".", "workspace root directory")
	root.PersistentFlags().DurationVar(&turnTimeout, "timeout", 0, "per-turn timeout override")
	root.PersistentFlags().IntVar(&maxTurns, "max-turns", 0, "session turn budget override")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "execute turns without tool effects or transitions")

	opts := func() options {
		return options{turnTimeout: turnTimeout, maxTurns: maxTurns, dryRun: dryRun}
	}

	// Errors raised before any RunE starts are cobra parse failures:
	// unknown commands, bad flags, missing required ones. Those are
	// invalid input; everything after this marker is a runtime result.
	commandStarted := false
	started := func(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			commandStarted = true
			return run(cmd, args)
		}
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new workspace with the standard layout",
		Args:  cobra.NoArgs,
		RunE: started(func(cmd *cobra.Command, _ []string) error {
			ws, err := workspace.Init(workspaceDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workspace initialized at %s\n", ws.Root)
			return nil
		}),
	}

	var runTarget string
	runCmd := &cobra.Command{
		Use:   "run --target <card-id>",
		Short: "Run one session over the target card until done or quiescent",
		Args:  cobra.NoArgs,
		RunE: started(func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), workspaceDir, opts(), "", runTarget)
		}),
	}
	runCmd.Flags().StringVar(&runTarget, "target", "", "target card id")
	_ = runCmd.MarkFlagRequired("target")

	var resumeSession string
	resumeCmd := &cobra.Command{
		Use:   "resume --session <session-id>",
		Short: "Resume a previous session under its original ID and target",
		Args:  cobra.NoArgs,
		RunE: started(func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), workspaceDir, opts(), resumeSession, "")
		}),
	}
	resumeCmd.Flags().StringVar(&resumeSession, "session", "", "session id to resume")
	_ = resumeCmd.MarkFlagRequired("session")

	var listenAddr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and webhook intake",
		Args:  cobra.NoArgs,
		RunE: started(func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), workspaceDir, opts(), listenAddr)
		}),
	}
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8090", "HTTP listen address")

	root.AddCommand(initCmd, runCmd, resumeCmd, serveCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "orket:", err)
		if !commandStarted {
			os.Exit(exitUsage)
		}
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

// exitCode classifies a failed command: unusable configuration or a
// missing workspace is invalid input (2); every runtime or session
// failure is generic failure (1).
func exitCode(err error) int {
	var loadErr *config.LoadError
	switch {
	case errors.As(err, &loadErr),
		errors.Is(err, config.ErrValidationFailed),
		errors.Is(err, workspace.ErrWorkspaceMissing):
		return exitUsage
	}
	return exitFailure
}

// runSession drives one session to completion in the foreground. An empty
// targetCardID means a resume: the target comes from the session's own
// ledger row.
func runSession(ctx context.Context, workspaceDir string, opts options, sessionID, targetCardID string) error {
	eng, err := buildEngine(ctx, workspaceDir, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	if targetCardID == "" {
		prev, err := eng.ledger.GetSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("resolving session %s: %w", sessionID, err)
		}
		targetCardID = prev.TargetCardID
	}

	session, err := eng.orch.Run(ctx, sessionID, targetCardID)
	if err != nil {
		return err
	}
	fmt.Printf("session %s %s: %s (%d turns)\n",
		session.ID, session.Status, session.Outcome, session.TurnCount)
	if session.Status != models.SessionCompleted {
		return fmt.Errorf("%w: %s", errSessionFailed, session.Outcome)
	}
	return nil
}

// serve runs the HTTP surface until the process receives a stop signal,
// then drains sessions and the listener gracefully.
func serve(ctx context.Context, workspaceDir string, opts options, addr string) error {
	eng, err := buildEngine(ctx, workspaceDir, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	server, router := api.New(addr, eng.cards, eng.ledger, eng.registry, eng.logger)
	webhook.NewIntake(os.Getenv("ORKET_WEBHOOK_SECRET"), eng.cards, eng.logger).Register(router)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	eng.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.registry.Shutdown(shutdownCtx); err != nil {
		eng.logger.Error("Session drain timed out", "error", err.Error())
	}
	if _, err := eng.ledger.InterruptAll(shutdownCtx); err != nil {
		eng.logger.Error("Failed to interrupt sessions", "error", err.Error())
	}
	return server.Stop(shutdownCtx)
}
