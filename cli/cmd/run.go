package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BDNK1/sagaworker/config"
	"github.com/BDNK1/sagaworker/decision"
	"github.com/BDNK1/sagaworker/orchestrator/rest"
	"github.com/BDNK1/sagaworker/runtime"
	"github.com/BDNK1/sagaworker/steps"
	"github.com/BDNK1/sagaworker/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the step workers and serve until interrupted",
	Long: `Run connects to the workflow engine, registers one worker per saga step
type and processes jobs until SIGINT or SIGTERM. In-flight steps get the
configured shutdown grace period to finish.

Example:
  sagaworker run
  sagaworker run --config sagaworker.yaml
  ORCHESTRATOR_ADDRESS=http://engine:8080 sagaworker run
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, cfg.Logger())
	},
}

func run(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, l)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			l.Warn("Telemetry shutdown failed", "error", err)
		}
	}()
	l = slog.New(telemetry.LogHandler(cfg.Telemetry, l.Handler()))

	rt, err := runtime.New(rest.New(cfg.Orchestrator, l), l)
	if err != nil {
		return err
	}

	gateway := steps.NewSimulatedGateway(l)
	sequencer := decision.NewSequencer()
	handlers, err := steps.NewHandlers(gateway, gateway, sequencer, sequencer, cfg.Demo)
	if err != nil {
		return err
	}

	overrides, err := cfg.WorkerConfigs()
	if err != nil {
		return err
	}
	if err := steps.Register(rt, handlers, overrides); err != nil {
		return err
	}

	logBanner(ctx, l)

	if err := rt.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var server *http.Server
	if !cfg.Ops.Disabled {
		server = newOpsServer(cfg.Ops.Address, rt)
		g.Go(func() error {
			l.InfoContext(ctx, fmt.Sprintf("Ops endpoints listening on %s", cfg.Ops.Address))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		l.Info("Shutting down", "grace", cfg.ShutdownGrace)

		graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownGrace)
		defer cancel()

		var errs []error
		if server != nil {
			errs = append(errs, server.Shutdown(graceCtx))
		}
		errs = append(errs, rt.Shutdown(graceCtx))
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newOpsServer(address string, rt *runtime.Runtime) *http.Server {
	g := gin.New()
	g.Use(gin.Recovery())
	runtime.NewOpsHandler(rt, g)

	return &http.Server{
		Addr:              address,
		Handler:           g,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func logBanner(ctx context.Context, l *slog.Logger) {
	for _, p := range steps.Policies {
		if p.RetryBudget == nil {
			l.InfoContext(ctx, fmt.Sprintf("Worker %s: %s, never fails", p.StepType, p.Description))
			continue
		}
		l.InfoContext(ctx, fmt.Sprintf("Worker %s: %s, %d retries", p.StepType, p.Description, p.Budget()))
	}
	for _, line := range decision.Plan() {
		l.InfoContext(ctx, line)
	}
}
