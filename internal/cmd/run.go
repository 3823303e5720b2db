package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/workerhost/internal/config"
	"github.com/Iron-Ham/workerhost/internal/host"
	"github.com/Iron-Ham/workerhost/internal/logging"
	"github.com/Iron-Ham/workerhost/internal/telemetry"
)

// shutdownTimeout bounds how long run waits for workers to stop.
const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start workers, report their status and stop them",
	Long: `Start the configured number of workers against simulated host
processes, wait until each one has evaluated its script, print their status
and stop them again.

With --hold the workers keep running for the given duration, or until
interrupted when --hold is negative.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.IntP("workers", "n", 0, "number of workers to start")
	flags.String("script", "", "script URL every worker runs")
	flags.String("scope", "", "scope used for process affinity (default: script directory)")
	flags.Bool("allow-reuse", true, "let workers share existing processes")
	flags.Bool("fail-evaluation", false, "simulate a script that fails to evaluate")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.String("trace-file", "", "write start traces to this file")
	flags.Duration("hold", 0, "keep workers running this long before stopping (negative: until interrupted)")
}

// runFlagKeys maps config keys to the run flags overriding them.
var runFlagKeys = map[string]string{
	"worker.count":           "workers",
	"worker.script_url":      "script",
	"worker.scope":           "scope",
	"worker.allow_reuse":     "allow-reuse",
	"worker.fail_evaluation": "fail-evaluation",
	"telemetry.metrics_addr": "metrics-addr",
	"telemetry.trace_file":   "trace-file",
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	hold, _ := cmd.Flags().GetDuration("hold")

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runHost(ctx, cfg, logger, cmd.OutOrStdout(), hold)
}

// runHost starts the configured workers, prints their status, optionally
// holds them running and then shuts everything down.
func runHost(ctx context.Context, cfg *config.Config, logger *logging.Logger, out io.Writer, hold time.Duration) (err error) {
	reg := prometheus.NewRegistry()
	h, err := host.New(cfg, logger, host.WithRegisterer(reg))
	if err != nil {
		return err
	}

	var metrics *telemetry.Server
	if cfg.Telemetry.MetricsAddr != "" {
		metrics = telemetry.NewServer(cfg.Telemetry.MetricsAddr, reg)
		metrics.Start()
		fmt.Fprintf(out, "Serving metrics on http://%s/metrics\n", cfg.Telemetry.MetricsAddr)
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := h.Close(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
		if metrics != nil {
			if serveErr := metrics.Err(); serveErr != nil && err == nil {
				err = fmt.Errorf("metrics server: %w", serveErr)
			}
			_ = metrics.Shutdown(closeCtx)
		}
		if err == nil {
			fmt.Fprintln(out, "All workers stopped.")
		}
	}()

	h.Run()

	startCtx, cancel := context.WithTimeout(ctx, cfg.Worker.StartTimeout)
	_, startErr := h.StartWorkers(startCtx)
	cancel()

	if err := printStatus(ctx, h, out); err != nil {
		return err
	}
	if startErr != nil {
		return fmt.Errorf("start workers: %w", startErr)
	}

	switch {
	case hold < 0:
		fmt.Fprintln(out, "Workers running; press Ctrl+C to stop.")
		<-ctx.Done()
	case hold > 0:
		select {
		case <-time.After(hold):
		case <-ctx.Done():
		}
	}
	return nil
}

func printStatus(ctx context.Context, h *host.Host, out io.Writer) error {
	statuses, err := h.Statuses(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tSTATUS\tPHASE\tPROCESS\tGENERATION\tSCRIPT")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.Status, s.Phase, s.ProcessID, s.Generation, s.ScriptURL)
	}
	return tw.Flush()
}
