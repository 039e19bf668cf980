package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sarchlab/mpirelay/config"
	"github.com/sarchlab/mpirelay/hooking"
	"github.com/sarchlab/mpirelay/monitoring"
	"github.com/sarchlab/mpirelay/relay"
	"github.com/sarchlab/mpirelay/tracing"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the runtime side of the relay for one job.",
	Long: "`serve` opens one endpoint per rank and moves messages between " +
		"the workers until every worker has finalized or the process is " +
		"interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()

		if flags.Changed("job") {
			cfg.Jobs.JobID, _ = flags.GetInt32("job")
		}

		if flags.Changed("job-count") {
			cfg.Jobs.JobCount, _ = flags.GetInt32("job-count")
		}

		if flags.Changed("ranks") {
			cfg.Jobs.Ranks, _ = flags.GetInt("ranks")
		}

		if flags.Changed("monitor-port") {
			cfg.Monitor.Port, _ = flags.GetInt("monitor-port")
		}

		if flags.Changed("open") {
			cfg.Monitor.Open, _ = flags.GetBool("open")
		}

		if flags.Changed("trace") {
			cfg.Trace.Backend, _ = flags.GetString("trace")
		}

		if flags.Changed("trace-path") {
			cfg.Trace.Path, _ = flags.GetString("trace-path")
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Int32("job", 1, "job id served by the relay")
	serveCmd.Flags().Int32("job-count", 1, "number of jobs announced to workers")
	serveCmd.Flags().Int("ranks", 2, "number of worker endpoints to open")
	serveCmd.Flags().Int("monitor-port", 0,
		"port of the HTTP monitor, 0 disables it, -1 picks a free port")
	serveCmd.Flags().Bool("open", false, "open the monitor in a browser")
	serveCmd.Flags().String("trace", "", "trace backend: sqlite, csv or clickhouse")
	serveCmd.Flags().String("trace-path", "", "trace file name")
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) (err error) {
	if parent == nil {
		parent = context.Background()
	}

	host, err := openHost()
	if err != nil {
		return err
	}

	router := relay.MakeBuilder().
		WithJobCount(cfg.Jobs.JobCount).
		WithLogger(logger).
		Build("Relay")

	hookables := []hooking.Hookable{router}

	for i := 0; i < cfg.Jobs.Ranks; i++ {
		ep, err := relay.OpenEndpoint(host, cfg.Keys, fmt.Sprintf("EP%d", i))
		if err != nil {
			_ = router.Close()
			return fmt.Errorf("endpoint %d: %w", i, err)
		}

		router.Attach(cfg.Jobs.JobID, ep)
		hookables = append(hookables, ep)
	}

	defer func() {
		if closeErr := router.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	counter := tracing.NewCountTracer()
	for _, h := range hookables {
		h.AcceptHook(counter)
	}

	tracer, err := newTracer(cfg.Trace)
	if err != nil {
		return err
	}

	if tracer != nil {
		defer tracer.Flush()

		for _, h := range hookables {
			h.AcceptHook(tracer)
		}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitor.Port != 0 {
		monitor, err := startMonitor(ctx, router, counter)
		if err != nil {
			return err
		}

		defer shutdownMonitor(monitor)
	}

	logger.Info(ctx, "relay serving",
		"job", cfg.Jobs.JobID, "ranks", cfg.Jobs.Ranks, "host", cfg.Host)

	err = router.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info(ctx, "relay interrupted")
		return nil
	}

	return err
}

func newTracer(c config.TraceConfig) (*tracing.Tracer, error) {
	var w tracing.Writer

	switch c.Backend {
	case config.TraceNone:
		return nil, nil
	case config.TraceSQLite:
		w = tracing.NewSQLiteWriter(c.Path)
	case config.TraceCSV:
		path := c.Path
		if path == "" {
			path = "mpirelay_trace.csv"
		}

		w = tracing.NewCSVWriter(path)
	case config.TraceClickHouse:
		w = tracing.NewClickHouseWriter(c.ClickHouse)
	default:
		return nil, fmt.Errorf("unknown trace backend %q", c.Backend)
	}

	if err := w.Init(); err != nil {
		return nil, err
	}

	return tracing.NewTracer(w), nil
}

func startMonitor(
	ctx context.Context,
	router *relay.Router,
	counter *tracing.CountTracer,
) (*monitoring.Monitor, error) {
	monitor := monitoring.NewMonitor().
		WithPortNumber(cfg.Monitor.Port).
		WithLogger(logger)
	monitor.RegisterRouter(router)
	monitor.RegisterCounter(counter)

	addr, err := monitor.StartServer()
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "monitor started", "addr", addr)

	if cfg.Monitor.Open {
		if err := monitor.OpenBrowser(); err != nil {
			logger.Warn(ctx, "cannot open browser", "err", err)
		}
	}

	return monitor, nil
}

func shutdownMonitor(m *monitoring.Monitor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = m.Shutdown(ctx)
}
