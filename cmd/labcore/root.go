package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"labcore/internal/blob"
	"labcore/internal/core"
	"labcore/internal/logging"
	"labcore/internal/status"
	"labcore/pkg/domain"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	logLevel    string
	metricsAddr string

	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *core.PrometheusMetricsRecorder
	server   *http.Server
	closers  []func() error
}

// execute runs one CLI invocation and releases everything it opened, whether
// or not the command succeeded.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.teardown(ctx))
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "labcore",
		Short:         "Inspect worklists and reconcile lab batches",
		Long:          `labcore resolves worklist stages from their techniques and reconciles lot and result batches against the configured store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", os.Getenv("LABCORE_LOG_LEVEL"), "log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	root.AddCommand(
		newCatalogCmd(a),
		newWorklistCmd(a),
		newStageCmd(a),
		newReconcileCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.logger = logging.NewWithWriter(a.stderr, level)
	a.registry = prometheus.NewRegistry()
	a.metrics, err = core.NewPrometheusMetricsRecorder(a.registry)
	if err != nil {
		return err
	}
	if a.metricsAddr == "" {
		return nil
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", a.metricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		a.server = nil
	}
	return errors.Join(errs...)
}

// service opens the configured store and wires a service over it. withArchive
// also opens the blob store that receives reconciliation reports.
func (a *app) service(ctx context.Context, withArchive bool) (*core.Service, error) {
	validator, err := core.OpenStatusValidator()
	if err != nil {
		return nil, err
	}
	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine(validator))
	if err != nil {
		return nil, err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	opts := []core.ServiceOption{
		core.WithLogger(a.logger),
		core.WithMetricsRecorder(a.metrics),
		core.WithStatusValidator(validator),
	}
	if withArchive {
		archive, err := blob.Open(ctx)
		if err != nil {
			return nil, fmt.Errorf("report archive: %w", err)
		}
		opts = append(opts, core.WithReportArchive(archive))
	}
	return core.NewService(store, opts...)
}

// validator loads the catalog named by path, or the configured one when empty.
func (a *app) validator(path string) (*status.Validator, error) {
	if path == "" {
		return core.OpenStatusValidator()
	}
	cat, err := status.LoadCatalogFile(path)
	if err != nil {
		return nil, err
	}
	reg, err := status.NewRegistry(cat)
	if err != nil {
		return nil, fmt.Errorf("status catalog %s: %w", path, err)
	}
	return status.NewValidator(reg), nil
}

func violationsOf(res domain.Result) []string {
	out := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		out = append(out, fmt.Sprintf("%s: %s", v.Rule, v.Message))
	}
	return out
}
