// Command dataprep runs the data preparation job against the core API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/tameng"
	"github.com/ambiyansyah-risyal/tameng/config"
	"github.com/ambiyansyah-risyal/tameng/internal/app"
	"github.com/ambiyansyah-risyal/tameng/internal/dataprep"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "dataprep:", err)
		stop()
		os.Exit(1)
	}
}

// flagKeys maps command line flags to the config keys they override.
var flagKeys = map[string]string{
	"dry-run":      "job.dry_run",
	"source-id":    "job.source_id",
	"target-id":    "job.target_id",
	"metrics-addr": "metrics.addr",
	"log-level":    "logging.level",
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "dataprep",
		Short:         "Fetch the source and target datasets from the core API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader(config.DefaultEnvPrefix)
			loader.SetDefaults()
			for flag, key := range flagKeys {
				f := cmd.Flags().Lookup(flag)
				if f != nil && f.Changed {
					loader.Set(key, f.Value.String())
				}
			}

			cfg := &config.Config{}
			if err := loader.Load(cfgFile, cfg); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	flags.Bool("dry-run", false, "Run without side effects")
	flags.String("source-id", "", "Source dataset ID")
	flags.String("target-id", "", "Target dataset ID")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), tameng.GetVersion())
			return err
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	c, err := app.NewContainer(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	c.Logger.Info("dataprep starting", tameng.GetVersionInfo()...)

	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(c)
		defer shutdown()
	}

	job, err := dataprep.NewJobFromContainer(c)
	if err != nil {
		return err
	}

	if _, err := job.Execute(ctx, dataprep.NewJobContext(cfg.Job)); err != nil {
		return fmt.Errorf("data preparation failed: %w", err)
	}
	return nil
}

// serveMetrics exposes the container's registry until the returned func is called.
func serveMetrics(c *app.Container) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Metrics.GetRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              c.Config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		c.Logger.Info("metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
