package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Travis-Britz/cfddns"
)

var version = "dev"

var (
	runConfigPath string
	runIP         string
	runOnce       bool

	rootCmd = &cobra.Command{
		Use:   "cfddns",
		Short: "Keep Cloudflare DNS A records pointed at this host's public IPv4 address",
		// errors are logged by the commands themselves
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Poll the public address and update the managed records",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cfddns", version)
		},
	}
)

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to the settings file (default $CFDDNS_CONFIG or cfddns.yaml)")
	runCmd.Flags().StringVar(&runIP, "ip", "", "Use this IPv4 address instead of looking it up")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Update once and exit")

	rootCmd.AddCommand(runCmd, setupCmd, versionCmd)
}

// errReported means the failure was already logged.
var errReported = errors.New("reported")

func main() {
	// a .env file is optional
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	log, err := newLogger(env, os.Stderr)
	if err != nil {
		return err
	}

	path := env.ConfigPath
	if runConfigPath != "" {
		path = runConfigPath
	}
	cfg, err := cfddns.LoadConfig(path)
	if err != nil {
		log.WithError(err).Error("configuration error")
		return errReported
	}

	if cfg.LogFile != "" {
		f, err := openLogFile(cfg.LogFile)
		if err != nil {
			log.WithError(err).Error("configuration error")
			return errReported
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	log.Infof("cfddns %s starting", version)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []cfddns.Option{cfddns.WithLogger(log)}
	if runIP != "" {
		r, err := cfddns.FromString(runIP)
		if err != nil {
			log.WithError(err).Error("invalid --ip")
			return errReported
		}
		opts = append(opts, cfddns.UsingResolver(r))
	}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, cfddns.WithMetrics(cfddns.NewMetrics(reg)))
		shutdown := serveMetrics(cfg.MetricsAddr, reg, log)
		defer shutdown()
	}

	client, err := cfddns.New(ctx, cfg, opts...)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("interrupted during startup, exiting...")
			return nil
		}
		log.WithError(err).Error("startup failed")
		return errReported
	}

	if runOnce {
		// like Run, a single cycle is not abandoned on interrupt
		err = client.RunOnce(context.WithoutCancel(ctx))
	} else {
		err = client.Run(ctx)
	}
	if err != nil {
		log.WithError(err).Error("exiting with error")
		return errReported
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log logrus.FieldLogger) (shutdown func()) {
	server := &http.Server{
		Addr:         addr,
		Handler:      cfddns.Handler(reg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	go func() {
		log.WithField("addr", addr).Info("starting metrics server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server error")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
