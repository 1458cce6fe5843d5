// Command dinitd is the daemon binary: it loads a service-graph config,
// runs the reactor event loop, and serves the control socket (and,
// optionally, the read-only HTTP observability surface) until told to
// shut down.
package main

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/dinitgo"
	"github.com/loykin/dinitgo/internal/control"
	"github.com/loykin/dinitgo/internal/logger"
	"github.com/loykin/dinitgo/internal/metrics"
)

func main() {
	var (
		configPath    string
		controlSocket string
		httpListen    string
		httpBasePath  string
		useOSEnv      bool
		envKVs        []string
		daemonize     bool
		pidFile       string
		logFile       string
	)

	root := &cobra.Command{
		Use:   "dinitd",
		Short: "Run the dinitgo service supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemonize {
				if err := daemonizeSelf(pidFile, logFile); err != nil {
					return err
				}
			}

			log := slog.New(logger.NewColorTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}, true))

			if configPath == "" {
				return fmt.Errorf("dinitd: --config is required")
			}

			sup := dinitgo.New(log)
			if useOSEnv {
				sup.SetGlobalEnv(os.Environ())
			}
			cfg, err := sup.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("dinitd: loading config: %w", err)
			}
			if len(envKVs) > 0 {
				sup.SetGlobalEnv(envKVs)
			}

			var metricsSrv *http.Server
			var procMetrics *metrics.ProcessMetricsCollector
			if cfg.Metrics != nil && cfg.Metrics.Enabled {
				if cfg.Metrics.ProcessSampling {
					if err := metrics.RegisterWithProcessMetrics(prometheus.DefaultRegisterer, metrics.ProcessMetricsConfig{
						Enabled:  true,
						Interval: cfg.Metrics.SampleInterval,
					}); err != nil {
						return fmt.Errorf("dinitd: registering metrics: %w", err)
					}
					procMetrics = metrics.GetProcessMetricsCollector()
				} else if err := dinitgo.RegisterMetricsDefault(); err != nil {
					return fmt.Errorf("dinitd: registering metrics: %w", err)
				}
				if cfg.Metrics.Listen != "" {
					metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
					go func() {
						if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							log.Error("metrics server stopped", "error", err)
						}
					}()
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()

			reactorDone := make(chan struct{})
			go func() {
				sup.Run(ctx)
				close(reactorDone)
			}()

			if procMetrics != nil {
				if err := procMetrics.Start(ctx, sup.RunningPIDs); err != nil {
					log.Error("process metrics collector failed to start", "error", err)
				}
			}

			rc := sup.Reactor()
			ctrlSrv, err := control.Listen(controlSocket, rc, log)
			if err != nil {
				return fmt.Errorf("dinitd: control socket %s: %w", controlSocket, err)
			}
			go func() {
				if err := ctrlSrv.Serve(); err != nil {
					log.Error("control socket server stopped", "error", err)
				}
			}()
			defer func() { _ = ctrlSrv.Close() }()

			var httpSrv *http.Server
			if httpListen != "" {
				httpSrv, err = sup.NewHTTPAPIServer(httpListen, httpBasePath)
				if err != nil {
					return fmt.Errorf("dinitd: http api %s: %w", httpListen, err)
				}
			}

			log.Info("dinitd started", "config", configPath, "control_socket", controlSocket)
			<-ctx.Done()
			log.Info("shutting down")

			sup.StopAll(dinitgo.ShutdownHalt)
			sup.Stop()
			<-reactorDone

			if procMetrics != nil {
				procMetrics.Stop()
			}

			if httpSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}

			if daemonize {
				_ = removePidFile(pidFile)
			}
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to dinitgo config file")
	root.Flags().StringVar(&controlSocket, "control-socket", "/run/dinitgo/control.sock", "path to the control socket")
	root.Flags().StringVar(&httpListen, "http-listen", "", "address to serve the read-only HTTP API on (e.g. :9191); empty disables it")
	root.Flags().StringVar(&httpBasePath, "http-base-path", "/", "base path for the HTTP API")
	root.Flags().BoolVar(&useOSEnv, "use-os-env", false, "inject the current OS environment into the global env")
	root.Flags().StringSliceVar(&envKVs, "env", nil, "additional KEY=VALUE to inject into the global env (repeatable)")
	root.Flags().BoolVar(&daemonize, "daemonize", false, "fork into the background")
	root.Flags().StringVar(&pidFile, "pidfile", "", "PID file path (used with --daemonize)")
	root.Flags().StringVar(&logFile, "logfile", "", "log file path (used with --daemonize)")

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
