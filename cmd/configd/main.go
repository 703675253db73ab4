// Command configd runs the configuration-distribution server: the
// release read endpoint, the configfiles rendering endpoints, and the
// long-poll notification endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/configwatch/configd/internal/branch"
	"github.com/configwatch/configd/internal/metrics"
	"github.com/configwatch/configd/internal/server"
	"github.com/configwatch/configd/internal/store"
	"github.com/configwatch/configd/internal/watchhub"
)

type rootFlags struct {
	listenAddr      string
	metricsAddr     string
	publishLog      string
	publishLogFlush time.Duration
	logFile         string
	maxWaiters      int
	holdTimeout     time.Duration
}

func main() {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "configd",
		Short: "Run the configuration-distribution server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.listenAddr, "listen-addr", ":8080", "address the configs/notifications HTTP server listens on")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", ":9090", "address the Prometheus metrics endpoint listens on")
	cmd.Flags().StringVar(&flags.publishLog, "publish-log", "", "path to the append-only publish log file (empty disables persistence)")
	cmd.Flags().DurationVar(&flags.publishLogFlush, "publish-log-flush-interval", time.Second, "how often queued publish-log records are flushed to disk")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "path to write rotated logs to (empty logs to stderr only)")
	cmd.Flags().IntVar(&flags.maxWaiters, "max-waiters", 10000, "maximum concurrent long-poll waiters before rejecting with 503")
	cmd.Flags().DurationVar(&flags.holdTimeout, "hold-timeout", server.DefaultHoldTimeout, "server-side long-poll hold duration (T_hold)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, flags *rootFlags) error {
	zapLogger, err := buildZapLogger(flags.logFile)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	log := zapr.NewLogger(zapLogger)

	registry := prometheus.NewRegistry()
	shutdownMetrics, err := metrics.InitOTLPExporter(ctx, registry)
	if err != nil {
		return fmt.Errorf("initializing metrics exporter: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	var appendLog store.AppendLogger
	if flags.publishLog != "" {
		fileLog, err := store.NewFileAppendLog(flags.publishLog)
		if err != nil {
			return fmt.Errorf("opening publish log: %w", err)
		}
		defer fileLog.Close()

		batching := store.NewBatchingAppendLog(fileLog, flags.publishLogFlush)
		batching.Start(ctx)
		defer batching.Stop()
		appendLog = batching
	}

	releaseStore := store.NewMemoryStore(appendLog)
	hub := watchhub.New(flags.maxWaiters)
	resolver := branch.NewPassthroughResolver(releaseStore.GetCurrent)

	srv := server.New(server.Config{
		Store:       releaseStore,
		Hub:         hub,
		Resolver:    resolver,
		Logger:      log,
		HoldTimeout: flags.holdTimeout,
	})

	sub, err := releaseStore.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to release store: %w", err)
	}
	go bridgeNotifications(ctx, sub, hub, releaseStore, log)

	httpSrv := &http.Server{Addr: flags.listenAddr, Handler: srv.Mux()}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: flags.metricsAddr, Handler: metricsMux}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		log.Info("starting configs/notifications server", "addr", flags.listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("configs server: %w", err)
		}
	}()
	go func() {
		log.Info("starting metrics server", "addr", flags.metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

// bridgeNotifications relays ReleaseStore publish events into the
// WatchHub, re-reading the release to learn its releaseKey (Subscribe
// only reports the notificationId).
func bridgeNotifications(ctx context.Context, sub <-chan store.NotificationEvent, hub *watchhub.Hub, releaseStore store.ReleaseStore, log interface {
	Error(err error, msg string, kv ...interface{})
}) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			release, err := releaseStore.GetCurrent(ctx, event.Key)
			if err != nil {
				log.Error(err, "failed to read current release after publish notification")
				continue
			}
			hub.Publish(event.Key, event.NotificationID, release.ReleaseKey)
		}
	}
}

// buildZapLogger builds a production-config zap logger; when logFile is
// set, logs additionally fan out to a lumberjack-rotated file alongside
// stderr.
func buildZapLogger(logFile string) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	stderrCore := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.InfoLevel)
	if logFile == "" {
		return zap.New(stderrCore, zap.AddCaller()), nil
	}

	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	fileCore := zapcore.NewCore(encoder, zapcore.AddSync(rotator), zap.InfoLevel)
	return zap.New(zapcore.NewTee(stderrCore, fileCore), zap.AddCaller()), nil
}
