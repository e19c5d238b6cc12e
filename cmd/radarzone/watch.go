package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/radarzone/companion/internal/client"
	"github.com/radarzone/companion/internal/config"
	"github.com/radarzone/companion/internal/influx"
	"github.com/radarzone/companion/internal/monitor"
	"github.com/radarzone/companion/internal/session"
	"github.com/radarzone/companion/pkg/core"
)

var (
	statusInterval time.Duration
	pushConfig     bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and report zone occupancy and fall alerts",
		Long: `watch keeps a connection to the sensor server open, reconnecting as
needed. Occupancy changes and fall alerts are logged and, when enabled,
written to InfluxDB. Editing the config file while watch runs moves the
client to a new server or pushes new device settings. SIGHUP retries a
connection that gave up after repeated failures.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().DurationVar(&statusInterval, "status-interval", 30*time.Second, "how often the status monitor reports")
	watchCmd.Flags().BoolVar(&pushConfig, "push-config", false, "send device settings once connected")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var current atomic.Pointer[client.Client]
	setupLogging(func() core.ConnectionStatus {
		if c := current.Load(); c != nil {
			return c.Status()
		}
		return core.ConnectionStatus{}
	})

	cl, err := newClient()
	if err != nil {
		return err
	}
	current.Store(cl)
	cl.AddObserver(client.LogObserver{Logger: logger})

	var sink *influx.Sink
	if settings.Influx.Enabled {
		sink = influx.NewSink(influx.Config{
			Enabled:       true,
			URL:           settings.Influx.URL,
			Token:         settings.Influx.Token,
			Org:           settings.Influx.Org,
			Bucket:        settings.Influx.Bucket,
			FlushInterval: settings.Influx.FlushInterval,
			BackupPath:    settings.Influx.BackupPath,
		}, logger)
		if err := sink.Connect(ctx); err != nil {
			logger.Error("InfluxDB sink unavailable", "error", err)
			sink = nil
		} else {
			cl.AddObserver(sink)
		}
	}

	deps := monitor.Dependencies{
		Logger:   logger.With("component", "monitor"),
		Snapshot: cl.Store().Snapshot,
		Interval: statusInterval,
	}
	if sink != nil {
		deps.Pending = sink.Pending
	}
	if settings.LogsDir != "" {
		deps.StatusFile = filepath.Join(settings.LogsDir, "status.json")
	}
	mon := monitor.NewService(deps)

	r := &reloader{current: settings, client: cl, logger: logger}
	config.Watch(r.apply, func(err error) {
		logger.Warn("Ignoring invalid config change", "error", err)
	})

	g, gctx := errgroup.WithContext(ctx)

	if handler := metricsHandler(); handler != nil {
		serveMetrics(gctx, g, handler)
	}
	if sink != nil {
		g.Go(func() error { return sink.Run(gctx) })
	}

	if err := mon.Start(); err != nil {
		return err
	}
	defer mon.Stop()

	if err := cl.Start(); err != nil {
		return err
	}
	defer cl.Close()
	logger.Info("Watching", "url", settings.Server.URL())

	if pushConfig {
		g.Go(func() error {
			_, err := cl.WaitFor(gctx, func(s session.Snapshot) bool { return s.Connection.State == core.Connected })
			if err != nil {
				return nil
			}
			if !cl.UpdateConfig(r.settings()) {
				logger.Warn("Device settings not sent")
			}
			return nil
		})
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("Reconnect requested")
				cl.ForceReconnect()
			}
		}
	})

	err = g.Wait()
	logger.Info("Stopping")
	return err
}

func metricsHandler() http.Handler {
	if settings.Metrics.Listen == "" || otelProvider == nil {
		return nil
	}
	return otelProvider.MetricsHandler()
}

func serveMetrics(ctx context.Context, g *errgroup.Group, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              settings.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Serving metrics", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// reloader applies config file edits to a running client.
type reloader struct {
	mu      sync.Mutex
	current config.Settings
	client  *client.Client
	logger  *slog.Logger
}

func (r *reloader) settings() config.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *reloader) apply(next config.Settings) {
	r.mu.Lock()
	prev := r.current
	r.current = next
	r.mu.Unlock()

	if url := next.Server.URL(); url != prev.Server.URL() {
		r.logger.Info("Server endpoint changed", "url", url)
		r.client.SetURL(url)
	}
	if next.Device != prev.Device {
		r.logger.Info("Device settings changed",
			"fallDetection", next.Device.FallDetectionEnabled,
			"sensitivity", next.Device.Sensitivity,
			"frameTime", next.Device.FrameTime,
		)
		if !r.client.UpdateConfig(next) {
			r.logger.Warn("Device settings not sent")
		}
	}
}
