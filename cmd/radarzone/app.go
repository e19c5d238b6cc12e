package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/radarzone/companion/internal/client"
	"github.com/radarzone/companion/internal/config"
	"github.com/radarzone/companion/internal/logging"
	intOtel "github.com/radarzone/companion/internal/otel"
	"github.com/radarzone/companion/internal/session"
	"github.com/radarzone/companion/internal/transport/websocket"
	"github.com/radarzone/companion/pkg/core"
)

const appName = "radarzone"

var (
	sessionStartTime = time.Now()

	slogManager  *logging.SlogManager
	logger       *slog.Logger
	settings     config.Settings
	otelProvider *intOtel.Provider
	logFile      *os.File
)

// initApp loads config and sets up logging and telemetry before any
// subcommand runs.
func initApp(cmd *cobra.Command, _ []string) error {
	slogManager = logging.NewSlogManager()
	slogManager.Setup(nil, "info", nil)
	logger = slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return err
		}
		logger.Warn("No config file found, using defaults", "dir", configDir)
	}
	if logLevel != "" {
		viper.Set("logLevel", logLevel)
	}

	s, err := config.Current()
	if err != nil {
		return err
	}
	settings = s

	if settings.LogsDir != "" {
		if err := openLogFile(); err != nil {
			logger.Error("Failed to create/open log file!", "error", err)
		}
	}

	if settings.OTel.Enabled || settings.Metrics.Listen != "" {
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      settings.OTel.Enabled,
			ServiceName:  settings.OTel.ServiceName,
			BatchTimeout: settings.OTel.BatchTimeout,
			LogWriter:    logWriter(),
			Endpoint:     settings.OTel.Endpoint,
			Insecure:     settings.OTel.Insecure,
			Metrics:      settings.Metrics.Listen != "",
		})
		if err != nil {
			logger.Error("Failed to initialize OTel provider", "error", err)
			otelProvider = nil
		}
	}

	setupLogging(nil)
	logger.Debug("Initialized", "command", cmd.Name(), "server", settings.Server.URL())
	return nil
}

func openLogFile() error {
	if err := os.MkdirAll(settings.LogsDir, 0o755); err != nil {
		return err
	}
	path := logging.LogFilePath(settings.LogsDir, appName, sessionStartTime)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	logFile = f
	logger.Info("Begin logging in logs directory", "path", path)
	return nil
}

func logWriter() io.Writer {
	if logFile == nil {
		return nil
	}
	return logFile
}

// setupLogging (re)builds the logger. With a status func every record
// carries the live connection state.
func setupLogging(status func() core.ConnectionStatus) {
	var provider *sdklog.LoggerProvider
	if otelProvider != nil {
		provider = otelProvider.LoggerProvider()
	}
	opts := []logging.Option{logging.WithServiceName(settings.OTel.ServiceName)}
	if status != nil {
		opts = append(opts, logging.WithContext(logging.ConnectionContext(status)))
	}
	slogManager.Setup(logWriter(), settings.LogLevel, provider, opts...)
	logger = slogManager.Logger()
}

func shutdownApp() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if otelProvider != nil {
		if err := otelProvider.Shutdown(ctx); err != nil && logger != nil {
			logger.Error("OTel shutdown failed", "error", err)
		}
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func newClient() (*client.Client, error) {
	tr := websocket.New(websocket.Config{
		HandshakeTimeout: settings.Connection.DialTimeout,
	}, logger.With("component", "transport"))

	return client.New(client.Options{
		URL:       settings.Server.URL(),
		Transport: tr,
		Logger:    logger,
		Timing:    settings.Connection.Timing(),
		Session: session.Options{
			TargetHistory:    settings.Session.TargetHistory,
			ZoneEventHistory: settings.Session.ZoneEventHistory,
		},
	})
}

// connect starts a client and waits for the first authoritative zone list.
func connect(ctx context.Context) (*client.Client, session.Snapshot, error) {
	cl, err := newClient()
	if err != nil {
		return nil, session.Snapshot{}, err
	}
	if err := cl.Start(); err != nil {
		cl.Close()
		return nil, session.Snapshot{}, err
	}

	snap, err := cl.WaitFor(ctx, func(s session.Snapshot) bool {
		return s.ZonesReceived || s.Connection.State == core.Exhausted
	})
	if err == nil && snap.Connection.State == core.Exhausted {
		err = errors.New("connection attempts exhausted")
	}
	if err != nil {
		cl.Close()
		return nil, snap, fmt.Errorf("connecting to %s: %w", settings.Server.URL(), err)
	}
	return cl, snap, nil
}

// roundTrip requests the zone list and waits for the answer. Frames sent
// before it are then known to have reached the server.
func roundTrip(ctx context.Context, cl *client.Client) (session.Snapshot, error) {
	base := cl.Store().Snapshot().ZoneLists
	if !cl.RequestZones() {
		return session.Snapshot{}, client.ErrNotSent
	}
	return cl.WaitFor(ctx, func(s session.Snapshot) bool { return s.ZoneLists > base })
}
