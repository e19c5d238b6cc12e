package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/radarzone/companion/internal/connection"
	"github.com/radarzone/companion/pkg/core"
)

// ConfigName is the config file base name; json and yaml are both accepted.
const ConfigName = "radarzone"

// ErrConfigNotFound is returned by Load when no config file exists in the
// directory. Defaults are still in effect.
var ErrConfigNotFound = errors.New("config file not found")

var validate = validator.New()

// Load reads configuration from the config directory and sets default values.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("RADARZONE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(ConfigName)
	viper.AddConfigPath(configDir)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w in %s", ErrConfigNotFound, configDir)
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8765)
	viper.SetDefault("server.path", "/ws")
	viper.SetDefault("server.secure", false)

	viper.SetDefault("device.fallDetectionEnabled", true)
	viper.SetDefault("device.sensitivity", 50)
	viper.SetDefault("device.frameTime", 100)

	viper.SetDefault("session.targetHistory", 100)
	viper.SetDefault("session.zoneEventHistory", 50)

	def := connection.DefaultTiming()
	viper.SetDefault("connection.minAttemptInterval", def.MinAttemptInterval)
	viper.SetDefault("connection.maxFailures", def.MaxFailures)
	viper.SetDefault("connection.heartbeat", def.Heartbeat)
	viper.SetDefault("connection.dataCheck", def.DataCheck)
	viper.SetDefault("connection.stalenessThreshold", def.StalenessThreshold)
	viper.SetDefault("connection.pendingTimeout", def.PendingTimeout)
	viper.SetDefault("connection.dialTimeout", 10*time.Second)

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "radarzone")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("metrics.listen", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "radarzone")
	viper.SetDefault("influx.bucket", "occupancy")
	viper.SetDefault("influx.flushInterval", "5s")
	viper.SetDefault("influx.backupPath", "")
}

// Settings is the full typed configuration.
type Settings struct {
	LogLevel   string             `mapstructure:"logLevel" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogsDir    string             `mapstructure:"logsDir"`
	Server     ServerSettings     `mapstructure:"server"`
	Device     DeviceSettings     `mapstructure:"device"`
	Session    SessionSettings    `mapstructure:"session"`
	Connection ConnectionSettings `mapstructure:"connection"`
	OTel       OTelSettings       `mapstructure:"otel"`
	Metrics    MetricsSettings    `mapstructure:"metrics"`
	Influx     InfluxSettings     `mapstructure:"influx"`
}

// ServerSettings locates the radar server.
type ServerSettings struct {
	Host   string `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port   int    `mapstructure:"port" validate:"min=1,max=65535"`
	Path   string `mapstructure:"path" validate:"omitempty,startswith=/"`
	Secure bool   `mapstructure:"secure"`
}

// URL returns the WebSocket endpoint.
func (s ServerSettings) URL() string {
	scheme := "ws"
	if s.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(s.Host, strconv.Itoa(s.Port)), Path: s.Path}
	return u.String()
}

// DeviceSettings are the user-facing device options. Sensitivity uses the
// 0-100 UI scale.
type DeviceSettings struct {
	FallDetectionEnabled bool `mapstructure:"fallDetectionEnabled"`
	Sensitivity          int  `mapstructure:"sensitivity" validate:"min=0,max=100"`
	FrameTime            int  `mapstructure:"frameTime" validate:"min=1,max=10000"`
}

// SessionSettings bound in-memory history.
type SessionSettings struct {
	TargetHistory    int `mapstructure:"targetHistory" validate:"min=1"`
	ZoneEventHistory int `mapstructure:"zoneEventHistory" validate:"min=1"`
}

// ConnectionSettings override connection manager intervals.
type ConnectionSettings struct {
	MinAttemptInterval time.Duration `mapstructure:"minAttemptInterval" validate:"gt=0"`
	MaxFailures        int           `mapstructure:"maxFailures" validate:"min=1"`
	Heartbeat          time.Duration `mapstructure:"heartbeat" validate:"gt=0"`
	DataCheck          time.Duration `mapstructure:"dataCheck" validate:"gt=0"`
	StalenessThreshold time.Duration `mapstructure:"stalenessThreshold" validate:"gt=0"`
	PendingTimeout     time.Duration `mapstructure:"pendingTimeout" validate:"gt=0"`
	DialTimeout        time.Duration `mapstructure:"dialTimeout" validate:"gt=0"`
}

// Timing merges the overrides into the default connection timing.
func (c ConnectionSettings) Timing() connection.Timing {
	t := connection.DefaultTiming()
	t.MinAttemptInterval = c.MinAttemptInterval
	t.MaxFailures = c.MaxFailures
	t.Heartbeat = c.Heartbeat
	t.DataCheck = c.DataCheck
	t.StalenessThreshold = c.StalenessThreshold
	t.PendingTimeout = c.PendingTimeout
	return t
}

// OTelSettings holds OpenTelemetry configuration.
type OTelSettings struct {
	Enabled      bool          `mapstructure:"enabled"`
	ServiceName  string        `mapstructure:"serviceName"`
	BatchTimeout time.Duration `mapstructure:"batchTimeout"`
	Endpoint     string        `mapstructure:"endpoint"`
	Insecure     bool          `mapstructure:"insecure"`
}

// MetricsSettings controls the Prometheus endpoint. An empty Listen
// disables it.
type MetricsSettings struct {
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// InfluxSettings configures the optional telemetry sink.
type InfluxSettings struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url" validate:"omitempty,url"`
	Token         string        `mapstructure:"token"`
	Org           string        `mapstructure:"org" validate:"required_if=Enabled true"`
	Bucket        string        `mapstructure:"bucket" validate:"required_if=Enabled true"`
	FlushInterval time.Duration `mapstructure:"flushInterval"`
	BackupPath    string        `mapstructure:"backupPath"`
}

// Current decodes and validates the loaded configuration.
func Current() (Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks every field constraint.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Watch calls onChange with the new settings whenever the config file is
// rewritten. Invalid edits are reported through onError and otherwise
// ignored.
func Watch(onChange func(Settings), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		s, err := Current()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(s)
	})
	viper.WatchConfig()
}

// SensitivityToServer maps the 0-100 UI scale onto the 0-1 server scale.
func SensitivityToServer(ui int) float64 {
	return math.Max(0, math.Min(100, float64(ui))) / 100
}

// SensitivityToUI maps the 0-1 server scale onto the 0-100 UI scale.
func SensitivityToUI(server float64) int {
	return int(math.Round(math.Max(0, math.Min(1, server)) * 100))
}

// DeviceConfig builds the update_config payload.
func (s Settings) DeviceConfig() core.DeviceConfig {
	return core.DeviceConfig{
		FallDetection: core.FallDetectionConfig{
			Enabled:     s.Device.FallDetectionEnabled,
			Sensitivity: SensitivityToServer(s.Device.Sensitivity),
		},
		Radar:  core.RadarConfig{FrameTime: s.Device.FrameTime},
		Server: core.ServerConfig{Host: s.Server.Host, Port: s.Server.Port},
	}
}
