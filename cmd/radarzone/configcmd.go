package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/radarzone/companion/internal/client"
	"github.com/radarzone/companion/internal/config"
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect and push configuration",
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
	configPushCmd = &cobra.Command{
		Use:   "push",
		Short: "Send the device settings to the sensor server",
		Args:  cobra.NoArgs,
		RunE:  runConfigPush,
	}
)

func init() {
	configCmd.AddCommand(configShowCmd, configPushCmd)
}

type shownConfig struct {
	URL                  string  `yaml:"url"`
	LogLevel             string  `yaml:"logLevel"`
	LogsDir              string  `yaml:"logsDir,omitempty"`
	FallDetectionEnabled bool    `yaml:"fallDetectionEnabled"`
	Sensitivity          int     `yaml:"sensitivity"`
	ServerSensitivity    float64 `yaml:"serverSensitivity"`
	FrameTime            int     `yaml:"frameTimeMs"`
	MetricsListen        string  `yaml:"metricsListen,omitempty"`
	Influx               bool    `yaml:"influx"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out := shownConfig{
		URL:                  settings.Server.URL(),
		LogLevel:             settings.LogLevel,
		LogsDir:              settings.LogsDir,
		FallDetectionEnabled: settings.Device.FallDetectionEnabled,
		Sensitivity:          settings.Device.Sensitivity,
		ServerSensitivity:    config.SensitivityToServer(settings.Device.Sensitivity),
		FrameTime:            settings.Device.FrameTime,
		MetricsListen:        settings.Metrics.Listen,
		Influx:               settings.Influx.Enabled,
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

func runConfigPush(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cl, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()

	if !cl.UpdateConfig(settings) {
		return client.ErrNotSent
	}
	snap, err := roundTrip(ctx, cl)
	if err != nil {
		return fmt.Errorf("waiting for server: %w", err)
	}
	if snap.LastError != "" {
		return fmt.Errorf("server error: %s", snap.LastError)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pushed device settings to %s\n", settings.Server.URL())
	return nil
}
