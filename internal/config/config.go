// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/inertial_stylus/internal/filter"
	"github.com/relabs-tech/inertial_stylus/internal/orientation"
	"github.com/relabs-tech/inertial_stylus/internal/pipeline"
	"github.com/relabs-tech/inertial_stylus/internal/sensors"
	"github.com/relabs-tech/inertial_stylus/internal/target"
	"github.com/relabs-tech/inertial_stylus/internal/transport"
)

const (
	DefaultAppName    = "stylus"
	DefaultConfigName = "config"
	EnvConfigPath     = "STYLUS_CONFIG"

	SourceSerial = "serial"
	SourceMock   = "mock"
)

var userHomeDir, _ = os.UserHomeDir()

// DefaultConfigPath is where `stylus init` writes the template.
var DefaultConfigPath = path.Join(userHomeDir, ".config", DefaultAppName, DefaultConfigName+".yaml")

var searchPaths = []string{
	path.Join(userHomeDir, ".config", DefaultAppName),
	"/etc/" + DefaultAppName,
	"./",
}

// MQTTOpt is the broker address and one client ID per front-end.
type MQTTOpt struct {
	Broker           string `mapstructure:"broker" yaml:"broker"`
	ClientIDProducer string `mapstructure:"client_id_producer" yaml:"client_id_producer"`
	ClientIDWeb      string `mapstructure:"client_id_web" yaml:"client_id_web"`
	ClientIDConsole  string `mapstructure:"client_id_console" yaml:"client_id_console"`
	ClientIDDisplay  string `mapstructure:"client_id_display" yaml:"client_id_display"`
}

// TopicsOpt names the topics the producer publishes to.
type TopicsOpt struct {
	Pose      string `mapstructure:"pose" yaml:"pose"`
	Telemetry string `mapstructure:"telemetry" yaml:"telemetry"`
	IMU       string `mapstructure:"imu" yaml:"imu"`
}

// SensorOpt holds the raw-to-physical ranges and the static accel bias.
type SensorOpt struct {
	Accel     sensors.Range  `mapstructure:"accel" yaml:"accel"`
	Gyro      sensors.Range  `mapstructure:"gyro" yaml:"gyro"`
	AccelBias sensors.Vector `mapstructure:"accel_bias" yaml:"accel_bias"` // g
}

// FilterOpt configures the LPF and Kalman conditioning stage.
type FilterOpt struct {
	Conditioning bool          `mapstructure:"conditioning" yaml:"conditioning"`
	Accel        filter.Config `mapstructure:"accel" yaml:"accel"`
	Gyro         filter.Config `mapstructure:"gyro" yaml:"gyro"`
}

// AHRSOpt holds the Mahony gains and the fixed update step.
type AHRSOpt struct {
	orientation.Config `mapstructure:",squash" yaml:",inline"`

	DT float64 `mapstructure:"dt" yaml:"dt"` // seconds
}

// IngestOpt selects the buffering policy between source and pipeline.
type IngestOpt struct {
	Policy     string `mapstructure:"policy" yaml:"policy"` // latest | queue
	QueueDepth int    `mapstructure:"queue_depth" yaml:"queue_depth"`
}

// WebOpt configures the dashboard server.
type WebOpt struct {
	Port      int    `mapstructure:"port" yaml:"port"`
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir"`
}

// DisplayOpt configures the SSD1306 status display.
type DisplayOpt struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	I2CBus     string `mapstructure:"i2c_bus" yaml:"i2c_bus"` // "" picks the first bus
	IntervalMS int    `mapstructure:"interval_ms" yaml:"interval_ms"`
}

// CalibrationOpt sets the capture length and the stored result file.
type CalibrationOpt struct {
	Samples int    `mapstructure:"samples" yaml:"samples"`
	File    string `mapstructure:"file" yaml:"file"` // applied by the producer when present
}

// Config holds all application configuration values.
type Config struct {
	Device string `mapstructure:"device" yaml:"device"`
	Source string `mapstructure:"source" yaml:"source"` // serial | mock

	MQTT   MQTTOpt                `mapstructure:"mqtt" yaml:"mqtt"`
	Topics TopicsOpt              `mapstructure:"topics" yaml:"topics"`
	Serial transport.SerialConfig `mapstructure:"serial" yaml:"serial"`

	Sensor SensorOpt `mapstructure:"sensor" yaml:"sensor"`
	Filter FilterOpt `mapstructure:"filter" yaml:"filter"`
	AHRS   AHRSOpt   `mapstructure:"ahrs" yaml:"ahrs"`
	Ingest IngestOpt `mapstructure:"ingest" yaml:"ingest"`

	Web     WebOpt         `mapstructure:"web" yaml:"web"`
	Display DisplayOpt     `mapstructure:"display" yaml:"display"`
	Targets target.Targets `mapstructure:"targets" yaml:"targets"`

	Calibration CalibrationOpt `mapstructure:"calibration" yaml:"calibration"`

	ConsoleIntervalMS int  `mapstructure:"console_interval_ms" yaml:"console_interval_ms"`
	Debug             bool `mapstructure:"debug" yaml:"debug"`
}

// Default returns a configuration that runs against a local broker and a
// bridge on /dev/ttyUSB0.
func Default() Config {
	return Config{
		Device: "pen",
		Source: SourceSerial,
		MQTT: MQTTOpt{
			Broker:           "tcp://localhost:1883",
			ClientIDProducer: "stylus-producer",
			ClientIDWeb:      "stylus-web",
			ClientIDConsole:  "stylus-console",
			ClientIDDisplay:  "stylus-display",
		},
		Topics: TopicsOpt{
			Pose:      "stylus/pose",
			Telemetry: "stylus/telemetry",
			IMU:       "stylus/imu",
		},
		Serial: transport.SerialConfig{Port: "/dev/ttyUSB0", Baud: 115200},
		Sensor: SensorOpt{
			Accel: sensors.DefaultAccelRange(),
			Gyro:  sensors.DefaultGyroRange(),
		},
		Filter: FilterOpt{
			Conditioning: true,
			Accel:        filter.DefaultConfig(),
			Gyro:         filter.DefaultConfig(),
		},
		AHRS:        AHRSOpt{Config: orientation.DefaultConfig(), DT: 0.01},
		Ingest:      IngestOpt{Policy: "latest", QueueDepth: 16},
		Web:         WebOpt{Port: 8080, StaticDir: "./web"},
		Display:     DisplayOpt{Enabled: false, IntervalMS: 200},
		Targets:     target.Default(),
		Calibration: CalibrationOpt{Samples: 500},

		ConsoleIntervalMS: 500,
	}
}

// Load reads configPath, or searches the default locations when it is empty.
// Every key can be overridden by a STYLUS_<SECTION>_<KEY> environment variable.
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return unmarshal(v)
}

// Parse loads the configuration for a cobra command, honouring its --config
// and --debug flags.
func Parse(cmd *cobra.Command) (*Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("debug"); f != nil && f.Changed {
		_ = v.BindPFlag("debug", f)
	}
	return unmarshal(v)
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}

	explicit := true
	switch {
	case configPath != "":
		v.SetConfigFile(configPath)
	case os.Getenv(EnvConfigPath) != "":
		v.SetConfigFile(os.Getenv(EnvConfigPath))
	default:
		explicit = false
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}

	v.SetEnvPrefix(DefaultAppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Warnf("no config file found, using defaults: %v", err)
	} else {
		log.Debugln("using config file:", v.ConfigFileUsed())
	}
	return v, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every leaf of d so that env overrides and partial
// files both resolve against it.
func setDefaults(v *viper.Viper, d Config) error {
	b, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	walkDefaults(v, "", tree)
	return nil
}

func walkDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			walkDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// validate checks cross-field constraints.
func (c *Config) validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	switch c.Source {
	case SourceSerial:
		if c.Serial.Port == "" {
			return fmt.Errorf("serial.port is required for source %q", c.Source)
		}
		if c.Serial.Baud == 0 {
			return fmt.Errorf("serial.baud is required for source %q", c.Source)
		}
	case SourceMock:
	default:
		return fmt.Errorf("source %q: want %q or %q", c.Source, SourceSerial, SourceMock)
	}
	if c.Topics.Pose == "" || c.Topics.Telemetry == "" || c.Topics.IMU == "" {
		return fmt.Errorf("topics.pose, topics.telemetry and topics.imu are required")
	}

	if err := c.Sensor.Accel.Validate(); err != nil {
		return fmt.Errorf("sensor.accel: %w", err)
	}
	if err := c.Sensor.Gyro.Validate(); err != nil {
		return fmt.Errorf("sensor.gyro: %w", err)
	}
	if err := c.Filter.Accel.Validate(); err != nil {
		return fmt.Errorf("filter.accel: %w", err)
	}
	if err := c.Filter.Gyro.Validate(); err != nil {
		return fmt.Errorf("filter.gyro: %w", err)
	}
	if err := c.AHRS.Validate(); err != nil {
		return fmt.Errorf("ahrs: %w", err)
	}
	if c.AHRS.DT <= 0 {
		return fmt.Errorf("ahrs.dt %g must be positive", c.AHRS.DT)
	}
	if _, err := c.IngestPolicy(); err != nil {
		return err
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port %d out of range", c.Web.Port)
	}
	if c.Display.Enabled && c.Display.IntervalMS <= 0 {
		return fmt.Errorf("display.interval_ms is required when the display is enabled")
	}
	if err := c.Targets.Validate(); err != nil {
		return err
	}
	if c.Calibration.Samples < 2 {
		return fmt.Errorf("calibration.samples %d must be at least 2", c.Calibration.Samples)
	}
	if c.ConsoleIntervalMS <= 0 {
		return fmt.Errorf("console_interval_ms must be positive")
	}
	return nil
}

// IngestPolicy resolves the ingest section.
func (c *Config) IngestPolicy() (transport.Policy, error) {
	p, err := transport.ParsePolicy(c.Ingest.Policy, c.Ingest.QueueDepth)
	if err != nil {
		return transport.Policy{}, fmt.Errorf("ingest: %w", err)
	}
	return p, nil
}

// Pipeline assembles the per-frame processing configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Accel:        c.Sensor.Accel,
		Gyro:         c.Sensor.Gyro,
		Conditioning: c.Filter.Conditioning,
		AccelFilter:  c.Filter.Accel,
		GyroFilter:   c.Filter.Gyro,
		AHRS:         c.AHRS.Config,
		DT:           c.AHRS.DT,
		AccelBias:    c.Sensor.AccelBias,
	}
}

// MockSource derives synthetic frame scaling from the sensor ranges so mock
// frames map back to the intended motion.
func (c *Config) MockSource() transport.MockConfig {
	m := transport.DefaultMockConfig()
	m.Interval = secondsToDuration(c.AHRS.DT)
	m.AccelCountsPerG = (c.Sensor.Accel.RawMax - c.Sensor.Accel.RawMin) / (c.Sensor.Accel.PhysMax - c.Sensor.Accel.PhysMin)
	m.GyroCountsPerDPS = (c.Sensor.Gyro.RawMax - c.Sensor.Gyro.RawMin) / (c.Sensor.Gyro.PhysMax - c.Sensor.Gyro.PhysMin)
	return m
}

// DisplayInterval is the OLED refresh period.
func (c *Config) DisplayInterval() time.Duration {
	return time.Duration(c.Display.IntervalMS) * time.Millisecond
}

// ConsoleInterval is the console print period.
func (c *Config) ConsoleInterval() time.Duration {
	return time.Duration(c.ConsoleIntervalMS) * time.Millisecond
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ApplyLogLevel sets the logrus level from the debug flag.
func (c *Config) ApplyLogLevel() {
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// Template renders the default configuration as YAML.
func Template() ([]byte, error) {
	return yaml.Marshal(Default())
}

// WriteTemplate writes the default configuration to outputPath, creating its
// directory. An existing file is only replaced when overwrite is set.
func WriteTemplate(outputPath string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration %s already exists, pass --yes to overwrite", outputPath)
		}
	}
	b, err := Template()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path.Dir(outputPath), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(outputPath, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
