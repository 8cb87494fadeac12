// Package config loads and validates the submitter configuration file.
//
// The file has three core stanzas: main_config (logging and call timeouts),
// step (the per-step adaptor order) and adaptor_config (per-adaptor type
// patterns, endpoint and artifact volume). Server deployments add server,
// monitoring and maintenance stanzas.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/micado-scale/submitter/logging"
)

const (
	// Default adaptor call settings
	defaultAdaptorTimeout = 60 * time.Second

	// Default server settings
	defaultListenAddr   = ":8080"
	defaultStateDir     = "/var/lib/submitter/state"
	defaultHistoryLimit = 100

	// Default monitoring settings
	defaultMetricsPrefix = "submitter"
	defaultJobName       = "submitter"

	// Default maintenance settings
	defaultSweepSpec = "0 3 * * *"
)

// Config represents the complete submitter configuration.
type Config struct {
	Main        MainConfig               `yaml:"main_config"`
	Steps       map[string][]string      `yaml:"step"`
	Adaptors    map[string]AdaptorConfig `yaml:"adaptor_config"`
	Server      ServerConfig             `yaml:"server"`
	Monitoring  MonitoringConfig         `yaml:"monitoring"`
	Maintenance MaintenanceConfig        `yaml:"maintenance"`
}

// MainConfig holds process-wide settings passed through to subsystems.
type MainConfig struct {
	Logging logging.Config `yaml:"logging"`

	// AdaptorTimeout bounds a single adaptor call for one step.
	AdaptorTimeout time.Duration `yaml:"adaptor_timeout"`
}

// AdaptorConfig describes one backend adaptor.
type AdaptorConfig struct {
	// Types are the node/policy type patterns this adaptor owns. A pattern is
	// either a concrete type string or a wildcard family ending in ".*".
	Types []string `yaml:"types"`

	// Endpoint is the base URL of the adaptor service.
	Endpoint string `yaml:"endpoint"`

	// LegacyEndpoint tolerates the "endoint" misspelling found in older
	// production configs. Normalized into Endpoint at load time.
	LegacyEndpoint string `yaml:"endoint"`

	// Volume is the directory the adaptor's file artifacts live under.
	Volume string `yaml:"volume"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// TLSCert/TLSKey enable TLS when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`

	// AdminUser and AdminPasswordHash (bcrypt) guard mutating endpoints.
	// Authentication is disabled when either is empty.
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`

	// StateDir is where submission records are persisted.
	StateDir string `yaml:"state_dir"`

	// HistoryLimit caps the number of archived submissions kept on disk.
	HistoryLimit int `yaml:"history_limit"`
}

// MonitoringConfig holds metrics settings.
type MonitoringConfig struct {
	// RemoteWriteURL is a Prometheus remote-write endpoint for pushing step
	// outcome metrics. Push is disabled when empty; scrape stays available.
	RemoteWriteURL string `yaml:"remote_write_url"`
	MetricsPrefix  string `yaml:"metrics_prefix"`
	JobName        string `yaml:"jobname"`
}

// MaintenanceConfig holds the scheduled sweep settings.
type MaintenanceConfig struct {
	// SweepSpec is a 5-field cron expression for the maintenance sweep that
	// archives cleaned-up submissions and removes their artifact dirs.
	SweepSpec string `yaml:"sweep_spec"`

	// Disabled turns the sweep off entirely.
	Disabled bool `yaml:"disabled"`
}

// envOverrides are operational knobs that may be overridden via environment.
type envOverrides struct {
	ListenAddr string `env:"SUBMITTER_LISTEN_ADDR"`
	LogLevel   string `env:"SUBMITTER_LOG_LEVEL"`
}

// Validate performs basic validation on the configuration.
// Cross-referential checks (step orders naming unknown adaptors, endpoint and
// volume validity) are done by the registry and pipeline loaders so their
// error values carry the context.
func (c *Config) Validate() error {
	if len(c.Adaptors) == 0 {
		return fmt.Errorf("at least one adaptor_config entry is required")
	}
	for name, a := range c.Adaptors {
		if len(a.Types) == 0 {
			return fmt.Errorf("adaptor %q has no type patterns", name)
		}
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("step orders are required")
	}
	if c.Main.AdaptorTimeout <= 0 {
		return fmt.Errorf("adaptor timeout must be positive")
	}
	if c.Server.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields and
// normalizes legacy keys.
func (c *Config) SetDefaults() {
	if c.Main.AdaptorTimeout == 0 {
		c.Main.AdaptorTimeout = defaultAdaptorTimeout
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}
	if c.Server.StateDir == "" {
		c.Server.StateDir = defaultStateDir
	}
	if c.Server.HistoryLimit == 0 {
		c.Server.HistoryLimit = defaultHistoryLimit
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	if c.Maintenance.SweepSpec == "" {
		c.Maintenance.SweepSpec = defaultSweepSpec
	}

	// Accept the historical "endoint" spelling. A value under the correct
	// key wins when both are present.
	for name, a := range c.Adaptors {
		if a.Endpoint == "" && a.LegacyEndpoint != "" {
			a.Endpoint = a.LegacyEndpoint
			c.Adaptors[name] = a
		}
	}
}

// Redacted returns a copy of the config with credentials blanked, safe to
// expose on the config endpoint.
func (c *Config) Redacted() Config {
	out := *c
	if out.Server.AdminPasswordHash != "" {
		out.Server.AdminPasswordHash = "REDACTED"
	}
	return out
}

// applyEnv overlays environment variable overrides onto the config.
func (c *Config) applyEnv() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parsing environment overrides: %w", err)
	}
	if overrides.ListenAddr != "" {
		c.Server.ListenAddr = overrides.ListenAddr
	}
	if overrides.LogLevel != "" {
		c.Main.Logging.Level = overrides.LogLevel
	}
	return nil
}

// LoadConfig reads the YAML config file at the given path and returns a
// Config with defaults and environment overrides applied.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	cfg.SetDefaults()
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
