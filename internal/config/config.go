// Package config loads and validates the Docker Watcher configuration from
// alerts.yml, with ${VAR} environment expansion and hot reload support.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is one immutable snapshot of the alerts.yml file. Callers take a
// snapshot per tick; reloads swap the whole struct, never patch it in place.
type Config struct {
	App            AppConfig       `yaml:"app"`
	Monitor        MonitorConfig   `yaml:"monitor"`
	Thresholds     Thresholds      `yaml:"thresholds"`
	Alerts         AlertsConfig    `yaml:"alerts"`
	ContainerRules []ContainerRule `yaml:"container_rules"`
	Email          EmailConfig     `yaml:"email"`
	History        HistoryConfig   `yaml:"history"`
	Server         ServerConfig    `yaml:"server"`
	Log            LogConfig       `yaml:"log"`
}

type AppConfig struct {
	BaseURL string `yaml:"base_url"`
}

type MonitorConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	HistoryBuffer   int `yaml:"history_buffer"`
}

type Thresholds struct {
	CPUPercent      float64 `yaml:"cpu_percent"`
	RAMPercent      float64 `yaml:"ram_percent"`
	DurationMinutes int     `yaml:"duration_minutes"`
}

type AlertsConfig struct {
	Enabled                 *bool `yaml:"enabled"`
	CooldownMinutes         int   `yaml:"cooldown_minutes"`
	RecoveryCooldownMinutes int   `yaml:"recovery_cooldown_minutes"`
}

// ContainerRule overrides global thresholds for one container, matched by name.
type ContainerRule struct {
	Name           string   `yaml:"name"`
	CPUThreshold   *float64 `yaml:"cpu_threshold"`
	RAMThreshold   *float64 `yaml:"ram_threshold"`
	AlertsDisabled bool     `yaml:"alerts_disabled"`
}

type EmailConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	SMTPServer      string   `yaml:"smtp_server"`
	SMTPPort        int      `yaml:"smtp_port"`
	UseTLS          *bool    `yaml:"use_tls"`
	SenderEmail     string   `yaml:"sender_email"`
	SenderPassword  string   `yaml:"sender_password"`
	RecipientEmails []string `yaml:"recipient_emails"`
}

type HistoryConfig struct {
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	defaultIntervalSeconds  = 30
	defaultDurationMinutes  = 3
	defaultCooldownMinutes  = 15
	defaultRecoveryCooldown = 5
	defaultRetentionDays    = 7
	defaultListen           = ":5001"
)

var (
	envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Load reads, expands and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s (copy alerts.yml.template and edit it)", path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := expandEnvVars(raw)

	cfg := &Config{}
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with environment values. Unset
// variables are left verbatim so validation can flag them.
func expandEnvVars(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if value, ok := os.LookupEnv(string(name)); ok {
			return []byte(value)
		}
		return match
	})
}

func (c *Config) applyDefaults() {
	if c.Monitor.IntervalSeconds <= 0 {
		c.Monitor.IntervalSeconds = defaultIntervalSeconds
	}
	if c.Thresholds.DurationMinutes <= 0 {
		c.Thresholds.DurationMinutes = defaultDurationMinutes
	}
	// The sustained-load window holds one sample per minute of the configured
	// duration unless history_buffer overrides it.
	if c.Monitor.HistoryBuffer <= 0 {
		c.Monitor.HistoryBuffer = c.Thresholds.DurationMinutes
	}
	if c.Alerts.CooldownMinutes == 0 {
		c.Alerts.CooldownMinutes = defaultCooldownMinutes
	}
	if c.Alerts.RecoveryCooldownMinutes == 0 {
		c.Alerts.RecoveryCooldownMinutes = defaultRecoveryCooldown
	}
	if c.History.RetentionDays == 0 {
		c.History.RetentionDays = defaultRetentionDays
	}
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListen
	}
}

// Validate enforces the load-time policy checks; any failure is fatal.
func (c *Config) Validate() error {
	if c.App.BaseURL == "" {
		return fmt.Errorf("missing required field: app.base_url")
	}
	if c.Thresholds.CPUPercent < 0 || c.Thresholds.CPUPercent > 100 {
		return fmt.Errorf("thresholds.cpu_percent must be between 0 and 100")
	}
	if c.Thresholds.RAMPercent < 0 || c.Thresholds.RAMPercent > 100 {
		return fmt.Errorf("thresholds.ram_percent must be between 0 and 100")
	}
	if c.Thresholds.DurationMinutes < 1 {
		return fmt.Errorf("thresholds.duration_minutes must be at least 1")
	}
	if c.Alerts.CooldownMinutes < 1 {
		return fmt.Errorf("alerts.cooldown_minutes must be at least 1")
	}
	if c.Alerts.RecoveryCooldownMinutes < 1 {
		return fmt.Errorf("alerts.recovery_cooldown_minutes must be at least 1")
	}

	for _, rule := range c.ContainerRules {
		if rule.Name == "" {
			return fmt.Errorf("container_rules entries require a name")
		}
		if rule.CPUThreshold != nil && (*rule.CPUThreshold < 0 || *rule.CPUThreshold > 100) {
			return fmt.Errorf("container rule %q: cpu_threshold must be between 0 and 100", rule.Name)
		}
		if rule.RAMThreshold != nil && (*rule.RAMThreshold < 0 || *rule.RAMThreshold > 100) {
			return fmt.Errorf("container rule %q: ram_threshold must be between 0 and 100", rule.Name)
		}
	}

	if c.EmailEnabled() {
		if c.Email.SMTPServer == "" {
			return fmt.Errorf("missing required email field: smtp_server")
		}
		if c.Email.SMTPPort < 1 || c.Email.SMTPPort > 65535 {
			return fmt.Errorf("email.smtp_port must be between 1 and 65535")
		}
		if c.Email.SenderEmail == "" {
			return fmt.Errorf("missing required email field: sender_email")
		}
		if c.Email.SenderPassword == "" {
			return fmt.Errorf("missing required email field: sender_password")
		}
		if len(c.Email.RecipientEmails) == 0 {
			return fmt.Errorf("at least one recipient email is required")
		}
		if !emailPattern.MatchString(c.Email.SenderEmail) {
			return fmt.Errorf("invalid sender email format: %s", c.Email.SenderEmail)
		}
		for _, recipient := range c.Email.RecipientEmails {
			if !emailPattern.MatchString(recipient) {
				return fmt.Errorf("invalid recipient email format: %s", recipient)
			}
		}
	}

	return nil
}

// AlertsEnabled reports whether alert detection should notify at all; both
// the alerts flag and the email channel flag must be on.
func (c *Config) AlertsEnabled() bool {
	return boolOrTrue(c.Alerts.Enabled) && c.EmailEnabled()
}

// EmailEnabled reports whether the email channel is enabled (defaults true).
func (c *Config) EmailEnabled() bool {
	return boolOrTrue(c.Email.Enabled)
}

// EmailUseTLS reports whether SMTP should negotiate TLS (defaults true).
func (c *Config) EmailUseTLS() bool {
	return boolOrTrue(c.Email.UseTLS)
}

func boolOrTrue(v *bool) bool {
	return v == nil || *v
}

// containerRule returns the override rule for a container name, if any.
func (c *Config) containerRule(name string) *ContainerRule {
	for i := range c.ContainerRules {
		if c.ContainerRules[i].Name == name {
			return &c.ContainerRules[i]
		}
	}
	return nil
}

// CPUThresholdFor resolves the CPU threshold for a container: a named rule
// override wins over the global default.
func (c *Config) CPUThresholdFor(containerName string) float64 {
	if rule := c.containerRule(containerName); rule != nil && rule.CPUThreshold != nil {
		return *rule.CPUThreshold
	}
	return c.Thresholds.CPUPercent
}

// RAMThresholdFor resolves the RAM threshold for a container.
func (c *Config) RAMThresholdFor(containerName string) float64 {
	if rule := c.containerRule(containerName); rule != nil && rule.RAMThreshold != nil {
		return *rule.RAMThreshold
	}
	return c.Thresholds.RAMPercent
}

// AlertsDisabledFor reports whether a container is excluded from alerting.
func (c *Config) AlertsDisabledFor(containerName string) bool {
	if rule := c.containerRule(containerName); rule != nil {
		return rule.AlertsDisabled
	}
	return false
}

// Cooldown returns the per-kind alert cooldown duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownMinutes) * time.Minute
}

// RecoveryCooldown returns the recovery alert cooldown duration.
func (c *Config) RecoveryCooldown() time.Duration {
	return time.Duration(c.Alerts.RecoveryCooldownMinutes) * time.Minute
}

// Interval returns the sampling tick interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// Store holds the current configuration snapshot and swaps it atomically on
// reload. Readers always see a complete config, never a partial update.
type Store struct {
	mu      sync.RWMutex
	path    string
	current *Config
}

// NewStore loads the initial config from path.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, current: cfg}, nil
}

// Current returns the active configuration snapshot.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Path returns the config file path backing this store.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the config file and swaps the snapshot. An invalid file
// leaves the previous snapshot in place.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	return nil
}
