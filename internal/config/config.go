package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// LogLevel represents the log level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// TLS client hello profiles accepted by update.tls_client_hello.
const (
	TLSHelloDefault    = ""
	TLSHelloGo         = "go"
	TLSHelloRandomized = "randomized"
)

const (
	minStartupCheckDelay = 3 * time.Second
	maxStartupCheckDelay = 10 * time.Second
)

// configFiles lists the accepted config file names in lookup order.
var configFiles = []string{"config.yaml", "config.yml", "config.toml", "config.jsonc", "config.json"}

// GlobalConfig represents the bridge and logging configuration
type GlobalConfig struct {
	ListenAddr       string   `yaml:"listen_addr" toml:"listen_addr" json:"listen_addr"`
	Port             int      `yaml:"port" toml:"port" json:"port"`
	LogLevel         LogLevel `yaml:"log_level" toml:"log_level" json:"log_level"`
	LogDir           string   `yaml:"log_dir" toml:"log_dir" json:"log_dir"`
	LogRetentionDays int      `yaml:"log_retention_days" toml:"log_retention_days" json:"log_retention_days"`
	LogStdout        *bool    `yaml:"log_stdout,omitempty" toml:"log_stdout,omitempty" json:"log_stdout,omitempty"`
	BridgeToken      string   `yaml:"bridge_token" toml:"bridge_token" json:"bridge_token"`
	MaxConnections   int      `yaml:"max_connections" toml:"max_connections" json:"max_connections"`
}

// UpdateConfig describes where releases come from and how the pipeline runs.
type UpdateConfig struct {
	Owner             string `yaml:"owner" toml:"owner" json:"owner"`
	Repo              string `yaml:"repo" toml:"repo" json:"repo"`
	APIBaseURL        string `yaml:"api_base_url" toml:"api_base_url" json:"api_base_url"`
	Endpoint          string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	DownloadPageURL   string `yaml:"download_page_url" toml:"download_page_url" json:"download_page_url"`
	DownloadDir       string `yaml:"download_dir" toml:"download_dir" json:"download_dir"`
	CheckTimeout      string `yaml:"check_timeout" toml:"check_timeout" json:"check_timeout"`
	DownloadTimeout   string `yaml:"download_timeout" toml:"download_timeout" json:"download_timeout"`
	CheckRetries      *int   `yaml:"check_retries,omitempty" toml:"check_retries,omitempty" json:"check_retries,omitempty"`
	StartupCheckDelay string `yaml:"startup_check_delay" toml:"startup_check_delay" json:"startup_check_delay"`
	CheckInterval     string `yaml:"check_interval" toml:"check_interval" json:"check_interval"`
	QuitDelay         string `yaml:"quit_delay" toml:"quit_delay" json:"quit_delay"`
	VerifyChecksums   *bool  `yaml:"verify_checksums,omitempty" toml:"verify_checksums,omitempty" json:"verify_checksums,omitempty"`
	TLSClientHello    string `yaml:"tls_client_hello" toml:"tls_client_hello" json:"tls_client_hello"`
}

// NotificationsConfig controls desktop notifications.
type NotificationsConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled" json:"enabled"`
	MinLevel        LogLevel `yaml:"min_level" toml:"min_level" json:"min_level"`
	UpdateAvailable *bool    `yaml:"update_available,omitempty" toml:"update_available,omitempty" json:"update_available,omitempty"`
}

// NotifyUpdateAvailable returns whether update notifications are wanted (default true)
func (n NotificationsConfig) NotifyUpdateAvailable() bool {
	if n.UpdateAvailable == nil {
		return true
	}
	return *n.UpdateAvailable
}

// Config represents the complete application configuration
type Config struct {
	Global        GlobalConfig
	Update        UpdateConfig
	Notifications NotificationsConfig
	configDir     string
	path          string
}

// document is the on-disk layout: global keys at the top level plus sections.
type document struct {
	GlobalConfig  `yaml:",inline"`
	Update        UpdateConfig        `yaml:"update" toml:"update" json:"update"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications" json:"notifications"`
}

// DefaultGlobalConfig returns the default global configuration
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		ListenAddr:       "127.0.0.1",
		Port:             7301,
		LogLevel:         LogLevelInfo,
		LogRetentionDays: 7,
		MaxConnections:   32,
	}
}

// DefaultUpdateConfig returns the default update configuration
func DefaultUpdateConfig() UpdateConfig {
	return UpdateConfig{
		Owner:             "foundry-erp",
		Repo:              "foundry-client",
		APIBaseURL:        "https://api.github.com",
		CheckTimeout:      "30s",
		DownloadTimeout:   "30m",
		StartupCheckDelay: "5s",
		QuitDelay:         "1s",
	}
}

// Load loads the configuration from the specified directory
func Load(configDir string) (*Config, error) {
	doc := document{
		GlobalConfig: DefaultGlobalConfig(),
		Update:       DefaultUpdateConfig(),
		Notifications: NotificationsConfig{
			Enabled:  true,
			MinLevel: LogLevelError,
		},
	}

	cfg := &Config{configDir: configDir}
	for _, name := range configFiles {
		path := filepath.Join(configDir, name)
		err := loadFile(path, &doc)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}
		cfg.path = path
		break
	}

	cfg.Global = doc.GlobalConfig
	cfg.Update = doc.Update
	cfg.Notifications = doc.Notifications
	cfg.applyDefaults()

	if cfg.path != "" && cfg.Global.BridgeToken != "" {
		warnIfPermissiveConfig(cfg.path)
	}
	return cfg, nil
}

// loadFile decodes a config file, picking the format from its extension
func loadFile(path string, target *document) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, target)
	case ".json", ".jsonc":
		std, err := hujson.Standardize(data)
		if err != nil {
			return err
		}
		return json.Unmarshal(std, target)
	default:
		return yaml.Unmarshal(data, target)
	}
}

func (c *Config) applyDefaults() {
	g := DefaultGlobalConfig()
	if c.Global.ListenAddr == "" {
		c.Global.ListenAddr = g.ListenAddr
	}
	if c.Global.Port == 0 {
		c.Global.Port = g.Port
	}
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = g.LogLevel
	}
	if c.Global.LogRetentionDays <= 0 {
		c.Global.LogRetentionDays = g.LogRetentionDays
	}
	if c.Global.MaxConnections <= 0 {
		c.Global.MaxConnections = g.MaxConnections
	}

	u := DefaultUpdateConfig()
	if c.Update.Owner == "" {
		c.Update.Owner = u.Owner
	}
	if c.Update.Repo == "" {
		c.Update.Repo = u.Repo
	}
	if c.Update.APIBaseURL == "" {
		c.Update.APIBaseURL = u.APIBaseURL
	}
	c.Update.APIBaseURL = strings.TrimRight(c.Update.APIBaseURL, "/")
	if c.Update.CheckTimeout == "" {
		c.Update.CheckTimeout = u.CheckTimeout
	}
	if c.Update.DownloadTimeout == "" {
		c.Update.DownloadTimeout = u.DownloadTimeout
	}
	if c.Update.StartupCheckDelay == "" {
		c.Update.StartupCheckDelay = u.StartupCheckDelay
	}
	if c.Update.QuitDelay == "" {
		c.Update.QuitDelay = u.QuitDelay
	}
	if c.Notifications.MinLevel == "" {
		c.Notifications.MinLevel = LogLevelError
	}
}

// GetConfigDir returns the default config directory
func GetConfigDir() string {
	if dir := os.Getenv("FOUNDRY_UPDATER_CONFIG_DIR"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".foundry-updater")
	}
	return ".foundry-updater"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Global.ListenAddr) == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.Global.Port < 1 || c.Global.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Global.Port)
	}
	if !validLevel(c.Global.LogLevel) {
		return fmt.Errorf("invalid log level: %s", c.Global.LogLevel)
	}
	if c.Notifications.Enabled && !validLevel(c.Notifications.MinLevel) {
		return fmt.Errorf("invalid notifications min_level: %s", c.Notifications.MinLevel)
	}

	if strings.TrimSpace(c.Update.Endpoint) == "" {
		if strings.TrimSpace(c.Update.Owner) == "" || strings.TrimSpace(c.Update.Repo) == "" {
			return fmt.Errorf("update.owner and update.repo are required when update.endpoint is empty")
		}
		if err := validateURL("update.api_base_url", c.Update.APIBaseURL); err != nil {
			return err
		}
	} else if err := validateURL("update.endpoint", c.Update.Endpoint); err != nil {
		return err
	}
	if c.Update.DownloadPageURL != "" {
		if err := validateURL("update.download_page_url", c.Update.DownloadPageURL); err != nil {
			return err
		}
	}

	if _, err := c.Update.CheckTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Update.DownloadTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Update.QuitDelayDuration(); err != nil {
		return err
	}
	if _, err := c.Update.CheckIntervalDuration(); err != nil {
		return err
	}
	d, err := c.Update.StartupCheckDelayDuration()
	if err != nil {
		return err
	}
	if d < minStartupCheckDelay || d > maxStartupCheckDelay {
		return fmt.Errorf("invalid startup_check_delay: %s (must be between %s and %s)", c.Update.StartupCheckDelay, minStartupCheckDelay, maxStartupCheckDelay)
	}
	if c.Update.CheckRetries != nil && *c.Update.CheckRetries < 0 {
		return fmt.Errorf("invalid check_retries: %d", *c.Update.CheckRetries)
	}

	switch strings.ToLower(strings.TrimSpace(c.Update.TLSClientHello)) {
	case TLSHelloDefault, TLSHelloGo, TLSHelloRandomized:
	default:
		return fmt.Errorf("invalid tls_client_hello: %s", c.Update.TLSClientHello)
	}

	return nil
}

func (c *Config) ConfigDir() string {
	return c.configDir
}

// Path returns the config file that was loaded, or "" when defaults are in use.
func (c *Config) Path() string {
	return c.path
}

// ReleaseEndpoint returns the release-listing URL to query.
func (u UpdateConfig) ReleaseEndpoint() string {
	if ep := strings.TrimSpace(u.Endpoint); ep != "" {
		return ep
	}
	return fmt.Sprintf("%s/repos/%s/%s/releases/latest", strings.TrimRight(u.APIBaseURL, "/"), u.Owner, u.Repo)
}

// ReleasesPageURL returns download_page_url, or the repository's latest
// release page when none is configured.
func (u UpdateConfig) ReleasesPageURL() string {
	if p := strings.TrimSpace(u.DownloadPageURL); p != "" {
		return p
	}
	return fmt.Sprintf("https://github.com/%s/%s/releases/latest", u.Owner, u.Repo)
}

// Retries returns the number of extra release query attempts (default 2).
func (u UpdateConfig) Retries() int {
	if u.CheckRetries == nil {
		return 2
	}
	return *u.CheckRetries
}

// ShouldVerifyChecksums returns whether checksums.txt is honoured (default true).
func (u UpdateConfig) ShouldVerifyChecksums() bool {
	if u.VerifyChecksums == nil {
		return true
	}
	return *u.VerifyChecksums
}

func (u UpdateConfig) CheckTimeoutDuration() (time.Duration, error) {
	return positiveDuration("check_timeout", u.CheckTimeout)
}

func (u UpdateConfig) DownloadTimeoutDuration() (time.Duration, error) {
	return positiveDuration("download_timeout", u.DownloadTimeout)
}

func (u UpdateConfig) StartupCheckDelayDuration() (time.Duration, error) {
	return positiveDuration("startup_check_delay", u.StartupCheckDelay)
}

func (u UpdateConfig) QuitDelayDuration() (time.Duration, error) {
	d, err := time.ParseDuration(u.QuitDelay)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid quit_delay: %s", u.QuitDelay)
	}
	return d, nil
}

// CheckIntervalDuration returns 0 when periodic checks are disabled.
func (u UpdateConfig) CheckIntervalDuration() (time.Duration, error) {
	if strings.TrimSpace(u.CheckInterval) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(u.CheckInterval)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid check_interval: %s", u.CheckInterval)
	}
	if d > 0 && d < time.Minute {
		return 0, fmt.Errorf("invalid check_interval: %s (minimum 1m)", u.CheckInterval)
	}
	return d, nil
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", name, value)
	}
	return d, nil
}

func validLevel(l LogLevel) bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

func validateURL(name, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s %q: scheme must be http or https", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s %q: host is empty", name, raw)
	}
	return nil
}
