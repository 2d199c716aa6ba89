package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server         ServerConfig    `yaml:"server"`
	Logging        LoggingConfig   `yaml:"logging"`
	Paths          PathsConfig     `yaml:"paths"`
	Downloads      DownloadsConfig `yaml:"downloads"`
	Authentication AuthConfig      `yaml:"authentication"`
	OpenId         OpenIdConfig    `yaml:"openid"`
	path           string
}

type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type LoggingConfig struct {
	LogPath           string `yaml:"log_path"`
	EnableFileLogging bool   `yaml:"enable_file_logging"`
}

type PathsConfig struct {
	DownloadPath      string `yaml:"download_path"`
	DownloaderPath    string `yaml:"downloader_path"`
	LocalDatabasePath string `yaml:"local_database_path"`
}

type DownloadsConfig struct {
	Concurrency      int  `yaml:"concurrency"`
	MaxRetries       int  `yaml:"max_retries"`
	AutoRetry        bool `yaml:"auto_retry"`
	StopGraceSeconds int  `yaml:"stop_grace_seconds"`
	AutoStart        bool `yaml:"auto_start"`
	ArchiveCompleted bool `yaml:"archive_completed"`
}

type AuthConfig struct {
	RequireAuth  bool   `yaml:"require_auth"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password"`
	Secret       string `yaml:"secret"`
}

type OpenIdConfig struct {
	UseOpenId      bool     `yaml:"use_openid"`
	ProviderURL    string   `yaml:"openid_provider_url"`
	ClientId       string   `yaml:"openid_client_id"`
	ClientSecret   string   `yaml:"openid_client_secret"`
	RedirectURL    string   `yaml:"openid_redirect_url"`
	EmailWhitelist []string `yaml:"openid_email_whitelist"`
}

var (
	instance     *Config
	instanceOnce sync.Once
)

func Instance() *Config {
	if instance == nil {
		instanceOnce.Do(func() {
			instance = &Config{}
			instance.Downloads.Concurrency = 2
			instance.Downloads.MaxRetries = 3
			instance.Downloads.StopGraceSeconds = 10
		})
	}
	return instance
}

// StopGrace is the termination grace period as a duration.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Downloads.StopGraceSeconds) * time.Second
}

// SetPath records where the config file lives.
func (c *Config) SetPath(p string) { c.path = p }

// Path of the config file.
func (c *Config) Path() string { return c.path }

// Dir of the directory containing the config file.
func (c *Config) Dir() string { return filepath.Dir(c.path) }

// WriteDefault materializes the current configuration as a yaml file,
// used on first run when no config file exists yet.
func (c *Config) WriteDefault(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0600)
}
