package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Storage StorageConfig `mapstructure:"storage"`
	GNSS    GNSSConfig    `mapstructure:"gnss"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

// RemoteConfig points at the authoritative server the unit syncs against.
type RemoteConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	RequestTimeout string `mapstructure:"request_timeout"`
	ProbeInterval  string `mapstructure:"probe_interval"`
}

func (r RemoteConfig) GetRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(r.RequestTimeout)
	return d
}

func (r RemoteConfig) GetProbeInterval() time.Duration {
	d, _ := time.ParseDuration(r.ProbeInterval)
	return d
}

type StorageConfig struct {
	FilePath  string `mapstructure:"file_path"`
	TokenPath string `mapstructure:"token_path"`
	CacheTTL  string `mapstructure:"cache_ttl"`
}

func (s StorageConfig) GetCacheTTL() time.Duration {
	d, _ := time.ParseDuration(s.CacheTTL)
	return d
}

type GNSSConfig struct {
	// Device is an optional line-oriented source (serial device, FIFO,
	// replay file). Sentences can also be pushed over the local API.
	Device     string `mapstructure:"device"`
	QueueSize  int    `mapstructure:"queue_size"`
	StaleAfter string `mapstructure:"stale_after"`
}

func (g GNSSConfig) GetStaleAfter() time.Duration {
	d, _ := time.ParseDuration(g.StaleAfter)
	return d
}

type SyncConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Interval          string `mapstructure:"interval"`
	StartupDelay      string `mapstructure:"startup_delay"`
	ReconnectDebounce string `mapstructure:"reconnect_debounce"`
}

func (s SyncConfig) GetStartupDelay() time.Duration {
	d, _ := time.ParseDuration(s.StartupDelay)
	return d
}

func (s SyncConfig) GetReconnectDebounce() time.Duration {
	d, _ := time.ParseDuration(s.ReconnectDebounce)
	return d
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetEnvPrefix("FIELDSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8471)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("remote.request_timeout", "30s")
	viper.SetDefault("remote.probe_interval", "30s")

	viper.SetDefault("storage.file_path", "fieldsync.db")
	viper.SetDefault("storage.token_path", "fieldsync.token")
	viper.SetDefault("storage.cache_ttl", "60s")

	viper.SetDefault("gnss.queue_size", 256)
	viper.SetDefault("gnss.stale_after", "10s")

	viper.SetDefault("sync.enabled", true)
	viper.SetDefault("sync.interval", "@every 5m")
	viper.SetDefault("sync.startup_delay", "15s")
	viper.SetDefault("sync.reconnect_debounce", "1s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.max_size_mb", 50)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age_days", 14)
}
