package lib

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/relaymail/relaymail/lib/smtp"
	"github.com/spf13/viper"
)

// Configuration Represents the entire YAML configuration
type Configuration struct {
	Settings Setting `mapstructure:"settings" yaml:"settings"`
}

// Setting groups every section of the relay configuration
type Setting struct {
	Network   Network        `mapstructure:"network" yaml:"network"`
	Database  DatabaseConfig `mapstructure:"database" yaml:"database"`
	Redis     RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Cache     CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Session   SessionConfig  `mapstructure:"session" yaml:"session"`
	Log       LogConfig      `mapstructure:"log" yaml:"log"`
	RateLimit RateLimiting   `mapstructure:"rate_limiting" yaml:"rate_limiting"`
	SMTP      SMTPConfig     `mapstructure:"smtp" yaml:"smtp"`
	Relay     RelayConfig    `mapstructure:"relay" yaml:"relay"`
}

// Network holds configuration for network settings
type Network struct {
	Port            int `mapstructure:"port" yaml:"port"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RequestTimeout  int `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// DatabaseConfig holds configuration for the database
type DatabaseConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"`
	URI           string `mapstructure:"uri" yaml:"uri"`
	AutoMigration bool   `mapstructure:"auto_migration" yaml:"auto_migration"`
	LogQueries    bool   `mapstructure:"log_queries" yaml:"log_queries"`
}

// RedisConfig holds the connection used by sessions and the credential cache.
// An empty URI disables redis.
type RedisConfig struct {
	URI string `mapstructure:"uri" yaml:"uri"`
}

// CacheConfig holds configuration for cache settings
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	TTL     int  `mapstructure:"ttl" yaml:"ttl"`
}

type SessionConfig struct {
	CookieName   string `mapstructure:"cookie_name" yaml:"cookie_name"`
	TTL          int    `mapstructure:"ttl" yaml:"ttl"`
	SecureCookie bool   `mapstructure:"secure_cookie" yaml:"secure_cookie"`
	Secret       string `mapstructure:"secret" yaml:"secret"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// RateLimiting throttles the login and signup endpoints per client IP.
type RateLimiting struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Max     int  `mapstructure:"max" yaml:"max"`
	Window  int  `mapstructure:"window" yaml:"window"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	TLSMode  string `mapstructure:"tls_mode" yaml:"tls_mode"`
	Timeout  int    `mapstructure:"timeout" yaml:"timeout"`
	// HeloName is sent in EHLO on implicit TLS connections. STARTTLS
	// connections greet with the client library default.
	HeloName string `mapstructure:"helo_name" yaml:"helo_name"`
	// Sender overrides the From header. The envelope sender stays Username.
	Sender string `mapstructure:"sender" yaml:"sender"`
}

type RelayConfig struct {
	ExposeTransportErrors bool `mapstructure:"expose_transport_errors" yaml:"expose_transport_errors"`
	TextFallback          bool `mapstructure:"text_fallback" yaml:"text_fallback"`
}

// Transport converts the SMTP section into the transport's immutable config.
// Blank values are kept as-is so that a misconfigured deployment is reported
// per request rather than at startup.
func (c SMTPConfig) Transport() smtp.Config {
	return smtp.Config{
		Host:     strings.TrimSpace(c.Host),
		Port:     c.Port,
		Username: strings.TrimSpace(c.Username),
		Password: strings.TrimSpace(c.Password),
		TLSMode:  smtp.TLSMode(c.TLSMode),
		Timeout:  time.Duration(c.Timeout) * time.Second,
		HeloName: c.HeloName,
	}
}

// legacyEnv maps config keys to the variable names the first deployment of
// the relay used. They are consulted after the RELAY_ prefixed names.
var legacyEnv = map[string]string{
	"settings.network.port":             "PORT",
	"settings.network.shutdown_timeout": "SHUTDOWN_TIMEOUT",
	"settings.database.uri":             "DATABASE_URL",
	"settings.smtp.host":                "MAIL_SERVER",
	"settings.smtp.port":                "MAIL_PORT",
	"settings.smtp.username":            "MAIL_USERNAME",
	"settings.smtp.password":            "MAIL_PASSWORD",
	"settings.smtp.sender":              "MAIL_DEFAULT_SENDER",
	"settings.session.secret":           "SECRET_KEY",
	"settings.redis.uri":                "REDIS_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("settings.network.port", 5001)
	v.SetDefault("settings.network.shutdown_timeout", 15)
	v.SetDefault("settings.network.request_timeout", 60)
	v.SetDefault("settings.database.driver", "sqlite")
	v.SetDefault("settings.database.uri", "relaymail.db")
	v.SetDefault("settings.database.auto_migration", true)
	v.SetDefault("settings.database.log_queries", false)
	v.SetDefault("settings.redis.uri", "")
	v.SetDefault("settings.cache.enabled", false)
	v.SetDefault("settings.cache.ttl", 60)
	v.SetDefault("settings.session.cookie_name", "relay_session")
	v.SetDefault("settings.session.ttl", 86400)
	v.SetDefault("settings.session.secure_cookie", false)
	v.SetDefault("settings.session.secret", "")
	v.SetDefault("settings.log.level", "info")
	v.SetDefault("settings.log.format", "json")
	v.SetDefault("settings.log.file", "")
	v.SetDefault("settings.log.max_size_mb", 100)
	v.SetDefault("settings.log.max_backups", 5)
	v.SetDefault("settings.log.max_age_days", 30)
	v.SetDefault("settings.rate_limiting.enabled", false)
	v.SetDefault("settings.rate_limiting.max", 10)
	v.SetDefault("settings.rate_limiting.window", 60)
	v.SetDefault("settings.smtp.host", "")
	v.SetDefault("settings.smtp.port", smtp.DefaultPort)
	v.SetDefault("settings.smtp.username", "")
	v.SetDefault("settings.smtp.password", "")
	v.SetDefault("settings.smtp.tls_mode", string(smtp.TLSAuto))
	v.SetDefault("settings.smtp.timeout", 30)
	v.SetDefault("settings.smtp.helo_name", "localhost")
	v.SetDefault("settings.smtp.sender", "")
	v.SetDefault("settings.relay.expose_transport_errors", true)
	v.SetDefault("settings.relay.text_fallback", false)
}

// LoadConfig reads config.yaml (from path, or the working directory when path
// is empty) and the environment. A missing config file is not an error.
// The returned value is meant to be built once at startup and passed around.
func LoadConfig(path string) (Configuration, error) {
	var cfg Configuration

	loadDotEnv()

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envName := "RELAY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return cfg, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	// An unparsable port falls back to the submission port instead of
	// failing startup.
	if _, err := strconv.Atoi(strings.TrimSpace(v.GetString("settings.smtp.port"))); err != nil {
		v.Set("settings.smtp.port", smtp.DefaultPort)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Settings.SMTP.Port <= 0 {
		cfg.Settings.SMTP.Port = smtp.DefaultPort
	}
	return cfg, nil
}
