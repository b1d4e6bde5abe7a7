package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "sta-timeseries/common/config"

	"gopkg.in/yaml.v3"
)

// Config sta-timeseries service configuration.
type Config struct {
	HTTP struct {
		Addr           string        `yaml:"addr"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"http"`

	// ServiceRoot is the path prefix all routes are mounted under.
	ServiceRoot string `yaml:"service_root"`
	// ServiceURL is the public base URL including ServiceRoot.
	ServiceURL string `yaml:"service_url"`

	Upstream UpstreamConfig           `yaml:"upstream"`
	Database commoncfg.DatabaseConfig `yaml:"database"`

	Redis struct {
		Enabled bool `yaml:"enabled"`
		commoncfg.RedisConfig `yaml:",inline"`
	} `yaml:"redis"`

	Cache struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	MQTT struct {
		Enabled bool `yaml:"enabled"`
		commoncfg.MQTTConfig `yaml:",inline"`
	} `yaml:"mqtt"`

	Admin struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"admin"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// UpstreamConfig describes the unmodified SensorThings server behind the proxy.
type UpstreamConfig struct {
	BaseURL         string        `yaml:"base_url"` // base URL the upstream embeds in its bodies
	GetURL          string        `yaml:"get_url"`  // base URL used for requests, defaults to BaseURL
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.RequestTimeout = 60 * time.Second
	cfg.ServiceRoot = "/sta-timeseries/v1.1"

	cfg.Upstream.Timeout = 30 * time.Second
	cfg.Upstream.BreakerFailures = 5
	cfg.Upstream.BreakerCooldown = 30 * time.Second

	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "sensorthings",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.KeyPrefix = "sta-timeseries:"
	cfg.Redis.DialTimeout = 2 * time.Second
	cfg.Redis.ReadTimeout = 500 * time.Millisecond
	cfg.Redis.WriteTimeout = 500 * time.Millisecond
	cfg.Cache.TTL = 10 * time.Minute

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "sta-timeseries"
	cfg.MQTT.Topic = "sta/catalog/datastreams"
	cfg.MQTT.QoS = 1

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load builds the configuration: defaults, then CONFIG_FILE (yaml) if set,
// then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.RequestTimeout = parseDuration(os.Getenv("REQUEST_TIMEOUT"), c.HTTP.RequestTimeout)

	c.ServiceRoot = strings.TrimRight(getEnv("SERVICE_ROOT", c.ServiceRoot), "/")
	c.ServiceURL = strings.TrimRight(getEnv("SERVICE_URL", c.ServiceURL), "/")

	c.Upstream.BaseURL = strings.TrimRight(getEnv("STA_BASE_URL", c.Upstream.BaseURL), "/")
	c.Upstream.GetURL = strings.TrimRight(getEnv("STA_URL_GET", c.Upstream.GetURL), "/")
	if c.Upstream.GetURL == "" {
		c.Upstream.GetURL = c.Upstream.BaseURL
	}
	c.Upstream.Username = getEnv("STA_USER", c.Upstream.Username)
	c.Upstream.Password = getEnv("STA_PASSWORD", c.Upstream.Password)
	c.Upstream.Timeout = parseDuration(os.Getenv("UPSTREAM_TIMEOUT"), c.Upstream.Timeout)
	c.Upstream.BreakerFailures = parseInt(os.Getenv("BREAKER_FAILURES"), c.Upstream.BreakerFailures)
	c.Upstream.BreakerCooldown = parseDuration(os.Getenv("BREAKER_COOLDOWN"), c.Upstream.BreakerCooldown)

	c.Database.LoadFromEnv("DB")

	c.Redis.Enabled = parseBool(os.Getenv("REDIS_ENABLED"), c.Redis.Enabled)
	c.Redis.RedisConfig.LoadFromEnv("REDIS")
	c.Cache.TTL = parseDuration(os.Getenv("CACHE_TTL"), c.Cache.TTL)

	c.MQTT.Enabled = parseBool(os.Getenv("MQTT_ENABLED"), c.MQTT.Enabled)
	c.MQTT.MQTTConfig.LoadFromEnv("MQTT")

	c.Admin.Enabled = parseBool(os.Getenv("ADMIN_ENABLED"), c.Admin.Enabled)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks the settings the proxy cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceURL == "" {
		errs = append(errs, errors.New("SERVICE_URL is required"))
	} else if err := checkURL(c.ServiceURL); err != nil {
		errs = append(errs, fmt.Errorf("SERVICE_URL: %w", err))
	}
	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("STA_BASE_URL is required"))
	} else if err := checkURL(c.Upstream.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("STA_BASE_URL: %w", err))
	}
	if c.Upstream.GetURL != "" && c.Upstream.GetURL != c.Upstream.BaseURL {
		if err := checkURL(c.Upstream.GetURL); err != nil {
			errs = append(errs, fmt.Errorf("STA_URL_GET: %w", err))
		}
	}
	if c.ServiceRoot != "" && !strings.HasPrefix(c.ServiceRoot, "/") {
		errs = append(errs, errors.New("SERVICE_ROOT must start with /"))
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
