package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"linkcheck/internal/httpcheck"
)

// Config holds the application's configuration values.
type Config struct {
	DatabaseDriver string
	DatabaseURL    string
	CheckInterval  time.Duration
	MaxConcurrency int
	MaxPerHost     int
	HTTPTimeout    time.Duration
	ShutdownGrace  time.Duration
	HTTPPort       string

	UserAgent   string
	RobotsTxt   bool
	Proxies     map[string]string // scheme -> proxy URL
	RateLimit   float64           // checks started per second, 0 = unlimited
	TLSInsecure bool
	LogLevel    string
	ConfigFile  string
	Credentials []Credential
}

// Credential is one configured login, matched by host or host:port.
// Host "*" matches every host without a more specific entry.
type Credential struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Load loads configuration from environment variables with sane defaults.
func Load() *Config {
	cfg := &Config{
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("DATABASE_URL", "linkcheck.db"),
		CheckInterval:  getEnvDuration("CHECK_INTERVAL", 15*time.Second),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 8),
		MaxPerHost:     getEnvInt("MAX_PER_HOST", 1),
		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 5*time.Second),
		ShutdownGrace:  getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),

		UserAgent:   getEnv("USER_AGENT", "linkcheck/1.0"),
		RobotsTxt:   getEnvBool("ROBOTS_TXT", true),
		Proxies:     make(map[string]string),
		RateLimit:   getEnvFloat("RATE_LIMIT", 0),
		TLSInsecure: getEnvBool("TLS_INSECURE", false),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ConfigFile:  getEnv("CONFIG_FILE", ""),
	}
	for scheme, keys := range map[string][]string{
		"http":  {"HTTP_PROXY", "http_proxy"},
		"https": {"HTTPS_PROXY", "https_proxy"},
	} {
		for _, key := range keys {
			if v := getEnv(key, ""); v != "" {
				cfg.Proxies[scheme] = v
				break
			}
		}
	}
	return cfg
}

// fileConfig is the YAML layout. Pointers tell absent keys from zero values.
type fileConfig struct {
	UserAgent   *string           `yaml:"user_agent"`
	RobotsTxt   *bool             `yaml:"robotstxt"`
	Proxy       map[string]string `yaml:"proxy"`
	Credentials []Credential      `yaml:"credentials"`
}

// LoadFile merges the YAML file at path into c. Keys present in the file
// override the environment; proxies are merged per scheme and credentials
// are appended.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.UserAgent != nil {
		c.UserAgent = *fc.UserAgent
	}
	if fc.RobotsTxt != nil {
		c.RobotsTxt = *fc.RobotsTxt
	}
	if c.Proxies == nil {
		c.Proxies = make(map[string]string)
	}
	for scheme, proxy := range fc.Proxy {
		c.Proxies[strings.ToLower(scheme)] = proxy
	}
	for i, cred := range fc.Credentials {
		if cred.Host == "" {
			return fmt.Errorf("parse config file %s: credentials[%d]: missing host", path, i)
		}
		c.Credentials = append(c.Credentials, cred)
	}
	return nil
}

// StaticCredentials returns the configured credentials keyed by host.
// Later entries for the same host win.
func (c *Config) StaticCredentials() httpcheck.StaticCredentials {
	if len(c.Credentials) == 0 {
		return nil
	}
	creds := make(httpcheck.StaticCredentials, len(c.Credentials))
	for _, cred := range c.Credentials {
		creds[strings.ToLower(cred.Host)] = httpcheck.Credential{Username: cred.User, Password: cred.Password}
	}
	return creds
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return fallback
}
