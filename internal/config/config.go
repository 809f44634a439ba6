// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxAdminConnections = 4096
	minLoopInterval     = 100 * time.Millisecond
	maxLoopInterval     = 1 * time.Hour
)

// Config holds all service configuration.
// Configuration is loaded from environment variables at startup; the pool
// policy may additionally come from a YAML file (see LoadPoolFile).
type Config struct {
	// Server settings
	Host                string
	Port                int
	MaxAdminConnections int

	// Driver settings
	Driver                string // "simulated" or "rod"
	Headless              bool
	BrowserPath           string
	IgnoreCertErrors      bool
	SimulatedStartupDelay time.Duration

	// Pool policy
	Pool                PoolConfiguration
	PoolConfigPath      string
	PoolConfigHotReload bool

	// Local node, registered at startup when enabled
	LocalNodeEnabled      bool
	LocalNodeID           string
	LocalNodeRegion       string
	LocalNodeMaxInstances int
	LocalNodeMaxMemoryMB  float64

	// Background loop intervals
	HealthCheckInterval time.Duration
	ScalingInterval     time.Duration
	OptimizeInterval    time.Duration
	MetricsInterval     time.Duration

	// Proxy pool handed to instances that require a proxy
	ProxyURLs     []string
	ProxyUsername string
	ProxyPassword string

	// Event transport
	RedisURL     string
	RedisChannel string

	// Logging
	LogLevel string

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int

	// Profiling
	PProfEnabled  bool
	PProfPort     int
	PProfBindAddr string
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	pool := DefaultPoolConfiguration()
	pool.MinInstances = getEnvInt("POOL_MIN_INSTANCES", pool.MinInstances)
	pool.MaxInstances = getEnvInt("POOL_MAX_INSTANCES", pool.MaxInstances)
	pool.WarmupInstances = getEnvInt("POOL_WARMUP_INSTANCES", pool.WarmupInstances)
	pool.ScalingCooldown = getEnvDuration("POOL_SCALING_COOLDOWN", pool.ScalingCooldown)

	return &Config{
		// Server - localhost by default; set HOST=0.0.0.0 to expose the admin API
		Host:                getEnvString("HOST", "127.0.0.1"),
		Port:                getEnvInt("PORT", 8290),
		MaxAdminConnections: getEnvInt("MAX_ADMIN_CONNECTIONS", 256),

		// Driver
		Driver:                strings.ToLower(getEnvString("DRIVER", "simulated")),
		Headless:              getEnvBool("HEADLESS", true),
		BrowserPath:           getEnvString("BROWSER_PATH", ""),
		IgnoreCertErrors:      getEnvBool("IGNORE_CERT_ERRORS", false),
		SimulatedStartupDelay: getEnvDuration("SIMULATED_STARTUP_DELAY", 2*time.Second),

		// Pool
		Pool:                pool,
		PoolConfigPath:      getEnvString("POOL_CONFIG_PATH", ""),
		PoolConfigHotReload: getEnvBool("POOL_CONFIG_HOT_RELOAD", false),

		// Local node
		LocalNodeEnabled:      getEnvBool("LOCAL_NODE_ENABLED", true),
		LocalNodeID:           getEnvString("LOCAL_NODE_ID", "local"),
		LocalNodeRegion:       getEnvString("LOCAL_NODE_REGION", "local"),
		LocalNodeMaxInstances: getEnvInt("LOCAL_NODE_MAX_INSTANCES", 5),
		LocalNodeMaxMemoryMB:  float64(getEnvInt("LOCAL_NODE_MAX_MEMORY_MB", 4096)),

		// Loops
		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		ScalingInterval:     getEnvDuration("SCALING_INTERVAL", 60*time.Second),
		OptimizeInterval:    getEnvDuration("OPTIMIZE_INTERVAL", 5*time.Minute),
		MetricsInterval:     getEnvDuration("METRICS_INTERVAL", 30*time.Second),

		// Proxy
		ProxyURLs:     getEnvStringSlice("PROXY_URLS", nil),
		ProxyUsername: getEnvString("PROXY_USERNAME", ""),
		ProxyPassword: getEnvString("PROXY_PASSWORD", ""),

		// Events
		RedisURL:     getEnvString("REDIS_URL", ""),
		RedisChannel: getEnvString("REDIS_CHANNEL", "browserfarm:events"),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),

		// Metrics
		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 8291),

		// Profiling - disabled by default for security
		PProfEnabled:  getEnvBool("PPROF_ENABLED", false),
		PProfPort:     getEnvInt("PPROF_PORT", 6060),
		PProfBindAddr: getEnvString("PPROF_BIND_ADDR", "127.0.0.1"),
	}
}

// localHostname is used when no explicit node id is configured.
func localHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

// LocalHostname returns the hostname advertised for the local node.
func (c *Config) LocalHostname() string {
	return localHostname()
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8290")
		c.Port = 8290
	}

	if c.MaxAdminConnections < 1 {
		log.Warn().Int("max", c.MaxAdminConnections).Msg("Invalid admin connection limit, using 256")
		c.MaxAdminConnections = 256
	} else if c.MaxAdminConnections > maxAdminConnections {
		log.Warn().
			Int("max", c.MaxAdminConnections).
			Int("cap", maxAdminConnections).
			Msg("Admin connection limit too high, capping to maximum")
		c.MaxAdminConnections = maxAdminConnections
	}

	switch c.Driver {
	case "simulated", "rod":
	default:
		log.Warn().Str("driver", c.Driver).Msg("Unknown driver, using 'simulated'")
		c.Driver = "simulated"
	}

	if c.BrowserPath != "" && strings.Contains(c.BrowserPath, "..") {
		log.Error().
			Str("path", c.BrowserPath).
			Msg("BrowserPath contains path traversal sequence (..), ignoring")
		c.BrowserPath = ""
	}

	if c.SimulatedStartupDelay < 0 {
		c.SimulatedStartupDelay = 0
	}

	c.HealthCheckInterval = clampInterval("HEALTH_CHECK_INTERVAL", c.HealthCheckInterval, 30*time.Second)
	c.ScalingInterval = clampInterval("SCALING_INTERVAL", c.ScalingInterval, 60*time.Second)
	c.OptimizeInterval = clampInterval("OPTIMIZE_INTERVAL", c.OptimizeInterval, 5*time.Minute)
	c.MetricsInterval = clampInterval("METRICS_INTERVAL", c.MetricsInterval, 30*time.Second)

	if c.LocalNodeEnabled {
		if c.LocalNodeID == "" {
			c.LocalNodeID = localHostname()
		}
		if c.LocalNodeMaxInstances < 1 {
			log.Warn().Int("max", c.LocalNodeMaxInstances).Msg("Invalid local node capacity, using 5")
			c.LocalNodeMaxInstances = 5
		}
	}

	if c.PoolConfigHotReload && c.PoolConfigPath == "" {
		log.Warn().Msg("POOL_CONFIG_HOT_RELOAD enabled but POOL_CONFIG_PATH not set - hot-reload disabled")
		c.PoolConfigHotReload = false
	}

	for _, raw := range c.ProxyURLs {
		if !strings.Contains(raw, "://") {
			log.Error().Str("proxy_url", raw).Msg("Proxy URL missing scheme (should be http://, https://, socks4://, or socks5://)")
		}
	}
	if (c.ProxyUsername != "") != (c.ProxyPassword != "") {
		log.Warn().Msg("Only one of PROXY_USERNAME / PROXY_PASSWORD is set - authentication may fail")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	if c.PrometheusEnabled && c.PrometheusPort == c.Port {
		log.Error().Int("port", c.PrometheusPort).Msg("PROMETHEUS_PORT conflicts with PORT, using PORT+1")
		c.PrometheusPort = c.Port + 1
	}

	if c.PProfEnabled && c.PProfBindAddr != "127.0.0.1" && c.PProfBindAddr != "localhost" {
		log.Warn().
			Str("addr", c.PProfBindAddr).
			Msg("WARNING: pprof exposed on non-localhost address - this is a security risk")
	}

	c.Pool.Validate()
}

func clampInterval(key string, d, fallback time.Duration) time.Duration {
	if d < minLoopInterval {
		log.Warn().Str("key", key).Dur("interval", d).Dur("min", minLoopInterval).Msg("Interval too short, using default")
		return fallback
	}
	if d > maxLoopInterval {
		log.Warn().Str("key", key).Dur("interval", d).Dur("max", maxLoopInterval).Msg("Interval too long, capping to maximum")
		return maxLoopInterval
	}
	return d
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration >= 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must not be negative, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
