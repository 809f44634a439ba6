package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Clear any environment variables that might interfere
	envVars := []string{
		"HOST", "PORT", "DRIVER", "HEADLESS", "BROWSER_PATH",
		"POOL_MIN_INSTANCES", "POOL_MAX_INSTANCES", "POOL_WARMUP_INSTANCES", "POOL_SCALING_COOLDOWN",
		"POOL_CONFIG_PATH", "POOL_CONFIG_HOT_RELOAD",
		"HEALTH_CHECK_INTERVAL", "SCALING_INTERVAL", "OPTIMIZE_INTERVAL", "METRICS_INTERVAL",
		"PROXY_URLS", "REDIS_URL", "REDIS_CHANNEL",
		"LOG_LEVEL", "PROMETHEUS_ENABLED", "PROMETHEUS_PORT",
	}
	for _, env := range envVars {
		os.Unsetenv(env)
	}

	cfg := Load()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected default host '127.0.0.1', got %q", cfg.Host)
	}
	if cfg.Port != 8290 {
		t.Errorf("Expected default port 8290, got %d", cfg.Port)
	}
	if cfg.Driver != "simulated" {
		t.Errorf("Expected default driver 'simulated', got %q", cfg.Driver)
	}
	if !cfg.Headless {
		t.Error("Expected Headless to be true by default")
	}

	if cfg.Pool.MinInstances != 2 {
		t.Errorf("Expected default minInstances 2, got %d", cfg.Pool.MinInstances)
	}
	if cfg.Pool.MaxInstances != 20 {
		t.Errorf("Expected default maxInstances 20, got %d", cfg.Pool.MaxInstances)
	}
	if cfg.Pool.ScalingCooldown != 60*time.Second {
		t.Errorf("Expected default scaling cooldown 60s, got %v", cfg.Pool.ScalingCooldown)
	}

	if cfg.HealthCheckInterval != 30*time.Second {
		t.Errorf("Expected health interval 30s, got %v", cfg.HealthCheckInterval)
	}
	if cfg.ScalingInterval != 60*time.Second {
		t.Errorf("Expected scaling interval 60s, got %v", cfg.ScalingInterval)
	}
	if cfg.OptimizeInterval != 5*time.Minute {
		t.Errorf("Expected optimize interval 5m, got %v", cfg.OptimizeInterval)
	}
	if cfg.MetricsInterval != 30*time.Second {
		t.Errorf("Expected metrics interval 30s, got %v", cfg.MetricsInterval)
	}

	if cfg.RedisChannel != "browserfarm:events" {
		t.Errorf("Expected default redis channel, got %q", cfg.RedisChannel)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.PrometheusEnabled {
		t.Error("Expected PrometheusEnabled to be false by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DRIVER", "ROD")
	t.Setenv("POOL_MAX_INSTANCES", "8")
	t.Setenv("POOL_SCALING_COOLDOWN", "2m")
	t.Setenv("PROXY_URLS", "http://a:1, http://b:2 ,")
	t.Setenv("HEALTH_CHECK_INTERVAL", "5s")

	cfg := Load()

	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Port)
	}
	if cfg.Driver != "rod" {
		t.Errorf("Expected driver 'rod', got %q", cfg.Driver)
	}
	if cfg.Pool.MaxInstances != 8 {
		t.Errorf("Expected maxInstances 8, got %d", cfg.Pool.MaxInstances)
	}
	if cfg.Pool.ScalingCooldown != 2*time.Minute {
		t.Errorf("Expected cooldown 2m, got %v", cfg.Pool.ScalingCooldown)
	}
	if len(cfg.ProxyURLs) != 2 || cfg.ProxyURLs[1] != "http://b:2" {
		t.Errorf("Expected two trimmed proxy URLs, got %v", cfg.ProxyURLs)
	}
	if cfg.HealthCheckInterval != 5*time.Second {
		t.Errorf("Expected health interval 5s, got %v", cfg.HealthCheckInterval)
	}
}

func TestInvalidEnvironmentFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("HEADLESS", "maybe")
	t.Setenv("SCALING_INTERVAL", "-5s")

	cfg := Load()

	if cfg.Port != 8290 {
		t.Errorf("Expected fallback port 8290, got %d", cfg.Port)
	}
	if !cfg.Headless {
		t.Error("Expected fallback Headless=true")
	}
	if cfg.ScalingInterval != 60*time.Second {
		t.Errorf("Expected fallback scaling interval, got %v", cfg.ScalingInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		check  func(*testing.T, *Config)
	}{
		{
			name:   "invalid port",
			modify: func(c *Config) { c.Port = 70000 },
			check: func(t *testing.T, c *Config) {
				if c.Port != 8290 {
					t.Errorf("Expected port reset to 8290, got %d", c.Port)
				}
			},
		},
		{
			name:   "unknown driver",
			modify: func(c *Config) { c.Driver = "selenium" },
			check: func(t *testing.T, c *Config) {
				if c.Driver != "simulated" {
					t.Errorf("Expected driver reset to simulated, got %q", c.Driver)
				}
			},
		},
		{
			name:   "path traversal in browser path",
			modify: func(c *Config) { c.BrowserPath = "/opt/../etc/chrome" },
			check: func(t *testing.T, c *Config) {
				if c.BrowserPath != "" {
					t.Errorf("Expected browser path cleared, got %q", c.BrowserPath)
				}
			},
		},
		{
			name:   "interval too short",
			modify: func(c *Config) { c.HealthCheckInterval = time.Millisecond },
			check: func(t *testing.T, c *Config) {
				if c.HealthCheckInterval != 30*time.Second {
					t.Errorf("Expected health interval reset to 30s, got %v", c.HealthCheckInterval)
				}
			},
		},
		{
			name:   "hot reload without path",
			modify: func(c *Config) { c.PoolConfigHotReload = true; c.PoolConfigPath = "" },
			check: func(t *testing.T, c *Config) {
				if c.PoolConfigHotReload {
					t.Error("Expected hot reload disabled without path")
				}
			},
		},
		{
			name:   "prometheus port conflict",
			modify: func(c *Config) { c.PrometheusEnabled = true; c.PrometheusPort = c.Port },
			check: func(t *testing.T, c *Config) {
				if c.PrometheusPort != c.Port+1 {
					t.Errorf("Expected prometheus port PORT+1, got %d", c.PrometheusPort)
				}
			},
		},
		{
			name:   "invalid log level",
			modify: func(c *Config) { c.LogLevel = "verbose" },
			check: func(t *testing.T, c *Config) {
				if c.LogLevel != "info" {
					t.Errorf("Expected log level reset to info, got %q", c.LogLevel)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.modify(cfg)
			cfg.Validate()
			tt.check(t, cfg)
		})
	}
}

func TestPoolConfigurationValidate(t *testing.T) {
	p := PoolConfiguration{
		MinInstances:       50,
		MaxInstances:       10,
		TargetUtilization:  150,
		ScaleUpThreshold:   20,
		ScaleDownThreshold: 60,
		WarmupInstances:    -1,
		ScalingCooldown:    0,
	}
	p.Validate()

	if p.MinInstances != 10 {
		t.Errorf("Expected minInstances lowered to 10, got %d", p.MinInstances)
	}
	if p.TargetUtilization != 70 {
		t.Errorf("Expected targetUtilization reset to 70, got %v", p.TargetUtilization)
	}
	if p.ScaleUpThreshold != 80 || p.ScaleDownThreshold != 30 {
		t.Errorf("Expected thresholds reset to 80/30, got %v/%v", p.ScaleUpThreshold, p.ScaleDownThreshold)
	}
	if p.WarmupInstances != 0 {
		t.Errorf("Expected warmup 0, got %d", p.WarmupInstances)
	}
	if p.ScalingCooldown != minScalingCooldown {
		t.Errorf("Expected cooldown clamped to %v, got %v", minScalingCooldown, p.ScalingCooldown)
	}
	if p.MaxSessionRequests != 100 {
		t.Errorf("Expected maxSessionRequests default 100, got %d", p.MaxSessionRequests)
	}
	if p.ResourceLimits.MaxMemoryMB != 512 {
		t.Errorf("Expected memory limit default 512, got %v", p.ResourceLimits.MaxMemoryMB)
	}
}

func TestParsePoolConfiguration(t *testing.T) {
	data := []byte(`
minInstances: 1
maxInstances: 5
scaleUpThreshold: 75
maxSessionDuration: 10m
scalingCooldown: 30s
resourceLimits:
  maxMemoryMB: 256
antiDetection:
  enabled: true
  profileRotation: false
`)
	cfg, err := ParsePoolConfiguration(data)
	require.NoError(t, err)

	require.Equal(t, 1, cfg.MinInstances)
	require.Equal(t, 5, cfg.MaxInstances)
	require.Equal(t, 75.0, cfg.ScaleUpThreshold)
	require.Equal(t, 30.0, cfg.ScaleDownThreshold, "missing keys keep defaults")
	require.Equal(t, 10*time.Minute, cfg.MaxSessionDuration)
	require.Equal(t, 30*time.Second, cfg.ScalingCooldown)
	require.Equal(t, 256.0, cfg.ResourceLimits.MaxMemoryMB)
	require.False(t, cfg.AntiDetection.ProfileRotation)

	_, err = ParsePoolConfiguration([]byte("minInstances: [oops"))
	require.Error(t, err)
}

func TestPoolFileHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxInstances: 4\n"), 0o600))

	updates := make(chan PoolConfiguration, 4)
	f, err := NewPoolFile(path, true, func(cfg PoolConfiguration) { updates <- cfg })
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, 4, f.Get().MaxInstances)

	require.NoError(t, os.WriteFile(path, []byte("maxInstances: 9\n"), 0o600))

	select {
	case cfg := <-updates:
		require.Equal(t, 9, cfg.MaxInstances)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for hot reload")
	}
	require.Equal(t, 9, f.Get().MaxInstances)
	require.GreaterOrEqual(t, f.Stats().ReloadCount, int64(1))
}

func TestPoolFileReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxInstances: 6\n"), 0o600))

	f, err := NewPoolFile(path, false, nil)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, os.WriteFile(path, []byte("maxInstances: {"), 0o600))
	require.Error(t, f.Reload())
	require.Equal(t, 6, f.Get().MaxInstances)
	require.NotEmpty(t, f.Stats().LastErrorStr)

	// Close is idempotent
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestNewPoolFileMissing(t *testing.T) {
	_, err := NewPoolFile(filepath.Join(t.TempDir(), "absent.yaml"), false, nil)
	require.Error(t, err)
}
