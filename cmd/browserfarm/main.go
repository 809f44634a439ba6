// Package main provides the entry point for the browser farm manager.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Import for side effects - registers pprof handlers
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"

	"github.com/Rorqualx/browserfarm/internal/api"
	"github.com/Rorqualx/browserfarm/internal/config"
	"github.com/Rorqualx/browserfarm/internal/driver"
	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/metrics"
	"github.com/Rorqualx/browserfarm/internal/pool"
	"github.com/Rorqualx/browserfarm/internal/proxy"
	"github.com/Rorqualx/browserfarm/internal/types"
	"github.com/Rorqualx/browserfarm/pkg/version"
)

const (
	shutdownTimeout   = 30 * time.Second
	minHeartbeatEvery = 5 * time.Second
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)

	cfg.Validate()

	printBanner()

	// Pool policy from file, falling back to the environment
	poolCfg := cfg.Pool
	var poolFile *config.PoolFile
	var live atomic.Pointer[pool.Manager] // set once the manager exists; reloads before that are dropped
	if cfg.PoolConfigPath != "" {
		var err error
		poolFile, err = config.NewPoolFile(cfg.PoolConfigPath, cfg.PoolConfigHotReload, func(updated config.PoolConfiguration) {
			mgr := live.Load()
			if mgr == nil {
				return
			}
			if err := mgr.UpdateConfiguration(updated); err != nil {
				log.Error().Err(err).Msg("Failed to apply reloaded pool configuration")
			}
		})
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.PoolConfigPath).Msg("Failed to load pool configuration")
		}
		poolCfg = poolFile.Get()
	}

	// Channel to signal shutdown to background tasks
	stopCh := make(chan struct{})

	// Event fan-out
	bus := events.NewBus(events.BusConfig{}, events.NewLogSink())
	if cfg.PrometheusEnabled {
		bus.Subscribe(metrics.EventCounter{})
	}
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sink, err := events.NewRedisSink(ctx, cfg.RedisURL, cfg.RedisChannel)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("Redis event sink unavailable, events stay local")
		} else {
			bus.Subscribe(sink)
			log.Info().Str("channel", cfg.RedisChannel).Msg("Publishing pool events to Redis")
		}
	}

	// Browser driver
	var drv driver.Driver
	var rodDriver *driver.Rod
	switch cfg.Driver {
	case "rod":
		rodDriver = driver.NewRod(driver.RodConfig{
			BrowserPath:      cfg.BrowserPath,
			Headless:         cfg.Headless,
			IgnoreCertErrors: cfg.IgnoreCertErrors,
		})
		drv = rodDriver
	default:
		drv = driver.NewSimulated(cfg.SimulatedStartupDelay)
	}

	opts := []pool.Option{
		pool.WithDriver(drv),
		pool.WithEmitter(bus),
		pool.WithIntervals(pool.Intervals{
			Health:   cfg.HealthCheckInterval,
			Scaling:  cfg.ScalingInterval,
			Optimize: cfg.OptimizeInterval,
			Metrics:  cfg.MetricsInterval,
		}),
	}
	if len(cfg.ProxyURLs) > 0 {
		proxies, err := proxy.NewRoundRobin(cfg.ProxyURLs, cfg.ProxyUsername, cfg.ProxyPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid proxy configuration")
		}
		opts = append(opts, pool.WithProxyProvider(proxies))
		log.Info().Int("proxies", proxies.Len()).Msg("Proxy pool configured")
	}
	if cfg.PrometheusEnabled {
		opts = append(opts, pool.WithMetrics(metrics.PrometheusSink{}))
	}

	log.Info().Str("driver", cfg.Driver).Msg("Initializing browser pool...")
	mgr := pool.New(poolCfg, opts...)
	live.Store(mgr)
	mgr.Start()

	if cfg.LocalNodeEnabled {
		registerLocalNode(cfg, mgr)
		go runLocalHeartbeat(cfg, mgr, stopCh)
	}

	// Admin API
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("address", addr).Msg("Failed to listen")
	}
	listener = netutil.LimitListener(listener, cfg.MaxAdminConnections)

	server := &http.Server{
		Handler:           api.NewServer(mgr).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Browser requests may wait for a queued assignment.
		WriteTimeout: time.Duration(types.MaxWaitMs)*time.Millisecond + 2*time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())

		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Int("port", cfg.PrometheusPort).Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// pprof exposes runtime internals; keep it bound to localhost.
	var pprofServer *http.Server
	if cfg.PProfEnabled {
		pprofAddr := fmt.Sprintf("%s:%d", cfg.PProfBindAddr, cfg.PProfPort)
		pprofServer = &http.Server{
			Addr:         pprofAddr,
			Handler:      http.DefaultServeMux, // pprof registers to DefaultServeMux
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
		}

		go func() {
			log.Warn().Str("addr", pprofAddr).Msg("pprof profiling server started - use for debugging only")
			if err := pprofServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("max_connections", cfg.MaxAdminConnections).
			Int("min_instances", poolCfg.MinInstances).
			Int("max_instances", poolCfg.MaxInstances).
			Bool("metrics_enabled", cfg.PrometheusEnabled).
			Msg("browserfarm is ready to accept requests")

		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}
	if pprofServer != nil {
		if err := pprofServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("pprof server shutdown error")
		}
	}
	if poolFile != nil {
		if err := poolFile.Close(); err != nil {
			log.Error().Err(err).Msg("Pool config watcher close error")
		}
	}

	if err := mgr.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Browser pool close error")
	}
	if rodDriver != nil {
		rodDriver.Shutdown(ctx)
	}
	if err := bus.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Event bus close error")
	}

	log.Info().Msg("Shutdown complete")
}

// registerLocalNode makes the host running the manager an execution node.
func registerLocalNode(cfg *config.Config, mgr *pool.Manager) {
	node := &types.BrowserNode{
		ID:       cfg.LocalNodeID,
		Hostname: cfg.LocalHostname(),
		Region:   cfg.LocalNodeRegion,
		Status:   types.NodeOnline,
		Capacity: types.NodeCapacity{
			MaxInstances: cfg.LocalNodeMaxInstances,
			MaxMemoryMB:  cfg.LocalNodeMaxMemoryMB,
		},
	}
	if err := mgr.RegisterNode(node); err != nil {
		log.Fatal().Err(err).Str("node_id", node.ID).Msg("Failed to register local node")
	}
	log.Info().
		Str("node_id", node.ID).
		Int("max_instances", node.Capacity.MaxInstances).
		Msg("Local node registered")
}

// runLocalHeartbeat reports the local node's load derived from the
// instances it hosts, well inside the heartbeat timeout.
func runLocalHeartbeat(cfg *config.Config, mgr *pool.Manager, stopCh <-chan struct{}) {
	every := cfg.HealthCheckInterval / 3
	if every < minHeartbeatEvery {
		every = minHeartbeatEvery
	}
	started := time.Now()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var res types.NodeResources
			var cpu float64
			hosted := 0
			for _, inst := range mgr.Instances() {
				if inst.NodeID != cfg.LocalNodeID {
					continue
				}
				res.MemoryUsedMB += inst.Resources.MemoryMB
				cpu += inst.Resources.CPUPercent
				hosted++
			}
			if hosted > 0 {
				res.CPUPercent = min(cpu/float64(hosted), 100)
			}
			stats := mgr.Stats()
			health := types.NodeHealth{
				Uptime:       time.Since(started),
				ResponseTime: stats.AvgResponseTime,
				ErrorRate:    stats.ErrorRate,
			}
			if !mgr.UpdateHeartbeat(cfg.LocalNodeID, res, health) {
				log.Warn().Str("node_id", cfg.LocalNodeID).Msg("Local node is no longer registered")
				return
			}
		case <-stopCh:
			return
		}
	}
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
 _                                      __
| |__  _ __ _____      _____  ___ _ __ / _| __ _ _ __ _ __ ___
| '_ \| '__/ _ \ \ /\ / / __|/ _ \ '__| |_ / _' | '__| '_ ' _ \
| |_) | | | (_) \ V  V /\__ \  __/ |  |  _| (_| | |  | | | | | |
|_.__/|_|  \___/ \_/\_/ |___/\___|_|  |_|  \__,_|_|  |_| |_| |_|
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting browserfarm")
}
