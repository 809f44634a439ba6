package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Pool policy bounds.
const (
	maxPoolInstances   = 10000
	minScalingCooldown = 1 * time.Second
)

// ResourceLimits caps what a single browser instance may consume.
type ResourceLimits struct {
	MaxMemoryMB    float64 `yaml:"maxMemoryMB" json:"maxMemoryMB"`
	MaxCPUPercent  float64 `yaml:"maxCpuPercent" json:"maxCpuPercent"`
	MaxDiskMB      float64 `yaml:"maxDiskMB" json:"maxDiskMB"`
	MaxNetworkMbps float64 `yaml:"maxNetworkMbps" json:"maxNetworkMbps"`
}

// AntiDetection toggles the profile-generation features applied to new instances.
type AntiDetection struct {
	Enabled              bool `yaml:"enabled" json:"enabled"`
	ProfileRotation      bool `yaml:"profileRotation" json:"profileRotation"`
	RequestRandomization bool `yaml:"requestRandomization" json:"requestRandomization"`
	BehaviorMimicking    bool `yaml:"behaviorMimicking" json:"behaviorMimicking"`
	HeaderSpoofing       bool `yaml:"headerSpoofing" json:"headerSpoofing"`
	CanvasFingerprinting bool `yaml:"canvasFingerprinting" json:"canvasFingerprinting"`
	WebGLFingerprinting  bool `yaml:"webglFingerprinting" json:"webglFingerprinting"`
	AudioFingerprinting  bool `yaml:"audioFingerprinting" json:"audioFingerprinting"`
}

// PoolConfiguration is the scaling, recycling and anti-detection policy of
// the browser pool. Utilization thresholds are percentages.
type PoolConfiguration struct {
	MinInstances       int            `yaml:"minInstances" json:"minInstances"`
	MaxInstances       int            `yaml:"maxInstances" json:"maxInstances"`
	TargetUtilization  float64        `yaml:"targetUtilization" json:"targetUtilization"`
	ScaleUpThreshold   float64        `yaml:"scaleUpThreshold" json:"scaleUpThreshold"`
	ScaleDownThreshold float64        `yaml:"scaleDownThreshold" json:"scaleDownThreshold"`
	WarmupInstances    int            `yaml:"warmupInstances" json:"warmupInstances"`
	MaxSessionDuration time.Duration  `yaml:"maxSessionDuration" json:"maxSessionDuration"`
	MaxSessionRequests int64          `yaml:"maxSessionRequests" json:"maxSessionRequests"`
	AutoRotation       bool           `yaml:"autoRotation" json:"autoRotation"`
	ScalingCooldown    time.Duration  `yaml:"scalingCooldown" json:"scalingCooldown"`
	ResourceLimits     ResourceLimits `yaml:"resourceLimits" json:"resourceLimits"`
	AntiDetection      AntiDetection  `yaml:"antiDetection" json:"antiDetection"`
}

// DefaultPoolConfiguration returns the policy used when no file is configured.
func DefaultPoolConfiguration() PoolConfiguration {
	return PoolConfiguration{
		MinInstances:       2,
		MaxInstances:       20,
		TargetUtilization:  70,
		ScaleUpThreshold:   80,
		ScaleDownThreshold: 30,
		WarmupInstances:    2,
		MaxSessionDuration: 30 * time.Minute,
		MaxSessionRequests: 100,
		AutoRotation:       true,
		ScalingCooldown:    60 * time.Second,
		ResourceLimits: ResourceLimits{
			MaxMemoryMB:    512,
			MaxCPUPercent:  80,
			MaxDiskMB:      1024,
			MaxNetworkMbps: 100,
		},
		AntiDetection: AntiDetection{
			Enabled:              true,
			ProfileRotation:      true,
			RequestRandomization: true,
			BehaviorMimicking:    true,
			HeaderSpoofing:       true,
			CanvasFingerprinting: true,
			WebGLFingerprinting:  true,
			AudioFingerprinting:  true,
		},
	}
}

// Validate checks the policy and logs warnings for invalid values.
// Invalid values are corrected so the pool can always start.
func (p *PoolConfiguration) Validate() {
	def := DefaultPoolConfiguration()

	if p.MaxInstances < 1 {
		log.Warn().Int("max", p.MaxInstances).Int("default", def.MaxInstances).Msg("Invalid maxInstances, using default")
		p.MaxInstances = def.MaxInstances
	} else if p.MaxInstances > maxPoolInstances {
		log.Warn().Int("max", p.MaxInstances).Int("cap", maxPoolInstances).Msg("maxInstances too high, capping to maximum")
		p.MaxInstances = maxPoolInstances
	}

	if p.MinInstances < 0 {
		log.Warn().Int("min", p.MinInstances).Msg("Negative minInstances, using 0")
		p.MinInstances = 0
	}
	if p.MinInstances > p.MaxInstances {
		log.Warn().
			Int("min", p.MinInstances).
			Int("max", p.MaxInstances).
			Msg("minInstances exceeds maxInstances, lowering to maxInstances")
		p.MinInstances = p.MaxInstances
	}

	if p.WarmupInstances < 0 {
		p.WarmupInstances = 0
	}
	if p.WarmupInstances > p.MaxInstances {
		log.Warn().Int("warmup", p.WarmupInstances).Msg("warmupInstances exceeds maxInstances, capping")
		p.WarmupInstances = p.MaxInstances
	}

	p.TargetUtilization = clampPercent("targetUtilization", p.TargetUtilization, def.TargetUtilization)
	p.ScaleUpThreshold = clampPercent("scaleUpThreshold", p.ScaleUpThreshold, def.ScaleUpThreshold)
	p.ScaleDownThreshold = clampPercent("scaleDownThreshold", p.ScaleDownThreshold, def.ScaleDownThreshold)
	if p.TargetUtilization == 0 {
		log.Warn().Float64("default", def.TargetUtilization).Msg("targetUtilization must be positive, using default")
		p.TargetUtilization = def.TargetUtilization
	}
	if p.ScaleDownThreshold >= p.ScaleUpThreshold {
		log.Warn().
			Float64("down", p.ScaleDownThreshold).
			Float64("up", p.ScaleUpThreshold).
			Msg("scaleDownThreshold must be below scaleUpThreshold, using defaults")
		p.ScaleUpThreshold = def.ScaleUpThreshold
		p.ScaleDownThreshold = def.ScaleDownThreshold
	}

	if p.MaxSessionDuration <= 0 {
		log.Warn().Dur("default", def.MaxSessionDuration).Msg("Invalid maxSessionDuration, using default")
		p.MaxSessionDuration = def.MaxSessionDuration
	}
	if p.MaxSessionRequests <= 0 {
		log.Warn().Int64("default", def.MaxSessionRequests).Msg("Invalid maxSessionRequests, using default")
		p.MaxSessionRequests = def.MaxSessionRequests
	}
	if p.ScalingCooldown < minScalingCooldown {
		log.Warn().Dur("cooldown", p.ScalingCooldown).Dur("min", minScalingCooldown).Msg("scalingCooldown too short, using minimum")
		p.ScalingCooldown = minScalingCooldown
	}

	if p.ResourceLimits.MaxMemoryMB <= 0 {
		p.ResourceLimits.MaxMemoryMB = def.ResourceLimits.MaxMemoryMB
	}
	if p.ResourceLimits.MaxCPUPercent <= 0 || p.ResourceLimits.MaxCPUPercent > 100 {
		p.ResourceLimits.MaxCPUPercent = def.ResourceLimits.MaxCPUPercent
	}
	if p.ResourceLimits.MaxDiskMB <= 0 {
		p.ResourceLimits.MaxDiskMB = def.ResourceLimits.MaxDiskMB
	}
	if p.ResourceLimits.MaxNetworkMbps <= 0 {
		p.ResourceLimits.MaxNetworkMbps = def.ResourceLimits.MaxNetworkMbps
	}
}

func clampPercent(key string, v, fallback float64) float64 {
	if v < 0 || v > 100 {
		log.Warn().Str("key", key).Float64("value", v).Float64("default", fallback).Msg("Percentage out of range, using default")
		return fallback
	}
	return v
}
