package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Request validation limits.
const (
	MaxIDLength           = 128
	MaxHostnameLength     = 253
	MaxRegionLength       = 64
	MaxJobTypeLength      = 64
	MaxMetadataEntries    = 32
	MaxMetadataKeyLength  = 128
	MaxMetadataValueLen   = 1024
	MaxTimeoutMs          = 600000 // 10 minutes in milliseconds
	MaxWaitMs             = 300000
	MaxUserAgentLength    = 512
	MaxViewportDimension  = 8192
	MaxNodeInstances      = 1000
	MaxErrorMessageLength = 2048
)

// Response envelope status values.
const (
	ResponseOK    = "ok"
	ResponseError = "error"
)

// Response is the envelope returned by every admin API endpoint.
type Response struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	StartTime int64  `json:"startTimestamp"`
	EndTime   int64  `json:"endTimestamp"`
	Version   string `json:"version"`
	Data      any    `json:"data,omitempty"`
}

// RegisterNodeRequest registers an execution node with the farm.
type RegisterNodeRequest struct {
	ID       string       `json:"id"`
	Hostname string       `json:"hostname"`
	Region   string       `json:"region,omitempty"`
	Status   NodeStatus   `json:"status,omitempty"`
	Capacity NodeCapacity `json:"capacity"`
}

// Validate validates the request and returns an error if invalid.
func (r *RegisterNodeRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(r.ID) > MaxIDLength {
		return fmt.Errorf("id exceeds maximum length of %d", MaxIDLength)
	}
	if len(r.Hostname) > MaxHostnameLength {
		return fmt.Errorf("hostname exceeds maximum length of %d", MaxHostnameLength)
	}
	if len(r.Region) > MaxRegionLength {
		return fmt.Errorf("region exceeds maximum length of %d", MaxRegionLength)
	}
	if r.Status != "" && !r.Status.Valid() {
		return fmt.Errorf("unknown node status: %q", r.Status)
	}
	if r.Capacity.MaxInstances < 1 {
		return fmt.Errorf("capacity.maxInstances must be at least 1")
	}
	if r.Capacity.MaxInstances > MaxNodeInstances {
		return fmt.Errorf("capacity.maxInstances exceeds maximum of %d", MaxNodeInstances)
	}
	if r.Capacity.MaxMemoryMB < 0 || r.Capacity.MaxCPUCores < 0 ||
		r.Capacity.MaxDiskMB < 0 || r.Capacity.MaxNetworkMbps < 0 {
		return fmt.Errorf("capacity values cannot be negative")
	}
	return nil
}

// Node converts the request into a node definition.
func (r *RegisterNodeRequest) Node() *BrowserNode {
	status := r.Status
	if status == "" {
		status = NodeOnline
	}
	return &BrowserNode{
		ID:       r.ID,
		Hostname: r.Hostname,
		Region:   r.Region,
		Status:   status,
		Capacity: r.Capacity,
	}
}

// HeartbeatRequest carries a node agent's periodic report.
type HeartbeatRequest struct {
	Resources NodeResources `json:"resources"`
	Health    HeartbeatHealth `json:"health"`
}

// HeartbeatHealth is the wire form of NodeHealth with millisecond durations.
type HeartbeatHealth struct {
	UptimeMs       int64   `json:"uptimeMs"`
	ResponseTimeMs int64   `json:"responseTimeMs"`
	ErrorRate      float64 `json:"errorRate"`
	LastError      string  `json:"lastError,omitempty"`
}

// Validate validates the request and returns an error if invalid.
func (r *HeartbeatRequest) Validate() error {
	if r.Resources.MemoryUsedMB < 0 || r.Resources.DiskUsedMB < 0 || r.Resources.NetworkMbps < 0 {
		return fmt.Errorf("resource values cannot be negative")
	}
	if r.Resources.CPUPercent < 0 || r.Resources.CPUPercent > 100 {
		return fmt.Errorf("resources.cpuPercent must be between 0 and 100")
	}
	if r.Health.ErrorRate < 0 || r.Health.ErrorRate > 100 {
		return fmt.Errorf("health.errorRate must be between 0 and 100")
	}
	if r.Health.UptimeMs < 0 || r.Health.ResponseTimeMs < 0 {
		return fmt.Errorf("health durations cannot be negative")
	}
	if len(r.Health.LastError) > MaxErrorMessageLength {
		return fmt.Errorf("health.lastError exceeds maximum length of %d", MaxErrorMessageLength)
	}
	return nil
}

// NodeHealth converts the wire health into the domain form.
func (r *HeartbeatRequest) NodeHealth() NodeHealth {
	return NodeHealth{
		Uptime:       time.Duration(r.Health.UptimeMs) * time.Millisecond,
		ResponseTime: time.Duration(r.Health.ResponseTimeMs) * time.Millisecond,
		ErrorRate:    r.Health.ErrorRate,
		LastError:    r.Health.LastError,
	}
}

// NodeStatusRequest changes a node's administrative status.
type NodeStatusRequest struct {
	Status NodeStatus `json:"status"`
}

// Validate validates the request and returns an error if invalid.
func (r *NodeStatusRequest) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("unknown node status: %q", r.Status)
	}
	return nil
}

// BrowserRequest asks the farm for a browser instance for one job.
type BrowserRequest struct {
	JobID               string            `json:"jobId,omitempty"`
	Type                string            `json:"type,omitempty"`
	Priority            string            `json:"priority,omitempty"`
	BrowserType         BrowserType       `json:"browserType,omitempty"`
	Headless            bool              `json:"headless,omitempty"`
	Stealth             bool              `json:"stealth,omitempty"`
	Mobile              bool              `json:"mobile,omitempty"`
	Region              string            `json:"region,omitempty"`
	Proxy               bool              `json:"proxy,omitempty"`
	JavaScript          bool              `json:"javascript,omitempty"`
	Images              bool              `json:"images,omitempty"`
	MinMemoryMB         float64           `json:"minMemoryMb,omitempty"`
	TimeoutMs           int               `json:"timeoutMs,omitempty"`
	EstimatedDurationMs int               `json:"estimatedDurationMs,omitempty"`
	WaitMs              int               `json:"waitMs,omitempty"` // wait up to this long for a queued job's assignment
	Metadata            map[string]string `json:"metadata,omitempty"`
	Overrides           *ProfileOverrides `json:"overrides,omitempty"`
}

// Validate validates the request and returns an error if invalid.
func (r *BrowserRequest) Validate() error {
	if len(r.JobID) > MaxIDLength {
		return fmt.Errorf("jobId exceeds maximum length of %d", MaxIDLength)
	}
	if len(r.Type) > MaxJobTypeLength {
		return fmt.Errorf("type exceeds maximum length of %d", MaxJobTypeLength)
	}
	if _, err := ParsePriority(r.Priority); err != nil {
		return err
	}
	switch r.BrowserType {
	case "", BrowserChrome, BrowserChromium, BrowserFirefox, BrowserSafari, BrowserEdge:
	default:
		return fmt.Errorf("unknown browserType: %q", r.BrowserType)
	}
	if len(r.Region) > MaxRegionLength {
		return fmt.Errorf("region exceeds maximum length of %d", MaxRegionLength)
	}
	if r.MinMemoryMB < 0 {
		return fmt.Errorf("minMemoryMb cannot be negative")
	}
	if r.TimeoutMs < 0 {
		return fmt.Errorf("timeoutMs cannot be negative")
	}
	if r.TimeoutMs > MaxTimeoutMs {
		return fmt.Errorf("timeoutMs exceeds maximum of %d ms", MaxTimeoutMs)
	}
	if r.EstimatedDurationMs < 0 {
		return fmt.Errorf("estimatedDurationMs cannot be negative")
	}
	if r.WaitMs < 0 {
		return fmt.Errorf("waitMs cannot be negative")
	}
	if r.WaitMs > MaxWaitMs {
		return fmt.Errorf("waitMs exceeds maximum of %d ms", MaxWaitMs)
	}
	if len(r.Metadata) > MaxMetadataEntries {
		return fmt.Errorf("too many metadata entries (maximum %d)", MaxMetadataEntries)
	}
	for k, v := range r.Metadata {
		if len(k) > MaxMetadataKeyLength {
			return fmt.Errorf("metadata key exceeds maximum length of %d", MaxMetadataKeyLength)
		}
		if len(v) > MaxMetadataValueLen {
			return fmt.Errorf("metadata value exceeds maximum length of %d", MaxMetadataValueLen)
		}
	}
	if r.Overrides != nil {
		if err := r.Overrides.Validate(); err != nil {
			return fmt.Errorf("overrides: %w", err)
		}
	}
	return nil
}

// Requirements converts the request into job requirements.
func (r *BrowserRequest) Requirements() JobRequirements {
	return JobRequirements{
		BrowserType: r.BrowserType,
		Headless:    r.Headless,
		Stealth:     r.Stealth,
		Mobile:      r.Mobile,
		Region:      r.Region,
		Proxy:       r.Proxy,
		JavaScript:  r.JavaScript,
		Images:      r.Images,
		MinMemoryMB: r.MinMemoryMB,
		Timeout:     time.Duration(r.TimeoutMs) * time.Millisecond,
	}
}

// Validate validates the overrides.
func (o *ProfileOverrides) Validate() error {
	if len(o.UserAgent) > MaxUserAgentLength {
		return fmt.Errorf("userAgent exceeds maximum length of %d", MaxUserAgentLength)
	}
	if strings.ContainsAny(o.UserAgent, "\r\n") {
		return fmt.Errorf("userAgent cannot contain line breaks")
	}
	if o.Viewport != nil {
		if o.Viewport.Width <= 0 || o.Viewport.Height <= 0 {
			return fmt.Errorf("viewport dimensions must be positive")
		}
		if o.Viewport.Width > MaxViewportDimension || o.Viewport.Height > MaxViewportDimension {
			return fmt.Errorf("viewport dimensions exceed maximum of %d", MaxViewportDimension)
		}
	}
	return nil
}

// ReleaseRequest reports the outcome of a job when returning its browser.
type ReleaseRequest struct {
	Success        bool   `json:"success"`
	PageLoadTimeMs int64  `json:"pageLoadTimeMs,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Validate validates the request and returns an error if invalid.
func (r *ReleaseRequest) Validate() error {
	if r.PageLoadTimeMs < 0 {
		return fmt.Errorf("pageLoadTimeMs cannot be negative")
	}
	if len(r.Error) > MaxErrorMessageLength {
		return fmt.Errorf("error exceeds maximum length of %d", MaxErrorMessageLength)
	}
	return nil
}

// Result converts the request into a job result.
func (r *ReleaseRequest) Result() JobResult {
	return JobResult{
		Success:      r.Success,
		PageLoadTime: time.Duration(r.PageLoadTimeMs) * time.Millisecond,
		Error:        r.Error,
	}
}

// AssignmentResponse is returned for a browser request.
type AssignmentResponse struct {
	JobID    string           `json:"jobId"`
	Queued   bool             `json:"queued"`
	Instance *BrowserInstance `json:"instance,omitempty"`
}

// ValidateProxyURL checks a proxy URL handed to instances.
func ValidateProxyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return fmt.Errorf("unsupported scheme: %s (must be http, https, socks4, or socks5)", scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
