package types

import "time"

// Viewport describes the emulated screen of a browser instance.
type Viewport struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor" yaml:"deviceScaleFactor"`
	IsMobile          bool    `json:"isMobile" yaml:"isMobile"`
	HasTouch          bool    `json:"hasTouch" yaml:"hasTouch"`
}

// Fingerprint is the hardware/software identity a browser presents.
type Fingerprint struct {
	UserAgent           string            `json:"userAgent"`
	Platform            string            `json:"platform"`
	Vendor              string            `json:"vendor"`
	HardwareConcurrency int               `json:"hardwareConcurrency"`
	DeviceMemory        int               `json:"deviceMemory"`
	ColorDepth          int               `json:"colorDepth"`
	WebGLVendor         string            `json:"webglVendor,omitempty"`
	WebGLRenderer       string            `json:"webglRenderer,omitempty"`
	CanvasNoise         float64           `json:"canvasNoise,omitempty"`
	AudioNoise          float64           `json:"audioNoise,omitempty"`
	Fonts               []string          `json:"fonts,omitempty"`
	DoNotTrack          bool              `json:"doNotTrack"`
	Headers             map[string]string `json:"headers,omitempty"`
}

// BehaviorProfile holds the synthetic interaction timing of an instance.
type BehaviorProfile struct {
	TypingDelayMin  time.Duration `json:"typingDelayMin"`
	TypingDelayMax  time.Duration `json:"typingDelayMax"`
	ClickDelay      time.Duration `json:"clickDelay"`
	ScrollDelay     time.Duration `json:"scrollDelay"`
	NavigationDelay time.Duration `json:"navigationDelay"`
	MouseSpeed      float64       `json:"mouseSpeed"`
	ReadingSpeedWPM int           `json:"readingSpeedWpm"`
}

// Profile is the full synthetic identity used to seed or rotate an instance.
type Profile struct {
	ID          string          `json:"id"`
	Fingerprint Fingerprint     `json:"fingerprint"`
	Viewport    Viewport        `json:"viewport"`
	Locale      string          `json:"locale"`
	Timezone    string          `json:"timezone"`
	Behavior    BehaviorProfile `json:"behavior"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// ProfileOverrides replaces generated profile fields when set.
type ProfileOverrides struct {
	UserAgent string    `json:"userAgent,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	Viewport  *Viewport `json:"viewport,omitempty"`
}

// Capabilities declares what an instance was launched to support.
type Capabilities struct {
	Headless   bool `json:"headless"`
	Stealth    bool `json:"stealth"`
	Mobile     bool `json:"mobile"`
	JavaScript bool `json:"javascript"`
	Images     bool `json:"images"`
	Proxy      bool `json:"proxy"`
}

// Performance tracks how well an instance has served its jobs.
// Rates are percentages in [0,100].
type Performance struct {
	AvgPageLoadTime time.Duration `json:"avgPageLoadTime"`
	ErrorRate       float64       `json:"errorRate"`
	SuccessRate     float64       `json:"successRate"`
	JobsCompleted   int64         `json:"jobsCompleted"`
	JobsFailed      int64         `json:"jobsFailed"`
}

// ResourceUsage is the live resource footprint of an instance.
type ResourceUsage struct {
	MemoryMB    float64 `json:"memoryMb"`
	CPUPercent  float64 `json:"cpuPercent"`
	OpenTabs    int     `json:"openTabs"`
	Connections int     `json:"connections"`
}

// ProxyConfig holds proxy settings assigned to an instance.
type ProxyConfig struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
}

// BrowserInstance is one browser process/context tracked by the pool.
// It is owned by exactly one node; a busy instance always carries CurrentJob.
type BrowserInstance struct {
	ID              string        `json:"id"`
	Status          BrowserStatus `json:"status"`
	BrowserType     BrowserType   `json:"browserType"`
	NodeID          string        `json:"nodeId"`
	Profile         Profile       `json:"profile"`
	CreatedAt       time.Time     `json:"createdAt"`
	LastUsed        time.Time     `json:"lastUsed"`
	UsageCount      int64         `json:"usageCount"`
	SessionDuration time.Duration `json:"sessionDuration"`
	CurrentJob      *JobContext   `json:"currentJob,omitempty"`
	Performance     Performance   `json:"performance"`
	Resources       ResourceUsage `json:"resources"`
	Capabilities    Capabilities  `json:"capabilities"`
	Proxy           *ProxyConfig  `json:"proxy,omitempty"`
}

// Clone returns a copy that can be handed to callers without sharing
// mutable state with the pool.
func (b *BrowserInstance) Clone() *BrowserInstance {
	if b == nil {
		return nil
	}
	c := *b
	if b.CurrentJob != nil {
		c.CurrentJob = b.CurrentJob.Clone()
	}
	if b.Proxy != nil {
		p := *b.Proxy
		c.Proxy = &p
	}
	if b.Profile.Fingerprint.Headers != nil {
		c.Profile.Fingerprint.Headers = make(map[string]string, len(b.Profile.Fingerprint.Headers))
		for k, v := range b.Profile.Fingerprint.Headers {
			c.Profile.Fingerprint.Headers[k] = v
		}
	}
	return &c
}
