package types

import "time"

// JobRequirements describes what a job needs from a browser instance.
type JobRequirements struct {
	BrowserType BrowserType   `json:"browserType,omitempty"`
	Headless    bool          `json:"headless,omitempty"`
	Stealth     bool          `json:"stealth,omitempty"`
	Mobile      bool          `json:"mobile,omitempty"`
	Region      string        `json:"region,omitempty"`
	Proxy       bool          `json:"proxy,omitempty"`
	JavaScript  bool          `json:"javascript,omitempty"`
	Images      bool          `json:"images,omitempty"`
	MinMemoryMB float64       `json:"minMemoryMb,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Capabilities returns the capability set an instance launched for these
// requirements should declare.
func (r JobRequirements) Capabilities() Capabilities {
	return Capabilities{
		Headless:   r.Headless,
		Stealth:    r.Stealth,
		Mobile:     r.Mobile,
		JavaScript: r.JavaScript,
		Images:     r.Images,
		Proxy:      r.Proxy,
	}
}

// JobContext is one unit of scraping work needing a browser.
type JobContext struct {
	ID                string            `json:"id"`
	Type              string            `json:"type,omitempty"`
	Priority          Priority          `json:"priority"`
	Requirements      JobRequirements   `json:"requirements"`
	EnqueuedAt        time.Time         `json:"enqueuedAt"`
	StartedAt         time.Time         `json:"startedAt,omitempty"`
	EstimatedDuration time.Duration     `json:"estimatedDuration,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *JobContext) Clone() *JobContext {
	if j == nil {
		return nil
	}
	c := *j
	if j.Metadata != nil {
		c.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// JobResult is the outcome a dispatcher reports when releasing a browser.
type JobResult struct {
	Success      bool          `json:"success"`
	PageLoadTime time.Duration `json:"pageLoadTime,omitempty"`
	Error        string        `json:"error,omitempty"`
}
