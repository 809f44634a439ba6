// Package fingerprint generates synthetic browser profiles used to seed new
// instances and to rotate the identity of existing ones.
package fingerprint

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rorqualx/browserfarm/internal/config"
	"github.com/Rorqualx/browserfarm/internal/types"
)

// Generator produces profiles. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock sets the clock used to stamp GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a generator drawing from rng. A nil rng is seeded
// from the current time.
func NewGenerator(rng *rand.Rand, opts ...Option) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	g := &Generator{rng: rng, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds a profile for an instance of browser serving jobs with req.
// When anti-detection is disabled the profile is a fixed baseline; otherwise
// every enabled signal is randomized. Overrides are applied last.
func (g *Generator) Generate(browser types.BrowserType, req types.JobRequirements, anti config.AntiDetection, overrides *types.ProfileOverrides) types.Profile {
	if browser == "" {
		browser = types.BrowserChrome
	}

	g.mu.Lock()
	var p types.Profile
	if anti.Enabled {
		p = g.randomized(browser, req.Mobile, anti)
	} else {
		p = baseline(browser, req.Mobile)
	}
	g.mu.Unlock()

	p.ID = uuid.NewString()
	p.GeneratedAt = g.now()
	applyOverrides(&p, overrides)
	return p
}

// Rotate returns a fresh identity that keeps the form factor of current.
func (g *Generator) Rotate(current types.Profile, browser types.BrowserType, anti config.AntiDetection) types.Profile {
	req := types.JobRequirements{Mobile: current.Viewport.IsMobile}
	next := g.Generate(browser, req, anti, nil)
	if !anti.Enabled {
		// Baseline profiles are identical; keep the locale the instance already had.
		next.Locale = current.Locale
		next.Timezone = current.Timezone
	}
	return next
}

func baseline(browser types.BrowserType, mobile bool) types.Profile {
	ua := agentsFor(browser, mobile)[0]
	vp := desktopViewports[0]
	if mobile {
		vp = mobileViewports[0]
	}
	lz := locales[0]
	return types.Profile{
		Fingerprint: types.Fingerprint{
			UserAgent:           ua.ua,
			Platform:            ua.platform,
			Vendor:              ua.vendor,
			HardwareConcurrency: 8,
			DeviceMemory:        8,
			ColorDepth:          24,
		},
		Viewport: vp,
		Locale:   lz.locale,
		Timezone: lz.timezone,
		Behavior: DefaultBehavior(),
	}
}

// randomized must be called with g.mu held.
func (g *Generator) randomized(browser types.BrowserType, mobile bool, anti config.AntiDetection) types.Profile {
	agents := agentsFor(browser, mobile)
	ua := agents[g.rng.Intn(len(agents))]

	var vp types.Viewport
	if mobile {
		vp = mobileViewports[g.rng.Intn(len(mobileViewports))]
	} else {
		vp = desktopViewports[g.rng.Intn(len(desktopViewports))]
	}
	lz := locales[g.rng.Intn(len(locales))]

	fp := types.Fingerprint{
		UserAgent:           ua.ua,
		Platform:            ua.platform,
		Vendor:              ua.vendor,
		HardwareConcurrency: cpuCores[g.rng.Intn(len(cpuCores))],
		DeviceMemory:        deviceMemory[g.rng.Intn(len(deviceMemory))],
		ColorDepth:          24,
		Fonts:               g.pickFonts(),
	}
	if anti.RequestRandomization {
		fp.DoNotTrack = g.rng.Intn(4) == 0
	}
	if anti.WebGLFingerprinting {
		pair := webglPairs[g.rng.Intn(len(webglPairs))]
		fp.WebGLVendor, fp.WebGLRenderer = pair[0], pair[1]
	}
	if anti.CanvasFingerprinting {
		fp.CanvasNoise = 0.0001 + g.rng.Float64()*0.0009
	}
	if anti.AudioFingerprinting {
		fp.AudioNoise = 0.00001 + g.rng.Float64()*0.00009
	}
	if anti.HeaderSpoofing {
		fp.Headers = map[string]string{"Accept-Language": lz.accept}
		if ua.chPlat != "" {
			fp.Headers["Sec-CH-UA-Platform"] = ua.chPlat
			if mobile {
				fp.Headers["Sec-CH-UA-Mobile"] = "?1"
			} else {
				fp.Headers["Sec-CH-UA-Mobile"] = "?0"
			}
		}
		if fp.DoNotTrack {
			fp.Headers["DNT"] = "1"
		}
	}

	behavior := DefaultBehavior()
	if anti.BehaviorMimicking {
		behavior = g.behavior()
	}

	return types.Profile{
		Fingerprint: fp,
		Viewport:    vp,
		Locale:      lz.locale,
		Timezone:    lz.timezone,
		Behavior:    behavior,
	}
}

// pickFonts returns a random subset of the font pool in stable order.
func (g *Generator) pickFonts() []string {
	n := 6 + g.rng.Intn(len(fontPool)-6+1)
	idx := g.rng.Perm(len(fontPool))[:n]
	sort.Ints(idx)
	fonts := make([]string, n)
	for i, j := range idx {
		fonts[i] = fontPool[j]
	}
	return fonts
}

// agentsFor falls back to Chrome when a browser has no entries for the form factor.
func agentsFor(browser types.BrowserType, mobile bool) []uaEntry {
	table := desktopAgents
	if mobile {
		table = mobileAgents
	}
	if agents, ok := table[browser]; ok && len(agents) > 0 {
		return agents
	}
	return table[types.BrowserChrome]
}

func applyOverrides(p *types.Profile, o *types.ProfileOverrides) {
	if o == nil {
		return
	}
	if o.UserAgent != "" {
		p.Fingerprint.UserAgent = o.UserAgent
	}
	if o.Platform != "" {
		p.Fingerprint.Platform = o.Platform
	}
	if o.Locale != "" {
		p.Locale = o.Locale
	}
	if o.Timezone != "" {
		p.Timezone = o.Timezone
	}
	if o.Viewport != nil {
		p.Viewport = *o.Viewport
	}
}
