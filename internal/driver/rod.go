package driver

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/browserfarm/internal/proxy"
	"github.com/Rorqualx/browserfarm/internal/types"
)

const (
	rodCloseTimeout = 10 * time.Second
	bytesPerMB      = 1024 * 1024
)

// RodConfig configures the Chrome launcher.
type RodConfig struct {
	BrowserPath      string
	Headless         bool
	IgnoreCertErrors bool
}

type rodEntry struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page // warm page carrying the profile
	stopAuth   func()
	lastTask   float64 // cumulative TaskDuration seconds at lastSample
	lastSample time.Time
}

// Rod drives real Chrome processes over CDP, one process per instance.
type Rod struct {
	cfg RodConfig

	mu      sync.Mutex
	entries map[string]*rodEntry
}

// NewRod creates a Chrome driver.
func NewRod(cfg RodConfig) *Rod {
	return &Rod{
		cfg:     cfg,
		entries: make(map[string]*rodEntry),
	}
}

// createLauncher builds a launcher for one instance.
// Launchers can only launch once, so every instance gets a fresh one.
func (d *Rod) createLauncher(spec LaunchSpec) *launcher.Launcher {
	l := launcher.New()

	if d.cfg.BrowserPath != "" {
		l = l.Bin(d.cfg.BrowserPath)
	}

	if d.cfg.Headless || spec.Capabilities.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default; disable it explicitly for Xvfb displays.
		l = l.Headless(false)
	}

	// Container security flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	if spec.Proxy != nil && spec.Proxy.URL != "" {
		l = l.Set("proxy-server", stripCredentials(spec.Proxy.URL))
		log.Debug().Str("proxy", proxy.Redact(spec.Proxy.URL)).Msg("Browser proxy configured")
	}

	// Always prevent WebRTC IP leaks
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	// Anti-detection flags
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees,WebRtcHideLocalIpsWithMdns")
	l = l.Set("enable-features", "NetworkService,NetworkServiceInProcess")

	// Software WebGL so the GPU fingerprint is never empty
	l = l.Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader").
		Set("enable-webgl").
		Set("enable-webgl2")

	if d.cfg.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
		l = l.Set("ignore-ssl-errors")
	}

	if lang := spec.Profile.Fingerprint.Headers["Accept-Language"]; lang != "" {
		l = l.Set("accept-lang", lang)
	} else if spec.Profile.Locale != "" {
		l = l.Set("accept-lang", spec.Profile.Locale)
	}

	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen")

	if vp := spec.Profile.Viewport; vp.Width > 0 && vp.Height > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", vp.Width, vp.Height))
	}

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote").
		Set("safebrowsing-disable-auto-update")

	l = l.Set("js-flags", "--max-old-space-size=256").
		Set("disable-ipc-flooding-protection").
		Set("disable-renderer-backgrounding")

	l = l.Set("disable-gpu-sandbox")

	// Do not use --disable-gpu on ARM; it breaks SwiftShader WebGL.
	if isARM() {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

// Launch implements Driver.
func (d *Rod) Launch(ctx context.Context, spec LaunchSpec) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	l := d.createLauncher(spec).Context(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	if d.cfg.IgnoreCertErrors {
		if err := browser.IgnoreCertErrors(true); err != nil {
			log.Warn().Err(err).Msg("Failed to set IgnoreCertErrors")
		}
	}

	entry := &rodEntry{launcher: l, browser: browser, stopAuth: func() {}}
	if err := d.prepare(ctx, entry, spec); err != nil {
		d.teardown(entry)
		return err
	}

	d.mu.Lock()
	d.entries[spec.InstanceID] = entry
	d.mu.Unlock()

	log.Debug().
		Str("instance_id", spec.InstanceID).
		Str("url", controlURL).
		Msg("Browser spawned successfully")
	return nil
}

// prepare opens the warm page and applies the instance profile to it.
func (d *Rod) prepare(ctx context.Context, entry *rodEntry, spec LaunchSpec) error {
	var page *rod.Page
	var err error
	if spec.Capabilities.Stealth {
		page, err = stealth.Page(entry.browser)
	} else {
		page, err = entry.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	entry.page = page
	page = page.Context(ctx)

	p := spec.Profile
	if err := applyProfile(page, spec.InstanceID, p); err != nil {
		return err
	}

	if spec.Proxy != nil && spec.Proxy.Username != "" {
		stop, err := handleProxyAuth(entry.page, spec.Proxy)
		if err != nil {
			return fmt.Errorf("failed to configure proxy auth: %w", err)
		}
		entry.stopAuth = stop
	}

	if err := (proto.PerformanceEnable{}).Call(page); err != nil {
		log.Warn().Err(err).Msg("Failed to enable performance domain")
	}

	res, err := page.Eval(`() => ({userAgent: navigator.userAgent, webdriver: navigator.webdriver === true})`)
	if err != nil {
		return fmt.Errorf("failed to verify page: %w", err)
	}
	var check gson.JSON = res.Value
	if check.Get("webdriver").Bool() {
		log.Warn().Str("instance_id", spec.InstanceID).Msg("navigator.webdriver is exposed")
	}
	if ua := check.Get("userAgent").Str(); p.Fingerprint.UserAgent != "" && ua != p.Fingerprint.UserAgent {
		log.Warn().
			Str("instance_id", spec.InstanceID).
			Str("expected", p.Fingerprint.UserAgent).
			Str("actual", ua).
			Msg("User agent override not applied")
	}
	return nil
}

// ApplyProfile implements Profiler.
func (d *Rod) ApplyProfile(ctx context.Context, instanceID string, p types.Profile) error {
	entry := d.entry(instanceID)
	if entry == nil {
		return types.ErrInstanceNotFound
	}
	return applyProfile(entry.page.Context(ctx), instanceID, p)
}

// applyProfile pushes the identity of p onto page.
func applyProfile(page *rod.Page, instanceID string, p types.Profile) error {
	if p.Fingerprint.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{
			UserAgent:      p.Fingerprint.UserAgent,
			AcceptLanguage: p.Locale,
			Platform:       p.Fingerprint.Platform,
		}).Call(page); err != nil {
			return fmt.Errorf("failed to set user agent: %w", err)
		}
	}
	if p.Viewport.Width > 0 && p.Viewport.Height > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             p.Viewport.Width,
			Height:            p.Viewport.Height,
			DeviceScaleFactor: p.Viewport.DeviceScaleFactor,
			Mobile:            p.Viewport.IsMobile,
		}).Call(page); err != nil {
			return fmt.Errorf("failed to set viewport: %w", err)
		}
	}
	if p.Viewport.HasTouch {
		if err := (proto.EmulationSetTouchEmulationEnabled{Enabled: true}).Call(page); err != nil {
			log.Warn().Err(err).Str("instance_id", instanceID).Msg("Failed to enable touch emulation")
		}
	}
	if p.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: p.Timezone}).Call(page); err != nil {
			log.Warn().Err(err).Str("timezone", p.Timezone).Msg("Failed to set timezone")
		}
	}
	return nil
}

// Close implements Driver. Closing an unknown instance is a no-op.
func (d *Rod) Close(ctx context.Context, instanceID string) error {
	d.mu.Lock()
	entry, ok := d.entries[instanceID]
	delete(d.entries, instanceID)
	d.mu.Unlock()
	if !ok {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.teardown(entry)
	}()

	timer := time.NewTimer(rodCloseTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		entry.launcher.Kill()
		return ctx.Err()
	case <-timer.C:
		entry.launcher.Kill()
		log.Warn().Str("instance_id", instanceID).Msg("Browser close timed out, killed process")
		return nil
	}
}

func (d *Rod) teardown(entry *rodEntry) {
	entry.stopAuth()
	if err := entry.browser.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing browser")
	}
	entry.launcher.Kill()
	entry.launcher.Cleanup()
}

// Trim implements Trimmer: closes every tab but the warm page and forces a GC.
func (d *Rod) Trim(ctx context.Context, instanceID string) error {
	entry := d.entry(instanceID)
	if entry == nil {
		return types.ErrInstanceNotFound
	}

	pages, err := entry.browser.Context(ctx).Pages()
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}
	for _, pg := range pages {
		if pg.TargetID == entry.page.TargetID {
			continue
		}
		if err := pg.Close(); err != nil {
			log.Debug().Err(err).Str("instance_id", instanceID).Msg("Failed to close extra tab")
		}
	}
	return (proto.HeapProfilerCollectGarbage{}).Call(entry.page.Context(ctx))
}

// Sample implements telemetry.Provider from CDP performance metrics.
func (d *Rod) Sample(ctx context.Context, instanceID string) (types.ResourceUsage, error) {
	entry := d.entry(instanceID)
	if entry == nil {
		return types.ResourceUsage{}, types.ErrInstanceNotFound
	}

	metrics, err := (proto.PerformanceGetMetrics{}).Call(entry.page.Context(ctx))
	if err != nil {
		return types.ResourceUsage{}, fmt.Errorf("failed to read performance metrics: %w", err)
	}

	var usage types.ResourceUsage
	var task float64
	for _, m := range metrics.Metrics {
		switch m.Name {
		case "JSHeapUsedSize":
			usage.MemoryMB = m.Value / bytesPerMB
		case "TaskDuration":
			task = m.Value
		}
	}

	now := time.Now()
	d.mu.Lock()
	if !entry.lastSample.IsZero() {
		if elapsed := now.Sub(entry.lastSample).Seconds(); elapsed > 0 {
			usage.CPUPercent = (task - entry.lastTask) / elapsed * 100
		}
	}
	entry.lastTask = task
	entry.lastSample = now
	d.mu.Unlock()
	if usage.CPUPercent < 0 {
		usage.CPUPercent = 0
	} else if usage.CPUPercent > 100 {
		usage.CPUPercent = 100
	}

	if pages, err := entry.browser.Context(ctx).Pages(); err == nil {
		usage.OpenTabs = len(pages)
	}
	return usage, nil
}

// Shutdown closes every browser still tracked.
func (d *Rod) Shutdown(ctx context.Context) {
	d.mu.Lock()
	ids := make([]string, 0, len(d.entries))
	for id := range d.entries {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		if err := d.Close(ctx, id); err != nil {
			log.Warn().Err(err).Str("instance_id", id).Msg("Failed to close browser during shutdown")
		}
	}
}

func (d *Rod) entry(instanceID string) *rodEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries[instanceID]
}

// handleProxyAuth answers proxy auth challenges on page until the returned
// stop function is called. The proxy server itself is set at launch time.
func handleProxyAuth(page *rod.Page, p *types.ProxyConfig) (func(), error) {
	if err := (proto.FetchEnable{HandleAuthRequests: true}).Call(page); err != nil {
		return nil, err
	}

	listenerCtx, cancel := context.WithCancel(context.Background())
	pageWithCtx := page.Context(listenerCtx)

	go pageWithCtx.EachEvent(
		func(e *proto.FetchAuthRequired) {
			_ = proto.FetchContinueWithAuth{
				RequestID: e.RequestID,
				AuthChallengeResponse: &proto.FetchAuthChallengeResponse{
					Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
					Username: p.Username,
					Password: p.Password,
				},
			}.Call(page)
		},
		func(e *proto.FetchRequestPaused) {
			if e.ResponseStatusCode == nil {
				_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(page)
			}
		},
	)()

	log.Debug().Str("proxy", proxy.Redact(p.URL)).Msg("Proxy authentication handler installed")
	return cancel, nil
}

// stripCredentials removes userinfo; Chrome rejects credentials in --proxy-server.
func stripCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	return u.String()
}

func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
