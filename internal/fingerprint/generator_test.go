package fingerprint

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/browserfarm/internal/config"
	"github.com/Rorqualx/browserfarm/internal/types"
)

func allEnabled() config.AntiDetection {
	return config.DefaultPoolConfiguration().AntiDetection
}

func TestGenerateBaselineWhenDisabled(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(1)))

	a := g.Generate(types.BrowserChrome, types.JobRequirements{}, config.AntiDetection{}, nil)
	b := g.Generate(types.BrowserChrome, types.JobRequirements{}, config.AntiDetection{}, nil)

	if a.Fingerprint.UserAgent != b.Fingerprint.UserAgent {
		t.Errorf("Expected identical baseline user agents, got %q and %q", a.Fingerprint.UserAgent, b.Fingerprint.UserAgent)
	}
	if a.Fingerprint.CanvasNoise != 0 || a.Fingerprint.WebGLVendor != "" {
		t.Error("Expected no fingerprint noise when anti-detection is disabled")
	}
	if a.Behavior != DefaultBehavior() {
		t.Errorf("Expected default behavior, got %+v", a.Behavior)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Error("Expected unique profile ids")
	}
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g1 := NewGenerator(rand.New(rand.NewSource(42)), WithClock(func() time.Time { return fixed }))
	g2 := NewGenerator(rand.New(rand.NewSource(42)), WithClock(func() time.Time { return fixed }))

	for i := 0; i < 10; i++ {
		a := g1.Generate(types.BrowserChrome, types.JobRequirements{}, allEnabled(), nil)
		b := g2.Generate(types.BrowserChrome, types.JobRequirements{}, allEnabled(), nil)
		if a.Fingerprint.UserAgent != b.Fingerprint.UserAgent || a.Viewport != b.Viewport || a.Locale != b.Locale {
			t.Fatalf("Expected same seed to produce same profile at iteration %d", i)
		}
		if !a.GeneratedAt.Equal(fixed) {
			t.Errorf("Expected GeneratedAt from injected clock, got %v", a.GeneratedAt)
		}
	}
}

func TestGenerateMobileViewport(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(7)))
	for _, anti := range []config.AntiDetection{{}, allEnabled()} {
		p := g.Generate(types.BrowserChrome, types.JobRequirements{Mobile: true}, anti, nil)
		if !p.Viewport.IsMobile || !p.Viewport.HasTouch {
			t.Errorf("Expected mobile viewport, got %+v", p.Viewport)
		}
		if !strings.Contains(p.Fingerprint.UserAgent, "Mobile") {
			t.Errorf("Expected mobile user agent, got %q", p.Fingerprint.UserAgent)
		}
	}
}

func TestGenerateRespectsFeatureToggles(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(3)))
	anti := config.AntiDetection{Enabled: true}

	p := g.Generate(types.BrowserChrome, types.JobRequirements{}, anti, nil)
	if p.Fingerprint.WebGLVendor != "" || p.Fingerprint.CanvasNoise != 0 || p.Fingerprint.AudioNoise != 0 {
		t.Error("Expected no WebGL/canvas/audio signals when their toggles are off")
	}
	if p.Fingerprint.Headers != nil {
		t.Error("Expected no spoofed headers when header spoofing is off")
	}

	p = g.Generate(types.BrowserChrome, types.JobRequirements{}, allEnabled(), nil)
	if p.Fingerprint.WebGLVendor == "" || p.Fingerprint.CanvasNoise <= 0 || p.Fingerprint.AudioNoise <= 0 {
		t.Errorf("Expected WebGL/canvas/audio signals, got %+v", p.Fingerprint)
	}
	if p.Fingerprint.Headers["Accept-Language"] == "" {
		t.Error("Expected Accept-Language header when header spoofing is on")
	}
}

func TestGeneratePlatformMatchesAgent(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(11)))
	for i := 0; i < 50; i++ {
		p := g.Generate(types.BrowserChrome, types.JobRequirements{}, allEnabled(), nil)
		ua, platform := p.Fingerprint.UserAgent, p.Fingerprint.Platform
		switch {
		case strings.Contains(ua, "Windows"):
			if platform != "Win32" {
				t.Errorf("Windows agent with platform %q", platform)
			}
		case strings.Contains(ua, "Macintosh"):
			if platform != "MacIntel" {
				t.Errorf("Mac agent with platform %q", platform)
			}
		case strings.Contains(ua, "Linux"):
			if !strings.HasPrefix(platform, "Linux") {
				t.Errorf("Linux agent with platform %q", platform)
			}
		}
	}
}

func TestGenerateBrowserFallback(t *testing.T) {
	g := NewGenerator(nil)
	p := g.Generate(types.BrowserEdge, types.JobRequirements{Mobile: true}, config.AntiDetection{}, nil)
	if !strings.Contains(p.Fingerprint.UserAgent, "Android") {
		t.Errorf("Expected Chrome mobile fallback for mobile Edge, got %q", p.Fingerprint.UserAgent)
	}

	p = g.Generate("", types.JobRequirements{}, config.AntiDetection{}, nil)
	if !strings.Contains(p.Fingerprint.UserAgent, "Chrome") {
		t.Errorf("Expected Chrome for empty browser type, got %q", p.Fingerprint.UserAgent)
	}
}

func TestGenerateOverrides(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(5)))
	vp := types.Viewport{Width: 800, Height: 600, DeviceScaleFactor: 1}
	p := g.Generate(types.BrowserChrome, types.JobRequirements{}, allEnabled(), &types.ProfileOverrides{
		UserAgent: "custom-agent",
		Locale:    "pt-BR",
		Timezone:  "America/Sao_Paulo",
		Viewport:  &vp,
	})

	if p.Fingerprint.UserAgent != "custom-agent" {
		t.Errorf("Expected overridden user agent, got %q", p.Fingerprint.UserAgent)
	}
	if p.Locale != "pt-BR" || p.Timezone != "America/Sao_Paulo" {
		t.Errorf("Expected overridden locale/timezone, got %s/%s", p.Locale, p.Timezone)
	}
	if p.Viewport != vp {
		t.Errorf("Expected overridden viewport, got %+v", p.Viewport)
	}
}

func TestRotateKeepsFormFactor(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(9)))
	orig := g.Generate(types.BrowserChrome, types.JobRequirements{Mobile: true}, allEnabled(), nil)

	next := g.Rotate(orig, types.BrowserChrome, allEnabled())
	if next.ID == orig.ID {
		t.Error("Expected rotated profile to get a new id")
	}
	if !next.Viewport.IsMobile {
		t.Error("Expected rotated profile to stay mobile")
	}
}

func TestBehaviorRanges(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(13)))
	for i := 0; i < 100; i++ {
		g.mu.Lock()
		b := g.behavior()
		g.mu.Unlock()

		if b.TypingDelayMin > b.TypingDelayMax {
			t.Fatalf("Typing min %v above max %v", b.TypingDelayMin, b.TypingDelayMax)
		}
		if b.ClickDelay < 100*time.Millisecond || b.ClickDelay > 300*time.Millisecond {
			t.Errorf("Click delay %v out of range", b.ClickDelay)
		}
		if b.NavigationDelay < 500*time.Millisecond || b.NavigationDelay > time.Second {
			t.Errorf("Navigation delay %v out of range", b.NavigationDelay)
		}
		if b.MouseSpeed < 0.7 || b.MouseSpeed > 1.3 {
			t.Errorf("Mouse speed %v out of range", b.MouseSpeed)
		}
		if b.ReadingSpeedWPM < 180 || b.ReadingSpeedWPM > 300 {
			t.Errorf("Reading speed %d out of range", b.ReadingSpeedWPM)
		}
	}
}

func TestRandomDurationInvertedRange(t *testing.T) {
	g := NewGenerator(rand.New(rand.NewSource(1)))
	if got := g.randomDuration(timingRange{500, 100}); got != 500*time.Millisecond {
		t.Errorf("Expected inverted range to return min, got %v", got)
	}
}
