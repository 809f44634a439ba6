package fingerprint

import "github.com/Rorqualx/browserfarm/internal/types"

// uaEntry pairs a user agent with the navigator values that must agree with it.
type uaEntry struct {
	ua       string
	platform string
	vendor   string
	chPlat   string // sec-ch-ua-platform
}

var desktopAgents = map[types.BrowserType][]uaEntry{
	types.BrowserChrome: {
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", "Win32", "Google Inc.", `"Windows"`},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", "Win32", "Google Inc.", `"Windows"`},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", "MacIntel", "Google Inc.", `"macOS"`},
		{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", "Linux x86_64", "Google Inc.", `"Linux"`},
	},
	types.BrowserChromium: {
		{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chromium/124.0.0.0 Chrome/124.0.0.0 Safari/537.36", "Linux x86_64", "Google Inc.", `"Linux"`},
	},
	types.BrowserEdge: {
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.80", "Win32", "Google Inc.", `"Windows"`},
	},
	types.BrowserFirefox: {
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0", "Win32", "", ""},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:126.0) Gecko/20100101 Firefox/126.0", "MacIntel", "", ""},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0", "Linux x86_64", "", ""},
	},
	types.BrowserSafari: {
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15", "MacIntel", "Apple Computer, Inc.", ""},
	},
}

var mobileAgents = map[types.BrowserType][]uaEntry{
	types.BrowserChrome: {
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.6367.82 Mobile Safari/537.36", "Linux armv81", "Google Inc.", `"Android"`},
		{"Mozilla/5.0 (Linux; Android 13; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.6367.82 Mobile Safari/537.36", "Linux armv81", "Google Inc.", `"Android"`},
	},
	types.BrowserSafari: {
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Mobile/15E148 Safari/604.1", "iPhone", "Apple Computer, Inc.", ""},
	},
	types.BrowserFirefox: {
		{"Mozilla/5.0 (Android 14; Mobile; rv:126.0) Gecko/126.0 Firefox/126.0", "Linux armv81", "", ""},
	},
}

var desktopViewports = []types.Viewport{
	{Width: 1920, Height: 1080, DeviceScaleFactor: 1},
	{Width: 1536, Height: 864, DeviceScaleFactor: 1.25},
	{Width: 1440, Height: 900, DeviceScaleFactor: 2},
	{Width: 1366, Height: 768, DeviceScaleFactor: 1},
	{Width: 2560, Height: 1440, DeviceScaleFactor: 1},
	{Width: 1280, Height: 800, DeviceScaleFactor: 2},
}

var mobileViewports = []types.Viewport{
	{Width: 390, Height: 844, DeviceScaleFactor: 3, IsMobile: true, HasTouch: true},
	{Width: 412, Height: 915, DeviceScaleFactor: 2.625, IsMobile: true, HasTouch: true},
	{Width: 393, Height: 873, DeviceScaleFactor: 2.75, IsMobile: true, HasTouch: true},
	{Width: 360, Height: 800, DeviceScaleFactor: 3, IsMobile: true, HasTouch: true},
}

// localeZone keeps locale and timezone plausible together.
type localeZone struct {
	locale   string
	timezone string
	accept   string
}

var locales = []localeZone{
	{"en-US", "America/New_York", "en-US,en;q=0.9"},
	{"en-US", "America/Chicago", "en-US,en;q=0.9"},
	{"en-US", "America/Los_Angeles", "en-US,en;q=0.9"},
	{"en-GB", "Europe/London", "en-GB,en;q=0.9"},
	{"de-DE", "Europe/Berlin", "de-DE,de;q=0.9,en;q=0.8"},
	{"fr-FR", "Europe/Paris", "fr-FR,fr;q=0.9,en;q=0.8"},
	{"es-ES", "Europe/Madrid", "es-ES,es;q=0.9,en;q=0.8"},
	{"ja-JP", "Asia/Tokyo", "ja-JP,ja;q=0.9,en;q=0.8"},
}

var webglPairs = [][2]string{
	{"Intel Inc.", "Intel Iris OpenGL Engine"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Apple Inc.", "Apple M1"},
}

var fontPool = []string{
	"Arial", "Helvetica", "Times New Roman", "Courier New", "Verdana",
	"Georgia", "Trebuchet MS", "Tahoma", "Segoe UI", "Roboto",
	"Ubuntu", "DejaVu Sans", "Noto Sans", "Calibri", "Cambria",
}

var cpuCores = []int{4, 6, 8, 12, 16}

var deviceMemory = []int{4, 8, 16}
