// Package proxy hands out proxy settings to instances that require one.
package proxy

import (
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/types"
)

// Provider returns the proxy for the next instance, or nil when none is
// configured.
type Provider interface {
	Next() *types.ProxyConfig
}

// RoundRobin cycles through a static list of proxies.
type RoundRobin struct {
	proxies []types.ProxyConfig
	next    atomic.Uint64
}

// NewRoundRobin validates urls and builds a provider. Credentials embedded
// in a URL win over the shared username and password.
func NewRoundRobin(urls []string, username, password string) (*RoundRobin, error) {
	rr := &RoundRobin{proxies: make([]types.ProxyConfig, 0, len(urls))}
	for _, raw := range urls {
		if err := types.ValidateProxyURL(raw); err != nil {
			return nil, fmt.Errorf("proxy %s: %w", Redact(raw), err)
		}
		u, _ := url.Parse(raw)

		pc := types.ProxyConfig{Username: username, Password: password}
		if u.User != nil {
			pc.Username = u.User.Username()
			pc.Password, _ = u.User.Password()
			u.User = nil
		}
		pc.URL = u.String()
		rr.proxies = append(rr.proxies, pc)
	}

	if len(rr.proxies) > 0 {
		log.Info().Int("count", len(rr.proxies)).Msg("Proxy pool configured")
	}
	return rr, nil
}

// Next implements Provider.
func (r *RoundRobin) Next() *types.ProxyConfig {
	if len(r.proxies) == 0 {
		return nil
	}
	i := r.next.Add(1) - 1
	pc := r.proxies[i%uint64(len(r.proxies))]
	return &pc
}

// Len returns the number of configured proxies.
func (r *RoundRobin) Len() int {
	return len(r.proxies)
}

// Redact hides the password of a proxy URL for logging.
func Redact(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return "[invalid-proxy-url]"
	}

	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "REDACTED")
		}
	}
	return parsed.String()
}
