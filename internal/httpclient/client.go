// Package httpclient builds the HTTP client used to talk to the backup
// server, honoring the HTTP, HTTPS and SOCKS5 proxy settings of the agent.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/config"
	"golang.org/x/net/proxy"
)

// DefaultTimeout bounds a single request to the server.
const DefaultTimeout = 30 * time.Second

// Options configures the HTTP client.
type Options struct {
	Timeout     time.Duration
	ProxyConfig *config.ProxyConfig
	// UserAgent is sent with every request when set.
	UserAgent string
}

// New creates an HTTP client. The client carries a cookie jar because the
// server keeps the login session in a cookie.
func New(opts Options) (*http.Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if opts.ProxyConfig != nil && opts.ProxyConfig.HasProxy() {
		if err := configureProxy(transport, opts.ProxyConfig); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	var rt http.RoundTripper = transport
	if opts.UserAgent != "" {
		rt = &userAgentTransport{agent: opts.UserAgent, next: transport}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: rt,
		Jar:       jar,
	}, nil
}

// NewWithConfig creates an HTTP client using the proxy settings of cfg.
func NewWithConfig(cfg *config.ScheduleConfig, timeout time.Duration, userAgent string) (*http.Client, error) {
	var proxyConfig *config.ProxyConfig
	if cfg != nil {
		proxyConfig = cfg.GetProxyConfig()
	}
	return New(Options{
		Timeout:     timeout,
		ProxyConfig: proxyConfig,
		UserAgent:   userAgent,
	})
}

type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(req)
}

// configureProxy installs the proxy on transport. SOCKS5 wins over HTTP proxies.
func configureProxy(transport *http.Transport, cfg *config.ProxyConfig) error {
	if cfg.SOCKS5Proxy != "" {
		return configureSocks5Proxy(transport, cfg.SOCKS5Proxy, cfg.NoProxy)
	}
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req, cfg)
	}
	return nil
}

func configureSocks5Proxy(transport *http.Transport, socks5URL, noProxy string) error {
	proxyURL, err := url.Parse(socks5URL)
	if err != nil {
		return fmt.Errorf("parse SOCKS5 proxy URL: %w", err)
	}

	var auth *proxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
	}

	direct := transport.DialContext
	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return fmt.Errorf("create SOCKS5 dialer: %w", err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return fmt.Errorf("SOCKS5 dialer does not support contexts")
	}

	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if shouldBypassProxy(addr, noProxy) {
			return direct(ctx, network, addr)
		}
		return ctxDialer.DialContext(ctx, network, addr)
	}
	return nil
}

func proxyFunc(req *http.Request, cfg *config.ProxyConfig) (*url.URL, error) {
	if shouldBypassProxy(req.URL.Host, cfg.NoProxy) {
		return nil, nil
	}

	raw := cfg.HTTPProxy
	if req.URL.Scheme == "https" && cfg.HTTPSProxy != "" {
		raw = cfg.HTTPSProxy
	}
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}

// shouldBypassProxy matches host against a comma separated no_proxy list.
// Entries match exactly, as a ".suffix", as a parent domain, or "*".
func shouldBypassProxy(host, noProxy string) bool {
	if noProxy == "" {
		return false
	}

	hostOnly, _, err := net.SplitHostPort(host)
	if err != nil {
		hostOnly = host
	}
	hostOnly = strings.ToLower(hostOnly)

	for _, entry := range strings.Split(noProxy, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
			continue
		case entry == "*", hostOnly == entry:
			return true
		case strings.HasPrefix(entry, ".") && strings.HasSuffix(hostOnly, entry):
			return true
		case strings.HasSuffix(hostOnly, "."+entry):
			return true
		}
	}
	return false
}

// ProxyInfo describes the configured proxy with credentials masked.
func ProxyInfo(cfg *config.ProxyConfig) string {
	if cfg == nil || !cfg.HasProxy() {
		return "none"
	}

	var parts []string
	if cfg.SOCKS5Proxy != "" {
		parts = append(parts, "socks5="+maskProxyURL(cfg.SOCKS5Proxy))
	}
	if cfg.HTTPProxy != "" {
		parts = append(parts, "http="+maskProxyURL(cfg.HTTPProxy))
	}
	if cfg.HTTPSProxy != "" {
		parts = append(parts, "https="+maskProxyURL(cfg.HTTPSProxy))
	}
	if cfg.NoProxy != "" {
		parts = append(parts, "no_proxy="+cfg.NoProxy)
	}
	return strings.Join(parts, " ")
}

func maskProxyURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	return u.String()
}
