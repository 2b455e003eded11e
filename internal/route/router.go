package route

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/solarbridge/solarbridge/internal/config"
)

// Egress identifies which path an outbound request takes.
type Egress int

const (
	// Direct egress goes straight to the open internet.
	Direct Egress = iota

	// Tunnel egress goes through the local SOCKS5 endpoint onto the
	// private overlay network.
	Tunnel
)

func (e Egress) String() string {
	if e == Tunnel {
		return "tunnel"
	}
	return "direct"
}

// Rule maps a destination host pattern to an egress path. Patterns are
// either exact hostnames or "*.domain" wildcards covering the domain and
// its subdomains.
type Rule struct {
	Host string
	Via  Egress
}

// Router classifies outbound requests by destination host and carries one
// transport per egress path. Routing is an explicit per-request decision;
// ambient proxy environment variables are deliberately ignored on both
// transports, so a misconfigured environment can neither leak destination
// traffic onto the direct path nor drag scrape traffic through the tunnel.
type Router struct {
	rules  []Rule
	direct http.RoundTripper
	tunnel http.RoundTripper
}

// New builds a Router whose tunnel path dials through the SOCKS5 endpoint
// at socksAddr. The rule set is consulted in order; unmatched hosts egress
// directly.
func New(socksAddr string, rules []Rule) (*Router, error) {
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("route: socks5 dialer for %q: %w", socksAddr, err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("route: socks5 dialer for %q does not support context dialing", socksAddr)
	}

	return &Router{
		rules: rules,
		direct: &http.Transport{
			Proxy:       nil, // explicit: never inherit HTTP(S)_PROXY
			DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
		},
		tunnel: &http.Transport{
			Proxy:       nil,
			DialContext: ctxDialer.DialContext,
		},
	}, nil
}

// FromConfig builds a Router from the routing configuration. When no rules
// are configured, a single rule sending destinationHost through the tunnel
// is derived; the one routing decision this agent cannot run without.
func FromConfig(cfg config.RoutingConfig, destinationHost string) (*Router, error) {
	var rules []Rule
	for _, r := range cfg.Rules {
		via := Direct
		if r.Via == "tunnel" {
			via = Tunnel
		}
		rules = append(rules, Rule{Host: r.Host, Via: via})
	}
	if len(rules) == 0 {
		rules = []Rule{{Host: destinationHost, Via: Tunnel}}
	}
	return New(cfg.SocksAddress, rules)
}

// Route returns the egress path for host. First matching rule wins; no
// match means Direct. The decision is deterministic: same host and rule
// set, same classification.
func (r *Router) Route(host string) Egress {
	host = strings.ToLower(stripPort(host))
	for _, rule := range r.rules {
		if matchHost(rule.Host, host) {
			return rule.Via
		}
	}
	return Direct
}

// Transport returns a RoundTripper that routes each request according to
// its destination host.
func (r *Router) Transport() http.RoundTripper {
	return &routingTransport{router: r}
}

// Client returns an http.Client over the routing transport with the given
// overall timeout.
func (r *Router) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: r.Transport(), Timeout: timeout}
}

type routingTransport struct {
	router *Router
}

func (t *routingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.router.Route(req.URL.Hostname()) == Tunnel {
		return t.router.tunnel.RoundTrip(req)
	}
	return t.router.direct.RoundTrip(req)
}

// matchHost reports whether host matches pattern. "*.domain" covers the
// bare domain and all subdomains; anything else is an exact match.
func matchHost(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return host == pattern
}

// stripPort removes a :port suffix if present.
func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
