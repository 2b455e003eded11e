package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval   = 5 * time.Second
	DefaultIterationTimeout = 60 * time.Second
	DefaultMaxFailures      = 3
	DefaultSessionFreshness = 60 * time.Second
	DefaultReloginInterval  = 2 * time.Hour
	DefaultPublishTimeout   = 10 * time.Second
	DefaultLoginURL         = "https://login.fronius.com"
)

// Metric identifiers recognized in the entities and xpath maps.
// Kept as plain strings here so the config package stays a leaf.
const (
	MetricProduction  = "pv_production"
	MetricConsumption = "house_consumption"
	MetricGrid        = "grid_flow"
)

// Config is the top-level agent configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Destination DestinationConfig `yaml:"destination"`
	Routing     RoutingConfig     `yaml:"routing"`
}

// AgentConfig holds the scheduling knobs for the scrape loop.
type AgentConfig struct {
	// ScrapeInterval is the fixed cadence of the extract+publish loop.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// IterationTimeout is the hard ceiling for one full iteration;
	// an iteration that exceeds it is abandoned and counted as a failure.
	IterationTimeout time.Duration `yaml:"iteration_timeout"`

	// MaxConsecutiveFailures is the number of failed iterations in a row
	// that triggers a forced session teardown-and-recreate.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// SessionFreshness is how long a confirmed-live session is trusted
	// before the next liveness probe.
	SessionFreshness time.Duration `yaml:"session_freshness"`

	// ReloginInterval forces a full relogin after this much time even if
	// the session still looks healthy (cookie/session hygiene).
	ReloginInterval time.Duration `yaml:"relogin_interval"`
}

// DashboardConfig describes the scraped dashboard and its browser session.
type DashboardConfig struct {
	// LoginURL is the login form page.
	LoginURL string `yaml:"login_url"`

	// SystemURL is the dashboard page holding the live readings.
	SystemURL string `yaml:"system_url"`

	// EmailEnv / PasswordEnv name the environment variables holding the
	// dashboard credentials. The values themselves never appear in config
	// files or logs.
	EmailEnv    string `yaml:"email_env"`
	PasswordEnv string `yaml:"password_env"`

	// Headless controls whether the browser runs without a display.
	Headless bool `yaml:"headless"`

	// BrowserProxyURL, when set, routes the browser's own traffic through
	// an HTTP proxy. This is independent of the publish-side routing rules.
	BrowserProxyURL string `yaml:"browser_proxy_url"`

	// ScreenshotDir, when set, enables on-failure screenshot dumps into
	// that directory.
	ScreenshotDir string `yaml:"screenshot_dir"`

	// XPath holds optional per-metric XPath overrides used by the
	// extractor's fallback strategy. Keys are metric identifiers.
	XPath map[string]string `yaml:"xpath"`
}

// Email returns the dashboard login email resolved from the environment.
func (d DashboardConfig) Email() string {
	if d.EmailEnv == "" {
		return ""
	}
	return os.Getenv(d.EmailEnv)
}

// Password returns the dashboard login password resolved from the environment.
func (d DashboardConfig) Password() string {
	if d.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(d.PasswordEnv)
}

// DestinationConfig describes the state-store API that receives readings.
type DestinationConfig struct {
	// BaseURL is the API root, e.g. "http://100.67.69.31:8123".
	BaseURL string `yaml:"base_url"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Timeout bounds each state update request.
	Timeout time.Duration `yaml:"timeout"`

	// Entities maps metric identifiers to destination entity IDs.
	Entities map[string]string `yaml:"entities"`
}

// Token returns the destination bearer token resolved from the environment.
func (d DestinationConfig) Token() string {
	if d.TokenEnv == "" {
		return ""
	}
	return os.Getenv(d.TokenEnv)
}

// RoutingConfig holds the egress routing rule set.
type RoutingConfig struct {
	// SocksAddress is the local SOCKS5 endpoint for tunneled egress
	// (host:port).
	SocksAddress string `yaml:"socks_address"`

	// Rules is the ordered rule set consulted per request; first match
	// wins, unmatched hosts use direct egress. When empty, a single rule
	// sending the destination host through the tunnel is derived at
	// startup.
	Rules []RouteRule `yaml:"rules"`
}

// RouteRule maps a destination host pattern to an egress path.
type RouteRule struct {
	// Host is an exact hostname or a "*." wildcard pattern.
	Host string `yaml:"host"`

	// Via is "direct" or "tunnel".
	Via string `yaml:"via"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a Config entirely from environment variables, for
// deployments that have no config file. Recognized variables:
//
//	SCRAPE_INTERVAL_SEC, ITERATION_TIMEOUT_SEC, MAX_CONSECUTIVE_FAILURES,
//	RELOGIN_MINUTES, LOGIN_URL, PV_SYSTEM_URL, EMAIL, PASSWORD, HEADLESS,
//	PROXY_URL, DEBUG_SCREENSHOT_DIR, XPATH_PROD, XPATH_CONS, XPATH_GRID,
//	HA_URL, HA_TOKEN, TUNNEL_SOCKS_ADDR
func FromEnv() (*Config, error) {
	cfg := defaults()

	if v := os.Getenv("SCRAPE_INTERVAL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: SCRAPE_INTERVAL_SEC: %w", err)
		}
		cfg.Agent.ScrapeInterval = time.Duration(sec) * time.Second
	}
	if v := os.Getenv("ITERATION_TIMEOUT_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: ITERATION_TIMEOUT_SEC: %w", err)
		}
		cfg.Agent.IterationTimeout = time.Duration(sec) * time.Second
	}
	if v := os.Getenv("MAX_CONSECUTIVE_FAILURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: MAX_CONSECUTIVE_FAILURES: %w", err)
		}
		cfg.Agent.MaxConsecutiveFailures = n
	}
	if v := os.Getenv("RELOGIN_MINUTES"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: RELOGIN_MINUTES: %w", err)
		}
		cfg.Agent.ReloginInterval = time.Duration(min) * time.Minute
	}

	if v := os.Getenv("LOGIN_URL"); v != "" {
		cfg.Dashboard.LoginURL = v
	}
	cfg.Dashboard.SystemURL = os.Getenv("PV_SYSTEM_URL")
	cfg.Dashboard.EmailEnv = "EMAIL"
	cfg.Dashboard.PasswordEnv = "PASSWORD"
	if v := os.Getenv("HEADLESS"); v == "0" || v == "false" || v == "False" {
		cfg.Dashboard.Headless = false
	}
	cfg.Dashboard.BrowserProxyURL = os.Getenv("PROXY_URL")
	cfg.Dashboard.ScreenshotDir = os.Getenv("DEBUG_SCREENSHOT_DIR")
	if v := os.Getenv("XPATH_PROD"); v != "" {
		cfg.Dashboard.XPath[MetricProduction] = v
	}
	if v := os.Getenv("XPATH_CONS"); v != "" {
		cfg.Dashboard.XPath[MetricConsumption] = v
	}
	if v := os.Getenv("XPATH_GRID"); v != "" {
		cfg.Dashboard.XPath[MetricGrid] = v
	}

	cfg.Destination.BaseURL = os.Getenv("HA_URL")
	cfg.Destination.TokenEnv = "HA_TOKEN"
	cfg.Routing.SocksAddress = os.Getenv("TUNNEL_SOCKS_ADDR")

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScrapeInterval:         DefaultScrapeInterval,
			IterationTimeout:       DefaultIterationTimeout,
			MaxConsecutiveFailures: DefaultMaxFailures,
			SessionFreshness:       DefaultSessionFreshness,
			ReloginInterval:        DefaultReloginInterval,
		},
		Dashboard: DashboardConfig{
			LoginURL: DefaultLoginURL,
			Headless: true,
			XPath:    map[string]string{},
		},
		Destination: DestinationConfig{
			Timeout: DefaultPublishTimeout,
			Entities: map[string]string{
				MetricProduction:  "sensor.pv_production",
				MetricConsumption: "sensor.pv_consumption",
				MetricGrid:        "sensor.grid_export",
			},
		},
	}
}

// validate checks required fields and structural constraints.
// Missing required configuration is fatal at startup and nowhere else.
func validate(cfg *Config) error {
	if cfg.Agent.ScrapeInterval <= 0 {
		return fmt.Errorf("agent.scrape_interval must be positive")
	}
	if cfg.Agent.IterationTimeout <= 0 {
		return fmt.Errorf("agent.iteration_timeout must be positive")
	}
	if cfg.Agent.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("agent.max_consecutive_failures must be positive")
	}

	if cfg.Dashboard.SystemURL == "" {
		return fmt.Errorf("dashboard.system_url is required")
	}
	if cfg.Dashboard.Email() == "" {
		return fmt.Errorf("dashboard credentials missing: email env %q is unset or empty", cfg.Dashboard.EmailEnv)
	}
	if cfg.Dashboard.Password() == "" {
		return fmt.Errorf("dashboard credentials missing: password env %q is unset or empty", cfg.Dashboard.PasswordEnv)
	}

	if cfg.Destination.BaseURL == "" {
		return fmt.Errorf("destination.base_url is required")
	}
	if cfg.Destination.Token() == "" {
		return fmt.Errorf("destination token missing: env %q is unset or empty", cfg.Destination.TokenEnv)
	}
	if cfg.Destination.Timeout <= 0 {
		return fmt.Errorf("destination.timeout must be positive")
	}
	for m := range cfg.Destination.Entities {
		switch m {
		case MetricProduction, MetricConsumption, MetricGrid:
		default:
			return fmt.Errorf("destination.entities: unknown metric %q", m)
		}
	}

	if cfg.Routing.SocksAddress == "" {
		return fmt.Errorf("routing.socks_address is required")
	}
	for i, r := range cfg.Routing.Rules {
		if r.Host == "" {
			return fmt.Errorf("routing.rules[%d]: host is required", i)
		}
		switch r.Via {
		case "direct", "tunnel":
		default:
			return fmt.Errorf("routing.rules[%d] %q: unknown egress %q", i, r.Host, r.Via)
		}
	}
	for m := range cfg.Dashboard.XPath {
		switch m {
		case MetricProduction, MetricConsumption, MetricGrid:
		default:
			return fmt.Errorf("dashboard.xpath: unknown metric %q", m)
		}
	}
	return nil
}
