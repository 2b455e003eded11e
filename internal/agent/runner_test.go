package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/solarbridge/solarbridge/internal/browser"
	"github.com/solarbridge/solarbridge/internal/config"
	"github.com/solarbridge/solarbridge/internal/extract"
	"github.com/solarbridge/solarbridge/internal/metric"
	"github.com/solarbridge/solarbridge/internal/publish"
	"github.com/solarbridge/solarbridge/internal/session"
)

// permissivePage satisfies every wait and click so the login flow always
// succeeds; what the extractor sees is just the body text.
type permissivePage struct {
	mu     sync.Mutex
	body   string
	closed bool
}

func (p *permissivePage) setBody(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.body = s
}

func (p *permissivePage) Navigate(ctx context.Context, url string) error { return nil }

func (p *permissivePage) WaitVisible(ctx context.Context, sel string) error { return nil }

func (p *permissivePage) Exists(ctx context.Context, sel string) (bool, error) { return true, nil }

func (p *permissivePage) Text(ctx context.Context, sel string) (string, error) {
	return "", context.DeadlineExceeded
}

func (p *permissivePage) BodyText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body, nil
}

func (p *permissivePage) SendKeys(ctx context.Context, sel, val string) error { return nil }

func (p *permissivePage) Click(ctx context.Context, sel string) error { return nil }

func (p *permissivePage) Location(ctx context.Context) (string, error) {
	return "https://dash.example/pv", nil
}

func (p *permissivePage) Title(ctx context.Context) (string, error) { return "PV System", nil }

func (p *permissivePage) Screenshot(ctx context.Context) ([]byte, error) { return nil, nil }

func (p *permissivePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// hangingPage logs in like permissivePage but never yields body text,
// simulating a dashboard tab that stopped responding mid-session.
type hangingPage struct {
	permissivePage
}

func (p *hangingPage) BodyText(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

const liveBody = `
1.06 kW of solar energy is produced
0.46 kW are being fed into the grid
Consumption 0.6 kW
`

type fixture struct {
	runner  *Runner
	session *session.Manager
	hits    func() map[string]int
	created func() int
}

// newFixture wires a Runner against a permissive page factory and an
// httptest destination.
func newFixture(t *testing.T, cfg config.AgentConfig, pageBody string, destStatus func(path string) int) *fixture {
	t.Helper()
	t.Setenv("TEST_AGENT_EMAIL", "owner@example.com")
	t.Setenv("TEST_AGENT_PASSWORD", "hunter2")
	t.Setenv("TEST_AGENT_TOKEN", "tok")

	var (
		mu   sync.Mutex
		hits = map[string]int{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		w.WriteHeader(destStatus(r.URL.Path))
	}))
	t.Cleanup(srv.Close)

	created := 0
	factory := func(ctx context.Context) (browser.Page, error) {
		mu.Lock()
		created++
		mu.Unlock()
		p := &permissivePage{}
		p.setBody(pageBody)
		return p, nil
	}

	dash := config.DashboardConfig{
		LoginURL:    "https://login.example",
		SystemURL:   "https://dash.example/pv",
		EmailEnv:    "TEST_AGENT_EMAIL",
		PasswordEnv: "TEST_AGENT_PASSWORD",
	}
	sessions := session.NewManager(dash, time.Minute, 0, factory)

	dest := config.DestinationConfig{
		BaseURL:  srv.URL,
		TokenEnv: "TEST_AGENT_TOKEN",
		Timeout:  2 * time.Second,
		Entities: map[string]string{
			string(metric.Production):  "sensor.pv_production",
			string(metric.Consumption): "sensor.pv_consumption",
			string(metric.Grid):        "sensor.grid_export",
		},
	}
	publisher := publish.New(dest, srv.Client())

	return &fixture{
		runner:  New(cfg, sessions, extract.New(nil), publisher),
		session: sessions,
		hits: func() map[string]int {
			mu.Lock()
			defer mu.Unlock()
			out := make(map[string]int, len(hits))
			for k, v := range hits {
				out[k] = v
			}
			return out
		},
		created: func() int {
			mu.Lock()
			defer mu.Unlock()
			return created
		},
	}
}

func testCfg() config.AgentConfig {
	return config.AgentConfig{
		ScrapeInterval:         time.Millisecond,
		IterationTimeout:       2 * time.Second,
		MaxConsecutiveFailures: 3,
		SessionFreshness:       time.Minute,
	}
}

func ok(string) int { return http.StatusOK }

func TestIterate_PublishesAllMetrics(t *testing.T) {
	fx := newFixture(t, testCfg(), liveBody, ok)

	if err := fx.runner.iterate(context.Background()); err != nil {
		t.Fatalf("iterate() error: %v", err)
	}

	hits := fx.hits()
	for _, path := range []string{
		"/api/states/sensor.pv_production",
		"/api/states/sensor.pv_consumption",
		"/api/states/sensor.grid_export",
	} {
		if hits[path] != 1 {
			t.Errorf("%s hit %d times, want 1", path, hits[path])
		}
	}
}

func TestIterate_SkipsUnchangedValues(t *testing.T) {
	fx := newFixture(t, testCfg(), liveBody, ok)

	if err := fx.runner.iterate(context.Background()); err != nil {
		t.Fatalf("first iterate: %v", err)
	}
	if err := fx.runner.iterate(context.Background()); err != nil {
		t.Fatalf("second iterate: %v", err)
	}

	for path, n := range fx.hits() {
		if n != 1 {
			t.Errorf("%s hit %d times, want 1; unchanged values must not be re-published", path, n)
		}
	}
}

func TestIterate_PublishFailureCounts(t *testing.T) {
	fx := newFixture(t, testCfg(), liveBody, func(path string) int {
		if path == "/api/states/sensor.grid_export" {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})

	err := fx.runner.iterate(context.Background())
	if err == nil {
		t.Fatal("iterate must fail when a publish fails")
	}

	hits := fx.hits()
	if hits["/api/states/sensor.pv_production"] != 1 || hits["/api/states/sensor.pv_consumption"] != 1 {
		t.Errorf("other metrics must still publish: %v", hits)
	}

	// The failed metric was not recorded as last-good, so the next cycle
	// retries it while the healthy ones dedupe away.
	if err := fx.runner.iterate(context.Background()); err == nil {
		// grid still 503s; expected to fail again
		t.Fatal("second iterate should fail while grid stays unavailable")
	}
	hits = fx.hits()
	if hits["/api/states/sensor.grid_export"] != 2 {
		t.Errorf("grid retried %d times, want 2", hits["/api/states/sensor.grid_export"])
	}
	if hits["/api/states/sensor.pv_production"] != 1 {
		t.Errorf("production re-published despite unchanged value: %v", hits)
	}
}

func TestIterate_NoReadingsIsFailure(t *testing.T) {
	fx := newFixture(t, testCfg(), "maintenance page, no live numbers", ok)

	if err := fx.runner.iterate(context.Background()); err == nil {
		t.Fatal("iterate must fail when no metric can be extracted")
	}
	if len(fx.hits()) != 0 {
		t.Errorf("nothing should be published on a failed extraction: %v", fx.hits())
	}
}

func TestIterate_TimeoutIsFailure(t *testing.T) {
	// A page that hangs after login must not stall the loop: the iteration
	// is abandoned at the iteration timeout and reported as a failure, with
	// nothing published.
	t.Setenv("TEST_AGENT_EMAIL", "owner@example.com")
	t.Setenv("TEST_AGENT_PASSWORD", "hunter2")
	t.Setenv("TEST_AGENT_TOKEN", "tok")

	var (
		mu   sync.Mutex
		hits int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	t.Cleanup(srv.Close)

	dash := config.DashboardConfig{
		LoginURL:    "https://login.example",
		SystemURL:   "https://dash.example/pv",
		EmailEnv:    "TEST_AGENT_EMAIL",
		PasswordEnv: "TEST_AGENT_PASSWORD",
	}
	sessions := session.NewManager(dash, time.Minute, 0, func(ctx context.Context) (browser.Page, error) {
		return &hangingPage{}, nil
	})
	dest := config.DestinationConfig{
		BaseURL:  srv.URL,
		TokenEnv: "TEST_AGENT_TOKEN",
		Timeout:  time.Second,
		Entities: map[string]string{string(metric.Production): "sensor.pv_production"},
	}

	cfg := testCfg()
	cfg.IterationTimeout = 50 * time.Millisecond
	runner := New(cfg, sessions, extract.New(nil), publish.New(dest, srv.Client()))

	start := time.Now()
	err := runner.iterate(context.Background())
	if err == nil {
		t.Fatal("iterate must fail when the page hangs past the iteration timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("iterate took %v; the iteration timeout did not bound it", elapsed)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 0 {
		t.Errorf("nothing should be published from an abandoned iteration, got %d requests", hits)
	}
}

func TestRun_ConsecutiveFailuresRecreateSession(t *testing.T) {
	// Extraction always fails; after MaxConsecutiveFailures the runner
	// must reset the session, so a second page gets created on the next
	// cycle even though the first session object was non-nil.
	fx := newFixture(t, testCfg(), "no numbers here", ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fx.runner.Run(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for fx.created() < 2 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("session never recreated: %d pages", fx.created())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRun_StopsCleanlyBetweenIterations(t *testing.T) {
	cfg := testCfg()
	cfg.ScrapeInterval = time.Hour // park the loop in its interval sleep
	fx := newFixture(t, cfg, liveBody, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.runner.Run(ctx) }()

	// Let the first iteration complete, then request a stop mid-sleep.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil on clean shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit from the interval sleep")
	}
}
