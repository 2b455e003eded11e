package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/solarbridge/solarbridge/internal/config"
	"github.com/solarbridge/solarbridge/internal/metric"
)

func testConfig(t *testing.T, baseURL string) config.DestinationConfig {
	t.Helper()
	t.Setenv("TEST_PUBLISH_TOKEN", "sekrit")
	return config.DestinationConfig{
		BaseURL:  baseURL,
		TokenEnv: "TEST_PUBLISH_TOKEN",
		Timeout:  5 * time.Second,
		Entities: map[string]string{
			string(metric.Production):  "sensor.pv_production",
			string(metric.Consumption): "sensor.pv_consumption",
			string(metric.Grid):        "sensor.grid_export",
		},
	}
}

func TestPublish_RequestShape(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(testConfig(t, srv.URL), srv.Client())
	r := metric.NewReading(metric.Production, 3420, time.Now())
	if err := p.Publish(context.Background(), r); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	if gotPath != "/api/states/sensor.pv_production" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody["state"] != "3420" {
		t.Errorf("state = %v, want \"3420\"", gotBody["state"])
	}
	attrs, _ := gotBody["attributes"].(map[string]any)
	if attrs["unit_of_measurement"] != "W" {
		t.Errorf("unit = %v, want W", attrs["unit_of_measurement"])
	}
}

func TestPublish_NegativeGridFlow(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(testConfig(t, srv.URL), srv.Client())
	if err := p.Publish(context.Background(), metric.NewReading(metric.Grid, -800, time.Now())); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if gotBody["state"] != "-800" {
		t.Errorf("state = %v, want \"-800\"", gotBody["state"])
	}
}

func TestPublish_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(testConfig(t, srv.URL), srv.Client())
	err := p.Publish(context.Background(), metric.NewReading(metric.Grid, 100, time.Now()))

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *publish.Error", err)
	}
	if perr.Metric != metric.Grid {
		t.Errorf("failed metric = %s", perr.Metric)
	}
}

func TestPublishAll_IndependentFailures(t *testing.T) {
	// grid_flow gets a 503; the other two must still land.
	var (
		mu  sync.Mutex
		hit = map[string]int{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hit[r.URL.Path]++
		mu.Unlock()
		if r.URL.Path == "/api/states/sensor.grid_export" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(testConfig(t, srv.URL), srv.Client())
	now := time.Now()
	errs := p.PublishAll(context.Background(), []metric.Reading{
		metric.NewReading(metric.Production, 1060, now),
		metric.NewReading(metric.Consumption, 600, now),
		metric.NewReading(metric.Grid, 460, now),
	})

	if len(errs) != 1 {
		t.Fatalf("errors: got %d, want 1 (%v)", len(errs), errs)
	}
	if errs[0].Metric != metric.Grid {
		t.Errorf("failed metric = %s, want %s", errs[0].Metric, metric.Grid)
	}
	for _, path := range []string{
		"/api/states/sensor.pv_production",
		"/api/states/sensor.pv_consumption",
		"/api/states/sensor.grid_export",
	} {
		if hit[path] != 1 {
			t.Errorf("%s hit %d times, want exactly 1", path, hit[path])
		}
	}
}

func TestPublish_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(t, srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	p := New(cfg, srv.Client())

	err := p.Publish(context.Background(), metric.NewReading(metric.Production, 10, time.Now()))
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("timeout should surface as *publish.Error, got %T", err)
	}
}

func TestPublish_MissingEntity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request should be sent for an unconfigured entity")
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	delete(cfg.Entities, string(metric.Grid))
	p := New(cfg, srv.Client())

	if err := p.Publish(context.Background(), metric.NewReading(metric.Grid, 1, time.Now())); err == nil {
		t.Fatal("expected error for unconfigured entity")
	}
}
