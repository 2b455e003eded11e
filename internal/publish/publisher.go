package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/solarbridge/solarbridge/internal/config"
	"github.com/solarbridge/solarbridge/internal/metric"
)

// Error reports a failed publish for one metric. Other metrics in the same
// cycle are unaffected.
type Error struct {
	Metric metric.Metric
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Metric, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// stateBody is the destination API's state update payload.
type stateBody struct {
	State      string          `json:"state"`
	Attributes stateAttributes `json:"attributes"`
}

type stateAttributes struct {
	UnitOfMeasurement string `json:"unit_of_measurement"`
}

// Publisher delivers readings to the destination state-store API. It holds
// no retry logic: readings are live telemetry, and a stale retry is
// pointless once the next cycle is due; the scheduler's cadence governs
// retries.
type Publisher struct {
	cfg    config.DestinationConfig
	client *http.Client
}

// New builds a Publisher sending through client, which callers construct
// over the routing transport so destination traffic takes the tunneled
// path.
func New(cfg config.DestinationConfig, client *http.Client) *Publisher {
	return &Publisher{cfg: cfg, client: client}
}

// Publish sends one reading as POST <base>/api/states/<entity> with the
// bearer credential. A non-2xx status or transport failure is returned as
// a *Error for the reading's metric.
func (p *Publisher) Publish(ctx context.Context, r metric.Reading) error {
	entity, ok := p.cfg.Entities[string(r.Metric)]
	if !ok || entity == "" {
		return &Error{Metric: r.Metric, Cause: fmt.Errorf("no entity configured")}
	}

	body, err := json.Marshal(stateBody{
		State:      strconv.FormatInt(int64(math.Round(r.Value)), 10),
		Attributes: stateAttributes{UnitOfMeasurement: r.Unit},
	})
	if err != nil {
		return &Error{Metric: r.Metric, Cause: fmt.Errorf("encode body: %w", err)}
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/states/" + entity

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Metric: r.Metric, Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token())
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &Error{Metric: r.Metric, Cause: fmt.Errorf("send: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Metric: r.Metric, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	slog.Debug("publish: state updated", "entity", entity, "metric", r.Metric, "watts", r.Value)
	return nil
}

// PublishAll delivers each reading concurrently (they address independent
// entities on the same API) and waits for every attempt before returning.
// Failures are collected per metric; one failed publish never prevents the
// others.
func (p *Publisher) PublishAll(ctx context.Context, readings []metric.Reading) []*Error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []*Error
	)
	for _, r := range readings {
		r := r
		g.Go(func() error {
			if err := p.Publish(ctx, r); err != nil {
				var perr *Error
				if !errors.As(err, &perr) {
					perr = &Error{Metric: r.Metric, Cause: err}
				}
				mu.Lock()
				errs = append(errs, perr)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines always return nil; errors are collected above
	return errs
}
