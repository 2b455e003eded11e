package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solarbridge/solarbridge/internal/config"
	"github.com/solarbridge/solarbridge/internal/extract"
	"github.com/solarbridge/solarbridge/internal/metric"
	"github.com/solarbridge/solarbridge/internal/publish"
	"github.com/solarbridge/solarbridge/internal/session"
)

// Runner drives the fixed-interval extract+publish loop and owns the
// process lifetime policy: transient failures never stop the loop, and a
// run of consecutive failed iterations forces a session recreate.
type Runner struct {
	cfg       config.AgentConfig
	sessions  *session.Manager
	extractor *extract.Extractor
	publisher *publish.Publisher

	// lastGood holds the last successfully published value per metric.
	// Unchanged values are not re-published; the destination holds state,
	// not history.
	lastGood map[metric.Metric]float64
}

// New wires a Runner from its collaborators.
func New(cfg config.AgentConfig, sessions *session.Manager, extractor *extract.Extractor, publisher *publish.Publisher) *Runner {
	return &Runner{
		cfg:       cfg,
		sessions:  sessions,
		extractor: extractor,
		publisher: publisher,
		lastGood:  make(map[metric.Metric]float64),
	}
}

// Run executes the loop until ctx is cancelled, then returns nil after the
// in-flight iteration has completed or failed naturally: shutdown is
// checked between iterations and during the interval sleep, never
// mid-publish. Each iteration sleeps for the scrape interval minus the
// work time; when work exceeds the interval the next iteration starts
// immediately.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("agent: entering scrape loop",
		"interval", r.cfg.ScrapeInterval,
		"iteration_timeout", r.cfg.IterationTimeout,
		"max_consecutive_failures", r.cfg.MaxConsecutiveFailures,
	)

	consecutive := 0
	for {
		if ctx.Err() != nil {
			slog.Info("agent: stop requested, exiting loop")
			return nil
		}

		start := time.Now()
		if err := r.iterate(ctx); err != nil {
			consecutive++
			slog.Error("agent: iteration failed",
				"err", err,
				"consecutive", consecutive,
				"session_state", r.sessions.State().String(),
			)
			if consecutive >= r.cfg.MaxConsecutiveFailures {
				slog.Warn("agent: consecutive failure threshold reached, recreating session",
					"threshold", r.cfg.MaxConsecutiveFailures)
				r.sessions.Reset()
				consecutive = 0
			}
		} else {
			consecutive = 0
		}

		elapsed := time.Since(start)
		wait := r.cfg.ScrapeInterval - elapsed
		if wait <= 0 {
			continue // work overran the interval; go again immediately
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("agent: stop requested, exiting loop")
			return nil
		case <-timer.C:
		}
	}
}

// iterate runs one full cycle: session readiness, extraction, publish.
// The iteration is deliberately detached from the shutdown signal and
// bounded only by the iteration timeout, so a stop request never aborts a
// publish mid-flight. An iteration fails when the session is not ready,
// extraction yields nothing at all, any publish fails, or the timeout
// expires.
func (r *Runner) iterate(parent context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.cfg.IterationTimeout)
	defer cancel()

	page, err := r.sessions.EnsureReady(ctx)
	if err != nil {
		return fmt.Errorf("session stage: %w", err)
	}

	readings, failures := r.extractor.Extract(ctx, page)
	for _, f := range failures {
		// Missing metrics mean "nothing to publish this cycle" for that
		// metric, not a fatal error.
		slog.Warn("agent: metric unavailable this cycle", "metric", f.Metric, "reason", f.Reason)
	}
	if len(readings) == 0 {
		return fmt.Errorf("extract stage: no metric parsed (%d failures)", len(failures))
	}

	fresh := readings[:0:0]
	for _, rd := range readings {
		if last, ok := r.lastGood[rd.Metric]; ok && last == rd.Value {
			continue
		}
		fresh = append(fresh, rd)
	}
	if len(fresh) == 0 {
		slog.Debug("agent: no value changed this cycle")
		return nil
	}

	errs := r.publisher.PublishAll(ctx, fresh)
	failed := make(map[metric.Metric]bool, len(errs))
	for _, e := range errs {
		failed[e.Metric] = true
		slog.Error("agent: publish failed", "metric", e.Metric, "err", e.Cause)
	}
	for _, rd := range fresh {
		if !failed[rd.Metric] {
			r.lastGood[rd.Metric] = rd.Value
			slog.Info("agent: published", "reading", rd.String(), "suspect", rd.Suspect)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("publish stage: %d of %d updates failed", len(errs), len(fresh))
	}
	return nil
}
