package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/solarbridge/solarbridge/internal/browser"
	"github.com/solarbridge/solarbridge/internal/metric"
)

const (
	bodyReadTimeout = 10 * time.Second
	elementTimeout  = 6 * time.Second
)

// Body-text phrasings for each metric, EN and DE, as the dashboard renders
// them. The number precedes the phrase for production and grid, and follows
// the label for consumption.
var (
	prodBodyRe = regexp.MustCompile(
		`(?i)([-−+]?\d+(?:[.,]\d+)?)\s*(kW|W)\s*(?:of solar energy is produced|produced|production|erzeugt|produktion)`)
	gridExportBodyRe = regexp.MustCompile(
		`(?i)([-−+]?\d+(?:[.,]\d+)?)\s*(kW|W)\s*(?:are being fed into the grid|fed into the grid|einspeisung|eingespeist)`)
	gridImportBodyRe = regexp.MustCompile(
		`(?i)([-−+]?\d+(?:[.,]\d+)?)\s*(kW|W)\s*(?:are being drawn from the grid|drawn from the grid|netzbezug|bezogen)`)
	consBodyRe = regexp.MustCompile(
		`(?i)(?:consumption|hausverbrauch|verbrauch)[^0-9−+-]*?([-−+]?\d+(?:[.,]\d+)?)\s*(kW|W)`)
)

// Default per-metric XPath fallbacks for the dashboard's power widget.
// Overridable via configuration when the page layout shifts.
var defaultXPath = map[metric.Metric]string{
	metric.Production:  "/html/body/div[3]/div[1]/div/div/div[2]/div/div/div[2]/div[2]/div[2]/div/span[1]/b",
	metric.Consumption: "/html/body/div[3]/div[1]/div/div/div[2]/div/div/div[2]/div[2]/div[1]/div/span[1]/b",
	metric.Grid:        "/html/body/div[3]/div[1]/div/div/div[2]/div[2]/div[3]/div/span[1]/b",
}

// FieldError reports why one metric could not be extracted this cycle.
// Other metrics are unaffected.
type FieldError struct {
	Metric metric.Metric
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.Metric, e.Reason)
}

// Extractor reads the three tracked metrics from a loaded, authenticated
// dashboard page. It holds no mutable state: extraction is idempotent and
// side-effect-free beyond reading the current page.
type Extractor struct {
	xpath map[metric.Metric]string
}

// New builds an Extractor. overrides maps metric identifiers to replacement
// XPath selectors for the fallback strategy; unknown keys are ignored
// (config validation rejects them earlier).
func New(overrides map[string]string) *Extractor {
	xp := make(map[metric.Metric]string, len(defaultXPath))
	for m, sel := range defaultXPath {
		xp[m] = sel
	}
	for _, m := range metric.All {
		if sel, ok := overrides[string(m)]; ok && sel != "" {
			xp[m] = sel
		}
	}
	return &Extractor{xpath: xp}
}

// Extract produces one Reading per tracked metric. The primary strategy is
// a single rendered-text read matched against EN/DE phrasings; metrics the
// text does not cover fall back to their XPath selector. A failure for one
// metric never blocks the others: the successfully parsed subset is
// returned alongside per-metric failures, and an unparsable value is
// reported as a failure rather than a defaulted reading.
func (e *Extractor) Extract(ctx context.Context, page browser.Page) ([]metric.Reading, []*FieldError) {
	now := time.Now().UTC()

	bodyCtx, cancel := context.WithTimeout(ctx, bodyReadTimeout)
	body, bodyErr := page.BodyText(bodyCtx)
	cancel()
	if bodyErr != nil {
		slog.Warn("extract: body text read failed, relying on xpath fallback", "err", bodyErr)
	}

	var readings []metric.Reading
	var failures []*FieldError
	for _, m := range metric.All {
		watts, err := e.extractOne(ctx, page, m, body, bodyErr == nil)
		if err != nil {
			failures = append(failures, &FieldError{Metric: m, Reason: err.Error()})
			continue
		}
		r := metric.NewReading(m, watts, now)
		if r.Suspect {
			slog.Warn("extract: implausible value flagged", "metric", m, "watts", watts)
		}
		readings = append(readings, r)
	}
	return readings, failures
}

// extractOne resolves a single metric: body text first, then XPath.
func (e *Extractor) extractOne(ctx context.Context, page browser.Page, m metric.Metric, body string, haveBody bool) (float64, error) {
	if haveBody {
		if watts, ok := fromBody(m, body); ok {
			return watts, nil
		}
	}

	sel := e.xpath[m]
	elCtx, cancel := context.WithTimeout(ctx, elementTimeout)
	text, err := page.Text(elCtx, sel)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("element absent: %v", err)
	}

	// Only grid flow derives a sign from surrounding words; the other
	// metrics carry their own labels in the element text and stay positive.
	if m == metric.Grid {
		return ParseGridPower(text)
	}
	return ParsePower(text)
}

// fromBody matches the metric's phrasing against the rendered page text.
// Grid flow direction comes from a displayed sign when the page shows one,
// otherwise from which phrase matched: fed-in is export (positive),
// drawn-from is import (negative).
func fromBody(m metric.Metric, body string) (float64, bool) {
	switch m {
	case metric.Production:
		v, _, ok := matchWatts(prodBodyRe, body)
		return v, ok
	case metric.Consumption:
		v, _, ok := matchWatts(consBodyRe, body)
		return v, ok
	case metric.Grid:
		if v, _, ok := matchWatts(gridExportBodyRe, body); ok {
			return v, true
		}
		if v, signed, ok := matchWatts(gridImportBodyRe, body); ok {
			if signed {
				return v, true
			}
			return -v, true
		}
		return 0, false
	}
	return 0, false
}

// matchWatts applies re to body and converts the captured number+unit.
// signed reports whether the display carried an explicit sign character,
// which is already reflected in the returned value.
func matchWatts(re *regexp.Regexp, body string) (watts float64, signed, ok bool) {
	sub := re.FindStringSubmatch(body)
	if sub == nil {
		return 0, false, false
	}
	v, signed, err := parsePower(sub[1] + " " + sub[2])
	if err != nil {
		return 0, false, false
	}
	return v, signed, true
}
