package extract

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// powerRe matches a displayed power value: optional sign (ASCII or U+2212),
// number with "." or "," decimals, optional unit. "812", "3.42 kW",
// "−0,8 kW" all match.
var powerRe = regexp.MustCompile(`([-−+])?\s*(\d+(?:[.,]\d+)?)\s*((?i:kW|W))?`)

// Side-band words that determine grid-flow direction when the number
// itself carries no sign. EN and DE phrasings as the dashboard shows them.
var (
	importWords = regexp.MustCompile(`(?i)import|consum|bezug|bezogen|drawn from`)
	exportWords = regexp.MustCompile(`(?i)feed|export|einspeis`)
)

// parsePower is the shared core: signed watts plus whether the display
// carried an explicit sign character.
func parsePower(s string) (float64, bool, error) {
	s = strings.ReplaceAll(s, " ", " ") // NBSP shows up in rendered text
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, fmt.Errorf("empty text")
	}

	m := powerRe.FindStringSubmatch(s)
	if m == nil || m[2] == "" {
		return 0, false, fmt.Errorf("no numeric power value in %q", s)
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", "."), 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %q: %w", m[2], err)
	}
	if strings.EqualFold(m[3], "kw") {
		v *= 1000
	}
	v = math.Round(v)

	if m[1] == "-" || m[1] == "−" {
		v = -v
	}
	return v, m[1] != "", nil
}

// ParsePower parses a displayed power string into signed watts.
//
//	"3.42 kW"  → 3420
//	"812 W"    → 812
//	"-0.8 kW"  → -800
//
// kW is normalized to W and the result rounded to the nearest watt. Only an
// explicit sign character determines the sign; surrounding words never do,
// so a labeled element reading "Consumption 0.6 kW" is 600, not -600. An
// empty string or one without a numeric match is an error; a placeholder
// value is never substituted.
func ParsePower(s string) (float64, error) {
	v, _, err := parsePower(s)
	return v, err
}

// ParseGridPower parses a displayed grid-flow string into signed watts,
// positive for export and negative for import.
//
//	"0.46 kW feeding in"   → 460
//	"0,8 kW Bezug"         → -800
//	"−0.8 kW (importing)"  → -800
//
// Direction comes from an explicit sign character when present, otherwise
// from the side-band wording; wording never overrides an explicit sign.
func ParseGridPower(s string) (float64, error) {
	v, signed, err := parsePower(s)
	if err != nil {
		return 0, err
	}
	if !signed && importWords.MatchString(s) && !exportWords.MatchString(s) {
		v = -v
	}
	return v, nil
}
