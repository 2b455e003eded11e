package extract

import "testing"

func TestParsePower(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"3.42 kW", 3420},
		{"3,42 kW", 3420},
		{"812 W", 812},
		{"812", 812}, // unit omitted defaults to watts
		{"0 W", 0},
		{"1.5kW", 1500},
		{"-0.8 kW", -800},
		{"−0.8 kW", -800}, // U+2212 minus
		{"+2.6 kW", 2600},
		{"−1,2 kW", -1200}, // NBSP between number and unit
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParsePower(tc.in)
			if err != nil {
				t.Fatalf("ParsePower(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParsePower(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParsePower_LabelNeverSetsSign(t *testing.T) {
	// Unsigned metrics keep their displayed magnitude even when the element
	// text includes a label that looks like an import word.
	tests := []struct {
		in   string
		want float64
	}{
		{"Consumption 0.6 kW", 600},
		{"Hausverbrauch 1,1 kW", 1100},
		{"0.4 kW drawn from the grid", 400}, // direction is the grid parser's job
	}
	for _, tc := range tests {
		got, err := ParsePower(tc.in)
		if err != nil {
			t.Fatalf("ParsePower(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParsePower(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseGridPower(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0.46 kW feeding in", 460},
		{"2.6 kW export", 2600},
		{"0.8 kW (importing)", -800}, // sign from side-band label
		{"0,8 kW Bezug", -800},
		{"0.4 kW drawn from the grid", -400},
		{"−0.8 kW (importing)", -800}, // explicit U+2212 minus
		{"-0.8 kW", -800},
		{"0.5 kW", 500}, // no sign, no label: export
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseGridPower(tc.in)
			if err != nil {
				t.Fatalf("ParseGridPower(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseGridPower(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParsePower_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "kW", "n/a", "—"} {
		if _, err := ParsePower(in); err == nil {
			t.Errorf("ParsePower(%q) should fail, not default to zero", in)
		}
		if _, err := ParseGridPower(in); err == nil {
			t.Errorf("ParseGridPower(%q) should fail, not default to zero", in)
		}
	}
}

func TestParseGridPower_ExplicitSignBeatsLabel(t *testing.T) {
	// A displayed minus wins even next to an export-ish word.
	got, err := ParseGridPower("-0.5 kW feeding in")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != -500 {
		t.Errorf("got %v, want -500", got)
	}
}
