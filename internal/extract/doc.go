// Package extract reads the three tracked power metrics from the loaded
// dashboard page. The primary strategy matches EN/DE phrasings against one
// rendered-text snapshot; each metric independently falls back to a
// configurable XPath selector when the text does not cover it. Values are
// normalized to signed watts (grid flow: positive = export). Parsing
// failures are explicit per-metric errors; a bad page never yields a
// defaulted or zero reading.
package extract
