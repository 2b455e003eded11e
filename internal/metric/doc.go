// Package metric defines the MetricReading model shared by the extractor,
// scheduler, and publisher. A Reading is only ever constructed from a fully
// parsed value; a failed extraction produces an error, never a zero Reading.
package metric
