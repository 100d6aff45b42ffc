// Package collector turns battery telemetry sources into engine samples.
package collector

import "github.com/battesty/battesty/internal/engine"

// Source produces one sample per call. The daemon polls a Source on its
// sampling interval; the replay tool drains one until io.EOF.
type Source interface {
	Collect() (*engine.Sample, error)
}
