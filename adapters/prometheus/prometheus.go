// Package prometheus provides a Prometheus implementation of es.Metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/esrepo-go/core/metrics"
)

const namespace = "esrepo"

// Latency buckets in seconds. Store round trips of the table backends sit
// between a millisecond (redis) and a few seconds (azure batch retries).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5,
}

func newTimer(o prometheus.Observer) metrics.Timer {
	return metrics.NewTimer(func(d time.Duration) { o.Observe(d.Seconds()) })
}
