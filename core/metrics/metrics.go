// Package metrics holds the measurement types shared by the repository and
// its metrics backends.
package metrics

import "time"

// Timer is started when it is created. ObserveDuration records the time
// elapsed since then.
type Timer interface {
	ObserveDuration()
}

type funcTimer struct {
	start   time.Time
	observe func(time.Duration)
}

func (t funcTimer) ObserveDuration() { t.observe(time.Since(t.start)) }

// NewTimer starts a Timer that hands the elapsed time to observe.
func NewTimer(observe func(time.Duration)) Timer {
	return funcTimer{start: time.Now(), observe: observe}
}
