// Package metrics defines the client interface the engine reports counters and durations through.
package metrics

import "time"

type Tags map[string]string

type Client interface {
	// Counter adds value to the named counter
	Counter(name string, tags Tags, value float64)

	// Distribution records a single observation, e.g. a queue delay in milliseconds
	Distribution(name string, tags Tags, value float64)

	Timing(name string, tags Tags, duration time.Duration)

	// WithTags returns a client that adds the given tags to every metric
	WithTags(tags Tags) Client
}
