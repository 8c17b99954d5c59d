package metrics

import (
	"time"
)

type timer struct {
	client Client
	start  time.Time
	name   string
	tags   Tags
}

func Timer(client Client, name string, tags Tags) *timer {
	return &timer{
		client: client,
		start:  time.Now(),
		name:   name,
		tags:   tags,
	}
}

// Stop the timer and send the elapsed time as a timing metric
func (t *timer) Stop() {
	t.client.Timing(t.name, t.tags, time.Since(t.start))
}
