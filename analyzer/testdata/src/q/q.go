package q

import (
	workflow "context"
	"math/rand"
	"os"
	"time"
)

func orchestration(ctx workflow.Context, r *rand.Rand) (int, error) {
	start := time.Now() // want "time.Now is not deterministic, use workflow.Now"

	time.Sleep(time.Second) // want "time.Sleep is not deterministic, use an activity"

	n := rand.Intn(10) // want "rand.Intn is not deterministic, use workflow.NewRandom"

	// Methods on a source passed in are fine
	n += r.Intn(10)

	if os.Getenv("DEBUG") != "" { // want "os.Getenv is not deterministic, use an activity"
		n++
	}

	_ = os.Args

	return n + int(start.Sub(start)), nil
}

func notAnOrchestration() time.Time {
	return time.Now()
}
