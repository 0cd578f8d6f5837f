package checkpoint

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// Purger is implemented by stores that can expire old checkpoints.
type Purger interface {
	Purge(ctx context.Context, ttl time.Duration) (int64, error)
}

// RunCleaner purges expired checkpoints on the given cron schedule until
// ctx is cancelled. A bad expression disables cleanup with a log line
// rather than failing startup.
func RunCleaner(ctx context.Context, store Purger, expr string, ttl time.Duration) {
	if _, err := cronParser.Parse(expr); err != nil {
		log.Printf("checkpoint: invalid cleanup schedule %q: %v (cleanup disabled)", expr, err)
		return
	}
	for {
		d := nextCronDuration(expr)
		if d <= 0 {
			d = time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
		n, err := store.Purge(ctx, ttl)
		if err != nil {
			log.Printf("checkpoint: cleanup: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("checkpoint: cleanup removed %d expired thread(s)", n)
		}
	}
}
