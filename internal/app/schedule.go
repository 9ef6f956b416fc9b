package app

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parseSchedule accepts either a Go duration ("1h", "30m") or a cron
// spec ("0 * * * *", "@hourly", "@every 1h") and returns something that
// can compute the next wake-up.
func parseSchedule(every string) (cron.Schedule, error) {
	if d, err := time.ParseDuration(every); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("schedule.every: duration must be positive, got %q", every)
		}
		return cron.Every(d), nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(every)
	if err != nil {
		return nil, fmt.Errorf("schedule.every: %q is neither a duration nor a cron spec: %w", every, err)
	}
	return sched, nil
}
