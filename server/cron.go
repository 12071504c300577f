package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

func parseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("server: status schedule is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("server: status schedule must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("server: invalid status schedule: %w", err)
	}
	return schedule, nil
}

// waitNext blocks until the schedule's next activation after now. It returns
// false if ctx ends first.
func waitNext(ctx context.Context, schedule cron.Schedule, now time.Time) bool {
	timer := time.NewTimer(schedule.Next(now.UTC()).Sub(now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
