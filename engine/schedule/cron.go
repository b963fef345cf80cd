package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard five-field cron expressions plus the @every and
// @hourly style descriptors.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron reports whether expr is a usable cron expression.
func ValidateCron(expr string) error {
	if expr == "" {
		return fmt.Errorf("schedule: cron expression is empty")
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the first firing of expr strictly after the given time.
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(after), nil
}

// isDue reports whether the schedule has a firing between lastRun
// (exclusive) and now (inclusive).
func isDue(expr string, lastRun, now time.Time) (bool, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return false, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	next := sched.Next(lastRun)
	return !next.After(now), nil
}
