// Package schedule computes audit sweep fire times from a five-field
// cron expression pinned to an operator-chosen timezone.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the next fire time strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

var fiveField = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse builds a Schedule from a standard five-field cron expression.
// The expression is evaluated in the named timezone, so "0 6 * * *"
// with "America/New_York" fires at 06:00 New York time across DST
// changes rather than at a fixed UTC offset.
func Parse(expression, timezone string) (Schedule, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	sched, err := fiveField.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expression, err)
	}

	return &tzSchedule{sched: sched, loc: loc}, nil
}

type tzSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *tzSchedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
