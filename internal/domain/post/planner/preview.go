package planner

import (
	"time"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
)

// Preview returns exactly count publish slots at or after from, each on an allowed
// weekday. The config must be normalized (non-empty weekdays and times).
//
// Interval mode: every candidate, including the first one, is checked against the
// allowed weekdays. A disallowed candidate moves forward one day at a time keeping its
// time of day, and the interval chain continues from the accepted slot.
//
// Fixed-times mode: walks calendar days from from's date, emitting each configured time
// that is not before from.
func Preview(cfg entity.ScheduleConfig, from time.Time, count int) []time.Time {
	if count <= 0 {
		return nil
	}
	if len(cfg.AllowedWeekdays) == 0 || len(cfg.Times) == 0 {
		cfg = cfg.Normalize()
	}
	from = from.In(cfg.Location())

	if cfg.Mode == entity.ModeFixedTimes {
		return previewFixedTimes(cfg, from, count)
	}
	return previewInterval(cfg, from, count)
}

func previewInterval(cfg entity.ScheduleConfig, from time.Time, count int) []time.Time {
	hours := cfg.IntervalHours
	if hours < entity.MinIntervalHours {
		hours = entity.MinIntervalHours
	}
	step := time.Duration(hours) * time.Hour

	out := make([]time.Time, 0, count)
	cur := from
	for len(out) < count {
		cur = nextAllowedDay(cfg, cur)
		out = append(out, cur)
		cur = cur.Add(step)
	}
	return out
}

// nextAllowedDay advances t day by day, same time of day, until its weekday is allowed
func nextAllowedDay(cfg entity.ScheduleConfig, t time.Time) time.Time {
	for i := 0; i < 7 && !cfg.WeekdayAllowed(t.Weekday()); i++ {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func previewFixedTimes(cfg entity.ScheduleConfig, from time.Time, count int) []time.Time {
	out := make([]time.Time, 0, count)
	y, m, d := from.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, from.Location())

	for len(out) < count {
		if cfg.WeekdayAllowed(day.Weekday()) {
			for _, t := range cfg.Times {
				cand := t.On(day)
				if cand.Before(from) {
					continue
				}
				out = append(out, cand)
				if len(out) == count {
					return out
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}
