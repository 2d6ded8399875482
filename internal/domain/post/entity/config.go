package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ScheduleMode selects how publish slots are generated
type ScheduleMode string

const (
	ModeInterval   ScheduleMode = "interval"
	ModeFixedTimes ScheduleMode = "fixed-times"
)

// ParseScheduleMode parses a string into a ScheduleMode
func ParseScheduleMode(s string) (ScheduleMode, error) {
	switch ScheduleMode(s) {
	case ModeInterval, ModeFixedTimes:
		return ScheduleMode(s), nil
	default:
		return "", ErrInvalidMode
	}
}

const (
	MinIntervalHours = 1
	MaxIntervalHours = 168
)

// TimeOfDay is a wall-clock time without a date, encoded as "HH:MM"
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h clock)
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || len(m) != 2 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On returns the instant at this time of day on the date of day, in day's location
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return ErrInvalidTimeOfDay
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ScheduleConfig drives slot generation for queued posts
type ScheduleConfig struct {
	Mode              ScheduleMode   `json:"mode"`
	IntervalHours     int            `json:"interval_hours"`
	AllowedWeekdays   []time.Weekday `json:"allowed_weekdays"`
	Times             []TimeOfDay    `json:"times"`
	Timezone          string         `json:"timezone"`
	AutoRepostEnabled bool           `json:"auto_repost_enabled"`
}

// DefaultScheduleConfig is used until an administrator sets one
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Mode:            ModeInterval,
		IntervalHours:   4,
		AllowedWeekdays: allWeekdays(),
		Times:           []TimeOfDay{{Hour: 9}},
		Timezone:        "UTC",
	}
}

// Validate rejects values that cannot be sanitized
func (c ScheduleConfig) Validate() error {
	if _, err := ParseScheduleMode(string(c.Mode)); err != nil {
		return err
	}
	for _, d := range c.AllowedWeekdays {
		if d < time.Sunday || d > time.Saturday {
			return ErrInvalidWeekday
		}
	}
	for _, t := range c.Times {
		if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
			return ErrInvalidTimeOfDay
		}
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

// Normalize clamps the interval, sorts and dedups weekdays and times, and fills empty sets
func (c ScheduleConfig) Normalize() ScheduleConfig {
	out := c
	if out.IntervalHours < MinIntervalHours {
		out.IntervalHours = MinIntervalHours
	}
	if out.IntervalHours > MaxIntervalHours {
		out.IntervalHours = MaxIntervalHours
	}

	seenDay := make(map[time.Weekday]bool, 7)
	days := make([]time.Weekday, 0, 7)
	for _, d := range c.AllowedWeekdays {
		if d < time.Sunday || d > time.Saturday || seenDay[d] {
			continue
		}
		seenDay[d] = true
		days = append(days, d)
	}
	if len(days) == 0 {
		days = allWeekdays()
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	out.AllowedWeekdays = days

	seenTime := make(map[int]bool, len(c.Times))
	times := make([]TimeOfDay, 0, len(c.Times))
	for _, t := range c.Times {
		if seenTime[t.Minutes()] {
			continue
		}
		seenTime[t.Minutes()] = true
		times = append(times, t)
	}
	if len(times) == 0 {
		times = []TimeOfDay{{Hour: 9}}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Minutes() < times[j].Minutes() })
	out.Times = times

	if strings.TrimSpace(out.Timezone) == "" {
		out.Timezone = "UTC"
	}
	return out
}

// WeekdayAllowed reports whether d is one of the allowed weekdays
func (c ScheduleConfig) WeekdayAllowed(d time.Weekday) bool {
	for _, a := range c.AllowedWeekdays {
		if a == d {
			return true
		}
	}
	return false
}

// Location resolves the configured timezone, falling back to UTC
func (c ScheduleConfig) Location() *time.Location {
	loc, err := c.location()
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c ScheduleConfig) location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimezone, c.Timezone)
	}
	return loc, nil
}

// Clone returns a copy that does not share slices with c
func (c ScheduleConfig) Clone() ScheduleConfig {
	out := c
	out.AllowedWeekdays = append([]time.Weekday(nil), c.AllowedWeekdays...)
	out.Times = append([]TimeOfDay(nil), c.Times...)
	return out
}

func allWeekdays() []time.Weekday {
	return []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
}
