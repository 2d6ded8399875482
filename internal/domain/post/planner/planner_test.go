package planner

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/vadim/neo-autopost/internal/domain/post/dao"
	"github.com/vadim/neo-autopost/internal/domain/post/entity"
)

// 2025-03-03 is a Monday
var monday = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func weekdays(days ...time.Weekday) []time.Weekday { return days }

func times(t *testing.T, raw ...string) []entity.TimeOfDay {
	t.Helper()
	out := make([]entity.TimeOfDay, len(raw))
	for i, r := range raw {
		v, err := entity.ParseTimeOfDay(r)
		if err != nil {
			t.Fatalf("ParseTimeOfDay(%q): %v", r, err)
		}
		out[i] = v
	}
	return out
}

func TestPreviewFixedTimesScenario(t *testing.T) {
	t.Parallel()
	cfg := entity.ScheduleConfig{
		Mode:            entity.ModeFixedTimes,
		AllowedWeekdays: weekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
		Times:           times(t, "09:00", "13:00", "17:00"),
		Timezone:        "UTC",
	}.Normalize()

	got := Preview(cfg, monday, 5)
	want := []time.Time{
		time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 3, 13, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 3, 17, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 4, 13, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("Preview returned %d slots, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("slot %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPreviewFixedTimesSkipsWeekend(t *testing.T) {
	t.Parallel()
	cfg := entity.ScheduleConfig{
		Mode:            entity.ModeFixedTimes,
		AllowedWeekdays: weekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
		Times:           times(t, "10:00"),
	}.Normalize()

	// Friday 11:00, after the only slot of the day
	friday := time.Date(2025, 3, 7, 11, 0, 0, 0, time.UTC)
	got := Preview(cfg, friday, 1)
	want := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	if !got[0].Equal(want) {
		t.Fatalf("slot = %s, want %s", got[0], want)
	}
}

func TestPreviewIntervalSkipsDisallowedDays(t *testing.T) {
	t.Parallel()
	cfg := entity.ScheduleConfig{
		Mode:            entity.ModeInterval,
		IntervalHours:   24,
		AllowedWeekdays: weekdays(time.Monday, time.Wednesday),
	}.Normalize()

	got := Preview(cfg, monday, 3)
	want := []time.Time{
		monday,
		monday.AddDate(0, 0, 2),
		monday.AddDate(0, 0, 7),
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("slot %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPreviewIntervalFiltersFirstCandidate(t *testing.T) {
	t.Parallel()
	cfg := entity.ScheduleConfig{
		Mode:            entity.ModeInterval,
		IntervalHours:   4,
		AllowedWeekdays: weekdays(time.Tuesday),
	}.Normalize()

	got := Preview(cfg, monday, 1)
	want := monday.AddDate(0, 0, 1)
	if !got[0].Equal(want) {
		t.Fatalf("first slot = %s, want %s", got[0], want)
	}
}

func TestPreviewProperties(t *testing.T) {
	t.Parallel()
	configs := []entity.ScheduleConfig{
		{Mode: entity.ModeInterval, IntervalHours: 1},
		{Mode: entity.ModeInterval, IntervalHours: 5, AllowedWeekdays: weekdays(time.Saturday)},
		{Mode: entity.ModeInterval, IntervalHours: 168, AllowedWeekdays: weekdays(time.Sunday, time.Thursday)},
		{Mode: entity.ModeFixedTimes, Times: times(t, "00:00", "23:59")},
		{Mode: entity.ModeFixedTimes, Times: times(t, "07:30"), AllowedWeekdays: weekdays(time.Wednesday)},
		{Mode: entity.ModeFixedTimes, Times: times(t, "12:00"), Timezone: "Asia/Tashkent"},
	}
	froms := []time.Time{
		monday,
		time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC),
	}

	for ci, raw := range configs {
		cfg := raw.Normalize()
		for _, from := range froms {
			for _, n := range []int{1, 7, 50, 365} {
				got := Preview(cfg, from, n)
				if len(got) != n {
					t.Fatalf("config %d from %s: got %d slots, want %d", ci, from, len(got), n)
				}
				for i, slot := range got {
					if slot.Before(from) {
						t.Fatalf("config %d: slot %d (%s) before from (%s)", ci, i, slot, from)
					}
					if !cfg.WeekdayAllowed(slot.In(cfg.Location()).Weekday()) {
						t.Fatalf("config %d: slot %d (%s) on disallowed weekday", ci, i, slot)
					}
					if i > 0 && slot.Before(got[i-1]) {
						t.Fatalf("config %d: slots not ascending at %d", ci, i)
					}
				}
			}
		}
	}
}

func TestClampCount(t *testing.T) {
	t.Parallel()
	for in, want := range map[int]int{-5: 1, 0: 1, 1: 1, 100: 100, 365: 365, 1000: 365} {
		if got := ClampCount(in); got != want {
			t.Fatalf("ClampCount(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPlanPostsIntervalScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := monday
	clock := func() time.Time { return now }

	store := dao.NewPostMemory(
		dao.WithClock(clock),
		dao.WithScheduleConfig(entity.ScheduleConfig{Mode: entity.ModeInterval, IntervalHours: 4}),
	)
	var ids []string
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		p, _, err := store.QueueFile(ctx, dao.QueueInput{Filename: name, MediaRef: "https://cdn/" + name})
		if err != nil {
			t.Fatalf("QueueFile error: %v", err)
		}
		ids = append(ids, p.ID)
	}

	res, err := New(store, nil, clock).PlanPosts(ctx)
	if err != nil {
		t.Fatalf("PlanPosts error: %v", err)
	}
	if res.Planned != 3 {
		t.Fatalf("Planned = %d, want 3", res.Planned)
	}

	for i, id := range ids {
		p, _ := store.Get(ctx, id)
		want := now.Add(time.Duration(4*i) * time.Hour)
		if p.Status != entity.StatusScheduled || !p.ScheduledAt.Equal(want) {
			t.Fatalf("post %d: status=%s at=%s, want scheduled at %s", i, p.Status, p.ScheduledAt, want)
		}
	}
	if last := store.LastPlanRun(ctx); last == nil || !last.Equal(now) {
		t.Fatalf("LastPlanRun = %v", last)
	}
}

func TestPlanPostsEmptyRecordsRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := monday
	store := dao.NewPostMemory(dao.WithClock(func() time.Time { return now }))

	res, err := New(store, nil, func() time.Time { return now }).PlanPosts(ctx)
	if err != nil || res.Planned != 0 {
		t.Fatalf("PlanPosts = %+v, %v", res, err)
	}
	if store.LastPlanRun(ctx) == nil {
		t.Fatal("empty plan run was not recorded")
	}
}

func TestPlanPostsLeavesScheduledAlone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := monday
	clock := func() time.Time { return now }
	store := dao.NewPostMemory(dao.WithClock(clock))

	p, _, _ := store.QueueFile(ctx, dao.QueueInput{Filename: "a.jpg", MediaRef: "x"})
	fixed := now.Add(48 * time.Hour)
	if _, err := store.Apply(ctx, p.ID, entity.Schedule{At: fixed}); err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if _, err := New(store, nil, clock).PlanPosts(ctx); err != nil {
		t.Fatalf("PlanPosts error: %v", err)
	}
	got, _ := store.Get(ctx, p.ID)
	if !got.ScheduledAt.Equal(fixed) {
		t.Fatalf("scheduled post moved to %s", got.ScheduledAt)
	}
}
