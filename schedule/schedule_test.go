package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		sched Schedule
	}{
		{"bad tz", Schedule{Name: "d", Kind: Daily, At: "17:00", TZ: "Not/AZone"}},
		{"bad time", Schedule{Name: "d", Kind: Daily, At: "25:00", TZ: "UTC"}},
		{"missing colon", Schedule{Name: "d", Kind: Daily, At: "1700", TZ: "UTC"}},
		{"bad holiday", Schedule{Name: "d", Kind: Daily, At: "17:00", TZ: "UTC", Holidays: []string{"july 4"}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewScheduler()
			assert.Error(t, s.Add(tt.sched, nil))
		})
	}
}

func TestDailyBoundaryFiresOnceAcrossCrossing(t *testing.T) {
	t.Parallel()

	loc := chicago(t)
	now := time.Date(2025, 6, 2, 16, 0, 0, 0, loc) // Monday 16:00 CT
	s := NewScheduler()
	s.SetClock(func() time.Time { return now })

	var fired []time.Time
	require.NoError(t, s.Add(Schedule{
		Name: "daily_reset", Kind: Daily, At: "17:00", TZ: "America/Chicago",
	}, func(name string, boundary time.Time) {
		fired = append(fired, boundary)
	}))

	// Before the boundary: nothing due.
	assert.False(t, s.Due("daily_reset", now))
	s.Tick(now)
	assert.Empty(t, fired)

	// Cross 17:00.
	now = time.Date(2025, 6, 2, 17, 0, 1, 0, loc)
	assert.True(t, s.Due("daily_reset", now))
	s.Tick(now)
	require.Len(t, fired, 1)
	assert.Equal(t, time.Date(2025, 6, 2, 17, 0, 0, 0, loc).Unix(), fired[0].Unix())

	// Same boundary never fires twice.
	s.Tick(now.Add(time.Minute))
	assert.Len(t, fired, 1)

	// Next day's boundary fires again.
	now = time.Date(2025, 6, 3, 17, 0, 1, 0, loc)
	s.Tick(now)
	assert.Len(t, fired, 2)
}

func TestHolidayBoundarySkipped(t *testing.T) {
	t.Parallel()

	loc := chicago(t)
	now := time.Date(2025, 7, 3, 18, 0, 0, 0, loc)
	s := NewScheduler()
	s.SetClock(func() time.Time { return now })

	fires := 0
	require.NoError(t, s.Add(Schedule{
		Name: "daily_reset", Kind: Daily, At: "17:00", TZ: "America/Chicago",
		Holidays: []string{"2025-07-04"},
	}, func(string, time.Time) { fires++ }))

	// Cross the July 4 boundary: skipped.
	now = time.Date(2025, 7, 4, 17, 30, 0, 0, loc)
	s.Tick(now)
	assert.Zero(t, fires)

	// July 5 fires normally.
	now = time.Date(2025, 7, 5, 17, 30, 0, 0, loc)
	s.Tick(now)
	assert.Equal(t, 1, fires)
}

func TestSessionStartSkipsSaturday(t *testing.T) {
	t.Parallel()

	loc := chicago(t)
	// Friday 2025-06-06 18:00 CT.
	now := time.Date(2025, 6, 6, 18, 0, 0, 0, loc)
	s := NewScheduler()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Add(Schedule{
		Name: "session_open", Kind: SessionStart, At: "17:00", TZ: "America/Chicago",
	}, nil))

	next, ok := s.NextFire("session_open")
	require.True(t, ok)
	// Saturday is skipped; next open is Sunday 17:00.
	assert.Equal(t, time.Date(2025, 6, 8, 17, 0, 0, 0, loc).Unix(), next.Unix())
}

func TestPastBoundariesDoNotFireAtStartup(t *testing.T) {
	t.Parallel()

	loc := chicago(t)
	now := time.Date(2025, 6, 2, 18, 0, 0, 0, loc) // just after 17:00
	s := NewScheduler()
	s.SetClock(func() time.Time { return now })

	fires := 0
	require.NoError(t, s.Add(Schedule{
		Name: "daily_reset", Kind: Daily, At: "17:00", TZ: "America/Chicago",
	}, func(string, time.Time) { fires++ }))

	s.Tick(now.Add(time.Second))
	assert.Zero(t, fires)
}
