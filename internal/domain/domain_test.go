package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeActivity(t *testing.T) {
	cases := map[string]ActivityKind{
		"Morning RUN":         KindRun,
		"Лёгкий бег":          KindRun,
		"Sauna protocol":      KindSauna,
		"Баня":                KindSauna,
		"Intermittent fast":   KindPost,
		"Пост":                KindPost,
		"Cold water swim":     KindWater,
		"Бассейн":             KindWater,
		"Yoga flow":           KindYoga,
		"Растяжка":            KindYoga,
		"Strength session":    KindOther,
		"":                    KindOther,
		"  sauna + pool  ":    KindSauna,
		"Йога после бассейна": KindWater,
		"Swimming drills":     KindWater,
		"Cold plunge":         KindWater,
		"Fasting day":         KindPost,
		"Post-run recovery":   KindPost,
		"Breakfast walk":      KindOther,
		"Brunch":              KindOther,
		"Postural yoga":       KindYoga,
		"Парилка":             KindSauna,
	}
	for label, want := range cases {
		require.Equal(t, want, NormalizeActivity(label), "label %q", label)
	}
}

func TestWorkoutKindFallsBackToName(t *testing.T) {
	w := Workout{Name: "Tempo run"}
	require.Equal(t, KindRun, w.Kind())

	w.ActivityType = "yoga"
	require.Equal(t, KindYoga, w.Kind())
}

func TestBaseID(t *testing.T) {
	require.Equal(t, "X", BaseID("X|water1"))
	require.Equal(t, "X", BaseID("X"))
	require.Equal(t, "X|sauna", CompositeID("X", SuffixSauna))
}

func TestSameISOWeek(t *testing.T) {
	sunday := time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)
	monday := AddDays(sunday, 1)
	tuesday := AddDays(sunday, 2)

	require.False(t, SameISOWeek(sunday, monday, time.UTC))
	require.True(t, SameISOWeek(monday, tuesday, time.UTC))
	require.Equal(t, 7, ISOWeekday(sunday))
	require.Equal(t, 1, ISOWeekday(monday))
}

func TestGridBounds(t *testing.T) {
	start, end := GridBounds(time.Date(2025, time.March, 15, 13, 0, 0, 0, time.UTC), time.UTC)
	require.Equal(t, "2025-02-24", start.Format(DayLayout))
	require.Equal(t, "2025-04-06", end.Format(DayLayout))
}

func TestParseDay(t *testing.T) {
	for _, raw := range []string{"2025-03-05", "2025-03-05 18:30:00", "2025-03-05T18:30:00Z"} {
		day, err := ParseDay(raw, time.UTC)
		require.NoError(t, err)
		require.Equal(t, time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC), day)
	}
	_, err := ParseDay("05/03/2025", time.UTC)
	require.Error(t, err)
}

func TestMergeCachedWorkoutsKeepsNewest(t *testing.T) {
	older := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	existing := []CachedWorkout{{ID: "a", Name: "old", UpdatedAt: newer}}
	incoming := []CachedWorkout{{ID: "a", Name: "stale", UpdatedAt: older}}
	merged := MergeCachedWorkouts(existing, incoming)
	require.Len(t, merged, 1)
	require.Equal(t, "old", merged[0].Name)

	tie := []CachedWorkout{{ID: "a", Name: "tie", UpdatedAt: newer}}
	merged = MergeCachedWorkouts(existing, tie)
	require.Equal(t, "tie", merged[0].Name, "equal UpdatedAt keeps the incoming entry")
}

func TestEnvelopeNormalizeKeepsSetsDisjoint(t *testing.T) {
	env := Envelope{
		MonthKey: "2025-03",
		Workouts: []CachedWorkout{
			{ID: "a", Date: time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC)},
			{ID: "b", Date: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "a", Date: time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC)},
		},
		SoftDeletedIDs: []string{"b", "b", ""},
	}
	env.Normalize()

	require.Equal(t, []string{"b"}, env.SoftDeletedIDs)
	require.Len(t, env.Workouts, 1)
	require.Equal(t, "a", env.Workouts[0].ID)
}

func TestEnvelopeUpsertRevivesSoftDeleted(t *testing.T) {
	day := time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC)
	env := Envelope{SoftDeletedIDs: []string{"a"}}
	env.Upsert(CachedWorkout{ID: "a", Date: day})
	env.Upsert(CachedWorkout{ID: "a", Date: AddDays(day, 1)})

	require.Empty(t, env.SoftDeletedIDs)
	require.Len(t, env.Workouts, 1)
	require.Equal(t, AddDays(day, 1), env.Workouts[0].Date)
}

func TestWorkoutSameShape(t *testing.T) {
	a := Workout{ActivityType: "sauna", PlannedLayers: IntPtr(3), SwimLayers: []int{2, 1}}
	b := a.Clone()
	require.True(t, a.SameShape(b))

	b.SwimLayers[0] = 4
	require.False(t, a.SameShape(b))
	require.Equal(t, 2, a.SwimLayers[0], "clone must not alias swim layers")
}
