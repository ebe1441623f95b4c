package review

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/fsrs"
	"github.com/conorfennell/knolsched/internal/knol"
	"github.com/conorfennell/knolsched/internal/storage"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, params fsrs.Params) (*Service, *storage.DB, *clock) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := fsrs.NewScheduler(params)
	require.NoError(t, err)

	clk := &clock{now: t0}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(db, s, WithClock(clk.Now), WithLogger(logger)), db, clk
}

func noFuzz() fsrs.Params {
	p := fsrs.DefaultParams()
	p.EnableFuzz = false
	return p
}

var sample = domain.Card{Front: "der Apfel", Back: "the apple", Example: "Ich esse einen Apfel."}

func TestAdd(t *testing.T) {
	svc, _, _ := newTestService(t, fsrs.DefaultParams())
	ctx := context.Background()

	rec, inserted, err := svc.Add(ctx, sample)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, knol.Hash(sample), rec.Memory.ID)
	assert.Equal(t, fsrs.New, rec.Memory.State)
	assert.True(t, rec.Memory.Due.Equal(t0))

	// Same content after normalization is the same card.
	dup := domain.Card{Front: "  Der Apfel ", Back: "THE APPLE", Example: "ich esse einen apfel."}
	again, inserted, err := svc.Add(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, rec.Memory.ID, again.Memory.ID)

	_, _, err = svc.Add(ctx, domain.Card{Front: "only a front"})
	assert.ErrorIs(t, err, ErrEmptyCard)
}

func TestReviewThroughLearning(t *testing.T) {
	svc, db, clk := newTestService(t, noFuzz())
	ctx := context.Background()

	rec, _, err := svc.Add(ctx, sample)
	require.NoError(t, err)
	id := rec.Memory.ID

	card, err := svc.Review(ctx, id, fsrs.Good)
	require.NoError(t, err)
	assert.Equal(t, fsrs.Learning, card.State)
	assert.Equal(t, 1, card.LearningSteps)
	assert.True(t, card.Due.Equal(t0.Add(10*time.Minute)))

	clk.Advance(10 * time.Minute)
	card, err = svc.Review(ctx, id, fsrs.Good)
	require.NoError(t, err)
	assert.Equal(t, fsrs.Review, card.State)
	assert.GreaterOrEqual(t, card.ScheduledDays, 1)
	assert.Equal(t, 2, card.Reps)

	stored, err := db.FindCard(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, card.State, stored.Memory.State)
	assert.Equal(t, card.Stability, stored.Memory.Stability)
	assert.True(t, card.Due.Equal(stored.Memory.Due))

	logs, err := db.ReviewLogs(ctx, id)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, fsrs.New, logs[0].PreviousState)
	assert.Equal(t, fsrs.Learning, logs[1].PreviousState)
	assert.Equal(t, fsrs.Review, logs[1].NextState)
}

func TestReviewRejectsInvalidInput(t *testing.T) {
	svc, db, _ := newTestService(t, fsrs.DefaultParams())
	ctx := context.Background()

	rec, _, err := svc.Add(ctx, sample)
	require.NoError(t, err)

	_, err = svc.Review(ctx, rec.Memory.ID, fsrs.Rating(7))
	assert.ErrorIs(t, err, fsrs.ErrInvalidRating)

	stored, err := db.FindCard(ctx, rec.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Memory.Reps, "a rejected review must not change the card")
	logs, err := db.ReviewLogs(ctx, rec.Memory.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = svc.Review(ctx, "missing", fsrs.Good)
	assert.ErrorIs(t, err, storage.ErrCardNotFound)
}

func TestConcurrentReviewsAreSerialized(t *testing.T) {
	svc, db, _ := newTestService(t, fsrs.DefaultParams())
	ctx := context.Background()

	rec, _, err := svc.Add(ctx, sample)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Review(ctx, rec.Memory.ID, fsrs.Good)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := db.FindCard(ctx, rec.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, n, stored.Memory.Reps)
	logs, err := db.ReviewLogs(ctx, rec.Memory.ID)
	require.NoError(t, err)
	assert.Len(t, logs, n)
}

func TestPreviewDoesNotStore(t *testing.T) {
	svc, db, _ := newTestService(t, fsrs.DefaultParams())
	ctx := context.Background()

	rec, _, err := svc.Add(ctx, sample)
	require.NoError(t, err)

	outcomes, err := svc.Preview(ctx, rec.Memory.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	for _, r := range fsrs.Ratings {
		assert.Equal(t, 1, outcomes[r].Reps, r.String())
	}

	stored, err := db.FindCard(ctx, rec.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, fsrs.New, stored.Memory.State)

	_, err = svc.Preview(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrCardNotFound)
}

func TestRetrievability(t *testing.T) {
	svc, _, clk := newTestService(t, noFuzz())
	ctx := context.Background()

	rec, _, err := svc.Add(ctx, sample)
	require.NoError(t, err)
	id := rec.Memory.ID

	r, err := svc.Retrievability(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, r, "new cards have no modeled recall")

	_, err = svc.Review(ctx, id, fsrs.Easy)
	require.NoError(t, err)
	clk.Advance(10 * time.Minute)
	card, err := svc.Review(ctx, id, fsrs.Good)
	require.NoError(t, err)
	require.Equal(t, fsrs.Review, card.State)

	clk.Advance(3 * 24 * time.Hour)
	r, err = svc.Retrievability(ctx, id)
	require.NoError(t, err)
	assert.Greater(t, r, 0.0)
	assert.Less(t, r, 1.0)
}

func TestDue(t *testing.T) {
	svc, _, clk := newTestService(t, fsrs.DefaultParams())
	ctx := context.Background()

	first, _, err := svc.Add(ctx, sample)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	second, _, err := svc.Add(ctx, domain.Card{Front: "die Birne", Back: "the pear"})
	require.NoError(t, err)

	due, err := svc.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, first.Memory.ID, due[0].Memory.ID)
	assert.Equal(t, second.Memory.ID, due[1].Memory.ID)

	_, err = svc.Review(ctx, first.Memory.ID, fsrs.Easy)
	require.NoError(t, err)

	due, err = svc.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, second.Memory.ID, due[0].Memory.ID)
}

// reviewFor plays a short history across several days.
func reviewFor(t *testing.T, svc *Service, clk *clock, id string) fsrs.Card {
	t.Helper()
	ctx := context.Background()
	var card fsrs.Card
	steps := []struct {
		wait   time.Duration
		rating fsrs.Rating
	}{
		{0, fsrs.Good},
		{10 * time.Minute, fsrs.Good},
		{3 * 24 * time.Hour, fsrs.Good},
		{9 * 24 * time.Hour, fsrs.Again},
		{10 * time.Minute, fsrs.Good},
		{4 * 24 * time.Hour, fsrs.Hard},
	}
	for _, st := range steps {
		clk.Advance(st.wait)
		var err error
		card, err = svc.Review(ctx, id, st.rating)
		require.NoError(t, err)
	}
	return card
}

func TestRebuildReproducesHistory(t *testing.T) {
	fuzzed := fsrs.DefaultParams()
	fuzzed.EnableFuzz = true
	svc, _, clk := newTestService(t, fuzzed)
	ctx := context.Background()

	rec, _, err := svc.Add(ctx, sample)
	require.NoError(t, err)
	want := reviewFor(t, svc, clk, rec.Memory.ID)

	got, err := svc.Rebuild(ctx, rec.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.Reps, got.Reps)
	assert.Equal(t, want.Lapses, got.Lapses)
	assert.Equal(t, 1, got.Lapses)
	assert.InDelta(t, want.Stability, got.Stability, 1e-9)
	assert.InDelta(t, want.Difficulty, got.Difficulty, 1e-9)
	assert.Equal(t, want.ScheduledDays, got.ScheduledDays)
	assert.True(t, want.Due.Equal(got.Due))
}

func TestRebuildUnderNewParams(t *testing.T) {
	svc, db, clk := newTestService(t, noFuzz())
	ctx := context.Background()

	rec, _, err := svc.Add(ctx, sample)
	require.NoError(t, err)
	before := reviewFor(t, svc, clk, rec.Memory.ID)

	looser := noFuzz()
	looser.DesiredRetention = 0.7
	s, err := fsrs.NewScheduler(looser)
	require.NoError(t, err)
	relaxed := NewService(db, s, WithClock(clk.Now), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	n, err := relaxed.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := db.FindCard(ctx, rec.Memory.ID)
	require.NoError(t, err)
	assert.Greater(t, stored.Memory.ScheduledDays, before.ScheduledDays)
	assert.InDelta(t, before.Stability, stored.Memory.Stability, 1e-9, "stability does not depend on the retention target")

	logs, err := db.ReviewLogs(ctx, rec.Memory.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 6, "rebuilding does not log reviews")
}

func TestRemoveAndStats(t *testing.T) {
	svc, _, _ := newTestService(t, fsrs.DefaultParams())
	ctx := context.Background()

	a, _, err := svc.Add(ctx, sample)
	require.NoError(t, err)
	_, _, err = svc.Add(ctx, domain.Card{Front: "die Birne", Back: "the pear"})
	require.NoError(t, err)
	_, err = svc.Review(ctx, a.Memory.ID, fsrs.Again)
	require.NoError(t, err)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Reviews)
	assert.Equal(t, 1, st.ByState[fsrs.Learning])

	require.NoError(t, svc.Remove(ctx, a.Memory.ID))
	assert.ErrorIs(t, svc.Remove(ctx, a.Memory.ID), storage.ErrCardNotFound)

	st, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 0, st.Reviews)
}
