package fsrs

import (
	"fmt"
	"time"
)

// Scheduler computes the next memory state of a card after a review.
// It holds no mutable state and is safe for concurrent use.
type Scheduler struct {
	params Params
	model  model
}

// NewScheduler validates params and binds them to a Scheduler.
func NewScheduler(params Params) (*Scheduler, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params.LearningSteps = append([]time.Duration(nil), params.LearningSteps...)
	params.RelearningSteps = append([]time.Duration(nil), params.RelearningSteps...)
	return &Scheduler{params: params, model: newModel(params)}, nil
}

// Params returns a copy of the scheduler's parameters.
func (s *Scheduler) Params() Params {
	p := s.params
	p.LearningSteps = append([]time.Duration(nil), p.LearningSteps...)
	p.RelearningSteps = append([]time.Duration(nil), p.RelearningSteps...)
	return p
}

// Schedule reviews card with rating at now using params. It is the unbound
// form of (*Scheduler).Schedule.
func Schedule(card Card, rating Rating, now time.Time, params Params) (Card, ReviewLog, error) {
	s, err := NewScheduler(params)
	if err != nil {
		return Card{}, ReviewLog{}, err
	}
	return s.Schedule(card, rating, now)
}

// Schedule returns the card's state after being reviewed with rating at now,
// and the matching review log. The input card is left untouched.
func (s *Scheduler) Schedule(card Card, rating Rating, now time.Time) (Card, ReviewLog, error) {
	if !rating.IsValid() {
		return Card{}, ReviewLog{}, fmt.Errorf("%w: %d", ErrInvalidRating, int(rating))
	}
	if err := card.Validate(); err != nil {
		return Card{}, ReviewLog{}, err
	}

	c := card.clone()
	elapsed := card.elapsedDays(now)
	c.Reps++

	switch card.State {
	case New:
		s.reviewNew(&c, rating, now)
	case Learning, Relearning:
		s.reviewStep(&c, rating, now, elapsed)
	case Review:
		s.reviewReview(&c, rating, now, elapsed)
	}

	c.ElapsedDays = elapsed
	reviewed := now
	c.LastReview = &reviewed

	log := ReviewLog{
		CardID:        c.ID,
		Rating:        rating,
		ReviewedAt:    now,
		PreviousState: card.State,
		NextState:     c.State,
		ElapsedDays:   c.ElapsedDays,
		ScheduledDays: c.ScheduledDays,
		Stability:     c.Stability,
		Difficulty:    c.Difficulty,
	}
	return c, log, nil
}

// Preview returns the outcome of every rating without committing to one.
func (s *Scheduler) Preview(card Card, now time.Time) (map[Rating]Card, error) {
	out := make(map[Rating]Card, len(Ratings))
	for _, r := range Ratings {
		c, _, err := s.Schedule(card, r, now)
		if err != nil {
			return nil, err
		}
		out[r] = c
	}
	return out, nil
}

// Retrievability returns the modeled probability that the card is recalled
// at now. Cards that were never reviewed report 0.
func (s *Scheduler) Retrievability(card Card, now time.Time) float64 {
	if card.State == New || card.LastReview == nil || card.Stability <= 0 {
		return 0
	}
	return s.model.retrievability(card.elapsedDays(now), card.Stability)
}

// Reschedule replays logs, in order, on top of card. Passing a fresh card and
// a card's full history rebuilds its state under the current parameters.
func (s *Scheduler) Reschedule(card Card, logs []ReviewLog) (Card, error) {
	c := card.clone()
	for _, l := range logs {
		if l.CardID != c.ID {
			return Card{}, fmt.Errorf("%w: card %q, log %q", ErrCardIDMismatch, c.ID, l.CardID)
		}
		var err error
		c, _, err = s.Schedule(c, l.Rating, l.ReviewedAt)
		if err != nil {
			return Card{}, fmt.Errorf("failed to replay review at %s: %w", l.ReviewedAt.Format(time.RFC3339), err)
		}
	}
	return c, nil
}

// reviewNew initializes memory from the rating-indexed base values and
// places the card on the learning steps.
func (s *Scheduler) reviewNew(c *Card, r Rating, now time.Time) {
	c.Stability = s.model.initStability(r)
	c.Difficulty = s.model.initDifficulty(r)

	steps := s.params.LearningSteps
	n := len(steps)
	if n == 0 {
		s.toReview(c, now)
		return
	}

	c.State = Learning
	switch r {
	case Again:
		toStep(c, 0, steps[0], now)
	case Hard:
		toStep(c, 0, hardWait(steps, 0), now)
	case Good:
		i := min(1, n-1)
		toStep(c, i, steps[i], now)
	case Easy:
		toStep(c, n-1, steps[n-1], now)
	}
}

// reviewStep handles Learning and Relearning.
func (s *Scheduler) reviewStep(c *Card, r Rating, now time.Time, elapsed int) {
	d := c.Difficulty
	if elapsed == 0 {
		c.Stability = s.model.shortTermStability(c.Stability, r)
	} else {
		ret := s.model.retrievability(elapsed, c.Stability)
		if r == Again {
			c.Stability = s.model.lapseStability(d, c.Stability, ret)
		} else {
			c.Stability = s.model.recallStability(d, c.Stability, ret, r)
		}
	}
	c.Difficulty = s.model.nextDifficulty(d, r)

	steps := s.params.LearningSteps
	if c.State == Relearning {
		steps = s.params.RelearningSteps
	}
	n := len(steps)

	switch {
	case n == 0:
		state := c.State
		s.toReview(c, now)
		if r == Again {
			c.State = state
		}
	case r == Easy:
		s.toReview(c, now)
	case r == Again:
		toStep(c, 0, steps[0], now)
	default:
		next := c.LearningSteps + 1
		if next >= n {
			s.toReview(c, now)
			return
		}
		wait := steps[next]
		if r == Hard {
			wait = (steps[next-1] + steps[next]) / 2
		}
		toStep(c, next, wait, now)
	}
}

// reviewReview handles long-term reviews.
func (s *Scheduler) reviewReview(c *Card, r Rating, now time.Time, elapsed int) {
	d := c.Difficulty
	ret := s.model.retrievability(elapsed, c.Stability)

	if r == Again {
		c.Lapses++
		c.Stability = s.model.lapseStability(d, c.Stability, ret)
		c.Difficulty = s.model.nextDifficulty(d, Again)
		steps := s.params.RelearningSteps
		if len(steps) == 0 {
			// Without steps the relearning wait is a whole-day interval.
			s.toReview(c, now)
			c.State = Relearning
			return
		}
		c.State = Relearning
		toStep(c, 0, steps[0], now)
		return
	}

	c.Stability = s.model.recallStability(d, c.Stability, ret, r)
	c.Difficulty = s.model.nextDifficulty(d, r)
	s.toReview(c, now)
}

// toReview moves the card to Review with an interval derived from its stability.
func (s *Scheduler) toReview(c *Card, now time.Time) {
	ivl := s.model.interval(c.Stability, s.params.DesiredRetention, s.params.MaximumInterval)
	if s.params.EnableFuzz {
		ivl = fuzzInterval(ivl, s.params.FuzzFactor, s.params.MaximumInterval, c.ID, c.Reps)
	}
	c.State = Review
	c.LearningSteps = 0
	c.ScheduledDays = ivl
	c.Due = now.AddDate(0, 0, ivl)
}

func toStep(c *Card, step int, wait time.Duration, now time.Time) {
	c.LearningSteps = step
	c.ScheduledDays = 0
	c.Due = now.Add(wait)
}

// hardWait is the delay for Hard at step i: halfway to the next step, or
// half again the step when it is the last one.
func hardWait(steps []time.Duration, i int) time.Duration {
	if i+1 < len(steps) {
		return (steps[i] + steps[i+1]) / 2
	}
	return steps[i] * 3 / 2
}
