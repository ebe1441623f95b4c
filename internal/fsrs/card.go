package fsrs

import (
	"fmt"
	"math"
	"time"
)

const (
	minDifficulty = 1.0
	maxDifficulty = 10.0
)

// Card holds the memory state of one learning item.
type Card struct {
	// ID identifies the card to the storage layer. It also seeds interval fuzz.
	ID string

	Stability  float64
	Difficulty float64
	Due        time.Time
	LastReview *time.Time

	// ElapsedDays is the whole number of days since the previous review,
	// as of the review that produced this state.
	ElapsedDays int
	// ScheduledDays is the interval that produced Due (0 while in steps).
	ScheduledDays int

	Reps   int
	Lapses int
	State  State
	// LearningSteps indexes the step sequence while in Learning or Relearning.
	LearningSteps int
}

// NewCard returns an unreviewed card that is due immediately.
func NewCard(id string, now time.Time) Card {
	return Card{
		ID:    id,
		Due:   now,
		State: New,
	}
}

// Validate checks the card's field invariants. A New card may carry the
// zero stability/difficulty pair it was created with.
func (c Card) Validate() error {
	if !c.State.IsValid() {
		return fmt.Errorf("%w: unknown state %d", ErrInvalidCard, int(c.State))
	}
	if c.Reps < 0 || c.Lapses < 0 || c.ElapsedDays < 0 || c.ScheduledDays < 0 || c.LearningSteps < 0 {
		return fmt.Errorf("%w: negative counter", ErrInvalidCard)
	}
	if c.Reps < c.Lapses {
		return fmt.Errorf("%w: reps %d < lapses %d", ErrInvalidCard, c.Reps, c.Lapses)
	}
	if c.LastReview != nil && c.Due.Before(*c.LastReview) {
		return fmt.Errorf("%w: due %s before last review %s", ErrInvalidCard,
			c.Due.Format(time.RFC3339), c.LastReview.Format(time.RFC3339))
	}
	if c.State == New && c.Stability == 0 && c.Difficulty == 0 {
		return nil
	}
	if c.Stability <= 0 || math.IsNaN(c.Stability) || math.IsInf(c.Stability, 0) {
		return fmt.Errorf("%w: stability %v must be positive", ErrInvalidCard, c.Stability)
	}
	if !(c.Difficulty >= minDifficulty && c.Difficulty <= maxDifficulty) {
		return fmt.Errorf("%w: difficulty %v outside [1, 10]", ErrInvalidCard, c.Difficulty)
	}
	return nil
}

// clone returns a copy that shares no pointers with c.
func (c Card) clone() Card {
	out := c
	if c.LastReview != nil {
		t := *c.LastReview
		out.LastReview = &t
	}
	return out
}

// elapsedDays returns whole days since the last review, or since the card
// became due when it has never been reviewed. Clock skew yields 0.
func (c Card) elapsedDays(now time.Time) int {
	from := c.Due
	if c.LastReview != nil {
		from = *c.LastReview
	}
	d := now.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
