package fsrs

import "time"

// ReviewLog records a single review event for analytics and replay.
type ReviewLog struct {
	CardID        string
	Rating        Rating
	ReviewedAt    time.Time
	PreviousState State
	NextState     State
	// ElapsedDays and ScheduledDays describe the interval around this review;
	// Stability and Difficulty are the values after it.
	ElapsedDays   int
	ScheduledDays int
	Stability     float64
	Difficulty    float64
}
