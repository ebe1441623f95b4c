// Package review runs reviews against stored cards: it loads a card, asks the
// scheduler for its next state and persists the result with its log.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/fsrs"
	"github.com/conorfennell/knolsched/internal/knol"
	"github.com/conorfennell/knolsched/internal/storage"
)

// ErrEmptyCard is returned when a card is added without a front or back.
var ErrEmptyCard = errors.New("review: card needs both a front and a back")

// Service schedules reviews for the cards held in a store.
type Service struct {
	db        *storage.DB
	scheduler *fsrs.Scheduler
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock used to timestamp reviews.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger for review events. It defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService returns a Service over db using scheduler.
func NewService(db *storage.DB, scheduler *fsrs.Scheduler, opts ...Option) *Service {
	s := &Service{
		db:        db,
		scheduler: scheduler,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores a new card, identified by its content hash, due immediately.
// Adding content that is already stored returns the existing card and false.
func (s *Service) Add(ctx context.Context, content domain.Card) (*storage.CardRecord, bool, error) {
	if strings.TrimSpace(content.Front) == "" || strings.TrimSpace(content.Back) == "" {
		return nil, false, ErrEmptyCard
	}
	content.Hash = knol.Hash(content)

	inserted, err := s.db.InsertCard(ctx, content, fsrs.NewCard(content.Hash, s.now()))
	if err != nil {
		return nil, false, err
	}
	rec, err := s.db.FindCard(ctx, content.Hash)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		s.logger.Info("Card added", "card", knol.Short(content.Hash, 12))
	} else {
		s.logger.Debug("Card already present", "card", knol.Short(content.Hash, 12))
	}
	return rec, inserted, nil
}

// Review grades the card with rating at the current time and stores the
// outcome. Concurrent reviews of the same card are applied one after another.
func (s *Service) Review(ctx context.Context, id string, rating fsrs.Rating) (fsrs.Card, error) {
	now := s.now()
	var prev fsrs.State
	next, err := s.db.ApplyReview(ctx, id, func(current fsrs.Card) (fsrs.Card, fsrs.ReviewLog, error) {
		prev = current.State
		return s.scheduler.Schedule(current, rating, now)
	})
	if err != nil {
		if errors.Is(err, fsrs.ErrInvalidRating) || errors.Is(err, fsrs.ErrInvalidCard) {
			s.logger.Warn("Review rejected", "card", knol.Short(id, 12), "rating", int(rating), "error", err)
		}
		return fsrs.Card{}, fmt.Errorf("failed to review card %s: %w", knol.Short(id, 12), err)
	}

	s.logger.Info("Card reviewed",
		"card", knol.Short(id, 12),
		"rating", rating,
		"from", prev,
		"to", next.State,
		"due", next.Due.Format(time.RFC3339),
	)
	return next, nil
}

// Preview returns the state the card would reach under each rating now,
// without storing anything.
func (s *Service) Preview(ctx context.Context, id string) (map[fsrs.Rating]fsrs.Card, error) {
	rec, err := s.db.FindCard(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.scheduler.Preview(rec.Memory, s.now())
}

// Retrievability returns the modeled recall probability of the card now.
func (s *Service) Retrievability(ctx context.Context, id string) (float64, error) {
	rec, err := s.db.FindCard(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.scheduler.Retrievability(rec.Memory, s.now()), nil
}

// Due lists up to limit cards that are due now, most overdue first.
func (s *Service) Due(ctx context.Context, limit int) ([]storage.CardRecord, error) {
	return s.db.DueCards(ctx, s.now(), limit)
}

// Rebuild recomputes the card's memory state by replaying its review history
// under the scheduler's current parameters.
func (s *Service) Rebuild(ctx context.Context, id string) (fsrs.Card, error) {
	rec, err := s.db.FindCard(ctx, id)
	if err != nil {
		return fsrs.Card{}, err
	}
	logs, err := s.db.ReviewLogs(ctx, id)
	if err != nil {
		return fsrs.Card{}, err
	}

	rebuilt, err := s.scheduler.Reschedule(fsrs.NewCard(id, rec.CreatedAt), logs)
	if err != nil {
		return fsrs.Card{}, fmt.Errorf("failed to rebuild card %s: %w", knol.Short(id, 12), err)
	}
	if err := s.db.ReplaceMemory(ctx, rebuilt); err != nil {
		return fsrs.Card{}, err
	}

	s.logger.Info("Card rebuilt", "card", knol.Short(id, 12), "reviews", len(logs), "state", rebuilt.State)
	return rebuilt, nil
}

// RebuildAll rebuilds every stored card and reports how many were rebuilt.
func (s *Service) RebuildAll(ctx context.Context) (int, error) {
	ids, err := s.db.CardIDs(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := s.Rebuild(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// Remove deletes the card and its review history.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.db.DeleteCard(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Card removed", "card", knol.Short(id, 12))
	return nil
}

// Stats summarizes the collection at the current time.
func (s *Service) Stats(ctx context.Context) (storage.Stats, error) {
	return s.db.Stats(ctx, s.now())
}
