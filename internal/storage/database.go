package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/fsrs"
)

// ErrCardNotFound is returned when no card has the requested ID.
var ErrCardNotFound = errors.New("storage: card not found")

// Timestamps are stored as fixed-width UTC text so that string order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes every read-modify-write of a card.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// CardRecord is a stored card: its content plus its memory state.
type CardRecord struct {
	Content   domain.Card
	Memory    fsrs.Card
	CreatedAt time.Time
}

// InsertCard stores a new card. It reports false without error when a card
// with the same ID already exists.
func (db *DB) InsertCard(ctx context.Context, content domain.Card, memory fsrs.Card) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO cards (id, front, back, example, created_at, due, stability, difficulty,
			elapsed_days, scheduled_days, reps, lapses, state, learning_steps, last_review)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		memory.ID,
		content.Front,
		content.Back,
		content.Example,
		formatTime(memory.Due),
		formatTime(memory.Due),
		memory.Stability,
		memory.Difficulty,
		memory.ElapsedDays,
		memory.ScheduledDays,
		memory.Reps,
		memory.Lapses,
		int(memory.State),
		memory.LearningSteps,
		nullTime(memory.LastReview),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert card %s: %w", memory.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result for card %s: %w", memory.ID, err)
	}
	return n == 1, nil
}

const cardColumns = `id, front, back, example, created_at, due, stability, difficulty,
	elapsed_days, scheduled_days, reps, lapses, state, learning_steps, last_review`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*CardRecord, error) {
	var (
		rec          CardRecord
		created, due string
		lastReview   sql.NullString
		state        int
	)
	err := row.Scan(
		&rec.Memory.ID,
		&rec.Content.Front,
		&rec.Content.Back,
		&rec.Content.Example,
		&created,
		&due,
		&rec.Memory.Stability,
		&rec.Memory.Difficulty,
		&rec.Memory.ElapsedDays,
		&rec.Memory.ScheduledDays,
		&rec.Memory.Reps,
		&rec.Memory.Lapses,
		&state,
		&rec.Memory.LearningSteps,
		&lastReview,
	)
	if err != nil {
		return nil, err
	}
	rec.Content.Hash = rec.Memory.ID
	rec.Memory.State = fsrs.State(state)
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if rec.Memory.Due, err = parseTime(due); err != nil {
		return nil, err
	}
	if lastReview.Valid {
		t, err := parseTime(lastReview.String)
		if err != nil {
			return nil, err
		}
		rec.Memory.LastReview = &t
	}
	return &rec, nil
}

// FindCard retrieves a card by its ID.
func (db *DB) FindCard(ctx context.Context, id string) (*CardRecord, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	rec, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCardNotFound, id)
		}
		return nil, fmt.Errorf("failed to find card %s: %w", id, err)
	}
	return rec, nil
}

// DueCards returns up to limit cards due at or before now, earliest first.
func (db *DB) DueCards(ctx context.Context, now time.Time, limit int) ([]CardRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards WHERE due <= ?
		ORDER BY due, id
		LIMIT ?
	`, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due cards: %w", err)
	}
	defer rows.Close()

	var cards []CardRecord
	for rows.Next() {
		rec, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due cards: %w", err)
	}
	return cards, nil
}

// ReviewFunc computes a card's next memory state from its current one.
type ReviewFunc func(current fsrs.Card) (fsrs.Card, fsrs.ReviewLog, error)

// ApplyReview loads the card, passes its memory state to fn and writes back
// the returned state together with the review log, all in one transaction.
// An error from fn rolls everything back.
func (db *DB) ApplyReview(ctx context.Context, id string, fn ReviewFunc) (fsrs.Card, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fsrs.Card{}, fmt.Errorf("failed to begin review of card %s: %w", id, err)
	}
	defer tx.Rollback()

	rec, err := scanCard(tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fsrs.Card{}, fmt.Errorf("%w: %s", ErrCardNotFound, id)
		}
		return fsrs.Card{}, fmt.Errorf("failed to load card %s: %w", id, err)
	}

	next, log, err := fn(rec.Memory)
	if err != nil {
		return fsrs.Card{}, err
	}

	if err := updateMemory(ctx, tx, next); err != nil {
		return fsrs.Card{}, err
	}
	if err := insertReviewLog(ctx, tx, log); err != nil {
		return fsrs.Card{}, err
	}
	if err := tx.Commit(); err != nil {
		return fsrs.Card{}, fmt.Errorf("failed to commit review of card %s: %w", id, err)
	}
	return next, nil
}

// ReplaceMemory overwrites a card's memory state without logging a review.
func (db *DB) ReplaceMemory(ctx context.Context, memory fsrs.Card) error {
	return updateMemory(ctx, db.conn, memory)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateMemory(ctx context.Context, ex execer, c fsrs.Card) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE cards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
			reps = ?, lapses = ?, state = ?, learning_steps = ?, last_review = ?
		WHERE id = ?
	`,
		formatTime(c.Due),
		c.Stability,
		c.Difficulty,
		c.ElapsedDays,
		c.ScheduledDays,
		c.Reps,
		c.Lapses,
		int(c.State),
		c.LearningSteps,
		nullTime(c.LastReview),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update card state for %s: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrCardNotFound, c.ID)
	}
	return nil
}

func insertReviewLog(ctx context.Context, ex execer, l fsrs.ReviewLog) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate review log id: %w", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO review_logs (id, card_id, rating, reviewed_at, previous_state, next_state,
			elapsed_days, scheduled_days, stability, difficulty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id.String(),
		l.CardID,
		int(l.Rating),
		formatTime(l.ReviewedAt),
		int(l.PreviousState),
		int(l.NextState),
		l.ElapsedDays,
		l.ScheduledDays,
		l.Stability,
		l.Difficulty,
	)
	if err != nil {
		return fmt.Errorf("failed to insert review log for card %s: %w", l.CardID, err)
	}
	return nil
}

// ReviewLogs returns a card's review history in the order it happened.
func (db *DB) ReviewLogs(ctx context.Context, cardID string) ([]fsrs.ReviewLog, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT card_id, rating, reviewed_at, previous_state, next_state,
			elapsed_days, scheduled_days, stability, difficulty
		FROM review_logs WHERE card_id = ?
		ORDER BY reviewed_at, id
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to get review logs for card %s: %w", cardID, err)
	}
	defer rows.Close()

	var logs []fsrs.ReviewLog
	for rows.Next() {
		var (
			l                  fsrs.ReviewLog
			rating, prev, next int
			reviewed           string
		)
		if err := rows.Scan(&l.CardID, &rating, &reviewed, &prev, &next,
			&l.ElapsedDays, &l.ScheduledDays, &l.Stability, &l.Difficulty); err != nil {
			return nil, fmt.Errorf("failed to scan review log row for card %s: %w", cardID, err)
		}
		if l.ReviewedAt, err = parseTime(reviewed); err != nil {
			return nil, err
		}
		l.Rating = fsrs.Rating(rating)
		l.PreviousState = fsrs.State(prev)
		l.NextState = fsrs.State(next)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review logs for card %s: %w", cardID, err)
	}
	return logs, nil
}

// CardIDs returns the ID of every stored card in creation order.
func (db *DB) CardIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM cards ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return ids, nil
}

// DeleteCard removes a card and its review history.
func (db *DB) DeleteCard(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	return nil
}

// Stats summarizes the collection at a point in time.
type Stats struct {
	Total   int
	Due     int
	Reviews int
	ByState map[fsrs.State]int
}

// Stats counts cards per state, cards due at now and logged reviews.
func (db *DB) Stats(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{ByState: make(map[fsrs.State]int)}

	rows, err := db.conn.QueryContext(ctx, `SELECT state, COUNT(*) FROM cards GROUP BY state`)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count cards: %w", err)
	}
	for rows.Next() {
		var state, n int
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("failed to scan card count: %w", err)
		}
		st.ByState[fsrs.State(state)] = n
		st.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("failed to count cards: %w", err)
	}

	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE due <= ?`, formatTime(now)).Scan(&st.Due); err != nil {
		return Stats{}, fmt.Errorf("failed to count due cards: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_logs`).Scan(&st.Reviews); err != nil {
		return Stats{}, fmt.Errorf("failed to count reviews: %w", err)
	}
	return st, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
