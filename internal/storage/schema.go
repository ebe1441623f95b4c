package storage

const schema = `
-- 'cards' holds each item's content and its current memory state.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,              -- normalized content hash
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    example TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,

    due TEXT NOT NULL,
    stability REAL NOT NULL DEFAULT 0,
    difficulty REAL NOT NULL DEFAULT 0,
    elapsed_days INTEGER NOT NULL DEFAULT 0,
    scheduled_days INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    state INTEGER NOT NULL DEFAULT 0, -- 0: New, 1: Learning, 2: Review, 3: Relearning
    learning_steps INTEGER NOT NULL DEFAULT 0,
    last_review TEXT
);

CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(due);

-- 'review_logs' is the append-only history used for analytics and rebuilds.
CREATE TABLE IF NOT EXISTS review_logs (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL,
    rating INTEGER NOT NULL,
    reviewed_at TEXT NOT NULL,
    previous_state INTEGER NOT NULL,
    next_state INTEGER NOT NULL,
    elapsed_days INTEGER NOT NULL,
    scheduled_days INTEGER NOT NULL,
    stability REAL NOT NULL,
    difficulty REAL NOT NULL,

    FOREIGN KEY(card_id) REFERENCES cards(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_review_logs_card ON review_logs(card_id, reviewed_at);
`
