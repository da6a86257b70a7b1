package database

import (
	"database/sql"
	"fmt"
)

// schema is the embedded bootstrap schema, applied at startup. All
// statements are idempotent so restarts are safe without a migration
// directory to ship alongside the binary.
const schema = `
CREATE TABLE IF NOT EXISTS exam_attempts (
	id                 TEXT PRIMARY KEY,
	student_id         TEXT NOT NULL,
	quiz_id            TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'in_progress'
		CHECK (status IN ('in_progress', 'paused', 'completed')),
	current_question   INTEGER NOT NULL DEFAULT 0,
	questions_answered INTEGER NOT NULL DEFAULT 0,
	time_spent         INTEGER NOT NULL DEFAULT 0,
	started_at         DATETIME NOT NULL,
	completed_at       DATETIME,
	summary            TEXT
);

CREATE TABLE IF NOT EXISTS quiz_responses (
	id          TEXT PRIMARY KEY,
	attempt_id  TEXT NOT NULL REFERENCES exam_attempts(id),
	question_id TEXT NOT NULL,
	answer      TEXT NOT NULL DEFAULT '',
	answered_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS proctoring_logs (
	id           TEXT PRIMARY KEY,
	attempt_id   TEXT NOT NULL,
	type         TEXT NOT NULL,
	severity     TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high')),
	description  TEXT NOT NULL DEFAULT '',
	auto_flagged INTEGER NOT NULL DEFAULT 0,
	timestamp    DATETIME NOT NULL,
	resolved     INTEGER NOT NULL DEFAULT 0,
	resolved_by  TEXT,
	resolved_at  DATETIME,
	notes        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS teacher_notifications (
	id                TEXT PRIMARY KEY,
	teacher_id        TEXT NOT NULL,
	student_id        TEXT NOT NULL,
	quiz_id           TEXT NOT NULL,
	notification_type TEXT NOT NULL,
	severity          TEXT NOT NULL,
	is_read           INTEGER NOT NULL DEFAULT 0,
	read_at           DATETIME,
	metadata          TEXT,
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	device_id        TEXT NOT NULL,
	action_type      TEXT NOT NULL,
	payload          TEXT,
	client_timestamp DATETIME NOT NULL,
	priority         TEXT NOT NULL DEFAULT 'medium'
		CHECK (priority IN ('low', 'medium', 'high', 'critical')),
	status           TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'syncing', 'completed', 'failed')),
	retry_count      INTEGER NOT NULL DEFAULT 0,
	max_retries      INTEGER NOT NULL DEFAULT 3,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS connection_logs (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	device_id  TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	attempt_id TEXT,
	context    TEXT,
	timestamp  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS device_sync_status (
	user_id          TEXT NOT NULL,
	device_id        TEXT NOT NULL,
	supports_offline INTEGER NOT NULL DEFAULT 0,
	storage_capacity INTEGER NOT NULL DEFAULT 0,
	storage_used     INTEGER NOT NULL DEFAULT 0,
	pending_actions  INTEGER NOT NULL DEFAULT 0,
	sync_errors      INTEGER NOT NULL DEFAULT 0,
	last_seen_at     DATETIME NOT NULL,
	last_sync_at     DATETIME,
	PRIMARY KEY (user_id, device_id)
);

CREATE TABLE IF NOT EXISTS security_logs (
	id        TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL,
	device_id TEXT NOT NULL,
	details   TEXT,
	timestamp DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS quiz_staff (
	quiz_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role    TEXT NOT NULL CHECK (role IN ('teacher', 'admin')),
	PRIMARY KEY (quiz_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_attempts_student ON exam_attempts(student_id);
CREATE INDEX IF NOT EXISTS idx_attempts_quiz ON exam_attempts(quiz_id);
CREATE INDEX IF NOT EXISTS idx_responses_attempt ON quiz_responses(attempt_id);
CREATE INDEX IF NOT EXISTS idx_proctoring_attempt ON proctoring_logs(attempt_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_sync_device_status ON sync_queue(user_id, device_id, status);
CREATE INDEX IF NOT EXISTS idx_connection_user ON connection_logs(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_teacher_notif ON teacher_notifications(teacher_id, is_read);
CREATE INDEX IF NOT EXISTS idx_quiz_staff_quiz ON quiz_staff(quiz_id);
`

// SQLite optimization pragmas for exam-hall scale
// ARCHITECTURAL DISCOVERY: WAL mode enables concurrent reads while
// maintaining the single-writer pattern required by Manager
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// applySchema creates all tables and indexes if missing.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// applySQLiteOptimizations applies performance pragmas to the connection.
func applySQLiteOptimizations(db *sql.DB) error {
	if _, err := db.Exec(sqliteOptimizations); err != nil {
		return fmt.Errorf("failed to apply sqlite pragmas: %w", err)
	}
	return nil
}
