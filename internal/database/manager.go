package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// Import SQLite driver, referenced only in the connection string
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"proctorboard/pkg/interfaces"
	"proctorboard/pkg/types"
)

// Config holds database settings.
type Config struct {
	Path            string        `mapstructure:"path"`
	MaxConnections  int           `mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DefaultConfig returns production-ready database configuration.
// FUNCTIONAL DISCOVERY: SQLite performs best with a small pool for
// exam-hall scale concurrent reads
func DefaultConfig() *Config {
	return &Config{
		Path:            "./data/proctorboard.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Manager is the durable store for attempts, violation logs, the offline
// sync queue and telemetry rows.
// ARCHITECTURAL DISCOVERY: All writes funnel through a single goroutine to
// avoid SQLite write contention; reads run concurrently against the pool
type Manager struct {
	db           *sql.DB
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation is one queued database write.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and bootstraps the schema.
func NewManager(cfg *Config, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	m := &Manager{
		db:           db,
		logger:       logger,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop processes all write operations in a single goroutine.
// FUNCTIONAL DISCOVERY: Exactly one retry after a short backoff - a second
// failure surfaces to the caller, who owns the retry policy (sync queue)
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying", zap.Error(err))
				time.Sleep(time.Second)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// --- exam attempts ---

// CreateAttempt inserts a new exam attempt.
func (m *Manager) CreateAttempt(ctx context.Context, attempt *types.ExamAttempt) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO exam_attempts (id, student_id, quiz_id, status, current_question,
				questions_answered, time_spent, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			attempt.ID, attempt.StudentID, attempt.QuizID, attempt.Status,
			attempt.CurrentQuestion, attempt.QuestionsAnswered, attempt.TimeSpent,
			attempt.StartedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert attempt: %w", err)
		}
		return nil
	})
}

// GetAttempt retrieves an attempt by ID.
func (m *Manager) GetAttempt(ctx context.Context, attemptID string) (*types.ExamAttempt, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, student_id, quiz_id, status, current_question, questions_answered,
			time_spent, started_at, completed_at, summary
		FROM exam_attempts WHERE id = ?`, attemptID)

	var attempt types.ExamAttempt
	var completedAt sql.NullTime
	var summaryJSON sql.NullString

	err := row.Scan(&attempt.ID, &attempt.StudentID, &attempt.QuizID, &attempt.Status,
		&attempt.CurrentQuestion, &attempt.QuestionsAnswered, &attempt.TimeSpent,
		&attempt.StartedAt, &completedAt, &summaryJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to query attempt: %w", err)
	}

	if completedAt.Valid {
		attempt.CompletedAt = &completedAt.Time
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		var summary types.SessionSummary
		if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempt summary: %w", err)
		}
		attempt.Summary = &summary
	}

	return &attempt, nil
}

// UpdateAttemptStatus transitions an attempt's status field.
func (m *Manager) UpdateAttemptStatus(ctx context.Context, attemptID, status string) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE exam_attempts SET status = ? WHERE id = ?`, status, attemptID)
		if err != nil {
			return fmt.Errorf("failed to update attempt status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrAttemptNotFound
		}
		return nil
	})
}

// UpdateAttemptProgress updates the attempt's progress counters.
func (m *Manager) UpdateAttemptProgress(ctx context.Context, attemptID string, currentQuestion, questionsAnswered int, timeSpent int64) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE exam_attempts
			SET current_question = ?, questions_answered = ?, time_spent = ?
			WHERE id = ?`,
			currentQuestion, questionsAnswered, timeSpent, attemptID)
		if err != nil {
			return fmt.Errorf("failed to update attempt progress: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrAttemptNotFound
		}
		return nil
	})
}

// FinalizeAttempt marks an attempt completed.
// FUNCTIONAL DISCOVERY: The status guard makes finalization idempotent - a
// replayed quiz_completion finalizes exactly once and later replays no-op
func (m *Manager) FinalizeAttempt(ctx context.Context, attemptID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE exam_attempts SET status = ?, completed_at = ?
			WHERE id = ? AND status != ?`,
			types.AttemptCompleted, time.Now(), attemptID, types.AttemptCompleted)
		if err != nil {
			return fmt.Errorf("failed to finalize attempt: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Distinguish missing from already-completed.
			var exists int
			if err := db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM exam_attempts WHERE id = ?`, attemptID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check attempt: %w", err)
			}
			if exists == 0 {
				return interfaces.ErrAttemptNotFound
			}
		}
		return nil
	})
}

// SaveAttemptSummary stores the session summary JSON on the attempt row.
func (m *Manager) SaveAttemptSummary(ctx context.Context, attemptID string, summary *types.SessionSummary) error {
	return m.executeWrite(func(db *sql.DB) error {
		summaryJSON, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to marshal summary: %w", err)
		}
		res, err := db.ExecContext(ctx,
			`UPDATE exam_attempts SET summary = ? WHERE id = ?`, string(summaryJSON), attemptID)
		if err != nil {
			return fmt.Errorf("failed to save summary: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrAttemptNotFound
		}
		return nil
	})
}

// SaveQuizResponse inserts one saved answer.
func (m *Manager) SaveQuizResponse(ctx context.Context, r *types.QuizResponse) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO quiz_responses (id, attempt_id, question_id, answer, answered_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.AttemptID, r.QuestionID, r.Answer, r.AnsweredAt)
		if err != nil {
			return fmt.Errorf("failed to insert quiz response: %w", err)
		}
		return nil
	})
}

// --- proctoring logs ---

// CreateProctoringLog inserts one durable violation record.
func (m *Manager) CreateProctoringLog(ctx context.Context, e *types.ProctoringLogEntry) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO proctoring_logs (id, attempt_id, type, severity, description,
				auto_flagged, timestamp, resolved, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			e.ID, e.AttemptID, e.Type, e.Severity, e.Description,
			e.AutoFlagged, e.Timestamp, e.Notes)
		if err != nil {
			return fmt.Errorf("failed to insert proctoring log: %w", err)
		}
		return nil
	})
}

// ListProctoringLogs returns an attempt's violation records in time order.
func (m *Manager) ListProctoringLogs(ctx context.Context, attemptID string) ([]*types.ProctoringLogEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, attempt_id, type, severity, description, auto_flagged,
			timestamp, resolved, resolved_by, resolved_at, notes
		FROM proctoring_logs WHERE attempt_id = ? ORDER BY timestamp ASC`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query proctoring logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.ProctoringLogEntry
	for rows.Next() {
		var e types.ProctoringLogEntry
		var resolvedBy sql.NullString
		var resolvedAt sql.NullTime

		if err := rows.Scan(&e.ID, &e.AttemptID, &e.Type, &e.Severity, &e.Description,
			&e.AutoFlagged, &e.Timestamp, &e.Resolved, &resolvedBy, &resolvedAt, &e.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan proctoring log: %w", err)
		}
		if resolvedBy.Valid {
			e.ResolvedBy = &resolvedBy.String
		}
		if resolvedAt.Valid {
			e.ResolvedAt = &resolvedAt.Time
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proctoring logs: %w", err)
	}

	return entries, nil
}

// ResolveProctoringLog records the one human mutation a log entry allows.
func (m *Manager) ResolveProctoringLog(ctx context.Context, logID, resolvedBy, notes string) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE proctoring_logs
			SET resolved = 1, resolved_by = ?, resolved_at = ?, notes = ?
			WHERE id = ?`,
			resolvedBy, time.Now(), notes, logID)
		if err != nil {
			return fmt.Errorf("failed to resolve proctoring log: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

// --- notifications ---

// CreateNotification inserts a student-facing notification.
func (m *Manager) CreateNotification(ctx context.Context, n *types.Notification) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, type, title, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID, n.UserID, n.Type, n.Title, n.Message, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		return nil
	})
}

// CreateTeacherNotification inserts a teacher disconnect notification.
func (m *Manager) CreateTeacherNotification(ctx context.Context, n *types.TeacherNotification) error {
	return m.executeWrite(func(db *sql.DB) error {
		var metadataJSON []byte
		if n.Metadata != nil {
			var err error
			metadataJSON, err = json.Marshal(n.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal notification metadata: %w", err)
			}
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO teacher_notifications (id, teacher_id, student_id, quiz_id,
				notification_type, severity, is_read, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			n.ID, n.TeacherID, n.StudentID, n.QuizID,
			n.NotificationType, n.Severity, string(metadataJSON), n.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert teacher notification: %w", err)
		}
		return nil
	})
}

// ListTeacherNotifications returns a teacher's notifications, newest first.
func (m *Manager) ListTeacherNotifications(ctx context.Context, teacherID string) ([]*types.TeacherNotification, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, teacher_id, student_id, quiz_id, notification_type, severity,
			is_read, read_at, metadata, created_at
		FROM teacher_notifications WHERE teacher_id = ? ORDER BY created_at DESC`, teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to query teacher notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []*types.TeacherNotification
	for rows.Next() {
		var n types.TeacherNotification
		var readAt sql.NullTime
		var metadataJSON sql.NullString

		if err := rows.Scan(&n.ID, &n.TeacherID, &n.StudentID, &n.QuizID,
			&n.NotificationType, &n.Severity, &n.Read, &readAt, &metadataJSON, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan teacher notification: %w", err)
		}
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &n.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal notification metadata: %w", err)
			}
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating teacher notifications: %w", err)
	}

	return notifications, nil
}

// --- offline sync queue ---

// CreateSyncItem inserts one durable queue item.
func (m *Manager) CreateSyncItem(ctx context.Context, item *types.SyncQueueItem) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sync_queue (id, user_id, device_id, action_type, payload,
				client_timestamp, priority, status, retry_count, max_retries,
				error_message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.UserID, item.DeviceID, item.ActionType, string(item.Payload),
			item.ClientTimestamp, item.Priority, item.Status, item.RetryCount,
			item.MaxRetries, item.ErrorMessage, item.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert sync item: %w", err)
		}
		return nil
	})
}

// ListPendingSyncItems returns a device's pending items ordered by priority
// descending, then creation time ascending (FIFO within a band).
func (m *Manager) ListPendingSyncItems(ctx context.Context, userID, deviceID string) ([]*types.SyncQueueItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_id, device_id, action_type, payload, client_timestamp,
			priority, status, retry_count, max_retries, error_message, created_at
		FROM sync_queue
		WHERE user_id = ? AND device_id = ? AND status = 'pending'
		ORDER BY
			CASE priority
				WHEN 'critical' THEN 3
				WHEN 'high' THEN 2
				WHEN 'medium' THEN 1
				ELSE 0
			END DESC,
			created_at ASC`, userID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending sync items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*types.SyncQueueItem
	for rows.Next() {
		var item types.SyncQueueItem
		var payload sql.NullString

		if err := rows.Scan(&item.ID, &item.UserID, &item.DeviceID, &item.ActionType,
			&payload, &item.ClientTimestamp, &item.Priority, &item.Status,
			&item.RetryCount, &item.MaxRetries, &item.ErrorMessage, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync item: %w", err)
		}
		if payload.Valid {
			item.Payload = []byte(payload.String)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync items: %w", err)
	}

	return items, nil
}

// UpdateSyncItem persists an item's state transition.
func (m *Manager) UpdateSyncItem(ctx context.Context, item *types.SyncQueueItem) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE sync_queue
			SET status = ?, retry_count = ?, error_message = ?
			WHERE id = ?`,
			item.Status, item.RetryCount, item.ErrorMessage, item.ID)
		if err != nil {
			return fmt.Errorf("failed to update sync item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

// --- telemetry ---

// CreateConnectionLog inserts one append-only connectivity record.
func (m *Manager) CreateConnectionLog(ctx context.Context, e *types.ConnectionLogEntry) error {
	return m.executeWrite(func(db *sql.DB) error {
		var contextJSON []byte
		if e.Context != nil {
			var err error
			contextJSON, err = json.Marshal(e.Context)
			if err != nil {
				return fmt.Errorf("failed to marshal connection context: %w", err)
			}
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO connection_logs (id, user_id, device_id, session_id,
				event_type, attempt_id, context, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.UserID, e.DeviceID, e.SessionID, e.EventType,
			e.AttemptID, string(contextJSON), e.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert connection log: %w", err)
		}
		return nil
	})
}

// UpsertDeviceSyncStatus performs the read-modify-write merge keyed by
// (user, device).
// FUNCTIONAL DISCOVERY: The merge runs inside the single-writer loop, so
// concurrent telemetry and sync-pass updates cannot interleave
func (m *Manager) UpsertDeviceSyncStatus(ctx context.Context, status *types.DeviceSyncStatus) error {
	return m.executeWrite(func(db *sql.DB) error {
		var existing types.DeviceSyncStatus
		var lastSyncAt sql.NullTime
		err := db.QueryRowContext(ctx, `
			SELECT supports_offline, storage_capacity, storage_used,
				pending_actions, sync_errors, last_sync_at
			FROM device_sync_status WHERE user_id = ? AND device_id = ?`,
			status.UserID, status.DeviceID).Scan(
			&existing.SupportsOffline, &existing.StorageCapacity, &existing.StorageUsed,
			&existing.PendingActions, &existing.SyncErrors, &lastSyncAt)

		if err == sql.ErrNoRows {
			_, err = db.ExecContext(ctx, `
				INSERT INTO device_sync_status (user_id, device_id, supports_offline,
					storage_capacity, storage_used, pending_actions, sync_errors,
					last_seen_at, last_sync_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				status.UserID, status.DeviceID, status.SupportsOffline,
				status.StorageCapacity, status.StorageUsed, status.PendingActions,
				status.SyncErrors, status.LastSeenAt, nullableTime(status.LastSyncAt))
			if err != nil {
				return fmt.Errorf("failed to insert device sync status: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query device sync status: %w", err)
		}

		// Merge: capability and storage fields are sticky (non-zero wins);
		// counters are overwritten only by a sync pass, marked by a
		// non-zero last_sync_at on the incoming row.
		merged := existing
		if status.SupportsOffline {
			merged.SupportsOffline = true
		}
		if status.StorageCapacity > 0 {
			merged.StorageCapacity = status.StorageCapacity
		}
		if status.StorageUsed > 0 {
			merged.StorageUsed = status.StorageUsed
		}
		if !status.LastSyncAt.IsZero() {
			merged.PendingActions = status.PendingActions
			merged.SyncErrors = status.SyncErrors
			lastSyncAt = sql.NullTime{Time: status.LastSyncAt, Valid: true}
		}

		_, err = db.ExecContext(ctx, `
			UPDATE device_sync_status
			SET supports_offline = ?, storage_capacity = ?, storage_used = ?,
				pending_actions = ?, sync_errors = ?, last_seen_at = ?, last_sync_at = ?
			WHERE user_id = ? AND device_id = ?`,
			merged.SupportsOffline, merged.StorageCapacity, merged.StorageUsed,
			merged.PendingActions, merged.SyncErrors, status.LastSeenAt, lastSyncAt,
			status.UserID, status.DeviceID)
		if err != nil {
			return fmt.Errorf("failed to update device sync status: %w", err)
		}
		return nil
	})
}

// GetDeviceSyncStatus reads one device row.
func (m *Manager) GetDeviceSyncStatus(ctx context.Context, userID, deviceID string) (*types.DeviceSyncStatus, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT user_id, device_id, supports_offline, storage_capacity, storage_used,
			pending_actions, sync_errors, last_seen_at, last_sync_at
		FROM device_sync_status WHERE user_id = ? AND device_id = ?`, userID, deviceID)

	var status types.DeviceSyncStatus
	var lastSyncAt sql.NullTime

	err := row.Scan(&status.UserID, &status.DeviceID, &status.SupportsOffline,
		&status.StorageCapacity, &status.StorageUsed, &status.PendingActions,
		&status.SyncErrors, &status.LastSeenAt, &lastSyncAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query device sync status: %w", err)
	}
	if lastSyncAt.Valid {
		status.LastSyncAt = lastSyncAt.Time
	}

	return &status, nil
}

// CreateSecurityLog inserts one security event record.
func (m *Manager) CreateSecurityLog(ctx context.Context, e *types.SecurityLogEntry) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO security_logs (id, user_id, device_id, details, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.UserID, e.DeviceID, string(e.Details), e.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert security log: %w", err)
		}
		return nil
	})
}

// --- quiz staff directory ---

// AddQuizStaff links a teacher or admin to a quiz for disconnect
// notifications.
func (m *Manager) AddQuizStaff(ctx context.Context, quizID, userID, role string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT OR REPLACE INTO quiz_staff (quiz_id, user_id, role)
			VALUES (?, ?, ?)`, quizID, userID, role)
		if err != nil {
			return fmt.Errorf("failed to insert quiz staff: %w", err)
		}
		return nil
	})
}

// TeachersForQuiz implements interfaces.TeacherDirectory.
func (m *Manager) TeachersForQuiz(ctx context.Context, quizID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT user_id FROM quiz_staff WHERE quiz_id = ? ORDER BY user_id ASC`, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quiz staff: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var teachers []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan quiz staff: %w", err)
		}
		teachers = append(teachers, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quiz staff: %w", err)
	}

	return teachers, nil
}

// --- lifecycle ---

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exam_attempts").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB exposes the underlying handle for tests.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the write loop and the connection pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
