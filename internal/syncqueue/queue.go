package syncqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"proctorboard/pkg/types"
)

// Store is the persistence surface the queue consumes. ListPending returns
// items ordered by priority descending, then creation time ascending.
type Store interface {
	CreateSyncItem(ctx context.Context, item *types.SyncQueueItem) error
	ListPendingSyncItems(ctx context.Context, userID, deviceID string) ([]*types.SyncQueueItem, error)
	UpdateSyncItem(ctx context.Context, item *types.SyncQueueItem) error
	UpsertDeviceSyncStatus(ctx context.Context, status *types.DeviceSyncStatus) error
}

// Handler replays one queue item's payload against domain state.
type Handler interface {
	Handle(ctx context.Context, item *types.SyncQueueItem) error
}

// ActionRequest is a client report of one action performed while offline.
type ActionRequest struct {
	ActionType      string    `json:"action_type"`
	Payload         []byte    `json:"payload"`
	ClientTimestamp time.Time `json:"client_timestamp"`
	Priority        string    `json:"priority"`
	MaxRetries      int       `json:"max_retries"`
}

// Result reports the outcome of one processing pass.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Queue is the durable, per-device queue of deferred actions with a replay
// worker driven by explicit ProcessQueue invocations.
// ARCHITECTURAL DISCOVERY: Item state is an explicit machine
// (pending→syncing→{completed|pending|failed}) driven by scheduler calls,
// never a retry-until-success loop, so per-pass ordering stays testable
type Queue struct {
	store   Store
	handler Handler
	logger  *zap.Logger

	// TECHNICAL DISCOVERY: Per-device locks serialize ProcessQueue passes
	// for one (user, device) pair to avoid double-counting retries;
	// different devices process independently
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewQueue creates an offline sync queue.
func NewQueue(store Store, handler Handler, logger *zap.Logger) *Queue {
	return &Queue{
		store:   store,
		handler: handler,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Enqueue records one deferred action. Always succeeds if the durable write
// succeeds; the item starts pending.
func (q *Queue) Enqueue(ctx context.Context, userID, deviceID string, action ActionRequest) (*types.SyncQueueItem, error) {
	item := &types.SyncQueueItem{
		ID:              uuid.New().String(),
		UserID:          userID,
		DeviceID:        deviceID,
		ActionType:      action.ActionType,
		Payload:         action.Payload,
		ClientTimestamp: action.ClientTimestamp,
		Priority:        action.Priority,
		Status:          types.SyncPending,
		MaxRetries:      action.MaxRetries,
		CreatedAt:       time.Now(),
	}

	if item.Priority == "" {
		item.Priority = defaultPriority(item.ActionType)
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = types.DefaultMaxRetries
	}
	if item.ClientTimestamp.IsZero() {
		item.ClientTimestamp = item.CreatedAt
	}

	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}

	if err := q.store.CreateSyncItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue sync item: %w", err)
	}

	q.logger.Debug("sync item enqueued",
		zap.String("id", item.ID),
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.String("action_type", item.ActionType),
		zap.String("priority", item.Priority))

	return item, nil
}

// ListPending returns the device's pending items in processing order.
func (q *Queue) ListPending(ctx context.Context, userID, deviceID string) ([]*types.SyncQueueItem, error) {
	return q.store.ListPendingSyncItems(ctx, userID, deviceID)
}

// ProcessQueue replays the device's pending items in the priority/FIFO
// order computed at pass start. Items enqueued mid-pass wait for the next
// invocation.
// FUNCTIONAL DISCOVERY: A failed item is retried on the next pass, not
// looped immediately; exhausting max_retries is terminal and never blocks
// other items in the same pass
func (q *Queue) ProcessQueue(ctx context.Context, userID, deviceID string) (*Result, error) {
	lock := q.deviceLock(userID, deviceID)
	lock.Lock()
	defer lock.Unlock()

	items, err := q.store.ListPendingSyncItems(ctx, userID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}

	result := &Result{}
	remaining := 0

	for _, item := range items {
		item.Status = types.SyncSyncing
		if err := q.store.UpdateSyncItem(ctx, item); err != nil {
			// Item stays pending in the store; pick it up next pass.
			q.logger.Warn("failed to mark item syncing",
				zap.String("id", item.ID), zap.Error(err))
			remaining++
			continue
		}

		if err := q.handler.Handle(ctx, item); err != nil {
			result.Failed++
			item.RetryCount++
			item.ErrorMessage = err.Error()
			if item.RetryCount >= item.MaxRetries {
				item.Status = types.SyncFailed
				q.logger.Error("sync item failed terminally",
					zap.String("id", item.ID),
					zap.String("action_type", item.ActionType),
					zap.Int("retries", item.RetryCount),
					zap.Error(err))
			} else {
				item.Status = types.SyncPending
				remaining++
				q.logger.Warn("sync item failed, will retry",
					zap.String("id", item.ID),
					zap.String("action_type", item.ActionType),
					zap.Int("retries", item.RetryCount),
					zap.Error(err))
			}
		} else {
			result.Processed++
			item.Status = types.SyncCompleted
			item.ErrorMessage = ""
		}

		if err := q.store.UpdateSyncItem(ctx, item); err != nil {
			q.logger.Error("failed to persist item state",
				zap.String("id", item.ID), zap.Error(err))
		}
	}

	now := time.Now()
	if err := q.store.UpsertDeviceSyncStatus(ctx, &types.DeviceSyncStatus{
		UserID:         userID,
		DeviceID:       deviceID,
		PendingActions: remaining,
		SyncErrors:     result.Failed,
		LastSeenAt:     now,
		LastSyncAt:     now,
	}); err != nil {
		q.logger.Warn("failed to update device sync status",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err))
	}

	q.logger.Info("sync pass complete",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))

	return result, nil
}

// deviceLock returns the mutex serializing passes for one (user, device).
// FUNCTIONAL DISCOVERY: Lock entries are created on first use and kept for
// the process lifetime - the device population is small and bounded
func (q *Queue) deviceLock(userID, deviceID string) *sync.Mutex {
	key := userID + "/" + deviceID

	q.locksMu.Lock()
	defer q.locksMu.Unlock()

	lock, ok := q.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		q.locks[key] = lock
	}
	return lock
}

// defaultPriority assigns exam-integrity actions a higher band when the
// client omits a priority.
func defaultPriority(actionType string) string {
	switch actionType {
	case types.ActionProctoring, types.ActionSecurityEvent:
		return types.PriorityHigh
	default:
		return types.PriorityMedium
	}
}
