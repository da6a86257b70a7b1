package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"proctorboard/internal/monitor"
	"proctorboard/internal/proctor"
	"proctorboard/internal/registry"
	"proctorboard/internal/telemetry"
	"proctorboard/pkg/types"
)

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across different handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Allow all origins for development
		// Production deployments should implement stricter origin checking
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// ProgressStore persists live exam progress updates.
type ProgressStore interface {
	UpdateAttemptProgress(ctx context.Context, attemptID string, currentQuestion, questionsAnswered int, timeSpent int64) error
}

// Handler owns the WebSocket endpoint: authentication, dispatch of every
// inbound envelope type, and disconnect telemetry.
type Handler struct {
	registry  *registry.Registry
	proctor   *proctor.Manager
	telemetry *telemetry.Service
	fanout    *monitor.Fanout
	progress  ProgressStore
	limiter   *RateLimiter
	logger    *zap.Logger
}

// NewHandler creates a WebSocket handler with dependency injection.
func NewHandler(reg *registry.Registry, pm *proctor.Manager, tel *telemetry.Service, fanout *monitor.Fanout, progress ProgressStore, limiter *RateLimiter, logger *zap.Logger) *Handler {
	return &Handler{
		registry:  reg,
		proctor:   pm,
		telemetry: tel,
		fanout:    fanout,
		progress:  progress,
		limiter:   limiter,
		logger:    logger,
	}
}

// authPayload is the expected data of an authenticate envelope.
type authPayload struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	DeviceID string `json:"device_id"`
}

// joinPayload is the expected data of join_exam and leave_exam envelopes.
type joinPayload struct {
	AttemptID string `json:"attempt_id"`
}

// clientState carries per-socket context the Connection wrapper doesn't hold.
type clientState struct {
	conn      *Connection
	deviceID  string
	sessionID string
}

// HandleWebSocket upgrades the request and runs the connection to completion.
// ARCHITECTURAL DISCOVERY: Authentication happens in-band - the first
// envelope must be authenticate, so the upgrade itself carries no credentials
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := NewConnection(conn)
	go h.handleConnection(wsConn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring.
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles both
// heartbeat and message reading to prevent goroutine proliferation
func (h *Handler) handleConnection(conn *Connection) {
	state := &clientState{
		conn:      conn,
		sessionID: uuid.New().String(),
	}

	defer func() {
		h.teardown(state)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping
	// interval provides reliable health monitoring for exam-hall networks
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error",
					zap.String("user_id", conn.GetUserID()),
					zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var envelope types.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			h.logger.Warn("malformed envelope",
				zap.String("user_id", conn.GetUserID()),
				zap.Error(err))
			continue
		}

		if !conn.IsAuthenticated() && envelope.Type != types.MessageTypeAuthenticate {
			h.logger.Warn("closing unauthenticated connection",
				zap.String("type", envelope.Type),
				zap.Error(ErrAuthRequired))
			return
		}

		if err := h.dispatch(state, &envelope); err != nil {
			h.logger.Warn("envelope handling failed",
				zap.String("type", envelope.Type),
				zap.String("user_id", conn.GetUserID()),
				zap.Error(err))
		}
	}
}

// dispatch routes one decoded envelope.
// FUNCTIONAL DISCOVERY: A bad payload logs and continues - one malformed
// message never tears down an otherwise healthy exam connection
func (h *Handler) dispatch(state *clientState, envelope *types.Envelope) error {
	conn := state.conn

	switch envelope.Type {
	case types.MessageTypeAuthenticate:
		return h.handleAuthenticate(state, envelope.Data)

	case types.MessageTypeJoinExam:
		return h.handleJoinExam(state, envelope.Data)

	case types.MessageTypeLeaveExam:
		return h.handleLeaveExam(state, envelope.Data)

	case types.MessageTypeProctoringEvent:
		return h.handleProctoringEvent(state, envelope.Data)

	case types.MessageTypeExamProgress:
		return h.handleExamProgress(state, envelope.Data)

	case types.MessageTypePing:
		out, err := types.NewEnvelope(types.MessageTypePong, map[string]interface{}{
			"timestamp": time.Now(),
		})
		if err != nil {
			return err
		}
		return conn.WriteJSON(out)

	default:
		h.logger.Debug("unknown envelope type ignored", zap.String("type", envelope.Type))
		return nil
	}
}

func (h *Handler) handleAuthenticate(state *clientState, data json.RawMessage) error {
	var payload authPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return types.ErrInvalidPayload
	}
	if !types.IsValidUserID(payload.UserID) {
		return types.ErrInvalidUserID
	}
	if !types.IsValidRole(payload.Role) {
		return types.ErrInvalidRole
	}

	conn := state.conn
	if err := conn.SetCredentials(payload.UserID, payload.Role, ""); err != nil {
		return err
	}
	if err := h.registry.Register(conn); err != nil {
		return err
	}
	state.deviceID = payload.DeviceID

	if state.deviceID != "" {
		if err := h.telemetry.LogConnectionEvent(context.Background(), &types.ConnectionLogEntry{
			UserID:    payload.UserID,
			DeviceID:  state.deviceID,
			SessionID: state.sessionID,
			EventType: types.ConnEventConnected,
		}); err != nil {
			h.logger.Warn("failed to log connection event", zap.Error(err))
		}
	}

	out, err := types.NewEnvelope(types.MessageTypeAuthSuccess, map[string]string{
		"user_id":    payload.UserID,
		"role":       payload.Role,
		"session_id": state.sessionID,
	})
	if err != nil {
		return err
	}
	return conn.WriteJSON(out)
}

func (h *Handler) handleJoinExam(state *clientState, data json.RawMessage) error {
	conn := state.conn
	if conn.GetRole() != types.RoleStudent {
		return types.ErrInvalidRole
	}

	var payload joinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return types.ErrInvalidPayload
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := h.proctor.StartSession(ctx, payload.AttemptID, conn.GetUserID()); err != nil {
		return err
	}

	return conn.SetCredentials(conn.GetUserID(), conn.GetRole(), payload.AttemptID)
}

func (h *Handler) handleLeaveExam(state *clientState, data json.RawMessage) error {
	conn := state.conn

	var payload joinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return types.ErrInvalidPayload
	}
	attemptID := payload.AttemptID
	if attemptID == "" {
		attemptID = conn.GetAttemptID()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.proctor.EndSession(ctx, attemptID); err != nil {
		return err
	}

	return conn.SetCredentials(conn.GetUserID(), conn.GetRole(), "")
}

func (h *Handler) handleProctoringEvent(state *clientState, data json.RawMessage) error {
	conn := state.conn

	if !h.limiter.Allow(conn.GetUserID()) {
		h.logger.Warn("proctoring event rate limit exceeded",
			zap.String("user_id", conn.GetUserID()))
		return nil
	}

	var event types.ProctoringEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return types.ErrInvalidPayload
	}
	// Identity comes from the authenticated connection, never the payload.
	event.UserID = conn.GetUserID()
	if event.AttemptID == "" {
		event.AttemptID = conn.GetAttemptID()
	}

	return h.proctor.HandleEvent(&event)
}

func (h *Handler) handleExamProgress(state *clientState, data json.RawMessage) error {
	conn := state.conn

	var progress types.ExamProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return types.ErrInvalidPayload
	}
	progress.UserID = conn.GetUserID()
	if progress.AttemptID == "" {
		progress.AttemptID = conn.GetAttemptID()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.progress.UpdateAttemptProgress(ctx, progress.AttemptID,
		progress.CurrentQuestion, progress.QuestionsAnswered, progress.TimeSpent); err != nil {
		h.logger.Warn("failed to persist exam progress",
			zap.String("attempt_id", progress.AttemptID),
			zap.Error(err))
	}

	h.fanout.NotifyMonitors(progress.QuizID, types.MessageTypeExamProgress, &progress)
	return nil
}

// teardown unregisters the connection and records disconnect telemetry.
// FUNCTIONAL DISCOVERY: Unregister fires the registry's disconnect hook,
// which ends any live session; the telemetry entry then carries the attempt
// reference so teachers are notified of mid-exam drops
func (h *Handler) teardown(state *clientState) {
	conn := state.conn
	if !conn.IsAuthenticated() {
		return
	}

	attemptID := conn.GetAttemptID()

	h.registry.Unregister(conn)

	if state.deviceID == "" {
		return
	}

	entry := &types.ConnectionLogEntry{
		UserID:    conn.GetUserID(),
		DeviceID:  state.deviceID,
		SessionID: state.sessionID,
		EventType: types.ConnEventDisconnected,
	}
	if attemptID != "" {
		entry.AttemptID = &attemptID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.telemetry.LogConnectionEvent(ctx, entry); err != nil {
		h.logger.Warn("failed to log disconnect event",
			zap.String("user_id", conn.GetUserID()),
			zap.Error(err))
	}
}
