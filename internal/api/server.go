package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"proctorboard/internal/database"
	"proctorboard/internal/syncqueue"
	"proctorboard/internal/telemetry"
	"proctorboard/pkg/interfaces"
	"proctorboard/pkg/types"
)

// Stats exposes registry connection counts for the health endpoint.
type Stats interface {
	Stats() map[string]int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer is a pure interface between
// external clients and internal components - no business logic, only HTTP
// handling and JSON serialization
type Server struct {
	db        *database.Manager
	queue     *syncqueue.Queue
	telemetry *telemetry.Service
	stats     Stats
	logger    *zap.Logger
	router    *http.ServeMux
}

// NewServer wires the REST surface: offline sync, device telemetry, log
// resolution and health.
func NewServer(db *database.Manager, queue *syncqueue.Queue, tel *telemetry.Service, stats Stats, logger *zap.Logger) *Server {
	s := &Server{
		db:        db,
		queue:     queue,
		telemetry: tel,
		stats:     stats,
		logger:    logger,
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper
// middleware; CORS and JSON middleware applied to all routes
func (s *Server) setupRoutes() {
	s.router.Handle("/api/sync/queue", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSyncQueue))))
	s.router.Handle("/api/sync/process", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSyncProcess))))
	s.router.Handle("/api/devices/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleDeviceStatus))))
	s.router.Handle("/api/proctoring/logs/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleProctoringLogs))))
	s.router.Handle("/api/telemetry/connection", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleConnectionEvent))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type EnqueueRequest struct {
	UserID   string                  `json:"user_id"`
	DeviceID string                  `json:"device_id"`
	Action   syncqueue.ActionRequest `json:"action"`
}

type EnqueueResponse struct {
	Item *types.SyncQueueItem `json:"item"`
}

type ListPendingResponse struct {
	Items []*types.SyncQueueItem `json:"items"`
}

type ProcessRequest struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

type ResolveLogRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleSyncQueue serves POST (enqueue) and GET (list pending) on the queue.
func (s *Server) handleSyncQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.enqueueSyncItem(w, r)
	case http.MethodGet:
		s.listPendingSyncItems(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// FUNCTIONAL DISCOVERY: POST /api/sync/queue - record one offline action
func (s *Server) enqueueSyncItem(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.DeviceID == "" {
		s.sendError(w, "user_id and device_id are required", http.StatusBadRequest)
		return
	}

	item, err := s.queue.Enqueue(r.Context(), req.UserID, req.DeviceID, req.Action)
	if err != nil {
		if errors.Is(err, syncqueue.ErrInvalidItem) || errors.Is(err, types.ErrInvalidActionType) ||
			errors.Is(err, types.ErrInvalidPriority) || errors.Is(err, types.ErrPayloadTooLarge) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("failed to enqueue sync item", zap.Error(err))
		s.sendError(w, "Failed to enqueue action", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(EnqueueResponse{Item: item})
}

// FUNCTIONAL DISCOVERY: GET /api/sync/queue?user_id=..&device_id=.. - pending
// items in processing order (priority desc, FIFO within a band)
func (s *Server) listPendingSyncItems(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	deviceID := r.URL.Query().Get("device_id")
	if userID == "" || deviceID == "" {
		s.sendError(w, "user_id and device_id are required", http.StatusBadRequest)
		return
	}

	items, err := s.queue.ListPending(r.Context(), userID, deviceID)
	if err != nil {
		s.logger.Error("failed to list pending sync items", zap.Error(err))
		s.sendError(w, "Failed to list pending items", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*types.SyncQueueItem{}
	}

	_ = json.NewEncoder(w).Encode(ListPendingResponse{Items: items})
}

// FUNCTIONAL DISCOVERY: POST /api/sync/process - run one reconciliation pass
// for a device when it comes back online
func (s *Server) handleSyncProcess(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.DeviceID == "" {
		s.sendError(w, "user_id and device_id are required", http.StatusBadRequest)
		return
	}

	result, err := s.queue.ProcessQueue(r.Context(), req.UserID, req.DeviceID)
	if err != nil {
		s.logger.Error("sync pass failed",
			zap.String("user_id", req.UserID),
			zap.String("device_id", req.DeviceID),
			zap.Error(err))
		s.sendError(w, "Sync pass failed", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(result)
}

// handleDeviceStatus serves GET /api/devices/{userID}/{deviceID}/status.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/devices/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] != "status" {
		s.sendError(w, "Expected /api/devices/{user_id}/{device_id}/status", http.StatusBadRequest)
		return
	}

	status, err := s.db.GetDeviceSyncStatus(r.Context(), parts[0], parts[1])
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.sendError(w, "Device not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to get device status", zap.Error(err))
		s.sendError(w, "Failed to get device status", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(status)
}

// handleProctoringLogs serves GET /api/proctoring/logs/{attemptID} and
// POST /api/proctoring/logs/{logID}/resolve.
func (s *Server) handleProctoringLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/proctoring/logs/")
	if path == "" {
		s.sendError(w, "Log or attempt ID required", http.StatusBadRequest)
		return
	}
	parts := strings.Split(path, "/")

	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		s.listLogs(w, r, parts[0])
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "resolve":
		s.resolveLog(w, r, parts[0])
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// FUNCTIONAL DISCOVERY: GET /api/proctoring/logs/{attemptID} - an attempt's
// violation records in time order
func (s *Server) listLogs(w http.ResponseWriter, r *http.Request, attemptID string) {
	entries, err := s.db.ListProctoringLogs(r.Context(), attemptID)
	if err != nil {
		s.logger.Error("failed to list proctoring logs", zap.Error(err))
		s.sendError(w, "Failed to list logs", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*types.ProctoringLogEntry{}
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{"logs": entries})
}

// FUNCTIONAL DISCOVERY: POST /api/proctoring/logs/{logID}/resolve - the one
// human mutation a violation record allows
func (s *Server) resolveLog(w http.ResponseWriter, r *http.Request, logID string) {
	var req ResolveLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ResolvedBy == "" {
		s.sendError(w, "resolved_by is required", http.StatusBadRequest)
		return
	}

	if err := s.db.ResolveProctoringLog(r.Context(), logID, req.ResolvedBy, req.Notes); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.sendError(w, "Log entry not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to resolve proctoring log", zap.Error(err))
		s.sendError(w, "Failed to resolve log", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Log entry resolved"})
}

// FUNCTIONAL DISCOVERY: POST /api/telemetry/connection - connectivity report
// from clients whose WebSocket is down (reconnected, poor_connection, ...)
func (s *Server) handleConnectionEvent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var entry types.ConnectionLogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.telemetry.LogConnectionEvent(r.Context(), &entry); err != nil {
		if errors.Is(err, types.ErrInvalidUserID) || errors.Is(err, types.ErrInvalidConnEvent) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("failed to log connection event", zap.Error(err))
		s.sendError(w, "Failed to record connection event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Connection event recorded"})
}

// FUNCTIONAL DISCOVERY: GET /health - component validation with registry stats
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.db.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.stats.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware ensures proper content-type headers.
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
