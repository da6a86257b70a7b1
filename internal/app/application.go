package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"proctorboard/internal/api"
	"proctorboard/internal/classifier"
	"proctorboard/internal/config"
	"proctorboard/internal/database"
	"proctorboard/internal/monitor"
	"proctorboard/internal/proctor"
	"proctorboard/internal/registry"
	"proctorboard/internal/syncqueue"
	"proctorboard/internal/telemetry"
	"proctorboard/internal/transport"
	"proctorboard/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	dbManager  *database.Manager
	registry   *registry.Registry
	proctorMgr *proctor.Manager
	syncQueue  *syncqueue.Queue
	apiServer  *api.Server
	limiter    *transport.RateLimiter
	httpServer *http.Server
}

// NewApplication creates a new application instance with all components
// initialized. Initialization follows strict dependency order:
// Database → Telemetry → Classifier → Registry → Fanout → Proctor →
// SyncQueue → API → Transport → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := database.NewManager(&database.Config{
		Path:            cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	telemetryService := telemetry.NewService(dbManager, dbManager, logger)

	// FUNCTIONAL DISCOVERY: The analyzer is optional - without a base URL
	// the classifier falls back to its static tab_switch rule
	var analyzer interfaces.ContentAnalyzer
	if cfg.Analyzer.BaseURL != "" {
		analyzer = classifier.NewHTTPAnalyzer(cfg.Analyzer.BaseURL)
	}
	cls := classifier.New(analyzer, cfg.Proctoring.IdleThresholdMS, cfg.Analyzer.Timeout, logger)

	connRegistry := registry.NewRegistry(logger)
	fanout := monitor.NewFanout(connRegistry, logger)

	proctorMgr := proctor.NewManager(dbManager, cls, fanout, connRegistry, logger)
	connRegistry.SetDisconnectHandler(proctorMgr)

	dispatcher := syncqueue.NewDispatcher(dbManager, proctorMgr, logger)
	queue := syncqueue.NewQueue(dbManager, dispatcher, logger)

	apiServer := api.NewServer(dbManager, queue, telemetryService, connRegistry, logger)

	limiter := transport.NewRateLimiter(cfg.Proctoring.EventsPerMinute)
	wsHandler := transport.NewHandler(connRegistry, proctorMgr, telemetryService, fanout, dbManager, limiter, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		dbManager:  dbManager,
		registry:   connRegistry,
		proctorMgr: proctorMgr,
		syncQueue:  queue,
		apiServer:  apiServer,
		limiter:    limiter,
		httpServer: httpServer,
	}, nil
}

// Start begins application execution.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting proctorboard", zap.String("addr", app.httpServer.Addr))

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("proctorboard started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application.
// Reverse dependency order: HTTP → sessions → database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down proctorboard")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	app.limiter.Stop()

	// End live sessions so summaries are persisted before the store closes.
	for _, attemptID := range app.proctorMgr.ActiveAttempts() {
		if err := app.proctorMgr.EndSession(ctx, attemptID); err != nil {
			app.logger.Warn("failed to end session during shutdown",
				zap.String("attempt_id", attemptID),
				zap.Error(err))
		}
	}

	if err := app.dbManager.Close(); err != nil {
		app.logger.Warn("database shutdown error", zap.Error(err))
	}

	app.logger.Info("proctorboard shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
