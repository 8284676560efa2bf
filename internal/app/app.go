package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"trafficmonitor/internal/broker"
	"trafficmonitor/internal/config"
	"trafficmonitor/internal/detection"
	"trafficmonitor/internal/handlers"
	"trafficmonitor/internal/logger"
	"trafficmonitor/internal/pipeline"
	"trafficmonitor/internal/publish"
	"trafficmonitor/internal/repository/sqlite"
	"trafficmonitor/internal/routes"
	"trafficmonitor/internal/services/ai"
	"trafficmonitor/internal/services/camera"
	"trafficmonitor/internal/services/display"
	"trafficmonitor/internal/services/storage"
	"trafficmonitor/internal/services/stream"
	"trafficmonitor/internal/services/websocket"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config *config.Config
	logger *logger.Logger
	broker *broker.Client
}

// NewApp loads and validates the configuration and opens the logs.
func NewApp() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewLogger(cfg)
	return &App{
		config: cfg,
		logger: log,
		broker: broker.NewClient(cfg, log),
	}, nil
}

// Run connects to the broker and drives the detection loop until the camera
// stops, the operator quits or ctx is cancelled. Only startup failures are
// returned; a lost camera ends the run normally.
func (a *App) Run(ctx context.Context) error {
	cfg := a.config
	defer a.logger.Close()

	if err := a.broker.Connect(ctx); err != nil {
		a.logger.Error("Cannot start without a broker: %v", err)
		return err
	}
	defer a.broker.Disconnect()

	detector, err := ai.NewDetectorService(cfg, a.logger)
	if err != nil {
		return err
	}
	defer detector.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	source, err := camera.Open(ctx, cfg.CameraSource, a.logger)
	if err != nil {
		return err
	}

	classifier := detection.NewClassifier(cfg.VehicleClassIDs, cfg.AmbulanceLabel)
	g, gctx := errgroup.WithContext(ctx)

	opts := pipeline.Options{
		Camera:     cfg.CameraName,
		Source:     source,
		Detector:   detector,
		Classifier: classifier,
		Publisher:  a.broker,
		Topics:     publish.Topics{Vehicles: cfg.VehicleTopic, Ambulance: cfg.AmbulanceTopic},
		Interval:   cfg.PublishInterval,
		Logger:     a.logger,
	}
	status := handlers.StatusSources{Broker: a.broker}

	var (
		hub  *websocket.HubService
		mjpg *stream.MJPEGService
		repo *sqlite.SnapshotRepository
	)
	if cfg.Port > 0 {
		hub = websocket.NewHubService(a.logger)
		mjpg = stream.NewMJPEGService()
		opts.Viewers = []pipeline.FrameSink{hub, mjpg}
		status.Viewers = hub
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
	}

	if cfg.SnapshotsEnabled {
		db, err := sqlite.New(cfg.SnapshotDatabase)
		if err != nil {
			source.Close()
			return err
		}
		defer db.Close()

		repo = sqlite.NewSnapshotRepository(db)
		buffer := storage.NewBufferService(cfg.SnapshotDirectory, cfg.ImageBufferLimit, repo, classifier, a.logger)
		opts.Snapshots = buffer
		status.Snapshots = buffer
		g.Go(func() error {
			buffer.Run(gctx, time.Duration(cfg.ImageBufferFlushInterval)*time.Second)
			return nil
		})
	}

	encode := len(opts.Viewers) > 0 || opts.Snapshots != nil
	if cfg.DisplayEnabled {
		opts.Display = display.NewWindow("Traffic monitor - "+cfg.CameraName, a.logger)
	}
	if encode || opts.Display != nil {
		opts.Annotator = display.NewOverlay(classifier, encode)
	}

	loop := pipeline.New(opts)
	status.Loop = loop

	if cfg.Port > 0 {
		deps := routes.Dependencies{
			Config:  cfg,
			Logger:  a.logger,
			Hub:     hub,
			Stream:  mjpg,
			Status:  status,
			Started: time.Now(),
		}
		if repo != nil {
			deps.Snapshots = repo
		}
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           routes.SetupRoutes(gctx, deps),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error { return serve(gctx, server, a.logger) })
	}

	a.logger.Info("🚦 Traffic monitor")
	a.logger.Info("📷 Camera: %s (%s)", cfg.CameraName, cfg.CameraSource)
	a.logger.Info("📡 Broker: %s [%s, %s] every %v", cfg.BrokerURL(), cfg.VehicleTopic, cfg.AmbulanceTopic, cfg.PublishInterval)
	a.logger.Info("🤖 AI Model: %s (%s)", cfg.ModelPath, cfg.ModelFormat)
	if cfg.Port > 0 {
		a.logger.Info("📍 URL: http://localhost:%d", cfg.Port)
	}

	// The loop stays on this goroutine: OpenCV windows must be driven from
	// the thread that created them.
	loopErr := loop.Run(gctx)
	cancel()

	if err := g.Wait(); err != nil {
		a.logger.Error("Background service failed: %v", err)
	}

	if errors.Is(loopErr, pipeline.ErrAcquisition) {
		a.logger.Warning("Camera stopped delivering frames, shutting down")
		return nil
	}
	return loopErr
}

func serve(ctx context.Context, server *http.Server, logger *logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warning("HTTP server shutdown: %v", err)
	}
	return nil
}
