package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benmeehan/greta-tracker/internal/archive"
	"github.com/benmeehan/greta-tracker/internal/binding"
	"github.com/benmeehan/greta-tracker/internal/constants"
	"github.com/benmeehan/greta-tracker/internal/models"
	"github.com/benmeehan/greta-tracker/internal/observable"
	"github.com/benmeehan/greta-tracker/internal/presentation"
	"github.com/benmeehan/greta-tracker/internal/service_registry"
	"github.com/benmeehan/greta-tracker/internal/services"
	"github.com/benmeehan/greta-tracker/internal/utils"
	"github.com/benmeehan/greta-tracker/pkg/file"
	"github.com/benmeehan/greta-tracker/pkg/identity"
	"github.com/benmeehan/greta-tracker/pkg/mqtt"
	"github.com/benmeehan/greta-tracker/pkg/s3"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	archiveTimeout  = 30 * time.Second
	finalizeTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		bootLog := utils.NewLogger("info", false)
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := utils.NewLogger(config.Logging.Level, config.Logging.Pretty)

	// Initialize the user identity
	userInfo := identity.NewUserInfo(config.Identity.UserFile, config.Identity.Username, fileClient)
	if err := userInfo.LoadUserInfo(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load user information")
	}
	log.Info().Str("user_id", userInfo.GetUserID()).Str("username", userInfo.GetUsername()).Msg("User identity loaded")

	// Generate a unique MQTT Client ID by appending a UUID
	config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
	log.Info().Msgf("Using MQTT Client ID: %s", config.MQTT.ClientID)

	// Initialize the shared MQTT connection
	mqttClient := mqtt.NewMqttService(fileClient, log)
	err = mqttClient.Initialize(mqtt.Options{
		Broker:        config.MQTT.Broker,
		ClientID:      config.MQTT.ClientID,
		Username:      config.MQTT.Username,
		Password:      config.MQTT.Password,
		CACertificate: config.MQTT.CACertificate,
		KeepAlive:     config.MQTT.KeepAlive,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	// Finished tracks are archived in the background
	archivePool := utils.NewWorkerPool(config.Archive.Workers, log)
	store, err := newArchive(config, fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize track archive")
	}
	queuedStore := archive.NewQueuedArchive(store, archivePool, archiveTimeout, log.With().Str("component", "archive").Logger())

	clock := clockwork.NewRealClock()

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, queuedStore, clock, log)
	if err := serviceRegistry.RegisterServices(config, userInfo); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}
	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	tracker := serviceRegistry.Tracking()
	go drainErrors(tracker, log)

	// The map follows the tracking service through a binding
	host := binding.NewHost[*services.TrackingService]("tracking", log)
	host.Start(tracker)

	view := presentation.NewMapView(presentation.NewLogRenderer(log.With().Str("component", "map").Logger()))
	var snapshots *observable.Channel[models.PresenceSnapshot]
	if presence := serviceRegistry.Presence(); presence != nil {
		snapshots = presence.Snapshots()
	}
	controller := presentation.NewMapController(host, view, snapshots, log.With().Str("component", "map").Logger())
	if err := controller.Resume(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to resume map")
	}

	metricsServer := startMetricsServer(config.Metrics.ListenAddress, log)

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")

	if err := controller.Pause(); err != nil {
		log.Warn().Err(err).Msg("Failed to pause map")
	}

	// Stopping keeps the recorded track, so no fix can start a new one after it is saved
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services failed to stop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	details, err := tracker.FinalizeSession(ctx)
	cancel()
	switch {
	case errors.Is(err, services.ErrNoActiveSession):
		log.Info().Msg("No track to save")
	case err != nil:
		log.Error().Err(err).Msg("Failed to save track")
	default:
		log.Info().Str("track_id", details.ID).Msg("Track saved")
	}

	host.Kill()
	archivePool.Shutdown()

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(ctx)
		cancel()
	}
	mqttClient.Disconnect(250)
}

func newArchive(config *utils.Config, fileClient file.FileOperations) (archive.Archive, error) {
	if config.Archive.Backend != constants.ArchiveS3 {
		return archive.NewFileArchive(config.Archive.Dir, fileClient), nil
	}

	storage := s3.NewObjectStorage(config.Archive.Region)
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := storage.Connect(ctx, config.Archive.Endpoint, config.Archive.AccessKeyID, config.Archive.SecretAccessKey, config.Archive.UseSSL); err != nil {
		return nil, err
	}
	return archive.NewObjectArchive(storage, config.Archive.Bucket), nil
}

// drainErrors logs provider errors reported by the tracking service.
func drainErrors(tracker *services.TrackingService, log zerolog.Logger) {
	for err := range tracker.Errors() {
		log.Warn().Err(err).Msg("Location provider error")
	}
}

func startMetricsServer(addr string, log zerolog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("address", addr).Msg("Metrics endpoint listening")
	return server
}
