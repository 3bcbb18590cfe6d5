package service_registry

import (
	"errors"
	"fmt"

	"github.com/benmeehan/greta-tracker/internal/archive"
	"github.com/benmeehan/greta-tracker/internal/constants"
	"github.com/benmeehan/greta-tracker/internal/registry"
	"github.com/benmeehan/greta-tracker/internal/services"
	"github.com/benmeehan/greta-tracker/internal/utils"
	"github.com/benmeehan/greta-tracker/pkg/identity"
	"github.com/benmeehan/greta-tracker/pkg/location"
	"github.com/benmeehan/greta-tracker/pkg/mqtt"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	archive     archive.Archive
	clock       clockwork.Clock
	Logger      zerolog.Logger

	tracking *services.TrackingService
	presence *services.PresenceService
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, store archive.Archive, clock clockwork.Clock, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		archive:    store,
		clock:      clock,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			// Stop already started services before returning
			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// Tracking returns the registered tracking service, or nil before RegisterServices.
func (sr *ServiceRegistry) Tracking() *services.TrackingService {
	return sr.tracking
}

// Presence returns the registered presence service, or nil when disabled.
func (sr *ServiceRegistry) Presence() *services.PresenceService {
	return sr.presence
}

// NewLocationProvider builds the positioning source selected in the configuration.
func NewLocationProvider(config *utils.Config, clock clockwork.Clock) (location.Provider, error) {
	switch config.Tracking.Provider {
	case constants.ProviderGPS:
		return location.NewDeviceSensorProvider(config.Tracking.GPSDevicePort, config.Tracking.GPSDeviceBaudRate, clock), nil
	case constants.ProviderGeolocation:
		return location.NewGoogleGeolocationProvider(config.Tracking.MapsAPIKey, config.Tracking.ModemIndex, clock)
	case constants.ProviderReplay:
		return location.LoadReplayProvider(config.Tracking.ReplayFile)
	default:
		return nil, fmt.Errorf("unknown location provider %q", config.Tracking.Provider)
	}
}

// RegisterServices initializes and registers enabled services based on configuration.
// The tracking service is always registered first.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, userInfo identity.UserInfoInterface) error {
	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "tracking",
			enabled: true,
			constructor: func() (registry.Service, error) {
				provider, err := NewLocationProvider(config, sr.clock)
				if err != nil {
					sr.Logger.Error().Err(err).Str("provider", config.Tracking.Provider).Msg("Failed to create location provider")
					return nil, err
				}
				sr.tracking = services.NewTrackingService(
					config.Tracking.Interval,
					provider,
					sr.archive,
					sr.clock,
					sr.Logger.With().Str("service", "tracking").Logger(),
				)
				return sr.tracking, nil
			},
		},
		{
			name:    "presence",
			enabled: config.Presence.Enabled,
			constructor: func() (registry.Service, error) {
				sr.presence = services.NewPresenceService(
					config.Presence.TopicPrefix,
					config.Presence.QOS,
					userInfo,
					sr.mqttClient,
					sr.tracking.Details(),
					sr.Logger.With().Str("service", "presence").Logger(),
				)
				return sr.presence, nil
			},
		},
		{
			name:    "heartbeat",
			enabled: config.Heartbeat.Enabled,
			constructor: func() (registry.Service, error) {
				return services.NewHeartbeatService(
					config.Heartbeat.Topic,
					config.Heartbeat.Interval,
					config.Heartbeat.QOS,
					userInfo,
					sr.tracking,
					sr.mqttClient,
					sr.clock,
					sr.Logger.With().Str("service", "heartbeat").Logger(),
				), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
