package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/greta-tracker/internal/constants"
	"github.com/benmeehan/greta-tracker/internal/models"
	"github.com/benmeehan/greta-tracker/pkg/identity"
	"github.com/benmeehan/greta-tracker/pkg/mqtt"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// TrackSnapshotter exposes the track currently being recorded.
type TrackSnapshotter interface {
	Snapshot() (models.TrackDetails, bool)
}

// HeartbeatService manages periodic heartbeat messages.
type HeartbeatService struct {
	PubTopic string
	Interval time.Duration
	UserInfo identity.UserInfoInterface
	QOS      int
	Tracker  TrackSnapshotter

	mqttClient mqtt.MQTTClient
	clock      clockwork.Clock
	logger     zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatService initializes a new HeartbeatService.
func NewHeartbeatService(pubTopic string, interval time.Duration, qos int, userInfo identity.UserInfoInterface,
	tracker TrackSnapshotter, mqttClient mqtt.MQTTClient, clock clockwork.Clock, logger zerolog.Logger) *HeartbeatService {

	return &HeartbeatService{
		PubTopic:   pubTopic,
		Interval:   interval,
		UserInfo:   userInfo,
		QOS:        qos,
		Tracker:    tracker,
		mqttClient: mqttClient,
		clock:      clock,
		logger:     logger,
	}
}

// Start launches the heartbeat loop in a separate goroutine.
func (h *HeartbeatService) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx != nil {
		h.logger.Warn().Msg("HeartbeatService is already running")
		return errors.New("heartbeat service is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	ticker := h.clock.NewTicker(h.Interval)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()
		h.runHeartbeatLoop(h.ctx, ticker)
	}()

	h.logger.Info().Str("topic", h.PubTopic).Msg("HeartbeatService started successfully")
	return nil
}

// Stop gracefully stops the heartbeat service.
func (h *HeartbeatService) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx == nil {
		h.logger.Warn().Msg("HeartbeatService is not running")
		return errors.New("heartbeat service is not running")
	}

	h.cancel()
	h.wg.Wait()

	h.ctx = nil
	h.cancel = nil

	h.logger.Info().Msg("HeartbeatService stopped successfully")
	return nil
}

// runHeartbeatLoop sends a heartbeat message on every tick.
func (h *HeartbeatService) runHeartbeatLoop(ctx context.Context, ticker clockwork.Ticker) {
	for {
		select {
		case <-ticker.Chan():
			if err := h.publishHeartbeat(); err != nil {
				h.logger.Error().Err(err).Msg("Failed to publish heartbeat message")
			} else {
				h.logger.Debug().Msg("Heartbeat published successfully")
			}

		case <-ctx.Done():
			h.logger.Info().Msg("HeartbeatService stopping gracefully")
			return
		}
	}
}

func (h *HeartbeatService) heartbeat() models.Heartbeat {
	msg := models.Heartbeat{
		UserID:    h.UserInfo.GetUserID(),
		Timestamp: h.clock.Now(),
		Status:    constants.StatusIdle,
	}
	if details, ok := h.Tracker.Snapshot(); ok {
		msg.Status = constants.StatusRecording
		msg.TrackID = details.ID
		msg.WayPoints = len(details.WayPoints)
	}
	return msg
}

func (h *HeartbeatService) publishHeartbeat() error {
	payload, err := json.Marshal(h.heartbeat())
	if err != nil {
		return err
	}

	token := h.mqttClient.Publish(h.PubTopic, byte(h.QOS), false, payload)
	token.Wait()
	return token.Error()
}
