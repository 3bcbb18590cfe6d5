package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/greta-tracker/internal/lifecycle"
	"github.com/benmeehan/greta-tracker/internal/metrics"
	"github.com/benmeehan/greta-tracker/internal/models"
	"github.com/benmeehan/greta-tracker/internal/observable"
	"github.com/benmeehan/greta-tracker/pkg/identity"
	"github.com/benmeehan/greta-tracker/pkg/location"
	"github.com/benmeehan/greta-tracker/pkg/mqtt"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

const presencePublishTimeout = 5 * time.Second

// PresenceService shares this user's live position with other users over MQTT
// and keeps track of theirs.
//
// Own positions are published retained on <prefix>/<user_id> whenever the track
// details change. Positions of other users are read from <prefix>/+ and exposed
// as sorted snapshots on Snapshots.
type PresenceService struct {
	// Configuration fields
	topicPrefix string
	qos         int

	// Dependencies
	userInfo   identity.UserInfoInterface
	mqttClient mqtt.MQTTClient
	details    *observable.Channel[models.TrackDetails]
	logger     zerolog.Logger

	users     cmap.ConcurrentMap[string, models.UserPresence]
	snapshots *observable.Channel[models.PresenceSnapshot]

	// snapshotMu keeps snapshot publishes in the order the table changed.
	snapshotMu sync.Mutex

	// pending holds the latest own position not yet handed to the broker.
	pending chan []byte
	wg      sync.WaitGroup

	// Internal state management
	mu         sync.Mutex
	scope      *lifecycle.Scope
	lastShared *models.WayPoint
}

// NewPresenceService creates a PresenceService fed by the given track details channel.
func NewPresenceService(topicPrefix string, qos int, userInfo identity.UserInfoInterface, mqttClient mqtt.MQTTClient,
	details *observable.Channel[models.TrackDetails], logger zerolog.Logger) *PresenceService {
	return &PresenceService{
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		qos:         qos,
		userInfo:    userInfo,
		mqttClient:  mqttClient,
		details:     details,
		logger:      logger,
		users:       cmap.New[models.UserPresence](),
		snapshots:   observable.NewChannel[models.PresenceSnapshot]("presence"),
		pending:     make(chan []byte, 1),
	}
}

// Start subscribes to other users' positions and begins sharing our own.
func (p *PresenceService) Start() error {
	p.mu.Lock()
	if p.scope != nil {
		p.mu.Unlock()
		p.logger.Warn().Msg("PresenceService is already running")
		return errors.New("presence service is already running")
	}
	scope := lifecycle.NewScope(context.Background(), "presence")
	p.scope = scope
	p.mu.Unlock()

	topic := p.topicPrefix + "/+"
	token := p.mqttClient.Subscribe(topic, byte(p.qos), p.handlePresence)
	token.Wait()
	if err := token.Error(); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		p.abortStart(scope)
		return err
	}

	p.wg.Add(1)
	go p.publishLoop(scope)

	// Attach replays the current track, so our position is shared right away.
	if _, err := p.details.Attach(scope, p.shareOwnPosition); err != nil {
		p.mqttClient.Unsubscribe(topic).Wait()
		p.abortStart(scope)
		return err
	}

	p.logger.Info().
		Str("topic", topic).
		Int("qos", p.qos).
		Msg("PresenceService started")
	return nil
}

func (p *PresenceService) abortStart(scope *lifecycle.Scope) {
	scope.End()
	p.wg.Wait()
	p.mu.Lock()
	if p.scope == scope {
		p.scope = nil
	}
	p.mu.Unlock()
}

// Stop stops sharing, clears our retained position and unsubscribes.
func (p *PresenceService) Stop() error {
	p.mu.Lock()
	scope := p.scope
	p.scope = nil
	p.mu.Unlock()

	if scope == nil {
		p.logger.Warn().Msg("PresenceService is not running")
		return errors.New("presence service is not running")
	}
	scope.End()
	p.wg.Wait()

	p.mu.Lock()
	p.lastShared = nil
	p.mu.Unlock()
	select {
	case <-p.pending:
	default:
	}

	ownTopic := p.ownTopic()
	token := p.mqttClient.Publish(ownTopic, byte(p.qos), true, []byte{})
	if token.WaitTimeout(presencePublishTimeout) && token.Error() != nil {
		p.logger.Warn().Err(token.Error()).Str("topic", ownTopic).Msg("Failed to clear own presence")
	}

	topic := p.topicPrefix + "/+"
	token = p.mqttClient.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to unsubscribe from MQTT topic")
		return err
	}

	p.logger.Info().Msg("PresenceService stopped")
	return nil
}

// Snapshots carries the list of other users' positions after each change.
func (p *PresenceService) Snapshots() *observable.Channel[models.PresenceSnapshot] {
	return p.snapshots
}

// Snapshot returns the known positions of other users, sorted by user id.
func (p *PresenceService) Snapshot() models.PresenceSnapshot {
	snapshot := make(models.PresenceSnapshot, 0, p.users.Count())
	for _, u := range p.users.Items() {
		snapshot = append(snapshot, u)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].UserID < snapshot[j].UserID })
	return snapshot
}

func (p *PresenceService) ownTopic() string {
	return p.topicPrefix + "/" + p.userInfo.GetUserID()
}

// shareOwnPosition queues the last waypoint of the track for publishing. It runs
// on the track details channel, so it never waits for the broker. Only the latest
// position is kept when the broker falls behind.
func (p *PresenceService) shareOwnPosition(details models.TrackDetails) {
	last, ok := details.LastWayPoint()
	if !ok {
		return
	}

	p.mu.Lock()
	if p.lastShared != nil && *p.lastShared == last {
		p.mu.Unlock()
		return
	}
	p.lastShared = &last
	p.mu.Unlock()

	payload, err := json.Marshal(models.Presence{
		Latitude:  last.Latitude,
		Longitude: last.Longitude,
		Username:  p.userInfo.GetUsername(),
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to serialize presence message")
		return
	}

	// Deliveries are serialized, so this is the only sender.
	select {
	case <-p.pending:
		p.logger.Debug().Msg("Replacing unsent presence")
	default:
	}
	p.pending <- payload
}

// publishLoop hands queued positions to the broker until scope ends.
func (p *PresenceService) publishLoop(scope *lifecycle.Scope) {
	defer p.wg.Done()
	for {
		select {
		case <-scope.Done():
			return
		case payload := <-p.pending:
			p.publishOwn(payload)
		}
	}
}

func (p *PresenceService) publishOwn(payload []byte) {
	topic := p.ownTopic()
	token := p.mqttClient.Publish(topic, byte(p.qos), true, payload)
	if !token.WaitTimeout(presencePublishTimeout) {
		p.logger.Warn().Str("topic", topic).Msg("Timed out publishing presence")
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish presence")
		return
	}
	p.logger.Debug().Str("topic", topic).Msg("Presence published")
}

// handlePresence processes a position update of another user.
func (p *PresenceService) handlePresence(_ pahomqtt.Client, msg pahomqtt.Message) {
	userID, ok := strings.CutPrefix(msg.Topic(), p.topicPrefix+"/")
	if !ok || userID == "" || strings.Contains(userID, "/") {
		p.logger.Warn().Str("topic", msg.Topic()).Msg("Ignoring presence on unexpected topic")
		return
	}
	if userID == p.userInfo.GetUserID() {
		return
	}

	// An empty retained message means the user went away.
	if len(msg.Payload()) == 0 {
		if _, existed := p.users.Pop(userID); existed {
			p.logger.Debug().Str("user_id", userID).Msg("User left")
			p.publishSnapshot()
		}
		return
	}

	var presence models.Presence
	if err := json.Unmarshal(msg.Payload(), &presence); err != nil {
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("Ignoring malformed presence message")
		return
	}
	if !(location.Fix{Latitude: presence.Latitude, Longitude: presence.Longitude}).Valid() {
		p.logger.Warn().Str("user_id", userID).Msg("Ignoring presence with invalid coordinates")
		return
	}

	p.users.Set(userID, models.UserPresence{UserID: userID, Presence: presence})
	p.logger.Debug().
		Str("user_id", userID).
		Str("username", presence.Username).
		Msg("Presence updated")
	p.publishSnapshot()
}

func (p *PresenceService) publishSnapshot() {
	p.snapshotMu.Lock()
	defer p.snapshotMu.Unlock()

	snapshot := p.Snapshot()
	metrics.PresenceUsers.Set(float64(len(snapshot)))
	p.snapshots.Publish(snapshot)
}
