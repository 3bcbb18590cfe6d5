package services

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/greta-tracker/internal/mocks"
	"github.com/benmeehan/greta-tracker/internal/models"
	"github.com/benmeehan/greta-tracker/internal/observable"
	"github.com/benmeehan/greta-tracker/pkg/location"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPrefix = "greta/presence"

type presenceFixture struct {
	svc       *PresenceService
	client    *mocks.MQTTClient
	details   *observable.Channel[models.TrackDetails]
	handler   pahomqtt.MessageHandler
	published chan []byte
}

func newPresenceFixture(t *testing.T) *presenceFixture {
	t.Helper()
	f := &presenceFixture{
		client:  new(mocks.MQTTClient),
		details:   observable.NewChannel[models.TrackDetails]("test_details"),
		published: make(chan []byte, 16),
	}
	f.svc = NewPresenceService(testPrefix+"/", 1, mocks.NewUserInfo("me", "Greta"), f.client, f.details, zerolog.Nop())
	return f
}

// newPresenceFixtureFor builds a fixture fed by a tracking service's details.
func newPresenceFixtureFor(tracker *TrackingService) *presenceFixture {
	f := &presenceFixture{
		client:    new(mocks.MQTTClient),
		details:   tracker.Details(),
		published: make(chan []byte, 16),
	}
	f.svc = NewPresenceService(testPrefix, 1, mocks.NewUserInfo("me", "Greta"), f.client, f.details, zerolog.Nop())
	return f
}

// expectShare expects our position to be published once.
func (f *presenceFixture) expectShare(lat, lon float64) {
	f.client.On("Publish", testPrefix+"/me", byte(1), true, mock.MatchedBy(presencePayload(lat, lon, "Greta"))).
		Run(func(args mock.Arguments) { f.published <- args.Get(3).([]byte) }).
		Return(mocks.NewCompletedToken(nil)).Once()
}

func (f *presenceFixture) waitShared(t *testing.T) {
	t.Helper()
	select {
	case <-f.published:
	case <-time.After(time.Second):
		t.Fatal("position was not published")
	}
}

func (f *presenceFixture) assertNothingShared(t *testing.T) {
	t.Helper()
	select {
	case payload := <-f.published:
		t.Fatalf("unexpected publish %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *presenceFixture) start(t *testing.T) {
	t.Helper()
	f.client.On("Subscribe", testPrefix+"/+", byte(1), mock.Anything).
		Run(func(args mock.Arguments) { f.handler = args.Get(2).(pahomqtt.MessageHandler) }).
		Return(mocks.NewCompletedToken(nil)).Once()
	require.NoError(t, f.svc.Start())
	require.NotNil(t, f.handler)

	t.Cleanup(func() {
		f.client.On("Publish", testPrefix+"/me", byte(1), true, []byte{}).Return(mocks.NewCompletedToken(nil)).Maybe()
		f.client.On("Unsubscribe", []string{testPrefix + "/+"}).Return(mocks.NewCompletedToken(nil)).Maybe()
		_ = f.svc.Stop()
	})
}

func (f *presenceFixture) deliver(topic, payload string) {
	f.handler(nil, mocks.NewMockMessage(topic, []byte(payload)))
}

func presencePayload(lat, lon float64, username string) func([]byte) bool {
	return func(b []byte) bool {
		var p models.Presence
		return json.Unmarshal(b, &p) == nil && p == models.Presence{Latitude: lat, Longitude: lon, Username: username}
	}
}

func recording(points ...models.WayPoint) models.TrackDetails {
	return models.TrackDetails{
		Track:     models.Track{ID: "track-1", StartedAt: t1},
		Status:    models.TrackRecording,
		WayPoints: points,
	}
}

func TestPresenceService_SharesOwnPosition(t *testing.T) {
	f := newPresenceFixture(t)
	f.start(t)

	f.expectShare(48.85, 2.35)
	f.expectShare(48.86, 2.36)

	first := models.WayPoint{Latitude: 48.85, Longitude: 2.35, Altitude: 35, Timestamp: t1}
	second := models.WayPoint{Latitude: 48.86, Longitude: 2.36, Altitude: 40, Timestamp: t1.Add(5 * time.Second)}
	f.details.Publish(recording(first))
	f.waitShared(t)
	f.details.Publish(recording(first, second))
	f.waitShared(t)

	// Finalizing republishes the same last point, which is not shared again.
	finalized := recording(first, second)
	finalized.Status = models.TrackFinalized
	f.details.Publish(finalized)
	f.assertNothingShared(t)

	f.client.AssertExpectations(t)
}

func TestPresenceService_SlowBrokerDoesNotStallTracking(t *testing.T) {
	tracker, _ := newTestTrackingService(location.NewReplayProvider(nil), nil)
	f := newPresenceFixtureFor(tracker)
	f.start(t)

	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	f.client.On("Publish", testPrefix+"/me", byte(1), true, mock.Anything).
		Run(func(args mock.Arguments) { f.published <- args.Get(3).([]byte) }).
		Return(mocks.NewPendingToken(release))

	started := time.Now()
	require.NoError(t, tracker.OnFixAcquired(fix1))
	f.waitShared(t)
	// The first publish is still waiting for the broker.
	require.NoError(t, tracker.OnFixAcquired(fix2))
	require.NoError(t, tracker.OnFixAcquired(location.Fix{Latitude: 48.87, Longitude: 2.37, Timestamp: t1.Add(10 * time.Second)}))
	assert.Less(t, time.Since(started), time.Second, "fixes are recorded while the broker is slow")
	details, ok := tracker.Snapshot()
	require.True(t, ok)
	assert.Len(t, details.WayPoints, 3)

	unblock()
	select {
	case payload := <-f.published:
		assert.True(t, presencePayload(48.87, 2.37, "Greta")(payload), "only the latest position is sent")
	case <-time.After(time.Second):
		t.Fatal("latest position was not published")
	}
}

func TestPresenceService_StartSharesCurrentTrack(t *testing.T) {
	f := newPresenceFixture(t)
	f.details.Publish(recording())
	f.details.Publish(recording(models.WayPoint{Latitude: 48.85, Longitude: 2.35, Timestamp: t1}))

	f.expectShare(48.85, 2.35)
	f.start(t)

	f.waitShared(t)
	f.client.AssertExpectations(t)
}

func TestPresenceService_TracksOtherUsers(t *testing.T) {
	f := newPresenceFixture(t)
	f.start(t)

	var snapshots []models.PresenceSnapshot
	_, err := f.svc.Snapshots().Attach(newTestScope(t), func(s models.PresenceSnapshot) {
		snapshots = append(snapshots, s)
	})
	require.NoError(t, err)

	f.deliver(testPrefix+"/zoe", `{"latitude":48.1,"longitude":2.1,"username":"Zoe"}`)
	f.deliver(testPrefix+"/adam", `{"latitude":48.2,"longitude":2.2,"username":"Adam"}`)
	f.deliver(testPrefix+"/zoe", `{"latitude":48.3,"longitude":2.3,"username":"Zoe"}`)

	assert.Equal(t, models.PresenceSnapshot{
		{UserID: "adam", Presence: models.Presence{Latitude: 48.2, Longitude: 2.2, Username: "Adam"}},
		{UserID: "zoe", Presence: models.Presence{Latitude: 48.3, Longitude: 2.3, Username: "Zoe"}},
	}, f.svc.Snapshot(), "a known user is moved, not duplicated")
	require.Len(t, snapshots, 3)
	assert.Len(t, snapshots[0], 1)

	// A cleared retained message removes the user.
	f.handler(nil, mocks.NewRetainedMessage(testPrefix+"/zoe", nil))
	assert.Len(t, f.svc.Snapshot(), 1)
	assert.Len(t, snapshots, 4)
}

func TestPresenceService_IgnoresUnusableMessages(t *testing.T) {
	f := newPresenceFixture(t)
	f.start(t)

	f.deliver(testPrefix+"/me", `{"latitude":48.1,"longitude":2.1,"username":"Greta"}`)
	f.deliver(testPrefix+"/bob", `not json`)
	f.deliver(testPrefix+"/bob", `{"latitude":123,"longitude":2.1,"username":"Bob"}`)
	f.deliver(testPrefix+"/bob/extra", `{"latitude":48.1,"longitude":2.1,"username":"Bob"}`)
	f.deliver("other/bob", `{"latitude":48.1,"longitude":2.1,"username":"Bob"}`)
	f.deliver(testPrefix+"/ghost", "")

	assert.Empty(t, f.svc.Snapshot())
	_, published := f.svc.Snapshots().Latest()
	assert.False(t, published)
}

func TestPresenceService_Stop(t *testing.T) {
	f := newPresenceFixture(t)
	f.start(t)
	require.Equal(t, 1, f.details.Len())

	f.client.On("Publish", testPrefix+"/me", byte(1), true, []byte{}).Return(mocks.NewCompletedToken(nil)).Once()
	f.client.On("Unsubscribe", []string{testPrefix + "/+"}).Return(mocks.NewCompletedToken(nil)).Once()

	require.NoError(t, f.svc.Stop())
	assert.Equal(t, 0, f.details.Len(), "stopping detaches from the track details")

	// No longer shared after stop.
	f.details.Publish(recording(models.WayPoint{Latitude: 48.85, Longitude: 2.35, Timestamp: t1}))

	assert.Error(t, f.svc.Stop())
	f.client.AssertExpectations(t)
	f.client.AssertNumberOfCalls(t, "Publish", 1)
}

func TestPresenceService_SubscribeFailure(t *testing.T) {
	f := newPresenceFixture(t)
	subErr := errors.New("not authorized")
	f.client.On("Subscribe", testPrefix+"/+", byte(1), mock.Anything).Return(mocks.NewCompletedToken(subErr)).Once()

	assert.ErrorIs(t, f.svc.Start(), subErr)
	assert.Equal(t, 0, f.details.Len())

	// A failed start can be retried.
	f.start(t)
	assert.Equal(t, 1, f.details.Len())
	assert.Error(t, f.svc.Start())
}
