package presentation

import (
	"context"
	"testing"
	"time"

	"github.com/benmeehan/greta-tracker/internal/binding"
	"github.com/benmeehan/greta-tracker/internal/models"
	"github.com/benmeehan/greta-tracker/internal/observable"
	"github.com/benmeehan/greta-tracker/internal/services"
	"github.com/benmeehan/greta-tracker/pkg/location"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fixAt(lat, lon, alt float64, offset time.Duration) location.Fix {
	return location.Fix{Latitude: lat, Longitude: lon, Altitude: alt, Timestamp: t1.Add(offset)}
}

func newTracker() *services.TrackingService {
	return services.NewTrackingService(time.Second, location.NewReplayProvider(nil), nil, clockwork.NewFakeClockAt(t1), zerolog.Nop())
}

type controllerFixture struct {
	host       *binding.Host[*services.TrackingService]
	renderer   *spyRenderer
	presence   *observable.Channel[models.PresenceSnapshot]
	controller *MapController
}

func newControllerFixture() *controllerFixture {
	f := &controllerFixture{
		host:     binding.NewHost[*services.TrackingService]("tracking", zerolog.Nop()),
		renderer: &spyRenderer{},
		presence: observable.NewChannel[models.PresenceSnapshot]("test_presence"),
	}
	f.controller = NewMapController(f.host, NewMapView(f.renderer), f.presence, zerolog.Nop())
	return f
}

// connected reports whether the controller registered its track listener.
func (c *MapController) connectedForTest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.listenerID != 0
}

func (c *MapController) listenerForTest() services.ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.listenerID
}

func waitConnected(t *testing.T, c *MapController) {
	t.Helper()
	require.Eventually(t, c.connectedForTest, time.Second, 5*time.Millisecond)
}

func TestMapController_FollowsTrackOnceBound(t *testing.T) {
	f := newControllerFixture()
	tracker := newTracker()

	require.NoError(t, f.controller.Resume(context.Background()))
	assert.False(t, f.controller.connectedForTest(), "bind stays pending until the service starts")

	f.host.Start(tracker)
	waitConnected(t, f.controller)

	require.NoError(t, tracker.OnFixAcquired(fixAt(48.85, 2.35, 35, 0)))
	require.NoError(t, tracker.OnFixAcquired(fixAt(48.86, 2.36, 40, time.Second)))

	drawn := f.renderer.drawn()
	require.Len(t, drawn, 2)
	assert.Len(t, drawn[0], 1)
	assert.Len(t, drawn[1], 2)

	require.NoError(t, f.controller.Pause())
}

func TestMapController_ResumeOnRecordingTrack(t *testing.T) {
	f := newControllerFixture()
	tracker := newTracker()
	f.host.Start(tracker)
	require.NoError(t, tracker.OnFixAcquired(fixAt(48.85, 2.35, 35, 0)))
	require.NoError(t, tracker.OnFixAcquired(fixAt(48.86, 2.36, 40, time.Second)))

	require.NoError(t, f.controller.Resume(context.Background()))
	waitConnected(t, f.controller)

	drawn := f.renderer.drawn()
	require.Len(t, drawn, 1, "the current track is drawn right away")
	assert.Len(t, drawn[0], 2)

	require.NoError(t, f.controller.Pause())
}

func TestMapController_PauseStopsUpdates(t *testing.T) {
	f := newControllerFixture()
	tracker := newTracker()
	f.host.Start(tracker)

	require.NoError(t, f.controller.Resume(context.Background()))
	assert.ErrorIs(t, f.controller.Resume(context.Background()), ErrAlreadyResumed)
	waitConnected(t, f.controller)
	require.NoError(t, tracker.OnFixAcquired(fixAt(48.85, 2.35, 35, 0)))

	require.NoError(t, f.controller.Pause())
	assert.ErrorIs(t, f.controller.Pause(), ErrNotResumed)
	assert.Equal(t, 0, tracker.Details().Len(), "the view is detached")

	require.NoError(t, tracker.OnFixAcquired(fixAt(48.86, 2.36, 40, time.Second)))
	assert.Len(t, f.renderer.drawn(), 1)

	// Resuming again picks up where the track is.
	require.NoError(t, f.controller.Resume(context.Background()))
	waitConnected(t, f.controller)
	drawn := f.renderer.drawn()
	require.Len(t, drawn, 2)
	assert.Len(t, drawn[1], 2)
	require.NoError(t, f.controller.Pause())
}

func TestMapController_ServiceDeathAndRestart(t *testing.T) {
	f := newControllerFixture()
	first := newTracker()
	f.host.Start(first)

	require.NoError(t, f.controller.Resume(context.Background()))
	waitConnected(t, f.controller)
	firstListener := f.controller.listenerForTest()
	require.NoError(t, first.OnFixAcquired(fixAt(48.85, 2.35, 35, 0)))
	require.Len(t, f.renderer.drawn(), 1)

	f.host.Kill()
	require.Eventually(t, func() bool { return first.Details().Len() == 0 }, time.Second, 5*time.Millisecond,
		"the view detaches from a dead service")
	assert.False(t, first.RemoveTrackListener(firstListener), "the listener is released with the dead service")

	require.NoError(t, first.OnFixAcquired(fixAt(48.86, 2.36, 40, time.Second)))
	assert.Len(t, f.renderer.drawn(), 1)

	second := newTracker()
	f.host.Start(second)
	waitConnected(t, f.controller)
	require.NoError(t, second.OnFixAcquired(fixAt(45.0, 6.0, 1200, 0)))

	drawn := f.renderer.drawn()
	require.Len(t, drawn, 2)
	assert.Equal(t, AltitudeColor(1200), drawn[1][0].Color)

	require.NoError(t, f.controller.Pause())
}

func TestMapController_ShowsPresence(t *testing.T) {
	f := newControllerFixture()
	f.presence.Publish(models.PresenceSnapshot{
		{UserID: "a", Presence: models.Presence{Latitude: 1, Longitude: 2, Username: "Alice"}},
	})

	require.NoError(t, f.controller.Resume(context.Background()))
	f.presence.Publish(models.PresenceSnapshot{})
	require.NoError(t, f.controller.Pause())

	f.presence.Publish(models.PresenceSnapshot{
		{UserID: "b", Presence: models.Presence{Latitude: 3, Longitude: 4, Username: "Bob"}},
	})
	assert.Equal(t, []string{"add a Alice 1.00,2.00", "remove a"}, f.renderer.log())
}

func TestMapController_ContextCancelEndsResume(t *testing.T) {
	f := newControllerFixture()
	tracker := newTracker()
	f.host.Start(tracker)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.controller.Resume(ctx))
	waitConnected(t, f.controller)

	cancel()
	require.Eventually(t, func() bool { return tracker.Details().Len() == 0 && f.presence.Len() == 0 },
		time.Second, 5*time.Millisecond)

	// Resuming after the context ended is allowed.
	require.NoError(t, f.controller.Resume(context.Background()))
	waitConnected(t, f.controller)
	require.NoError(t, f.controller.Pause())
}
