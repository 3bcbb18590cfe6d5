package location

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
)

const (
	ggaFix   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaNoFix = "$GPGGA,123519,4807.038,N,01131.000,E,0,08,0.9,545.4,M,46.9,M,,*46"
	rmc      = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
)

type fakePort struct {
	io.Reader
	closed bool
}

func (f *fakePort) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func newTestDeviceProvider(t *testing.T, data string, openErr error) (*DeviceSensorProvider, *fakePort) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 17, 8, 0, 0, 0, time.UTC))
	p := NewDeviceSensorProvider("/dev/ttyUSB0", 9600, clock)
	port := &fakePort{Reader: strings.NewReader(data)}
	p.openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
		assert.Equal(t, "/dev/ttyUSB0", c.Name)
		assert.Equal(t, 9600, c.Baud)
		if openErr != nil {
			return nil, openErr
		}
		return port, nil
	}
	return p, port
}

func TestDeviceSensorProvider_GetLocation_ParsesGGA(t *testing.T) {
	p, _ := newTestDeviceProvider(t, "garbage\n"+rmc+"\n"+ggaFix+"\n", nil)

	fix, err := p.GetLocation(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 48.1173, fix.Latitude, 1e-4)
	assert.InDelta(t, 11.516667, fix.Longitude, 1e-4)
	assert.InDelta(t, 545.4, fix.Altitude, 1e-9)
	assert.InDelta(t, 0.9, fix.Accuracy, 1e-9)
	assert.Equal(t, time.Date(2024, 5, 17, 12, 35, 19, 0, time.UTC), fix.Timestamp)
}

func TestParseFix_AcrossMidnight(t *testing.T) {
	tests := []struct {
		name     string
		sentence string
		now      time.Time
		want     time.Time
	}{
		{
			name:     "late sentence read after midnight",
			sentence: "$GPGGA,235959,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*4B",
			now:      time.Date(2024, 5, 18, 0, 0, 1, 0, time.UTC),
			want:     time.Date(2024, 5, 17, 23, 59, 59, 0, time.UTC),
		},
		{
			name:     "early sentence read before midnight",
			sentence: "$GPGGA,000001,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*4B",
			now:      time.Date(2024, 5, 17, 23, 59, 59, 0, time.UTC),
			want:     time.Date(2024, 5, 18, 0, 0, 1, 0, time.UTC),
		},
		{
			name:     "same day",
			sentence: ggaFix,
			now:      time.Date(2024, 5, 17, 23, 0, 0, 0, time.UTC),
			want:     time.Date(2024, 5, 17, 12, 35, 19, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix, ok, err := parseFix(tt.sentence, tt.now)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, fix.Timestamp)
		})
	}
}

func TestDeviceSensorProvider_GetLocation_InvalidFixQuality(t *testing.T) {
	p, _ := newTestDeviceProvider(t, ggaNoFix+"\n", nil)

	_, err := p.GetLocation(context.Background())
	assert.ErrorIs(t, err, ErrNoFix)
}

func TestDeviceSensorProvider_GetLocation_EndOfStreamReopens(t *testing.T) {
	p, port := newTestDeviceProvider(t, rmc+"\n", nil)

	_, err := p.GetLocation(context.Background())
	assert.ErrorIs(t, err, ErrNoFix)
	assert.True(t, port.closed)
	assert.Nil(t, p.conn)
}

func TestDeviceSensorProvider_GetLocation_PermissionDenied(t *testing.T) {
	p, _ := newTestDeviceProvider(t, "", &os.PathError{Op: "open", Path: "/dev/ttyUSB0", Err: os.ErrPermission})

	_, err := p.GetLocation(context.Background())
	assert.ErrorIs(t, err, ErrNoFix)
}

func TestDeviceSensorProvider_GetLocation_OpenError(t *testing.T) {
	p, _ := newTestDeviceProvider(t, "", errors.New("device busy"))

	_, err := p.GetLocation(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoFix)
	assert.Contains(t, err.Error(), "device busy")
}

func TestDeviceSensorProvider_Close(t *testing.T) {
	p, port := newTestDeviceProvider(t, ggaFix+"\n", nil)

	_, err := p.GetLocation(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, port.closed)
	assert.NoError(t, p.Close())
}
