package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/jonboulle/clockwork"
	"github.com/tarm/serial"
)

// maxSentencesPerRead bounds how many NMEA lines are scanned for a GGA sentence per call.
const maxSentencesPerRead = 64

// DeviceSensorProvider is responsible for retrieving location data from a GPS device connected via serial port.
type DeviceSensorProvider struct {
	port     string // Serial port to which the GPS device is connected
	baudRate int    // Baud rate for the serial communication
	clock    clockwork.Clock

	openPort func(c *serial.Config) (io.ReadWriteCloser, error)

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	scanner *bufio.Scanner
}

// NewDeviceSensorProvider creates a new instance of DeviceSensorProvider with the specified port and baud rate.
func NewDeviceSensorProvider(port string, baudRate int, clock clockwork.Clock) *DeviceSensorProvider {
	return &DeviceSensorProvider{
		port:     port,
		baudRate: baudRate,
		clock:    clock,
		openPort: func(c *serial.Config) (io.ReadWriteCloser, error) {
			return serial.OpenPort(c)
		},
	}
}

// GetLocation reads NMEA sentences from the device until a GGA sentence is found.
// A missing port permission or a GGA without a fix yields ErrNoFix.
func (d *DeviceSensorProvider) GetLocation(ctx context.Context) (Fix, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return Fix{}, err
	}

	for i := 0; i < maxSentencesPerRead; i++ {
		if err := ctx.Err(); err != nil {
			return Fix{}, err
		}
		if !d.scanner.Scan() {
			err := d.scanner.Err()
			d.resetLocked()
			if err == nil {
				return Fix{}, ErrNoFix
			}
			return Fix{}, fmt.Errorf("failed to read from %s: %w", d.port, err)
		}

		fix, ok, err := parseFix(d.scanner.Text(), d.clock.Now())
		if err != nil {
			return Fix{}, err
		}
		if ok {
			return fix, nil
		}
	}

	return Fix{}, ErrNoFix
}

// Close releases the serial port.
func (d *DeviceSensorProvider) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.scanner = nil
	return err
}

func (d *DeviceSensorProvider) ensureOpen() error {
	if d.conn != nil {
		return nil
	}
	conn, err := d.openPort(&serial.Config{Name: d.port, Baud: d.baudRate, ReadTimeout: 2 * time.Second})
	if err != nil {
		// No permission on the device node means positioning is not authorized.
		if errors.Is(err, os.ErrPermission) || os.IsNotExist(err) {
			return ErrNoFix
		}
		return fmt.Errorf("failed to open GPS port %s: %w", d.port, err)
	}
	d.conn = conn
	d.scanner = bufio.NewScanner(conn)
	return nil
}

func (d *DeviceSensorProvider) resetLocked() {
	if d.conn != nil {
		_ = d.conn.Close()
	}
	d.conn = nil
	d.scanner = nil
}

// parseFix converts a GGA sentence into a Fix. ok is false for sentences that are
// not GGA. GGA carries only the time of day, so the date is the one that puts the
// fix closest to now.
func parseFix(line string, now time.Time) (Fix, bool, error) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		// Partial lines are common right after the port is opened.
		return Fix{}, false, nil
	}

	gga, ok := sentence.(nmea.GGA)
	if !ok {
		return Fix{}, false, nil
	}
	if gga.FixQuality == nmea.Invalid || !gga.Time.Valid {
		return Fix{}, false, ErrNoFix
	}

	day := now.UTC()
	ts := time.Date(day.Year(), day.Month(), day.Day(),
		gga.Time.Hour, gga.Time.Minute, gga.Time.Second, gga.Time.Millisecond*int(time.Millisecond), time.UTC)
	// Sentences read across UTC midnight belong to the neighbouring day.
	switch ahead := ts.Sub(now); {
	case ahead > 12*time.Hour:
		ts = ts.AddDate(0, 0, -1)
	case ahead < -12*time.Hour:
		ts = ts.AddDate(0, 0, 1)
	}

	return Fix{
		Latitude:  gga.Latitude,
		Longitude: gga.Longitude,
		Altitude:  gga.Altitude,
		Accuracy:  gga.HDOP, // Use HDOP as a proxy for accuracy
		Timestamp: ts,
	}, true, nil
}
