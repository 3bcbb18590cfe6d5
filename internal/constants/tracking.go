package constants

import "time"

// Tracker statuses reported by the heartbeat.
const (
	// StatusRecording indicates that a track session is being recorded
	StatusRecording = "recording"
	// StatusIdle indicates that no track session is active
	StatusIdle = "idle"
)

// Location provider kinds.
const (
	ProviderGPS         = "gps"
	ProviderGeolocation = "geolocation"
	ProviderReplay      = "replay"
)

// Archive backends.
const (
	ArchiveFile = "file"
	ArchiveS3   = "s3"
)

const (
	DefaultFixInterval       = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPresencePrefix    = "greta/presence"
	DefaultHeartbeatTopic    = "greta/heartbeat"
	DefaultArchiveWorkers    = 2
	DefaultGPSBaudRate       = 9600

	// MapZoom is the camera zoom used when following the current track.
	MapZoom = 16
	// AltitudeColorCeiling is the altitude in metres mapped to a full hue turn.
	AltitudeColorCeiling = 4000.0
)
