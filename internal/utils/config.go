package utils

import (
	"fmt"
	"time"

	"github.com/benmeehan/greta-tracker/internal/constants"
	"github.com/benmeehan/greta-tracker/pkg/file"
	"github.com/go-playground/validator/v10"
)

// Config represents the structure of the configuration file.
type Config struct {
	Logging struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"` // Minimum log level
		Pretty bool   `yaml:"pretty"`                                                        // Human readable console output
	} `yaml:"logging"`

	MQTT struct {
		Broker        string        `yaml:"broker" validate:"required"` // MQTT broker address
		ClientID      string        `yaml:"client_id" validate:"required"`
		Username      string        `yaml:"username"`
		Password      string        `yaml:"password"`
		CACertificate string        `yaml:"ca_certificate"` // Path to the CA certificate, empty for plain TCP
		KeepAlive     time.Duration `yaml:"keep_alive"`
	} `yaml:"mqtt"`

	Identity struct {
		UserFile string `yaml:"user_file" validate:"required"` // Path to the user identity file
		Username string `yaml:"username"`                       // Default display name
	} `yaml:"identity"`

	Tracking struct {
		Interval          time.Duration `yaml:"interval" validate:"gt=0"`                          // Interval between fix acquisitions
		Provider          string        `yaml:"provider" validate:"oneof=gps geolocation replay"` // Positioning source
		GPSDevicePort     string        `yaml:"gps_device_port" validate:"required_if=Provider gps"`
		GPSDeviceBaudRate int           `yaml:"gps_baud_rate" validate:"gt=0"`
		MapsAPIKey        string        `yaml:"maps_api_key" validate:"required_if=Provider geolocation"`
		ModemIndex        int           `yaml:"modem_index" validate:"gte=0"`
		ReplayFile        string        `yaml:"replay_file" validate:"required_if=Provider replay"`
	} `yaml:"tracking"`

	Presence struct {
		Enabled     bool   `yaml:"enabled"`
		TopicPrefix string `yaml:"topic_prefix" validate:"required_if=Enabled true"`
		QOS         int    `yaml:"qos" validate:"gte=0,lte=2"`
	} `yaml:"presence"`

	Heartbeat struct {
		Enabled  bool          `yaml:"enabled"`
		Topic    string        `yaml:"topic" validate:"required_if=Enabled true"`
		Interval time.Duration `yaml:"interval" validate:"gt=0"`
		QOS      int           `yaml:"qos" validate:"gte=0,lte=2"`
	} `yaml:"heartbeat"`

	Archive struct {
		Backend         string `yaml:"backend" validate:"oneof=file s3"`
		Dir             string `yaml:"dir" validate:"required_if=Backend file"`
		Endpoint        string `yaml:"endpoint" validate:"required_if=Backend s3"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		Bucket          string `yaml:"bucket" validate:"required_if=Backend s3"`
		Region          string `yaml:"region"`
		UseSSL          bool   `yaml:"use_ssl"`
		Workers         int    `yaml:"workers" validate:"gt=0"`
	} `yaml:"archive"`

	Metrics struct {
		ListenAddress string `yaml:"listen_address"` // Empty disables the /metrics endpoint
	} `yaml:"metrics"`
}

// applyDefaults fills optional fields left empty in the file.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Tracking.Interval == 0 {
		c.Tracking.Interval = constants.DefaultFixInterval
	}
	if c.Tracking.Provider == "" {
		c.Tracking.Provider = constants.ProviderGPS
	}
	if c.Tracking.GPSDeviceBaudRate == 0 {
		c.Tracking.GPSDeviceBaudRate = constants.DefaultGPSBaudRate
	}
	if c.Presence.TopicPrefix == "" {
		c.Presence.TopicPrefix = constants.DefaultPresencePrefix
	}
	if c.Heartbeat.Topic == "" {
		c.Heartbeat.Topic = constants.DefaultHeartbeatTopic
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = constants.DefaultHeartbeatInterval
	}
	if c.Archive.Backend == "" {
		c.Archive.Backend = constants.ArchiveFile
	}
	if c.Archive.Workers == 0 {
		c.Archive.Workers = constants.DefaultArchiveWorkers
	}
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and validates it.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}

	config.applyDefaults()

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}

	return &config, nil
}
