package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of the motion planner
type Config struct {
	Vehicle  VehicleConfig  `yaml:"vehicle"`
	Planning PlanningConfig `yaml:"planning"`
	Mission  MissionConfig  `yaml:"mission"`
	Log      LogConfig      `yaml:"log"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// VehicleConfig is the MAVLink connection to the vehicle
type VehicleConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Timeout bounds the dial and the silence tolerated on the link
	Timeout  time.Duration `yaml:"timeout"`
	SystemID int           `yaml:"systemId"`
}

type PlanningConfig struct {
	SurveyPath     string  `yaml:"survey"`
	TargetAltitude float64 `yaml:"targetAltitude"`
	SafetyDistance float64 `yaml:"safetyDistance"`
	// Moves is "diagonal" (8-connected) or "straight" (4-connected)
	Moves    string  `yaml:"moves"`
	Epsilon  float64 `yaml:"epsilon"`
	Shortcut bool    `yaml:"shortcut"`
}

// MissionConfig holds the goal of the mission
type MissionConfig struct {
	GoalLat float64 `yaml:"goalLat"`
	GoalLon float64 `yaml:"goalLon"`
	GoalAlt float64 `yaml:"goalAlt"`
}

type LogConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	// File is the rotated navigation log, empty for stdout only
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

// MQTTConfig enables the telemetry uplink when Broker is set
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	DeviceID       string        `yaml:"deviceId"`
	ProjectID      string        `yaml:"projectId"`
	Region         string        `yaml:"region"`
	RegistryID     string        `yaml:"registryId"`
	PrivateKey     string        `yaml:"privateKey"`
	Algorithm      string        `yaml:"algorithm"`
	Interval       time.Duration `yaml:"interval"`
	ConnectRetries int           `yaml:"connectRetries"`
}

// Default returns the default configuration with environment overrides
func Default() *Config {
	return &Config{
		Vehicle: VehicleConfig{
			Host:     getEnvOrDefault("VEHICLE_HOST", "127.0.0.1"),
			Port:     getEnvIntOrDefault("VEHICLE_PORT", 5760),
			Timeout:  getEnvDurationOrDefault("VEHICLE_TIMEOUT", 60*time.Second),
			SystemID: 255,
		},
		Planning: PlanningConfig{
			SurveyPath:     getEnvOrDefault("SURVEY_PATH", "colliders.csv"),
			TargetAltitude: 5,
			SafetyDistance: 5,
			Moves:          "diagonal",
			Epsilon:        1e-6,
			Shortcut:       true,
		},
		Mission: MissionConfig{
			GoalLat: 37.795227,
			GoalLon: -122.395989,
		},
		Log: LogConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			File:       getEnvOrDefault("LOG_FILE", "Logs/NavLog.txt"),
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		MQTT: MQTTConfig{
			Broker:         getEnvOrDefault("MQTT_BROKER", ""),
			DeviceID:       getEnvOrDefault("DEVICE_ID", ""),
			ProjectID:      "auto-fleet-mgnt",
			Region:         "europe-west1",
			RegistryID:     "fleet-registry",
			PrivateKey:     getEnvOrDefault("PRIVATE_KEY", "/enclave/rsa_private.pem"),
			Algorithm:      "RS256",
			Interval:       100 * time.Millisecond,
			ConnectRetries: 5,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return c, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Vehicle.Host == "" {
		return errors.New("vehicle.host cannot be empty")
	}
	if c.Vehicle.Port <= 0 || c.Vehicle.Port > 65535 {
		return errors.Errorf("vehicle.port %d out of range", c.Vehicle.Port)
	}
	if c.Vehicle.Timeout <= 0 {
		return errors.New("vehicle.timeout must be > 0")
	}
	if c.Vehicle.SystemID < 1 || c.Vehicle.SystemID > 255 {
		return errors.Errorf("vehicle.systemId %d out of range", c.Vehicle.SystemID)
	}

	if c.Planning.SurveyPath == "" {
		return errors.New("planning.survey cannot be empty")
	}
	if c.Planning.TargetAltitude <= 0 {
		return errors.New("planning.targetAltitude must be > 0")
	}
	if c.Planning.SafetyDistance < 0 {
		return errors.New("planning.safetyDistance must be >= 0")
	}
	if c.Planning.Moves != "diagonal" && c.Planning.Moves != "straight" {
		return errors.Errorf("planning.moves must be diagonal or straight, got %q", c.Planning.Moves)
	}
	if c.Planning.Epsilon <= 0 {
		return errors.New("planning.epsilon must be > 0")
	}

	if c.Mission.GoalLat < -90 || c.Mission.GoalLat > 90 || c.Mission.GoalLon < -180 || c.Mission.GoalLon > 180 {
		return errors.Errorf("mission goal %v,%v is not a geodetic position", c.Mission.GoalLat, c.Mission.GoalLon)
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.DeviceID == "" {
			return errors.New("mqtt.deviceId is required when mqtt.broker is set")
		}
		if c.MQTT.Interval <= 0 {
			return errors.New("mqtt.interval must be > 0")
		}
	}

	return nil
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
