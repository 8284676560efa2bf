package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Model output layouts understood by the detector.
const (
	ModelFormatYOLOv8 = "yolov8"
	ModelFormatSSD    = "ssd"
)

// Default vehicle class ids (car, motorcycle, bus, truck) per model numbering.
var (
	yoloVehicleClassIDs = []int{2, 3, 5, 7}
	ssdVehicleClassIDs  = []int{3, 4, 6, 8}
)

type Config struct {
	// Broker
	BrokerHost      string
	BrokerPort      int
	VehicleTopic    string
	AmbulanceTopic  string
	PublishInterval time.Duration
	ClientID        string
	Username        string
	Password        string
	KeepAlive       time.Duration
	ConnectTimeout  time.Duration
	PublishTimeout  time.Duration
	QoS             int

	// Camera & detection
	CameraSource        string
	CameraName          string
	ModelPath           string
	ModelConfigPath     string
	ModelFormat         string
	LabelsPath          string
	ConfidenceThreshold float64
	NMSThreshold        float64
	VehicleClassIDs     []int
	AmbulanceLabel      string

	// Viewers
	DisplayEnabled bool
	Port           int // 0 disables the HTTP server
	ViewerPassword string

	// Snapshots of frames with an ambulance
	SnapshotsEnabled         bool
	SnapshotDirectory        string
	SnapshotDatabase         string
	ImageBufferLimit         int
	ImageBufferFlushInterval int

	LogDirectory string
	LogMaxSizeMB int
}

// Load reads the configuration once from the environment. A .env file in the
// working directory is loaded first; variables already set take precedence.
func Load() *Config {
	_ = godotenv.Load()

	format := strings.ToLower(getEnv("MODEL_FORMAT", ModelFormatYOLOv8))
	defaultVehicleIDs := yoloVehicleClassIDs
	defaultModel := "yolov8n.onnx"
	if format == ModelFormatSSD {
		defaultVehicleIDs = ssdVehicleClassIDs
		defaultModel = "frozen_inference_graph.pb"
	}

	return &Config{
		BrokerHost:      getEnv("MQTT_BROKER_HOST", "localhost"),
		BrokerPort:      getEnvAsInt("MQTT_BROKER_PORT", 1883),
		VehicleTopic:    getEnv("MQTT_VEHICLE_TOPIC", "traffic/vehicles"),
		AmbulanceTopic:  getEnv("MQTT_AMBULANCE_TOPIC", "traffic/ambulance"),
		PublishInterval: getEnvAsSeconds("PUBLISH_INTERVAL", 5*time.Second),
		ClientID:        getEnv("MQTT_CLIENT_ID", "traffic-node-"+uuid.NewString()),
		Username:        getEnv("MQTT_USERNAME", ""),
		Password:        getEnv("MQTT_PASSWORD", ""),
		KeepAlive:       getEnvAsSeconds("MQTT_KEEPALIVE", 60*time.Second),
		ConnectTimeout:  getEnvAsSeconds("MQTT_CONNECT_TIMEOUT", 5*time.Second),
		PublishTimeout:  getEnvAsSeconds("MQTT_PUBLISH_TIMEOUT", 2*time.Second),
		QoS:             getEnvAsInt("MQTT_QOS", 0),

		CameraSource:        getEnv("CAMERA_SOURCE", "0"),
		CameraName:          getEnv("CAMERA_NAME", "camera0"),
		ModelPath:           getEnv("MODEL_PATH", defaultModel),
		ModelConfigPath:     getEnv("MODEL_CONFIG_PATH", ""),
		ModelFormat:         format,
		LabelsPath:          getEnv("LABELS_PATH", ""),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		NMSThreshold:        getEnvAsFloat("NMS_THRESHOLD", 0.45),
		VehicleClassIDs:     getEnvAsIntList("VEHICLE_CLASS_IDS", defaultVehicleIDs),
		AmbulanceLabel:      getEnv("AMBULANCE_LABEL", "ambulance"),

		DisplayEnabled: getEnvAsBool("DISPLAY_ENABLED", true),
		Port:           getEnvAsInt("HTTP_PORT", 8080),
		ViewerPassword: getEnv("VIEWER_PASSWORD", ""),

		SnapshotsEnabled:         getEnvAsBool("SNAPSHOTS_ENABLED", false),
		SnapshotDirectory:        getEnv("SNAPSHOT_DIR", filepath.Join(".", "snapshots")),
		SnapshotDatabase:         getEnv("SNAPSHOT_DB", filepath.Join(".", "data", "snapshots.db")),
		ImageBufferLimit:         getEnvAsInt("BUFFER_LIMIT", 7),
		ImageBufferFlushInterval: getEnvAsInt("FLUSH_INTERVAL", 30),

		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogMaxSizeMB: getEnvAsInt("LOG_MAX_SIZE_MB", 10),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.BrokerHost == "" {
		errs = append(errs, errors.New("MQTT_BROKER_HOST must not be empty"))
	}
	if c.BrokerPort < 1 || c.BrokerPort > 65535 {
		errs = append(errs, fmt.Errorf("MQTT_BROKER_PORT out of range: %d", c.BrokerPort))
	}
	if err := validateTopic("MQTT_VEHICLE_TOPIC", c.VehicleTopic); err != nil {
		errs = append(errs, err)
	}
	if err := validateTopic("MQTT_AMBULANCE_TOPIC", c.AmbulanceTopic); err != nil {
		errs = append(errs, err)
	}
	if c.VehicleTopic != "" && c.VehicleTopic == c.AmbulanceTopic {
		errs = append(errs, errors.New("vehicle and ambulance topics must differ"))
	}
	if c.PublishInterval <= 0 {
		errs = append(errs, fmt.Errorf("PUBLISH_INTERVAL must be positive, got %v", c.PublishInterval))
	}
	if c.QoS < 0 || c.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.QoS))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1], got %v", c.ConfidenceThreshold))
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("NMS_THRESHOLD must be in [0,1], got %v", c.NMSThreshold))
	}
	if c.ModelFormat != ModelFormatYOLOv8 && c.ModelFormat != ModelFormatSSD {
		errs = append(errs, fmt.Errorf("unknown MODEL_FORMAT %q", c.ModelFormat))
	}
	if len(c.VehicleClassIDs) == 0 {
		errs = append(errs, errors.New("VEHICLE_CLASS_IDS must list at least one class id"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT out of range: %d", c.Port))
	}
	if c.SnapshotsEnabled && c.ImageBufferLimit <= 0 {
		errs = append(errs, fmt.Errorf("BUFFER_LIMIT must be positive, got %d", c.ImageBufferLimit))
	}
	if c.SnapshotsEnabled && c.ImageBufferFlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("FLUSH_INTERVAL must be positive, got %d", c.ImageBufferFlushInterval))
	}

	return errors.Join(errs...)
}

// BrokerURL returns the broker address in the form expected by the MQTT client.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.BrokerHost, c.BrokerPort)
}

func validateTopic(key, topic string) error {
	if topic == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%s must not contain wildcards: %q", key, topic)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsSeconds accepts plain seconds ("5", "0.5") or a Go duration ("1500ms").
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getEnvAsIntList(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return append([]int(nil), defaultValue...)
	}

	var ids []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return append([]int(nil), defaultValue...)
		}
		ids = append(ids, id)
	}
	return ids
}
