package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg := Load()

	if cfg.BrokerPort != 1883 {
		t.Errorf("Expected broker port 1883, got %d", cfg.BrokerPort)
	}
	if cfg.PublishInterval != 5*time.Second {
		t.Errorf("Expected publish interval 5s, got %v", cfg.PublishInterval)
	}
	if !reflect.DeepEqual(cfg.VehicleClassIDs, []int{2, 3, 5, 7}) {
		t.Errorf("Expected YOLO vehicle ids, got %v", cfg.VehicleClassIDs)
	}
	if !strings.HasPrefix(cfg.ClientID, "traffic-node-") {
		t.Errorf("Expected generated client id, got %s", cfg.ClientID)
	}
	if cfg.AmbulanceLabel != "ambulance" {
		t.Errorf("Expected ambulance label, got %s", cfg.AmbulanceLabel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MQTT_BROKER_HOST", "192.168.1.35")
	t.Setenv("MQTT_BROKER_PORT", "1884")
	t.Setenv("MQTT_VEHICLE_TOPIC", "test/RBPI1")
	t.Setenv("MQTT_AMBULANCE_TOPIC", "test/AMBULANCIA")
	t.Setenv("PUBLISH_INTERVAL", "2.5")
	t.Setenv("VEHICLE_CLASS_IDS", "2, 7")
	t.Setenv("DISPLAY_ENABLED", "false")

	cfg := Load()

	if cfg.BrokerURL() != "tcp://192.168.1.35:1884" {
		t.Errorf("Unexpected broker URL %s", cfg.BrokerURL())
	}
	if cfg.VehicleTopic != "test/RBPI1" || cfg.AmbulanceTopic != "test/AMBULANCIA" {
		t.Errorf("Unexpected topics %s %s", cfg.VehicleTopic, cfg.AmbulanceTopic)
	}
	if cfg.PublishInterval != 2500*time.Millisecond {
		t.Errorf("Expected 2.5s interval, got %v", cfg.PublishInterval)
	}
	if !reflect.DeepEqual(cfg.VehicleClassIDs, []int{2, 7}) {
		t.Errorf("Expected [2 7], got %v", cfg.VehicleClassIDs)
	}
	if cfg.DisplayEnabled {
		t.Error("Expected display disabled")
	}
}

func TestLoad_SSDDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MODEL_FORMAT", "SSD")

	cfg := Load()

	if cfg.ModelFormat != ModelFormatSSD {
		t.Errorf("Expected ssd format, got %s", cfg.ModelFormat)
	}
	if !reflect.DeepEqual(cfg.VehicleClassIDs, []int{3, 4, 6, 8}) {
		t.Errorf("Expected SSD vehicle ids, got %v", cfg.VehicleClassIDs)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	content := "MQTT_VEHICLE_TOPIC=dotenv/vehicles\nMQTT_BROKER_PORT=2883\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	// Real environment wins over .env.
	t.Setenv("MQTT_BROKER_PORT", "3883")
	os.Unsetenv("MQTT_VEHICLE_TOPIC")
	t.Cleanup(func() { os.Unsetenv("MQTT_VEHICLE_TOPIC") })

	cfg := Load()

	if cfg.VehicleTopic != "dotenv/vehicles" {
		t.Errorf("Expected topic from .env, got %s", cfg.VehicleTopic)
	}
	if cfg.BrokerPort != 3883 {
		t.Errorf("Expected environment to win, got port %d", cfg.BrokerPort)
	}
}

func TestGetEnvAsSeconds(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"", 5 * time.Second},
		{"10", 10 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"1500ms", 1500 * time.Millisecond},
		{"abc", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Setenv("TEST_SECONDS", tt.value)
		if got := getEnvAsSeconds("TEST_SECONDS", 5*time.Second); got != tt.expected {
			t.Errorf("getEnvAsSeconds(%q) = %v, expected %v", tt.value, got, tt.expected)
		}
	}
}

func TestGetEnvAsIntList_Invalid(t *testing.T) {
	t.Setenv("TEST_IDS", "2,x,7")
	got := getEnvAsIntList("TEST_IDS", []int{1})
	if !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("Expected default on invalid list, got %v", got)
	}
}

func TestValidate_Errors(t *testing.T) {
	valid := func() *Config {
		return &Config{
			BrokerHost:          "localhost",
			BrokerPort:          1883,
			VehicleTopic:        "a",
			AmbulanceTopic:      "b",
			PublishInterval:     time.Second,
			ConfidenceThreshold: 0.5,
			NMSThreshold:        0.4,
			ModelFormat:         ModelFormatYOLOv8,
			VehicleClassIDs:     []int{2},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		substr string
	}{
		{"empty host", func(c *Config) { c.BrokerHost = "" }, "MQTT_BROKER_HOST"},
		{"bad port", func(c *Config) { c.BrokerPort = 70000 }, "MQTT_BROKER_PORT"},
		{"wildcard topic", func(c *Config) { c.VehicleTopic = "traffic/#" }, "wildcards"},
		{"same topics", func(c *Config) { c.AmbulanceTopic = "a" }, "must differ"},
		{"zero interval", func(c *Config) { c.PublishInterval = 0 }, "PUBLISH_INTERVAL"},
		{"bad qos", func(c *Config) { c.QoS = 3 }, "MQTT_QOS"},
		{"bad confidence", func(c *Config) { c.ConfidenceThreshold = 1.5 }, "CONFIDENCE_THRESHOLD"},
		{"bad format", func(c *Config) { c.ModelFormat = "rcnn" }, "MODEL_FORMAT"},
		{"no vehicle ids", func(c *Config) { c.VehicleClassIDs = nil }, "VEHICLE_CLASS_IDS"},
		{"snapshot buffer", func(c *Config) { c.SnapshotsEnabled = true; c.ImageBufferFlushInterval = 1 }, "BUFFER_LIMIT"},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Base config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("Expected error containing %q, got %v", tt.substr, err)
			}
		})
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
