package config

import (
	"errors"

	"github.com/spf13/viper"
)

// Config carries process-level settings. Detection tuning lives in the
// policy file (see policy.go).
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	ClinicID    string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	JWTSecret    string
	IngestSecret string

	PolicyPath string
}

// Load reads configuration from the environment with defaults.
func Load() (Config, error) {
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("MQTT_BROKER", "tcp://localhost:1883")
	viper.SetDefault("MQTT_TOPIC", "equipment/+/state")
	viper.SetDefault("MQTT_CLIENT_ID", "plugwatch-ingestor")
	viper.SetDefault("CLINIC_ID", "clinic-demo")
	viper.AutomaticEnv()

	cfg := Config{
		HTTPAddr:     viper.GetString("HTTP_ADDR"),
		DatabaseURL:  viper.GetString("DATABASE_URL"),
		ClinicID:     viper.GetString("CLINIC_ID"),
		MQTTBroker:   viper.GetString("MQTT_BROKER"),
		MQTTTopic:    viper.GetString("MQTT_TOPIC"),
		MQTTClientID: viper.GetString("MQTT_CLIENT_ID"),
		JWTSecret:    viper.GetString("AUTH_JWT_SECRET"),
		IngestSecret: viper.GetString("INGEST_HMAC_SECRET"),
		PolicyPath:   viper.GetString("POLICY_PATH"),
	}
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("config: AUTH_JWT_SECRET is required")
	}
	return cfg, nil
}
