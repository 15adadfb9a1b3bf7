package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.local",
		Port:     5433,
		User:     "neuro",
		Password: "secret",
		Database: "neuroguard",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=db.local port=5433 user=neuro password=secret dbname=neuroguard sslmode=disable", cfg.GetDSN())
}

func TestSerialConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("SERIAL_PORT", "/dev/ttyACM0")
	t.Setenv("SERIAL_BAUD_RATE", "9600")
	t.Setenv("SERIAL_MAX_LINE_BYTES", "512")
	t.Setenv("SERIAL_READ_TIMEOUT", "250ms")

	cfg := SerialConfig{BaudRate: 115200, MaxLineBytes: 4096}
	cfg.LoadFromEnv("SERIAL")

	assert.Equal(t, "/dev/ttyACM0", cfg.PortName)
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.Equal(t, 512, cfg.MaxLineBytes)
	assert.Equal(t, 250*time.Millisecond, cfg.ReadTimeout)
}

func TestMQTTConfig_LoadFromEnv_IgnoresInvalidQoS(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "7")

	cfg := MQTTConfig{QoS: 1}
	cfg.LoadFromEnv("MQTT")

	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, byte(1), cfg.QoS)
}
