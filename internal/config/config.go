package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smalok/NeuroGuard/common/config"
)

// 传输方式
const (
	TransportSerial = "serial"
	TransportMQTT   = "mqtt"
)

// 会话存储后端
const (
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageNone     = "none"
)

// Config NeuroGuard 信号服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	Serial   config.SerialConfig

	// 设备链路
	Device struct {
		ID                  string
		Transport           string        // serial | mqtt
		RawTopic            string        // mqtt 传输时的原始数据主题
		AutoReconnect       bool          // 设备断开后自动重连
		ReconnectBackoff    time.Duration // 初始重连间隔，每次翻倍
		ReconnectMaxBackoff time.Duration
	}

	// 信号处理
	Pipeline struct {
		BufferSize      int
		TickInterval    time.Duration
		MinSamples      int
		SegmentSamples  int
		ThresholdFactor float64
		RefractoryMs    float64
		AutoScan        bool // 连接后立即开始扫描
	}

	// 外部模型服务（为空则使用恒 0 分类器）
	Classifier struct {
		URL     string
		Timeout time.Duration
	}

	// 会话存储
	Storage struct {
		Backend      string // redis | postgres | none
		SessionLimit int
		AlertLimit   int
	}

	// Redis 实时缓存
	Cache struct {
		RealtimeKeyPrefix string // 如 "neuroguard:device:"
		RealtimeSuffix    string // 如 ":realtime"
		RealtimeTTL       int    // 秒
	}

	// Redis Streams
	Stream struct {
		Enabled       bool
		Vitals        string
		Reports       string
		Alerts        string
		Commands      string
		MaxLen        int64
		ConsumerGroup string
		ConsumerName  string
	}

	// MQTT 体征转发
	Publish struct {
		MQTTEnabled bool
		VitalsTopic string // 支持 {device} 占位符
	}

	// 阈值报警
	Alert struct {
		Enabled        bool
		HRHigh         float64
		HRVLow         float64
		BurnoutHigh    float64
		EMGHigh        float64
		Cooldown       time.Duration
		StateKeyPrefix string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量优先，其次 .env 文件）
func Load() (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "neuroguard"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 2
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Device.ID = getEnv("DEVICE_ID", "neuroguard-01")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "neuroguard-" + cfg.Device.ID
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Serial.BaudRate = 115200
	cfg.Serial.MaxLineBytes = 4096
	cfg.Serial.LoadFromEnv("SERIAL")

	cfg.Device.Transport = strings.ToLower(getEnv("SERIAL_TRANSPORT", TransportSerial))
	cfg.Device.RawTopic = expandDevice(getEnv("MQTT_RAW_TOPIC", "neuroguard/{device}/raw"), cfg.Device.ID)
	cfg.Device.AutoReconnect = getEnvBool("SERIAL_AUTO_RECONNECT", true)
	cfg.Device.ReconnectBackoff = getEnvDuration("SERIAL_RECONNECT_BACKOFF", time.Second)
	cfg.Device.ReconnectMaxBackoff = getEnvDuration("SERIAL_RECONNECT_MAX_BACKOFF", 30*time.Second)

	cfg.Pipeline.BufferSize = getEnvInt("PIPELINE_BUFFER_SIZE", 1000)
	cfg.Pipeline.TickInterval = getEnvDuration("PIPELINE_TICK_INTERVAL", time.Second)
	cfg.Pipeline.MinSamples = getEnvInt("PIPELINE_MIN_SAMPLES", 50)
	cfg.Pipeline.SegmentSamples = getEnvInt("PIPELINE_SEGMENT_SAMPLES", 1000)
	cfg.Pipeline.ThresholdFactor = getEnvFloat("PIPELINE_THRESHOLD_FACTOR", 1.2)
	cfg.Pipeline.RefractoryMs = getEnvFloat("PIPELINE_REFRACTORY_MS", 200)
	cfg.Pipeline.AutoScan = getEnvBool("PIPELINE_AUTO_SCAN", true)

	cfg.Classifier.URL = getEnv("CLASSIFIER_URL", "")
	cfg.Classifier.Timeout = getEnvDuration("CLASSIFIER_TIMEOUT", 2*time.Second)

	cfg.Storage.Backend = strings.ToLower(getEnv("STORAGE_BACKEND", StorageRedis))
	cfg.Storage.SessionLimit = getEnvInt("SESSION_LIMIT", 20)
	cfg.Storage.AlertLimit = getEnvInt("ALERT_HISTORY_LIMIT", 100)

	cfg.Cache.RealtimeKeyPrefix = getEnv("CACHE_REALTIME_PREFIX", "neuroguard:device:")
	cfg.Cache.RealtimeSuffix = ":realtime"
	cfg.Cache.RealtimeTTL = getEnvInt("CACHE_REALTIME_TTL", 10)

	cfg.Stream.Enabled = getEnvBool("STREAM_ENABLED", true)
	cfg.Stream.Vitals = getEnv("STREAM_VITALS", "neuroguard:vitals:stream")
	cfg.Stream.Reports = getEnv("STREAM_REPORTS", "neuroguard:report:stream")
	cfg.Stream.Alerts = getEnv("STREAM_ALERTS", "neuroguard:alert:stream")
	cfg.Stream.Commands = getEnv("STREAM_COMMANDS", "neuroguard:command:stream")
	cfg.Stream.MaxLen = int64(getEnvInt("STREAM_MAX_LEN", 10000))
	cfg.Stream.ConsumerGroup = getEnv("STREAM_CONSUMER_GROUP", "neuroguard-signal-group")
	cfg.Stream.ConsumerName = getEnv("STREAM_CONSUMER_NAME", "neuroguard-signal-"+cfg.Device.ID)

	cfg.Publish.MQTTEnabled = getEnvBool("MQTT_PUBLISH_ENABLED", false)
	cfg.Publish.VitalsTopic = getEnv("MQTT_VITALS_TOPIC", "neuroguard/{device}/vitals")

	cfg.Alert.Enabled = getEnvBool("ALERT_ENABLED", true)
	cfg.Alert.HRHigh = getEnvFloat("ALERT_HR_HIGH", 100)
	cfg.Alert.HRVLow = getEnvFloat("ALERT_HRV_LOW", 25)
	cfg.Alert.BurnoutHigh = getEnvFloat("ALERT_BURNOUT_HIGH", 70)
	cfg.Alert.EMGHigh = getEnvFloat("ALERT_EMG_HIGH", 70)
	cfg.Alert.Cooldown = getEnvDuration("ALERT_COOLDOWN", 5*time.Minute)
	cfg.Alert.StateKeyPrefix = getEnv("ALERT_STATE_PREFIX", "neuroguard:alert:state:")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查枚举类配置
func (c *Config) Validate() error {
	switch c.Device.Transport {
	case TransportSerial, TransportMQTT:
	default:
		return fmt.Errorf("invalid SERIAL_TRANSPORT %q (want serial or mqtt)", c.Device.Transport)
	}

	switch c.Storage.Backend {
	case StorageRedis, StoragePostgres, StorageNone:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q (want redis, postgres or none)", c.Storage.Backend)
	}

	if c.Pipeline.BufferSize < c.Pipeline.MinSamples {
		return fmt.Errorf("PIPELINE_BUFFER_SIZE (%d) must be >= PIPELINE_MIN_SAMPLES (%d)",
			c.Pipeline.BufferSize, c.Pipeline.MinSamples)
	}
	return nil
}

// UsesMQTT 是否需要 MQTT 连接
func (c *Config) UsesMQTT() bool {
	return c.Device.Transport == TransportMQTT || c.Publish.MQTTEnabled
}

// VitalsTopic 设备体征主题
func (c *Config) VitalsTopic() string {
	return expandDevice(c.Publish.VitalsTopic, c.Device.ID)
}

func expandDevice(pattern, deviceID string) string {
	return strings.ReplaceAll(pattern, "{device}", deviceID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
