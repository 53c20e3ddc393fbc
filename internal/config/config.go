package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT配置（位置传感器接入）
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`   // 是否启用 MQTT 位置源（默认 false）
	Broker   string `yaml:"broker"`    // MQTT Broker 地址（如 "tcp://localhost:1883"）
	ClientID string `yaml:"client_id"` // 客户端 ID
	Username string `yaml:"username"`  // 用户名（可选）
	Password string `yaml:"password"`  // 密码（可选）
	Topic    string `yaml:"topic"`     // 位置数据主题（如 "lifeline/location/+"）
	QoS      byte   `yaml:"qos"`
}

// Config lifeline-sync 配置
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`

	// 位置传感器配置
	Sensor struct {
		MQTT         MQTTConfig `yaml:"mqtt"`
		HighAccuracy bool       `yaml:"high_accuracy"`  // 高精度模式
		MaximumAgeMs int        `yaml:"maximum_age_ms"` // 样本最大陈旧时间（毫秒），默认 30000
		TimeoutMs    int        `yaml:"timeout_ms"`     // 单个样本超时（毫秒），默认 27000
	} `yaml:"sensor"`

	// 变更订阅配置
	Feed struct {
		ChannelPrefix string `yaml:"channel_prefix"` // 变更频道前缀，如 "lifeline:changes:"
	} `yaml:"feed"`

	// 认证配置
	Auth struct {
		SessionKeyPrefix string `yaml:"session_key_prefix"` // 会话键前缀，如 "lifeline:session:"
		SessionTTL       int    `yaml:"session_ttl"`        // 会话 TTL（秒），默认 7天
	} `yaml:"auth"`

	// 过期清理配置
	Sweep struct {
		Interval int `yaml:"interval"` // 清理间隔（秒），默认 60
	} `yaml:"sweep"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 加载配置
// 优先级：环境变量 > CONFIG_PATH 指定的 YAML 文件 > 默认值
func Load() (*Config, error) {
	cfg := &Config{}

	// 1. 默认值
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "lifeline"
	cfg.Database.SSLMode = "disable"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Password = ""
	cfg.Redis.DB = 0

	cfg.Sensor.MQTT.Enabled = false
	cfg.Sensor.MQTT.Broker = "tcp://localhost:1883"
	cfg.Sensor.MQTT.ClientID = "lifeline-sync-sensor"
	cfg.Sensor.MQTT.Topic = "lifeline/location"
	cfg.Sensor.MQTT.QoS = 1
	cfg.Sensor.HighAccuracy = true
	cfg.Sensor.MaximumAgeMs = 30000
	cfg.Sensor.TimeoutMs = 27000

	cfg.Feed.ChannelPrefix = "lifeline:changes:"

	cfg.Auth.SessionKeyPrefix = "lifeline:session:"
	cfg.Auth.SessionTTL = 7 * 24 * 3600

	cfg.Sweep.Interval = 60

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	// 2. YAML 文件（可选）
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// 3. 环境变量覆盖
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = parseInt(getEnv("DB_PORT", ""), cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", ""), cfg.Redis.DB)

	cfg.Sensor.MQTT.Enabled = getEnv("MQTT_ENABLED", boolString(cfg.Sensor.MQTT.Enabled)) == "true"
	cfg.Sensor.MQTT.Broker = getEnv("MQTT_BROKER", cfg.Sensor.MQTT.Broker)
	cfg.Sensor.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.Sensor.MQTT.ClientID)
	cfg.Sensor.MQTT.Username = getEnv("MQTT_USERNAME", cfg.Sensor.MQTT.Username)
	cfg.Sensor.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.Sensor.MQTT.Password)
	cfg.Sensor.MQTT.Topic = getEnv("MQTT_TOPIC", cfg.Sensor.MQTT.Topic)
	cfg.Sensor.MaximumAgeMs = parseInt(getEnv("SENSOR_MAXIMUM_AGE_MS", ""), cfg.Sensor.MaximumAgeMs)
	cfg.Sensor.TimeoutMs = parseInt(getEnv("SENSOR_TIMEOUT_MS", ""), cfg.Sensor.TimeoutMs)

	cfg.Feed.ChannelPrefix = getEnv("FEED_CHANNEL_PREFIX", cfg.Feed.ChannelPrefix)

	cfg.Auth.SessionKeyPrefix = getEnv("SESSION_KEY_PREFIX", cfg.Auth.SessionKeyPrefix)
	cfg.Auth.SessionTTL = parseInt(getEnv("SESSION_TTL", ""), cfg.Auth.SessionTTL)

	cfg.Sweep.Interval = parseInt(getEnv("SWEEP_INTERVAL", ""), cfg.Sweep.Interval)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return n
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
