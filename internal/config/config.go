package config

import (
	"os"
	"strconv"
	"time"

	"presence-validation/internal/common/config"
)

// Config 考勤验证引擎配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	Server struct {
		Addr string // HTTP/WebSocket 监听地址，如 ":8085"
	}

	// 验证引擎特定配置
	Engine struct {
		LateThresholdMinutes   float64       // 迟到阈值（分钟），默认 15
		AbsentThresholdPercent float64       // 缺勤阈值（课程时长百分比），默认 60
		ValidationTimeout      time.Duration // 双因子确认窗口，默认 7 秒
		ModeRecomputeInterval  time.Duration // 会话模式重算周期，默认 60 秒
		CheckoutGraceMinutes   float64       // 下课后签退宽限期（分钟），默认 30
		HeartbeatTimeout       time.Duration // 设备心跳超时（超时标记 error），默认 90 秒

		// 事件分发配置
		Stream struct {
			Output string // 输出事件流，如 "attendance:events:stream"
		}

		// 设备状态缓存配置
		Cache struct {
			DeviceStatusKeyPrefix string // 设备状态缓存键前缀，如 "presence:device:"
			DeviceStatusTTL       int    // 设备状态 TTL（秒）
		}
	}

	// 在场传感器 MQTT 接入配置
	Sensor struct {
		Enabled bool
		Topic   string // 如 "presence/+/detections"
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "presence")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "presence-validation")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Server.Addr = getEnv("SERVER_ADDR", ":8085")

	// 验证引擎配置
	cfg.Engine.LateThresholdMinutes = getEnvFloat("LATE_THRESHOLD_MINUTES", 15)
	cfg.Engine.AbsentThresholdPercent = getEnvFloat("ABSENT_THRESHOLD_PERCENT", 60)
	cfg.Engine.ValidationTimeout = getEnvDuration("VALIDATION_TIMEOUT", 7*time.Second)
	cfg.Engine.ModeRecomputeInterval = getEnvDuration("MODE_RECOMPUTE_INTERVAL", 60*time.Second)
	cfg.Engine.CheckoutGraceMinutes = getEnvFloat("CHECKOUT_GRACE_MINUTES", 30)
	cfg.Engine.HeartbeatTimeout = getEnvDuration("HEARTBEAT_TIMEOUT", 90*time.Second)

	cfg.Engine.Stream.Output = getEnv("STREAM_OUTPUT", "attendance:events:stream")
	cfg.Engine.Cache.DeviceStatusKeyPrefix = getEnv("CACHE_DEVICE_STATUS_PREFIX", "presence:device:")
	cfg.Engine.Cache.DeviceStatusTTL = 300 // 5分钟

	cfg.Sensor.Enabled = getEnv("SENSOR_MQTT_ENABLED", "false") == "true"
	cfg.Sensor.Topic = getEnv("SENSOR_MQTT_TOPIC", "presence/+/detections")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
