package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                    string
	Env                     string
	LogLevel                string
	LogFormat               string
	FirebaseCredentialsPath string
	PostgresURL             string
	MongoURI                string
	MongoDatabase           string
	NotificationStore       string // mongo or postgres
	AuthProvider            string // jwt or firebase
	JWTSecret               string
	RedisAddr               string

	Realtime  RealtimeConfig
	Push      PushConfig
	Retention RetentionConfig
}

// RealtimeConfig tunes the live connection registry
type RealtimeConfig struct {
	MaxConnections       int
	HeartbeatInterval    time.Duration
	IdleTimeout          time.Duration
	SweepInterval        time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
}

// PushConfig tunes the push delivery engine
type PushConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	RatePerSec   int
}

// RetentionConfig controls notification garbage collection
type RetentionConfig struct {
	Schedule      string
	ReadRetention time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("FIREBASE_CREDENTIALS_PATH", "")
	v.SetDefault("POSTGRES_CONN_STR", "")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "dogpark")
	v.SetDefault("NOTIFICATION_STORE", "mongo")
	v.SetDefault("AUTH_PROVIDER", "jwt")
	v.SetDefault("JWT_SECRET", "supersecretjwtkey")
	v.SetDefault("REDIS_ADDR", "")

	v.SetDefault("WS_MAX_CONNECTIONS", 1000)
	v.SetDefault("WS_HEARTBEAT_INTERVAL", 30*time.Second)
	v.SetDefault("WS_IDLE_TIMEOUT", 30*time.Minute)
	v.SetDefault("WS_SWEEP_INTERVAL", 5*time.Minute)
	v.SetDefault("WS_MAX_RECONNECT_ATTEMPTS", 5)
	v.SetDefault("WS_WRITE_TIMEOUT", 10*time.Second)

	v.SetDefault("PUSH_BATCH_SIZE", 100)
	v.SetDefault("PUSH_BATCH_TIMEOUT", 15*time.Second)
	v.SetDefault("PUSH_RATE_PER_SEC", 10)

	v.SetDefault("RETENTION_SCHEDULE", "@hourly")
	v.SetDefault("READ_RETENTION", 30*24*time.Hour)
}

// Load reads configuration from a .env file (if any) and the environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, assuming environment variables are set.")
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// FromViper maps viper keys onto a Config
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Port:                    v.GetString("PORT"),
		Env:                     v.GetString("ENV"),
		LogLevel:                strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:               strings.ToLower(v.GetString("LOG_FORMAT")),
		FirebaseCredentialsPath: v.GetString("FIREBASE_CREDENTIALS_PATH"),
		PostgresURL:             v.GetString("POSTGRES_CONN_STR"),
		MongoURI:                v.GetString("MONGO_URI"),
		MongoDatabase:           v.GetString("MONGO_DATABASE"),
		NotificationStore:       strings.ToLower(v.GetString("NOTIFICATION_STORE")),
		AuthProvider:            strings.ToLower(v.GetString("AUTH_PROVIDER")),
		JWTSecret:               v.GetString("JWT_SECRET"),
		RedisAddr:               v.GetString("REDIS_ADDR"),
		Realtime: RealtimeConfig{
			MaxConnections:       v.GetInt("WS_MAX_CONNECTIONS"),
			HeartbeatInterval:    v.GetDuration("WS_HEARTBEAT_INTERVAL"),
			IdleTimeout:          v.GetDuration("WS_IDLE_TIMEOUT"),
			SweepInterval:        v.GetDuration("WS_SWEEP_INTERVAL"),
			MaxReconnectAttempts: v.GetInt("WS_MAX_RECONNECT_ATTEMPTS"),
			WriteTimeout:         v.GetDuration("WS_WRITE_TIMEOUT"),
		},
		Push: PushConfig{
			BatchSize:    v.GetInt("PUSH_BATCH_SIZE"),
			BatchTimeout: v.GetDuration("PUSH_BATCH_TIMEOUT"),
			RatePerSec:   v.GetInt("PUSH_RATE_PER_SEC"),
		},
		Retention: RetentionConfig{
			Schedule:      v.GetString("RETENTION_SCHEDULE"),
			ReadRetention: v.GetDuration("READ_RETENTION"),
		},
	}
}
