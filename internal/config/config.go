package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Logger    LoggerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	Inventory InventoryConfig
}

type ServerConfig struct {
	AppEnv   string
	HTTPPort string
	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string
}

func (s ServerConfig) IsDevelopment() bool {
	return s.AppEnv == "development" || s.AppEnv == "dev"
}

type LoggerConfig struct {
	Development       bool
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AutoMigrate creates the ledger tables on startup.
	AutoMigrate bool
}

// DSN returns a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type RedisConfig struct {
	// Addr empty disables the view cache and the sweep lock.
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	// Brokers empty disables event publishing and the command consumer.
	Brokers       []string
	EventsTopic   string
	CommandsTopic string
	GroupID       string
}

type JWTConfig struct {
	SecretKey string
}

type InventoryConfig struct {
	MaxBatchItems         int
	DefaultReservationTTL time.Duration
	SweepInterval         time.Duration
	SweepBatchSize        int
	ConflictRetries       int
	ViewCacheTTL          time.Duration
	// SnowflakeNode is -1 when no node could be resolved.
	SnowflakeNode int64
}

// maxSnowflakeNode is the largest node a 10-bit snowflake node field holds.
const maxSnowflakeNode = 1023

var ErrSnowflakeNodeUnset = errors.New("SNOWFLAKE_NODE must be set outside development unless the hostname ends in an ordinal")

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	appEnv := getEnv("APP_ENV", "production")
	dev := appEnv == "development" || appEnv == "dev"

	logger := LoggerConfig{
		Development:       dev,
		Level:             getEnv("LOGGER_LEVEL", "info"),
		Encoding:          getEnv("LOGGER_ENCODING", "json"),
		DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
		DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
	}
	if dev {
		logger.Level = getEnv("LOGGER_LEVEL", "debug")
		logger.Encoding = getEnv("LOGGER_ENCODING", "console")
	}

	return &Config{
		Server: ServerConfig{
			AppEnv:         appEnv,
			HTTPPort:       getEnv("HTTP_PORT", "8080"),
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Logger: logger,
		Postgres: PostgresConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            getEnv("POSTGRES_PORT", "5432"),
			User:            getEnv("POSTGRES_USER", "farm"),
			Password:        getEnv("POSTGRES_PASSWORD", "farm"),
			DBName:          getEnv("POSTGRES_DB", "farm_inventory"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getEnvBool("POSTGRES_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvSlice("KAFKA_BROKERS", nil),
			EventsTopic:   getEnv("KAFKA_TOPIC_EVENTS", "inventory.events"),
			CommandsTopic: getEnv("KAFKA_TOPIC_COMMANDS", "inventory.commands"),
			GroupID:       getEnv("KAFKA_GROUP_ID", "inventory-ledger"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", "your-secret-key-change-this-in-prod"),
		},
		Inventory: InventoryConfig{
			MaxBatchItems:         getEnvInt("INVENTORY_MAX_BATCH_ITEMS", 50),
			DefaultReservationTTL: getEnvDuration("INVENTORY_RESERVATION_TTL", 30*time.Minute),
			SweepInterval:         getEnvDuration("SWEEP_INTERVAL", time.Minute),
			SweepBatchSize:        getEnvInt("SWEEP_BATCH_SIZE", 500),
			ConflictRetries:       getEnvInt("INVENTORY_CONFLICT_RETRIES", 3),
			ViewCacheTTL:          getEnvDuration("VIEW_CACHE_TTL", 30*time.Second),
			SnowflakeNode:         snowflakeNode(dev, hostname()),
		},
	}
}

// Validate reports settings that would make replicas unsafe to run.
func (c *Config) Validate() error {
	switch node := c.Inventory.SnowflakeNode; {
	case node < 0:
		return ErrSnowflakeNodeUnset
	case node > maxSnowflakeNode:
		return fmt.Errorf("SNOWFLAKE_NODE %d out of range 0..%d", node, maxSnowflakeNode)
	}
	return nil
}

// snowflakeNode resolves the id generator node. SNOWFLAKE_NODE wins. Without
// it, a StatefulSet style hostname such as "ledger-api-2" supplies its
// ordinal, and development falls back to node 1. Anything else is left
// unresolved so two replicas never silently share a node.
func snowflakeNode(dev bool, host string) int64 {
	if value, ok := os.LookupEnv("SNOWFLAKE_NODE"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return -1
		}
		return n
	}
	if i := strings.LastIndexByte(host, '-'); i >= 0 {
		if n, err := strconv.ParseInt(host[i+1:], 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	if dev {
		return 1
	}
	return -1
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return fallback
}
