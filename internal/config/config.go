package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Cassandra CassandraConfig
	Orders    OrdersConfig
	Redis     RedisConfig
	Server    ServerConfig
	Log       LogConfig
}

type CassandraConfig struct {
	Hosts                    []string
	Port                     int
	Keyspace                 string
	ReplicationFactor        int
	Consistency              string
	Timeout                  time.Duration
	ConnectTimeout           time.Duration
	DisableInitialHostLookup bool

	// Startup connect retry budget.
	ConnectAttempts      int
	ConnectRetryInterval time.Duration
	ConnectBackoffFactor float64
	ConnectMaxInterval   time.Duration
}

type OrdersConfig struct {
	SyncUserStatus    bool
	StrictTransitions bool
	KnownStatuses     []string
}

type RedisConfig struct {
	Addr       string
	ProductTTL time.Duration
	KeyPrefix  string
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Cassandra: CassandraConfig{
			Hosts:                    getEnvList("CASSANDRA_HOSTS", []string{"cassandra"}),
			Port:                     getEnvInt("CASSANDRA_PORT", 9042),
			Keyspace:                 getEnv("CASSANDRA_KEYSPACE", "shop"),
			ReplicationFactor:        getEnvInt("CASSANDRA_REPLICATION_FACTOR", 1),
			Consistency:              getEnv("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:                  getEnvDuration("CASSANDRA_TIMEOUT", 5*time.Second),
			ConnectTimeout:           getEnvDuration("CASSANDRA_CONNECT_TIMEOUT", 5*time.Second),
			DisableInitialHostLookup: getEnvBool("CASSANDRA_DISABLE_INITIAL_HOST_LOOKUP", false),
			ConnectAttempts:          getEnvInt("CASSANDRA_CONNECT_ATTEMPTS", 10),
			ConnectRetryInterval:     getEnvDuration("CASSANDRA_CONNECT_RETRY_INTERVAL", 3*time.Second),
			ConnectBackoffFactor:     getEnvFloat("CASSANDRA_CONNECT_BACKOFF_FACTOR", 1.0),
			ConnectMaxInterval:       getEnvDuration("CASSANDRA_CONNECT_MAX_INTERVAL", 30*time.Second),
		},
		Orders: OrdersConfig{
			SyncUserStatus:    getEnvBool("ORDERS_SYNC_USER_STATUS", true),
			StrictTransitions: getEnvBool("ORDERS_STRICT_TRANSITIONS", false),
			KnownStatuses:     getEnvList("ORDERS_KNOWN_STATUSES", []string{"pending", "delivered", "canceled"}),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", ""),
			ProductTTL: getEnvDuration("REDIS_PRODUCT_TTL", time.Hour),
			KeyPrefix:  getEnv("REDIS_KEY_PREFIX", "shop:product:"),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			RequestTimeout: getEnvDuration("SERVER_REQUEST_TIMEOUT", 5*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the store cannot start with.
func (c *Config) Validate() error {
	if len(c.Cassandra.Hosts) == 0 {
		return fmt.Errorf("config: CASSANDRA_HOSTS must list at least one host")
	}
	if c.Cassandra.Keyspace == "" {
		return fmt.Errorf("config: CASSANDRA_KEYSPACE must not be empty")
	}
	if c.Cassandra.ReplicationFactor < 1 {
		return fmt.Errorf("config: CASSANDRA_REPLICATION_FACTOR must be >= 1, got %d", c.Cassandra.ReplicationFactor)
	}
	if c.Cassandra.ConnectAttempts < 1 {
		return fmt.Errorf("config: CASSANDRA_CONNECT_ATTEMPTS must be >= 1, got %d", c.Cassandra.ConnectAttempts)
	}
	if c.Cassandra.ConnectBackoffFactor < 1 {
		return fmt.Errorf("config: CASSANDRA_CONNECT_BACKOFF_FACTOR must be >= 1, got %v", c.Cassandra.ConnectBackoffFactor)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		fmt.Printf("Warning: invalid duration for %s, using default\n", key)
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
