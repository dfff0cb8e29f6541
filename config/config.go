package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	ServerPort int
	LogLevel   string
	Database   DatabaseConfig
	JWT        JWTConfig
	CORS       CORSConfig
	RateLimit  RateLimitConfig
	Plugin     PluginConfig
	Link       LinkConfig
	Security   SecurityConfig
	MQ         MQConfig
	Storage    StorageConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

type JWTConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig bounds requests per client IP over Window.
type RateLimitConfig struct {
	APIRequests   int
	AdminRequests int
	Window        time.Duration
}

// PluginConfig holds the shared secrets used by the Minecraft plugin and
// internal callers.
type PluginConfig struct {
	APIKey         string
	InternalSecret string
}

type LinkConfig struct {
	CodeTTL         time.Duration
	CleanupInterval time.Duration
	RedundantDelay  time.Duration
}

type SecurityConfig struct {
	MaxFailedLogins int
	LockoutDuration time.Duration
	RequireInvite   bool
	MaxUploadBytes  int64
}

type MQConfig struct {
	Backend       string
	PluginChannel string
	StatsChannel  string
	RabbitMQ      RabbitMQConfig
	PubSub        PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	PrefetchCount   int
	QueueDurable    bool
	QueueAutoDelete bool
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type StorageConfig struct {
	Backend  string
	LocalDir string
	Minio    MinioConfig
	GCS      GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	ProjectID       string
}

func LoadConfig() Config {
	env := getEnv("ENV", "prod")
	if env == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "bizzylink"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "bizzylink_db"),
		UseSSL:   getEnvBool("DB_SSL", false),
	}

	return Config{
		Env:        env,
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Database:   dbConfig,
		JWT: JWTConfig{
			Secret:     strings.TrimSpace(os.Getenv("JWT_SECRET")),
			AccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 24*time.Hour),
			RefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		RateLimit: RateLimitConfig{
			APIRequests:   getEnvInt("RATE_LIMIT_API", 100),
			AdminRequests: getEnvInt("RATE_LIMIT_ADMIN", 200),
			Window:        getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		},
		Plugin: PluginConfig{
			APIKey:         strings.TrimSpace(os.Getenv("PLUGIN_API_KEY")),
			InternalSecret: strings.TrimSpace(os.Getenv("INTERNAL_API_SECRET")),
		},
		Link: LinkConfig{
			CodeTTL:         time.Duration(getEnvInt("LINK_CODE_TTL_MINUTES", 1440)) * time.Minute,
			CleanupInterval: getEnvDuration("LINK_CODE_CLEANUP_INTERVAL", 5*time.Minute),
			RedundantDelay:  getEnvDuration("EVENT_REDUNDANT_DELAY", 3*time.Second),
		},
		Security: SecurityConfig{
			MaxFailedLogins: getEnvInt("MAX_FAILED_LOGINS", 5),
			LockoutDuration: getEnvDuration("LOGIN_LOCKOUT", 15*time.Minute),
			RequireInvite:   getEnvBool("REQUIRE_INVITE", false),
			MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_BYTES", 5<<20)),
		},
		MQ: MQConfig{
			Backend:       strings.ToLower(getEnv("MQ_BACKEND", "")),
			PluginChannel: getEnv("MQ_PLUGIN_CHANNEL", "bizzylink.plugin"),
			StatsChannel:  getEnv("MQ_STATS_CHANNEL", "bizzylink.player-stats"),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			},
			PubSub: PubSubConfig{
				ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
				SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
			},
		},
		Storage: StorageConfig{
			Backend:  strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
			LocalDir: getEnv("STORAGE_LOCAL_DIR", "./data/uploads"),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "bizzylink"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
			},
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(valueStr)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvDuration accepts Go duration strings ("90s", "15m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func getEnvList(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
