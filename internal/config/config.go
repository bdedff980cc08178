package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Crypto   CryptoConfig
	Storage  StorageConfig
	Mailer   MailerConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	Username string
	DB       int
}

type CryptoConfig struct {
	SecretKey string
}

type StorageConfig struct {
	UploadDir string
}

type MailerConfig struct {
	SMTPHost string
	SMTPPort int
	IMAPHost string
	IMAPPort int
}

// EngineConfig carries the knobs of the campaign engine: pacing between
// sends, truncation of recorded transport errors and the two poll intervals.
type EngineConfig struct {
	SendDelay            time.Duration
	MaxSendErrorLength   int
	ReplyPollInterval    time.Duration
	FollowupPollInterval time.Duration
	DefaultFollowupDays  int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Name:     getEnv("POSTGRES_DB", "heron"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			Username: getEnv("REDIS_USERNAME", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Crypto: CryptoConfig{
			SecretKey: getEnv("SECRET_KEY", "dev-secret-change-in-production"),
		},
		Storage: StorageConfig{
			UploadDir: getEnv("UPLOAD_DIR", "./uploads"),
		},
		Mailer: MailerConfig{
			SMTPHost: getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort: getEnvAsInt("SMTP_PORT", 587),
			IMAPHost: getEnv("IMAP_HOST", "imap.gmail.com"),
			IMAPPort: getEnvAsInt("IMAP_PORT", 993),
		},
		Engine: EngineConfig{
			SendDelay:            getEnvAsDuration("SEND_DELAY", 1500*time.Millisecond),
			MaxSendErrorLength:   getEnvAsInt("MAX_SEND_ERROR_LENGTH", 200),
			ReplyPollInterval:    getEnvAsDuration("REPLY_POLL_INTERVAL", 30*time.Minute),
			FollowupPollInterval: getEnvAsDuration("FOLLOWUP_POLL_INTERVAL", 24*time.Hour),
			DefaultFollowupDays:  getEnvAsInt("DEFAULT_FOLLOWUP_DAYS", 3),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
