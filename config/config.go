package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	Store        string
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int
	LogLevel     string
	LogFormat    string

	AllowedOrigins []string

	Scheduler SchedulerConfig

	// Опциональный архив аудита в Cloudflare R2.
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string
}

// SchedulerConfig хранит значения по умолчанию для циклов планировщика.
type SchedulerConfig struct {
	PollInterval         time.Duration
	AutoAssign           bool
	OptimizeAssignments  bool
	Notifications        bool
	ErrorThreshold       int
	DefaultMatchDuration time.Duration
	TableTurnaround      time.Duration
}

// ArchiveEnabled reports whether every R2 setting is present.
func (c *Config) ArchiveEnabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	_ = godotenv.Load()

	store := strings.ToLower(getEnv("STORE", StorePostgres))
	if store != StorePostgres && store != StoreMemory {
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, store)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" && store == StorePostgres {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT environment variable: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	sched, err := loadSchedulerConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Store:             store,
		DatabaseURL:       dbURL,
		JWTSecretKey:      jwtKey,
		ServerPort:        port,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		AllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		Scheduler:         sched,
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),
	}

	return cfg, nil
}

func loadSchedulerConfig() (SchedulerConfig, error) {
	var (
		sc  SchedulerConfig
		err error
	)
	if sc.PollInterval, err = getDuration("SCHEDULER_POLL_INTERVAL", 30*time.Second); err != nil {
		return sc, err
	}
	if sc.PollInterval <= 0 {
		return sc, fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive, got %s", sc.PollInterval)
	}
	if sc.AutoAssign, err = getBool("SCHEDULER_AUTO_ASSIGN", true); err != nil {
		return sc, err
	}
	if sc.OptimizeAssignments, err = getBool("SCHEDULER_OPTIMIZE", false); err != nil {
		return sc, err
	}
	if sc.Notifications, err = getBool("SCHEDULER_NOTIFICATIONS", true); err != nil {
		return sc, err
	}
	threshold, err := strconv.Atoi(getEnv("SCHEDULER_ERROR_THRESHOLD", "10"))
	if err != nil {
		return sc, fmt.Errorf("invalid SCHEDULER_ERROR_THRESHOLD environment variable: %w", err)
	}
	if threshold < 0 {
		return sc, fmt.Errorf("SCHEDULER_ERROR_THRESHOLD must not be negative, got %d", threshold)
	}
	sc.ErrorThreshold = threshold
	if sc.DefaultMatchDuration, err = getDuration("DEFAULT_MATCH_DURATION", 20*time.Minute); err != nil {
		return sc, err
	}
	if sc.DefaultMatchDuration <= 0 {
		return sc, fmt.Errorf("DEFAULT_MATCH_DURATION must be positive, got %s", sc.DefaultMatchDuration)
	}
	if sc.TableTurnaround, err = getDuration("TABLE_TURNAROUND", 0); err != nil {
		return sc, err
	}
	if sc.TableTurnaround < 0 {
		return sc, fmt.Errorf("TABLE_TURNAROUND must not be negative, got %s", sc.TableTurnaround)
	}
	return sc, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
