package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	JWT      JWTConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Log      LogConfig
	Solver   SolverConfig
	Archive  ArchiveConfig
	Queue    QueueConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

// AuthConfig lists the API clients allowed to request tokens. Each entry is
// "client_id:bcrypt_hash:role", parsed by the auth service at startup.
type AuthConfig struct {
	Clients []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SolverConfig tunes the constraint pipeline: which backend runs, how long
// it may search, and the objective weights applied at model build time.
type SolverConfig struct {
	Backend             string
	TimeLimit           time.Duration
	ProgressInterval    time.Duration
	RoundingThreshold   float64
	BuildWorkers        int
	BalanceWeight       int
	RepeatWindow        int
	RepeatPenaltyWeight int
	DisruptionWeight    int
	EventBuffer         int
}

// ArchiveConfig gates persistence of finished solve attempts.
type ArchiveConfig struct {
	Enabled bool
}

// QueueConfig sizes the background job queue used for attempt archival.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.Auth = AuthConfig{Clients: splitAndTrim(v.GetString("AUTH_CLIENTS"))}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Solver = SolverConfig{
		Backend:             v.GetString("SOLVER_BACKEND"),
		TimeLimit:           parseDuration(v.GetString("SOLVER_TIME_LIMIT"), 2*time.Minute),
		ProgressInterval:    parseDuration(v.GetString("SOLVER_PROGRESS_INTERVAL"), 500*time.Millisecond),
		RoundingThreshold:   v.GetFloat64("SOLVER_ROUNDING_THRESHOLD"),
		BuildWorkers:        v.GetInt("SOLVER_BUILD_WORKERS"),
		BalanceWeight:       v.GetInt("SOLVER_BALANCE_WEIGHT"),
		RepeatWindow:        v.GetInt("SOLVER_REPEAT_WINDOW"),
		RepeatPenaltyWeight: v.GetInt("SOLVER_REPEAT_PENALTY_WEIGHT"),
		DisruptionWeight:    v.GetInt("SOLVER_DISRUPTION_WEIGHT"),
		EventBuffer:         v.GetInt("SOLVER_EVENT_BUFFER"),
	}

	cfg.Archive = ArchiveConfig{
		Enabled: v.GetBool("ENABLE_ARCHIVE"),
	}

	cfg.Queue = QueueConfig{
		Workers:    v.GetInt("QUEUE_WORKERS"),
		BufferSize: v.GetInt("QUEUE_BUFFER_SIZE"),
		MaxRetries: v.GetInt("QUEUE_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("QUEUE_RETRY_DELAY"), 5*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "colloscope")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("AUTH_CLIENTS", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SOLVER_BACKEND", "branchbound")
	v.SetDefault("SOLVER_TIME_LIMIT", "2m")
	v.SetDefault("SOLVER_PROGRESS_INTERVAL", "500ms")
	v.SetDefault("SOLVER_ROUNDING_THRESHOLD", 0.5)
	v.SetDefault("SOLVER_BUILD_WORKERS", 0)
	v.SetDefault("SOLVER_BALANCE_WEIGHT", 1)
	v.SetDefault("SOLVER_REPEAT_WINDOW", 2)
	v.SetDefault("SOLVER_REPEAT_PENALTY_WEIGHT", 2)
	v.SetDefault("SOLVER_DISRUPTION_WEIGHT", 0)
	v.SetDefault("SOLVER_EVENT_BUFFER", 64)

	v.SetDefault("ENABLE_ARCHIVE", false)
	v.SetDefault("QUEUE_WORKERS", 2)
	v.SetDefault("QUEUE_BUFFER_SIZE", 64)
	v.SetDefault("QUEUE_MAX_RETRIES", 3)
	v.SetDefault("QUEUE_RETRY_DELAY", "5s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
