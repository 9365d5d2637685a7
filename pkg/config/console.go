package config

import "time"

// ConsoleConfig holds runtime configuration for the deployment console.
type ConsoleConfig struct {
	Environment   string
	APIBaseURL    string
	APIToken      string
	RealtimeURL   string
	StatePath     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MetricsAddr   string
	LogLevel      string

	StaleTime     time.Duration
	StageTimeout  time.Duration
	SessionTTL    time.Duration
	ReconnectWait time.Duration
	MaxRetries    int
}

// LoadConsoleConfig constructs a ConsoleConfig from environment variables.
func LoadConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		Environment:   GetString("APP_ENV", "development"),
		APIBaseURL:    GetString("FLEETFORM_API_URL", "http://localhost:4000"),
		APIToken:      GetString("FLEETFORM_API_TOKEN", ""),
		RealtimeURL:   GetString("FLEETFORM_REALTIME_URL", "ws://localhost:4000/ws"),
		StatePath:     GetString("CONSOLE_STATE_PATH", "console-state.db"),
		RedisAddr:     GetString("CONSOLE_REDIS_ADDR", ""),
		RedisPassword: GetString("CONSOLE_REDIS_PASSWORD", ""),
		RedisDB:       GetInt("CONSOLE_REDIS_DB", 0),
		MetricsAddr:   GetString("CONSOLE_METRICS_ADDR", ""),
		LogLevel:      GetString("CONSOLE_LOG_LEVEL", "info"),
		StaleTime:     GetDuration("CONSOLE_CACHE_STALE_TIME", 60*time.Second),
		StageTimeout:  GetDuration("CONSOLE_STAGE_TIMEOUT", 2*time.Minute),
		SessionTTL:    GetDuration("CONSOLE_SESSION_TTL", 24*time.Hour),
		ReconnectWait: GetDuration("CONSOLE_RECONNECT_WAIT", 5*time.Second),
		MaxRetries:    GetInt("CONSOLE_MAX_RETRIES", 3),
	}
}
