package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	TransportPolling = "polling"
	TransportWebhook = "webhook"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	MaxConcurrentSessions int
	PeriodOptions         []int
	NavigationTimeout     time.Duration
	ReadinessGrace        time.Duration
	SettleTimeout         time.Duration
	CandidateTimeout      time.Duration
	PipelineTimeout       time.Duration
	MinGrowthThreshold    float64
	ResultLimit           int
	LoadMoreRounds        int
	Headless              bool
	SnapshotDir           string

	TelegramToken    string
	TelegramSendRate float64
	AllowedUsers     []string
	Transport        string
	HTTPAddr         string

	RedisURL string
	StateTTL time.Duration

	AdvisorLanguage string
}

// Load reads the .env file (when present) and returns a populated Config.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, falling back to process env")
	}

	return &Config{
		MaxConcurrentSessions: getEnvInt("MAX_CONCURRENT_SESSIONS", 2),
		PeriodOptions:         getEnvIntList("PERIOD_OPTIONS", []int{7, 30, 120}),
		NavigationTimeout:     getEnvMillis("NAVIGATION_TIMEOUT_MS", 120*time.Second),
		ReadinessGrace:        getEnvMillis("READINESS_GRACE_MS", 8*time.Second),
		SettleTimeout:         getEnvMillis("SETTLE_TIMEOUT_MS", 15*time.Second),
		CandidateTimeout:      getEnvMillis("LOCATOR_CANDIDATE_TIMEOUT_MS", 3*time.Second),
		PipelineTimeout:       getEnvMillis("PIPELINE_TIMEOUT_MS", 5*time.Minute),
		MinGrowthThreshold:    getEnvFloat("MIN_GROWTH_THRESHOLD", 200),
		ResultLimit:           getEnvInt("RESULT_LIMIT", 10),
		LoadMoreRounds:        getEnvInt("LOAD_MORE_ROUNDS", 10),
		Headless:              getEnvBool("AGENT_HEADLESS", true),
		SnapshotDir:           getEnv("SNAPSHOT_DIR", "failed_runs"),

		TelegramToken:    getEnv("TELEGRAM_TOKEN", ""),
		TelegramSendRate: getEnvFloat("TELEGRAM_SEND_RATE", 20),
		AllowedUsers:     getEnvList("ALLOWED_TELEGRAM_USERS"),
		Transport:        strings.ToLower(getEnv("TRANSPORT", TransportPolling)),
		HTTPAddr:         getEnv("HTTP_ADDR", ":3000"),

		RedisURL: getEnv("REDIS_URL", ""),
		StateTTL: getEnvDuration("STATE_TTL", 24*time.Hour),

		AdvisorLanguage: getEnv("ADVISOR_LANGUAGE", "Ukrainian"),
	}
}

// Validate reports the first setting that cannot work at runtime.
func (c *Config) Validate() error {
	if c.MaxConcurrentSessions < 1 {
		return fmt.Errorf("MAX_CONCURRENT_SESSIONS must be >= 1, got %d", c.MaxConcurrentSessions)
	}
	if len(c.PeriodOptions) == 0 {
		return fmt.Errorf("PERIOD_OPTIONS must list at least one period")
	}
	for _, p := range c.PeriodOptions {
		if p <= 0 {
			return fmt.Errorf("PERIOD_OPTIONS contains non-positive period %d", p)
		}
	}
	if c.NavigationTimeout <= 0 || c.PipelineTimeout <= 0 {
		return fmt.Errorf("navigation and pipeline timeouts must be positive")
	}
	if c.ResultLimit < 1 {
		return fmt.Errorf("RESULT_LIMIT must be >= 1, got %d", c.ResultLimit)
	}
	switch c.Transport {
	case TransportPolling, TransportWebhook:
	default:
		return fmt.Errorf("unknown TRANSPORT %q (use %q or %q)", c.Transport, TransportPolling, TransportWebhook)
	}
	if c.TelegramToken == "" {
		return fmt.Errorf("missing TELEGRAM_TOKEN")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvMillis reads an integer millisecond count.
func getEnvMillis(key string, fallback time.Duration) time.Duration {
	ms := getEnvInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvIntList(key string, fallback []int) []int {
	parts := getEnvList(key)
	if len(parts) == 0 {
		return fallback
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fallback
		}
		out = append(out, n)
	}
	return out
}
