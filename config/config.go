package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all server configuration
type Config struct {
	Port               int
	RedisURL           string
	RedisPassword      string
	MaxSessions        int
	SessionTimeout     time.Duration
	GeminiAPIKey       string // empty runs keyword-only with no speech
	ClassifierModel    string
	SpeechModel        string
	TranscribeModel    string
	VoiceName          string
	ClassifierTimeout  time.Duration
	AllowedOrigins     []string
	KeepAlivePeriod    time.Duration
	MaxBufferSize      int    // Maximum audio buffer size in bytes per voice connection
	DatabasePath       string // empty disables SQLite persistence
	LogLevel           string
	RateLimitPerMinute int
}

// fileConfig is the optional YAML file named by CONFIG_FILE. Durations use
// the same units as the environment variables.
type fileConfig struct {
	Port               int      `yaml:"port"`
	RedisURL           string   `yaml:"redis_url"`
	RedisPassword      string   `yaml:"redis_password"`
	MaxSessions        int      `yaml:"max_sessions"`
	SessionTimeout     int      `yaml:"session_timeout_minutes"`
	GeminiAPIKey       string   `yaml:"gemini_api_key"`
	ClassifierModel    string   `yaml:"classifier_model"`
	SpeechModel        string   `yaml:"speech_model"`
	TranscribeModel    string   `yaml:"transcribe_model"`
	VoiceName          string   `yaml:"voice_name"`
	ClassifierTimeout  int      `yaml:"classifier_timeout_seconds"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	KeepAlivePeriod    int      `yaml:"keepalive_period_seconds"`
	MaxBufferSize      int      `yaml:"max_buffer_size"`
	DatabasePath       string   `yaml:"database_path"`
	LogLevel           string   `yaml:"log_level"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Port:               8000,
		RedisURL:           "localhost:6379",
		RedisPassword:      "",
		MaxSessions:        100,
		SessionTimeout:     30 * time.Minute,
		ClassifierModel:    "gemini-2.5-flash",
		SpeechModel:        "gemini-2.5-flash-preview-tts",
		TranscribeModel:    "gemini-2.5-flash",
		VoiceName:          "Zephyr",
		ClassifierTimeout:  8 * time.Second,
		AllowedOrigins:     []string{"*"},
		KeepAlivePeriod:    30 * time.Second,
		MaxBufferSize:      5 * 1024 * 1024, // 5MB default
		DatabasePath:       "ordercall.db",
		LogLevel:           "info",
		RateLimitPerMinute: 120,
	}
}

// LoadConfig loads configuration from defaults, the optional CONFIG_FILE,
// then environment variables, in that order
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setInt(&c.Port, f.Port)
	setString(&c.RedisURL, f.RedisURL)
	setString(&c.RedisPassword, f.RedisPassword)
	setInt(&c.MaxSessions, f.MaxSessions)
	if f.SessionTimeout > 0 {
		c.SessionTimeout = time.Duration(f.SessionTimeout) * time.Minute
	}
	setString(&c.GeminiAPIKey, f.GeminiAPIKey)
	setString(&c.ClassifierModel, f.ClassifierModel)
	setString(&c.SpeechModel, f.SpeechModel)
	setString(&c.TranscribeModel, f.TranscribeModel)
	setString(&c.VoiceName, f.VoiceName)
	if f.ClassifierTimeout > 0 {
		c.ClassifierTimeout = time.Duration(f.ClassifierTimeout) * time.Second
	}
	if len(f.AllowedOrigins) > 0 {
		c.AllowedOrigins = f.AllowedOrigins
	}
	if f.KeepAlivePeriod > 0 {
		c.KeepAlivePeriod = time.Duration(f.KeepAlivePeriod) * time.Second
	}
	setInt(&c.MaxBufferSize, f.MaxBufferSize)
	setString(&c.DatabasePath, f.DatabasePath)
	setString(&c.LogLevel, f.LogLevel)
	setInt(&c.RateLimitPerMinute, f.RateLimitPerMinute)
	return nil
}

func (c *Config) applyEnv() error {
	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		c.Port = p
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.RedisURL = redisURL
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		c.RedisPassword = redisPassword
	}

	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		c.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		c.SessionTimeout = time.Duration(t) * time.Minute
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.GeminiAPIKey = key
	}
	if model := os.Getenv("CLASSIFIER_MODEL"); model != "" {
		c.ClassifierModel = model
	}
	if model := os.Getenv("SPEECH_MODEL"); model != "" {
		c.SpeechModel = model
	}
	if model := os.Getenv("TRANSCRIBE_MODEL"); model != "" {
		c.TranscribeModel = model
	}
	if voice := os.Getenv("VOICE_NAME"); voice != "" {
		c.VoiceName = voice
	}

	// Optional: CLASSIFIER_TIMEOUT (in seconds)
	if timeout := os.Getenv("CLASSIFIER_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid CLASSIFIER_TIMEOUT: %w", err)
		}
		c.ClassifierTimeout = time.Duration(t) * time.Second
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		c.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: MAX_BUFFER_SIZE (in bytes)
	if bufferSize := os.Getenv("MAX_BUFFER_SIZE"); bufferSize != "" {
		b, err := strconv.Atoi(bufferSize)
		if err != nil {
			return fmt.Errorf("invalid MAX_BUFFER_SIZE: %w", err)
		}
		c.MaxBufferSize = b
	}

	// DATABASE_PATH may be set to "off" to disable persistence
	if dbPath, ok := os.LookupEnv("DATABASE_PATH"); ok {
		if strings.EqualFold(dbPath, "off") {
			dbPath = ""
		}
		c.DatabasePath = dbPath
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	if limit := os.Getenv("RATE_LIMIT_PER_MINUTE"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
		}
		c.RateLimitPerMinute = l
	}

	return nil
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d out of range", c.Port)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("invalid MAX_SESSIONS: must be positive, got %d", c.MaxSessions)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("invalid SESSION_TIMEOUT: must be positive")
	}
	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("invalid CLASSIFIER_TIMEOUT: must be positive")
	}
	if c.MaxBufferSize <= 0 {
		return fmt.Errorf("invalid MAX_BUFFER_SIZE: must be positive, got %d", c.MaxBufferSize)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: must not be negative")
	}
	return nil
}

// SpeechEnabled reports whether Gemini credentials are configured
func (c *Config) SpeechEnabled() bool {
	return c.GeminiAPIKey != ""
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

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
