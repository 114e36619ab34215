// Package config loads service configuration from an optional TOML file and the
// environment. Environment variables always win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig       `toml:"service"`
	Observability ObservabilityConfig `toml:"observability"`
	Kafka         KafkaConfig         `toml:"kafka"`
	Storage       StorageConfig       `toml:"storage"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Notes         NotesConfig         `toml:"notes"`
	Live          LiveConfig          `toml:"live"`
	Database      DatabaseConfig      `toml:"database"`
	Redis         RedisConfig         `toml:"redis"`
}

// ServiceConfig holds identity and listener settings.
type ServiceConfig struct {
	Principal   string `toml:"principal" validate:"required"`
	HTTPPort    string `toml:"http_port" validate:"required,numeric"`
	GRPCPort    string `toml:"grpc_port" validate:"required,numeric"`
	MetricsPort string `toml:"metrics_port" validate:"required,numeric"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `toml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat string `toml:"log_format" validate:"oneof=json console"`
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled        bool     `toml:"enabled"`
	Brokers        []string `toml:"brokers" validate:"required_if=Enabled true"`
	TopicRecording string   `toml:"topic_recording" validate:"required"`
	TopicStage     string   `toml:"topic_stage" validate:"required"`
	Principal      string   `toml:"principal"`
}

// StorageConfig selects and configures the audio object store.
type StorageConfig struct {
	Provider        string `toml:"provider" validate:"oneof=memory s3"`
	Bucket          string `toml:"bucket" validate:"required_if=Provider s3"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint" validate:"omitempty,url"`
	PublicBaseURL   string `toml:"public_base_url" validate:"omitempty,url"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
	MaxUploadBytes  int64  `toml:"max_upload_bytes" validate:"gt=0"`
}

// TranscriptionConfig selects the server-side speech-to-text backend.
type TranscriptionConfig struct {
	Provider string        `toml:"provider" validate:"oneof=openai google mock"`
	Model    string        `toml:"model"`
	Language string        `toml:"language"`
	APIKey   string        `toml:"api_key" validate:"required_if=Provider openai"`
	BaseURL  string        `toml:"base_url" validate:"omitempty,url"`
	Timeout  time.Duration `toml:"timeout" validate:"gt=0"`
}

// NotesConfig selects the note generation backend.
type NotesConfig struct {
	Provider  string        `toml:"provider" validate:"oneof=anthropic openai mock"`
	Model     string        `toml:"model"`
	MaxTokens int64         `toml:"max_tokens" validate:"gt=0"`
	APIKey    string        `toml:"api_key" validate:"required_unless=Provider mock"`
	BaseURL   string        `toml:"base_url" validate:"omitempty,url"`
	Timeout   time.Duration `toml:"timeout" validate:"gt=0"`
}

// LiveConfig configures live transcription during browser recordings.
type LiveConfig struct {
	Provider       string        `toml:"provider" validate:"oneof=mock google client none"`
	LanguageCode   string        `toml:"language_code"`
	SampleRateHz   int32         `toml:"sample_rate_hz" validate:"gt=0"`
	InterimResults bool          `toml:"interim_results"`
	AudioEncoding  string        `toml:"audio_encoding"`
	MaxRestarts    int           `toml:"max_restarts" validate:"gte=0"`
	RestartDelay   time.Duration `toml:"restart_delay" validate:"gte=0"`
}

// DatabaseConfig configures the lecture record store. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN         string `toml:"dsn"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

// RedisConfig configures the device lock. An empty address selects the
// in-process lock.
type RedisConfig struct {
	Addr     string        `toml:"addr" validate:"omitempty,hostname_port"`
	Password string        `toml:"password"`
	DB       int           `toml:"db" validate:"gte=0"`
	LockTTL  time.Duration `toml:"lock_ttl" validate:"gt=0"`
}

// Defaults returns the built-in configuration.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:   "svc-lecture-capture",
			HTTPPort:    "8080",
			GRPCPort:    "50051",
			MetricsPort: "9090",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			TopicRecording: "recording.state",
			TopicStage:     "pipeline.stage",
		},
		Storage: StorageConfig{
			Provider:       "memory",
			Region:         "us-east-1",
			MaxUploadBytes: 200 << 20,
		},
		Transcription: TranscriptionConfig{
			Provider: "mock",
			Timeout:  5 * time.Minute,
		},
		Notes: NotesConfig{
			Provider:  "mock",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		},
		Live: LiveConfig{
			Provider:       "mock",
			LanguageCode:   "en-US",
			SampleRateHz:   48000,
			InterimResults: true,
			AudioEncoding:  "WEBM_OPUS",
			MaxRestarts:    3,
			RestartDelay:   250 * time.Millisecond,
		},
		Database: DatabaseConfig{
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			LockTTL: 6 * time.Hour,
		},
	}
}

// Load returns the defaults overridden by the environment.
func Load() *Configuration {
	c := Defaults()
	c.applyEnv()
	return c
}

// LoadFile decodes path over the defaults, applies the environment and validates
// the result. An empty path skips the file.
func LoadFile(path string) (*Configuration, error) {
	c := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Configuration) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.MetricsPort = envOrDefault("METRICS_PORT", c.Service.MetricsPort)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicRecording = envOrDefault("KAFKA_TOPIC_RECORDING", c.Kafka.TopicRecording)
	c.Kafka.TopicStage = envOrDefault("KAFKA_TOPIC_STAGE", c.Kafka.TopicStage)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Storage.Provider = envOrDefault("STORAGE_PROVIDER", c.Storage.Provider)
	c.Storage.Bucket = envOrDefault("STORAGE_BUCKET", c.Storage.Bucket)
	c.Storage.Region = envOrDefault("STORAGE_REGION", c.Storage.Region)
	c.Storage.Endpoint = envOrDefault("STORAGE_ENDPOINT", c.Storage.Endpoint)
	c.Storage.PublicBaseURL = envOrDefault("STORAGE_PUBLIC_BASE_URL", c.Storage.PublicBaseURL)
	c.Storage.AccessKeyID = envOrDefault("STORAGE_ACCESS_KEY_ID", c.Storage.AccessKeyID)
	c.Storage.SecretAccessKey = envOrDefault("STORAGE_SECRET_ACCESS_KEY", c.Storage.SecretAccessKey)
	c.Storage.UsePathStyle = envOrDefaultBool("STORAGE_USE_PATH_STYLE", c.Storage.UsePathStyle)
	c.Storage.MaxUploadBytes = envOrDefaultInt64("STORAGE_MAX_UPLOAD_BYTES", c.Storage.MaxUploadBytes)

	c.Transcription.Provider = envOrDefault("TRANSCRIPTION_PROVIDER", c.Transcription.Provider)
	c.Transcription.Model = envOrDefault("TRANSCRIPTION_MODEL", c.Transcription.Model)
	c.Transcription.Language = envOrDefault("TRANSCRIPTION_LANGUAGE", c.Transcription.Language)
	c.Transcription.APIKey = envOrDefault("TRANSCRIPTION_API_KEY", c.Transcription.APIKey)
	c.Transcription.BaseURL = envOrDefault("TRANSCRIPTION_BASE_URL", c.Transcription.BaseURL)
	c.Transcription.Timeout = envOrDefaultDuration("TRANSCRIPTION_TIMEOUT", c.Transcription.Timeout)

	c.Notes.Provider = envOrDefault("NOTES_PROVIDER", c.Notes.Provider)
	c.Notes.Model = envOrDefault("NOTES_MODEL", c.Notes.Model)
	c.Notes.MaxTokens = envOrDefaultInt64("NOTES_MAX_TOKENS", c.Notes.MaxTokens)
	c.Notes.APIKey = envOrDefault("NOTES_API_KEY", c.Notes.APIKey)
	c.Notes.BaseURL = envOrDefault("NOTES_BASE_URL", c.Notes.BaseURL)
	c.Notes.Timeout = envOrDefaultDuration("NOTES_TIMEOUT", c.Notes.Timeout)

	c.Live.Provider = envOrDefault("LIVE_PROVIDER", c.Live.Provider)
	c.Live.LanguageCode = envOrDefault("LIVE_LANGUAGE_CODE", c.Live.LanguageCode)
	c.Live.SampleRateHz = int32(envOrDefaultInt("LIVE_SAMPLE_RATE_HZ", int(c.Live.SampleRateHz)))
	c.Live.InterimResults = envOrDefaultBool("LIVE_INTERIM_RESULTS", c.Live.InterimResults)
	c.Live.AudioEncoding = envOrDefault("LIVE_AUDIO_ENCODING", c.Live.AudioEncoding)
	c.Live.MaxRestarts = envOrDefaultInt("LIVE_MAX_RESTARTS", c.Live.MaxRestarts)
	c.Live.RestartDelay = envOrDefaultDuration("LIVE_RESTART_DELAY", c.Live.RestartDelay)

	c.Database.DSN = envOrDefault("DATABASE_DSN", c.Database.DSN)
	c.Database.AutoMigrate = envOrDefaultBool("DATABASE_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Redis.Addr = envOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envOrDefaultInt("REDIS_DB", c.Redis.DB)
	c.Redis.LockTTL = envOrDefaultDuration("REDIS_LOCK_TTL", c.Redis.LockTTL)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
