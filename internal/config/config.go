// Package config loads client configuration from defaults, an optional YAML
// file, an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Configuration holds all client settings.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	Backend       BackendConfig       `yaml:"backend"`
	Capture       CaptureConfig       `yaml:"capture"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Session       SessionConfig       `yaml:"session"`
	STT           STTConfig           `yaml:"stt"`
	Upload        UploadConfig        `yaml:"upload"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig identifies the client and its user.
type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	UserID      string `yaml:"user_id"`
	Environment string `yaml:"environment"`
}

// BackendConfig locates the conversation backend.
type BackendConfig struct {
	HTTPBaseURL      string        `yaml:"http_base_url"`
	WSBaseURL        string        `yaml:"ws_base_url"`
	RecognitionPath  string        `yaml:"recognition_path"`
	ConversationPath string        `yaml:"conversation_path"`
	UploadPath       string        `yaml:"upload_path"`
	GreetingPath     string        `yaml:"greeting_path"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	DefaultGreeting  string        `yaml:"default_greeting"`
}

// RecognitionURL returns the recognition stream endpoint.
func (b BackendConfig) RecognitionURL() string {
	return strings.TrimRight(b.WSBaseURL, "/") + b.RecognitionPath
}

// ConversationURL returns the conversation stream endpoint.
func (b BackendConfig) ConversationURL() string {
	return strings.TrimRight(b.WSBaseURL, "/") + b.ConversationPath
}

// CaptureConfig describes the microphone frames.
type CaptureConfig struct {
	SampleRateHz int           `yaml:"sample_rate_hz"`
	FrameBytes   int           `yaml:"frame_bytes"`
	MaxDuration  time.Duration `yaml:"max_duration"` // recording countdown
	SourceFile   string        `yaml:"source_file"`  // WAV replayed as the microphone
	Realtime     bool          `yaml:"realtime"`
}

// PlaybackConfig describes the reply audio output.
type PlaybackConfig struct {
	SampleRateHz int           `yaml:"sample_rate_hz"`
	Lead         time.Duration `yaml:"lead"`
	OutputFile   string        `yaml:"output_file"` // rendered playback, written on shutdown
}

// SessionConfig holds turn-taking timings and recording limits.
type SessionConfig struct {
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	RevealInterval  time.Duration `yaml:"reveal_interval"`
	MaxAudioBytes   int64         `yaml:"max_audio_bytes"`
	MaxFragments    int           `yaml:"max_fragments"`
}

// STTConfig selects the recognizer.
type STTConfig struct {
	Provider       string        `yaml:"provider"` // websocket, google, mock
	SendBuffer     int           `yaml:"send_buffer"`
	LanguageCode   string        `yaml:"language_code"` // google only
	MockDelay      time.Duration `yaml:"mock_delay"`
	MockUtterances []string      `yaml:"mock_utterances"`
}

// UploadConfig selects where turn recordings go.
type UploadConfig struct {
	Backend     string `yaml:"backend"` // http, supabase, none
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
	Bucket      string `yaml:"bucket"`
}

// KafkaConfig configures the turn journal.
type KafkaConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Brokers             []string `yaml:"brokers"`
	TopicUserTurns      string   `yaml:"topic_user_turns"`
	TopicAssistantTurns string   `yaml:"topic_assistant_turns"`
	Principal           string   `yaml:"principal"`
}

// ObservabilityConfig configures logging and the local servers.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
	ControlAddr string `yaml:"control_addr"`
	GRPCPort    string `yaml:"grpc_port"`
}

// Default returns the built-in configuration.
func Default() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:   "svc-voice-turn-client",
			UserID:      "guest",
			Environment: "local",
		},
		Backend: BackendConfig{
			HTTPBaseURL:      "http://localhost:8000",
			WSBaseURL:        "ws://localhost:8000",
			RecognitionPath:  "/ws/asr",
			ConversationPath: "/ws/interview",
			UploadPath:       "/api/upload_voice",
			GreetingPath:     "/api/get_latest_ai_message",
			RequestTimeout:   10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			DefaultGreeting:  "你好呀!我叫念念,",
		},
		Capture: CaptureConfig{
			SampleRateHz: 16000,
			FrameBytes:   6400,
			MaxDuration:  60 * time.Second,
			Realtime:     true,
		},
		Playback: PlaybackConfig{
			SampleRateHz: 24000,
			Lead:         50 * time.Millisecond,
		},
		Session: SessionConfig{
			ResponseTimeout: 30 * time.Second,
			RevealInterval:  20 * time.Millisecond,
			MaxAudioBytes:   4 * 1024 * 1024,
			MaxFragments:    2000,
		},
		STT: STTConfig{
			Provider:     "websocket",
			SendBuffer:   64,
			LanguageCode: "zh-CN",
			MockDelay:    50 * time.Millisecond,
		},
		Upload: UploadConfig{
			Backend: "http",
			Bucket:  "voice",
		},
		Kafka: KafkaConfig{
			TopicUserTurns:      "conversation.turns.user",
			TopicAssistantTurns: "conversation.turns.assistant",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsAddr: ":9090",
			ControlAddr: ":8080",
			GRPCPort:    "50051",
		},
	}
}

// Load builds the configuration. A missing .env or CONFIG_FILE is not an error;
// an unreadable CONFIG_FILE is logged and skipped.
func Load() *Configuration {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Ignoring config file")
		}
	}
	cfg.applyEnv()
	return cfg
}

// LoadFile overlays the YAML file at path onto cfg.
func (c *Configuration) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Configuration) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.UserID = envOrDefault("USER_ID", c.Service.UserID)
	c.Service.Environment = envOrDefault("ENV", c.Service.Environment)

	c.Backend.HTTPBaseURL = envOrDefault("BACKEND_HTTP_URL", c.Backend.HTTPBaseURL)
	c.Backend.WSBaseURL = envOrDefault("BACKEND_WS_URL", c.Backend.WSBaseURL)
	c.Backend.RecognitionPath = envOrDefault("BACKEND_RECOGNITION_PATH", c.Backend.RecognitionPath)
	c.Backend.ConversationPath = envOrDefault("BACKEND_CONVERSATION_PATH", c.Backend.ConversationPath)
	c.Backend.UploadPath = envOrDefault("BACKEND_UPLOAD_PATH", c.Backend.UploadPath)
	c.Backend.GreetingPath = envOrDefault("BACKEND_GREETING_PATH", c.Backend.GreetingPath)
	c.Backend.RequestTimeout = envOrDefaultDuration("BACKEND_REQUEST_TIMEOUT", c.Backend.RequestTimeout)
	c.Backend.HandshakeTimeout = envOrDefaultDuration("BACKEND_HANDSHAKE_TIMEOUT", c.Backend.HandshakeTimeout)
	c.Backend.DefaultGreeting = envOrDefault("DEFAULT_GREETING", c.Backend.DefaultGreeting)

	c.Capture.SampleRateHz = envOrDefaultInt("CAPTURE_SAMPLE_RATE_HZ", c.Capture.SampleRateHz)
	c.Capture.FrameBytes = envOrDefaultInt("CAPTURE_FRAME_BYTES", c.Capture.FrameBytes)
	c.Capture.MaxDuration = envOrDefaultDuration("CAPTURE_MAX_DURATION", c.Capture.MaxDuration)
	c.Capture.SourceFile = envOrDefault("CAPTURE_SOURCE_FILE", c.Capture.SourceFile)
	c.Capture.Realtime = envOrDefaultBool("CAPTURE_REALTIME", c.Capture.Realtime)

	c.Playback.SampleRateHz = envOrDefaultInt("PLAYBACK_SAMPLE_RATE_HZ", c.Playback.SampleRateHz)
	c.Playback.Lead = envOrDefaultDuration("PLAYBACK_LEAD", c.Playback.Lead)
	c.Playback.OutputFile = envOrDefault("PLAYBACK_OUTPUT_FILE", c.Playback.OutputFile)

	c.Session.ResponseTimeout = envOrDefaultDuration("SESSION_RESPONSE_TIMEOUT", c.Session.ResponseTimeout)
	c.Session.RevealInterval = envOrDefaultDuration("SESSION_REVEAL_INTERVAL", c.Session.RevealInterval)
	c.Session.MaxAudioBytes = int64(envOrDefaultInt("SESSION_MAX_AUDIO_BYTES", int(c.Session.MaxAudioBytes)))
	c.Session.MaxFragments = envOrDefaultInt("SESSION_MAX_FRAGMENTS", c.Session.MaxFragments)

	c.STT.Provider = envOrDefault("STT_PROVIDER", c.STT.Provider)
	c.STT.SendBuffer = envOrDefaultInt("STT_SEND_BUFFER", c.STT.SendBuffer)
	c.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.STT.LanguageCode)
	c.STT.MockDelay = envOrDefaultDuration("STT_MOCK_DELAY", c.STT.MockDelay)
	c.STT.MockUtterances = envOrDefaultList("STT_MOCK_UTTERANCES", c.STT.MockUtterances)

	c.Upload.Backend = envOrDefault("UPLOAD_BACKEND", c.Upload.Backend)
	c.Upload.SupabaseURL = envOrDefault("SUPABASE_URL", c.Upload.SupabaseURL)
	c.Upload.SupabaseKey = envOrDefault("SUPABASE_SERVICE_ROLE_KEY", c.Upload.SupabaseKey)
	c.Upload.Bucket = envOrDefault("SUPABASE_BUCKET", c.Upload.Bucket)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicUserTurns = envOrDefault("KAFKA_TOPIC_USER_TURNS", c.Kafka.TopicUserTurns)
	c.Kafka.TopicAssistantTurns = envOrDefault("KAFKA_TOPIC_ASSISTANT_TURNS", c.Kafka.TopicAssistantTurns)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", c.Observability.MetricsAddr)
	c.Observability.ControlAddr = envOrDefault("CONTROL_ADDR", c.Observability.ControlAddr)
	c.Observability.GRPCPort = envOrDefault("GRPC_PORT", c.Observability.GRPCPort)
}

// Validate checks every section.
func (c *Configuration) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}
	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka config: %w", err)
	}
	if c.Service.UserID == "" {
		return errors.New("service config: user_id cannot be empty")
	}
	return nil
}

// Validate checks the backend endpoints.
func (b *BackendConfig) Validate() error {
	for name, raw := range map[string]string{"http_base_url": b.HTTPBaseURL, "ws_base_url": b.WSBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if !strings.HasPrefix(b.RecognitionPath, "/") || !strings.HasPrefix(b.ConversationPath, "/") {
		return errors.New("stream paths must start with '/'")
	}
	if b.RequestTimeout <= 0 || b.HandshakeTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// Validate checks capture framing.
func (c *CaptureConfig) Validate() error {
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %d", c.SampleRateHz)
	}
	if c.FrameBytes <= 0 || c.FrameBytes%2 != 0 {
		return fmt.Errorf("frame_bytes must be a positive multiple of 2, got %d", c.FrameBytes)
	}
	if c.MaxDuration < time.Second {
		return fmt.Errorf("max_duration must be at least 1s, got %v", c.MaxDuration)
	}
	return nil
}

// Validate checks playback settings.
func (p *PlaybackConfig) Validate() error {
	if p.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %d", p.SampleRateHz)
	}
	if p.Lead < 0 {
		return fmt.Errorf("lead cannot be negative, got %v", p.Lead)
	}
	return nil
}

// Validate checks session timings.
func (s *SessionConfig) Validate() error {
	if s.ResponseTimeout <= 0 {
		return fmt.Errorf("response_timeout must be positive, got %v", s.ResponseTimeout)
	}
	if s.RevealInterval <= 0 {
		return fmt.Errorf("reveal_interval must be positive, got %v", s.RevealInterval)
	}
	return nil
}

// Validate checks the recognizer selection.
func (s *STTConfig) Validate() error {
	switch s.Provider {
	case "websocket", "google", "mock":
	default:
		return fmt.Errorf("unknown provider %q", s.Provider)
	}
	if s.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", s.SendBuffer)
	}
	return nil
}

// Validate checks the upload target.
func (u *UploadConfig) Validate() error {
	switch u.Backend {
	case "http", "none":
	case "supabase":
		if u.SupabaseURL == "" || u.SupabaseKey == "" || u.Bucket == "" {
			return errors.New("supabase upload needs url, key and bucket")
		}
	default:
		return fmt.Errorf("unknown backend %q", u.Backend)
	}
	return nil
}

// Validate checks the journal settings.
func (k *KafkaConfig) Validate() error {
	if !k.Enabled {
		return nil
	}
	if len(k.Brokers) == 0 {
		return errors.New("brokers cannot be empty when enabled")
	}
	if k.TopicUserTurns == "" || k.TopicAssistantTurns == "" {
		return errors.New("topics cannot be empty when enabled")
	}
	return nil
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
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
