package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	"CONFIG_FILE", "SERVICE_PRINCIPAL", "USER_ID", "ENV",
	"BACKEND_HTTP_URL", "BACKEND_WS_URL", "BACKEND_REQUEST_TIMEOUT", "DEFAULT_GREETING",
	"CAPTURE_SAMPLE_RATE_HZ", "CAPTURE_FRAME_BYTES", "CAPTURE_MAX_DURATION", "CAPTURE_REALTIME",
	"PLAYBACK_SAMPLE_RATE_HZ", "PLAYBACK_LEAD",
	"SESSION_RESPONSE_TIMEOUT", "SESSION_REVEAL_INTERVAL", "SESSION_MAX_AUDIO_BYTES", "SESSION_MAX_FRAGMENTS",
	"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_MOCK_UTTERANCES",
	"UPLOAD_BACKEND", "KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_PRINCIPAL", "LOG_LEVEL",
}

func clearEnv() {
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "svc-voice-turn-client" {
		t.Errorf("expected default principal 'svc-voice-turn-client', got %s", cfg.Service.Principal)
	}
	if cfg.Backend.RecognitionURL() != "ws://localhost:8000/ws/asr" {
		t.Errorf("expected recognition URL ws://localhost:8000/ws/asr, got %s", cfg.Backend.RecognitionURL())
	}
	if cfg.Backend.ConversationURL() != "ws://localhost:8000/ws/interview" {
		t.Errorf("expected conversation URL ws://localhost:8000/ws/interview, got %s", cfg.Backend.ConversationURL())
	}
	if cfg.Backend.DefaultGreeting != "你好呀!我叫念念," {
		t.Errorf("unexpected default greeting %q", cfg.Backend.DefaultGreeting)
	}

	if cfg.Capture.SampleRateHz != 16000 {
		t.Errorf("expected capture rate 16000, got %d", cfg.Capture.SampleRateHz)
	}
	if cfg.Capture.FrameBytes != 6400 {
		t.Errorf("expected frame bytes 6400, got %d", cfg.Capture.FrameBytes)
	}
	if cfg.Capture.MaxDuration != 60*time.Second {
		t.Errorf("expected max duration 60s, got %v", cfg.Capture.MaxDuration)
	}
	if cfg.Playback.SampleRateHz != 24000 {
		t.Errorf("expected playback rate 24000, got %d", cfg.Playback.SampleRateHz)
	}
	if cfg.Playback.Lead != 50*time.Millisecond {
		t.Errorf("expected lead 50ms, got %v", cfg.Playback.Lead)
	}
	if cfg.Session.ResponseTimeout != 30*time.Second {
		t.Errorf("expected response timeout 30s, got %v", cfg.Session.ResponseTimeout)
	}
	if cfg.Session.RevealInterval != 20*time.Millisecond {
		t.Errorf("expected reveal interval 20ms, got %v", cfg.Session.RevealInterval)
	}
	if cfg.STT.Provider != "websocket" {
		t.Errorf("expected provider 'websocket', got %s", cfg.STT.Provider)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	os.Setenv("USER_ID", "user-42")
	os.Setenv("BACKEND_WS_URL", "wss://voice.example.com/")
	os.Setenv("CAPTURE_SAMPLE_RATE_HZ", "8000")
	os.Setenv("CAPTURE_MAX_DURATION", "30s")
	os.Setenv("CAPTURE_REALTIME", "false")
	os.Setenv("SESSION_RESPONSE_TIMEOUT", "45s")
	os.Setenv("SESSION_MAX_AUDIO_BYTES", "1048576")
	os.Setenv("STT_PROVIDER", "mock")
	os.Setenv("STT_LANGUAGE_CODE", "en-US")
	os.Setenv("STT_MOCK_UTTERANCES", "你好, 再见 ,")
	os.Setenv("KAFKA_ENABLED", "true")
	os.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	os.Setenv("LOG_LEVEL", "debug")
	defer clearEnv()

	cfg := Load()

	if cfg.Service.UserID != "user-42" {
		t.Errorf("expected user 'user-42', got %s", cfg.Service.UserID)
	}
	if cfg.Backend.ConversationURL() != "wss://voice.example.com/ws/interview" {
		t.Errorf("unexpected conversation URL %s", cfg.Backend.ConversationURL())
	}
	if cfg.Capture.SampleRateHz != 8000 {
		t.Errorf("expected capture rate 8000, got %d", cfg.Capture.SampleRateHz)
	}
	if cfg.Capture.MaxDuration != 30*time.Second {
		t.Errorf("expected max duration 30s, got %v", cfg.Capture.MaxDuration)
	}
	if cfg.Capture.Realtime {
		t.Error("expected realtime off")
	}
	if cfg.Session.ResponseTimeout != 45*time.Second {
		t.Errorf("expected response timeout 45s, got %v", cfg.Session.ResponseTimeout)
	}
	if cfg.Session.MaxAudioBytes != 1048576 {
		t.Errorf("expected max audio bytes 1048576, got %d", cfg.Session.MaxAudioBytes)
	}
	if cfg.STT.LanguageCode != "en-US" {
		t.Errorf("expected language 'en-US', got %s", cfg.STT.LanguageCode)
	}
	if want := []string{"你好", "再见"}; !reflect.DeepEqual(cfg.STT.MockUtterances, want) {
		t.Errorf("expected utterances %v, got %v", want, cfg.STT.MockUtterances)
	}
	if want := []string{"k1:9092", "k2:9092"}; !reflect.DeepEqual(cfg.Kafka.Brokers, want) {
		t.Errorf("expected brokers %v, got %v", want, cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv()
	os.Setenv("CAPTURE_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("CAPTURE_REALTIME", "invalid")
	os.Setenv("SESSION_RESPONSE_TIMEOUT", "soon")
	os.Setenv("SESSION_MAX_FRAGMENTS", "many")
	defer clearEnv()

	cfg := Load()

	if cfg.Capture.SampleRateHz != 16000 {
		t.Errorf("expected default capture rate on invalid input, got %d", cfg.Capture.SampleRateHz)
	}
	if !cfg.Capture.Realtime {
		t.Error("expected default realtime on invalid input")
	}
	if cfg.Session.ResponseTimeout != 30*time.Second {
		t.Errorf("expected default response timeout on invalid input, got %v", cfg.Session.ResponseTimeout)
	}
	if cfg.Session.MaxFragments != 2000 {
		t.Errorf("expected default max fragments on invalid input, got %d", cfg.Session.MaxFragments)
	}
}

func TestLoad_ConfigFileThenEnv(t *testing.T) {
	clearEnv()
	path := filepath.Join(t.TempDir(), "client.yaml")
	content := `
service:
  user_id: from-file
session:
  response_timeout: 12s
stt:
  provider: mock
  mock_utterances: ["今天天气不错"]
upload:
  backend: none
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Setenv("CONFIG_FILE", path)
	os.Setenv("STT_PROVIDER", "websocket")
	defer clearEnv()

	cfg := Load()

	if cfg.Service.UserID != "from-file" {
		t.Errorf("expected user from file, got %s", cfg.Service.UserID)
	}
	if cfg.Session.ResponseTimeout != 12*time.Second {
		t.Errorf("expected response timeout 12s from file, got %v", cfg.Session.ResponseTimeout)
	}
	if cfg.Upload.Backend != "none" {
		t.Errorf("expected upload backend from file, got %s", cfg.Upload.Backend)
	}
	if cfg.STT.Provider != "websocket" {
		t.Errorf("expected environment to override file, got %s", cfg.STT.Provider)
	}
	if len(cfg.STT.MockUtterances) != 1 {
		t.Errorf("expected utterances from file, got %v", cfg.STT.MockUtterances)
	}
	// untouched sections keep their defaults
	if cfg.Capture.FrameBytes != 6400 {
		t.Errorf("expected default frame bytes, got %d", cfg.Capture.FrameBytes)
	}
}

func TestLoad_BadConfigFileIsSkipped(t *testing.T) {
	clearEnv()
	path := filepath.Join(t.TempDir(), "broken.yaml")
	os.WriteFile(path, []byte("session: [unterminated"), 0o644)
	os.Setenv("CONFIG_FILE", path)
	defer clearEnv()

	cfg := Load()
	if cfg.Session.ResponseTimeout != 30*time.Second {
		t.Errorf("expected defaults when file is broken, got %v", cfg.Session.ResponseTimeout)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "my-service")
	defer clearEnv()

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Configuration)
		wantErr string
	}{
		{"defaults", func(c *Configuration) {}, ""},
		{"relative ws url", func(c *Configuration) { c.Backend.WSBaseURL = "localhost:8000" }, "ws_base_url"},
		{"odd frame", func(c *Configuration) { c.Capture.FrameBytes = 6401 }, "frame_bytes"},
		{"short countdown", func(c *Configuration) { c.Capture.MaxDuration = 0 }, "max_duration"},
		{"zero playback rate", func(c *Configuration) { c.Playback.SampleRateHz = 0 }, "sample_rate_hz"},
		{"zero timeout", func(c *Configuration) { c.Session.ResponseTimeout = 0 }, "response_timeout"},
		{"unknown provider", func(c *Configuration) { c.STT.Provider = "azure" }, "unknown provider"},
		{"supabase without key", func(c *Configuration) { c.Upload.Backend = "supabase" }, "supabase"},
		{"kafka without brokers", func(c *Configuration) { c.Kafka.Enabled = true }, "brokers"},
		{"no user", func(c *Configuration) { c.Service.UserID = "" }, "user_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
