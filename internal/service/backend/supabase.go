package backend

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"

	"ai-voice-turn-client/internal/observability/metrics"
)

// SupabaseConfig holds storage bucket settings.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseUploader stores turn recordings in a Supabase storage bucket.
type SupabaseUploader struct {
	client  *supabase.Client
	bucket  string
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewSupabaseUploader creates an uploader for cfg.Bucket.
func NewSupabaseUploader(cfg SupabaseConfig) (*SupabaseUploader, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseUploader{
		client:  client,
		bucket:  cfg.Bucket,
		metrics: metrics.DefaultMetrics,
		logger:  log.With().Str("component", "supabase").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// Name identifies the upload backend in metrics.
func (s *SupabaseUploader) Name() string { return "supabase" }

// UploadVoice stores the WAV under <userId>/<sessionId>/<textId>.wav.
// The storage client has no context support; ctx is only checked before the call.
func (s *SupabaseUploader) UploadVoice(ctx context.Context, u VoiceUpload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	_, err := s.client.Storage.UploadFile(s.bucket, u.Key(), bytes.NewReader(u.WAV))
	s.metrics.RecordUpload(s.Name(), err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}

	s.logger.Debug().Str("key", u.Key()).Int("bytes", len(u.WAV)).Msg("Voice uploaded")
	return nil
}
