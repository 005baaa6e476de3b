package main

import (
	"context"
	"flag"
	"time"

	"github.com/rs/zerolog/log"

	"ai-voice-turn-client/internal/app"
	"ai-voice-turn-client/internal/config"
	"ai-voice-turn-client/internal/service/session"
	"ai-voice-turn-client/internal/service/turn"
)

// stateObserver logs session output and forwards state changes.
type stateObserver struct {
	*app.LogObserver
	states chan turn.State
}

func (o *stateObserver) OnStateChange(from, to turn.State) {
	o.LogObserver.OnStateChange(from, to)
	select {
	case o.states <- to:
	default:
	}
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	outFile := flag.String("out", "reply.wav", "Path the rendered reply audio is written to")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall deadline for the turn")
	flag.Parse()

	cfg := config.Load()
	cfg.Capture.SourceFile = *audioFile
	cfg.Playback.OutputFile = *outFile

	application := app.New(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	_ = application.Start()

	observer := &stateObserver{
		LogObserver: app.NewLogObserver(application.Logger),
		states:      make(chan turn.State, 16),
	}
	rt, err := application.BuildRuntime(observer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire voice session")
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- rt.Session.Run(ctx) }()

	if err := rt.Session.StartRecording(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start recording")
	}
	log.Info().Str("audio", *audioFile).Msg("Streaming audio file")

	select {
	case <-rt.Capture.Exhausted():
	case <-ctx.Done():
		log.Fatal().Msg("Timed out while streaming audio")
	}

	// Let trailing fragments arrive before committing.
	time.Sleep(500 * time.Millisecond)

	if err := rt.Session.StopRecording(); err != nil {
		log.Fatal().Err(err).Msg("Failed to commit turn")
	}
	log.Info().Msg("Turn committed, waiting for reply")

	replied := false
	for !replied {
		select {
		case st := <-observer.states:
			if st == turn.StateIdle {
				replied = true
			}
		case <-ctx.Done():
			log.Fatal().Msg("Timed out waiting for reply")
		}
	}

	// Reply audio may still be scheduled after the reply finished.
	for {
		snap, err := rt.Session.Snapshot()
		if err != nil || !snap.Playing {
			logSnapshot(snap)
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	cancel()
	<-runErr

	if err := rt.Speaker.WriteWAV(*outFile); err != nil {
		log.Error().Err(err).Msg("Failed to write reply audio")
		return
	}
	log.Info().
		Str("path", *outFile).
		Float64("playedSeconds", rt.Speaker.Played()).
		Msg("Reply audio written")
}

func logSnapshot(snap session.Snapshot) {
	for _, t := range snap.History {
		log.Info().Str("role", t.Role).Str("content", t.Content).Msg("Turn")
	}
}
