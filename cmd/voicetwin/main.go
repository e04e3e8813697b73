package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mbertolini/voicetwin/internal/config"
	"github.com/mbertolini/voicetwin/internal/httpapi"
	"github.com/mbertolini/voicetwin/internal/observability"
	"github.com/mbertolini/voicetwin/internal/prompts"
	"github.com/mbertolini/voicetwin/internal/provision"
	"github.com/mbertolini/voicetwin/internal/trace"
	"github.com/mbertolini/voicetwin/internal/voice"
)

const agentIdentity = "voice-clone-agent"

func main() {
	resolver := config.NewResolver()

	root := &cobra.Command{
		Use:           "voicetwin",
		Short:         "Voice-clone conversational session service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Serve the token and room provisioning API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolver.Settings()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return runAPI(cmd.Context(), cfg)
		},
	}

	var (
		roomName           string
		participantTimeout time.Duration
	)
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Join a room and run one conversation session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolver.Settings()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if roomName == "" {
				return fmt.Errorf("--room is required")
			}
			return runAgent(cmd.Context(), cfg, roomName, participantTimeout)
		},
	}
	agentCmd.Flags().StringVar(&roomName, "room", "", "room to join")
	agentCmd.Flags().DurationVar(&participantTimeout, "participant-timeout", 30*time.Second, "how long to wait for a participant before giving up")

	root.AddCommand(apiCmd, agentCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}

func runAPI(ctx context.Context, cfg config.Settings) error {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	provisioner := provision.New(cfg.LiveKit)
	api := httpapi.New(cfg, provisioner, metrics)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
	return nil
}

func runAgent(ctx context.Context, cfg config.Settings, roomName string, participantTimeout time.Duration) error {
	if err := cfg.RequireAgent(); err != nil {
		return err
	}

	// Missing character artifacts are fatal before any session starts.
	instructions, err := prompts.Load(cfg.Voice.InstructionsFile)
	if err != nil {
		return fmt.Errorf("load instructions: %w", err)
	}
	intro, err := prompts.Load(cfg.Voice.IntroFile)
	if err != nil {
		return fmt.Errorf("load intro: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	client := trace.NewClient(cfg.Langfuse)
	if client.Enabled() {
		log.Printf("trace delivery enabled (%s)", cfg.Langfuse.Host)
	} else {
		log.Printf("trace delivery disabled: keys not configured")
	}
	correlator := trace.NewCorrelator(client, "voice_cloning_agent", uuid.NewString())

	stt := voice.NewTracedSTT(voice.NewDeepgramSTT(voice.DeepgramConfig{
		APIKey: cfg.Deepgram.APIKey,
	}), correlator)
	llm := voice.NewTracedLLM(voice.NewOpenAILLM(cfg.OpenAI.APIKey, cfg.OpenAI.Model), correlator, cfg.OpenAI.Model)
	tts := voice.NewTracedTTS(voice.NewResembleTTS(voice.ResembleConfig{
		APIKey:    cfg.Resemble.APIKey,
		VoiceUUID: cfg.Resemble.VoiceUUID,
		StreamURL: cfg.Resemble.StreamURL,
	}), correlator, "resemble")

	room, err := voice.JoinRoom(ctx, voice.LiveKitRoomConfig{
		URL:       cfg.LiveKit.URL,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
		RoomName:  roomName,
		Identity:  agentIdentity,
	})
	if err != nil {
		return err
	}
	defer room.Close()
	log.Printf("joined room %s as %s", roomName, agentIdentity)

	if err := waitForParticipant(ctx, room, participantTimeout); err != nil {
		log.Printf("room %s: %v", roomName, err)
	}

	pipeline := voice.NewPipeline(stt, llm, tts, correlator, metrics, instructions, intro)
	if err := pipeline.Run(ctx, room); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("session ended with error: %w", err)
	}
	log.Printf("session %s terminated", correlator.SessionID())
	return nil
}

// waitForParticipant polls until someone is in the room or the timeout
// passes. A timeout is not an error for the caller: the pipeline handles an
// empty room by terminating cleanly.
func waitForParticipant(ctx context.Context, room *voice.LiveKitRoom, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		if len(room.RemoteParticipants()) > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-room.Done():
			return fmt.Errorf("room drained before anyone joined")
		case <-deadline.C:
			return fmt.Errorf("no participant joined within %s", timeout)
		case <-tick.C:
		}
	}
}
