package voice

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mbertolini/voicetwin/internal/observability"
	"github.com/mbertolini/voicetwin/internal/prompts"
	"github.com/mbertolini/voicetwin/internal/trace"
)

type State int32

const (
	StateIdle State = iota
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// A session terminates after this many turns fail back to back. Any
// successful turn resets the count.
const maxConsecutiveTurnFailures = 3

const flushTimeout = 5 * time.Second

// Pipeline runs one conversation session: greeting, then a strict
// listen-think-speak cycle, one turn at a time. Stage failures are fatal to
// the turn, not the session.
type Pipeline struct {
	stt        SttStage
	llm        LlmStage
	tts        TtsStage
	correlator *trace.Correlator
	metrics    *observability.Metrics

	instructions string
	intro        string

	state atomic.Int32
}

func NewPipeline(stt SttStage, llm LlmStage, tts TtsStage, correlator *trace.Correlator, metrics *observability.Metrics, instructions, intro string) *Pipeline {
	return &Pipeline{
		stt:          stt,
		llm:          llm,
		tts:          tts,
		correlator:   correlator,
		metrics:      metrics,
		instructions: instructions,
		intro:        intro,
	}
}

func (p *Pipeline) State() State { return State(p.state.Load()) }

// Run drives the session to completion. It returns when the speech stream
// ends, the room drains, the context is cancelled, or too many turns fail in
// a row. Buffered trace data is flushed exactly once on every exit path.
func (p *Pipeline) Run(ctx context.Context, room RoomSession) error {
	defer p.state.Store(int32(StateTerminated))
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := p.correlator.FlushAll(flushCtx); err != nil {
			log.Printf("trace flush failed: %v", err)
		}
	}()

	participants := room.RemoteParticipants()
	if len(participants) == 0 {
		log.Printf("session %s: no remote participants, terminating", p.correlator.SessionID())
		return nil
	}
	name := participants[0]

	p.state.Store(int32(StateActive))
	p.metrics.ActiveSessions.Inc()
	defer p.metrics.ActiveSessions.Dec()
	p.metrics.SessionEvents.WithLabelValues("started").Inc()
	defer p.metrics.SessionEvents.WithLabelValues("terminated").Inc()

	failures := 0
	var lastErr error

	// The greeting is spoken before any speech recognition happens.
	greeting := prompts.RenderIntro(p.intro, name)
	if err := p.speak(ctx, room, greeting); err != nil {
		p.metrics.StageErrors.WithLabelValues("tts").Inc()
		log.Printf("session %s: greeting synthesis failed: %v", p.correlator.SessionID(), err)
		failures = 1
		lastErr = err
	}

	speech, err := p.stt.Transcribe(ctx, room.AudioInput())
	if err != nil {
		return fmt.Errorf("start transcription: %w", err)
	}

	history := []Message{{Role: RoleSystem, Content: p.instructions}}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-room.Done():
			log.Printf("session %s: room drained", p.correlator.SessionID())
			return nil
		case ev, ok := <-speech:
			if !ok {
				return nil
			}
			switch ev.Type {
			case SpeechInterim:
				// Turns open on final transcripts only.
			case SpeechError:
				p.metrics.StageErrors.WithLabelValues("stt").Inc()
				lastErr = fmt.Errorf("stt stage: %w", ev.Err)
				log.Printf("session %s: %v", p.correlator.SessionID(), lastErr)
				failures++
				if failures >= maxConsecutiveTurnFailures {
					return lastErr
				}
			case SpeechFinal:
				text := strings.TrimSpace(ev.Text)
				if text == "" {
					continue
				}
				p.correlator.StartNewTurn()
				history = append(history, Message{Role: RoleUser, Content: text})
				reply, err := p.runTurn(ctx, room, history)
				if err != nil {
					lastErr = err
					log.Printf("session %s: turn failed: %v", p.correlator.SessionID(), err)
					failures++
					if failures >= maxConsecutiveTurnFailures {
						return lastErr
					}
					continue
				}
				failures = 0
				p.metrics.Turns.Inc()
				if reply != "" {
					history = append(history, Message{Role: RoleAssistant, Content: reply})
				}
			}
		}
	}
}

// speak synthesizes a single fixed utterance outside the turn cycle.
func (p *Pipeline) speak(ctx context.Context, room RoomSession, text string) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	synth, err := p.tts.Synthesize(sctx, textCh)
	if err != nil {
		return err
	}
	return p.publishSynthesis(sctx, room, synth, nil)
}

// runTurn streams one LLM completion token-wise into the synthesizer and
// publishes the audio. It returns the full reply text even when the turn
// fails partway.
func (p *Pipeline) runTurn(ctx context.Context, room RoomSession, history []Message) (string, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	start := time.Now()

	completions, err := p.llm.Complete(turnCtx, history)
	if err != nil {
		p.metrics.StageErrors.WithLabelValues("llm").Inc()
		return "", fmt.Errorf("llm stage: %w", err)
	}

	textCh := make(chan string, 32)
	synth, err := p.tts.Synthesize(turnCtx, textCh)
	if err != nil {
		p.metrics.StageErrors.WithLabelValues("tts").Inc()
		return "", fmt.Errorf("tts stage: %w", err)
	}

	pubDone := make(chan error, 1)
	go func() {
		pubDone <- p.publishSynthesis(turnCtx, room, synth, func() {
			p.metrics.ObserveFirstAudioLatency(time.Since(start))
		})
	}()

	var reply strings.Builder
	var llmErr, pubErr error
	pubFinished := false
forward:
	for ev := range completions {
		switch ev.Type {
		case CompletionDelta:
			reply.WriteString(ev.Delta)
			// A failed synthesizer stops draining textCh, so the
			// publish result must be able to unblock the forwarder.
			select {
			case textCh <- ev.Delta:
			case err := <-pubDone:
				pubFinished = true
				pubErr = err
				break forward
			case <-turnCtx.Done():
				llmErr = turnCtx.Err()
				break forward
			}
		case CompletionError:
			llmErr = ev.Err
			break forward
		case CompletionDone:
		}
	}
	close(textCh)
	if !pubFinished {
		pubErr = <-pubDone
	}

	if llmErr != nil {
		p.metrics.StageErrors.WithLabelValues("llm").Inc()
		return reply.String(), fmt.Errorf("llm stage: %w", llmErr)
	}
	if pubErr != nil {
		p.metrics.StageErrors.WithLabelValues("tts").Inc()
		return reply.String(), fmt.Errorf("tts stage: %w", pubErr)
	}
	return reply.String(), nil
}

func (p *Pipeline) publishSynthesis(ctx context.Context, room RoomSession, synth <-chan SynthesisEvent, onFirstAudio func()) error {
	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-synth:
			if !ok {
				return nil
			}
			switch ev.Type {
			case SynthesisAudio:
				if first && onFirstAudio != nil {
					onFirstAudio()
				}
				first = false
				if err := room.PublishAudio(ctx, AudioFrame{Data: ev.Audio, SampleRate: ev.SampleRate}); err != nil {
					return fmt.Errorf("publish audio: %w", err)
				}
			case SynthesisError:
				return ev.Err
			case SynthesisFinal:
			}
		}
	}
}
