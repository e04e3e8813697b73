package voice

import (
	"context"
	"log"
	"strings"

	"github.com/mbertolini/voicetwin/internal/trace"
)

// TracedSTT forwards speech events unmodified and logs final transcripts
// against the current turn trace for correlation.
type TracedSTT struct {
	inner      SttStage
	correlator *trace.Correlator
}

func NewTracedSTT(inner SttStage, correlator *trace.Correlator) *TracedSTT {
	return &TracedSTT{inner: inner, correlator: correlator}
}

func (t *TracedSTT) Transcribe(ctx context.Context, frames <-chan AudioFrame) (<-chan SpeechEvent, error) {
	events, err := t.inner.Transcribe(ctx, frames)
	if err != nil {
		return nil, err
	}
	out := make(chan SpeechEvent, 64)
	go func() {
		defer close(out)
		for ev := range events {
			switch ev.Type {
			case SpeechFinal:
				log.Printf("stt final (trace %s): %q", t.correlator.Current().ID(), ev.Text)
			case SpeechError:
				log.Printf("stt error (trace %s): %v", t.correlator.Current().ID(), ev.Err)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// TracedLLM records each completion as a generation under the current turn
// trace: completion-start at the first delta, error severity plus whatever
// partial output accumulated on mid-stream failure.
type TracedLLM struct {
	inner      LlmStage
	correlator *trace.Correlator
	model      string
}

func NewTracedLLM(inner LlmStage, correlator *trace.Correlator, model string) *TracedLLM {
	return &TracedLLM{inner: inner, correlator: correlator, model: model}
}

func (t *TracedLLM) Complete(ctx context.Context, history []Message) (<-chan CompletionEvent, error) {
	events, err := t.inner.Complete(ctx, history)
	if err != nil {
		return nil, err
	}
	gen := t.correlator.Current().Generation("voice_clone_llm_generation", t.model, lastUserContent(history))
	out := make(chan CompletionEvent, 64)
	go func() {
		defer close(out)
		var acc strings.Builder
		defer func() { gen.End(acc.String()) }()
		for ev := range events {
			switch ev.Type {
			case CompletionDelta:
				gen.MarkCompletionStart()
				acc.WriteString(ev.Delta)
			case CompletionError:
				gen.SetError()
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func lastUserContent(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// TracedTTS opens a span per synthesis call under the current turn trace.
type TracedTTS struct {
	inner      TtsStage
	correlator *trace.Correlator
	provider   string
}

func NewTracedTTS(inner TtsStage, correlator *trace.Correlator, provider string) *TracedTTS {
	return &TracedTTS{inner: inner, correlator: correlator, provider: provider}
}

func (t *TracedTTS) Synthesize(ctx context.Context, text <-chan string) (<-chan SynthesisEvent, error) {
	events, err := t.inner.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	span := t.correlator.Current().Span("voice_clone_tts_node", map[string]string{"provider": t.provider})
	out := make(chan SynthesisEvent, 64)
	go func() {
		defer close(out)
		defer span.End()
		for ev := range events {
			if ev.Type == SynthesisError {
				span.SetError()
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
