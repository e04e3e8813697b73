package voice

import "context"

// AudioFrame is one chunk of 16-bit little-endian mono PCM.
type AudioFrame struct {
	Data       []byte
	SampleRate int
}

type SpeechEventType string

const (
	SpeechInterim SpeechEventType = "interim"
	SpeechFinal   SpeechEventType = "final"
	SpeechError   SpeechEventType = "error"
)

// SpeechEvent is one recognition result from the STT stage.
type SpeechEvent struct {
	Type       SpeechEventType
	Text       string
	Confidence float64
	Err        error
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history handed to the LLM stage.
type Message struct {
	Role    Role
	Content string
}

type CompletionEventType string

const (
	CompletionDelta CompletionEventType = "delta"
	CompletionDone  CompletionEventType = "done"
	CompletionError CompletionEventType = "error"
)

// CompletionEvent is one streamed token delta (or terminal marker) from the
// LLM stage.
type CompletionEvent struct {
	Type  CompletionEventType
	Delta string
	Err   error
}

type SynthesisEventType string

const (
	SynthesisAudio SynthesisEventType = "audio"
	SynthesisFinal SynthesisEventType = "final"
	SynthesisError SynthesisEventType = "error"
)

// SynthesisEvent carries one synthesized audio chunk from the TTS stage.
type SynthesisEvent struct {
	Type       SynthesisEventType
	Audio      []byte
	SampleRate int
	Err        error
}

// SttStage turns a stream of audio frames into speech events. The returned
// channel is closed when the input closes or the stage fails terminally.
// Event channels are bounded; a slow consumer blocks the producer.
type SttStage interface {
	Transcribe(ctx context.Context, frames <-chan AudioFrame) (<-chan SpeechEvent, error)
}

// LlmStage streams a completion for the given conversation history. One call
// per turn.
type LlmStage interface {
	Complete(ctx context.Context, history []Message) (<-chan CompletionEvent, error)
}

// TtsStage synthesizes a stream of text chunks into audio. The output channel
// closes after a final event once the input channel is closed and all audio
// has been delivered.
type TtsStage interface {
	Synthesize(ctx context.Context, text <-chan string) (<-chan SynthesisEvent, error)
}

// RoomSession abstracts the realtime transport room the agent joined. The
// LiveKit adapter implements it in production; MockRoom implements it in
// tests.
type RoomSession interface {
	// RemoteParticipants returns the identities currently in the room,
	// excluding the agent itself.
	RemoteParticipants() []string
	// AudioInput streams decoded PCM frames from the remote participant.
	AudioInput() <-chan AudioFrame
	// PublishAudio plays one synthesized frame into the room.
	PublishAudio(ctx context.Context, frame AudioFrame) error
	// Done is closed when the room drains or the connection drops.
	Done() <-chan struct{}
	Close() error
}
