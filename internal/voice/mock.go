package voice

import (
	"context"
	"sync"
)

// MockSTT is a scripted recognition stage. Tests preload speech events and
// close the stream to end the session.
type MockSTT struct {
	mu      sync.Mutex
	ch      chan SpeechEvent
	started bool
	// OnStart runs when Transcribe is first called.
	OnStart func()
}

func NewMockSTT() *MockSTT {
	return &MockSTT{ch: make(chan SpeechEvent, 64)}
}

func (m *MockSTT) Transcribe(_ context.Context, _ <-chan AudioFrame) (<-chan SpeechEvent, error) {
	m.mu.Lock()
	m.started = true
	onStart := m.OnStart
	m.mu.Unlock()
	if onStart != nil {
		onStart()
	}
	return m.ch, nil
}

func (m *MockSTT) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *MockSTT) Emit(ev SpeechEvent) { m.ch <- ev }

func (m *MockSTT) CloseEvents() { close(m.ch) }

// MockCompletion scripts one LLM call: its streamed deltas, then an optional
// terminal error.
type MockCompletion struct {
	Deltas []string
	Err    error
}

// MockLLM replays scripted completions and records every history it was
// called with.
type MockLLM struct {
	mu        sync.Mutex
	script    []MockCompletion
	calls     int
	Histories [][]Message
}

func NewMockLLM(script ...MockCompletion) *MockLLM {
	return &MockLLM{script: script}
}

func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockLLM) Complete(ctx context.Context, history []Message) (<-chan CompletionEvent, error) {
	m.mu.Lock()
	snapshot := make([]Message, len(history))
	copy(snapshot, history)
	m.Histories = append(m.Histories, snapshot)
	var c MockCompletion
	if m.calls < len(m.script) {
		c = m.script[m.calls]
	}
	m.calls++
	m.mu.Unlock()

	events := make(chan CompletionEvent, 64)
	go func() {
		defer close(events)
		for _, d := range c.Deltas {
			select {
			case events <- CompletionEvent{Type: CompletionDelta, Delta: d}:
			case <-ctx.Done():
				return
			}
		}
		if c.Err != nil {
			events <- CompletionEvent{Type: CompletionError, Err: c.Err}
			return
		}
		events <- CompletionEvent{Type: CompletionDone}
	}()
	return events, nil
}

// MockTTS records synthesized text and returns the input bytes as fake audio.
// A failing call emits its error and stops reading input, the way a provider
// whose connection died would.
type MockTTS struct {
	mu          sync.Mutex
	synthesized []string
	failAt      map[int]error
	// Err, when set, fails every call.
	Err error
}

func NewMockTTS() *MockTTS { return &MockTTS{} }

// FailCall makes the call-th Synthesize call (zero-based) fail with err.
func (m *MockTTS) FailCall(call int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAt == nil {
		m.failAt = map[int]error{}
	}
	m.failAt[call] = err
}

// Synthesized returns the concatenated text of each synthesis call, in order.
func (m *MockTTS) Synthesized() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.synthesized))
	copy(out, m.synthesized)
	return out
}

func (m *MockTTS) Synthesize(ctx context.Context, text <-chan string) (<-chan SynthesisEvent, error) {
	m.mu.Lock()
	m.synthesized = append(m.synthesized, "")
	idx := len(m.synthesized) - 1
	failErr := m.Err
	if failErr == nil {
		failErr = m.failAt[idx]
	}
	m.mu.Unlock()

	events := make(chan SynthesisEvent, 64)
	go func() {
		defer close(events)
		if failErr != nil {
			events <- SynthesisEvent{Type: SynthesisError, Err: failErr}
			return
		}
		for chunk := range text {
			m.mu.Lock()
			m.synthesized[idx] += chunk
			m.mu.Unlock()
			select {
			case events <- SynthesisEvent{Type: SynthesisAudio, Audio: []byte(chunk), SampleRate: 22050}:
			case <-ctx.Done():
				return
			}
		}
		events <- SynthesisEvent{Type: SynthesisFinal}
	}()
	return events, nil
}

// MockRoom is an in-memory RoomSession.
type MockRoom struct {
	mu           sync.Mutex
	participants []string
	input        chan AudioFrame
	done         chan struct{}
	published    [][]byte
	closed       bool
}

func NewMockRoom(participants ...string) *MockRoom {
	return &MockRoom{
		participants: participants,
		input:        make(chan AudioFrame, 64),
		done:         make(chan struct{}),
	}
}

func (r *MockRoom) RemoteParticipants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.participants))
	copy(out, r.participants)
	return out
}

func (r *MockRoom) AudioInput() <-chan AudioFrame { return r.input }

func (r *MockRoom) PublishAudio(_ context.Context, frame AudioFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, frame.Data)
	return nil
}

// Published returns every audio chunk played into the room.
func (r *MockRoom) Published() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.published))
	copy(out, r.published)
	return out
}

func (r *MockRoom) Done() <-chan struct{} { return r.done }

// Drain simulates the last participant leaving.
func (r *MockRoom) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
}

func (r *MockRoom) Close() error {
	r.Drain()
	return nil
}
