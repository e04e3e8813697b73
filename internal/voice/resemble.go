package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

type ResembleConfig struct {
	APIKey     string
	VoiceUUID  string
	StreamURL  string
	SampleRate int
}

// ResembleTTS streams text chunks to the Resemble synthesis websocket and
// emits the returned voice-clone audio as PCM chunks. One connection per
// synthesis call; requests within the call are correlated by request_id.
type ResembleTTS struct {
	cfg ResembleConfig
}

func NewResembleTTS(cfg ResembleConfig) *ResembleTTS {
	if strings.TrimSpace(cfg.StreamURL) == "" {
		cfg.StreamURL = "wss://websocket.cluster.resemble.ai/stream"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 22050
	}
	return &ResembleTTS{cfg: cfg}
}

func (r *ResembleTTS) Synthesize(ctx context.Context, text <-chan string) (<-chan SynthesisEvent, error) {
	if strings.TrimSpace(r.cfg.VoiceUUID) == "" {
		return nil, fmt.Errorf("voice uuid is required")
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+r.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.StreamURL, headers)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}

	s := &resembleStream{
		cfg:    r.cfg,
		conn:   conn,
		events: make(chan SynthesisEvent, 256),
	}
	go s.writeLoop(ctx, text)
	go s.readLoop(ctx)
	return s.events, nil
}

type resembleStream struct {
	cfg       ResembleConfig
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once

	mu        sync.Mutex
	pending   int
	inputDone bool

	events chan SynthesisEvent
}

func (s *resembleStream) writeLoop(ctx context.Context, text <-chan string) {
	requestID := 0
	for {
		select {
		case <-ctx.Done():
			s.closeConn()
			return
		case chunk, ok := <-text:
			if !ok {
				s.markInputDone()
				return
			}
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			requestID++
			payload := map[string]any{
				"voice_uuid":      s.cfg.VoiceUUID,
				"data":            chunk,
				"request_id":      requestID,
				"binary_response": false,
				"output_format":   "pcm_16",
				"sample_rate":     s.cfg.SampleRate,
				"no_audio_header": true,
			}
			s.mu.Lock()
			s.pending++
			s.mu.Unlock()
			s.writeMu.Lock()
			err := s.conn.WriteJSON(payload)
			s.writeMu.Unlock()
			if err != nil {
				s.closeConn()
				return
			}
		}
	}
}

type resembleMessage struct {
	Type         string `json:"type"`
	AudioContent string `json:"audio_content"`
	RequestID    int    `json:"request_id"`
	Message      string `json:"message"`
	StatusCode   int    `json:"status_code"`
}

// readLoop owns the event channel. It emits a final event and exits once the
// input is exhausted and every outstanding request has drained.
func (s *resembleStream) readLoop(ctx context.Context) {
	defer close(s.events)
	defer s.closeConn()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg resembleMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "audio":
			audio, err := base64.StdEncoding.DecodeString(msg.AudioContent)
			if err != nil || len(audio) == 0 {
				continue
			}
			select {
			case s.events <- SynthesisEvent{Type: SynthesisAudio, Audio: audio, SampleRate: s.cfg.SampleRate}:
			case <-ctx.Done():
				return
			}
		case "audio_end":
			if s.requestFinished() {
				select {
				case s.events <- SynthesisEvent{Type: SynthesisFinal}:
				case <-ctx.Done():
				}
				return
			}
		case "error":
			select {
			case s.events <- SynthesisEvent{Type: SynthesisError, Err: fmt.Errorf("resemble: %s (status %d)", msg.Message, msg.StatusCode)}:
			case <-ctx.Done():
			}
			return
		}
	}
}

func (s *resembleStream) markInputDone() {
	s.mu.Lock()
	s.inputDone = true
	finished := s.pending == 0
	s.mu.Unlock()
	if finished {
		// Nothing in flight and nothing coming: wake the read loop by
		// closing the connection; it emits no final for an empty call.
		s.closeConn()
	}
}

// requestFinished records one completed request and reports whether the whole
// synthesis call is done.
func (s *resembleStream) requestFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
	}
	return s.inputDone && s.pending == 0
}

func (s *resembleStream) closeConn() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
