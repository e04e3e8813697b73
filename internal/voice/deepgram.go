package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

type DeepgramConfig struct {
	APIKey     string
	WSBaseURL  string
	Model      string
	SampleRate int
}

// DeepgramSTT streams PCM audio to the Deepgram realtime endpoint and turns
// its results into speech events.
type DeepgramSTT struct {
	cfg DeepgramConfig
}

func NewDeepgramSTT(cfg DeepgramConfig) *DeepgramSTT {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.deepgram.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "nova-2"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &DeepgramSTT{cfg: cfg}
}

func (d *DeepgramSTT) Transcribe(ctx context.Context, frames <-chan AudioFrame) (<-chan SpeechEvent, error) {
	u, err := url.Parse(strings.TrimRight(d.cfg.WSBaseURL, "/") + "/v1/listen")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("endpointing", "300")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial stt websocket: %w", err)
	}

	events := make(chan SpeechEvent, 256)
	s := &deepgramSession{conn: conn, events: events, readDone: make(chan struct{})}
	go s.writeLoop(ctx, frames)
	go s.readLoop(ctx)
	// The write loop stops watching ctx once the input stream ends, so the
	// connection needs its own watcher to come down on cancellation.
	go func() {
		select {
		case <-ctx.Done():
			s.closeConn()
		case <-s.readDone:
		}
	}()
	return events, nil
}

type deepgramSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan SpeechEvent
	readDone  chan struct{}
}

func (s *deepgramSession) writeLoop(ctx context.Context, frames <-chan AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			s.closeConn()
			return
		case frame, ok := <-frames:
			if !ok {
				// Ask the server to finalize; the read loop exits when the
				// connection closes.
				s.writeMu.Lock()
				_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
				s.writeMu.Unlock()
				return
			}
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Data)
			s.writeMu.Unlock()
			if err != nil {
				s.closeConn()
				return
			}
		}
	}
}

type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Error       string `json:"error"`
	Description string `json:"description"`
}

// readLoop owns the event channel: it is the only closer, so a racing writer
// shutdown can never close it under a pending send.
func (s *deepgramSession) readLoop(ctx context.Context) {
	defer close(s.readDone)
	defer close(s.events)
	defer s.closeConn()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var res deepgramResult
		if err := json.Unmarshal(data, &res); err != nil {
			log.Printf("stt: dropping malformed recognition payload: %v", err)
			continue
		}
		switch res.Type {
		case "Results":
			if len(res.Channel.Alternatives) == 0 {
				continue
			}
			alt := res.Channel.Alternatives[0]
			if strings.TrimSpace(alt.Transcript) == "" {
				continue
			}
			ev := SpeechEvent{Type: SpeechInterim, Text: alt.Transcript, Confidence: alt.Confidence}
			if res.IsFinal {
				ev.Type = SpeechFinal
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		case "Metadata", "UtteranceEnd", "SpeechStarted":
			// Control events carry no transcript.
		case "Error":
			select {
			case s.events <- SpeechEvent{Type: SpeechError, Err: fmt.Errorf("deepgram: %s", res.Description)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *deepgramSession) closeConn() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
