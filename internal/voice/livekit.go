package voice

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	webrtcmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	// Browsers negotiate Opus at 48 kHz; decoded input is downsampled to the
	// recognition rate and published audio is upsampled back.
	trackSampleRate = 48000
)

type LiveKitRoomConfig struct {
	URL       string
	APIKey    string
	APISecret string
	RoomName  string
	Identity  string
	// InputSampleRate is the PCM rate handed to the recognition stage.
	InputSampleRate int
}

// LiveKitRoom joins a room as the agent, decodes remote microphone audio into
// PCM frames, and publishes synthesized audio on an Opus sample track.
type LiveKitRoom struct {
	cfg      LiveKitRoomConfig
	room     *lksdk.Room
	provider *sampleQueue

	input chan AudioFrame
	done  chan struct{}

	mu        sync.Mutex
	closeOnce sync.Once
}

// JoinRoom connects to the room and publishes the agent voice track.
func JoinRoom(_ context.Context, cfg LiveKitRoomConfig) (*LiveKitRoom, error) {
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = 16000
	}
	r := &LiveKitRoom{
		cfg:      cfg,
		provider: newSampleQueue(),
		input:    make(chan AudioFrame, 256),
		done:     make(chan struct{}),
	}

	callback := &lksdk.RoomCallback{
		OnDisconnected: r.signalDone,
		OnParticipantDisconnected: func(_ *lksdk.RemoteParticipant) {
			r.mu.Lock()
			room := r.room
			r.mu.Unlock()
			if room != nil && len(room.GetRemoteParticipants()) == 0 {
				log.Printf("room %s: last participant left", cfg.RoomName)
				r.signalDone()
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if pub.Kind() != lksdk.TrackKindAudio || rp.Identity() == cfg.Identity {
					return
				}
				if pub.Source() == livekit.TrackSource_MICROPHONE {
					if err := pub.SetSubscribed(true); err != nil {
						log.Printf("room %s: subscribe to %s failed: %v", cfg.RoomName, rp.Identity(), err)
					}
				}
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() == webrtc.RTPCodecTypeAudio {
					go r.readTrack(track, rp.Identity())
				}
			},
		},
	}

	room, err := lksdk.ConnectToRoom(cfg.URL, lksdk.ConnectInfo{
		APIKey:              cfg.APIKey,
		APISecret:           cfg.APISecret,
		RoomName:            cfg.RoomName,
		ParticipantIdentity: cfg.Identity,
		ParticipantName:     cfg.Identity,
	}, callback)
	if err != nil {
		return nil, fmt.Errorf("connect to room: %w", err)
	}
	r.mu.Lock()
	r.room = room
	r.mu.Unlock()

	if err := r.publishVoiceTrack(room); err != nil {
		room.Disconnect()
		return nil, err
	}
	return r, nil
}

func (r *LiveKitRoom) publishVoiceTrack(room *lksdk.Room) error {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus})
	if err != nil {
		return fmt.Errorf("create voice track: %w", err)
	}
	if err := track.StartWrite(r.provider, func() {}); err != nil {
		return fmt.Errorf("start voice track: %w", err)
	}
	_, err = room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "agent-voice",
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		return fmt.Errorf("publish voice track: %w", err)
	}
	return nil
}

func (r *LiveKitRoom) RemoteParticipants() []string {
	r.mu.Lock()
	room := r.room
	r.mu.Unlock()
	if room == nil {
		return nil
	}
	participants := room.GetRemoteParticipants()
	identities := make([]string, 0, len(participants))
	for _, p := range participants {
		identities = append(identities, p.Identity())
	}
	return identities
}

func (r *LiveKitRoom) AudioInput() <-chan AudioFrame { return r.input }

// PublishAudio queues one PCM chunk onto the voice track, upsampling to the
// track rate.
func (r *LiveKitRoom) PublishAudio(ctx context.Context, frame AudioFrame) error {
	if len(frame.Data) == 0 {
		return nil
	}
	rate := frame.SampleRate
	if rate <= 0 {
		rate = r.cfg.InputSampleRate
	}
	data := resamplePCM16(frame.Data, rate, trackSampleRate)
	return r.provider.queue(ctx, data)
}

func (r *LiveKitRoom) Done() <-chan struct{} { return r.done }

func (r *LiveKitRoom) Close() error {
	r.signalDone()
	r.mu.Lock()
	room := r.room
	r.mu.Unlock()
	if room != nil {
		room.Disconnect()
	}
	r.provider.close()
	return nil
}

func (r *LiveKitRoom) signalDone() {
	r.closeOnce.Do(func() { close(r.done) })
}

// readTrack decodes the remote Opus stream to PCM and feeds the recognition
// input until the track or the session ends.
func (r *LiveKitRoom) readTrack(track *webrtc.TrackRemote, identity string) {
	decoder, err := opus.NewDecoder(trackSampleRate, 1)
	if err != nil {
		log.Printf("room %s: opus decoder for %s: %v", r.cfg.RoomName, identity, err)
		return
	}
	pcm := make([]int16, 5760)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				log.Printf("room %s: audio track from %s ended: %v", r.cfg.RoomName, identity, err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil || n == 0 {
			continue
		}
		data := make([]byte, n*2)
		for i := 0; i < n; i++ {
			data[i*2] = byte(pcm[i])
			data[i*2+1] = byte(pcm[i] >> 8)
		}
		data = resamplePCM16(data, trackSampleRate, r.cfg.InputSampleRate)
		select {
		case r.input <- AudioFrame{Data: data, SampleRate: r.cfg.InputSampleRate}:
		case <-r.done:
			return
		}
	}
}

// sampleQueue adapts queued PCM chunks to the lksdk sample provider contract.
// The samples channel is never closed; shutdown is signalled on done so a
// racing queue call cannot send on a closed channel.
type sampleQueue struct {
	samples   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSampleQueue() *sampleQueue {
	return &sampleQueue{
		samples: make(chan []byte, 128),
		done:    make(chan struct{}),
	}
}

func (q *sampleQueue) queue(ctx context.Context, data []byte) error {
	select {
	case q.samples <- data:
		return nil
	case <-q.done:
		return fmt.Errorf("voice track closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *sampleQueue) NextSample(ctx context.Context) (webrtcmedia.Sample, error) {
	select {
	case <-ctx.Done():
		return webrtcmedia.Sample{}, ctx.Err()
	case <-q.done:
		return webrtcmedia.Sample{}, io.EOF
	case data := <-q.samples:
		samples := len(data) / 2
		return webrtcmedia.Sample{
			Data:     data,
			Duration: time.Duration(samples) * time.Second / trackSampleRate,
		}, nil
	}
}

func (q *sampleQueue) OnBind() error   { return nil }
func (q *sampleQueue) OnUnbind() error { return nil }

func (q *sampleQueue) Close() error {
	q.close()
	return nil
}

func (q *sampleQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// resamplePCM16 does nearest-sample rate conversion on 16-bit mono PCM.
// Transport plumbing only; synthesis quality is the provider's job.
func resamplePCM16(data []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return data
	}
	samples := len(data) / 2
	ratio := float64(toRate) / float64(fromRate)
	outSamples := int(float64(samples) * ratio)
	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		src := int(float64(i) / ratio)
		if src >= samples {
			src = samples - 1
		}
		out[i*2] = data[src*2]
		out[i*2+1] = data[src*2+1]
	}
	return out
}
