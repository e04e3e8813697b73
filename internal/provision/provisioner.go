// Package provision creates ephemeral rooms and mints scoped access
// credentials for exactly one participant per room. Failures are surfaced
// once, never retried: room creation and token signing are not idempotent and
// a blind retry could leave duplicate rooms behind.
package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/mbertolini/voicetwin/internal/config"
)

const (
	roomNamePrefix = "voice-clone-demo-"
	// One human participant plus the agent.
	roomMaxParticipants = 2
	// Room is reclaimed by the transport service this long after the last
	// participant leaves.
	roomDepartureTimeout = 60 * time.Second
)

// RoomService is the remote room API consumed by the provisioner. It is
// satisfied by lksdk.RoomServiceClient and by test fakes.
type RoomService interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
}

// ProvisionError wraps a remote room-creation or listing failure.
type ProvisionError struct {
	Op  string
	Err error
}

func (e *ProvisionError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ProvisionError) Unwrap() error { return e.Err }

// CredentialError wraps a token-signing failure.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string { return fmt.Sprintf("generate token: %v", e.Err) }
func (e *CredentialError) Unwrap() error { return e.Err }

// Grant is the credential bundle a client needs to join its room.
type Grant struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"room_name"`
}

// RoomInfo is a read-only room listing entry.
type RoomInfo struct {
	Name         string `json:"name"`
	Participants uint32 `json:"participants"`
	CreatedAt    int64  `json:"created_at"`
}

// Provisioner creates rooms and mints access tokens against one transport
// deployment.
type Provisioner struct {
	livekit config.LiveKitSettings
	service RoomService
}

// New builds a provisioner talking to the real room service.
func New(cfg config.LiveKitSettings) *Provisioner {
	return &Provisioner{
		livekit: cfg,
		service: lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
	}
}

// NewWithService injects a RoomService, used by tests and by callers that
// share a client.
func NewWithService(cfg config.LiveKitSettings, svc RoomService) *Provisioner {
	return &Provisioner{livekit: cfg, service: svc}
}

// NewRoomName generates a unique room name for one conversation.
func NewRoomName() string {
	return roomNamePrefix + uuid.NewString()[:8]
}

// Provision creates a fresh room and mints a token scoping the participant to
// it. Credentials are validated before any remote call.
func (p *Provisioner) Provision(ctx context.Context, participant string) (Grant, error) {
	if err := p.requireConfigured(); err != nil {
		return Grant{}, err
	}

	roomName := NewRoomName()
	room, err := p.service.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:             roomName,
		MaxParticipants:  roomMaxParticipants,
		DepartureTimeout: uint32(roomDepartureTimeout / time.Second),
	})
	if err != nil {
		return Grant{}, &ProvisionError{Op: "create room", Err: err}
	}
	// The service may normalize the requested name; trust its answer.
	if room.GetName() != "" {
		roomName = room.GetName()
	}

	token, err := p.mintToken(participant, roomName)
	if err != nil {
		return Grant{}, &CredentialError{Err: err}
	}
	return Grant{Token: token, URL: p.livekit.URL, RoomName: roomName}, nil
}

// ListRooms enumerates live rooms for observability. Read-only, no side
// effects, same fail-fast rule as Provision.
func (p *Provisioner) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	if err := p.requireConfigured(); err != nil {
		return nil, err
	}
	resp, err := p.service.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, &ProvisionError{Op: "list rooms", Err: err}
	}
	rooms := make([]RoomInfo, 0, len(resp.GetRooms()))
	for _, room := range resp.GetRooms() {
		rooms = append(rooms, RoomInfo{
			Name:         room.GetName(),
			Participants: room.GetNumParticipants(),
			CreatedAt:    room.GetCreationTime(),
		})
	}
	return rooms, nil
}

func (p *Provisioner) requireConfigured() error {
	return config.Settings{LiveKit: p.livekit}.RequireLiveKit()
}

func (p *Provisioner) mintToken(participant, roomName string) (string, error) {
	canPublish := true
	canSubscribe := true
	at := auth.NewAccessToken(p.livekit.APIKey, p.livekit.APISecret)
	at.SetIdentity(participant).
		SetName(participant).
		SetVideoGrant(&auth.VideoGrant{
			Room:         roomName,
			RoomJoin:     true,
			CanPublish:   &canPublish,
			CanSubscribe: &canSubscribe,
		})
	return at.ToJWT()
}
