package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mbertolini/voicetwin/internal/config"
	"github.com/mbertolini/voicetwin/internal/observability"
	"github.com/mbertolini/voicetwin/internal/provision"
)

type fakeProvisioner struct {
	grant        provision.Grant
	rooms        []provision.RoomInfo
	provisionErr error
	listErr      error
	lastName     string
}

func (f *fakeProvisioner) Provision(_ context.Context, participant string) (provision.Grant, error) {
	f.lastName = participant
	if f.provisionErr != nil {
		return provision.Grant{}, f.provisionErr
	}
	return f.grant, nil
}

func (f *fakeProvisioner) ListRooms(_ context.Context) ([]provision.RoomInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.rooms, nil
}

func newTestServer(t *testing.T, p Provisioner) *Server {
	t.Helper()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	return New(config.Settings{}, p, metrics)
}

func TestGetTokenRequiresParticipant(t *testing.T) {
	srv := newTestServer(t, &fakeProvisioner{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get-token", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != "missing_participant" {
		t.Fatalf("code = %q, want missing_participant", body.Code)
	}
}

func TestGetTokenReturnsGrant(t *testing.T) {
	fake := &fakeProvisioner{grant: provision.Grant{
		Token:    "jwt-token",
		URL:      "wss://example.livekit.cloud",
		RoomName: "voice-clone-demo-abcd1234",
	}}
	srv := newTestServer(t, fake)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get-token?participant=Alex", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if fake.lastName != "Alex" {
		t.Fatalf("participant passed through = %q, want Alex", fake.lastName)
	}
	var grant provision.Grant
	if err := json.Unmarshal(rec.Body.Bytes(), &grant); err != nil {
		t.Fatalf("decode grant: %v", err)
	}
	if grant.Token != "jwt-token" || grant.RoomName != "voice-clone-demo-abcd1234" {
		t.Fatalf("grant = %+v", grant)
	}
}

func TestGetTokenWithoutCredentialsUsesFixedMessage(t *testing.T) {
	fake := &fakeProvisioner{provisionErr: fmt.Errorf("%w: missing LIVEKIT_API_KEY", config.ErrNotConfigured)}
	srv := newTestServer(t, fake)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get-token?participant=Alex", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "LiveKit credentials not configured" {
		t.Fatalf("error = %q, want the fixed configuration message", body.Error)
	}
}

func TestGetTokenSurfacesProvisionFailure(t *testing.T) {
	fake := &fakeProvisioner{provisionErr: &provision.ProvisionError{Op: "create room", Err: fmt.Errorf("upstream unavailable")}}
	srv := newTestServer(t, fake)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get-token?participant=Alex", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "upstream unavailable") {
		t.Fatalf("body %q does not carry the cause", rec.Body.String())
	}
}

func TestListRooms(t *testing.T) {
	fake := &fakeProvisioner{rooms: []provision.RoomInfo{
		{Name: "voice-clone-demo-aaaa1111", Participants: 2, CreatedAt: 1700000000},
	}}
	srv := newTestServer(t, fake)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Rooms []provision.RoomInfo `json:"rooms"`
		Total int                  `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 1 || len(body.Rooms) != 1 || body.Rooms[0].Name != "voice-clone-demo-aaaa1111" {
		t.Fatalf("body = %+v", body)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeProvisioner{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("status field = %v", body["status"])
	}
	if body["livekit_ready"] != false {
		t.Fatalf("livekit_ready = %v with empty settings", body["livekit_ready"])
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeProvisioner{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/get-token", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
