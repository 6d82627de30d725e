package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/roomagent/config"
	"github.com/room4-2/roomagent/messages"
	"github.com/room4-2/roomagent/relay"
	"github.com/room4-2/roomagent/session"
)

// idleRunner keeps every job alive until it is cancelled.
type idleRunner struct{}

func (idleRunner) Run(ctx context.Context, _ relay.Job) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeWebhooks struct {
	event *lkproto.WebhookEvent
	err   error
}

func (f *fakeWebhooks) Receive(*http.Request) (*lkproto.WebhookEvent, error) {
	return f.event, f.err
}

func newTestServer(t *testing.T, agent config.AgentConfig, hooks *fakeWebhooks) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := &config.Config{
		Agent:          agent,
		MaxJobs:        5,
		AgentName:      "voice-agent",
		AllowedOrigins: []string{"*"},
		TokenTTL:       time.Hour,
	}
	jobs := session.NewManagerWithRedis(cfg, idleRunner{}, nil)
	srv := httptest.NewServer(NewServer(cfg, jobs, hooks).Handler())
	t.Cleanup(func() {
		srv.Close()
		jobs.Shutdown()
	})
	return srv, jobs
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, v))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, config.AgentConfig{}, &fakeWebhooks{})

	for _, path := range []string{"/health", "/healthz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		decode(t, resp, &body)
		assert.Equal(t, "ok", body["status"])
		assert.EqualValues(t, 0, body["jobs"])
	}
}

func TestTokenRequiresCredentials(t *testing.T) {
	srv, _ := newTestServer(t, config.AgentConfig{}, &fakeWebhooks{})

	resp, err := http.Get(srv.URL + "/token")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Contains(t, body["error"], "LIVEKIT_API_KEY")
}

func TestTokenDefaults(t *testing.T) {
	agent := config.AgentConfig{
		APIKey:     "devkey",
		APISecret:  "a-secret-that-is-long-enough-to-sign",
		RoomName:   "default-room",
		LiveKitURL: "ws://localhost:7880",
	}
	srv, _ := newTestServer(t, agent, &fakeWebhooks{})

	resp, err := http.Get(srv.URL + "/token")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body TokenResponse
	decode(t, resp, &body)
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "default-room", body.Room)
	assert.Equal(t, "ws://localhost:7880", body.URL)

	resp, err = http.Get(srv.URL + "/token?room=lobby&identity=alice")
	require.NoError(t, err)
	decode(t, resp, &body)
	assert.Equal(t, "lobby", body.Room)
}

func TestWebhookDispatch(t *testing.T) {
	hooks := &fakeWebhooks{event: &lkproto.WebhookEvent{
		Event: "room_started",
		Room:  &lkproto.Room{Name: "lobby"},
	}}
	srv, jobs := newTestServer(t, config.AgentConfig{}, hooks)

	resp, err := http.Post(srv.URL+"/webhook", "application/webhook+json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var info session.JobInfo
	decode(t, resp, &info)
	assert.Equal(t, "lobby", info.Room)
	assert.Equal(t, 1, jobs.GetActiveJobCount())

	// A second event for the same room is a no-op.
	resp, err = http.Post(srv.URL+"/webhook", "application/webhook+json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, jobs.GetActiveJobCount())

	hooks.event = &lkproto.WebhookEvent{Event: "room_finished", Room: &lkproto.Room{Name: "lobby"}}
	resp, err = http.Post(srv.URL+"/webhook", "application/webhook+json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Eventually(t, func() bool { return jobs.GetActiveJobCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebhookIgnoresAgentsAndOtherEvents(t *testing.T) {
	hooks := &fakeWebhooks{}
	srv, jobs := newTestServer(t, config.AgentConfig{}, hooks)

	for _, ev := range []*lkproto.WebhookEvent{
		{Event: "participant_joined", Room: &lkproto.Room{Name: "lobby"}, Participant: &lkproto.ParticipantInfo{Kind: lkproto.ParticipantInfo_AGENT}},
		{Event: "track_published", Room: &lkproto.Room{Name: "lobby"}},
	} {
		hooks.event = ev
		resp, err := http.Post(srv.URL+"/webhook", "application/webhook+json", strings.NewReader("{}"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	assert.Zero(t, jobs.GetActiveJobCount())
}

func TestWebhookRejectsInvalid(t *testing.T) {
	srv, _ := newTestServer(t, config.AgentConfig{}, &fakeWebhooks{err: errors.New("invalid signature")})

	resp, err := http.Post(srv.URL+"/webhook", "application/webhook+json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/webhook")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestJobsListing(t *testing.T) {
	srv, jobs := newTestServer(t, config.AgentConfig{}, &fakeWebhooks{})
	_, err := jobs.Dispatch(context.Background(), "lobby")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/jobs")
	require.NoError(t, err)
	var infos []session.JobInfo
	decode(t, resp, &infos)
	require.Len(t, infos, 1)
	assert.Equal(t, "lobby", infos[0].Room)
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, sonic.Unmarshal(data, &msg))
	return msg
}

func TestWebSocketStream(t *testing.T) {
	srv, jobs := newTestServer(t, config.AgentConfig{}, &fakeWebhooks{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room=lobby"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, messages.TypeStatus, msg["type"])
	assert.Equal(t, messages.StatusConnected, msg["payload"].(map[string]interface{})["status"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control","payload":{"action":"ping"}}`)))
	msg = readMessage(t, conn)
	assert.Equal(t, messages.StatusPong, msg["payload"].(map[string]interface{})["status"])

	require.Eventually(t, func() bool { return jobs.Hub().SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)
	jobs.Hub().Publish(messages.NewTranscriptMessage("job", "kitchen", "bob", "user", "ignored"))
	jobs.Hub().Publish(messages.NewTranscriptMessage("job", "lobby", "alice", "user", "hello"))

	msg = readMessage(t, conn)
	assert.Equal(t, messages.TypeTranscript, msg["type"])
	assert.Equal(t, "hello", msg["payload"].(map[string]interface{})["text"])
}
