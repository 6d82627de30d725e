package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/room4-2/roomagent/livekit"
	"github.com/room4-2/roomagent/session"
)

// TokenResponse is returned by /token.
type TokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
	Room  string `json:"room"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","jobs":%d}`, s.jobs.GetActiveJobCount())
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, s.jobs.Jobs())
}

// handleToken mints a join token so a browser client can enter the room the
// agent serves.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	agent := s.config.Agent
	if !agent.HasLiveKitCredentials() {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "LIVEKIT_API_KEY and LIVEKIT_API_SECRET must be set"})
		return
	}

	room := r.URL.Query().Get("room")
	if room == "" {
		room = agent.RoomName
	}
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = fmt.Sprintf("participant-%d", time.Now().UnixMilli())
	}

	token, err := livekit.NewJoinToken(agent.APIKey, agent.APISecret, room, identity, s.config.TokenTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: token, URL: agent.LiveKitURL, Room: room})
}

// handleWebhook dispatches a job when a room starts or a human joins one,
// and stops it when the room finishes.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	event, err := s.webhooks.Receive(r)
	if err != nil {
		log.Printf("⚠️ Rejected webhook: %v", err)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	room := event.GetRoom().GetName()
	switch event.GetEvent() {
	case livekit.EventRoomStarted:
	case livekit.EventParticipantJoined:
		if livekit.IsAgent(event.GetParticipant()) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	case livekit.EventRoomFinished:
		if err := s.jobs.CancelRoom(room); err == nil {
			log.Printf("🏁 Room %s finished, stopping its job", room)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log.Printf("📨 Webhook %s for room %s", event.GetEvent(), room)
	job, err := s.jobs.Dispatch(context.Background(), room)
	switch {
	case errors.Is(err, session.ErrRoomBusy):
		w.WriteHeader(http.StatusNoContent)
	case err != nil:
		log.Printf("❌ Failed to dispatch job for room %s: %v", room, err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusAccepted, job.Info())
	}
}
