package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	lkproto "github.com/livekit/protocol/livekit"

	"github.com/room4-2/roomagent/config"
	"github.com/room4-2/roomagent/messages"
	"github.com/room4-2/roomagent/session"
)

// WebhookReceiver verifies and decodes LiveKit webhooks.
type WebhookReceiver interface {
	Receive(r *http.Request) (*lkproto.WebhookEvent, error)
}

type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	jobs       *session.Manager
	webhooks   WebhookReceiver
	config     *config.Config
}

func NewServer(cfg *config.Config, jobs *session.Manager, webhooks WebhookReceiver) *Server {
	s := &Server{
		jobs:     jobs,
		webhooks: webhooks,
		config:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4 * 1024,
			WriteBufferSize:   16 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the routes of the worker.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/jobs", s.handleJobs)
	return mux
}

// Start begins listening for connections
func (s *Server) Start() error {
	log.Printf("🚀 Agent worker listening on port %d", s.config.Port)
	log.Printf("📡 Transcript stream: ws://localhost:%d/ws?room=<name>", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and every running job
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down server...")
	err := s.httpServer.Shutdown(ctx)
	s.jobs.Shutdown()
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	room := r.URL.Query().Get("room")
	sub := s.jobs.Hub().Subscribe(room)
	client := newSubscriber(conn, sub)

	log.Printf("✅ Subscriber connected (room=%q)", room)
	client.queueMessage(messages.NewStatusMessage("", room, messages.StatusConnected, "Subscribed to agent events"))
	client.Start()

	// Wait for subscriber to go away
	<-client.CloseChan
	log.Printf("🔌 Subscriber closed (room=%q)", room)
}
