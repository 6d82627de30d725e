package livekit

import (
	"fmt"
	"net/http"

	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
)

// Webhook event names the worker reacts to
const (
	EventRoomStarted       = "room_started"
	EventParticipantJoined = "participant_joined"
	EventRoomFinished      = "room_finished"
)

// WebhookReceiver verifies and decodes LiveKit webhook requests.
type WebhookReceiver struct {
	keys auth.KeyProvider
}

// NewWebhookReceiver trusts webhooks signed with apiKey/apiSecret.
func NewWebhookReceiver(apiKey, apiSecret string) *WebhookReceiver {
	return &WebhookReceiver{keys: auth.NewSimpleKeyProvider(apiKey, apiSecret)}
}

// Receive checks the request signature and returns the event.
func (w *WebhookReceiver) Receive(r *http.Request) (*lkproto.WebhookEvent, error) {
	event, err := webhook.ReceiveWebhookEvent(r, w.keys)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook: %w", err)
	}
	return event, nil
}

// IsAgent reports whether the participant joined as an agent, so the worker
// does not dispatch itself when its own participant joins.
func IsAgent(p *lkproto.ParticipantInfo) bool {
	return p.GetKind() == lkproto.ParticipantInfo_AGENT
}
