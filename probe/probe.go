// Package probe checks that a LiveKit server is reachable with the
// configured credentials by listing its rooms.
package probe

import (
	"context"
	"fmt"
	"io"
	"strings"

	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// Fallbacks used when neither an argument nor the environment supplies a value.
const (
	DefaultURL       = "http://localhost:7880"
	DefaultAPIKey    = "devkey"
	DefaultAPISecret = "secret"
)

// RoomLister is the part of the room service the probe calls.
type RoomLister interface {
	ListRooms(ctx context.Context, req *lkproto.ListRoomsRequest) (*lkproto.ListRoomsResponse, error)
}

// ClientFunc builds a room service client for an HTTP(S) URL.
type ClientFunc func(url, apiKey, apiSecret string) RoomLister

// NewRoomServiceClient is the production ClientFunc.
func NewRoomServiceClient(url, apiKey, apiSecret string) RoomLister {
	return lksdk.NewRoomServiceClient(url, apiKey, apiSecret)
}

// Options configures one probe run.
type Options struct {
	URL       string
	APIKey    string
	APISecret string
	Out       io.Writer
	NewClient ClientFunc
}

// ResolveOptions picks the URL from override, then LIVEKIT_URL, then the
// loopback default. Credentials fall back to the dev server's defaults.
func ResolveOptions(override string, getenv func(string) string, out io.Writer) Options {
	opts := Options{
		URL:       firstNonEmpty(override, getenv("LIVEKIT_URL"), DefaultURL),
		APIKey:    firstNonEmpty(getenv("LIVEKIT_API_KEY"), DefaultAPIKey),
		APISecret: firstNonEmpty(getenv("LIVEKIT_API_SECRET"), DefaultAPISecret),
		Out:       out,
		NewClient: NewRoomServiceClient,
	}
	return opts
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// NormalizeURL maps ws:// to http:// and wss:// to https://. Other schemes
// are returned unchanged.
func NormalizeURL(url string) string {
	switch {
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	default:
		return url
	}
}

// TestConnection lists rooms on the server and reports the outcome on
// opts.Out. It returns true only when the call succeeded. Errors and panics
// from the client are reported and turned into false.
func TestConnection(ctx context.Context, opts Options) (ok bool) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	newClient := opts.NewClient
	if newClient == nil {
		newClient = NewRoomServiceClient
	}

	apiURL := NormalizeURL(opts.URL)
	fmt.Fprintf(out, "Testing connection to LiveKit server at: %s\n", apiURL)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(out, "✗ Failed to connect to LiveKit server: %v\n", r)
			ok = false
		}
	}()

	resp, err := newClient(apiURL, opts.APIKey, opts.APISecret).ListRooms(ctx, &lkproto.ListRoomsRequest{})
	if err != nil {
		fmt.Fprintf(out, "✗ Failed to connect to LiveKit server: %v\n", err)
		return false
	}

	fmt.Fprintln(out, "✓ Successfully connected to LiveKit server")
	fmt.Fprintf(out, "  - Number of rooms: %d\n", len(resp.GetRooms()))
	return true
}
