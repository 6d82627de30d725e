package messages

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTranscript(t *testing.T) {
	data, err := Encode(NewTranscriptMessage("job-1", "lobby", "alice", "user", "hello"))
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, sonic.Unmarshal(data, &got))
	assert.Equal(t, TypeTranscript, got["type"])
	assert.Equal(t, "lobby", got["room"])

	payload := got["payload"].(map[string]interface{})
	assert.Equal(t, "alice", payload["participant"])
	assert.Equal(t, "hello", payload["text"])
	assert.Equal(t, true, payload["final"])
}

func TestStatusOmitsEmptyMessage(t *testing.T) {
	data, err := Encode(NewStatusMessage("", "", StatusPong, ""))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"message"`)
	assert.NotContains(t, string(data), `"jobId"`)
}

func TestDecodeClientMessage(t *testing.T) {
	msg, ctrl, err := DecodeClientMessage([]byte(`{"type":"control","payload":{"action":"ping"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeControl, msg.Type)
	require.NotNil(t, ctrl)
	assert.Equal(t, ActionPing, ctrl.Action)

	msg, ctrl, err = DecodeClientMessage([]byte(`{"type":"other"}`))
	require.NoError(t, err)
	assert.Equal(t, "other", msg.Type)
	assert.Nil(t, ctrl)

	_, _, err = DecodeClientMessage([]byte(`not json`))
	assert.Error(t, err)
}
