package realtime

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"progress_update","audio_id":7,"progress":55}`))
	require.NoError(t, err)

	assert.Equal(t, "progress_update", env.Type)
	assert.Equal(t, Fields{"audio_id": float64(7), "progress": float64(55)}, env.Fields)
	assert.Equal(t, Fields{
		"type":     "progress_update",
		"audio_id": float64(7),
		"progress": float64(55),
	}, env.Full())
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	for name, frame := range map[string]string{
		"not json":        `garbage`,
		"not an object":   `[1,2,3]`,
		"missing type":    `{"audio_id":7}`,
		"non-string type": `{"type":42}`,
		"empty type":      `{"type":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(frame))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedFrame))
		})
	}
}

func TestEnvelopeEncode(t *testing.T) {
	frame, err := NewEnvelope("get_progress", Fields{"audio_id": 9}).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"get_progress","audio_id":9}`, string(frame))

	// A nil field map encodes to just the type.
	frame, err = NewEnvelope(MessageTypePing, nil).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(frame))
}

func TestProgressUpdateRoundTrip(t *testing.T) {
	update := ProgressUpdate{AudioID: 3, Status: StatusCompleted, Progress: 100}

	frame, err := update.Envelope().Encode()
	require.NoError(t, err)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	require.Equal(t, MessageTypeProgressUpdate, env.Type)

	decoded, err := progressUpdateFromFields(env.Fields)
	require.NoError(t, err)
	assert.Equal(t, update, decoded)
}

func TestAudioStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
