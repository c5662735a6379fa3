package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAssignsFreshIdentity(t *testing.T) {
	before := time.Now().UnixMilli()

	a, err := Encode(TypeSubmitVote, map[string]string{"value": "5"})
	require.NoError(t, err)
	b, err := Encode(TypeSubmitVote, map[string]string{"value": "5"})
	require.NoError(t, err)

	assert.Equal(t, TypeSubmitVote, a.MessageType)
	assert.Equal(t, SchemaVersion, a.SchemaVersion)
	assert.NotEmpty(t, a.CorrelationID)
	assert.NotEqual(t, a.CorrelationID, b.CorrelationID, "correlation ids must be unique per operation")
	assert.GreaterOrEqual(t, a.Timestamp, before)
}

func TestEncodeWithKeepsCorrelationID(t *testing.T) {
	env, err := EncodeWith(TypeAck, "corr-123", Ack{CorrelationID: "corr-123"})
	require.NoError(t, err)
	assert.Equal(t, "corr-123", env.CorrelationID)
}

func TestRoundTrip(t *testing.T) {
	env, err := Encode(TypeResyncRequest, ResyncRequest{SessionID: "s1"})
	require.NoError(t, err)

	data, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env.MessageType, decoded.MessageType)
	assert.Equal(t, env.CorrelationID, decoded.CorrelationID)

	var req ResyncRequest
	require.NoError(t, decoded.DecodePayload(&req))
	assert.Equal(t, "s1", req.SessionID)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "not json", data: []byte("{nope"), want: ErrMalformedPayload},
		{name: "missing message type", data: []byte(`{"correlation_id":"x","schema_version":1,"payload":{}}`), want: ErrMalformedPayload},
		{name: "missing correlation id", data: []byte(`{"message_type":"ack","schema_version":1,"payload":{}}`), want: ErrMalformedPayload},
		{name: "future schema version", data: []byte(`{"message_type":"ack","correlation_id":"x","schema_version":99,"payload":{}}`), want: ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeAcceptsOlderVersions(t *testing.T) {
	_, err := Decode([]byte(`{"message_type":"ack","correlation_id":"x","schema_version":0,"payload":{}}`))
	assert.NoError(t, err)
}
