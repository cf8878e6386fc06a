package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_WireFormat(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	env, err := NewEnvelope(TypeDeviceStatus, map[string]int{"battery": 50}, now)
	require.NoError(t, err)

	frame, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"device_status","data":{"battery":50},"timestamp":"2026-03-01T12:00:00Z"}`, string(frame))
}

func TestNewEnvelope_NilPayloadOmitsData(t *testing.T) {
	env, err := NewEnvelope(TypeHeartbeat, nil, time.Unix(0, 0))
	require.NoError(t, err)

	frame, err := env.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(frame), `"data"`)
}

func TestNewEnvelope_RawPayloadPassedThrough(t *testing.T) {
	raw := json.RawMessage(`{"cpu":0.93}`)
	env, err := NewEnvelope(TypeLiveMetrics, raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, raw, env.Data)
}

func TestNewEnvelope_UnmarshalablePayload(t *testing.T) {
	_, err := NewEnvelope(TypeNotification, make(chan int), time.Now())
	require.Error(t, err)
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
		want    MessageType
	}{
		{"valid", `{"type":"heartbeat","timestamp":"2026-01-01T00:00:00Z"}`, false, TypeHeartbeat},
		{"no timestamp", `{"type":"subscription","data":{"topic":"a"}}`, false, TypeSubscription},
		{"not json", `hello`, true, ""},
		{"missing type", `{"data":{}}`, true, ""},
		{"blank type", `{"type":"  "}`, true, ""},
		{"bad timestamp", `{"type":"heartbeat","timestamp":"yesterday"}`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.frame))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedEnvelope))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.Type)
		})
	}
}

func TestDecodeTopic(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{"topic", `{"topic":"device_42"}`, "device_42", false},
		{"trimmed", `{"topic":"  device_42 "}`, "device_42", false},
		{"empty", `{"topic":""}`, "", true},
		{"missing", `{}`, "", true},
		{"no data", ``, "", true},
		{"wrong shape", `["device_42"]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Envelope{Type: TypeSubscription}
			if tt.data != "" {
				env.Data = json.RawMessage(tt.data)
			}
			topic, err := DecodeTopic(env)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopic)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, topic)
		})
	}
}

func TestMessageTypeClassification(t *testing.T) {
	assert.True(t, TypeHeartbeat.IsControl())
	assert.True(t, TypeSubscription.IsControl())
	assert.False(t, TypeSubscription.IsDomain())
	assert.True(t, TypeSecurityAlert.IsDomain())
	assert.False(t, TypeSecurityAlert.IsControl())
	assert.False(t, MessageType("bogus").IsDomain())
}

func TestTargetValidate(t *testing.T) {
	assert.NoError(t, All().Validate())
	assert.NoError(t, Topic("device_42").Validate())
	assert.NoError(t, ForIdentity("alice").Validate())
	assert.Error(t, Topic("").Validate())
	assert.Error(t, ForIdentity("").Validate())
	assert.Error(t, Target{Kind: "everyone"}.Validate())

	assert.Equal(t, "all", All().String())
	assert.Equal(t, "topic:device_42", Topic("device_42").String())
}
