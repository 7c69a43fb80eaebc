package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadScanAndValue(t *testing.T) {
	var p Payload
	require.NoError(t, p.Scan([]byte(`{"kg":70}`)))
	assert.Equal(t, `{"kg":70}`, string(p))

	require.NoError(t, p.Scan(`{"bpm":60}`))
	v, err := p.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"bpm":60}`, v)

	require.NoError(t, p.Scan(nil))
	v, err = p.Value()
	require.NoError(t, err)
	assert.Equal(t, "null", v)

	assert.Error(t, p.Scan(42))
}

func TestPayloadScanCopiesBytes(t *testing.T) {
	src := []byte(`{"kg":70}`)
	var p Payload
	require.NoError(t, p.Scan(src))
	src[2] = 'X'
	assert.Equal(t, `{"kg":70}`, string(p))
}

func TestHealthRecordJSON(t *testing.T) {
	observed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := HealthRecord{ID: "r1", Type: "weight", Payload: Payload(`{"kg":70}`), ObservedAt: observed}

	b, err := json.Marshal(rec)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, map[string]interface{}{"kg": float64(70)}, out["payload"])
	assert.Equal(t, "2026-01-02T03:04:05Z", out["observedAt"])
}
