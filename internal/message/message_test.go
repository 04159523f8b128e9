package message_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travigo/transitcore/internal/message"
)

func TestNewPositionConvertsVelocityToKmh(t *testing.T) {
	at := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	pos := message.NewPosition(1011, 10.5, 20.5, 10, at)

	body, err := pos.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "position", decoded["type"])
	assert.Equal(t, float64(1011), decoded["rt_id"])
	assert.InDelta(t, 36.0, decoded["vel"], 0.001)
	assert.Equal(t, "20260304120000", decoded["upd"])
}

func TestNewCloseMarshalsFixedPlaceholderFields(t *testing.T) {
	at := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	c := message.NewClose(1011, 1, 2, at)

	body, err := c.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "close", decoded["type"])
	assert.Equal(t, "-", decoded["stop_code"])
	assert.Equal(t, "0", decoded["pass"])
}

func TestNewEstaInfoNeverSerializesNilStops(t *testing.T) {
	at := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	esta := message.NewEstaInfo(1011, nil, 1, 2, 5, at)

	body, err := esta.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"stops":[]`)
}

func TestCompactTimestampAndClockTimeFormats(t *testing.T) {
	at := time.Date(2026, 3, 4, 13, 5, 9, 0, time.UTC)
	assert.Equal(t, "20260304130509", message.CompactTimestamp(at))
	assert.Equal(t, "130509", message.ClockTime(at))
}
