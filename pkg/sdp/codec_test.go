package sdp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_session/pkg/sdp"
)

// TestCodecSetParamLastWriteWins проверяет, что повторная запись параметра
// заменяет значение, сохраняя исходный порядок вставки
func TestCodecSetParamLastWriteWins(t *testing.T) {
	c := sdp.Codec{ID: 96, Name: "opus", ClockRate: 48000, Channels: 2}
	c.SetParam("maxplaybackrate", "16000")
	c.SetParam("useinbandfec", "1")
	c.SetParam("maxplaybackrate", "48000")

	require.Len(t, c.Params, 2)
	assert.Equal(t, "maxplaybackrate", c.Params[0].Name, "Insertion order must be preserved")
	assert.Equal(t, "48000", c.Params[0].Value, "Last write must win")

	v, ok := c.GetParam("useinbandfec")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

// TestCodecClone проверяет независимость параметров копии
func TestCodecClone(t *testing.T) {
	c := sdp.Codec{ID: 96, Name: "opus", ClockRate: 48000}
	c.SetParam("useinbandfec", "1")

	clone := c.Clone()
	clone.SetParam("useinbandfec", "0")

	v, _ := c.GetParam("useinbandfec")
	assert.Equal(t, "1", v, "Clone mutation must not affect the original")
}

// TestIntersectStaticByNumber проверяет сопоставление статических
// payload types по номеру
func TestIntersectStaticByNumber(t *testing.T) {
	local := []sdp.Codec{
		{ID: 8, Name: "PCMA", ClockRate: 8000},
		{ID: 0, Name: "PCMU", ClockRate: 8000},
	}
	remote := []sdp.Codec{
		{ID: 0, Name: "PCMU", ClockRate: 8000},
		{ID: 18, Name: "G729", ClockRate: 8000},
	}

	got := sdp.Intersect(local, remote)
	require.Len(t, got, 1)
	assert.Equal(t, uint8(0), got[0].ID)
}

// TestIntersectDynamicByName проверяет сопоставление динамических кодеков
// по имени/частоте/каналам и использование payload type оферента
func TestIntersectDynamicByName(t *testing.T) {
	local := []sdp.Codec{
		{ID: 96, Name: "opus", ClockRate: 48000, Channels: 2},
		{ID: 97, Name: "telephone-event", ClockRate: 8000},
	}
	remote := []sdp.Codec{
		{ID: 111, Name: "OPUS", ClockRate: 48000, Channels: 2},
		{ID: 101, Name: "telephone-event", ClockRate: 8000},
	}

	got := sdp.Intersect(local, remote)
	require.Len(t, got, 2)
	assert.Equal(t, uint8(111), got[0].ID, "Answer must reuse the offerer's payload type")
	assert.Equal(t, uint8(101), got[1].ID)
}

// TestIntersectPreservesLocalPreference проверяет порядок результата
// по локальному списку предпочтений
func TestIntersectPreservesLocalPreference(t *testing.T) {
	local := []sdp.Codec{
		{ID: 8, Name: "PCMA", ClockRate: 8000},
		{ID: 0, Name: "PCMU", ClockRate: 8000},
	}
	remote := []sdp.Codec{
		{ID: 0, Name: "PCMU", ClockRate: 8000},
		{ID: 8, Name: "PCMA", ClockRate: 8000},
	}

	got := sdp.Intersect(local, remote)
	require.Len(t, got, 2)
	assert.Equal(t, "PCMA", got[0].Name, "Local preference order must be preserved")
	assert.Equal(t, "PCMU", got[1].Name)
}

// TestIntersectEmpty проверяет пустое пересечение несовместимых списков
func TestIntersectEmpty(t *testing.T) {
	local := []sdp.Codec{{ID: 0, Name: "PCMU", ClockRate: 8000}}
	remote := []sdp.Codec{{ID: 18, Name: "G729", ClockRate: 8000}}

	assert.Empty(t, sdp.Intersect(local, remote))
}

// TestParseDirection проверяет разбор атрибутов направления
func TestParseDirection(t *testing.T) {
	cases := []struct {
		attr string
		want sdp.Direction
	}{
		{"sendrecv", sdp.DirectionSendRecv},
		{"sendonly", sdp.DirectionSend},
		{"recvonly", sdp.DirectionRecv},
		{"inactive", sdp.DirectionNone},
	}
	for _, tc := range cases {
		got, ok := sdp.ParseDirection(tc.attr)
		require.True(t, ok, tc.attr)
		assert.Equal(t, tc.want, got, tc.attr)
	}

	_, ok := sdp.ParseDirection("ptime")
	assert.False(t, ok, "Non-direction attribute must not parse")
}
