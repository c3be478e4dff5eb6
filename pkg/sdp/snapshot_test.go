package sdp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_session/pkg/sdp"
)

const basicOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 192.0.2.1\r\n" +
	"s=call\r\n" +
	"c=IN IP4 192.0.2.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0 8\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=sendrecv\r\n"

const twoLineOffer = "v=0\r\n" +
	"o=- 1 2 IN IP4 192.0.2.1\r\n" +
	"s=call\r\n" +
	"c=IN IP4 192.0.2.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=sendonly\r\n" +
	"m=video 0 RTP/AVP 96\r\n"

// TestParseSnapshotBasic проверяет разбор описания с одной аудио линией
func TestParseSnapshotBasic(t *testing.T) {
	snap, err := sdp.ParseSnapshot(basicOffer)
	require.NoError(t, err, "Should parse valid SDP")
	require.Equal(t, 1, snap.LineCount())

	line := snap.Line(0)
	require.NotNil(t, line)
	assert.Equal(t, sdp.MediaTypeAudio, line.Type)
	assert.False(t, line.Rejected())
	assert.Equal(t, sdp.DirectionSendRecv, line.Direction)
	require.Len(t, line.Codecs, 2)
	assert.Equal(t, "PCMU", line.Codecs[0].Name)
	assert.Equal(t, uint32(8000), line.Codecs[0].ClockRate)
	assert.Equal(t, "PCMA", line.Codecs[1].Name)
}

// TestParseSnapshotRejectedLine проверяет, что нулевой порт означает
// отклоненную линию
func TestParseSnapshotRejectedLine(t *testing.T) {
	snap, err := sdp.ParseSnapshot(twoLineOffer)
	require.NoError(t, err)
	require.Equal(t, 2, snap.LineCount())

	assert.Equal(t, sdp.DirectionSend, snap.Line(0).Direction)
	assert.True(t, snap.Line(1).Rejected(), "Zero port line should be rejected")
}

// TestParseSnapshotInvalid проверяет отклонение структурно невалидного SDP
func TestParseSnapshotInvalid(t *testing.T) {
	_, err := sdp.ParseSnapshot("not an sdp")
	require.Error(t, err)
	assert.True(t, sdp.IsError(err, sdp.ErrorCodeParsing))
}

// TestSnapshotEqual проверяет структурное сравнение описаний
func TestSnapshotEqual(t *testing.T) {
	a, err := sdp.ParseSnapshot(basicOffer)
	require.NoError(t, err)
	b, err := sdp.ParseSnapshot(basicOffer)
	require.NoError(t, err)
	c, err := sdp.ParseSnapshot(twoLineOffer)
	require.NoError(t, err)

	assert.True(t, sdp.Equal(a, b), "Identical descriptions should be equal")
	assert.False(t, sdp.Equal(a, c), "Different descriptions should not be equal")
}

// TestSnapshotEqualNil проверяет, что nil снимок никогда не равен не-nil
func TestSnapshotEqualNil(t *testing.T) {
	a, err := sdp.ParseSnapshot(basicOffer)
	require.NoError(t, err)

	assert.False(t, sdp.Equal(nil, a))
	assert.False(t, sdp.Equal(a, nil))
	assert.True(t, sdp.Equal(nil, nil))
}

// TestSnapshotClone проверяет, что копия владеет своими данными
func TestSnapshotClone(t *testing.T) {
	a, err := sdp.ParseSnapshot(basicOffer)
	require.NoError(t, err)

	b := a.Clone()
	require.True(t, sdp.Equal(a, b))

	// Мутация копии не затрагивает оригинал
	b.Line(0).Codecs[0].Name = "G729"
	assert.Equal(t, "PCMU", a.Line(0).Codecs[0].Name)
	assert.False(t, sdp.Equal(a, b))
}

// TestBuildDescriptionRoundTrip проверяет генерацию и обратный разбор
func TestBuildDescriptionRoundTrip(t *testing.T) {
	cfg := sdp.DefaultBuildConfig()
	cfg.SessionVersion = 1

	specs := []sdp.MediaSpec{
		{
			Type: sdp.MediaTypeAudio,
			Port: 4000,
			Codecs: []sdp.Codec{
				{ID: 0, Name: "PCMU", ClockRate: 8000},
				{ID: 8, Name: "PCMA", ClockRate: 8000},
			},
			Direction: sdp.DirectionSendRecv,
		},
		{Placeholder: true},
		{
			Type:      sdp.MediaTypeVideo,
			Port:      4002,
			Codecs:    []sdp.Codec{{ID: 96, Name: "VP8", ClockRate: 90000}},
			Direction: sdp.DirectionSend,
		},
	}

	text, err := sdp.BuildDescription(cfg, specs)
	require.NoError(t, err)

	snap, err := sdp.ParseSnapshot(text)
	require.NoError(t, err)
	require.Equal(t, 3, snap.LineCount(), "Line order and count must be preserved")

	assert.Equal(t, sdp.MediaTypeAudio, snap.Line(0).Type)
	assert.False(t, snap.Line(0).Rejected())
	assert.True(t, snap.Line(1).Rejected(), "Placeholder slot must produce a rejected line")
	assert.Equal(t, sdp.MediaTypeVideo, snap.Line(2).Type)
	assert.Equal(t, sdp.DirectionSend, snap.Line(2).Direction)
}

// TestBuildDescriptionErrors проверяет валидацию спецификаций линий
func TestBuildDescriptionErrors(t *testing.T) {
	cfg := sdp.DefaultBuildConfig()

	_, err := sdp.BuildDescription(cfg, []sdp.MediaSpec{
		{Type: sdp.MediaTypeAudio, Port: 4000},
	})
	require.Error(t, err, "Non-placeholder line without codecs must fail")

	_, err = sdp.BuildDescription(cfg, []sdp.MediaSpec{
		{Type: sdp.MediaTypeAudio, Codecs: []sdp.Codec{{ID: 0, Name: "PCMU", ClockRate: 8000}}},
	})
	require.Error(t, err, "Non-placeholder line without port must fail")
}
