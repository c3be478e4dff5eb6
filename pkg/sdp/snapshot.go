package sdp

import (
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// Bandwidth представляет b= модификатор медиа линии
type Bandwidth struct {
	Type  string
	Value uint64
}

// MediaLine представляет одну m= линию удаленного описания сессии
// вместе с атрибутами, существенными для переговоров
type MediaLine struct {
	// Type распознанный тип медиа (audio/video/unknown)
	Type MediaType

	// TypeName исходное имя медиа из m= линии
	TypeName string

	// Port порт из m= линии; 0 означает отклоненную линию
	Port int

	// Proto транспортный профиль (обычно RTP/AVP)
	Proto string

	// Codecs список кодеков в порядке предпочтения оферента
	Codecs []Codec

	// Direction направление потока, заявленное удаленной стороной
	Direction Direction

	// Bandwidth список b= модификаторов
	Bandwidth []Bandwidth
}

// Rejected проверяет, отклонена ли медиа линия (нулевой порт)
func (ml *MediaLine) Rejected() bool {
	return ml.Port == 0
}

// Clone возвращает глубокую копию медиа линии
func (ml *MediaLine) Clone() *MediaLine {
	out := *ml
	if len(ml.Codecs) > 0 {
		out.Codecs = make([]Codec, len(ml.Codecs))
		for i := range ml.Codecs {
			out.Codecs[i] = ml.Codecs[i].Clone()
		}
	}
	if len(ml.Bandwidth) > 0 {
		out.Bandwidth = make([]Bandwidth, len(ml.Bandwidth))
		copy(out.Bandwidth, ml.Bandwidth)
	}
	return &out
}

// Snapshot представляет разобранное описание сессии одной стороны.
// Snapshot владеет своими данными: после разбора он не ссылается на
// транспортный буфер и переживает его.
type Snapshot struct {
	// SessionName значение s= линии
	SessionName string

	lines []*MediaLine
}

// ParseSnapshot разбирает текст SDP в Snapshot.
// Структурно невалидный SDP возвращает ошибку разбора: граница транспорта
// обязана отклонить такое описание до попадания в машину состояний.
func ParseSnapshot(text string) (*Snapshot, error) {
	var desc psdp.SessionDescription
	if err := desc.UnmarshalString(text); err != nil {
		return nil, WrapError(ErrorCodeParsing, err, "не удалось разобрать SDP")
	}

	snap := &Snapshot{
		SessionName: string(desc.SessionName),
	}

	sessionDir := DirectionSendRecv
	for _, attr := range desc.Attributes {
		if dir, ok := ParseDirection(attr.Key); ok {
			sessionDir = dir
		}
	}

	for _, md := range desc.MediaDescriptions {
		snap.lines = append(snap.lines, parseMediaLine(md, sessionDir))
	}
	return snap, nil
}

// parseMediaLine извлекает из MediaDescription атрибуты, существенные
// для переговоров: тип, порт, кодеки, направление и полосу
func parseMediaLine(md *psdp.MediaDescription, sessionDir Direction) *MediaLine {
	line := &MediaLine{
		Type:      ParseMediaType(md.MediaName.Media),
		TypeName:  md.MediaName.Media,
		Port:      md.MediaName.Port.Value,
		Proto:     strings.Join(md.MediaName.Protos, "/"),
		Direction: sessionDir,
	}

	rtpmaps := make(map[string]string)
	fmtps := make(map[string]string)
	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap":
			if k, v, ok := splitAttrValue(attr.Value); ok {
				rtpmaps[k] = v
			}
		case "fmtp":
			if k, v, ok := splitAttrValue(attr.Value); ok {
				fmtps[k] = v
			}
		default:
			if dir, ok := ParseDirection(attr.Key); ok {
				line.Direction = dir
			}
		}
	}

	for _, format := range md.MediaName.Formats {
		pt, err := strconv.Atoi(format)
		if err != nil || pt < 0 || pt > 127 {
			continue
		}
		codec := Codec{ID: uint8(pt)}
		if rtpmap, ok := rtpmaps[format]; ok {
			name, rate, ch, ok := parseRtpmap(rtpmap)
			if !ok {
				continue
			}
			codec.Name = name
			codec.ClockRate = rate
			codec.Channels = ch
		} else if static, ok := staticPayloadTypes[codec.ID]; ok {
			codec.Name = static.Name
			codec.ClockRate = static.ClockRate
			codec.Channels = static.Channels
		}
		if fmtp, ok := fmtps[format]; ok {
			parseFmtpParams(&codec, fmtp)
		}
		line.Codecs = append(line.Codecs, codec)
	}

	for _, bw := range md.Bandwidth {
		line.Bandwidth = append(line.Bandwidth, Bandwidth{Type: bw.Type, Value: bw.Bandwidth})
	}
	return line
}

// splitAttrValue отделяет payload type от остального значения атрибута
func splitAttrValue(value string) (format, rest string, ok bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// LineCount возвращает количество m= линий описания
func (s *Snapshot) LineCount() int {
	if s == nil {
		return 0
	}
	return len(s.lines)
}

// Line возвращает m= линию по позиции или nil, если позиция вне диапазона
func (s *Snapshot) Line(i int) *MediaLine {
	if s == nil || i < 0 || i >= len(s.lines) {
		return nil
	}
	return s.lines[i]
}

// Clone выполняет глубокое копирование снимка.
// Вызывающая сторона владеет результатом.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{SessionName: s.SessionName}
	out.lines = make([]*MediaLine, len(s.lines))
	for i, line := range s.lines {
		out.lines[i] = line.Clone()
	}
	return out
}

// Equal выполняет структурное сравнение двух снимков по атрибутам,
// существенным для переговоров: количество линий, тип, порт/отклонение,
// кодеки, направление, полоса. Используется для отсечения ретрансляций
// и no-op re-INVITE. Nil снимок никогда не равен не-nil снимку.
func Equal(a, b *Snapshot) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if len(a.lines) != len(b.lines) {
		return false
	}
	for i := range a.lines {
		if !equalLine(a.lines[i], b.lines[i]) {
			return false
		}
	}
	return true
}

func equalLine(a, b *MediaLine) bool {
	if a.TypeName != b.TypeName || a.Rejected() != b.Rejected() ||
		a.Proto != b.Proto || a.Direction != b.Direction {
		return false
	}
	if len(a.Codecs) != len(b.Codecs) || len(a.Bandwidth) != len(b.Bandwidth) {
		return false
	}
	for i := range a.Codecs {
		if !equalCodec(a.Codecs[i], b.Codecs[i]) {
			return false
		}
	}
	for i := range a.Bandwidth {
		if a.Bandwidth[i] != b.Bandwidth[i] {
			return false
		}
	}
	return true
}
