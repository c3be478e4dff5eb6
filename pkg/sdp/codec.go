package sdp

import (
	"strconv"
	"strings"
)

// MediaType определяет тип медиа потока в m= линии
type MediaType int

const (
	// MediaTypeUnknown - неподдерживаемый тип медиа
	MediaTypeUnknown MediaType = iota

	// MediaTypeAudio - аудио поток
	MediaTypeAudio

	// MediaTypeVideo - видео поток
	MediaTypeVideo
)

// String возвращает строковое представление типа медиа
func (mt MediaType) String() string {
	switch mt {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	default:
		return "unknown"
	}
}

// ParseMediaType преобразует имя медиа из m= линии в MediaType
func ParseMediaType(name string) MediaType {
	switch strings.ToLower(name) {
	case "audio":
		return MediaTypeAudio
	case "video":
		return MediaTypeVideo
	default:
		return MediaTypeUnknown
	}
}

// Direction определяет направление медиа потока как битовые флаги.
// Комбинация DirectionSend|DirectionRecv соответствует sendrecv,
// отсутствие обоих флагов - inactive.
type Direction int

const (
	DirectionNone Direction = 0
	DirectionSend Direction = 1 << 0
	DirectionRecv Direction = 1 << 1

	DirectionSendRecv = DirectionSend | DirectionRecv
)

// String возвращает SDP атрибут, соответствующий направлению
func (d Direction) String() string {
	switch d {
	case DirectionSend:
		return "sendonly"
	case DirectionRecv:
		return "recvonly"
	case DirectionSendRecv:
		return "sendrecv"
	default:
		return "inactive"
	}
}

// CanSend проверяет наличие флага отправки
func (d Direction) CanSend() bool { return d&DirectionSend != 0 }

// CanRecv проверяет наличие флага приема
func (d Direction) CanRecv() bool { return d&DirectionRecv != 0 }

// ParseDirection разбирает значение атрибута направления.
// Возвращает второй результат false, если атрибут не является атрибутом направления.
func ParseDirection(attr string) (Direction, bool) {
	switch attr {
	case "sendonly":
		return DirectionSend, true
	case "recvonly":
		return DirectionRecv, true
	case "sendrecv":
		return DirectionSendRecv, true
	case "inactive":
		return DirectionNone, true
	default:
		return DirectionNone, false
	}
}

// CodecParam представляет один параметр кодека из fmtp атрибута.
// Порядок вставки параметров сохраняется.
type CodecParam struct {
	Name  string
	Value string
}

// Codec описывает один кодек медиа линии: payload type, имя кодирования,
// частоту дискретизации, число каналов и упорядоченный набор параметров
type Codec struct {
	// ID числовой payload type (RFC 3551 для статических, >=96 для динамических)
	ID uint8

	// Name имя кодирования из rtpmap (PCMU, opus, ...)
	Name string

	// ClockRate частота дискретизации в Гц
	ClockRate uint32

	// Channels число каналов (0 трактуется как 1)
	Channels uint16

	// Params параметры из fmtp, порядок вставки сохраняется
	Params []CodecParam
}

// SetParam устанавливает параметр кодека.
// Повторная запись по существующему имени заменяет значение на месте
// (last write wins), порядок вставки при этом не меняется.
func (c *Codec) SetParam(name, value string) {
	for i := range c.Params {
		if c.Params[i].Name == name {
			c.Params[i].Value = value
			return
		}
	}
	c.Params = append(c.Params, CodecParam{Name: name, Value: value})
}

// GetParam возвращает значение параметра по имени
func (c *Codec) GetParam(name string) (string, bool) {
	for i := range c.Params {
		if c.Params[i].Name == name {
			return c.Params[i].Value, true
		}
	}
	return "", false
}

// Clone возвращает глубокую копию кодека
func (c Codec) Clone() Codec {
	out := c
	if len(c.Params) > 0 {
		out.Params = make([]CodecParam, len(c.Params))
		copy(out.Params, c.Params)
	}
	return out
}

// equalCodec сравнивает кодеки по всем полям, существенным для переговоров
func equalCodec(a, b Codec) bool {
	if a.ID != b.ID || !strings.EqualFold(a.Name, b.Name) ||
		a.ClockRate != b.ClockRate || a.Channels != b.Channels {
		return false
	}
	if len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	return true
}

// matchCodec проверяет совместимость локального и удаленного кодека.
// Статические payload types (<96) сопоставляются по номеру,
// динамические - по имени, частоте и числу каналов.
func matchCodec(local, remote Codec) bool {
	if remote.ID < 96 && local.ID < 96 {
		return local.ID == remote.ID
	}
	lch, rch := local.Channels, remote.Channels
	if lch == 0 {
		lch = 1
	}
	if rch == 0 {
		rch = 1
	}
	return strings.EqualFold(local.Name, remote.Name) &&
		local.ClockRate == remote.ClockRate && lch == rch
}

// Intersect вычисляет пересечение локального и удаленного списков кодеков.
// Результат упорядочен по локальному списку предпочтений, но payload types
// берутся из удаленного предложения (RFC 3264 рекомендует отвечать
// номерами оферента).
func Intersect(local, remote []Codec) []Codec {
	var out []Codec
	for _, lc := range local {
		for _, rc := range remote {
			if matchCodec(lc, rc) {
				picked := rc.Clone()
				out = append(out, picked)
				break
			}
		}
	}
	return out
}

// staticPayloadTypes известные статические payload types из RFC 3551.
// Используются для m= линий без rtpmap атрибута.
var staticPayloadTypes = map[uint8]Codec{
	0:  {ID: 0, Name: "PCMU", ClockRate: 8000, Channels: 1},
	3:  {ID: 3, Name: "GSM", ClockRate: 8000, Channels: 1},
	8:  {ID: 8, Name: "PCMA", ClockRate: 8000, Channels: 1},
	9:  {ID: 9, Name: "G722", ClockRate: 8000, Channels: 1},
	18: {ID: 18, Name: "G729", ClockRate: 8000, Channels: 1},
}

// parseRtpmap разбирает значение rtpmap вида "PCMU/8000" или "opus/48000/2"
func parseRtpmap(value string) (name string, clockRate uint32, channels uint16, ok bool) {
	parts := strings.Split(value, "/")
	if len(parts) < 2 {
		return "", 0, 0, false
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return "", 0, 0, false
	}
	ch := 1
	if len(parts) >= 3 {
		if parsed, err := strconv.Atoi(parts[2]); err == nil && parsed > 0 {
			ch = parsed
		}
	}
	return parts[0], uint32(rate), uint16(ch), true
}

// parseFmtpParams разбирает параметры fmtp вида "key=val;key=val".
// Элементы без '=' сохраняются как параметр с пустым значением
// (например "0-15" для telephone-event).
func parseFmtpParams(c *Codec, raw string) {
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			c.SetParam(part[:idx], part[idx+1:])
		} else {
			c.SetParam(part, "")
		}
	}
}
