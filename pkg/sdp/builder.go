package sdp

import (
	"fmt"
	"strconv"

	psdp "github.com/pion/sdp/v3"
)

// MediaSpec описывает одну m= линию генерируемого описания сессии.
// Placeholder линии кодируются с нулевым портом и сохраняют позицию слота,
// значимую по RFC 3264.
type MediaSpec struct {
	// Type тип медиа; для placeholder линий допускается MediaTypeUnknown
	Type MediaType

	// TypeName переопределяет имя медиа в m= линии, если задано
	TypeName string

	// Port локальный порт; игнорируется для placeholder линий
	Port int

	// Codecs список локальных кодеков в порядке предпочтения
	Codecs []Codec

	// Direction направление потока с учетом hold
	Direction Direction

	// Placeholder линия-заглушка для пустого слота (m= с нулевым портом)
	Placeholder bool
}

// BuildConfig конфигурация генерации описания сессии
type BuildConfig struct {
	// SessionName значение s= линии
	SessionName string

	// Username имя в o= линии
	Username string

	// Address локальный адрес для o= и c= линий
	Address string

	// SessionID идентификатор сессии в o= линии
	SessionID uint64

	// SessionVersion версия описания; увеличивается при каждом новом
	// offer/answer согласно RFC 4566
	SessionVersion uint64
}

// Validate проверяет конфигурацию генерации
func (c *BuildConfig) Validate() error {
	if c.Address == "" {
		return NewError(ErrorCodeInvalidSpec, "не задан локальный адрес для c= линии")
	}
	return nil
}

// DefaultBuildConfig возвращает конфигурацию генерации по умолчанию
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		SessionName: "call",
		Username:    "-",
		Address:     "127.0.0.1",
	}
}

// BuildDescription генерирует текст SDP из упорядоченного списка MediaSpec.
// Порядок линий результата строго повторяет порядок specs: позиция m= линии
// значима и должна сохраняться между раундами offer/answer.
func BuildDescription(cfg BuildConfig, specs []MediaSpec) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if cfg.Username == "" {
		cfg.Username = "-"
	}

	desc := &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       cfg.Username,
			SessionID:      cfg.SessionID,
			SessionVersion: cfg.SessionVersion,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: cfg.Address,
		},
		SessionName: psdp.SessionName(cfg.SessionName),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: cfg.Address},
		},
		TimeDescriptions: []psdp.TimeDescription{{}},
	}

	for i, spec := range specs {
		md, err := buildMediaDescription(i, spec)
		if err != nil {
			return "", err
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, md)
	}

	raw, err := desc.Marshal()
	if err != nil {
		return "", WrapError(ErrorCodeGeneration, err, "не удалось сериализовать SDP")
	}
	return string(raw), nil
}

func buildMediaDescription(pos int, spec MediaSpec) (*psdp.MediaDescription, error) {
	typeName := spec.TypeName
	if typeName == "" {
		if spec.Type == MediaTypeUnknown {
			// Пустой слот без известного типа кодируется как отклоненное аудио
			typeName = "audio"
		} else {
			typeName = spec.Type.String()
		}
	}

	if spec.Placeholder {
		return &psdp.MediaDescription{
			MediaName: psdp.MediaName{
				Media:   typeName,
				Port:    psdp.RangedPort{Value: 0},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{"0"},
			},
		}, nil
	}

	if len(spec.Codecs) == 0 {
		return nil, NewError(ErrorCodeInvalidSpec,
			"m= линия %d не содержит кодеков и не помечена как placeholder", pos)
	}
	if spec.Port <= 0 {
		return nil, NewError(ErrorCodeInvalidSpec,
			"m= линия %d не имеет локального порта", pos)
	}

	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:  typeName,
			Port:   psdp.RangedPort{Value: spec.Port},
			Protos: []string{"RTP", "AVP"},
		},
	}

	for _, codec := range spec.Codecs {
		format := strconv.Itoa(int(codec.ID))
		md.MediaName.Formats = append(md.MediaName.Formats, format)

		if codec.Name != "" {
			rtpmap := fmt.Sprintf("%d %s/%d", codec.ID, codec.Name, codec.ClockRate)
			if codec.Channels > 1 {
				rtpmap += fmt.Sprintf("/%d", codec.Channels)
			}
			md.Attributes = append(md.Attributes, psdp.NewAttribute("rtpmap", rtpmap))
		}
		if fmtp := formatFmtp(codec); fmtp != "" {
			md.Attributes = append(md.Attributes,
				psdp.NewAttribute("fmtp", fmt.Sprintf("%d %s", codec.ID, fmtp)))
		}
	}

	md.Attributes = append(md.Attributes, psdp.NewPropertyAttribute(spec.Direction.String()))
	return md, nil
}

// formatFmtp собирает значение fmtp из параметров кодека, сохраняя порядок
func formatFmtp(codec Codec) string {
	if len(codec.Params) == 0 {
		return ""
	}
	out := ""
	for i, p := range codec.Params {
		if i > 0 {
			out += ";"
		}
		if p.Value == "" {
			out += p.Name
		} else {
			out += p.Name + "=" + p.Value
		}
	}
	return out
}
