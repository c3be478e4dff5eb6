package session

import (
	"github.com/arzzra/call_session/pkg/sdp"
)

// MediaEntry представляет одну m= линию вызова и владеет состоянием
// переговоров этой линии: локальным и удаленным списками кодеков,
// направлением и флагами hold.
//
// Запись эксклюзивно принадлежит сессии через свой слот в упорядоченном
// списке медиа. Позиция слота совпадает с позицией m= линии в SDP и
// значима по RFC 3264; nil в слоте означает "нет медиа на этой позиции"
// (линия удалена или тип не поддерживается).
type MediaEntry struct {
	session *Session

	mediaType      sdp.MediaType
	name           string
	createdLocally bool

	// baseDirection сконфигурированное направление линии
	baseDirection sdp.Direction

	// direction текущее согласованное направление
	direction sdp.Direction

	// requestedDirection направление для следующего offer (с учетом hold)
	requestedDirection sdp.Direction

	localCodecs      []sdp.Codec
	remoteCodecOffer []sdp.Codec

	// remoteDirection направление, заявленное удаленной стороной
	remoteDirection sdp.Direction

	// negotiated результат пересечения кодеков; используется для answer
	negotiated []sdp.Codec

	localPort int

	// ready локальная информация о кодеках/кандидатах стабилизировалась
	ready bool

	// intersectPending идет асинхронный раунд выбора кодеков
	intersectPending bool

	holdRequested bool
}

func newMediaEntry(s *Session, mediaType sdp.MediaType, name string, direction sdp.Direction, createdLocally bool) *MediaEntry {
	return &MediaEntry{
		session:            s,
		mediaType:          mediaType,
		name:               name,
		createdLocally:     createdLocally,
		baseDirection:      direction,
		direction:          direction,
		requestedDirection: direction,
	}
}

// Type возвращает тип медиа линии
func (e *MediaEntry) Type() sdp.MediaType { return e.mediaType }

// Name возвращает метку линии
func (e *MediaEntry) Name() string { return e.name }

// CreatedLocally сообщает, была ли линия создана локальной стороной
func (e *MediaEntry) CreatedLocally() bool { return e.createdLocally }

// Direction возвращает текущее согласованное направление
func (e *MediaEntry) Direction() sdp.Direction {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	return e.direction
}

// IsReady сообщает, стабилизировалась ли локальная информация линии
func (e *MediaEntry) IsReady() bool {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	return e.ready
}

// CodecIntersectPending сообщает, идет ли асинхронный раунд выбора кодеков
func (e *MediaEntry) CodecIntersectPending() bool {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	return e.intersectPending
}

// LocalCodecs возвращает копию локального списка кодеков
func (e *MediaEntry) LocalCodecs() []sdp.Codec {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	out := make([]sdp.Codec, len(e.localCodecs))
	for i := range e.localCodecs {
		out[i] = e.localCodecs[i].Clone()
	}
	return out
}

// TakeLocalCodecs фиксирует локальный список кодеков линии.
// Идемпотентна: повторный вызов с тем же набором не инициирует новый offer.
// Если линия ждала кодеки для завершения пересечения, пересечение
// завершается и сессия получает сигнал о его результате.
func (e *MediaEntry) TakeLocalCodecs(codecs []sdp.Codec) {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()

	if codecListsEqual(e.localCodecs, codecs) {
		return
	}

	e.localCodecs = make([]sdp.Codec, len(codecs))
	for i := range codecs {
		e.localCodecs[i] = codecs[i].Clone()
	}

	if e.intersectPending {
		e.completeIntersection()
		return
	}
	// Локальное обновление: владеющая сессия решает, нужен ли новый offer
	e.session.mediaChangedLocked()
}

// SetLocalPort устанавливает локальный порт линии (от медиа коллаборатора)
func (e *MediaEntry) SetLocalPort(port int) {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	e.localPort = port
}

// MarkReady отмечает, что локальная информация линии стабилизировалась.
// Повторно запускает request/response шаг владеющей сессии.
func (e *MediaEntry) MarkReady() {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	if e.ready {
		return
	}
	e.ready = true
	e.session.requestResponseStepLocked()
}

// setRemoteMedia принимает удаленное описание линии. Вызывается с
// удержанным мьютексом сессии.
//
// Возвращает false, если линия отклонена (нулевой порт) или тип медиа
// не совпадает с ранее согласованным для этого слота - в обоих случаях
// линию следует закрыть. Смена типа медиа на существующем слоте - это
// неподдерживаемый сценарий: предупреждение в лог, без иной коррекции.
//
// При authoritative=true (удаленный offer) запускается раунд пересечения
// кодеков; завершение раунда сигналится через onLocalNegotiationComplete.
// При authoritative=false (повторное применение при откате) удаленное
// состояние восстанавливается без нового раунда переговоров.
func (e *MediaEntry) setRemoteMedia(line *sdp.MediaLine, authoritative bool) bool {
	if line.Rejected() {
		return false
	}
	if line.Type != e.mediaType {
		return false
	}

	e.remoteCodecOffer = make([]sdp.Codec, len(line.Codecs))
	for i := range line.Codecs {
		e.remoteCodecOffer[i] = line.Codecs[i].Clone()
	}
	e.remoteDirection = line.Direction
	e.direction = e.answerDirection(line.Direction)

	if authoritative {
		e.intersectPending = true
	} else {
		e.negotiated = sdp.Intersect(e.localCodecs, e.remoteCodecOffer)
		e.intersectPending = false
	}
	return true
}

// completeIntersection завершает раунд пересечения кодеков и сигналит
// результат владеющей сессии. Пустое пересечение не фатально для сессии:
// владелец решает, закрыть линию или откатить весь раунд.
// Вызывается с удержанным мьютексом сессии.
func (e *MediaEntry) completeIntersection() {
	if len(e.localCodecs) == 0 {
		// Все еще ждем локальные кодеки от медиа коллаборатора
		return
	}
	e.negotiated = sdp.Intersect(e.localCodecs, e.remoteCodecOffer)
	e.intersectPending = false
	e.session.onLocalNegotiationCompleteLocked(e, len(e.negotiated) > 0)
}

// setHoldRequested применяет hold к направлению следующего offer.
// Сторона, ставящая на hold, помечает линию sendonly (RFC 3264).
func (e *MediaEntry) setHoldRequested(hold bool) {
	e.holdRequested = hold
	if hold {
		e.requestedDirection = e.baseDirection &^ sdp.DirectionRecv
	} else {
		e.requestedDirection = e.baseDirection
	}
}

// answerDirection вычисляет наше направление как зеркало заявленного
// удаленного, с учетом локального hold
func (e *MediaEntry) answerDirection(remote sdp.Direction) sdp.Direction {
	var dir sdp.Direction
	if remote.CanRecv() {
		dir |= sdp.DirectionSend
	}
	if remote.CanSend() {
		dir |= sdp.DirectionRecv
	}
	dir &= e.baseDirection
	if e.holdRequested {
		dir &^= sdp.DirectionRecv
	}
	return dir
}

// offerPort возвращает порт для генерации SDP; медиа коллаборатор мог
// не сообщить порт, тогда используется discard порт
func (e *MediaEntry) offerPort() int {
	if e.localPort > 0 {
		return e.localPort
	}
	return 9
}

// offerSpec возвращает описание линии для генерации offer
func (e *MediaEntry) offerSpec() sdp.MediaSpec {
	return sdp.MediaSpec{
		Type:      e.mediaType,
		Port:      e.offerPort(),
		Codecs:    e.localCodecs,
		Direction: e.requestedDirection,
	}
}

// answerSpec возвращает описание линии для генерации answer.
// Пустое пересечение кодеков кодируется отклоненной линией.
func (e *MediaEntry) answerSpec() sdp.MediaSpec {
	if len(e.negotiated) == 0 {
		return sdp.MediaSpec{Type: e.mediaType, Placeholder: true}
	}
	return sdp.MediaSpec{
		Type:      e.mediaType,
		Port:      e.offerPort(),
		Codecs:    e.negotiated,
		Direction: e.direction,
	}
}

func codecListsEqual(a, b []sdp.Codec) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ac, bc := a[i], b[i]
		if ac.ID != bc.ID || ac.Name != bc.Name ||
			ac.ClockRate != bc.ClockRate || ac.Channels != bc.Channels {
			return false
		}
	}
	return true
}
