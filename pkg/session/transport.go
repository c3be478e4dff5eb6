package session

import (
	"context"
	"time"

	"github.com/emiago/sipgo/sip"
)

// DialogID непрозрачный идентификатор сигнального диалога.
// Сессия эксклюзивно владеет своим диалогом на протяжении жизни и
// освобождает его при переходе в StateEnded.
type DialogID string

// ReinviteTimeout таймаут ожидания ответа на re-INVITE.
// 180 секунд согласно рекомендации RFC 3261 §13.3.1.1 об отмене прокси.
const ReinviteTimeout = 180 * time.Second

// statusRequestPending 491 Request Pending (нет константы в sipgo)
const statusRequestPending int = 491

// Transport абстракция нижележащего SIP стека. Сессия выражает исходящие
// действия в терминах протокольных намерений; кодирование в байты провода,
// ретрансмиссии и аутентификация - ответственность реализации.
//
// Все методы вызываются из цикла обработки событий сессии и не должны
// блокировать его: реализация обязана выполнять сетевые операции асинхронно.
type Transport interface {
	// SendInvite отправляет INVITE или re-INVITE с SDP offer.
	// timeout применяется только к re-INVITE (см. ReinviteTimeout).
	SendInvite(ctx context.Context, dialog DialogID, offer string, reinvite bool, timeout time.Duration) error

	// SendResponse отправляет ответ на входящий запрос.
	// req - исходный запрос для корреляции (nil, если транспорт
	// коррелирует по диалогу сам), answer - опциональный SDP answer.
	SendResponse(ctx context.Context, dialog DialogID, status int, reason string, answer string, req *sip.Request) error

	// SendBye завершает установленный диалог
	SendBye(ctx context.Context, dialog DialogID) error

	// SendCancel отменяет неотвеченный исходящий INVITE
	SendCancel(ctx context.Context, dialog DialogID) error

	// DestroyDialog освобождает ресурсы диалога в стеке.
	// Вызывается ровно один раз при переходе сессии в StateEnded.
	DestroyDialog(dialog DialogID)
}

// CallState состояние вызова из событий нижележащего стека
type CallState int

const (
	// CallStateProceeding - получен предварительный ответ (1xx)
	CallStateProceeding CallState = iota

	// CallStateCompleting - финальный ответ получен, ожидается подтверждение
	CallStateCompleting

	// CallStateReady - вызов подтвержден, answer доставлен
	CallStateReady

	// CallStateTerminated - вызов завершен удаленной стороной или стеком
	CallStateTerminated
)

// String возвращает строковое представление состояния вызова
func (cs CallState) String() string {
	switch cs {
	case CallStateProceeding:
		return "proceeding"
	case CallStateCompleting:
		return "completing"
	case CallStateReady:
		return "ready"
	case CallStateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EventKind тип входящего события транспортного слоя
type EventKind int

const (
	// EventRequest - входящий INVITE или re-INVITE, сопоставленный диалогу
	EventRequest EventKind = iota

	// EventCancel - входящий CANCEL
	EventCancel

	// EventTerminated - диалог завершен удаленной стороной (BYE или
	// финальная ошибка стека)
	EventTerminated

	// EventCallState - изменение состояния вызова: предварительные и
	// финальные ответы, доставка offer/answer
	EventCallState

	// EventShutdown - нижележащий стек завершил работу
	EventShutdown
)

// String возвращает строковое представление типа события
func (ek EventKind) String() string {
	switch ek {
	case EventRequest:
		return "request"
	case EventCancel:
		return "cancel"
	case EventTerminated:
		return "terminated"
	case EventCallState:
		return "call_state"
	case EventShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event входящее событие транспортного слоя.
// Контракт доставки: порядок событий в пределах одного диалога сохраняется,
// статусы ниже 200 являются предварительными и не фиксируют переходы
// состояний кроме транзитных сигналов (ringing/queued/in-progress).
type Event struct {
	// Kind тип события
	Kind EventKind

	// Dialog идентификатор диалога, к которому относится событие.
	// Пустой для событий уровня стека (EventShutdown).
	Dialog DialogID

	// Request исходный входящий запрос (для EventRequest/EventCancel)
	Request *sip.Request

	// CallState состояние вызова (для EventCallState)
	CallState CallState

	// Status код ответа (для EventCallState/EventCancel/EventTerminated)
	Status int

	// Reason фраза ответа или причина завершения
	Reason string

	// ReasonCause значение cause из заголовка Reason (0, если нет)
	ReasonCause int

	// RemoteSDP текст удаленного описания сессии, если событие его несет
	RemoteSDP string
}
