// Package callcontrol связывает сигнальную сессию с внешней моделью
// вызова: транслирует сигналы сессии в уведомления модели и внешние
// команды (accept, hold, hangup, добавление медиа) в операции сессии.
//
// Адаптер - единственный компонент, которому позволено мутировать
// внешне видимое состояние вызова в ответ на сигналы сессии.
package callcontrol

import (
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/call_session/pkg/sdp"
	"github.com/arzzra/call_session/pkg/session"
)

// Actor указывает, какая сторона завершила вызов
type Actor int

const (
	// ActorSelf - вызов завершен локальной стороной
	ActorSelf Actor = iota

	// ActorPeer - вызов завершен удаленной стороной
	ActorPeer
)

// String возвращает строковое представление актора
func (a Actor) String() string {
	if a == ActorSelf {
		return "self"
	}
	return "peer"
}

// EndReason причина завершения вызова для внешней модели
type EndReason int

const (
	// ReasonProgressMade - обобщенная причина по умолчанию
	ReasonProgressMade EndReason = iota

	// ReasonOffline - удаленная сторона недоступна
	ReasonOffline

	// ReasonBusy - удаленная сторона занята
	ReasonBusy

	// ReasonNoAnswer - нет ответа
	ReasonNoAnswer

	// ReasonInvalidContact - адресат не существует
	ReasonInvalidContact

	// ReasonPermissionDenied - отказ в доступе
	ReasonPermissionDenied

	// ReasonRejected - вызов отклонен удаленной стороной
	ReasonRejected
)

// String возвращает строковое представление причины завершения
func (r EndReason) String() string {
	switch r {
	case ReasonOffline:
		return "offline"
	case ReasonBusy:
		return "busy"
	case ReasonNoAnswer:
		return "no-answer"
	case ReasonInvalidContact:
		return "invalid-contact"
	case ReasonPermissionDenied:
		return "permission-denied"
	case ReasonRejected:
		return "rejected"
	default:
		return "progress-made"
	}
}

// ReasonFromStatus отображает SIP статус завершения в причину для
// внешней модели по фиксированной таблице
func ReasonFromStatus(status int) EndReason {
	switch status {
	case sip.StatusNotFound, sip.StatusGone, sip.StatusAddressIncomplete,
		sip.StatusGlobalDoesNotExistAnywhere:
		return ReasonInvalidContact
	case sip.StatusBusyHere, sip.StatusGlobalBusyEverywhere:
		return ReasonBusy
	case sip.StatusRequestTimeout, sip.StatusTemporarilyUnavailable,
		sip.StatusRequestTerminated:
		return ReasonNoAnswer
	case sip.StatusUnauthorized, sip.StatusForbidden, sip.StatusProxyAuthRequired:
		return ReasonPermissionDenied
	case sip.StatusGlobalDecline, sip.StatusGlobalNotAcceptable:
		return ReasonRejected
	case sip.StatusInternalServerError, sip.StatusBadGateway, sip.StatusServiceUnavailable:
		return ReasonOffline
	default:
		return ReasonProgressMade
	}
}

// CallModel внешняя модель вызова, уведомляемая адаптером
type CallModel interface {
	// SetRinging/SetQueued/SetInProgress транзитные флаги состояния вызова
	SetRinging()
	SetQueued()
	SetInProgress()

	// RemoteAccepted - удаленная сторона приняла локально
	// инициированный вызов
	RemoteAccepted()

	// ContentAdded/ContentRemoved - появление и закрытие медиа потоков
	ContentAdded(entry *session.MediaEntry)
	ContentRemoved(entry *session.MediaEntry)

	// RemoteHoldChanged - смена удержания удаленной стороной
	RemoteHoldChanged(held bool)

	// CallEnded терминальное уведомление; вызывается ровно один раз
	CallEnded(actor Actor, reason EndReason, status int, message string)
}

// Adapter транслирует сигналы одной сессии в уведомления модели вызова
type Adapter struct {
	model CallModel
	log   session.StructuredLogger

	sess     *session.Session
	incoming bool
	accepted bool
}

// New создает адаптер для модели вызова
func New(model CallModel, logger session.StructuredLogger) *Adapter {
	if logger == nil {
		logger = session.NoOpLogger{}
	}
	return &Adapter{
		model: model,
		log:   logger.WithComponent("callcontrol"),
	}
}

// Callbacks возвращает набор колбэков сессии, транслирующих ее сигналы
// в уведомления модели. Передается в session.Config при создании сессии.
func (a *Adapter) Callbacks() session.Callbacks {
	return session.Callbacks{
		OnStateChanged:      a.onStateChanged,
		OnMediaAdded:        a.onMediaAdded,
		OnMediaRemoved:      a.onMediaRemoved,
		OnRinging:           a.model.SetRinging,
		OnQueued:            a.model.SetQueued,
		OnInProgress:        a.model.SetInProgress,
		OnEnded:             a.onEnded,
		OnRemoteHoldChanged: a.model.RemoteHoldChanged,
	}
}

// Bind привязывает адаптер к созданной сессии
func (a *Adapter) Bind(s *session.Session) {
	a.sess = s
	a.incoming = s.IsIncoming()
	a.log = a.log.WithSession(s.Dialog())
}

func (a *Adapter) onStateChanged(oldState, newState session.SessionState) {
	a.log.Debug("состояние вызова изменилось",
		session.String("from", oldState.String()),
		session.String("to", newState.String()))

	// Первый переход локально инициированного вызова в active означает,
	// что удаленная сторона приняла вызов
	if newState == session.StateActive && !a.incoming && !a.accepted {
		a.accepted = true
		a.model.RemoteAccepted()
	}
}

func (a *Adapter) onMediaAdded(entry *session.MediaEntry) {
	a.model.ContentAdded(entry)
}

func (a *Adapter) onMediaRemoved(entry *session.MediaEntry) {
	a.model.ContentRemoved(entry)
}

func (a *Adapter) onEnded(selfCaused bool, status int, message string) {
	actor := ActorPeer
	if selfCaused {
		actor = ActorSelf
	}
	reason := ReasonFromStatus(status)
	a.log.Info("вызов завершен",
		session.String("actor", actor.String()),
		session.String("reason", reason.String()),
		session.Int("status", int(status)))
	a.model.CallEnded(actor, reason, status, message)
}

/* -------------------------------------------------
   Внешние команды модели вызова
--------------------------------------------------*/

// Accept принимает вызов локальной стороной
func (a *Adapter) Accept() {
	a.sess.Accept()
}

// Hangup завершает вызов по инициативе локальной стороны
func (a *Adapter) Hangup(status int, reason string) {
	a.sess.Terminate(status, reason)
}

// SetHold запрашивает или снимает локальный hold
func (a *Adapter) SetHold(hold bool) {
	a.sess.SetHoldRequested(hold)
}

// AddContent добавляет медиа поток в вызов
func (a *Adapter) AddContent(mediaType sdp.MediaType, name string) *session.MediaEntry {
	return a.sess.AddMedia(mediaType, name, sdp.DirectionSendRecv, true)
}

// RemoveContent закрывает медиа поток
func (a *Adapter) RemoveContent(entry *session.MediaEntry) bool {
	return a.sess.RemoveMedia(entry, sip.StatusNotAcceptableHere, "Content removed")
}

// Session возвращает привязанную сессию
func (a *Adapter) Session() *session.Session {
	return a.sess
}
