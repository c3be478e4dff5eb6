package session

// SessionState определяет возможные состояния сигнальной сессии.
// Сессия проходит через состояния offer/answer переговоров, начиная со
// StateCreated и заканчивая терминальным StateEnded.
type SessionState int

const (
	// StateCreated - сессия создана, переговоры не начаты
	StateCreated SessionState = iota

	// StateInviteSent - начальный offer отправлен, ожидается answer
	StateInviteSent

	// StateInviteReceived - получен входящий INVITE с offer
	StateInviteReceived

	// StateResponseReceived - на отправленный offer получен answer,
	// ожидается завершение пересечения кодеков
	StateResponseReceived

	// StateActive - offer/answer раунд завершен, сессия активна
	StateActive

	// StateReinviteSent - отправлен re-INVITE, ожидается answer
	StateReinviteSent

	// StateReinvitePending - получен 491 на re-INVITE, ожидается
	// перепосылка после glare backoff
	StateReinvitePending

	// StateReinviteReceived - получен входящий re-INVITE с новым offer
	StateReinviteReceived

	// StateEnded - сессия завершена (терминальное состояние)
	StateEnded
)

// Строковые имена состояний для FSM
const (
	fsmCreated          = "created"
	fsmInviteSent       = "invite_sent"
	fsmInviteReceived   = "invite_received"
	fsmResponseReceived = "response_received"
	fsmActive           = "active"
	fsmReinviteSent     = "reinvite_sent"
	fsmReinvitePending  = "reinvite_pending"
	fsmReinviteReceived = "reinvite_received"
	fsmEnded            = "ended"
)

// События FSM. Каждое событие покрывает все переходы таблицы состояний,
// имеющие одинаковую семантику.
const (
	eventSendOffer   = "send_offer"   // отправка offer (INVITE или re-INVITE)
	eventRecvOffer   = "recv_offer"   // входящий начальный INVITE
	eventRecvReoffer = "recv_reoffer" // входящий re-INVITE
	eventRecvAnswer  = "recv_answer"  // answer на наш offer
	eventSettle      = "settle"       // пересечение кодеков завершено, сессия активна
	eventGlare       = "glare"        // 491 на re-INVITE
	eventEnd         = "end"          // завершение сессии
)

var fsmStateNames = map[SessionState]string{
	StateCreated:          fsmCreated,
	StateInviteSent:       fsmInviteSent,
	StateInviteReceived:   fsmInviteReceived,
	StateResponseReceived: fsmResponseReceived,
	StateActive:           fsmActive,
	StateReinviteSent:     fsmReinviteSent,
	StateReinvitePending:  fsmReinvitePending,
	StateReinviteReceived: fsmReinviteReceived,
	StateEnded:            fsmEnded,
}

var fsmStateValues = map[string]SessionState{
	fsmCreated:          StateCreated,
	fsmInviteSent:       StateInviteSent,
	fsmInviteReceived:   StateInviteReceived,
	fsmResponseReceived: StateResponseReceived,
	fsmActive:           StateActive,
	fsmReinviteSent:     StateReinviteSent,
	fsmReinvitePending:  StateReinvitePending,
	fsmReinviteReceived: StateReinviteReceived,
	fsmEnded:            StateEnded,
}

// String возвращает строковое представление состояния
func (s SessionState) String() string {
	if name, ok := fsmStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal проверяет, является ли состояние терминальным
func (s SessionState) IsTerminal() bool {
	return s == StateEnded
}

// HoldState определяет агрегированное состояние локального hold
type HoldState int

const (
	// HoldStateNone - hold не запрошен
	HoldStateNone HoldState = iota

	// HoldStateRequested - hold запрошен, offer еще не подтвержден
	HoldStateRequested

	// HoldStateHeld - удаленная сторона подтвердила hold
	HoldStateHeld

	// HoldStateUnholdRequested - снятие hold запрошено, offer еще не подтвержден
	HoldStateUnholdRequested
)

// String возвращает строковое представление состояния hold
func (h HoldState) String() string {
	switch h {
	case HoldStateRequested:
		return "requested"
	case HoldStateHeld:
		return "held"
	case HoldStateUnholdRequested:
		return "unhold_requested"
	default:
		return "none"
	}
}
