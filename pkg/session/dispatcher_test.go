package session_test

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_session/pkg/session"
)

// TestDispatchUnknownDialogRejected проверяет отклонение запроса по
// неизвестному диалогу с 404 на границе
func TestDispatchUnknownDialogRejected(t *testing.T) {
	tr := newMockTransport()
	disp := session.NewEventDispatcher(session.DispatcherConfig{Transport: tr})

	disp.Dispatch(session.Event{
		Kind:    session.EventRequest,
		Dialog:  "no-such-dialog",
		Request: newInviteRequest(t),
	})

	resp, ok := tr.last("response")
	require.True(t, ok)
	assert.Equal(t, sip.StatusNotFound, resp.status)
}

// TestDispatchUnknownDialogNonRequestIgnored проверяет, что не-запросы
// по неизвестному диалогу молча игнорируются
func TestDispatchUnknownDialogNonRequestIgnored(t *testing.T) {
	tr := newMockTransport()
	disp := session.NewEventDispatcher(session.DispatcherConfig{Transport: tr})

	disp.Dispatch(session.Event{
		Kind:   session.EventTerminated,
		Dialog: "no-such-dialog",
	})

	assert.Empty(t, tr.ofKind("response"))
}

// TestDispatchInvalidSDPRejected проверяет валидацию границы: запрос со
// структурно невалидным SDP отклоняется 400 и не доходит до сессии
func TestDispatchInvalidSDPRejected(t *testing.T) {
	s, tr, disp := newTestSession(t, true, nil)

	disp.Dispatch(session.Event{
		Kind:      session.EventRequest,
		Dialog:    s.Dialog(),
		Request:   newInviteRequest(t),
		RemoteSDP: "this is not sdp",
	})

	resp, ok := tr.last("response")
	require.True(t, ok)
	assert.Equal(t, sip.StatusBadRequest, resp.status)
	assert.Equal(t, session.StateCreated, s.State(),
		"Invalid SDP must never reach the state machine")
}

// TestDispatchDetachedTombstone проверяет, что запоздавшие события
// завершенного диалога распознаются и отбрасываются
func TestDispatchDetachedTombstone(t *testing.T) {
	rec := &stateRecorder{}
	s, tr, disp := newTestSession(t, false, rec)
	establishOutbound(t, s, tr, disp)

	s.Terminate(0, "")
	require.Equal(t, session.StateEnded, s.State())

	responsesBefore := len(tr.ofKind("response"))
	disp.Dispatch(session.Event{
		Kind:      session.EventCallState,
		Dialog:    s.Dialog(),
		CallState: session.CallStateReady,
		Status:    sip.StatusOK,
		RemoteSDP: remoteAnswerPCMU,
	})
	disp.Dispatch(session.Event{
		Kind:    session.EventRequest,
		Dialog:  s.Dialog(),
		Request: newInviteRequest(t),
	})

	count, _, _, _ := rec.ended()
	assert.Equal(t, 1, count, "Late events must not re-enter an ended session")
	assert.Len(t, tr.ofKind("response"), responsesBefore,
		"Tombstoned dialog is not treated as an unknown sender")
}

// TestHandlerChainFirstHandledWins проверяет цепочку обработчиков:
// выполнение по возрастанию приоритета до первого обработавшего
func TestHandlerChainFirstHandledWins(t *testing.T) {
	s, _, disp := newTestSession(t, false, nil)

	var order []string
	disp.RegisterHandler(session.EventCallState, 20, func(_ *session.Session, _ session.Event) bool {
		order = append(order, "low")
		return false
	})
	disp.RegisterHandler(session.EventCallState, 10, func(_ *session.Session, _ session.Event) bool {
		order = append(order, "high")
		return true
	})

	disp.Dispatch(session.Event{
		Kind:      session.EventCallState,
		Dialog:    s.Dialog(),
		CallState: session.CallStateProceeding,
		Status:    sip.StatusRinging,
	})

	assert.Equal(t, []string{"high"}, order,
		"Lower priority value runs first and short-circuits the chain")
}

// TestHandlerChainFallsThroughToSession проверяет, что необработанное
// событие доходит до сессии
func TestHandlerChainFallsThroughToSession(t *testing.T) {
	rec := &stateRecorder{}
	s, tr, disp := newTestSession(t, false, rec)

	called := 0
	disp.RegisterHandler(session.EventCallState, 10, func(_ *session.Session, _ session.Event) bool {
		called++
		return false
	})

	establishOutbound(t, s, tr, disp)
	assert.Equal(t, 1, called, "Handler must observe the event before the session")
	assert.Equal(t, session.StateActive, s.State(), "Unhandled event falls through")
}

// TestShutdownEndsAllSessions проверяет завершение всех активных сессий
// при остановке стека
func TestShutdownEndsAllSessions(t *testing.T) {
	tr := newMockTransport()
	disp := session.NewEventDispatcher(session.DispatcherConfig{Transport: tr})

	rec1 := &stateRecorder{}
	s1, err := session.NewSession(session.Config{Transport: tr, Callbacks: rec1.callbacks()})
	require.NoError(t, err)
	disp.Register(s1)

	rec2 := &stateRecorder{}
	s2, err := session.NewSession(session.Config{Transport: tr, Callbacks: rec2.callbacks()})
	require.NoError(t, err)
	disp.Register(s2)

	disp.Dispatch(session.Event{Kind: session.EventShutdown})

	assert.Equal(t, session.StateEnded, s1.State())
	assert.Equal(t, session.StateEnded, s2.State())

	_, _, status1, _ := rec1.ended()
	assert.Equal(t, sip.StatusServiceUnavailable, status1)
	count2, _, _, _ := rec2.ended()
	assert.Equal(t, 1, count2)
	assert.Empty(t, disp.Sessions(), "No active sessions remain after shutdown")
}

// TestSessionsListsOnlyActive проверяет, что реестр не возвращает
// завершенные сессии
func TestSessionsListsOnlyActive(t *testing.T) {
	tr := newMockTransport()
	disp := session.NewEventDispatcher(session.DispatcherConfig{Transport: tr})

	s1, err := session.NewSession(session.Config{Transport: tr})
	require.NoError(t, err)
	disp.Register(s1)
	s2, err := session.NewSession(session.Config{Transport: tr})
	require.NoError(t, err)
	disp.Register(s2)

	require.Len(t, disp.Sessions(), 2)

	s1.Terminate(0, "")
	assert.Len(t, disp.Sessions(), 1)

	disp.Remove(s2.Dialog())
	assert.Empty(t, disp.Sessions())
}
