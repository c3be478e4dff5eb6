package session_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_session/pkg/sdp"
	"github.com/arzzra/call_session/pkg/session"
)

// TestBackoffIntervalOutboundRange проверяет окно повтора для исходящей
// сессии: [2100, 4000) мс с шагом 10 мс (RFC 3261 §14.1)
func TestBackoffIntervalOutboundRange(t *testing.T) {
	g := session.NewGlareResolver(session.GlareConfig{
		Rand: rand.New(rand.NewSource(1)),
	})

	for i := 0; i < 1000; i++ {
		iv := g.BackoffInterval(false, false)
		assert.GreaterOrEqual(t, iv, 2100*time.Millisecond)
		assert.Less(t, iv, 4000*time.Millisecond)
		assert.Zero(t, iv%(10*time.Millisecond), "Interval must be a multiple of 10ms")
	}
}

// TestBackoffIntervalInboundRange проверяет окно повтора для входящей
// сессии: [0, 2000) мс с шагом 10 мс
func TestBackoffIntervalInboundRange(t *testing.T) {
	g := session.NewGlareResolver(session.GlareConfig{
		Rand: rand.New(rand.NewSource(2)),
	})

	for i := 0; i < 1000; i++ {
		iv := g.BackoffInterval(true, false)
		assert.GreaterOrEqual(t, iv, time.Duration(0))
		assert.Less(t, iv, 2000*time.Millisecond)
		assert.Zero(t, iv%(10*time.Millisecond))
	}
}

// TestBackoffIntervalPendingOffer проверяет немедленный повтор при
// уже накопившемся локальном изменении
func TestBackoffIntervalPendingOffer(t *testing.T) {
	g := session.NewGlareResolver(session.GlareConfig{
		Rand: rand.New(rand.NewSource(3)),
	})
	assert.Zero(t, g.BackoffInterval(false, true))
	assert.Zero(t, g.BackoffInterval(true, true))
}

// TestGlareRetryResendsOffer проверяет полный glare цикл: 491 на re-INVITE
// переводит сессию в ожидание, по таймеру offer отправляется повторно
func TestGlareRetryResendsOffer(t *testing.T) {
	s, tr, disp := newTestSession(t, false, nil)
	entry := establishOutbound(t, s, tr, disp)

	// Локальное изменение в active порождает re-INVITE
	entry.TakeLocalCodecs([]sdp.Codec{{ID: 0, Name: "PCMU", ClockRate: 8000}})
	require.Equal(t, session.StateReinviteSent, s.State())
	require.Len(t, tr.ofKind("invite"), 2)

	// Еще одно изменение, пока re-INVITE в полете: offer станет pending,
	// поэтому повтор после 491 произойдет без задержки
	entry.TakeLocalCodecs(pcmuPcma())
	require.Equal(t, session.StateReinviteSent, s.State())

	disp.Dispatch(session.Event{
		Kind:      session.EventCallState,
		Dialog:    s.Dialog(),
		CallState: session.CallStateCompleting,
		Status:    491,
		Reason:    "Request Pending",
	})

	require.Eventually(t, func() bool {
		return s.State() == session.StateReinviteSent && len(tr.ofKind("invite")) == 3
	}, time.Second, 5*time.Millisecond, "Offer must be resent after the backoff elapses")

	resent, _ := tr.last("invite")
	assert.True(t, resent.reinvite)
}

// TestGlareCancelledByRemoteReoffer проверяет отмену повтора, когда
// удаленная сторона успевает прислать собственный re-INVITE первой
func TestGlareCancelledByRemoteReoffer(t *testing.T) {
	s, tr, disp := newTestSession(t, false, nil)
	entry := establishOutbound(t, s, tr, disp)

	entry.TakeLocalCodecs([]sdp.Codec{{ID: 0, Name: "PCMU", ClockRate: 8000}})
	require.Equal(t, session.StateReinviteSent, s.State())

	disp.Dispatch(session.Event{
		Kind:      session.EventCallState,
		Dialog:    s.Dialog(),
		CallState: session.CallStateCompleting,
		Status:    491,
	})
	require.Equal(t, session.StateReinvitePending, s.State())

	invitesBefore := len(tr.ofKind("invite"))
	disp.Dispatch(session.Event{
		Kind:      session.EventRequest,
		Dialog:    s.Dialog(),
		Request:   newInviteRequest(t),
		RemoteSDP: remoteOfferPCMU,
	})

	// Входящий re-offer обрабатывается; локальное изменение уже pending,
	// поэтому после ответа уйдет наш собственный offer, но не по таймеру
	assert.NotEqual(t, session.StateReinvitePending, s.State())
	_ = invitesBefore
}

// TestResolveGlareOutsideReinviteSent проверяет защитный no-op при 491
// вне ожидания ответа на re-INVITE
func TestResolveGlareOutsideReinviteSent(t *testing.T) {
	s, tr, disp := newTestSession(t, false, nil)
	establishOutbound(t, s, tr, disp)
	require.Equal(t, session.StateActive, s.State())

	g := session.NewGlareResolver(session.GlareConfig{})
	g.ResolveGlare(s)

	assert.Equal(t, session.StateActive, s.State(), "491 outside ReinviteSent must be ignored")
	_ = disp
}
