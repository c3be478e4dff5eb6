package session

import (
	"context"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_session/pkg/sdp"
)

// captureTransport минимальный транспорт для внутренних тестов
type captureTransport struct {
	responses []int
	byes      int
	destroys  int
}

func (c *captureTransport) SendInvite(context.Context, DialogID, string, bool, time.Duration) error {
	return nil
}

func (c *captureTransport) SendResponse(_ context.Context, _ DialogID, status int, _ string, _ string, _ *sip.Request) error {
	c.responses = append(c.responses, status)
	return nil
}

func (c *captureTransport) SendBye(context.Context, DialogID) error {
	c.byes++
	return nil
}

func (c *captureTransport) SendCancel(context.Context, DialogID) error { return nil }

func (c *captureTransport) DestroyDialog(DialogID) { c.destroys++ }

// TestRollbackWithoutBackupTerminates проверяет, что откат без резервной
// копии завершает сессию: возвращаться не к чему
func TestRollbackWithoutBackupTerminates(t *testing.T) {
	tr := &captureTransport{}
	endedCount := 0
	s, err := NewSession(Config{
		Transport: tr,
		Callbacks: Callbacks{
			OnEnded: func(bool, int, string) { endedCount++ },
		},
	})
	require.NoError(t, err)

	entry := s.AddMedia(sdp.MediaTypeAudio, "audio", sdp.DirectionSendRecv, true)
	require.NotNil(t, entry)

	s.mu.Lock()
	s.fsm.SetState(fsmReinviteReceived)
	require.Nil(t, s.backupRemoteSDP)
	s.rollbackLocked()
	s.mu.Unlock()

	assert.Equal(t, StateEnded, s.State())
	assert.Equal(t, 1, endedCount)
	assert.Contains(t, tr.responses, sip.StatusNotAcceptableHere)
	assert.Equal(t, 1, tr.byes, "Ending a session with an unanswered re-offer still sends BYE")
	assert.Equal(t, 1, tr.destroys)
}

// TestDeferredRequestDoubleSave проверяет, что повторное сохранение
// отложенного запроса заменяет предыдущий (с предупреждением в лог)
func TestDeferredRequestDoubleSave(t *testing.T) {
	tr := &captureTransport{}
	d := NewEventDispatcher(DispatcherConfig{Transport: tr})
	s, err := NewSession(Config{Transport: tr})
	require.NoError(t, err)
	d.Register(s)

	var uri sip.Uri
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &uri))
	req1 := sip.NewRequest(sip.INVITE, uri)
	req2 := sip.NewRequest(sip.INVITE, uri)

	d.saveDeferredRequest(s, req1)
	d.saveDeferredRequest(s, req2)

	got := d.consumeDeferredRequest(s)
	assert.Same(t, req2, got, "The replacement request takes the slot")
	assert.Nil(t, d.consumeDeferredRequest(s), "Slot must be cleared after consumption")
}

// TestDetachDiscardsDeferred проверяет, что надгробие диалога отбрасывает
// отложенный запрос
func TestDetachDiscardsDeferred(t *testing.T) {
	tr := &captureTransport{}
	d := NewEventDispatcher(DispatcherConfig{Transport: tr})
	s, err := NewSession(Config{Transport: tr})
	require.NoError(t, err)
	d.Register(s)

	var uri sip.Uri
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &uri))
	d.saveDeferredRequest(s, sip.NewRequest(sip.INVITE, uri))

	d.detach(s)
	assert.Nil(t, d.consumeDeferredRequest(s))
}

// TestAddMediaAfterEnd проверяет, что завершенная сессия не принимает
// новые медиа линии
func TestAddMediaAfterEnd(t *testing.T) {
	tr := &captureTransport{}
	s, err := NewSession(Config{Transport: tr})
	require.NoError(t, err)

	s.Terminate(0, "")
	assert.Nil(t, s.AddMedia(sdp.MediaTypeAudio, "audio", sdp.DirectionSendRecv, true))
	assert.Empty(t, s.MediaEntries())
}

// TestDialogIDUniqueness проверяет уникальность генерируемых
// идентификаторов диалогов
func TestDialogIDUniqueness(t *testing.T) {
	seen := make(map[DialogID]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewDialogID()
		_, dup := seen[id]
		require.False(t, dup, "Dialog IDs must not collide")
		seen[id] = struct{}{}
	}
}
