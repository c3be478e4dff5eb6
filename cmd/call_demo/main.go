// call_demo демонстрирует полный жизненный цикл сигнальной сессии на
// loopback транспорте: установление вызова, hold и завершение, без
// реальной сети.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/call_session/pkg/callcontrol"
	"github.com/arzzra/call_session/pkg/sdp"
	"github.com/arzzra/call_session/pkg/session"
)

// loopback доставляет исходящие действия очереди событий удаленной
// стороны. Доставка асинхронная: транспортный вызов никогда не
// блокирует цикл событий отправителя.
type loopback struct {
	name string
	peer chan session.Event
}

func newLoopback(name string, peer chan session.Event) *loopback {
	return &loopback{name: name, peer: peer}
}

func (t *loopback) deliver(ev session.Event) {
	t.peer <- ev
}

func (t *loopback) SendInvite(_ context.Context, dialog session.DialogID, offer string, reinvite bool, _ time.Duration) error {
	log.Printf("[%s] -> INVITE (reinvite=%v)", t.name, reinvite)
	go t.deliver(session.Event{
		Kind:      session.EventRequest,
		Dialog:    dialog,
		RemoteSDP: offer,
	})
	return nil
}

func (t *loopback) SendResponse(_ context.Context, dialog session.DialogID, status int, reason, answer string, _ *sip.Request) error {
	log.Printf("[%s] -> %d %s", t.name, status, reason)
	ev := session.Event{
		Kind:      session.EventCallState,
		Dialog:    dialog,
		Status:    status,
		Reason:    reason,
		RemoteSDP: answer,
	}
	switch {
	case status < 200:
		ev.CallState = session.CallStateProceeding
	case status < 300:
		ev.CallState = session.CallStateReady
	default:
		ev.CallState = session.CallStateCompleting
	}
	go t.deliver(ev)
	return nil
}

func (t *loopback) SendBye(_ context.Context, dialog session.DialogID) error {
	log.Printf("[%s] -> BYE", t.name)
	go t.deliver(session.Event{
		Kind:   session.EventTerminated,
		Dialog: dialog,
		Status: sip.StatusOK,
		Reason: "Normal Clearing",
	})
	return nil
}

func (t *loopback) SendCancel(_ context.Context, dialog session.DialogID) error {
	log.Printf("[%s] -> CANCEL", t.name)
	go t.deliver(session.Event{Kind: session.EventCancel, Dialog: dialog})
	return nil
}

func (t *loopback) DestroyDialog(session.DialogID) {
	log.Printf("[%s] диалог освобожден", t.name)
}

func main() {
	var (
		debug = flag.Bool("debug", false, "Подробное логирование сигнального ядра")
	)
	flag.Parse()

	logger := session.NewDefaultLogger()
	if *debug {
		logger.SetLevel(session.LogLevelDebug)
	}

	registry := prometheus.NewRegistry()
	metrics := session.NewMetricsCollector(registry)
	glare := session.NewGlareResolver(session.GlareConfig{})

	// Обе стороны разделяют идентификатор диалога: loopback транспорт
	// коррелирует события по нему
	dialogID := session.NewDialogID()

	queueA := make(chan session.Event, 16)
	queueB := make(chan session.Event, 16)

	trAlice := newLoopback("alice", queueB)
	trBob := newLoopback("bob", queueA)

	dispAlice := session.NewEventDispatcher(session.DispatcherConfig{
		Transport: trAlice, Logger: logger, Metrics: metrics,
	})
	dispBob := session.NewEventDispatcher(session.DispatcherConfig{
		Transport: trBob, Logger: logger, Metrics: metrics,
	})

	// Bob: входящая сторона, автоматически принимает вызов
	modelBob := &printModel{name: "bob"}
	adapterBob := callcontrol.New(modelBob, logger)
	bobCallbacks := adapterBob.Callbacks()
	bobCallbacks.OnMediaAdded = func(entry *session.MediaEntry) {
		// Локальные переговоры входящей линии: кодеки и порт от
		// медиа коллаборатора
		go func() {
			entry.TakeLocalCodecs([]sdp.Codec{{ID: 0, Name: "PCMU", ClockRate: 8000}})
			entry.SetLocalPort(20002)
			entry.MarkReady()
		}()
	}

	bob, err := session.NewSession(session.Config{
		Dialog:    dialogID,
		Incoming:  true,
		Transport: trBob,
		Callbacks: bobCallbacks,
		Logger:    logger,
		Metrics:   metrics,
		Glare:     glare,
		SDP:       sdp.BuildConfig{SessionName: "bob", Username: "bob", Address: "127.0.0.1"},
	})
	if err != nil {
		log.Fatalf("не удалось создать сессию bob: %v", err)
	}
	adapterBob.Bind(bob)
	dispBob.Register(bob)
	go bob.Accept()

	// Alice: исходящая сторона
	modelAlice := &printModel{name: "alice"}
	adapterAlice := callcontrol.New(modelAlice, logger)
	alice, err := session.NewSession(session.Config{
		Dialog:    dialogID,
		Transport: trAlice,
		Callbacks: adapterAlice.Callbacks(),
		Logger:    logger,
		Metrics:   metrics,
		Glare:     glare,
		SDP:       sdp.BuildConfig{SessionName: "alice", Username: "alice", Address: "127.0.0.1"},
	})
	if err != nil {
		log.Fatalf("не удалось создать сессию alice: %v", err)
	}
	adapterAlice.Bind(alice)
	dispAlice.Register(alice)

	// Циклы событий обеих сторон
	go pump(dispAlice, queueA)
	go pump(dispBob, queueB)

	// Сценарий: вызов -> active -> hold -> снятие hold -> завершение
	entry := adapterAlice.AddContent(sdp.MediaTypeAudio, "audio")
	entry.TakeLocalCodecs([]sdp.Codec{
		{ID: 0, Name: "PCMU", ClockRate: 8000},
		{ID: 8, Name: "PCMA", ClockRate: 8000},
	})
	entry.SetLocalPort(10002)
	entry.MarkReady()

	if !waitState(alice, session.StateActive, 3*time.Second) {
		log.Fatalf("вызов не установился, состояние alice: %s", alice.State())
	}
	fmt.Println("== вызов установлен ==")

	adapterAlice.SetHold(true)
	if !waitHold(alice, session.HoldStateHeld, 3*time.Second) {
		log.Fatalf("hold не подтвержден, состояние: %s", alice.LocalHoldState())
	}
	fmt.Println("== вызов на удержании ==")

	adapterAlice.SetHold(false)
	if !waitHold(alice, session.HoldStateNone, 3*time.Second) {
		log.Fatalf("снятие hold не подтверждено")
	}
	fmt.Println("== удержание снято ==")

	adapterAlice.Hangup(0, "")
	if !waitState(bob, session.StateEnded, 3*time.Second) {
		log.Fatalf("bob не завершил сессию")
	}
	fmt.Println("== вызов завершен ==")

	families, err := registry.Gather()
	if err == nil {
		for _, mf := range families {
			fmt.Printf("метрика %s: %d серий\n", mf.GetName(), len(mf.GetMetric()))
		}
	}
	os.Exit(0)
}

// pump прокачивает очередь событий в диспетчер стороны
func pump(d *session.EventDispatcher, queue chan session.Event) {
	for ev := range queue {
		d.Dispatch(ev)
	}
}

func waitState(s *session.Session, want session.SessionState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func waitHold(s *session.Session, want session.HoldState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.LocalHoldState() == want {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// printModel модель вызова, печатающая уведомления в stdout
type printModel struct {
	name string
}

func (m *printModel) SetRinging()    { fmt.Printf("[%s] звонит\n", m.name) }
func (m *printModel) SetQueued()     { fmt.Printf("[%s] в очереди\n", m.name) }
func (m *printModel) SetInProgress() { fmt.Printf("[%s] соединение устанавливается\n", m.name) }

func (m *printModel) RemoteAccepted() {
	fmt.Printf("[%s] удаленная сторона приняла вызов\n", m.name)
}

func (m *printModel) ContentAdded(entry *session.MediaEntry) {
	fmt.Printf("[%s] медиа поток добавлен: %s\n", m.name, entry.Name())
}

func (m *printModel) ContentRemoved(entry *session.MediaEntry) {
	fmt.Printf("[%s] медиа поток закрыт: %s\n", m.name, entry.Name())
}

func (m *printModel) RemoteHoldChanged(held bool) {
	fmt.Printf("[%s] удаленное удержание: %v\n", m.name, held)
}

func (m *printModel) CallEnded(actor callcontrol.Actor, reason callcontrol.EndReason, status int, message string) {
	fmt.Printf("[%s] вызов завершен: actor=%s reason=%s status=%d %s\n",
		m.name, actor, reason, status, message)
}
