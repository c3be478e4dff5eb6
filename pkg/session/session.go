package session

import (
	"context"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"

	"github.com/arzzra/call_session/pkg/sdp"
)

// Callbacks содержит обработчики сигналов сессии.
//
// Сигналы вызываются синхронно из цикла обработки событий сессии.
// Обработчики не должны повторно входить в методы сессии - внешняя
// реакция (accept, hold, hangup) выполняется отдельным вызовом из
// цикла событий приложения.
type Callbacks struct {
	// OnStateChanged вызывается при каждом переходе состояния
	OnStateChanged func(oldState, newState SessionState)

	// OnMediaAdded вызывается при добавлении поддерживаемой медиа линии
	OnMediaAdded func(entry *MediaEntry)

	// OnMediaRemoved вызывается при закрытии медиа линии
	OnMediaRemoved func(entry *MediaEntry)

	// OnRinging/OnQueued/OnInProgress транзитные сигналы предварительных
	// ответов; не фиксируют переходы состояний
	OnRinging    func()
	OnQueued     func()
	OnInProgress func()

	// OnEnded вызывается ровно один раз при завершении сессии.
	// selfCaused=true, если завершение инициировано локальной стороной.
	OnEnded func(selfCaused bool, status int, message string)

	// OnRemoteHoldChanged вызывается при смене удержания удаленной стороной
	OnRemoteHoldChanged func(held bool)
}

// Config конфигурация сигнальной сессии
type Config struct {
	// Dialog идентификатор диалога; генерируется, если пуст
	Dialog DialogID

	// Incoming true для входящего вызова
	Incoming bool

	// ImmutableMedia запрещает изменение медиа после установления сессии
	ImmutableMedia bool

	// Transport нижележащий SIP стек (обязателен)
	Transport Transport

	// Callbacks обработчики сигналов сессии
	Callbacks Callbacks

	// SDP параметры генерации локальных описаний сессии
	SDP sdp.BuildConfig

	// Glare разрешитель glare конфликтов; создается по умолчанию
	Glare *GlareResolver

	// Logger опциональный логгер; NoOpLogger если nil
	Logger StructuredLogger

	// Metrics опциональный сборщик метрик
	Metrics *MetricsCollector
}

// Validate проверяет конфигурацию сессии
func (c *Config) Validate() error {
	if c.Transport == nil {
		return ErrInvalidConfig("Transport", "транспорт обязателен")
	}
	return nil
}

// Session управляет offer/answer переговорами одного сигнального диалога.
//
// Сессия владеет упорядоченным списком медиа линий, текущим и резервным
// снимками удаленного описания и дескриптором диалога. Модель исполнения
// однопоточная, событийная: все мутации сериализованы внутренним мьютексом,
// переходы состояний happens-before следующего события.
type Session struct {
	mu sync.Mutex

	dialog         DialogID
	incoming       bool
	immutableMedia bool

	transport  Transport
	callbacks  Callbacks
	glare      *GlareResolver
	log        StructuredLogger
	metrics    *MetricsCollector
	dispatcher *EventDispatcher

	ctx    context.Context
	cancel context.CancelFunc

	fsm *fsm.FSM

	// mediaEntries упорядоченный список медиа слотов. Длина никогда не
	// уменьшается: удаленная линия остается nil на своей позиции, чтобы
	// сохранить позиционную значимость m= линий (RFC 3264).
	mediaEntries []*MediaEntry

	// localSDP последний отправленный offer или answer
	localSDP string

	// remoteSDP текущее удаленное описание; backupRemoteSDP снимок
	// предыдущего поколения, существует только на время необработанного
	// re-INVITE для поддержки отката
	remoteSDP       *sdp.Snapshot
	backupRemoteSDP *sdp.Snapshot

	// remoteMediaLineCount число m= линий последнего удаленного offer
	// (не answer); answer обязан содержать ровно столько линий
	remoteMediaLineCount int

	acceptedLocally bool
	pendingOffer    bool

	holdRequested bool
	localHold     HoldState
	remoteHeld    bool

	sdpConfig  sdp.BuildConfig
	sdpVersion uint64

	glareTimer *time.Timer
}

// NewSession создает новую сигнальную сессию.
// Исходящая сессия считается принятой локально с момента создания:
// инициатор вызова очевидно согласен на него.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialog := cfg.Dialog
	if dialog == "" {
		dialog = NewDialogID()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = NoOpLogger{}
	}

	glare := cfg.Glare
	if glare == nil {
		glare = NewGlareResolver(GlareConfig{})
	}

	sdpCfg := cfg.SDP
	if sdpCfg.Address == "" {
		sdpCfg = sdp.DefaultBuildConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		dialog:          dialog,
		incoming:        cfg.Incoming,
		immutableMedia:  cfg.ImmutableMedia,
		transport:       cfg.Transport,
		callbacks:       cfg.Callbacks,
		glare:           glare,
		log:             logger.WithComponent("session").WithSession(dialog),
		metrics:         cfg.Metrics,
		ctx:             ctx,
		cancel:          cancel,
		acceptedLocally: !cfg.Incoming,
		sdpConfig:       sdpCfg,
	}
	s.initStateMachine()
	s.metrics.SessionCreated()
	return s, nil
}

// initStateMachine инициализирует конечный автомат offer/answer переговоров
func (s *Session) initStateMachine() {
	s.fsm = fsm.NewFSM(
		fsmCreated,
		fsm.Events{
			// Отправка offer: начальный INVITE или re-INVITE
			{Name: eventSendOffer, Src: []string{fsmCreated}, Dst: fsmInviteSent},
			{Name: eventSendOffer, Src: []string{fsmActive, fsmReinvitePending}, Dst: fsmReinviteSent},
			// Входящий начальный INVITE
			{Name: eventRecvOffer, Src: []string{fsmCreated}, Dst: fsmInviteReceived},
			// Входящий re-INVITE
			{Name: eventRecvReoffer, Src: []string{fsmActive, fsmResponseReceived, fsmReinvitePending}, Dst: fsmReinviteReceived},
			// Answer на наш offer
			{Name: eventRecvAnswer, Src: []string{fsmInviteSent, fsmReinviteSent}, Dst: fsmResponseReceived},
			// Пересечение кодеков завершилось, сессия активна
			{Name: eventSettle, Src: []string{fsmResponseReceived, fsmInviteReceived, fsmReinviteReceived}, Dst: fsmActive},
			// 491 на re-INVITE
			{Name: eventGlare, Src: []string{fsmReinviteSent}, Dst: fsmReinvitePending},
			// Завершение допустимо из любого состояния
			{Name: eventEnd, Src: []string{
				fsmCreated, fsmInviteSent, fsmInviteReceived, fsmResponseReceived,
				fsmActive, fsmReinviteSent, fsmReinvitePending, fsmReinviteReceived,
			}, Dst: fsmEnded},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				s.handleStateChange(e)
			},
		},
	)
}

// handleStateChange объявляет переход состояния подписчикам
func (s *Session) handleStateChange(e *fsm.Event) {
	if e.Src == e.Dst {
		return
	}
	oldState := fsmStateValues[e.Src]
	newState := fsmStateValues[e.Dst]
	s.metrics.StateTransition(oldState, newState)
	s.log.Debug("переход состояния",
		String("from", e.Src), String("to", e.Dst), String("event", e.Event))
	if s.callbacks.OnStateChanged != nil {
		s.callbacks.OnStateChanged(oldState, newState)
	}
}

// transition выполняет переход FSM по событию
func (s *Session) transition(event string) error {
	if err := s.fsm.Event(context.Background(), event); err != nil {
		return ErrInvalidStateTransition(s.stateLocked(), event).WithCause(err)
	}
	return nil
}

// State возвращает текущее состояние сессии
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() SessionState {
	return fsmStateValues[s.fsm.Current()]
}

// Dialog возвращает идентификатор сигнального диалога
func (s *Session) Dialog() DialogID { return s.dialog }

// IsIncoming сообщает, является ли вызов входящим
func (s *Session) IsIncoming() bool { return s.incoming }

// RemoteHeld сообщает, поставила ли удаленная сторона вызов на hold
func (s *Session) RemoteHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteHeld
}

// LocalHoldState возвращает агрегированное состояние локального hold
func (s *Session) LocalHoldState() HoldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localHold
}

// LocalSDP возвращает последний отправленный offer или answer
func (s *Session) LocalSDP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSDP
}

// MediaEntries возвращает копию списка медиа слотов.
// Nil элементы сохраняют позиции удаленных или неподдерживаемых линий.
func (s *Session) MediaEntries() []*MediaEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MediaEntry, len(s.mediaEntries))
	copy(out, s.mediaEntries)
	return out
}

// AddMedia добавляет медиа линию в конец списка.
//
// Неподдерживаемый тип добавляет nil слот: позиция резервируется, чтобы
// порядок m= линий не менялся, но линия не участвует в переговорах.
// Возвращает nil для неподдерживаемых типов.
func (s *Session) AddMedia(mediaType sdp.MediaType, name string, direction sdp.Direction, createdLocally bool) *MediaEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateLocked() == StateEnded {
		return nil
	}

	if mediaType == sdp.MediaTypeUnknown {
		s.log.Warn("неподдерживаемый тип медиа, позиция зарезервирована пустым слотом",
			String("name", name))
		s.mediaEntries = append(s.mediaEntries, nil)
		s.mediaChangedLocked()
		return nil
	}

	entry := newMediaEntry(s, mediaType, name, direction, createdLocally)
	s.mediaEntries = append(s.mediaEntries, entry)
	if s.callbacks.OnMediaAdded != nil {
		s.callbacks.OnMediaAdded(entry)
	}
	s.mediaChangedLocked()
	return entry
}

// RemoveMedia закрывает медиа линию, освобождая ее слот (слот остается
// в списке как nil). Если после удаления не осталось ни одной линии,
// сессия завершается с переданными статусом и причиной.
// Возвращает true, если линия была найдена и удалена.
func (s *Session) RemoveMedia(entry *MediaEntry, status int, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeMediaLocked(entry, status, reason) {
		s.mediaChangedLocked()
		return true
	}
	return false
}

func (s *Session) removeMediaLocked(entry *MediaEntry, status int, reason string) bool {
	found := false
	for i, e := range s.mediaEntries {
		if e == entry && e != nil {
			s.mediaEntries[i] = nil
			found = true
			break
		}
	}
	if !found {
		return false
	}

	if s.callbacks.OnMediaRemoved != nil {
		s.callbacks.OnMediaRemoved(entry)
	}

	if !s.hasUsableMediaLocked() {
		s.log.Info("не осталось медиа линий, сессия завершается",
			Int("status", int(status)), String("reason", reason))
		s.terminateLocked(status, reason)
	}
	return true
}

func (s *Session) hasUsableMediaLocked() bool {
	for _, e := range s.mediaEntries {
		if e != nil {
			return true
		}
	}
	return false
}

// mediaChangedLocked учитывает изменение локальной медиа конфигурации.
// Политика зависит от текущего состояния: немедленный offer, отметка
// pendingOffer для последующей отправки либо отказ при immutableMedia.
func (s *Session) mediaChangedLocked() {
	switch s.stateLocked() {
	case StateCreated:
		s.requestResponseStepLocked()

	case StateInviteReceived, StateReinviteReceived:
		// Новые линии сверх входящего offer не попадут в answer:
		// после него потребуется собственный offer
		if len(s.mediaEntries) > s.remoteMediaLineCount {
			s.pendingOffer = true
		}

	case StateInviteSent, StateReinviteSent, StateResponseReceived:
		// Раунд offer/answer уже в полете, новый offer отправить нельзя
		s.pendingOffer = true

	case StateActive, StateReinvitePending:
		if s.immutableMedia {
			s.log.Warn("изменение медиа отклонено: сессия сконфигурирована без ренегоциации")
			return
		}
		if s.allEntriesReadyLocked() {
			s.sendOfferLocked()
		} else {
			s.pendingOffer = true
		}

	case StateEnded:
		// no-op
	}
}

func (s *Session) allEntriesReadyLocked() bool {
	for _, e := range s.mediaEntries {
		if e != nil && !e.ready {
			return false
		}
	}
	return true
}

func (s *Session) anyIntersectPendingLocked() bool {
	for _, e := range s.mediaEntries {
		if e != nil && e.intersectPending {
			return true
		}
	}
	return false
}

// SetRemoteMedia принимает удаленное описание сессии (offer или answer).
// Центральная точка входа offer/answer переговоров.
//
// Возвращает false, только если обновление оставило сессию без единой
// пригодной медиа линии - в этом случае вызывающая сторона должна
// завершить сессию. Ошибка разбора означает, что граница транспорта
// пропустила структурно невалидный SDP.
func (s *Session) SetRemoteMedia(sdpText string) (bool, error) {
	snap, err := sdp.ParseSnapshot(sdpText)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setRemoteMediaLocked(snap), nil
}

func (s *Session) setRemoteMediaLocked(snap *sdp.Snapshot) bool {
	// Шаг 1: определяем, offer это или answer. Мы отправили offer -
	// значит это answer; иначе фиксируем число m= линий входящего offer,
	// ровно столько линий обязан содержать наш answer.
	switch s.stateLocked() {
	case StateInviteSent, StateReinviteSent:
		if err := s.transition(eventRecvAnswer); err != nil {
			s.log.Error("не удалось принять answer", Err(err))
			return s.hasUsableMediaLocked()
		}
	default:
		s.remoteMediaLineCount = snap.LineCount()
	}

	// Шаг 2: ретрансляция или no-op re-INVITE - медиа не трогаем,
	// но request/response шаг выполняем: локальное состояние
	// (например acceptedLocally) могло измениться
	if sdp.Equal(snap, s.remoteSDP) {
		s.log.Debug("удаленное описание не изменилось, переговоры пропущены")
		s.requestResponseStepLocked()
		return s.hasUsableMediaLocked()
	}

	// Шаг 3: резервная копия для возможного отката
	s.backupRemoteSDP = s.remoteSDP

	// Шаг 4: сохраняем владеющую копию и сопоставляем линии по позиции
	s.remoteSDP = snap.Clone()
	s.applyRemoteLinesLocked(true)

	// Завершаем отложенные пересечения кодеков. Откат или закрытие
	// последней линии могут завершить раунд досрочно.
	s.completePendingIntersectionsLocked()

	s.updateRemoteHeldLocked()

	// Шаг 5: всегда пробуем продвинуть протокол
	s.requestResponseStepLocked()
	return s.hasUsableMediaLocked()
}

// applyRemoteLinesLocked сопоставляет линии удаленного описания слотам
// медиа по позиции (не по содержимому). Линий больше, чем слотов -
// создаются новые записи; слотов больше, чем линий - лишние закрываются
// как несовпавшие, кроме случая, когда локальный offer уже ожидает
// отправки (тогда они уйдут в следующем offer).
func (s *Session) applyRemoteLinesLocked(authoritative bool) {
	snap := s.remoteSDP
	for i := 0; i < snap.LineCount(); i++ {
		line := snap.Line(i)

		if i >= len(s.mediaEntries) {
			if line.Rejected() || line.Type == sdp.MediaTypeUnknown {
				if line.Type == sdp.MediaTypeUnknown {
					s.log.Warn("не удается обработать этот тип медиа",
						String("media", line.TypeName), Int("position", i))
				}
				s.mediaEntries = append(s.mediaEntries, nil)
				continue
			}
			entry := newMediaEntry(s, line.Type, line.TypeName, sdp.DirectionSendRecv, false)
			s.mediaEntries = append(s.mediaEntries, entry)
			if s.callbacks.OnMediaAdded != nil {
				s.callbacks.OnMediaAdded(entry)
			}
			entry.setRemoteMedia(line, authoritative)
			continue
		}

		entry := s.mediaEntries[i]
		if entry == nil {
			// Удаленный или отклоненный слот остается пустым на все
			// время жизни сессии; в answer попадет отклоненная линия
			continue
		}

		switch {
		case line.Rejected():
			s.removeMediaLocked(entry, sip.StatusNotAcceptableHere, "rejected")
		case line.Type != entry.mediaType:
			s.log.Warn("смена типа медиа на существующем слоте не поддерживается",
				Int("position", i),
				String("was", entry.mediaType.String()),
				String("now", line.TypeName))
			s.removeMediaLocked(entry, sip.StatusNotAcceptableHere, "media type mismatch")
		case !entry.setRemoteMedia(line, authoritative):
			s.removeMediaLocked(entry, sip.StatusNotAcceptableHere, "cannot process this media type")
		}

		if s.stateLocked() == StateEnded {
			return
		}
	}

	// Слоты за пределами нового описания
	if !s.pendingOffer {
		for i := snap.LineCount(); i < len(s.mediaEntries); i++ {
			if entry := s.mediaEntries[i]; entry != nil {
				s.removeMediaLocked(entry, sip.StatusNotAcceptableHere, "media type mismatch")
				if s.stateLocked() == StateEnded {
					return
				}
			}
		}
	}
}

func (s *Session) completePendingIntersectionsLocked() {
	entries := make([]*MediaEntry, len(s.mediaEntries))
	copy(entries, s.mediaEntries)
	for _, e := range entries {
		st := s.stateLocked()
		if st == StateEnded || st == StateActive {
			// Откат уже вернул сессию в Active либо сессия завершена
			return
		}
		if e != nil && e.intersectPending {
			e.completeIntersection()
		}
	}
}

func (s *Session) updateRemoteHeldLocked() {
	held := false
	usable := 0
	for _, e := range s.mediaEntries {
		if e == nil || len(e.remoteCodecOffer) == 0 {
			continue
		}
		usable++
		if !e.remoteDirection.CanRecv() {
			held = true
		} else {
			held = false
			break
		}
	}
	if usable == 0 {
		return
	}
	if held != s.remoteHeld {
		s.remoteHeld = held
		if s.callbacks.OnRemoteHoldChanged != nil {
			s.callbacks.OnRemoteHoldChanged(held)
		}
	}
}

// requestResponseStepLocked пытается продвинуть протокол после каждого
// события, способного разблокировать прогресс. Если хотя бы одна линия
// еще не готова, шаг откладывается до сигнала готовности.
func (s *Session) requestResponseStepLocked() {
	if !s.allEntriesReadyLocked() {
		s.log.Trace("медиа линии не готовы, request/response шаг отложен")
		return
	}

	switch s.stateLocked() {
	case StateCreated:
		// Без единой медиа линии offer отправлять нечего
		if s.hasUsableMediaLocked() {
			s.sendOfferLocked()
		}

	case StateResponseReceived:
		if s.acceptedLocally && !s.anyIntersectPendingLocked() {
			if err := s.transition(eventSettle); err == nil {
				s.enterActiveLocked()
			}
		}

	case StateInviteReceived:
		if s.acceptedLocally && !s.anyIntersectPendingLocked() {
			s.sendAnswerLocked()
		}

	case StateReinviteReceived:
		if !s.anyIntersectPendingLocked() {
			s.sendAnswerLocked()
		}

	case StateActive, StateReinvitePending:
		if s.pendingOffer {
			s.sendOfferLocked()
		}

	default:
		s.log.Trace("request/response шаг: нет действия",
			String("state", s.stateLocked().String()))
	}
}

// sendOfferLocked генерирует и отправляет SDP offer (INVITE или re-INVITE).
// Offer содержит по одной m= линии на каждый слот в порядке слотов,
// включая отклоненные линии-заглушки для пустых слотов.
func (s *Session) sendOfferLocked() {
	reinvite := s.stateLocked() != StateCreated

	specs := make([]sdp.MediaSpec, 0, len(s.mediaEntries))
	for _, e := range s.mediaEntries {
		if e == nil {
			specs = append(specs, sdp.MediaSpec{Placeholder: true})
		} else {
			specs = append(specs, e.offerSpec())
		}
	}

	s.sdpVersion++
	cfg := s.sdpConfig
	cfg.SessionVersion = s.sdpVersion
	text, err := sdp.BuildDescription(cfg, specs)
	if err != nil {
		s.log.Error("не удалось сгенерировать offer", Err(err))
		s.terminateLocked(sip.StatusInternalServerError, "SDP generation failed")
		return
	}

	s.localSDP = text
	s.pendingOffer = false

	if err := s.transition(eventSendOffer); err != nil {
		s.log.Error("offer невозможен в текущем состоянии", Err(err))
		return
	}

	var timeout time.Duration
	if reinvite {
		timeout = ReinviteTimeout
	}
	if err := s.transport.SendInvite(s.ctx, s.dialog, text, reinvite, timeout); err != nil {
		s.metrics.ErrorOccurred(ErrorCategoryTransport)
		s.log.Error("транспорт отказался отправить INVITE", Err(err))
		s.terminateLocked(sip.StatusInternalServerError, "Transport failure")
	}
}

// sendAnswerLocked генерирует и отправляет SDP answer (200-класс ответа).
// Answer содержит ровно remoteMediaLineCount линий: наши слоты сверх
// входящего offer в него не попадают и уходят отдельным offer позже.
func (s *Session) sendAnswerLocked() {
	count := s.remoteMediaLineCount
	if count > len(s.mediaEntries) {
		count = len(s.mediaEntries)
	}

	specs := make([]sdp.MediaSpec, 0, count)
	for i := 0; i < count; i++ {
		e := s.mediaEntries[i]
		if e == nil {
			specs = append(specs, sdp.MediaSpec{Placeholder: true})
		} else {
			specs = append(specs, e.answerSpec())
		}
	}

	s.sdpVersion++
	cfg := s.sdpConfig
	cfg.SessionVersion = s.sdpVersion
	text, err := sdp.BuildDescription(cfg, specs)
	if err != nil {
		s.log.Error("не удалось сгенерировать answer", Err(err))
		s.terminateLocked(sip.StatusInternalServerError, "SDP generation failed")
		return
	}

	s.localSDP = text
	req := s.dispatcher.consumeDeferredRequest(s)

	if err := s.transport.SendResponse(s.ctx, s.dialog, sip.StatusOK, "OK", text, req); err != nil {
		s.metrics.ErrorOccurred(ErrorCategoryTransport)
		s.log.Error("транспорт отказался отправить answer", Err(err))
		s.terminateLocked(sip.StatusInternalServerError, "Transport failure")
		return
	}

	if err := s.transition(eventSettle); err != nil {
		s.log.Error("не удалось перейти в active после answer", Err(err))
		return
	}
	s.enterActiveLocked()
}

// enterActiveLocked фиксирует успешное завершение offer/answer раунда.
// Резервная копия удаленного описания больше не нужна. Если за время
// раунда накопились локальные изменения, немедленно отправляется новый
// offer - сессия самопереходит из Active в ReinviteSent.
func (s *Session) enterActiveLocked() {
	s.backupRemoteSDP = nil

	if s.holdRequested {
		s.localHold = HoldStateHeld
	} else {
		s.localHold = HoldStateNone
	}

	if s.pendingOffer && s.allEntriesReadyLocked() {
		s.sendOfferLocked()
	}
}

// onLocalNegotiationCompleteLocked обрабатывает завершение локальных
// переговоров одной линии.
//
// Пустое пересечение кодеков не фатально для сессии, но обрабатывается
// асимметрично: при начальных переговорах закрывается только линия
// (488 No codec intersection), а в ReinviteReceived откатывается весь
// раунд - ранее согласованное состояние линии уже активно и должно
// быть сохранено.
func (s *Session) onLocalNegotiationCompleteLocked(entry *MediaEntry, success bool) {
	if !success {
		s.metrics.ErrorOccurred(ErrorCategoryMedia)
		switch s.stateLocked() {
		case StateResponseReceived, StateInviteReceived:
			s.log.Info("пустое пересечение кодеков, линия закрывается")
			s.removeMediaLocked(entry, sip.StatusNotAcceptableHere, "No codec intersection")

		case StateReinviteReceived:
			s.log.Info("пустое пересечение кодеков в re-INVITE, откат раунда")
			s.rollbackLocked()

		case StateActive:
			// Запоздавшее уведомление после уже выполненного отката
			s.log.Debug("позднее уведомление о пустом пересечении проигнорировано")

		default:
			s.log.Error("пустое пересечение кодеков в недопустимом состоянии",
				String("state", s.stateLocked().String()))
		}
	}

	if s.stateLocked() != StateEnded {
		s.requestResponseStepLocked()
	}
}

// rollbackLocked откатывает неудавшийся re-INVITE раунд: восстанавливает
// удаленное описание из резервной копии, повторно применяет его без
// нового раунда переговоров и отвечает 488. Без резервной копии
// возвращаться не к чему - сессия завершается.
func (s *Session) rollbackLocked() {
	if s.backupRemoteSDP == nil {
		s.log.Warn("откат невозможен: нет резервной копии, сессия завершается")
		s.terminateLocked(sip.StatusNotAcceptableHere, "Not Acceptable")
		return
	}

	s.metrics.Rollback()
	s.remoteSDP = s.backupRemoteSDP
	s.backupRemoteSDP = nil
	s.remoteMediaLineCount = s.remoteSDP.LineCount()
	s.applyRemoteLinesLocked(false)

	req := s.dispatcher.consumeDeferredRequest(s)
	if err := s.transport.SendResponse(s.ctx, s.dialog, sip.StatusNotAcceptableHere, "Not Acceptable", "", req); err != nil {
		s.log.Error("транспорт отказался отправить 488", Err(err))
		s.terminateLocked(sip.StatusInternalServerError, "Transport failure")
		return
	}

	if err := s.transition(eventSettle); err != nil {
		s.log.Error("не удалось вернуться в active после отката", Err(err))
		return
	}
	s.enterActiveLocked()
}

// Accept принимает сессию локальной стороной. Идемпотентна, сама по себе
// состояние не меняет: прогресс происходит через request/response шаг.
func (s *Session) Accept() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acceptedLocally {
		return
	}
	s.acceptedLocally = true
	s.requestResponseStepLocked()
}

// Terminate завершает сессию. Идемпотентна: повторный вызов после
// завершения не дает эффекта. Протокольное действие выбирается по
// текущему состоянию: CANCEL для неотвеченного INVITE, финальный ответ
// для неотвеченного входящего offer (плюс BYE для re-INVITE - вызов
// все равно должен завершиться), BYE для установленной сессии.
//
// При нулевом статусе используется 480 Temporarily Unavailable
// с причиной "Terminated".
func (s *Session) Terminate(status int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminateLocked(status, reason)
}

func (s *Session) terminateLocked(status int, reason string) {
	st := s.stateLocked()
	if st == StateEnded {
		return
	}

	if status == 0 {
		status = sip.StatusTemporarilyUnavailable
		if reason == "" {
			reason = "Terminated"
		}
	}

	switch st {
	case StateCreated:
		// Переговоры не начинались, отправлять нечего

	case StateInviteSent:
		if err := s.transport.SendCancel(s.ctx, s.dialog); err != nil {
			s.log.Error("транспорт отказался отправить CANCEL", Err(err))
		}

	case StateInviteReceived:
		req := s.dispatcher.consumeDeferredRequest(s)
		if err := s.transport.SendResponse(s.ctx, s.dialog, status, reason, "", req); err != nil {
			s.log.Error("транспорт отказался отправить финальный ответ", Err(err))
		}

	case StateReinviteReceived:
		req := s.dispatcher.consumeDeferredRequest(s)
		if err := s.transport.SendResponse(s.ctx, s.dialog, status, reason, "", req); err != nil {
			s.log.Error("транспорт отказался отправить финальный ответ", Err(err))
		}
		// Ответ закрыл только re-INVITE транзакцию, вызов завершает BYE
		if err := s.transport.SendBye(s.ctx, s.dialog); err != nil {
			s.log.Error("транспорт отказался отправить BYE", Err(err))
		}

	default:
		// ResponseReceived, Active, ReinviteSent, ReinvitePending
		if err := s.transport.SendBye(s.ctx, s.dialog); err != nil {
			s.log.Error("транспорт отказался отправить BYE", Err(err))
		}
	}

	s.endLocked(true, status, reason)
}

// endLocked выполняет терминальный переход. Единственный переход с
// побочным эффектом, зашитым в саму транзицию: дескриптор диалога
// безусловно уничтожается, таймер glare и отложенный запрос снимаются,
// чтобы ни один колбэк не сработал по освобожденной сессии.
func (s *Session) endLocked(selfCaused bool, status int, message string) {
	if s.stateLocked() == StateEnded {
		return
	}
	if err := s.transition(eventEnd); err != nil {
		s.log.Error("не удалось завершить сессию", Err(err))
		return
	}

	if s.glareTimer != nil {
		s.glareTimer.Stop()
		s.glareTimer = nil
	}
	s.backupRemoteSDP = nil

	if s.dispatcher != nil {
		s.dispatcher.detach(s)
	}
	s.transport.DestroyDialog(s.dialog)
	s.cancel()
	s.metrics.SessionEnded()

	if s.callbacks.OnEnded != nil {
		s.callbacks.OnEnded(selfCaused, status, message)
	}
}

// SetHoldRequested запрашивает или снимает локальный hold.
// Идемпотентна при отсутствии изменения. Флаг распространяется на все
// медиа линии, после чего запускается обычная логика изменения медиа.
func (s *Session) SetHoldRequested(hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holdRequested == hold {
		return
	}
	s.holdRequested = hold
	if hold {
		s.localHold = HoldStateRequested
	} else {
		s.localHold = HoldStateUnholdRequested
	}

	for _, e := range s.mediaEntries {
		if e != nil {
			e.setHoldRequested(hold)
		}
	}
	s.mediaChangedLocked()
}

/* -------------------------------------------------
   Обработчики событий транспортного слоя
--------------------------------------------------*/

// handleRequest обрабатывает входящий INVITE или re-INVITE
func (s *Session) handleRequest(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked()
	switch st {
	case StateCreated:
		if err := s.transition(eventRecvOffer); err != nil {
			s.log.Error("не удалось принять входящий INVITE", Err(err))
			return
		}

	case StateActive, StateResponseReceived, StateReinvitePending:
		if st == StateReinvitePending && s.glareTimer != nil {
			// Удаленная сторона переслала свой offer первой,
			// наша перепосылка отменяется
			s.glareTimer.Stop()
			s.glareTimer = nil
		}
		if err := s.transition(eventRecvReoffer); err != nil {
			s.log.Error("не удалось принять re-INVITE", Err(err))
			return
		}

	default:
		// Нарушение контракта коллаборатором, а не нормальный путь
		s.metrics.ErrorOccurred(ErrorCategoryProtocol)
		s.log.Error("re-INVITE в недопустимом состоянии",
			String("state", st.String()))
		if err := s.transport.SendResponse(s.ctx, s.dialog, statusRequestPending, "Request Pending", "", ev.Request); err != nil {
			s.log.Error("транспорт отказался отклонить запрос", Err(err))
		}
		return
	}

	if ev.Request != nil {
		s.dispatcher.saveDeferredRequest(s, ev.Request)
	}

	if ev.RemoteSDP != "" {
		snap, err := sdp.ParseSnapshot(ev.RemoteSDP)
		if err != nil {
			// Граница обязана была отклонить невалидный SDP
			s.log.Error("невалидный SDP прошел границу транспорта", Err(err))
			s.terminateLocked(sip.StatusBadRequest, "Bad Request")
			return
		}
		if !s.setRemoteMediaLocked(snap) {
			s.terminateLocked(sip.StatusNotAcceptableHere, "No usable media")
		}
		return
	}
	s.requestResponseStepLocked()
}

// handleCancel обрабатывает входящий CANCEL
func (s *Session) handleCancel(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateLocked() == StateEnded {
		return
	}

	if req := s.dispatcher.consumeDeferredRequest(s); req != nil {
		if err := s.transport.SendResponse(s.ctx, s.dialog, sip.StatusRequestTerminated, "Request Terminated", "", req); err != nil {
			s.log.Error("транспорт отказался ответить 487", Err(err))
		}
	}

	// Причины 200 и 603 в заголовке Reason означают, что вызывающий
	// принял ответвление вызова на другой ветке - считаем завершение
	// "своим" (эвристика, сохранена как есть)
	selfCaused := ev.ReasonCause == 200 || ev.ReasonCause == 603
	s.endLocked(selfCaused, sip.StatusRequestTerminated, "Request Terminated")
}

// handleTerminated обрабатывает завершение диалога удаленной стороной
func (s *Session) handleTerminated(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(false, ev.Status, ev.Reason)
}

// handleCallState обрабатывает изменение состояния вызова: предварительные
// и финальные ответы и доставку offer/answer.
//
// Статусы ниже 200 предварительные: они порождают только транзитные
// сигналы (ringing/queued/in-progress) и не фиксируют переходы состояний.
func (s *Session) handleCallState(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateLocked() == StateEnded {
		return
	}

	switch ev.CallState {
	case CallStateProceeding:
		switch ev.Status {
		case sip.StatusRinging:
			if s.callbacks.OnRinging != nil {
				s.callbacks.OnRinging()
			}
		case sip.StatusQueued:
			if s.callbacks.OnQueued != nil {
				s.callbacks.OnQueued()
			}
		case sip.StatusSessionInProgress:
			if s.callbacks.OnInProgress != nil {
				s.callbacks.OnInProgress()
			}
		}

	case CallStateCompleting, CallStateReady:
		if ev.Status >= 300 {
			if ev.Status == statusRequestPending && s.stateLocked() == StateReinviteSent {
				s.resolveGlareLocked()
				return
			}
			// Финальная ошибка на offer завершает сессию
			s.endLocked(false, ev.Status, ev.Reason)
			return
		}
		if ev.RemoteSDP != "" {
			snap, err := sdp.ParseSnapshot(ev.RemoteSDP)
			if err != nil {
				s.log.Error("невалидный SDP прошел границу транспорта", Err(err))
				s.terminateLocked(sip.StatusBadRequest, "Bad Request")
				return
			}
			if !s.setRemoteMediaLocked(snap) {
				s.terminateLocked(sip.StatusNotAcceptableHere, "No usable media")
			}
			return
		}
		s.requestResponseStepLocked()

	case CallStateTerminated:
		s.endLocked(false, ev.Status, ev.Reason)
	}
}
