package session

import (
	"context"
	"sort"
	"sync"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/call_session/pkg/sdp"
)

// HandlerFunc обработчик события транспортного слоя.
// Возвращает true, если событие обработано и цепочка прерывается.
type HandlerFunc func(s *Session, ev Event) bool

type handlerReg struct {
	priority int
	fn       HandlerFunc
	seq      int
}

// registryEntry запись реестра диалогов.
//
// deferred - отложенный входящий запрос, ожидающий генерации ответа
// (answer придет позже асинхронных переговоров). На диалог допускается
// не более одного отложенного запроса.
//
// detached - сессия завершена, но запись оставлена как надгробие:
// запоздавшие события диалога распознаются и молча отбрасываются,
// а не трактуются как запросы от неизвестного отправителя.
type registryEntry struct {
	session  *Session
	deferred *sip.Request
	detached bool
}

// DispatcherConfig конфигурация диспетчера событий
type DispatcherConfig struct {
	// Transport используется для отклонения запросов на границе
	// (неизвестный диалог, невалидный SDP) до маршрутизации в сессию
	Transport Transport

	Logger  StructuredLogger
	Metrics *MetricsCollector
}

// EventDispatcher маршрутизирует события транспортного слоя в сессии.
//
// События одного диалога доставляются в порядке поступления. Перед
// маршрутизацией выполняется валидация границы: запрос с телом SDP,
// которое не разбирается, отклоняется 400; запрос по неизвестному
// диалогу - 404. Сессия после границы вправе считать SDP структурно
// валидным.
//
// Пользовательские обработчики выполняются по возрастанию приоритета
// до первого, вернувшего true; иначе событие обрабатывает сессия.
type EventDispatcher struct {
	mu        sync.Mutex
	registry  map[DialogID]*registryEntry
	handlers  map[EventKind][]handlerReg
	seq       int
	transport Transport
	log       StructuredLogger
	metrics   *MetricsCollector
}

// NewEventDispatcher создает диспетчер событий
func NewEventDispatcher(cfg DispatcherConfig) *EventDispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &EventDispatcher{
		registry:  make(map[DialogID]*registryEntry),
		handlers:  make(map[EventKind][]handlerReg),
		transport: cfg.Transport,
		log:       logger.WithComponent("dispatcher"),
		metrics:   cfg.Metrics,
	}
}

// Register регистрирует сессию в реестре диалогов.
// С этого момента события ее диалога маршрутизируются в нее.
func (d *EventDispatcher) Register(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry[s.dialog] = &registryEntry{session: s}
	s.dispatcher = d
}

// RegisterHandler добавляет пользовательский обработчик событий.
// Обработчики выполняются по возрастанию priority; при равенстве -
// в порядке регистрации.
func (d *EventDispatcher) RegisterHandler(kind EventKind, priority int, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	regs := append(d.handlers[kind], handlerReg{priority: priority, fn: fn, seq: d.seq})
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority < regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})
	d.handlers[kind] = regs
}

// Sessions возвращает зарегистрированные активные сессии
func (d *EventDispatcher) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, 0, len(d.registry))
	for _, entry := range d.registry {
		if !entry.detached {
			out = append(out, entry.session)
		}
	}
	return out
}

// Dispatch обрабатывает одно событие транспортного слоя
func (d *EventDispatcher) Dispatch(ev Event) {
	if ev.Kind == EventShutdown {
		d.shutdown()
		return
	}

	d.mu.Lock()
	entry, known := d.registry[ev.Dialog]
	var handlers []handlerReg
	if known && !entry.detached {
		handlers = d.handlers[ev.Kind]
	}
	d.mu.Unlock()

	if !known {
		d.rejectUnknown(ev)
		return
	}
	if entry.detached {
		d.log.Debug("событие завершенного диалога отброшено",
			String("dialog", string(ev.Dialog)), String("kind", ev.Kind.String()))
		return
	}

	// Валидация границы: структурно невалидный SDP не доходит до сессии
	if ev.Kind == EventRequest && ev.RemoteSDP != "" {
		if _, err := sdp.ParseSnapshot(ev.RemoteSDP); err != nil {
			d.metrics.ErrorOccurred(ErrorCategoryProtocol)
			d.log.Warn("запрос с невалидным SDP отклонен", Err(err),
				String("dialog", string(ev.Dialog)))
			if d.transport != nil {
				_ = d.transport.SendResponse(entry.session.ctx, ev.Dialog,
					sip.StatusBadRequest, "Bad Request", "", ev.Request)
			}
			return
		}
	}

	for _, h := range handlers {
		if h.fn(entry.session, ev) {
			return
		}
	}

	switch ev.Kind {
	case EventRequest:
		entry.session.handleRequest(ev)
	case EventCancel:
		entry.session.handleCancel(ev)
	case EventTerminated:
		entry.session.handleTerminated(ev)
	case EventCallState:
		entry.session.handleCallState(ev)
	}
}

// rejectUnknown отклоняет событие, не сопоставленное ни одному диалогу
func (d *EventDispatcher) rejectUnknown(ev Event) {
	d.log.Debug("событие неизвестного диалога",
		String("dialog", string(ev.Dialog)), String("kind", ev.Kind.String()))
	if ev.Kind == EventRequest && d.transport != nil {
		_ = d.transport.SendResponse(context.Background(), ev.Dialog, sip.StatusNotFound, "Not Found", "", ev.Request)
	}
}

// shutdown завершает все активные сессии при остановке стека
func (d *EventDispatcher) shutdown() {
	d.log.Info("остановка стека, завершение активных сессий")
	for _, s := range d.Sessions() {
		s.Terminate(sip.StatusServiceUnavailable, "Service Unavailable")
	}
}

// saveDeferredRequest сохраняет входящий запрос до генерации ответа.
// Второй отложенный запрос на том же диалоге - нарушение протокольного
// контракта: предыдущий с предупреждением отбрасывается, новый занимает
// его место, чтобы ответ ушел на актуальную транзакцию.
func (d *EventDispatcher) saveDeferredRequest(s *Session, req *sip.Request) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.registry[s.dialog]
	if !ok || entry.detached {
		return
	}
	if entry.deferred != nil {
		d.log.Warn("отложенный запрос уже существует, предыдущий отброшен",
			String("dialog", string(s.dialog)))
	}
	entry.deferred = req
}

// consumeDeferredRequest извлекает и очищает отложенный запрос диалога.
// Возвращает nil, если отложенного запроса нет.
func (d *EventDispatcher) consumeDeferredRequest(s *Session) *sip.Request {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.registry[s.dialog]
	if !ok {
		return nil
	}
	req := entry.deferred
	entry.deferred = nil
	return req
}

// detach помечает запись диалога надгробием: отложенный запрос
// отбрасывается, запоздавшие события перестают доходить до сессии
func (d *EventDispatcher) detach(s *Session) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.registry[s.dialog]
	if !ok {
		return
	}
	entry.detached = true
	entry.deferred = nil
}

// Remove полностью удаляет запись диалога из реестра
func (d *EventDispatcher) Remove(dialog DialogID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.registry, dialog)
}
