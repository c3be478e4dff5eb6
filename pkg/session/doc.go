// Package session реализует сигнальное ядро SIP вызова: конечный автомат
// offer/answer переговоров (RFC 3264) поверх абстрактного SIP транспорта.
//
// Центральный тип - Session. Сессия владеет упорядоченным списком медиа
// линий (MediaEntry), позиции которых совпадают с позициями m= линий в
// SDP и никогда не уплотняются: удаленная линия оставляет nil слот.
// Исходящие протокольные действия выражаются через интерфейс Transport,
// входящие события маршрутизирует EventDispatcher.
//
// Ядро обрабатывает glare конфликты (491 Request Pending, RFC 3261 §14.1)
// через GlareResolver с асимметричными окнами повтора и откатывает
// неудавшиеся re-INVITE раунды к последнему согласованному удаленному
// описанию.
//
// Модель исполнения однопоточная, событийная: все мутации сессии
// сериализованы, колбэки вызываются синхронно и не должны повторно
// входить в методы сессии.
package session
