package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector собирает метрики сигнального ядра через Prometheus.
// Nil-коллектор валиден и отключает сбор метрик.
type MetricsCollector struct {
	sessionsTotal    prometheus.Counter
	sessionsActive   prometheus.Gauge
	stateTransitions *prometheus.CounterVec
	glareRetries     prometheus.Counter
	rollbacksTotal   prometheus.Counter
	errorsTotal      *prometheus.CounterVec
}

// NewMetricsCollector создает сборщик метрик и регистрирует их в reg.
// При reg == nil используется реестр по умолчанию.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &MetricsCollector{
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "call_session_sessions_total",
			Help: "Общее количество созданных сигнальных сессий",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "call_session_sessions_active",
			Help: "Количество активных сигнальных сессий",
		}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_session_state_transitions_total",
			Help: "Переходы состояний сессий",
		}, []string{"from", "to"}),
		glareRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "call_session_glare_retries_total",
			Help: "Повторы offer после 491 Request Pending",
		}),
		rollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "call_session_rollbacks_total",
			Help: "Откаты неудавшихся re-INVITE раундов",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_session_errors_total",
			Help: "Ошибки по категориям",
		}, []string{"category"}),
	}

	reg.MustRegister(
		m.sessionsTotal,
		m.sessionsActive,
		m.stateTransitions,
		m.glareRetries,
		m.rollbacksTotal,
		m.errorsTotal,
	)
	return m
}

// SessionCreated учитывает создание сессии
func (m *MetricsCollector) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

// SessionEnded учитывает завершение сессии
func (m *MetricsCollector) SessionEnded() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// StateTransition учитывает переход состояния
func (m *MetricsCollector) StateTransition(from, to SessionState) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// GlareRetry учитывает повтор offer после glare конфликта
func (m *MetricsCollector) GlareRetry() {
	if m == nil {
		return
	}
	m.glareRetries.Inc()
}

// Rollback учитывает откат re-INVITE раунда
func (m *MetricsCollector) Rollback() {
	if m == nil {
		return
	}
	m.rollbacksTotal.Inc()
}

// ErrorOccurred учитывает ошибку по категории
func (m *MetricsCollector) ErrorOccurred(category ErrorCategory) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(category.String()).Inc()
}
