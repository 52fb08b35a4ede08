// Package metrics собирает Prometheus метрики сигнального ядра:
// транзакции, потери регистрации, keep-alive и переходы сессий.
//
// Все методы Collector безопасны для nil получателя и выключенного
// сборщика, поэтому компоненты вызывают их без проверок.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты транзакции для метки result
const (
	ResultTimeout   = "timeout"
	ResultTransport = "transport_error"
	ResultPayload   = "payload_error"
)

// Источники периода keep-alive
const (
	KeepAliveNegotiated = "negotiated"
	KeepAliveDefault    = "default"
)

// Config конфигурация сборщика
type Config struct {
	Enabled   bool
	Namespace string
	Subsystem string

	// Registerer куда регистрировать метрики. nil создает отдельный реестр.
	Registerer prometheus.Registerer
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Namespace: "rcs",
		Subsystem: "core",
	}
}

// Collector Prometheus метрики ядра
type Collector struct {
	transactionsTotal   *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	registrationLosses  prometheus.Counter
	keepAliveUpdates    *prometheus.CounterVec
	stateTransitions    *prometheus.CounterVec
	sessionsActive      prometheus.Gauge
	errorsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
	enabled  bool
}

// New создает сборщик метрик
func New(config *Config) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{enabled: false}
	}

	c := &Collector{enabled: true}
	reg := config.Registerer
	if reg == nil {
		c.registry = prometheus.NewRegistry()
		reg = c.registry
	}
	factory := promauto.With(reg)
	ns, sub := config.Namespace, config.Subsystem

	c.transactionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "transactions_total",
		Help:      "Total number of client transactions by method and result",
	}, []string{"method", "result"})

	c.transactionDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "transaction_duration_seconds",
		Help:      "Time from request send to final response",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"method"})

	c.registrationLosses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "registration_losses_total",
		Help:      "Number of 403 responses without Warning that triggered re-registration",
	})

	c.keepAliveUpdates = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "keepalive_updates_total",
		Help:      "Keep-alive period updates by source",
	}, []string{"source"})

	c.stateTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "session_state_transitions_total",
		Help:      "Session lifecycle transitions by target state",
	}, []string{"state"})

	c.sessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "sessions_active",
		Help:      "Number of sessions that have not reached a terminal state",
	})

	c.errorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "errors_total",
		Help:      "Errors by category",
	}, []string{"category"})

	return c
}

// Registry собственный реестр сборщика, nil если реестр передан снаружи
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordResponse финальный ответ на клиентскую транзакцию
func (c *Collector) RecordResponse(method string, statusCode int, duration time.Duration) {
	if c == nil || !c.enabled {
		return
	}
	c.transactionsTotal.WithLabelValues(method, StatusClass(statusCode)).Inc()
	c.transactionDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordFailure транзакция завершилась без ответа
func (c *Collector) RecordFailure(method, result string) {
	if c == nil || !c.enabled {
		return
	}
	c.transactionsTotal.WithLabelValues(method, result).Inc()
}

// RegistrationLost 403 без Warning
func (c *Collector) RegistrationLost() {
	if c == nil || !c.enabled {
		return
	}
	c.registrationLosses.Inc()
}

// KeepAliveUpdated период keep-alive изменен
func (c *Collector) KeepAliveUpdated(source string) {
	if c == nil || !c.enabled {
		return
	}
	c.keepAliveUpdates.WithLabelValues(source).Inc()
}

// SessionTransition переход сессии в состояние state
func (c *Collector) SessionTransition(state string) {
	if c == nil || !c.enabled {
		return
	}
	c.stateTransitions.WithLabelValues(state).Inc()
}

// SessionStarted сессия создана
func (c *Collector) SessionStarted() {
	if c == nil || !c.enabled {
		return
	}
	c.sessionsActive.Inc()
}

// SessionEnded сессия достигла терминального состояния
func (c *Collector) SessionEnded() {
	if c == nil || !c.enabled {
		return
	}
	c.sessionsActive.Dec()
}

// RecordError ошибка категории category
func (c *Collector) RecordError(category string) {
	if c == nil || !c.enabled {
		return
	}
	c.errorsTotal.WithLabelValues(category).Inc()
}

// StatusClass класс ответа: 1xx, 2xx, ...
func StatusClass(code int) string {
	if code < 100 || code > 699 {
		return "invalid"
	}
	return strconv.Itoa(code/100) + "xx"
}
