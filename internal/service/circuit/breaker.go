// Package circuit защищает вызовы склада и хранилища заказов circuit breaker'ами.
// Повторов нет: списание и создание заказа не идемпотентны, поэтому при открытом
// breaker'е вызов сразу завершается ошибкой domain.ErrBackendUnavailable.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Имена backend'ов для логов и метрик.
const (
	BackendStockLedger = "stock_ledger"
	BackendOrderStore  = "order_store"
)

// Config задаёт пороги срабатывания breaker'а.
type Config struct {
	// MaxFailures: число подряд неудачных вызовов, после которого breaker открывается.
	MaxFailures uint32
	// OpenTimeout: время в открытом состоянии до пробного вызова.
	OpenTimeout time.Duration
	// HalfOpenRequests: сколько пробных вызовов пропускается в half-open.
	HalfOpenRequests uint32
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Breaker: circuit breaker одного backend'а.
type Breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker[any]
	metrics *metrics.ResilienceMetrics
	logger  *log.Entry
}

// Option настраивает Breaker.
type Option func(*Breaker)

// WithLogger задаёт logger для переходов состояния.
func WithLogger(logger *log.Entry) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics включает метрики состояния.
func WithMetrics(m *metrics.ResilienceMetrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

// NewBreaker создаёт breaker для backend'а name.
func NewBreaker(name string, cfg Config, opts ...Option) *Breaker {
	defaults := DefaultConfig()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaults.MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = defaults.HalfOpenRequests
	}

	b := &Breaker{
		name:   name,
		logger: log.WithFields(log.Fields{"component": "circuit-breaker", "backend": name}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.logger.WithFields(log.Fields{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("circuit breaker state changed")
			if b.metrics != nil {
				b.metrics.SetBreakerState(name, int(to))
			}
		},
		IsSuccessful: isSuccessful,
	})
	if b.metrics != nil {
		b.metrics.SetBreakerState(name, int(gobreaker.StateClosed))
	}
	return b
}

// Name возвращает имя backend'а.
func (b *Breaker) Name() string {
	return b.name
}

// State возвращает текущее состояние: closed, half-open или open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Open сообщает, что вызовы сейчас отклоняются.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// isSuccessful не засчитывает отмену вызывающей стороной как отказ backend'а.
// Логические отказы (Success=false) приходят без ошибки и тоже не считаются.
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// execute вызывает fn через breaker и переводит отказ breaker'а в ErrBackendUnavailable.
func execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		if b.metrics != nil {
			b.metrics.RecordRejected(b.name)
		}
		return zero, fmt.Errorf("%w: %s: %v", domain.ErrBackendUnavailable, b.name, err)
	}
	if err != nil {
		return zero, err
	}

	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected result type %T", b.name, res)
	}
	return typed, nil
}
