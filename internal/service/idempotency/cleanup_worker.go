// Package idempotency содержит фоновую очистку ключей идемпотентности оформления заказа.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// CleanupOption настраивает CleanupWorker. Неположительные значения игнорируются.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(w *CleanupWorker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(clock func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if clock != nil {
			w.now = clock
		}
	}
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число записей, удаляемых одним запросом к хранилищу.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// CleanupWorker периодически удаляет просроченные ключи PlaceOrder.
// Redis удаляет ключи сам, но DeleteExpired там подчищает записи,
// чей логический срок истёк раньше физического.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	metrics   *metrics.CleanupMetrics
	now       func() time.Time
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup-worker"),
		now:       func() time.Time { return time.Now().UTC() },
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = metrics.NewCleanupMetrics(prometheus.NewRegistry())
	}
	return w
}

// Run чистит ключи сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.now())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.RecordRun("error", deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
	default:
		w.metrics.RecordRun("ok", deleted)
		if deleted > 0 {
			w.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
		}
	}
}

// DeleteExpired удаляет записи с ttl <= before порциями, пока хранилище
// возвращает полные порции.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for deleted := w.batchSize; deleted >= w.batchSize; {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var err error
		deleted, err = w.repo.DeleteExpired(before, w.batchSize)
		total += deleted
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
