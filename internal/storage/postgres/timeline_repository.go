package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// TimelineRepository хранит историю заказа в таблице timeline_events.
// Время хранится с точностью до микросекунды, как его держит PostgreSQL.
type TimelineRepository struct {
	store *Store
	now   func() time.Time
}

// NewTimelineRepository создаёт timeline поверх общего подключения.
func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *TimelineRepository) Append(event domain.TimelineEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Occurred.IsZero() {
		event.Occurred = r.now()
	}
	occurred := event.Occurred.UTC().Truncate(time.Microsecond)

	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1,$2,$3,$4)`,
		event.OrderID, event.Type, event.Reason, occurred,
	)
	if err != nil {
		return fmt.Errorf("append %s to timeline of %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// List возвращает события заказа по времени; при равном времени в порядке записи.
func (r *TimelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx,
		`SELECT order_id, type, reason, occurred FROM timeline_events WHERE order_id = $1 ORDER BY occurred, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query timeline of %s: %w", orderID, err)
	}
	defer rows.Close()
	return scanTimeline(rows)
}

func scanTimeline(rows *sql.Rows) ([]domain.TimelineEvent, error) {
	history := []domain.TimelineEvent{}
	for rows.Next() {
		var (
			event    domain.TimelineEvent
			occurred time.Time
		)
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.Occurred = occurred.UTC()
		history = append(history, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return history, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
