package memory

import (
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// timelineRepository держит историю каждого заказа отсортированной по времени события.
type timelineRepository struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepository{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие на своё место; при равном времени сохраняется порядок записи.
func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.byOrder[event.OrderID]
	pos := len(history)
	for pos > 0 && history[pos-1].Occurred.After(event.Occurred) {
		pos--
	}
	r.byOrder[event.OrderID] = slices.Insert(history, pos, event)
	return nil
}

// List возвращает копию истории заказа.
func (r *timelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.byOrder[orderID]), nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
