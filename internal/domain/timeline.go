package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Типы событий timeline заказа.
const (
	TimelineOrderPlaced        = EventOrderPlaced
	TimelineOrderStatusChanged = EventOrderStatusChanged
)

// ErrTimelineEventInvalid возвращается хранилищами timeline для некорректного события.
var ErrTimelineEventInvalid = errors.New("timeline event is invalid")

// TimelineEvent описывает событие в жизненном цикле заказа.
// Для смены статуса Reason содержит новый статус.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Validate проверяет, что событие относится к заказу и имеет известный тип.
func (e TimelineEvent) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrTimelineEventInvalid)
	}
	switch e.Type {
	case TimelineOrderPlaced:
	case TimelineOrderStatusChanged:
		if !OrderStatus(e.Reason).Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrTimelineEventInvalid, e.Reason)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrTimelineEventInvalid, e.Type)
	}
	return nil
}
