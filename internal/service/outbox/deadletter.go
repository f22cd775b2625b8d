package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrNotDeadLetter: сообщение в DLQ-топике не похоже на запись воркера.
var ErrNotDeadLetter = errors.New("message is not an outbox dead letter")

// DeadLetter: запись, которую воркер кладёт в DLQ после исчерпания попыток.
// Исходный payload встраивается как есть, чтобы событие можно было переиграть.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	PublishedAt   string          `json:"dlq_published_at,omitempty"`
}

// NewDeadLetter собирает запись DLQ; невалидный JSON payload заменяется на null.
func NewDeadLetter(event domain.OutboxMessage, publishErr error, now time.Time) DeadLetter {
	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("null")
	}
	letter := DeadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   now.Format(time.RFC3339Nano),
	}
	if publishErr != nil {
		letter.PublishError = publishErr.Error()
	}
	return letter
}

// DecodeDeadLetter разбирает сообщение DLQ. Чужие сообщения дают ErrNotDeadLetter,
// запись без исходного payload переиграть нельзя.
func DecodeDeadLetter(data []byte) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(data, &letter); err != nil {
		return DeadLetter{}, ErrNotDeadLetter
	}
	if letter.OutboxID == "" && letter.EventType == "" {
		return DeadLetter{}, ErrNotDeadLetter
	}
	if len(letter.Payload) == 0 || string(letter.Payload) == "null" {
		return DeadLetter{}, fmt.Errorf("dlq record %s does not contain original event payload", letter.OutboxID)
	}
	return letter, nil
}

// Original восстанавливает исходное событие outbox.
func (l DeadLetter) Original() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            l.OutboxID,
		AggregateType: l.AggregateType,
		AggregateID:   l.AggregateID,
		EventType:     l.EventType,
		Payload:       append([]byte(nil), l.Payload...),
	}
}
