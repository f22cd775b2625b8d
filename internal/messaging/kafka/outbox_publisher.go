package kafka

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka.
// Без фиксированного topic сообщение уходит в топик своего агрегата.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// Пустой topic включает маршрутизацию по типу агрегата.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	topic := p.topic
	if topic == "" {
		topic = TopicFor(event.AggregateType)
	}

	return p.producer.PublishEvent(topic, messageKey(event), NewEnvelope(event, time.Now()), map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
	})
}

// DLQPublisher отправляет в dead letter queue события, которые не удалось опубликовать.
// Payload уже содержит описание ошибки от outbox worker'а, заголовки дублируют его для фильтрации.
type DLQPublisher struct {
	producer *Producer
}

// NewDLQPublisher создаёт паблишер dead letter queue.
func NewDLQPublisher(producer *Producer) *DLQPublisher {
	return &DLQPublisher{producer: producer}
}

func (p *DLQPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	return p.producer.Send(TopicDeadLetterQueue, messageKey(event), event.Payload, map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOriginalTopic: TopicFor(event.AggregateType),
		HeaderFailedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	})
}

var (
	_ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
	_ domain.OutboxPublisher = (*DLQPublisher)(nil)
)
