package domain

import (
	"context"
	"time"
)

// StockLedger: авторитетный учёт остатков.
// Реализация обязана выполнять проверку и списание батча атомарно относительно
// других покупателей; оркестратор это не контролирует.
type StockLedger interface {
	// CheckAvailability проверяет весь батч одним вызовом.
	CheckAvailability(ctx context.Context, items []ItemRequest) (AvailabilityResult, error)
	// DeductBatch списывает весь батч по принципу «всё или ничего».
	DeductBatch(ctx context.Context, items []ItemRequest) (DeductionResult, error)
}

// ProductCatalog отдаёт актуальную карточку товара.
type ProductCatalog interface {
	Product(ctx context.Context, id string) (Product, error)
}

// CreateOrderRequest: данные для создания заказа. Цены не передаются:
// хранилище само берёт текущие название и цену товара.
type CreateOrderRequest struct {
	Customer CustomerInfo
	Items    []ItemRequest
}

// CreateOrderResult: ответ хранилища на создание заказа.
type CreateOrderResult struct {
	Success     bool
	OrderID     string
	OrderNumber string
	TotalMinor  int64
	Error       string
	Code        string
}

// ListOrdersResult: ответ хранилища на запрос списка заказов.
type ListOrdersResult struct {
	Success bool
	Orders  []Order
	Error   string
}

// UpdateStatusResult: ответ хранилища на смену статуса.
type UpdateStatusResult struct {
	Success     bool
	OrderID     string
	OrderNumber string
	Status      OrderStatus
	// UpdatedAt может быть нулевым, если хранилище его не вернуло.
	UpdatedAt time.Time
	Error     string
	Code      string
}

// OrderStore: долговременное хранилище заказов.
// Логический отказ возвращается через Success=false, транспортный через error.
type OrderStore interface {
	Create(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error)
	// List возвращает заказы от новых к старым.
	List(ctx context.Context) (ListOrdersResult, error)
	UpdateStatus(ctx context.Context, orderID string, status OrderStatus) (UpdateStatusResult, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, status int) error
	MarkFailed(key string, responseBody []byte, status int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CheckoutStep задаёт константы шагов оформления для метрик и логов.
type CheckoutStep string

const (
	CheckoutStepValidate CheckoutStep = "validate"
	CheckoutStepCheck    CheckoutStep = "check_availability"
	CheckoutStepDeduct   CheckoutStep = "deduct"
	CheckoutStepCreate   CheckoutStep = "create_order"
	CheckoutStepFinalize CheckoutStep = "finalize"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
