package domain

// Типы событий, которые попадают в transactional outbox.
const (
	EventOrderPlaced          = "OrderPlaced"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventCheckoutFailed       = "CheckoutFailed"
	EventCheckoutInconsistent = "CheckoutInconsistent"
)

// Типы агрегатов outbox. Неудачное оформление не имеет заказа,
// поэтому его события привязаны к попытке оформления.
const (
	AggregateOrder    = "order"
	AggregateCheckout = "checkout"
)
