package domain

import "errors"

var (
	// Ошибка отсутствующего имени покупателя.
	ErrCustomerNameRequired = errors.New("customer name is required")
	// Ошибка отсутствующего телефона покупателя.
	ErrCustomerPhoneRequired = errors.New("customer phone is required")
	// Ошибка отсутствующего адреса доставки.
	ErrCustomerAddressRequired = errors.New("customer address is required")
	// Ошибка пустой корзины при оформлении.
	ErrCartEmpty = errors.New("cart is empty")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// Ошибка, если суммарное количество позиции не помещается в int32.
	ErrQuantityOverflow = errors.New("quantity is too large")
	// Ошибка, если цена отрицательная.
	ErrPriceNegative = errors.New("price must be non-negative")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total amount must be non-negative")
	// Ошибка несоответствия подытога позиции и qty * price.
	ErrSubtotalMismatch = errors.New("item subtotal does not match price * quantity")
	// Ошибка несоответствия суммы заказа и суммы подытогов.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// ErrStatusInvalid: неизвестный статус заказа.
	ErrStatusInvalid = errors.New("order status is invalid")
	// ErrStatusTransition: переход статуса не разрешён (только один шаг вперёд).
	ErrStatusTransition = errors.New("order status transition is not allowed")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderConflict: заказ с таким идентификатором уже существует.
	ErrOrderConflict = errors.New("order already exists")

	// ErrCheckoutValidation: локальная проверка корзины или покупателя не пройдена.
	ErrCheckoutValidation = errors.New("checkout validation failed")
	// ErrStockUnavailable: одна или несколько позиций недоступны на складе.
	ErrStockUnavailable = errors.New("stock unavailable")
	// ErrStockDeduction: склад отклонил пакетное списание.
	ErrStockDeduction = errors.New("stock deduction failed")
	// ErrOrderCreation: хранилище заказов отклонило создание заказа.
	ErrOrderCreation = errors.New("order creation failed")
	// ErrBackendUnavailable: внешний сервис временно недоступен (открыт circuit breaker).
	ErrBackendUnavailable = errors.New("backend temporarily unavailable")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired: не передан idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: не передан хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже использован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ уже использован с другим запросом.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsNotFound объединяет ошибки отсутствия заказа и товара.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrProductNotFound)
}
