package domain

// Product: товар в том виде, в котором его видит корзина.
type Product struct {
	ID   string
	Name string
	// PriceMinor: цена за единицу в минимальных денежных единицах.
	PriceMinor  int64
	Image       string
	Description string
	// Stock: подсказка об остатке; авторитетный остаток хранит StockLedger.
	Stock int32
}

// ItemRequest: запрос на товар: идентификатор и количество.
// Используется и для списания остатков, и для создания заказа.
type ItemRequest struct {
	ProductID string
	Quantity  int32
}

// Validate проверяет, что запрос ссылается на товар и количество положительное.
func (r ItemRequest) Validate() error {
	if r.ProductID == "" {
		return ErrProductIDRequired
	}
	if r.Quantity <= 0 {
		return ErrQuantityInvalid
	}
	return nil
}
