// Package cart содержит корзину покупателя: чистый синхронный агрегат без I/O.
//
// Все изменения выражены командами (AddItem, UpdateQuantity, RemoveItem, Clear),
// которые применяются функцией Apply и не трогают исходное состояние.
package cart

import "github.com/vladislavdragonenkov/storefront/internal/domain"

// Line — позиция корзины: товар и положительное количество.
type Line struct {
	Product  domain.Product
	Quantity int32
}

// SubtotalMinor возвращает price * quantity для позиции.
func (l Line) SubtotalMinor() int64 {
	return l.Product.PriceMinor * int64(l.Quantity)
}

// Cart — упорядоченный набор позиций, не более одной позиции на товар.
// Нулевое значение готово к использованию как пустая корзина.
type Cart struct {
	lines []Line
}

// New возвращает пустую корзину.
func New() *Cart {
	return &Cart{}
}

// Dispatch применяет команду к корзине. При ошибке состояние не меняется.
func (c *Cart) Dispatch(cmd Command) error {
	next, err := Apply(*c, cmd)
	if err != nil {
		return err
	}
	*c = next
	return nil
}

// AddItem добавляет товар или увеличивает количество существующей позиции.
func (c *Cart) AddItem(product domain.Product, quantity int32) error {
	return c.Dispatch(AddItem{Product: product, Quantity: quantity})
}

// UpdateQuantity задаёт количество; quantity <= 0 удаляет позицию.
func (c *Cart) UpdateQuantity(productID string, quantity int32) {
	_ = c.Dispatch(UpdateQuantity{ProductID: productID, Quantity: quantity})
}

// RemoveItem удаляет позицию, если она есть.
func (c *Cart) RemoveItem(productID string) {
	_ = c.Dispatch(RemoveItem{ProductID: productID})
}

// Clear очищает корзину.
func (c *Cart) Clear() {
	_ = c.Dispatch(Clear{})
}

// Lines возвращает копию позиций в порядке добавления.
func (c *Cart) Lines() []Line {
	return append([]Line(nil), c.lines...)
}

// Len возвращает число позиций.
func (c *Cart) Len() int {
	return len(c.lines)
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Quantity возвращает количество товара в корзине (0, если позиции нет).
func (c *Cart) Quantity(productID string) int32 {
	if i := c.indexOf(productID); i >= 0 {
		return c.lines[i].Quantity
	}
	return 0
}

// TotalPriceMinor всегда пересчитывается по текущим позициям.
func (c *Cart) TotalPriceMinor() int64 {
	var total int64
	for _, line := range c.lines {
		total += line.SubtotalMinor()
	}
	return total
}

// TotalItemCount — сумма количеств по всем позициям.
func (c *Cart) TotalItemCount() int64 {
	var total int64
	for _, line := range c.lines {
		total += int64(line.Quantity)
	}
	return total
}

// Requests строит по одному запросу {productID, quantity} на позицию в порядке корзины.
func (c *Cart) Requests() []domain.ItemRequest {
	requests := make([]domain.ItemRequest, 0, len(c.lines))
	for _, line := range c.lines {
		requests = append(requests, domain.ItemRequest{
			ProductID: line.Product.ID,
			Quantity:  line.Quantity,
		})
	}
	return requests
}

func (c *Cart) indexOf(productID string) int {
	return indexOf(c.lines, productID)
}

func indexOf(lines []Line, productID string) int {
	for i, line := range lines {
		if line.Product.ID == productID {
			return i
		}
	}
	return -1
}
