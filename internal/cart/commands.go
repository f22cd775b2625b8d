package cart

import (
	"math"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Command — изменение корзины. Набор команд закрыт: реализовать его можно только
// внутри пакета.
type Command interface {
	apply(lines []Line) ([]Line, error)
}

// AddItem добавляет товар. Верхняя граница количества здесь не проверяется:
// остаток сверяется только при оформлении.
type AddItem struct {
	Product  domain.Product
	Quantity int32
}

// UpdateQuantity задаёт количество позиции; значение <= 0 удаляет позицию.
type UpdateQuantity struct {
	ProductID string
	Quantity  int32
}

// RemoveItem удаляет позицию.
type RemoveItem struct {
	ProductID string
}

// Clear удаляет все позиции.
type Clear struct{}

// Apply — чистая функция перехода: возвращает новое состояние и не меняет c.
func Apply(c Cart, cmd Command) (Cart, error) {
	if cmd == nil {
		return c, nil
	}
	lines, err := cmd.apply(c.lines)
	if err != nil {
		return c, err
	}
	return Cart{lines: lines}, nil
}

func (cmd AddItem) apply(lines []Line) ([]Line, error) {
	if cmd.Quantity <= 0 {
		return nil, domain.ErrQuantityInvalid
	}
	if cmd.Product.ID == "" {
		return nil, domain.ErrProductIDRequired
	}
	if cmd.Product.PriceMinor < 0 {
		return nil, domain.ErrPriceNegative
	}

	next := append([]Line(nil), lines...)
	if i := indexOf(next, cmd.Product.ID); i >= 0 {
		if next[i].Quantity > math.MaxInt32-cmd.Quantity {
			return nil, domain.ErrQuantityOverflow
		}
		next[i].Quantity += cmd.Quantity
		return next, nil
	}
	return append(next, Line{Product: cmd.Product, Quantity: cmd.Quantity}), nil
}

func (cmd UpdateQuantity) apply(lines []Line) ([]Line, error) {
	i := indexOf(lines, cmd.ProductID)
	if i < 0 {
		return lines, nil
	}
	if cmd.Quantity <= 0 {
		return RemoveItem{ProductID: cmd.ProductID}.apply(lines)
	}

	next := append([]Line(nil), lines...)
	next[i].Quantity = cmd.Quantity
	return next, nil
}

func (cmd RemoveItem) apply(lines []Line) ([]Line, error) {
	next := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.Product.ID != cmd.ProductID {
			next = append(next, line)
		}
	}
	return next, nil
}

func (Clear) apply([]Line) ([]Line, error) {
	return nil, nil
}
