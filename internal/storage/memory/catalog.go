package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Catalog — in-memory каталог и складской учёт.
// Проверка и списание батча выполняются под одной блокировкой, поэтому
// два покупателя не могут продать больше, чем есть на складе.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	order    []string
}

// NewCatalog создаёт каталог с начальным набором товаров.
func NewCatalog(products ...domain.Product) *Catalog {
	c := &Catalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		_ = c.Upsert(p)
	}
	return c
}

// Upsert добавляет товар или заменяет карточку и остаток существующего.
func (c *Catalog) Upsert(product domain.Product) error {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		return domain.ErrProductIDRequired
	}
	if product.PriceMinor < 0 {
		return domain.ErrPriceNegative
	}
	if product.Stock < 0 {
		return domain.ErrQuantityInvalid
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.products[product.ID]; !exists {
		c.order = append(c.order, product.ID)
	}
	c.products[product.ID] = product
	return nil
}

// Product возвращает карточку товара с текущим остатком.
func (c *Catalog) Product(_ context.Context, id string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	product, ok := c.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// Products возвращает товары в порядке добавления.
func (c *Catalog) Products() []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Product, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.products[id])
	}
	return result
}

// CheckAvailability проверяет весь батч. Повторяющиеся товары суммируются.
func (c *Catalog) CheckAvailability(ctx context.Context, items []domain.ItemRequest) (domain.AvailabilityResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AvailabilityResult{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	unavailable := c.unavailableLocked(items)
	return domain.AvailabilityResult{
		Available:        len(unavailable) == 0,
		UnavailableItems: unavailable,
	}, nil
}

// DeductBatch списывает весь батч или ничего.
func (c *Catalog) DeductBatch(ctx context.Context, items []domain.ItemRequest) (domain.DeductionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.DeductionResult{}, err
	}
	if len(items) == 0 {
		return domain.DeductionResult{Success: false, Error: domain.ErrItemsRequired.Error(), Code: domain.CodeInvalidQuantity}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if unavailable := c.unavailableLocked(items); len(unavailable) > 0 {
		first := unavailable[0]
		return domain.DeductionResult{
			Success: false,
			Error:   fmt.Sprintf("%s: %s", first.Reason, first.ProductID),
			Code:    first.Code,
		}, nil
	}

	merged := domain.MergeRequests(items)
	results := make([]domain.DeductionItemResult, 0, len(merged))
	for _, req := range merged {
		product := c.products[req.ProductID]
		previous := product.Stock
		product.Stock -= req.Quantity
		c.products[req.ProductID] = product

		results = append(results, domain.DeductionItemResult{
			ProductID:        req.ProductID,
			PreviousStock:    previous,
			NewStock:         product.Stock,
			QuantityDeducted: req.Quantity,
		})
	}
	return domain.DeductionResult{Success: true, Items: results}, nil
}

func (c *Catalog) unavailableLocked(items []domain.ItemRequest) []domain.UnavailableItem {
	var unavailable []domain.UnavailableItem
	for _, req := range domain.MergeRequests(items) {
		if err := req.Validate(); err != nil {
			unavailable = append(unavailable, domain.InvalidRequest(req))
			continue
		}
		product, ok := c.products[req.ProductID]
		if !ok || product.Stock < req.Quantity {
			unavailable = append(unavailable, domain.UnavailableFor(req, product.Stock, ok))
		}
	}
	return unavailable
}

var (
	_ domain.StockLedger    = (*Catalog)(nil)
	_ domain.ProductCatalog = (*Catalog)(nil)
)
