package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// queryer: общий интерфейс *sql.DB и *sql.Tx для чтения остатков.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Catalog — PostgreSQL-реализация каталога и складского учёта.
// Списание батча блокирует строки товаров (SELECT ... FOR UPDATE) в одной транзакции,
// поэтому параллельные оформления не уводят остаток в минус.
type Catalog struct {
	store *Store
}

// NewCatalog создаёт каталог поверх общего подключения.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{store: store}
}

// Upsert добавляет товар или заменяет карточку и остаток существующего.
func (c *Catalog) Upsert(ctx context.Context, product domain.Product) error {
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

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := c.store.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_minor, image, description, stock, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    image = EXCLUDED.image,
		    description = EXCLUDED.description,
		    stock = EXCLUDED.stock,
		    updated_at = NOW()
	`,
		product.ID, product.Name, product.PriceMinor, product.Image, product.Description, product.Stock,
	); err != nil {
		return fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	return nil
}

// Product возвращает карточку товара с текущим остатком.
func (c *Catalog) Product(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var product domain.Product
	err := c.store.db.QueryRowContext(ctx, `
		SELECT id, name, price_minor, image, description, stock
		FROM products
		WHERE id = $1
	`, id).Scan(
		&product.ID, &product.Name, &product.PriceMinor,
		&product.Image, &product.Description, &product.Stock,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

// Products возвращает все товары, отсортированные по идентификатору.
func (c *Catalog) Products(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := c.store.db.QueryContext(ctx, `
		SELECT id, name, price_minor, image, description, stock
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(
			&product.ID, &product.Name, &product.PriceMinor,
			&product.Image, &product.Description, &product.Stock,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// CheckAvailability проверяет весь батч одним запросом. Повторяющиеся товары суммируются.
func (c *Catalog) CheckAvailability(ctx context.Context, items []domain.ItemRequest) (domain.AvailabilityResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	merged := domain.MergeRequests(items)
	stock, err := stockLevels(ctx, c.store.db, merged, false)
	if err != nil {
		return domain.AvailabilityResult{}, err
	}

	unavailable := unavailableItems(merged, stock)
	return domain.AvailabilityResult{
		Available:        len(unavailable) == 0,
		UnavailableItems: unavailable,
	}, nil
}

// DeductBatch списывает весь батч или ничего.
func (c *Catalog) DeductBatch(ctx context.Context, items []domain.ItemRequest) (domain.DeductionResult, error) {
	if len(items) == 0 {
		return domain.DeductionResult{Success: false, Error: domain.ErrItemsRequired.Error(), Code: domain.CodeInvalidQuantity}, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	merged := domain.MergeRequests(items)

	var result domain.DeductionResult
	err := c.store.inTx(ctx, func(tx *sql.Tx) error {
		stock, err := stockLevels(ctx, tx, merged, true)
		if err != nil {
			return err
		}

		if unavailable := unavailableItems(merged, stock); len(unavailable) > 0 {
			first := unavailable[0]
			result = domain.DeductionResult{
				Success: false,
				Error:   fmt.Sprintf("%s: %s", first.Reason, first.ProductID),
				Code:    first.Code,
			}
			return errRollback
		}

		deducted := make([]domain.DeductionItemResult, 0, len(merged))
		for _, req := range merged {
			var newStock int32
			if err := tx.QueryRowContext(ctx, `
				UPDATE products
				SET stock = stock - $2,
				    updated_at = NOW()
				WHERE id = $1
				RETURNING stock
			`, req.ProductID, req.Quantity).Scan(&newStock); err != nil {
				return fmt.Errorf("deduct stock for %s: %w", req.ProductID, err)
			}
			deducted = append(deducted, domain.DeductionItemResult{
				ProductID:        req.ProductID,
				PreviousStock:    stock[req.ProductID],
				NewStock:         newStock,
				QuantityDeducted: req.Quantity,
			})
		}
		result = domain.DeductionResult{Success: true, Items: deducted}
		return nil
	})
	switch {
	case errors.Is(err, errRollback):
		return result, nil
	case pgErrorCode(err) == pgCheckViolation:
		// Остаток ушёл в минус в обход блокировки: считаем это нехваткой.
		return domain.DeductionResult{Success: false, Error: err.Error(), Code: domain.CodeInsufficientStock}, nil
	case err != nil:
		return domain.DeductionResult{}, err
	}
	return result, nil
}

// errRollback откатывает транзакцию при логическом отказе.
var errRollback = errors.New("rollback")

// stockLevels читает остатки валидных позиций батча. Строки блокируются в порядке id,
// чтобы встречные батчи не взаимоблокировались.
func stockLevels(ctx context.Context, q queryer, items []domain.ItemRequest, forUpdate bool) (map[string]int32, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Validate() == nil {
			ids = append(ids, item.ProductID)
		}
	}
	stock := make(map[string]int32, len(ids))
	if len(ids) == 0 {
		return stock, nil
	}

	query := `SELECT id, stock FROM products WHERE id = ANY($1) ORDER BY id`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, err := q.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select stock levels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			level int32
		)
		if err := rows.Scan(&id, &level); err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		stock[id] = level
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock levels: %w", err)
	}
	return stock, nil
}

func unavailableItems(merged []domain.ItemRequest, stock map[string]int32) []domain.UnavailableItem {
	var unavailable []domain.UnavailableItem
	for _, req := range merged {
		if err := req.Validate(); err != nil {
			unavailable = append(unavailable, domain.InvalidRequest(req))
			continue
		}
		level, ok := stock[req.ProductID]
		if !ok || level < req.Quantity {
			unavailable = append(unavailable, domain.UnavailableFor(req, level, ok))
		}
	}
	return unavailable
}

var (
	_ domain.StockLedger    = (*Catalog)(nil)
	_ domain.ProductCatalog = (*Catalog)(nil)
)
