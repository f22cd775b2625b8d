package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OrderStore — PostgreSQL-реализация хранилища заказов.
// Заказ и его позиции пишутся одной транзакцией, номер заказа берётся из order_number_seq.
type OrderStore struct {
	store *Store
	now   func() time.Time
}

// NewOrderStore создаёт хранилище заказов поверх общего подключения.
func NewOrderStore(store *Store) *OrderStore {
	return &OrderStore{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create сохраняет заказ со статусом pending и оплатой при получении.
// Название и цена позиций фиксируются по текущей карточке товара.
func (s *OrderStore) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.CreateOrderResult, error) {
	customer := req.Customer.Normalize()
	if errs := customer.Validate(); len(errs) > 0 {
		return rejectCreate(errors.Join(errs...), domain.CodeInvalidCustomer), nil
	}
	if len(req.Items) == 0 {
		return rejectCreate(domain.ErrItemsRequired, domain.CodeInvalidQuantity), nil
	}

	requests := domain.MergeRequests(req.Items)
	for _, item := range requests {
		if err := item.Validate(); err != nil {
			return rejectCreate(err, domain.CodeInvalidQuantity), nil
		}
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		result domain.CreateOrderResult
		order  domain.Order
	)
	err := s.store.inTx(ctx, func(tx *sql.Tx) error {
		products, err := snapshotProducts(ctx, tx, requests)
		if err != nil {
			return err
		}

		order = domain.Order{
			ID:              uuid.NewString(),
			CustomerName:    customer.Name,
			CustomerPhone:   customer.Phone,
			CustomerAddress: customer.Address,
			Status:          domain.OrderStatusPending,
			PaymentMethod:   domain.PaymentMethodCOD,
			CreatedAt:       s.now(),
			Items:           make([]domain.OrderItem, 0, len(requests)),
		}
		order.UpdatedAt = order.CreatedAt

		for _, item := range requests {
			product, ok := products[item.ProductID]
			if !ok {
				result = rejectCreate(fmt.Errorf("%w: %s", domain.ErrProductNotFound, item.ProductID), domain.CodeProductNotFound)
				return errRollback
			}
			subtotal := product.PriceMinor * int64(item.Quantity)
			order.Items = append(order.Items, domain.OrderItem{
				ID:                uuid.NewString(),
				ProductID:         product.ID,
				ProductName:       product.Name,
				ProductPriceMinor: product.PriceMinor,
				ProductImage:      product.Image,
				Quantity:          item.Quantity,
				SubtotalMinor:     subtotal,
			})
			order.TotalMinor += subtotal
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
			return fmt.Errorf("next order number: %w", err)
		}
		order.OrderNumber = domain.FormatOrderNumber(order.CreatedAt, seq)

		if errs := order.ValidateInvariants(); len(errs) > 0 {
			result = rejectCreate(errors.Join(errs...), domain.CodeStoreError)
			return errRollback
		}

		return insertOrder(ctx, tx, order)
	})
	switch {
	case errors.Is(err, errRollback):
		return result, nil
	case err != nil:
		return domain.CreateOrderResult{}, err
	}

	return domain.CreateOrderResult{
		Success:     true,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TotalMinor:  order.TotalMinor,
	}, nil
}

// List возвращает заказы от новых к старым вместе с позициями.
func (s *OrderStore) List(ctx context.Context) (domain.ListOrdersResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, order_number, customer_name, customer_phone, customer_address,
		       total_minor, status, payment_method, created_at, updated_at
		FROM orders
		ORDER BY created_at DESC, order_number DESC
	`)
	if err != nil {
		return domain.ListOrdersResult{}, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	index := make(map[string]int)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.ListOrdersResult{}, err
		}
		index[order.ID] = len(orders)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.ListOrdersResult{}, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(orders) == 0 {
		return domain.ListOrdersResult{Success: true, Orders: orders}, nil
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	items, err := loadItems(ctx, s.store.db, ids)
	if err != nil {
		return domain.ListOrdersResult{}, err
	}
	for orderID, orderItems := range items {
		if pos, ok := index[orderID]; ok {
			orders[pos].Items = orderItems
		}
	}

	return domain.ListOrdersResult{Success: true, Orders: orders}, nil
}

// Get возвращает заказ по идентификатору.
func (s *OrderStore) Get(ctx context.Context, orderID string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, order_number, customer_name, customer_phone, customer_address,
		       total_minor, status, payment_method, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}

	items, err := loadItems(ctx, s.store.db, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

// UpdateStatus переводит заказ на один шаг вперёд под блокировкой строки.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.UpdateStatusResult, error) {
	orderID = strings.TrimSpace(orderID)
	if !status.Valid() {
		return rejectUpdate(orderID, domain.ErrStatusInvalid, domain.CodeInvalidStatusTransition), nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var result domain.UpdateStatusResult
	err := s.store.inTx(ctx, func(tx *sql.Tx) error {
		var (
			current     string
			orderNumber string
		)
		err := tx.QueryRowContext(ctx, `
			SELECT status, order_number
			FROM orders
			WHERE id = $1
			FOR UPDATE
		`, orderID).Scan(&current, &orderNumber)
		if errors.Is(err, sql.ErrNoRows) {
			result = rejectUpdate(orderID, domain.ErrOrderNotFound, domain.CodeOrderNotFound)
			return errRollback
		}
		if err != nil {
			return fmt.Errorf("select order status: %w", err)
		}

		if !domain.OrderStatus(current).CanTransitionTo(status) {
			result = rejectUpdate(orderID, domain.ErrStatusTransition, domain.CodeInvalidStatusTransition)
			return errRollback
		}

		updatedAt := s.now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2,
			    updated_at = $3
			WHERE id = $1
		`, orderID, string(status), updatedAt); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		result = domain.UpdateStatusResult{
			Success:     true,
			OrderID:     orderID,
			OrderNumber: orderNumber,
			Status:      status,
			UpdatedAt:   updatedAt,
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRollback) {
		return domain.UpdateStatusResult{}, err
	}
	return result, nil
}

func snapshotProducts(ctx context.Context, tx *sql.Tx, items []domain.ItemRequest) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, price_minor, image
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select order products: %w", err)
	}
	defer rows.Close()

	products := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(&product.ID, &product.Name, &product.PriceMinor, &product.Image); err != nil {
			return nil, fmt.Errorf("scan order product: %w", err)
		}
		products[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order products: %w", err)
	}
	return products, nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, customer_name, customer_phone, customer_address,
			total_minor, status, payment_method, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		order.ID, order.OrderNumber, order.CustomerName, order.CustomerPhone, order.CustomerAddress,
		order.TotalMinor, string(order.Status), order.PaymentMethod, order.CreatedAt, order.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for pos, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, product_name,
				product_price_minor, product_image, quantity, subtotal_minor
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			item.ID, order.ID, pos, item.ProductID, item.ProductName,
			item.ProductPriceMinor, item.ProductImage, item.Quantity, item.SubtotalMinor,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	if err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerName, &order.CustomerPhone, &order.CustomerAddress,
		&order.TotalMinor, &status, &order.PaymentMethod, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("scan order row: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

// loadItems загружает позиции нескольких заказов одним запросом.
func loadItems(ctx context.Context, q queryer, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, id, product_id, product_name, product_price_minor,
		       product_image, quantity, subtotal_minor
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := rows.Scan(
			&orderID, &item.ID, &item.ProductID, &item.ProductName, &item.ProductPriceMinor,
			&item.ProductImage, &item.Quantity, &item.SubtotalMinor,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func rejectCreate(err error, code string) domain.CreateOrderResult {
	return domain.CreateOrderResult{Success: false, Error: err.Error(), Code: code}
}

func rejectUpdate(orderID string, err error, code string) domain.UpdateStatusResult {
	return domain.UpdateStatusResult{Success: false, OrderID: orderID, Error: err.Error(), Code: code}
}

var _ domain.OrderStore = (*OrderStore)(nil)
