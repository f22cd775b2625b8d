// Package orders держит список заказов для экрана управления и меняет их статусы
// через хранилище заказов.
package orders

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// State — снимок состояния менеджера для отображения.
type State struct {
	Orders  []domain.Order
	Loading bool
	Err     string
}

// Manager хранит список заказов (новые первыми), флаг загрузки и ошибку загрузки.
// Переход статусов вперёд контролирует хранилище, а не менеджер.
type Manager struct {
	store  domain.OrderStore
	logger *log.Entry

	mu      sync.RWMutex
	orders  []domain.Order
	loading int
	errMsg  string
}

// Option настраивает Manager.
type Option func(*Manager)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager создаёт менеджер поверх хранилища заказов.
func NewManager(store domain.OrderStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: log.New().WithField("component", "orders"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadOrders перечитывает список. При ошибке прежний список сохраняется, а текст
// ошибки попадает в Err. Флаг загрузки снимается в любом случае.
func (m *Manager) LoadOrders(ctx context.Context) error {
	m.mu.Lock()
	m.loading++
	m.errMsg = ""
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.loading--
		m.mu.Unlock()
	}()

	result, err := m.store.List(ctx)
	if err == nil && !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "failed to load orders"
		}
		err = errors.New(msg)
	}
	if err != nil {
		m.mu.Lock()
		m.errMsg = err.Error()
		m.mu.Unlock()
		m.logger.WithError(err).Warn("load orders failed")
		return err
	}

	loaded := make([]domain.Order, 0, len(result.Orders))
	for _, order := range result.Orders {
		loaded = append(loaded, order.Clone())
	}

	m.mu.Lock()
	m.orders = loaded
	m.mu.Unlock()

	m.logger.WithField("orders_count", len(loaded)).Debug("orders loaded")
	return nil
}

// UpdateOrderStatus просит хранилище сменить статус. При успехе в списке
// меняются только статус и время обновления заказа; при отказе список не трогается,
// а причина возвращается вызывающему и в Err не попадает.
func (m *Manager) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.UpdateStatusResult, error) {
	result, err := m.store.UpdateStatus(ctx, orderID, status)
	if err != nil {
		m.logger.WithError(err).WithField("order_id", orderID).Warn("update order status failed")
		return domain.UpdateStatusResult{Success: false, OrderID: orderID, Error: err.Error(), Code: domain.CodeUnknown}, err
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "failed to update order status"
		}
		m.logger.WithFields(log.Fields{
			"order_id": orderID,
			"status":   status,
			"code":     result.Code,
		}).Warn("order status update rejected")
		return result, &UpdateError{OrderID: orderID, Code: result.Code, Message: msg}
	}

	newStatus := result.Status
	if newStatus == "" {
		newStatus = status
	}

	m.mu.Lock()
	patched := make([]domain.Order, len(m.orders))
	copy(patched, m.orders)
	for i := range patched {
		if patched[i].ID != orderID {
			continue
		}
		patched[i].Status = newStatus
		if !result.UpdatedAt.IsZero() {
			patched[i].UpdatedAt = result.UpdatedAt
		}
	}
	m.orders = patched
	m.mu.Unlock()

	m.logger.WithFields(log.Fields{
		"order_id": orderID,
		"status":   newStatus,
	}).Info("order status updated")
	return result, nil
}

// Orders возвращает копию текущего списка.
func (m *Manager) Orders() []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.Order, 0, len(m.orders))
	for _, order := range m.orders {
		result = append(result, order.Clone())
	}
	return result
}

// Order возвращает заказ из текущего списка.
func (m *Manager) Order(orderID string) (domain.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, order := range m.orders {
		if order.ID == orderID {
			return order.Clone(), true
		}
	}
	return domain.Order{}, false
}

// Loading сообщает, что идёт хотя бы одна загрузка.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading > 0
}

// Err возвращает текст последней ошибки загрузки списка.
func (m *Manager) Err() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errMsg
}

// State возвращает согласованный снимок состояния.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]domain.Order, 0, len(m.orders))
	for _, order := range m.orders {
		orders = append(orders, order.Clone())
	}
	return State{Orders: orders, Loading: m.loading > 0, Err: m.errMsg}
}

// UpdateError — логический отказ хранилища при смене статуса.
type UpdateError struct {
	OrderID string
	Code    string
	Message string
}

func (e *UpdateError) Error() string {
	return e.Message
}

// Is позволяет сверять отказ с доменными ошибками по коду.
func (e *UpdateError) Is(target error) bool {
	switch e.Code {
	case domain.CodeOrderNotFound:
		return target == domain.ErrOrderNotFound
	case domain.CodeInvalidStatusTransition:
		return target == domain.ErrStatusTransition
	default:
		return false
	}
}
