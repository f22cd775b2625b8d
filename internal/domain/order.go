package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа магазина.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, остатки списаны, ждёт подтверждения.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed: заказ подтверждён магазином.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipping: заказ передан в доставку.
	OrderStatusShipping OrderStatus = "shipping"
	// OrderStatusDelivered: заказ вручён; терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
)

// PaymentMethodCOD: оплата при получении, единственный способ оплаты.
const PaymentMethodCOD = "cod"

var statusOrder = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusShipping,
	OrderStatusDelivered,
}

// ParseOrderStatus разбирает строковое представление статуса.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ErrStatusInvalid
	}
	return status, nil
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	return s.rank() >= 0
}

// IsTerminal сообщает, что дальше статус двигаться не может.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered
}

// Next возвращает следующий статус. Для терминального и неизвестного статуса ok=false.
func (s OrderStatus) Next() (OrderStatus, bool) {
	r := s.rank()
	if r < 0 || r == len(statusOrder)-1 {
		return "", false
	}
	return statusOrder[r+1], true
}

// CanTransitionTo разрешает только один шаг вперёд.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	next, ok := s.Next()
	return ok && next == target
}

func (s OrderStatus) rank() int {
	for i, status := range statusOrder {
		if status == s {
			return i
		}
	}
	return -1
}

// FormatOrderNumber строит номер заказа вида ORD-YYYYMMDD-NNNNNN.
func FormatOrderNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%06d", at.UTC().Format("20060102"), seq)
}

// CustomerInfo: контактные данные покупателя для доставки.
type CustomerInfo struct {
	Name    string
	Phone   string
	Address string
}

// Normalize обрезает пробелы по краям полей.
func (c CustomerInfo) Normalize() CustomerInfo {
	return CustomerInfo{
		Name:    strings.TrimSpace(c.Name),
		Phone:   strings.TrimSpace(c.Phone),
		Address: strings.TrimSpace(c.Address),
	}
}

// Validate возвращает список незаполненных обязательных полей.
func (c CustomerInfo) Validate() []error {
	c = c.Normalize()

	var errs []error
	if c.Name == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if c.Phone == "" {
		errs = append(errs, ErrCustomerPhoneRequired)
	}
	if c.Address == "" {
		errs = append(errs, ErrCustomerAddressRequired)
	}
	return errs
}

// OrderItem: позиция заказа. Название и цена фиксируются на момент создания заказа
// и не меняются, если позже меняется карточка товара.
type OrderItem struct {
	ID                string
	ProductID         string
	ProductName       string
	ProductPriceMinor int64
	ProductImage      string
	Quantity          int32
	SubtotalMinor     int64
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerName    string
	CustomerPhone   string
	CustomerAddress string
	TotalMinor      int64
	Status          OrderStatus
	PaymentMethod   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Items           []OrderItem
}

// Customer возвращает контактные данные заказа.
func (o *Order) Customer() CustomerInfo {
	return CustomerInfo{Name: o.CustomerName, Phone: o.CustomerPhone, Address: o.CustomerAddress}
}

// Clone возвращает копию заказа с собственным слайсом позиций.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	errs := o.Customer().Validate()

	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сумма заказа обязана совпадать с суммой подытогов: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
		if item.ProductPriceMinor < 0 {
			errs = append(errs, ErrPriceNegative)
		}
		if item.SubtotalMinor != int64(item.Quantity)*item.ProductPriceMinor {
			errs = append(errs, ErrSubtotalMismatch)
		}
		calc += item.SubtotalMinor
	}
	if calc != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
