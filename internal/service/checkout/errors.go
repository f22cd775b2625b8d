package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Stage: этап оформления, на котором произошёл отказ.
type Stage string

const (
	StageValidation    Stage = "validation"
	StageAvailability  Stage = "availability"
	StageDeduction     Stage = "deduction"
	StageOrderCreation Stage = "order_creation"
)

// Error описывает отказ оформления заказа.
// Error() отдаёт сообщение, пригодное для показа покупателю.
type Error struct {
	Stage Stage
	// Code: код ошибки от склада или хранилища заказов, если он был.
	Code string
	// Reason: текст логического отказа от склада или хранилища.
	Reason string
	// Unavailable заполняется на этапе availability.
	Unavailable []domain.UnavailableItem
	// StockDeducted=true означает, что остатки уже списаны (полностью или частично), а заказа нет.
	StockDeducted bool
	Deducted      []domain.DeductionItemResult
	// Err: исходная ошибка (валидация или транспорт).
	Err error

	names map[string]string
}

func (e *Error) Error() string {
	switch e.Stage {
	case StageValidation:
		return "checkout rejected: " + e.detail()
	case StageAvailability:
		if len(e.Unavailable) > 0 {
			return "some items are unavailable: " + e.unavailableList()
		}
		return "stock availability check failed: " + e.detail()
	case StageDeduction:
		msg := "stock deduction failed, cart kept unchanged: " + e.detail()
		if e.StockDeducted {
			msg += "; partially deducted before the failure: " + e.deductedList() + "; needs manual reconciliation"
		}
		return msg
	case StageOrderCreation:
		msg := "order creation failed: " + e.detail()
		if e.StockDeducted {
			msg += fmt.Sprintf("; stock for %d item(s) was already deducted and needs manual reconciliation", len(e.Deducted))
		}
		return msg
	default:
		return "checkout failed: " + e.detail()
	}
}

// Unwrap отдаёт sentinel этапа и исходную ошибку, чтобы работал errors.Is.
func (e *Error) Unwrap() []error {
	errs := []error{e.stageErr()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) stageErr() error {
	switch e.Stage {
	case StageValidation:
		return domain.ErrCheckoutValidation
	case StageAvailability:
		return domain.ErrStockUnavailable
	case StageDeduction:
		return domain.ErrStockDeduction
	default:
		return domain.ErrOrderCreation
	}
}

func (e *Error) detail() string {
	parts := make([]string, 0, 2)
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		if e.Code != "" {
			return strings.ToLower(strings.ReplaceAll(e.Code, "_", " "))
		}
		return "unknown error"
	}
	return strings.Join(parts, ": ")
}

func (e *Error) unavailableList() string {
	parts := make([]string, 0, len(e.Unavailable))
	for _, item := range e.Unavailable {
		label := item.ProductID
		if name := e.names[item.ProductID]; name != "" {
			label = fmt.Sprintf("%s (%s)", name, item.ProductID)
		}

		reason := string(item.Reason)
		if reason == "" {
			reason = "unavailable"
		}
		if item.Reason == domain.ReasonInsufficientStock {
			reason = fmt.Sprintf("%s: requested %d, available %d", reason, item.RequestedQuantity, item.CurrentStock)
		}
		parts = append(parts, fmt.Sprintf("%s - %s", label, reason))
	}
	return strings.Join(parts, "; ")
}

func (e *Error) deductedList() string {
	parts := make([]string, 0, len(e.Deducted))
	for _, item := range e.Deducted {
		parts = append(parts, fmt.Sprintf("%s x%d (%d -> %d)", item.ProductID, item.QuantityDeducted, item.PreviousStock, item.NewStock))
	}
	return strings.Join(parts, ", ")
}

// AsError извлекает *Error из цепочки ошибок.
func AsError(err error) (*Error, bool) {
	var checkoutErr *Error
	if errors.As(err, &checkoutErr) {
		return checkoutErr, true
	}
	return nil, false
}
