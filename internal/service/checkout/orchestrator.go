// Package checkout превращает корзину в заказ: проверка остатков, списание,
// создание заказа и очистка корзины строго в этом порядке.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Receipt: результат успешного оформления.
type Receipt struct {
	OrderID     string
	OrderNumber string
	TotalMinor  int64
	Deducted    []domain.DeductionItemResult
}

// Orchestrator выполняет оформление заказа. Повторов нет: после отказа
// покупатель отправляет заказ заново, и остатки проверяются ещё раз.
type Orchestrator struct {
	ledger   domain.StockLedger
	store    domain.OrderStore
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
	now      func() time.Time
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics включает метрики оформления.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithOutbox включает публикацию событий оформления через outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(o *Orchestrator) {
		o.outbox = outbox
	}
}

// WithTimeline включает запись события OrderPlaced в timeline заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(o *Orchestrator) {
		o.timeline = timeline
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator создаёт оркестратор поверх склада и хранилища заказов.
func NewOrchestrator(ledger domain.StockLedger, store domain.OrderStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger: ledger,
		store:  store,
		logger: log.New().WithField("component", "checkout"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PlaceOrder оформляет заказ и возвращает его идентификатор.
// Корзина очищается только после успешного создания заказа.
func (o *Orchestrator) PlaceOrder(ctx context.Context, c *cart.Cart, customer domain.CustomerInfo) (string, error) {
	receipt, err := o.Checkout(ctx, c, customer)
	if err != nil {
		return "", err
	}
	return receipt.OrderID, nil
}

// Checkout делает то же, что PlaceOrder, но возвращает полный результат.
func (o *Orchestrator) Checkout(ctx context.Context, c *cart.Cart, customer domain.CustomerInfo) (Receipt, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordCheckoutStarted()
		defer func() {
			o.metrics.RecordCheckoutFinished()
			o.metrics.RecordCheckoutDuration(time.Since(start))
		}()
	}

	checkoutID := uuid.NewString()
	logger := o.logger.WithField("checkout_id", checkoutID)

	// 1. Локальная проверка, без обращений к складу и хранилищу.
	customer = customer.Normalize()
	if err := validate(c, customer); err != nil {
		o.recordFailure(StageValidation)
		logger.WithError(err).Debug("checkout rejected by validation")
		return Receipt{}, err
	}

	// 2. По одному запросу на позицию, в порядке корзины.
	requests := c.Requests()
	names := productNames(c)
	logger = logger.WithField("items_count", len(requests))

	// 3. Проверка наличия всего батча одним вызовом.
	stepStart := time.Now()
	availability, err := o.ledger.CheckAvailability(ctx, requests)
	o.recordStep(domain.CheckoutStepCheck, stepStart)
	if err != nil || !availability.Available {
		failure := &Error{Stage: StageAvailability, Err: err, names: names}
		if err == nil {
			failure.Unavailable = availability.UnavailableItems
			failure.Code = firstCode(availability.UnavailableItems)
		}
		return Receipt{}, o.fail(logger, checkoutID, failure)
	}

	// 4. Списание. При отказе заказ не создаётся, корзина не трогается.
	stepStart = time.Now()
	deduction, err := o.ledger.DeductBatch(ctx, requests)
	o.recordStep(domain.CheckoutStepDeduct, stepStart)
	if err != nil || !deduction.Success {
		failure := &Error{Stage: StageDeduction, Err: err}
		if err == nil {
			failure.Reason = deduction.Error
			failure.Code = deduction.Code
		}
		// Склад мог применить часть батча: такие позиции уходят на ручную сверку.
		if err == nil && len(deduction.Items) > 0 {
			failure.StockDeducted = true
			failure.Deducted = deduction.Items
			return Receipt{}, o.inconsistent(logger, checkoutID, failure)
		}
		return Receipt{}, o.fail(logger, checkoutID, failure)
	}

	// 5. Создание заказа. Цены не передаются: хранилище берёт их из каталога.
	stepStart = time.Now()
	created, err := o.store.Create(ctx, domain.CreateOrderRequest{Customer: customer, Items: requests})
	o.recordStep(domain.CheckoutStepCreate, stepStart)
	if err != nil || !created.Success {
		failure := &Error{
			Stage:         StageOrderCreation,
			Err:           err,
			StockDeducted: true,
			Deducted:      deduction.Items,
		}
		if err == nil {
			failure.Reason = created.Error
			failure.Code = created.Code
		}
		return Receipt{}, o.inconsistent(logger, checkoutID, failure)
	}

	// 6. Только теперь очищаем корзину.
	stepStart = time.Now()
	orderID := created.OrderID
	if orderID == "" {
		orderID = fallbackOrderID(o.now())
		logger.WithField("order_id", orderID).Warn("order store returned no order id, using generated one")
	}
	c.Clear()

	receipt := Receipt{
		OrderID:     orderID,
		OrderNumber: created.OrderNumber,
		TotalMinor:  created.TotalMinor,
		Deducted:    deduction.Items,
	}
	o.emitOrderPlaced(logger, receipt)
	o.recordStep(domain.CheckoutStepFinalize, stepStart)

	if o.metrics != nil {
		o.metrics.RecordCheckoutCompleted()
	}
	logger.WithFields(log.Fields{
		"order_id":     receipt.OrderID,
		"order_number": receipt.OrderNumber,
		"total_minor":  receipt.TotalMinor,
	}).Info("order placed")

	return receipt, nil
}

func validate(c *cart.Cart, customer domain.CustomerInfo) error {
	if c == nil || c.IsEmpty() {
		return &Error{Stage: StageValidation, Err: domain.ErrCartEmpty}
	}
	if errs := customer.Validate(); len(errs) > 0 {
		return &Error{Stage: StageValidation, Code: domain.CodeInvalidCustomer, Err: errors.Join(errs...)}
	}
	return nil
}

func (o *Orchestrator) fail(logger *log.Entry, checkoutID string, failure *Error) error {
	o.recordFailure(failure.Stage)
	logger.WithError(failure).WithFields(log.Fields{
		"stage": failure.Stage,
		"code":  failure.Code,
	}).Warn("checkout failed")

	o.enqueue(logger, domain.OutboxMessage{
		AggregateType: domain.AggregateCheckout,
		AggregateID:   checkoutID,
		EventType:     domain.EventCheckoutFailed,
	}, failurePayload(failure))
	return failure
}

// inconsistent обрабатывает случай «остатки (хотя бы частично) списаны, заказа нет».
// Автоматического возврата остатков нет: событие уходит на ручную сверку.
func (o *Orchestrator) inconsistent(logger *log.Entry, checkoutID string, failure *Error) error {
	o.recordFailure(failure.Stage)
	if o.metrics != nil {
		o.metrics.RecordCheckoutInconsistent()
	}
	logger.WithError(failure).WithFields(log.Fields{
		"stage":          failure.Stage,
		"code":           failure.Code,
		"stock_deducted": true,
	}).Error("stock deducted but order was not created")

	payload := failurePayload(failure)
	payload["deducted"] = deductedPayload(failure.Deducted)
	o.enqueue(logger, domain.OutboxMessage{
		AggregateType: domain.AggregateCheckout,
		AggregateID:   checkoutID,
		EventType:     domain.EventCheckoutInconsistent,
	}, payload)
	return failure
}

func (o *Orchestrator) emitOrderPlaced(logger *log.Entry, receipt Receipt) {
	now := o.now()
	o.enqueue(logger, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   receipt.OrderID,
		EventType:     domain.EventOrderPlaced,
	}, map[string]interface{}{
		"order_id":     receipt.OrderID,
		"order_number": receipt.OrderNumber,
		"total_minor":  receipt.TotalMinor,
		"deducted":     deductedPayload(receipt.Deducted),
		"ts":           now.Format(time.RFC3339Nano),
	})

	if o.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  receipt.OrderID,
		Type:     domain.TimelineOrderPlaced,
		Occurred: now,
	}
	if err := o.timeline.Append(event); err != nil {
		logger.WithError(err).WithField("order_id", receipt.OrderID).Warn("append timeline event failed")
	} else if o.metrics != nil {
		o.metrics.RecordTimelineEvent()
	}
}

// enqueue не влияет на результат оформления: ошибка outbox только логируется.
func (o *Orchestrator) enqueue(logger *log.Entry, msg domain.OutboxMessage, payload map[string]interface{}) {
	if o.outbox == nil {
		return
	}
	if _, ok := payload["ts"]; !ok {
		payload["ts"] = o.now().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).WithField("event", msg.EventType).Error("marshal event failed")
		return
	}
	msg.Payload = data

	if _, err := o.outbox.Enqueue(msg); err != nil {
		logger.WithError(err).WithField("event", msg.EventType).Error("enqueue event failed")
	} else if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

func (o *Orchestrator) recordFailure(stage Stage) {
	if o.metrics != nil {
		o.metrics.RecordCheckoutFailed(string(stage))
	}
}

func (o *Orchestrator) recordStep(step domain.CheckoutStep, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordStepDuration(string(step), time.Since(start))
	}
}

func failurePayload(failure *Error) map[string]interface{} {
	payload := map[string]interface{}{
		"stage":  string(failure.Stage),
		"reason": failure.Error(),
	}
	if failure.Code != "" {
		payload["code"] = failure.Code
	}
	if len(failure.Unavailable) > 0 {
		items := make([]map[string]interface{}, 0, len(failure.Unavailable))
		for _, item := range failure.Unavailable {
			items = append(items, map[string]interface{}{
				"product_id":         item.ProductID,
				"current_stock":      item.CurrentStock,
				"requested_quantity": item.RequestedQuantity,
				"reason":             string(item.Reason),
				"code":               item.Code,
			})
		}
		payload["unavailable"] = items
	}
	return payload
}

func deductedPayload(items []domain.DeductionItemResult) []map[string]interface{} {
	result := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		result = append(result, map[string]interface{}{
			"product_id":        item.ProductID,
			"previous_stock":    item.PreviousStock,
			"new_stock":         item.NewStock,
			"quantity_deducted": item.QuantityDeducted,
		})
	}
	return result
}

func productNames(c *cart.Cart) map[string]string {
	names := make(map[string]string, c.Len())
	for _, line := range c.Lines() {
		names[line.Product.ID] = line.Product.Name
	}
	return names
}

func firstCode(items []domain.UnavailableItem) string {
	for _, item := range items {
		if item.Code != "" {
			return item.Code
		}
	}
	return ""
}

// fallbackOrderID строит локальный идентификатор вида ORD-<unix-millis>-<8 hex>.
func fallbackOrderID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix)
}
