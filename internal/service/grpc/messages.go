package grpcsvc

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Поля сообщений StorefrontService.
//
//	PlaceOrder        {customer:{name,phone,address}, items:[{product_id,quantity}]}
//	                  -> {order_id, order_number, total_minor}
//	ListOrders        {} -> {orders:[order]}
//	UpdateOrderStatus {order_id, status} -> {order_id, order_number, status, updated_at}
//	GetOrderTimeline  {order_id} -> {events:[{type, reason, occurred}]}
//
// Денежные суммы передаются числом в минимальных единицах; значения до 2^53 точны.
const (
	fieldCustomer    = "customer"
	fieldName        = "name"
	fieldPhone       = "phone"
	fieldAddress     = "address"
	fieldItems       = "items"
	fieldProductID   = "product_id"
	fieldQuantity    = "quantity"
	fieldOrderID     = "order_id"
	fieldOrderNumber = "order_number"
	fieldTotalMinor  = "total_minor"
	fieldStatus      = "status"
	fieldUpdatedAt   = "updated_at"
	fieldOrders      = "orders"
	fieldEvents      = "events"
)

// PlaceOrderRequest — разобранный запрос на оформление.
type PlaceOrderRequest struct {
	Customer domain.CustomerInfo
	Items    []domain.ItemRequest
}

// PlacedOrder — ответ PlaceOrder.
type PlacedOrder struct {
	OrderID     string
	OrderNumber string
	TotalMinor  int64
}

// NewPlaceOrderRequest собирает сообщение PlaceOrder.
func NewPlaceOrderRequest(customer domain.CustomerInfo, items []domain.ItemRequest) (*structpb.Struct, error) {
	list := make([]any, 0, len(items))
	for _, item := range items {
		list = append(list, map[string]any{
			fieldProductID: item.ProductID,
			fieldQuantity:  item.Quantity,
		})
	}
	return structpb.NewStruct(map[string]any{
		fieldCustomer: map[string]any{
			fieldName:    customer.Name,
			fieldPhone:   customer.Phone,
			fieldAddress: customer.Address,
		},
		fieldItems: list,
	})
}

func decodePlaceOrderRequest(msg *structpb.Struct) (PlaceOrderRequest, error) {
	customer := msg.GetFields()[fieldCustomer].GetStructValue()
	req := PlaceOrderRequest{
		Customer: domain.CustomerInfo{
			Name:    stringField(customer, fieldName),
			Phone:   stringField(customer, fieldPhone),
			Address: stringField(customer, fieldAddress),
		},
	}

	for idx, value := range msg.GetFields()[fieldItems].GetListValue().GetValues() {
		item := value.GetStructValue()
		if item == nil {
			return PlaceOrderRequest{}, fmt.Errorf("items[%d] must be an object", idx)
		}
		quantity, err := int32Field(item, fieldQuantity)
		if err != nil {
			return PlaceOrderRequest{}, fmt.Errorf("items[%d].%w", idx, err)
		}
		req.Items = append(req.Items, domain.ItemRequest{
			ProductID: stringField(item, fieldProductID),
			Quantity:  quantity,
		})
	}
	return req, nil
}

func encodePlacedOrder(order PlacedOrder) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOrderID:     structpb.NewStringValue(order.OrderID),
		fieldOrderNumber: structpb.NewStringValue(order.OrderNumber),
		fieldTotalMinor:  structpb.NewNumberValue(float64(order.TotalMinor)),
	}}
}

func decodePlacedOrder(msg *structpb.Struct) PlacedOrder {
	return PlacedOrder{
		OrderID:     stringField(msg, fieldOrderID),
		OrderNumber: stringField(msg, fieldOrderNumber),
		TotalMinor:  int64Field(msg, fieldTotalMinor),
	}
}

func encodeOrders(orders []domain.Order) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(orders))
	for _, order := range orders {
		values = append(values, structpb.NewStructValue(encodeOrder(order)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOrders: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func encodeOrder(order domain.Order) *structpb.Struct {
	items := make([]*structpb.Value, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":                  structpb.NewStringValue(item.ID),
			fieldProductID:        structpb.NewStringValue(item.ProductID),
			"product_name":        structpb.NewStringValue(item.ProductName),
			"product_price_minor": structpb.NewNumberValue(float64(item.ProductPriceMinor)),
			"product_image":       structpb.NewStringValue(item.ProductImage),
			fieldQuantity:         structpb.NewNumberValue(float64(item.Quantity)),
			"subtotal_minor":      structpb.NewNumberValue(float64(item.SubtotalMinor)),
		}}))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":               structpb.NewStringValue(order.ID),
		fieldOrderNumber:   structpb.NewStringValue(order.OrderNumber),
		"customer_name":    structpb.NewStringValue(order.CustomerName),
		"customer_phone":   structpb.NewStringValue(order.CustomerPhone),
		"customer_address": structpb.NewStringValue(order.CustomerAddress),
		fieldTotalMinor:    structpb.NewNumberValue(float64(order.TotalMinor)),
		fieldStatus:        structpb.NewStringValue(string(order.Status)),
		"payment_method":   structpb.NewStringValue(order.PaymentMethod),
		"created_at":       structpb.NewStringValue(formatTime(order.CreatedAt)),
		fieldUpdatedAt:     structpb.NewStringValue(formatTime(order.UpdatedAt)),
		fieldItems:         structpb.NewListValue(&structpb.ListValue{Values: items}),
	}}
}

func decodeOrders(msg *structpb.Struct) ([]domain.Order, error) {
	values := msg.GetFields()[fieldOrders].GetListValue().GetValues()
	orders := make([]domain.Order, 0, len(values))
	for idx, value := range values {
		fields := value.GetStructValue()
		if fields == nil {
			return nil, fmt.Errorf("orders[%d] must be an object", idx)
		}
		order, err := decodeOrder(fields)
		if err != nil {
			return nil, fmt.Errorf("orders[%d]: %w", idx, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func decodeOrder(msg *structpb.Struct) (domain.Order, error) {
	createdAt, err := parseTime(stringField(msg, "created_at"))
	if err != nil {
		return domain.Order{}, fmt.Errorf("created_at: %w", err)
	}
	updatedAt, err := parseTime(stringField(msg, fieldUpdatedAt))
	if err != nil {
		return domain.Order{}, fmt.Errorf("updated_at: %w", err)
	}

	order := domain.Order{
		ID:              stringField(msg, "id"),
		OrderNumber:     stringField(msg, fieldOrderNumber),
		CustomerName:    stringField(msg, "customer_name"),
		CustomerPhone:   stringField(msg, "customer_phone"),
		CustomerAddress: stringField(msg, "customer_address"),
		TotalMinor:      int64Field(msg, fieldTotalMinor),
		Status:          domain.OrderStatus(stringField(msg, fieldStatus)),
		PaymentMethod:   stringField(msg, "payment_method"),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
	for _, value := range msg.GetFields()[fieldItems].GetListValue().GetValues() {
		item := value.GetStructValue()
		quantity, err := int32Field(item, fieldQuantity)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:                stringField(item, "id"),
			ProductID:         stringField(item, fieldProductID),
			ProductName:       stringField(item, "product_name"),
			ProductPriceMinor: int64Field(item, "product_price_minor"),
			ProductImage:      stringField(item, "product_image"),
			Quantity:          quantity,
			SubtotalMinor:     int64Field(item, "subtotal_minor"),
		})
	}
	return order, nil
}

// NewUpdateOrderStatusRequest собирает сообщение UpdateOrderStatus.
func NewUpdateOrderStatusRequest(orderID string, status domain.OrderStatus) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOrderID: structpb.NewStringValue(orderID),
		fieldStatus:  structpb.NewStringValue(string(status)),
	}}
}

func encodeStatusResult(result domain.UpdateStatusResult) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOrderID:     structpb.NewStringValue(result.OrderID),
		fieldOrderNumber: structpb.NewStringValue(result.OrderNumber),
		fieldStatus:      structpb.NewStringValue(string(result.Status)),
		fieldUpdatedAt:   structpb.NewStringValue(formatTime(result.UpdatedAt)),
	}}
}

func decodeStatusResult(msg *structpb.Struct) (domain.UpdateStatusResult, error) {
	updatedAt, err := parseTime(stringField(msg, fieldUpdatedAt))
	if err != nil {
		return domain.UpdateStatusResult{}, fmt.Errorf("updated_at: %w", err)
	}
	return domain.UpdateStatusResult{
		Success:     true,
		OrderID:     stringField(msg, fieldOrderID),
		OrderNumber: stringField(msg, fieldOrderNumber),
		Status:      domain.OrderStatus(stringField(msg, fieldStatus)),
		UpdatedAt:   updatedAt,
	}, nil
}

// NewOrderIDRequest собирает сообщение с одним order_id.
func NewOrderIDRequest(orderID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOrderID: structpb.NewStringValue(orderID),
	}}
}

func encodeTimeline(events []domain.TimelineEvent) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(events))
	for _, event := range events {
		values = append(values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"type":     structpb.NewStringValue(event.Type),
			"reason":   structpb.NewStringValue(event.Reason),
			"occurred": structpb.NewStringValue(formatTime(event.Occurred)),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldEvents: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func decodeTimeline(orderID string, msg *structpb.Struct) ([]domain.TimelineEvent, error) {
	values := msg.GetFields()[fieldEvents].GetListValue().GetValues()
	events := make([]domain.TimelineEvent, 0, len(values))
	for _, value := range values {
		fields := value.GetStructValue()
		occurred, err := parseTime(stringField(fields, "occurred"))
		if err != nil {
			return nil, fmt.Errorf("occurred: %w", err)
		}
		events = append(events, domain.TimelineEvent{
			OrderID:  orderID,
			Type:     stringField(fields, "type"),
			Reason:   stringField(fields, "reason"),
			Occurred: occurred,
		})
	}
	return events, nil
}

func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

func int64Field(msg *structpb.Struct, name string) int64 {
	return int64(math.Round(msg.GetFields()[name].GetNumberValue()))
}

func int32Field(msg *structpb.Struct, name string) (int32, error) {
	value, ok := msg.GetFields()[name].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	n := value.NumberValue
	if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be a 32-bit integer", name)
	}
	return int32(n), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
