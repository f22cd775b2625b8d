package grpcsvc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Client — типизированная обёртка над StorefrontService для Go-клиентов.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient создаёт клиента поверх готового соединения.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// PlaceOrder оформляет заказ. Один idempotencyKey соответствует одной попытке оформления.
func (c *Client) PlaceOrder(ctx context.Context, idempotencyKey string, customer domain.CustomerInfo, items []domain.ItemRequest) (PlacedOrder, error) {
	req, err := NewPlaceOrderRequest(customer, items)
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("build place order request: %w", err)
	}
	if idempotencyKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, IdempotencyKeyHeader, idempotencyKey)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodPlaceOrder, req, resp); err != nil {
		return PlacedOrder{}, err
	}
	return decodePlacedOrder(resp), nil
}

// ListOrders возвращает заказы, новые первыми.
func (c *Client) ListOrders(ctx context.Context) ([]domain.Order, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodListOrders, &structpb.Struct{}, resp); err != nil {
		return nil, err
	}
	return decodeOrders(resp)
}

// UpdateOrderStatus переводит заказ в следующий статус.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.UpdateStatusResult, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodUpdateOrderStatus, NewUpdateOrderStatusRequest(orderID, status), resp); err != nil {
		return domain.UpdateStatusResult{}, err
	}
	return decodeStatusResult(resp)
}

// GetOrderTimeline возвращает события заказа.
func (c *Client) GetOrderTimeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodGetOrderTimeline, NewOrderIDRequest(orderID), resp); err != nil {
		return nil, err
	}
	return decodeTimeline(orderID, resp)
}
