package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

// checkoutStatus переводит отказ оформления в gRPC-статус. Детали отказа
// (этап, код, недоступные позиции) уходят в status details как Struct.
func checkoutStatus(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}

	failure, ok := checkout.AsError(err)
	if !ok {
		return status.Error(codes.Internal, "checkout failed")
	}

	var code codes.Code
	switch {
	case failure.Stage == checkout.StageOrderCreation:
		// Остатки уже списаны: повтор не поможет, нужна ручная сверка.
		code = codes.Internal
	case failure.Stage == checkout.StageValidation:
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrBackendUnavailable):
		code = codes.Unavailable
	case failure.Err != nil:
		code = codes.Unavailable
	case failure.Stage == checkout.StageAvailability:
		code = codes.FailedPrecondition
	default:
		// Склад отказал при списании после успешной проверки: остаток ушёл параллельному заказу.
		code = codes.Aborted
	}

	st := status.New(code, failure.Error())
	if details, detailsErr := failureDetails(failure); detailsErr == nil {
		if withDetails, attachErr := st.WithDetails(details); attachErr == nil {
			st = withDetails
		}
	}
	return st.Err()
}

func failureDetails(failure *checkout.Error) (*structpb.Struct, error) {
	unavailable := make([]any, 0, len(failure.Unavailable))
	for _, item := range failure.Unavailable {
		unavailable = append(unavailable, map[string]any{
			"product_id":         item.ProductID,
			"current_stock":      item.CurrentStock,
			"requested_quantity": item.RequestedQuantity,
			"reason":             string(item.Reason),
			"code":               item.Code,
		})
	}
	return structpb.NewStruct(map[string]any{
		"stage":          string(failure.Stage),
		"code":           failure.Code,
		"stock_deducted": failure.StockDeducted,
		"unavailable":    unavailable,
	})
}

// CheckoutDetails достаёт из gRPC-ошибки детали отказа оформления.
func CheckoutDetails(err error) (*structpb.Struct, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for _, detail := range st.Details() {
		if details, ok := detail.(*structpb.Struct); ok {
			return details, true
		}
	}
	return nil, false
}

func rejectionCode(code string) codes.Code {
	switch code {
	case domain.CodeOrderNotFound:
		return codes.NotFound
	case domain.CodeInvalidStatusTransition:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

func backendStatus(err error, msg string) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, domain.ErrBackendUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, msg)
	}
}
