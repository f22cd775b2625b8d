package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса витрины.
const ServiceName = "storefront.v1.StorefrontService"

const (
	MethodPlaceOrder        = "/" + ServiceName + "/PlaceOrder"
	MethodListOrders        = "/" + ServiceName + "/ListOrders"
	MethodUpdateOrderStatus = "/" + ServiceName + "/UpdateOrderStatus"
	MethodGetOrderTimeline  = "/" + ServiceName + "/GetOrderTimeline"
)

// StorefrontServer — серверная сторона API витрины. Сообщения передаются как
// google.protobuf.Struct, схема полей описана в messages.go.
type StorefrontServer interface {
	PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpdateOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetOrderTimeline(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterStorefrontServer регистрирует реализацию на gRPC-сервере.
func RegisterStorefrontServer(registrar grpc.ServiceRegistrar, srv StorefrontServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc описывает unary-методы StorefrontService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorefrontServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: unaryHandler(MethodPlaceOrder, StorefrontServer.PlaceOrder)},
		{MethodName: "ListOrders", Handler: unaryHandler(MethodListOrders, StorefrontServer.ListOrders)},
		{MethodName: "UpdateOrderStatus", Handler: unaryHandler(MethodUpdateOrderStatus, StorefrontServer.UpdateOrderStatus)},
		{MethodName: "GetOrderTimeline", Handler: unaryHandler(MethodGetOrderTimeline, StorefrontServer.GetOrderTimeline)},
	},
	Streams: []grpc.StreamDesc{},
}

type unaryMethod func(StorefrontServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, method unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(StorefrontServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(StorefrontServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
