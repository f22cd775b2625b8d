package integration

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/storage/demo"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const bufSize = 1024 * 1024

// CheckoutFlowTestSuite гоняет оформление и жизненный цикл заказа через gRPC поверх in-memory хранилищ.
type CheckoutFlowTestSuite struct {
	suite.Suite

	catalog      *memory.Catalog
	timeline     domain.TimelineRepository
	outbox       interface{ AllPending() []domain.OutboxMessage }
	orchestrator *checkout.Orchestrator

	server *grpc.Server
	conn   *grpc.ClientConn
	client *grpcsvc.Client
}

func (suite *CheckoutFlowTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	suite.catalog = memory.NewCatalog(demo.Products()...)
	suite.timeline = memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()
	suite.outbox = outbox
	store := memory.NewOrderStore(suite.catalog)

	suite.orchestrator = checkout.NewOrchestrator(suite.catalog, store,
		checkout.WithLogger(logger),
		checkout.WithOutbox(outbox),
		checkout.WithTimeline(suite.timeline),
	)
	manager := orders.NewManager(store, orders.WithLogger(logger))
	service := grpcsvc.NewStorefrontService(suite.catalog, suite.orchestrator, manager,
		grpcsvc.WithLogger(logger),
		grpcsvc.WithTimeline(suite.timeline),
		grpcsvc.WithOutbox(outbox),
		grpcsvc.WithIdempotency(memory.NewIdempotencyRepository(), time.Hour),
	)

	listener := bufconn.Listen(bufSize)
	suite.server = grpc.NewServer()
	grpcsvc.RegisterStorefrontServer(suite.server, service)
	go func() {
		_ = suite.server.Serve(listener)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(suite.T(), err)
	suite.conn = conn
	suite.client = grpcsvc.NewClient(conn)
}

func (suite *CheckoutFlowTestSuite) TearDownTest() {
	if suite.conn != nil {
		_ = suite.conn.Close()
	}
	if suite.server != nil {
		suite.server.Stop()
	}
}

func (suite *CheckoutFlowTestSuite) customer() domain.CustomerInfo {
	return domain.CustomerInfo{Name: "Иван Петров", Phone: "+79001234567", Address: "Москва, ул. Ленина, 1"}
}

func (suite *CheckoutFlowTestSuite) stock(productID string) int32 {
	product, err := suite.catalog.Product(context.Background(), productID)
	require.NoError(suite.T(), err)
	return product.Stock
}

func (suite *CheckoutFlowTestSuite) TestSuccessfulCheckoutAndLifecycle() {
	ctx := context.Background()

	// 1. Оформляем заказ из двух позиций
	placed, err := suite.client.PlaceOrder(ctx, "flow-1", suite.customer(), []domain.ItemRequest{
		{ProductID: "prod-headphones", Quantity: 2},
		{ProductID: "prod-case", Quantity: 1},
	})
	require.NoError(suite.T(), err)
	require.NotEmpty(suite.T(), placed.OrderID)
	require.Equal(suite.T(), int64(2*129900+39900), placed.TotalMinor)

	// 2. Остатки списаны
	require.Equal(suite.T(), int32(23), suite.stock("prod-headphones"))
	require.Equal(suite.T(), int32(2), suite.stock("prod-case"))

	// 3. Заказ виден в списке в статусе pending
	list, err := suite.client.ListOrders(ctx)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), list, 1)
	require.Equal(suite.T(), placed.OrderID, list[0].ID)
	require.Equal(suite.T(), domain.OrderStatusPending, list[0].Status)
	require.Equal(suite.T(), domain.PaymentMethodCOD, list[0].PaymentMethod)
	require.Len(suite.T(), list[0].Items, 2)

	// 4. Проводим заказ по всем статусам
	for _, next := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusShipping,
		domain.OrderStatusDelivered,
	} {
		result, err := suite.client.UpdateOrderStatus(ctx, placed.OrderID, next)
		require.NoError(suite.T(), err)
		require.True(suite.T(), result.Success)
		require.Equal(suite.T(), next, result.Status)
	}

	// 5. Возврат назад запрещён
	_, err = suite.client.UpdateOrderStatus(ctx, placed.OrderID, domain.OrderStatusConfirmed)
	require.Error(suite.T(), err)
	require.Equal(suite.T(), codes.FailedPrecondition, status.Code(err))

	// 6. Timeline: оформление и три смены статуса
	events, err := suite.client.GetOrderTimeline(ctx, placed.OrderID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), events, 4)
	require.Equal(suite.T(), domain.TimelineOrderPlaced, events[0].Type)

	// 7. Событие OrderPlaced лежит в outbox
	hasPlaced := false
	for _, msg := range suite.outbox.AllPending() {
		if msg.EventType == domain.EventOrderPlaced && msg.AggregateID == placed.OrderID {
			hasPlaced = true
		}
	}
	require.True(suite.T(), hasPlaced, "outbox should contain OrderPlaced event")
}

func (suite *CheckoutFlowTestSuite) TestInsufficientStockLeavesLedgerUntouched() {
	ctx := context.Background()

	_, err := suite.client.PlaceOrder(ctx, "flow-short", suite.customer(), []domain.ItemRequest{
		{ProductID: "prod-headphones", Quantity: 1},
		{ProductID: "prod-case", Quantity: 4},
	})
	require.Error(suite.T(), err)
	require.Equal(suite.T(), codes.FailedPrecondition, status.Code(err))

	details, ok := grpcsvc.CheckoutDetails(err)
	require.True(suite.T(), ok)
	require.False(suite.T(), details.GetFields()["stock_deducted"].GetBoolValue())

	// Батч не применён даже частично
	require.Equal(suite.T(), int32(25), suite.stock("prod-headphones"))
	require.Equal(suite.T(), int32(3), suite.stock("prod-case"))

	list, err := suite.client.ListOrders(ctx)
	require.NoError(suite.T(), err)
	require.Empty(suite.T(), list)
}

func (suite *CheckoutFlowTestSuite) TestIdempotentRetryPlacesOneOrder() {
	ctx := context.Background()
	items := []domain.ItemRequest{{ProductID: "prod-charger", Quantity: 3}}

	first, err := suite.client.PlaceOrder(ctx, "flow-retry", suite.customer(), items)
	require.NoError(suite.T(), err)
	second, err := suite.client.PlaceOrder(ctx, "flow-retry", suite.customer(), items)
	require.NoError(suite.T(), err)

	require.Equal(suite.T(), first.OrderID, second.OrderID)
	require.Equal(suite.T(), int32(37), suite.stock("prod-charger"))

	// Тот же ключ с другим телом отклоняется
	_, err = suite.client.PlaceOrder(ctx, "flow-retry", suite.customer(), []domain.ItemRequest{{ProductID: "prod-charger", Quantity: 1}})
	require.Error(suite.T(), err)
	require.Equal(suite.T(), codes.AlreadyExists, status.Code(err))
}

func (suite *CheckoutFlowTestSuite) TestInvalidCheckoutIsRejectedBeforeLedger() {
	ctx := context.Background()

	_, err := suite.client.PlaceOrder(ctx, "flow-invalid", domain.CustomerInfo{Name: "  "}, []domain.ItemRequest{
		{ProductID: "prod-charger", Quantity: 1},
	})
	require.Error(suite.T(), err)
	require.Equal(suite.T(), codes.InvalidArgument, status.Code(err))
	require.Equal(suite.T(), int32(40), suite.stock("prod-charger"))
}

func (suite *CheckoutFlowTestSuite) TestConcurrentCheckoutsNeverOversell() {
	const buyers = 10
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			c := cart.New()
			product, err := suite.catalog.Product(ctx, "prod-case")
			if err != nil {
				return
			}
			if err := c.AddItem(product, 1); err != nil {
				return
			}
			if _, err := suite.orchestrator.PlaceOrder(ctx, c, suite.customer()); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// На складе было 3 чехла
	require.Equal(suite.T(), 3, success)
	require.Equal(suite.T(), int32(0), suite.stock("prod-case"))
}

func TestCheckoutFlowSuite(t *testing.T) {
	suite.Run(t, new(CheckoutFlowTestSuite))
}
