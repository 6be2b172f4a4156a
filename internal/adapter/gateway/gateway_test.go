package gateway

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/stock-sync/internal/adapter/handler"
	"github.com/rl1809/stock-sync/internal/adapter/handler/pb"
	"github.com/rl1809/stock-sync/internal/adapter/storage"
	"github.com/rl1809/stock-sync/internal/core/domain"
	"github.com/rl1809/stock-sync/internal/core/service"
)

const bufSize = 1024 * 1024

type testServer struct {
	products  *storage.SQLStore
	gateway   *GRPCGateway
	setHealth func(healthpb.HealthCheckResponse_ServingStatus)
	stop      func()
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	products, err := storage.OpenSQLStore(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "server.db"), 0)
	require.NoError(t, err)
	require.NoError(t, products.Migrate(ctx))
	for _, p := range []domain.Product{
		{ID: "p-1", Name: "Gel Pen", SKU: "PEN-001", Location: "A-1", Quantity: 10, SafetyStock: 10},
		{ID: "p-2", Name: "Notebook", SKU: "NB-002", Location: "B-1", Quantity: 5, SafetyStock: 1},
	} {
		require.NoError(t, products.UpsertProduct(ctx, p))
	}

	engine := service.NewReconciliationEngine(products, nil, zerolog.Nop())
	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	hs := handler.NewGRPCHandler(engine, zerolog.Nop()).Register(server)
	go func() {
		server.Serve(listener)
	}()

	gw, err := DialGRPC("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	return &testServer{
		products: products,
		gateway:  gw,
		setHealth: func(s healthpb.HealthCheckResponse_ServingStatus) {
			hs.SetServingStatus(pb.SyncServiceName, s)
		},
		stop: func() {
			gw.Close()
			hs.Shutdown()
			server.Stop()
			listener.Close()
			products.Close()
		},
	}
}

func TestGRPCGateway_OfflineQueueRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := startServer(t)
	defer srv.stop()
	ctx := context.Background()

	actions, err := storage.OpenSQLiteActionStore(ctx, filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer actions.Close()

	queue := service.NewActionQueue(actions)
	monitor := service.NewConnectivityMonitor(srv.gateway, 0, 1, zerolog.Nop())
	coordinator := service.NewSyncCoordinator(queue, srv.gateway, monitor, service.CoordinatorConfig{
		DeviceID: "tablet-1",
		ActorID:  "clerk-9",
	}, zerolog.Nop())

	// recorded while offline
	_, err = queue.Enqueue(ctx, domain.AdjustInventory{ProductID: "p-1", QuantityDelta: -1})
	require.NoError(t, err)
	missing, err := queue.Enqueue(ctx, domain.AdjustInventory{ProductID: "p-gone", QuantityDelta: 2})
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, domain.MoveLocation{ProductID: "p-2", ToLocation: "B-7"})
	require.NoError(t, err)

	report, err := coordinator.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncReport{}, report, "offline until a probe succeeds")

	require.True(t, monitor.Check(ctx))

	report, err = coordinator.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, domain.ReasonNotFound, report.Failures[0].Reason)

	pending, err := queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, missing, pending[0].ID)

	pen, err := srv.products.FindByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 9, pen.Quantity)

	notebook, err := srv.products.FindByID(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, "B-7", notebook.Location)

	history, err := srv.products.ListAdjustments(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "clerk-9", history[0].ActorID)
}

func TestGRPCGateway_Probe(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := startServer(t)
	defer srv.stop()
	ctx := context.Background()

	require.NoError(t, srv.gateway.Probe(ctx))

	srv.setHealth(healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Error(t, srv.gateway.Probe(ctx))
}

func TestLocalGateway(t *testing.T) {
	ctx := context.Background()

	products, err := storage.OpenSQLStore(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "local.db"), 0)
	require.NoError(t, err)
	defer products.Close()
	require.NoError(t, products.Migrate(ctx))
	require.NoError(t, products.UpsertProduct(ctx, domain.Product{ID: "p-1", SKU: "PEN-001", Location: "A-1", Quantity: 3}))

	gw := NewLocalGateway(service.NewReconciliationEngine(products, nil, zerolog.Nop()), products.Ping)
	require.NoError(t, gw.Probe(ctx))

	result, err := gw.SubmitBatch(ctx, domain.SyncBatch{
		ActorID: "clerk-1",
		Actions: []domain.QueuedAction{
			{ID: "a-1", Payload: domain.AdjustInventory{ProductID: "p-1", QuantityDelta: -4}},
		},
	})
	require.NoError(t, err)
	succeeded, failed := result.Counts()
	assert.Zero(t, succeeded)
	assert.Equal(t, 1, failed)
}
