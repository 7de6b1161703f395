package server_test

import (
	"MetLev/internal/core"
	"MetLev/internal/errs"
	"MetLev/internal/ingestion"
	"MetLev/internal/observability"
	"MetLev/internal/query"
	"MetLev/internal/server"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeIngestor struct {
	lastType    string
	lastPayload string
	err         error
}

func (f *fakeIngestor) Submit(_ context.Context, eventType string, payload []byte) (core.Receipt, error) {
	f.lastType, f.lastPayload = eventType, string(payload)
	if f.err != nil {
		return core.Receipt{}, f.err
	}
	return core.Receipt{Sequence: 42, StateHash: [32]byte{1}}, nil
}

type fakeReader struct {
	owner uuid.UUID
}

func (f *fakeReader) GetPosition(_ context.Context, owner uuid.UUID, mint string) (*query.PositionResponse, error) {
	if owner != f.owner {
		return nil, fmt.Errorf("position: %w", query.ErrNotFound)
	}
	return &query.PositionResponse{Owner: owner, Mint: mint, DebtAmount: decimal.NewFromInt(300), Status: "Active"}, nil
}

func (f *fakeReader) GetPool(_ context.Context, asset string) (*query.PoolResponse, error) {
	if asset != "USDC" {
		return nil, fmt.Errorf("pool %s: %w", asset, query.ErrNotFound)
	}
	return &query.PoolResponse{Asset: asset, Decimals: 6, TotalSupplied: decimal.NewFromInt(5_000_000), Utilization: "0.0000"}, nil
}

func (f *fakeReader) GetLpPosition(_ context.Context, owner uuid.UUID, asset string) (*query.LpPositionResponse, error) {
	return &query.LpPositionResponse{Owner: owner, Asset: asset, Claimable: decimal.NewFromInt(7)}, nil
}

func (f *fakeReader) GetBalance(_ context.Context, owner uuid.UUID, asset string) (*query.BalanceResponse, error) {
	return &query.BalanceResponse{UserID: owner, Asset: asset, Balance: 11}, nil
}

func startServer(t *testing.T, ingest server.Ingestor, reader server.Reader) (*server.GRPCServer, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := server.NewGRPCServer("bufnet", server.NewEngineService(ingest, reader), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
	})
	return srv, conn
}

func TestEngine_Submit(t *testing.T) {
	ingest := &fakeIngestor{}
	_, conn := startServer(t, ingest, &fakeReader{})
	client := server.NewEngineClient(conn)

	resp, err := client.Submit(context.Background(), &server.SubmitRequest{
		EventType: "WalletDeposit",
		Payload:   json.RawMessage(`{"tx_ref":"a"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.Sequence)
	assert.True(t, strings.HasPrefix(resp.StateHash, "01"))
	assert.Equal(t, "WalletDeposit", ingest.lastType)
	assert.JSONEq(t, `{"tx_ref":"a"}`, ingest.lastPayload)

	_, err = client.Submit(context.Background(), &server.SubmitRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestEngine_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("parse: %w", ingestion.ErrInvalidPayload), codes.InvalidArgument},
		{fmt.Errorf("open: %w", errs.ErrExceedsMaxLTV), codes.FailedPrecondition},
		{fmt.Errorf("admin: %w", errs.ErrUnauthorized), codes.PermissionDenied},
		{fmt.Errorf("deposit: %w", errs.ErrInvalidAmount), codes.InvalidArgument},
		{fmt.Errorf("close: %w", errs.ErrRepaymentFailed), codes.Aborted},
		{core.ErrRunnerStopped, codes.Unavailable},
		{fmt.Errorf("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			_, conn := startServer(t, &fakeIngestor{err: tc.err}, &fakeReader{})
			_, err := server.NewEngineClient(conn).Submit(context.Background(), &server.SubmitRequest{EventType: "X"})
			assert.Equal(t, tc.code, status.Code(err))
		})
	}

	_, conn := startServer(t, &fakeIngestor{err: fmt.Errorf("open: %w", errs.ErrExceedsMaxLTV)}, &fakeReader{})
	_, err := server.NewEngineClient(conn).Submit(context.Background(), &server.SubmitRequest{EventType: "X"})
	assert.True(t, strings.HasPrefix(status.Convert(err).Message(), "ExceedsMaxLTV:"))
}

func TestEngine_Queries(t *testing.T) {
	owner := uuid.New()
	_, conn := startServer(t, &fakeIngestor{}, &fakeReader{owner: owner})
	client := server.NewEngineClient(conn)
	ctx := context.Background()

	pos, err := client.GetPosition(ctx, &server.GetPositionRequest{Owner: owner.String(), Mint: "SOL"})
	require.NoError(t, err)
	assert.True(t, pos.DebtAmount.Equal(decimal.NewFromInt(300)))

	_, err = client.GetPosition(ctx, &server.GetPositionRequest{Owner: uuid.NewString(), Mint: "SOL"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetPosition(ctx, &server.GetPositionRequest{Owner: "nope", Mint: "SOL"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	pool, err := client.GetPool(ctx, &server.GetPoolRequest{Asset: "USDC"})
	require.NoError(t, err)
	assert.Equal(t, uint8(6), pool.Decimals)

	lp, err := client.GetLpPosition(ctx, &server.GetLpPositionRequest{Owner: owner.String(), Asset: "USDC"})
	require.NoError(t, err)
	assert.True(t, lp.Claimable.Equal(decimal.NewFromInt(7)))

	bal, err := client.GetBalance(ctx, &server.GetBalanceRequest{Owner: owner.String(), Asset: "USDC"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), bal.Balance)
}

func TestHealthService(t *testing.T) {
	srv, conn := startServer(t, &fakeIngestor{}, &fakeReader{})
	health := healthpb.NewHealthClient(conn)

	resp, err := health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	srv.SetServing(true)
	resp, err = health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestGateway(t *testing.T) {
	owner := uuid.New()
	ingest := &fakeIngestor{}
	checker := observability.NewHealthChecker()
	handler, err := server.NewHTTPGateway(":0", "bufnet", checker).
		Handler(server.NewEngineService(ingest, &fakeReader{owner: owner}))
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/events/LiquiditySupplied", "application/json", strings.NewReader(`{"asset":"USDC"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var submit server.SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submit))
	assert.Equal(t, int64(42), submit.Sequence)
	assert.Equal(t, "LiquiditySupplied", ingest.lastType)

	resp, err = http.Get(ts.URL + "/v1/pools/USDC")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var pool map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pool))
	assert.Equal(t, "5000000", pool["total_supplied"])

	resp, err = http.Get(ts.URL + "/v1/pools/BONK")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/positions/" + owner.String() + "/SOL")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/lp/not-a-uuid/USDC")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	checker.SetReady(true)
	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
