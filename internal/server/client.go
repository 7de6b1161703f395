package server

import (
	"MetLev/internal/query"
	"context"

	"google.golang.org/grpc"
)

// EngineClient calls the engine service over a gRPC connection using the
// JSON codec. The HTTP gateway proxies through it.
type EngineClient struct {
	cc grpc.ClientConnInterface
}

func NewEngineClient(cc grpc.ClientConnInterface) *EngineClient {
	return &EngineClient{cc: cc}
}

func (c *EngineClient) invoke(ctx context.Context, method string, in, out interface{}) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(codecName))
}

func (c *EngineClient) Submit(ctx context.Context, in *SubmitRequest) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	if err := c.invoke(ctx, "Submit", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EngineClient) GetPosition(ctx context.Context, in *GetPositionRequest) (*query.PositionResponse, error) {
	out := new(query.PositionResponse)
	if err := c.invoke(ctx, "GetPosition", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EngineClient) GetPool(ctx context.Context, in *GetPoolRequest) (*query.PoolResponse, error) {
	out := new(query.PoolResponse)
	if err := c.invoke(ctx, "GetPool", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EngineClient) GetLpPosition(ctx context.Context, in *GetLpPositionRequest) (*query.LpPositionResponse, error) {
	out := new(query.LpPositionResponse)
	if err := c.invoke(ctx, "GetLpPosition", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EngineClient) GetBalance(ctx context.Context, in *GetBalanceRequest) (*query.BalanceResponse, error) {
	out := new(query.BalanceResponse)
	if err := c.invoke(ctx, "GetBalance", in, out); err != nil {
		return nil, err
	}
	return out, nil
}
