package server

import (
	"MetLev/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const maxEventBody = 1 << 20

// NewGatewayMux routes the HTTP/JSON API onto engine. In production engine
// is an EngineClient dialed to the gRPC server.
func NewGatewayMux(engine EngineServer) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		handler         runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/events/{type}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
			if err != nil {
				writeError(w, r, mux, status.Errorf(codes.InvalidArgument, "read body: %v", err))
				return
			}
			resp, err := engine.Submit(r.Context(), &SubmitRequest{EventType: params["type"], Payload: body})
			writeResult(w, r, mux, resp, err)
		}},
		{http.MethodGet, "/v1/positions/{owner}/{mint}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := engine.GetPosition(r.Context(), &GetPositionRequest{Owner: params["owner"], Mint: params["mint"]})
			writeResult(w, r, mux, resp, err)
		}},
		{http.MethodGet, "/v1/pools/{asset}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := engine.GetPool(r.Context(), &GetPoolRequest{Asset: params["asset"]})
			writeResult(w, r, mux, resp, err)
		}},
		{http.MethodGet, "/v1/lp/{owner}/{asset}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := engine.GetLpPosition(r.Context(), &GetLpPositionRequest{Owner: params["owner"], Asset: params["asset"]})
			writeResult(w, r, mux, resp, err)
		}},
		{http.MethodGet, "/v1/balances/{owner}/{asset}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := engine.GetBalance(r.Context(), &GetBalanceRequest{Owner: params["owner"], Asset: params["asset"]})
			writeResult(w, r, mux, resp, err)
		}},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func writeResult(w http.ResponseWriter, r *http.Request, mux *runtime.ServeMux, resp interface{}, err error) {
	if err != nil {
		writeError(w, r, mux, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// writeError renders a gRPC status the way generated gateway handlers do.
func writeError(w http.ResponseWriter, r *http.Request, mux *runtime.ServeMux, err error) {
	runtime.HTTPError(r.Context(), mux, &runtime.JSONPb{}, w, r, err)
}

// HTTPGateway serves the HTTP/JSON API, proxying to the gRPC server, plus
// liveness and readiness checks.
type HTTPGateway struct {
	httpAddr      string
	grpcAddr      string
	healthChecker *observability.HealthChecker
	httpServer    *http.Server
}

func NewHTTPGateway(httpAddr, grpcAddr string, healthChecker *observability.HealthChecker) *HTTPGateway {
	return &HTTPGateway{httpAddr: httpAddr, grpcAddr: grpcAddr, healthChecker: healthChecker}
}

// Handler builds the full HTTP handler around engine.
func (g *HTTPGateway) Handler(engine EngineServer) (http.Handler, error) {
	mux, err := NewGatewayMux(engine)
	if err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if g.healthChecker != nil {
		httpMux.HandleFunc("/healthz", g.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", g.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// Start dials the gRPC server and serves HTTP (blocking).
func (g *HTTPGateway) Start(ctx context.Context) error {
	conn, err := grpc.NewClient(dialTarget(g.grpcAddr), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial grpc %s: %w", g.grpcAddr, err)
	}
	defer conn.Close()

	handler, err := g.Handler(NewEngineClient(conn))
	if err != nil {
		return err
	}
	g.httpServer = &http.Server{
		Addr:              g.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP gateway listening on %s (proxying to gRPC %s)", g.httpAddr, g.grpcAddr)
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// dialTarget turns a listen address such as ":9090" into one a client can
// dial.
func dialTarget(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
