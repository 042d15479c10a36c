// Package api exposes the paper-trading ledger over HTTP (REST, websocket
// event stream, Prometheus metrics) and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"papertrade/internal/audit"
	"papertrade/internal/broker"
	"papertrade/internal/config"
	"papertrade/internal/domain"
	"papertrade/internal/engine"
	"papertrade/internal/marketdata"
	"papertrade/internal/util"
)

// Deps are the components a Server fronts. Quotes and Volume are optional.
type Deps struct {
	Engine   *engine.Engine
	Model    *broker.SlippageModel
	Quotes   marketdata.QuoteSource
	Volume   marketdata.VolumeSource
	Feed     *audit.Feed
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string

	engine   *engine.Engine
	model    *broker.SlippageModel
	quotes   marketdata.QuoteSource
	volume   marketdata.VolumeSource
	gatherer prometheus.Gatherer
	hub      *Hub
	log      *slog.Logger

	httpSrv *http.Server
	grpcSrv *grpc.Server
}

// NewServer creates a new Server configured from the given Config. A zero
// gRPC port disables the gRPC listener.
func NewServer(cfg *config.Config, d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = util.Discard()
	}
	s := &Server{
		httpAddr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		engine:   d.Engine,
		model:    d.Model,
		quotes:   d.Quotes,
		volume:   d.Volume,
		gatherer: d.Gatherer,
		hub:      NewHub(d.Feed, log),
		log:      log.With("component", "api"),
	}
	if cfg.Server.GRPCPort > 0 {
		s.grpcAddr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
	}
	if s.model == nil {
		s.model = broker.NewSlippageModel(broker.SlippageConfig{})
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	s.httpSrv = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.grpcSrv = grpc.NewServer()
	s.RegisterGRPC(s.grpcSrv)
	return s
}

// Handler returns the HTTP handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return corsMiddleware(mux)
}

// RegisterGRPC registers the Trading service on g.
func (s *Server) RegisterGRPC(g grpc.ServiceRegistrar) {
	g.RegisterService(&TradingServiceDesc, &tradingService{s: s})
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe starts the HTTP and gRPC listeners and the websocket hub,
// and blocks until ctx is cancelled or a listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", s.httpAddr, err)
	}
	var grpcLn net.Listener
	if s.grpcAddr != "" {
		grpcLn, err = net.Listen("tcp", s.grpcAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listen grpc %s: %w", s.grpcAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve runs the servers on the given listeners. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.hub.Run(gctx) })

	g.Go(func() error {
		s.log.Info("http listening", "addr", httpLn.Addr().String())
		if err := s.httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcLn != nil {
		g.Go(func() error {
			s.log.Info("grpc listening", "addr", grpcLn.Addr().String())
			if err := s.grpcSrv.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(done)
	}()

	err := s.httpSrv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}
	return err
}

// resolveQuote returns q when supplied, otherwise asks the quote source.
func (s *Server) resolveQuote(ctx context.Context, symbol string, q *domain.Quote) (domain.Quote, error) {
	if q != nil {
		out := *q
		if out.Symbol == "" {
			out.Symbol = strings.ToUpper(strings.TrimSpace(symbol))
		}
		return out, nil
	}
	if s.quotes == nil {
		return domain.Quote{}, fmt.Errorf("%w: no quote supplied for %s and %w", domain.ErrInvalidOrder, symbol, marketdata.ErrNoSource)
	}
	return s.quotes.Quote(ctx, symbol)
}

// submit resolves the quote and hands the order to the engine. Shared by
// REST and gRPC.
func (s *Server) submit(ctx context.Context, req *domain.OrderRequest, q *domain.Quote) (*domain.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	quote, err := s.resolveQuote(ctx, req.Symbol, q)
	if err != nil {
		return nil, err
	}
	return s.engine.SubmitOrder(ctx, req, quote)
}
