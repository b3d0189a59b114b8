// internal/server/server.go
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/fetcher"
	"github.com/rovshanmuradov/solana-pricer/internal/pool"
	"github.com/rovshanmuradov/solana-pricer/internal/pricing"
)

const shutdownTimeout = 10 * time.Second

// Directory is the read side of the pool directory.
type Directory interface {
	All() []pool.Descriptor
	Get(poolID solana.PublicKey) (pool.Descriptor, bool)
	Len() int
}

// Fetcher is what the API needs from the account fetcher.
type Fetcher interface {
	GetPoolBundle(poolID solana.PublicKey) (*pool.Bundle, bool)
	GetAllBundles() []*pool.Bundle
	RequestPoolFetch(poolID solana.PublicKey, accounts []solana.PublicKey) bool
	RequestAccountsFetch(accounts []solana.PublicKey) bool
	Stats() fetcher.Stats
}

// Prices is the latest-price table.
type Prices interface {
	Latest(mint solana.PublicKey) (*model.PriceResult, bool)
	All() []*model.PriceResult
	Len() int
}

// TransportStatus reports endpoint health.
type TransportStatus interface {
	Status() []rpc.EndpointStatus
}

// CalculatorStats reports calculator totals.
type CalculatorStats interface {
	Stats() pricing.Stats
}

// Deps are the components the API reads from.
type Deps struct {
	Directory  Directory
	Fetcher    Fetcher
	Prices     Prices
	Transport  TransportStatus
	Calculator CalculatorStats
	Registry   *prometheus.Registry
	Logger     *zap.Logger
}

// Server is the diagnostics HTTP API.
type Server struct {
	e      *echo.Echo
	addr   string
	logger *zap.Logger
}

// New builds the echo instance and registers routes.
func New(addr string, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 15 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	logger := deps.Logger.Named("http")
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	RegisterRoutes(e, &Handlers{deps: deps})

	return &Server{e: e, addr: addr, logger: logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Diagnostics API listening", zap.String("addr", s.addr))
		if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("Request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.Error(v.Error))
			return nil
		},
	})
}

func metricsHandler(reg *prometheus.Registry) echo.HandlerFunc {
	if reg == nil {
		return echo.WrapHandler(promhttp.Handler())
	}
	return echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
}
