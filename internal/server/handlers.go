// internal/server/handlers.go
package server

import (
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/labstack/echo/v4"
)

// Handlers serve the v1 API.
type Handlers struct {
	deps Deps
}

func (h *Handlers) err(c echo.Context, code int, msg string) error {
	return c.JSON(code, ErrorResponse{Error: msg, Code: code})
}

func parseKey(c echo.Context, param string) (solana.PublicKey, bool) {
	key, err := solana.PublicKeyFromBase58(c.Param(param))
	return key, err == nil
}

// Health reports endpoint breakers, directory size and the last fetch cycle.
func (h *Handlers) Health(c echo.Context) error {
	resp := HealthResponse{OK: true}
	if h.deps.Transport != nil {
		resp.Endpoints = h.deps.Transport.Status()
		resp.OK = false
		for _, ep := range resp.Endpoints {
			if ep.Breaker != "open" {
				resp.OK = true
				break
			}
		}
	}
	if h.deps.Directory != nil {
		resp.Pools = h.deps.Directory.Len()
	}
	if h.deps.Prices != nil {
		resp.Prices = h.deps.Prices.Len()
	}
	if h.deps.Fetcher != nil {
		resp.LastCycle = h.deps.Fetcher.Stats()
	}
	if h.deps.Calculator != nil {
		resp.Calculator = h.deps.Calculator.Stats()
	}

	code := http.StatusOK
	if !resp.OK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// Pools lists every descriptor.
func (h *Handlers) Pools(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Directory.All())
}

// Bundles lists every bundle with its completeness.
func (h *Handlers) Bundles(c echo.Context) error {
	bundles := h.deps.Fetcher.GetAllBundles()
	out := make([]BundleView, 0, len(bundles))
	for _, b := range bundles {
		desc, ok := h.deps.Directory.Get(b.PoolID)
		out = append(out, newBundleView(b, desc, ok))
	}
	return c.JSON(http.StatusOK, out)
}

// Bundle returns one pool's bundle.
func (h *Handlers) Bundle(c echo.Context) error {
	id, ok := parseKey(c, "pool")
	if !ok {
		return h.err(c, http.StatusBadRequest, "invalid pool id")
	}
	b, ok := h.deps.Fetcher.GetPoolBundle(id)
	if !ok {
		return h.err(c, http.StatusNotFound, "bundle not found")
	}
	desc, known := h.deps.Directory.Get(id)
	return c.JSON(http.StatusOK, newBundleView(b, desc, known))
}

// Prices lists the latest price of every mint.
func (h *Handlers) Prices(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Prices.All())
}

// Price returns the latest price of one mint.
func (h *Handlers) Price(c echo.Context) error {
	mint, ok := parseKey(c, "mint")
	if !ok {
		return h.err(c, http.StatusBadRequest, "invalid mint")
	}
	res, ok := h.deps.Prices.Latest(mint)
	if !ok {
		return h.err(c, http.StatusNotFound, "no price for mint")
	}
	return c.JSON(http.StatusOK, res)
}

// Fetch queues an explicit refetch.
func (h *Handlers) Fetch(c echo.Context) error {
	var req FetchRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json")
	}

	accounts := make([]solana.PublicKey, 0, len(req.Accounts))
	for _, a := range req.Accounts {
		key, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid account "+a)
		}
		accounts = append(accounts, key)
	}

	var queued bool
	switch {
	case req.PoolID != "":
		id, err := solana.PublicKeyFromBase58(req.PoolID)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid pool id")
		}
		if _, ok := h.deps.Directory.Get(id); !ok {
			return h.err(c, http.StatusNotFound, "unknown pool")
		}
		queued = h.deps.Fetcher.RequestPoolFetch(id, accounts)
	case len(accounts) > 0:
		queued = h.deps.Fetcher.RequestAccountsFetch(accounts)
	default:
		return h.err(c, http.StatusBadRequest, "pool_id or accounts required")
	}

	if !queued {
		return h.err(c, http.StatusServiceUnavailable, "fetch queue full")
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"queued": true})
}
