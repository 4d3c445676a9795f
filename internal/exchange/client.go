// Package exchange implements the Binance spot REST and WebSocket clients.
//
// The REST client (Client) covers everything the bot needs:
//   - Ping / SyncClock:   GET /api/v3/ping, /api/v3/time — liveness + clock offset
//   - SystemStatus:       GET /sapi/v1/system/status     — maintenance detection
//   - ExchangeInfo:       GET /api/v3/exchangeInfo       — symbols + filters for the graph
//   - Account:            GET /api/v3/account            — balances (signed)
//   - TradeFees:          GET /sapi/v1/asset/tradeFee    — per-symbol commission (signed)
//   - TickerPrice:        GET /api/v3/ticker/price       — spot price lookups
//   - TestOrder/PlaceMarketOrder/GetOrder/MyTrades/OpenOrders/CancelOrder
//
// Every request reserves its weight in the WeightGate before dispatch.
// Rate-limit responses (429/418) honor Retry-After on the same host;
// transport failures and server errors back off and eventually fail over
// to the next host in the endpoint pool, resyncing the clock afterwards.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"hydra/internal/config"
	"hydra/pkg/types"
)

const (
	transportAttempts = 3
	backoffBase       = time.Second
	backoffCap        = 60 * time.Second
	defaultRetryAfter = 60 * time.Second
)

// Client is the Binance spot REST API client.
type Client struct {
	http     *resty.Client
	pool     *EndpointPool
	signer   *Signer
	gate     *WeightGate
	recvWin  int64
	offsetMs atomic.Int64
	logger   *slog.Logger
}

// NewClient creates a REST client. Connect must be called before use to
// probe the endpoint pool and sync the clock.
func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(cfg.API.Timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		pool:    NewEndpointPool(DefaultHosts, logger),
		signer:  NewSigner(Credentials{Key: cfg.API.Key, Secret: cfg.API.Secret}),
		gate:    NewWeightGate(cfg.API.WeightLimit, cfg.API.WeightWindow),
		recvWin: cfg.API.RecvWindowMs,
		logger:  logger.With("component", "exchange"),
	}
}

// NewClientWithPool creates a client over an explicit host pool. Tests use
// this to point the client at local servers.
func NewClientWithPool(cfg config.Config, pool *EndpointPool, logger *slog.Logger) *Client {
	c := NewClient(cfg, logger)
	c.pool = pool
	return c
}

// Connect probes the endpoint pool and performs the initial clock sync.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.pool.Probe(ctx, c.http); err != nil {
		return err
	}
	if err := c.SyncClock(ctx); err != nil {
		return fmt.Errorf("initial clock sync: %w", err)
	}
	return nil
}

// SyncClock measures the offset between local and server time. The offset
// is applied to every signed request timestamp.
func (c *Client) SyncClock(ctx context.Context) error {
	if err := c.gate.Wait(ctx, weightTime); err != nil {
		return err
	}

	local := time.Now().UnixMilli()
	resp, err := c.http.R().SetContext(ctx).Get(c.pool.Current() + "/api/v3/time")
	if err != nil {
		return fmt.Errorf("server time: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("server time: status %d: %s", resp.StatusCode(), resp.String())
	}

	var st types.ServerTimeResponse
	if err := json.Unmarshal(resp.Body(), &st); err != nil {
		return fmt.Errorf("decode server time: %w", err)
	}

	offset := st.ServerTime - local
	c.offsetMs.Store(offset)
	c.logger.Debug("clock synced", "offset_ms", offset)
	return nil
}

// Timestamp returns the current time in ms adjusted by the clock offset.
func (c *Client) Timestamp() int64 {
	return time.Now().UnixMilli() + c.offsetMs.Load()
}

// UsedWeight returns the weight consumed in the current window.
func (c *Client) UsedWeight() int {
	return c.gate.Used()
}

// call describes one REST dispatch.
type call struct {
	method  string
	path    string
	weight  int
	params  url.Values
	signed  bool
	keyAuth bool
	out     any
}

// do runs a call through the weight gate and the retry/failover ladder:
//
//   - transport error or 5xx: exponential backoff (1s base, 60s cap) for
//     up to three attempts, then fail over and restart the ladder
//   - 429/418: sleep Retry-After (default 60s) and retry the same host
//   - other 4xx: log, fail over, resync the clock, retry once
func (c *Client) do(ctx context.Context, cl call) error {
	attempt := 0
	failovers := 0
	clientRetried := false

	for {
		if err := c.gate.Wait(ctx, cl.weight); err != nil {
			return err
		}

		req := c.http.R().SetContext(ctx)
		if cl.keyAuth || cl.signed {
			req.SetHeader("X-MBX-APIKEY", c.signer.Key())
		}

		target := c.pool.Current() + cl.path
		if cl.signed {
			params := cloneValues(cl.params)
			params.Set("timestamp", strconv.FormatInt(c.Timestamp(), 10))
			if c.recvWin > 0 {
				params.Set("recvWindow", strconv.FormatInt(c.recvWin, 10))
			}
			target += "?" + c.signer.SignedQuery(params)
		} else if len(cl.params) > 0 {
			target += "?" + cl.params.Encode()
		}

		resp, err := req.Execute(cl.method, target)
		if err != nil {
			c.logger.Warn("request failed", "method", cl.method, "path", cl.path, "error", err)
			attempt++
			if attempt < transportAttempts {
				if berr := c.backoff(ctx, attempt); berr != nil {
					return berr
				}
				continue
			}
			if failovers < c.pool.Len() {
				c.failover(ctx)
				failovers++
				attempt = 0
				continue
			}
			return fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
		}

		if h := resp.Header().Get("X-MBX-USED-WEIGHT-1M"); h != "" {
			if used, perr := strconv.Atoi(h); perr == nil {
				c.gate.SetUsed(used)
			}
		}

		code := resp.StatusCode()
		switch {
		case code == 200:
			if cl.out == nil {
				return nil
			}
			if err := json.Unmarshal(resp.Body(), cl.out); err != nil {
				c.logger.Warn("malformed response body", "path", cl.path, "error", err)
				return fmt.Errorf("decode %s: %w", cl.path, err)
			}
			return nil

		case code == 429 || code == 418:
			wait := retryAfter(resp)
			c.logger.Warn("rate limited by exchange", "status", code, "retry_after", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue

		case code >= 500:
			c.logger.Warn("server error", "status", code, "path", cl.path)
			attempt++
			if attempt < transportAttempts {
				if berr := c.backoff(ctx, attempt); berr != nil {
					return berr
				}
				continue
			}
			if failovers < c.pool.Len() {
				c.failover(ctx)
				failovers++
				attempt = 0
				continue
			}
			return fmt.Errorf("%s %s: status %d: %s", cl.method, cl.path, code, resp.String())

		default:
			var apiErr types.APIError
			_ = json.Unmarshal(resp.Body(), &apiErr)
			c.logger.Error("request rejected",
				"status", code, "path", cl.path, "code", apiErr.Code, "msg", apiErr.Msg)
			if !clientRetried {
				clientRetried = true
				c.failover(ctx)
				continue
			}
			return fmt.Errorf("%s %s: status %d: %s", cl.method, cl.path, code, resp.String())
		}
	}
}

func (c *Client) failover(ctx context.Context) {
	c.pool.Advance()
	if err := c.SyncClock(ctx); err != nil {
		c.logger.Warn("clock resync after failover failed", "error", err)
	}
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		d = backoffCap
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func retryAfter(resp *resty.Response) time.Duration {
	if h := resp.Header().Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

func cloneValues(in url.Values) url.Values {
	out := make(url.Values, len(in)+2)
	for k, vs := range in {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Endpoints
// ————————————————————————————————————————————————————————————————————————

// Ping checks connectivity of the active host.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, call{method: "GET", path: "/api/v3/ping", weight: weightPing})
}

// SystemStatus reports whether the exchange is in maintenance (status 1)
// or operating normally (status 0).
func (c *Client) SystemStatus(ctx context.Context) (*types.SystemStatusResponse, error) {
	var out types.SystemStatusResponse
	err := c.do(ctx, call{
		method: "GET", path: "/sapi/v1/system/status",
		weight: weightSystemStatus, keyAuth: true, out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeInfo fetches the full symbol catalog with trading filters.
func (c *Client) ExchangeInfo(ctx context.Context) (*types.ExchangeInfoResponse, error) {
	var out types.ExchangeInfoResponse
	err := c.do(ctx, call{
		method: "GET", path: "/api/v3/exchangeInfo",
		weight: weightExchangeInfo, out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Account fetches the spot balances as a map keyed by asset.
func (c *Client) Account(ctx context.Context) (map[string]types.Balance, error) {
	var out types.AccountResponse
	err := c.do(ctx, call{
		method: "GET", path: "/api/v3/account",
		weight: weightAccount, signed: true, out: &out,
	})
	if err != nil {
		return nil, err
	}

	balances := make(map[string]types.Balance, len(out.Balances))
	for _, b := range out.Balances {
		free, ferr := decimal.NewFromString(b.Free)
		locked, lerr := decimal.NewFromString(b.Locked)
		if ferr != nil || lerr != nil {
			c.logger.Warn("unparseable balance, skipping", "asset", b.Asset)
			continue
		}
		balances[b.Asset] = types.Balance{Free: free, Locked: locked}
	}
	return balances, nil
}

// TradeFees fetches the per-symbol maker/taker commission rates.
func (c *Client) TradeFees(ctx context.Context) (map[string]types.TradeFee, error) {
	var out []types.TradeFeeEntry
	err := c.do(ctx, call{
		method: "GET", path: "/sapi/v1/asset/tradeFee",
		weight: weightTradeFee, signed: true, out: &out,
	})
	if err != nil {
		return nil, err
	}

	fees := make(map[string]types.TradeFee, len(out))
	for _, f := range out {
		maker, merr := decimal.NewFromString(f.MakerCommission)
		taker, terr := decimal.NewFromString(f.TakerCommission)
		if merr != nil || terr != nil {
			c.logger.Warn("unparseable trade fee, skipping", "symbol", f.Symbol)
			continue
		}
		fees[f.Symbol] = types.TradeFee{Maker: maker, Taker: taker}
	}
	return fees, nil
}

// TickerPrice fetches the last price for one symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var out types.TickerPriceEntry
	err := c.do(ctx, call{
		method: "GET", path: "/api/v3/ticker/price",
		weight: weightTickerPrice, params: params, out: &out,
	})
	if err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse ticker price %q: %w", out.Price, err)
	}
	return price, nil
}

func orderParams(symbol string, side types.Side, quantity decimal.Decimal) url.Values {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(types.OrderTypeMarket))
	params.Set("quantity", quantity.String())
	return params
}

// TestOrder validates an order against the matching engine rules without
// placing it.
func (c *Client) TestOrder(ctx context.Context, symbol string, side types.Side, quantity decimal.Decimal) error {
	return c.do(ctx, call{
		method: "POST", path: "/api/v3/order/test",
		weight: weightTestOrder, params: orderParams(symbol, side, quantity), signed: true,
	})
}

// PlaceMarketOrder submits a MARKET order and returns the immediate
// response including fills.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, quantity decimal.Decimal) (*types.OrderResponse, error) {
	params := orderParams(symbol, side, quantity)
	params.Set("newOrderRespType", "FULL")

	var out types.OrderResponse
	err := c.do(ctx, call{
		method: "POST", path: "/api/v3/order",
		weight: weightOrder, params: params, signed: true, out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches an order's current state by ID.
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (*types.OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	var out types.OrderResponse
	err := c.do(ctx, call{
		method: "GET", path: "/api/v3/order",
		weight: weightGetOrder, params: params, signed: true, out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MyTrades fetches the account's recent fills on a symbol, newest last.
func (c *Client) MyTrades(ctx context.Context, symbol string, limit int) ([]types.AccountTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var out []types.AccountTrade
	err := c.do(ctx, call{
		method: "GET", path: "/api/v3/myTrades",
		weight: weightMyTrades, params: params, signed: true, out: &out,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OpenOrders lists the open orders for one symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]types.OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var out []types.OrderResponse
	err := c.do(ctx, call{
		method: "GET", path: "/api/v3/openOrders",
		weight: weightOpenOrders, params: params, signed: true, out: &out,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelOrder cancels an open order by ID.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*types.OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	var out types.OrderResponse
	err := c.do(ctx, call{
		method: "DELETE", path: "/api/v3/order",
		weight: weightCancelOrder, params: params, signed: true, out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateListenKey opens a user-data stream and returns its listen key.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var out types.ListenKeyResponse
	err := c.do(ctx, call{
		method: "POST", path: "/api/v3/userDataStream",
		weight: weightPing, keyAuth: true, out: &out,
	})
	if err != nil {
		return "", err
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends a user-data stream's validity.
func (c *Client) KeepAliveListenKey(ctx context.Context, key string) error {
	params := url.Values{}
	params.Set("listenKey", key)
	return c.do(ctx, call{
		method: "PUT", path: "/api/v3/userDataStream",
		weight: weightPing, params: params, keyAuth: true,
	})
}
