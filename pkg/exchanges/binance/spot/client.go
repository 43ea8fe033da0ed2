// Package spot adapts the Binance spot REST API to the exchange capability
// contract.
package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"momentum-core/pkg/exchanges/common"
)

const (
	mainnetURL = "https://api.binance.com"
	testnetURL = "https://testnet.binance.vision"

	mainnetStreamURL = "wss://stream.binance.com:9443"
	testnetStreamURL = "wss://stream.testnet.binance.vision"
)

// Config holds Binance credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64  // ms
	QuoteAsset string // defaults to USDT
	BaseURL    string // overrides the mainnet/testnet host, used by tests
	StreamURL  string // overrides the websocket host, used by tests
	Timeout    time.Duration
}

// Client is a Binance spot client implementing common.Exchange,
// common.OrderPlacer, common.OrderFlowSource and common.TickerSource.
type Client struct {
	cfg      Config
	http     *resty.Client
	pacer    *common.Pacer
	timeSync *common.TimeSync
	log      zerolog.Logger
}

var (
	_ common.Exchange        = (*Client)(nil)
	_ common.OrderPlacer     = (*Client)(nil)
	_ common.OrderCanceler   = (*Client)(nil)
	_ common.OrderFlowSource = (*Client)(nil)
	_ common.TickerSource    = (*Client)(nil)
)

func New(cfg Config, log zerolog.Logger) *Client {
	base := mainnetURL
	if cfg.Testnet {
		base = testnetURL
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		cfg:  cfg,
		http: resty.New().SetBaseURL(base).SetTimeout(cfg.Timeout),
		log:  log,
	}
	// 1200 weight/min for spot; 10 req/s keeps the scan loop well inside it.
	c.pacer = common.NewPacer(10, 20, 1200, time.Minute, log)
	c.timeSync = common.NewTimeSync(c.ServerTime, 30*time.Minute, log)
	return c
}

func (c *Client) Name() string { return "binance" }

// Capabilities: spot has no native brackets; partial exits are plain sells.
func (c *Client) Capabilities() common.Capabilities {
	return common.Capabilities{
		Spot:         true,
		MarketOrders: true,
		LimitOrders:  true,
		StopOrders:   true,
		PartialClose: true,
	}
}

// Connect syncs the clock and, when credentials are set, verifies them.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.timeSync.Sync(ctx); err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	if !c.hasCredentials() {
		c.log.Info().Msg("binance connected without credentials; market data only")
		return nil
	}
	info, err := c.account(ctx)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	if !info.CanTrade {
		return fmt.Errorf("binance connect: %w: account cannot trade", common.ErrAuth)
	}
	c.log.Info().Int64("offset_ms", c.timeSync.Offset()).Msg("binance connected")
	return nil
}

// ServerTime fetches server time (ms).
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.public(ctx, "/api/v3/time", nil, &res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

func (c *Client) hasCredentials() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

func (c *Client) public(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, false, out)
}

// signed adds timestamp, recvWindow and the HMAC signature.
func (c *Client) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	if !c.hasCredentials() {
		return fmt.Errorf("binance %s: %w: API key/secret required", path, common.ErrAuth)
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.timeSync.Now(ctx), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))
	return c.do(ctx, method, path, params, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, withKey bool, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("binance %s: %w: %v", path, common.ErrTransient, err)
	}

	req := c.http.R().SetContext(ctx)
	if withKey {
		req.SetHeader("X-MBX-APIKEY", c.cfg.APIKey)
	}
	endpoint := path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	res, err := req.Execute(method, endpoint)
	if err != nil {
		return fmt.Errorf("binance %s %s: %w: %v", method, path, common.ErrTransient, err)
	}
	c.pacer.UpdateFromHeader(res.Header().Get("X-MBX-USED-WEIGHT-1M"))

	if res.StatusCode() >= 300 {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal(res.Body(), &apiErr)
		if apiErr.Msg == "" {
			apiErr.Msg = string(res.Body())
		}
		return fmt.Errorf("binance %s %s: %w", method, path, &common.APIError{
			Kind:    common.ClassifyStatus(res.StatusCode()),
			Status:  res.StatusCode(),
			Code:    apiErr.Code,
			Message: apiErr.Msg,
		})
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.Body(), out); err != nil {
		return fmt.Errorf("binance %s: decode: %w", path, err)
	}
	return nil
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// formatDecimal renders v without exponent and with at most 8 decimals, the
// precision Binance accepts for quantities and prices.
func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).Truncate(8).String()
}

func parseDecimal(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
