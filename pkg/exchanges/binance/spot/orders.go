package spot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"momentum-core/pkg/exchanges/common"
)

type accountInfo struct {
	CanTrade bool `json:"canTrade"`
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
}

func (c *Client) account(ctx context.Context) (*accountInfo, error) {
	var info accountInfo
	if err := c.signed(ctx, http.MethodGet, "/api/v3/account", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Balance returns the free balance of asset.
func (c *Client) Balance(ctx context.Context, asset string) (float64, error) {
	info, err := c.account(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range info.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return parseDecimal(b.Free), nil
		}
	}
	return 0, nil
}

// OpenPositions reports non-zero base asset holdings as long positions. An
// empty symbol lists every holding except the quote asset.
func (c *Client) OpenPositions(ctx context.Context, symbol string) ([]common.ExchangePosition, error) {
	info, err := c.account(ctx)
	if err != nil {
		return nil, err
	}
	want := strings.TrimSuffix(strings.ToUpper(symbol), c.cfg.QuoteAsset)

	var out []common.ExchangePosition
	for _, b := range info.Balances {
		if b.Asset == c.cfg.QuoteAsset || (symbol != "" && b.Asset != want) {
			continue
		}
		qty := parseDecimal(b.Free) + parseDecimal(b.Locked)
		if qty <= 0 {
			continue
		}
		sym := b.Asset + c.cfg.QuoteAsset
		out = append(out, common.ExchangePosition{ID: sym, Symbol: sym, Side: common.SideBuy, Qty: qty})
	}
	return out, nil
}

// MarketBuy places a market buy for Qty base units.
func (c *Client) MarketBuy(ctx context.Context, o common.MarketOrder) (common.OrderAck, error) {
	return c.market(ctx, common.SideBuy, o)
}

// MarketSell places a market sell for Qty base units.
func (c *Client) MarketSell(ctx context.Context, o common.MarketOrder) (common.OrderAck, error) {
	return c.market(ctx, common.SideSell, o)
}

func (c *Client) market(ctx context.Context, side common.Side, o common.MarketOrder) (common.OrderAck, error) {
	if o.StopLoss != nil || o.TakeProfit != nil {
		return common.OrderAck{}, fmt.Errorf("binance spot bracket: %w", common.ErrNotSupported)
	}
	return c.PlaceOrder(ctx, common.OrderRequest{
		Symbol:   o.Symbol,
		Side:     side,
		Type:     common.OrderTypeMarket,
		Qty:      o.Qty,
		ClientID: o.ClientID,
	})
}

// ClosePosition is not meaningful on spot; callers fall back to MarketSell.
func (c *Client) ClosePosition(context.Context, string, float64, float64) (common.OrderAck, error) {
	return common.OrderAck{}, fmt.Errorf("binance spot close position: %w", common.ErrNotSupported)
}

// PlaceOrder submits a market, limit or stop order. A stopPrice or
// triggerPrice param turns MARKET into STOP_LOSS and LIMIT into
// STOP_LOSS_LIMIT; the ccxt-style "stop" param is accepted and ignored.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	if req.Qty <= 0 {
		return common.OrderAck{}, fmt.Errorf("binance order %s: %w: qty must be positive", req.Symbol, common.ErrRejected)
	}

	trigger := req.Params["stopPrice"]
	if trigger == "" {
		trigger = req.Params["triggerPrice"]
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("quantity", formatDecimal(req.Qty))
	params.Set("newOrderRespType", "FULL")
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}

	switch {
	case req.Type == common.OrderTypeMarket && trigger == "":
		params.Set("type", "MARKET")
	case req.Type == common.OrderTypeMarket:
		params.Set("type", "STOP_LOSS")
		params.Set("stopPrice", trigger)
	case req.Type == common.OrderTypeLimit && req.Price <= 0:
		return common.OrderAck{}, fmt.Errorf("binance order %s: %w: limit price required", req.Symbol, common.ErrRejected)
	case req.Type == common.OrderTypeLimit && trigger == "":
		params.Set("type", "LIMIT")
		params.Set("price", formatDecimal(req.Price))
		params.Set("timeInForce", string(tif(req.TimeInForce)))
	case req.Type == common.OrderTypeLimit:
		params.Set("type", "STOP_LOSS_LIMIT")
		params.Set("price", formatDecimal(req.Price))
		params.Set("stopPrice", trigger)
		params.Set("timeInForce", string(tif(req.TimeInForce)))
	default:
		return common.OrderAck{}, fmt.Errorf("binance order type %q: %w", req.Type, common.ErrNotSupported)
	}

	var resp orderResponse
	if err := c.signed(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return common.OrderAck{}, err
	}

	ack := common.OrderAck{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientID:        resp.ClientOrderID,
		Status:          mapStatus(resp.Status),
		Price:           parseDecimal(resp.Price),
		FilledQty:       parseDecimal(resp.ExecutedQty),
		Raw:             map[string]any{"type": resp.Type, "status": resp.Status},
	}
	if quote := parseDecimal(resp.CummulativeQuoteQty); ack.FilledQty > 0 && quote > 0 {
		ack.AvgPrice = quote / ack.FilledQty
	}
	return ack, nil
}

// codeUnknownOrder is the venue's "Unknown order sent." reply to a cancel.
const codeUnknownOrder = -2011

// CancelOrder withdraws a resting order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	err := c.signed(ctx, http.MethodDelete, "/api/v3/order", params, nil)
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeUnknownOrder {
		return fmt.Errorf("binance cancel %s %s: %w: %w", symbol, orderID, common.ErrUnknownOrder, err)
	}
	return err
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED", "EXPIRED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	default:
		return common.StatusUnknown
	}
}

func tif(t common.TimeInForce) common.TimeInForce {
	if t == "" {
		return common.TIFGTC
	}
	return t
}
