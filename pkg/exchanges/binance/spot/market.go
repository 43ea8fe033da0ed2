package spot

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"momentum-core/pkg/exchanges/common"
)

// FetchCandles returns the most recent closed and forming klines, oldest first.
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]common.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(min(limit, 1000)))
	}

	var raw [][]json.RawMessage
	if err := c.public(ctx, "/api/v3/klines", params, &raw); err != nil {
		return nil, err
	}

	candles := make([]common.Candle, 0, len(raw))
	for _, item := range raw {
		// Binance returns 12 fields per kline
		if len(item) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(item[0], &openTime); err != nil {
			continue
		}
		candles = append(candles, common.Candle{
			Timestamp: time.UnixMilli(openTime).UTC(),
			Open:      rawFloat(item[1]),
			High:      rawFloat(item[2]),
			Low:       rawFloat(item[3]),
			Close:     rawFloat(item[4]),
			Volume:    rawFloat(item[5]),
		})
	}
	return candles, nil
}

// OrderBook returns the top depth levels of symbol.
func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (common.OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(depthLimit(depth)))

	var raw struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := c.public(ctx, "/api/v3/depth", params, &raw); err != nil {
		return common.OrderBook{}, err
	}
	return common.OrderBook{
		Symbol: symbol,
		Bids:   levels(raw.Bids),
		Asks:   levels(raw.Asks),
	}, nil
}

// RecentTrades returns the latest public prints. A buyer-maker print was
// initiated by a seller.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]common.TapeTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(min(limit, 1000)))
	}

	var raw []struct {
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		Time         int64  `json:"time"`
		IsBuyerMaker bool   `json:"isBuyerMaker"`
	}
	if err := c.public(ctx, "/api/v3/trades", params, &raw); err != nil {
		return nil, err
	}

	out := make([]common.TapeTrade, 0, len(raw))
	for _, t := range raw {
		side := common.SideBuy
		if t.IsBuyerMaker {
			side = common.SideSell
		}
		out = append(out, common.TapeTrade{
			Price: parseDecimal(t.Price),
			Qty:   parseDecimal(t.Qty),
			Side:  side,
			Time:  time.UnixMilli(t.Time).UTC(),
		})
	}
	return out, nil
}

// depthLimit rounds up to a limit the depth endpoint accepts.
func depthLimit(depth int) int {
	for _, l := range []int{5, 10, 20, 50, 100, 500, 1000} {
		if depth <= l {
			return l
		}
	}
	return 1000
}

func levels(raw [][2]string) []common.BookLevel {
	out := make([]common.BookLevel, 0, len(raw))
	for _, l := range raw {
		out = append(out, common.BookLevel{Price: parseDecimal(l[0]), Qty: parseDecimal(l[1])})
	}
	return out
}

func rawFloat(m json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return parseDecimal(s)
	}
	var f float64
	_ = json.Unmarshal(m, &f)
	return f
}
