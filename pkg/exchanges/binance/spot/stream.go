package spot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"momentum-core/pkg/exchanges/common"
)

// SubscribeTickers opens one combined miniTicker stream for symbols. The
// returned channel closes when the connection drops or stop is called.
func (c *Client) SubscribeTickers(ctx context.Context, symbols []string) (<-chan common.Ticker, func(), error) {
	if len(symbols) == 0 {
		return nil, nil, errors.New("no symbols to stream")
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@miniTicker"
	}
	u := c.streamBase() + "/stream?streams=" + strings.Join(streams, "/")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws: %w", err)
	}

	out := make(chan common.Ticker, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// The connection may already be gone.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !closedConn(err) {
					c.log.Warn().Err(err).Msg("binance ws read error")
				}
				return
			}
			t, err := parseMiniTicker(msg)
			if err != nil {
				c.log.Debug().Err(err).Msg("binance ws parse error")
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

func (c *Client) streamBase() string {
	switch {
	case c.cfg.StreamURL != "":
		return strings.TrimRight(c.cfg.StreamURL, "/")
	case c.cfg.Testnet:
		return testnetStreamURL
	default:
		return mainnetStreamURL
	}
}

func closedConn(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}

// parseMiniTicker reads a combined-stream envelope:
// {"stream":"btcusdt@miniTicker","data":{"s":"BTCUSDT","c":"43000.1","E":1700000000000}}
func parseMiniTicker(msg []byte) (common.Ticker, error) {
	var raw struct {
		Data struct {
			Symbol    string `json:"s"`
			Close     string `json:"c"`
			EventTime int64  `json:"E"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return common.Ticker{}, err
	}
	if raw.Data.Symbol == "" {
		return common.Ticker{}, fmt.Errorf("unexpected stream message: %.80s", msg)
	}
	price := parseDecimal(raw.Data.Close)
	if price <= 0 {
		return common.Ticker{}, fmt.Errorf("bad price %q for %s", raw.Data.Close, raw.Data.Symbol)
	}
	return common.Ticker{
		Symbol: raw.Data.Symbol,
		Price:  price,
		Time:   time.UnixMilli(raw.Data.EventTime),
	}, nil
}
