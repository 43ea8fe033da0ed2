// Package gateway builds the exchange adapter selected by configuration.
package gateway

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"momentum-core/pkg/config"
	"momentum-core/pkg/exchanges/binance/spot"
	"momentum-core/pkg/exchanges/common"
	"momentum-core/pkg/exchanges/paper"
)

// Exchange names accepted by New.
const (
	Paper   = "paper"
	Binance = "binance"
)

// Options selects and configures one adapter.
type Options struct {
	Exchange   string
	Testnet    bool
	APIKey     string
	APISecret  string
	QuoteAsset string
	Timeout    time.Duration
	Paper      paper.Config
}

// FromConfig derives adapter options from the process configuration.
func FromConfig(cfg *config.Config) Options {
	return Options{
		Exchange:   cfg.Exchange,
		Testnet:    cfg.BinanceTestnet,
		APIKey:     cfg.BinanceAPIKey,
		APISecret:  cfg.BinanceAPISecret,
		QuoteAsset: "USDT",
		Timeout:    cfg.Execution.ExchangeTimeout,
		Paper: paper.Config{
			Seed:           time.Now().UnixNano(),
			BurstEvery:     40,
			InitialBalance: 10000,
			FeeRate:        0.001,
			SlippageBps:    2,
			QuoteAsset:     "USDT",
		},
	}
}

// New returns the adapter for o.Exchange. The paper venue is used for
// "paper" or an empty name.
func New(o Options, log zerolog.Logger) (common.Exchange, error) {
	switch o.Exchange {
	case "", Paper:
		return paper.New(o.Paper), nil
	case Binance:
		return spot.New(spot.Config{
			APIKey:     o.APIKey,
			APISecret:  o.APISecret,
			Testnet:    o.Testnet,
			QuoteAsset: o.QuoteAsset,
			Timeout:    o.Timeout,
		}, log.With().Str("exchange", Binance).Logger()), nil
	default:
		return nil, fmt.Errorf("unsupported exchange type: %s", o.Exchange)
	}
}
