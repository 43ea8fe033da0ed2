package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"momentum-core/pkg/crypto"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse err=%v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"mode", cfg.Mode, "paper"},
		{"timeframe", cfg.Strategy.Timeframe, "5m"},
		{"min_candles", cfg.Strategy.MinCandles, 60},
		{"max_open_positions", cfg.Risk.MaxOpenPositions, 2},
		{"daily_loss_cap", cfg.Risk.DailyLossCap, 25.0},
		{"tp1_frac", cfg.ScaleOut.TP1Frac, 0.5},
		{"tp2_r", cfg.ScaleOut.TP2R, 3.0},
		{"scale_out.enabled", cfg.ScaleOut.Enabled, true},
		{"dedup_by_symbol", cfg.Scanner.DedupBySymbol, true},
		{"fetch_timeout", cfg.Scanner.FetchTimeout, 15 * time.Second},
		{"exchange_timeout", cfg.Execution.ExchangeTimeout, 10 * time.Second},
		{"advisor", cfg.Advisor.Mode, "annotate"},
		{"advisor min_r", cfg.Advisor.Thresholds.MinRMultiple, 1.3},
		{"breakout_lookback", cfg.Strategy.Indicators.BreakoutLookback, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("%s=%v, expected %v", tt.name, tt.got, tt.want)
			}
		})
	}
	if p, ok := cfg.Strategy.Profiles["BTCUSDT"]; !ok || p.Tier != "mega" {
		t.Fatalf("BTCUSDT profile=%+v, expected built-in mega tier", p)
	}
}

func TestParseOverridesKeepExplicitFalse(t *testing.T) {
	cfg, err := Parse([]byte(`
min_rel_vol: 3.5
loosen_factor: 0.2
max_open_positions: 4
dedup_by_symbol: false
symbols: [SOLUSDT]
scale_out:
  enabled: false
  tp1_frac: 0.25
advisor:
  mode: gatekeep
profiles:
  SOL/USDT: {tier: leader, min_rel_vol: 2.5, risk_factor: 0.9}
`))
	if err != nil {
		t.Fatalf("Parse err=%v", err)
	}
	if cfg.Strategy.MinRelVol != 3.5 || cfg.Strategy.LoosenFactor != 0.2 || cfg.Risk.MaxOpenPositions != 4 {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Strategy, cfg.Risk)
	}
	if cfg.Scanner.DedupBySymbol || cfg.ScaleOut.Enabled {
		t.Fatalf("explicit false reset by defaults")
	}
	if cfg.ScaleOut.TP1Frac != 0.25 || cfg.ScaleOut.TP1R != 1.0 {
		t.Fatalf("ScaleOut=%+v", cfg.ScaleOut)
	}
	if cfg.Advisor.Mode != "gatekeep" {
		t.Fatalf("Advisor.Mode=%s, expected gatekeep", cfg.Advisor.Mode)
	}
	if p := cfg.Strategy.Profiles["SOLUSDT"]; p.Tier != "leader" || p.RiskFactor != 0.9 {
		t.Fatalf("SOLUSDT profile=%+v", p)
	}
	if len(cfg.Scanner.Symbols) != 1 || cfg.Scanner.Symbols[0] != "SOLUSDT" {
		t.Fatalf("Symbols=%v", cfg.Scanner.Symbols)
	}
}

func TestParseRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"looseness above cap", "loosen_factor: 0.9"},
		{"tp1_frac above one", "scale_out: {tp1_frac: 1.5}"},
		{"tp2 below tp1", "scale_out: {tp1_r: 2, tp2_r: 1.5}"},
		{"unknown advisor mode", "advisor: {mode: veto}"},
		{"negative workers", "execution: {workers: -1}"},
		{"empty session window", "session: {enabled: true, start_hour_utc: 9, end_hour_utc: 9}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatalf("Parse(%q) err=nil, expected validation error", tt.yaml)
			}
		})
	}
}

func TestParseAcceptsOvernightSession(t *testing.T) {
	cfg, err := Parse([]byte("session: {enabled: true, start_hour_utc: 22, end_hour_utc: 4}"))
	if err != nil {
		t.Fatalf("Parse err=%v", err)
	}
	if cfg.Strategy.Session.StartHourUTC != 22 || cfg.Strategy.Session.EndHourUTC != 4 {
		t.Fatalf("session=%+v, expected 22 to 4", cfg.Strategy.Session)
	}
}

func TestLoadLiveBinanceRequiresCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("STRATEGY_CONFIG", filepath.Join(dir, "missing.yaml"))
	t.Setenv("EXECUTION_MODE", "live")
	t.Setenv("EXCHANGE", "binance")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "BinanceAPIKey") {
		t.Fatalf("Load err=%v, expected missing credentials", err)
	}

	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if !cfg.Live() || cfg.Exchange != "binance" {
		t.Fatalf("Mode=%s Exchange=%s", cfg.Mode, cfg.Exchange)
	}
}

func TestLoadReadsStrategyFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "momentum.yaml")
	if err := os.WriteFile(path, []byte("daily_loss_cap: 40\ntimeframe: 1m\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STRATEGY_CONFIG", path)
	t.Setenv("EXECUTION_MODE", "")
	t.Setenv("EXCHANGE", "")
	t.Setenv("SYMBOLS", "btcusdt, ethusdt ,")
	t.Setenv("TIMEFRAME", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Risk.DailyLossCap != 40 || cfg.Strategy.Timeframe != "1m" {
		t.Fatalf("file not applied: cap=%v tf=%s", cfg.Risk.DailyLossCap, cfg.Strategy.Timeframe)
	}
	if len(cfg.Scanner.Symbols) != 2 || cfg.Scanner.Symbols[1] != "ETHUSDT" {
		t.Fatalf("Symbols=%v", cfg.Scanner.Symbols)
	}
}

func TestLoadRevealsSealedCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv(crypto.KeyEnv, key)
	ring, err := crypto.LoadKeyring(os.Getenv)
	if err != nil {
		t.Fatal(err)
	}
	sealed, _ := ring.Seal("live-secret")

	t.Setenv("STRATEGY_CONFIG", filepath.Join(dir, "missing.yaml"))
	t.Setenv("EXECUTION_MODE", "live")
	t.Setenv("EXCHANGE", "binance")
	t.Setenv("BINANCE_API_KEY", "plain-key")
	t.Setenv("BINANCE_API_SECRET", sealed)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.BinanceAPIKey != "plain-key" || cfg.BinanceAPISecret != "live-secret" {
		t.Fatalf("credentials=%q/%q, expected plain-key/live-secret", cfg.BinanceAPIKey, cfg.BinanceAPISecret)
	}

	t.Setenv(crypto.KeyEnv, "")
	if _, err := Load(); !errors.Is(err, crypto.ErrKeyNotFound) {
		t.Fatalf("Load err=%v, expected ErrKeyNotFound", err)
	}
}
