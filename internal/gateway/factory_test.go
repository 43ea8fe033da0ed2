package gateway

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		exchange string
		wantName string
		wantErr  bool
	}{
		{"default", "", "paper", false},
		{"paper", Paper, "paper", false},
		{"binance", Binance, "binance", false},
		{"unknown", "kraken", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := New(Options{Exchange: tt.exchange, QuoteAsset: "USDT"}, zerolog.Nop())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%q) err=nil, expected error", tt.exchange)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) err=%v", tt.exchange, err)
			}
			if ex.Name() != tt.wantName {
				t.Fatalf("Name=%s, expected %s", ex.Name(), tt.wantName)
			}
			if !ex.Capabilities().MarketOrders {
				t.Fatalf("%s: expected market order support", tt.wantName)
			}
		})
	}
}
