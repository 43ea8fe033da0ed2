package strategy

import "strings"

// Profile tunes thresholds and position size for one symbol. Zero fields
// fall back to the global Config values.
type Profile struct {
	Tier       string  `yaml:"tier" json:"tier"`
	MinRelVol  float64 `yaml:"min_rel_vol" json:"min_rel_vol"`
	MinGapPct  float64 `yaml:"min_gap_pct" json:"min_gap_pct"`
	RiskFactor float64 `yaml:"risk_factor" json:"risk_factor"`
}

// DefaultProfiles groups majors into mega/leader/mid tiers. Mega caps trade
// at 60% of base risk with looser thresholds; leaders need a bigger move.
func DefaultProfiles() map[string]Profile {
	mega := func(rv, gap float64) Profile { return Profile{Tier: "mega", MinRelVol: rv, MinGapPct: gap, RiskFactor: 0.6} }
	leader := func(rv, gap float64) Profile { return Profile{Tier: "leader", MinRelVol: rv, MinGapPct: gap, RiskFactor: 1.0} }
	mid := func(rv, gap, rf float64) Profile { return Profile{Tier: "mid", MinRelVol: rv, MinGapPct: gap, RiskFactor: rf} }

	return map[string]Profile{
		"BTCUSDT": mega(1.5, 0.20),
		"ETHUSDT": mega(1.6, 0.25),
		"BNBUSDT": mega(1.8, 0.30),

		"SOLUSDT":  leader(2.5, 0.75),
		"AVAXUSDT": leader(2.3, 0.70),
		"INJUSDT":  leader(2.5, 0.80),
		"NEARUSDT": leader(2.2, 0.70),
		"OPUSDT":   leader(2.2, 0.70),
		"ARBUSDT":  leader(2.2, 0.70),
		"SUIUSDT":  leader(2.3, 0.70),

		"XRPUSDT":   mid(2.0, 0.50, 0.8),
		"ADAUSDT":   mid(2.0, 0.50, 0.8),
		"DOGEUSDT":  mid(2.2, 0.60, 0.9),
		"LINKUSDT":  mid(2.0, 0.50, 0.9),
		"MATICUSDT": mid(2.0, 0.50, 0.9),
		"DOTUSDT":   mid(2.0, 0.50, 0.9),
		"LTCUSDT":   mid(2.0, 0.50, 0.8),
		"BCHUSDT":   mid(2.0, 0.50, 0.8),
	}
}

// NormalizeSymbol turns "BTC/USDT" or "btc-usdt" into "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	r := strings.NewReplacer("/", "", "-", "", "_", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(symbol)))
}

// thresholds resolves the effective per-symbol values.
type thresholds struct {
	tier       string
	minRelVol  float64
	minGapPct  float64
	riskFactor float64
}

func (c Config) thresholdsFor(symbol string) thresholds {
	th := thresholds{minRelVol: c.MinRelVol, minGapPct: c.MinGapPct, riskFactor: 1.0}
	p, ok := c.Profiles[NormalizeSymbol(symbol)]
	if !ok {
		return th
	}
	th.tier = p.Tier
	if p.MinRelVol > 0 {
		th.minRelVol = p.MinRelVol
	}
	if p.MinGapPct > 0 {
		th.minGapPct = p.MinGapPct
	}
	if p.RiskFactor > 0 {
		th.riskFactor = p.RiskFactor
	}
	return th
}
