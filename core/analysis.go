package core

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// AnalysisKind names one of the Smart Bot analyses
type AnalysisKind string

const (
	AnalysisSmartTrade AnalysisKind = "smart-trade"
	AnalysisElliott    AnalysisKind = "elliott"
	AnalysisKelly      AnalysisKind = "kelly"
	AnalysisGainers    AnalysisKind = "gainers"
)

// DefaultMaxLeverage applies when the market does not report one
const DefaultMaxLeverage = 100

// Intervals offered by the analysis forms
var Intervals = []string{"1h", "4h", "1d"}

// Indicators offered by the analysis forms
var Indicators = []string{
	"Trend-Following",
	"Volatility Breakout",
	"Momentum Reversal",
	"Momentum + Volatility",
	"Advanced",
}

// AnalysisRequest is a submitted analysis form
type AnalysisRequest struct {
	Kind           AnalysisKind     `json:"-" validate:"required,oneof=smart-trade elliott kelly gainers"`
	Symbol         string           `json:"symbol" validate:"required"`
	Interval       string           `json:"interval" validate:"required,oneof=1h 4h 1d"`
	Leverage       int              `json:"leverage,omitempty"`
	MaxLeverage    int              `json:"-"`
	Indicator      string           `json:"indicator,omitempty"`
	FreeCollateral *decimal.Decimal `json:"free_collateral,omitempty"`
	Locale         string           `json:"locale,omitempty"`
}

// NeedsLeverage reports whether the form for this kind asks for leverage and an indicator
func (k AnalysisKind) NeedsLeverage() bool {
	return k == AnalysisSmartTrade || k == AnalysisKelly || k == AnalysisGainers
}

// AnalysisResult is the backend's answer, passed through untouched
type AnalysisResult struct {
	Kind   AnalysisKind    `json:"kind"`
	Symbol string          `json:"symbol"`
	Body   json.RawMessage `json:"result"`
}

// DisplaySymbol renders an exchange symbol such as PERP_BTC_USDC as BTC-PERP
func DisplaySymbol(symbol string) string {
	parts := strings.Split(symbol, "_")
	if strings.HasPrefix(symbol, "PERP_") && len(parts) == 3 {
		return parts[1] + "-PERP"
	}
	return symbol
}
