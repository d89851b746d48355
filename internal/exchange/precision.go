package exchange

import (
	"strings"

	"github.com/shopspring/decimal"
)

// quantityPrecision holds lot-size decimals per symbol; anything else uses defaultQuantityPrecision
var quantityPrecision = map[string]int32{
	"ASTERUSDT": 0,
	"BTCUSDT":   3,
	"ETHUSDT":   3,
	"SOLUSDT":   2,
	"BNBUSDT":   2,
}

const defaultQuantityPrecision int32 = 3

// QuantityPrecision returns the number of quantity decimals accepted for symbol
func QuantityPrecision(symbol string) int32 {
	if p, ok := quantityPrecision[strings.ToUpper(symbol)]; ok {
		return p
	}
	return defaultQuantityPrecision
}

// MinQuantity is the smallest tradable quantity for symbol
func MinQuantity(symbol string) float64 {
	if strings.ToUpper(symbol) == "ASTERUSDT" {
		return 1
	}
	return 0.001
}

// PricePrecision picks decimals by price magnitude
func PricePrecision(price float64) int32 {
	switch {
	case price >= 1000:
		return 1
	case price >= 100:
		return 2
	case price >= 10:
		return 3
	default:
		return 4
	}
}

// RoundQuantity rounds qty to the symbol's lot precision
func RoundQuantity(symbol string, qty float64) float64 {
	f, _ := decimal.NewFromFloat(qty).Round(QuantityPrecision(symbol)).Float64()
	return f
}

// FormatQuantity renders qty for the wire without trailing zeros
func FormatQuantity(symbol string, qty float64) string {
	return decimal.NewFromFloat(qty).Round(QuantityPrecision(symbol)).String()
}

// RoundPrice rounds price to its magnitude-based precision
func RoundPrice(price float64) float64 {
	f, _ := decimal.NewFromFloat(price).Round(PricePrecision(price)).Float64()
	return f
}

// FormatPrice renders price for the wire without trailing zeros
func FormatPrice(price float64) string {
	return decimal.NewFromFloat(price).Round(PricePrecision(price)).String()
}
