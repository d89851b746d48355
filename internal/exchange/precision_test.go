package exchange

import "testing"

func TestQuantityPrecision(t *testing.T) {
	tests := []struct {
		symbol string
		qty    float64
		want   string
	}{
		{"ASTERUSDT", 152.7, "153"},
		{"SOLUSDT", 1.23456, "1.23"},
		{"BNBUSDT", 0.5, "0.5"},
		{"BTCUSDT", 0.012345, "0.012"},
		{"DOGEUSDT", 10.0, "10"},
	}

	for _, tt := range tests {
		if got := FormatQuantity(tt.symbol, tt.qty); got != tt.want {
			t.Errorf("FormatQuantity(%s, %v): expected %s, got %s", tt.symbol, tt.qty, tt.want, got)
		}
	}
}

func TestPricePrecisionByMagnitude(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{97123.456, "97123.5"},
		{612.345, "612.35"},
		{35.12345, "35.123"},
		{1.234567, "1.2346"},
		{100, "100"},
	}

	for _, tt := range tests {
		if got := FormatPrice(tt.price); got != tt.want {
			t.Errorf("FormatPrice(%v): expected %s, got %s", tt.price, tt.want, got)
		}
	}
}

func TestMinQuantity(t *testing.T) {
	if MinQuantity("ASTERUSDT") != 1 {
		t.Errorf("Expected ASTER minimum 1, got %v", MinQuantity("ASTERUSDT"))
	}
	if MinQuantity("BTCUSDT") != 0.001 {
		t.Errorf("Expected BTC minimum 0.001, got %v", MinQuantity("BTCUSDT"))
	}
}

func TestRoundQuantity(t *testing.T) {
	if got := RoundQuantity("BTCUSDT", 0.0166666); got != 0.017 {
		t.Errorf("Expected 0.017, got %v", got)
	}
	if got := RoundQuantity("ASTERUSDT", 99.4); got != 99 {
		t.Errorf("Expected 99, got %v", got)
	}
}
