package sizing

import (
	"math"
	"testing"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ===== TEST CASES: END TO END =====

func TestSizeReferenceScenario(t *testing.T) {
	s := New(Config{MaxPositionSize: 1200})

	r := s.Size(Input{
		Confidence:      90,
		ATRPercent:      2,
		QualityScore:    80,
		Balance:         1000,
		AvailableMargin: 1000,
	})

	// base min(1200, 600) x conf 2.05 x vol 0.5 x quality 1.3 x perf 1 x kelly 1
	if !near(r.Base, 600) {
		t.Errorf("Expected base 600, got %v", r.Base)
	}
	if !near(r.ConfidenceMultiplier, 2.05) {
		t.Errorf("Expected confidence multiplier 2.05, got %v", r.ConfidenceMultiplier)
	}
	if !near(r.VolatilityMultiplier, 0.5) {
		t.Errorf("Expected volatility multiplier 0.5, got %v", r.VolatilityMultiplier)
	}
	if !near(r.QualityMultiplier, 1.3) {
		t.Errorf("Expected quality multiplier 1.3, got %v", r.QualityMultiplier)
	}
	if r.PerformanceMultiplier != 1 || r.KellyMultiplier != 1 {
		t.Errorf("Expected neutral perf and kelly, got %v / %v", r.PerformanceMultiplier, r.KellyMultiplier)
	}
	if !near(r.Size, 799.5) {
		t.Errorf("Expected size 799.5, got %v", r.Size)
	}

	again := s.Size(Input{Confidence: 90, ATRPercent: 2, QualityScore: 80, Balance: 1000, AvailableMargin: 1000})
	if again != r {
		t.Error("Expected identical result for identical input")
	}
}

// ===== TEST CASES: MULTIPLIERS =====

func TestConfidenceMultiplier(t *testing.T) {
	s := New(DefaultConfig())
	tests := []struct {
		confidence float64
		expected   float64
	}{
		{0, 0.7},
		{60, 0.7},
		{80, 1.6},
		{100, 2.5},
	}
	for _, tt := range tests {
		if got := s.confidenceMultiplier(tt.confidence); !near(got, tt.expected) {
			t.Errorf("confidence %v: expected %v, got %v", tt.confidence, tt.expected, got)
		}
	}
}

func TestPerformanceMultiplier(t *testing.T) {
	tests := []struct {
		name     string
		in       Input
		expected float64
	}{
		{"no history", Input{}, 1},
		{"winning streak", Input{WinRate: 0.6, RecentPnL: 10, TotalTrades: 5}, 1.3},
		{"high win rate but losing", Input{WinRate: 0.6, RecentPnL: -10, TotalTrades: 5}, 1},
		{"low win rate", Input{WinRate: 0.4, RecentPnL: 10, TotalTrades: 5}, 0.7},
		{"deep drawdown", Input{WinRate: 0.5, RecentPnL: -60, TotalTrades: 5}, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := performanceMultiplier(tt.in); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestKellyMultiplier(t *testing.T) {
	s := New(DefaultConfig())

	tests := []struct {
		name     string
		in       Input
		expected float64
	}{
		{"too few trades", Input{TotalTrades: 10, WinRate: 0.9, AvgWin: 2, AvgLoss: 1}, 1},
		{"no losses recorded", Input{TotalTrades: 20, WinRate: 0.9, AvgWin: 2}, 1},
		{"positive edge", Input{TotalTrades: 20, WinRate: 0.8, AvgWin: 1, AvgLoss: 1}, 0.6},
		{"perfect record", Input{TotalTrades: 20, WinRate: 1, AvgWin: 5, AvgLoss: 1}, 1},
		{"clamped low", Input{TotalTrades: 20, WinRate: 0.2, AvgWin: 1, AvgLoss: 2}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.kellyMultiplier(tt.in); !near(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// ===== TEST CASES: BOUNDS =====

func TestSizeAlwaysWithinBounds(t *testing.T) {
	s := New(Config{MaxPositionSize: 1000})
	maxSize := 1000.0

	for conf := 0.0; conf <= 100; conf += 5 {
		for _, vol := range []float64{0, 0.5, 2, 10, 100} {
			for q := 0.0; q <= 100; q += 20 {
				for _, margin := range []float64{50, 400, 2000, 1e6} {
					in := Input{
						Confidence:      conf,
						ATRPercent:      vol,
						QualityScore:    q,
						Balance:         5000,
						AvailableMargin: margin,
						WinRate:         0.7,
						RecentPnL:       100,
						TotalTrades:     30,
						AvgWin:          3,
						AvgLoss:         1,
					}
					r := s.Size(in)
					if r.Size > 0.8*margin+1e-9 {
						t.Fatalf("size %v exceeds 80%% of margin %v for %+v", r.Size, margin, in)
					}
					if r.Size > maxSize {
						t.Fatalf("size %v exceeds max for %+v", r.Size, in)
					}
					if 0.8*margin >= 0.25*maxSize && r.Size < 0.25*maxSize-1e-9 {
						t.Fatalf("size %v below floor for %+v", r.Size, in)
					}
					if r.Size < 0 || math.IsNaN(r.Size) {
						t.Fatalf("invalid size %v for %+v", r.Size, in)
					}
				}
			}
		}
	}
}

func TestSizeMarginCapWinsOverFloor(t *testing.T) {
	s := New(Config{MaxPositionSize: 1000})
	r := s.Size(Input{Confidence: 90, QualityScore: 50, Balance: 1000, AvailableMargin: 100})
	if !near(r.Size, 80) || !r.MarginCapped {
		t.Errorf("Expected margin-capped size 80, got %v (capped=%v)", r.Size, r.MarginCapped)
	}
}

func TestSizeNonFiniteInputs(t *testing.T) {
	s := New(Config{MaxPositionSize: 1000})
	r := s.Size(Input{
		Confidence:      math.NaN(),
		ATRPercent:      math.Inf(1),
		QualityScore:    math.NaN(),
		Balance:         1000,
		AvailableMargin: 10000,
	})
	if r.Size < 250 || r.Size > 1000 || math.IsNaN(r.Size) {
		t.Errorf("Expected finite bounded size, got %v", r.Size)
	}
}

func TestSizeZeroMargin(t *testing.T) {
	s := New(Config{MaxPositionSize: 1000})
	if r := s.Size(Input{Confidence: 90, Balance: 1000}); r.Size != 0 {
		t.Errorf("Expected 0 with no margin, got %v", r.Size)
	}
}
