package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"basic rounding down", 1.2345, 0.01, 1.23},
		{"tie rounds away from zero", 1.235, 0.01, 1.24},
		{"negative tie rounds away from zero", -1.235, 0.01, -1.24},
		{"larger tick size", 1.27, 0.05, 1.25},
		{"exact multiple", 1.25, 0.05, 1.25},
		{"negative tick uses absolute value", 1.235, -0.01, 1.24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToTick(tt.x, tt.tick)
			if math.Abs(got-tt.want) > 1e-10 {
				t.Fatalf("RoundToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
			}
		})
	}
}

func TestFloorToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"basic floor", 1.237, 0.01, 1.23},
		{"exact multiple stays put", 1.30, 0.05, 1.30},
		{"just below boundary", 1.2999999999999, 0.05, 1.25},
		{"just above boundary", 1.2500000000001, 0.05, 1.25},
		{"negative floors toward -inf", -1.237, 0.01, -1.24},
		{"negative exact multiple", -1.25, 0.05, -1.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FloorToTick(tt.x, tt.tick)
			if math.Abs(got-tt.want) > 1e-10 {
				t.Fatalf("FloorToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
			}
		})
	}
}

func TestCeilToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"basic ceil", 1.231, 0.01, 1.24},
		{"exact multiple stays put", 1.30, 0.05, 1.30},
		{"just above boundary", 1.2500000000001, 0.05, 1.30},
		{"negative ceils toward zero", -1.231, 0.01, -1.23},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CeilToTick(tt.x, tt.tick)
			if math.Abs(got-tt.want) > 1e-10 {
				t.Fatalf("CeilToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
			}
		})
	}
}

func TestTickRounding_PassThrough(t *testing.T) {
	t.Run("zero tick returns input", func(t *testing.T) {
		const x = 1.2345
		if got := RoundToTick(x, 0); got != x {
			t.Fatalf("RoundToTick(%v, 0) = %v, want %v", x, got, x)
		}
		if got := FloorToTick(x, 0); got != x {
			t.Fatalf("FloorToTick(%v, 0) = %v, want %v", x, got, x)
		}
		if got := CeilToTick(x, 0); got != x {
			t.Fatalf("CeilToTick(%v, 0) = %v, want %v", x, got, x)
		}
	})

	t.Run("non-finite inputs return unchanged", func(t *testing.T) {
		if got := RoundToTick(math.NaN(), 0.01); !math.IsNaN(got) {
			t.Fatalf("RoundToTick(NaN, 0.01) = %v, want NaN", got)
		}
		if got := FloorToTick(math.Inf(1), 0.01); got != math.Inf(1) {
			t.Fatalf("FloorToTick(+Inf, 0.01) = %v, want +Inf", got)
		}
		if got := CeilToTick(math.Inf(-1), 0.01); got != math.Inf(-1) {
			t.Fatalf("CeilToTick(-Inf, 0.01) = %v, want -Inf", got)
		}
	})
}
