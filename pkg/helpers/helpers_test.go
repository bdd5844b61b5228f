package helpers

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   uint64
		decimals uint8
		want     string
	}{
		{1000000000, 9, "1"},              // 1 SOL
		{500000000, 9, "0.5"},              // 0.5 SOL
		{123456789, 9, "0.123456789"},      // all decimals
		{1000, 9, "0.000001"},              // small amount
		{1, 9, "0.000000001"},              // 1 lamport
		{0, 9, "0"},                        // zero
		{1000000000000000000, 18, "1"},     // 18-decimal token
		{123, 0, "123"},                    // no decimals
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatAmount(tt.amount, tt.decimals)
			if got != tt.want {
				t.Errorf("FormatAmount(%d, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{"1", 9, 1000000000, false},
		{"0.5", 9, 500000000, false},
		{"0.123456789", 9, 123456789, false},
		{"0.000001", 9, 1000, false},
		{"0", 9, 0, false},
		{"123", 0, 123, false},
		{"invalid", 9, 0, true},
		{"1.2.3", 9, 0, true},
		{"", 9, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseAmount(%s, %d) = %d, want %d", tt.input, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestFormatParseRoundtrip(t *testing.T) {
	amounts := []uint64{1, 100, 123456789, 1000000000, 999999999}

	for _, amount := range amounts {
		formatted := FormatAmount(amount, 9)
		parsed, err := ParseAmount(formatted, 9)
		if err != nil {
			t.Errorf("ParseAmount(%s) failed: %v", formatted, err)
			continue
		}
		if parsed != amount {
			t.Errorf("roundtrip failed: %d -> %s -> %d", amount, formatted, parsed)
		}
	}
}

func TestLamportsSOLConversion(t *testing.T) {
	if got := LamportsToSOL(1000000000); !got.Equal(decimal.New(1, 0)) {
		t.Errorf("LamportsToSOL(1e9) = %s, want 1", got)
	}

	if got := SOLToLamports(decimal.New(1, 0)); got != 1000000000 {
		t.Errorf("SOLToLamports(1) = %d, want 1000000000", got)
	}

	if got := SOLToLamports(decimal.NewFromFloat(0.5)); got != 500000000 {
		t.Errorf("SOLToLamports(0.5) = %d, want 500000000", got)
	}
}

func TestClampString(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"", 5, ""},
		{"exact", 5, "exact"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ClampString(tt.in, tt.maxLen)
			if got != tt.want {
				t.Errorf("ClampString(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}
