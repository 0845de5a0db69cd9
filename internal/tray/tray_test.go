package tray

import (
	"testing"

	"github.com/polyvoice/polyvoice/internal/level"
)

func TestRenderMeterGlyphBuckets(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float64
		expected string
	}{
		{
			name:     "silence renders the lowest glyph",
			samples:  []float64{0, 0, 0},
			expected: "▁▁▁",
		},
		{
			name:     "full scale renders the tallest glyph",
			samples:  []float64{1, 1},
			expected: "██",
		},
		{
			name:     "rising ramp climbs the glyph ladder",
			samples:  []float64{0.0, 0.15, 0.3, 0.45, 0.6, 0.75, 0.9, 1.0},
			expected: "▁▂▃▄▅▇██",
		},
		{
			name:     "out of range values are clamped",
			samples:  []float64{-0.5, 1.5},
			expected: "▁█",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renderMeter(tt.samples, len(tt.samples))
			if got != tt.expected {
				t.Errorf("renderMeter(%v) = %q, want %q", tt.samples, got, tt.expected)
			}
		})
	}
}

func TestRenderMeterTruncatesToWidth(t *testing.T) {
	samples := make([]float64, level.DefaultCapacity)
	// Only the last value is hot; it must survive the truncation as the
	// rightmost glyph.
	samples[len(samples)-1] = 1.0

	got := renderMeter(samples, meterWidth)
	runes := []rune(got)
	if len(runes) != meterWidth {
		t.Fatalf("expected %d glyphs, got %d (%q)", meterWidth, len(runes), got)
	}
	if runes[len(runes)-1] != '█' {
		t.Errorf("newest sample must be rightmost, got %q", got)
	}
	for _, r := range runes[:len(runes)-1] {
		if r != '▁' {
			t.Errorf("expected silence glyphs before the hot sample, got %q", got)
		}
	}
}

func TestRenderMeterZeroWidth(t *testing.T) {
	if got := renderMeter([]float64{0.5}, 0); got != "" {
		t.Errorf("expected empty meter for zero width, got %q", got)
	}
}

func TestEmojiForStatus(t *testing.T) {
	tests := []struct {
		status   string
		expected string
	}{
		{"recording", "🔴"},
		{"processing", "🟡"},
		{"idle", "🟢"},
		{"error", "⚪️"},
		{"unknown", "🟢"},
	}

	for _, tt := range tests {
		if got := emojiForStatus(tt.status); got != tt.expected {
			t.Errorf("emojiForStatus(%q) = %q, want %q", tt.status, got, tt.expected)
		}
	}
}
