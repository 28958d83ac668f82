package present

import (
	"math"
	"testing"
	"time"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.4, "40.0%"},
		{0.3, "30.0%"},
		{0.1234, "12.3%"},
		{1, "100.0%"},
		{0, "0.0%"},
		{math.NaN(), "—"},
	}
	for _, tt := range tests {
		if got := Percent(tt.in); got != tt.want {
			t.Errorf("Percent(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBarWidthProportional(t *testing.T) {
	probs := []float64{0.4, 0.3, 0.1}
	for i := range probs {
		for j := range probs {
			if probs[j] == 0 {
				continue
			}
			ratio := BarWidth(probs[i], 100) / BarWidth(probs[j], 100)
			if math.Abs(ratio-probs[i]/probs[j]) > 1e-12 {
				t.Errorf("bar widths not proportional for %v/%v", probs[i], probs[j])
			}
		}
	}
	if BarWidth(1.5, 100) != 100 || BarWidth(-0.1, 100) != 0 || BarWidth(math.NaN(), 100) != 0 {
		t.Error("bar width not clamped")
	}
}

func TestTruncateToken(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"cat", 5, "cat"},
		{"catalogue", 5, "cata…"},
		{"日本語テキスト", 3, "日本…"},
		{"abc", 1, "…"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateToken(tt.in, tt.width); got != tt.want {
			t.Errorf("TruncateToken(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestEscapeToken(t *testing.T) {
	tests := []struct{ in, want string }{
		{" sat", "␣sat"},
		{"a\nb", "a↵b"},
		{"\tx", "⇥x"},
		{"<b>&", "&lt;b&gt;&amp;"},
		{"plain", "plain"},
		{" <\n> ", "␣&lt;↵&gt;␣"},
	}
	for _, tt := range tests {
		if got := EscapeToken(tt.in); got != tt.want {
			t.Errorf("EscapeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLabel(t *testing.T) {
	if got := Label(" the", 12); got != "␣the" {
		t.Errorf("got %q", got)
	}
	if got := Label("", 12); got != "∅" {
		t.Errorf("empty token: got %q", got)
	}
	if got := Label(" international", 6); got != "␣inte…" {
		t.Errorf("got %q", got)
	}
	if got := IndexedLabel(3, "cat", 12); got != "3:cat" {
		t.Errorf("got %q", got)
	}
	if got := Labels([]string{"a", " b"}, 4); len(got) != 2 || got[1] != "␣b" {
		t.Errorf("got %v", got)
	}
}

func TestTimestampAndDecimal(t *testing.T) {
	ts := time.Date(2024, 5, 1, 13, 4, 9, 0, time.UTC)
	if got := Timestamp(ts); got != "13:04:09" {
		t.Errorf("got %q", got)
	}
	if got := Decimal(0.123456, 3); got != "0.123" {
		t.Errorf("got %q", got)
	}
	if got := Decimal(2.4, -1); got != "2" {
		t.Errorf("got %q", got)
	}
}
