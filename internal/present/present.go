// Package present formats numbers and tokens for display.
package present

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

const ellipsis = "…"

// Percent renders a probability as a percentage with one decimal, e.g.
// 0.4 -> "40.0%".
func Percent(p float64) string {
	if math.IsNaN(p) {
		return "—"
	}
	return fmt.Sprintf("%.1f%%", p*100)
}

// BarWidth maps a probability to a bar length in [0, scale].
func BarWidth(p, scale float64) float64 {
	if math.IsNaN(p) || p <= 0 || scale <= 0 {
		return 0
	}
	if p >= 1 {
		return scale
	}
	return p * scale
}

// Decimal renders v with a fixed number of places.
func Decimal(v float64, places int) string {
	if places < 0 {
		places = 0
	}
	return fmt.Sprintf("%.*f", places, v)
}

// Timestamp renders the wall clock part of t.
func Timestamp(t time.Time) string {
	return t.Format("15:04:05")
}

// TruncateToken shortens s to at most width runes, ending in an ellipsis
// when cut.
func TruncateToken(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	if width == 1 {
		return ellipsis
	}
	runes := []rune(s)
	return string(runes[:width-1]) + ellipsis
}

var visible = strings.NewReplacer(
	" ", "␣",
	"\n", "↵",
	"\t", "⇥",
	"\r", "",
)

// ShowWhitespace replaces spaces, newlines and tabs with visible glyphs so
// tokenizer boundaries can be read.
func ShowWhitespace(s string) string {
	return visible.Replace(s)
}

// EscapeToken makes a token safe to embed in HTML with visible whitespace.
func EscapeToken(s string) string {
	return html.EscapeString(ShowWhitespace(s))
}

// Label is the fixed-width display form of a token: whitespace made
// visible, then truncated. The result is not HTML-escaped.
func Label(s string, width int) string {
	if s == "" {
		return "∅"
	}
	return TruncateToken(ShowWhitespace(s), width)
}

// Labels applies Label to every token.
func Labels(tokens []string, width int) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = Label(t, width)
	}
	return out
}

// IndexedLabel prefixes a label with its position, e.g. "3:cat".
func IndexedLabel(i int, s string, width int) string {
	return fmt.Sprintf("%d:%s", i, Label(s, width))
}
