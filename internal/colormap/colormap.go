// Package colormap maps scalars in an arbitrary domain onto sequential color
// palettes. Every heatmap in the panel goes through a Scale.
package colormap

import (
	"fmt"
	"math"
	"sort"
)

// RGB is an 8-bit sRGB color.
type RGB struct {
	R, G, B uint8
}

// Hex renders c as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// MarshalText lets RGB values serialize as hex strings in view models.
func (c RGB) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// ParseHex parses #rrggbb.
func ParseHex(s string) (RGB, error) {
	var c RGB
	if len(s) != 7 || s[0] != '#' {
		return c, fmt.Errorf("invalid color %q (want #rrggbb)", s)
	}
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return c, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}

func mustHex(stops ...string) []RGB {
	out := make([]RGB, len(stops))
	for i, s := range stops {
		c, err := ParseHex(s)
		if err != nil {
			panic(err)
		}
		out[i] = c
	}
	return out
}

// Palette is an ordered list of evenly spaced color stops.
type Palette struct {
	Name  string
	Stops []RGB
}

// Palette names. The first four are the sections' defaults.
const (
	Inferno = "inferno" // attention weights
	Greys   = "greys"   // raw embedding magnitudes
	Viridis = "viridis" // FFN activations
	Blues   = "blues"   // generic scalar fields
)

var palettes = map[string]Palette{
	Inferno: {Name: Inferno, Stops: mustHex(
		"#000004", "#1b0c41", "#4a0c6b", "#781c6d", "#a52c60",
		"#cf4446", "#ed6925", "#fb9b06", "#f7d13d", "#fcffa4",
	)},
	Greys: {Name: Greys, Stops: mustHex(
		"#ffffff", "#f0f0f0", "#d9d9d9", "#bdbdbd", "#969696",
		"#737373", "#525252", "#252525", "#000000",
	)},
	Viridis: {Name: Viridis, Stops: mustHex(
		"#440154", "#472d7b", "#3b528b", "#2c728e", "#21918c",
		"#28ae80", "#5ec962", "#addc30", "#fde725",
	)},
	Blues: {Name: Blues, Stops: mustHex(
		"#f7fbff", "#deebf7", "#c6dbef", "#9ecae1", "#6baed6",
		"#4292c6", "#2171b5", "#08519c", "#08306b",
	)},
}

// Lookup returns the named palette.
func Lookup(name string) (Palette, error) {
	p, ok := palettes[name]
	if !ok {
		return Palette{}, fmt.Errorf("unknown palette %q (known: %v)", name, Names())
	}
	return p, nil
}

// MustLookup is Lookup for names known at compile time.
func MustLookup(name string) Palette {
	p, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Names lists the registered palettes in sorted order.
func Names() []string {
	names := make([]string, 0, len(palettes))
	for n := range palettes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// At returns the color at position t in [0, 1], interpolating linearly
// between neighbouring stops.
func (p Palette) At(t float64) RGB {
	if len(p.Stops) == 0 {
		return RGB{}
	}
	if len(p.Stops) == 1 || math.IsNaN(t) {
		return p.Stops[len(p.Stops)/2]
	}
	if t <= 0 {
		return p.Stops[0]
	}
	if t >= 1 {
		return p.Stops[len(p.Stops)-1]
	}
	seg := t * float64(len(p.Stops)-1)
	i := int(seg)
	frac := seg - float64(i)
	return lerp(p.Stops[i], p.Stops[i+1], frac)
}

// Midpoint is the neutral color used for collapsed domains.
func (p Palette) Midpoint() RGB {
	return p.At(0.5)
}

// Hex returns the stop list as hex strings.
func (p Palette) Hex() []string {
	out := make([]string, len(p.Stops))
	for i, c := range p.Stops {
		out[i] = c.Hex()
	}
	return out
}

func lerp(a, b RGB, t float64) RGB {
	ch := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return RGB{R: ch(a.R, b.R), G: ch(a.G, b.G), B: ch(a.B, b.B)}
}

// Domain is a closed numeric interval.
type Domain struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Collapsed reports whether the domain has zero width.
func (d Domain) Collapsed() bool {
	return d.Lo == d.Hi
}

// Scale maps values in a Domain onto a Palette.
type Scale struct {
	Domain  Domain
	Palette Palette
}

// NewScale builds a scale over [lo, hi]. Reversed bounds are swapped.
func NewScale(lo, hi float64, p Palette) Scale {
	if lo > hi {
		lo, hi = hi, lo
	}
	return Scale{Domain: Domain{Lo: lo, Hi: hi}, Palette: p}
}

// Position returns where v falls in the palette, in [0, 1]. Out of range
// values are clamped; a collapsed domain or NaN maps to 0.5.
func (s Scale) Position(v float64) float64 {
	if s.Domain.Collapsed() || math.IsNaN(v) {
		return 0.5
	}
	if v <= s.Domain.Lo {
		return 0
	}
	if v >= s.Domain.Hi {
		return 1
	}
	return (v - s.Domain.Lo) / (s.Domain.Hi - s.Domain.Lo)
}

// Color maps v to a color.
func (s Scale) Color(v float64) RGB {
	if s.Domain.Collapsed() {
		return s.Palette.Midpoint()
	}
	return s.Palette.At(s.Position(v))
}

// Func returns the scale as a plain mapping function.
func (s Scale) Func() func(float64) RGB {
	return s.Color
}

// Colorize maps every cell of m.
func (s Scale) Colorize(m [][]float64) [][]RGB {
	out := make([][]RGB, len(m))
	for i, row := range m {
		out[i] = make([]RGB, len(row))
		for j, v := range row {
			out[i][j] = s.Color(v)
		}
	}
	return out
}
