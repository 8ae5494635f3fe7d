// Package ramp converts scalar index grids into 8-bit RGB pixels through a
// fixed piecewise-linear color table.
package ramp

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when the index grid and validity mask differ
// in length.
var ErrShapeMismatch = errors.New("index grid and validity mask have different sizes")

// ControlPoint anchors one index value to an RGB color. Tables are ordered by
// strictly increasing Value. Values are float32 so that a grid sample landing
// exactly on a node picks up the node color with no interpolation error.
type ControlPoint struct {
	Value   float32
	R, G, B uint8
}

// NDWITable is the water-index visualization ramp: greens below zero, white
// at zero, blues above. The repeated blue at 0.1/0.3/0.5 flattens that range
// into a single plateau.
var NDWITable = []ControlPoint{
	{Value: -1.0, R: 0x00, G: 0x60, B: 0x00},
	{Value: -0.8, R: 0x00, G: 0x80, B: 0x00},
	{Value: -0.3, R: 0x60, G: 0xA0, B: 0x60},
	{Value: 0.0, R: 0xFF, G: 0xFF, B: 0xFF},
	{Value: 0.1, R: 0x40, G: 0x40, B: 0xB0},
	{Value: 0.3, R: 0x40, G: 0x40, B: 0xB0},
	{Value: 0.5, R: 0x40, G: 0x40, B: 0xB0},
	{Value: 0.8, R: 0x00, G: 0x00, B: 0xCC},
	{Value: 1.0, R: 0x00, G: 0x00, B: 0xA0},
}

// RGB holds the three channel planes of a colorized grid, row-major, same
// shape as the input index grid.
type RGB struct {
	R, G, B []uint8
}

// Colorize maps each valid index pixel to a color by piecewise-linear
// interpolation over the table. Index values are clipped to the table range
// before lookup, interpolated per channel in float64 and truncated toward
// zero into uint8. Pixels where valid is false come out black.
func Colorize(indexGrid []float32, valid []bool, table []ControlPoint) (RGB, error) {
	if len(indexGrid) != len(valid) {
		return RGB{}, fmt.Errorf(
			"%d pixels vs %d mask entries: %w",
			len(indexGrid), len(valid), ErrShapeMismatch,
		)
	}

	out := RGB{
		R: make([]uint8, len(indexGrid)),
		G: make([]uint8, len(indexGrid)),
		B: make([]uint8, len(indexGrid)),
	}

	for i, v := range indexGrid {
		if !valid[i] {
			continue
		}

		r, g, b := lookup(table, v)
		out.R[i] = r
		out.G[i] = g
		out.B[i] = b
	}

	return out, nil
}

// lookup interpolates one index value against the table. Values outside the
// table range clamp to the endpoint colors.
func lookup(table []ControlPoint, v float32) (r, g, b uint8) {
	first, last := table[0], table[len(table)-1]

	if v <= first.Value {
		return first.R, first.G, first.B
	}

	if v >= last.Value {
		return last.R, last.G, last.B
	}

	seg := 1
	for v > table[seg].Value {
		seg++
	}

	lo, hi := table[seg-1], table[seg]
	t := float64(v-lo.Value) / float64(hi.Value-lo.Value)

	r = uint8(float64(lo.R) + t*(float64(hi.R)-float64(lo.R)))
	g = uint8(float64(lo.G) + t*(float64(hi.G)-float64(lo.G)))
	b = uint8(float64(lo.B) + t*(float64(hi.B)-float64(lo.B)))

	return r, g, b
}
