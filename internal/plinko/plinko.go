// Package plinko implements the reward draw: a simulated chip descent
// through a peg board that produces the animation path, and an independent
// weighted draw that produces the payout amount. The landing slot never
// feeds into the payout; the two stages consume separate samples.
package plinko

import (
	"errors"
	"fmt"
	"math"
)

const (
	// Rows is the number of peg rows the chip bounces through.
	Rows = 8
	// Columns is the number of landing slots, indexed 0..Columns-1.
	Columns = 7

	startColumn = Columns / 2
)

// Direction is one bounce off a peg row.
type Direction uint8

const (
	Left Direction = iota
	Right
)

func (d Direction) String() string {
	if d == Right {
		return "R"
	}
	return "L"
}

func (d Direction) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"L"`:
		*d = Left
	case `"R"`:
		*d = Right
	default:
		return fmt.Errorf("plinko: invalid direction %s", b)
	}
	return nil
}

// Step records one row of the descent: the direction drawn and the column
// after clamping at the board edge.
type Step struct {
	Dir Direction `json:"dir"`
	Col int       `json:"col"`
}

// Outcome is the result of one draw. The path is kept as an audit trail
// next to the voucher the draw produced.
type Outcome struct {
	Path          []Step `json:"path"`
	FinalPosition int    `json:"final_position"`
	AmountUnits   uint32 `json:"amount_units"`
}

// tier is one slice of the payout distribution: a selection weight and an
// inclusive range of reward units.
type tier struct {
	weight uint64
	min    uint32
	max    uint32
}

// Payout tiers in draw order. Weights sum to 100 and the ranges cover the
// full 1..100 span, so every draw lands in exactly one tier.
var tiers = [5]tier{
	{weight: 40, min: 1, max: 5},
	{weight: 30, min: 6, max: 15},
	{weight: 20, min: 16, max: 35},
	{weight: 8, min: 36, max: 65},
	{weight: 2, min: 66, max: 100},
}

const totalWeight = 100

const (
	// MinUnits and MaxUnits bound every payout this package can produce.
	MinUnits = 1
	MaxUnits = 100
)

// ErrInvariant reports a malformed outcome produced by the generator
// itself. It is an internal failure: the caller must abort the draw and
// persist nothing.
var ErrInvariant = errors.New("plinko: outcome invariant violation")

// Draw runs one complete draw against src: Rows direction samples for the
// descent, then a tier sample and an in-tier sample for the amount.
func Draw(src Source) (Outcome, error) {
	out := Outcome{Path: make([]Step, 0, Rows)}

	col := startColumn
	for i := 0; i < Rows; i++ {
		dir := Left
		if src.Uint64()&1 == 1 {
			dir = Right
		}
		switch dir {
		case Left:
			if col > 0 {
				col--
			}
		case Right:
			if col < Columns-1 {
				col++
			}
		}
		out.Path = append(out.Path, Step{Dir: dir, Col: col})
	}
	out.FinalPosition = col
	out.AmountUnits = drawAmount(src)

	if err := out.validate(); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

func drawAmount(src Source) uint32 {
	sample := uint64n(src, totalWeight)
	var acc uint64
	for _, t := range tiers {
		acc += t.weight
		if sample < acc {
			span := uint64(t.max-t.min) + 1
			return t.min + uint32(uint64n(src, span))
		}
	}
	// Unreachable: the weights sum to totalWeight.
	return MinUnits
}

// uint64n returns a uniform value in [0, n) using rejection sampling, so
// the result is unbiased for any n.
func uint64n(src Source, n uint64) uint64 {
	limit := math.MaxUint64 - math.MaxUint64%n
	for {
		if v := src.Uint64(); v < limit {
			return v % n
		}
	}
}

func (o Outcome) validate() error {
	if len(o.Path) != Rows {
		return fmt.Errorf("%w: path has %d steps, want %d", ErrInvariant, len(o.Path), Rows)
	}
	for i, s := range o.Path {
		if s.Col < 0 || s.Col >= Columns {
			return fmt.Errorf("%w: step %d at column %d", ErrInvariant, i, s.Col)
		}
	}
	if o.FinalPosition < 0 || o.FinalPosition >= Columns {
		return fmt.Errorf("%w: final position %d", ErrInvariant, o.FinalPosition)
	}
	if o.AmountUnits < MinUnits || o.AmountUnits > MaxUnits {
		return fmt.Errorf("%w: amount %d units", ErrInvariant, o.AmountUnits)
	}
	return nil
}
