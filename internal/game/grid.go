// Package game is the deterministic 4x4 tile-merging state machine.
//
// Cells hold magnitudes: 0 is empty, n > 0 is a tile worth 2^n. A move slides every
// line toward the move direction, merges equal neighbours once, and spawns one tile
// chosen by the rng package.
package game

import (
	"fmt"
	"strings"

	"tilerank/apps/chain/internal/rng"
)

const (
	Size  = 4
	Cells = Size * Size

	// MaxMagnitude caps merges so 2^n fits the score arithmetic.
	MaxMagnitude = 62
)

// Grid is row-major: cell (row, col) is Grid[row*Size+col].
type Grid [Cells]uint8

func (g Grid) At(row, col int) uint8 {
	return g[row*Size+col]
}

// Score is the sum of 2^n over all occupied cells.
func (g Grid) Score() uint64 {
	var s uint64
	for _, m := range g {
		if m > 0 {
			s += uint64(1) << m
		}
	}
	return s
}

func (g Grid) HighestTile() uint8 {
	var hi uint8
	for _, m := range g {
		if m > hi {
			hi = m
		}
	}
	return hi
}

func (g Grid) Occupied() int {
	n := 0
	for _, m := range g {
		if m != 0 {
			n++
		}
	}
	return n
}

func (g Grid) emptyCells() []int {
	out := make([]int, 0, Cells)
	for i, m := range g {
		if m == 0 {
			out = append(out, i)
		}
	}
	return out
}

// String renders tile values, one row per line.
func (g Grid) String() string {
	var b strings.Builder
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if c > 0 {
				b.WriteByte(' ')
			}
			m := g.At(r, c)
			if m == 0 {
				b.WriteString(fmt.Sprintf("%5s", "."))
				continue
			}
			b.WriteString(fmt.Sprintf("%5d", uint64(1)<<m))
		}
		if r < Size-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Spawn places one tile on an empty cell chosen from seed: 9 in 10 draws give
// magnitude 1 (a 2), the rest magnitude 2 (a 4). On a full grid it returns the grid
// unchanged with ok=false.
func Spawn(g Grid, seed uint64) (out Grid, cell int, magnitude uint8, ok bool) {
	empty := g.emptyCells()
	if len(empty) == 0 {
		return g, -1, 0, false
	}
	s := rng.NewStream(seed)
	cell = empty[s.Pick(0, uint64(len(empty)))]
	magnitude = 1
	if s.Pick(0, 10) == 0 {
		magnitude = 2
	}
	g[cell] = magnitude
	return g, cell, magnitude, true
}

// SpawnSeed is the seed of the tile spawned after a move (or at creation) at ts.
func SpawnSeed(boardID, player string, ts uint64) uint64 {
	return rng.Seed(boardID, player, ts)
}

// NewGrid builds the starting grid of a board created at ts: two spawns seeded with
// ts and ts-1, in that order.
func NewGrid(boardID, player string, ts uint64) Grid {
	var g Grid
	g, _, _, _ = Spawn(g, SpawnSeed(boardID, player, ts))
	g, _, _, _ = Spawn(g, SpawnSeed(boardID, player, ts-1))
	return g
}
