package game

// lines holds, per direction, the cell indices of each line ordered from the edge
// tiles slide toward. Sliding "left" over these index lists generalises to all four
// directions without transposing the grid.
var lines = func() (out [4][Size][Size]int) {
	for i := 0; i < Size; i++ {
		for j := 0; j < Size; j++ {
			out[Left][i][j] = i*Size + j
			out[Right][i][j] = i*Size + (Size - 1 - j)
			out[Up][i][j] = j*Size + i
			out[Down][i][j] = (Size-1-j)*Size + i
		}
	}
	return out
}()

// slideLine compacts a line toward index 0 and merges equal neighbours left to
// right. A tile produced by a merge does not merge again in the same move.
func slideLine(in [Size]uint8) (out [Size]uint8, merged uint64) {
	n := 0
	var dense [Size]uint8
	for _, m := range in {
		if m != 0 {
			dense[n] = m
			n++
		}
	}
	w := 0
	for i := 0; i < n; i++ {
		if i+1 < n && dense[i] == dense[i+1] && dense[i] < MaxMagnitude {
			m := dense[i] + 1
			out[w] = m
			merged += uint64(1) << m
			i++
		} else {
			out[w] = dense[i]
		}
		w++
	}
	return out, merged
}

// Slide applies a move without spawning. merged is the value of the tiles created
// by merges; changed is false when the move leaves the grid untouched.
func Slide(g Grid, d Direction) (out Grid, merged uint64, changed bool) {
	if d > Right {
		return g, 0, false
	}
	out = g
	for _, idx := range lines[d] {
		var line [Size]uint8
		for j, cell := range idx {
			line[j] = g[cell]
		}
		slid, m := slideLine(line)
		merged += m
		for j, cell := range idx {
			out[cell] = slid[j]
		}
	}
	return out, merged, out != g
}

// Outcome describes one applied move.
type Outcome struct {
	Changed        bool
	Merged         uint64
	SpawnCell      int
	SpawnMagnitude uint8
}

// Apply slides g in direction d and, if anything moved, spawns one tile from
// spawnSeed. An unchanged grid gets no spawn.
func Apply(g Grid, d Direction, spawnSeed uint64) (Grid, Outcome) {
	slid, merged, changed := Slide(g, d)
	if !changed {
		return g, Outcome{SpawnCell: -1}
	}
	out, cell, mag, _ := Spawn(slid, spawnSeed)
	return out, Outcome{Changed: true, Merged: merged, SpawnCell: cell, SpawnMagnitude: mag}
}

// CanMove reports whether any direction changes the grid.
func CanMove(g Grid) bool {
	for _, d := range Directions {
		if _, _, changed := Slide(g, d); changed {
			return true
		}
	}
	return false
}

// IsTerminal is true when no direction changes the grid.
func IsTerminal(g Grid) bool {
	return !CanMove(g)
}
