package game

// Move is one directional input stamped with the player's timestamp.
type Move struct {
	Direction Direction `json:"direction"`
	Timestamp uint64    `json:"timestamp"`
}

// Replay rebuilds a board from its creation timestamp and recorded moves. Moves
// that leave the grid unchanged are skipped, the same way the board skips them.
// score is the running score maintained incrementally from spawns; callers compare
// it to the grid's Score as a consistency check.
func Replay(boardID, player string, createdAt uint64, moves []Move) (g Grid, score uint64) {
	g = NewGrid(boardID, player, createdAt)
	score = g.Score()
	for _, m := range moves {
		next, out := Apply(g, m.Direction, SpawnSeed(boardID, player, m.Timestamp))
		if !out.Changed {
			continue
		}
		g = next
		score += uint64(1) << out.SpawnMagnitude
	}
	return g, score
}
