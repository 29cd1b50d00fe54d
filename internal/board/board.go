// Package board is the player-chain side of a game: creation, move application,
// history and the score updates a board sends to its shard.
package board

import (
	"fmt"

	"tilerank/apps/chain/internal/chain"
	"tilerank/apps/chain/internal/codec"
	"tilerank/apps/chain/internal/game"
	"tilerank/apps/chain/internal/rng"
	"tilerank/apps/chain/internal/timing"
	"tilerank/apps/chain/internal/types"
)

// MaxBatch bounds the number of moves in one submission.
const MaxBatch = 500

// End reasons.
const (
	ReasonNoMoves      = "no_moves"
	ReasonWindowClosed = "window_closed"
	ReasonEnded        = "ended"
)

type MoveRecord struct {
	Direction game.Direction `json:"direction"`
	Timestamp uint64         `json:"timestamp"`
	Grid      game.Grid      `json:"grid"`
	Score     uint64         `json:"score"`
}

type Board struct {
	ID           string        `json:"id"`
	Player       string        `json:"player"`
	Chain        chain.ID      `json:"chain"`
	TournamentID string        `json:"tournamentId"`
	Shard        chain.ID      `json:"shard,omitempty"`
	Window       timing.Window `json:"window"`

	Grid        game.Grid `json:"grid"`
	Score       uint64    `json:"score"`
	HighestTile uint8     `json:"highestTile"`
	CreatedAt   uint64    `json:"createdAt"`
	LastMoveAt  uint64    `json:"lastMoveAt"`
	MoveCount   uint64    `json:"moveCount"`
	// RecordedAt is the block time at which Score last changed.
	RecordedAt uint64 `json:"recordedAt"`

	Terminal  bool   `json:"terminal"`
	EndReason string `json:"endReason,omitempty"`
	EndedAt   uint64 `json:"endedAt,omitempty"`

	// Finalized is set once the final score update has been sent.
	Finalized     bool   `json:"finalized"`
	ReportedScore uint64 `json:"reportedScore"`

	History []MoveRecord `json:"history"`
}

type Params struct {
	Player       string
	TournamentID string
	Shard        chain.ID
	Window       timing.Window
	Timestamp    uint64
	// Now is the block time of the creating tx.
	Now uint64
}

// BoardID derives the id of the board player creates in tournamentID at ts.
func BoardID(player, tournamentID string, ts uint64) string {
	return fmt.Sprintf("%s.%d", chain.PlayerChain(player), rng.Seed(tournamentID, player, ts))
}

// New creates a board with its two seeded initial tiles. Anyone can recompute the
// starting grid from the id, the player and p.Timestamp.
func New(p Params) (*Board, error) {
	if p.Player == "" {
		return nil, types.ErrInvalidRequest.Wrap("missing player")
	}
	if p.TournamentID == "" {
		return nil, types.ErrInvalidRequest.Wrap("missing tournament id")
	}
	if p.Timestamp == 0 {
		return nil, types.ErrInvalidRequest.Wrap("missing timestamp")
	}
	if err := timing.CheckWindow(p.Window, p.Now); err != nil {
		return nil, err
	}
	if err := timing.CheckSkew(p.Timestamp, p.Now); err != nil {
		return nil, err
	}
	if err := timing.CheckWindow(p.Window, p.Timestamp); err != nil {
		return nil, err
	}
	id := BoardID(p.Player, p.TournamentID, p.Timestamp)
	g := game.NewGrid(id, p.Player, p.Timestamp)
	return &Board{
		ID:           id,
		Player:       p.Player,
		Chain:        chain.PlayerChain(p.Player),
		TournamentID: p.TournamentID,
		Shard:        p.Shard,
		Window:       p.Window,
		Grid:         g,
		Score:        g.Score(),
		HighestTile:  g.HighestTile(),
		CreatedAt:    p.Timestamp,
		LastMoveAt:   p.Timestamp,
		RecordedAt:   p.Now,
		History:      []MoveRecord{},
	}, nil
}

// Result describes what a move batch did. Moves before HaltedAt stay applied even
// when the batch failed.
type Result struct {
	Applied int `json:"applied"`
	// Skipped counts moves that did not change the grid.
	Skipped int `json:"skipped"`
	// Ignored counts moves after the board became terminal.
	Ignored        int  `json:"ignored"`
	HaltedAt       int  `json:"haltedAt"`
	BecameTerminal bool `json:"becameTerminal"`
	Flush          bool `json:"flush"`
}

// Changed reports whether the batch mutated the board.
func (r Result) Changed() bool { return r.Applied > 0 || r.BecameTerminal }

// ApplyMoves validates and applies moves in order at block time now. The first
// failing move halts the batch; the applied prefix is kept. An empty batch on a
// terminal board is a flush. Once the window has ended by block time the board is
// closed before any move is looked at.
func (b *Board) ApplyMoves(caller string, moves []game.Move, w timing.Window, now uint64) (Result, error) {
	res := Result{HaltedAt: -1}
	if caller != b.Player {
		return res, types.ErrNotOwner.Wrapf("board %s belongs to %s", b.ID, b.Player)
	}
	b.Window = w
	if b.Terminal {
		if len(moves) == 0 {
			res.Flush = true
			return res, nil
		}
		return res, types.ErrBoardTerminal.Wrapf("board %s ended (%s)", b.ID, b.EndReason)
	}
	if len(moves) == 0 {
		return res, types.ErrInvalidRequest.Wrap("empty move batch")
	}
	if len(moves) > MaxBatch {
		return res, types.ErrInvalidRequest.Wrapf("batch of %d moves exceeds %d", len(moves), MaxBatch)
	}
	if w.Ended(now) {
		b.terminate(ReasonWindowClosed, now)
		res.HaltedAt = 0
		res.BecameTerminal = true
		return res, types.ErrWindowClosed.Wrapf("window closed at %d, block time %d", w.End, now)
	}
	if err := timing.CheckWindow(w, now); err != nil {
		res.HaltedAt = 0
		return res, err
	}

	for i, m := range moves {
		if err := timing.CheckOrder(b.LastMoveAt, m.Timestamp); err != nil {
			res.HaltedAt = i
			return res, err
		}
		if err := timing.CheckSkew(m.Timestamp, now); err != nil {
			res.HaltedAt = i
			return res, err
		}
		if err := timing.CheckWindow(w, m.Timestamp); err != nil {
			res.HaltedAt = i
			if w.Ended(m.Timestamp) {
				b.terminate(ReasonWindowClosed, m.Timestamp)
				res.BecameTerminal = true
			}
			return res, err
		}
		next, out := game.Apply(b.Grid, m.Direction, game.SpawnSeed(b.ID, b.Player, m.Timestamp))
		if !out.Changed {
			res.Skipped++
			continue
		}
		b.Grid = next
		b.Score += uint64(1) << out.SpawnMagnitude
		if h := next.HighestTile(); h > b.HighestTile {
			b.HighestTile = h
		}
		b.LastMoveAt = m.Timestamp
		b.RecordedAt = now
		b.MoveCount++
		b.History = append(b.History, MoveRecord{
			Direction: m.Direction,
			Timestamp: m.Timestamp,
			Grid:      b.Grid,
			Score:     b.Score,
		})
		res.Applied++

		if game.IsTerminal(b.Grid) {
			b.terminate(ReasonNoMoves, m.Timestamp)
			res.BecameTerminal = true
			if rest := len(moves) - i - 1; rest > 0 {
				res.Ignored = rest
				res.HaltedAt = i + 1
				return res, types.ErrBoardTerminal.Wrapf("board %s has no legal move; %d moves not applied", b.ID, rest)
			}
			break
		}
	}
	if res.Applied == 0 {
		return res, types.ErrNoopBatch.Wrapf("none of %d moves changed the board", len(moves))
	}
	return res, nil
}

// End terminates the board on the owner's request.
func (b *Board) End(caller string, now uint64) error {
	if caller != b.Player {
		return types.ErrNotOwner.Wrapf("board %s belongs to %s", b.ID, b.Player)
	}
	if b.Terminal {
		return types.ErrBoardTerminal.Wrapf("board %s already ended (%s)", b.ID, b.EndReason)
	}
	b.terminate(ReasonEnded, now)
	return nil
}

// Expire terminates a live board whose window has ended at now.
func (b *Board) Expire(w timing.Window, now uint64) bool {
	b.Window = w
	if b.Terminal || !w.Ended(now) {
		return false
	}
	b.terminate(ReasonWindowClosed, now)
	return true
}

func (b *Board) terminate(reason string, at uint64) {
	b.Terminal = true
	b.EndReason = reason
	b.EndedAt = at
}

func (b *Board) update(final bool) codec.ScoreUpdate {
	return codec.ScoreUpdate{
		TournamentID: b.TournamentID,
		Player:       b.Player,
		BoardID:      b.ID,
		Score:        b.Score,
		HighestTile:  b.HighestTile,
		ScoredAt:     b.LastMoveAt,
		RecordedAt:   b.RecordedAt,
		Final:        final,
	}
}

// Report sends the board's score to its shard when there is something new: the
// final update once after the board turns terminal, otherwise a progress update
// whenever the score grew since the last report.
func (b *Board) Report(s chain.Sender, now uint64) (bool, error) {
	if b.Shard == "" {
		return false, nil
	}
	var u codec.ScoreUpdate
	switch {
	case b.Terminal && !b.Finalized:
		u = b.update(true)
	case !b.Terminal && b.Score > b.ReportedScore:
		u = b.update(false)
	default:
		return false, nil
	}
	if _, err := s.Send(b.Chain, b.Shard, codec.KindScoreUpdate, u, now); err != nil {
		return false, err
	}
	b.ReportedScore = b.Score
	b.Finalized = b.Terminal
	return true, nil
}

// Flush resends the final update of a terminal board. The shard ignores it when it
// already holds this score.
func (b *Board) Flush(s chain.Sender, now uint64) error {
	if !b.Terminal {
		return types.ErrInvalidRequest.Wrapf("board %s is still live", b.ID)
	}
	if !b.Finalized {
		_, err := b.Report(s, now)
		return err
	}
	if b.Shard == "" {
		return nil
	}
	_, err := s.Send(b.Chain, b.Shard, codec.KindScoreUpdate, b.update(true), now)
	return err
}

// Moves returns up to limit history records starting at offset, and the total.
func (b *Board) Moves(offset, limit int) ([]MoveRecord, int) {
	total := len(b.History)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []MoveRecord{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]MoveRecord, end-offset)
	copy(out, b.History[offset:end])
	return out, total
}

// Verify replays the move log and checks it against the stored grid and score.
func (b *Board) Verify() error {
	moves := make([]game.Move, len(b.History))
	for i, h := range b.History {
		moves[i] = game.Move{Direction: h.Direction, Timestamp: h.Timestamp}
	}
	g, score := game.Replay(b.ID, b.Player, b.CreatedAt, moves)
	if g != b.Grid {
		return types.ErrCapacityInvariant.Wrapf("board %s: replayed grid differs", b.ID)
	}
	if score != b.Score || score != g.Score() {
		return types.ErrCapacityInvariant.Wrapf("board %s: replayed score %d, stored %d", b.ID, score, b.Score)
	}
	return nil
}
