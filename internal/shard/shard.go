// Package shard is one parallel partition of a tournament. It folds score updates
// from player chains into a bounded top-K and forwards snapshots to the
// leaderboard chain, rate-limited by a throttle gate.
package shard

import (
	"tilerank/apps/chain/internal/chain"
	"tilerank/apps/chain/internal/codec"
	"tilerank/apps/chain/internal/ranking"
	"tilerank/apps/chain/internal/throttle"
	"tilerank/apps/chain/internal/timing"
	"tilerank/apps/chain/internal/tournament"
	"tilerank/apps/chain/internal/types"
)

type Shard struct {
	ID           chain.ID `json:"id"`
	TournamentID string   `json:"tournamentId"`
	Leaderboard  chain.ID `json:"leaderboard"`

	Ranking *ranking.Table `json:"ranking"`
	// Best is the highest accepted score per player seen by this shard, including
	// players that no longer fit in Ranking.
	Best map[string]uint64 `json:"best"`
	// Finals holds the boards whose final update has been received.
	Finals map[string]bool `json:"finals"`

	Gate             throttle.Gate `json:"gate"`
	RefreshRequested bool          `json:"refreshRequested"`

	Received uint64 `json:"received"`
	Accepted uint64 `json:"accepted"`
}

// New creates shard id of tournament d.
func New(id chain.ID, d *tournament.Descriptor) (*Shard, error) {
	if !d.HasShard(id) {
		return nil, types.ErrInvalidRequest.Wrapf("%s is not a shard of tournament %s", id, d.ID)
	}
	return &Shard{
		ID:           id,
		TournamentID: d.ID,
		Leaderboard:  d.Leaderboard,
		Ranking:      ranking.NewTable(d.Capacity),
		Best:         map[string]uint64{},
		Finals:       map[string]bool{},
		Gate:         throttle.NewGate(d.ShardPolicy),
	}, nil
}

// Players is the number of distinct players seen.
func (s *Shard) Players() int { return len(s.Best) }

// ReceiveScoreUpdate applies the monotonic-improvement rule: u is accepted only
// when its score is strictly greater than the player's recorded best. Anything
// else is dropped without error, so duplicates and reordered updates are no-ops.
// Updates scored or recorded outside w are dropped the same way.
func (s *Shard) ReceiveScoreUpdate(w timing.Window, u codec.ScoreUpdate, now uint64) (bool, error) {
	if u.TournamentID != s.TournamentID {
		return false, types.ErrInvalidRequest.Wrapf("update for tournament %s sent to %s", u.TournamentID, s.ID)
	}
	if u.Player == "" || u.BoardID == "" {
		return false, types.ErrInvalidRequest.Wrap("update without player or board")
	}
	s.Received++
	if !w.IsActive(u.ScoredAt) || !w.IsActive(u.RecordedAt) {
		return false, nil
	}
	accepted := false
	if best, ok := s.Best[u.Player]; !ok || u.Score > best {
		s.Best[u.Player] = u.Score
		s.Accepted++
		s.Ranking.Offer(ranking.Entry{
			Player:      u.Player,
			Score:       u.Score,
			BoardID:     u.BoardID,
			HighestTile: u.HighestTile,
			ScoredAt:    u.ScoredAt,
			RecordedAt:  u.RecordedAt,
		})
		s.Gate.Record(now)
		accepted = true
	}
	// The first final update of a board flushes whatever is still pending. A
	// redelivered final never triggers another emission.
	if u.Final && !s.Finals[u.BoardID] {
		if s.Finals == nil {
			s.Finals = map[string]bool{}
		}
		s.Finals[u.BoardID] = true
		if s.Gate.Pending > 0 {
			s.RefreshRequested = true
		}
	}
	return accepted, nil
}

// RequestRefresh asks for an emission as soon as the cooldown allows.
func (s *Shard) RequestRefresh(r codec.ShardRefresh) error {
	if r.TournamentID != s.TournamentID {
		return types.ErrInvalidRequest.Wrapf("refresh for tournament %s sent to %s", r.TournamentID, s.ID)
	}
	s.RefreshRequested = true
	return nil
}

// Due reports whether MaybeEmit would emit at now.
func (s *Shard) Due(now uint64) bool {
	if s.Gate.Phase == throttle.PhaseEmitting {
		return false
	}
	if s.Gate.Due(now) {
		return true
	}
	return s.RefreshRequested && s.Gate.CooldownRemaining(now) == 0
}

// MaybeEmit emits when the gate is due or a refresh is pending.
func (s *Shard) MaybeEmit(out chain.Sender, now uint64) (bool, error) {
	if !s.Due(now) {
		return false, nil
	}
	if err := s.EmitTopK(out, now); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot is the message EmitTopK would send next.
func (s *Shard) Snapshot(now uint64) codec.ShardTopK {
	return codec.ShardTopK{
		TournamentID: s.TournamentID,
		ShardID:      string(s.ID),
		Emission:     s.Gate.Emissions + 1,
		AsOf:         now,
		PlayerCount:  uint64(s.Players()),
		Entries:      s.Ranking.Top(0),
	}
}

// EmitTopK sends the full top-K to the leaderboard chain. It fails with
// ErrCooldownActive inside the cooldown.
func (s *Shard) EmitTopK(out chain.Sender, now uint64) error {
	if err := s.Gate.Begin(now); err != nil {
		return err
	}
	if _, err := out.Send(s.ID, s.Leaderboard, codec.KindShardTopK, s.Snapshot(now), now); err != nil {
		s.Gate.Abort()
		return err
	}
	s.Gate.Finish(now)
	s.RefreshRequested = false
	return nil
}
