// Package leaderboard is the tournament root chain. It keeps the last snapshot
// received from every shard and merges them into the global top-K in passes that
// share one throttle gate between automatic and manual triggers.
package leaderboard

import (
	"tilerank/apps/chain/internal/chain"
	"tilerank/apps/chain/internal/codec"
	"tilerank/apps/chain/internal/ranking"
	"tilerank/apps/chain/internal/throttle"
	"tilerank/apps/chain/internal/timing"
	"tilerank/apps/chain/internal/tournament"
	"tilerank/apps/chain/internal/types"
)

// Report is the latest snapshot received from one shard.
type Report struct {
	Emission    uint64          `json:"emission"`
	AsOf        uint64          `json:"asOf"`
	PlayerCount uint64          `json:"playerCount"`
	Entries     []ranking.Entry `json:"entries"`
	ReceivedAt  uint64          `json:"receivedAt"`
	// MergedPass is the pass that last merged this report, 0 if none has.
	MergedPass uint64 `json:"mergedPass"`
}

type Leaderboard struct {
	TournamentID string        `json:"tournamentId"`
	Chain        chain.ID      `json:"chain"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Host         string        `json:"host"`
	Window       timing.Window `json:"window"`
	Pinned       bool          `json:"pinned"`
	Shards       []chain.ID    `json:"shards"`

	Reports map[chain.ID]*Report `json:"reports"`
	Ranking *ranking.Table       `json:"ranking"`
	Gate    throttle.Gate        `json:"gate"`

	LastAggregation uint64 `json:"lastAggregation"`
	Passes          uint64 `json:"passes"`
	// Late counts entries refused because they were scored or recorded after the
	// window ended.
	Late uint64 `json:"late"`

	TotalBoards  uint64            `json:"totalBoards"`
	TotalPlayers uint64            `json:"totalPlayers"`
	Boards       map[string]string `json:"boards"`
	Players      map[string]bool   `json:"players"`
}

func New(d *tournament.Descriptor) *Leaderboard {
	return &Leaderboard{
		TournamentID: d.ID,
		Chain:        d.Leaderboard,
		Name:         d.Name,
		Description:  d.Description,
		Host:         d.Host,
		Window:       d.Window,
		Shards:       append([]chain.ID{}, d.Shards...),
		Reports:      map[chain.ID]*Report{},
		Ranking:      ranking.NewTable(d.Capacity),
		Gate:         throttle.NewGate(d.LeaderboardPolicy),
		Boards:       map[string]string{},
		Players:      map[string]bool{},
	}
}

func (l *Leaderboard) hasShard(id chain.ID) bool {
	for _, s := range l.Shards {
		if s == id {
			return true
		}
	}
	return false
}

// ReceiveShardTopK stores a shard snapshot. Snapshots that are not newer than the
// stored one are dropped, so redelivery is a no-op.
func (l *Leaderboard) ReceiveShardTopK(from chain.ID, m codec.ShardTopK, now uint64) (bool, error) {
	if m.TournamentID != l.TournamentID {
		return false, types.ErrInvalidRequest.Wrapf("snapshot for tournament %s sent to %s", m.TournamentID, l.Chain)
	}
	if !l.hasShard(from) || chain.ID(m.ShardID) != from {
		return false, types.ErrUnauthorized.Wrapf("%s is not a shard of %s", from, l.Chain)
	}
	if prev, ok := l.Reports[from]; ok && m.Emission <= prev.Emission {
		return false, nil
	}
	l.Reports[from] = &Report{
		Emission:    m.Emission,
		AsOf:        m.AsOf,
		PlayerCount: m.PlayerCount,
		Entries:     m.Entries,
		ReceivedAt:  now,
	}
	l.Gate.Record(now)
	return true, nil
}

// MergeShardTopK folds entries into the global ranking with the monotonic rule.
// Once the window has ended, entries scored or recorded at or after the end are
// refused.
func (l *Leaderboard) MergeShardTopK(shardID chain.ID, entries []ranking.Entry) (int, error) {
	if !l.hasShard(shardID) {
		return 0, types.ErrNotFound.Wrapf("shard %s", shardID)
	}
	accepted := make([]ranking.Entry, 0, len(entries))
	for _, e := range entries {
		if l.Window.Ended(e.ScoredAt) || l.Window.Ended(e.RecordedAt) {
			l.Late++
			continue
		}
		accepted = append(accepted, e)
	}
	changed := l.Ranking.Merge(accepted)
	if r, ok := l.Reports[shardID]; ok {
		r.MergedPass = l.Passes + 1
	}
	return changed, nil
}

// PassResult summarises one aggregation pass.
type PassResult struct {
	Pass    uint64 `json:"pass"`
	Shards  int    `json:"shards"`
	Changed int    `json:"changed"`
}

func (l *Leaderboard) runPass(now uint64) (PassResult, error) {
	if err := l.Gate.Begin(now); err != nil {
		return PassResult{}, err
	}
	res := PassResult{Pass: l.Passes + 1}
	for _, id := range l.Shards {
		r, ok := l.Reports[id]
		if !ok {
			continue
		}
		n, err := l.MergeShardTopK(id, r.Entries)
		if err != nil {
			l.Gate.Abort()
			return PassResult{}, err
		}
		res.Shards++
		res.Changed += n
	}
	l.Passes++
	l.LastAggregation = now
	l.Gate.Finish(now)
	return res, nil
}

// Tick runs an automatic pass when the gate is due.
func (l *Leaderboard) Tick(now uint64) (PassResult, bool, error) {
	if !l.Gate.Due(now) {
		return PassResult{}, false, nil
	}
	res, err := l.runPass(now)
	if err != nil {
		return PassResult{}, false, err
	}
	return res, true, nil
}

// RequestRefresh runs a pass over the last-known shard snapshots and asks every
// shard for a fresh one. Inside the cooldown it fails with ErrCooldownActive and
// the remaining wait.
func (l *Leaderboard) RequestRefresh(out chain.Sender, now uint64) (PassResult, error) {
	if rem := l.Gate.CooldownRemaining(now); rem > 0 {
		return PassResult{}, types.ErrCooldownActive.Wrapf("retry in %d ms", rem)
	}
	res, err := l.runPass(now)
	if err != nil {
		return PassResult{}, err
	}
	req := codec.ShardRefresh{TournamentID: l.TournamentID, RequestedAt: now}
	for _, id := range l.Shards {
		if _, err := out.Send(l.Chain, id, codec.KindShardRefresh, req, now); err != nil {
			return res, err
		}
	}
	return res, nil
}

// RecordBoardCreated updates the board and player counters. Redelivery is a no-op.
func (l *Leaderboard) RecordBoardCreated(m codec.BoardCreated) (bool, error) {
	if m.TournamentID != l.TournamentID {
		return false, types.ErrInvalidRequest.Wrapf("board for tournament %s sent to %s", m.TournamentID, l.Chain)
	}
	if m.BoardID == "" || m.Player == "" {
		return false, types.ErrInvalidRequest.Wrap("board notice without id or player")
	}
	if _, ok := l.Boards[m.BoardID]; ok {
		return false, nil
	}
	l.Boards[m.BoardID] = m.Player
	l.TotalBoards++
	if !l.Players[m.Player] {
		l.Players[m.Player] = true
		l.TotalPlayers++
	}
	return true, nil
}

// Sync copies the editable descriptor fields after an update or an early end.
func (l *Leaderboard) Sync(d *tournament.Descriptor) {
	l.Name = d.Name
	l.Description = d.Description
	l.Window = d.Window
}
