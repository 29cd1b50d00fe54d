package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"tilerank/apps/chain/internal/chain"
	"tilerank/apps/chain/internal/codec"
	"tilerank/apps/chain/internal/leaderboard"
	"tilerank/apps/chain/internal/state"
	"tilerank/apps/chain/internal/types"
)

// endBlock runs the substrate after the block's txs: deliver pending messages,
// let shards and leaderboards act on their gates, close boards whose window has
// ended, then deliver what that produced.
func (a *TileRankApp) endBlock(now uint64) []abci.Event {
	var events []abci.Event
	events = append(events, a.drain(now)...)
	events = append(events, a.sweepBoards(now)...)
	events = append(events, a.tick(now)...)
	events = append(events, a.drain(now)...)
	return events
}

func (a *TileRankApp) drain(now uint64) []abci.Event {
	st := a.st
	if st.Mailbox.Pending() == 0 {
		return nil
	}
	var events []abci.Event
	delivered, anomalies := st.Mailbox.Drain(func(m chain.Message) error {
		ev, err := route(st, m, now)
		if ev != nil {
			events = append(events, *ev)
		}
		return err
	}, a.cfg.MaxDrainRounds, now)

	for _, an := range anomalies {
		a.logger.Warn("message dropped", "seq", an.Seq, "from", an.From, "to", an.To, "kind", an.Kind, "reason", an.Reason)
		events = append(events, okEvent(types.EventTypeMessageDropped, map[string]string{
			"seq":    fmt.Sprintf("%d", an.Seq),
			"from":   string(an.From),
			"to":     string(an.To),
			"kind":   an.Kind,
			"reason": an.Reason,
		}).Events[0])
	}
	st.RecordAnomalies(anomalies)
	if n := st.Mailbox.Pending(); n > 0 {
		a.logger.Debug("messages carried to next block", "pending", n)
	}
	a.logger.Debug("mailbox drained", "delivered", delivered, "dropped", len(anomalies))
	return events
}

// route delivers one message to the chain it is addressed to. A returned error
// drops the message and is recorded as an anomaly.
func route(st *state.State, m chain.Message, now uint64) (*abci.Event, error) {
	switch m.To.Role() {
	case "shard":
		sh := st.Shards[m.To]
		if sh == nil {
			return nil, types.ErrNotFound.Wrapf("shard chain %s", m.To)
		}
		d := st.Tournaments[sh.TournamentID]
		if d == nil {
			return nil, types.ErrNotFound.Wrapf("tournament %s", sh.TournamentID)
		}
		switch m.Kind {
		case codec.KindScoreUpdate:
			var u codec.ScoreUpdate
			if err := m.Decode(&u); err != nil {
				return nil, err
			}
			_, err := sh.ReceiveScoreUpdate(d.Window, u, now)
			return nil, err
		case codec.KindShardRefresh:
			var r codec.ShardRefresh
			if err := m.Decode(&r); err != nil {
				return nil, err
			}
			return nil, sh.RequestRefresh(r)
		}

	case "leaderboard":
		lb := leaderboardFor(st, m.To)
		if lb == nil {
			return nil, types.ErrNotFound.Wrapf("leaderboard chain %s", m.To)
		}
		switch m.Kind {
		case codec.KindShardTopK:
			var snap codec.ShardTopK
			if err := m.Decode(&snap); err != nil {
				return nil, err
			}
			_, err := lb.ReceiveShardTopK(m.From, snap, now)
			return nil, err
		case codec.KindBoardCreated:
			var bc codec.BoardCreated
			if err := m.Decode(&bc); err != nil {
				return nil, err
			}
			_, err := lb.RecordBoardCreated(bc)
			return nil, err
		}
	}
	return nil, types.ErrInvalidRequest.Wrapf("%s chain %s does not accept %s", m.To.Role(), m.To, m.Kind)
}

func leaderboardFor(st *state.State, id chain.ID) *leaderboard.Leaderboard {
	if lb := st.Leaderboards[id.Tournament()]; lb != nil && lb.Chain == id {
		return lb
	}
	return nil
}

// tick gives every shard and leaderboard the chance to emit at block time now.
func (a *TileRankApp) tick(now uint64) []abci.Event {
	st := a.st
	var events []abci.Event
	for _, tid := range st.TournamentIDs() {
		d := st.Tournaments[tid]
		for _, id := range d.Shards {
			sh := st.Shards[id]
			if sh == nil {
				continue
			}
			sent, err := sh.MaybeEmit(st.Mailbox, now)
			if err != nil {
				a.logger.Error("shard emission failed", "shard", id, "err", err)
				continue
			}
			if sent {
				events = append(events, okEvent(types.EventTypeShardEmitted, map[string]string{
					"shard":       string(id),
					"emission":    fmt.Sprintf("%d", sh.Gate.Emissions),
					"entries":     fmt.Sprintf("%d", sh.Ranking.Len()),
					"playerCount": fmt.Sprintf("%d", sh.Players()),
				}).Events[0])
			}
		}

		lb := st.Leaderboards[tid]
		if lb == nil {
			continue
		}
		pass, ran, err := lb.Tick(now)
		if err != nil {
			a.logger.Error("leaderboard pass failed", "tournament", tid, "err", err)
			continue
		}
		if ran {
			a.logger.Debug("leaderboard merged", "tournament", tid, "pass", pass.Pass, "changed", pass.Changed)
			events = append(events, mergedEvent(tid, pass, lb.Ranking.Len()))
		}
	}
	return events
}

func mergedEvent(tournamentID string, pass leaderboard.PassResult, size int) abci.Event {
	return okEvent(types.EventTypeLeaderboardMerged, map[string]string{
		"tournamentId": tournamentID,
		"pass":         fmt.Sprintf("%d", pass.Pass),
		"shards":       fmt.Sprintf("%d", pass.Shards),
		"changed":      fmt.Sprintf("%d", pass.Changed),
		"size":         fmt.Sprintf("%d", size),
	}).Events[0]
}

// sweepBoards terminates live boards whose tournament window has ended and sends
// their final score.
func (a *TileRankApp) sweepBoards(now uint64) []abci.Event {
	st := a.st
	var events []abci.Event
	for _, id := range st.BoardIDs() {
		b := st.Boards[id]
		if b.Terminal {
			continue
		}
		d := st.Tournaments[b.TournamentID]
		if d == nil || !b.Expire(d.Window, now) {
			continue
		}
		if _, err := reportBoard(st, b, now); err != nil {
			a.logger.Error("final report failed", "board", id, "err", err)
		}
		events = append(events, okEvent(types.EventTypeBoardExpired, map[string]string{
			"boardId": b.ID,
			"player":  b.Player,
			"score":   fmt.Sprintf("%d", b.Score),
		}).Events[0])
	}
	return events
}
