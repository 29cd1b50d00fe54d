package app

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	abci "github.com/cometbft/cometbft/abci/types"

	"tilerank/apps/chain/internal/board"
	"tilerank/apps/chain/internal/chain"
	"tilerank/apps/chain/internal/game"
	"tilerank/apps/chain/internal/ranking"
	"tilerank/apps/chain/internal/throttle"
	"tilerank/apps/chain/internal/timing"
	"tilerank/apps/chain/internal/types"
)

const (
	defaultMovesLimit = 50
	maxMovesLimit     = 500
)

type BoardView struct {
	ID           string        `json:"id"`
	Player       string        `json:"player"`
	Chain        chain.ID      `json:"chain"`
	TournamentID string        `json:"tournamentId"`
	Shard        chain.ID      `json:"shard,omitempty"`
	Window       timing.Window `json:"window"`
	Grid         game.Grid     `json:"grid"`
	Score        uint64        `json:"score"`
	HighestTile  uint64        `json:"highestTile"`
	CreatedAt    uint64        `json:"createdAt"`
	LastMoveAt   uint64        `json:"lastMoveAt"`
	MoveCount    uint64        `json:"moveCount"`
	Terminal     bool          `json:"terminal"`
	EndReason    string        `json:"endReason,omitempty"`
	Finalized    bool          `json:"finalized"`
}

type MovesPage struct {
	BoardID string             `json:"boardId"`
	Offset  int                `json:"offset"`
	Limit   int                `json:"limit"`
	Total   int                `json:"total"`
	Moves   []board.MoveRecord `json:"moves"`
}

type LeaderboardView struct {
	TournamentID    string          `json:"tournamentId"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Host            string          `json:"host"`
	Window          timing.Window   `json:"window"`
	Active          bool            `json:"active"`
	Pinned          bool            `json:"pinned"`
	Shards          []chain.ID      `json:"shards"`
	TotalBoards     uint64          `json:"totalBoards"`
	TotalPlayers    uint64          `json:"totalPlayers"`
	LastAggregation uint64          `json:"lastAggregation"`
	Passes          uint64          `json:"passes"`
	Gate            throttle.Gate   `json:"gate"`
	Entries         []ranking.Entry `json:"entries"`
}

type ShardView struct {
	ID               chain.ID        `json:"id"`
	TournamentID     string          `json:"tournamentId"`
	PlayerCount      int             `json:"playerCount"`
	Received         uint64          `json:"received"`
	Accepted         uint64          `json:"accepted"`
	RefreshRequested bool            `json:"refreshRequested"`
	Gate             throttle.Gate   `json:"gate"`
	Entries          []ranking.Entry `json:"entries"`
}

type PlayerView struct {
	Name   string            `json:"name"`
	Chain  chain.ID          `json:"chain"`
	Admin  bool              `json:"admin"`
	Boards []string          `json:"boards"`
	Best   map[string]uint64 `json:"best"`
	// Ranks is the 1-based global position per tournament the player places in.
	Ranks map[string]int `json:"ranks"`
}

func (a *TileRankApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, err := a.query(strings.TrimSpace(req.Path))
	if err != nil {
		codespace, code, logMsg := abciInfo(err)
		return &abci.QueryResponse{Code: code, Codespace: codespace, Log: logMsg, Height: a.st.Height}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return &abci.QueryResponse{Code: 1, Log: err.Error(), Height: a.st.Height}, nil
	}
	return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
}

// query resolves:
//   - /tournaments
//   - /leaderboard/<tournamentId>
//   - /shard/<shardChainId>
//   - /board/<id>
//   - /board/<id>/moves?offset=&limit=
//   - /player/<name>
//   - /anomalies
func (a *TileRankApp) query(raw string) (any, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, types.ErrInvalidRequest.Wrapf("bad query path %q", raw)
	}
	path := u.Path
	st := a.st

	switch {
	case path == "/tournaments":
		return st.TournamentIDs(), nil

	case path == "/anomalies":
		if st.Anomalies == nil {
			return []chain.Anomaly{}, nil
		}
		return st.Anomalies, nil

	case strings.HasPrefix(path, "/leaderboard/"):
		id := strings.TrimPrefix(path, "/leaderboard/")
		d, err := lookupTournament(st, id)
		if err != nil {
			return nil, err
		}
		lb := st.Leaderboards[id]
		return LeaderboardView{
			TournamentID:    d.ID,
			Name:            lb.Name,
			Description:     lb.Description,
			Host:            lb.Host,
			Window:          lb.Window,
			Active:          d.IsActive(st.Now),
			Pinned:          lb.Pinned,
			Shards:          lb.Shards,
			TotalBoards:     lb.TotalBoards,
			TotalPlayers:    lb.TotalPlayers,
			LastAggregation: lb.LastAggregation,
			Passes:          lb.Passes,
			Gate:            lb.Gate,
			Entries:         lb.Ranking.Top(0),
		}, nil

	case strings.HasPrefix(path, "/shard/"):
		id := chain.ID(strings.TrimPrefix(path, "/shard/"))
		sh := st.Shards[id]
		if sh == nil {
			return nil, types.ErrNotFound.Wrapf("shard %q", id)
		}
		return ShardView{
			ID:               sh.ID,
			TournamentID:     sh.TournamentID,
			PlayerCount:      sh.Players(),
			Received:         sh.Received,
			Accepted:         sh.Accepted,
			RefreshRequested: sh.RefreshRequested,
			Gate:             sh.Gate,
			Entries:          sh.Ranking.Top(0),
		}, nil

	case strings.HasPrefix(path, "/board/") && strings.HasSuffix(path, "/moves"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/board/"), "/moves")
		b := st.Boards[id]
		if b == nil {
			return nil, types.ErrNotFound.Wrapf("board %q", id)
		}
		offset, limit, err := pageParams(u.Query())
		if err != nil {
			return nil, err
		}
		moves, total := b.Moves(offset, limit)
		return MovesPage{BoardID: id, Offset: offset, Limit: limit, Total: total, Moves: moves}, nil

	case strings.HasPrefix(path, "/board/"):
		id := strings.TrimPrefix(path, "/board/")
		b := st.Boards[id]
		if b == nil {
			return nil, types.ErrNotFound.Wrapf("board %q", id)
		}
		return boardView(b), nil

	case strings.HasPrefix(path, "/player/"):
		name := strings.TrimPrefix(path, "/player/")
		acct := st.Accounts[name]
		if acct == nil {
			return nil, types.ErrNotFound.Wrapf("player %q", name)
		}
		ranks := map[string]int{}
		for _, id := range st.TournamentIDs() {
			lb := st.Leaderboards[id]
			if lb == nil {
				continue
			}
			if r := lb.Ranking.Rank(name); r > 0 {
				ranks[id] = r
			}
		}
		return PlayerView{Name: name, Chain: acct.Chain, Admin: acct.Admin, Boards: acct.Boards, Best: acct.Best, Ranks: ranks}, nil

	default:
		return nil, types.ErrInvalidRequest.Wrapf("unknown query path %q", path)
	}
}

func pageParams(q url.Values) (offset, limit int, err error) {
	limit = defaultMovesLimit
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, types.ErrInvalidRequest.Wrapf("bad offset %q", s)
		}
	}
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 {
			return 0, 0, types.ErrInvalidRequest.Wrapf("bad limit %q", s)
		}
	}
	if limit > maxMovesLimit {
		limit = maxMovesLimit
	}
	return offset, limit, nil
}

func boardView(b *board.Board) BoardView {
	return BoardView{
		ID:           b.ID,
		Player:       b.Player,
		Chain:        b.Chain,
		TournamentID: b.TournamentID,
		Shard:        b.Shard,
		Window:       b.Window,
		Grid:         b.Grid,
		Score:        b.Score,
		HighestTile:  uint64(1) << b.HighestTile,
		CreatedAt:    b.CreatedAt,
		LastMoveAt:   b.LastMoveAt,
		MoveCount:    b.MoveCount,
		Terminal:     b.Terminal,
		EndReason:    b.EndReason,
		Finalized:    b.Finalized,
	}
}
