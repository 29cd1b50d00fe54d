package codec

import "tilerank/apps/chain/internal/ranking"

// Cross-chain message kinds.
const (
	KindScoreUpdate  = "score_update"
	KindBoardCreated = "board_created"
	KindShardTopK    = "shard_topk"
	KindShardRefresh = "shard_refresh"
)

// ScoreUpdate carries a board's current score from a player chain to its shard.
type ScoreUpdate struct {
	TournamentID string `json:"tournamentId"`
	Player       string `json:"player"`
	BoardID      string `json:"boardId"`
	Score        uint64 `json:"score"`
	HighestTile  uint8  `json:"highestTile"`
	// ScoredAt is the timestamp of the move that produced Score.
	ScoredAt uint64 `json:"scoredAt"`
	// RecordedAt is the block time at which the player chain recorded Score.
	RecordedAt uint64 `json:"recordedAt"`
	Final      bool   `json:"final"`
}

// BoardCreated tells the leaderboard chain a new board exists (counters only).
type BoardCreated struct {
	TournamentID string `json:"tournamentId"`
	Player       string `json:"player"`
	BoardID      string `json:"boardId"`
	CreatedAt    uint64 `json:"createdAt"`
}

// ShardTopK is a shard's full top-K snapshot for its leaderboard.
type ShardTopK struct {
	TournamentID string          `json:"tournamentId"`
	ShardID      string          `json:"shardId"`
	Emission     uint64          `json:"emission"`
	AsOf         uint64          `json:"asOf"`
	PlayerCount  uint64          `json:"playerCount"`
	Entries      []ranking.Entry `json:"entries"`
}

// ShardRefresh asks a shard to emit as soon as its cooldown allows.
type ShardRefresh struct {
	TournamentID string `json:"tournamentId"`
	RequestedAt  uint64 `json:"requestedAt"`
}
