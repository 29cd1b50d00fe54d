package codec

import (
	"encoding/json"
	"fmt"

	"tilerank/apps/chain/internal/game"
	"tilerank/apps/chain/internal/throttle"
)

// TxEnvelope is the transaction container.
//
// CometBFT transactions are opaque bytes; txs are JSON-encoded and routed by Type.
type TxEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// Tx auth:
	// - Nonce: decimal u64, must strictly increase per signer (replay protection).
	// - Signer: account name of the signer.
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// Tx types.
const (
	TypeRegisterAccount  = "auth/register_account"
	TypeToggleAdmin      = "auth/toggle_admin"
	TypeCreateTournament = "tournament/create"
	TypeEndTournament    = "tournament/end"
	TypeUpdateTournament = "tournament/update"
	TypeDeleteTournament = "tournament/delete"
	TypePinTournament    = "tournament/pin"
	TypeCreateBoard      = "board/create"
	TypeSubmitMoves      = "board/moves"
	TypeEndBoard         = "board/end"
	TypeRefresh          = "leaderboard/refresh"
)

// ---- Auth ----

type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
}

type AuthToggleAdminTx struct {
	Account string `json:"account"`
}

// ---- Tournament ----

type TournamentCreateTx struct {
	Host        string `json:"host"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	StartTime   uint64 `json:"startTime"`
	EndTime     uint64 `json:"endTime"`
	ShardCount  int    `json:"shardCount"`
	Capacity    int    `json:"capacity,omitempty"`

	// Optional overrides; zero fields fall back to the node defaults.
	ShardPolicy       throttle.Policy `json:"shardPolicy,omitempty"`
	LeaderboardPolicy throttle.Policy `json:"leaderboardPolicy,omitempty"`
}

type TournamentEndTx struct {
	Admin        string `json:"admin"`
	TournamentID string `json:"tournamentId"`
}

// TournamentUpdateTx is signed by the host or an admin. Nil fields and a zero
// EndTime leave the tournament unchanged.
type TournamentUpdateTx struct {
	Editor       string  `json:"editor"`
	TournamentID string  `json:"tournamentId"`
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	EndTime      uint64  `json:"endTime,omitempty"`
}

type TournamentDeleteTx struct {
	Admin        string `json:"admin"`
	TournamentID string `json:"tournamentId"`
}

type TournamentPinTx struct {
	Admin        string `json:"admin"`
	TournamentID string `json:"tournamentId"`
}

// ---- Board ----

type BoardCreateTx struct {
	Player       string `json:"player"`
	TournamentID string `json:"tournamentId"`
	Timestamp    uint64 `json:"timestamp"`
}

type BoardMovesTx struct {
	Player  string      `json:"player"`
	BoardID string      `json:"boardId"`
	Moves   []game.Move `json:"moves"`
}

type BoardEndTx struct {
	Player    string `json:"player"`
	BoardID   string `json:"boardId"`
	Timestamp uint64 `json:"timestamp"`
}

// ---- Leaderboard ----

type LeaderboardRefreshTx struct {
	Requester    string `json:"requester"`
	TournamentID string `json:"tournamentId"`
}
