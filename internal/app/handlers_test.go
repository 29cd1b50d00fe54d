package app

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/stretchr/testify/require"

	"tilerank/apps/chain/internal/board"
	"tilerank/apps/chain/internal/chain"
	"tilerank/apps/chain/internal/codec"
	"tilerank/apps/chain/internal/game"
	"tilerank/apps/chain/internal/store"
	"tilerank/apps/chain/internal/types"
)

// changingMoves returns up to n moves that each change the board, stamped from ts.
func changingMoves(b *board.Board, n int, ts uint64) []game.Move {
	g := b.Grid
	var out []game.Move
	for len(out) < n && !game.IsTerminal(g) {
		for _, d := range game.Directions {
			next, o := game.Apply(g, d, game.SpawnSeed(b.ID, b.Player, ts))
			if o.Changed {
				g = next
				out = append(out, game.Move{Direction: d, Timestamp: ts})
				break
			}
		}
		ts++
	}
	return out
}

func TestNonce_ReplayRejected(t *testing.T) {
	a := newTestApp(t)
	registerTestAccount(t, a, 1_000, testAdmin)

	tx := txBytesSigned(t, codec.TypeCreateTournament, map[string]any{"host": testAdmin, "name": "Once", "shardCount": 1}, testAdmin)
	mustOk(t, block(t, a, 2_000, tx).TxResults[0])

	res := block(t, a, 3_000, tx)
	require.Equal(t, types.ErrReplayedNonce.ABCICode(), res.TxResults[0].Code)
	require.Contains(t, res.TxResults[0].Log, "replayed tx.nonce")
	require.Len(t, a.st.Tournaments, 1)

	var env codec.TxEnvelope
	require.NoError(t, json.Unmarshal(txBytesSigned(t, codec.TypeCreateTournament, map[string]any{"host": testAdmin, "name": "Bad", "shardCount": 1}, testAdmin), &env))
	env.Nonce = "not-a-number"
	_, priv := testEd25519Key(testAdmin)
	env.Sig = signEnvelope(priv, env)
	res = block(t, a, 4_000, mustMarshal(t, env))
	require.Equal(t, types.ErrInvalidRequest.ABCICode(), res.TxResults[0].Code)
	require.Contains(t, res.TxResults[0].Log, "invalid tx.nonce")
}

func TestCheckTx(t *testing.T) {
	a := newTestApp(t)

	res, err := a.CheckTx(context.Background(), &abci.CheckTxRequest{Tx: []byte("{")})
	require.NoError(t, err)
	require.NotZero(t, res.Code)

	unsigned := mustMarshal(t, codec.TxEnvelope{Type: codec.TypeRefresh, Value: []byte(`{}`), Nonce: "1"})
	res, err = a.CheckTx(context.Background(), &abci.CheckTxRequest{Tx: unsigned})
	require.NoError(t, err)
	require.Equal(t, types.ErrUnauthorized.ABCICode(), res.Code)
	require.Equal(t, types.Codespace, res.Codespace)

	res, err = a.CheckTx(context.Background(), &abci.CheckTxRequest{Tx: txBytesSigned(t, codec.TypeRefresh, map[string]any{"requester": "x", "tournamentId": "t1"}, "x")})
	require.NoError(t, err)
	require.Zero(t, res.Code)
}

func TestDeliverTx_UnknownTypeAndBadSignature(t *testing.T) {
	a := newTestApp(t)
	registerTestAccount(t, a, 1_000, "alice")

	res := block(t, a, 2_000, txBytesSigned(t, "board/teleport", map[string]any{}, "alice"))
	require.Equal(t, types.ErrInvalidRequest.ABCICode(), res.TxResults[0].Code)

	var env codec.TxEnvelope
	require.NoError(t, json.Unmarshal(txBytesSigned(t, codec.TypeRefresh, map[string]any{"requester": "alice", "tournamentId": "t1"}, "alice"), &env))
	env.Sig[0] ^= 0xff
	res = block(t, a, 3_000, mustMarshal(t, env))
	require.Equal(t, types.ErrUnauthorized.ABCICode(), res.TxResults[0].Code)
}

func TestRegisterAccount_Rules(t *testing.T) {
	a := newTestApp(t)
	registerTestAccount(t, a, 1_000, testAdmin)
	registerTestAccount(t, a, 1_000, "alice")
	require.True(t, a.st.Accounts[testAdmin].Admin)
	require.False(t, a.st.Accounts["alice"].Admin)
	require.Equal(t, chain.PlayerChain("alice"), a.st.Accounts["alice"].Chain)

	pub, _ := testEd25519Key("alice")
	res := block(t, a, 2_000, txBytesSigned(t, codec.TypeRegisterAccount, map[string]any{"account": "alice", "pubKey": []byte(pub)}, "alice"))
	require.Equal(t, types.ErrAlreadyExists.ABCICode(), res.TxResults[0].Code)

	pub, _ = testEd25519Key("bad/name")
	res = block(t, a, 3_000, txBytesSigned(t, codec.TypeRegisterAccount, map[string]any{"account": "bad/name", "pubKey": []byte(pub)}, "bad/name"))
	require.Equal(t, types.ErrInvalidRequest.ABCICode(), res.TxResults[0].Code)
}

func TestQuery_Paths(t *testing.T) {
	sc := setupScenario(t, 2)
	a := sc.a
	b := a.st.Boards[sc.boardID]
	moves := changingMoves(b, 3, 1001)
	require.Len(t, moves, 3)
	mustOk(t, block(t, a, 4_000, txBytesSigned(t, codec.TypeSubmitMoves, map[string]any{
		"player": "alice", "boardId": sc.boardID, "moves": moves,
	}, "alice")).TxResults[0])

	var ids []string
	require.Zero(t, queryJSON(t, a, "/tournaments", &ids).Code)
	require.Equal(t, []string{sc.tournamentID}, ids)

	var bv BoardView
	require.Zero(t, queryJSON(t, a, "/board/"+sc.boardID, &bv).Code)
	require.Equal(t, "alice", bv.Player)
	require.Equal(t, uint64(len(moves)), bv.MoveCount)
	require.Equal(t, a.st.Boards[sc.boardID].Grid, bv.Grid)

	var page MovesPage
	require.Zero(t, queryJSON(t, a, "/board/"+sc.boardID+"/moves?offset=1&limit=1", &page).Code)
	require.Equal(t, len(moves), page.Total)
	require.Len(t, page.Moves, 1)
	require.Equal(t, moves[1].Timestamp, page.Moves[0].Timestamp)

	require.Zero(t, queryJSON(t, a, "/board/"+sc.boardID+"/moves", &page).Code)
	require.Equal(t, defaultMovesLimit, page.Limit)
	require.Len(t, page.Moves, len(moves))

	require.Zero(t, queryJSON(t, a, fmt.Sprintf("/board/%s/moves?limit=%d", sc.boardID, 10_000), &page).Code)
	require.Equal(t, maxMovesLimit, page.Limit)

	res := queryJSON(t, a, "/board/"+sc.boardID+"/moves?offset=-1", nil)
	require.Equal(t, types.ErrInvalidRequest.ABCICode(), res.Code)

	var sv ShardView
	require.Zero(t, queryJSON(t, a, "/shard/"+string(b.Shard), &sv).Code)
	require.Equal(t, sc.tournamentID, sv.TournamentID)

	var anomalies []chain.Anomaly
	require.Zero(t, queryJSON(t, a, "/anomalies", &anomalies).Code)
	require.Empty(t, anomalies)

	for _, p := range []string{"/board/nope", "/player/nobody", "/leaderboard/t99", "/shard/leaderboard/t99/shard/0"} {
		require.Equal(t, types.ErrNotFound.ABCICode(), queryJSON(t, a, p, nil).Code, p)
	}
	require.Equal(t, types.ErrInvalidRequest.ABCICode(), queryJSON(t, a, "/nothing", nil).Code)
}

func TestRoute_UndeliverableMessageBecomesAnomaly(t *testing.T) {
	sc := setupScenario(t, 1)
	a := sc.a

	_, err := a.st.Mailbox.Send(chain.PlayerChain("alice"), chain.ShardChain("t99", 0), codec.KindScoreUpdate, codec.ScoreUpdate{
		TournamentID: "t99", Player: "alice", BoardID: sc.boardID, Score: 4,
	}, 3_500)
	require.NoError(t, err)
	shard := a.st.Tournaments[sc.tournamentID].Shards[0]
	_, err = a.st.Mailbox.Send(chain.PlayerChain("alice"), shard, codec.KindBoardCreated, codec.BoardCreated{TournamentID: sc.tournamentID}, 3_500)
	require.NoError(t, err)

	res := block(t, a, 4_000)
	dropped := 0
	for _, ev := range res.Events {
		if ev.Type == types.EventTypeMessageDropped {
			dropped++
		}
	}
	require.Equal(t, 2, dropped)

	var anomalies []chain.Anomaly
	require.Zero(t, queryJSON(t, a, "/anomalies", &anomalies).Code)
	require.Len(t, anomalies, 2)
	// Recipients drain in chain id order.
	require.Equal(t, codec.KindBoardCreated, anomalies[0].Kind)
	require.Equal(t, chain.ShardChain("t99", 0), anomalies[1].To)
	require.Zero(t, a.st.Mailbox.Pending())
}

func TestCommit_PersistsAndReloads(t *testing.T) {
	cfg := testConfig(t)
	db := store.NewMem()
	a, err := NewWithStore(cfg, log.NewTestLogger(t), db)
	require.NoError(t, err)
	registerTestAccount(t, a, 1_000, testAdmin)
	tid := createTestTournament(t, a, 2_000, map[string]any{"shardCount": 2})

	info, err := a.Info(context.Background(), &abci.InfoRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(2), info.LastBlockHeight)

	h, err := db.Height()
	require.NoError(t, err)
	require.Equal(t, int64(2), h)
	stored, err := db.AppHashAt(2)
	require.NoError(t, err)
	require.Equal(t, info.LastBlockAppHash, stored)

	b, err := NewWithStore(cfg, log.NewNopLogger(), db)
	require.NoError(t, err)
	info2, err := b.Info(context.Background(), &abci.InfoRequest{})
	require.NoError(t, err)
	require.Equal(t, info.LastBlockHeight, info2.LastBlockHeight)
	require.Equal(t, info.LastBlockAppHash, info2.LastBlockAppHash)
	require.Contains(t, b.st.Tournaments, tid)
	require.Len(t, b.st.Shards, 2)
}

func TestFinalizeBlock_Deterministic(t *testing.T) {
	a1, a2 := newTestApp(t), newTestApp(t)
	pub, _ := testEd25519Key(testAdmin)
	txs := [][]byte{
		txBytesSigned(t, codec.TypeRegisterAccount, map[string]any{"account": testAdmin, "pubKey": []byte(pub)}, testAdmin),
		txBytesSigned(t, codec.TypeCreateTournament, map[string]any{"host": testAdmin, "name": "Det", "shardCount": 3}, testAdmin),
	}
	r1 := block(t, a1, 1_000, txs...)
	r2 := block(t, a2, 1_000, txs...)
	require.NotEmpty(t, r1.AppHash)
	require.Equal(t, r1.AppHash, r2.AppHash)
}

func TestInitChain_GenesisAdmins(t *testing.T) {
	a := newTestApp(t)
	res, err := a.InitChain(context.Background(), &abci.InitChainRequest{AppStateBytes: []byte(`{"admins":["zoe","bob"]}`)})
	require.NoError(t, err)
	require.NotEmpty(t, res.AppHash)
	require.Equal(t, []string{"bob", "zoe"}, a.st.GenesisAdmins)

	registerTestAccount(t, a, 1_000, "bob")
	require.True(t, a.st.Accounts["bob"].Admin)
	createTestTournament(t, a, 2_000, map[string]any{"host": "bob", "shardCount": 1})

	_, err = a.InitChain(context.Background(), &abci.InitChainRequest{AppStateBytes: []byte(`{`)})
	require.Error(t, err)
}
