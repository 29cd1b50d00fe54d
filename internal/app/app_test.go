package app

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/stretchr/testify/require"

	"tilerank/apps/chain/internal/codec"
	"tilerank/apps/chain/internal/config"
	"tilerank/apps/chain/internal/store"
)

const testAdmin = "admin"

var testNonce atomic.Uint64

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func testEd25519Key(name string) (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := sha256.Sum256([]byte("tilerank/test-key/" + name))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return priv.Public().(ed25519.PublicKey), priv
}

// txBytesSigned builds an envelope signed by signer with a fresh nonce.
func txBytesSigned(t *testing.T, typ string, value any, signer string) []byte {
	t.Helper()
	valueBytes := mustMarshal(t, value)
	nonce := strconv.FormatUint(testNonce.Add(1), 10)
	_, priv := testEd25519Key(signer)
	sig := ed25519.Sign(priv, txAuthSignBytesV0(typ, valueBytes, nonce, signer))
	return mustMarshal(t, codec.TxEnvelope{
		Type:   typ,
		Value:  valueBytes,
		Nonce:  nonce,
		Signer: signer,
		Sig:    sig,
	})
}

func signEnvelope(priv ed25519.PrivateKey, env codec.TxEnvelope) []byte {
	return ed25519.Sign(priv, txAuthSignBytesV0(env.Type, env.Value, env.Nonce, env.Signer))
}

func findEvent(events []abci.Event, typ string) *abci.Event {
	for i := range events {
		if events[i].Type == typ {
			return &events[i]
		}
	}
	return nil
}

func attr(ev *abci.Event, key string) string {
	if ev == nil {
		return ""
	}
	for _, a := range ev.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func parseU64(t *testing.T, s string) uint64 {
	t.Helper()
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		t.Fatalf("parse uint64 %q: %v", s, err)
	}
	return n
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Home = t.TempDir()
	cfg.DBBackend = "memdb"
	cfg.Admins = []string{testAdmin}
	return cfg
}

func newTestApp(t *testing.T) *TileRankApp {
	t.Helper()
	a, err := NewWithStore(testConfig(t), log.NewTestLogger(t), store.NewMem())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func mustOk(t *testing.T, res *abci.ExecTxResult) *abci.ExecTxResult {
	t.Helper()
	if res.Code != 0 {
		t.Fatalf("expected ok, got code=%d log=%q", res.Code, res.Log)
	}
	return res
}

// block runs one FinalizeBlock + Commit at block time ms.
func block(t *testing.T, a *TileRankApp, ms uint64, txs ...[]byte) *abci.FinalizeBlockResponse {
	t.Helper()
	res, err := a.FinalizeBlock(context.Background(), &abci.FinalizeBlockRequest{
		Txs:    txs,
		Height: a.st.Height + 1,
		Time:   time.UnixMilli(int64(ms)),
	})
	require.NoError(t, err)
	require.Len(t, res.TxResults, len(txs))
	_, err = a.Commit(context.Background(), &abci.CommitRequest{})
	require.NoError(t, err)
	return res
}

func registerTestAccount(t *testing.T, a *TileRankApp, ms uint64, name string) {
	t.Helper()
	pub, _ := testEd25519Key(name)
	res := block(t, a, ms, txBytesSigned(t, codec.TypeRegisterAccount, map[string]any{
		"account": name,
		"pubKey":  []byte(pub),
	}, name))
	mustOk(t, res.TxResults[0])
}

func createTestTournament(t *testing.T, a *TileRankApp, ms uint64, value map[string]any) string {
	t.Helper()
	if _, ok := value["host"]; !ok {
		value["host"] = testAdmin
	}
	if _, ok := value["name"]; !ok {
		value["name"] = "Open"
	}
	res := block(t, a, ms, txBytesSigned(t, codec.TypeCreateTournament, value, value["host"].(string)))
	ev := findEvent(mustOk(t, res.TxResults[0]).Events, "TournamentCreated")
	require.NotNil(t, ev)
	return attr(ev, "tournamentId")
}

func createTestBoard(t *testing.T, a *TileRankApp, ms uint64, player, tournamentID string, ts uint64) string {
	t.Helper()
	res := block(t, a, ms, txBytesSigned(t, codec.TypeCreateBoard, map[string]any{
		"player":       player,
		"tournamentId": tournamentID,
		"timestamp":    ts,
	}, player))
	ev := findEvent(mustOk(t, res.TxResults[0]).Events, "BoardCreated")
	require.NotNil(t, ev)
	return attr(ev, "boardId")
}

func queryJSON(t *testing.T, a *TileRankApp, path string, out any) *abci.QueryResponse {
	t.Helper()
	res, err := a.Query(context.Background(), &abci.QueryRequest{Path: path})
	require.NoError(t, err)
	if res.Code == 0 && out != nil {
		require.NoError(t, json.Unmarshal(res.Value, out))
	}
	return res
}
