package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"

	"tilerank/apps/chain/internal/codec"
	"tilerank/apps/chain/internal/config"
	"tilerank/apps/chain/internal/state"
	"tilerank/apps/chain/internal/store"
)

const (
	AppVersion uint64 = 1
)

// Genesis is the app_state of the genesis document.
type Genesis struct {
	Admins []string `json:"admins"`
}

type TileRankApp struct {
	*abci.BaseApplication

	cfg    config.Config
	logger log.Logger
	store  *store.Store

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

// New opens the node database under <home>/data and loads the last committed state.
func New(cfg config.Config, logger log.Logger) (*TileRankApp, error) {
	db, err := store.Open(cfg.DBBackend, cfg.DataDir())
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, logger, db)
}

func NewWithStore(cfg config.Config, logger log.Logger, db *store.Store) (*TileRankApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st, err := db.Load()
	if err != nil {
		return nil, err
	}
	a := &TileRankApp{
		BaseApplication: abci.NewBaseApplication(),
		cfg:             cfg,
		logger:          logger.With("module", "app"),
		store:           db,
		st:              st,
		lastHash:        st.AppHash(),
	}
	a.logger.Info("state loaded", "height", st.Height, "tournaments", len(st.Tournaments), "boards", len(st.Boards))
	return a, nil
}

func (a *TileRankApp) Close() error { return a.store.Close() }

func (a *TileRankApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "tilerank (v1)",
		Version:          "v1",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *TileRankApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	env, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	// Signatures are verified at execution; only structure is checked here.
	if err := requireSignedEnvelope(env); err != nil {
		codespace, code, logMsg := abciInfo(err)
		return &abci.CheckTxResponse{Code: code, Codespace: codespace, Log: logMsg}, nil
	}
	return &abci.CheckTxResponse{Code: 0}, nil
}

func (a *TileRankApp) InitChain(_ context.Context, req *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(req.AppStateBytes) == 0 {
		return &abci.InitChainResponse{}, nil
	}
	var g Genesis
	if err := json.Unmarshal(req.AppStateBytes, &g); err != nil {
		return nil, fmt.Errorf("decode genesis app_state: %w", err)
	}
	admins := append([]string{}, g.Admins...)
	sort.Strings(admins)
	a.st.GenesisAdmins = admins
	a.lastHash = a.st.AppHash()
	a.logger.Info("genesis applied", "admins", len(admins))
	return &abci.InitChainResponse{AppHash: a.lastHash}, nil
}

func (a *TileRankApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := uint64(0)
	if ms := req.Time.UnixMilli(); ms > 0 {
		now = uint64(ms)
	}
	a.st.Height = req.Height
	if now > a.st.Now {
		a.st.Now = now
	}
	now = a.st.Now

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height, now)
		txResults = append(txResults, res)
	}

	events := a.endBlock(now)
	a.lastHash = a.st.AppHash()

	return &abci.FinalizeBlockResponse{
		Events:    events,
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *TileRankApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Save(a.st); err != nil {
		// CometBFT expects Commit to not crash; return error so node halts loudly.
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}
