package app

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	errorsmod "cosmossdk.io/errors"
	abci "github.com/cometbft/cometbft/abci/types"

	"tilerank/apps/chain/internal/board"
	"tilerank/apps/chain/internal/chain"
	"tilerank/apps/chain/internal/codec"
	"tilerank/apps/chain/internal/state"
	"tilerank/apps/chain/internal/timing"
	"tilerank/apps/chain/internal/tournament"
	"tilerank/apps/chain/internal/types"
)

const maxAccountLen = 64

type txHandler func(st *state.State, env codec.TxEnvelope, now uint64) (*abci.ExecTxResult, error)

// deliverTx executes one tx against a staged copy of state. The copy replaces the
// live state when the handler succeeds, or when it fails but still returns a
// result: that is a partially applied move batch, which is kept.
func (a *TileRankApp) deliverTx(txBytes []byte, height int64, now uint64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return errResult(errorsmod.Wrap(types.ErrInvalidRequest, err.Error()))
	}

	var h txHandler
	switch env.Type {
	case codec.TypeRegisterAccount:
		h = a.registerAccount
	case codec.TypeToggleAdmin:
		h = a.toggleAdmin
	case codec.TypeCreateTournament:
		h = a.createTournament
	case codec.TypeEndTournament:
		h = a.endTournament
	case codec.TypeUpdateTournament:
		h = a.updateTournament
	case codec.TypeDeleteTournament:
		h = a.deleteTournament
	case codec.TypePinTournament:
		h = a.pinTournament
	case codec.TypeCreateBoard:
		h = a.createBoard
	case codec.TypeSubmitMoves:
		h = a.submitMoves
	case codec.TypeEndBoard:
		h = a.endBoard
	case codec.TypeRefresh:
		h = a.refreshLeaderboard
	default:
		return errResult(types.ErrInvalidRequest.Wrapf("unknown tx type: %s", env.Type))
	}

	staged, err := a.st.Clone()
	if err != nil {
		return errResult(err)
	}
	res, err := h(staged, env, now)
	switch {
	case err == nil:
		a.st = staged
		return res
	case res != nil:
		a.st = staged
		codespace, code, logMsg := abciInfo(err)
		res.Code, res.Codespace, res.Log, res.Info = code, codespace, logMsg, retryInfo(err)
		a.logger.Debug("tx partially applied", "type", env.Type, "height", height, "err", logMsg)
		return res
	default:
		a.logger.Debug("tx rejected", "type", env.Type, "height", height, "err", err)
		return errResult(err)
	}
}

func abciInfo(err error) (string, uint32, string) {
	return errorsmod.ABCIInfo(err, false)
}

// infoRetryable marks results a client may resubmit unchanged later.
const infoRetryable = "retryable"

func retryInfo(err error) string {
	if types.Retryable(err) {
		return infoRetryable
	}
	return ""
}

func errResult(err error) *abci.ExecTxResult {
	codespace, code, logMsg := abciInfo(err)
	return &abci.ExecTxResult{Code: code, Codespace: codespace, Log: logMsg, Info: retryInfo(err)}
}

func decodeValue(env codec.TxEnvelope, v any) error {
	if err := json.Unmarshal(env.Value, v); err != nil {
		return types.ErrInvalidRequest.Wrapf("bad %s value", env.Type)
	}
	return nil
}

func validAccountName(name string) error {
	if name == "" || len(name) > maxAccountLen {
		return types.ErrInvalidRequest.Wrapf("account name must be 1..%d bytes", maxAccountLen)
	}
	if strings.ContainsAny(name, "/. \t\n") {
		return types.ErrInvalidRequest.Wrapf("account name %q contains a reserved character", name)
	}
	return nil
}

// ---- Auth ----

func (a *TileRankApp) registerAccount(st *state.State, env codec.TxEnvelope, now uint64) (*abci.ExecTxResult, error) {
	var msg codec.AuthRegisterAccountTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	if err := validAccountName(msg.Account); err != nil {
		return nil, err
	}
	if err := requireRegisterAccountAuth(env, msg); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	if _, ok := st.Accounts[msg.Account]; ok {
		return nil, types.ErrAlreadyExists.Wrapf("account %q", msg.Account)
	}
	acct := &state.Account{
		PubKey:       append([]byte{}, msg.PubKey...),
		Chain:        chain.PlayerChain(msg.Account),
		Admin:        a.cfg.IsAdmin(msg.Account) || st.IsGenesisAdmin(msg.Account),
		RegisteredAt: now,
		Boards:       []string{},
		Best:         map[string]uint64{},
	}
	st.Accounts[msg.Account] = acct
	return okEvent(types.EventTypeAccountRegistered, map[string]string{
		"account": msg.Account,
		"chain":   string(acct.Chain),
		"admin":   fmt.Sprintf("%t", acct.Admin),
	}), nil
}

func (a *TileRankApp) toggleAdmin(st *state.State, env codec.TxEnvelope, _ uint64) (*abci.ExecTxResult, error) {
	var msg codec.AuthToggleAdminTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	if _, err := requireAdminAuth(st, env, env.Signer); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	if msg.Account == env.Signer {
		return nil, types.ErrInvalidRequest.Wrap("cannot toggle own admin role")
	}
	target := st.Accounts[msg.Account]
	if target == nil {
		return nil, types.ErrNotFound.Wrapf("account %q", msg.Account)
	}
	target.Admin = !target.Admin
	a.logger.Info("admin role toggled", "account", msg.Account, "admin", target.Admin, "by", env.Signer)
	return okEvent(types.EventTypeAdminToggled, map[string]string{
		"account": msg.Account,
		"admin":   fmt.Sprintf("%t", target.Admin),
		"by":      env.Signer,
	}), nil
}

// ---- Tournament ----

func (a *TileRankApp) createTournament(st *state.State, env codec.TxEnvelope, now uint64) (*abci.ExecTxResult, error) {
	var msg codec.TournamentCreateTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	if _, err := requireAdminAuth(st, env, msg.Host); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	d, err := tournament.Create(st.AllocTournamentID(), tournament.Params{
		Name:              msg.Name,
		Description:       msg.Description,
		Host:              msg.Host,
		Window:            timing.Window{Start: msg.StartTime, End: msg.EndTime},
		ShardCount:        msg.ShardCount,
		Capacity:          msg.Capacity,
		ShardPolicy:       msg.ShardPolicy,
		LeaderboardPolicy: msg.LeaderboardPolicy,
	}, a.cfg.Defaults(), now)
	if err != nil {
		return nil, err
	}
	if err := st.AddTournament(d); err != nil {
		return nil, errorsmod.Wrap(types.ErrAlreadyExists, err.Error())
	}
	a.logger.Info("tournament created", "tournament", d.ID, "shards", len(d.Shards), "host", d.Host)
	return okEvent(types.EventTypeTournamentCreated, map[string]string{
		"tournamentId": d.ID,
		"name":         d.Name,
		"host":         d.Host,
		"leaderboard":  string(d.Leaderboard),
		"shards":       fmt.Sprintf("%d", len(d.Shards)),
		"capacity":     fmt.Sprintf("%d", d.Capacity),
		"startTime":    fmt.Sprintf("%d", d.Window.Start),
		"endTime":      fmt.Sprintf("%d", d.Window.End),
	}), nil
}

func lookupTournament(st *state.State, id string) (*tournament.Descriptor, error) {
	d := st.Tournaments[id]
	if d == nil || st.Leaderboards[id] == nil {
		return nil, types.ErrNotFound.Wrapf("tournament %q", id)
	}
	return d, nil
}

// endTournament is the authenticated admin path that closes a window early. It
// never reopens a window and has no effect on the window check itself.
func (a *TileRankApp) endTournament(st *state.State, env codec.TxEnvelope, now uint64) (*abci.ExecTxResult, error) {
	var msg codec.TournamentEndTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	if _, err := requireAdminAuth(st, env, msg.Admin); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	d, err := lookupTournament(st, msg.TournamentID)
	if err != nil {
		return nil, err
	}
	if err := d.EndAt(now); err != nil {
		return nil, err
	}
	st.Leaderboards[d.ID].Sync(d)
	a.logger.Info("tournament ended", "tournament", d.ID, "end", d.Window.End, "by", msg.Admin)
	return okEvent(types.EventTypeTournamentEnded, map[string]string{
		"tournamentId": d.ID,
		"endTime":      fmt.Sprintf("%d", d.Window.End),
		"by":           msg.Admin,
	}), nil
}

// updateTournament edits the name, description or end of a tournament. Only the
// host or an admin may sign it.
func (a *TileRankApp) updateTournament(st *state.State, env codec.TxEnvelope, now uint64) (*abci.ExecTxResult, error) {
	var msg codec.TournamentUpdateTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	acct, err := requireAccountAuth(st, env, msg.Editor)
	if err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	d, err := lookupTournament(st, msg.TournamentID)
	if err != nil {
		return nil, err
	}
	if msg.Editor != d.Host && !acct.Admin {
		return nil, types.ErrUnauthorized.Wrapf("account %q is neither host nor admin of %s", msg.Editor, d.ID)
	}
	if err := d.Apply(tournament.Update{Name: msg.Name, Description: msg.Description, End: msg.EndTime}, now); err != nil {
		return nil, err
	}
	st.Leaderboards[d.ID].Sync(d)
	a.logger.Info("tournament updated", "tournament", d.ID, "end", d.Window.End, "by", msg.Editor)
	return okEvent(types.EventTypeTournamentUpdated, map[string]string{
		"tournamentId": d.ID,
		"name":         d.Name,
		"startTime":    fmt.Sprintf("%d", d.Window.Start),
		"endTime":      fmt.Sprintf("%d", d.Window.End),
		"by":           msg.Editor,
	}), nil
}

func (a *TileRankApp) deleteTournament(st *state.State, env codec.TxEnvelope, _ uint64) (*abci.ExecTxResult, error) {
	var msg codec.TournamentDeleteTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	if _, err := requireAdminAuth(st, env, msg.Admin); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	d, err := lookupTournament(st, msg.TournamentID)
	if err != nil {
		return nil, err
	}
	if err := st.RemoveTournament(d.ID); err != nil {
		return nil, errorsmod.Wrap(types.ErrInvalidRequest, err.Error())
	}
	a.logger.Info("tournament deleted", "tournament", d.ID, "by", msg.Admin)
	return okEvent(types.EventTypeTournamentDeleted, map[string]string{
		"tournamentId": d.ID,
		"by":           msg.Admin,
	}), nil
}

func (a *TileRankApp) pinTournament(st *state.State, env codec.TxEnvelope, _ uint64) (*abci.ExecTxResult, error) {
	var msg codec.TournamentPinTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	if _, err := requireAdminAuth(st, env, msg.Admin); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	if _, err := lookupTournament(st, msg.TournamentID); err != nil {
		return nil, err
	}
	lb := st.Leaderboards[msg.TournamentID]
	lb.Pinned = !lb.Pinned
	return okEvent(types.EventTypeTournamentPinned, map[string]string{
		"tournamentId": msg.TournamentID,
		"pinned":       fmt.Sprintf("%t", lb.Pinned),
	}), nil
}

// ---- Board (player chain) ----

func (a *TileRankApp) createBoard(st *state.State, env codec.TxEnvelope, now uint64) (*abci.ExecTxResult, error) {
	var msg codec.BoardCreateTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	acct, err := requireAccountAuth(st, env, msg.Player)
	if err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	d, err := lookupTournament(st, msg.TournamentID)
	if err != nil {
		return nil, err
	}
	b, err := board.New(board.Params{
		Player:       msg.Player,
		TournamentID: d.ID,
		Shard:        d.ShardFor(msg.Player),
		Window:       d.Window,
		Timestamp:    msg.Timestamp,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}
	if _, ok := st.Boards[b.ID]; ok {
		return nil, types.ErrAlreadyExists.Wrapf("board %s", b.ID)
	}
	st.Boards[b.ID] = b
	acct.Boards = append(acct.Boards, b.ID)
	if _, err := st.Mailbox.Send(b.Chain, d.Leaderboard, codec.KindBoardCreated, codec.BoardCreated{
		TournamentID: d.ID,
		Player:       b.Player,
		BoardID:      b.ID,
		CreatedAt:    b.CreatedAt,
	}, now); err != nil {
		return nil, err
	}
	return okEvent(types.EventTypeBoardCreated, map[string]string{
		"boardId":      b.ID,
		"player":       b.Player,
		"tournamentId": d.ID,
		"shard":        string(b.Shard),
		"createdAt":    fmt.Sprintf("%d", b.CreatedAt),
		"score":        fmt.Sprintf("%d", b.Score),
	}), nil
}

func lookupBoard(st *state.State, id string) (*board.Board, *tournament.Descriptor, error) {
	b := st.Boards[id]
	if b == nil {
		return nil, nil, types.ErrNotFound.Wrapf("board %q", id)
	}
	d, err := lookupTournament(st, b.TournamentID)
	if err != nil {
		return nil, nil, err
	}
	return b, d, nil
}

// reportBoard sends the board's pending score update and mirrors its score into
// the owner's per-tournament best.
func reportBoard(st *state.State, b *board.Board, now uint64) (bool, error) {
	if acct := st.Accounts[b.Player]; acct != nil {
		if acct.Best == nil {
			acct.Best = map[string]uint64{}
		}
		if b.Score > acct.Best[b.TournamentID] {
			acct.Best[b.TournamentID] = b.Score
		}
	}
	return b.Report(st.Mailbox, now)
}

func boardAttrs(b *board.Board) map[string]string {
	return map[string]string{
		"boardId":     b.ID,
		"player":      b.Player,
		"score":       fmt.Sprintf("%d", b.Score),
		"highestTile": fmt.Sprintf("%d", uint64(1)<<b.HighestTile),
		"moveCount":   fmt.Sprintf("%d", b.MoveCount),
		"terminal":    fmt.Sprintf("%t", b.Terminal),
	}
}

func finalizedEvent(b *board.Board) abci.Event {
	return okEvent(types.EventTypeBoardFinalized, map[string]string{
		"boardId": b.ID,
		"player":  b.Player,
		"score":   fmt.Sprintf("%d", b.Score),
		"reason":  b.EndReason,
		"endedAt": fmt.Sprintf("%d", b.EndedAt),
	}).Events[0]
}

func (a *TileRankApp) submitMoves(st *state.State, env codec.TxEnvelope, now uint64) (*abci.ExecTxResult, error) {
	var msg codec.BoardMovesTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	if _, err := requireAccountAuth(st, env, msg.Player); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	b, d, err := lookupBoard(st, msg.BoardID)
	if err != nil {
		return nil, err
	}

	out, applyErr := b.ApplyMoves(msg.Player, msg.Moves, d.Window, now)
	if out.Flush {
		if err := b.Flush(st.Mailbox, now); err != nil {
			return nil, err
		}
		attrs := boardAttrs(b)
		attrs["flush"] = "true"
		return okEvent(types.EventTypeMovesApplied, attrs), nil
	}
	if !out.Changed() {
		return nil, applyErr
	}

	wasFinalized := b.Finalized
	if _, err := reportBoard(st, b, now); err != nil {
		return nil, err
	}
	attrs := boardAttrs(b)
	attrs["applied"] = fmt.Sprintf("%d", out.Applied)
	attrs["skipped"] = fmt.Sprintf("%d", out.Skipped)
	attrs["ignored"] = fmt.Sprintf("%d", out.Ignored)
	attrs["haltedAt"] = fmt.Sprintf("%d", out.HaltedAt)
	res := okEvent(types.EventTypeMovesApplied, attrs)
	if b.Finalized && !wasFinalized {
		res.Events = append(res.Events, finalizedEvent(b))
	}
	return res, applyErr
}

func (a *TileRankApp) endBoard(st *state.State, env codec.TxEnvelope, now uint64) (*abci.ExecTxResult, error) {
	var msg codec.BoardEndTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	if _, err := requireAccountAuth(st, env, msg.Player); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	b, _, err := lookupBoard(st, msg.BoardID)
	if err != nil {
		return nil, err
	}
	at := msg.Timestamp
	if at == 0 {
		at = now
	}
	if err := b.End(msg.Player, at); err != nil {
		return nil, err
	}
	if _, err := reportBoard(st, b, now); err != nil {
		return nil, err
	}
	return &abci.ExecTxResult{Events: []abci.Event{finalizedEvent(b)}}, nil
}

// ---- Leaderboard ----

func (a *TileRankApp) refreshLeaderboard(st *state.State, env codec.TxEnvelope, now uint64) (*abci.ExecTxResult, error) {
	var msg codec.LeaderboardRefreshTx
	if err := decodeValue(env, &msg); err != nil {
		return nil, err
	}
	if _, err := requireAccountAuth(st, env, msg.Requester); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	if _, err := lookupTournament(st, msg.TournamentID); err != nil {
		return nil, err
	}
	lb := st.Leaderboards[msg.TournamentID]
	pass, err := lb.RequestRefresh(st.Mailbox, now)
	if err != nil {
		return nil, err
	}
	res := okEvent(types.EventTypeRefreshRequested, map[string]string{
		"tournamentId": msg.TournamentID,
		"requester":    msg.Requester,
	})
	res.Events = append(res.Events, mergedEvent(msg.TournamentID, pass, lb.Ranking.Len()))
	return res, nil
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{ev},
	}
}
