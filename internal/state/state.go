package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"tilerank/apps/chain/internal/board"
	"tilerank/apps/chain/internal/chain"
	"tilerank/apps/chain/internal/leaderboard"
	"tilerank/apps/chain/internal/shard"
	"tilerank/apps/chain/internal/tournament"
)

// MaxAnomalies bounds the dropped-message log kept in state.
const MaxAnomalies = 100

// Account is a registered player: credential, player chain and per-tournament
// best score.
type Account struct {
	PubKey       []byte            `json:"pubKey"` // ed25519 (32 bytes)
	Chain        chain.ID          `json:"chain"`
	Admin        bool              `json:"admin,omitempty"`
	RegisteredAt uint64            `json:"registeredAt"`
	Boards       []string          `json:"boards"`
	Best         map[string]uint64 `json:"best"` // tournament id -> best board score
}

type State struct {
	Height int64 `json:"height"`
	// Now is the block time in ms of the block being executed.
	Now uint64 `json:"now"`

	NextTournamentID uint64              `json:"nextTournamentId"`
	Accounts         map[string]*Account `json:"accounts"`
	NonceMax         map[string]uint64   `json:"nonceMax,omitempty"` // signer -> last accepted tx.nonce (u64), for replay protection
	// GenesisAdmins are granted the admin role when they register.
	GenesisAdmins []string `json:"genesisAdmins,omitempty"`

	Tournaments  map[string]*tournament.Descriptor   `json:"tournaments"`
	Leaderboards map[string]*leaderboard.Leaderboard `json:"leaderboards"`
	Shards       map[chain.ID]*shard.Shard           `json:"shards"`
	Boards       map[string]*board.Board             `json:"boards"`

	Mailbox   *chain.Mailbox  `json:"mailbox"`
	Anomalies []chain.Anomaly `json:"anomalies,omitempty"`
}

func NewState() *State {
	s := &State{}
	s.normalize()
	return s
}

func (s *State) normalize() {
	if s.NextTournamentID == 0 {
		s.NextTournamentID = 1
	}
	if s.Accounts == nil {
		s.Accounts = map[string]*Account{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if s.Tournaments == nil {
		s.Tournaments = map[string]*tournament.Descriptor{}
	}
	if s.Leaderboards == nil {
		s.Leaderboards = map[string]*leaderboard.Leaderboard{}
	}
	if s.Shards == nil {
		s.Shards = map[chain.ID]*shard.Shard{}
	}
	if s.Boards == nil {
		s.Boards = map[string]*board.Board{}
	}
	if s.Mailbox == nil {
		s.Mailbox = chain.NewMailbox()
	}
	if s.Mailbox.Inboxes == nil {
		s.Mailbox.Inboxes = map[chain.ID][]chain.Message{}
	}
}

// Decode parses a state blob written by Encode. An empty blob is a fresh state.
func Decode(b []byte) (*State, error) {
	if len(b) == 0 {
		return NewState(), nil
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (s *State) Encode() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return b, nil
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.normalize()
	return &out, nil
}

func (s *State) AppHash() []byte {
	// Top-level maps are flattened into id-sorted slices; nested maps rely on
	// encoding/json writing map keys in sorted order.
	type accountKV struct {
		Name    string   `json:"name"`
		Account *Account `json:"account"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}
	type tournamentKV struct {
		ID          string                   `json:"id"`
		Descriptor  *tournament.Descriptor   `json:"descriptor"`
		Leaderboard *leaderboard.Leaderboard `json:"leaderboard"`
	}
	type shardKV struct {
		ID    chain.ID     `json:"id"`
		Shard *shard.Shard `json:"shard"`
	}
	type boardKV struct {
		ID    string       `json:"id"`
		Board *board.Board `json:"board"`
	}

	accounts := make([]accountKV, 0, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts = append(accounts, accountKV{Name: k, Account: v})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	tournaments := make([]tournamentKV, 0, len(s.Tournaments))
	for _, id := range s.TournamentIDs() {
		tournaments = append(tournaments, tournamentKV{ID: id, Descriptor: s.Tournaments[id], Leaderboard: s.Leaderboards[id]})
	}

	shards := make([]shardKV, 0, len(s.Shards))
	for _, id := range s.ShardIDs() {
		shards = append(shards, shardKV{ID: id, Shard: s.Shards[id]})
	}

	boards := make([]boardKV, 0, len(s.Boards))
	for _, id := range s.BoardIDs() {
		boards = append(boards, boardKV{ID: id, Board: s.Boards[id]})
	}

	normalized := struct {
		Height           int64           `json:"height"`
		Now              uint64          `json:"now"`
		NextTournamentID uint64          `json:"nextTournamentId"`
		Accounts         []accountKV     `json:"accounts"`
		NonceMax         []nonceKV       `json:"nonceMax,omitempty"`
		GenesisAdmins    []string        `json:"genesisAdmins,omitempty"`
		Tournaments      []tournamentKV  `json:"tournaments"`
		Shards           []shardKV       `json:"shards"`
		Boards           []boardKV       `json:"boards"`
		Mailbox          *chain.Mailbox  `json:"mailbox"`
		Anomalies        []chain.Anomaly `json:"anomalies,omitempty"`
	}{
		Height:           s.Height,
		Now:              s.Now,
		NextTournamentID: s.NextTournamentID,
		Accounts:         accounts,
		NonceMax:         nonces,
		GenesisAdmins:    s.GenesisAdmins,
		Tournaments:      tournaments,
		Shards:           shards,
		Boards:           boards,
		Mailbox:          s.Mailbox,
		Anomalies:        s.Anomalies,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Directory ----

func (s *State) TournamentIDs() []string {
	ids := make([]string, 0, len(s.Tournaments))
	for id := range s.Tournaments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *State) ShardIDs() []chain.ID {
	ids := make([]chain.ID, 0, len(s.Shards))
	for id := range s.Shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *State) BoardIDs() []string {
	ids := make([]string, 0, len(s.Boards))
	for id := range s.Boards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllocTournamentID returns the next tournament id.
func (s *State) AllocTournamentID() string {
	id := fmt.Sprintf("t%d", s.NextTournamentID)
	s.NextTournamentID++
	return id
}

// AddTournament registers d together with its leaderboard chain and shard chains.
func (s *State) AddTournament(d *tournament.Descriptor) error {
	if _, ok := s.Tournaments[d.ID]; ok {
		return fmt.Errorf("tournament %s already exists", d.ID)
	}
	shards := make([]*shard.Shard, 0, len(d.Shards))
	for _, id := range d.Shards {
		sh, err := shard.New(id, d)
		if err != nil {
			return err
		}
		shards = append(shards, sh)
	}
	s.Tournaments[d.ID] = d
	s.Leaderboards[d.ID] = leaderboard.New(d)
	for _, sh := range shards {
		s.Shards[sh.ID] = sh
	}
	return nil
}

// RemoveTournament drops a tournament together with its chains, its boards and
// any messages still queued for its leaderboard or shards. It refuses while a
// board of the tournament is still live.
func (s *State) RemoveTournament(id string) error {
	d := s.Tournaments[id]
	if d == nil {
		return fmt.Errorf("tournament %s not found", id)
	}
	var boards []string
	for _, bid := range s.BoardIDs() {
		b := s.Boards[bid]
		if b.TournamentID != id {
			continue
		}
		if !b.Terminal {
			return fmt.Errorf("board %s of tournament %s is still live", bid, id)
		}
		boards = append(boards, bid)
	}
	for _, bid := range boards {
		b := s.Boards[bid]
		if acct := s.Accounts[b.Player]; acct != nil {
			acct.Boards = slices.DeleteFunc(acct.Boards, func(x string) bool { return x == bid })
			delete(acct.Best, id)
		}
		delete(s.Boards, bid)
	}
	for _, sid := range d.Shards {
		delete(s.Shards, sid)
		delete(s.Mailbox.Inboxes, sid)
	}
	delete(s.Mailbox.Inboxes, d.Leaderboard)
	delete(s.Leaderboards, id)
	delete(s.Tournaments, id)
	return nil
}

func (s *State) IsGenesisAdmin(name string) bool {
	for _, a := range s.GenesisAdmins {
		if a == name {
			return true
		}
	}
	return false
}

// RecordAnomalies appends to the anomaly log, keeping the newest MaxAnomalies.
func (s *State) RecordAnomalies(as []chain.Anomaly) {
	s.Anomalies = append(s.Anomalies, as...)
	if n := len(s.Anomalies); n > MaxAnomalies {
		s.Anomalies = append([]chain.Anomaly{}, s.Anomalies[n-MaxAnomalies:]...)
	}
}
