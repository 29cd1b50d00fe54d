// Package store persists the replicated state in a cosmos-db key-value store.
package store

import (
	"encoding/binary"
	"fmt"

	dbm "github.com/cosmos/cosmos-db"

	"tilerank/apps/chain/internal/state"
)

var (
	keyState   = []byte("state")
	keyHeight  = []byte("height")
	prefixHash = []byte("apphash/")
)

type Store struct {
	db dbm.DB
}

// Open opens (or creates) the node database under dir.
func Open(backend, dir string) (*Store, error) {
	db, err := dbm.NewDB("tilerank", dbm.BackendType(backend), dir)
	if err != nil {
		return nil, fmt.Errorf("open %s db in %s: %w", backend, dir, err)
	}
	return &Store{db: db}, nil
}

// NewMem returns a store backed by memdb.
func NewMem() *Store {
	return &Store{db: dbm.NewMemDB()}
}

func (s *Store) Close() error { return s.db.Close() }

// Load returns the last committed state, or a fresh state on an empty store.
func (s *Store) Load() (*state.State, error) {
	b, err := s.db.Get(keyState)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	return state.Decode(b)
}

// Save commits st, its height and its app hash in one synced batch.
func (s *Store) Save(st *state.State) error {
	b, err := st.Encode()
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(keyState, b); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := batch.Set(keyHeight, encodeHeight(st.Height)); err != nil {
		return fmt.Errorf("write height: %w", err)
	}
	if err := batch.Set(hashKey(st.Height), st.AppHash()); err != nil {
		return fmt.Errorf("write app hash: %w", err)
	}
	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// Height is the last committed height, 0 on an empty store.
func (s *Store) Height() (int64, error) {
	b, err := s.db.Get(keyHeight)
	if err != nil {
		return 0, fmt.Errorf("read height: %w", err)
	}
	if len(b) != 8 {
		return 0, nil
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// AppHashAt returns the app hash committed at height, nil if there is none.
func (s *Store) AppHashAt(height int64) ([]byte, error) {
	b, err := s.db.Get(hashKey(height))
	if err != nil {
		return nil, fmt.Errorf("read app hash: %w", err)
	}
	return b, nil
}

func encodeHeight(h int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(h))
	return b[:]
}

func hashKey(h int64) []byte {
	return append(append([]byte{}, prefixHash...), encodeHeight(h)...)
}
