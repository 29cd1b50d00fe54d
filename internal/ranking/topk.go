// Package ranking implements the bounded top-K table used by shards and
// leaderboards.
//
// Offer applies the monotonic-improvement rule: a player's entry only changes when
// the offered score is strictly greater. That makes repeated or reordered offers of
// the same data converge to the same table.
package ranking

import "sort"

// DefaultCapacity is used when a table is created with a non-positive capacity.
const DefaultCapacity = 100

type Entry struct {
	Player      string `json:"player"`
	Score       uint64 `json:"score"`
	BoardID     string `json:"boardId"`
	HighestTile uint8  `json:"highestTile,omitempty"`
	ScoredAt    uint64 `json:"scoredAt,omitempty"`
	RecordedAt  uint64 `json:"recordedAt,omitempty"`
	// Seq orders entries with equal scores: lower was seen first.
	Seq uint64 `json:"seq"`
}

// Table keeps at most Capacity entries, one per player, sorted by score descending
// then Seq ascending.
type Table struct {
	Capacity int     `json:"capacity"`
	Entries  []Entry `json:"entries"`
	NextSeq  uint64  `json:"nextSeq"`
}

func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{Capacity: capacity, Entries: []Entry{}}
}

func (t *Table) Len() int { return len(t.Entries) }

func (t *Table) index(player string) int {
	for i := range t.Entries {
		if t.Entries[i].Player == player {
			return i
		}
	}
	return -1
}

func (t *Table) Get(player string) (Entry, bool) {
	if i := t.index(player); i >= 0 {
		return t.Entries[i], true
	}
	return Entry{}, false
}

// Rank is the 1-based position of player, or 0 when absent.
func (t *Table) Rank(player string) int {
	return t.index(player) + 1
}

// Full reports whether an insert would need an eviction.
func (t *Table) Full() bool {
	return len(t.Entries) >= t.capacity()
}

// Min returns the lowest retained entry.
func (t *Table) Min() (Entry, bool) {
	if len(t.Entries) == 0 {
		return Entry{}, false
	}
	return t.Entries[len(t.Entries)-1], true
}

func (t *Table) capacity() int {
	if t.Capacity <= 0 {
		return DefaultCapacity
	}
	return t.Capacity
}

// Offer merges e into the table and reports whether the table changed.
//
//   - a known player is updated only when e.Score is strictly greater;
//   - a new player is inserted while there is room;
//   - at capacity the lowest entry is evicted only by a strictly greater score, so
//     on ties the entry seen first stays.
func (t *Table) Offer(e Entry) bool {
	if e.Player == "" {
		return false
	}
	if i := t.index(e.Player); i >= 0 {
		if e.Score <= t.Entries[i].Score {
			return false
		}
		e.Seq = t.nextSeq()
		t.Entries[i] = e
		t.sort()
		return true
	}
	if t.Full() {
		low, _ := t.Min()
		if e.Score <= low.Score {
			return false
		}
		t.Entries = t.Entries[:len(t.Entries)-1]
	}
	e.Seq = t.nextSeq()
	t.Entries = append(t.Entries, e)
	t.sort()
	t.trim()
	return true
}

// Merge offers every entry and reports how many changed the table.
func (t *Table) Merge(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if t.Offer(e) {
			n++
		}
	}
	return n
}

// Top returns a copy of the first n entries (all when n <= 0).
func (t *Table) Top(n int) []Entry {
	if n <= 0 || n > len(t.Entries) {
		n = len(t.Entries)
	}
	out := make([]Entry, n)
	copy(out, t.Entries[:n])
	return out
}

func (t *Table) Clone() *Table {
	c := &Table{Capacity: t.Capacity, NextSeq: t.NextSeq}
	c.Entries = append([]Entry{}, t.Entries...)
	return c
}

func (t *Table) nextSeq() uint64 {
	t.NextSeq++
	return t.NextSeq
}

func (t *Table) sort() {
	sort.SliceStable(t.Entries, func(i, j int) bool {
		a, b := t.Entries[i], t.Entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Seq < b.Seq
	})
}

func (t *Table) trim() {
	if c := t.capacity(); len(t.Entries) > c {
		t.Entries = t.Entries[:c]
	}
}
