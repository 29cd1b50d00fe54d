// Package rng derives the reproducible pseudo-random values used for tile spawns,
// board ids and shard assignment.
//
// Every function here is pure. Clients replaying a board recompute byte-identical
// values with the same algorithm:
//
//	seed  = le64(sha256("tilerank/seed/v1" || lp(entity) || lp(actor) || le64(ts))[:8])
//	draw  = le64(sha256("tilerank/draw/v1" || le64(seed) || le64(counter))[:8])
//	pick  = min + value % (max - min), or min when max <= min
//
// where lp(x) is a little-endian u32 length followed by the bytes of x.
package rng

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
)

const (
	seedDomain = "tilerank/seed/v1"
	drawDomain = "tilerank/draw/v1"
)

func writeLenPrefixed(h hash.Hash, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// Seed combines an entity id, an actor id and a timestamp into a 64-bit seed. The
// inputs are length-prefixed so ("ab","c") and ("a","bc") never collide by
// concatenation, and swapping entity and actor changes the result.
func Seed(entityID, actorID string, timestamp uint64) uint64 {
	h := sha256.New()
	h.Write([]byte(seedDomain))
	writeLenPrefixed(h, entityID)
	writeLenPrefixed(h, actorID)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], timestamp)
	h.Write(ts[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}

// RangePick maps seed into [min, max). It is total: when max <= min it returns min.
func RangePick(seed, min, max uint64) uint64 {
	if max <= min {
		return min
	}
	return min + seed%(max-min)
}

// Draw returns the counter-th value of the stream rooted at seed.
func Draw(seed, counter uint64) uint64 {
	var buf [len(drawDomain) + 16]byte
	copy(buf[:], drawDomain)
	binary.LittleEndian.PutUint64(buf[len(drawDomain):], seed)
	binary.LittleEndian.PutUint64(buf[len(drawDomain)+8:], counter)
	sum := sha256.Sum256(buf[:])
	return binary.LittleEndian.Uint64(sum[:8])
}

// Stream is a counter-based sequence of draws from one seed.
type Stream struct {
	seed    uint64
	counter uint64
}

func NewStream(seed uint64) *Stream {
	return &Stream{seed: seed}
}

func (s *Stream) Next() uint64 {
	v := Draw(s.seed, s.counter)
	s.counter++
	return v
}

// Pick draws the next value and maps it into [min, max) like RangePick.
func (s *Stream) Pick(min, max uint64) uint64 {
	return RangePick(s.Next(), min, max)
}
