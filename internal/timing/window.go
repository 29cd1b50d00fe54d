// Package timing holds the ordering guard and the activity-window predicate shared
// by every chain role. There is no exempt timestamp: every caller goes through
// Window.IsActive.
package timing

import (
	"tilerank/apps/chain/internal/types"
)

// Window is a [Start, End) range in milliseconds. Start == End == 0 is unbounded.
type Window struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (w Window) Unbounded() bool {
	return w.Start == 0 && w.End == 0
}

// IsActive is the single activity predicate:
// (start == 0 && end == 0) || (ts >= start && ts < end).
func (w Window) IsActive(ts uint64) bool {
	if w.Unbounded() {
		return true
	}
	return ts >= w.Start && ts < w.End
}

// Ended reports whether ts is at or past a bounded end.
func (w Window) Ended(ts uint64) bool {
	return !w.Unbounded() && ts >= w.End
}

func (w Window) Validate() error {
	if w.Unbounded() {
		return nil
	}
	if w.End <= w.Start {
		return types.ErrInvalidRequest.Wrapf("window end %d must be after start %d", w.End, w.Start)
	}
	return nil
}

// CheckWindow rejects ts outside w with ErrWindowClosed.
func CheckWindow(w Window, ts uint64) error {
	if !w.IsActive(ts) {
		return types.ErrWindowClosed.Wrapf("timestamp %d outside [%d, %d)", ts, w.Start, w.End)
	}
	return nil
}

// CheckOrder rejects ts unless it strictly follows last.
func CheckOrder(last, ts uint64) error {
	if ts <= last {
		return types.ErrStaleTimestamp.Wrapf("timestamp %d must be after %d", ts, last)
	}
	return nil
}

// MaxSkewMs is how far a player timestamp may run ahead of block time.
const MaxSkewMs uint64 = 30_000

// CheckSkew rejects a player timestamp more than MaxSkewMs ahead of block time now.
func CheckSkew(ts, now uint64) error {
	if ts > now && ts-now > MaxSkewMs {
		return types.ErrInvalidRequest.Wrapf("timestamp %d is more than %d ms ahead of block time %d", ts, MaxSkewMs, now)
	}
	return nil
}
