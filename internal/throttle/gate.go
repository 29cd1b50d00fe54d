// Package throttle rate-limits aggregation emissions.
//
// A Gate moves Idle -> Accumulating (on the first recorded update) -> Emitting
// (between Begin and Finish) -> Idle. Begin refuses while another emission is in
// flight and while the cooldown since the last emission has not elapsed, so no
// sequence of automatic or manual triggers can emit faster than the cooldown.
package throttle

import (
	"tilerank/apps/chain/internal/types"
)

// MinCooldownMs is the hard floor applied to every configured cooldown.
const MinCooldownMs uint64 = 1000

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseAccumulating Phase = "accumulating"
	PhaseEmitting     Phase = "emitting"
)

// Policy configures when a gate becomes due. Zero fields take defaults in Normalize.
type Policy struct {
	// Threshold is the number of pending updates that makes the gate due.
	Threshold uint64 `json:"threshold" mapstructure:"threshold"`
	// CooldownMs is the minimum time between two emissions.
	CooldownMs uint64 `json:"cooldownMs" mapstructure:"cooldown-ms"`
	// MaxStalenessMs makes the gate due once the oldest pending update is this old,
	// even below Threshold.
	MaxStalenessMs uint64 `json:"maxStalenessMs" mapstructure:"max-staleness-ms"`
}

// Normalize replaces zero fields with defaults and clamps the cooldown to the floor.
// A zero threshold never means "emit on every update".
func (p Policy) Normalize(defaults Policy) Policy {
	if p.Threshold == 0 {
		p.Threshold = defaults.Threshold
	}
	if p.Threshold == 0 {
		p.Threshold = 1
	}
	if p.CooldownMs == 0 {
		p.CooldownMs = defaults.CooldownMs
	}
	if p.CooldownMs < MinCooldownMs {
		p.CooldownMs = MinCooldownMs
	}
	if p.MaxStalenessMs == 0 {
		p.MaxStalenessMs = defaults.MaxStalenessMs
	}
	return p
}

type Gate struct {
	Policy       Policy `json:"policy"`
	Phase        Phase  `json:"phase"`
	Pending      uint64 `json:"pending"`
	PendingSince uint64 `json:"pendingSince,omitempty"`
	LastEmit     uint64 `json:"lastEmit,omitempty"`
	Emissions    uint64 `json:"emissions"`
}

func NewGate(p Policy) Gate {
	return Gate{Policy: p, Phase: PhaseIdle}
}

func (g *Gate) cooldown() uint64 {
	if g.Policy.CooldownMs < MinCooldownMs {
		return MinCooldownMs
	}
	return g.Policy.CooldownMs
}

// Record notes one accepted update at now.
func (g *Gate) Record(now uint64) {
	g.Pending++
	if g.Phase == PhaseIdle || g.Phase == "" {
		g.Phase = PhaseAccumulating
		g.PendingSince = now
	}
}

// CooldownRemaining is how long until Begin can succeed, 0 if it can now.
func (g *Gate) CooldownRemaining(now uint64) uint64 {
	if g.Emissions == 0 {
		return 0
	}
	next := g.LastEmit + g.cooldown()
	if now >= next {
		return 0
	}
	return next - now
}

// Due reports whether an automatic emission should start at now.
func (g *Gate) Due(now uint64) bool {
	if g.Phase != PhaseAccumulating || g.Pending == 0 {
		return false
	}
	if g.CooldownRemaining(now) > 0 {
		return false
	}
	if g.Pending >= g.Policy.Threshold && g.Policy.Threshold > 0 {
		return true
	}
	stale := g.Policy.MaxStalenessMs
	return stale > 0 && now >= g.PendingSince && now-g.PendingSince >= stale
}

// Begin enters Emitting. It fails with ErrCooldownActive inside the cooldown and
// with ErrCapacityInvariant when an emission is already in flight.
func (g *Gate) Begin(now uint64) error {
	if g.Phase == PhaseEmitting {
		return types.ErrCapacityInvariant.Wrap("emission already in progress")
	}
	if rem := g.CooldownRemaining(now); rem > 0 {
		return types.ErrCooldownActive.Wrapf("retry in %d ms", rem)
	}
	g.Phase = PhaseEmitting
	return nil
}

// Finish completes the emission started by Begin.
func (g *Gate) Finish(now uint64) {
	g.LastEmit = now
	g.Emissions++
	g.Pending = 0
	g.PendingSince = 0
	g.Phase = PhaseIdle
}

// Abort leaves Emitting without counting an emission.
func (g *Gate) Abort() {
	if g.Phase != PhaseEmitting {
		return
	}
	if g.Pending > 0 {
		g.Phase = PhaseAccumulating
	} else {
		g.Phase = PhaseIdle
	}
}
