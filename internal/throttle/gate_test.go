package throttle

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"tilerank/apps/chain/internal/types"
)

var defaults = Policy{Threshold: 10, CooldownMs: 5000, MaxStalenessMs: 30000}

func TestNormalize_ZeroUsesSafeDefaults(t *testing.T) {
	p := Policy{}.Normalize(defaults)
	require.Equal(t, uint64(10), p.Threshold)
	require.Equal(t, uint64(5000), p.CooldownMs)

	p = Policy{CooldownMs: 1}.Normalize(Policy{})
	require.Equal(t, MinCooldownMs, p.CooldownMs)
	require.Equal(t, uint64(1), p.Threshold)
}

func TestGate_ThresholdAndCooldown(t *testing.T) {
	g := NewGate(Policy{Threshold: 2, CooldownMs: 2000}.Normalize(defaults))
	require.False(t, g.Due(100))

	g.Record(100)
	require.Equal(t, PhaseAccumulating, g.Phase)
	require.False(t, g.Due(100))
	g.Record(101)
	require.True(t, g.Due(101))

	require.NoError(t, g.Begin(101))
	require.Equal(t, PhaseEmitting, g.Phase)
	require.ErrorIs(t, g.Begin(101), types.ErrCapacityInvariant)
	g.Finish(101)
	require.Equal(t, PhaseIdle, g.Phase)

	g.Record(102)
	g.Record(103)
	require.False(t, g.Due(1000), "inside cooldown")
	require.Equal(t, uint64(1101), g.CooldownRemaining(1000))
	require.ErrorIs(t, g.Begin(1000), types.ErrCooldownActive)
	require.True(t, g.Due(2101))
}

func TestGate_StalenessTrigger(t *testing.T) {
	g := NewGate(Policy{Threshold: 100, CooldownMs: 1000, MaxStalenessMs: 500})
	g.Record(10)
	require.False(t, g.Due(509))
	require.True(t, g.Due(510))
}

func TestGate_Abort(t *testing.T) {
	g := NewGate(defaults)
	g.Record(1)
	require.NoError(t, g.Begin(1))
	g.Abort()
	require.Equal(t, PhaseAccumulating, g.Phase)
	require.Zero(t, g.Emissions)
}

func TestProperty_CooldownFloor(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := Policy{
			Threshold:  rapid.Uint64Range(0, 3).Draw(t, "threshold"),
			CooldownMs: rapid.Uint64Range(0, 3000).Draw(t, "cooldown"),
		}.Normalize(Policy{})
		g := NewGate(p)

		now := uint64(0)
		var emits []uint64
		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			now += rapid.Uint64Range(0, 700).Draw(t, "dt")
			if rapid.Bool().Draw(t, "update") {
				g.Record(now)
			}
			manual := rapid.Bool().Draw(t, "manual")
			if manual || g.Due(now) {
				if g.Begin(now) == nil {
					g.Finish(now)
					emits = append(emits, now)
				}
			}
		}
		for i := 1; i < len(emits); i++ {
			if emits[i]-emits[i-1] < p.CooldownMs || emits[i]-emits[i-1] < MinCooldownMs {
				t.Fatalf("emissions %d and %d closer than cooldown %d", emits[i-1], emits[i], p.CooldownMs)
			}
		}
	})
}
