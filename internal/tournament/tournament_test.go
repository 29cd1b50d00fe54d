package tournament

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tilerank/apps/chain/internal/chain"
	"tilerank/apps/chain/internal/ranking"
	"tilerank/apps/chain/internal/throttle"
	"tilerank/apps/chain/internal/timing"
	"tilerank/apps/chain/internal/types"
)

var defaults = Defaults{
	Capacity:          10,
	ShardPolicy:       throttle.Policy{Threshold: 10, CooldownMs: 5000, MaxStalenessMs: 30000},
	LeaderboardPolicy: throttle.Policy{Threshold: 4, CooldownMs: 5000, MaxStalenessMs: 30000},
}

func TestCreate_AllocatesShards(t *testing.T) {
	d, err := Create("t1", Params{Name: "Open", Host: "admin", ShardCount: 2}, defaults, 10)
	require.NoError(t, err)
	require.Equal(t, []chain.ID{"leaderboard/t1/shard/0", "leaderboard/t1/shard/1"}, d.Shards)
	require.Equal(t, chain.ID("leaderboard/t1"), d.Leaderboard)
	require.Equal(t, 10, d.Capacity)
	require.Equal(t, uint64(10), d.ShardPolicy.Threshold)
	require.True(t, d.IsActive(0))
	require.True(t, d.IsActive(^uint64(0)))
}

func TestCreate_ZeroPolicyGetsSafeDefaults(t *testing.T) {
	d, err := Create("t1", Params{Name: "x", Host: "h", ShardCount: 1}, Defaults{Capacity: 5}, 0)
	require.NoError(t, err)
	require.NotZero(t, d.ShardPolicy.Threshold)
	require.GreaterOrEqual(t, d.ShardPolicy.CooldownMs, throttle.MinCooldownMs)
	require.GreaterOrEqual(t, d.LeaderboardPolicy.CooldownMs, throttle.MinCooldownMs)
}

func TestCreate_Validation(t *testing.T) {
	cases := []Params{
		{Name: "", Host: "h", ShardCount: 1},
		{Name: "x", Host: "", ShardCount: 1},
		{Name: "x", Host: "h", ShardCount: 0},
		{Name: "x", Host: "h", ShardCount: MaxShards + 1},
		{Name: "x", Host: "h", ShardCount: 1, Window: timing.Window{Start: 5, End: 5}},
		{Name: "x", Host: "h", ShardCount: 1, Capacity: MaxCapacity + 1},
	}
	for i, p := range cases {
		_, err := Create("t", p, defaults, 0)
		require.ErrorIs(t, err, types.ErrInvalidRequest, "case %d", i)
	}
}

func TestShardFor_StablePerPlayer(t *testing.T) {
	d, err := Create("t1", Params{Name: "x", Host: "h", ShardCount: 4}, defaults, 0)
	require.NoError(t, err)
	for _, p := range []string{"alice", "bob", "carol"} {
		s := d.ShardFor(p)
		require.True(t, d.HasShard(s))
		require.Equal(t, s, d.ShardFor(p))
	}
}

func TestEndAt(t *testing.T) {
	d, err := Create("t1", Params{Name: "x", Host: "h", ShardCount: 1}, defaults, 0)
	require.NoError(t, err)
	require.NoError(t, d.EndAt(500))
	require.True(t, d.IsActive(499))
	require.False(t, d.IsActive(500))
	require.ErrorIs(t, d.EndAt(600), types.ErrWindowClosed)

	bounded, err := Create("t2", Params{Name: "x", Host: "h", ShardCount: 1, Window: timing.Window{Start: 100, End: 200}}, defaults, 0)
	require.NoError(t, err)
	require.NoError(t, bounded.EndAt(50))
	require.Equal(t, timing.Window{Start: 100, End: 101}, bounded.Window)
}

func TestCreate_ZeroCapacityWithoutDefaults(t *testing.T) {
	d, err := Create("t1", Params{Name: "x", Host: "h", ShardCount: 1}, Defaults{}, 0)
	require.NoError(t, err)
	require.Equal(t, ranking.DefaultCapacity, d.Capacity)
}

func TestApply_EditsAndShrinks(t *testing.T) {
	d, err := Create("t1", Params{Name: "Open", Host: "h", ShardCount: 1, Window: timing.Window{Start: 100, End: 10_000}}, defaults, 0)
	require.NoError(t, err)

	name, desc := "  Spring Open ", "weekend bracket"
	require.NoError(t, d.Apply(Update{Name: &name, Description: &desc}, 500))
	require.Equal(t, "Spring Open", d.Name)
	require.Equal(t, desc, d.Description)
	require.Equal(t, timing.Window{Start: 100, End: 10_000}, d.Window)

	require.ErrorIs(t, d.Apply(Update{End: 10_000}, 500), types.ErrInvalidRequest)
	require.ErrorIs(t, d.Apply(Update{End: 20_000}, 500), types.ErrInvalidRequest)
	require.ErrorIs(t, d.Apply(Update{End: 400}, 500), types.ErrInvalidRequest)
	require.NoError(t, d.Apply(Update{End: 6_000}, 500))
	require.Equal(t, timing.Window{Start: 100, End: 6_000}, d.Window)

	require.ErrorIs(t, d.Apply(Update{End: 5_000}, 6_000), types.ErrWindowClosed)
}

func TestApply_RejectedFieldChangesNothing(t *testing.T) {
	d, err := Create("t1", Params{Name: "Open", Host: "h", ShardCount: 1}, defaults, 0)
	require.NoError(t, err)
	name, empty := "Renamed", " "
	require.ErrorIs(t, d.Apply(Update{Name: &name, End: 1}, 5), types.ErrInvalidRequest)
	require.ErrorIs(t, d.Apply(Update{Name: &empty}, 5), types.ErrInvalidRequest)
	require.Equal(t, "Open", d.Name)
	require.True(t, d.Window.Unbounded())

	// An unbounded window may be given an end.
	require.NoError(t, d.Apply(Update{End: 900}, 5))
	require.Equal(t, timing.Window{End: 900}, d.Window)
}
