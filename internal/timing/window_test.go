package timing

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"tilerank/apps/chain/internal/types"
)

func TestWindow_Unbounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ts := rapid.Uint64().Draw(t, "ts")
		if !(Window{}).IsActive(ts) {
			t.Fatalf("unbounded window rejected %d", ts)
		}
	})
}

func TestWindow_Bounded(t *testing.T) {
	w := Window{Start: 100, End: 200}
	require.False(t, w.IsActive(99))
	require.True(t, w.IsActive(100))
	require.True(t, w.IsActive(199))
	require.False(t, w.IsActive(200))
	require.True(t, w.Ended(200))
	require.False(t, w.Ended(150))
}

func TestWindow_NoBypassValue(t *testing.T) {
	w := Window{Start: 100, End: 200}
	rapid.Check(t, func(t *rapid.T) {
		ts := rapid.Uint64().Draw(t, "ts")
		want := ts >= 100 && ts < 200
		if w.IsActive(ts) != want {
			t.Fatalf("IsActive(%d)=%v want %v", ts, !want, want)
		}
		if err := CheckWindow(w, ts); (err == nil) != want {
			t.Fatalf("CheckWindow(%d) disagrees with IsActive", ts)
		}
	})
	require.ErrorIs(t, CheckWindow(w, ^uint64(0)), types.ErrWindowClosed)
}

func TestWindow_Validate(t *testing.T) {
	require.NoError(t, Window{}.Validate())
	require.NoError(t, Window{Start: 1, End: 2}.Validate())
	require.ErrorIs(t, Window{Start: 2, End: 2}.Validate(), types.ErrInvalidRequest)
}

func TestCheckOrder(t *testing.T) {
	require.NoError(t, CheckOrder(1000, 1001))
	require.ErrorIs(t, CheckOrder(1001, 1001), types.ErrStaleTimestamp)
	require.ErrorIs(t, CheckOrder(1002, 1001), types.ErrStaleTimestamp)
}

func TestCheckSkew(t *testing.T) {
	require.NoError(t, CheckSkew(5_000, 10_000))
	require.NoError(t, CheckSkew(10_000+MaxSkewMs, 10_000))
	require.ErrorIs(t, CheckSkew(10_001+MaxSkewMs, 10_000), types.ErrInvalidRequest)
	require.NoError(t, CheckSkew(^uint64(0), ^uint64(0)-1))
}
