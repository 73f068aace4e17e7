package persist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/bin-sensor/internal/logic"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stateWith(levels map[logic.Category]int) logic.BinState {
	s := logic.NewBinState()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for c, n := range levels {
		for i := 0; i < n/logic.FillStep; i++ {
			logic.Accumulate(&s, logic.DetectionEvent{Category: c, ObservedAt: at})
		}
	}
	return s
}

type failureLog struct {
	mu    sync.Mutex
	calls []string
}

func (f *failureLog) PersistFailure(tier, op string) {
	f.mu.Lock()
	f.calls = append(f.calls, tier+"/"+op)
	f.mu.Unlock()
}

func TestRestorePrefersPrimary(t *testing.T) {
	primary := NewMemoryTier("primary")
	fallback := NewMemoryTier("fallback")
	ctx := context.Background()

	s := stateWith(map[logic.Category]int{logic.Biodegradable: 40})
	s2 := stateWith(map[logic.Category]int{logic.Unsorted: 70})
	require.NoError(t, primary.Write(ctx, "k", s))
	require.NoError(t, fallback.Write(ctx, "k", s2))

	r := New(primary, fallback, "k", testLogger())
	snap := r.Restore(ctx)

	assert.Equal(t, SourcePrimary, snap.Tier)
	assert.True(t, snap.State.Equal(s), "primary state must be adopted verbatim, never merged")
	assert.Equal(t, 0, snap.State.Level(logic.Unsorted))
}

func TestRestoreFallsBackWhenPrimaryEmpty(t *testing.T) {
	primary := NewMemoryTier("primary")
	fallback := NewMemoryTier("fallback")
	ctx := context.Background()

	s := stateWith(map[logic.Category]int{logic.Recyclable: 30})
	require.NoError(t, fallback.Write(ctx, "k", s))

	snap := New(primary, fallback, "k", testLogger()).Restore(ctx)
	assert.Equal(t, SourceFallback, snap.Tier)
	assert.True(t, snap.State.Equal(s))
}

func TestRestoreFallsBackWhenPrimaryFails(t *testing.T) {
	primary := NewMemoryTier("primary")
	fallback := NewMemoryTier("fallback")
	ctx := context.Background()

	require.NoError(t, primary.Write(ctx, "k", stateWith(map[logic.Category]int{logic.Unsorted: 90})))
	primary.SetErrors(errors.New("disk I/O error"), nil)
	s := stateWith(map[logic.Category]int{logic.Unsorted: 50})
	require.NoError(t, fallback.Write(ctx, "k", s))

	failures := &failureLog{}
	snap := New(primary, fallback, "k", testLogger(), WithFailureCounter(failures)).Restore(ctx)
	assert.Equal(t, SourceFallback, snap.Tier)
	assert.Equal(t, 50, snap.State.Level(logic.Unsorted))
	assert.Equal(t, []string{"primary/read"}, failures.calls)
}

func TestRestoreBothEmpty(t *testing.T) {
	snap := New(NewMemoryTier("primary"), NewMemoryTier("fallback"), "k", testLogger()).Restore(context.Background())
	assert.Equal(t, SourceNone, snap.Tier)
	assert.True(t, snap.State.Equal(logic.NewBinState()))
}

func TestRestoreBothCorrupt(t *testing.T) {
	primary := NewMemoryTier("primary")
	fallback := NewMemoryTier("fallback")
	primary.SetErrors(errors.New("corrupt"), nil)

	bad := logic.NewBinState()
	bad.Bins[0].FillLevel = 15
	require.NoError(t, fallback.Write(context.Background(), "k", bad))

	snap := New(primary, fallback, "k", testLogger()).Restore(context.Background())
	assert.Equal(t, SourceNone, snap.Tier)
	assert.True(t, snap.State.IsEmpty())
}

func TestRestoreNilTiers(t *testing.T) {
	snap := New(nil, nil, "k", testLogger()).Restore(context.Background())
	assert.Equal(t, SourceNone, snap.Tier)
}

func TestSaveThenRestore(t *testing.T) {
	primary := NewMemoryTier("primary")
	fallback := NewMemoryTier("fallback")
	r := New(primary, fallback, "k", testLogger())
	r.Start()

	s := stateWith(map[logic.Category]int{logic.Biodegradable: 80, logic.Recyclable: 10})
	r.Save(s)
	r.Close()
	require.NoError(t, r.Flush(context.Background(), s))

	snap := New(primary, fallback, "k", testLogger()).Restore(context.Background())
	assert.Equal(t, SourcePrimary, snap.Tier)
	assert.True(t, snap.State.Equal(s))

	fb, found, err := fallback.Read(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, fb.Equal(s), "fallback must mirror primary")
}

func TestSaveIsAsyncAndLatestWins(t *testing.T) {
	primary := NewMemoryTier("primary")
	r := New(primary, nil, "k", testLogger())

	// Not started: saves queue without blocking.
	for i := 1; i <= 5; i++ {
		r.Save(stateWith(map[logic.Category]int{logic.Unsorted: i * 10}))
	}
	assert.Equal(t, 0, primary.Writes())

	r.Start()
	require.Eventually(t, func() bool { return primary.Writes() == 1 }, time.Second, 5*time.Millisecond)
	r.Close()

	got, found, err := primary.Read(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 50, got.Level(logic.Unsorted))
}

func TestFlushReportsFailuresAndMirrors(t *testing.T) {
	primary := NewMemoryTier("primary")
	fallback := NewMemoryTier("fallback")
	primary.SetErrors(nil, errors.New("database is locked"))
	failures := &failureLog{}

	r := New(primary, fallback, "k", testLogger(), WithFailureCounter(failures))
	s := stateWith(map[logic.Category]int{logic.Recyclable: 20})

	err := r.Flush(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary write")

	// Fallback still written.
	got, found, _ := fallback.Read(context.Background(), "k")
	require.True(t, found)
	assert.True(t, got.Equal(s))
	assert.Equal(t, []string{"primary/write"}, failures.calls)

	// Primary never stored anything, so restore uses the fallback.
	snap := r.Restore(context.Background())
	assert.Equal(t, SourceFallback, snap.Tier)
}

func TestCloseIsIdempotent(t *testing.T) {
	r := New(NewMemoryTier("primary"), nil, "k", testLogger())
	r.Start()
	r.Close()
	r.Close()
}
