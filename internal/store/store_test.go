package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStationCacheRoundTrip(t *testing.T) {
	cache := NewStationCache(filepath.Join(t.TempDir(), "stations.json"))

	_, ok := cache.Load()
	require.False(t, ok)

	stations := []Station{
		{StationID: "s1234", StationName: "KEXP", URI: "x-sonosapi-stream:s1234?sid=254"},
		{StationID: "s5678", StationName: "BBC 6"},
	}
	require.NoError(t, cache.Save(stations))

	loaded, ok := cache.Load()
	require.True(t, ok)
	require.Equal(t, stations, loaded)
}

func TestStationCacheExpires(t *testing.T) {
	cache := NewStationCache(filepath.Join(t.TempDir(), "stations.json"))
	require.NoError(t, cache.Save([]Station{{StationID: "s1"}}))

	cache.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, ok := cache.Load()
	require.False(t, ok)

	removed, err := cache.Prune()
	require.NoError(t, err)
	require.True(t, removed)
	_, err = os.Stat(cache.path)
	require.True(t, os.IsNotExist(err))
}

func TestStationCachePruneKeepsFresh(t *testing.T) {
	cache := NewStationCache(filepath.Join(t.TempDir(), "stations.json"))
	require.NoError(t, cache.Save([]Station{{StationID: "s1"}}))

	removed, err := cache.Prune()
	require.NoError(t, err)
	require.False(t, removed)
}

func TestBackoffEscalation(t *testing.T) {
	backoff := NewBackoff(filepath.Join(t.TempDir(), "backoff.json"))

	blocked, _ := backoff.Blocked()
	require.False(t, blocked)

	require.NoError(t, backoff.RecordFailure())
	blocked, remaining := backoff.Blocked()
	require.True(t, blocked)
	require.InDelta(t, 24*time.Hour, remaining, float64(time.Minute))

	// Second failure: 24h * 1.5 = 36h.
	require.NoError(t, backoff.RecordFailure())
	_, remaining = backoff.Blocked()
	require.InDelta(t, 36*time.Hour, remaining, float64(time.Minute))

	// Third failure would be 54h; capped at 48h.
	require.NoError(t, backoff.RecordFailure())
	_, remaining = backoff.Blocked()
	require.InDelta(t, 48*time.Hour, remaining, float64(time.Minute))
}

func TestBackoffClearsOnSuccess(t *testing.T) {
	backoff := NewBackoff(filepath.Join(t.TempDir(), "backoff.json"))
	require.NoError(t, backoff.RecordFailure())
	require.NoError(t, backoff.Clear())

	blocked, _ := backoff.Blocked()
	require.False(t, blocked)

	// Clearing an already-clear hold is fine.
	require.NoError(t, backoff.Clear())
}

func TestBackoffExpiresWithTime(t *testing.T) {
	backoff := NewBackoff(filepath.Join(t.TempDir(), "backoff.json"))
	require.NoError(t, backoff.RecordFailure())

	backoff.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	blocked, _ := backoff.Blocked()
	require.False(t, blocked)
}
