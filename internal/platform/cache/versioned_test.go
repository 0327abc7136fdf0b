package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T) (*Versioned, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "atk:items", time.Minute, nil), mr
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	var calls int32
	loader := func(context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		return []row{{ID: int64(n), Name: "Kertas A4"}}, nil
	}

	var first, second []row
	require.NoError(t, c.FetchJSON(ctx, &first, loader, "list", "all"))
	require.NoError(t, c.FetchJSON(ctx, &second, loader, "list", "all"))
	require.Equal(t, first, second)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	require.NoError(t, c.Bump(ctx))

	var third []row
	require.NoError(t, c.FetchJSON(ctx, &third, loader, "list", "all"))
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
	require.Equal(t, int64(2), third[0].ID)
}

func TestFetchJSONDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	boom := errors.New("db down")

	var out []row
	err := c.FetchJSON(ctx, &out, func(context.Context) (any, error) { return nil, boom }, "list")
	require.ErrorIs(t, err, boom)

	require.NoError(t, c.FetchJSON(ctx, &out, func(context.Context) (any, error) {
		return []row{{ID: 1}}, nil
	}, "list"))
	require.Len(t, out, 1)
}

func TestFetchJSONFallsBackWhenRedisUnavailable(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	var out []row
	err := c.FetchJSON(context.Background(), &out, func(context.Context) (any, error) {
		return []row{{ID: 7, Name: "Pulpen"}}, nil
	}, "list")
	require.NoError(t, err)
	require.Equal(t, "Pulpen", out[0].Name)
}

func TestFetchJSONConcurrentReadersSeeSameValue(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	loader := func(context.Context) (any, error) {
		return []row{{ID: 1, Name: "Map Ordner"}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out []row
			if assert.NoError(t, c.FetchJSON(ctx, &out, loader, "list")) {
				assert.Equal(t, "Map Ordner", out[0].Name)
			}
		}()
	}
	wg.Wait()
}

func TestNilClientPassesThrough(t *testing.T) {
	c := NewVersioned(nil, "atk:categories", time.Minute, nil)
	var out []row
	require.NoError(t, c.FetchJSON(context.Background(), &out, func(context.Context) (any, error) {
		return []row{{ID: 3}}, nil
	}))
	require.NoError(t, c.Bump(context.Background()))
	require.Equal(t, int64(3), out[0].ID)
}
