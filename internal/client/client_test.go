package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/btslice/btree"
	"github.com/dacapoday/btslice/internal/server"
	"github.com/dacapoday/btslice/sched"
	"github.com/dacapoday/btslice/store"
)

func TestClient(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	st, err := store.Open(sched.New(2), store.Config{Slices: 3, BlockSize: 1024, Logger: log})
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Load(slices.Values([]btree.Entry{
		{Key: []byte("a b/c"), Val: []byte("spaced"), Flags: 42},
		{Key: []byte("k"), Val: make([]byte, 3000), Flags: 1},
	})))

	ts := httptest.NewServer(server.New("", st, log).Handler())
	defer ts.Close()
	c := New(ts.URL)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	val, flags, found, err := c.Get(ctx, "a b/c")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "spaced", string(val))
	require.Equal(t, uint32(42), flags)

	val, _, found, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, val, 3000)

	_, _, found, err = c.Get(ctx, "nope")
	require.NoError(t, err)
	require.False(t, found)

	stats, err := c.Stat(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 3)
}

func TestServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer ts.Close()
	c := New(ts.URL)
	ctx := context.Background()

	_, _, _, err := c.Get(ctx, "x")
	require.ErrorContains(t, err, "broken")
	require.Error(t, c.Health(ctx))
	_, err = c.Stat(ctx)
	require.Error(t, err)
}
