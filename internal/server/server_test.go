package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/dacapoday/btslice/btree"
	"github.com/dacapoday/btslice/sched"
	"github.com/dacapoday/btslice/store"
)

var discard = slog.New(slog.DiscardHandler)

func newStore(t *testing.T) *store.Store {
	st, err := store.Open(sched.New(2), store.Config{
		Slices:    2,
		BlockSize: 1024,
		Logger:    discard,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	big := make([]byte, 5000)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, st.Load(slices.Values([]btree.Entry{
		{Key: []byte("alpha"), Val: []byte("first"), Flags: 7},
		{Key: []byte("big"), Val: big},
		{Key: []byte("empty")},
	})))
	return st
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, []byte) {
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestGet(t *testing.T) {
	ts := httptest.NewServer(New("", newStore(t), discard).Handler())
	defer ts.Close()

	resp, body := get(t, ts, "/db/alpha")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "first", string(body))
	require.Equal(t, "7", resp.Header.Get(FlagsHeader))

	resp, body = get(t, ts, "/db/big")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body, 5000)
	require.Equal(t, byte(4999%256), body[4999])

	resp, body = get(t, ts, "/db/empty")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body)
	require.Equal(t, "0", resp.Header.Get(FlagsHeader))

	resp, _ = get(t, ts, "/db/missing")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndStat(t *testing.T) {
	ts := httptest.NewServer(New("", newStore(t), discard).Handler())
	defer ts.Close()

	resp, body := get(t, ts, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, body = get(t, ts, "/stat")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats []btree.Stat
	require.NoError(t, json.Unmarshal(body, &stats))
	require.Len(t, stats, 2)
	require.Equal(t, 3, stats[0].Entries+stats[1].Entries)
}

type failing struct{}

func (failing) Fetch([]byte) (btree.Result, error) { return btree.Result{}, errors.New("disk on fire") }
func (failing) Stat() ([]btree.Stat, error)        { panic("stat") }

func TestErrors(t *testing.T) {
	ts := httptest.NewServer(New("", failing{}, discard).Handler())
	defer ts.Close()

	resp, body := get(t, ts, "/db/any")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Contains(t, string(body), "disk on fire")

	resp, _ = get(t, ts, "/stat")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
