package staging

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchSorted(t *testing.T) {
	var batch Batch[int]
	want := map[string]int{}
	for i := range 5000 {
		key := fmt.Sprintf("key-%05d", rand.IntN(3000))
		batch.Set([]byte(key), i)
		want[key] = i
	}
	require.Equal(t, len(want), batch.Len())

	var keys []string
	for key, val := range batch.Items {
		require.Equal(t, want[string(key)], val, "key %s", key)
		keys = append(keys, string(key))
	}
	require.Len(t, keys, len(want))
	require.True(t, slices.IsSorted(keys))

	for key, val := range want {
		got, found := batch.Get([]byte(key))
		require.True(t, found, "key %s", key)
		require.Equal(t, val, got)
	}
	_, found := batch.Get([]byte("absent"))
	require.False(t, found)
}

func TestBatchCopiesKeys(t *testing.T) {
	var batch Batch[string]
	key := []byte("a")
	batch.Set(key, "first")
	key[0] = 'b'
	batch.Set(key, "second")

	val, found := batch.Get([]byte("a"))
	require.True(t, found)
	require.Equal(t, "first", val)
	require.Equal(t, 2, batch.Len())
}

func TestBatchStop(t *testing.T) {
	var batch Batch[int]
	for i := range 100 {
		batch.Set(fmt.Appendf(nil, "%03d", i), i)
	}
	var seen []int
	for _, val := range batch.Items {
		if val == 40 {
			break
		}
		seen = append(seen, val)
	}
	require.Len(t, seen, 40)

	batch.Reset()
	require.Zero(t, batch.Len())
	for range batch.Items {
		t.Fatal("reset batch yielded an item")
	}
}
