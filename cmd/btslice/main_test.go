package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/btslice/btree"
)

func TestReadEntries(t *testing.T) {
	batch, err := readEntries(strings.NewReader("b\tsecond\t3\nA\tfirst\n\nb\treplaced\t4\t1700000000\n"))
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())

	var got []btree.Entry
	for key, entry := range batch.Items {
		entry.Key = key
		got = append(got, entry)
	}
	require.Equal(t, []btree.Entry{
		{Key: []byte("A"), Val: []byte("first")},
		{Key: []byte("b"), Val: []byte("replaced"), Flags: 4, Exptime: 1700000000},
	}, got)
}

func TestReadEntriesErrors(t *testing.T) {
	for _, input := range []string{
		"lonely\n",
		"k\tv\tx\n",
		"k\tv\t1\t-5\n",
		"k\tv\t1\t2\t3\n",
	} {
		_, err := readEntries(strings.NewReader(input))
		require.Error(t, err, "%q", input)
	}
}

func TestDisplay(t *testing.T) {
	require.Equal(t, "(empty)", display(nil, 10))
	require.Equal(t, "hello", display([]byte("hello"), 10))
	require.Equal(t, "hello w...", display([]byte("hello world"), 10))
	require.Equal(t, "00ff", display([]byte{0, 0xff}, 10))
}
