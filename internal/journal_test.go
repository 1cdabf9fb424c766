package internal

import (
	"testing"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_Since(t *testing.T) {
	j := newJournal(4)
	assert.Equal(t, uint64(0), j.head())

	entries, lost := j.since(0, 0)
	assert.Empty(t, entries)
	assert.False(t, lost)

	for i := 0; i < 3; i++ {
		j.append("/tmp/a", source.FlagItemCreated)
	}
	require.Equal(t, uint64(3), j.head())

	entries, lost = j.since(1, 0)
	require.Len(t, entries, 2)
	assert.False(t, lost)
	assert.Equal(t, uint64(2), entries[0].ID)
	assert.Equal(t, uint64(3), entries[1].ID)

	entries, _ = j.since(0, 2)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].ID)

	entries, _ = j.since(3, 0)
	assert.Empty(t, entries)
}

func TestJournal_Overwrite(t *testing.T) {
	j := newJournal(2)
	for i := 0; i < 5; i++ {
		j.append("/tmp/a", source.FlagItemModified)
	}

	entries, lost := j.since(1, 0)
	assert.True(t, lost)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(4), entries[0].ID)
	assert.Equal(t, uint64(5), entries[1].ID)

	entries, lost = j.since(3, 0)
	assert.False(t, lost)
	require.Len(t, entries, 2)
}

func TestJournal_Wait(t *testing.T) {
	j := newJournal(0)
	ch := j.wait()

	select {
	case <-ch:
		t.Fatal("wait channel closed before append")
	default:
	}

	j.append("/tmp/a", source.FlagItemRemoved)
	select {
	case <-ch:
	default:
		t.Fatal("wait channel not closed by append")
	}
}
