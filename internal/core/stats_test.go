package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatTableSeedsReservedLabels(t *testing.T) {
	t.Parallel()

	snap := NewStatTable().Snapshot()
	require.Len(t, snap, len(ReservedLabels))
	for _, label := range ReservedLabels {
		n, ok := snap[label]
		assert.True(t, ok, "missing %q", label)
		assert.Zero(t, n)
	}
}

func TestStatTableConcurrentIncrements(t *testing.T) {
	t.Parallel()

	const workers, perWorker = 64, 500
	table := NewStatTable()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				table.Increment("Shared CA")
				if w%2 == 0 {
					// Half the workers race on first insertion of a fresh label.
					table.Increment("Fresh CA")
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int64(workers*perWorker), table.Get("Shared CA"))
	assert.Equal(t, int64(workers/2*perWorker), table.Get("Fresh CA"))
}

func TestStatTableSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	table := NewStatTable()
	table.Increment("Let's Encrypt")
	snap := table.Snapshot()
	table.Increment("Let's Encrypt")

	assert.Equal(t, int64(1), snap["Let's Encrypt"])
	assert.Equal(t, int64(2), table.Get("Let's Encrypt"))
	assert.Zero(t, table.Get("absent"))
}

func TestStatsSortedLabelsIsOrdinal(t *testing.T) {
	t.Parallel()

	s := Stats{"b": 1, "HTTP-Exceptions": 2, "DigiCert Inc": 3, "a": 4, "Certificate invalid": 0}
	assert.Equal(t, []string{"Certificate invalid", "DigiCert Inc", "HTTP-Exceptions", "a", "b"}, s.SortedLabels())
	assert.Equal(t, int64(10), s.Total())
}
