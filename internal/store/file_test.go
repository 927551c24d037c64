package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkWritesSortedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "statistics.txt")
	sink := NewFileSink(path)

	report := &Report{Counts: map[string]int64{
		"Test CA":             1,
		"Domains Tested":      3,
		"HTTP-Exceptions":     1,
		"Certificate invalid": 1,
		"DigiCert Inc":        0,
	}}
	require.NoError(t, sink.Write(context.Background(), report))
	require.NoError(t, sink.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"Certificate invalid,1\nDigiCert Inc,0\nDomains Tested,3\nHTTP-Exceptions,1\nTest CA,1\n",
		string(b))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "expected temp file to be renamed away")
}

func TestFileSinkOverwritesPreviousReport(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "statistics.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale,99\n"), 0o644))

	sink := NewFileSink(path)
	require.NoError(t, sink.Write(context.Background(), &Report{Counts: map[string]int64{"Domains Tested": 1}}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Domains Tested,1\n", string(b))
}

func TestFileSinkQuotesControlCharacters(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "statistics.txt")
	sink := NewFileSink(path)
	require.NoError(t, sink.Write(context.Background(), &Report{Counts: map[string]int64{
		"Evil CA\nDomains Tested": 1,
		"Domains Tested":          2,
	}}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Domains Tested,2\n\"Evil CA\\nDomains Tested\",1\n", string(b))
}

type failingSink struct {
	writes int
	err    error
}

func (f *failingSink) Write(context.Context, *Report) error {
	f.writes++
	return f.err
}

func (f *failingSink) Close() error { return nil }

func TestMultiSinkWritesToAllAndJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	first := &failingSink{err: boom}
	second := &failingSink{}

	err := MultiSink{first, second}.Write(context.Background(), &Report{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, first.writes)
	assert.Equal(t, 1, second.writes)
	assert.NoError(t, MultiSink{first, second}.Close())
}
