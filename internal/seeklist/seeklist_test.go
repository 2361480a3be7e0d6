package seeklist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequentialOffsetsMonotonic(t *testing.T) {
	entries, err := Generate(Config{
		Pattern: PatternSequential, Entries: 5, StartOffset: 0, TransferSize: 4096, RWRatio: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		require.Equal(t, entries[i-1].Offset+4096, entries[i].Offset)
	}
}

func TestSequentialRWRatioPureWrite(t *testing.T) {
	entries, err := Generate(Config{Pattern: PatternSequential, Entries: 10, TransferSize: 4096, RWRatio: 0.0})
	require.NoError(t, err)
	for _, e := range entries {
		require.Equal(t, OpWrite, e.Op)
	}
}

func TestSequentialRWRatioPureRead(t *testing.T) {
	entries, err := Generate(Config{Pattern: PatternSequential, Entries: 10, TransferSize: 4096, RWRatio: 1.0})
	require.NoError(t, err)
	for _, e := range entries {
		require.Equal(t, OpRead, e.Op)
	}
}

func TestSequentialRWRatioBoundedDeviation(t *testing.T) {
	entries, err := Generate(Config{Pattern: PatternSequential, Entries: 100, TransferSize: 4096, RWRatio: 0.3})
	require.NoError(t, err)

	reads := 0
	for i, e := range entries {
		if e.Op == OpRead {
			reads++
		}
		expected := float64(i+1) * 0.3
		require.LessOrEqual(t, absFloat(float64(reads)-expected), 1.0)
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func TestRandomIsReproducibleFromSeed(t *testing.T) {
	cfg := Config{Pattern: PatternRandom, Entries: 50, TransferSize: 4096, RWRatio: 0.4, Seed: 42, AddressRange: 1 << 30}

	a, err := Generate(cfg)
	require.NoError(t, err)
	b, err := Generate(cfg)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRandomDifferentSeedsDiffer(t *testing.T) {
	base := Config{Pattern: PatternRandom, Entries: 50, TransferSize: 4096, RWRatio: 0.4, AddressRange: 1 << 30}
	a, _ := Generate(withSeed(base, 1))
	b, _ := Generate(withSeed(base, 2))
	require.NotEqual(t, a, b)
}

func withSeed(cfg Config, seed int64) Config {
	cfg.Seed = seed
	return cfg
}

func TestStagedLoadsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "staged.txt")
	require.NoError(t, os.WriteFile(path, []byte("read,0,4096\nwrite,4096,4096\n# comment\nnoop,8192,0\n"), 0o644))

	entries, err := Generate(Config{Pattern: PatternStaged, StagedFile: path})
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Op: OpRead, Offset: 0, Length: 4096},
		{Op: OpWrite, Offset: 4096, Length: 4096},
		{Op: OpNoop, Offset: 8192, Length: 0},
	}, entries)
}

func TestStagedRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(path, []byte("read,0\n"), 0o644))

	_, err := Generate(Config{Pattern: PatternStaged, StagedFile: path})
	require.Error(t, err)
}

func TestShiftDoesNotMutateInput(t *testing.T) {
	entries, err := Generate(Config{Pattern: PatternSequential, Entries: 3, TransferSize: 4096, RWRatio: 0.5})
	require.NoError(t, err)
	original := append([]Entry(nil), entries...)

	shifted := Shift(entries, 1<<20)
	require.Equal(t, original, entries)
	for i := range entries {
		require.Equal(t, entries[i].Offset+(1<<20), shifted[i].Offset)
	}
}
