package batch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/alignflow/internal/config"
	"github.com/shaiso/alignflow/internal/domain"
)

func TestParseChromFile(t *testing.T) {
	entries, err := ParseChromFile(strings.NewReader(`# chrom seqfile paf
chr1 chr1.seq chr1.paf

chr2	chr2.seq	chr2.paf
`))
	require.NoError(t, err)
	assert.Equal(t, map[domain.PartitionKey]ChromEntry{
		"chr1": {SeqFile: "chr1.seq", PAF: "chr1.paf"},
		"chr2": {SeqFile: "chr2.seq", PAF: "chr2.paf"},
	}, entries)
}

func TestParseChromFile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", "# nothing\n"},
		{"too few columns", "chr1 chr1.seq\n"},
		{"too many columns", "chr1 a b c\n"},
		{"duplicate", "chr1 a b\nchr1 c d\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChromFile(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestReadChromFile_RelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chroms.txt")
	require.NoError(t, os.WriteFile(path, []byte("chr1 seq/chr1.txt /abs/chr1.paf\n"), 0o644))

	entries, err := ReadChromFile(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "seq", "chr1.txt"), entries["chr1"].SeqFile)
	assert.Equal(t, "/abs/chr1.paf", entries["chr1"].PAF)
}

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides("consCoresOverrides", "chr1,8 chr2,16")
	require.NoError(t, err)
	assert.Equal(t, map[domain.PartitionKey]int{"chr1": 8, "chr2": 16}, got)

	got, err = ParseOverrides("consCoresOverrides", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, bad := range []string{"chr1", "chr1,x", "chr1,8,9", "chr1,-1", "chr1,8 chr1,16", "chr1,8 chr1,8"} {
		_, err := ParseOverrides("consCoresOverrides", bad)
		assert.ErrorIs(t, err, config.ErrInvalidConfig, bad)
	}
}

func TestParseMemoryOverrides(t *testing.T) {
	got, err := ParseMemoryOverrides("consMemoryOverrides", "chr1,16G chr2,512Mi")
	require.NoError(t, err)
	assert.Equal(t, map[domain.PartitionKey]int64{
		"chr1": 16 << 30,
		"chr2": 512 << 20,
	}, got)

	_, err = ParseMemoryOverrides("consMemoryOverrides", "chr1,lots")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = ParseMemoryOverrides("consMemoryOverrides", "chr1,16G chr2,1G chr1,8G")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.ErrorContains(t, err, "conflicting overrides for chr1")
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"4K", 4 << 10},
		{"2m", 2 << 20},
		{"16GiB", 16 << 30},
		{"1TB", 1 << 40},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	got, err := ParseSize("8388607T")
	require.NoError(t, err)
	assert.Equal(t, int64(8388607)<<40, got)

	for _, bad := range []string{"", "G", "-1G", "1.5G", "12X", "9999999999T", "8388608T", "9223372036854775807K"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}
