package regions

import (
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func testRegions() []Region {
	return []Region{
		{Chromosome: "chr1", Start: 1, End: 1000},
		{Chromosome: "chr1", Start: 1001, End: 2000},
		{Chromosome: "chr1", Start: 2001, End: 2500},
		{Chromosome: "chr2", Start: 1, End: 300},
		{Chromosome: "chr2", Start: 301, End: 900},
	}
}

func TestNewIndex(t *testing.T) {
	idx, err := NewIndex(testRegions())
	assert.NoError(t, err)
	expect.EQ(t, idx.Len(), 5)
	expect.EQ(t, idx.Chromosomes(), []string{"chr1", "chr2"})
	for i, r := range idx.Regions() {
		expect.EQ(t, r.Ix, i)
	}
	first, last := idx.ChromosomeRange(1)
	expect.EQ(t, first, 3)
	expect.EQ(t, last, 4)
	expect.EQ(t, idx.ChromosomeOfRegion(2), int32(0))
	expect.EQ(t, idx.ChromosomeOfRegion(3), int32(1))
	ci, ok := idx.ChromosomeIx("chr2")
	expect.True(t, ok)
	expect.EQ(t, ci, 1)
}

func TestNewIndexErrors(t *testing.T) {
	tests := []struct {
		regions []Region
		want    string
	}{
		{
			[]Region{{Chromosome: "chr1", Start: 1, End: 10}, {Chromosome: "chr1", Start: 12, End: 20}},
			"not contiguous",
		},
		{
			[]Region{{Chromosome: "chr1", Start: 1, End: 10}, {Chromosome: "chr1", Start: 5, End: 20}},
			"not contiguous",
		},
		{
			[]Region{
				{Chromosome: "chr1", Start: 1, End: 10},
				{Chromosome: "chr2", Start: 1, End: 10},
				{Chromosome: "chr1", Start: 11, End: 20},
			},
			"not grouped",
		},
		{[]Region{{Chromosome: "chr1", Start: 10, End: 5}}, "invalid interval"},
		{[]Region{{Chromosome: "", Start: 1, End: 5}}, "empty chromosome"},
	}
	for _, test := range tests {
		_, err := NewIndex(test.regions)
		assert.NotNil(t, err)
		assert.HasSubstr(t, err.Error(), test.want)
	}
}

func TestLookup(t *testing.T) {
	idx, err := NewIndex(testRegions())
	assert.NoError(t, err)
	tests := []struct {
		chrom string
		pos   int64
		ix    int
		ok    bool
	}{
		{"chr1", 1, 0, true},
		{"chr1", 500, 0, true},
		{"chr1", 1000, 0, true},
		{"chr1", 1001, 1, true},
		{"chr1", 2500, 2, true},
		{"chr1", 2501, 0, false},
		{"chr1", 0, 0, false},
		{"chr2", 301, 4, true},
		{"chrX", 10, 0, false},
	}
	for _, test := range tests {
		r, ok := idx.Lookup(test.chrom, test.pos)
		expect.EQ(t, ok, test.ok, "%s:%d", test.chrom, test.pos)
		if ok {
			expect.EQ(t, r.Ix, test.ix, "%s:%d", test.chrom, test.pos)
		}
	}
}

// Every position of a chromosome's span is covered by exactly one region.
func TestFragmentCoverage(t *testing.T) {
	idx, err := NewIndex(testRegions())
	assert.NoError(t, err)
	for ci := 0; ci < idx.NumChromosomes(); ci++ {
		first, last := idx.ChromosomeRange(ci)
		name := idx.ChromosomeName(ci)
		for pos := idx.Region(first).Start; pos <= idx.Region(last).End; pos++ {
			n := 0
			for ix := first; ix <= last; ix++ {
				if idx.Region(ix).Contains(pos) {
					n++
				}
			}
			expect.EQ(t, n, 1, "%s:%d", name, pos)
			r, ok := idx.Lookup(name, pos)
			assert.True(t, ok)
			expect.True(t, r.Contains(pos))
		}
	}
}

func TestOverlapping(t *testing.T) {
	idx, err := NewIndex(testRegions())
	assert.NoError(t, err)
	first, last, ok := idx.Overlapping("chr1", 900, 2100)
	expect.True(t, ok)
	expect.EQ(t, first, 0)
	expect.EQ(t, last, 2)
	first, last, ok = idx.Overlapping("chr1", 1500, 1600)
	expect.True(t, ok)
	expect.EQ(t, first, 1)
	expect.EQ(t, last, 1)
	_, _, ok = idx.Overlapping("chr1", 3000, 4000)
	expect.False(t, ok)
}

func TestReadBED(t *testing.T) {
	bed := `track name=fragments
chr1	0	1000	f0	0	+
chr1	1000	2000	f1	0	-
# comment
chr2	0	300
`
	regs, err := ReadBED(strings.NewReader(bed))
	assert.NoError(t, err)
	expect.EQ(t, len(regs), 3)
	expect.EQ(t, regs[0], Region{Chromosome: "chr1", Start: 1, End: 1000, Strand: 1})
	expect.EQ(t, regs[1], Region{Chromosome: "chr1", Start: 1001, End: 2000, Strand: -1})
	expect.EQ(t, regs[2], Region{Chromosome: "chr2", Start: 1, End: 300, Strand: 1})

	_, err = NewIndex(regs)
	assert.NoError(t, err)

	_, err = ReadBED(strings.NewReader("chr1\t0\n"))
	assert.NotNil(t, err)
	_, err = ReadBED(strings.NewReader("chr1\tx\t10\n"))
	assert.NotNil(t, err)
}
