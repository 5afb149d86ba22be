package regions

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
)

// Region is a genomic interval on one chromosome. Coordinates are 1-based
// and inclusive. Ix is the sequential index assigned when the region is
// added to an Index.
type Region struct {
	Chromosome string
	Start      int64
	End        int64
	Strand     int8
	Ix         int
}

// Len returns the number of bases covered by the region.
func (r Region) Len() int64 { return r.End - r.Start + 1 }

// Contains returns true if pos (1-based) lies inside r.
func (r Region) Contains(pos int64) bool { return pos >= r.Start && pos <= r.End }

func (r Region) String() string {
	return fmt.Sprintf("%s:%d-%d", r.Chromosome, r.Start, r.End)
}

// chromosomeInfo describes the contiguous run of regions belonging to one
// chromosome.
type chromosomeInfo struct {
	name  string
	first int     // ix of the first region
	last  int     // ix of the last region (inclusive)
	ends  []int64 // End of every region in the run, ascending
}

// Index is a finalized, immutable set of regions grouped by chromosome.
// Once built it is safe for concurrent use.
type Index struct {
	regions     []Region
	chromosomes []chromosomeInfo
	byName      map[string]int
	// regionChrom maps a region ix to its chromosome ix.
	regionChrom []int32
}

// NewIndex assigns sequential indices to the given regions in iteration
// order and builds the lookup tables. Regions of one chromosome must form a
// single run, sorted by position, with no gaps or overlaps between
// neighbors.
func NewIndex(regions []Region) (*Index, error) {
	idx := &Index{
		regions:     make([]Region, len(regions)),
		byName:      make(map[string]int),
		regionChrom: make([]int32, len(regions)),
	}
	for i, r := range regions {
		if r.Chromosome == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("region %d: empty chromosome name", i))
		}
		if r.Start < 1 || r.End < r.Start {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("region %d: invalid interval %v", i, r))
		}
		r.Ix = i
		n := len(idx.chromosomes)
		if n == 0 || idx.chromosomes[n-1].name != r.Chromosome {
			if _, ok := idx.byName[r.Chromosome]; ok {
				return nil, errors.E(errors.Invalid,
					fmt.Sprintf("region %v: regions of chromosome %s are not grouped together", r, r.Chromosome))
			}
			idx.byName[r.Chromosome] = n
			idx.chromosomes = append(idx.chromosomes, chromosomeInfo{name: r.Chromosome, first: i})
			n++
		} else {
			prev := idx.regions[i-1]
			if r.Start != prev.End+1 {
				return nil, errors.E(errors.Invalid,
					fmt.Sprintf("regions %v and %v are not contiguous", prev, r))
			}
		}
		c := &idx.chromosomes[n-1]
		c.last = i
		c.ends = append(c.ends, r.End)
		idx.regions[i] = r
		idx.regionChrom[i] = int32(n - 1)
	}
	return idx, nil
}

// Len returns the number of regions.
func (idx *Index) Len() int { return len(idx.regions) }

// Region returns the region with the given ix.
func (idx *Index) Region(ix int) Region { return idx.regions[ix] }

// Regions returns all regions in ix order. The caller must not modify the
// result.
func (idx *Index) Regions() []Region { return idx.regions }

// Chromosomes returns the chromosome names in index order.
func (idx *Index) Chromosomes() []string {
	names := make([]string, len(idx.chromosomes))
	for i, c := range idx.chromosomes {
		names[i] = c.name
	}
	return names
}

// NumChromosomes returns the number of distinct chromosomes.
func (idx *Index) NumChromosomes() int { return len(idx.chromosomes) }

// ChromosomeIx returns the index of the named chromosome.
func (idx *Index) ChromosomeIx(name string) (int, bool) {
	i, ok := idx.byName[name]
	return i, ok
}

// ChromosomeName returns the name of the chromosome with the given index.
func (idx *Index) ChromosomeName(ix int) string { return idx.chromosomes[ix].name }

// ChromosomeRange returns the first and last (inclusive) region ix of the
// given chromosome.
func (idx *Index) ChromosomeRange(chromIx int) (first, last int) {
	c := idx.chromosomes[chromIx]
	return c.first, c.last
}

// ChromosomeOfRegion returns the chromosome index of a region ix.
func (idx *Index) ChromosomeOfRegion(ix int) int32 {
	if ix < 0 || ix >= len(idx.regionChrom) {
		panic(fmt.Sprintf("region ix %d outside of index with %d regions", ix, len(idx.regionChrom)))
	}
	return idx.regionChrom[ix]
}

// Lookup returns the region of chromosome chrom that contains the 1-based
// position pos. It returns false if the chromosome is unknown or pos lies
// outside of the chromosome's regions.
func (idx *Index) Lookup(chrom string, pos int64) (Region, bool) {
	ci, ok := idx.byName[chrom]
	if !ok {
		return Region{}, false
	}
	c := &idx.chromosomes[ci]
	i := sort.Search(len(c.ends), func(i int) bool { return c.ends[i] >= pos })
	if i == len(c.ends) {
		return Region{}, false
	}
	r := idx.regions[c.first+i]
	if pos < r.Start {
		return Region{}, false
	}
	return r, true
}

// Overlapping returns the first and last (inclusive) ix of regions of chrom
// that overlap [start, end]. It returns false if there are none.
func (idx *Index) Overlapping(chrom string, start, end int64) (first, last int, ok bool) {
	ci, found := idx.byName[chrom]
	if !found || end < start {
		return 0, 0, false
	}
	c := &idx.chromosomes[ci]
	lo := sort.Search(len(c.ends), func(i int) bool { return c.ends[i] >= start })
	if lo == len(c.ends) {
		return 0, 0, false
	}
	hi := sort.Search(len(c.ends), func(i int) bool { return c.ends[i] >= end })
	if hi == len(c.ends) {
		hi = len(c.ends) - 1
	}
	if idx.regions[c.first+lo].Start > end {
		return 0, 0, false
	}
	return c.first + lo, c.first + hi, true
}
