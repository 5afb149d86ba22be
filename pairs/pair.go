package pairs

import (
	"fmt"

	"github.com/grailbio/hic/regions"
)

// FragmentRead is a read bound to the restriction fragment that contains it.
type FragmentRead struct {
	Fragment regions.Region
	Position int64
	Strand   int8
}

// REDistance returns the distance of the read to the nearest end of its
// fragment, i.e. to the nearest restriction site.
func (r *FragmentRead) REDistance() int64 {
	d1 := abs64(r.Position - r.Fragment.Start)
	d2 := abs64(r.Position - r.Fragment.End)
	if d2 < d1 {
		return d2
	}
	return d1
}

func (r FragmentRead) String() string {
	strand := '+'
	if r.Strand < 0 {
		strand = '-'
	}
	return fmt.Sprintf("%s:%d(%c) in %v", r.Fragment.Chromosome, r.Position, strand, r.Fragment)
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// FragmentReadPair is a stored pair. Left.Fragment.Ix <= Right.Fragment.Ix;
// if both reads share a fragment, Left has the smaller position.
type FragmentReadPair struct {
	Ix          int32
	Left, Right FragmentRead
}

func (p FragmentReadPair) String() string {
	return fmt.Sprintf("%v -- %v", p.Left, p.Right)
}

// IsSameChromosome reports whether both reads map to the same chromosome.
func (p *FragmentReadPair) IsSameChromosome() bool {
	return p.Left.Fragment.Chromosome == p.Right.Fragment.Chromosome
}

// IsInward reports whether the reads face each other: left read on the plus
// strand, right read on the minus strand, same chromosome.
func (p *FragmentReadPair) IsInward() bool {
	return p.IsSameChromosome() && p.Left.Strand == 1 && p.Right.Strand == -1
}

// IsOutward reports whether the reads face away from each other: left read
// on the minus strand, right read on the plus strand, same chromosome.
func (p *FragmentReadPair) IsOutward() bool {
	return p.IsSameChromosome() && p.Left.Strand == -1 && p.Right.Strand == 1
}

// IsSameStrand reports whether both reads of a same-chromosome pair face in
// the same direction.
func (p *FragmentReadPair) IsSameStrand() bool {
	return p.IsSameChromosome() && p.Left.Strand == p.Right.Strand
}

// IsSameFragment reports whether both reads map to the same fragment, i.e.
// the pair is a self-ligation.
func (p *FragmentReadPair) IsSameFragment() bool {
	return p.IsSameChromosome() && p.Left.Fragment.Start == p.Right.Fragment.Start
}

// GapSize returns the distance in bp between the fragments of the pair. It is
// 0 for a self-ligation and for adjacent fragments. The second result is
// false for pairs spanning two chromosomes.
func (p *FragmentReadPair) GapSize() (int64, bool) {
	if !p.IsSameChromosome() {
		return 0, false
	}
	if p.IsSameFragment() {
		return 0, true
	}
	gap := p.Right.Fragment.Start - p.Left.Fragment.End
	if gap == 1 {
		return 0, true
	}
	return gap, true
}
