package pairs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hic/reads"
)

// DefaultDuplicateThreshold is the default position tolerance, in bp, of
// PCRDuplicateFilter.
const DefaultDuplicateThreshold = 3

// PCRDuplicateFilter masks pairs suspected to be PCR duplicates.
//
// Within each partition all rows, visible or masked, are sorted by left
// read position and scanned once. The first row of a cluster is its anchor;
// a following row joins the cluster if both its left and its right read
// positions are within Threshold bp of the anchor's. Otherwise it starts a
// new cluster. All cluster members except the anchor are duplicates.
type PCRDuplicateFilter struct {
	Threshold int64

	mu         sync.Mutex
	duplicates map[int32]struct{}
	// histogram maps a cluster size > 1 to the number of such clusters.
	histogram map[int]int64
}

// NewPCRDuplicateFilter creates a duplicate filter with the given
// threshold.
func NewPCRDuplicateFilter(threshold int64) *PCRDuplicateFilter {
	return &PCRDuplicateFilter{Threshold: threshold}
}

// Mask implements PairFilter.
func (f *PCRDuplicateFilter) Mask() reads.Mask {
	return reads.Mask{Name: "PCR duplicates", Description: "Mask read pairs that are considered PCR duplicates"}
}

type dupRow struct {
	ix          int32
	left, right int64
}

// Prepare implements Preparer. It finds the duplicates of every partition.
func (f *PCRDuplicateFilter) Prepare(s *Store) error {
	f.duplicates = make(map[int32]struct{})
	f.histogram = make(map[int]int64)
	keys := s.keys
	err := traverse.Each(len(keys), func(i int) error {
		dups, hist := findDuplicates(s.parts[keys[i]].edges, f.Threshold)
		f.mu.Lock()
		for _, ix := range dups {
			f.duplicates[ix] = struct{}{}
		}
		for size, n := range hist {
			f.histogram[size] += n
		}
		f.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	var pct float64
	if s.Len() > 0 {
		pct = 100 * float64(len(f.duplicates)) / float64(s.Len())
	}
	log.Printf("pairs: PCR duplicate stats: %d (%.1f%%) of pairs marked as duplicate. (multiplicity:occurrences) %s",
		len(f.duplicates), pct, formatHistogram(f.histogram))
	return nil
}

// findDuplicates returns the ixs of the duplicate rows of one partition and
// the cluster size histogram.
func findDuplicates(edges []Edge, threshold int64) ([]int32, map[int]int64) {
	rows := make([]dupRow, len(edges))
	for i := range edges {
		rows[i] = dupRow{edges[i].Ix, edges[i].LeftReadPosition, edges[i].RightReadPosition}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].left != rows[j].left {
			return rows[i].left < rows[j].left
		}
		return rows[i].ix < rows[j].ix
	})
	var (
		dups   []int32
		hist   = make(map[int]int64)
		anchor dupRow
		size   int
	)
	for _, r := range rows {
		if size > 0 && abs64(r.left-anchor.left) <= threshold && abs64(r.right-anchor.right) <= threshold {
			dups = append(dups, r.ix)
			size++
			continue
		}
		if size > 1 {
			hist[size]++
		}
		anchor, size = r, 1
	}
	if size > 1 {
		hist[size]++
	}
	return dups, hist
}

func formatHistogram(h map[int]int64) string {
	sizes := make([]int, 0, len(h))
	for size := range h {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	parts := make([]string, len(sizes))
	for i, size := range sizes {
		parts[i] = fmt.Sprintf("%d:%d", size, h[size])
	}
	return strings.Join(parts, " ")
}

// Valid implements PairFilter.
func (f *PCRDuplicateFilter) Valid(p *FragmentReadPair) bool {
	_, dup := f.duplicates[p.Ix]
	return !dup
}

// Histogram returns the number of duplicate clusters per cluster size, as
// of the last call to Prepare.
func (f *PCRDuplicateFilter) Histogram() map[int]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := make(map[int]int64, len(f.histogram))
	for k, v := range f.histogram {
		h[k] = v
	}
	return h
}

// NumDuplicates returns the number of duplicate rows found by the last call
// to Prepare.
func (f *PCRDuplicateFilter) NumDuplicates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.duplicates)
}
