package pairs

import (
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hic/reads"
)

// PairFilter decides whether a stored pair is acceptable.
type PairFilter interface {
	// Mask describes the filter. Filter registers it with the store by name
	// and description; its Ix is ignored.
	Mask() reads.Mask
	// Valid returns false if the pair must be masked. It may be called
	// concurrently for pairs of different partitions.
	Valid(p *FragmentReadPair) bool
}

// Preparer is implemented by pair filters that need to see the whole store
// before a filtering pass, such as PCRDuplicateFilter. Prepare is called
// once per pass, before any call to Valid.
type Preparer interface {
	Prepare(s *Store) error
}

// FilterStats summarizes a filtering pass.
type FilterStats struct {
	// Total is the number of rows evaluated, i.e. the rows visible before
	// the pass.
	Total int64
	// Valid is the number of evaluated rows that are still visible.
	Valid int64
	// Masked counts the newly masked rows per mask name.
	Masked map[string]int64
}

func (fs *FilterStats) merge(o FilterStats) {
	fs.Total += o.Total
	fs.Valid += o.Valid
	for k, v := range o.Masked {
		fs.Masked[k] += v
	}
}

// Filter applies f to the store. If queue is true the filter is only
// registered and runs with the next call to RunQueuedFilters; the returned
// stats are then empty.
func (s *Store) Filter(f PairFilter, queue bool) (FilterStats, error) {
	if err := s.checkRegions(); err != nil {
		return FilterStats{}, err
	}
	if queue {
		s.queued = append(s.queued, f)
		return FilterStats{Masked: map[string]int64{}}, nil
	}
	return s.runFilters([]PairFilter{f})
}

// RunQueuedFilters applies all queued filters in a single pass over each
// partition. Each visible row is evaluated against the filters in the order
// they were queued and masked by the first one that rejects it. The queue
// is cleared even if the pass fails.
func (s *Store) RunQueuedFilters() (FilterStats, error) {
	if err := s.checkRegions(); err != nil {
		return FilterStats{}, err
	}
	filters := s.queued
	s.queued = nil
	return s.runFilters(filters)
}

func (s *Store) runFilters(filters []PairFilter) (FilterStats, error) {
	stats := FilterStats{Masked: map[string]int64{}}
	if len(filters) == 0 {
		return stats, nil
	}
	masks := make([]reads.Mask, len(filters))
	for i, f := range filters {
		m := f.Mask()
		masks[i] = s.AddMaskDescription(m.Name, m.Description)
		if p, ok := f.(Preparer); ok {
			if err := p.Prepare(s); err != nil {
				return stats, errors.E(err, fmt.Sprintf("pairs: preparing filter %q", m.Name))
			}
		}
	}
	var (
		mu      sync.Mutex
		changed bool
		keys    = s.keys
	)
	err := traverse.Each(len(keys), func(i int) error {
		p := s.parts[keys[i]]
		ps := FilterStats{Masked: map[string]int64{}}
		var pair FragmentReadPair
		for j := range p.edges {
			e := &p.edges[j]
			if e.Mask != 0 {
				continue
			}
			ps.Total++
			e.fill(s.idx, &pair)
			for k, f := range filters {
				if !f.Valid(&pair) {
					e.Mask = int32(masks[k].Ix)
					ps.Masked[masks[k].Name]++
					break
				}
			}
			if e.Mask == 0 {
				ps.Valid++
			}
		}
		mu.Lock()
		stats.merge(ps)
		if ps.Valid != ps.Total {
			changed = true
		}
		mu.Unlock()
		return nil
	})
	if changed {
		s.markIndexesStale()
	}
	if err != nil {
		return stats, err
	}
	log.Printf("pairs: filtering done. Total: %d. Valid: %d", stats.Total, stats.Valid)
	return stats, nil
}

// InwardPairsFilter masks inward-facing pairs whose fragments are at most
// MinimumDistance bp apart.
type InwardPairsFilter struct {
	MinimumDistance int64
}

// Mask implements PairFilter.
func (f *InwardPairsFilter) Mask() reads.Mask {
	return reads.Mask{Name: "inward ligation error",
		Description: fmt.Sprintf("Mask read pairs that are inward facing and < %dbp apart", f.MinimumDistance)}
}

// Valid implements PairFilter.
func (f *InwardPairsFilter) Valid(p *FragmentReadPair) bool {
	if !p.IsInward() {
		return true
	}
	gap, _ := p.GapSize()
	return gap > f.MinimumDistance
}

// OutwardPairsFilter masks outward-facing pairs whose fragments are at most
// MinimumDistance bp apart.
type OutwardPairsFilter struct {
	MinimumDistance int64
}

// Mask implements PairFilter.
func (f *OutwardPairsFilter) Mask() reads.Mask {
	return reads.Mask{Name: "outward ligation error",
		Description: fmt.Sprintf("Mask read pairs that are outward facing and < %dbp apart", f.MinimumDistance)}
}

// Valid implements PairFilter.
func (f *OutwardPairsFilter) Valid(p *FragmentReadPair) bool {
	if !p.IsOutward() {
		return true
	}
	gap, _ := p.GapSize()
	return gap > f.MinimumDistance
}

// ReDistanceFilter masks pairs whose reads are, in sum, more than
// MaximumDistance bp away from the nearest restriction site.
type ReDistanceFilter struct {
	MaximumDistance int64
}

// Mask implements PairFilter.
func (f *ReDistanceFilter) Mask() reads.Mask {
	return reads.Mask{Name: "restriction site distance",
		Description: fmt.Sprintf("Mask read pairs where the cumulative distance of reads to the nearest RE site exceeds %d", f.MaximumDistance)}
}

// Valid implements PairFilter.
func (f *ReDistanceFilter) Valid(p *FragmentReadPair) bool {
	return p.Left.REDistance()+p.Right.REDistance() <= f.MaximumDistance
}

// SelfLigationFilter masks pairs whose reads map to the same fragment.
type SelfLigationFilter struct{}

// Mask implements PairFilter.
func (SelfLigationFilter) Mask() reads.Mask {
	return reads.Mask{Name: "self-ligations", Description: "Mask read pairs that represent a self-ligated fragment"}
}

// Valid implements PairFilter.
func (SelfLigationFilter) Valid(p *FragmentReadPair) bool { return !p.IsSameFragment() }

// FilterInward masks inward-facing pairs closer than minDist. If minDist is
// nil the distance is inferred from the ligation structure biases of the
// visible pairs.
func (s *Store) FilterInward(minDist *int64, queue bool) (FilterStats, error) {
	d, err := s.ligationDistance(minDist, func(b *LigationBiases) []float64 { return b.InwardRatios }, "inward")
	if err != nil {
		return FilterStats{}, err
	}
	log.Printf("pairs: filtering out inward facing read pairs < %d bp apart", d)
	return s.Filter(&InwardPairsFilter{MinimumDistance: d}, queue)
}

// FilterOutward masks outward-facing pairs closer than minDist. If minDist
// is nil the distance is inferred from the ligation structure biases of the
// visible pairs.
func (s *Store) FilterOutward(minDist *int64, queue bool) (FilterStats, error) {
	d, err := s.ligationDistance(minDist, func(b *LigationBiases) []float64 { return b.OutwardRatios }, "outward")
	if err != nil {
		return FilterStats{}, err
	}
	log.Printf("pairs: filtering out outward facing read pairs < %d bp apart", d)
	return s.Filter(&OutwardPairsFilter{MinimumDistance: d}, queue)
}

// FilterLigationProducts applies FilterInward and then FilterOutward. The
// returned stats are merged.
func (s *Store) FilterLigationProducts(inward, outward *int64, queue bool) (FilterStats, error) {
	stats, err := s.FilterInward(inward, queue)
	if err != nil {
		return stats, err
	}
	out, err := s.FilterOutward(outward, queue)
	if err != nil {
		return stats, err
	}
	if !queue {
		// The outward pass only saw the survivors of the inward pass.
		stats.Valid = out.Valid
		for k, v := range out.Masked {
			stats.Masked[k] += v
		}
	}
	return stats, nil
}

// FilterReDist masks pairs whose summed distance to the nearest restriction
// sites exceeds maxDist.
func (s *Store) FilterReDist(maxDist int64, queue bool) (FilterStats, error) {
	return s.Filter(&ReDistanceFilter{MaximumDistance: maxDist}, queue)
}

// FilterSelfLigated masks self-ligated pairs.
func (s *Store) FilterSelfLigated(queue bool) (FilterStats, error) {
	return s.Filter(SelfLigationFilter{}, queue)
}

// FilterPCRDuplicates masks PCR duplicates using the given position
// threshold; see PCRDuplicateFilter.
func (s *Store) FilterPCRDuplicates(threshold int64, queue bool) (FilterStats, error) {
	return s.Filter(NewPCRDuplicateFilter(threshold), queue)
}

func (s *Store) ligationDistance(minDist *int64, ratios func(*LigationBiases) []float64, kind string) (int64, error) {
	if minDist != nil {
		return *minDist, nil
	}
	b, err := s.LigationStructureBiases(0, true)
	if err != nil {
		return 0, err
	}
	d, ok := AutoDistance(b.Distances, ratios(&b), b.BinSizes)
	if !ok || d == 0 {
		return 0, errors.E(errors.Precondition, fmt.Sprintf("pairs: could not infer a distance threshold for filtering %s pairs", kind))
	}
	return d, nil
}
