// Package pairs implements an append-only store of read pairs resolved to
// restriction fragments, partitioned by the pair of chromosomes they
// connect.
//
// Rows are never deleted. Filtering sets the mask column of a row to the
// index of the mask that excluded it; rows with mask 0 are visible. The mask
// registry maps mask indices to names and descriptions and is saved with the
// store.
//
// A Store is not safe for concurrent use. Cursors and sorted indexes read
// the store's rows directly and must not be used while the store is being
// modified.
package pairs

import (
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hic/pipeline"
	"github.com/grailbio/hic/reads"
	"github.com/grailbio/hic/regions"
)

// VisibleMask is the mask of visible rows.
var VisibleMask = reads.Mask{Ix: 0, Name: "valid", Description: "Default mask: pairs that passed every filter"}

type partition struct {
	key   PartitionKey
	edges []Edge
}

// Store holds the regions and the partitioned pairs.
type Store struct {
	idx       *regions.Index
	parts     map[PartitionKey]*partition
	keys      []PartitionKey // sorted
	pairCount int32
	masks     []reads.Mask
	readStats map[string]int64
	queued    []PairFilter
	indexes   map[string]*Index
}

// New creates an empty store. AddRegions must be called before pairs are
// added.
func New() *Store {
	return &Store{
		parts:     make(map[PartitionKey]*partition),
		masks:     []reads.Mask{VisibleMask},
		readStats: make(map[string]int64),
		indexes:   make(map[string]*Index),
	}
}

// AddRegions registers the restriction fragments of the store. It may be
// called once, before any pair is added.
func (s *Store) AddRegions(regs []regions.Region) error {
	if s.idx != nil {
		return errors.E(errors.Precondition, "pairs: regions were already added")
	}
	if s.pairCount > 0 {
		return errors.E(errors.Precondition, "pairs: regions must be added before pairs")
	}
	idx, err := regions.NewIndex(regs)
	if err != nil {
		return err
	}
	s.idx = idx
	return nil
}

// Regions returns the region index, or nil if no regions were added.
func (s *Store) Regions() *regions.Index { return s.idx }

func (s *Store) checkRegions() error {
	if s.idx == nil {
		return errors.E(errors.Precondition, "pairs: no regions; call AddRegions first")
	}
	return nil
}

func (s *Store) partition(key PartitionKey) (*partition, error) {
	if p, ok := s.parts[key]; ok {
		return p, nil
	}
	n := int32(s.idx.NumChromosomes())
	if key.Source < 0 || key.Sink >= n || key.Source > key.Sink {
		return nil, errors.E(errors.Precondition, fmt.Sprintf("pairs: partition key %v outside of [0, %d)", key, n))
	}
	p := &partition{key: key}
	s.parts[key] = p
	i := sort.Search(len(s.keys), func(i int) bool { return !keyLess(s.keys[i], key) })
	s.keys = append(s.keys, PartitionKey{})
	copy(s.keys[i+1:], s.keys[i:])
	s.keys[i] = key
	return p, nil
}

func keyLess(a, b PartitionKey) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.Sink < b.Sink
}

// Append stores resolved pairs in the given partition. Each pair receives
// the next sequence number. Append implements pipeline.Sink.
func (s *Store) Append(key PartitionKey, rs []pipeline.Resolved) error {
	if err := s.checkRegions(); err != nil {
		return err
	}
	for i := range rs {
		r := &rs[i]
		if r.Key() != key || r.Left.Fragment > r.Right.Fragment {
			return errors.E(errors.Precondition, fmt.Sprintf("pairs: pair %+v does not belong to partition %v", *r, key))
		}
	}
	p, err := s.partition(key)
	if err != nil {
		return err
	}
	for i := range rs {
		p.edges = append(p.edges, edgeFromResolved(s.pairCount, &rs[i]))
		s.pairCount++
	}
	s.markIndexesStale()
	return nil
}

// AddPair stores a single fragment-resolved pair. The sides are swapped if
// needed so that the left fragment has the smaller index. The fragments must
// belong to the store's regions.
func (s *Store) AddPair(fp *FragmentReadPair) error {
	if err := s.checkRegions(); err != nil {
		return err
	}
	var r pipeline.Resolved
	for i, fr := range []*FragmentRead{&fp.Left, &fp.Right} {
		ix := fr.Fragment.Ix
		if ix < 0 || ix >= s.idx.Len() {
			return errors.E(errors.Precondition, fmt.Sprintf("pairs: fragment %v is not a region of the store", fr.Fragment))
		}
		side := pipeline.Side{
			Pos:           fr.Position,
			Strand:        fr.Strand,
			Fragment:      int32(ix),
			Chromosome:    s.idx.ChromosomeOfRegion(ix),
			FragmentStart: fr.Fragment.Start,
			FragmentEnd:   fr.Fragment.End,
		}
		if i == 0 {
			r.Left = side
		} else {
			r.Right = side
		}
	}
	if r.Left.Fragment > r.Right.Fragment || (r.Left.Fragment == r.Right.Fragment && r.Left.Pos > r.Right.Pos) {
		r.Left, r.Right = r.Right, r.Left
	}
	return s.Append(r.Key(), []pipeline.Resolved{r})
}

// AddReadPair resolves both reads of p against the store's regions and
// stores the pair. It returns a NotExist error if either read lies outside
// every region.
func (s *Store) AddReadPair(p reads.Pair) error {
	if err := s.checkRegions(); err != nil {
		return err
	}
	r, ok := pipeline.Resolve(s.idx, &p)
	if !ok {
		return errors.E(errors.NotExist, fmt.Sprintf("pairs: no fragment for pair %v / %v", &p.R1, &p.R2))
	}
	return s.Append(r.Key(), []pipeline.Resolved{r})
}

// StatsSource is implemented by sources that keep per-filter read
// statistics, such as *reads.Generator.
type StatsSource interface {
	reads.Source
	Stats() reads.Stats
}

// AddReadPairs stores every pair of src using the ingestion pipeline. If src
// is a StatsSource its read statistics are added to the store's metadata.
func (s *Store) AddReadPairs(ctx context.Context, src reads.Source, opts pipeline.Opts) (pipeline.Stats, error) {
	if err := s.checkRegions(); err != nil {
		return pipeline.Stats{}, err
	}
	stats, err := pipeline.Run(ctx, src, s.idx, s, opts)
	if err != nil {
		return stats, err
	}
	if ss, ok := src.(StatsSource); ok {
		for k, v := range ss.Stats().Map() {
			s.readStats[k] += v
		}
	}
	return stats, nil
}

// Len returns the number of stored rows, masked rows included.
func (s *Store) Len() int { return int(s.pairCount) }

// Partitions returns the keys of the non-empty partitions in ascending
// order.
func (s *Store) Partitions() []PartitionKey {
	return append([]PartitionKey(nil), s.keys...)
}

// Edge returns the i'th row, counting rows partition by partition in key
// order. Negative values count from the end.
func (s *Store) Edge(i int) (Edge, error) {
	orig := i
	if i < 0 {
		i += s.Len()
	}
	if i >= 0 {
		for _, key := range s.keys {
			p := s.parts[key]
			if i < len(p.edges) {
				return p.edges[i], nil
			}
			i -= len(p.edges)
		}
	}
	return Edge{}, errors.E(errors.NotExist, fmt.Sprintf("pairs: row %d out of range", orig))
}

// AddMaskDescription registers a mask and returns it. A mask with the same
// name and description is only registered once.
func (s *Store) AddMaskDescription(name, description string) reads.Mask {
	for _, m := range s.masks {
		if m.Name == name && m.Description == description {
			return m
		}
	}
	m := reads.Mask{Ix: len(s.masks), Name: name, Description: description}
	s.masks = append(s.masks, m)
	return m
}

// Masks returns the mask registry. Masks()[0] is VisibleMask.
func (s *Store) Masks() []reads.Mask {
	return append([]reads.Mask(nil), s.masks...)
}

// MaskStatistics returns the number of rows per mask name. Visible rows are
// counted under "valid". Every registered mask has an entry.
func (s *Store) MaskStatistics() map[string]int64 {
	counts := make([]int64, len(s.masks))
	for _, p := range s.parts {
		for i := range p.edges {
			counts[p.edges[i].Mask]++
		}
	}
	stats := make(map[string]int64, len(s.masks))
	for i, m := range s.masks {
		stats[m.Name] += counts[i]
	}
	return stats
}

// FilterStatistics combines the mask statistics with the read statistics
// recorded during ingestion. Read statistics win for keys present in both,
// except "valid", which always counts the visible rows. "total" is the
// number of stored rows unless the read statistics provide it.
func (s *Store) FilterStatistics() map[string]int64 {
	stats := s.MaskStatistics()
	stats["total"] = int64(s.Len())
	for k, v := range s.readStats {
		if k == "valid" {
			continue
		}
		stats[k] = v
	}
	return stats
}

// ReadStatistics returns the read-filter statistics recorded during
// ingestion.
func (s *Store) ReadStatistics() map[string]int64 {
	m := make(map[string]int64, len(s.readStats))
	for k, v := range s.readStats {
		m[k] = v
	}
	return m
}

func (s *Store) markIndexesStale() {
	for _, index := range s.indexes {
		index.stale = true
	}
}

func (s *Store) logSummary() {
	log.Printf("pairs: %d rows in %d partitions, %d regions", s.Len(), len(s.keys), s.idx.Len())
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
