package pairs

import (
	"github.com/biogo/store/llrb"
)

// Column is a numeric value derived from a row, used as the sort key of an
// Index. Value returns false for rows that have no value; those rows are
// left out of the index.
type Column struct {
	Name  string
	Value func(e *Edge) (int64, bool)
}

var (
	// ColumnGapSize orders intra-chromosomal pairs by the gap between their
	// fragments.
	ColumnGapSize = Column{Name: "gap_size", Value: func(e *Edge) (int64, bool) {
		if e.LeftFragmentChromosome != e.RightFragmentChromosome {
			return 0, false
		}
		if e.Source == e.Sink {
			return 0, true
		}
		gap := e.RightFragmentStart - e.LeftFragmentEnd
		if gap == 1 {
			gap = 0
		}
		return gap, true
	}}
	// ColumnREDistance orders pairs by the summed distance of their reads to
	// the nearest restriction sites.
	ColumnREDistance = Column{Name: "re_distance", Value: func(e *Edge) (int64, bool) {
		l := FragmentRead{Position: e.LeftReadPosition}
		l.Fragment.Start, l.Fragment.End = e.LeftFragmentStart, e.LeftFragmentEnd
		r := FragmentRead{Position: e.RightReadPosition}
		r.Fragment.Start, r.Fragment.End = e.RightFragmentStart, e.RightFragmentEnd
		return l.REDistance() + r.REDistance(), true
	}}
	// ColumnDistance orders intra-chromosomal pairs by the distance between
	// their reads.
	ColumnDistance = Column{Name: "read_distance", Value: func(e *Edge) (int64, bool) {
		if e.LeftFragmentChromosome != e.RightFragmentChromosome {
			return 0, false
		}
		return abs64(e.RightReadPosition - e.LeftReadPosition), true
	}}
)

// indexItem is one row of an Index. Items are ordered by value, then by row
// ix.
type indexItem struct {
	value int64
	edge  *Edge
}

// Compare implements llrb.Comparable.
func (a *indexItem) Compare(c llrb.Comparable) int {
	b := c.(*indexItem)
	switch {
	case a.value < b.value:
		return -1
	case a.value > b.value:
		return 1
	case a.edge.Ix < b.edge.Ix:
		return -1
	case a.edge.Ix > b.edge.Ix:
		return 1
	}
	return 0
}

// Index orders the visible rows of a store by a column. It becomes stale
// when rows are added or filtered, and is rebuilt on the next use.
type Index struct {
	s     *Store
	col   Column
	tree  llrb.Tree
	stale bool
}

// SortedIndex returns the index of the store's visible rows ordered by
// col. Indexes are cached by column name.
func (s *Store) SortedIndex(col Column) *Index {
	if index, ok := s.indexes[col.Name]; ok {
		return index
	}
	index := &Index{s: s, col: col, stale: true}
	s.indexes[col.Name] = index
	return index
}

// Stale reports whether the index must be rebuilt before use.
func (x *Index) Stale() bool { return x.stale }

func (x *Index) refresh() {
	if !x.stale {
		return
	}
	x.tree = llrb.Tree{}
	for _, key := range x.s.keys {
		edges := x.s.parts[key].edges
		for i := range edges {
			e := &edges[i]
			if e.Mask != 0 {
				continue
			}
			if v, ok := x.col.Value(e); ok {
				x.tree.Insert(&indexItem{value: v, edge: e})
			}
		}
	}
	x.stale = false
}

// Len returns the number of indexed rows.
func (x *Index) Len() int {
	x.refresh()
	return x.tree.Len()
}

// TopK returns the k rows with the largest values, largest first. Rows with
// equal values are ordered by decreasing ix.
func (x *Index) TopK(k int) []Edge {
	x.refresh()
	var top []Edge
	if k <= 0 {
		return top
	}
	x.tree.DoReverse(func(c llrb.Comparable) bool {
		top = append(top, *c.(*indexItem).edge)
		return len(top) >= k
	})
	return top
}

// Ascend calls fn for the indexed rows in ascending order until fn returns
// false.
func (x *Index) Ascend(fn func(value int64, e *Edge) bool) {
	x.refresh()
	x.tree.Do(func(c llrb.Comparable) bool {
		item := c.(*indexItem)
		return !fn(item.value, item.edge)
	})
}
