package pairs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// Key selects pairs by region. A region string has the form
// chromosome[:start-end]; start and end are 1-based and inclusive.
//
// With only First set, a pair is selected if its left or its right read
// lies in a fragment overlapping First. With both set, one read must lie in
// First and the other in Second.
type Key struct {
	First, Second string
}

// span is a parsed region string: a chromosome and an inclusive range of
// region ixs.
type span struct {
	chrom       int32
	first, last int32
}

func (sp span) contains(fragment int32) bool {
	return fragment >= sp.first && fragment <= sp.last
}

func (s *Store) parseSpan(str string) (span, error) {
	chrom, rng := str, ""
	if i := strings.LastIndexByte(str, ':'); i >= 0 {
		chrom, rng = str[:i], str[i+1:]
	}
	ci, ok := s.idx.ChromosomeIx(chrom)
	if !ok {
		return span{}, errors.E(errors.NotExist, fmt.Sprintf("pairs: unknown chromosome in %q", str))
	}
	first, last := s.idx.ChromosomeRange(ci)
	if rng == "" {
		return span{chrom: int32(ci), first: int32(first), last: int32(last)}, nil
	}
	dash := strings.IndexByte(rng, '-')
	if dash < 0 {
		return span{}, errors.E(errors.Invalid, fmt.Sprintf("pairs: malformed region %q, expected chr:start-end", str))
	}
	start, err := strconv.ParseInt(strings.Replace(rng[:dash], ",", "", -1), 10, 64)
	if err != nil {
		return span{}, errors.E(errors.Invalid, err, fmt.Sprintf("pairs: malformed region start in %q", str))
	}
	end, err := strconv.ParseInt(strings.Replace(rng[dash+1:], ",", "", -1), 10, 64)
	if err != nil {
		return span{}, errors.E(errors.Invalid, err, fmt.Sprintf("pairs: malformed region end in %q", str))
	}
	lo, hi, ok := s.idx.Overlapping(chrom, start, end)
	if !ok {
		// An empty range selects nothing.
		return span{chrom: int32(ci), first: 0, last: -1}, nil
	}
	return span{chrom: int32(ci), first: int32(lo), last: int32(hi)}, nil
}

// selection resolves a key into the partitions to scan and a row predicate.
func (s *Store) selection(key *Key) ([]*partition, func(e *Edge) bool, error) {
	var parts []*partition
	if key == nil {
		for _, k := range s.keys {
			parts = append(parts, s.parts[k])
		}
		return parts, nil, nil
	}
	a, err := s.parseSpan(key.First)
	if err != nil {
		return nil, nil, err
	}
	if key.Second == "" {
		for _, k := range s.keys {
			if k.Source == a.chrom || k.Sink == a.chrom {
				parts = append(parts, s.parts[k])
			}
		}
		return parts, func(e *Edge) bool {
			return a.contains(e.Source) || a.contains(e.Sink)
		}, nil
	}
	b, err := s.parseSpan(key.Second)
	if err != nil {
		return nil, nil, err
	}
	pk := PartitionKey{Source: a.chrom, Sink: b.chrom}
	if pk.Source > pk.Sink {
		pk.Source, pk.Sink = pk.Sink, pk.Source
	}
	if p, ok := s.parts[pk]; ok {
		parts = append(parts, p)
	}
	return parts, func(e *Edge) bool {
		return (a.contains(e.Source) && b.contains(e.Sink)) || (b.contains(e.Source) && a.contains(e.Sink))
	}, nil
}

// Cursor iterates over the visible pairs of a selection:
//
//	c := store.Pairs(nil, true)
//	for c.Next() {
//		p := c.Pair()
//		...
//	}
//	if err := c.Err(); err != nil {
//		...
//	}
//
// A lazy cursor returns the same *FragmentReadPair from every call to Pair;
// its contents are only valid until the next call to Next. The *Edge
// returned by Edge points into the store and is valid as long as the store
// is not modified.
type Cursor struct {
	s     *Store
	parts []*partition
	match func(e *Edge) bool
	lazy  bool
	err   error

	pi, ei int
	edge   *Edge
	pair   FragmentReadPair
	filled bool
}

// Pairs returns a cursor over the visible pairs selected by key. A nil key
// selects every pair. Errors in key are reported by the cursor's Err.
func (s *Store) Pairs(key *Key, lazy bool) *Cursor {
	c := &Cursor{s: s, lazy: lazy, ei: -1}
	if err := s.checkRegions(); err != nil {
		c.err = err
		return c
	}
	c.parts, c.match, c.err = s.selection(key)
	return c
}

// PairsByChromosomes returns a cursor over the visible pairs connecting the
// two chromosomes.
func (s *Store) PairsByChromosomes(chrom1, chrom2 string, lazy bool) *Cursor {
	return s.Pairs(&Key{First: chrom1, Second: chrom2}, lazy)
}

// Next advances to the next visible pair. It returns false at the end of
// the selection or on error.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	for c.pi < len(c.parts) {
		edges := c.parts[c.pi].edges
		for c.ei++; c.ei < len(edges); c.ei++ {
			e := &edges[c.ei]
			if e.Mask != 0 || (c.match != nil && !c.match(e)) {
				continue
			}
			c.edge = e
			c.filled = false
			return true
		}
		c.pi++
		c.ei = -1
	}
	c.edge = nil
	return false
}

// Edge returns the current row.
func (c *Cursor) Edge() *Edge { return c.edge }

// Pair returns the current pair. See Cursor for the aliasing rules of lazy
// cursors.
func (c *Cursor) Pair() *FragmentReadPair {
	if c.lazy {
		if !c.filled {
			c.edge.fill(c.s.idx, &c.pair)
			c.filled = true
		}
		return &c.pair
	}
	p := new(FragmentReadPair)
	c.edge.fill(c.s.idx, p)
	return p
}

// Err returns the error that stopped the iteration, if any.
func (c *Cursor) Err() error { return c.err }
