package reads

import (
	"github.com/grailbio/base/log"
)

// FilterCount is the number of pairs rejected by one filter.
type FilterCount struct {
	Mask  Mask
	Count int64
}

// Stats summarizes a Generator run. Valid + sum(Filters[i].Count) == Total.
type Stats struct {
	Filters []FilterCount
	Valid   int64
	Total   int64
}

// Map returns the rejection counts keyed by mask name, plus the "valid" and
// "total" keys. Filters sharing a name are summed.
func (s Stats) Map() map[string]int64 {
	m := make(map[string]int64, len(s.Filters)+2)
	for _, fc := range s.Filters {
		m[fc.Mask.Name] += fc.Count
	}
	m["valid"] = s.Valid
	m["total"] = s.Total
	return m
}

// Generator applies read filters to the pairs of a Source. A pair is kept
// only if both of its reads pass every filter. A rejected pair is counted
// once, against the first filter (in registration order) that fails either
// read.
//
// Generator implements Source itself. It is not safe for concurrent use; the
// ingestion pipeline drives it from a single producer goroutine.
type Generator struct {
	src     Source
	filters []Filter
	counts  []int64
	valid   int64
	total   int64
}

// NewGenerator creates a Generator reading from src. An UnmappedFilter is
// always registered in slot 0. If src implements RejectReporter, unmapped
// records it drops before pairing are counted in that slot.
func NewGenerator(src Source) *Generator {
	g := &Generator{src: src}
	g.AddFilter(NewUnmappedFilter())
	if rr, ok := src.(RejectReporter); ok {
		rr.SetRejectFunc(g.reject)
	}
	return g
}

// AddFilter registers a filter after the existing ones and returns its mask,
// whose Ix is the filter's slot.
func (g *Generator) AddFilter(f Filter) Mask {
	m := f.Mask()
	m.Ix = len(g.filters)
	g.filters = append(g.filters, f)
	g.counts = append(g.counts, 0)
	return m
}

func (g *Generator) reject(r *Read) {
	g.total++
	g.counts[0]++
}

// Next implements Source.
func (g *Generator) Next() (Pair, bool) {
outer:
	for {
		p, ok := g.src.Next()
		if !ok {
			return Pair{}, false
		}
		g.total++
		for i, f := range g.filters {
			if !f.Valid(&p.R1) || !f.Valid(&p.R2) {
				g.counts[i]++
				continue outer
			}
		}
		g.valid++
		return p, true
	}
}

// Err implements Source.
func (g *Generator) Err() error { return g.src.Err() }

// Close implements Source.
func (g *Generator) Close() error { return g.src.Close() }

// Stats returns the counters accumulated so far.
func (g *Generator) Stats() Stats {
	s := Stats{
		Filters: make([]FilterCount, len(g.filters)),
		Valid:   g.valid,
		Total:   g.total,
	}
	for i, f := range g.filters {
		m := f.Mask()
		m.Ix = i
		s.Filters[i] = FilterCount{Mask: m, Count: g.counts[i]}
	}
	return s
}

// LogStats writes the filter counters to the info log.
func (g *Generator) LogStats() {
	s := g.Stats()
	for _, fc := range s.Filters {
		log.Printf("read filter %q: %d pairs rejected", fc.Mask.Name, fc.Count)
	}
	log.Printf("read pairs: %d valid of %d", s.Valid, s.Total)
}
