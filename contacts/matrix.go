// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package contacts holds fragment-level contact matrices derived from a pair
// store.
package contacts

import (
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hic/regions"
	"gonum.org/v1/gonum/mat"
)

// Entry is one non-zero cell of the upper triangle of a Matrix.
type Entry struct {
	Source, Sink int32
	Weight       int64
}

type cell struct {
	source, sink int32
}

// Matrix is a sparse, symmetric matrix of contact counts between the regions
// of an index. Only the upper triangle is stored.
type Matrix struct {
	idx    *regions.Index
	counts map[cell]int64
	total  int64
}

// New creates an empty matrix over the regions of idx.
func New(idx *regions.Index) *Matrix {
	return &Matrix{idx: idx, counts: make(map[cell]int64)}
}

// Regions returns the region index of the matrix.
func (m *Matrix) Regions() *regions.Index { return m.idx }

func (m *Matrix) cell(i, j int) cell {
	n := m.idx.Len()
	if i < 0 || i >= n || j < 0 || j >= n {
		panic(fmt.Sprintf("contacts: cell (%d, %d) outside of %d regions", i, j, n))
	}
	if i > j {
		i, j = j, i
	}
	return cell{int32(i), int32(j)}
}

// Add adds n contacts between regions i and j.
func (m *Matrix) Add(i, j int, n int64) {
	if n == 0 {
		return
	}
	m.counts[m.cell(i, j)] += n
	m.total += n
}

// Merge adds all contacts of o, which must be defined over the same
// regions, to m.
func (m *Matrix) Merge(o *Matrix) {
	for c, n := range o.counts {
		m.counts[c] += n
	}
	m.total += o.total
}

// Count returns the number of contacts between regions i and j.
func (m *Matrix) Count(i, j int) int64 { return m.counts[m.cell(i, j)] }

// Len returns the number of non-zero cells of the upper triangle.
func (m *Matrix) Len() int { return len(m.counts) }

// Total returns the number of contacts in the matrix.
func (m *Matrix) Total() int64 { return m.total }

// Entries returns the non-zero cells ordered by source, then sink.
func (m *Matrix) Entries() []Entry {
	entries := make([]Entry, 0, len(m.counts))
	for c, n := range m.counts {
		entries = append(entries, Entry{Source: c.source, Sink: c.sink, Weight: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Source != entries[j].Source {
			return entries[i].Source < entries[j].Source
		}
		return entries[i].Sink < entries[j].Sink
	})
	return entries
}

// Dense returns the sub-matrix of rows [rowStart, rowEnd) and columns
// [colStart, colEnd), with both triangles filled in.
func (m *Matrix) Dense(rowStart, rowEnd, colStart, colEnd int) *mat.Dense {
	if rowEnd <= rowStart || colEnd <= colStart {
		panic(fmt.Sprintf("contacts: empty sub-matrix [%d,%d)x[%d,%d)", rowStart, rowEnd, colStart, colEnd))
	}
	d := mat.NewDense(rowEnd-rowStart, colEnd-colStart, nil)
	for c, n := range m.counts {
		i, j := int(c.source), int(c.sink)
		if i >= rowStart && i < rowEnd && j >= colStart && j < colEnd {
			d.Set(i-rowStart, j-colStart, float64(n))
		}
		if i != j && j >= rowStart && j < rowEnd && i >= colStart && i < colEnd {
			d.Set(j-rowStart, i-colStart, float64(n))
		}
	}
	return d
}

// WriteTSV writes the non-zero cells of the upper triangle as
// "source sink weight" lines with a header.
func (m *Matrix) WriteTSV(w io.Writer) error {
	out := tsv.NewWriter(w)
	out.WriteString("source")
	out.WriteString("sink")
	out.WriteString("weight")
	if err := out.EndLine(); err != nil {
		return err
	}
	for _, e := range m.Entries() {
		out.WriteInt64(int64(e.Source))
		out.WriteInt64(int64(e.Sink))
		out.WriteInt64(e.Weight)
		if err := out.EndLine(); err != nil {
			return err
		}
	}
	return out.Flush()
}
