package pairs

import (
	"encoding/binary"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hic/pipeline"
	"github.com/grailbio/hic/regions"
)

// PartitionKey identifies a partition by the chromosome indices of its left
// and right fragments. Source <= Sink.
type PartitionKey = pipeline.PartitionKey

// Edge is one stored row. Source and Sink are the region indices of the
// left and right fragments, Source <= Sink. Mask is 0 for a visible row and
// otherwise the index of the mask that excluded it; it is the only field
// that changes after the row is written.
type Edge struct {
	Ix                      int32
	Source, Sink            int32
	LeftReadPosition        int64
	RightReadPosition       int64
	LeftReadStrand          int8
	RightReadStrand         int8
	LeftFragmentStart       int64
	LeftFragmentEnd         int64
	RightFragmentStart      int64
	RightFragmentEnd        int64
	LeftFragmentChromosome  int32
	RightFragmentChromosome int32
	Mask                    int32
}

// edgeSize is the width of a serialized edge, excluding the mask column.
const edgeSize = 4 + 4 + 4 + 8 + 8 + 1 + 1 + 8 + 8 + 8 + 8 + 4 + 4

// Key returns the partition of the edge.
func (e *Edge) Key() PartitionKey {
	return PartitionKey{Source: e.LeftFragmentChromosome, Sink: e.RightFragmentChromosome}
}

func edgeFromResolved(ix int32, r *pipeline.Resolved) Edge {
	return Edge{
		Ix:                      ix,
		Source:                  r.Left.Fragment,
		Sink:                    r.Right.Fragment,
		LeftReadPosition:        r.Left.Pos,
		RightReadPosition:       r.Right.Pos,
		LeftReadStrand:          r.Left.Strand,
		RightReadStrand:         r.Right.Strand,
		LeftFragmentStart:       r.Left.FragmentStart,
		LeftFragmentEnd:         r.Left.FragmentEnd,
		RightFragmentStart:      r.Right.FragmentStart,
		RightFragmentEnd:        r.Right.FragmentEnd,
		LeftFragmentChromosome:  r.Left.Chromosome,
		RightFragmentChromosome: r.Right.Chromosome,
	}
}

// fill sets p from e. Chromosome names come from idx.
func (e *Edge) fill(idx *regions.Index, p *FragmentReadPair) {
	p.Ix = e.Ix
	p.Left.Position = e.LeftReadPosition
	p.Left.Strand = e.LeftReadStrand
	p.Left.Fragment = regions.Region{
		Chromosome: idx.ChromosomeName(int(e.LeftFragmentChromosome)),
		Start:      e.LeftFragmentStart,
		End:        e.LeftFragmentEnd,
		Ix:         int(e.Source),
	}
	p.Right.Position = e.RightReadPosition
	p.Right.Strand = e.RightReadStrand
	p.Right.Fragment = regions.Region{
		Chromosome: idx.ChromosomeName(int(e.RightFragmentChromosome)),
		Start:      e.RightFragmentStart,
		End:        e.RightFragmentEnd,
		Ix:         int(e.Sink),
	}
}

// marshalEdge writes the fixed-width little-endian encoding of the edge,
// without its mask.
func marshalEdge(scratch []byte, v interface{}) ([]byte, error) {
	t := scratch
	if len(t) < edgeSize {
		t = make([]byte, edgeSize)
	}
	t = t[:edgeSize]
	e := v.(*Edge)
	binary.LittleEndian.PutUint32(t[0:4], uint32(e.Ix))
	binary.LittleEndian.PutUint32(t[4:8], uint32(e.Source))
	binary.LittleEndian.PutUint32(t[8:12], uint32(e.Sink))
	binary.LittleEndian.PutUint64(t[12:20], uint64(e.LeftReadPosition))
	binary.LittleEndian.PutUint64(t[20:28], uint64(e.RightReadPosition))
	t[28] = byte(e.LeftReadStrand)
	t[29] = byte(e.RightReadStrand)
	binary.LittleEndian.PutUint64(t[30:38], uint64(e.LeftFragmentStart))
	binary.LittleEndian.PutUint64(t[38:46], uint64(e.LeftFragmentEnd))
	binary.LittleEndian.PutUint64(t[46:54], uint64(e.RightFragmentStart))
	binary.LittleEndian.PutUint64(t[54:62], uint64(e.RightFragmentEnd))
	binary.LittleEndian.PutUint32(t[62:66], uint32(e.LeftFragmentChromosome))
	binary.LittleEndian.PutUint32(t[66:70], uint32(e.RightFragmentChromosome))
	return t, nil
}

func unmarshalEdge(in []byte) (interface{}, error) {
	if len(in) != edgeSize {
		return nil, errors.E(errors.Invalid, "corrupt edge record")
	}
	in = in[:edgeSize]
	return &Edge{
		Ix:                      int32(binary.LittleEndian.Uint32(in[0:4])),
		Source:                  int32(binary.LittleEndian.Uint32(in[4:8])),
		Sink:                    int32(binary.LittleEndian.Uint32(in[8:12])),
		LeftReadPosition:        int64(binary.LittleEndian.Uint64(in[12:20])),
		RightReadPosition:       int64(binary.LittleEndian.Uint64(in[20:28])),
		LeftReadStrand:          int8(in[28]),
		RightReadStrand:         int8(in[29]),
		LeftFragmentStart:       int64(binary.LittleEndian.Uint64(in[30:38])),
		LeftFragmentEnd:         int64(binary.LittleEndian.Uint64(in[38:46])),
		RightFragmentStart:      int64(binary.LittleEndian.Uint64(in[46:54])),
		RightFragmentEnd:        int64(binary.LittleEndian.Uint64(in[54:62])),
		LeftFragmentChromosome:  int32(binary.LittleEndian.Uint32(in[62:66])),
		RightFragmentChromosome: int32(binary.LittleEndian.Uint32(in[66:70])),
	}, nil
}
