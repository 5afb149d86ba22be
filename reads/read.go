package reads

import (
	"fmt"

	"github.com/grailbio/hts/sam"
)

// MapQUnavailable is the SAM mapping quality meaning "not available". Reads
// from sources without mapping qualities carry this value.
const MapQUnavailable = 255

// Read is a single alignment. Pos is 1-based. Strand is +1 or -1.
//
// Record holds the full alignment, including aux tags and cigar, when the
// read comes from a SAM/BAM source. It is nil for minimal reads parsed from
// text pair files.
type Read struct {
	Name       string
	Chromosome string
	Pos        int64
	Strand     int8
	MapQ       byte
	Unmapped   bool
	Record     *sam.Record
}

// NewMinimalRead creates a read that carries only a location.
func NewMinimalRead(chrom string, pos int64, strand int8) Read {
	return Read{
		Chromosome: chrom,
		Pos:        pos,
		Strand:     strand,
		MapQ:       MapQUnavailable,
	}
}

// FromRecord converts a sam record. The 0-based record position becomes
// 1-based.
func FromRecord(r *sam.Record) Read {
	read := Read{
		Name:     r.Name,
		Pos:      int64(r.Pos) + 1,
		Strand:   1,
		MapQ:     r.MapQ,
		Unmapped: r.Flags&sam.Unmapped != 0 || r.Ref == nil,
		Record:   r,
	}
	if r.Ref != nil {
		read.Chromosome = r.Ref.Name()
	}
	if r.Flags&sam.Reverse != 0 {
		read.Strand = -1
	}
	return read
}

func (r *Read) String() string {
	strand := '+'
	if r.Strand < 0 {
		strand = '-'
	}
	return fmt.Sprintf("%s:%d(%c)", r.Chromosome, r.Pos, strand)
}

// Pair is a pair of mates as produced by a Source.
type Pair struct {
	R1, R2 Read
}

// Source produces read pairs. It is a lazy, finite, single-pass sequence.
//
// Usage:
//
//	for {
//		p, ok := src.Next()
//		if !ok {
//			break
//		}
//		...
//	}
//	if err := src.Err(); err != nil { ... }
type Source interface {
	// Next returns the next pair, or false when the source is exhausted or
	// failed.
	Next() (Pair, bool)
	// Err returns the error that stopped iteration, if any.
	Err() error
	// Close releases the underlying streams.
	Close() error
}

// RejectReporter is implemented by sources that drop reads before pairing
// them, e.g. unmapped records in a name-sorted alignment stream. The
// Generator installs itself as the reporter so that every dropped record is
// accounted for.
type RejectReporter interface {
	SetRejectFunc(func(r *Read))
}
