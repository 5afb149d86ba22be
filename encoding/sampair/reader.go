// Package sampair re-pairs the mates of two alignment streams, one per mate,
// that are sorted by read name (samtools sort -n).
//
// Reads of the same name are grouped into a bucket per stream; a bucket with
// more than one record holds a chimeric (split) alignment. When both streams
// point at the same name the buckets are resolved into one pair:
//
//   - one record on each side yields a normal pair;
//   - one record on one side and two on the other yields a chimeric pair if
//     exactly one of the two parts maps near the single mate (the same
//     ligation product read through) and the other part maps elsewhere. The
//     distant part stands in for the chimeric mate;
//   - anything else is dropped and counted as abnormal.
//
// Unmapped records never enter a bucket. They are reported to the
// reads.RejectReporter callback so that filter accounting stays complete.
package sampair

import (
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hic/reads"
	"github.com/grailbio/hts/sam"
)

// AlignmentReader is a stream of alignments. *sam.Reader and *bam.Reader
// satisfy it.
type AlignmentReader interface {
	Read() (*sam.Record, error)
}

// Opts controls a Reader.
type Opts struct {
	// CheckSorted makes a name order inversion in either stream a fatal
	// error.
	CheckSorted bool
	// MaxDistSameLocus is the maximum distance, in bp, at which a part of a
	// chimeric alignment is considered to map to the same locus as the
	// other mate.
	MaxDistSameLocus int
}

// DefaultOpts is the default configuration.
var DefaultOpts = Opts{
	CheckSorted:      true,
	MaxDistSameLocus: 100,
}

// Stats counts the outcome of name matches.
type Stats struct {
	Normal   int64
	Chimeric int64
	Abnormal int64
}

// stream is one name-sorted input with a single record of read-ahead.
type stream struct {
	r      AlignmentReader
	label  string
	next   *sam.Record
	name   string
	bucket []*sam.Record
}

// Reader merges two name-sorted alignment streams into read pairs. It
// implements reads.Source and reads.RejectReporter. Reader is not threadsafe.
type Reader struct {
	opts    Opts
	s1, s2  stream
	reject  func(r *reads.Read)
	stats   Stats
	started bool
	eof     bool
	done    bool
	err     error
	closer  func() error
}

// NewReader creates a Reader from the mate 1 and mate 2 streams. A
// non-positive opts.MaxDistSameLocus selects DefaultOpts.MaxDistSameLocus.
func NewReader(r1, r2 AlignmentReader, opts Opts) *Reader {
	if opts.MaxDistSameLocus <= 0 {
		opts.MaxDistSameLocus = DefaultOpts.MaxDistSameLocus
	}
	return &Reader{
		opts: opts,
		s1:   stream{r: r1, label: "first"},
		s2:   stream{r: r2, label: "second"},
	}
}

// SetRejectFunc implements reads.RejectReporter.
func (r *Reader) SetRejectFunc(fn func(*reads.Read)) { r.reject = fn }

// Stats returns the pairing counters. They are complete once Next has
// returned false.
func (r *Reader) Stats() Stats { return r.stats }

// fill reads the next bucket of same-name mapped records into s. It returns
// false when the stream is exhausted.
func (r *Reader) fill(s *stream) (bool, error) {
	s.bucket = s.bucket[:0]
	for {
		rec := s.next
		s.next = nil
		if rec == nil {
			var err error
			rec, err = s.r.Read()
			if err == io.EOF {
				return len(s.bucket) > 0, nil
			}
			if err != nil {
				return false, err
			}
		}
		if rec.Flags&sam.Unmapped != 0 || rec.Ref == nil {
			if r.reject != nil {
				read := reads.FromRecord(rec)
				r.reject(&read)
			}
			continue
		}
		if len(s.bucket) > 0 && rec.Name != s.name {
			s.next = rec
			return true, nil
		}
		if len(s.bucket) == 0 {
			s.name = rec.Name
		}
		s.bucket = append(s.bucket, rec)
	}
}

// advance moves s to its next bucket and checks the name order.
func (r *Reader) advance(s *stream) bool {
	prev := s.name
	ok, err := r.fill(s)
	if err != nil {
		r.err = err
		return false
	}
	if !ok {
		r.eof = true
		return false
	}
	if r.opts.CheckSorted && NaturalCompare(prev, s.name) > 0 {
		r.err = errors.E(errors.Invalid, fmt.Sprintf(
			"%s alignment file is not sorted by read name (samtools sort -n): %s before %s",
			s.label, prev, s.name))
		return false
	}
	return true
}

// Next implements reads.Source.
func (r *Reader) Next() (reads.Pair, bool) {
	if !r.started {
		r.started = true
		for _, s := range []*stream{&r.s1, &r.s2} {
			ok, err := r.fill(s)
			if err != nil {
				r.err = err
				return reads.Pair{}, false
			}
			if !ok {
				r.eof = true
			}
		}
	}
	for !r.eof && r.err == nil {
		c := NaturalCompare(r.s1.name, r.s2.name)
		switch {
		case c < 0:
			r.advance(&r.s1)
		case c > 0:
			r.advance(&r.s2)
		default:
			rec1, rec2, chimeric, ok := r.findPair(r.s1.bucket, r.s2.bucket)
			if ok && chimeric {
				r.stats.Chimeric++
			} else if ok {
				r.stats.Normal++
			} else {
				r.stats.Abnormal++
			}
			if r.advance(&r.s1) {
				r.advance(&r.s2)
			}
			if ok {
				return reads.Pair{R1: reads.FromRecord(rec1), R2: reads.FromRecord(rec2)}, true
			}
		}
	}
	r.finish()
	return reads.Pair{}, false
}

func (r *Reader) finish() {
	if r.done {
		return
	}
	r.done = true
	if r.err != nil {
		return
	}
	log.Printf("done generating read pairs: %d normal, %d chimeric, %d abnormal",
		r.stats.Normal, r.stats.Chimeric, r.stats.Abnormal)
}

// interval is a half-open reference interval [start, end).
type interval struct{ start, end int }

// longestMatch returns the reference interval covered by the longest
// aligned (M, = or X) block of the record.
func longestMatch(rec *sam.Record) (interval, bool) {
	var (
		best int
		iv   interval
		pos  = rec.Pos
	)
	for _, op := range rec.Cigar {
		t, n := op.Type(), op.Len()
		switch t {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if n > best {
				best = n
				iv = interval{pos, pos + n}
			}
		}
		if t.Consumes().Reference > 0 {
			pos += n
		}
	}
	return iv, best > 0
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// findPair resolves two same-name buckets. The returned records keep mate
// order: rec1 comes from the first stream.
func (r *Reader) findPair(b1, b2 []*sam.Record) (rec1, rec2 *sam.Record, chimeric, ok bool) {
	switch {
	case len(b1) == 1 && len(b2) == 1:
		return b1[0], b2[0], false, true
	case len(b1) == 1 && len(b2) == 2:
		far, ok := r.resolveChimeric(b1[0], b2)
		return b1[0], far, true, ok
	case len(b1) == 2 && len(b2) == 1:
		far, ok := r.resolveChimeric(b2[0], b1)
		return far, b2[0], true, ok
	}
	return nil, nil, false, false
}

// resolveChimeric picks the part of a two-part chimeric alignment that maps
// away from the single mate. It fails unless exactly one part maps near the
// mate and the other one does not.
func (r *Reader) resolveChimeric(single *sam.Record, parts []*sam.Record) (*sam.Record, bool) {
	siv, ok := longestMatch(single)
	if !ok {
		return nil, false
	}
	var (
		far  *sam.Record
		near bool
	)
	for _, part := range parts {
		if part.Ref.Name() != single.Ref.Name() {
			far = part
			continue
		}
		piv, ok := longestMatch(part)
		if !ok {
			return nil, false
		}
		d := abs(piv.start - siv.end)
		if d2 := abs(piv.end - siv.start); d2 < d {
			d = d2
		}
		if d > r.opts.MaxDistSameLocus {
			far = part
		} else {
			near = true
		}
	}
	if !near || far == nil {
		return nil, false
	}
	return far, true
}

// Err implements reads.Source.
func (r *Reader) Err() error { return r.err }

// Close implements reads.Source.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	closer := r.closer
	r.closer = nil
	return closer()
}
