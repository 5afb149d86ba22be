// Package pairtxt reads read pairs from delimited text files, one pair per
// line. Generic column layouts are described by Opts; presets exist for
// HiC-Pro validPairs files and 4D Nucleome ".pairs" files.
package pairtxt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hic/reads"
	"github.com/klauspost/compress/gzip"
)

// NoField marks an absent strand column. Reads then default to the plus
// strand.
const NoField = -1

// Opts describes the column layout of a text pair file. Field indices are
// 0-based.
type Opts struct {
	// Sep is the field separator. Empty means any run of whitespace.
	Sep string

	Chr1, Pos1, Strand1 int
	Chr2, Pos2, Strand2 int
}

// DefaultOpts is the layout "name chr1 pos1 strand1 chr2 pos2 strand2",
// whitespace separated.
var DefaultOpts = Opts{
	Chr1: 1, Pos1: 2, Strand1: 3,
	Chr2: 4, Pos2: 5, Strand2: 6,
}

// HiCProOpts is the layout of HiC-Pro validPairs files.
var HiCProOpts = Opts{
	Sep:  "\t",
	Chr1: 1, Pos1: 2, Strand1: 3,
	Chr2: 4, Pos2: 5, Strand2: 6,
}

func (o Opts) maxField() int {
	max := 0
	for _, f := range []int{o.Chr1, o.Pos1, o.Strand1, o.Chr2, o.Pos2, o.Strand2} {
		if f > max {
			max = f
		}
	}
	return max
}

// Reader produces read pairs from a text stream. It implements
// reads.Source. Reader is not threadsafe.
type Reader struct {
	opts    Opts
	b       *bufio.Scanner
	pending string
	lineNum int
	err     error
	closer  func() error
}

// NewReader creates a reader of pairs from r. The first data line is read
// and validated before NewReader returns; an invalid file yields an
// errors.Invalid error and no reader.
func NewReader(r io.Reader, opts Opts) (*Reader, error) {
	rd := &Reader{opts: opts, b: bufio.NewScanner(r)}
	rd.b.Buffer(make([]byte, 64<<10), 16<<20)
	line, ok := rd.scanData()
	if !ok {
		if err := rd.b.Err(); err != nil {
			return nil, err
		}
		// Empty input is a valid, empty source.
		return rd, nil
	}
	if err := rd.validate(line); err != nil {
		return nil, err
	}
	rd.pending = line
	return rd, nil
}

// Open opens the file at path. Files with a ".gz" or "gzip" suffix are
// decompressed.
func Open(ctx context.Context, path string, opts Opts) (*Reader, error) {
	r, closer, err := openText(ctx, path)
	if err != nil {
		return nil, err
	}
	rd, err := NewReader(r, opts)
	if err != nil {
		_ = closer()
		return nil, errors.E(err, path)
	}
	rd.closer = closer
	return rd, nil
}

func openText(ctx context.Context, path string) (io.Reader, func() error, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(err, path)
	}
	var r io.Reader = in.Reader(ctx)
	if !strings.HasSuffix(path, ".gz") && !strings.HasSuffix(path, "gzip") {
		return r, func() error { return in.Close(ctx) }, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		_ = in.Close(ctx)
		return nil, nil, errors.E(err, path)
	}
	closer := func() error {
		err := errors.Once{}
		err.Set(gz.Close())
		err.Set(in.Close(ctx))
		return err.Err()
	}
	return gz, closer, nil
}

// scanData returns the next line that is neither blank nor a comment.
func (r *Reader) scanData() (string, bool) {
	for r.b.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.b.Text(), " \t\r\n")
		if line == "" || line[0] == '#' {
			continue
		}
		return line, true
	}
	return "", false
}

func (r *Reader) split(line string) []string {
	if r.opts.Sep == "" {
		return strings.Fields(line)
	}
	return strings.Split(line, r.opts.Sep)
}

func (r *Reader) validate(line string) error {
	fields := r.split(line)
	if n := r.opts.maxField() + 1; len(fields) < n {
		return errors.E(errors.Invalid, fmt.Sprintf("line %d: not enough fields (%d, want %d)", r.lineNum, len(fields), n))
	}
	for _, f := range []int{r.opts.Pos1, r.opts.Pos2} {
		if _, err := strconv.ParseInt(fields[f], 10, 64); err != nil {
			return errors.E(errors.Invalid, err, fmt.Sprintf("line %d: position field %d", r.lineNum, f))
		}
	}
	for _, f := range []int{r.opts.Strand1, r.opts.Strand2} {
		if f == NoField {
			continue
		}
		if _, ok := parseStrand(fields[f]); !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("line %d: cannot read strand field %d: %q", r.lineNum, f, fields[f]))
		}
	}
	return nil
}

// parseStrand accepts "+", "-", ".", "1", "-1" and "+1". An unknown strand
// (".") is reported as plus.
func parseStrand(s string) (int8, bool) {
	switch s {
	case "+", "1", "+1", ".":
		return 1, true
	case "-", "-1":
		return -1, true
	}
	return 0, false
}

func (r *Reader) parse(line string) (reads.Pair, error) {
	fields := r.split(line)
	if len(fields) < r.opts.maxField()+1 {
		return reads.Pair{}, errors.E(errors.Invalid, fmt.Sprintf("line %d: not enough fields (%d)", r.lineNum, len(fields)))
	}
	read := func(chr, pos, strand int) (reads.Read, error) {
		p, err := strconv.ParseInt(fields[pos], 10, 64)
		if err != nil {
			return reads.Read{}, errors.E(errors.Invalid, err, fmt.Sprintf("line %d", r.lineNum))
		}
		s := int8(1)
		if strand != NoField {
			var ok bool
			if s, ok = parseStrand(fields[strand]); !ok {
				return reads.Read{}, errors.E(errors.Invalid, fmt.Sprintf("line %d: strand %q", r.lineNum, fields[strand]))
			}
		}
		return reads.NewMinimalRead(fields[chr], p, s), nil
	}
	var (
		p   reads.Pair
		err error
	)
	if p.R1, err = read(r.opts.Chr1, r.opts.Pos1, r.opts.Strand1); err != nil {
		return p, err
	}
	p.R2, err = read(r.opts.Chr2, r.opts.Pos2, r.opts.Strand2)
	return p, err
}

// Next implements reads.Source.
func (r *Reader) Next() (reads.Pair, bool) {
	if r.err != nil {
		return reads.Pair{}, false
	}
	line := r.pending
	if line != "" {
		r.pending = ""
	} else {
		var ok bool
		if line, ok = r.scanData(); !ok {
			r.err = r.b.Err()
			if r.err == nil {
				r.err = io.EOF
			}
			return reads.Pair{}, false
		}
	}
	p, err := r.parse(line)
	if err != nil {
		r.err = err
		return reads.Pair{}, false
	}
	return p, true
}

// Err implements reads.Source.
func (r *Reader) Err() error {
	if r.err == io.EOF {
		return nil
	}
	return r.err
}

// Close implements reads.Source.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	closer := r.closer
	r.closer = nil
	return closer()
}
