package sampair

import (
	"bufio"
	"bytes"
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// FileType is the format of an alignment file.
type FileType int

const (
	// Unknown is a sentinel.
	Unknown FileType = iota
	// SAM text
	SAM
	// BAM (BGZF compressed)
	BAM
)

var bgzfMagic = []byte{0x1f, 0x8b}

// GuessFileType inspects the first bytes of an alignment stream.
func GuessFileType(b *bufio.Reader) FileType {
	head, err := b.Peek(2)
	if err != nil {
		return Unknown
	}
	if bytes.Equal(head, bgzfMagic) {
		return BAM
	}
	return SAM
}

type alignmentFile struct {
	f   file.File
	r   AlignmentReader
	bam *bam.Reader
}

func openAlignments(ctx context.Context, path string) (*alignmentFile, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, path)
	}
	af := &alignmentFile{f: f}
	b := bufio.NewReader(f.Reader(ctx))
	switch GuessFileType(b) {
	case BAM:
		af.bam, err = bam.NewReader(b, 1)
		af.r = af.bam
	case SAM:
		af.r, err = sam.NewReader(b)
	default:
		err = errors.E(errors.Invalid, "empty alignment file")
	}
	if err != nil {
		_ = f.Close(ctx)
		return nil, errors.E(err, path)
	}
	return af, nil
}

func (af *alignmentFile) close(ctx context.Context, e *errors.Once) {
	if af.bam != nil {
		e.Set(af.bam.Close())
	}
	e.Set(af.f.Close(ctx))
}

// Open opens two name-sorted SAM or BAM files, holding mate 1 and mate 2
// respectively. The format of each file is detected from its content.
func Open(ctx context.Context, path1, path2 string, opts Opts) (*Reader, error) {
	af1, err := openAlignments(ctx, path1)
	if err != nil {
		return nil, err
	}
	af2, err := openAlignments(ctx, path2)
	if err != nil {
		e := errors.Once{}
		af1.close(ctx, &e)
		return nil, err
	}
	r := NewReader(af1.r, af2.r, opts)
	r.closer = func() error {
		e := errors.Once{}
		af1.close(ctx, &e)
		af2.close(ctx, &e)
		return e.Err()
	}
	return r, nil
}
