package reads

import (
	"context"
	"io"
	"strconv"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Mask identifies a filter. Ix 0 is reserved for "visible" in stored pair
// tables; read filters use their registration slot as Ix.
type Mask struct {
	Ix          int
	Name        string
	Description string
}

// Filter decides whether a single read is acceptable.
type Filter interface {
	// Mask describes the filter.
	Mask() Mask
	// Valid returns false if the read must be dropped.
	Valid(r *Read) bool
}

var (
	xsTag = sam.NewTag("XS")
	asTag = sam.NewTag("AS")
	xaTag = sam.NewTag("XA")
	nmTag = sam.NewTag("NM")
)

// auxInt returns the integer value of the given aux tag.
func auxInt(r *Read, tag sam.Tag) (int, bool) {
	if r.Record == nil {
		return 0, false
	}
	aux := r.Record.AuxFields.Get(tag)
	if aux == nil {
		return 0, false
	}
	switch v := aux.Value().(type) {
	case int8:
		return int(v), true
	case uint8:
		return int(v), true
	case int16:
		return int(v), true
	case uint16:
		return int(v), true
	case int32:
		return int(v), true
	case uint32:
		return int(v), true
	case int:
		return v, true
	case float32:
		return int(v), true
	}
	return 0, false
}

func auxString(r *Read, tag sam.Tag) (string, bool) {
	if r.Record == nil {
		return "", false
	}
	aux := r.Record.AuxFields.Get(tag)
	if aux == nil {
		return "", false
	}
	s, ok := aux.Value().(string)
	return s, ok
}

// UnmappedFilter rejects unmapped reads. A Generator always registers one in
// slot 0.
type UnmappedFilter struct{ mask Mask }

// NewUnmappedFilter creates an UnmappedFilter.
func NewUnmappedFilter() *UnmappedFilter {
	return &UnmappedFilter{mask: Mask{Name: "unmappable", Description: "Mask unmapped reads"}}
}

// Mask implements Filter.
func (f *UnmappedFilter) Mask() Mask { return f.mask }

// Valid implements Filter.
func (f *UnmappedFilter) Valid(r *Read) bool { return !r.Unmapped }

// QualityFilter rejects reads with a mapping quality below Cutoff. Reads
// without a mapping quality (MapQUnavailable) pass.
type QualityFilter struct {
	Cutoff byte
}

// Mask implements Filter.
func (f *QualityFilter) Mask() Mask {
	return Mask{
		Name:        "map quality",
		Description: "Mask read pairs with a mapping quality lower than " + strconv.Itoa(int(f.Cutoff)),
	}
}

// Valid implements Filter.
func (f *QualityFilter) Valid(r *Read) bool {
	return r.MapQ == MapQUnavailable || r.MapQ >= f.Cutoff
}

// UniquenessFilter rejects reads that bowtie2 reports as multi-mapping. In
// strict mode any XS tag rejects the read; otherwise the read is rejected
// only when AS <= XS.
type UniquenessFilter struct {
	Strict bool
}

// Mask implements Filter.
func (f *UniquenessFilter) Mask() Mask {
	return Mask{Name: "multi-mapping", Description: "Mask reads that do not map uniquely (according to XS tag)"}
}

// Valid implements Filter.
func (f *UniquenessFilter) Valid(r *Read) bool {
	xs, ok := auxInt(r, xsTag)
	if !ok {
		return true
	}
	if f.Strict {
		return false
	}
	as, ok := auxInt(r, asTag)
	if !ok {
		return true
	}
	return as > xs
}

// BwaMemUniquenessFilter rejects bwa mem alignments with an alternative hit
// (XA tag) that is at least as good as the primary one, measured by edit
// distance (NM). In strict mode any XA tag rejects the read.
type BwaMemUniquenessFilter struct {
	Strict bool
}

// Mask implements Filter.
func (f *BwaMemUniquenessFilter) Mask() Mask {
	return Mask{Name: "multi-mapping", Description: "Mask reads that do not map uniquely (according to XA tag)"}
}

// Valid implements Filter.
func (f *BwaMemUniquenessFilter) Valid(r *Read) bool {
	xa, ok := auxString(r, xaTag)
	if !ok {
		return true
	}
	if f.Strict {
		return false
	}
	nm, ok := auxInt(r, nmTag)
	if !ok {
		return false
	}
	for _, alt := range strings.Split(xa, ";") {
		if alt == "" {
			continue
		}
		fields := strings.Split(alt, ",")
		if len(fields) != 4 {
			return false
		}
		altNM, err := strconv.Atoi(fields[3])
		if err != nil || altNM <= nm {
			return false
		}
	}
	return true
}

// BwaMemQualityFilter rejects bwa mem alignments whose alignment score (AS)
// divided by the aligned reference length is below Cutoff.
type BwaMemQualityFilter struct {
	Cutoff float64
}

// Mask implements Filter.
func (f *BwaMemQualityFilter) Mask() Mask {
	return Mask{
		Name:        "alignment score",
		Description: "Mask reads with a normalized alignment score lower than " + strconv.FormatFloat(f.Cutoff, 'g', -1, 64),
	}
}

// Valid implements Filter.
func (f *BwaMemQualityFilter) Valid(r *Read) bool {
	if r.Record == nil {
		return false
	}
	alen := r.Record.Len()
	if alen <= 0 {
		return false
	}
	as, ok := auxInt(r, asTag)
	if !ok {
		return false
	}
	return float64(as)/float64(alen) >= f.Cutoff
}

// ContaminantFilter rejects reads whose name also appears in an alignment of
// a contaminant genome. Names are kept as 64-bit fingerprints.
type ContaminantFilter struct {
	names map[uint64]struct{}
}

// NewContaminantFilter creates a filter from the given read names.
func NewContaminantFilter(names []string) *ContaminantFilter {
	f := &ContaminantFilter{names: make(map[uint64]struct{}, len(names))}
	for _, name := range names {
		f.names[farm.Fingerprint64([]byte(name))] = struct{}{}
	}
	return f
}

// NewContaminantFilterFromAlignments reads the record names of a SAM or BAM
// file.
func NewContaminantFilterFromAlignments(ctx context.Context, path string) (filter *ContaminantFilter, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, path)
	}
	defer file.CloseAndReport(ctx, in, &err)

	type recordReader interface {
		Read() (*sam.Record, error)
	}
	var rr recordReader
	if strings.HasSuffix(path, ".bam") {
		br, err := bam.NewReader(in.Reader(ctx), 1)
		if err != nil {
			return nil, errors.E(err, path)
		}
		defer br.Close() // nolint: errcheck
		rr = br
	} else {
		sr, err := sam.NewReader(in.Reader(ctx))
		if err != nil {
			return nil, errors.E(err, path)
		}
		rr = sr
	}
	filter = &ContaminantFilter{names: make(map[uint64]struct{})}
	for {
		rec, err := rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(err, path)
		}
		filter.names[farm.Fingerprint64([]byte(rec.Name))] = struct{}{}
	}
	log.Debug.Printf("contaminant filter: %d read names from %s", len(filter.names), path)
	return filter, nil
}

// Mask implements Filter.
func (f *ContaminantFilter) Mask() Mask {
	return Mask{Name: "contaminant", Description: "Mask reads that also map to a contaminant genome"}
}

// Valid implements Filter.
func (f *ContaminantFilter) Valid(r *Read) bool {
	_, found := f.names[farm.Fingerprint64([]byte(r.Name))]
	return !found
}
