package sampair

import (
	"context"
	"io"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hic/reads"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

var (
	chr1, _ = sam.NewReference("chr1", "", "", 100000, nil, nil)
	chr2, _ = sam.NewReference("chr2", "", "", 100000, nil, nil)
)

// fakeReader yields the given records. It mirrors a BAM reader over a fixed
// record list.
type fakeReader struct {
	recs []*sam.Record
}

func (f *fakeReader) Read() (*sam.Record, error) {
	if len(f.recs) == 0 {
		return nil, io.EOF
	}
	r := f.recs[0]
	f.recs = f.recs[1:]
	return r, nil
}

func newRecord(name string, ref *sam.Reference, pos int, flags sam.Flags, cigar ...sam.CigarOp) *sam.Record {
	if len(cigar) == 0 {
		cigar = []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 50)}
	}
	return &sam.Record{Name: name, Ref: ref, Pos: pos, Flags: flags, MapQ: 60, Cigar: cigar}
}

func unmapped(name string) *sam.Record {
	return &sam.Record{Name: name, Pos: -1, Flags: sam.Unmapped}
}

func drain(r *Reader) []reads.Pair {
	var ps []reads.Pair
	for {
		p, ok := r.Next()
		if !ok {
			return ps
		}
		ps = append(ps, p)
	}
}

func TestNaturalCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"r1", "r1", 0},
		{"r2", "r10", -1},
		{"r10", "r2", 1},
		{"a", "b", -1},
		{"r1", "r1a", -1},
		{"r1:5", "r1:12", -1},
		{"r1", "r01", -1},
		{"x99999999999999999999999", "x100000000000000000000000", -1},
	}
	for _, test := range tests {
		expect.EQ(t, NaturalCompare(test.a, test.b), test.want, "%s vs %s", test.a, test.b)
	}
}

func TestMergePairs(t *testing.T) {
	s1 := &fakeReader{recs: []*sam.Record{
		newRecord("r1", chr1, 100, 0),
		unmapped("r2"),
		newRecord("r3", chr1, 1000, 0),
		newRecord("r4", chr1, 200, 0),
		newRecord("r6", chr1, 300, 0),
		newRecord("r6", chr2, 300, 0),
		newRecord("r10", chr2, 700, sam.Reverse),
		newRecord("r11", chr1, 900, 0),
	}}
	s2 := &fakeReader{recs: []*sam.Record{
		newRecord("r1", chr1, 5000, sam.Reverse),
		newRecord("r2", chr1, 600, 0),
		// r3: one part near the mate, one far away.
		newRecord("r3", chr1, 1020, 0, sam.NewCigarOp(sam.CigarSoftClipped, 20), sam.NewCigarOp(sam.CigarMatch, 30)),
		newRecord("r3", chr2, 5000, 0, sam.NewCigarOp(sam.CigarMatch, 20), sam.NewCigarOp(sam.CigarSoftClipped, 30)),
		// r5 exists only in this stream.
		newRecord("r5", chr1, 400, 0),
		// r6 is chimeric on both sides.
		newRecord("r6", chr1, 300, 0),
		newRecord("r6", chr2, 300, 0),
		newRecord("r10", chr2, 100, 0),
		newRecord("r11", chr1, 910, 0),
		newRecord("r11", chr1, 930, 0),
	}}
	r := NewReader(s1, s2, DefaultOpts)
	var rejected []string
	r.SetRejectFunc(func(read *reads.Read) { rejected = append(rejected, read.Name) })
	ps := drain(r)
	assert.NoError(t, r.Err())
	assert.NoError(t, r.Close())

	var names []string
	for _, p := range ps {
		expect.EQ(t, p.R1.Name, p.R2.Name)
		names = append(names, p.R1.Name)
	}
	expect.EQ(t, names, []string{"r1", "r3", "r10"})
	expect.EQ(t, rejected, []string{"r2"})

	expect.EQ(t, ps[0].R1.Pos, int64(101))
	expect.EQ(t, ps[0].R2.Strand, int8(-1))
	// The distant part of the chimeric mate is kept, in mate order.
	expect.EQ(t, ps[1].R1.Chromosome, "chr1")
	expect.EQ(t, ps[1].R2.Chromosome, "chr2")
	expect.EQ(t, ps[1].R2.Pos, int64(5001))

	// r2 has no mapped mate 1; r4 and r5 appear on one side only; r6 is
	// chimeric on both sides; both parts of r11 are near the mate.
	expect.EQ(t, r.Stats(), Stats{Normal: 2, Chimeric: 1, Abnormal: 2})
}

func TestDefaultMaxDistSameLocus(t *testing.T) {
	// The near part of r1 ends 30bp from its mate. Without a locus distance
	// both parts would count as distant and the pair would be abnormal.
	s1 := &fakeReader{recs: []*sam.Record{
		newRecord("r1", chr1, 1000, 0),
	}}
	s2 := &fakeReader{recs: []*sam.Record{
		newRecord("r1", chr1, 1020, sam.Reverse, sam.NewCigarOp(sam.CigarSoftClipped, 20), sam.NewCigarOp(sam.CigarMatch, 30)),
		newRecord("r1", chr2, 5000, 0, sam.NewCigarOp(sam.CigarMatch, 20), sam.NewCigarOp(sam.CigarSoftClipped, 30)),
	}}
	r := NewReader(s1, s2, Opts{CheckSorted: true})
	ps := drain(r)
	assert.NoError(t, r.Err())
	expect.EQ(t, len(ps), 1)
	expect.EQ(t, ps[0].R2.Chromosome, "chr2")
	expect.EQ(t, r.Stats(), Stats{Chimeric: 1})
	expect.EQ(t, r.opts.MaxDistSameLocus, DefaultOpts.MaxDistSameLocus)
}

func TestGeneratorCountsUnmapped(t *testing.T) {
	s1 := &fakeReader{recs: []*sam.Record{
		newRecord("a", chr1, 100, 0),
		unmapped("b"),
		newRecord("c", chr1, 100, 0),
	}}
	s2 := &fakeReader{recs: []*sam.Record{
		newRecord("a", chr1, 300, 0),
		unmapped("b"),
		newRecord("c", chr1, 300, 0),
	}}
	g := reads.NewGenerator(NewReader(s1, s2, DefaultOpts))
	n := 0
	for {
		if _, ok := g.Next(); !ok {
			break
		}
		n++
	}
	assert.NoError(t, g.Err())
	expect.EQ(t, n, 2)
	s := g.Stats()
	expect.EQ(t, s.Filters[0].Count, int64(2))
	expect.EQ(t, s.Valid+s.Filters[0].Count, s.Total)
}

func TestCheckSorted(t *testing.T) {
	s1 := &fakeReader{recs: []*sam.Record{
		newRecord("r1", chr1, 100, 0),
		newRecord("r3", chr1, 100, 0),
		newRecord("r2", chr1, 100, 0),
	}}
	s2 := &fakeReader{recs: []*sam.Record{
		newRecord("r1", chr1, 300, 0),
		newRecord("r2", chr1, 300, 0),
		newRecord("r3", chr1, 300, 0),
	}}
	r := NewReader(s1, s2, DefaultOpts)
	drain(r)
	assert.NotNil(t, r.Err())
	expect.True(t, errors.Is(errors.Invalid, r.Err()))
	expect.HasSubstr(t, r.Err().Error(), "not sorted")

	s1.recs = []*sam.Record{newRecord("r3", chr1, 100, 0), newRecord("r2", chr1, 100, 0)}
	s2.recs = []*sam.Record{newRecord("r3", chr1, 300, 0)}
	r = NewReader(s1, s2, Opts{MaxDistSameLocus: 100})
	ps := drain(r)
	assert.NoError(t, r.Err())
	expect.EQ(t, len(ps), 1)
}

const samHeader = "@HD\tVN:1.4\tSO:queryname\n@SQ\tSN:chr1\tLN:100000\n@SQ\tSN:chr2\tLN:100000\n"

func TestOpenSAM(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	p1 := filepath.Join(tempDir, "r1.sam")
	p2 := filepath.Join(tempDir, "r2.sam")
	assert.NoError(t, ioutil.WriteFile(p1, []byte(samHeader+
		"q1\t64\tchr1\t101\t60\t50M\t*\t0\t0\t*\t*\n"+
		"q2\t80\tchr2\t201\t60\t50M\t*\t0\t0\t*\t*\n"), 0644))
	assert.NoError(t, ioutil.WriteFile(p2, []byte(samHeader+
		"q1\t144\tchr1\t5001\t60\t50M\t*\t0\t0\t*\t*\n"+
		"q2\t128\tchr1\t301\t60\t50M\t*\t0\t0\t*\t*\n"), 0644))

	ctx := context.Background()
	r, err := Open(ctx, p1, p2, DefaultOpts)
	assert.NoError(t, err)
	ps := drain(r)
	assert.NoError(t, r.Err())
	assert.NoError(t, r.Close())
	assert.EQ(t, len(ps), 2)
	expect.EQ(t, ps[0].R1.Pos, int64(101))
	expect.EQ(t, ps[0].R2.Strand, int8(-1))
	expect.EQ(t, ps[1].R1.Chromosome, "chr2")
	expect.EQ(t, ps[1].R1.Strand, int8(-1))
}
