package pairtxt

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hic/reads"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

const hicPro = `# comment
r1	chr1	500	+	chr1	1500	-
r2	chr2	10	-	chr1	20	+

r3	chr1	200	1	chr1	800	-1
`

func readAll(t *testing.T, r *Reader) []reads.Pair {
	var ps []reads.Pair
	for {
		p, ok := r.Next()
		if !ok {
			break
		}
		ps = append(ps, p)
	}
	return ps
}

func TestHiCPro(t *testing.T) {
	r, err := NewReader(strings.NewReader(hicPro), HiCProOpts)
	assert.NoError(t, err)
	ps := readAll(t, r)
	assert.NoError(t, r.Err())
	assert.NoError(t, r.Close())
	expect.EQ(t, len(ps), 3)
	expect.EQ(t, ps[0].R1, reads.NewMinimalRead("chr1", 500, 1))
	expect.EQ(t, ps[0].R2, reads.NewMinimalRead("chr1", 1500, -1))
	expect.EQ(t, ps[1].R1.Chromosome, "chr2")
	expect.EQ(t, ps[1].R1.Strand, int8(-1))
	expect.EQ(t, ps[2].R1.Strand, int8(1))
	expect.EQ(t, ps[2].R2.Strand, int8(-1))
	expect.EQ(t, ps[2].R2.MapQ, byte(reads.MapQUnavailable))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"r1 chr1 500 + chr1\n", "not enough fields"},
		{"r1 chr1 x + chr1 1500 -\n", "position field"},
		{"r1 chr1 500 ? chr1 1500 -\n", "strand"},
	}
	for _, test := range tests {
		_, err := NewReader(strings.NewReader(test.in), DefaultOpts)
		assert.NotNil(t, err)
		expect.True(t, errors.Is(errors.Invalid, err), "%v", err)
		expect.HasSubstr(t, err.Error(), test.want)
	}
}

// Only the first data line is validated up front; later malformed lines stop
// iteration with an error.
func TestMalformedLaterLine(t *testing.T) {
	in := "r1 chr1 500 + chr1 1500 -\nr2 chr1 oops + chr1 1500 -\nr3 chr1 1 + chr1 2 -\n"
	r, err := NewReader(strings.NewReader(in), DefaultOpts)
	assert.NoError(t, err)
	ps := readAll(t, r)
	expect.EQ(t, len(ps), 1)
	assert.NotNil(t, r.Err())
}

func TestNoStrand(t *testing.T) {
	opts := Opts{Chr1: 0, Pos1: 1, Strand1: NoField, Chr2: 2, Pos2: 3, Strand2: NoField}
	r, err := NewReader(strings.NewReader("chr1 10 chr2 20\n"), opts)
	assert.NoError(t, err)
	ps := readAll(t, r)
	assert.NoError(t, r.Err())
	expect.EQ(t, ps, []reads.Pair{{
		R1: reads.NewMinimalRead("chr1", 10, 1),
		R2: reads.NewMinimalRead("chr2", 20, 1),
	}})
}

func TestOpenGzip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tempDir, "pairs.txt.gz")
	f, err := os.Create(path)
	assert.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(hicPro))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())
	assert.NoError(t, f.Close())

	ctx := context.Background()
	r, err := Open(ctx, path, HiCProOpts)
	assert.NoError(t, err)
	ps := readAll(t, r)
	assert.NoError(t, r.Err())
	assert.NoError(t, r.Close())
	expect.EQ(t, len(ps), 3)
}

const fourDN = `## pairs format v1.0
#sorted: chr1-chr2-pos1-pos2
#chromsize: chr1 2000
#columns: readID chr1 pos1 chr2 pos2 strand1 strand2
r1 chr1 500 chr1 1500 + -
r2 chr1 200 chr1 800 - -
`

func TestFourDN(t *testing.T) {
	opts, err := FourDNOpts(strings.NewReader(fourDN))
	assert.NoError(t, err)
	expect.EQ(t, opts, Opts{Chr1: 1, Pos1: 2, Chr2: 3, Pos2: 4, Strand1: 5, Strand2: 6})

	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tempDir, "test.pairs")
	assert.NoError(t, ioutil.WriteFile(path, []byte(fourDN), 0644))
	r, err := OpenFourDN(context.Background(), path)
	assert.NoError(t, err)
	ps := readAll(t, r)
	assert.NoError(t, r.Err())
	assert.NoError(t, r.Close())
	expect.EQ(t, len(ps), 2)
	expect.EQ(t, ps[0].R2, reads.NewMinimalRead("chr1", 1500, -1))
	expect.EQ(t, ps[1].R1, reads.NewMinimalRead("chr1", 200, -1))

	_, err = FourDNOpts(strings.NewReader("#columns: readID chr1 pos1 chr2 pos2\n"))
	expect.HasSubstr(t, err.Error(), "pairs format")
	_, err = FourDNOpts(strings.NewReader("## pairs format v1.0\nr1 chr1 1 chr2 2\n"))
	expect.HasSubstr(t, err.Error(), "#columns")

	opts, err = FourDNOpts(strings.NewReader("## pairs format v1.0\n#columns: readID chr1 pos1 chr2 pos2\n"))
	assert.NoError(t, err)
	expect.EQ(t, opts.Strand1, NoField)
	expect.EQ(t, opts.Strand2, NoField)
}
