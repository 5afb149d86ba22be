package pairtxt

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
)

const fourDNMagic = "## pairs format"

// FourDNOpts parses the header of a 4D Nucleome pairs file and returns the
// column layout it declares. The first line must be the "## pairs format"
// line and the header must contain a "#columns:" line naming at least chr1,
// pos1, chr2 and pos2. strand1 and strand2 are optional.
//
// See https://github.com/4dn-dcic/pairix/blob/master/pairs_format_specification.md
func FourDNOpts(r io.Reader) (Opts, error) {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, 64<<10), 16<<20)
	var columns map[string]int
	for lineNum := 0; b.Scan(); lineNum++ {
		line := strings.TrimRight(b.Text(), " \t\r\n")
		if lineNum == 0 && !strings.HasPrefix(line, fourDNMagic) {
			return Opts{}, errors.E(errors.Invalid, "not a 4D nucleome pairs file: missing '## pairs format' header line")
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		if strings.HasPrefix(line, "#columns:") {
			columns = make(map[string]int)
			for i, name := range strings.Fields(strings.TrimPrefix(line, "#columns:")) {
				columns[name] = i
			}
			break
		}
	}
	if err := b.Err(); err != nil {
		return Opts{}, err
	}
	if columns == nil {
		return Opts{}, errors.E(errors.Invalid, "pairs file does not contain a '#columns' entry in the header")
	}
	opts := Opts{Strand1: NoField, Strand2: NoField}
	for _, c := range []struct {
		name     string
		field    *int
		required bool
	}{
		{"chr1", &opts.Chr1, true},
		{"pos1", &opts.Pos1, true},
		{"strand1", &opts.Strand1, false},
		{"chr2", &opts.Chr2, true},
		{"pos2", &opts.Pos2, true},
		{"strand2", &opts.Strand2, false},
	} {
		i, ok := columns[c.name]
		if !ok {
			if c.required {
				return Opts{}, errors.E(errors.Invalid, "pairs file header lacks column "+c.name)
			}
			continue
		}
		*c.field = i
	}
	return opts, nil
}

// OpenFourDN opens a 4D Nucleome pairs file, possibly gzipped.
func OpenFourDN(ctx context.Context, path string) (*Reader, error) {
	r, closer, err := openText(ctx, path)
	if err != nil {
		return nil, err
	}
	opts, err := FourDNOpts(r)
	if cerr := closer(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.E(err, path)
	}
	return Open(ctx, path, opts)
}
