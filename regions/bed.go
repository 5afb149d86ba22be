package regions

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
)

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved. Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// ReadBED reads restriction fragments from a BED stream. BED intervals are
// 0-based half-open; the returned regions are 1-based inclusive. The
// optional sixth column is interpreted as strand.
func ReadBED(r io.Reader) ([]Region, error) {
	var (
		result  []Region
		tokens  = make([][]byte, 6)
		scanner = bufio.NewScanner(r)
		lineNum = 0
	)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == '#' ||
			strings.HasPrefix(string(line), "track") || strings.HasPrefix(string(line), "browser") {
			continue
		}
		n := getTokens(tokens, line)
		if n == 0 {
			continue
		}
		if n < 3 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("BED line %d: expect at least 3 columns, got %d", lineNum, n))
		}
		start, err := strconv.ParseInt(string(tokens[1]), 10, 64)
		if err != nil {
			return nil, errors.E(errors.Invalid, err, fmt.Sprintf("BED line %d: start", lineNum))
		}
		end, err := strconv.ParseInt(string(tokens[2]), 10, 64)
		if err != nil {
			return nil, errors.E(errors.Invalid, err, fmt.Sprintf("BED line %d: end", lineNum))
		}
		reg := Region{
			Chromosome: string(tokens[0]),
			Start:      start + 1,
			End:        end,
			Strand:     1,
		}
		if n >= 6 && len(tokens[5]) == 1 && tokens[5][0] == '-' {
			reg.Strand = -1
		}
		result = append(result, reg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ReadBEDFile reads regions from the given path. Paths ending in ".gz" are
// decompressed.
func ReadBEDFile(ctx context.Context, path string) (regions []Region, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	var r io.Reader = in.Reader(ctx)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.E(err, path)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	regions, err = ReadBED(r)
	if err != nil {
		return nil, errors.E(err, path)
	}
	return regions, nil
}
