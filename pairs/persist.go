// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pairs

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hic/reads"
	"github.com/grailbio/hic/regions"
)

// Layout of a saved store:
//
//	regions.rio              regions, one record each, in ix order
//	partitions.tsv           source, sink and row count of every partition
//	partition_<i>_<j>.rio    edge rows of partition (i, j), without masks
//	partition_<i>_<j>.mask   snappy-compressed little-endian int32 masks
//	masks.tsv                mask registry
//	meta.tsv                 read-filter statistics
//
// Row files are recordio with zstd compression. Their trailer holds the
// format version and the number of records.
const (
	regionsFile    = "regions.rio"
	partitionsFile = "partitions.tsv"
	masksFile      = "masks.tsv"
	metaFile       = "meta.tsv"

	chromosomesHeader = "Chromosomes"
	partitionHeader   = "Partition"
	trailerVersion    = 1

	regionSize = 4 + 8 + 8 + 1
)

func init() {
	recordiozstd.Init()
}

func partitionPath(dir string, key PartitionKey, ext string) string {
	return file.Join(dir, fmt.Sprintf("partition_%d_%d.%s", key.Source, key.Sink, ext))
}

func rioTrailer(n int) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, int64(trailerVersion)); err != nil {
		panic("couldn't write trailer version")
	}
	if err := binary.Write(&buf, binary.LittleEndian, int64(n)); err != nil {
		panic("couldn't write record count to trailer")
	}
	return buf.Bytes()
}

func parseRioTrailer(trailer []byte) (int64, error) {
	r := bytes.NewReader(trailer)
	var version, n int64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, err
	}
	if version != trailerVersion {
		return 0, fmt.Errorf("unrecognized trailer version: got %d, want %d", version, trailerVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, err
	}
	return n, nil
}

type regionRecord struct {
	chrom  int32
	start  int64
	end    int64
	strand int8
}

func marshalRegion(scratch []byte, v interface{}) ([]byte, error) {
	t := scratch
	if len(t) < regionSize {
		t = make([]byte, regionSize)
	}
	t = t[:regionSize]
	r := v.(*regionRecord)
	binary.LittleEndian.PutUint32(t[0:4], uint32(r.chrom))
	binary.LittleEndian.PutUint64(t[4:12], uint64(r.start))
	binary.LittleEndian.PutUint64(t[12:20], uint64(r.end))
	t[20] = byte(r.strand)
	return t, nil
}

func unmarshalRegion(in []byte) (interface{}, error) {
	if len(in) != regionSize {
		return nil, errors.E(errors.Invalid, "corrupt region record")
	}
	return &regionRecord{
		chrom:  int32(binary.LittleEndian.Uint32(in[0:4])),
		start:  int64(binary.LittleEndian.Uint64(in[4:12])),
		end:    int64(binary.LittleEndian.Uint64(in[12:20])),
		strand: int8(in[20]),
	}, nil
}

// Save writes the store to dir, which may be a local path or any path
// supported by grailbio/base/file. Existing files are overwritten.
func (s *Store) Save(ctx context.Context, dir string) error {
	if err := s.checkRegions(); err != nil {
		return err
	}
	if err := s.saveRegions(ctx, file.Join(dir, regionsFile)); err != nil {
		return err
	}
	for _, key := range s.keys {
		if err := s.savePartition(ctx, dir, s.parts[key]); err != nil {
			return err
		}
	}
	if err := writeTSV(ctx, file.Join(dir, partitionsFile), "source\tsink\trows", func(w *tsv.Writer) error {
		for _, key := range s.keys {
			w.WriteInt64(int64(key.Source))
			w.WriteInt64(int64(key.Sink))
			w.WriteInt64(int64(len(s.parts[key].edges)))
			if err := w.EndLine(); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	if err := writeTSV(ctx, file.Join(dir, masksFile), "ix\tname\tdescription", func(w *tsv.Writer) error {
		for _, m := range s.masks {
			w.WriteInt64(int64(m.Ix))
			w.WriteString(m.Name)
			w.WriteString(m.Description)
			if err := w.EndLine(); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	if err := writeTSV(ctx, file.Join(dir, metaFile), "key\tcount", func(w *tsv.Writer) error {
		for _, k := range sortedKeys(s.readStats) {
			w.WriteString(k)
			w.WriteInt64(s.readStats[k])
			if err := w.EndLine(); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	log.Printf("pairs: saved %d rows to %s", s.Len(), dir)
	return nil
}

func (s *Store) saveRegions(ctx context.Context, path string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Marshal:      marshalRegion,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(chromosomesHeader, strings.Join(s.idx.Chromosomes(), "\000"))
	w.AddHeader(recordio.KeyTrailer, true)
	for _, r := range s.idx.Regions() {
		ci, _ := s.idx.ChromosomeIx(r.Chromosome)
		w.Append(&regionRecord{chrom: int32(ci), start: r.Start, end: r.End, strand: r.Strand})
	}
	w.SetTrailer(rioTrailer(s.idx.Len()))
	return w.Finish()
}

func (s *Store) savePartition(ctx context.Context, dir string, p *partition) (err error) {
	rows, err := file.Create(ctx, partitionPath(dir, p.key, "rio"))
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, rows, &err)
	w := recordio.NewWriter(rows.Writer(ctx), recordio.WriterOpts{
		Marshal:      marshalEdge,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(partitionHeader, fmt.Sprintf("%d,%d", p.key.Source, p.key.Sink))
	w.AddHeader(recordio.KeyTrailer, true)
	for i := range p.edges {
		w.Append(&p.edges[i])
	}
	w.SetTrailer(rioTrailer(len(p.edges)))
	if err := w.Finish(); err != nil {
		return err
	}

	masks, err := file.Create(ctx, partitionPath(dir, p.key, "mask"))
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, masks, &err)
	sw := snappy.NewBufferedWriter(masks.Writer(ctx))
	col := make([]int32, len(p.edges))
	for i := range p.edges {
		col[i] = p.edges[i].Mask
	}
	if err := binary.Write(sw, binary.LittleEndian, col); err != nil {
		return err
	}
	return sw.Close()
}

func writeTSV(ctx context.Context, path, header string, rows func(w *tsv.Writer) error) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	for _, col := range strings.Split(header, "\t") {
		w.WriteString(col)
	}
	if err := w.EndLine(); err != nil {
		return err
	}
	if err := rows(w); err != nil {
		return err
	}
	return w.Flush()
}

type partitionRow struct {
	Source int64 `tsv:"source"`
	Sink   int64 `tsv:"sink"`
	Rows   int64 `tsv:"rows"`
}

type maskRow struct {
	Ix          int64  `tsv:"ix"`
	Name        string `tsv:"name"`
	Description string `tsv:"description"`
}

type metaRow struct {
	Key   string `tsv:"key"`
	Count int64  `tsv:"count"`
}

// readTSV calls fn with every row of the file at path, decoded into row.
func readTSV(ctx context.Context, path string, row interface{}, fn func() error) (err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	r := tsv.NewReader(in.Reader(ctx))
	r.HasHeaderRow = true
	r.UseHeaderNames = true
	for {
		if err := r.Read(row); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.E(errors.Invalid, err, path)
		}
		if err := fn(); err != nil {
			return err
		}
	}
}

// Open reads a store written by Save.
func Open(ctx context.Context, dir string) (*Store, error) {
	s := New()
	regs, err := openRegions(ctx, file.Join(dir, regionsFile))
	if err != nil {
		return nil, err
	}
	if err := s.AddRegions(regs); err != nil {
		return nil, err
	}

	var mr maskRow
	s.masks = nil
	if err := readTSV(ctx, file.Join(dir, masksFile), &mr, func() error {
		if int(mr.Ix) != len(s.masks) {
			return errors.E(errors.Invalid, fmt.Sprintf("pairs: mask %d out of order in %s", mr.Ix, dir))
		}
		s.masks = append(s.masks, reads.Mask{Ix: int(mr.Ix), Name: mr.Name, Description: mr.Description})
		return nil
	}); err != nil {
		return nil, err
	}
	if len(s.masks) == 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pairs: empty mask registry in %s", dir))
	}

	var mt metaRow
	if err := readTSV(ctx, file.Join(dir, metaFile), &mt, func() error {
		s.readStats[mt.Key] = mt.Count
		return nil
	}); err != nil {
		return nil, err
	}

	var pr partitionRow
	if err := readTSV(ctx, file.Join(dir, partitionsFile), &pr, func() error {
		key := PartitionKey{Source: int32(pr.Source), Sink: int32(pr.Sink)}
		p, err := s.partition(key)
		if err != nil {
			return err
		}
		if p.edges, err = openPartition(ctx, dir, key, pr.Rows); err != nil {
			return err
		}
		for i := range p.edges {
			e := &p.edges[i]
			if e.Key() != key || e.Source > e.Sink {
				return errors.E(errors.Invalid, fmt.Sprintf("pairs: row %d does not belong to partition %v", e.Ix, key))
			}
			if e.Mask < 0 || int(e.Mask) >= len(s.masks) {
				return errors.E(errors.Invalid, fmt.Sprintf("pairs: row %d has unregistered mask %d", e.Ix, e.Mask))
			}
			if e.Ix >= s.pairCount {
				s.pairCount = e.Ix + 1
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	s.logSummary()
	return s, nil
}

func openRegions(ctx context.Context, path string) (regs []regions.Region, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	sc := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{Unmarshal: unmarshalRegion})
	var chroms []string
	for _, kv := range sc.Header() {
		if kv.Key == chromosomesHeader {
			chroms = strings.Split(kv.Value.(string), "\000")
		}
	}
	for sc.Scan() {
		r := sc.Get().(*regionRecord)
		if r.chrom < 0 || int(r.chrom) >= len(chroms) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pairs: region with unknown chromosome %d in %s", r.chrom, path))
		}
		regs = append(regs, regions.Region{Chromosome: chroms[r.chrom], Start: r.start, End: r.end, Strand: r.strand})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.E(errors.Invalid, err, path)
	}
	return regs, nil
}

func openPartition(ctx context.Context, dir string, key PartitionKey, n int64) (edges []Edge, err error) {
	path := partitionPath(dir, key, "rio")
	rows, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, rows, &err)
	sc := recordio.NewScanner(rows.Reader(ctx), recordio.ScannerOpts{Unmarshal: unmarshalEdge})
	if len(sc.Trailer()) != 0 {
		count, err := parseRioTrailer(sc.Trailer())
		if err != nil {
			return nil, errors.E(errors.Invalid, err, path)
		}
		if count != n {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pairs: %s holds %d rows, expected %d", path, count, n))
		}
	}
	edges = make([]Edge, 0, n)
	for sc.Scan() {
		edges = append(edges, *sc.Get().(*Edge))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.E(errors.Invalid, err, path)
	}
	if int64(len(edges)) != n {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pairs: %s holds %d rows, expected %d", path, len(edges), n))
	}

	maskPath := partitionPath(dir, key, "mask")
	masks, err := file.Open(ctx, maskPath)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, masks, &err)
	col := make([]int32, n)
	if err := binary.Read(snappy.NewReader(masks.Reader(ctx)), binary.LittleEndian, col); err != nil {
		return nil, errors.E(errors.Invalid, err, maskPath)
	}
	for i := range edges {
		edges[i].Mask = col[i]
	}
	return edges, nil
}
