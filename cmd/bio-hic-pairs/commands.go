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

package main

import (
	"fmt"
	"strconv"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hic/encoding/pairtxt"
	"github.com/grailbio/hic/encoding/sampair"
	"github.com/grailbio/hic/pairs"
	"github.com/grailbio/hic/pipeline"
	"github.com/grailbio/hic/reads"
	"github.com/grailbio/hic/regions"
	"v.io/x/lib/cmdline"
)

type loadFlags struct {
	regions      *string
	format       *string
	out          *string
	quality      *int
	unique       *bool
	bwaUnique    *bool
	bwaQuality   *float64
	strict       *bool
	contaminant  *string
	checkSorted  *bool
	maxDistLocus *int
	workers      *int
	batchSize    *int
	flushSize    *int
}

func newCmdLoad() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "load",
		Short: "Resolve read pairs to restriction fragments and save them as a pair store",
		Long: `
load reads either two name-sorted SAM/BAM files (-format=sam) or one delimited
text file (-format=hicpro, 4dn, or text), applies the read filters, resolves
both reads of every pair to the fragments of -regions, and saves the store in
the directory -out.`,
		ArgsName: "input...",
	}
	flags := loadFlags{
		regions:      cmd.Flags.String("regions", "", "BED file of restriction fragments. Required."),
		format:       cmd.Flags.String("format", "sam", "Input format: sam, hicpro, 4dn, or text (whitespace separated chr1 pos1 strand1 chr2 pos2 strand2 in fields 2-7)"),
		out:          cmd.Flags.String("out", "", "Output store directory. Required."),
		quality:      cmd.Flags.Int("quality", 0, "Minimum mapping quality. 0 disables the filter."),
		unique:       cmd.Flags.Bool("unique", false, "Drop multi-mapping reads using the bowtie2 XS/AS tags"),
		bwaUnique:    cmd.Flags.Bool("bwa-unique", false, "Drop multi-mapping reads using the bwa mem XA/NM tags"),
		bwaQuality:   cmd.Flags.Float64("bwa-quality", 0, "Minimum bwa mem alignment score per aligned base. 0 disables the filter."),
		strict:       cmd.Flags.Bool("strict", false, "Use the strict variant of the uniqueness filters"),
		contaminant:  cmd.Flags.String("contaminant", "", "SAM/BAM file of reads aligned to a contaminant genome; reads with these names are dropped"),
		checkSorted:  cmd.Flags.Bool("check-sorted", true, "Fail if the SAM/BAM inputs are not sorted by read name"),
		maxDistLocus: cmd.Flags.Int("max-dist-same-locus", sampair.DefaultOpts.MaxDistSameLocus, "Distance within which two alignments of a chimeric read are considered the same locus"),
		workers:      cmd.Flags.Int("workers", 0, "Number of fragment resolution workers. 0 means one per CPU."),
		batchSize:    cmd.Flags.Int("batch-size", pipeline.DefaultOpts.BatchSize, "Read pairs per worker batch"),
		flushSize:    cmd.Flags.Int("flush-size", pipeline.DefaultOpts.FlushSize, "Resolved pairs buffered per partition before they are stored"),
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if *flags.regions == "" || *flags.out == "" {
			return fmt.Errorf("load: -regions and -out are required")
		}
		return load(flags, argv)
	})
	return cmd
}

func openSource(flags loadFlags, argv []string) (reads.Source, error) {
	ctx := vcontext.Background()
	if *flags.format == "sam" {
		if len(argv) != 2 {
			return nil, fmt.Errorf("load -format=sam takes two alignment files, but got %v", argv)
		}
		opts := sampair.Opts{CheckSorted: *flags.checkSorted, MaxDistSameLocus: *flags.maxDistLocus}
		return sampair.Open(ctx, argv[0], argv[1], opts)
	}
	if len(argv) != 1 {
		return nil, fmt.Errorf("load -format=%s takes one pairs file, but got %v", *flags.format, argv)
	}
	switch *flags.format {
	case "hicpro":
		return pairtxt.Open(ctx, argv[0], pairtxt.HiCProOpts)
	case "4dn":
		return pairtxt.OpenFourDN(ctx, argv[0])
	case "text":
		return pairtxt.Open(ctx, argv[0], pairtxt.DefaultOpts)
	}
	return nil, fmt.Errorf("load: unknown format %q", *flags.format)
}

func load(flags loadFlags, argv []string) (err error) {
	ctx := vcontext.Background()
	regs, err := regions.ReadBEDFile(ctx, *flags.regions)
	if err != nil {
		return err
	}
	src, err := openSource(flags, argv)
	if err != nil {
		return err
	}
	gen := reads.NewGenerator(src)
	defer func() {
		if e := gen.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if *flags.quality > 0 {
		gen.AddFilter(&reads.QualityFilter{Cutoff: byte(*flags.quality)})
	}
	if *flags.unique {
		gen.AddFilter(&reads.UniquenessFilter{Strict: *flags.strict})
	}
	if *flags.bwaUnique {
		gen.AddFilter(&reads.BwaMemUniquenessFilter{Strict: *flags.strict})
	}
	if *flags.bwaQuality > 0 {
		gen.AddFilter(&reads.BwaMemQualityFilter{Cutoff: *flags.bwaQuality})
	}
	if *flags.contaminant != "" {
		f, err := reads.NewContaminantFilterFromAlignments(ctx, *flags.contaminant)
		if err != nil {
			return err
		}
		gen.AddFilter(f)
	}

	store := pairs.New()
	if err := store.AddRegions(regs); err != nil {
		return err
	}
	opts := pipeline.DefaultOpts
	opts.Workers = *flags.workers
	opts.BatchSize = *flags.batchSize
	opts.FlushSize = *flags.flushSize
	if _, err := store.AddReadPairs(ctx, gen, opts); err != nil {
		return err
	}
	gen.LogStats()
	return store.Save(ctx, *flags.out)
}

// parseDistance parses a ligation distance flag: "" disables the filter,
// "auto" infers the distance from the data.
func parseDistance(name, value string) (enabled bool, d *int64, err error) {
	switch value {
	case "":
		return false, nil, nil
	case "auto":
		return true, nil, nil
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false, nil, fmt.Errorf("-%s: expected a distance or \"auto\", got %q", name, value)
	}
	return true, &v, nil
}

func newCmdFilter() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "filter",
		Short:    "Mask artifact pairs of a pair store",
		ArgsName: "store",
	}
	inward := cmd.Flags.String("inward", "", `Mask inward-facing pairs at most this many bp apart, or "auto"`)
	outward := cmd.Flags.String("outward", "", `Mask outward-facing pairs at most this many bp apart, or "auto"`)
	reDist := cmd.Flags.Int64("redist", 0, "Mask pairs whose summed distance to the nearest restriction sites exceeds this. 0 disables the filter.")
	selfLigated := cmd.Flags.Bool("self-ligated", false, "Mask self-ligated pairs")
	duplicates := cmd.Flags.Int64("pcr-duplicates", -1, "Mask PCR duplicates using this position threshold. Negative disables the filter.")
	out := cmd.Flags.String("out", "", "Output store directory. By default the input store is overwritten.")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("filter takes one store directory, but got %v", argv)
		}
		ctx := vcontext.Background()
		store, err := pairs.Open(ctx, argv[0])
		if err != nil {
			return err
		}
		// Ligation thresholds are inferred before any other mask is applied.
		if ok, d, err := parseDistance("inward", *inward); err != nil {
			return err
		} else if ok {
			if _, err := store.FilterInward(d, true); err != nil {
				return err
			}
		}
		if ok, d, err := parseDistance("outward", *outward); err != nil {
			return err
		} else if ok {
			if _, err := store.FilterOutward(d, true); err != nil {
				return err
			}
		}
		if *reDist > 0 {
			if _, err := store.FilterReDist(*reDist, true); err != nil {
				return err
			}
		}
		if *selfLigated {
			if _, err := store.FilterSelfLigated(true); err != nil {
				return err
			}
		}
		if *duplicates >= 0 {
			if _, err := store.FilterPCRDuplicates(*duplicates, true); err != nil {
				return err
			}
		}
		if _, err := store.RunQueuedFilters(); err != nil {
			return err
		}
		dst := *out
		if dst == "" {
			dst = argv[0]
		}
		return store.Save(ctx, dst)
	})
	return cmd
}

func newCmdStats() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "stats",
		Short:    "Print the filter statistics of a pair store",
		ArgsName: "store",
	}
	biases := cmd.Flags.Bool("ligation-biases", false, "Print the ligation structure biases instead")
	sampling := cmd.Flags.Int("sampling", 0, "Same-strand pairs per ligation bias bin. 0 picks a default.")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("stats takes one store directory, but got %v", argv)
		}
		store, err := pairs.Open(vcontext.Background(), argv[0])
		if err != nil {
			return err
		}
		w := tsv.NewWriter(env.Stdout)
		if *biases {
			b, err := store.LigationStructureBiases(*sampling, true)
			if err != nil {
				return err
			}
			for _, col := range []string{"distance", "inward_ratio", "outward_ratio", "bin_size"} {
				w.WriteString(col)
			}
			if err := w.EndLine(); err != nil {
				return err
			}
			for i := range b.Distances {
				w.WriteInt64(b.Distances[i])
				w.WriteString(strconv.FormatFloat(b.InwardRatios[i], 'g', -1, 64))
				w.WriteString(strconv.FormatFloat(b.OutwardRatios[i], 'g', -1, 64))
				w.WriteInt64(b.BinSizes[i])
				if err := w.EndLine(); err != nil {
					return err
				}
			}
			if d, ok := pairs.AutoDistance(b.Distances, b.InwardRatios, b.BinSizes); ok {
				log.Printf("inferred inward distance: %d", d)
			}
			if d, ok := pairs.AutoDistance(b.Distances, b.OutwardRatios, b.BinSizes); ok {
				log.Printf("inferred outward distance: %d", d)
			}
			return w.Flush()
		}
		stats := store.FilterStatistics()
		for _, m := range store.Masks() {
			if _, ok := stats[m.Name]; !ok {
				continue
			}
			w.WriteString(m.Name)
			w.WriteInt64(stats[m.Name])
			w.WriteString(m.Description)
			if err := w.EndLine(); err != nil {
				return err
			}
			delete(stats, m.Name)
		}
		for _, k := range sortedNames(stats) {
			w.WriteString(k)
			w.WriteInt64(stats[k])
			w.WriteString("")
			if err := w.EndLine(); err != nil {
				return err
			}
		}
		return w.Flush()
	})
	return cmd
}

func newCmdMatrix() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "matrix",
		Short:    "Write the fragment contact matrix of a pair store as TSV",
		ArgsName: "store",
	}
	out := cmd.Flags.String("out", "", "Output path. By default the matrix is written to stdout.")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) (err error) {
		if len(argv) != 1 {
			return fmt.Errorf("matrix takes one store directory, but got %v", argv)
		}
		ctx := vcontext.Background()
		store, err := pairs.Open(ctx, argv[0])
		if err != nil {
			return err
		}
		m, err := store.ToContactMatrix()
		if err != nil {
			return err
		}
		if *out == "" {
			return m.WriteTSV(env.Stdout)
		}
		f, err := file.Create(ctx, *out)
		if err != nil {
			return err
		}
		defer file.CloseAndReport(ctx, f, &err)
		return m.WriteTSV(f.Writer(ctx))
	})
	return cmd
}
