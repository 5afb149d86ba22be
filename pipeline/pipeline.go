// Package pipeline resolves read pairs to restriction fragments in parallel
// and hands the results, grouped by chromosome pair, to a Sink.
//
// A Run has three roles connected by bounded channels:
//
//	producer:    reads.Source -> batches of pairs -> input channel
//	workers:     input channel -> fragment lookup -> output channel
//	coordinator: output channel -> per-partition buffers -> Sink.Append
//
// The coordinator runs in the caller's goroutine and is the only role that
// touches the sink. A Monitor shared by the three roles decides when all
// output has been seen.
package pipeline

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hic/reads"
	"github.com/grailbio/hic/regions"
)

// Opts configures a Run. Zero values select the defaults.
type Opts struct {
	// Workers is the number of fragment resolution workers. Default
	// runtime.NumCPU().
	Workers int
	// BatchSize is the number of pairs per dispatched batch. Default 100000.
	BatchSize int
	// QueueLength bounds the input and output channels, in batches. Default
	// 2*Workers.
	QueueLength int
	// Timeout is how long the coordinator waits for output before it logs a
	// warning. It keeps waiting afterwards. Default 10 minutes.
	Timeout time.Duration
	// FlushSize is the number of resolved pairs buffered per partition
	// before they are appended to the sink. Default 1000000.
	FlushSize int
}

// DefaultOpts holds the default options.
var DefaultOpts = Opts{
	BatchSize: 100000,
	Timeout:   10 * time.Minute,
	FlushSize: 1000000,
}

func (o Opts) withDefaults() Opts {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultOpts.BatchSize
	}
	if o.QueueLength <= 0 {
		o.QueueLength = 2 * o.Workers
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultOpts.Timeout
	}
	if o.FlushSize <= 0 {
		o.FlushSize = DefaultOpts.FlushSize
	}
	return o
}

// PartitionKey identifies the partition of a pair: the chromosome indices of
// its left and right fragments, Source <= Sink.
type PartitionKey struct {
	Source, Sink int32
}

// Side is one read of a resolved pair together with its fragment.
type Side struct {
	Pos           int64
	Strand        int8
	Fragment      int32
	Chromosome    int32
	FragmentStart int64
	FragmentEnd   int64
}

// Resolved is a read pair bound to its fragments. Left.Fragment <=
// Right.Fragment, and Left.Pos <= Right.Pos when both reads share a
// fragment.
type Resolved struct {
	Left, Right Side
}

// Key returns the partition of the pair.
func (r *Resolved) Key() PartitionKey {
	return PartitionKey{Source: r.Left.Chromosome, Sink: r.Right.Chromosome}
}

// Resolve looks up the fragments of both reads. It returns false if either
// read lies outside every fragment of idx.
func Resolve(idx *regions.Index, p *reads.Pair) (Resolved, bool) {
	left, ok := resolveRead(idx, &p.R1)
	if !ok {
		return Resolved{}, false
	}
	right, ok := resolveRead(idx, &p.R2)
	if !ok {
		return Resolved{}, false
	}
	if left.Fragment > right.Fragment || (left.Fragment == right.Fragment && left.Pos > right.Pos) {
		left, right = right, left
	}
	return Resolved{Left: left, Right: right}, true
}

func resolveRead(idx *regions.Index, r *reads.Read) (Side, bool) {
	reg, ok := idx.Lookup(r.Chromosome, r.Pos)
	if !ok {
		return Side{}, false
	}
	return Side{
		Pos:           r.Pos,
		Strand:        r.Strand,
		Fragment:      int32(reg.Ix),
		Chromosome:    idx.ChromosomeOfRegion(reg.Ix),
		FragmentStart: reg.Start,
		FragmentEnd:   reg.End,
	}, true
}

// Sink receives resolved pairs. Append is only ever called from the
// goroutine that called Run.
type Sink interface {
	Append(key PartitionKey, pairs []Resolved) error
}

// Stats summarizes a Run.
type Stats struct {
	// Batches is the number of batches dispatched to the workers.
	Batches int
	// Pairs is the number of pairs appended to the sink.
	Pairs int64
	// Skipped is the number of pairs with a read outside every fragment.
	Skipped int64
}

type result struct {
	pairs   []Resolved
	skipped int
}

// Run reads all pairs of src, resolves them against idx and appends them to
// sink. Pairs whose reads cannot be resolved are counted in Stats.Skipped.
//
// Run returns when the source is exhausted and every batch has been
// appended, or on the first error from the source or the sink. Cancelling
// ctx aborts the run. In every case the workers are stopped and the
// producer is joined before Run returns; pairs appended before an error
// remain appended.
func Run(ctx context.Context, src reads.Source, idx *regions.Index, sink Sink, opts Opts) (Stats, error) {
	opts = opts.withDefaults()
	var (
		mon          = NewMonitor()
		in           = make(chan []reads.Pair, opts.QueueLength)
		out          = make(chan result, opts.QueueLength)
		stop         = make(chan struct{})
		producerDone = make(chan struct{})
		workersDone  = make(chan error, 1)
		producerErr  error
		skipped      int64
		stats        Stats
	)

	go func() {
		defer close(producerDone)
		defer close(in)
		defer mon.SetGenerating(false)
		producerErr = produce(src, in, stop, mon, opts.BatchSize)
	}()

	go func() {
		workersDone <- traverse.Each(opts.Workers, func(int) error {
			id := uuid.New()
			log.Debug.Printf("starting fragment resolution worker %v", id)
			for {
				mon.SetWorkerIdle(id)
				var (
					batch []reads.Pair
					ok    bool
				)
				select {
				case batch, ok = <-in:
				case <-stop:
				}
				if !ok {
					return nil
				}
				mon.SetWorkerBusy(id)
				res := result{pairs: make([]Resolved, 0, len(batch))}
				for i := range batch {
					if r, ok := Resolve(idx, &batch[i]); ok {
						res.pairs = append(res.pairs, r)
					} else {
						res.skipped++
					}
				}
				if res.skipped > 0 {
					log.Debug.Printf("worker %v skipped %d pairs", id, res.skipped)
				}
				atomic.AddInt64(&skipped, int64(res.skipped))
				select {
				case out <- res:
				case <-stop:
					mon.SetWorkerIdle(id)
					return nil
				}
			}
		})
	}()

	var (
		once    sync.Once
		stopAll = func() { once.Do(func() { close(stop) }) }
	)
	teardown := func() error {
		stopAll()
		<-producerDone
		return <-workersDone
	}

	buffers := make(map[PartitionKey][]Resolved)
	flush := func(key PartitionKey) error {
		buf := buffers[key]
		if len(buf) == 0 {
			return nil
		}
		if err := sink.Append(key, buf); err != nil {
			return err
		}
		stats.Pairs += int64(len(buf))
		buffers[key] = nil
		return nil
	}

	var (
		drained int
		err     error
		timer   = time.NewTimer(opts.Timeout)
	)
	defer timer.Stop()
loop:
	for !mon.Done(drained) {
		select {
		case res := <-out:
			drained++
			for _, r := range res.pairs {
				key := r.Key()
				buffers[key] = append(buffers[key], r)
				if len(buffers[key]) >= opts.FlushSize {
					if err = flush(key); err != nil {
						break loop
					}
				}
			}
		case <-mon.Changed():
			continue
		case <-timer.C:
			log.Error.Printf("pipeline: no output for %v; the read filters may be rejecting all pairs", opts.Timeout)
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(opts.Timeout)
	}

	if terr := teardown(); err == nil {
		err = terr
	}
	if err == nil {
		err = producerErr
	}
	stats.Batches = mon.Dispatched()
	stats.Skipped = atomic.LoadInt64(&skipped)
	if err != nil {
		return stats, errors.E(err, "read pair ingestion")
	}
	keys := make([]PartitionKey, 0, len(buffers))
	for key := range buffers {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Sink < keys[j].Sink
	})
	for _, key := range keys {
		if err := flush(key); err != nil {
			return stats, errors.E(err, "read pair ingestion")
		}
	}
	log.Printf("pipeline: %d pairs stored, %d skipped, %d batches", stats.Pairs, stats.Skipped, stats.Batches)
	return stats, nil
}

// produce packs the pairs of src into batches and sends them to in until
// src is exhausted or stop is closed.
func produce(src reads.Source, in chan<- []reads.Pair, stop <-chan struct{}, mon *Monitor, batchSize int) error {
	send := func(batch []reads.Pair) bool {
		select {
		case in <- batch:
			mon.Increment()
			return true
		case <-stop:
			return false
		}
	}
	batch := make([]reads.Pair, 0, batchSize)
	for {
		p, ok := src.Next()
		if !ok {
			break
		}
		batch = append(batch, p)
		if len(batch) >= batchSize {
			if !send(batch) {
				return nil
			}
			batch = make([]reads.Pair, 0, batchSize)
		}
	}
	if len(batch) > 0 && !send(batch) {
		return nil
	}
	return src.Err()
}
