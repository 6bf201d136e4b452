// Copyright 2018 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"context"
	"fmt"

	ct "github.com/saarsec/certified-transparency"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

// FetcherOptions holds configuration options for the Fetcher.
type FetcherOptions struct {
	// Number of entries to request in one batch from the log. Values above
	// ct.MaxEntriesPerRequest are lowered to it.
	BatchSize int

	// Number of concurrent fetcher workers to run.
	ParallelFetch int

	// [StartIndex, EndIndex) is a log entry range to fetch. If EndIndex == 0,
	// then it gets reassigned to sth.Size.
	StartIndex uint64
	EndIndex   uint64

	// QPS limits the rate of get-entries requests across all workers. Zero
	// means unlimited.
	QPS float64
}

// DefaultFetcherOptions returns new FetcherOptions with sensible defaults.
func DefaultFetcherOptions() *FetcherOptions {
	return &FetcherOptions{
		BatchSize:     ct.MaxEntriesPerRequest,
		ParallelFetch: 1,
	}
}

// EntryBatch represents a contiguous range of entries of the log.
type EntryBatch struct {
	Start  uint64   // Index of the first entry in the range.
	Leaves [][]byte // Raw TreeLeaf bytes of the range.
}

// fetchRange represents a range of entries to fetch from a log.
type fetchRange struct {
	start uint64 // inclusive
	end   uint64 // exclusive
}

// Fetcher is a tool that fetches a range of entries from a log.
type Fetcher struct {
	// Client used to talk to the log instance.
	client *LogClient
	// Configuration options for this Fetcher instance.
	opts FetcherOptions
	// Shared by all workers.
	limiter *rate.Limiter

	// Current STH of the log this Fetcher sends queries to.
	sth *ct.SignedTreeHead
}

// NewFetcher creates a Fetcher instance using client to talk to the log,
// taking configuration options from opts.
func NewFetcher(client *LogClient, opts *FetcherOptions) *Fetcher {
	o := *opts
	if o.BatchSize <= 0 || o.BatchSize > ct.MaxEntriesPerRequest {
		o.BatchSize = ct.MaxEntriesPerRequest
	}
	if o.ParallelFetch <= 0 {
		o.ParallelFetch = 1
	}
	limit := rate.Inf
	if o.QPS > 0 {
		limit = rate.Limit(o.QPS)
	}
	return &Fetcher{client: client, opts: o, limiter: rate.NewLimiter(limit, 1)}
}

// Prepare caches the latest log's STH if not present and returns it. It
// also adjusts the entry range to fit the size of the tree.
func (f *Fetcher) Prepare(ctx context.Context) (*ct.SignedTreeHead, error) {
	if f.sth != nil {
		return f.sth, nil
	}

	sth, err := f.client.GetSTH(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetSTH() failed: %w", err)
	}
	klog.V(1).Infof("Got STH with %d entries", sth.Size)
	if f.opts.EndIndex == 0 || f.opts.EndIndex > sth.Size {
		f.opts.EndIndex = sth.Size
	}
	f.sth = sth
	return sth, nil
}

// Run fetches the configured range. Blocks until fetching is complete, a
// request fails, or the context is cancelled. For each fetched batch, runs
// the fn callback, which may be called from several workers at once when
// ParallelFetch > 1. Failed requests are not retried.
func (f *Fetcher) Run(ctx context.Context, fn func(EntryBatch)) error {
	if _, err := f.Prepare(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	ranges := f.genRanges(ctx)
	for w := 0; w < f.opts.ParallelFetch; w++ {
		idx := w
		g.Go(func() error {
			defer klog.V(2).Infof("Fetcher worker %d finished", idx)
			return f.runWorker(ctx, ranges, fn)
		})
	}
	return g.Wait()
}

// genRanges returns a channel of ranges to fetch, and starts a goroutine
// that sends things down this channel. The goroutine terminates when all
// ranges have been generated, or if context is cancelled.
func (f *Fetcher) genRanges(ctx context.Context) <-chan fetchRange {
	batch := uint64(f.opts.BatchSize)
	ranges := make(chan fetchRange)

	go func() {
		defer close(ranges)
		for start, end := f.opts.StartIndex, f.opts.EndIndex; start < end; {
			batchEnd := start + min(end-start, batch)
			select {
			case <-ctx.Done():
				return
			case ranges <- fetchRange{start, batchEnd}:
			}
			start = batchEnd
		}
	}()

	return ranges
}

// runWorker fetches the ranges it receives. The log may return fewer leaves
// than requested, in which case the rest of the range is requested again.
func (f *Fetcher) runWorker(ctx context.Context, ranges <-chan fetchRange, fn func(EntryBatch)) error {
	for r := range ranges {
		for r.start < r.end {
			if err := f.limiter.Wait(ctx); err != nil {
				return err
			}
			leaves, err := f.client.GetRawEntries(ctx, r.start, r.end)
			if err != nil {
				return fmt.Errorf("GetRawEntries(%d, %d) failed: %w", r.start, r.end, err)
			}
			if len(leaves) == 0 {
				return &ct.ProtocolError{
					Endpoint: ct.GetEntriesPath,
					Field:    "leaves",
					Err:      fmt.Errorf("no entries returned for [%d, %d)", r.start, r.end),
				}
			}
			fn(EntryBatch{Start: r.start, Leaves: leaves})
			r.start += uint64(len(leaves))
		}
	}
	return nil
}
