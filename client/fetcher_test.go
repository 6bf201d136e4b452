// Copyright 2024 Google LLC. All Rights Reserved.
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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/jsonclient"
)

func TestFetcherRun(t *testing.T) {
	for _, test := range []struct {
		size       int
		opts       FetcherOptions
		wantFirst  uint64
		wantCount  int
		wantMaxLen int
	}{
		{size: 0, opts: FetcherOptions{}, wantCount: 0},
		{size: 40, opts: FetcherOptions{}, wantCount: 40, wantMaxLen: 16},
		{size: 40, opts: FetcherOptions{BatchSize: 100, ParallelFetch: 3}, wantCount: 40, wantMaxLen: 16},
		{size: 40, opts: FetcherOptions{BatchSize: 5, StartIndex: 7, EndIndex: 23}, wantFirst: 7, wantCount: 16, wantMaxLen: 5},
		{size: 10, opts: FetcherOptions{BatchSize: 4, StartIndex: 8, EndIndex: 500, QPS: 1000}, wantFirst: 8, wantCount: 2, wantMaxLen: 4},
	} {
		t.Run(fmt.Sprintf("%d:%+v", test.size, test.opts), func(t *testing.T) {
			_, c := newFakeLog(t, test.size)
			opts := test.opts
			f := NewFetcher(c, &opts)

			var mu sync.Mutex
			got := make(map[uint64]string)
			err := f.Run(context.Background(), func(b EntryBatch) {
				mu.Lock()
				defer mu.Unlock()
				if len(b.Leaves) > test.wantMaxLen {
					t.Errorf("batch at %d has %d leaves, want <= %d", b.Start, len(b.Leaves), test.wantMaxLen)
				}
				for i, data := range b.Leaves {
					leaf, err := ct.ParseTreeLeaf(data)
					if err != nil {
						t.Errorf("ParseTreeLeaf(%d)=_,%v", b.Start+uint64(i), err)
						continue
					}
					got[b.Start+uint64(i)] = leaf.Name
				}
			})
			if err != nil {
				t.Fatalf("Run()=%v; want nil", err)
			}
			if len(got) != test.wantCount {
				t.Errorf("fetched %d entries, want %d", len(got), test.wantCount)
			}
			for i := test.wantFirst; i < test.wantFirst+uint64(test.wantCount); i++ {
				if want := testLeaf(int(i)).Name; got[i] != want {
					t.Errorf("entry %d has name %q, want %q", i, got[i], want)
				}
			}
		})
	}
}

// A log that returns fewer entries than requested is asked again for the
// rest of the range.
func TestFetcherShortReads(t *testing.T) {
	log, c := newFakeLog(t, 12)
	handler := log.LogHandler()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == ct.GetEntriesPath {
			q := r.URL.Query()
			var start, end uint64
			fmt.Sscan(q.Get("start"), &start)
			fmt.Sscan(q.Get("end"), &end)
			q.Set("end", fmt.Sprint(min(end, start+3)))
			r.URL.RawQuery = q.Encode()
		}
		handler.ServeHTTP(w, r)
	}))
	defer ts.Close()
	short, err := New(ts.URL, c.HTTPClient(), jsonclient.Options{})
	if err != nil {
		t.Fatalf("New()=_,%v", err)
	}

	var starts []uint64
	count := 0
	f := NewFetcher(short, &FetcherOptions{BatchSize: 8})
	if err := f.Run(context.Background(), func(b EntryBatch) {
		starts = append(starts, b.Start)
		count += len(b.Leaves)
	}); err != nil {
		t.Fatalf("Run()=%v; want nil", err)
	}
	if count != 12 {
		t.Errorf("fetched %d entries, want 12", count)
	}
	if diff := cmp.Diff([]uint64{0, 3, 6, 8, 11}, starts); diff != "" {
		t.Errorf("batch starts diff: (-want +got)\n%s", diff)
	}
}

func TestFetcherErrors(t *testing.T) {
	log, _ := newFakeLog(t, 4)
	sth := log.Head()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ct.GetSTHPath:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"sth": %q}`, b64(sth.Serialize()))
		case ct.GetEntriesPath:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"leaves": []}`)
		}
	}))
	defer ts.Close()
	c, err := New(ts.URL, nil, jsonclient.Options{})
	if err != nil {
		t.Fatalf("New()=_,%v", err)
	}
	err = NewFetcher(c, DefaultFetcherOptions()).Run(context.Background(), func(EntryBatch) {})
	var perr *ct.ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("Run(empty answers)=%v; want ProtocolError", err)
	}
}
