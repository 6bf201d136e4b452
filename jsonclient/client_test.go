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

package jsonclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	ct "github.com/saarsec/certified-transparency"
)

type testStruct struct {
	TreeSize  int    `json:"tree_size"`
	RootHash  string `json:"root_hash"`
	Timestamp int    `json:"timestamp"`
}

type testParams struct {
	Key string `json:"key"`
}

func TestNew(t *testing.T) {
	for _, test := range []struct {
		uri     string
		wantErr bool
		wantURI string
	}{
		{uri: "http://127.0.0.1:3000", wantURI: "http://127.0.0.1:3000"},
		{uri: "http://127.0.0.1:3000/", wantURI: "http://127.0.0.1:3000"},
		{uri: "https://log.example.com/base//", wantURI: "https://log.example.com/base"},
		{uri: "ftp://log.example.com", wantErr: true},
		{uri: "127.0.0.1:3000", wantErr: true},
		{uri: "http://[::1", wantErr: true},
	} {
		c, err := New(test.uri, nil, Options{})
		if gotErr := err != nil; gotErr != test.wantErr {
			t.Errorf("New(%q)=_,%v; want err? %v", test.uri, err, test.wantErr)
			continue
		}
		if err == nil && c.BaseURI() != test.wantURI {
			t.Errorf("New(%q).BaseURI()=%q, want %q", test.uri, c.BaseURI(), test.wantURI)
		}
	}
}

func TestGetAndParse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.Header.Get("User-Agent"), "ct-test/1.0"; got != want {
			http.Error(w, fmt.Sprintf("User-Agent=%q", got), http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/struct/path":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"tree_size": %s, "timestamp": 1469185273000, "root_hash": "hash"}`, r.FormValue("tree_size"))
		case "/charset":
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			fmt.Fprint(w, `{"tree_size": 11}`)
		case "/text":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, `{"tree_size": 11}`)
		case "/untyped":
			fmt.Fprint(w, `{"tree_size": 11}`)
		case "/bad-json":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"tree_size": 11`)
		case "/error":
			http.Error(w, strings.Repeat("x", 2*maxErrorBody), http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	client, err := New(ts.URL, nil, Options{UserAgent: "ct-test/1.0"})
	if err != nil {
		t.Fatalf("New()=_,%v; want _,nil", err)
	}
	ctx := context.Background()

	for _, test := range []struct {
		path       string
		params     map[string]string
		want       testStruct
		wantStatus int
		wantErr    string
	}{
		{path: "/struct/path", params: map[string]string{"tree_size": "11"}, want: testStruct{TreeSize: 11, RootHash: "hash", Timestamp: 1469185273000}},
		{path: "/charset", want: testStruct{TreeSize: 11}},
		{path: "/text", wantStatus: http.StatusOK, wantErr: "content type"},
		{path: "/untyped", wantStatus: http.StatusOK, wantErr: "content type"},
		{path: "/bad-json", wantStatus: http.StatusOK, wantErr: "failed to parse JSON"},
		{path: "/error", wantStatus: http.StatusInternalServerError, wantErr: "500"},
		{path: "/missing", wantStatus: http.StatusNotFound, wantErr: "404"},
	} {
		t.Run(test.path, func(t *testing.T) {
			var got testStruct
			_, _, err := client.GetAndParse(ctx, test.path, test.params, &got)
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("GetAndParse()=%v; want nil", err)
				}
				if diff := cmp.Diff(test.want, got); diff != "" {
					t.Errorf("GetAndParse() diff: (-want +got)\n%s", diff)
				}
				return
			}
			var perr *ct.ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("GetAndParse()=%v; want ProtocolError", err)
			}
			if perr.StatusCode != test.wantStatus {
				t.Errorf("StatusCode=%d, want %d", perr.StatusCode, test.wantStatus)
			}
			if perr.Endpoint != test.path {
				t.Errorf("Endpoint=%q, want %q", perr.Endpoint, test.path)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("GetAndParse()=%q; want error containing %q", err, test.wantErr)
			}
			if len(perr.Body) > maxErrorBody {
				t.Errorf("len(Body)=%d, want <= %d", len(perr.Body), maxErrorBody)
			}
		})
	}
}

func TestPostAndParse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var req testParams
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"tree_size": 12, "root_hash": %q}`, req.Key)
	}))
	defer ts.Close()

	client, err := New(ts.URL, nil, Options{})
	if err != nil {
		t.Fatalf("New()=_,%v; want _,nil", err)
	}
	var got testStruct
	if _, _, err := client.PostAndParse(context.Background(), "/post", testParams{Key: "k"}, &got); err != nil {
		t.Fatalf("PostAndParse()=%v; want nil", err)
	}
	if want := (testStruct{TreeSize: 12, RootHash: "k"}); got != want {
		t.Errorf("PostAndParse() got %+v, want %+v", got, want)
	}
}

func TestTransportErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	client, err := New(ts.URL, nil, Options{})
	if err != nil {
		t.Fatalf("New()=_,%v; want _,nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var got testStruct
	var terr *ct.TransportError
	if _, _, err := client.GetAndParse(ctx, "/x", nil, &got); !errors.As(err, &terr) {
		t.Errorf("GetAndParse(cancelled)=%v; want TransportError", err)
	} else if !errors.Is(err, context.Canceled) {
		t.Errorf("GetAndParse(cancelled)=%v; want wrapped context.Canceled", err)
	}

	ts.Close()
	if _, _, err := client.PostAndParse(context.Background(), "/x", testParams{}, &got); !errors.As(err, &terr) {
		t.Errorf("PostAndParse(closed server)=%v; want TransportError", err)
	}
}
