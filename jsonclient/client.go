// Copyright 2016 Google Inc. All Rights Reserved.
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

// Package jsonclient provides a simple client for fetching and parsing
// JSON responses from the log and monitor servers.
package jsonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	ct "github.com/saarsec/certified-transparency"
	"k8s.io/klog/v2"
)

// maxErrorBody bounds the part of a response body kept in a ProtocolError.
const maxErrorBody = 1024

// JSONClient provides common functionality for interacting with a JSON
// server. It performs no retries.
type JSONClient struct {
	uri        string       // the base URI of the server. e.g. http://127.0.0.1:3000
	httpClient *http.Client // used to interact with the server via HTTP
	userAgent  string       // If set, this is sent as the UserAgent header.
}

// Options are the options for creating a new JSONClient.
type Options struct {
	// UserAgent, if set, will be sent as the User-Agent header with each request.
	UserAgent string
}

// New constructs a new JSONClient instance, for the given base URI, using the
// given http.Client object (if provided) and the Options object.
func New(uri string, hc *http.Client, opts Options) (*JSONClient, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid URI %q: %v", uri, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid URI %q: scheme must be http or https", uri)
	}
	if hc == nil {
		hc = new(http.Client)
	}
	return &JSONClient{
		uri:        strings.TrimRight(uri, "/"),
		httpClient: hc,
		userAgent:  opts.UserAgent,
	}, nil
}

// BaseURI returns the base URI that the JSONClient makes queries to.
func (c *JSONClient) BaseURI() string {
	return c.uri
}

// HTTPClient returns the client used for requests.
func (c *JSONClient) HTTPClient() *http.Client {
	return c.httpClient
}

// GetAndParse makes a HTTP GET call to the given path, and attempts to parse
// the response as a JSON representation of the rsp structure. Returns the
// http.Response, the body of the response, and an error (which may be of
// type *ct.TransportError or *ct.ProtocolError). The provided context is
// used to control the HTTP call.
func (c *JSONClient) GetAndParse(ctx context.Context, path string, params map[string]string, rsp interface{}) (*http.Response, []byte, error) {
	if ctx == nil {
		return nil, nil, errors.New("context.Context required")
	}
	// Build a GET request with URL-encoded parameters.
	vals := url.Values{}
	for k, v := range params {
		vals.Add(k, v)
	}
	fullURI := c.uri + path
	if len(vals) > 0 {
		fullURI = fmt.Sprintf("%s?%s", fullURI, vals.Encode())
	}
	klog.V(2).Infof("GET %s", fullURI)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURI, nil)
	if err != nil {
		return nil, nil, &ct.TransportError{Endpoint: path, Err: err}
	}
	return c.doAndParse(httpReq, path, rsp)
}

// PostAndParse makes a HTTP POST call to the given path, including the request
// parameters, and attempts to parse the response as a JSON representation of
// the rsp structure. Returns the http.Response, the body of the response, and
// an error (which may be of type *ct.TransportError or *ct.ProtocolError).
// The provided context is used to control the HTTP call.
func (c *JSONClient) PostAndParse(ctx context.Context, path string, req, rsp interface{}) (*http.Response, []byte, error) {
	if ctx == nil {
		return nil, nil, errors.New("context.Context required")
	}
	// Build a POST request with JSON body.
	postBody, err := json.Marshal(req)
	if err != nil {
		return nil, nil, err
	}
	fullURI := c.uri + path
	klog.V(2).Infof("POST %s", fullURI)
	klog.V(3).Infof("POST body: %s", postBody)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURI, bytes.NewReader(postBody))
	if err != nil {
		return nil, nil, &ct.TransportError{Endpoint: path, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.doAndParse(httpReq, path, rsp)
}

func (c *JSONClient) doAndParse(httpReq *http.Request, path string, rsp interface{}) (*http.Response, []byte, error) {
	if len(c.userAgent) != 0 {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	httpRsp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, &ct.TransportError{Endpoint: path, Err: err}
	}
	// Read everything now so http.Client can reuse the connection.
	body, err := io.ReadAll(httpRsp.Body)
	httpRsp.Body.Close()
	if err != nil {
		return httpRsp, body, &ct.TransportError{Endpoint: path, Err: fmt.Errorf("failed to read response body: %v", err)}
	}
	klog.V(3).Infof("%s %s: %s, body: %s", httpReq.Method, path, httpRsp.Status, body)

	if httpRsp.StatusCode != http.StatusOK {
		return httpRsp, body, &ct.ProtocolError{
			Endpoint:   path,
			StatusCode: httpRsp.StatusCode,
			Body:       truncate(body),
			Err:        fmt.Errorf("got HTTP Status %q", httpRsp.Status),
		}
	}
	if err := checkContentType(httpRsp.Header.Get("Content-Type")); err != nil {
		return httpRsp, body, &ct.ProtocolError{Endpoint: path, StatusCode: httpRsp.StatusCode, Body: truncate(body), Err: err}
	}
	if err := json.Unmarshal(body, rsp); err != nil {
		return httpRsp, body, &ct.ProtocolError{Endpoint: path, StatusCode: httpRsp.StatusCode, Body: truncate(body), Err: fmt.Errorf("failed to parse JSON: %v", err)}
	}
	return httpRsp, body, nil
}

func checkContentType(value string) error {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return fmt.Errorf("invalid content type %q: %v", value, err)
	}
	if mediaType != "application/json" {
		return fmt.Errorf("unexpected content type %q", mediaType)
	}
	return nil
}

func truncate(body []byte) []byte {
	if len(body) > maxErrorBody {
		return body[:maxErrorBody]
	}
	return body
}
