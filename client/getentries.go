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

package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	ct "github.com/saarsec/certified-transparency"
)

// GetRawEntries exposes the /api/v1/get-entries result with only the JSON
// and base64 decoding done. The range [start, end) must be non-empty and at
// most ct.MaxEntriesPerRequest long; the server may return fewer leaves
// than requested when end is past the tree size.
func (c *LogClient) GetRawEntries(ctx context.Context, start, end uint64) ([][]byte, error) {
	if end <= start {
		return nil, errors.New("start should be < end")
	}
	if end-start > ct.MaxEntriesPerRequest {
		return nil, fmt.Errorf("at most %d entries can be requested at once", ct.MaxEntriesPerRequest)
	}

	params := map[string]string{
		"start": strconv.FormatUint(start, 10),
		"end":   strconv.FormatUint(end, 10),
	}
	var resp ct.GetEntriesResponse
	if _, _, err := c.GetAndParse(ctx, ct.GetEntriesPath, params, &resp); err != nil {
		return nil, err
	}
	if resp.Leaves == nil {
		return nil, &ct.ProtocolError{Endpoint: ct.GetEntriesPath, Field: "leaves", Err: errors.New("missing field")}
	}
	if uint64(len(*resp.Leaves)) > end-start {
		return nil, &ct.ProtocolError{
			Endpoint: ct.GetEntriesPath,
			Field:    "leaves",
			Err:      fmt.Errorf("got %d leaves for a range of %d", len(*resp.Leaves), end-start),
		}
	}
	leaves := make([][]byte, len(*resp.Leaves))
	for i := range *resp.Leaves {
		data, err := decodeB64(ct.GetEntriesPath, fmt.Sprintf("leaves[%d]", i), &(*resp.Leaves)[i])
		if err != nil {
			return nil, err
		}
		leaves[i] = data
	}
	return leaves, nil
}

// GetEntries attempts to retrieve the entries in the sequence [start, end)
// from the log server. Returns the decoded leaves or a non-nil error.
func (c *LogClient) GetEntries(ctx context.Context, start, end uint64) ([]ct.TreeLeaf, error) {
	raw, err := c.GetRawEntries(ctx, start, end)
	if err != nil {
		return nil, err
	}
	leaves := make([]ct.TreeLeaf, len(raw))
	for i, data := range raw {
		leaf, err := ct.ParseTreeLeaf(data)
		if err != nil {
			return nil, fmt.Errorf("leaf at index %d: %w", start+uint64(i), err)
		}
		leaves[i] = *leaf
	}
	return leaves, nil
}
