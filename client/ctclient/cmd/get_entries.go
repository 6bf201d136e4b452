// Copyright 2022 Google LLC. All Rights Reserved.
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

package cmd

import (
	"context"
	"fmt"

	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/client"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	getFirst int64
	getLast  int64
	getQPS   float64
)

func init() {
	cmd := cobra.Command{
		Use:     fmt.Sprintf("get-entries %s --first=idx [--last=idx] [--qps=N]", connectionFlags),
		Aliases: []string{"getentries", "entries"},
		Short:   "Fetch a range of entries in the log",
		Args:    cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			runGetEntries(cmd.Context())
		},
	}
	cmd.Flags().Int64Var(&getFirst, "first", -1, "First entry to get")
	cmd.Flags().Int64Var(&getLast, "last", -1, "Last entry to get")
	cmd.Flags().Float64Var(&getQPS, "qps", 0, "Maximum get-entries requests per second, 0 for no limit")
	rootCmd.AddCommand(&cmd)
}

// runGetEntries runs the get-entries command.
func runGetEntries(ctx context.Context) {
	logClient := connect(ctx)
	if getFirst == -1 {
		klog.Exit("No --first option supplied")
	}
	if getLast == -1 {
		getLast = getFirst
	}
	if getLast < getFirst {
		klog.Exitf("--last (%d) is before --first (%d)", getLast, getFirst)
	}

	fetcher := client.NewFetcher(logClient, &client.FetcherOptions{
		BatchSize:     ct.MaxEntriesPerRequest,
		ParallelFetch: 1,
		StartIndex:    uint64(getFirst),
		EndIndex:      uint64(getLast) + 1,
		QPS:           getQPS,
	})
	err := fetcher.Run(ctx, func(b client.EntryBatch) {
		for i, data := range b.Leaves {
			showLeaf(b.Start+uint64(i), data)
		}
	})
	if err != nil {
		exitWithDetails(err)
	}
}

func showLeaf(index uint64, data []byte) {
	leaf, err := ct.ParseTreeLeaf(data)
	if err != nil {
		fmt.Printf("Index=%d Failed to parse leaf: %v\n", index, err)
		return
	}
	fmt.Printf("Index=%d Created=%v ContentHash=%v Name=%q PubKey=%x\n", index, leaf.Created, leaf.ContentHash, leaf.Name, leaf.PubKey)
	fmt.Printf("  private data: %d bytes, public data: %d bytes\n", len(leaf.DataForPrivateClaims), len(leaf.DataForPublicClaims))
}
