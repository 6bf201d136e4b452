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

package cmd

import (
	"context"
	"fmt"
	"strconv"

	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/storage"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   fmt.Sprintf("claim %s RECEIPT_ID INDEX", connectionFlags),
		Short: "Claim the data of the entry at INDEX using a stored receipt",
		Long: `Claim the data of a later entry for the same content.

A statement of transfer receipt releases the entry's private data, a proof
receipt for an entry owned by the local client key releases its public data.`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			runClaim(cmd.Context(), args[0], args[1])
		},
	})
}

// runClaim runs the claim command.
func runClaim(ctx context.Context, receiptArg, indexArg string) {
	index, err := strconv.ParseUint(indexArg, 10, 64)
	if err != nil {
		klog.Exitf("Invalid index %q: %v", indexArg, err)
	}
	s := openStorage(ctx)
	defer s.Close()
	r := loadReceipt(ctx, s, receiptArg)

	logClient := connect(ctx)
	v := logVerifier(ctx, logClient)
	claimed, rawClaimed, err := logClient.GetEntryAndProof(ctx, index)
	if err != nil {
		exitWithDetails(err)
	}
	if err := verifyProof(v, claimed); err != nil {
		klog.Exitf("Proof for entry %d does not verify: %v", index, err)
	}

	monitor := connectMonitor(ctx)
	var data string
	switch r.Kind {
	case storage.KindSOT:
		data, err = monitor.ClaimPrivate(ctx, r.Data, rawClaimed)
	case storage.KindProof:
		claiming, perr := ct.ParseTreeLeafProof(r.Data)
		if perr != nil {
			klog.Exit(perr)
		}
		key, kerr := s.ClientKey(ctx, defaultKeyName)
		if kerr != nil {
			klog.Exitf("Failed to load client key: %v", kerr)
		}
		data, err = monitor.ClaimPublic(ctx, r.Data, rawClaimed, ct.SignLeaf(key, claiming.Leaf))
	default:
		klog.Exitf("Receipt %d has unknown kind %q", r.ID, r.Kind)
	}
	if err != nil {
		exitWithDetails(err)
	}
	fmt.Println(data)
}
