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
		Use:   fmt.Sprintf("verify %s RECEIPT_ID", connectionFlags),
		Short: "Check a stored receipt against the log's current key",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runVerify(cmd.Context(), args[0])
		},
	})
}

func loadReceipt(ctx context.Context, s *storage.Storage, arg string) *storage.Receipt {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		klog.Exitf("Invalid receipt ID %q: %v", arg, err)
	}
	r, err := s.Receipt(ctx, id)
	if err != nil {
		klog.Exit(err)
	}
	return r
}

// runVerify runs the verify command.
func runVerify(ctx context.Context, arg string) {
	s := openStorage(ctx)
	defer s.Close()
	r := loadReceipt(ctx, s, arg)
	v := logVerifier(ctx, connect(ctx))

	switch r.Kind {
	case storage.KindSOT:
		sot, err := ct.ParseStatementOfTransfer(r.Data)
		if err != nil {
			klog.Exit(err)
		}
		if err := v.VerifySOTSignature(*sot); err != nil {
			klog.Exit(err)
		}
		fmt.Printf("Receipt %d: statement of transfer for %v to %q at %v verified\n", r.ID, sot.ContentHash, sot.Name, sot.Timestamp)
	case storage.KindProof:
		proof, err := ct.ParseTreeLeafProof(r.Data)
		if err != nil {
			klog.Exit(err)
		}
		if err := verifyProof(v, proof); err != nil {
			klog.Exit(err)
		}
		showLeaf(proof.Index, proof.Leaf)
		fmt.Printf("Receipt %d: entry %d in tree of size %d verified\n", r.ID, proof.Index, proof.Head.Size)
	default:
		klog.Exitf("Receipt %d has unknown kind %q", r.ID, r.Kind)
	}
}
