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
	"github.com/saarsec/certified-transparency/merkletree"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var leafIndex int64

func init() {
	cmd := cobra.Command{
		Use:     fmt.Sprintf("get-entry-and-proof %s --index=idx", connectionFlags),
		Aliases: []string{"getentryandproof", "proof", "inclusion"},
		Short:   "Fetch and verify an entry with its inclusion proof",
		Args:    cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			runGetEntryAndProof(cmd.Context())
		},
	}
	cmd.Flags().Int64Var(&leafIndex, "index", -1, "Index of the entry")
	rootCmd.AddCommand(&cmd)
}

// runGetEntryAndProof runs the get-entry-and-proof command.
func runGetEntryAndProof(ctx context.Context) {
	if leafIndex < 0 {
		klog.Exit("No --index option supplied")
	}
	logClient := connect(ctx)
	v := logVerifier(ctx, logClient)
	proof, _, err := logClient.GetEntryAndProof(ctx, uint64(leafIndex))
	if err != nil {
		exitWithDetails(err)
	}
	showLeaf(proof.Index, proof.Leaf)
	showProof(proof)
	if err := verifyProof(v, proof); err != nil {
		klog.Exit(err)
	}
	fmt.Printf("Verified that leaf %d + proof = root hash %v\n", proof.Index, proof.Head.Hash)
}

func showProof(proof *ct.TreeLeafProof) {
	fmt.Printf("Inclusion proof for index %d in tree of size %d:\n", proof.Index, proof.Head.Size)
	for _, h := range proof.Hashes {
		fmt.Printf("  %v\n", h)
	}
}

// verifyProof checks the signed head and the audit path of proof.
func verifyProof(v *ct.SignatureVerifier, proof *ct.TreeLeafProof) error {
	if err := v.VerifySTHSignature(proof.Head); err != nil {
		return err
	}
	return merkletree.VerifyLeafProof(proof)
}
