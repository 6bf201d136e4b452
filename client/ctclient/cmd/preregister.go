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

	"github.com/saarsec/certified-transparency/storage"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var entryName string

func init() {
	cmd := cobra.Command{
		Use:   fmt.Sprintf("preregister %s --name=owner FILE", connectionFlags),
		Short: "Obtain a statement of transfer for a file before publishing it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runPreregister(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVar(&entryName, "name", "", "Name the content is registered under")
	rootCmd.AddCommand(&cmd)
}

// runPreregister runs the preregister command.
func runPreregister(ctx context.Context, filename string) {
	if entryName == "" {
		klog.Exit("No --name option supplied")
	}
	contentHash := contentHashOfFile(filename)
	logClient := connect(ctx)
	v := logVerifier(ctx, logClient)

	sot, raw, err := logClient.SignEntry(ctx, contentHash, entryName)
	if err != nil {
		exitWithDetails(err)
	}
	if err := v.VerifySOTSignature(*sot); err != nil {
		klog.Exitf("Statement of transfer does not verify: %v", err)
	}
	if sot.ContentHash != contentHash || sot.Name != entryName {
		klog.Exitf("Statement of transfer is for %v/%q, want %v/%q", sot.ContentHash, sot.Name, contentHash, entryName)
	}

	s := openStorage(ctx)
	defer s.Close()
	id, err := s.SaveReceipt(ctx, storage.Receipt{Kind: storage.KindSOT, ContentHash: contentHash, Name: entryName, Data: raw})
	if err != nil {
		klog.Exitf("Failed to save receipt: %v", err)
	}
	fmt.Printf("Receipt %d: statement of transfer for %v to %q at %v\n", id, contentHash, entryName, sot.Timestamp)
}
