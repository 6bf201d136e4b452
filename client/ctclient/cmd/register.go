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
	"crypto/ed25519"
	"fmt"

	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/storage"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	dataPrivate string
	dataPublic  string
)

func init() {
	cmd := cobra.Command{
		Use:   fmt.Sprintf("register %s --name=owner [--data_private=s] [--data_public=s] FILE", connectionFlags),
		Short: "Add an entry for a file to the log",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runRegister(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVar(&entryName, "name", "", "Name the content is registered under")
	cmd.Flags().StringVar(&dataPrivate, "data_private", "", "Data released to holders of an earlier statement of transfer")
	cmd.Flags().StringVar(&dataPublic, "data_public", "", "Data released to owners of an earlier entry")
	rootCmd.AddCommand(&cmd)
}

// runRegister runs the register command.
func runRegister(ctx context.Context, filename string) {
	if entryName == "" {
		klog.Exit("No --name option supplied")
	}
	contentHash := contentHashOfFile(filename)
	s := openStorage(ctx)
	defer s.Close()
	key, err := s.ClientKey(ctx, defaultKeyName)
	if err != nil {
		klog.Exitf("Failed to load client key: %v", err)
	}

	logClient := connect(ctx)
	v := logVerifier(ctx, logClient)
	index, err := logClient.AddEntry(ctx, ct.AddEntryRequest{
		ContentHash: contentHash[:],
		Name:        entryName,
		PubKey:      key.Public().(ed25519.PublicKey),
		DataPrivate: dataPrivate,
		DataPublic:  dataPublic,
	})
	if err != nil {
		exitWithDetails(err)
	}
	klog.V(1).Infof("Entry added at index %d", index)

	proof, rawProof, err := logClient.GetEntryAndProof(ctx, index)
	if err != nil {
		exitWithDetails(err)
	}
	if err := verifyProof(v, proof); err != nil {
		klog.Exitf("Proof for entry %d does not verify: %v", index, err)
	}
	id, err := s.SaveReceipt(ctx, storage.Receipt{Kind: storage.KindProof, ContentHash: contentHash, Name: entryName, Data: rawProof})
	if err != nil {
		klog.Exitf("Failed to save receipt: %v", err)
	}
	fmt.Printf("Receipt %d: entry %d for %v in tree of size %d\n", id, index, contentHash, proof.Head.Size)
}
