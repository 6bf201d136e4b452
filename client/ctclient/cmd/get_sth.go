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

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:     fmt.Sprintf("get-sth %s", connectionFlags),
		Aliases: []string{"sth"},
		Short:   "Fetch and verify the latest STH of the log",
		Args:    cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			runGetSTH(cmd.Context())
		},
	})
}

// runGetSTH runs the get-sth command.
func runGetSTH(ctx context.Context) {
	logClient := connect(ctx)
	v := logVerifier(ctx, logClient)
	sth, err := logClient.GetSTH(ctx)
	if err != nil {
		exitWithDetails(err)
	}
	// Display the STH.
	fmt.Printf("%v: Got STH for log (size=%d) at %v, hash %v\n", sth.Timestamp, sth.Size, logClient.BaseURI(), sth.Hash)
	fmt.Printf("Signature: %x\n", sth.Signature)
	if err := v.VerifySTHSignature(*sth); err != nil {
		klog.Exitf("STH does not verify under key %x: %v", v.PubKey, err)
	}
	fmt.Printf("Signature verified with key %x\n", v.PubKey)
}
