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
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "receipts",
		Short: "List the receipts stored locally",
		Args:  cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			runReceipts(cmd.Context())
		},
	})
}

// runReceipts runs the receipts command.
func runReceipts(ctx context.Context) {
	s := openStorage(ctx)
	defer s.Close()
	receipts, err := s.Receipts(ctx)
	if err != nil {
		klog.Exit(err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tCREATED\tNAME\tCONTENT HASH")
	for _, r := range receipts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\n", r.ID, r.Kind, r.Created.Format(time.RFC3339), r.Name, r.ContentHash)
	}
	w.Flush()
}
