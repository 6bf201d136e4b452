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
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/client"
	"github.com/saarsec/certified-transparency/storage"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var metricsEndpoint string

var (
	notificationsSeen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctclient_monitor_notifications_total",
		Help: "Number of new-leaf notifications received.",
	})
	notificationsBad = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ctclient_monitor_bad_notifications_total",
		Help: "Number of notifications that could not be decoded.",
	})
	receiptMatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ctclient_monitor_receipt_matches_total",
		Help: "Number of new entries whose content hash matches a stored receipt, by receipt kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(notificationsSeen, notificationsBad, receiptMatches)

	cmd := cobra.Command{
		Use:   fmt.Sprintf("monitor %s [--metrics_endpoint=addr]", connectionFlags),
		Short: "Watch the monitor for new entries concerning stored receipts",
		Args:  cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			runMonitor(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&metricsEndpoint, "metrics_endpoint", "", "Endpoint for serving metrics; if left empty, metrics will not be exposed")
	rootCmd.AddCommand(&cmd)
}

// runMonitor runs the monitor command until the stream fails.
func runMonitor(ctx context.Context) {
	if metricsEndpoint != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := http.Server{Addr: metricsEndpoint, Handler: mux}
		klog.Infof("Serving metrics at %v", metricsEndpoint)
		go func() {
			err := server.ListenAndServe()
			klog.Warningf("Metrics server exited: %v", err)
		}()
	}

	s := openStorage(ctx)
	defer s.Close()
	monitor := connectMonitor(ctx)
	w, err := monitor.Watch(ctx)
	if err != nil {
		exitWithDetails(err)
	}
	defer w.Close()
	klog.Infof("Watching %s", monitor.BaseURI())

	for {
		n, err := w.Next(ctx)
		var perr *ct.ProtocolError
		if errors.As(err, &perr) {
			notificationsBad.Inc()
			klog.Warningf("Skipping notification: %v", err)
			continue
		}
		if err != nil {
			exitWithDetails(err)
		}
		notificationsSeen.Inc()
		if err := reportNotification(ctx, s, n); err != nil {
			klog.Warningf("Entry %d: %v", n.Index, err)
		}
	}
}

// reportNotification prints the entry announced by n if its content hash
// matches a stored receipt.
func reportNotification(ctx context.Context, s *storage.Storage, n *client.Notification) error {
	leaf, err := ct.ParseTreeLeaf(n.Leaf)
	if err != nil {
		notificationsBad.Inc()
		return err
	}
	klog.V(1).Infof("Entry %d: %v registered to %q", n.Index, leaf.ContentHash, leaf.Name)
	// Receipts may be added while the monitor runs.
	byHash, err := s.ReceiptsByContentHash(ctx)
	if err != nil {
		return err
	}
	for _, r := range byHash[leaf.ContentHash] {
		receiptMatches.WithLabelValues(string(r.Kind)).Inc()
		fmt.Printf("Entry %d registers %v to %q (receipt %d for %q, %s)\n", n.Index, leaf.ContentHash, leaf.Name, r.ID, r.Name, r.Kind)
	}
	return nil
}
