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

// Package cmd implements subcommands of ctclient, the command-line utility for
// interacting with certified-transparency logs.
package cmd

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/client"
	"github.com/saarsec/certified-transparency/jsonclient"
	"github.com/saarsec/certified-transparency/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

const (
	connectionFlags = "[--log_uri uri] [--monitor_uri uri]"
	userAgent       = "ct-go-ctclient/1.0"
	// defaultKeyName is the client key used for registered entries.
	defaultKeyName = "default"
)

var (
	logURI     string
	monitorURI string
	dbFile     string
	timeout    time.Duration
)

func init() {
	// Add flags added with "flag" package, including klog, to Cobra flag set.
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&logURI, "log_uri", "http://127.0.0.1:3000", "Log server base URI")
	flags.StringVar(&monitorURI, "monitor_uri", "http://127.0.0.1:3001", "Monitor base URI")
	flags.StringVar(&dbFile, "db_file", "ctclient.db", "sqlite3 file holding receipts and client keys")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for a single HTTP request")
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ctclient",
	Short: "A command line client for certified-transparency logs",

	// Go flags were parsed by Cobra through pflag; only mark them parsed.
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		flag.CommandLine.Parse(nil)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It needs to be called exactly once by main().
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		klog.Fatal(err)
	}
}

func exitWithDetails(err error) {
	var perr *ct.ProtocolError
	if errors.As(err, &perr) && perr.StatusCode != 0 {
		klog.Infof("HTTP details: status=%d, body:\n%s", perr.StatusCode, perr.Body)
	}
	klog.Exit(err.Error())
}

func httpClient() *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   30 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			MaxIdleConnsPerHost:   10,
			DisableKeepAlives:     false,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func connect(context.Context) *client.LogClient {
	klog.V(1).Infof("Use log at %s", logURI)
	logClient, err := client.New(logURI, httpClient(), jsonclient.Options{UserAgent: userAgent})
	if err != nil {
		klog.Exit(err)
	}
	return logClient
}

func connectMonitor(context.Context) *client.MonitorClient {
	klog.V(1).Infof("Use monitor at %s", monitorURI)
	monitorClient, err := client.NewMonitor(monitorURI, httpClient(), jsonclient.Options{UserAgent: userAgent})
	if err != nil {
		klog.Exit(err)
	}
	return monitorClient
}

func openStorage(ctx context.Context) *storage.Storage {
	s, err := storage.Open(ctx, dbFile)
	if err != nil {
		klog.Exitf("Failed to open %s: %v", dbFile, err)
	}
	return s
}

// logVerifier fetches the log's key and returns a verifier for it.
func logVerifier(ctx context.Context, logClient *client.LogClient) *ct.SignatureVerifier {
	key, err := logClient.GetPubKey(ctx)
	if err != nil {
		exitWithDetails(err)
	}
	v, err := ct.NewSignatureVerifier(key)
	if err != nil {
		klog.Exit(err)
	}
	return v
}

// contentHashOfFile returns the content hash under which a file is
// registered.
func contentHashOfFile(filename string) ct.Hash {
	data, err := os.ReadFile(filename)
	if err != nil {
		klog.Exitf("Failed to read %s: %v", filename, err)
	}
	return ct.Sum(data)
}
