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
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/saarsec/certified-transparency/checker"
	"github.com/saarsec/certified-transparency/client"
	"github.com/saarsec/certified-transparency/jsonclient"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

var (
	checkConfig string
	checkRounds int
)

// checkTarget is one log and monitor pair to check.
type checkTarget struct {
	LogURI     string `yaml:"log_uri"`
	MonitorURI string `yaml:"monitor_uri"`
}

type checkTargets struct {
	Targets []checkTarget `yaml:"targets"`
}

func init() {
	cmd := cobra.Command{
		Use:   "check --config=file [--rounds=N]",
		Short: "Run store and retrieve rounds against the configured servers",
		Args:  cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			runCheck(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&checkConfig, "config", "", "Path to a YAML file listing the targets")
	cmd.Flags().IntVar(&checkRounds, "rounds", 1, "Number of rounds to run")
	rootCmd.AddCommand(&cmd)
}

func loadTargets(filename string) []checkTarget {
	fileData, err := os.ReadFile(filename)
	if err != nil {
		klog.Exitf("Failed to read from config file: %v", err)
	}
	var cfg checkTargets
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		klog.Exitf("Failed to parse config file as proper YAML: %v", err)
	}
	if len(cfg.Targets) == 0 {
		klog.Exitf("No targets in %s", filename)
	}
	for i, t := range cfg.Targets {
		if t.LogURI == "" || t.MonitorURI == "" {
			klog.Exitf("Target %d needs both log_uri and monitor_uri", i)
		}
	}
	return cfg.Targets
}

func jitter() time.Duration {
	return time.Duration(500+rand.Intn(1000)) * time.Millisecond
}

// runCheck runs the check command. Targets are checked in parallel, the
// rounds of one target in sequence.
func runCheck(ctx context.Context) {
	if checkConfig == "" {
		klog.Exit("No --config option supplied")
	}
	targets := loadTargets(checkConfig)
	s := openStorage(ctx)
	defer s.Close()
	keys := client.NewPubKeyCache(client.PubKeyCacheOption{Size: len(targets), TTL: time.Hour})
	opts := jsonclient.Options{UserAgent: userAgent}

	failed := make([]int, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		i, t := i, t
		logClient, err := client.New(t.LogURI, httpClient(), opts)
		if err != nil {
			klog.Exit(err)
		}
		monitorClient, err := client.NewMonitor(t.MonitorURI, httpClient(), opts)
		if err != nil {
			klog.Exit(err)
		}
		c := checker.New(logClient, monitorClient, keys, s, checker.Options{Jitter: jitter})
		g.Go(func() error {
			failed[i] = checkRoundsOf(ctx, c, t.LogURI)
			return nil
		})
	}
	g.Wait()

	total := 0
	for i, t := range targets {
		fmt.Printf("%s: %d of %d rounds failed\n", t.LogURI, failed[i], checkRounds)
		total += failed[i]
	}
	if total > 0 {
		os.Exit(1)
	}
}

type roundData struct {
	private, public string
}

// checkRoundsOf runs all rounds against one target and returns how many
// failed. Each round also retrieves the data of the round before it.
func checkRoundsOf(ctx context.Context, c *checker.Checker, name string) int {
	stored := make(map[int64]roundData)
	failed := 0
	for r := int64(1); r <= int64(checkRounds); r++ {
		err := checkRound(ctx, c, r, stored)
		c.FinishCycle()
		if err != nil {
			klog.Errorf("%s: round %d failed: %v", name, r, err)
			failed++
			continue
		}
		klog.Infof("%s: round %d OK", name, r)
	}
	return failed
}

func checkRound(ctx context.Context, c *checker.Checker, round int64, stored map[int64]roundData) error {
	if err := c.CheckIntegrity(ctx); err != nil {
		return fmt.Errorf("integrity: %w", err)
	}
	d := roundData{private: uuid.NewString(), public: uuid.NewString()}
	stored[round] = d
	if err := c.Store(ctx, round, d.private, d.public); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	for _, r := range []int64{round - 1, round} {
		d, ok := stored[r]
		if !ok {
			continue
		}
		err := c.Retrieve(ctx, r, d.private, d.public)
		if r < round && errors.Is(err, checker.ErrRoundNotStored) {
			// The previous round failed before it got to save anything.
			continue
		}
		if err != nil {
			return fmt.Errorf("retrieve round %d: %w", r, err)
		}
	}
	return nil
}
