// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// pathtrace-sim replays scripted visitors against a running server and,
// optionally, load-tests the snapshot API at the same time.
//
//	pathtrace-sim --server http://localhost:3000 --visitors 20 --visits 3
//	pathtrace-sim --load-rate 50 --load-duration 30s
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tomtom215/pathtrace/internal/identity"
	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/simulate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverURL    string
		visitors     int
		visits       int
		pages        string
		pause        time.Duration
		clientMint   bool
		seed         uint64
		loadRate     int
		loadDuration time.Duration
		logLevel     string
	)

	flagSet := pflag.NewFlagSet("pathtrace-sim", pflag.ContinueOnError)
	flagSet.StringVarP(&serverURL, "server", "s", "http://localhost:3000", "server origin")
	flagSet.IntVarP(&visitors, "visitors", "n", 5, "number of distinct visitors")
	flagSet.IntVar(&visits, "visits", 2, "page loads per visitor")
	flagSet.StringVar(&pages, "pages", "/,/products,/checkout", "comma-separated paths navigated during each visit")
	flagSet.DurationVar(&pause, "pause", 200*time.Millisecond, "mean pause between interactions")
	flagSet.BoolVar(&clientMint, "client-mint", false, "mint visitor tokens client-side instead of letting the server assign them")
	flagSet.Uint64Var(&seed, "seed", 1, "random seed")
	flagSet.IntVar(&loadRate, "load-rate", 0, "requests per second against /api/users while visiting (0 disables)")
	flagSet.DurationVar(&loadDuration, "load-duration", 10*time.Second, "load test duration")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if visitors < 1 || visits < 1 {
		return fmt.Errorf("--visitors and --visits must be at least 1")
	}

	logging.Init(logging.Config{Level: logLevel, Format: "console", Timestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var resolver *identity.Resolver
	if clientMint {
		resolver = identity.NewResolver(identity.Config{}, nil)
	}
	paths := strings.Split(pages, ",")

	var wg sync.WaitGroup
	loadDone := make(chan simulate.LoadReport, 1)
	if loadRate > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := simulate.LoadSnapshot(ctx, simulate.LoadConfig{
				ServerURL: serverURL,
				Rate:      loadRate,
				Duration:  loadDuration,
			})
			if err != nil {
				logging.Error().Err(err).Msg("load test failed")
				return
			}
			loadDone <- report
		}()
	}

	var (
		mu     sync.Mutex
		events int
		failed int
	)
	for i := 0; i < visitors; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			jar, _ := cookiejar.New(nil)
			rnd := rand.New(rand.NewPCG(seed, uint64(n)))
			for v := 0; v < visits && ctx.Err() == nil; v++ {
				res, err := simulate.Visit(ctx, simulate.VisitConfig{
					ServerURL: serverURL,
					Jar:       jar,
					Resolver:  resolver,
					Pages:     paths,
					Pause:     pause,
					Rand:      rnd,
				})
				mu.Lock()
				if err != nil {
					failed++
				}
				events += res.Events
				mu.Unlock()
				if err != nil {
					logging.Warn().Err(err).Int("visitor", n).Msg("visit failed")
					continue
				}
				logging.Info().
					Int("visitor", n).
					Str("token", string(res.Token)).
					Int("events", res.Events).
					Bool("minted", res.Minted).
					Msg("visit complete")
			}
		}(i)
	}
	wg.Wait()

	logging.Info().
		Int("visitors", visitors).
		Int("events", events).
		Int("failed_visits", failed).
		Msg("simulation finished")

	select {
	case report := <-loadDone:
		fmt.Println(report)
	default:
	}
	if failed > 0 {
		return fmt.Errorf("%d visits failed", failed)
	}
	return nil
}
