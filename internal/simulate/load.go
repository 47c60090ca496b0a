// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package simulate

import (
	"context"
	"fmt"
	"strings"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

// LoadConfig describes a constant-rate attack on the snapshot API.
type LoadConfig struct {
	ServerURL string
	Rate      int // requests per second
	Duration  time.Duration
	Timeout   time.Duration
}

// LoadReport is the summary printed after an attack.
type LoadReport struct {
	Requests    uint64
	Success     float64
	StatusCodes map[string]int
	Mean        time.Duration
	P99         time.Duration
	Errors      []string
}

func (r LoadReport) String() string {
	return fmt.Sprintf("requests=%d success=%.2f%% mean=%s p99=%s codes=%v",
		r.Requests, r.Success*100, r.Mean, r.P99, r.StatusCodes)
}

// LoadSnapshot hammers GET /api/users, the collaborator read path, while
// visits are being recorded.
func LoadSnapshot(ctx context.Context, cfg LoadConfig) (LoadReport, error) {
	if cfg.Rate <= 0 || cfg.Duration <= 0 {
		return LoadReport{}, fmt.Errorf("simulate: rate and duration must be positive")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	targeter := vegeta.NewStaticTargeter(vegeta.Target{
		Method: "GET",
		URL:    strings.TrimSuffix(cfg.ServerURL, "/") + "/api/users",
	})
	attacker := vegeta.NewAttacker(vegeta.Timeout(cfg.Timeout))
	rate := vegeta.Rate{Freq: cfg.Rate, Per: time.Second}

	var m vegeta.Metrics
	results := attacker.Attack(targeter, rate, cfg.Duration, "snapshot")
loop:
	for {
		select {
		case <-ctx.Done():
			attacker.Stop()
			for range results {
			}
			break loop
		case res, ok := <-results:
			if !ok {
				break loop
			}
			m.Add(res)
		}
	}
	m.Close()

	return LoadReport{
		Requests:    m.Requests,
		Success:     m.Success,
		StatusCodes: m.StatusCodes,
		Mean:        m.Latencies.Mean,
		P99:         m.Latencies.P99,
		Errors:      m.Errors,
	}, nil
}
