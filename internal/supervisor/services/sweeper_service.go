// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package services

import (
	"context"
	"time"

	"github.com/coder/quartz"

	"github.com/tomtom215/pathtrace/internal/logging"
)

// Sweeper drops expired entries and reports how many it removed.
// Satisfied by *enrich.GeoResolver.
type Sweeper interface {
	Sweep() int
}

// SweeperService periodically sweeps a cache so lookups for visitors that
// never return do not accumulate.
type SweeperService struct {
	sweeper  Sweeper
	interval time.Duration
	clock    quartz.Clock
	name     string
}

// NewSweeperService sweeps every interval using clock (real time when nil).
func NewSweeperService(name string, sweeper Sweeper, interval time.Duration, clock quartz.Clock) *SweeperService {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &SweeperService{sweeper: sweeper, interval: interval, clock: clock, name: name}
}

// Serve implements suture.Service.
func (s *SweeperService) Serve(ctx context.Context) error {
	w := s.clock.TickerFunc(ctx, s.interval, func() error {
		if n := s.sweeper.Sweep(); n > 0 {
			logging.Debug().Str("service", s.name).Int("removed", n).Msg("cache swept")
		}
		return nil
	}, "sweeper", s.name)
	<-ctx.Done()
	_ = w.Wait()
	return ctx.Err()
}

func (s *SweeperService) String() string {
	return s.name
}
