// Package ticker drives the controller step at a fixed period.
package ticker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"bmscode-go/errcode"
)

type Service struct {
	period time.Duration
	step   func() error
	log    zerolog.Logger

	ticks    atomic.Uint64
	errors   atomic.Uint64
	overruns atomic.Uint64
}

// New returns a ticker that calls step every period.
func New(period time.Duration, step func() error, log zerolog.Logger) (*Service, error) {
	if period <= 0 || step == nil {
		return nil, errcode.New(errcode.InvalidParams, "ticker", "period must be positive and step set")
	}
	return &Service{period: period, step: step, log: log}, nil
}

// Run blocks until ctx is cancelled. Step errors are logged and the loop
// carries on; a step that outlasts the period is counted as an overrun.
func (s *Service) Run(ctx context.Context) {
	tick := time.NewTicker(s.period)
	defer tick.Stop()

	s.log.Info().Dur("period", s.period).Msg("ticker started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Uint64("ticks", s.ticks.Load()).Msg("ticker stopping")
			return
		case <-tick.C:
			start := time.Now()
			err := s.step()
			s.ticks.Add(1)
			if err != nil {
				s.errors.Add(1)
				s.log.Warn().Err(err).Msg("step failed")
			}
			if took := time.Since(start); took > s.period {
				s.overruns.Add(1)
				s.log.Debug().Dur("took", took).Msg("step overran period")
			}
		}
	}
}

func (s *Service) Ticks() uint64    { return s.ticks.Load() }
func (s *Service) Errors() uint64   { return s.errors.Load() }
func (s *Service) Overruns() uint64 { return s.overruns.Load() }
