// Package sched drives periodic sync passes on a single background loop.
package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tillbridge/tillbridge/internal/engine"
	"github.com/tillbridge/tillbridge/internal/model"
	"github.com/tillbridge/tillbridge/internal/status"
)

// Runner executes one full sync pass across all entities.
type Runner interface {
	RunAll(ctx context.Context) ([]model.SyncResult, error)
}

// Scheduler ticks a Runner at a fixed interval while auto sync is enabled.
// Kick runs a pass out of band, enabled or not. All passes run on the
// scheduler's own goroutine, so two can never overlap from here; the
// engine's busy guard covers triggers arriving from elsewhere.
type Scheduler struct {
	Runner   Runner
	Interval time.Duration
	Hub      *status.Hub
	Probe    func(ctx context.Context)

	kick chan struct{}
	mu   sync.Mutex
	on   bool
}

func New(runner Runner, interval time.Duration) *Scheduler {
	return &Scheduler{
		Runner:   runner,
		Interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Run blocks until ctx is canceled. A pass already in flight finishes
// before Run returns only if the caller waits on it; cancellation reaches
// the pass through its context either way.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Dur("interval", interval).Msg("sync scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sync scheduler stopped")
			return
		case <-ticker.C:
			if !s.Enabled() {
				continue
			}
			s.pass(ctx)
			// A pass longer than the interval leaves one tick queued;
			// drop it rather than running back to back.
			select {
			case <-ticker.C:
			default:
			}
		case <-s.kick:
			s.pass(ctx)
		}
	}
}

// SetEnabled flips auto sync. Enabling nudges an immediate pass so the
// operator sees data move without waiting out the interval.
func (s *Scheduler) SetEnabled(on bool) {
	s.mu.Lock()
	was := s.on
	s.on = on
	s.mu.Unlock()

	if s.Hub != nil {
		s.Hub.SetAutoSync(on)
	}
	if on == was {
		return
	}
	log.Info().Bool("enabled", on).Msg("auto sync toggled")
	if on {
		s.Kick()
	}
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Kick requests a pass as soon as the loop is free. Collapses with any
// request already pending.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	if s.Probe != nil {
		s.Probe(ctx)
	}
	results, err := s.Runner.RunAll(ctx)
	switch {
	case errors.Is(err, engine.ErrBusy):
		log.Debug().Msg("pass skipped, another sync is in flight")
	case err != nil:
		log.Error().Err(err).Msg("sync pass could not start")
	default:
		var synced, deleted, failedEntities int
		for _, r := range results {
			synced += r.Synced
			deleted += r.Deleted
			if !r.Success {
				failedEntities++
			}
		}
		log.Info().
			Int("entities", len(results)).
			Int("synced", synced).
			Int("deleted", deleted).
			Int("failed_entities", failedEntities).
			Msg("sync pass finished")
	}
}
