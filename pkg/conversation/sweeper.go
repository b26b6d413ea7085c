package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically closes open conversations that have gone idle.
// An abandoned dialogue otherwise pins its agent's single open slot
// forever.
type Sweeper struct {
	manager  *Manager
	idleTTL  time.Duration
	cron     *cron.Cron
	schedule string
}

// NewSweeper creates a sweeper on a standard 5-field cron schedule.
func NewSweeper(manager *Manager, schedule string, idleTTL time.Duration) (*Sweeper, error) {
	if manager == nil {
		return nil, fmt.Errorf("conversation manager is required")
	}
	if idleTTL <= 0 {
		return nil, fmt.Errorf("idle TTL must be positive")
	}

	s := &Sweeper{
		manager:  manager,
		idleTTL:  idleTTL,
		cron:     cron.New(),
		schedule: schedule,
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins scheduled sweeps.
func (s *Sweeper) Start() {
	s.cron.Start()
	log.Info().
		Str("schedule", s.schedule).
		Dur("idleTTL", s.idleTTL).
		Msg("Conversation sweeper started")
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Conversation sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.manager.SweepIdle(ctx, s.idleTTL); err != nil {
		log.Error().Err(err).Msg("Conversation sweep failed")
	}
}
