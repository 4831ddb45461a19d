// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"sealtrack/dashboard"
	"sealtrack/db"
	"sealtrack/models"
)

// LimiterIdle is how long a client may be silent before its rate limiter is dropped.
const LimiterIdle = time.Hour

// Limiter is the rate limiter's cleanup hook.
type Limiter interface {
	Cleanup(idle time.Duration) int
}

type Scheduler struct {
	cron     *cron.Cron
	seals    *db.Collection[models.Seal]
	stations *db.Collection[models.Station]
	limiter  Limiter
	spec     string
	log      zerolog.Logger
}

// New creates a scheduler. reconcileSpec is a cron expression or descriptor
// such as "@every 1h"; limiter may be nil.
func New(seals *db.Collection[models.Seal], stations *db.Collection[models.Station], limiter Limiter, reconcileSpec string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		seals:    seals,
		stations: stations,
		limiter:  limiter,
		spec:     reconcileSpec,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.reconcileJob); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.spec, err)
	}
	if s.limiter != nil {
		if _, err := s.cron.AddFunc("@every 10m", s.cleanupJob); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.log.Info().Str("reconcile", s.spec).Msg("scheduler started")
	return nil
}

// Stop waits for running jobs up to the context deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) reconcileJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	updated, err := s.ReconcileStationCounts(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("station counter reconciliation failed")
		return
	}
	s.log.Info().Int("updated", updated).Msg("station counters reconciled")
}

func (s *Scheduler) cleanupJob() {
	if removed := s.limiter.Cleanup(LimiterIdle); removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("idle rate limiters dropped")
	}
}

// ReconcileStationCounts rewrites stored activeSeals/totalSeals that differ
// from the counts derived from seals, returning how many stations changed.
func (s *Scheduler) ReconcileStationCounts(ctx context.Context) (int, error) {
	seals, err := s.seals.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list seals: %w", err)
	}
	stations, err := s.stations.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list stations: %w", err)
	}

	stored := make(map[string]models.Station, len(stations))
	for _, st := range stations {
		stored[st.ID] = st
	}

	updated := 0
	for _, c := range dashboard.ComputeStationCounts(seals, stations) {
		st := stored[c.StationID]
		if st.ActiveSeals == c.Active && st.TotalSeals == c.Total {
			continue
		}
		err := s.stations.Update(ctx, c.StationID, map[string]interface{}{
			"activeSeals": c.Active,
			"totalSeals":  c.Total,
		})
		if err != nil {
			return updated, fmt.Errorf("station %s: %w", c.StationID, err)
		}
		updated++
	}
	return updated, nil
}
