package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sealtrack/db"
	"sealtrack/metrics"
	"sealtrack/models"
	"sealtrack/portal"
)

// Aggregator recomputes dashboard views from live collections.
type Aggregator struct {
	seals    *db.Collection[models.Seal]
	stations *db.Collection[models.Station]
	users    *db.Collection[models.User]
	now      func() time.Time
	log      zerolog.Logger
}

func NewAggregator(seals *db.Collection[models.Seal], stations *db.Collection[models.Station], users *db.Collection[models.User], now func() time.Time, log zerolog.Logger) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{seals: seals, stations: stations, users: users, now: now, log: log}
}

// Snapshot computes a one-off view.
func (a *Aggregator) Snapshot(ctx context.Context, session *portal.Session) (View, error) {
	seals, err := a.seals.List(ctx)
	if err != nil {
		return View{}, fmt.Errorf("failed to list seals: %w", err)
	}
	stations, err := a.stations.List(ctx)
	if err != nil {
		return View{}, fmt.Errorf("failed to list stations: %w", err)
	}
	var users []models.User
	if session.Global() {
		if users, err = a.users.List(ctx); err != nil {
			return View{}, fmt.Errorf("failed to list users: %w", err)
		}
	}
	return Compute(session, seals, stations, users, a.now()), nil
}

// Stream is a live dashboard: an initial view, then one view per upstream snapshot.
type Stream struct {
	initial View
	updates chan View
	done    chan struct{}
	once    sync.Once
	cancel  []func()
}

// Initial is the view computed when the stream was opened.
func (s *Stream) Initial() View { return s.initial }

// Updates is closed when the stream is cancelled or an upstream listener ends.
func (s *Stream) Updates() <-chan View { return s.updates }

// Cancel releases every upstream listener. Idempotent.
func (s *Stream) Cancel() {
	s.once.Do(func() {
		close(s.done)
		for _, c := range s.cancel {
			c()
		}
	})
}

// Watch subscribes to seals and stations, plus users for admin portals, and
// emits a recomputed view on every change.
func (a *Aggregator) Watch(ctx context.Context, session *portal.Session) (*Stream, error) {
	seals, err := a.seals.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to watch seals: %w", err)
	}
	stations, err := a.stations.Watch(ctx)
	if err != nil {
		seals.Cancel()
		return nil, fmt.Errorf("failed to watch stations: %w", err)
	}

	var users *db.Live[models.User]
	var userUpdates <-chan []models.User
	var currentUsers []models.User
	if session.Global() {
		if users, err = a.users.Watch(ctx); err != nil {
			seals.Cancel()
			stations.Cancel()
			return nil, fmt.Errorf("failed to watch users: %w", err)
		}
		userUpdates = users.Updates()
		currentUsers = users.Initial()
	}

	s := &Stream{
		updates: make(chan View),
		done:    make(chan struct{}),
		cancel:  []func(){seals.Cancel, stations.Cancel},
	}
	if users != nil {
		s.cancel = append(s.cancel, users.Cancel)
	}

	currentSeals := seals.Initial()
	currentStations := stations.Initial()
	s.initial = Compute(session, currentSeals, currentStations, currentUsers, a.now())

	go func() {
		defer close(s.updates)
		defer s.Cancel()

		sealUpdates := seals.Updates()
		stationUpdates := stations.Updates()
		for {
			select {
			case next, ok := <-sealUpdates:
				if !ok {
					return
				}
				currentSeals = next
			case next, ok := <-stationUpdates:
				if !ok {
					return
				}
				currentStations = next
			case next, ok := <-userUpdates:
				if !ok {
					return
				}
				currentUsers = next
			case <-s.done:
				return
			}

			view := Compute(session, currentSeals, currentStations, currentUsers, a.now())
			select {
			case s.updates <- view:
				metrics.DashboardViewsTotal.Inc()
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}
