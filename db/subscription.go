package db

import (
	"sync"
)

// Subscription is a live view over a collection. Initial holds the snapshot taken
// when the listener attached; Updates delivers every later snapshot, in emission
// order, each one replacing the previous state entirely.
type Subscription struct {
	initial []Document
	updates chan []Document
	signal  chan struct{}
	done    chan struct{}
	stop    func()
	once    sync.Once

	mu       sync.Mutex
	pending  [][]Document
	finished bool
	err      error
}

func newSubscription(initial []Document, stop func()) *Subscription {
	s := &Subscription{
		initial: initial,
		updates: make(chan []Document),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stop:    stop,
	}
	go s.pump()
	return s
}

// Initial returns the snapshot delivered on subscribe.
func (s *Subscription) Initial() []Document {
	return s.initial
}

// Updates is closed once the subscription is cancelled or the producer stops.
func (s *Subscription) Updates() <-chan []Document {
	return s.updates
}

// Done is closed by Cancel.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel detaches the listener. Safe to call more than once and after the
// producer has already terminated.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
}

// Err reports why the producer stopped, if it failed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) push(docs []Document) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, docs)
	s.mu.Unlock()
	s.wake()
}

// finish marks the producer as terminated; queued snapshots are still delivered.
func (s *Subscription) finish(err error) {
	s.mu.Lock()
	if !s.finished {
		s.finished = true
		s.err = err
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.updates)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.updates <- next:
		case <-s.done:
			return
		}
	}
}
