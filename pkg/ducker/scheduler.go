package ducker

import (
	"context"
	"time"
)

// Scheduler decides when the next cycle runs
type Scheduler interface {
	// Wait blocks until the next cycle is due, or returns ctx.Err() once ctx is done
	Wait(ctx context.Context) error
}

// intervalScheduler sleeps a fixed delay between cycles
type intervalScheduler struct {
	interval time.Duration
}

func newIntervalScheduler(interval time.Duration) *intervalScheduler {
	return &intervalScheduler{interval: interval}
}

func (s *intervalScheduler) Wait(ctx context.Context) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// eventScheduler wakes up as soon as the audio server reports a stream change,
// and no later than the fallback interval
type eventScheduler struct {
	changes  <-chan struct{}
	fallback time.Duration
}

func newEventScheduler(changes <-chan struct{}, fallback time.Duration) *eventScheduler {
	return &eventScheduler{changes: changes, fallback: fallback}
}

func (s *eventScheduler) Wait(ctx context.Context) error {
	timer := time.NewTimer(s.fallback)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.changes:
		return nil
	case <-timer.C:
		return nil
	}
}

func newScheduler(conf *Config, backend StreamBackend) Scheduler {
	if conf.EventDriven {
		if notifier, ok := backend.(StreamNotifier); ok {
			return newEventScheduler(notifier.StreamChanges(), conf.PollInterval)
		}
	}

	return newIntervalScheduler(conf.PollInterval)
}
