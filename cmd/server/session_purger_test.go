package main

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingPurger struct {
	calls atomic.Int64
	err   error
}

func (p *countingPurger) PurgeExpired() error {
	p.calls.Add(1)
	return p.err
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

func TestSessionPurgeWorkerRunsOnTick(t *testing.T) {
	purger := &countingPurger{}
	ticker := &fakeTicker{ch: make(chan time.Time)}
	stop := startSessionPurgeWorkerWithTicker(purger, time.Minute, nil, func(time.Duration) purgeTicker {
		return ticker
	})

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()

	deadline := time.After(2 * time.Second)
	for purger.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 purges, saw %d", purger.calls.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}

	stop()
	if !ticker.stopped.Load() {
		t.Fatal("expected the ticker to be stopped")
	}

	// A second stop is harmless.
	stop()
}

func TestSessionPurgeWorkerSurvivesErrors(t *testing.T) {
	purger := &countingPurger{err: errors.New("store offline")}
	ticker := &fakeTicker{ch: make(chan time.Time)}
	stop := startSessionPurgeWorkerWithTicker(purger, time.Minute, nil, func(time.Duration) purgeTicker {
		return ticker
	})
	defer stop()

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()

	deadline := time.After(2 * time.Second)
	for purger.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected the worker to keep running, saw %d calls", purger.calls.Load())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSessionPurgeWorkerDisabled(t *testing.T) {
	stop := startSessionPurgeWorker(nil, time.Minute, nil)
	stop()

	stop = startSessionPurgeWorker(&countingPurger{}, 0, nil)
	stop()
}
