package main

import (
	"log/slog"
	"sync"
	"time"
)

type sessionPurger interface {
	PurgeExpired() error
}

type purgeTicker interface {
	C() <-chan time.Time
	Stop()
}

type tickerFactory func(time.Duration) purgeTicker

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

func newRealTicker(interval time.Duration) purgeTicker {
	return &realTicker{ticker: time.NewTicker(interval)}
}

// startSessionPurgeWorker periodically drops expired sessions from stores
// that do not expire entries on their own. The returned function stops the
// worker and may be called more than once.
func startSessionPurgeWorker(purger sessionPurger, interval time.Duration, logger *slog.Logger) func() {
	return startSessionPurgeWorkerWithTicker(purger, interval, logger, newRealTicker)
}

func startSessionPurgeWorkerWithTicker(purger sessionPurger, interval time.Duration, logger *slog.Logger, newTicker tickerFactory) func() {
	if purger == nil || interval <= 0 {
		return func() {}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				if err := purger.PurgeExpired(); err != nil {
					logger.Warn("session purge failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
