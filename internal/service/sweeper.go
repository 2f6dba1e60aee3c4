package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/metrics"
)

// Sweepable is a store that drops expired entries on demand, such as
// kv.MemoryStore.
type Sweepable interface {
	Sweep() int
}

// Sweeper periodically removes expired transient entries, blacklist rows
// and session rows.
type Sweeper struct {
	kv        Sweepable // nil when the store expires keys itself
	blacklist *Blacklist
	sessions  *SessionService
	interval  time.Duration
	logger    *logrus.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSweeper(kv Sweepable, blacklist *Blacklist, sessions *SessionService, interval time.Duration, logger *logrus.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		kv:        kv,
		blacklist: blacklist,
		sessions:  sessions,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the sweep loop in the background until Stop is called.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.SweepOnce(context.Background())
		}
	}
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// SweepOnce runs a single pass. Errors are logged; the next pass retries.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	if s.kv != nil {
		n := s.kv.Sweep()
		metrics.RecordSweepRemoved("kv", int64(n))
	}

	reaped, err := s.blacklist.Reap(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to reap blacklist")
	}

	deleted, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to delete expired sessions")
	}

	s.logger.WithFields(logrus.Fields{
		"blacklist_reaped": reaped,
		"sessions_deleted": deleted,
	}).Debug("Sweep finished")
}
