package engine

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/zamazir/THMmonitor/component"
	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/output/events"
)

// feedStopTimeout bounds how long StopFeed waits for the transport.
const feedStopTimeout = 10 * time.Second

type overdueTicker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartOverdueTicker publishes a feed_status event every tick and an
// overdue event whenever the overdue flag flips.
func (s *Session) StartOverdueTicker(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Session", "StartOverdueTicker", "start ticker")
	}
	tctx, cancel := context.WithCancel(ctx)
	t := &overdueTicker{cancel: cancel, done: make(chan struct{})}
	s.ticker = t
	go s.tick(tctx, t.done)
	return nil
}

// StopOverdueTicker stops the ticker and waits for it to exit.
func (s *Session) StopOverdueTicker() {
	s.mu.Lock()
	t := s.ticker
	s.ticker = nil
	s.mu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

func (s *Session) tick(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	overdue := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			overdue = s.checkOverdue(overdue)
		}
	}
}

// checkOverdue re-derives the periodicity status and returns the new
// overdue flag.
func (s *Session) checkOverdue(was bool) bool {
	now := s.now()
	st := s.monitor.Status(now)
	line := st.String()

	s.bus.Publish(events.FeedStatus(st.Overdue, line, now))
	if st.Overdue == was {
		return was
	}

	s.metrics.setOverdue(st.Overdue)
	if st.Overdue {
		s.logger.Warn("Beacon overdue", "status", line)
	} else {
		s.logger.Info("Beacons resumed", "status", line)
	}
	s.bus.Publish(events.Overdue(st.Overdue, line, now))
	return st.Overdue
}

// StartFeed starts the live feed and the overdue ticker. The feed runs
// until StopFeed, Stop or cancellation of ctx.
func (s *Session) StartFeed(ctx context.Context) error {
	if s.runner == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Session", "StartFeed", "find feed source")
	}

	s.mu.Lock()
	started := s.state == component.StateStarted
	s.mu.Unlock()
	if !started {
		return errors.WrapInvalid(errors.ErrNotStarted, "Session", "StartFeed", "start feed")
	}

	if err := s.runner.Start(ctx); err != nil {
		return err
	}
	if err := s.StartOverdueTicker(ctx); err != nil && !stderrors.Is(err, errors.ErrAlreadyStarted) {
		return err
	}
	s.logger.Info("Feed started", "source", s.runner.Stats().Source)
	return nil
}

// StopFeed stops the overdue ticker and the live feed. Session state is
// kept.
func (s *Session) StopFeed() error {
	s.StopOverdueTicker()
	if s.runner == nil || !s.runner.Running() {
		return nil
	}
	if err := s.runner.Stop(feedStopTimeout); err != nil {
		return err
	}
	s.logger.Info("Feed stopped")
	return nil
}

// FeedRunning reports whether the live feed is active.
func (s *Session) FeedRunning() bool {
	return s.runner != nil && s.runner.Running()
}
