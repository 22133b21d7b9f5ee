package server

import (
	"context"
	"time"

	"examline/internal/engine"
)

const defaultSweepInterval = 2 * time.Minute

// expirySweeper periodically expires notified submissions whose upload
// deadline has passed, so stalled queues advance even when the participant
// never revisits the upload page.
type expirySweeper struct {
	engine   engine.Engine
	interval time.Duration
	stop     chan struct{}
}

// StartSweeper launches the background expiry sweep. The returned stop
// function is idempotent.
func StartSweeper(e engine.Engine) func() {
	interval := e.Config.SweepInterval()
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	s := &expirySweeper{
		engine:   e,
		interval: interval,
		stop:     make(chan struct{}),
	}
	go s.run()
	var stopped bool
	return func() {
		if !stopped {
			stopped = true
			close(s.stop)
		}
	}
}

func (s *expirySweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.sweep()
		select {
		case <-ticker.C:
		case <-s.stop:
			return
		}
	}
}

func (s *expirySweeper) sweep() {
	n, err := s.engine.SweepExpired(context.Background())
	if err != nil {
		s.engine.Log.Warn().Err(err).Msg("expiry sweep failed")
		return
	}
	if n > 0 {
		s.engine.Log.Info().Int("expired", n).Msg("expiry sweep promoted successors")
	}
}
