package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Activity is what IdleShutdown watches.
type Activity interface {
	InFlight() int
	LastActivity() time.Time
}

// IdleShutdown calls onIdle once when nothing has run for cooldown. It is
// advisory: whoever receives the signal decides how to stop.
type IdleShutdown struct {
	cooldown time.Duration
	activity Activity
	onIdle   func()
	now      func() time.Time
	once     sync.Once
}

// NewIdleShutdown returns nil when cooldown is zero (disabled).
func NewIdleShutdown(cooldown time.Duration, activity Activity, onIdle func()) *IdleShutdown {
	if cooldown <= 0 {
		return nil
	}
	return &IdleShutdown{cooldown: cooldown, activity: activity, onIdle: onIdle, now: time.Now}
}

// Check fires onIdle if the worker has been idle long enough and reports
// whether it did.
func (s *IdleShutdown) Check() bool {
	if s == nil {
		return false
	}
	if s.activity.InFlight() > 0 || s.now().Sub(s.activity.LastActivity()) < s.cooldown {
		return false
	}
	fired := false
	s.once.Do(func() {
		log.Info().Dur("cooldown", s.cooldown).Msg("worker idle; requesting shutdown")
		s.onIdle()
		fired = true
	})
	return fired
}

func (s *IdleShutdown) Run(ctx context.Context) {
	if s == nil {
		return
	}
	every := s.cooldown / 4
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Check() {
				return
			}
		}
	}
}
