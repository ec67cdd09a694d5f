package mockapi

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
)

// StartSessionSweeper removes expired auth sessions every hour so the
// session table does not grow without bound. Stop the returned
// scheduler on shutdown.
func (s *Server) StartSessionSweeper() *gocron.Scheduler {
	scheduler := gocron.NewScheduler(time.UTC)

	scheduler.Every(1).Hour().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		n, err := s.store.DeleteExpiredSessions(ctx, s.now())
		if err != nil {
			s.logger.Error().Err(err).Msg("session sweep failed")
			return
		}
		if n > 0 {
			sessionsSweptTotal.Add(float64(n))
			s.logger.Info().Int("removed", n).Msg("session sweep")
		}
	})

	scheduler.StartAsync()
	return scheduler
}
