package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shieldops/bastion/internal/api/routes"
	"github.com/shieldops/bastion/internal/logger"
)

// Scheduler runs the periodic maintenance sweeps: expired block entries,
// expired permission grants, daily rate limit counters and stale threat
// aggregates. Every sweep is also safe to skip; the services apply the same
// rules lazily on read.
type Scheduler struct {
	Cron     *cron.Cron
	services *routes.Services
}

// New registers the maintenance jobs but does not start them.
func New(svcs *routes.Services) (*Scheduler, error) {
	s := &Scheduler{
		Cron:     cron.New(),
		services: svcs,
	}

	jobs := []struct {
		spec string
		run  func()
	}{
		{"@every 1m", s.purgeExpiredBlocks},
		{"@every 5m", s.purgeExpiredPermissions},
		{"@midnight", s.resetDailyCounters},
		{"@every 24h", s.purgeStaleThreats},
	}
	for _, j := range jobs {
		if _, err := s.Cron.AddFunc(j.spec, j.run); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() {
	s.Cron.Start()
	logger.Log().Info("maintenance scheduler started")
}

// Stop halts scheduling and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.Cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) purgeExpiredBlocks() {
	if n := s.services.Blocklist.PurgeExpired(time.Now()); n > 0 {
		logger.WithFields(map[string]interface{}{"purged": n}).Info("expired block entries removed")
	}
}

func (s *Scheduler) purgeExpiredPermissions() {
	n, err := s.services.Permissions.PurgeExpired(time.Now())
	if err != nil {
		logger.Log().WithError(err).Warn("permission purge failed")
		return
	}
	if n > 0 {
		logger.WithFields(map[string]interface{}{"purged": n}).Info("expired permissions removed")
	}
}

func (s *Scheduler) resetDailyCounters() {
	s.services.RateLimits.ResetDailyCounters(time.Now())
}

func (s *Scheduler) purgeStaleThreats() {
	n, err := s.services.Threats.PurgeStale(time.Now())
	if err != nil {
		logger.Log().WithError(err).Warn("threat retention sweep failed")
		return
	}
	if n > 0 {
		logger.WithFields(map[string]interface{}{"purged": n}).Info("stale threat indicators removed")
	}
}
