package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"localmind/config"
	"localmind/internal/inference"
	"localmind/internal/session"
	"localmind/internal/store"
	"localmind/internal/telemetry"
)

// Scheduler runs the periodic jobs: provider health probes, session
// compaction and run pruning. With Redis available a SetNX lock keeps the
// jobs single-instance.
type Scheduler struct {
	Cfg       config.SchedulerConfig
	Provider  inference.Provider
	Store     *store.Store
	Sessions  session.Repository
	Comp      *session.Compressor
	Rdb       *redis.Client
	Telemetry *telemetry.Telemetry

	logger   *log.Logger
	lastRuns map[string]time.Time
}

// Start launches the tick loop and returns a stop func.
func (s *Scheduler) Start() func() {
	s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	s.lastRuns = make(map[string]time.Time)
	s.Cfg = s.Cfg.Normalize()
	stop := make(chan struct{})
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
	return func() { close(stop) }
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	s.maybeRun(ctx, "provider_health", s.Cfg.ProviderHealthCron, s.probeProvider)
	if s.Sessions != nil && s.Comp != nil {
		s.maybeRun(ctx, "session_compaction", s.Cfg.SessionCompactionCron, s.compactSessions)
	}
	if s.Store != nil {
		s.maybeRun(ctx, "run_prune", s.Cfg.RunPruneCron, s.pruneRuns)
	}
}

func (s *Scheduler) maybeRun(ctx context.Context, name, cronSpec string, job func(context.Context)) {
	last, seen := s.lastRuns[name]
	lastPtr := &last
	if !seen {
		lastPtr = nil
	}
	if !isDue(cronSpec, lastPtr) {
		return
	}
	if s.Rdb != nil {
		ok, _ := s.Rdb.SetNX(ctx, "localmind:sched:"+name, "1", 2*time.Minute).Result()
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, "localmind:sched:"+name)
	}
	s.lastRuns[name] = time.Now()
	job(ctx)
}

func (s *Scheduler) probeProvider(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.Provider.Ping(ctx); err != nil {
		s.logger.Printf("provider %s unhealthy: %v", s.Provider.Name(), err)
		return
	}
	s.logger.Printf("provider %s healthy", s.Provider.Name())
}

func (s *Scheduler) compactSessions(ctx context.Context) {
	// per-request compression does most of the work; this sweep catches
	// sessions that grew outside the query path
	count := 0
	sessions, err := s.Sessions.ListAll(ctx)
	if err != nil {
		s.logger.Printf("listing sessions for compaction: %v", err)
		return
	}
	for _, sess := range sessions {
		changed, err := s.Comp.Compress(ctx, &sess)
		if err != nil {
			s.logger.Printf("compacting session %s: %v", sess.ID, err)
			continue
		}
		if changed {
			if err := s.Sessions.Save(ctx, sess); err != nil {
				s.logger.Printf("saving compacted session %s: %v", sess.ID, err)
				continue
			}
			count++
		}
	}
	if count > 0 {
		s.logger.Printf("compacted %d sessions", count)
	}
}

func (s *Scheduler) pruneRuns(ctx context.Context) {
	retention := time.Duration(s.Cfg.RunRetentionDays) * 24 * time.Hour
	n, err := s.Store.PruneRuns(ctx, retention)
	if err != nil {
		s.logger.Printf("pruning runs: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("pruned %d runs older than %d days", n, s.Cfg.RunRetentionDays)
	}
}

// isDue reports whether a job with cronSpec should run now given its last
// run time. Supports @daily, @hourly and standard cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// invalid spec degrades to daily
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
