package usecases

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"restobot/internal/config"
	"restobot/internal/logger"
)

type IdleConversationCloser interface {
	EndIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

type PromotionExpirer interface {
	DeactivateExpiredPromotions(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler runs periodic housekeeping.
type Scheduler struct {
	cron       *cron.Cron
	convs      IdleConversationCloser
	promotions PromotionExpirer
	idleAfter  time.Duration
	log        logger.Logger
	now        func() time.Time
}

func NewScheduler(cfg config.SchedulerConfig, convs IdleConversationCloser, promotions PromotionExpirer, log logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:       cron.New(),
		convs:      convs,
		promotions: promotions,
		idleAfter:  cfg.IdleConversationTimeout,
		log:        log.With(map[string]interface{}{"component": "scheduler"}),
		now:        time.Now,
	}
	if s.idleAfter <= 0 {
		s.idleAfter = 24 * time.Hour
	}

	idleSpec := cfg.IdleSweepSpec
	if idleSpec == "" {
		idleSpec = "@every 15m"
	}
	promoSpec := cfg.PromotionSweepSpec
	if promoSpec == "" {
		promoSpec = "@hourly"
	}
	if _, err := s.cron.AddFunc(idleSpec, func() { s.EndIdleConversations(context.Background()) }); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(promoSpec, func() { s.ExpirePromotions(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", map[string]interface{}{"jobs": len(s.cron.Entries())})
}

// Stop waits for running jobs or until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) EndIdleConversations(ctx context.Context) {
	n, err := s.convs.EndIdle(ctx, s.now().Add(-s.idleAfter))
	if err != nil {
		s.log.Error("idle sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if n > 0 {
		s.log.Info("idle conversations ended", map[string]interface{}{"count": n})
	}
}

func (s *Scheduler) ExpirePromotions(ctx context.Context) {
	n, err := s.promotions.DeactivateExpiredPromotions(ctx, s.now())
	if err != nil {
		s.log.Error("promotion sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if n > 0 {
		s.log.Info("expired promotions deactivated", map[string]interface{}{"count": n})
	}
}
