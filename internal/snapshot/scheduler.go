package snapshot

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs jobs on cron specs with a seconds field ("0 0 1 * * *" is 01:00 daily).
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func NewScheduler(logger *zap.Logger, baseCtx context.Context) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger.Named("cron"),
		baseCtx: baseCtx,
	}
}

func (s *Scheduler) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() { job(s.baseCtx) })
}

// AddSnapshot schedules snap.Run, logging failures instead of returning them.
func (s *Scheduler) AddSnapshot(spec string, snap *Snapshotter) (cron.EntryID, error) {
	return s.Add(spec, func(ctx context.Context) {
		if _, err := snap.Run(ctx); err != nil {
			s.logger.Error("metric snapshot failed", zap.Error(err))
		}
	})
}

func (s *Scheduler) Start() {
	s.logger.Info("cron started", zap.Int("entries", len(s.cron.Entries())))
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("cron stopped")
}
