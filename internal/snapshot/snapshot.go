// Package snapshot persists the daily metric time series of every active room.
package snapshot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/dashboard"
	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/repository"
)

// Store is the slice of the repository the snapshot job writes through
type Store interface {
	ListRooms(ctx context.Context, filter repository.RoomFilter) ([]models.Room, error)
	UpsertMetric(ctx context.Context, metric *models.Metric) error
}

// Source computes the values being snapshotted. *dashboard.MetricsService satisfies it.
type Source interface {
	RoomProgress(ctx context.Context, ids []string) (map[string]dashboard.RoomProgress, error)
	CalculateDemurrageExposure(ctx context.Context, roomID string) (float64, error)
}

// Result summarises one snapshot run
type Result struct {
	Date    time.Time
	Rooms   int
	Written int
	Failed  int
}

type Snapshotter struct {
	store  Store
	source Source
	logger *zap.Logger
	now    func() time.Time
}

func NewSnapshotter(store Store, source Source, logger *zap.Logger, now func() time.Time) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Snapshotter{store: store, source: source, logger: logger.Named("snapshot"), now: now}
}

// Run writes document_completion, approval_completion and demurrage_exposure for each
// active room, dated today (UTC). Re-running on the same day overwrites the values.
// A failing room does not stop the others; all failures are returned combined.
func (s *Snapshotter) Run(ctx context.Context) (Result, error) {
	date := s.now().UTC().Truncate(24 * time.Hour)
	res := Result{Date: date}

	rooms, err := s.store.ListRooms(ctx, repository.RoomFilter{Statuses: []string{models.RoomStatusActive}})
	if err != nil {
		return res, err
	}
	res.Rooms = len(rooms)
	if len(rooms) == 0 {
		return res, nil
	}

	ids := lo.Map(rooms, func(r models.Room, _ int) string { return r.ID })

	var errs error
	progress, progressErr := s.source.RoomProgress(ctx, ids)
	if progressErr != nil {
		// completion rows are skipped for the whole run
		errs = multierr.Append(errs, progressErr)
	}

	for _, id := range ids {
		values := map[string]float64{}
		if progressErr == nil {
			p := progress[id]
			values[models.MetricDocumentCompletion] = p.DocumentCompletion()
			values[models.MetricApprovalCompletion] = p.ApprovalCompletion()
		}

		exposure, expErr := s.source.CalculateDemurrageExposure(ctx, id)
		if expErr != nil {
			errs = multierr.Append(errs, expErr)
			res.Failed++
		} else {
			values[models.MetricDemurrageExposure] = exposure
		}

		for _, metricType := range models.MetricTypes {
			v, ok := values[metricType]
			if !ok {
				continue
			}
			m := &models.Metric{
				ID:         uuid.New().String(),
				RoomID:     id,
				MetricType: metricType,
				Date:       date,
				Value:      v,
			}
			if wErr := s.store.UpsertMetric(ctx, m); wErr != nil {
				errs = multierr.Append(errs, wErr)
				res.Failed++
				continue
			}
			res.Written++
		}
	}

	s.logger.Info("metric snapshot complete",
		zap.Time("date", date),
		zap.Int("rooms", res.Rooms),
		zap.Int("written", res.Written),
		zap.Int("failed", res.Failed),
	)
	return res, errs
}
