package dashboard

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/repository"
	"github.com/rongwang/sts-clearance/internal/utils"
)

// MetricsService computes single-room derived values shared by the role services.
// Missing rooms yield zero values, not errors.
type MetricsService struct {
	base
	gracePeriodDays float64
}

func NewMetricsService(store Store, logger *zap.Logger, opts Options) *MetricsService {
	opts = opts.withDefaults()
	return &MetricsService{
		base:            newBase(store, logger, "metrics", opts),
		gracePeriodDays: opts.GracePeriodDays,
	}
}

// CalculateDemurrageExposure returns daily_rate * max(0, days_elapsed - grace_period).
func (s *MetricsService) CalculateDemurrageExposure(ctx context.Context, roomID string) (float64, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return 0, s.fail("calculate_demurrage_exposure", roomID, err)
	}
	if room == nil {
		return 0, nil
	}
	return s.exposure(room), nil
}

func (s *MetricsService) exposure(room *models.Room) float64 {
	rate := room.DailyDemurrageRate()
	if rate <= 0 {
		return 0
	}
	days := s.hoursSince(room.CreatedAt) / 24
	return utils.Round2(rate * math.Max(0, days-s.gracePeriodDays))
}

// GetDocumentCompletionPercent is approved/total*100; a room without documents is 100% complete.
func (s *MetricsService) GetDocumentCompletionPercent(ctx context.Context, roomID string) (float64, error) {
	total, approved, err := s.store.DocumentCounts(ctx, roomID)
	if err != nil {
		return 0, s.fail("get_document_completion_percent", roomID, err)
	}
	if total == 0 {
		return s.vacuousCompletion(ctx, "get_document_completion_percent", roomID)
	}
	return utils.Round2(utils.Percent(approved, total, 100)), nil
}

// GetApprovalCompletionPercent is approved/total*100; a room without approvals is 100% complete.
func (s *MetricsService) GetApprovalCompletionPercent(ctx context.Context, roomID string) (float64, error) {
	total, approved, _, err := s.store.ApprovalCounts(ctx, roomID)
	if err != nil {
		return 0, s.fail("get_approval_completion_percent", roomID, err)
	}
	if total == 0 {
		return s.vacuousCompletion(ctx, "get_approval_completion_percent", roomID)
	}
	return utils.Round2(utils.Percent(approved, total, 100)), nil
}

// vacuousCompletion distinguishes an empty room (100) from a missing one (0).
func (s *MetricsService) vacuousCompletion(ctx context.Context, op, roomID string) (float64, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return 0, s.fail(op, roomID, err)
	}
	if room == nil {
		return 0, nil
	}
	return 100, nil
}

func (s *MetricsService) GetHoursSinceCreation(ctx context.Context, roomID string) (float64, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return 0, s.fail("get_hours_since_creation", roomID, err)
	}
	if room == nil {
		return 0, nil
	}
	return utils.Round2(s.hoursSince(room.CreatedAt)), nil
}

func (s *MetricsService) CountPendingApprovals(ctx context.Context, roomID string) (int, error) {
	_, _, pending, err := s.store.ApprovalCounts(ctx, roomID)
	if err != nil {
		return 0, s.fail("count_pending_approvals", roomID, err)
	}
	return pending, nil
}

// RoomProgress is the document/approval state of one room.
type RoomProgress struct {
	DocumentsTotal    int
	DocumentsApproved int
	ApprovalsTotal    int
	ApprovalsApproved int
	ApprovalsPending  int
	// OldestPendingUpdate is the earliest updated_at among pending approvals.
	OldestPendingUpdate time.Time
}

func (p RoomProgress) DocumentCompletion() float64 {
	return utils.Round2(utils.Percent(p.DocumentsApproved, p.DocumentsTotal, 100))
}

func (p RoomProgress) ApprovalCompletion() float64 {
	return utils.Round2(utils.Percent(p.ApprovalsApproved, p.ApprovalsTotal, 100))
}

// CombinedCompletion averages document and approval completion.
func (p RoomProgress) CombinedCompletion() float64 {
	return utils.Round2((p.DocumentCompletion() + p.ApprovalCompletion()) / 2)
}

// RoomProgress loads the progress of many rooms with two queries. Every requested
// room has an entry, so a failed query leaves the vacuous (100%) defaults in place
// and is reported through the returned error.
func (s *MetricsService) RoomProgress(ctx context.Context, ids []string) (map[string]RoomProgress, error) {
	out := make(map[string]RoomProgress, len(ids))
	for _, id := range ids {
		out[id] = RoomProgress{}
	}
	if len(ids) == 0 {
		return out, nil
	}

	var errs partial

	docs, err := s.store.ListDocuments(ctx, repository.DocumentFilter{RoomIDs: ids})
	if err != nil {
		errs.add(s.fail("room_progress.documents", "", err))
	}
	for _, d := range docs {
		p := out[d.RoomID]
		p.DocumentsTotal++
		if d.Status == models.DocumentStatusApproved {
			p.DocumentsApproved++
		}
		out[d.RoomID] = p
	}

	approvals, err := s.store.ListApprovals(ctx, repository.ApprovalFilter{RoomIDs: ids})
	if err != nil {
		errs.add(s.fail("room_progress.approvals", "", err))
	}
	for _, a := range approvals {
		p := out[a.RoomID]
		p.ApprovalsTotal++
		switch a.Status {
		case models.ApprovalStatusApproved:
			p.ApprovalsApproved++
		case models.ApprovalStatusPending:
			p.ApprovalsPending++
			if p.OldestPendingUpdate.IsZero() || a.UpdatedAt.Before(p.OldestPendingUpdate) {
				p.OldestPendingUpdate = a.UpdatedAt
			}
		}
		out[a.RoomID] = p
	}

	return out, errs.err
}
