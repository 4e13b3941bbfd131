package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/rongwang/sts-clearance/internal/models"
)

const maxMetricHistoryDays = 365

// Compliance records
func (s *DefaultService) CreateFinding(
	ctx context.Context,
	userID string,
	vesselID string,
	req models.CreateFindingRequest,
) (*models.Finding, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	vessel, err := s.vesselForUser(ctx, user, vesselID)
	if err != nil {
		return nil, err
	}

	finding := &models.Finding{
		ID:           uuid.New().String(),
		VesselID:     vessel.ID,
		RoomID:       vessel.RoomID,
		Severity:     req.Severity,
		Category:     req.Category,
		Description:  req.Description,
		ActionsTotal: req.ActionsTotal,
		OpenedAt:     s.now().UTC(),
		TargetDate:   req.TargetDate,
	}
	if err := s.repo.CreateFinding(ctx, finding); err != nil {
		return nil, fmt.Errorf("error creating finding: %w", err)
	}

	s.logActivity(ctx, user.ID, &vessel.RoomID, "finding.create", finding.Severity+" "+finding.Category)
	return finding, nil
}

// UpdateFindingProgress records completed remediation actions. Completing every
// action resolves the finding; dropping below the total reopens it.
func (s *DefaultService) UpdateFindingProgress(
	ctx context.Context,
	userID string,
	findingID string,
	req models.UpdateFindingProgressRequest,
) (*models.Finding, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	finding, err := s.repo.GetFinding(ctx, findingID)
	if err != nil {
		return nil, fmt.Errorf("error getting finding: %w", err)
	}
	if finding == nil {
		return nil, fmt.Errorf("finding %s: %w", findingID, models.ErrNotFound)
	}
	if _, err := s.roomForUser(ctx, user, finding.RoomID); err != nil {
		return nil, err
	}
	if req.ActionsCompleted > finding.ActionsTotal {
		return nil, fmt.Errorf("%d actions completed exceeds the %d planned: %w",
			req.ActionsCompleted, finding.ActionsTotal, models.ErrValidation)
	}

	var resolvedAt *time.Time
	if finding.ActionsTotal > 0 && req.ActionsCompleted == finding.ActionsTotal {
		resolvedAt = lo.ToPtr(s.now().UTC())
		if finding.ResolvedAt != nil {
			resolvedAt = finding.ResolvedAt
		}
	}

	if err := s.repo.UpdateFindingProgress(ctx, findingID, req.ActionsCompleted, resolvedAt); err != nil {
		return nil, fmt.Errorf("error updating finding: %w", err)
	}

	finding.ActionsCompleted = req.ActionsCompleted
	finding.ResolvedAt = resolvedAt

	s.logActivity(ctx, user.ID, &finding.RoomID, "finding.progress",
		fmt.Sprintf("%d/%d", finding.ActionsCompleted, finding.ActionsTotal))
	return finding, nil
}

func (s *DefaultService) AddCrewCertification(
	ctx context.Context,
	userID string,
	vesselID string,
	req models.AddCrewCertificationRequest,
) (*models.CrewCertification, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	vessel, err := s.vesselForUser(ctx, user, vesselID)
	if err != nil {
		return nil, err
	}
	if !req.ExpiresOn.After(req.IssuedOn) {
		return nil, fmt.Errorf("certificate expires before it is issued: %w", models.ErrValidation)
	}

	cert := &models.CrewCertification{
		ID:              uuid.New().String(),
		VesselID:        vessel.ID,
		CrewName:        req.CrewName,
		CertificateType: req.CertificateType,
		IssuedOn:        req.IssuedOn,
		ExpiresOn:       req.ExpiresOn,
	}
	if err := s.repo.CreateCrewCertification(ctx, cert); err != nil {
		return nil, fmt.Errorf("error adding crew certification: %w", err)
	}

	s.logActivity(ctx, user.ID, &vessel.RoomID, "crew.certification", cert.CertificateType)
	return cert, nil
}

// RecordPartyMetric upserts the rolling performance stats of a party within a room.
func (s *DefaultService) RecordPartyMetric(
	ctx context.Context,
	userID string,
	roomID string,
	req models.RecordPartyMetricRequest,
) (*models.PartyMetric, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.roomForUser(ctx, user, roomID); err != nil {
		return nil, err
	}

	party, err := s.repo.GetParty(ctx, req.PartyID)
	if err != nil {
		return nil, fmt.Errorf("error getting party: %w", err)
	}
	if party == nil || party.RoomID != roomID {
		return nil, fmt.Errorf("party %s is not part of room %s: %w", req.PartyID, roomID, models.ErrValidation)
	}

	metric := &models.PartyMetric{
		ID:                uuid.New().String(),
		PartyID:           party.ID,
		RoomID:            roomID,
		ResponseTimeHours: req.ResponseTimeHours,
		QualityScore:      req.QualityScore,
		ReliabilityIndex:  req.ReliabilityIndex,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.repo.UpsertPartyMetric(ctx, metric); err != nil {
		return nil, fmt.Errorf("error recording party metric: %w", err)
	}

	s.logActivity(ctx, user.ID, &roomID, "party.metric", party.Email)
	return metric, nil
}

// GetMetricHistory reads the daily snapshots of a room. days is clamped to [1, 365].
func (s *DefaultService) GetMetricHistory(
	ctx context.Context,
	userID string,
	roomID string,
	metricType string,
	days int,
) (*models.MetricHistoryResponse, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.roomForUser(ctx, user, roomID); err != nil {
		return nil, err
	}
	if metricType != "" && !lo.Contains(models.MetricTypes, metricType) {
		return nil, fmt.Errorf("unknown metric type %q: %w", metricType, models.ErrValidation)
	}

	days = lo.Clamp(days, 1, maxMetricHistoryDays)
	since := s.now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	metrics, err := s.repo.ListMetrics(ctx, roomID, metricType, since)
	if err != nil {
		return nil, fmt.Errorf("error listing metrics: %w", err)
	}

	return &models.MetricHistoryResponse{
		Status:  "success",
		RoomID:  roomID,
		Metrics: nonNil(metrics),
	}, nil
}

// Notifications
func (s *DefaultService) ListNotifications(ctx context.Context, userID string, unreadOnly bool) (*models.NotificationListResponse, error) {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.notifications == nil {
		return &models.NotificationListResponse{Status: "success", Notifications: []models.Notification{}}, nil
	}

	items, err := s.notifications.List(ctx, user.Email, unreadOnly, 100)
	if err != nil {
		return nil, fmt.Errorf("error listing notifications: %w", err)
	}
	unread, err := s.notifications.CountUnread(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("error counting notifications: %w", err)
	}

	return &models.NotificationListResponse{
		Status:        "success",
		Notifications: nonNil(items),
		Unread:        unread,
	}, nil
}

func (s *DefaultService) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	user, err := s.currentUser(ctx, userID)
	if err != nil {
		return err
	}
	if s.notifications == nil {
		return fmt.Errorf("notification %s: %w", notificationID, models.ErrNotFound)
	}
	if err := s.notifications.MarkRead(ctx, notificationID, user.Email); err != nil {
		return fmt.Errorf("notification %s: %w", notificationID, err)
	}
	return nil
}
