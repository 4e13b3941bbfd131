package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/cache"
	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/notification"
	"github.com/rongwang/sts-clearance/internal/repository"
	"github.com/rongwang/sts-clearance/internal/utils"
)

const (
	recentActivityLimit     = 20
	documentsForReviewLimit = 50
)

type SystemCounts struct {
	TotalRooms     int `json:"total_rooms"`
	TotalUsers     int `json:"total_users"`
	ActiveUsers    int `json:"active_users"`
	TotalDocuments int `json:"total_documents"`
}

type ComplianceIssues struct {
	ExpiredDocuments int `json:"expired_documents"`
	PendingApprovals int `json:"pending_approvals"`
	OverdueRooms     int `json:"overdue_rooms"`
}

type Alert struct {
	Type     string   `json:"type"`
	Severity Priority `json:"severity"`
	Message  string   `json:"message"`
	RoomID   string   `json:"room_id,omitempty"`
}

type AdminOverview struct {
	Counts            SystemCounts         `json:"counts"`
	ComplianceIssues  ComplianceIssues     `json:"compliance_issues"`
	SystemHealthScore float64              `json:"system_health_score"`
	CriticalAlerts    []Alert              `json:"critical_alerts"`
	RecentActivity    []models.ActivityLog `json:"recent_activity"`
	AlertPriority     Priority             `json:"alert_priority"`
}

type ChartererOverview struct {
	DemurrageByRoom    []DemurrageByRoom   `json:"demurrage_by_room"`
	MarginImpact       MarginImpact        `json:"margin_impact"`
	UrgentApprovals    []UrgentApproval    `json:"urgent_approvals"`
	EscalationForecast *EscalationForecast `json:"escalation_forecast"`
	TotalExposure      float64             `json:"total_exposure"`
	DelayedRooms       int                 `json:"delayed_rooms"`
	AlertPriority      Priority            `json:"alert_priority"`
}

type BrokerOverview struct {
	CommissionByRoom      []CommissionByRoom     `json:"commission_by_room"`
	DealHealth            []DealHealth           `json:"deal_health"`
	StuckDeals            []StuckDeal            `json:"stuck_deals"`
	PartyPerformance      []PartyPerformance     `json:"party_performance"`
	AccrualTracking       AccrualTracking        `json:"accrual_tracking"`
	CounterpartyEstimates []CounterpartyEstimate `json:"counterparty_estimates"`
	PipelineHealth        float64                `json:"pipeline_health"`
	TotalCommission       float64                `json:"total_commission"`
	CommissionAccrued     float64                `json:"commission_accrued"`
	AlertPriority         Priority               `json:"alert_priority"`
}

type ShipownerOverview struct {
	SireCompliance   []SireCompliance `json:"sire_compliance"`
	OpenFindings     []OpenFinding    `json:"open_findings"`
	Insurance        InsuranceMetrics `json:"insurance"`
	CrewStatus       []CrewStatus     `json:"crew_status"`
	AvgSireScore     float64          `json:"avg_sire_score"`
	CriticalFindings int              `json:"critical_findings"`
	AlertPriority    Priority         `json:"alert_priority"`
}

type ReviewItem struct {
	DocumentID   string   `json:"document_id"`
	RoomID       string   `json:"room_id"`
	VesselID     *string  `json:"vessel_id"`
	Title        string   `json:"title"`
	Priority     string   `json:"priority"`
	Criticality  string   `json:"criticality"`
	DaysInReview float64  `json:"days_in_review"`
	Urgency      Priority `json:"urgency"`
}

type InspectorOverview struct {
	SireCompliance       []SireCompliance `json:"sire_compliance"`
	OpenFindings         []OpenFinding    `json:"open_findings"`
	DocumentsUnderReview []ReviewItem     `json:"documents_under_review"`
	AvgSireScore         float64          `json:"avg_sire_score"`
	CriticalFindings     int              `json:"critical_findings"`
	AlertPriority        Priority         `json:"alert_priority"`
}

// AccessDecision is the outcome of dashboard access validation.
type AccessDecision struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason"`
	AccessLevel string `json:"access_level"`
	Role        Role   `json:"role"`
}

type Metadata struct {
	AccessLevel         string   `json:"access_level"`
	Partial             bool     `json:"partial"`
	Errors              []string `json:"errors"`
	UnreadNotifications int      `json:"unread_notifications"`
	CacheTTLSeconds     int      `json:"cache_ttl_seconds"`
}

// Envelope wraps a role overview for the HTTP layer.
type Envelope struct {
	Role           Role      `json:"role"`
	UserID         string    `json:"user_id"`
	UserEmail      string    `json:"user_email"`
	GeneratedAt    time.Time `json:"generated_at"`
	CacheExpiresAt time.Time `json:"cache_expires_at"`
	Data           any       `json:"data"`
	Metadata       Metadata  `json:"metadata"`
}

type overviewFunc func(ctx context.Context, user *models.User) (any, error)

// ProjectionService dispatches a user to the overview of their role.
type ProjectionService struct {
	base
	demurrage     *DemurrageService
	commission    *CommissionService
	compliance    *ComplianceService
	health        DealHealthCalculator
	notifications notification.Store
	tenant        string
	cacheTTL      time.Duration
	overviews     map[Role]overviewFunc
}

// Services groups the collaborators of ProjectionService.
type Services struct {
	Metrics    *MetricsService
	Demurrage  *DemurrageService
	Commission *CommissionService
	Compliance *ComplianceService
}

// NewServices wires the role services over one store.
func NewServices(store Store, sire SireScoreProvider, sireCache cache.Store, logger *zap.Logger, opts Options) Services {
	metrics := NewMetricsService(store, logger, opts)
	return Services{
		Metrics:    metrics,
		Demurrage:  NewDemurrageService(store, metrics, logger, opts),
		Commission: NewCommissionService(store, metrics, NewDealHealthCalculator(), logger, opts),
		Compliance: NewComplianceService(store, sire, sireCache, logger, opts),
	}
}

func NewProjectionService(store Store, svc Services, notifications notification.Store, logger *zap.Logger, opts Options) *ProjectionService {
	opts = opts.withDefaults()
	s := &ProjectionService{
		base:          newBase(store, logger, "projection", opts),
		demurrage:     svc.Demurrage,
		commission:    svc.Commission,
		compliance:    svc.Compliance,
		health:        NewDealHealthCalculator(),
		notifications: notifications,
		tenant:        opts.Tenant,
		cacheTTL:      opts.CacheTTL,
	}
	s.overviews = map[Role]overviewFunc{
		RoleAdmin: func(ctx context.Context, _ *models.User) (any, error) {
			return s.GetAdminOverview(ctx)
		},
		RoleCharterer: func(ctx context.Context, u *models.User) (any, error) {
			return s.GetChartererOverview(ctx, u.Email)
		},
		RoleBroker: func(ctx context.Context, u *models.User) (any, error) {
			return s.GetBrokerOverview(ctx, u.Email)
		},
		RoleShipowner: func(ctx context.Context, u *models.User) (any, error) {
			return s.GetShipownerOverview(ctx, u.Email)
		},
		RoleInspector: func(ctx context.Context, _ *models.User) (any, error) {
			return s.GetInspectorOverview(ctx)
		},
	}
	return s
}

// GetAdminOverview aggregates system-wide counts, compliance issues and the audit feed.
func (s *ProjectionService) GetAdminOverview(ctx context.Context) (AdminOverview, error) {
	var errs partial
	out := AdminOverview{CriticalAlerts: []Alert{}, RecentActivity: []models.ActivityLog{}}

	rooms, err := s.store.CountRooms(ctx)
	if err != nil {
		errs.add(s.fail("admin.count_rooms", "", err))
	}
	users, active, err := s.store.CountUsers(ctx)
	if err != nil {
		errs.add(s.fail("admin.count_users", "", err))
	}
	docs, err := s.store.CountDocumentsByStatus(ctx)
	if err != nil {
		errs.add(s.fail("admin.count_documents", "", err))
	}
	approvals, err := s.store.CountApprovalsByStatus(ctx)
	if err != nil {
		errs.add(s.fail("admin.count_approvals", "", err))
	}

	now := s.now()
	overdue, err := s.store.ListRooms(ctx, repository.RoomFilter{
		Statuses:  []string{models.RoomStatusActive},
		ETABefore: &now,
	})
	if err != nil {
		errs.add(s.fail("admin.overdue_rooms", "", err))
	}

	totalDocs := lo.Sum(lo.Values(docs))
	totalApprovals := lo.Sum(lo.Values(approvals))

	out.Counts = SystemCounts{
		TotalRooms:     rooms,
		TotalUsers:     users,
		ActiveUsers:    active,
		TotalDocuments: totalDocs,
	}
	out.ComplianceIssues = ComplianceIssues{
		ExpiredDocuments: docs[models.DocumentStatusExpired],
		PendingApprovals: approvals[models.ApprovalStatusPending],
		OverdueRooms:     len(overdue),
	}

	expiredRate := utils.Percent(out.ComplianceIssues.ExpiredDocuments, totalDocs, 0) / 100
	pendingRate := utils.Percent(out.ComplianceIssues.PendingApprovals, totalApprovals, 0) / 100
	out.SystemHealthScore = SystemHealthScore(expiredRate, pendingRate)

	if n := out.ComplianceIssues.ExpiredDocuments; n > 0 {
		severity := PriorityHigh
		if expiredRate > 0.2 {
			severity = PriorityCritical
		}
		out.CriticalAlerts = append(out.CriticalAlerts, Alert{
			Type:     "expired_documents",
			Severity: severity,
			Message:  fmt.Sprintf("%d documents have expired", n),
		})
	}
	if pendingRate > 0.5 {
		out.CriticalAlerts = append(out.CriticalAlerts, Alert{
			Type:     "pending_approvals",
			Severity: PriorityHigh,
			Message:  fmt.Sprintf("%d of %d approvals are still pending", out.ComplianceIssues.PendingApprovals, totalApprovals),
		})
	}
	for _, r := range overdue {
		out.CriticalAlerts = append(out.CriticalAlerts, Alert{
			Type:     "overdue_room",
			Severity: PriorityHigh,
			Message:  fmt.Sprintf("%s is past its estimated arrival", r.Title),
			RoomID:   r.ID,
		})
	}
	sort.SliceStable(out.CriticalAlerts, func(i, j int) bool {
		return out.CriticalAlerts[i].Severity.Rank() > out.CriticalAlerts[j].Severity.Rank()
	})

	activity, err := s.store.ListRecentActivity(ctx, recentActivityLimit)
	if err != nil {
		errs.add(s.fail("admin.recent_activity", "", err))
	}
	if len(activity) > recentActivityLimit {
		activity = activity[:recentActivityLimit]
	}
	if activity != nil {
		out.RecentActivity = activity
	}

	out.AlertPriority = AdminAlertPriority(out.SystemHealthScore)
	return out, errs.err
}

// SystemHealthScore is 100 - 50*expiredRate - 25*pendingRate, clamped to [0, 100].
func SystemHealthScore(expiredRate, pendingRate float64) float64 {
	return utils.Round2(utils.Clamp(100-50*expiredRate-25*pendingRate, 0, 100))
}

func AdminAlertPriority(systemHealth float64) Priority {
	switch {
	case systemHealth < 50:
		return PriorityCritical
	case systemHealth < 70:
		return PriorityHigh
	case systemHealth < 90:
		return PriorityMedium
	}
	return PriorityLow
}

func (s *ProjectionService) GetChartererOverview(ctx context.Context, email string) (ChartererOverview, error) {
	var errs partial

	byRoom, err := s.demurrage.GetDemurrageByRoom(ctx, email)
	errs.add(err)
	margin, err := s.demurrage.CalculateMarginImpact(ctx, email)
	errs.add(err)
	urgent, err := s.demurrage.GetUrgentApprovals(ctx, email, DefaultUrgentApprovalDays)
	errs.add(err)
	delayed, err := s.demurrage.CountDelayedRooms(ctx, email)
	errs.add(err)

	out := ChartererOverview{
		DemurrageByRoom: byRoom,
		MarginImpact:    margin,
		UrgentApprovals: urgent,
		TotalExposure:   utils.Round2(lo.SumBy(byRoom, func(d DemurrageByRoom) float64 { return d.Exposure })),
		DelayedRooms:    delayed,
	}
	if len(byRoom) > 0 {
		forecast, err := s.demurrage.PredictDemurrageEscalation(ctx, byRoom[0].RoomID, DefaultProjectionDays)
		errs.add(err)
		out.EscalationForecast = &forecast
	}
	out.AlertPriority = s.demurrage.CalculateAlertPriority(out.TotalExposure, out.DelayedRooms, len(urgent))
	return out, errs.err
}

func (s *ProjectionService) GetBrokerOverview(ctx context.Context, email string) (BrokerOverview, error) {
	var errs partial

	commission, err := s.commission.GetCommissionByRoom(ctx, email)
	errs.add(err)
	health, err := s.commission.GetDealHealthByRoom(ctx, email)
	errs.add(err)
	stuck, err := s.commission.GetStuckDeals(ctx, email, DefaultStuckThresholdHours)
	errs.add(err)
	performance, err := s.commission.GetPartyPerformance(ctx, email, DefaultPerformanceWindowDays)
	errs.add(err)
	accrual, err := s.commission.CalculateCommissionAccrualTracking(ctx, email)
	errs.add(err)
	estimates, err := s.commission.EstimateCommissionByCounterparty(ctx, email, DefaultEstimateWindowDays)
	errs.add(err)

	out := BrokerOverview{
		CommissionByRoom:      commission,
		DealHealth:            health,
		StuckDeals:            stuck,
		PartyPerformance:      performance,
		AccrualTracking:       accrual,
		CounterpartyEstimates: estimates,
		PipelineHealth:        s.pipelineHealth(health),
		TotalCommission:       utils.Round2(lo.SumBy(commission, func(c CommissionByRoom) float64 { return c.Commission })),
		CommissionAccrued:     accrual.TotalAccrued,
	}
	out.AlertPriority = s.commission.CalculateAlertPriority(len(stuck), out.CommissionAccrued)
	return out, errs.err
}

// pipelineHealth scores the average open deal with the canonical calculator.
// An empty pipeline is vacuously healthy.
func (s *ProjectionService) pipelineHealth(deals []DealHealth) float64 {
	if len(deals) == 0 {
		return 100
	}
	docs := lo.MeanBy(deals, func(d DealHealth) float64 { return d.DocumentCompletion })
	approvals := lo.MeanBy(deals, func(d DealHealth) float64 { return d.ApprovalCompletion })

	var remaining *float64
	withETA := lo.Filter(deals, func(d DealHealth, _ int) bool { return d.TimelineDaysRemaining != nil })
	if len(withETA) > 0 {
		avg := lo.MeanBy(withETA, func(d DealHealth) float64 { return *d.TimelineDaysRemaining })
		remaining = &avg
	}
	return s.health.Score(docs, approvals, remaining)
}

func (s *ProjectionService) GetShipownerOverview(ctx context.Context, email string) (ShipownerOverview, error) {
	var errs partial

	sire, err := s.compliance.GetSireCompliance(ctx, email)
	errs.add(err)
	findings, err := s.compliance.GetOpenFindings(ctx, FindingScope{OwnerEmail: email}, DefaultFindingsWindowDays)
	errs.add(err)

	vessels, _, err := s.compliance.ownerVessels(ctx, email)
	if err != nil {
		errs.add(s.fail("shipowner.vessels", email, err))
	}
	crew := make([]CrewStatus, 0, len(vessels))
	for _, v := range vessels {
		status, err := s.compliance.ValidateCrewCertifications(ctx, v.ID)
		errs.add(err)
		crew = append(crew, status)
	}

	out := ShipownerOverview{
		SireCompliance:   sire,
		OpenFindings:     findings,
		Insurance:        insuranceMetrics(sire),
		CrewStatus:       crew,
		AvgSireScore:     averageScore(sire),
		CriticalFindings: criticalFindings(sire, findings),
	}
	out.AlertPriority = s.compliance.CalculateAlertPriority(priorityScore(sire), out.CriticalFindings)
	return out, errs.err
}

// GetInspectorOverview covers every open room.
func (s *ProjectionService) GetInspectorOverview(ctx context.Context) (InspectorOverview, error) {
	var errs partial

	sire, err := s.compliance.GetSireCompliance(ctx, "")
	errs.add(err)
	findings, err := s.compliance.GetOpenFindings(ctx, FindingScope{}, DefaultFindingsWindowDays)
	errs.add(err)
	review, err := s.documentsUnderReview(ctx)
	errs.add(err)

	out := InspectorOverview{
		SireCompliance:       sire,
		OpenFindings:         findings,
		DocumentsUnderReview: review,
		AvgSireScore:         averageScore(sire),
		CriticalFindings:     criticalFindings(sire, findings),
	}
	out.AlertPriority = s.compliance.CalculateAlertPriority(priorityScore(sire), out.CriticalFindings)
	return out, errs.err
}

func (s *ProjectionService) documentsUnderReview(ctx context.Context) ([]ReviewItem, error) {
	const op = "inspector.documents_under_review"

	rooms, err := s.compliance.openRooms(ctx, "")
	if err != nil {
		return []ReviewItem{}, s.fail(op, "", err)
	}
	if len(rooms) == 0 {
		return []ReviewItem{}, nil
	}
	docs, err := s.store.ListDocuments(ctx, repository.DocumentFilter{
		RoomIDs:  roomIDs(rooms),
		Statuses: []string{models.DocumentStatusUnderReview},
	})
	if err != nil {
		return []ReviewItem{}, s.fail(op, "", err)
	}

	out := lo.Map(docs, func(d models.Document, _ int) ReviewItem {
		days := s.hoursSince(d.UpdatedAt) / 24
		return ReviewItem{
			DocumentID:   d.ID,
			RoomID:       d.RoomID,
			VesselID:     d.VesselID,
			Title:        d.TypeName,
			Priority:     d.Priority,
			Criticality:  d.Criticality,
			DaysInReview: utils.Round1(days),
			Urgency:      approvalUrgency(days),
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysInReview != out[j].DaysInReview {
			return out[i].DaysInReview > out[j].DaysInReview
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	if len(out) > documentsForReviewLimit {
		out = out[:documentsForReviewLimit]
	}
	return out, nil
}

func averageScore(sire []SireCompliance) float64 {
	if len(sire) == 0 {
		return 0
	}
	return utils.Round2(lo.MeanBy(sire, func(c SireCompliance) float64 { return c.Score }))
}

// priorityScore is the score fed to the alert table; a fleet without scored vessels is not at risk.
func priorityScore(sire []SireCompliance) float64 {
	if len(sire) == 0 {
		return 100
	}
	return averageScore(sire)
}

// criticalFindings adds recorded critical inspection findings to critical document gaps.
func criticalFindings(sire []SireCompliance, findings []OpenFinding) int {
	n := lo.SumBy(sire, func(c SireCompliance) int { return c.CriticalFindings })
	return n + lo.CountBy(findings, func(f OpenFinding) bool { return f.Severity == SeverityCritical })
}

// ValidateUserAccessToDashboard never fails; denials carry a reason and access level "none".
func (s *ProjectionService) ValidateUserAccessToDashboard(ctx context.Context, userID string) AccessDecision {
	decision, _ := s.validate(ctx, userID)
	return decision
}

func (s *ProjectionService) validate(ctx context.Context, userID string) (AccessDecision, *models.User) {
	deny := func(role Role, reason string) AccessDecision {
		s.logger.Info("dashboard access denied",
			zap.String("user_id", userID),
			zap.String("reason", reason),
		)
		return AccessDecision{Allowed: false, Reason: reason, AccessLevel: AccessNone, Role: role}
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Error("dashboard user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return deny(RoleUnknown, "user lookup failed"), nil
	}
	if user == nil {
		return deny(RoleUnknown, "user not found"), nil
	}

	role, err := ParseRole(user.Role)
	if err != nil {
		return deny(RoleUnknown, "unsupported role"), user
	}
	if role == RoleViewer {
		return deny(role, "viewer role has no dashboard access"), user
	}
	if !user.IsActive {
		return deny(role, "user is inactive"), user
	}
	if s.tenant != "" && user.TenantID != s.tenant {
		return deny(role, "user belongs to another tenant"), user
	}

	return AccessDecision{Allowed: true, Reason: "ok", AccessLevel: role.AccessLevel(), Role: role}, user
}

// GetDashboardForRole validates access and assembles the overview of the requested role.
// RoleUnknown selects the user's own role; only admins may view another role's dashboard.
// Denials are returned as *AccessDeniedError. Metric failures never fail the call: they
// are listed in the envelope metadata.
func (s *ProjectionService) GetDashboardForRole(ctx context.Context, userID string, requested Role) (Envelope, error) {
	decision, user := s.validate(ctx, userID)
	if !decision.Allowed {
		return Envelope{}, &AccessDeniedError{Reason: decision.Reason}
	}

	role := decision.Role
	if requested != RoleUnknown && requested != role {
		if role != RoleAdmin {
			return Envelope{}, &AccessDeniedError{
				Reason: fmt.Sprintf("%s users cannot view the %s dashboard", role, requested),
			}
		}
		role = requested
	}

	overview, ok := s.overviews[role]
	if !ok {
		return Envelope{}, &AccessDeniedError{Reason: fmt.Sprintf("no dashboard for role %s", role)}
	}

	var errs partial
	data, err := overview(ctx, user)
	errs.add(err)

	var unread int
	if s.notifications != nil {
		unread, err = s.notifications.CountUnread(ctx, user.Email)
		if err != nil {
			errs.add(s.fail("count_unread_notifications", user.ID, err))
		}
	}

	now := s.now().UTC()
	return Envelope{
		Role:           role,
		UserID:         user.ID,
		UserEmail:      user.Email,
		GeneratedAt:    now,
		CacheExpiresAt: now.Add(s.cacheTTL),
		Data:           data,
		Metadata: Metadata{
			AccessLevel:         decision.AccessLevel,
			Partial:             errs.failed(),
			Errors:              errs.messages(),
			UnreadNotifications: unread,
			CacheTTLSeconds:     int(s.cacheTTL.Seconds()),
		},
	}, nil
}
