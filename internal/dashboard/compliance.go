package dashboard

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/cache"
	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/repository"
	"github.com/rongwang/sts-clearance/internal/utils"
)

const (
	DefaultFindingsWindowDays = 180
	crewExpiringWithinDays    = 30

	APIStatusSuccess = "success"
	APIStatusCached  = "cached"
	APIStatusError   = "error"

	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"
)

type SireCompliance struct {
	VesselID            string    `json:"vessel_id"`
	VesselName          string    `json:"vessel_name"`
	Score               float64   `json:"score"`
	Status              string    `json:"status"`
	LastInspection      time.Time `json:"last_inspection"`
	CriticalFindings    int       `json:"critical_findings"`
	MajorFindings       int       `json:"major_findings"`
	MinorFindings       int       `json:"minor_findings"`
	DaysSinceInspection int       `json:"days_since_inspection"`
}

type OpenFinding struct {
	FindingID   string     `json:"finding_id"`
	RoomID      string     `json:"room_id"`
	VesselID    *string    `json:"vessel_id"`
	Title       string     `json:"title"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Criticality string     `json:"criticality"`
	ExpiresOn   *time.Time `json:"expires_on"`
	DaysOpen    int        `json:"days_open"`
}

type InsuranceMetrics struct {
	AvgSireScore      float64 `json:"avg_sire_score"`
	VesselsCount      int     `json:"vessels_count"`
	PremiumMultiplier float64 `json:"premium_multiplier"`
	Impact            string  `json:"impact"`
	Recommendation    string  `json:"recommendation"`
}

type CrewCertificateStatus struct {
	CrewName        string    `json:"crew_name"`
	CertificateType string    `json:"certificate_type"`
	ExpiresOn       time.Time `json:"expires_on"`
	DaysRemaining   int       `json:"days_remaining"`
	Status          string    `json:"status"`
}

type CrewStatus struct {
	VesselID       string                  `json:"vessel_id"`
	VesselName     string                  `json:"vessel_name"`
	Certifications []CrewCertificateStatus `json:"certifications"`
	ValidCount     int                     `json:"valid_count"`
	ExpiringCount  int                     `json:"expiring_count"`
	ExpiredCount   int                     `json:"expired_count"`
	OverallStatus  string                  `json:"overall_status"`
}

type RemediationStatus struct {
	FindingID         string     `json:"finding_id"`
	Found             bool       `json:"found"`
	Severity          string     `json:"severity"`
	Status            string     `json:"status"`
	CompletionPercent float64    `json:"completion_percent"`
	ActionsTotal      int        `json:"actions_total"`
	ActionsCompleted  int        `json:"actions_completed"`
	DaysOpen          int        `json:"days_open"`
	EstimatedClosure  *time.Time `json:"estimated_closure"`
	Overdue           bool       `json:"overdue"`
}

type SireSync struct {
	VesselID  string    `json:"vessel_id"`
	Score     float64   `json:"score"`
	AsOf      time.Time `json:"as_of"`
	Source    string    `json:"source"`
	APIStatus string    `json:"api_status"`
	SyncedAt  time.Time `json:"synced_at"`
	Error     string    `json:"error,omitempty"`
}

// FindingScope selects the documents examined by GetOpenFindings. VesselID wins when both are set.
type FindingScope struct {
	OwnerEmail string
	VesselID   string
}

// ComplianceService builds the shipowner and inspector projections.
type ComplianceService struct {
	base
	sire     SireScoreProvider
	cache    cache.Store
	cacheTTL time.Duration
}

func NewComplianceService(store Store, sire SireScoreProvider, c cache.Store, logger *zap.Logger, opts Options) *ComplianceService {
	opts = opts.withDefaults()
	if sire == nil {
		sire = HashScoreProvider{Now: opts.Now}
	}
	if c == nil {
		c = cache.NewMemoryStore()
	}
	return &ComplianceService{
		base:     newBase(store, logger, "compliance", opts),
		sire:     sire,
		cache:    c,
		cacheTTL: opts.SireCacheTTL,
	}
}

// openRooms returns the active and pending rooms in which email is an owner party.
// An empty email selects every open room.
func (s *ComplianceService) openRooms(ctx context.Context, ownerEmail string) ([]models.Room, error) {
	filter := repository.RoomFilter{Statuses: []string{models.RoomStatusActive, models.RoomStatusPending}}
	if ownerEmail != "" {
		filter.PartyEmail = ownerEmail
		filter.PartyRole = models.PartyRoleOwner
	}
	return s.store.ListRooms(ctx, filter)
}

func (s *ComplianceService) ownerVessels(ctx context.Context, ownerEmail string) ([]models.Vessel, []models.Room, error) {
	rooms, err := s.openRooms(ctx, ownerEmail)
	if err != nil || len(rooms) == 0 {
		return nil, rooms, err
	}
	vessels, err := s.store.ListVessels(ctx, roomIDs(rooms))
	return vessels, rooms, err
}

// GetSireCompliance scores every vessel in the owner's open rooms, riskiest first.
// Vessels whose score cannot be obtained are left out and reported in the error.
func (s *ComplianceService) GetSireCompliance(ctx context.Context, ownerEmail string) ([]SireCompliance, error) {
	const op = "get_sire_compliance"

	vessels, _, err := s.ownerVessels(ctx, ownerEmail)
	if err != nil {
		return []SireCompliance{}, s.fail(op, ownerEmail, err)
	}
	if len(vessels) == 0 {
		return []SireCompliance{}, nil
	}

	var errs partial
	findings, err := s.store.ListFindings(ctx, lo.Map(vessels, func(v models.Vessel, _ int) string { return v.ID }), true)
	if err != nil {
		errs.add(s.fail(op+".findings", ownerEmail, err))
	}
	bySeverity := map[string]map[string]int{}
	for _, f := range findings {
		if bySeverity[f.VesselID] == nil {
			bySeverity[f.VesselID] = map[string]int{}
		}
		bySeverity[f.VesselID][f.Severity]++
	}

	now := s.now()
	out := make([]SireCompliance, 0, len(vessels))
	for _, v := range vessels {
		sync, err := s.SyncSireExternalAPI(ctx, v.ID, false)
		if err != nil {
			errs.add(err)
			if sync.APIStatus == APIStatusError && sync.AsOf.IsZero() {
				continue
			}
		}
		counts := bySeverity[v.ID]
		score := utils.Round1(sync.Score)
		out = append(out, SireCompliance{
			VesselID:            v.ID,
			VesselName:          v.Name,
			Score:               score,
			Status:              sireStatus(score),
			LastInspection:      sync.AsOf,
			CriticalFindings:    counts[SeverityCritical],
			MajorFindings:       counts[SeverityMajor],
			MinorFindings:       counts[SeverityMinor],
			DaysSinceInspection: int(math.Max(0, now.Sub(sync.AsOf).Hours()/24)),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].VesselID < out[j].VesselID
	})
	return out, errs.err
}

func sireStatus(score float64) string {
	switch {
	case score < 80:
		return "critical"
	case score < 85:
		return "warning"
	}
	return "good"
}

// GetOpenFindings surfaces missing or expired documents that are urgent or of high
// criticality, updated within daysRange, most severe first.
func (s *ComplianceService) GetOpenFindings(ctx context.Context, scope FindingScope, daysRange int) ([]OpenFinding, error) {
	const op = "get_open_findings"
	if daysRange <= 0 {
		daysRange = DefaultFindingsWindowDays
	}

	since := s.now().AddDate(0, 0, -daysRange)
	filter := repository.DocumentFilter{
		Statuses:     []string{models.DocumentStatusMissing, models.DocumentStatusExpired},
		UpdatedSince: &since,
	}
	entity := scope.OwnerEmail
	if scope.VesselID != "" {
		entity = scope.VesselID
		filter.VesselIDs = []string{scope.VesselID}
	} else {
		rooms, err := s.openRooms(ctx, scope.OwnerEmail)
		if err != nil {
			return []OpenFinding{}, s.fail(op, entity, err)
		}
		if len(rooms) == 0 {
			return []OpenFinding{}, nil
		}
		filter.RoomIDs = roomIDs(rooms)
	}

	docs, err := s.store.ListDocuments(ctx, filter)
	if err != nil {
		return []OpenFinding{}, s.fail(op, entity, err)
	}

	out := make([]OpenFinding, 0)
	for _, d := range docs {
		if d.Priority != "urgent" && d.Criticality != "high" {
			continue
		}
		out = append(out, OpenFinding{
			FindingID:   d.ID,
			RoomID:      d.RoomID,
			VesselID:    d.VesselID,
			Title:       d.TypeName,
			Severity:    documentSeverity(d),
			Status:      d.Status,
			Priority:    d.Priority,
			Criticality: d.Criticality,
			ExpiresOn:   d.ExpiresOn,
			DaysOpen:    int(s.hoursSince(d.CreatedAt) / 24),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := severityRank(out[i].Severity), severityRank(out[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if out[i].DaysOpen != out[j].DaysOpen {
			return out[i].DaysOpen > out[j].DaysOpen
		}
		return out[i].FindingID < out[j].FindingID
	})
	return out, nil
}

func documentSeverity(d models.Document) string {
	switch {
	case d.Criticality == "high":
		return SeverityCritical
	case d.Criticality == "med" || d.Priority == "urgent":
		return SeverityMajor
	}
	return SeverityMinor
}

func severityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// CalculateInsuranceMetrics derives the premium multiplier from the fleet average SIRE score.
func (s *ComplianceService) CalculateInsuranceMetrics(ctx context.Context, ownerEmail string) (InsuranceMetrics, error) {
	compliance, err := s.GetSireCompliance(ctx, ownerEmail)
	return insuranceMetrics(compliance), err
}

func insuranceMetrics(compliance []SireCompliance) InsuranceMetrics {
	if len(compliance) == 0 {
		return InsuranceMetrics{
			PremiumMultiplier: 1.0,
			Impact:            "green",
			Recommendation:    "No vessels on record",
		}
	}
	avg := lo.MeanBy(compliance, func(c SireCompliance) float64 { return c.Score })
	out := InsuranceForScore(avg)
	out.VesselsCount = len(compliance)
	return out
}

// InsuranceForScore applies the premium table: >=90 -> 1.0, >=85 -> 1.05, >=80 -> 1.15, else 1.3.
func InsuranceForScore(avgScore float64) InsuranceMetrics {
	out := InsuranceMetrics{AvgSireScore: utils.Round2(avgScore)}
	switch {
	case avgScore >= 90:
		out.PremiumMultiplier, out.Impact = 1.0, "green"
		out.Recommendation = "Fleet qualifies for preferred premium rates"
	case avgScore >= 85:
		out.PremiumMultiplier, out.Impact = 1.05, "green"
		out.Recommendation = "Maintain inspection standards to keep current premium"
	case avgScore >= 80:
		out.PremiumMultiplier, out.Impact = 1.15, "amber"
		out.Recommendation = "Address open findings to reduce premium loading"
	default:
		out.PremiumMultiplier, out.Impact = 1.3, "red"
		out.Recommendation = "Urgent remediation required: premium loading at maximum"
	}
	return out
}

// ValidateCrewCertifications classifies each certificate of a vessel as valid, expiring
// (within 30 days) or expired.
func (s *ComplianceService) ValidateCrewCertifications(ctx context.Context, vesselID string) (CrewStatus, error) {
	const op = "validate_crew_certifications"
	out := CrewStatus{VesselID: vesselID, Certifications: []CrewCertificateStatus{}, OverallStatus: "good"}

	vessel, err := s.store.GetVessel(ctx, vesselID)
	if err != nil {
		return out, s.fail(op, vesselID, err)
	}
	if vessel == nil {
		return out, nil
	}
	out.VesselName = vessel.Name

	certs, err := s.store.ListCrewCertifications(ctx, vesselID)
	if err != nil {
		return out, s.fail(op, vesselID, err)
	}

	now := s.now()
	for _, c := range certs {
		days := int(math.Floor(c.ExpiresOn.Sub(now).Hours() / 24))
		status := "valid"
		switch {
		case days < 0:
			status = "expired"
			out.ExpiredCount++
		case days <= crewExpiringWithinDays:
			status = "expiring"
			out.ExpiringCount++
		default:
			out.ValidCount++
		}
		out.Certifications = append(out.Certifications, CrewCertificateStatus{
			CrewName:        c.CrewName,
			CertificateType: c.CertificateType,
			ExpiresOn:       c.ExpiresOn,
			DaysRemaining:   days,
			Status:          status,
		})
	}

	switch {
	case out.ExpiredCount > 0:
		out.OverallStatus = "critical"
	case out.ExpiringCount > 2:
		out.OverallStatus = "warning"
	}
	return out, nil
}

var defaultRemediationDays = map[string]int{
	SeverityCritical: 7,
	SeverityMajor:    30,
	SeverityMinor:    90,
}

// CalculateFindingRemediationStatus reports progress on a finding and estimates its closure.
func (s *ComplianceService) CalculateFindingRemediationStatus(ctx context.Context, findingID string) (RemediationStatus, error) {
	out := RemediationStatus{FindingID: findingID, Status: "unknown"}

	f, err := s.store.GetFinding(ctx, findingID)
	if err != nil {
		return out, s.fail("calculate_finding_remediation_status", findingID, err)
	}
	if f == nil {
		return out, nil
	}

	now := s.now()
	completion := utils.Percent(f.ActionsCompleted, f.ActionsTotal, 0)
	if f.ResolvedAt != nil {
		completion = 100
	}
	completion = utils.Round2(utils.Clamp(completion, 0, 100))

	out.Found = true
	out.Severity = f.Severity
	out.Status = remediationStatus(completion)
	out.CompletionPercent = completion
	out.ActionsTotal = f.ActionsTotal
	out.ActionsCompleted = f.ActionsCompleted
	out.DaysOpen = int(s.hoursSince(f.OpenedAt) / 24)

	var closure time.Time
	switch {
	case f.ResolvedAt != nil:
		closure = *f.ResolvedAt
	case completion >= 100:
		closure = now
	case completion > 0:
		elapsed := now.Sub(f.OpenedAt)
		closure = f.OpenedAt.Add(time.Duration(float64(elapsed) * 100 / completion))
	case f.TargetDate != nil:
		closure = *f.TargetDate
	default:
		days, ok := defaultRemediationDays[f.Severity]
		if !ok {
			days = defaultRemediationDays[SeverityMinor]
		}
		closure = f.OpenedAt.AddDate(0, 0, days)
	}
	closure = closure.UTC()
	out.EstimatedClosure = &closure
	out.Overdue = out.Status != "resolved" && f.TargetDate != nil && f.TargetDate.Before(now)
	return out, nil
}

func remediationStatus(completion float64) string {
	switch {
	case completion >= 100:
		return "resolved"
	case completion >= 75:
		return "near_completion"
	case completion > 0:
		return "in_progress"
	}
	return "open"
}

func sireCacheKey(vesselID string) string     { return "sire:" + vesselID }
func sireLastKnownKey(vesselID string) string { return "sire:last:" + vesselID }

// SyncSireExternalAPI returns the SIRE score of a vessel, serving a cached value younger
// than the cache TTL unless forceRefresh is set. When the provider fails the last known
// score, if any, is returned with api_status "error".
func (s *ComplianceService) SyncSireExternalAPI(ctx context.Context, vesselID string, forceRefresh bool) (SireSync, error) {
	const op = "sync_sire_external_api"

	if !forceRefresh {
		var cached SireSync
		found, err := cache.GetJSON(ctx, s.cache, sireCacheKey(vesselID), &cached)
		if err != nil {
			s.logger.Warn("sire cache read failed", zap.String("vessel_id", vesselID), zap.Error(err))
		}
		if found {
			cached.APIStatus = APIStatusCached
			return cached, nil
		}
	}

	score, err := s.sire.GetScore(ctx, vesselID)
	if err != nil {
		out := SireSync{VesselID: vesselID, APIStatus: APIStatusError, SyncedAt: s.now().UTC(), Error: err.Error()}
		var last SireSync
		if found, _ := cache.GetJSON(ctx, s.cache, sireLastKnownKey(vesselID), &last); found {
			out.Score, out.AsOf, out.Source = last.Score, last.AsOf, last.Source
		}
		return out, s.fail(op, vesselID, err)
	}

	out := SireSync{
		VesselID:  vesselID,
		Score:     utils.Clamp(score.Score, 0, 100),
		AsOf:      score.AsOf,
		Source:    score.Source,
		APIStatus: APIStatusSuccess,
		SyncedAt:  s.now().UTC(),
	}
	if err := cache.SetJSON(ctx, s.cache, sireCacheKey(vesselID), out, s.cacheTTL); err != nil {
		s.logger.Warn("sire cache write failed", zap.String("vessel_id", vesselID), zap.Error(err))
	}
	if err := cache.SetJSON(ctx, s.cache, sireLastKnownKey(vesselID), out, 0); err != nil {
		s.logger.Warn("sire last-known write failed", zap.String("vessel_id", vesselID), zap.Error(err))
	}
	return out, nil
}

// CalculateAlertPriority is the shipowner and inspector alert threshold table.
func (s *ComplianceService) CalculateAlertPriority(avgSireScore float64, criticalFindingsCount int) Priority {
	return ComplianceAlertPriority(avgSireScore, criticalFindingsCount)
}

func ComplianceAlertPriority(avgSireScore float64, criticalFindingsCount int) Priority {
	switch {
	case avgSireScore < 80 || criticalFindingsCount > 2:
		return PriorityCritical
	case avgSireScore < 85:
		return PriorityHigh
	case avgSireScore < 90:
		return PriorityMedium
	}
	return PriorityLow
}
