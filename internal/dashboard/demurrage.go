package dashboard

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/repository"
	"github.com/rongwang/sts-clearance/internal/utils"
)

const (
	// DefaultUrgentApprovalDays is the pending age from which an approval counts as urgent.
	DefaultUrgentApprovalDays = 2.0
	// DefaultProjectionDays is the longest horizon of an escalation forecast.
	DefaultProjectionDays = 7

	escalationGraceHours  = 48.0
	escalationBlockHours  = 12.0
	escalationStepPercent = 0.05
	maxEscalationFactor   = 2.0

	targetMarginRate = 0.025
)

type DemurrageByRoom struct {
	RoomID           string  `json:"room_id"`
	RoomTitle        string  `json:"room_title"`
	DailyRate        float64 `json:"daily_rate"`
	DaysPending      float64 `json:"days_pending"`
	Exposure         float64 `json:"exposure"`
	PendingDocuments int     `json:"pending_documents"`
}

type MarginImpact struct {
	TotalCargoValue     float64 `json:"total_cargo_value"`
	TotalDemurrage      float64 `json:"total_demurrage"`
	TargetMargin        float64 `json:"target_margin"`
	MarginSafe          float64 `json:"margin_safe"`
	MarginAtRisk        float64 `json:"margin_at_risk"`
	MarginImpactPercent float64 `json:"margin_impact_percent"`
	RoomsCount          int     `json:"rooms_count"`
}

type UrgentApproval struct {
	ApprovalID    string   `json:"approval_id"`
	RoomID        string   `json:"room_id"`
	RoomTitle     string   `json:"room_title"`
	PartyName     string   `json:"party_name"`
	PartyRole     string   `json:"party_role"`
	DaysPending   float64  `json:"days_pending"`
	Urgency       Priority `json:"urgency"`
	EstimatedCost float64  `json:"estimated_cost"`
}

type DemurrageBucket struct {
	Period string  `json:"period"`
	Hours  float64 `json:"hours"`
	Amount float64 `json:"amount"`
}

type HourlyDemurrage struct {
	RoomID            string            `json:"room_id"`
	DailyRate         float64           `json:"daily_rate"`
	HourlyRate        float64           `json:"hourly_rate"`
	HoursElapsed      float64           `json:"hours_elapsed"`
	BaseExposure      float64           `json:"base_exposure"`
	EscalationFactor  float64           `json:"escalation_factor"`
	EscalationPremium float64           `json:"escalation_premium"`
	TotalExposure     float64           `json:"total_exposure"`
	Breakdown         []DemurrageBucket `json:"breakdown"`
	NextEscalationAt  *time.Time        `json:"next_escalation_at"`
}

type DemurrageProjection struct {
	Label             string  `json:"label"`
	HoursAhead        float64 `json:"hours_ahead"`
	EscalationFactor  float64 `json:"escalation_factor"`
	ProjectedExposure float64 `json:"projected_exposure"`
}

type EscalationForecast struct {
	RoomID          string                `json:"room_id"`
	CurrentExposure float64               `json:"current_exposure"`
	Projections     []DemurrageProjection `json:"projections"`
	WorstCase       float64               `json:"worst_case"`
	Urgency         Priority              `json:"urgency"`
	Recommendation  string                `json:"recommendation"`
}

// DemurrageService builds the charterer projections.
type DemurrageService struct {
	base
	metrics *MetricsService
}

func NewDemurrageService(store Store, metrics *MetricsService, logger *zap.Logger, opts Options) *DemurrageService {
	opts = opts.withDefaults()
	return &DemurrageService{
		base:    newBase(store, logger, "demurrage", opts),
		metrics: metrics,
	}
}

// chartererRooms returns the active rooms in which email is a charterer party.
func (s *DemurrageService) chartererRooms(ctx context.Context, email string) ([]models.Room, error) {
	return s.store.ListRooms(ctx, repository.RoomFilter{
		Statuses:   []string{models.RoomStatusActive},
		PartyEmail: email,
		PartyRole:  models.PartyRoleCharterer,
	})
}

// GetDemurrageByRoom lists exposure per active charterer room, highest exposure first.
func (s *DemurrageService) GetDemurrageByRoom(ctx context.Context, chartererEmail string) ([]DemurrageByRoom, error) {
	const op = "get_demurrage_by_room"

	rooms, err := s.chartererRooms(ctx, chartererEmail)
	if err != nil {
		return []DemurrageByRoom{}, s.fail(op, chartererEmail, err)
	}

	var errs partial
	pending := map[string]int{}
	if len(rooms) > 0 {
		docs, err := s.store.ListDocuments(ctx, repository.DocumentFilter{
			RoomIDs:  roomIDs(rooms),
			Statuses: []string{models.DocumentStatusMissing, models.DocumentStatusUnderReview},
		})
		if err != nil {
			errs.add(s.fail(op+".documents", chartererEmail, err))
		}
		pending = lo.CountValuesBy(docs, func(d models.Document) string { return d.RoomID })
	}

	out := make([]DemurrageByRoom, 0, len(rooms))
	for i := range rooms {
		room := &rooms[i]
		out = append(out, DemurrageByRoom{
			RoomID:           room.ID,
			RoomTitle:        room.Title,
			DailyRate:        utils.Round2(room.DailyDemurrageRate()),
			DaysPending:      utils.Round1(s.hoursSince(room.CreatedAt) / 24),
			Exposure:         s.metrics.exposure(room),
			PendingDocuments: pending[room.ID],
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Exposure != out[j].Exposure {
			return out[i].Exposure > out[j].Exposure
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out, errs.err
}

// CalculateMarginImpact compares accrued demurrage with a target margin of 2.5% of cargo value.
func (s *DemurrageService) CalculateMarginImpact(ctx context.Context, chartererEmail string) (MarginImpact, error) {
	rooms, err := s.chartererRooms(ctx, chartererEmail)
	if err != nil {
		return MarginImpact{}, s.fail("calculate_margin_impact", chartererEmail, err)
	}
	return s.marginImpact(rooms), nil
}

func (s *DemurrageService) marginImpact(rooms []models.Room) MarginImpact {
	var cargo, demurrage float64
	for i := range rooms {
		cargo += rooms[i].CargoValueUSD
		demurrage += s.metrics.exposure(&rooms[i])
	}

	target := cargo * targetMarginRate
	safe := math.Max(0, target-demurrage)
	atRisk := math.Max(0, demurrage-safe)

	var impact float64
	if target > 0 {
		impact = demurrage / target * 100
	}

	return MarginImpact{
		TotalCargoValue:     utils.Round2(cargo),
		TotalDemurrage:      utils.Round2(demurrage),
		TargetMargin:        utils.Round2(target),
		MarginSafe:          utils.Round2(safe),
		MarginAtRisk:        utils.Round2(atRisk),
		MarginImpactPercent: utils.Round2(impact),
		RoomsCount:          len(rooms),
	}
}

// GetUrgentApprovals lists approvals pending at least thresholdDays in the charterer's
// active rooms, longest waiting first. A non-positive threshold selects the default.
func (s *DemurrageService) GetUrgentApprovals(ctx context.Context, chartererEmail string, thresholdDays float64) ([]UrgentApproval, error) {
	const op = "get_urgent_approvals"
	if thresholdDays <= 0 {
		thresholdDays = DefaultUrgentApprovalDays
	}

	rooms, err := s.chartererRooms(ctx, chartererEmail)
	if err != nil {
		return []UrgentApproval{}, s.fail(op, chartererEmail, err)
	}
	if len(rooms) == 0 {
		return []UrgentApproval{}, nil
	}

	ids := roomIDs(rooms)
	approvals, err := s.store.ListApprovals(ctx, repository.ApprovalFilter{
		RoomIDs:  ids,
		Statuses: []string{models.ApprovalStatusPending},
	})
	if err != nil {
		return []UrgentApproval{}, s.fail(op, chartererEmail, err)
	}

	var errs partial
	parties, err := s.store.ListParties(ctx, ids)
	if err != nil {
		errs.add(s.fail(op+".parties", chartererEmail, err))
	}
	partyByID := lo.KeyBy(parties, func(p models.Party) string { return p.ID })
	roomByID := lo.KeyBy(rooms, func(r models.Room) string { return r.ID })

	out := make([]UrgentApproval, 0)
	for _, a := range approvals {
		days := s.hoursSince(a.UpdatedAt) / 24
		if days < thresholdDays {
			continue
		}
		room := roomByID[a.RoomID]
		party := partyByID[a.PartyID]
		out = append(out, UrgentApproval{
			ApprovalID:    a.ID,
			RoomID:        a.RoomID,
			RoomTitle:     room.Title,
			PartyName:     party.Name,
			PartyRole:     party.Role,
			DaysPending:   utils.Round1(days),
			Urgency:       approvalUrgency(days),
			EstimatedCost: utils.Round2(room.DailyDemurrageRate() * days),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysPending != out[j].DaysPending {
			return out[i].DaysPending > out[j].DaysPending
		}
		return out[i].ApprovalID < out[j].ApprovalID
	})
	return out, errs.err
}

func approvalUrgency(daysPending float64) Priority {
	switch {
	case daysPending > 5:
		return PriorityCritical
	case daysPending > 3:
		return PriorityHigh
	}
	return PriorityMedium
}

// EscalationFactor is 1.0 for the first 48 hours, then grows by 0.05 per full
// 12-hour block, capped at 2.0.
func EscalationFactor(hoursElapsed float64) float64 {
	if hoursElapsed <= escalationGraceHours {
		return 1
	}
	periods := math.Floor((hoursElapsed - escalationGraceHours) / escalationBlockHours)
	return utils.Round2(math.Min(maxEscalationFactor, 1+escalationStepPercent*periods))
}

// nextEscalationHours returns the elapsed hours at which the factor next increases,
// or false once the cap is reached.
func nextEscalationHours(hoursElapsed float64) (float64, bool) {
	if EscalationFactor(hoursElapsed) >= maxEscalationFactor {
		return 0, false
	}
	if hoursElapsed < escalationGraceHours {
		return escalationGraceHours + escalationBlockHours, true
	}
	periods := math.Floor((hoursElapsed-escalationGraceHours)/escalationBlockHours) + 1
	return escalationGraceHours + periods*escalationBlockHours, true
}

// CalculateDemurrageHourly breaks a room's demurrage into hourly buckets with the
// escalation premium applied. A nil dailyRate uses the room's configured rate.
func (s *DemurrageService) CalculateDemurrageHourly(ctx context.Context, roomID string, dailyRate *float64) (HourlyDemurrage, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return HourlyDemurrage{RoomID: roomID, EscalationFactor: 1, Breakdown: []DemurrageBucket{}},
			s.fail("calculate_demurrage_hourly", roomID, err)
	}
	if room == nil {
		return HourlyDemurrage{RoomID: roomID, EscalationFactor: 1, Breakdown: []DemurrageBucket{}}, nil
	}

	rate := room.DailyDemurrageRate()
	if dailyRate != nil {
		rate = math.Max(0, *dailyRate)
	}
	return hourlyDemurrage(room, rate, s.hoursSince(room.CreatedAt)), nil
}

func hourlyDemurrage(room *models.Room, dailyRate, hours float64) HourlyDemurrage {
	hourly := dailyRate / 24
	factor := EscalationFactor(hours)
	base := hourly * hours
	total := base * factor

	bucket := func(label string, from, to float64) DemurrageBucket {
		h := math.Max(0, math.Min(hours, to)-from)
		return DemurrageBucket{Period: label, Hours: utils.Round2(h), Amount: utils.Round2(h * hourly)}
	}

	out := HourlyDemurrage{
		RoomID:            room.ID,
		DailyRate:         utils.Round2(dailyRate),
		HourlyRate:        utils.Round2(hourly),
		HoursElapsed:      utils.Round2(hours),
		BaseExposure:      utils.Round2(base),
		EscalationFactor:  factor,
		EscalationPremium: utils.Round2(total - base),
		TotalExposure:     utils.Round2(total),
		Breakdown: []DemurrageBucket{
			bucket("0-12h", 0, 12),
			bucket("12-24h", 12, 24),
			bucket("24-48h", 24, 48),
			bucket("48h+", 48, math.Inf(1)),
		},
	}
	if next, ok := nextEscalationHours(hours); ok {
		at := room.CreatedAt.Add(time.Duration(next * float64(time.Hour))).UTC()
		out.NextEscalationAt = &at
	}
	return out
}

// PredictDemurrageEscalation projects exposure 24h, 72h and projectionDays ahead.
func (s *DemurrageService) PredictDemurrageEscalation(ctx context.Context, roomID string, projectionDays int) (EscalationForecast, error) {
	if projectionDays <= 0 {
		projectionDays = DefaultProjectionDays
	}
	empty := EscalationForecast{
		RoomID:         roomID,
		Projections:    []DemurrageProjection{},
		Urgency:        PriorityLow,
		Recommendation: forecastRecommendation(PriorityLow),
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return empty, s.fail("predict_demurrage_escalation", roomID, err)
	}
	if room == nil {
		return empty, nil
	}

	rate := room.DailyDemurrageRate()
	hours := s.hoursSince(room.CreatedAt)
	current := hourlyDemurrage(room, rate, hours)

	out := EscalationForecast{
		RoomID:          room.ID,
		CurrentExposure: current.TotalExposure,
		Projections:     make([]DemurrageProjection, 0, 3),
	}
	for _, ahead := range []float64{24, 72, float64(24 * projectionDays)} {
		at := hours + ahead
		factor := EscalationFactor(at)
		projected := utils.Round2(rate / 24 * at * factor)
		out.Projections = append(out.Projections, DemurrageProjection{
			Label:             fmt.Sprintf("+%.0fh", ahead),
			HoursAhead:        ahead,
			EscalationFactor:  factor,
			ProjectedExposure: projected,
		})
		out.WorstCase = math.Max(out.WorstCase, projected)
	}

	out.Urgency = forecastUrgency(out.WorstCase)
	out.Recommendation = forecastRecommendation(out.Urgency)
	return out, nil
}

func forecastUrgency(worstCase float64) Priority {
	switch {
	case worstCase > 100000:
		return PriorityCritical
	case worstCase > 50000:
		return PriorityHigh
	case worstCase > 20000:
		return PriorityMedium
	}
	return PriorityLow
}

func forecastRecommendation(p Priority) string {
	switch p {
	case PriorityCritical:
		return "Escalate immediately: clear outstanding approvals and documents to stop escalating demurrage"
	case PriorityHigh:
		return "Prioritise pending approvals within 24 hours to limit escalation"
	case PriorityMedium:
		return "Monitor closely and chase outstanding parties"
	}
	return "Exposure within normal range"
}

// CountDelayedRooms counts the charterer's active rooms whose estimated ETA has passed.
func (s *DemurrageService) CountDelayedRooms(ctx context.Context, chartererEmail string) (int, error) {
	rooms, err := s.chartererRooms(ctx, chartererEmail)
	if err != nil {
		return 0, s.fail("count_delayed_rooms", chartererEmail, err)
	}
	return countDelayed(rooms, s.now()), nil
}

func countDelayed(rooms []models.Room, now time.Time) int {
	return lo.CountBy(rooms, func(r models.Room) bool {
		return r.ETAEstimated != nil && r.ETAEstimated.Before(now)
	})
}

// CalculateAlertPriority is the charterer alert threshold table.
func (s *DemurrageService) CalculateAlertPriority(totalExposure float64, delayedCount, urgentApprovalsCount int) Priority {
	return DemurrageAlertPriority(totalExposure, delayedCount, urgentApprovalsCount)
}

func DemurrageAlertPriority(totalExposure float64, delayedCount, urgentApprovalsCount int) Priority {
	switch {
	case totalExposure > 20000 || urgentApprovalsCount > 5:
		return PriorityCritical
	case totalExposure > 10000 || delayedCount > 3:
		return PriorityHigh
	case totalExposure > 5000 || delayedCount > 0:
		return PriorityMedium
	}
	return PriorityLow
}
