package dashboard

import (
	"context"
	"sort"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/repository"
	"github.com/rongwang/sts-clearance/internal/utils"
)

const (
	DefaultStuckThresholdHours   = 48.0
	DefaultPerformanceWindowDays = 180
	DefaultEstimateWindowDays    = 90

	AccrualStatusAccrued = "accrued"
	AccrualStatusPending = "pending"

	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

type CommissionByRoom struct {
	RoomID        string  `json:"room_id"`
	RoomTitle     string  `json:"room_title"`
	DealValue     float64 `json:"deal_value"`
	Commission    float64 `json:"commission"`
	AccrualStatus string  `json:"accrual_status"`
}

type DealHealth struct {
	RoomID                string   `json:"room_id"`
	RoomTitle             string   `json:"room_title"`
	HealthScore           float64  `json:"health_score"`
	DocumentCompletion    float64  `json:"document_completion"`
	ApprovalCompletion    float64  `json:"approval_completion"`
	TimelineDaysRemaining *float64 `json:"timeline_days_remaining"`
	HealthStatus          string   `json:"health_status"`
}

type StuckDeal struct {
	RoomID           string  `json:"room_id"`
	RoomTitle        string  `json:"room_title"`
	StuckApprovals   int     `json:"stuck_approvals"`
	HoursStuck       float64 `json:"hours_stuck"`
	CommissionAtRisk float64 `json:"commission_at_risk"`
}

type PartyPerformance struct {
	PartyName           string  `json:"party_name"`
	PartyRole           string  `json:"party_role"`
	DealsCount          int     `json:"deals_count"`
	AvgClosureTimeHours float64 `json:"avg_closure_time_hours"`
	OnTimeDeliveryRate  float64 `json:"on_time_delivery_rate"`
	QualityScore        float64 `json:"quality_score"`
	ReliabilityIndex    float64 `json:"reliability_index"`
}

type AccrualBucket struct {
	Count   int     `json:"count"`
	Value   float64 `json:"value"`
	Accrued float64 `json:"accrued"`
}

type AccrualTracking struct {
	Pending        AccrualBucket `json:"pending"`
	Partial        AccrualBucket `json:"partial"`
	Completed      AccrualBucket `json:"completed"`
	Paid           AccrualBucket `json:"paid"`
	TotalPotential float64       `json:"total_potential"`
	TotalAccrued   float64       `json:"total_accrued"`
	AccrualRate    float64       `json:"accrual_rate"`
}

type CounterpartyEstimate struct {
	Counterparty      string  `json:"counterparty"`
	CounterpartyEmail string  `json:"counterparty_email"`
	DealsCount        int     `json:"deals_count"`
	AvgCommission     float64 `json:"avg_commission"`
	TotalCommission   float64 `json:"total_commission"`
	Trend             string  `json:"trend"`
	NextDealEstimate  float64 `json:"next_deal_estimate"`
}

// CommissionService builds the broker projections.
type CommissionService struct {
	base
	metrics     *MetricsService
	health      DealHealthCalculator
	defaultRate float64
}

func NewCommissionService(store Store, metrics *MetricsService, health DealHealthCalculator, logger *zap.Logger, opts Options) *CommissionService {
	opts = opts.withDefaults()
	return &CommissionService{
		base:        newBase(store, logger, "commission", opts),
		metrics:     metrics,
		health:      health,
		defaultRate: opts.DefaultCommissionRate,
	}
}

func (s *CommissionService) brokerRooms(ctx context.Context, email string, exclude ...string) ([]models.Room, error) {
	return s.store.ListRooms(ctx, repository.RoomFilter{
		ExcludeStatuses: exclude,
		PartyEmail:      email,
		PartyRole:       models.PartyRoleBroker,
	})
}

// commissionFor prefers a negotiated amount, then a negotiated percentage, then the default rate.
func (s *CommissionService) commissionFor(room *models.Room) float64 {
	if room.BrokerCommissionAmount != nil && *room.BrokerCommissionAmount > 0 {
		return utils.Round2(*room.BrokerCommissionAmount)
	}
	rate := s.defaultRate
	if room.BrokerCommissionPercentage != nil && *room.BrokerCommissionPercentage > 0 {
		rate = *room.BrokerCommissionPercentage / 100
	}
	return utils.Round2(room.CargoValueUSD * rate)
}

// GetCommissionByRoom lists commission per non-completed broker room, largest first.
func (s *CommissionService) GetCommissionByRoom(ctx context.Context, brokerEmail string) ([]CommissionByRoom, error) {
	const op = "get_commission_by_room"

	rooms, err := s.brokerRooms(ctx, brokerEmail, models.RoomStatusCompleted)
	if err != nil {
		return []CommissionByRoom{}, s.fail(op, brokerEmail, err)
	}

	var errs partial
	progress, err := s.metrics.RoomProgress(ctx, roomIDs(rooms))
	errs.add(err)

	out := make([]CommissionByRoom, 0, len(rooms))
	for i := range rooms {
		room := &rooms[i]
		status := AccrualStatusPending
		if progress[room.ID].ApprovalCompletion() >= 100 {
			status = AccrualStatusAccrued
		}
		out = append(out, CommissionByRoom{
			RoomID:        room.ID,
			RoomTitle:     room.Title,
			DealValue:     utils.Round2(room.CargoValueUSD),
			Commission:    s.commissionFor(room),
			AccrualStatus: status,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Commission != out[j].Commission {
			return out[i].Commission > out[j].Commission
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out, errs.err
}

// GetDealHealthByRoom scores every open broker room, worst health first.
func (s *CommissionService) GetDealHealthByRoom(ctx context.Context, brokerEmail string) ([]DealHealth, error) {
	const op = "get_deal_health_by_room"

	rooms, err := s.brokerRooms(ctx, brokerEmail, models.RoomStatusCompleted, models.RoomStatusCancelled)
	if err != nil {
		return []DealHealth{}, s.fail(op, brokerEmail, err)
	}

	var errs partial
	progress, err := s.metrics.RoomProgress(ctx, roomIDs(rooms))
	errs.add(err)

	now := s.now()
	out := make([]DealHealth, 0, len(rooms))
	for _, room := range rooms {
		p := progress[room.ID]
		remaining := DaysUntil(room.ETAEstimated, now)
		score := s.health.Score(p.DocumentCompletion(), p.ApprovalCompletion(), remaining)
		out = append(out, DealHealth{
			RoomID:                room.ID,
			RoomTitle:             room.Title,
			HealthScore:           score,
			DocumentCompletion:    p.DocumentCompletion(),
			ApprovalCompletion:    p.ApprovalCompletion(),
			TimelineDaysRemaining: remaining,
			HealthStatus:          HealthStatus(score),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HealthScore != out[j].HealthScore {
			return out[i].HealthScore < out[j].HealthScore
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out, errs.err
}

// GetStuckDeals lists open rooms whose pending approvals have not moved for more
// than thresholdHours, longest stuck first.
func (s *CommissionService) GetStuckDeals(ctx context.Context, brokerEmail string, thresholdHours float64) ([]StuckDeal, error) {
	const op = "get_stuck_deals"
	if thresholdHours <= 0 {
		thresholdHours = DefaultStuckThresholdHours
	}

	rooms, err := s.brokerRooms(ctx, brokerEmail, models.RoomStatusCompleted, models.RoomStatusCancelled)
	if err != nil {
		return []StuckDeal{}, s.fail(op, brokerEmail, err)
	}

	var errs partial
	progress, err := s.metrics.RoomProgress(ctx, roomIDs(rooms))
	errs.add(err)

	out := make([]StuckDeal, 0)
	for i := range rooms {
		room := &rooms[i]
		p := progress[room.ID]
		if p.ApprovalsPending == 0 {
			continue
		}
		hours := s.hoursSince(p.OldestPendingUpdate)
		if hours <= thresholdHours {
			continue
		}
		out = append(out, StuckDeal{
			RoomID:           room.ID,
			RoomTitle:        room.Title,
			StuckApprovals:   p.ApprovalsPending,
			HoursStuck:       utils.Round1(hours),
			CommissionAtRisk: s.commissionFor(room),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HoursStuck != out[j].HoursStuck {
			return out[i].HoursStuck > out[j].HoursStuck
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out, errs.err
}

type counterpartyKey struct {
	email string
	role  string
}

func partyKey(p models.Party) counterpartyKey {
	return counterpartyKey{email: strings.ToLower(p.Email), role: p.Role}
}

// GetPartyPerformance averages the PartyMetric rows recorded in the last days for
// every counterparty of the broker, most reliable first.
func (s *CommissionService) GetPartyPerformance(ctx context.Context, brokerEmail string, days int) ([]PartyPerformance, error) {
	const op = "get_party_performance"
	if days <= 0 {
		days = DefaultPerformanceWindowDays
	}

	rooms, err := s.brokerRooms(ctx, brokerEmail)
	if err != nil {
		return []PartyPerformance{}, s.fail(op, brokerEmail, err)
	}
	if len(rooms) == 0 {
		return []PartyPerformance{}, nil
	}

	ids := roomIDs(rooms)
	since := s.now().AddDate(0, 0, -days)
	metrics, err := s.store.ListPartyMetrics(ctx, ids, since)
	if err != nil {
		return []PartyPerformance{}, s.fail(op, brokerEmail, err)
	}
	parties, err := s.store.ListParties(ctx, ids)
	if err != nil {
		return []PartyPerformance{}, s.fail(op, brokerEmail, err)
	}

	partyByID := lo.KeyBy(parties, func(p models.Party) string { return p.ID })
	roomByID := lo.KeyBy(rooms, func(r models.Room) string { return r.ID })
	self := strings.ToLower(brokerEmail)

	type acc struct {
		name                       string
		rooms                      map[string]struct{}
		response, quality, reliabl float64
		n                          int
	}
	groups := map[counterpartyKey]*acc{}

	for _, m := range metrics {
		party, ok := partyByID[m.PartyID]
		if !ok || strings.ToLower(party.Email) == self {
			continue
		}
		key := partyKey(party)
		g, ok := groups[key]
		if !ok {
			g = &acc{name: party.Name, rooms: map[string]struct{}{}}
			groups[key] = g
		}
		g.rooms[m.RoomID] = struct{}{}
		g.response += m.ResponseTimeHours
		g.quality += m.QualityScore
		g.reliabl += m.ReliabilityIndex
		g.n++
	}

	out := make([]PartyPerformance, 0, len(groups))
	for key, g := range groups {
		onTime := lo.CountBy(lo.Keys(g.rooms), func(id string) bool {
			room, ok := roomByID[id]
			return ok && completedOnTime(room)
		})
		n := float64(g.n)
		out = append(out, PartyPerformance{
			PartyName:           g.name,
			PartyRole:           key.role,
			DealsCount:          len(g.rooms),
			AvgClosureTimeHours: utils.Round1(g.response / n),
			OnTimeDeliveryRate:  utils.Round2(utils.Percent(onTime, len(g.rooms), 0)),
			QualityScore:        utils.Round2(g.quality / n),
			ReliabilityIndex:    utils.Round2(g.reliabl / n),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ReliabilityIndex != out[j].ReliabilityIndex {
			return out[i].ReliabilityIndex > out[j].ReliabilityIndex
		}
		if out[i].PartyName != out[j].PartyName {
			return out[i].PartyName < out[j].PartyName
		}
		return out[i].PartyRole < out[j].PartyRole
	})
	return out, nil
}

// completedOnTime reports whether a room completed no later than its ETA.
// Rooms without an ETA count as on time once completed.
func completedOnTime(room models.Room) bool {
	if room.Status != models.RoomStatusCompleted {
		return false
	}
	deadline := room.ETAScheduled
	if deadline == nil {
		deadline = room.ETAEstimated
	}
	return deadline == nil || !room.UpdatedAt.After(*deadline)
}

// CalculateCommissionAccrualTracking buckets every non-cancelled broker room by settlement progress.
func (s *CommissionService) CalculateCommissionAccrualTracking(ctx context.Context, brokerEmail string) (AccrualTracking, error) {
	const op = "calculate_commission_accrual_tracking"

	rooms, err := s.brokerRooms(ctx, brokerEmail, models.RoomStatusCancelled)
	if err != nil {
		return AccrualTracking{}, s.fail(op, brokerEmail, err)
	}

	var errs partial
	progress, err := s.metrics.RoomProgress(ctx, roomIDs(rooms))
	errs.add(err)

	var out AccrualTracking
	for i := range rooms {
		room := &rooms[i]
		value := s.commissionFor(room)
		combined := progress[room.ID].CombinedCompletion()

		var bucket *AccrualBucket
		var fraction float64
		switch {
		case room.CommissionPaid:
			bucket, fraction = &out.Paid, 1
		case room.Status == models.RoomStatusCompleted || combined >= 100:
			bucket, fraction = &out.Completed, 1
		case combined >= 50:
			bucket, fraction = &out.Partial, 0.5
		default:
			bucket, fraction = &out.Pending, 0
		}
		bucket.Count++
		bucket.Value += value
		bucket.Accrued += value * fraction
		out.TotalPotential += value
		out.TotalAccrued += value * fraction
	}

	for _, b := range []*AccrualBucket{&out.Pending, &out.Partial, &out.Completed, &out.Paid} {
		b.Value = utils.Round2(b.Value)
		b.Accrued = utils.Round2(b.Accrued)
	}
	if out.TotalPotential > 0 {
		out.AccrualRate = utils.Round2(out.TotalAccrued / out.TotalPotential * 100)
	}
	out.TotalPotential = utils.Round2(out.TotalPotential)
	out.TotalAccrued = utils.Round2(out.TotalAccrued)
	return out, errs.err
}

// EstimateCommissionByCounterparty groups the commission of rooms created in the last
// daysBack by counterparty, largest total first.
func (s *CommissionService) EstimateCommissionByCounterparty(ctx context.Context, brokerEmail string, daysBack int) ([]CounterpartyEstimate, error) {
	const op = "estimate_commission_by_counterparty"
	if daysBack <= 0 {
		daysBack = DefaultEstimateWindowDays
	}

	since := s.now().AddDate(0, 0, -daysBack)
	rooms, err := s.store.ListRooms(ctx, repository.RoomFilter{
		ExcludeStatuses: []string{models.RoomStatusCancelled},
		PartyEmail:      brokerEmail,
		PartyRole:       models.PartyRoleBroker,
		CreatedSince:    &since,
	})
	if err != nil {
		return []CounterpartyEstimate{}, s.fail(op, brokerEmail, err)
	}
	if len(rooms) == 0 {
		return []CounterpartyEstimate{}, nil
	}

	parties, err := s.store.ListParties(ctx, roomIDs(rooms))
	if err != nil {
		return []CounterpartyEstimate{}, s.fail(op, brokerEmail, err)
	}
	byRoom := lo.GroupBy(parties, func(p models.Party) string { return p.RoomID })
	self := strings.ToLower(brokerEmail)

	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })

	type series struct {
		name, email string
		values      []float64
	}
	groups := map[string]*series{}

	for i := range rooms {
		room := &rooms[i]
		commission := s.commissionFor(room)
		seen := map[string]bool{}
		for _, p := range byRoom[room.ID] {
			email := strings.ToLower(p.Email)
			if email == self || seen[email] {
				continue
			}
			seen[email] = true
			g, ok := groups[email]
			if !ok {
				g = &series{name: p.Name, email: email}
				groups[email] = g
			}
			g.values = append(g.values, commission)
		}
	}

	out := make([]CounterpartyEstimate, 0, len(groups))
	for _, g := range groups {
		total := lo.Sum(g.values)
		out = append(out, CounterpartyEstimate{
			Counterparty:      g.name,
			CounterpartyEmail: g.email,
			DealsCount:        len(g.values),
			AvgCommission:     utils.Round2(total / float64(len(g.values))),
			TotalCommission:   utils.Round2(total),
			Trend:             commissionTrend(g.values),
			NextDealEstimate:  utils.Round2(lo.Mean(lastN(g.values, 3))),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalCommission != out[j].TotalCommission {
			return out[i].TotalCommission > out[j].TotalCommission
		}
		return out[i].CounterpartyEmail < out[j].CounterpartyEmail
	})
	return out, nil
}

// commissionTrend compares the mean of the later half of a chronological series with the earlier half.
func commissionTrend(values []float64) string {
	if len(values) < 2 {
		return TrendStable
	}
	half := len(values) / 2
	first := lo.Mean(values[:half])
	second := lo.Mean(values[half:])
	switch {
	case second > first*1.1:
		return TrendUp
	case second < first*0.9:
		return TrendDown
	}
	return TrendStable
}

func lastN(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// CalculateAlertPriority is the broker alert threshold table.
func (s *CommissionService) CalculateAlertPriority(stuckDealsCount int, commissionAccrued float64) Priority {
	return CommissionAlertPriority(stuckDealsCount, commissionAccrued)
}

// CommissionAlertPriority depends on the stuck deal count only; accrued commission
// is informational.
func CommissionAlertPriority(stuckDealsCount int, _ float64) Priority {
	switch {
	case stuckDealsCount > 5:
		return PriorityCritical
	case stuckDealsCount > 2:
		return PriorityHigh
	case stuckDealsCount > 0:
		return PriorityMedium
	}
	return PriorityLow
}
