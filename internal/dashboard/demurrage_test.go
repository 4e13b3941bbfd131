package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rongwang/sts-clearance/internal/models"
)

func newDemurrageService(store Store) *DemurrageService {
	opts := testOptions()
	return NewDemurrageService(store, NewMetricsService(store, nil, opts), nil, opts)
}

func TestEscalationFactor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hours float64
		want  float64
	}{
		{hours: 0, want: 1},
		{hours: 48, want: 1},
		{hours: 59.9, want: 1},
		{hours: 60, want: 1.05},
		{hours: 72, want: 1.10},
		{hours: 120, want: 1.30},
		{hours: 288, want: 2.0},
		{hours: 1000, want: 2.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, EscalationFactor(tt.hours), 1e-9, "hours=%v", tt.hours)
	}

	prev := 0.0
	for h := 0.0; h <= 400; h += 0.5 {
		f := EscalationFactor(h)
		assert.GreaterOrEqual(t, f, prev, "factor decreased at %v hours", h)
		assert.LessOrEqual(t, f, 2.0)
		prev = f
	}
}

func TestCalculateDemurrageHourly(t *testing.T) {
	t.Parallel()

	store := newFakeStore().
		addRoom("r1", models.RoomStatusActive, 72*time.Hour, withDailyRate(24000)).
		addRoom("capped", models.RoomStatusActive, 400*time.Hour, withDailyRate(2400))

	svc := newDemurrageService(store)
	ctx := context.Background()

	got, err := svc.CalculateDemurrageHourly(ctx, "r1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, got.HourlyRate)
	assert.Equal(t, 72.0, got.HoursElapsed)
	assert.Equal(t, 72000.0, got.BaseExposure)
	assert.InDelta(t, 1.10, got.EscalationFactor, 1e-9)
	assert.Equal(t, 79200.0, got.TotalExposure)
	assert.Equal(t, 7200.0, got.EscalationPremium)
	assert.Equal(t, []DemurrageBucket{
		{Period: "0-12h", Hours: 12, Amount: 12000},
		{Period: "12-24h", Hours: 12, Amount: 12000},
		{Period: "24-48h", Hours: 24, Amount: 24000},
		{Period: "48h+", Hours: 24, Amount: 24000},
	}, got.Breakdown)
	require.NotNil(t, got.NextEscalationAt)
	assert.Equal(t, testNow.Add(12*time.Hour), *got.NextEscalationAt)

	override, err := svc.CalculateDemurrageHourly(ctx, "r1", ptr(48000.0))
	require.NoError(t, err)
	assert.Equal(t, 2000.0, override.HourlyRate)
	assert.Equal(t, 158400.0, override.TotalExposure)

	capped, err := svc.CalculateDemurrageHourly(ctx, "capped", nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, capped.EscalationFactor)
	assert.Nil(t, capped.NextEscalationAt)
	assert.GreaterOrEqual(t, capped.TotalExposure, capped.BaseExposure)

	missing, err := svc.CalculateDemurrageHourly(ctx, "missing", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, missing.EscalationFactor)
	assert.Zero(t, missing.TotalExposure)
}

func TestTotalExposureNeverBelowBase(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	for i := 0; i < 20; i++ {
		age := time.Duration(gofakeit.Number(0, 600)) * time.Hour
		store.addRoom(gofakeit.UUID(), models.RoomStatusActive, age, withDailyRate(gofakeit.Float64Range(0, 50000)))
	}

	svc := newDemurrageService(store)
	for _, r := range store.rooms {
		got, err := svc.CalculateDemurrageHourly(context.Background(), r.ID, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.TotalExposure, got.BaseExposure)
		assert.GreaterOrEqual(t, got.EscalationFactor, 1.0)
		assert.LessOrEqual(t, got.EscalationFactor, 2.0)
	}
}

func chartererFixture(email string) *fakeStore {
	return newFakeStore().
		addRoom("r1", models.RoomStatusActive, 72*time.Hour, withDailyRate(24000), withCargoValue(1_000_000)).
		addRoom("r2", models.RoomStatusActive, 24*time.Hour, withDailyRate(10000), withCargoValue(2_000_000)).
		addRoom("r3", models.RoomStatusActive, 48*time.Hour, withDailyRate(5000), withCargoValue(1_000_000), func(r *models.Room) {
			r.ETAEstimated = ptr(testNow.Add(-6 * time.Hour))
		}).
		addRoom("r4", models.RoomStatusCompleted, 96*time.Hour, withDailyRate(90000)).
		addRoom("r5", models.RoomStatusActive, 96*time.Hour, withDailyRate(90000)).
		addParty("c1", "r1", models.PartyRoleCharterer, email).
		addParty("c2", "r2", models.PartyRoleCharterer, email).
		addParty("c3", "r3", models.PartyRoleCharterer, email).
		addParty("c4", "r4", models.PartyRoleCharterer, email).
		addParty("o5", "r5", models.PartyRoleOwner, email).
		addParty("o1", "r1", models.PartyRoleOwner, "owner@example.com").
		addParty("b1", "r1", models.PartyRoleBroker, "broker@example.com").
		addParty("s1", "r1", models.PartyRoleSeller, "seller@example.com").
		addParty("x1", "r1", models.PartyRoleBuyer, "buyer@example.com").
		addDocument("d1", "r1", models.DocumentStatusMissing).
		addDocument("d2", "r1", models.DocumentStatusUnderReview).
		addDocument("d3", "r1", models.DocumentStatusApproved).
		addApproval("a1", "r1", "o1", models.ApprovalStatusPending, 6*24*time.Hour).
		addApproval("a2", "r1", "b1", models.ApprovalStatusPending, 4*24*time.Hour).
		addApproval("a3", "r1", "s1", models.ApprovalStatusPending, 60*time.Hour).
		addApproval("a4", "r1", "x1", models.ApprovalStatusPending, 24*time.Hour).
		addApproval("a5", "r1", "c1", models.ApprovalStatusApproved, 10*24*time.Hour)
}

func TestGetDemurrageByRoom(t *testing.T) {
	t.Parallel()

	email := gofakeit.Email()
	svc := newDemurrageService(chartererFixture(email))

	got, err := svc.GetDemurrageByRoom(context.Background(), email)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"r1", "r2", "r3"}, []string{got[0].RoomID, got[1].RoomID, got[2].RoomID})
	assert.Equal(t, 72000.0, got[0].Exposure)
	assert.Equal(t, 2, got[0].PendingDocuments)
	assert.Equal(t, 3.0, got[0].DaysPending)
	assert.Equal(t, got[1].Exposure, got[2].Exposure)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Exposure, got[i].Exposure)
	}

	none, err := svc.GetDemurrageByRoom(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCalculateMarginImpact(t *testing.T) {
	t.Parallel()

	email := gofakeit.Email()
	svc := newDemurrageService(chartererFixture(email))

	got, err := svc.CalculateMarginImpact(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, MarginImpact{
		TotalCargoValue:     4_000_000,
		TotalDemurrage:      92000,
		TargetMargin:        100000,
		MarginSafe:          8000,
		MarginAtRisk:        84000,
		MarginImpactPercent: 92,
		RoomsCount:          3,
	}, got)

	store := chartererFixture(email)
	store.failing["ListRooms"] = errStoreDown
	empty, err := newDemurrageService(store).CalculateMarginImpact(context.Background(), email)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, MarginImpact{}, empty)
}

func TestGetUrgentApprovals(t *testing.T) {
	t.Parallel()

	email := gofakeit.Email()
	svc := newDemurrageService(chartererFixture(email))

	got, err := svc.GetUrgentApprovals(context.Background(), email, DefaultUrgentApprovalDays)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "a1", got[0].ApprovalID)
	assert.Equal(t, PriorityCritical, got[0].Urgency)
	assert.Equal(t, 6.0, got[0].DaysPending)
	assert.Equal(t, 144000.0, got[0].EstimatedCost)
	assert.Equal(t, "Party o1", got[0].PartyName)
	assert.Equal(t, models.PartyRoleOwner, got[0].PartyRole)

	assert.Equal(t, "a2", got[1].ApprovalID)
	assert.Equal(t, PriorityHigh, got[1].Urgency)
	assert.Equal(t, "a3", got[2].ApprovalID)
	assert.Equal(t, PriorityMedium, got[2].Urgency)
}

func TestPredictDemurrageEscalation(t *testing.T) {
	t.Parallel()

	email := gofakeit.Email()
	svc := newDemurrageService(chartererFixture(email))

	got, err := svc.PredictDemurrageEscalation(context.Background(), "r1", 0)
	require.NoError(t, err)
	assert.Equal(t, 79200.0, got.CurrentExposure)
	require.Len(t, got.Projections, 3)
	assert.Equal(t, "+24h", got.Projections[0].Label)
	assert.Equal(t, 115200.0, got.Projections[0].ProjectedExposure)
	assert.Equal(t, 201600.0, got.Projections[1].ProjectedExposure)
	assert.Equal(t, "+168h", got.Projections[2].Label)
	assert.Equal(t, 432000.0, got.Projections[2].ProjectedExposure)
	assert.Equal(t, 432000.0, got.WorstCase)
	assert.Equal(t, PriorityCritical, got.Urgency)
	assert.NotEmpty(t, got.Recommendation)

	missing, err := svc.PredictDemurrageEscalation(context.Background(), "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, PriorityLow, missing.Urgency)
	assert.Empty(t, missing.Projections)
}

func TestForecastUrgency(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PriorityCritical, forecastUrgency(100001))
	assert.Equal(t, PriorityHigh, forecastUrgency(100000))
	assert.Equal(t, PriorityHigh, forecastUrgency(50001))
	assert.Equal(t, PriorityMedium, forecastUrgency(20001))
	assert.Equal(t, PriorityLow, forecastUrgency(20000))
}

func TestCountDelayedRooms(t *testing.T) {
	t.Parallel()

	email := gofakeit.Email()
	svc := newDemurrageService(chartererFixture(email))

	n, err := svc.CountDelayedRooms(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDemurrageAlertPriority(t *testing.T) {
	t.Parallel()

	svc := newDemurrageService(newFakeStore())

	tests := []struct {
		name     string
		exposure float64
		delayed  int
		urgent   int
		want     Priority
	}{
		{name: "exposure above 20000", exposure: 25000, want: PriorityCritical},
		{name: "more than five urgent approvals", urgent: 6, want: PriorityCritical},
		{name: "exposure above 10000 with delays", exposure: 15000, delayed: 4, want: PriorityHigh},
		{name: "more than three delayed rooms", delayed: 4, want: PriorityHigh},
		{name: "exposure above 5000", exposure: 6000, want: PriorityMedium},
		{name: "one delayed room", delayed: 1, want: PriorityMedium},
		{name: "nothing outstanding", want: PriorityLow},
		{name: "boundary values are exclusive", exposure: 5000, urgent: 5, want: PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.CalculateAlertPriority(tt.exposure, tt.delayed, tt.urgent)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, svc.CalculateAlertPriority(tt.exposure, tt.delayed, tt.urgent))
		})
	}
}
