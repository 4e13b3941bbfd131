package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/notification"
)

const testSecret = "test-secret"

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo          *fakeRepo
	notifications *notification.MemoryStore
	svc           Service
}

func newFixture() *fixture {
	repo := newFakeRepo()
	notifications := notification.NewMemoryStore()
	svc := NewDefaultService(repo, notifications, nil, Options{
		JWTSecret: testSecret,
		TokenTTL:  time.Hour,
		Tenant:    "acme",
		Now:       func() time.Time { return testNow },
	})
	return &fixture{repo: repo, notifications: notifications, svc: svc}
}

func (f *fixture) signUp(t *testing.T, role string) *models.AuthResponse {
	t.Helper()
	resp, err := f.svc.SignUp(context.Background(), models.SignUpRequest{
		Email:    gofakeit.Email(),
		Password: "correct-horse",
		Name:     gofakeit.Name(),
		Role:     role,
		Company:  gofakeit.Company(),
	})
	require.NoError(t, err)
	return resp
}

func (f *fixture) createRoom(t *testing.T, userID, creatorRole string) *models.Room {
	t.Helper()
	resp, err := f.svc.CreateRoom(context.Background(), userID, models.CreateRoomRequest{
		Title:         "STS " + gofakeit.City(),
		Location:      gofakeit.Country(),
		CargoValueUSD: 1_000_000,
		CreatorRole:   creatorRole,
	})
	require.NoError(t, err)
	return resp.Room
}

func TestSignUpAndLogin(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	signed, err := f.svc.SignUp(ctx, models.SignUpRequest{
		Email:    "Broker@Example.com",
		Password: "correct-horse",
		Name:     "Bea Broker",
		Role:     "broker",
	})
	require.NoError(t, err)
	assert.Equal(t, "broker@example.com", signed.Email)
	assert.Equal(t, "acme", f.repo.users[signed.UserID].TenantID)
	assert.True(t, f.repo.users[signed.UserID].IsActive)
	assert.NotEqual(t, "correct-horse", f.repo.users[signed.UserID].Password)

	_, err = f.svc.SignUp(ctx, models.SignUpRequest{Email: "broker@example.com", Password: "whatever1", Name: "x", Role: "broker"})
	assert.ErrorIs(t, err, models.ErrConflict)

	login, err := f.svc.Login(ctx, models.LoginRequest{Email: "broker@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, 3600, login.ExpiresIn)
	assert.Equal(t, "broker", login.Role)
	assert.NotNil(t, f.repo.users[signed.UserID].LastLoginAt)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(login.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	}, jwt.WithTimeFunc(func() time.Time { return testNow }))
	require.NoError(t, err)
	assert.Equal(t, signed.UserID, claims["sub"])
	assert.Equal(t, "broker", claims["role"])
	assert.Equal(t, "broker@example.com", claims["email"])

	_, err = f.svc.Login(ctx, models.LoginRequest{Email: "broker@example.com", Password: "wrong-horse"})
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = f.svc.Login(ctx, models.LoginRequest{Email: "nobody@example.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	f.repo.users[signed.UserID].IsActive = false
	_, err = f.svc.Login(ctx, models.LoginRequest{Email: "broker@example.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestRoomAccess(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	owner := f.signUp(t, "owner")
	outsider := f.signUp(t, "charterer")
	admin := f.signUp(t, "admin")

	room := f.createRoom(t, owner.UserID, models.PartyRoleOwner)
	assert.Equal(t, models.RoomStatusActive, room.Status)
	assert.Equal(t, owner.UserID, room.CreatedBy)

	detail, err := f.svc.GetRoom(ctx, owner.UserID, room.ID)
	require.NoError(t, err)
	require.Len(t, detail.Parties, 1)
	assert.Equal(t, owner.Email, detail.Parties[0].Email)
	require.Len(t, detail.Approvals, 1)
	assert.Equal(t, models.ApprovalStatusPending, detail.Approvals[0].Status)
	assert.NotNil(t, detail.Documents)

	_, err = f.svc.GetRoom(ctx, outsider.UserID, room.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.svc.GetRoom(ctx, admin.UserID, room.ID)
	assert.NoError(t, err)

	_, err = f.svc.GetRoom(ctx, owner.UserID, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.GetRoom(ctx, "ghost", room.ID)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	mine, err := f.svc.ListRooms(ctx, outsider.UserID)
	require.NoError(t, err)
	assert.Empty(t, mine.Rooms)

	_, err = f.svc.AddParty(ctx, owner.UserID, room.ID, models.AddPartyRequest{
		Email: outsider.Email, Name: outsider.Name, Role: models.PartyRoleCharterer,
	})
	require.NoError(t, err)

	mine, err = f.svc.ListRooms(ctx, outsider.UserID)
	require.NoError(t, err)
	assert.Len(t, mine.Rooms, 1)

	_, err = f.svc.AddParty(ctx, owner.UserID, room.ID, models.AddPartyRequest{
		Email: outsider.Email, Name: outsider.Name, Role: models.PartyRoleCharterer,
	})
	assert.ErrorIs(t, err, models.ErrConflict)

	assert.ErrorIs(t, f.svc.DeleteRoom(ctx, outsider.UserID, room.ID), models.ErrForbidden)
	require.NoError(t, f.svc.DeleteRoom(ctx, owner.UserID, room.ID))

	assert.Equal(t, []string{"room.create", "party.add", "room.delete"}, f.repo.actions())
}

func TestUpdateApprovalRejectionNotifiesParties(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	owner := f.signUp(t, "owner")
	broker := f.signUp(t, "broker")
	room := f.createRoom(t, owner.UserID, models.PartyRoleOwner)

	_, err := f.svc.AddParty(ctx, owner.UserID, room.ID, models.AddPartyRequest{
		Email: broker.Email, Name: broker.Name, Role: models.PartyRoleBroker,
	})
	require.NoError(t, err)
	// a second role for the same person must not duplicate the notification
	_, err = f.svc.AddParty(ctx, owner.UserID, room.ID, models.AddPartyRequest{
		Email: broker.Email, Name: broker.Name, Role: models.PartyRoleSeller,
	})
	require.NoError(t, err)

	detail, err := f.svc.GetRoom(ctx, owner.UserID, room.ID)
	require.NoError(t, err)
	require.Len(t, detail.Approvals, 3)

	approved, err := f.svc.UpdateApproval(ctx, broker.UserID, approvalFor(t, detail, broker.Email, models.PartyRoleBroker).ID,
		models.UpdateApprovalRequest{Status: models.ApprovalStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, testNow, approved.UpdatedAt)

	unread, err := f.notifications.CountUnread(ctx, owner.Email)
	require.NoError(t, err)
	assert.Zero(t, unread)

	_, err = f.svc.UpdateApproval(ctx, broker.UserID, approvalFor(t, detail, broker.Email, models.PartyRoleSeller).ID,
		models.UpdateApprovalRequest{Status: models.ApprovalStatusRejected})
	require.NoError(t, err)

	for _, email := range []string{owner.Email, broker.Email} {
		unread, err := f.notifications.CountUnread(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, 1, unread, email)
	}

	list, err := f.svc.ListNotifications(ctx, owner.UserID, true)
	require.NoError(t, err)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, NotificationApprovalRejected, list.Notifications[0].Kind)
	assert.Equal(t, room.ID, *list.Notifications[0].RoomID)

	require.NoError(t, f.svc.MarkNotificationRead(ctx, owner.UserID, list.Notifications[0].ID))
	list, err = f.svc.ListNotifications(ctx, owner.UserID, false)
	require.NoError(t, err)
	assert.Zero(t, list.Unread)

	assert.ErrorIs(t, f.svc.MarkNotificationRead(ctx, owner.UserID, "nope"), models.ErrNotFound)

	_, err = f.svc.UpdateApproval(ctx, broker.UserID, "missing", models.UpdateApprovalRequest{Status: models.ApprovalStatusApproved})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func approvalFor(t *testing.T, detail *models.RoomDetailResponse, email, role string) models.Approval {
	t.Helper()
	party, ok := lo.Find(detail.Parties, func(p models.Party) bool { return strings.EqualFold(p.Email, email) && p.Role == role })
	require.True(t, ok, "no %s party for %s", role, email)
	approval, ok := lo.Find(detail.Approvals, func(a models.Approval) bool { return a.PartyID == party.ID })
	require.True(t, ok, "no approval for party %s", party.ID)
	return approval
}

func TestUpdateApprovalOnlyByItsParty(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	owner := f.signUp(t, "owner")
	broker := f.signUp(t, "broker")
	viewer := f.signUp(t, "viewer")
	admin := f.signUp(t, "admin")
	room := f.createRoom(t, owner.UserID, models.PartyRoleOwner)

	for _, p := range []struct {
		who  *models.AuthResponse
		role string
	}{{broker, models.PartyRoleBroker}, {viewer, models.PartyRoleViewer}} {
		_, err := f.svc.AddParty(ctx, owner.UserID, room.ID, models.AddPartyRequest{
			Email: p.who.Email, Name: p.who.Name, Role: p.role,
		})
		require.NoError(t, err)
	}

	detail, err := f.svc.GetRoom(ctx, owner.UserID, room.ID)
	require.NoError(t, err)
	ownerApproval := approvalFor(t, detail, owner.Email, models.PartyRoleOwner)
	viewerApproval := approvalFor(t, detail, viewer.Email, models.PartyRoleViewer)
	approve := models.UpdateApprovalRequest{Status: models.ApprovalStatusApproved}

	_, err = f.svc.UpdateApproval(ctx, broker.UserID, ownerApproval.ID, approve)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = f.svc.UpdateApproval(ctx, viewer.UserID, ownerApproval.ID, approve)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = f.svc.UpdateApproval(ctx, viewer.UserID, viewerApproval.ID, approve)
	assert.ErrorIs(t, err, models.ErrForbidden)

	untouched, err := f.repo.GetApproval(ctx, ownerApproval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, untouched.Status)
	assert.True(t, untouched.UpdatedAt.IsZero())

	_, err = f.svc.UpdateApproval(ctx, owner.UserID, ownerApproval.ID, approve)
	require.NoError(t, err)
	_, err = f.svc.UpdateApproval(ctx, admin.UserID, approvalFor(t, detail, broker.Email, models.PartyRoleBroker).ID, approve)
	require.NoError(t, err)
}

func TestFindingProgress(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	owner := f.signUp(t, "owner")
	room := f.createRoom(t, owner.UserID, models.PartyRoleOwner)

	vessel, err := f.svc.AddVessel(ctx, owner.UserID, room.ID, models.AddVesselRequest{Name: "MT " + gofakeit.LastName(), IMO: "9321483"})
	require.NoError(t, err)

	finding, err := f.svc.CreateFinding(ctx, owner.UserID, vessel.ID, models.CreateFindingRequest{
		Severity: "major", Category: "mooring", ActionsTotal: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, room.ID, finding.RoomID)
	assert.Equal(t, testNow, finding.OpenedAt)

	_, err = f.svc.UpdateFindingProgress(ctx, owner.UserID, finding.ID, models.UpdateFindingProgressRequest{ActionsCompleted: 4})
	assert.ErrorIs(t, err, models.ErrValidation)

	partial, err := f.svc.UpdateFindingProgress(ctx, owner.UserID, finding.ID, models.UpdateFindingProgressRequest{ActionsCompleted: 2})
	require.NoError(t, err)
	assert.Nil(t, partial.ResolvedAt)

	done, err := f.svc.UpdateFindingProgress(ctx, owner.UserID, finding.ID, models.UpdateFindingProgressRequest{ActionsCompleted: 3})
	require.NoError(t, err)
	require.NotNil(t, done.ResolvedAt)
	assert.Equal(t, testNow, *done.ResolvedAt)

	reopened, err := f.svc.UpdateFindingProgress(ctx, owner.UserID, finding.ID, models.UpdateFindingProgressRequest{ActionsCompleted: 1})
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)

	_, err = f.svc.AddCrewCertification(ctx, owner.UserID, vessel.ID, models.AddCrewCertificationRequest{
		CrewName: gofakeit.Name(), CertificateType: "STCW", IssuedOn: testNow, ExpiresOn: testNow.AddDate(0, 0, -1),
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.CreateFinding(ctx, owner.UserID, "missing", models.CreateFindingRequest{Severity: "minor", Category: "x"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRecordPartyMetricAndHistory(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	owner := f.signUp(t, "owner")
	room := f.createRoom(t, owner.UserID, models.PartyRoleOwner)
	other := f.createRoom(t, owner.UserID, models.PartyRoleCharterer)

	detail, err := f.svc.GetRoom(ctx, owner.UserID, room.ID)
	require.NoError(t, err)
	partyID := detail.Parties[0].ID

	metric, err := f.svc.RecordPartyMetric(ctx, owner.UserID, room.ID, models.RecordPartyMetricRequest{
		PartyID: partyID, ResponseTimeHours: 6, QualityScore: 90, ReliabilityIndex: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, room.ID, metric.RoomID)

	_, err = f.svc.RecordPartyMetric(ctx, owner.UserID, other.ID, models.RecordPartyMetricRequest{PartyID: partyID})
	assert.ErrorIs(t, err, models.ErrValidation)

	day := testNow.Truncate(24 * time.Hour)
	f.repo.series = []models.Metric{
		{RoomID: room.ID, MetricType: models.MetricDocumentCompletion, Date: day, Value: 50},
		{RoomID: room.ID, MetricType: models.MetricDemurrageExposure, Date: day, Value: 1200},
		{RoomID: room.ID, MetricType: models.MetricDocumentCompletion, Date: day.AddDate(0, 0, -40), Value: 10},
	}

	history, err := f.svc.GetMetricHistory(ctx, owner.UserID, room.ID, models.MetricDocumentCompletion, 30)
	require.NoError(t, err)
	require.Len(t, history.Metrics, 1)
	assert.Equal(t, 50.0, history.Metrics[0].Value)

	all, err := f.svc.GetMetricHistory(ctx, owner.UserID, room.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, all.Metrics, 2, "days below 1 is clamped to one day")

	_, err = f.svc.GetMetricHistory(ctx, owner.UserID, room.ID, "bogus", 30)
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.Contains(t, f.repo.actions(), "party.metric")
	assert.Equal(t, 2, lo.Count(f.repo.actions(), "room.create"))
}

func TestUpdateRoomStatus(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	broker := f.signUp(t, "broker")
	room := f.createRoom(t, broker.UserID, models.PartyRoleBroker)

	resp, err := f.svc.UpdateRoomStatus(ctx, broker.UserID, room.ID, models.UpdateRoomStatusRequest{
		Status:         models.RoomStatusCompleted,
		CommissionPaid: lo.ToPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusCompleted, resp.Room.Status)
	assert.True(t, resp.Room.CommissionPaid)

	_, err = f.svc.UpdateRoomStatus(ctx, broker.UserID, "missing", models.UpdateRoomStatusRequest{Status: models.RoomStatusActive})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
