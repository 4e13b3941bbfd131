package dashboard

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/repository"
)

var errStoreDown = errors.New("store unavailable")

// fakeStore is a test-only in-memory implementation of Store.
// Setting failing[method] makes that method return the error.
type fakeStore struct {
	users     []models.User
	rooms     []models.Room
	parties   []models.Party
	documents []models.Document
	approvals []models.Approval
	vessels   []models.Vessel
	findings  []models.Finding
	certs     []models.CrewCertification
	metrics   []models.PartyMetric
	activity  []models.ActivityLog

	failing map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{failing: map[string]error{}}
}

func (s *fakeStore) fail(method string) error {
	return s.failing[method]
}

func contains(list []string, v string) bool {
	return lo.Contains(list, v)
}

func (s *fakeStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	if err := s.fail("GetUserByID"); err != nil {
		return nil, err
	}
	for i := range s.users {
		if s.users[i].ID == id {
			u := s.users[i]
			return &u, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CountUsers(_ context.Context) (int, int, error) {
	if err := s.fail("CountUsers"); err != nil {
		return 0, 0, err
	}
	return len(s.users), lo.CountBy(s.users, func(u models.User) bool { return u.IsActive }), nil
}

func (s *fakeStore) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	if err := s.fail("GetRoom"); err != nil {
		return nil, err
	}
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			r := s.rooms[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListRooms(_ context.Context, f repository.RoomFilter) ([]models.Room, error) {
	if err := s.fail("ListRooms"); err != nil {
		return nil, err
	}
	var out []models.Room
	for _, r := range s.rooms {
		if f.IDs != nil && !contains(f.IDs, r.ID) {
			continue
		}
		if f.Statuses != nil && !contains(f.Statuses, r.Status) {
			continue
		}
		if contains(f.ExcludeStatuses, r.Status) {
			continue
		}
		if f.PartyEmail != "" && !lo.ContainsBy(s.parties, func(p models.Party) bool {
			return p.RoomID == r.ID && strings.EqualFold(p.Email, f.PartyEmail) &&
				(f.PartyRole == "" || p.Role == f.PartyRole)
		}) {
			continue
		}
		if f.CreatedSince != nil && r.CreatedAt.Before(*f.CreatedSince) {
			continue
		}
		if f.ETABefore != nil && (r.ETAEstimated == nil || !r.ETAEstimated.Before(*f.ETABefore)) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fakeStore) CountRooms(_ context.Context) (int, error) {
	if err := s.fail("CountRooms"); err != nil {
		return 0, err
	}
	return len(s.rooms), nil
}

func (s *fakeStore) ListParties(_ context.Context, roomIDs []string) ([]models.Party, error) {
	if err := s.fail("ListParties"); err != nil {
		return nil, err
	}
	return lo.Filter(s.parties, func(p models.Party, _ int) bool { return contains(roomIDs, p.RoomID) }), nil
}

func (s *fakeStore) ListDocuments(_ context.Context, f repository.DocumentFilter) ([]models.Document, error) {
	if err := s.fail("ListDocuments"); err != nil {
		return nil, err
	}
	return lo.Filter(s.documents, func(d models.Document, _ int) bool {
		if f.RoomIDs != nil && !contains(f.RoomIDs, d.RoomID) {
			return false
		}
		if f.VesselIDs != nil && (d.VesselID == nil || !contains(f.VesselIDs, *d.VesselID)) {
			return false
		}
		if f.Statuses != nil && !contains(f.Statuses, d.Status) {
			return false
		}
		return f.UpdatedSince == nil || !d.UpdatedAt.Before(*f.UpdatedSince)
	}), nil
}

func (s *fakeStore) DocumentCounts(_ context.Context, roomID string) (int, int, error) {
	if err := s.fail("DocumentCounts"); err != nil {
		return 0, 0, err
	}
	docs := lo.Filter(s.documents, func(d models.Document, _ int) bool { return d.RoomID == roomID })
	approved := lo.CountBy(docs, func(d models.Document) bool { return d.Status == models.DocumentStatusApproved })
	return len(docs), approved, nil
}

func (s *fakeStore) CountDocumentsByStatus(_ context.Context) (map[string]int, error) {
	if err := s.fail("CountDocumentsByStatus"); err != nil {
		return nil, err
	}
	return lo.CountValuesBy(s.documents, func(d models.Document) string { return d.Status }), nil
}

func (s *fakeStore) ListApprovals(_ context.Context, f repository.ApprovalFilter) ([]models.Approval, error) {
	if err := s.fail("ListApprovals"); err != nil {
		return nil, err
	}
	return lo.Filter(s.approvals, func(a models.Approval, _ int) bool {
		if f.RoomIDs != nil && !contains(f.RoomIDs, a.RoomID) {
			return false
		}
		return f.Statuses == nil || contains(f.Statuses, a.Status)
	}), nil
}

func (s *fakeStore) ApprovalCounts(_ context.Context, roomID string) (int, int, int, error) {
	if err := s.fail("ApprovalCounts"); err != nil {
		return 0, 0, 0, err
	}
	var total, approved, pending int
	for _, a := range s.approvals {
		if a.RoomID != roomID {
			continue
		}
		total++
		switch a.Status {
		case models.ApprovalStatusApproved:
			approved++
		case models.ApprovalStatusPending:
			pending++
		}
	}
	return total, approved, pending, nil
}

func (s *fakeStore) CountApprovalsByStatus(_ context.Context) (map[string]int, error) {
	if err := s.fail("CountApprovalsByStatus"); err != nil {
		return nil, err
	}
	return lo.CountValuesBy(s.approvals, func(a models.Approval) string { return a.Status }), nil
}

func (s *fakeStore) GetVessel(_ context.Context, vesselID string) (*models.Vessel, error) {
	if err := s.fail("GetVessel"); err != nil {
		return nil, err
	}
	v, ok := lo.Find(s.vessels, func(v models.Vessel) bool { return v.ID == vesselID })
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *fakeStore) ListVessels(_ context.Context, roomIDs []string) ([]models.Vessel, error) {
	if err := s.fail("ListVessels"); err != nil {
		return nil, err
	}
	return lo.Filter(s.vessels, func(v models.Vessel, _ int) bool { return contains(roomIDs, v.RoomID) }), nil
}

func (s *fakeStore) GetFinding(_ context.Context, findingID string) (*models.Finding, error) {
	if err := s.fail("GetFinding"); err != nil {
		return nil, err
	}
	f, ok := lo.Find(s.findings, func(f models.Finding) bool { return f.ID == findingID })
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (s *fakeStore) ListFindings(_ context.Context, vesselIDs []string, openOnly bool) ([]models.Finding, error) {
	if err := s.fail("ListFindings"); err != nil {
		return nil, err
	}
	return lo.Filter(s.findings, func(f models.Finding, _ int) bool {
		return contains(vesselIDs, f.VesselID) && (!openOnly || f.ResolvedAt == nil)
	}), nil
}

func (s *fakeStore) ListCrewCertifications(_ context.Context, vesselID string) ([]models.CrewCertification, error) {
	if err := s.fail("ListCrewCertifications"); err != nil {
		return nil, err
	}
	return lo.Filter(s.certs, func(c models.CrewCertification, _ int) bool { return c.VesselID == vesselID }), nil
}

func (s *fakeStore) ListPartyMetrics(_ context.Context, roomIDs []string, since time.Time) ([]models.PartyMetric, error) {
	if err := s.fail("ListPartyMetrics"); err != nil {
		return nil, err
	}
	return lo.Filter(s.metrics, func(m models.PartyMetric, _ int) bool {
		return contains(roomIDs, m.RoomID) && !m.CreatedAt.Before(since)
	}), nil
}

func (s *fakeStore) ListRecentActivity(_ context.Context, limit int) ([]models.ActivityLog, error) {
	if err := s.fail("ListRecentActivity"); err != nil {
		return nil, err
	}
	out := append([]models.ActivityLog(nil), s.activity...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fixture helpers

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{Now: func() time.Time { return testNow }}
}

func ptr[T any](v T) *T { return &v }

func (s *fakeStore) addRoom(id, status string, age time.Duration, mutate ...func(*models.Room)) *fakeStore {
	r := models.Room{
		ID:        id,
		Title:     "Room " + id,
		Status:    status,
		CreatedAt: testNow.Add(-age),
		UpdatedAt: testNow.Add(-age),
	}
	for _, m := range mutate {
		m(&r)
	}
	s.rooms = append(s.rooms, r)
	return s
}

func (s *fakeStore) addParty(id, roomID, role, email string) *fakeStore {
	s.parties = append(s.parties, models.Party{
		ID: id, RoomID: roomID, Role: role, Name: "Party " + id, Email: email, CreatedAt: testNow,
	})
	return s
}

func (s *fakeStore) addApproval(id, roomID, partyID, status string, age time.Duration) *fakeStore {
	s.approvals = append(s.approvals, models.Approval{
		ID: id, RoomID: roomID, PartyID: partyID, Status: status,
		CreatedAt: testNow.Add(-age), UpdatedAt: testNow.Add(-age),
	})
	return s
}

func (s *fakeStore) addDocument(id, roomID, status string, mutate ...func(*models.Document)) *fakeStore {
	d := models.Document{
		ID: id, RoomID: roomID, TypeID: "type-" + id, TypeName: "Doc " + id, Status: status,
		Priority: "normal", Criticality: "low", Required: true,
		CreatedAt: testNow.Add(-24 * time.Hour), UpdatedAt: testNow.Add(-24 * time.Hour),
	}
	for _, m := range mutate {
		m(&d)
	}
	s.documents = append(s.documents, d)
	return s
}

func withDailyRate(rate float64) func(*models.Room) {
	return func(r *models.Room) { r.DemurrageRatePerDay = ptr(rate) }
}

func withCargoValue(v float64) func(*models.Room) {
	return func(r *models.Room) { r.CargoValueUSD = v }
}
